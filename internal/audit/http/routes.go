package audithttp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/odyssey-erp/orderflow/internal/shared"
)

const rateLimit = 10
const rateWindow = time.Minute

// MountRoutes mendaftarkan endpoint jejak audit order dan ekspor CSV.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(rateLimit, rateWindow,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}),
	)
	r.Get("/orders/{id}/status-history", h.handleStatusHistory)
	r.Get("/orders/{id}/notes", h.handleListNotes)
	r.Post("/orders/{id}/notes", h.handleAddNote)
	r.Get("/orders/{id}/history", h.handleHistory)
	r.Get("/orders/{id}/modifications", h.handleModifications)
	r.Group(func(gr chi.Router) {
		gr.Use(limiter)
		gr.Get("/orders/{id}/history.csv", h.handleExport)
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	if p, ok := shared.PrincipalFromContext(r.Context()); ok && p.Actor != "" {
		return "actor:" + p.TenantID.String() + ":" + p.Actor, nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
