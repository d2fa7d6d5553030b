package recurring

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/orderflow/internal/orders"
	"github.com/odyssey-erp/orderflow/internal/platform/httpx"
	"github.com/odyssey-erp/orderflow/internal/shared"
)

// Handler exposes subscription endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *httpx.Validator
}

// NewHandler constructs the recurring HTTP handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: httpx.NewValidator()}
}

// MountRoutes registers subscription routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/orders/recurring", h.create)
	r.Get("/orders/recurring", h.list)
	r.Get("/orders/recurring/{id}", h.get)
	r.Post("/orders/recurring/{id}/status", h.setStatus)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createSubscriptionRequest
	if !h.decode(w, r, &req) {
		return
	}
	start, err := time.Parse(time.DateOnly, req.StartDate)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: startDate must be YYYY-MM-DD", shared.ErrValidation))
		return
	}
	items := make([]orders.Item, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, orders.Item{ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}
	sub, err := h.service.CreateSubscription(r.Context(), SubscriptionInput{
		CustomerID:      req.CustomerID,
		Schedule:        Schedule(req.Schedule),
		BillingDay:      req.BillingDay,
		StartDate:       start,
		Items:           items,
		ShippingAddress: req.ShippingAddress,
		Notes:           req.Notes,
	})
	if err != nil {
		h.fail(w, "create subscription", err)
		return
	}
	httpx.JSON(w, http.StatusOK, createdResponse{
		RecurringOrderID: sub.ID,
		NextOrderDate:    sub.NextOrderDate.Format(time.DateOnly),
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	page, perPage := shared.PageFromQuery(r.URL.Query())
	subs, pagination, err := h.service.ListSubscriptions(r.Context(), page, perPage)
	if err != nil {
		h.fail(w, "list subscriptions", err)
		return
	}
	resp := listResponse{Subscriptions: make([]subscriptionResponse, 0, len(subs)), Pagination: pagination}
	for _, sub := range subs {
		resp.Subscriptions = append(resp.Subscriptions, toResponse(sub))
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	sub, err := h.service.GetSubscription(r.Context(), id)
	if err != nil {
		h.fail(w, "get subscription", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"subscription": toResponse(sub)})
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if !h.decode(w, r, &req) {
		return
	}
	sub, err := h.service.SetStatus(r.Context(), id, Status(req.Status))
	if err != nil {
		h.fail(w, "set subscription status", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"subscription": toResponse(sub)})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid subscription id", shared.ErrValidation))
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
