package orders

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/orderflow/internal/platform/httpx"
	"github.com/odyssey-erp/orderflow/internal/shared"
)

// Handler exposes order lifecycle endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *httpx.Validator
}

// NewHandler constructs the order HTTP handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: httpx.NewValidator()}
}

// MountRoutes registers order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/orders", h.create)
	r.Get("/orders/{id}", h.get)
	r.Post("/orders/{id}/status-transition", h.transition)
	r.Post("/orders/{id}/modify", h.modify)
	r.Get("/orders/{id}/financial-summary", h.financialSummary)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if !h.decode(w, r, &req) {
		return
	}
	order, err := h.service.Create(r.Context(), CreateInput{
		CustomerID: req.CustomerID,
		Items:      toItems(req.Items),
		VisitID:    req.VisitID,
		CampaignID: req.CampaignID,
	})
	if err != nil {
		h.fail(w, "create order", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"order": order})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	order, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"order": order})
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req transitionRequest
	if !h.decode(w, r, &req) {
		return
	}
	order, err := h.service.Transition(r.Context(), TransitionInput{
		OrderID: id,
		From:    Status(req.FromStatus),
		To:      Status(req.ToStatus),
		Action:  req.Action,
		Notes:   req.Notes,
	})
	if err != nil {
		h.fail(w, "transition order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"order": order})
}

func (h *Handler) modify(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req modifyRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.service.Modify(r.Context(), ModifyInput{
		OrderID:     id,
		Action:      ModifyAction(req.Action),
		Item:        req.Item,
		Reason:      req.Reason,
		Recalculate: req.Recalculate,
	})
	if err != nil {
		h.fail(w, "modify order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) financialSummary(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	order, summary, err := h.service.FinancialSummary(r.Context(), id)
	if err != nil {
		h.fail(w, "financial summary", err)
		return
	}
	httpx.JSON(w, http.StatusOK, summaryResponse{Order: order, Summary: summary})
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
		httpx.RespondError(w, fmt.Errorf("%w: invalid order id", shared.ErrValidation))
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
