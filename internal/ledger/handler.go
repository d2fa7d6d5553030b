package ledger

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/orderflow/internal/platform/httpx"
	"github.com/odyssey-erp/orderflow/internal/shared"
)

// Handler exposes invoice and payment endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *httpx.Validator
}

// NewHandler constructs the ledger HTTP handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: httpx.NewValidator()}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/invoices", h.createInvoice)
	r.Get("/invoices/{id}", h.getInvoice)
	r.Post("/payments/process", h.processPayment)
	r.Post("/payments/{id}/refund", h.refundPayment)
}

func (h *Handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	var req createInvoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	inv, err := h.service.CreateInvoice(r.Context(), CreateInvoiceInput{
		OrderID:     req.OrderID,
		CustomerID:  req.CustomerID,
		TotalAmount: req.TotalAmount,
	})
	if err != nil {
		h.fail(w, "create invoice", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"invoice": inv})
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	detail, err := h.service.GetInvoice(r.Context(), id)
	if err != nil {
		h.fail(w, "get invoice", err)
		return
	}
	httpx.JSON(w, http.StatusOK, detail)
}

func (h *Handler) processPayment(w http.ResponseWriter, r *http.Request) {
	var req processPaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.ProcessGatewayPayment(r.Context(), GatewayPaymentInput{
		PaymentInput: PaymentInput{
			InvoiceID:  req.InvoiceID,
			CustomerID: req.CustomerID,
			Amount:     req.Amount,
			Method:     req.PaymentMethod,
			Reference:  req.PaymentIntentID,
		},
		IntentID: req.PaymentIntentID,
		Status:   req.Status,
	})
	if isReplay(err, result) {
		httpx.JSON(w, http.StatusOK, paymentResponse{Payment: result.Payment, Invoice: result.Invoice, Replayed: true})
		return
	}
	if err != nil {
		h.fail(w, "process payment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, paymentResponse{Payment: result.Payment, Invoice: result.Invoice})
}

func (h *Handler) refundPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req refundRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.ApplyRefund(r.Context(), RefundInput{
		PaymentID: id,
		Amount:    req.Amount,
		Reason:    req.Reason,
		Reference: req.Reference,
	})
	if isReplay(err, result) {
		httpx.JSON(w, http.StatusOK, refundResponse{Refund: result.Payment, Invoice: result.Invoice, Replayed: true})
		return
	}
	if err != nil {
		h.fail(w, "refund payment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, refundResponse{Refund: result.Payment, Invoice: result.Invoice})
}

func isReplay(err error, result PaymentResult) bool {
	return errors.Is(err, shared.ErrDuplicateReference) && result.Payment.ID != uuid.Nil
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid id", shared.ErrValidation))
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
