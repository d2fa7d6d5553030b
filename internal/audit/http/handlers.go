package audithttp

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/orderflow/internal/audit"
	"github.com/odyssey-erp/orderflow/internal/platform/httpx"
	"github.com/odyssey-erp/orderflow/internal/shared"
)

// TrailService adalah kontrak bisnis untuk jejak audit order.
type TrailService interface {
	RecordNote(ctx context.Context, in audit.NoteInput) (audit.Note, error)
	History(ctx context.Context, orderID uuid.UUID) ([]audit.Event, error)
	StatusHistory(ctx context.Context, orderID uuid.UUID) ([]audit.StatusChange, error)
	Notes(ctx context.Context, orderID uuid.UUID) ([]audit.Note, error)
	Modifications(ctx context.Context, orderID uuid.UUID) ([]audit.Modification, error)
}

// Handler menangani permintaan jejak audit order.
type Handler struct {
	logger    *slog.Logger
	service   TrailService
	validator *httpx.Validator
}

// NewHandler membuat handler audit baru.
func NewHandler(logger *slog.Logger, service TrailService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		service:   service,
		validator: httpx.NewValidator(),
	}
}

type noteRequest struct {
	Note       string `json:"note" validate:"required"`
	Visibility string `json:"visibility" validate:"omitempty,oneof=internal external"`
}

func (h *Handler) handleStatusHistory(w http.ResponseWriter, r *http.Request) {
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	items, err := h.service.StatusHistory(r.Context(), orderID)
	if err != nil {
		h.fail(w, "load status history", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"statusHistory": items})
}

func (h *Handler) handleListNotes(w http.ResponseWriter, r *http.Request) {
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	items, err := h.service.Notes(r.Context(), orderID)
	if err != nil {
		h.fail(w, "load notes", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"notes": items})
}

func (h *Handler) handleAddNote(w http.ResponseWriter, r *http.Request) {
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	var req noteRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	note, err := h.service.RecordNote(r.Context(), audit.NoteInput{
		OrderID:    orderID,
		Note:       req.Note,
		Visibility: audit.Visibility(req.Visibility),
	})
	if err != nil {
		h.fail(w, "record note", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"noteId": note.ID, "note": note})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	events, err := h.service.History(r.Context(), orderID)
	if err != nil {
		h.fail(w, "load history", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"history": events})
}

func (h *Handler) handleModifications(w http.ResponseWriter, r *http.Request) {
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	items, err := h.service.Modifications(r.Context(), orderID)
	if err != nil {
		h.fail(w, "load modifications", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"modifications": items})
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	events, err := h.service.History(r.Context(), orderID)
	if err != nil {
		h.fail(w, "export history", err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"order-%s-history.csv\"", orderID))
	if err := writeCSV(w, events); err != nil {
		h.logger.Warn("write csv", slog.Any("error", err))
	}
}

// writeCSV menulis riwayat dengan kolom timestamp, type, actor, summary.
func writeCSV(w http.ResponseWriter, events []audit.Event) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestamp", "type", "actor", "summary"}); err != nil {
		return err
	}
	for _, ev := range events {
		actor, summary := describe(ev)
		row := []string{ev.Timestamp.UTC().Format(time.RFC3339), string(ev.Type), actor, summary}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func describe(ev audit.Event) (string, string) {
	switch {
	case ev.StatusChange != nil:
		return ev.StatusChange.Actor, ev.StatusChange.FromStatus + " -> " + ev.StatusChange.ToStatus
	case ev.Note != nil:
		return ev.Note.Actor, "[" + string(ev.Note.Visibility) + "] " + ev.Note.Note
	case ev.Modification != nil:
		return ev.Modification.Actor, ev.Modification.Action + ": " + ev.Modification.Reason
	}
	return "", ""
}

func orderIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid order id", shared.ErrValidation))
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, message string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error(message, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
