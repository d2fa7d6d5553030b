// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/orderflow/internal/shared"
)

type errorMapping struct {
	target error
	status int
	title  string
	code   string
}

// Ordered from most to least specific; the first match wins.
var errorMappings = []errorMapping{
	{shared.ErrInvalidTransition, http.StatusBadRequest, "Invalid Transition", "INVALID_TRANSITION"},
	{shared.ErrTerminalState, http.StatusBadRequest, "Terminal State", "TERMINAL_STATE"},
	{shared.ErrOverRefund, http.StatusBadRequest, "Over Refund", "OVER_REFUND"},
	{shared.ErrDuplicateReference, http.StatusConflict, "Duplicate Reference", "DUPLICATE_REFERENCE"},
	{shared.ErrValidation, http.StatusBadRequest, "Validation Failed", "VALIDATION_ERROR"},
	{shared.ErrNotFound, http.StatusNotFound, "Not Found", "NOT_FOUND"},
	{shared.ErrGateway, http.StatusBadGateway, "Gateway Error", "GATEWAY_ERROR"},
	{shared.ErrUnauthorized, http.StatusUnauthorized, "Unauthorized", "UNAUTHORIZED"},
}

// StatusFor returns the HTTP status RespondError would use for err.
func StatusFor(err error) int {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}

// RespondError maps domain errors to HTTP responses using RFC7807.
// Unknown errors, including ledger invariant breaches, never leak their detail.
func RespondError(w http.ResponseWriter, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			JSON(w, m.status, ProblemDetail{
				Title:  m.title,
				Status: m.status,
				Detail: err.Error(),
				Code:   m.code,
			})
			return
		}
	}
	code := "INTERNAL_ERROR"
	if errors.Is(err, shared.ErrLedgerInvariant) {
		code = "LEDGER_INVARIANT"
	}
	JSON(w, http.StatusInternalServerError, ProblemDetail{
		Title:  "Internal Error",
		Status: http.StatusInternalServerError,
		Code:   code,
	})
}
