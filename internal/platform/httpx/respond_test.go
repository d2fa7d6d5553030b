package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/orderflow/internal/shared"
)

func TestRespondErrorMapsTaxonomy(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("order: %w", shared.ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
		{fmt.Errorf("%w: pending -> shipped", shared.ErrInvalidTransition), http.StatusBadRequest, "INVALID_TRANSITION"},
		{shared.ErrTerminalState, http.StatusBadRequest, "TERMINAL_STATE"},
		{shared.ErrOverRefund, http.StatusBadRequest, "OVER_REFUND"},
		{shared.ErrValidation, http.StatusBadRequest, "VALIDATION_ERROR"},
		{shared.ErrDuplicateReference, http.StatusConflict, "DUPLICATE_REFERENCE"},
		{shared.ErrGateway, http.StatusBadGateway, "GATEWAY_ERROR"},
		{shared.ErrUnauthorized, http.StatusUnauthorized, "UNAUTHORIZED"},
		{shared.ErrLedgerInvariant, http.StatusInternalServerError, "LEDGER_INVARIANT"},
		{errors.New("driver exploded"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		RespondError(rr, tc.err)
		require.Equal(t, tc.status, rr.Code, tc.err.Error())
		require.Equal(t, tc.status, StatusFor(tc.err))

		var body ProblemDetail
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		require.Equal(t, tc.code, body.Code)
		if tc.status == http.StatusInternalServerError {
			require.Empty(t, body.Detail)
		}
	}
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	var target struct {
		Note string `json:"note"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"note":"hi","extra":1}`))
	err := DecodeJSON(req, &target)
	require.ErrorIs(t, err, shared.ErrValidation)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"note":"hi"}`))
	require.NoError(t, DecodeJSON(req, &target))
	require.Equal(t, "hi", target.Note)
}

func TestValidatorReportsJSONNames(t *testing.T) {
	type payload struct {
		Visibility string `json:"visibility" validate:"required,oneof=internal external"`
	}
	err := NewValidator().Struct(payload{Visibility: "public"})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Contains(t, err.Error(), "visibility must be one of")
}
