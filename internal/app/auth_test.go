package app

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/orderflow/internal/shared"
)

const testSecret = "test-secret-test-secret-test-secret"

func signedToken(t *testing.T, v *TokenVerifier, subject, tenant string, exp time.Time) string {
	t.Helper()
	token, err := v.Sign(Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    "orderflow-test",
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		TenantID: tenant,
	})
	require.NoError(t, err)
	return token
}

func TestTokenVerifierPrincipal(t *testing.T) {
	v := NewTokenVerifier(testSecret, "orderflow-test")
	tenant := uuid.New()

	p, err := v.Principal(signedToken(t, v, "rep-7", tenant.String(), time.Now().Add(time.Hour)))
	require.NoError(t, err)
	require.Equal(t, shared.Principal{TenantID: tenant, Actor: "rep-7"}, p)

	cases := map[string]string{
		"expired":    signedToken(t, v, "rep-7", tenant.String(), time.Now().Add(-time.Minute)),
		"no subject": signedToken(t, v, "", tenant.String(), time.Now().Add(time.Hour)),
		"no tenant":  signedToken(t, v, "rep-7", "", time.Now().Add(time.Hour)),
		"bad tenant": signedToken(t, v, "rep-7", "acme", time.Now().Add(time.Hour)),
		"wrong key":  signedToken(t, NewTokenVerifier("another-secret-another-secret-xx", ""), "rep-7", tenant.String(), time.Now().Add(time.Hour)),
		"garbage":    "not.a.token",
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.Principal(token)
			require.ErrorIs(t, err, shared.ErrUnauthorized)
		})
	}

	other := NewTokenVerifier(testSecret, "someone-else")
	_, err = other.Principal(signedToken(t, v, "rep-7", tenant.String(), time.Now().Add(time.Hour)))
	require.ErrorIs(t, err, shared.ErrUnauthorized)
}

func TestRequirePrincipalMiddleware(t *testing.T) {
	v := NewTokenVerifier(testSecret, "")
	tenant := uuid.New()
	var seen shared.Principal
	handler := RequirePrincipal(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = shared.PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), "UNAUTHORIZED")

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, v, "rep-7", tenant.String(), time.Now().Add(time.Hour)))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, tenant, seen.TenantID)
	require.Equal(t, "rep-7", seen.Actor)
}
