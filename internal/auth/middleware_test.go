package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notes-api/internal/token"
)

func newGuardedEcho(issuer *token.AccessIssuer) http.Handler {
	return Middleware(issuer, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subjectID, ok := SubjectID(r.Context())
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(subjectID))
	}))
}

func TestMiddlewarePassesVerifiedSubject(t *testing.T) {
	issuer := token.NewAccessIssuer("middleware-secret", 15*time.Minute)
	signed, err := issuer.Issue("user-42")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+signed)

	newGuardedEcho(issuer).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-42", rec.Body.String())
}

func TestMiddlewareRejectsBadHeaders(t *testing.T) {
	issuer := token.NewAccessIssuer("middleware-secret", 15*time.Minute)
	guarded := newGuardedEcho(issuer)

	cases := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"not bearer", "Basic abc"},
		{"no token", "Bearer "},
		{"garbage token", "Bearer not-a-jwt"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}

			guarded.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestMiddlewareRejectsExpiredToken(t *testing.T) {
	// A negative TTL mints a token that is already past its expiry.
	expiredIssuer := token.NewAccessIssuer("middleware-secret", -time.Minute)
	signed, err := expiredIssuer.Issue("user-42")
	require.NoError(t, err)

	issuer := token.NewAccessIssuer("middleware-secret", 15*time.Minute)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+signed)

	newGuardedEcho(issuer).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareRejectsForeignSignature(t *testing.T) {
	foreign := token.NewAccessIssuer("some-other-secret", 15*time.Minute)
	signed, err := foreign.Issue("user-42")
	require.NoError(t, err)

	issuer := token.NewAccessIssuer("middleware-secret", 15*time.Minute)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+signed)

	newGuardedEcho(issuer).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
