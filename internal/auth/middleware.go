package auth

import (
	"context"
	"net/http"
	"strings"

	"notes-api/internal/token"
)

type contextKey struct{}

var subjectContextKey contextKey

// SubjectID returns the verified subject id the middleware stored in the
// request context.
func SubjectID(ctx context.Context) (string, bool) {
	subjectID, ok := ctx.Value(subjectContextKey).(string)
	return subjectID, ok
}

// WithSubject returns a context carrying the subject id, exactly as the
// middleware stores it.
func WithSubject(ctx context.Context, subjectID string) context.Context {
	return context.WithValue(ctx, subjectContextKey, subjectID)
}

// Middleware gates a handler behind a valid bearer access token. It is a
// plain function around the issuer's Verify: parse the header, verify,
// stash the subject in the context. No store lookup happens here — a
// subject deleted after issuance is caught by the handlers it owns data in.
func Middleware(verifier *token.AccessIssuer, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if header == "" {
			writeError(w, http.StatusUnauthorized, "missing authorization token")
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			writeError(w, http.StatusUnauthorized, "invalid authorization format")
			return
		}

		subjectID, err := verifier.Verify(parts[1])
		if err != nil {
			writeTokenError(w, err, "failed to verify token")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), subjectID)))
	})
}
