package token

import (
	"context"
	"errors"
	"time"
)

// ErrSessionNotFound is returned by FindByToken when no live session
// carries the presented token value.
var ErrSessionNotFound = errors.New("session not found")

// Session is the durable refresh-token record. At most one exists per
// subject; a revoked session keeps its row with a NULL token value.
type Session struct {
	SubjectID string
	Token     string
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SessionStore is the durable authority for which refresh token is current.
// SwapToken must be an atomic conditional update (update-where-token-equals):
// under concurrent rotations of the same token exactly one call may report
// swapped=true.
type SessionStore interface {
	// Upsert replaces the subject's session with a fresh token and expiry,
	// creating the row if none exists.
	Upsert(ctx context.Context, subjectID, tok string, expiresAt time.Time) error

	// FindByToken returns the live session whose token equals tok, or
	// ErrSessionNotFound. Revoked sessions never match.
	FindByToken(ctx context.Context, tok string) (Session, error)

	// SwapToken replaces current with next for the subject, only if the
	// stored value still equals current. The expiry is left untouched.
	SwapToken(ctx context.Context, subjectID, current, next string) (swapped bool, err error)

	// Revoke clears the subject's token. Revoking a missing or already
	// revoked session is not an error.
	Revoke(ctx context.Context, subjectID string) error

	// DeleteExpired purges sessions past their expiry and sessions revoked
	// before the cutoff, up to batchSize rows.
	DeleteExpired(ctx context.Context, revokedBefore time.Time, batchSize int) (int64, error)
}
