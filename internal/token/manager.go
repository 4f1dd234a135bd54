package token

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

const refreshTokenBytes = 48

// Pair is the credential pair handed to a client on sign-in and on every
// successful rotation.
type Pair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Manager owns the refresh-token rotation state machine. It keeps no state
// in process memory: the session store decides which token is current, so
// concurrent requests need no in-process coordination.
type Manager struct {
	store      SessionStore
	access     *AccessIssuer
	refreshTTL time.Duration
	now        func() time.Time
}

func NewManager(store SessionStore, access *AccessIssuer, refreshTTL time.Duration) *Manager {
	return &Manager{
		store:      store,
		access:     access,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// CreateToken generates a fresh opaque refresh token for the subject and
// persists it with expiry now + refreshTTL, replacing any previous session.
// This is the only mutation that sets a non-null token value.
func (m *Manager) CreateToken(ctx context.Context, subjectID string) (string, error) {
	opaque, err := randomToken(refreshTokenBytes)
	if err != nil {
		return "", wrapError(KindUnknown, "generate refresh token", err)
	}

	expiresAt := m.now().UTC().Add(m.refreshTTL)
	if err := m.store.Upsert(ctx, subjectID, opaque, expiresAt); err != nil {
		return "", wrapError(KindUnknown, "persist refresh token", err)
	}

	return opaque, nil
}

// IssuePair creates a new session for the subject and mints the matching
// access token. Used at sign-in.
func (m *Manager) IssuePair(ctx context.Context, subjectID string) (Pair, error) {
	refresh, err := m.CreateToken(ctx, subjectID)
	if err != nil {
		return Pair{}, err
	}

	return m.pairWith(subjectID, refresh)
}

// VerifyAndRotate validates the presented refresh token and, if it is the
// current one for its subject, atomically replaces it and mints a fresh
// access token. A token that was already rotated away, revoked, or never
// issued fails identically: it no longer matches any stored value. The
// session expiry is an absolute ceiling and is not extended by rotation.
func (m *Manager) VerifyAndRotate(ctx context.Context, presented string) (Pair, error) {
	presented = strings.TrimSpace(presented)
	if presented == "" {
		return Pair{}, newError(KindInvalidRefreshToken, "refresh token is invalid")
	}

	sess, err := m.store.FindByToken(ctx, presented)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return Pair{}, newError(KindInvalidRefreshToken, "refresh token is invalid")
		}
		return Pair{}, wrapError(KindUnknown, "look up refresh token", err)
	}

	if !m.now().UTC().Before(sess.ExpiresAt) {
		// Terminal: the record stays as is, the caller must sign in again.
		return Pair{}, newError(KindExpiredToken, "refresh token expired")
	}

	next, err := randomToken(refreshTokenBytes)
	if err != nil {
		return Pair{}, wrapError(KindUnknown, "generate refresh token", err)
	}

	swapped, err := m.store.SwapToken(ctx, sess.SubjectID, presented, next)
	if err != nil {
		return Pair{}, wrapError(KindUnknown, "rotate refresh token", err)
	}
	if !swapped {
		// Lost a concurrent rotation race: the stored value no longer
		// matches what was presented.
		return Pair{}, newError(KindInvalidRefreshToken, "refresh token is invalid")
	}

	return m.pairWith(sess.SubjectID, next)
}

// Revoke signs the subject out by clearing the stored token. Idempotent.
func (m *Manager) Revoke(ctx context.Context, subjectID string) error {
	if err := m.store.Revoke(ctx, subjectID); err != nil {
		return wrapError(KindUnknown, "revoke session", err)
	}
	return nil
}

func (m *Manager) pairWith(subjectID, refresh string) (Pair, error) {
	access, err := m.access.Issue(subjectID)
	if err != nil {
		return Pair{}, err
	}

	return Pair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(m.access.TTL().Seconds()),
	}, nil
}

func randomToken(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
