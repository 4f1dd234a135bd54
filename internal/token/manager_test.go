package token

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSession struct {
	token     string
	revoked   bool
	expiresAt time.Time
	createdAt time.Time
	updatedAt time.Time
}

// memSessionStore mirrors the Postgres adapter's semantics: one row per
// subject, conditional swap, revoke keeps the row with no token.
type memSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*memSession
	failWith error
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{sessions: make(map[string]*memSession)}
}

func (s *memSessionStore) Upsert(_ context.Context, subjectID, tok string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failWith != nil {
		return s.failWith
	}

	now := time.Now().UTC()
	if existing, ok := s.sessions[subjectID]; ok {
		existing.token = tok
		existing.revoked = false
		existing.expiresAt = expiresAt
		existing.updatedAt = now
		return nil
	}

	s.sessions[subjectID] = &memSession{token: tok, expiresAt: expiresAt, createdAt: now, updatedAt: now}
	return nil
}

func (s *memSessionStore) FindByToken(_ context.Context, tok string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failWith != nil {
		return Session{}, s.failWith
	}

	for subjectID, sess := range s.sessions {
		if !sess.revoked && sess.token == tok {
			return Session{
				SubjectID: subjectID,
				Token:     sess.token,
				ExpiresAt: sess.expiresAt,
				CreatedAt: sess.createdAt,
				UpdatedAt: sess.updatedAt,
			}, nil
		}
	}

	return Session{}, ErrSessionNotFound
}

func (s *memSessionStore) SwapToken(_ context.Context, subjectID, current, next string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failWith != nil {
		return false, s.failWith
	}

	sess, ok := s.sessions[subjectID]
	if !ok || sess.revoked || sess.token != current {
		return false, nil
	}

	sess.token = next
	sess.updatedAt = time.Now().UTC()
	return true, nil
}

func (s *memSessionStore) Revoke(_ context.Context, subjectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failWith != nil {
		return s.failWith
	}

	if sess, ok := s.sessions[subjectID]; ok {
		sess.token = ""
		sess.revoked = true
		sess.updatedAt = time.Now().UTC()
	}
	return nil
}

func (s *memSessionStore) DeleteExpired(_ context.Context, revokedBefore time.Time, _ int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var deleted int64
	for subjectID, sess := range s.sessions {
		if now.After(sess.expiresAt) || (sess.revoked && sess.updatedAt.Before(revokedBefore)) {
			delete(s.sessions, subjectID)
			deleted++
		}
	}
	return deleted, nil
}

func (s *memSessionStore) snapshot(subjectID string) (memSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[subjectID]
	if !ok {
		return memSession{}, false
	}
	return *sess, true
}

func newTestManager(store SessionStore) *Manager {
	issuer := NewAccessIssuer("test-secret", 15*time.Minute)
	return NewManager(store, issuer, 30*24*time.Hour)
}

func TestCreateTokenThenRotate(t *testing.T) {
	store := newMemSessionStore()
	manager := newTestManager(store)
	ctx := context.Background()

	first, err := manager.CreateToken(ctx, "user-1")
	require.NoError(t, err)
	require.NotEmpty(t, first)

	pair, err := manager.VerifyAndRotate(ctx, first)
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEqual(t, first, pair.RefreshToken, "rotation must change the stored value")

	sess, ok := store.snapshot("user-1")
	require.True(t, ok)
	assert.Equal(t, pair.RefreshToken, sess.token)
}

func TestRotatedTokenCannotBeReplayed(t *testing.T) {
	store := newMemSessionStore()
	manager := newTestManager(store)
	ctx := context.Background()

	first, err := manager.CreateToken(ctx, "user-1")
	require.NoError(t, err)

	_, err = manager.VerifyAndRotate(ctx, first)
	require.NoError(t, err)

	_, err = manager.VerifyAndRotate(ctx, first)
	require.Error(t, err)
	assert.Equal(t, KindInvalidRefreshToken, KindOf(err))
}

func TestRotationDoesNotExtendExpiry(t *testing.T) {
	store := newMemSessionStore()
	manager := newTestManager(store)
	ctx := context.Background()

	first, err := manager.CreateToken(ctx, "user-1")
	require.NoError(t, err)

	before, ok := store.snapshot("user-1")
	require.True(t, ok)

	pair, err := manager.VerifyAndRotate(ctx, first)
	require.NoError(t, err)

	after, ok := store.snapshot("user-1")
	require.True(t, ok)
	assert.Equal(t, pair.RefreshToken, after.token)
	assert.Equal(t, before.expiresAt, after.expiresAt, "expiry is an absolute ceiling, not a sliding window")
}

func TestExpiredTokenLeavesRecordUnchanged(t *testing.T) {
	store := newMemSessionStore()
	manager := newTestManager(store)
	ctx := context.Background()

	first, err := manager.CreateToken(ctx, "user-1")
	require.NoError(t, err)

	manager.now = func() time.Time {
		return time.Now().Add(30*24*time.Hour + time.Minute)
	}

	_, err = manager.VerifyAndRotate(ctx, first)
	require.Error(t, err)
	assert.Equal(t, KindExpiredToken, KindOf(err))

	sess, ok := store.snapshot("user-1")
	require.True(t, ok)
	assert.Equal(t, first, sess.token, "expired record must not be cleared or rotated")
}

func TestRevokeInvalidatesAndIsIdempotent(t *testing.T) {
	store := newMemSessionStore()
	manager := newTestManager(store)
	ctx := context.Background()

	first, err := manager.CreateToken(ctx, "user-1")
	require.NoError(t, err)

	require.NoError(t, manager.Revoke(ctx, "user-1"))

	_, err = manager.VerifyAndRotate(ctx, first)
	require.Error(t, err)
	assert.Equal(t, KindInvalidRefreshToken, KindOf(err))

	// Signing out twice is not an error, and neither is signing out a
	// subject that never signed in.
	require.NoError(t, manager.Revoke(ctx, "user-1"))
	require.NoError(t, manager.Revoke(ctx, "user-never-seen"))
}

func TestSignInReplacesExistingSession(t *testing.T) {
	store := newMemSessionStore()
	manager := newTestManager(store)
	ctx := context.Background()

	first, err := manager.CreateToken(ctx, "user-1")
	require.NoError(t, err)

	second, err := manager.CreateToken(ctx, "user-1")
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	// Still one record per subject, and only the latest token is live.
	_, err = manager.VerifyAndRotate(ctx, first)
	require.Error(t, err)
	assert.Equal(t, KindInvalidRefreshToken, KindOf(err))

	_, err = manager.VerifyAndRotate(ctx, second)
	require.NoError(t, err)
}

func TestConcurrentRotationHasOneWinner(t *testing.T) {
	store := newMemSessionStore()
	manager := newTestManager(store)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		tok, err := manager.CreateToken(ctx, "user-1")
		require.NoError(t, err)

		var wg sync.WaitGroup
		results := make([]error, 2)
		for j := 0; j < 2; j++ {
			wg.Add(1)
			go func(slot int) {
				defer wg.Done()
				_, results[slot] = manager.VerifyAndRotate(ctx, tok)
			}(j)
		}
		wg.Wait()

		var wins, losses int
		for _, err := range results {
			switch {
			case err == nil:
				wins++
			case KindOf(err) == KindInvalidRefreshToken:
				losses++
			default:
				t.Fatalf("unexpected rotation error: %v", err)
			}
		}
		assert.Equal(t, 1, wins, "exactly one concurrent rotation may succeed")
		assert.Equal(t, 1, losses)
	}
}

func TestStoreFailureIsInternal(t *testing.T) {
	store := newMemSessionStore()
	manager := newTestManager(store)
	ctx := context.Background()

	first, err := manager.CreateToken(ctx, "user-1")
	require.NoError(t, err)

	store.mu.Lock()
	store.failWith = errors.New("connection refused")
	store.mu.Unlock()

	_, err = manager.VerifyAndRotate(ctx, first)
	require.Error(t, err)
	assert.Equal(t, KindUnknown, KindOf(err), "store outage must not be conflated with an invalid token")
}

func TestEmptyPresentedTokenIsInvalid(t *testing.T) {
	manager := newTestManager(newMemSessionStore())

	_, err := manager.VerifyAndRotate(context.Background(), "   ")
	require.Error(t, err)
	assert.Equal(t, KindInvalidRefreshToken, KindOf(err))
}
