package maintenance

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"notes-api/internal/observability"
)

type stubPurger struct {
	deleted int64
	err     error
	cutoff  time.Time
}

func (s *stubPurger) DeleteExpired(_ context.Context, revokedBefore time.Time, _ int) (int64, error) {
	s.cutoff = revokedBefore
	return s.deleted, s.err
}

func newCleanupRequest(secret string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/internal/maintenance/cleanup", nil)
	if secret != "" {
		req.Header.Set("Authorization", "Bearer "+secret)
	}
	return req
}

func testLogger() *observability.Logger {
	return observability.NewLoggerTo(&bytes.Buffer{})
}

func TestCleanupHiddenWithoutSecret(t *testing.T) {
	h := NewCleanupHandler(&stubPurger{}, testLogger(), "", 14*24*time.Hour, 500)

	rec := httptest.NewRecorder()
	h.Handle(rec, newCleanupRequest("whatever"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCleanupRejectsWrongSecret(t *testing.T) {
	h := NewCleanupHandler(&stubPurger{}, testLogger(), "real-secret", 14*24*time.Hour, 500)

	rec := httptest.NewRecorder()
	h.Handle(rec, newCleanupRequest("wrong-secret"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCleanupPurgesSessions(t *testing.T) {
	purger := &stubPurger{deleted: 7}
	h := NewCleanupHandler(purger, testLogger(), "real-secret", 14*24*time.Hour, 500)

	rec := httptest.NewRecorder()
	h.Handle(rec, newCleanupRequest("real-secret"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"deleted_sessions":7`)
	assert.WithinDuration(t, time.Now().UTC().Add(-14*24*time.Hour), purger.cutoff, time.Minute)
}

func TestCleanupReportsPurgeFailure(t *testing.T) {
	h := NewCleanupHandler(&stubPurger{err: errors.New("db down")}, testLogger(), "real-secret", 14*24*time.Hour, 500)

	rec := httptest.NewRecorder()
	h.Handle(rec, newCleanupRequest("real-secret"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
