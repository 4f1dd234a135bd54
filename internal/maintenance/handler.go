package maintenance

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"notes-api/internal/observability"
)

// SessionPurger deletes stale session rows; implemented by the auth
// repository.
type SessionPurger interface {
	DeleteExpired(ctx context.Context, revokedBefore time.Time, batchSize int) (int64, error)
}

// CleanupHandler is invoked by an external cron and purges expired and
// long-revoked sessions. Hidden unless a cron secret is configured.
type CleanupHandler struct {
	purger           SessionPurger
	logger           *observability.Logger
	cronSecret       string
	revokedRetention time.Duration
	batchSize        int
}

func NewCleanupHandler(purger SessionPurger, logger *observability.Logger, cronSecret string, revokedRetention time.Duration, batchSize int) *CleanupHandler {
	if revokedRetention <= 0 {
		revokedRetention = 14 * 24 * time.Hour
	}

	return &CleanupHandler{
		purger:           purger,
		logger:           logger,
		cronSecret:       strings.TrimSpace(cronSecret),
		revokedRetention: revokedRetention,
		batchSize:        batchSize,
	}
}

func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) != h.cronSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	cutoff := time.Now().UTC().Add(-h.revokedRetention)
	deleted, err := h.purger.DeleteExpired(r.Context(), cutoff, h.batchSize)
	if err != nil {
		h.logger.Error("session_cleanup_failed", map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed"})
		return
	}

	h.logger.Info("session_cleanup_completed", map[string]any{"deleted_sessions": deleted})

	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"deleted_sessions": deleted,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
