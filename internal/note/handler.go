package note

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"notes-api/internal/auth"
)

const (
	maxJSONBodyBytes = 1 << 20
	maxTitleLength   = 150
	maxBodyLength    = 10000
	maxImageURLBytes = 500
)

type Handler struct {
	repo     *Repository
	uploader ImageUploader
}

// ImageUploader proxies an image source to the cloud store and returns the
// hosted URL. May be nil when media is not configured.
type ImageUploader interface {
	UploadImage(ctx context.Context, imageSource string) (string, error)
}

func NewHandler(repo *Repository, uploader ImageUploader) *Handler {
	return &Handler{repo: repo, uploader: uploader}
}

func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := auth.SubjectID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authenticated subject")
		return
	}

	notes, err := h.repo.List(r.Context(), subjectID)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to list notes")
		return
	}

	writeJSON(w, http.StatusOK, notes)
}

func (h *Handler) CreateNote(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := auth.SubjectID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authenticated subject")
		return
	}

	input, ok := parseInput(w, r)
	if !ok {
		return
	}

	if !h.resolveImage(w, r, &input) {
		return
	}

	n, err := h.repo.Create(r.Context(), subjectID, input)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to create note")
		return
	}

	writeJSON(w, http.StatusCreated, n)
}

func (h *Handler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := auth.SubjectID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authenticated subject")
		return
	}

	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid note id")
		return
	}

	input, ok := parseInput(w, r)
	if !ok {
		return
	}

	if !h.resolveImage(w, r, &input) {
		return
	}

	n, err := h.repo.Update(r.Context(), subjectID, id, input)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "note not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to update note")
		return
	}

	writeJSON(w, http.StatusOK, n)
}

func (h *Handler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := auth.SubjectID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authenticated subject")
		return
	}

	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid note id")
		return
	}

	if err := h.repo.Delete(r.Context(), subjectID, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "note not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to delete note")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// resolveImage pushes an attached image through the cloud proxy when one
// was supplied. Reports whether the request may proceed.
func (h *Handler) resolveImage(w http.ResponseWriter, r *http.Request, input *NoteInput) bool {
	if input.ImageURL == "" {
		return true
	}
	if h.uploader == nil {
		writeError(w, http.StatusInternalServerError, "image uploader is not configured")
		return false
	}

	hosted, err := h.uploader.UploadImage(r.Context(), input.ImageURL)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusBadGateway, "failed to upload image")
		return false
	}

	input.ImageURL = hosted
	return true
}

func parseInput(w http.ResponseWriter, r *http.Request) (NoteInput, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var input NoteInput
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return NoteInput{}, false
	}

	input.Title = strings.TrimSpace(input.Title)
	input.Body = strings.TrimSpace(input.Body)
	input.ImageURL = strings.TrimSpace(input.ImageURL)

	if input.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return NoteInput{}, false
	}
	if !utf8.ValidString(input.Title) || utf8.RuneCountInString(input.Title) > maxTitleLength {
		writeError(w, http.StatusBadRequest, "title is invalid")
		return NoteInput{}, false
	}
	if !utf8.ValidString(input.Body) || utf8.RuneCountInString(input.Body) > maxBodyLength {
		writeError(w, http.StatusBadRequest, "body is invalid")
		return NoteInput{}, false
	}
	if input.ImageURL != "" && !validImageURL(input.ImageURL) {
		writeError(w, http.StatusBadRequest, "image_url must be a valid http(s) link")
		return NoteInput{}, false
	}

	return input, true
}

func validImageURL(raw string) bool {
	if len(raw) > maxImageURLBytes {
		return false
	}

	parsed, err := url.ParseRequestURI(raw)
	if err != nil || parsed.Host == "" || parsed.User != nil {
		return false
	}

	return parsed.Scheme == "http" || parsed.Scheme == "https"
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
