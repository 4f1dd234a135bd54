package note

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// List returns the notes owned by the subject, newest first. A deleted
// subject simply owns nothing.
func (r *Repository) List(ctx context.Context, userID string) ([]Note, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, title, body, COALESCE(image_url, ''), created_at, updated_at
		FROM notes
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query notes: %w", err)
	}
	defer rows.Close()

	notes := make([]Note, 0)
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Body, &n.ImageURL, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notes: %w", err)
	}

	return notes, nil
}

func (r *Repository) Create(ctx context.Context, userID string, input NoteInput) (Note, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Note{}, fmt.Errorf("generate note id: %w", err)
	}

	now := time.Now().UTC()
	n := Note{
		ID:        id.String(),
		UserID:    userID,
		Title:     input.Title,
		Body:      input.Body,
		ImageURL:  input.ImageURL,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO notes (id, user_id, title, body, image_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $6)
	`, n.ID, n.UserID, n.Title, n.Body, n.ImageURL, now)
	if err != nil {
		return Note{}, fmt.Errorf("insert note: %w", err)
	}

	return n, nil
}

// Update rewrites a note the subject owns. sql.ErrNoRows when the note does
// not exist or belongs to someone else.
func (r *Repository) Update(ctx context.Context, userID, id string, input NoteInput) (Note, error) {
	now := time.Now().UTC()

	var n Note
	err := r.db.QueryRowContext(ctx, `
		UPDATE notes
		SET title = $3, body = $4, image_url = NULLIF($5, ''), updated_at = $6
		WHERE id = $1 AND user_id = $2
		RETURNING id, user_id, title, body, COALESCE(image_url, ''), created_at, updated_at
	`, id, userID, input.Title, input.Body, input.ImageURL, now).
		Scan(&n.ID, &n.UserID, &n.Title, &n.Body, &n.ImageURL, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Note{}, sql.ErrNoRows
		}
		return Note{}, fmt.Errorf("update note: %w", err)
	}

	return n, nil
}

func (r *Repository) Delete(ctx context.Context, userID, id string) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM notes
		WHERE id = $1 AND user_id = $2
	`, id, userID)
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete note rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	return nil
}
