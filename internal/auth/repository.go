package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"notes-api/internal/token"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmailTaken   = errors.New("email already registered")
)

const pgUniqueViolation = "23505"

// Repository is the Postgres adapter for users and for the session store
// the token manager rotates against.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateUser(ctx context.Context, email, passwordHash string) (User, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return User{}, fmt.Errorf("generate user id: %w", err)
	}

	now := time.Now().UTC()
	user := User{
		ID:           id.String(),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
	`, user.ID, user.Email, user.PasswordHash, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return User{}, ErrEmailTaken
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}

	return user, nil
}

func (r *Repository) GetByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(r.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, created_at, updated_at
		FROM users
		WHERE email = $1
	`, email))
}

func (r *Repository) GetByID(ctx context.Context, id string) (User, error) {
	return scanUser(r.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, created_at, updated_at
		FROM users
		WHERE id = $1
	`, id))
}

func scanUser(row *sql.Row) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("query user: %w", err)
	}

	return user, nil
}

// Upsert implements token.SessionStore. One session row per subject; a
// sign-in over an existing row replaces the token and recomputes expiry.
func (r *Repository) Upsert(ctx context.Context, subjectID, tok string, expiresAt time.Time) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO auth_sessions (user_id, token, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (user_id)
		DO UPDATE SET
			token = EXCLUDED.token,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at
	`, subjectID, tok, expiresAt.UTC(), now)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	return nil
}

// FindByToken implements token.SessionStore. Revoked sessions hold a NULL
// token and can never match a presented value.
func (r *Repository) FindByToken(ctx context.Context, tok string) (token.Session, error) {
	var sess token.Session
	err := r.db.QueryRowContext(ctx, `
		SELECT user_id, token, expires_at, created_at, updated_at
		FROM auth_sessions
		WHERE token = $1
	`, tok).Scan(&sess.SubjectID, &sess.Token, &sess.ExpiresAt, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return token.Session{}, token.ErrSessionNotFound
		}
		return token.Session{}, fmt.Errorf("query session by token: %w", err)
	}

	return sess, nil
}

// SwapToken implements token.SessionStore. The single conditional UPDATE is
// the atomic read-modify-write that makes rotation race-safe: of two
// concurrent rotations presenting the same token, at most one matches the
// WHERE clause. Expiry is not touched: rotation never extends the session
// ceiling.
func (r *Repository) SwapToken(ctx context.Context, subjectID, current, next string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE auth_sessions
		SET token = $3, updated_at = $4
		WHERE user_id = $1 AND token = $2
	`, subjectID, current, next, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("swap session token: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("swap session token rows affected: %w", err)
	}

	return affected == 1, nil
}

// Revoke implements token.SessionStore. Clearing an absent or already
// cleared row is a no-op.
func (r *Repository) Revoke(ctx context.Context, subjectID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE auth_sessions
		SET token = NULL, updated_at = $2
		WHERE user_id = $1
	`, subjectID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}

	return nil
}

// DeleteExpired implements token.SessionStore; used by the maintenance job.
func (r *Repository) DeleteExpired(ctx context.Context, revokedBefore time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}

	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT user_id
			FROM auth_sessions
			WHERE expires_at < NOW() OR (token IS NULL AND updated_at < $1)
			ORDER BY updated_at ASC
			LIMIT $2
		)
		DELETE FROM auth_sessions s
		USING stale
		WHERE s.user_id = stale.user_id
	`, revokedBefore.UTC(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete stale sessions: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale sessions rows affected: %w", err)
	}

	return affected, nil
}
