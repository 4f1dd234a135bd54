package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"notes-api/internal/observability"
	"notes-api/internal/token"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// UserStore is what the service needs from the durable user records.
type UserStore interface {
	CreateUser(ctx context.Context, email, passwordHash string) (User, error)
	GetByEmail(ctx context.Context, email string) (User, error)
	GetByID(ctx context.Context, id string) (User, error)
}

// Mailer delivers notification mail. May be left nil when mail is not
// configured.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Service wires the user store, the token manager and the mailer together
// behind the auth endpoints. All collaborators are passed in at
// construction; there is no ambient state.
type Service struct {
	users  UserStore
	tokens *token.Manager
	mailer Mailer
	logger *observability.Logger
}

func NewService(users UserStore, tokens *token.Manager, mailer Mailer, logger *observability.Logger) *Service {
	return &Service{
		users:  users,
		tokens: tokens,
		mailer: mailer,
		logger: logger,
	}
}

// Register creates a user and fires a welcome mail without blocking the
// request on SMTP.
func (s *Service) Register(ctx context.Context, email, password string) (User, error) {
	email = normalizeEmail(email)

	hash, err := bcrypt.GenerateFromPassword([]byte(strings.TrimSpace(password)), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.users.CreateUser(ctx, email, string(hash))
	if err != nil {
		return User{}, err
	}

	if s.mailer != nil {
		go func() {
			body := "Your account is ready. Sign in with this address to start keeping notes."
			if err := s.mailer.Send(context.Background(), user.Email, "Welcome to notes-api", body); err != nil {
				s.logger.Error("welcome_mail_failed", map[string]any{"error": err.Error()})
			}
		}()
	}

	return user, nil
}

// Login verifies the password and issues a fresh access/refresh pair,
// replacing any session the subject already had.
func (s *Service) Login(ctx context.Context, email, password string) (token.Pair, error) {
	email = normalizeEmail(email)
	password = strings.TrimSpace(password)

	if email == "" || password == "" {
		return token.Pair{}, ErrInvalidCredentials
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return token.Pair{}, ErrInvalidCredentials
		}
		return token.Pair{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return token.Pair{}, ErrInvalidCredentials
	}

	return s.tokens.IssuePair(ctx, user.ID)
}

// Refresh rotates the presented refresh token. All verification and reuse
// handling lives in the token manager.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (token.Pair, error) {
	return s.tokens.VerifyAndRotate(ctx, refreshToken)
}

// Logout revokes the subject's session. Idempotent.
func (s *Service) Logout(ctx context.Context, subjectID string) error {
	return s.tokens.Revoke(ctx, subjectID)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
