package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"notes-api/internal/auth"
	"notes-api/internal/db"
	"notes-api/internal/mail"
	"notes-api/internal/maintenance"
	"notes-api/internal/media"
	"notes-api/internal/note"
	"notes-api/internal/observability"
	"notes-api/internal/token"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
}

type Runtime struct {
	Handler http.Handler
	Logger  *observability.Logger
	Close   func() error
}

// Build constructs the whole application explicitly: every dependency is
// created here and passed down, nothing reaches for globals.
func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	logger := observability.NewLogger()

	databaseURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		return nil, err
	}
	jwtSecret, err := mustEnv("JWT_SECRET")
	if err != nil {
		return nil, err
	}

	if err := observability.InitSentry(os.Getenv("SENTRY_DSN"), envOrDefault("APP_ENV", "development")); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	database, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(envIntOrDefault("DB_MAX_OPEN_CONNS", 10))
	database.SetMaxIdleConns(envIntOrDefault("DB_MAX_IDLE_CONNS", 5))
	database.SetConnMaxLifetime(envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30))
	database.SetConnMaxIdleTime(envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10))

	if err := database.Ping(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if options.RunMigrations {
		if err := db.RunMigrations(database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	repo := auth.NewRepository(database)
	accessIssuer := token.NewAccessIssuer(jwtSecret, envMinutesOrDefault("ACCESS_TOKEN_TTL_MINUTES", 15))
	tokenManager := token.NewManager(repo, accessIssuer, envDaysOrDefault("REFRESH_TOKEN_TTL_DAYS", 30))

	var mailer auth.Mailer
	if smtpHost := strings.TrimSpace(os.Getenv("SMTP_HOST")); smtpHost != "" {
		m, err := mail.NewMailer(
			smtpHost,
			envIntOrDefault("SMTP_PORT", 587),
			os.Getenv("SMTP_USERNAME"),
			os.Getenv("SMTP_PASSWORD"),
			os.Getenv("SMTP_FROM"),
		)
		if err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("init mailer: %w", err)
		}
		mailer = m
	}

	authService := auth.NewService(repo, tokenManager, mailer, logger)
	authHandler := auth.NewHandler(authService)
	loginLimiter := auth.NewLoginRateLimiter(
		envIntOrDefault("LOGIN_RATE_LIMIT_MAX", 10),
		envSecondsOrDefault("LOGIN_RATE_LIMIT_WINDOW_SECONDS", 60),
	)

	var uploader *media.Client
	if cloudinaryURL := strings.TrimSpace(os.Getenv("CLOUDINARY_URL")); cloudinaryURL != "" {
		uploader, err = media.NewClient(cloudinaryURL, envOrDefault("CLOUDINARY_FOLDER", "notes"))
		if err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("init cloudinary: %w", err)
		}
	}

	noteRepo := note.NewRepository(database)
	var noteUploader note.ImageUploader
	var mediaUploader media.ImageUploader
	if uploader != nil {
		noteUploader = uploader
		mediaUploader = uploader
	}
	noteHandler := note.NewHandler(noteRepo, noteUploader)
	mediaUploadHandler := media.NewUploadHandler(mediaUploader)

	cleanupHandler := maintenance.NewCleanupHandler(
		repo,
		logger,
		os.Getenv("CRON_SECRET"),
		envDaysOrDefault("SESSION_REVOKED_RETENTION_DAYS", 14),
		envIntOrDefault("SESSION_CLEANUP_BATCH_SIZE", 500),
	)

	guard := func(h http.HandlerFunc) http.Handler {
		return auth.Middleware(accessIssuer, h)
	}

	mux := http.NewServeMux()
	mux.Handle("POST /auth/register", http.HandlerFunc(authHandler.Register))
	mux.Handle("POST /auth/login", loginLimiter.Middleware(http.HandlerFunc(authHandler.Login)))
	mux.HandleFunc("POST /auth/refresh", authHandler.Refresh)
	mux.Handle("POST /auth/logout", guard(authHandler.Logout))
	mux.HandleFunc("GET /health", healthHandler(database))
	mux.HandleFunc("GET /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.Handle("GET /notes", guard(noteHandler.ListNotes))
	mux.Handle("POST /notes", guard(noteHandler.CreateNote))
	mux.Handle("PUT /notes/{id}", guard(noteHandler.UpdateNote))
	mux.Handle("DELETE /notes/{id}", guard(noteHandler.DeleteNote))
	mux.Handle("POST /media/upload", guard(mediaUploadHandler.Upload))

	handler := observability.RecoverMiddleware(logger,
		observability.RequestLoggingMiddleware(logger,
			observability.CORSMiddleware(os.Getenv("CORS_ALLOWED_ORIGIN"), mux)))

	return &Runtime{
		Handler: handler,
		Logger:  logger,
		Close: func() error {
			observability.FlushSentry()
			return database.Close()
		},
	}, nil
}

func healthHandler(database *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if err := database.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func mustEnv(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envSecondsOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Second
}

func envDaysOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * 24 * time.Hour
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
