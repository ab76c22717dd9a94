package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/crisisconnect/crisis-api/internal/app"
	"github.com/crisisconnect/crisis-api/internal/sdk/store"
	"github.com/crisisconnect/crisis-api/internal/services/mailer"
	"github.com/crisisconnect/crisis-api/internal/services/sentry"
	"github.com/crisisconnect/crisis-api/internal/services/token"
)

var build string

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("application startup failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	db := store.NewPostgres()
	defer db.Close()

	sentryService := sentry.NewSentryService()
	defer sentryService.Close()

	tokenService := token.New()

	emailService, err := mailer.New()
	if err != nil {
		return fmt.Errorf("mailer: %w", err)
	}

	uploadDir := getEnv("UPLOAD_DIR", "./uploads")
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return fmt.Errorf("upload dir: %w", err)
	}

	seedAdminEmail := os.Getenv("SEED_ADMIN_EMAIL")
	if seedAdminEmail != "" {
		seedAdmin(ctx, logger, db, seedAdminEmail)
	}

	crisisApp := app.NewApp(
		db,
		sentryService,
		tokenService,
		emailService,
		uploadDir,
		seedAdminEmail,
	)

	srv := &http.Server{
		Addr:         ":" + getEnv("PORT", "8080"),
		Handler:      crisisApp.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("server starting", "addr", srv.Addr, "build", build)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen and serve", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	wg.Wait()
	logger.Info("shutdown complete")
	return nil
}

// seedAdmin promotes the configured account if it already exists. A
// missing account is fine: signup grants the role when that address
// registers.
func seedAdmin(ctx context.Context, logger *slog.Logger, db store.Store, email string) {
	user, err := db.PromoteUserToAdminByEmail(ctx, email)
	switch {
	case err == nil:
		logger.Info("seed admin promoted", "user_id", user.ID)
	case errors.Is(err, store.ErrNotFound):
		logger.Info("seed admin not registered yet", "email", email)
	default:
		logger.Error("seed admin promotion failed", "error", err)
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
