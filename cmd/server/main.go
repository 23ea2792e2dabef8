// Command server runs the TextExtract backend HTTP server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	authhandler "github.com/textextract/textextract/internal/auth/handler"
	"github.com/textextract/textextract/internal/auth/onetime"
	"github.com/textextract/textextract/internal/auth/ratelimit"
	authservice "github.com/textextract/textextract/internal/auth/service"
	"github.com/textextract/textextract/internal/config"
	"github.com/textextract/textextract/internal/db"
	devicerepo "github.com/textextract/textextract/internal/device/repository"
	deviceservice "github.com/textextract/textextract/internal/device/service"
	"github.com/textextract/textextract/internal/mail"
	"github.com/textextract/textextract/internal/security"
	"github.com/textextract/textextract/internal/server"
	"github.com/textextract/textextract/internal/telemetry/otel"
	userhandler "github.com/textextract/textextract/internal/user/handler"
	userrepo "github.com/textextract/textextract/internal/user/repository"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	providers, err := otel.NewProviders(ctx, cfg.OTLPEndpoint, "textextract-backend", false)
	if err != nil {
		return err
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = providers.Shutdown(shutdownCtx)
	}()

	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer database.Close()

	var blacklist security.TokenBlacklist
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
		defer rdb.Close()
		blacklist = security.NewRedisBlacklist(rdb)
		slog.Info("token blacklist backed by redis", "addr", cfg.RedisAddr)
	} else {
		blacklist = security.NewMemoryBlacklist()
		slog.Info("token blacklist is process-local; revocations are not shared across instances")
	}

	users := userrepo.NewPostgresRepository(database)
	devices := devicerepo.NewPostgresRepository(database)
	registrar := deviceservice.NewRegistrar(devices, users)

	tokens := security.NewTokenService(cfg.JWTSecret, cfg.AccessTTL(), cfg.RefreshTTL(), blacklist)
	attempts := ratelimit.NewTracker(cfg.LoginMaxAttempts, cfg.LockoutWindow())
	mailer := &mail.LogMailer{BaseURL: "http://localhost" + cfg.HTTPAddr}

	authSvc := authservice.New(users, registrar, security.NewHasher(cfg.BcryptCost),
		tokens, attempts, onetime.NewMemoryStore(), mailer)

	srv := server.New(cfg.HTTPAddr, server.Options{
		Auth:        authhandler.New(authSvc, cfg.WebLoginURL),
		Users:       userhandler.New(devices),
		Tokens:      tokens,
		UserLoader:  users,
		WebLoginURL: cfg.WebLoginURL,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
