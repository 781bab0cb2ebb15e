// cmd/access-server/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"membership-core/internal/billing/engine"
	"membership-core/internal/billing/ledger"
	"membership-core/internal/common/auth"
	"membership-core/internal/common/aws"
	"membership-core/internal/common/config"
	"membership-core/internal/common/database"
	"membership-core/internal/common/logger"
	"membership-core/internal/common/observability"
	"membership-core/internal/gate"
	"membership-core/internal/httpapi"
	"membership-core/internal/notify"
	"membership-core/internal/session/authority"
	"membership-core/internal/session/store"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	zapLog := logger.New("info", "console")
	defer zapLog.Sync()

	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting access server...")

	cfg, err := config.Load()
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}

	obs := observability.New("access-server")
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")

	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Redis with retry ---
	var redis *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		redis, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return redis.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")

	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer redis.Close()
	zapLog.Info("Redis connected successfully")

	// --- Notification channels (best effort; the server runs without them) ---
	events := buildDispatcher(ctx, cfg, log, zapLog)

	// --- Identity service client ---
	identity := auth.NewIdentityClient(
		cfg.Integrations.Identity.BaseURL,
		cfg.Integrations.Identity.APIKey,
		time.Duration(cfg.Integrations.Identity.TimeoutMS)*time.Millisecond,
	)
	authenticator := httpapi.AuthenticatorFunc(func(ctx context.Context, userID, password string) (*httpapi.Identity, error) {
		account, err := identity.VerifyCredentials(ctx, userID, password)
		if err != nil {
			return nil, err
		}
		return &httpapi.Identity{
			UserID:     account.UserID,
			EntityID:   account.EntityID,
			EntityKind: account.EntityKind,
			Billable:   account.Billable,
			Email:      account.Email,
		}, nil
	})

	// --- Core components ---
	sessionStore := store.NewRedisStore(redis.GetClient(), cfg.Session.RecordTTL())
	sessions := authority.New(sessionStore, cfg.Session, log)
	issuer := gate.NewIssuer(cfg.Auth)

	lg := ledger.New(pg.GetDB())
	gateway := engine.NewHTTPGateway(
		cfg.Integrations.PaymentGateway.BaseURL,
		cfg.Integrations.PaymentGateway.APIKey,
		time.Duration(cfg.Integrations.PaymentGateway.TimeoutMS)*time.Millisecond,
	)
	billing := engine.New(lg, gateway, events, cfg.Billing, log)

	accessGate := gate.New(sessions, issuer, lg, billing, cfg.Gate, cfg.Auth, log)

	server, err := httpapi.NewServer(sessions, issuer, accessGate, lg, billing, authenticator, cfg, log)
	if err != nil {
		zapLog.Fatal("server init failed", zap.Error(err))
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		zapLog.Info("HTTP server listening", zap.String("address", cfg.Server.Address))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Fatal("http server failed", zap.Error(err))
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLog.Info("Shutting down access server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("http shutdown failed", zap.Error(err))
	}
	zapLog.Info("Access server stopped")
}

func buildDispatcher(ctx context.Context, cfg *config.Config, log logger.Logger, zapLog *zap.Logger) notify.Dispatcher {
	if !cfg.Notifications.Email.Enabled && !cfg.Notifications.SMS.Enabled {
		return notify.NopDispatcher{}
	}

	var email notify.EmailSender
	var sms notify.SMSSender

	if cfg.Notifications.Email.Enabled {
		sesClient, err := aws.NewSESClient(ctx, cfg.Integrations.AWS.Region)
		if err != nil {
			zapLog.Warn("SES client init failed, email notifications disabled", zap.Error(err))
		} else {
			email = sesClient
		}
	}
	if cfg.Notifications.SMS.Enabled {
		snsClient, err := aws.NewSNSClient(ctx, cfg.Integrations.AWS.Region)
		if err != nil {
			zapLog.Warn("SNS client init failed, sms notifications disabled", zap.Error(err))
		} else {
			sms = snsClient
		}
	}
	if email == nil && sms == nil {
		return notify.NopDispatcher{}
	}
	return notify.NewAWSDispatcher(email, sms, cfg.Notifications, log)
}
