// cmd/billing-scheduler/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"membership-core/internal/billing/engine"
	"membership-core/internal/billing/ledger"
	"membership-core/internal/common/aws"
	"membership-core/internal/common/config"
	"membership-core/internal/common/database"
	"membership-core/internal/common/logger"
	"membership-core/internal/common/observability"
	"membership-core/internal/notify"
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

	zapLog.Info("Starting billing scheduler...")

	cfg, err := config.Load()
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}

	obs := observability.New("billing-scheduler")
	defer obs.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	lg := ledger.New(pg.GetDB())
	gateway := engine.NewHTTPGateway(
		cfg.Integrations.PaymentGateway.BaseURL,
		cfg.Integrations.PaymentGateway.APIKey,
		time.Duration(cfg.Integrations.PaymentGateway.TimeoutMS)*time.Millisecond,
	)
	events := buildDispatcher(ctx, cfg, log, zapLog)
	billing := engine.New(lg, gateway, events, cfg.Billing, log)

	// --- Metrics endpoint ---
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		if err := http.ListenAndServe(cfg.Server.MetricsAddress, mux); err != nil && err != http.ErrServerClosed {
			zapLog.Error("metrics server failed", zap.Error(err))
		}
	}()

	interval := time.Duration(cfg.Scheduler.SweepIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	zapLog.Info("Sweep loop starting", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	runSweeps(ctx, billing, log)
	for {
		select {
		case <-ticker.C:
			runSweeps(ctx, billing, log)
		case <-quit:
			zapLog.Info("Shutting down billing scheduler...")
			cancel()
			return
		}
	}
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

// runSweeps executes one pass of every lifecycle sweep. Each sweep is
// idempotent and overlap-safe, so a failed run needs no cleanup; the next
// tick finishes whatever this one left.
func runSweeps(ctx context.Context, billing *engine.Engine, log logger.Logger) {
	if _, err := billing.SweepPeriodEnds(ctx); err != nil {
		log.WithError(err).Error("period-end sweep failed", nil)
	}
	if _, err := billing.SweepRetries(ctx); err != nil {
		log.WithError(err).Error("retry sweep failed", nil)
	}
	if _, err := billing.SweepCancellations(ctx); err != nil {
		log.WithError(err).Error("cancellation sweep failed", nil)
	}
}
