// cmd/onboarding-service/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"merchant-onboarding/internal/api"
	awsclient "merchant-onboarding/internal/common/aws"
	"merchant-onboarding/internal/common/camunda"
	"merchant-onboarding/internal/common/config"
	"merchant-onboarding/internal/common/database"
	"merchant-onboarding/internal/common/logger"
	"merchant-onboarding/internal/common/observability"
	"merchant-onboarding/internal/onboarding/franchises"
	"merchant-onboarding/internal/onboarding/service"
	"merchant-onboarding/internal/onboarding/store"
	"merchant-onboarding/internal/onboarding/submission"
	"merchant-onboarding/internal/onboarding/wizard"

	son "merchant-onboarding/internal/workers/onboarding/send-onboarding-notification"
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
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("info", "console").Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.NewWithOutput(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog).WithFields(map[string]interface{}{
		"service": cfg.App.Name,
		"version": cfg.App.Version,
	})

	zapLog.Info("Starting onboarding service...", zap.String("environment", cfg.App.Environment))

	obs, err := observability.New(cfg.App.Name)
	if err != nil {
		zapLog.Warn("otel metrics exporter unavailable", zap.Error(err))
	}
	defer obs.Shutdown()

	ctx := context.Background()

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

	// --- Init Elasticsearch (optional) ---
	esClient, err := database.NewElasticsearch(cfg.Database.Elasticsearch)
	if err != nil {
		zapLog.Fatal("elasticsearch client failed", zap.Error(err))
	}
	if esClient != nil {
		if err := esClient.Ping(ctx); err != nil {
			zapLog.Warn("elasticsearch unreachable, searches fall back to postgres", zap.Error(err))
		} else {
			zapLog.Info("Elasticsearch connected successfully")
		}
	}

	// --- Init Zeebe (optional) ---
	var (
		zeebe     *camunda.Client
		approvals service.ApprovalStarter
		workers   []*camunda.JobWorker
	)
	if cfg.Camunda.Enabled {
		err = retryWithBackoff(func() error {
			var err error
			zeebe, err = camunda.Dial(camunda.ConfigFrom(cfg.Camunda))
			return err
		}, 10, 2*time.Second, zapLog, "Zeebe client initialization")
		if err != nil {
			zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
		}
		defer zeebe.Close()
		zapLog.Info("Zeebe client connected successfully")

		approvals = camunda.NewProcessStarter(zeebe, cfg.Camunda.ApprovalProcessID, log)

		if config.IsWorkerEnabled(cfg, son.TaskType) {
			workers = append(workers, startNotificationWorker(ctx, cfg, zeebe, pg, log))
		}
	}

	// --- Onboarding components ---
	sessions := store.New(redis.Client, config.GetSeconds(cfg.Onboarding.SessionTTL), log)

	var es *elasticsearch.Client
	if esClient != nil {
		es = esClient.Client
	}
	directory := franchises.NewDirectory(&franchises.Config{
		CacheTTL: config.GetSeconds(cfg.Onboarding.FranchiseCacheTTL),
		Index:    cfg.Database.Elasticsearch.FranchiseIndex,
	}, pg.DB, redis.Client, es, log)

	backend := submission.NewClient(&submission.Config{
		BaseURL:  cfg.Backend.BaseURL,
		APIToken: cfg.Backend.APIToken,
		Timeout:  config.GetDuration(cfg.Backend.Timeout),
	}, log)

	validator, err := wizard.NewSchemaValidator(cfg.Onboarding.MaxDocumentBytes)
	if err != nil {
		zapLog.Fatal("step schemas failed to compile", zap.Error(err))
	}

	svc := service.New(
		&service.Config{
			PrefetchTimeout: config.GetDuration(cfg.Onboarding.PrefetchTimeout),
			SubmitLease:     config.GetDuration(cfg.Backend.Timeout) + 30*time.Second,
		},
		sessions,
		directory,
		backend,
		approvals,
		validator,
		obs,
		log,
	)

	checks := map[string]api.Check{
		"redis":    redis.Ping,
		"postgres": pg.Ping,
	}
	if zeebe != nil {
		checks["zeebe"] = zeebe.Ping
	}

	app := api.New(&api.Config{
		BodyLimit:        cfg.Server.BodyLimitMB * 1024 * 1024,
		ReadTimeout:      config.GetDuration(cfg.Server.ReadTimeout),
		WriteTimeout:     config.GetDuration(cfg.Server.WriteTimeout),
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		MaxDocumentBytes: cfg.Onboarding.MaxDocumentBytes,
		ReadinessChecks:  checks,
	}, svc, log)

	go func() {
		zapLog.Info("API listening", zap.String("address", cfg.Server.Address))
		if err := app.Listen(cfg.Server.Address); err != nil {
			zapLog.Fatal("API server failed", zap.Error(err))
		}
	}()

	ops := &http.Server{Addr: cfg.Server.OpsAddress}
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		zapLog.Info("Ops server listening", zap.String("address", cfg.Server.OpsAddress))
		if err := ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Error("Ops server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, draining...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		zapLog.Error("Error stopping API server", zap.Error(err))
	}
	for _, w := range workers {
		w.Stop(shutdownCtx)
	}
	if err := ops.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping ops server", zap.Error(err))
	}

	zapLog.Info("Onboarding service stopped gracefully")
}

func startNotificationWorker(ctx context.Context, cfg *config.Config, zeebe *camunda.Client, pg *database.PostgresClient, log logger.Logger) *camunda.JobWorker {
	wcfg := son.LoadConfig(cfg)

	var (
		mailer son.EmailSender
		sms    son.SMSSender
	)
	if wcfg.EmailEnabled || wcfg.SMSEnabled {
		awsCfg, err := awsclient.LoadConfig(ctx, wcfg.AWSRegion)
		if err != nil {
			log.Error("AWS config unavailable, notifications disabled", map[string]interface{}{"error": err})
		} else {
			mailer = awsclient.NewSESMailer(awsCfg, wcfg.FromEmail)
			sms = awsclient.NewSNSSender(awsCfg, wcfg.SMSSenderID)
		}
	}

	handler := son.NewHandler(wcfg, pg.DB, mailer, sms, log)
	w := camunda.NewWorker(zeebe, son.TaskType, wcfg.MaxJobsActive, handler, log)

	log.Info("worker started", map[string]interface{}{
		"taskType":      son.TaskType,
		"maxJobsActive": wcfg.MaxJobsActive,
	})
	return w
}
