// cmd/worker-manager/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"apply-workers/internal/common/aws"
	"apply-workers/internal/common/config"
	"apply-workers/internal/common/database"
	"apply-workers/internal/common/logger"
	"apply-workers/internal/common/metrics"
	"apply-workers/internal/common/observability"
	"apply-workers/internal/common/queue"
	"apply-workers/internal/common/worker"

	pa "apply-workers/internal/workers/apply/process-apply"
	ra "apply-workers/internal/workers/apply/record-application"
	rac "apply-workers/internal/workers/apply/resolve-apply-context"
	run "apply-workers/internal/workers/apply/run-automation"
)

func main() {
	zapLog := logger.New("info", "console")
	defer zapLog.Sync()

	cfg, err := config.Load()
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}

	if built, err := logger.Build(logger.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err == nil {
		zapLog = built
		defer zapLog.Sync()
	} else {
		zapLog.Warn("logging config rejected, keeping console logger", zap.Error(err))
	}
	log := logger.NewZapAdapter(zapLog).WithFields(map[string]interface{}{
		"service": "worker-manager",
		"env":     cfg.App.Environment,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	obs := observability.New("worker-manager", nil, log)
	defer obs.Shutdown()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = database.RetryWithBackoff(ctx, func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, log, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	if cfg.Database.Postgres.AutoMigrate {
		if err := database.Migrate(ctx, pg.DB); err != nil {
			zapLog.Fatal("schema migration failed", zap.Error(err))
		}
		zapLog.Info("Schema is up to date")
	}

	// --- Init Redis with retry ---
	var rdb *database.RedisClient
	err = database.RetryWithBackoff(ctx, func() error {
		var err error
		rdb, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return rdb.Ping(ctx)
	}, 10, 2*time.Second, log, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer rdb.Close()
	zapLog.Info("Redis connected successfully")

	alerter, err := aws.NewAlerter(ctx, cfg.Alerts, log)
	if err != nil {
		zapLog.Fatal("failed to create alerter", zap.Error(err))
	}

	// --- Wire the apply pipeline ---
	q := queue.New(rdb.Client, queue.Options{
		Name:              cfg.Queue.Name,
		VisibilityTimeout: config.GetDuration(cfg.Queue.VisibilityTimeout),
		MaxDeliveries:     cfg.Queue.MaxDeliveries,
		ReaperBatch:       cfg.Queue.ReaperBatch,
	})

	handler := pa.NewHandler(
		q,
		rac.NewResolver(rac.LoadConfig(cfg.Applicant, cfg.Automation), pg.DB, log),
		run.NewInvoker(run.LoadConfig(cfg.Automation), log),
		ra.NewWriter(ra.LoadConfig(config.GetDuration(cfg.Worker.RecordTimeout)), pg.DB, log),
		alerter,
		obs,
		log,
	)

	pool := worker.NewPool(q, handler, worker.PoolConfig{
		Concurrency:    cfg.Worker.Concurrency,
		PollTimeout:    config.GetDuration(cfg.Queue.PollTimeout),
		ShutdownGrace:  config.GetDuration(cfg.Worker.ShutdownGrace),
		BackoffInitial: config.GetDuration(cfg.Worker.BackoffInitial),
		BackoffMax:     config.GetDuration(cfg.Worker.BackoffMax),
	}, log)
	reaperInterval := config.GetDuration(cfg.Queue.ReaperInterval)
	reaper := worker.NewReaper(q, reaperInterval, handler.OnDead, log)

	zapLog.Info("Apply worker configured",
		zap.String("queue", q.Name()),
		zap.Int("concurrency", cfg.Worker.Concurrency),
		zap.String("automation", cfg.Automation.Command),
	)

	runCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	// Health checks and queue gauges must keep answering while the pool drains,
	// so they run on their own context and stop after the pool returns.
	auxCtx, stopAux := context.WithCancel(context.WithoutCancel(ctx))
	defer stopAux()
	aux, auxCtx := errgroup.WithContext(auxCtx)
	aux.Go(func() error {
		return superviseHealth(func() error {
			return serveHealth(auxCtx, cfg.Server.HealthAddr, pg, rdb, zapLog)
		}, stopWorkers, zapLog)
	})
	aux.Go(func() error {
		sampleQueueDepth(auxCtx, q, reaperInterval, zapLog)
		return nil
	})

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return pool.Run(gctx) })
	g.Go(func() error { return reaper.Run(gctx) })

	if err := g.Wait(); err != nil {
		zapLog.Error("worker stopped with error", zap.Error(err))
	}
	zapLog.Info("Workers drained")

	stopAux()
	if err := aux.Wait(); err != nil {
		zapLog.Fatal("worker manager stopped without its health server", zap.Error(err))
	}
	zapLog.Info("Worker manager stopped gracefully")
}

// superviseHealth runs serve and, if it fails, logs at once and stops the
// workers so the process exits instead of running without /ready and /metrics.
func superviseHealth(serve func() error, stopWorkers context.CancelFunc, zapLog *zap.Logger) error {
	err := serve()
	if err != nil {
		zapLog.Error("Health/Metrics server failed, stopping workers", zap.Error(err))
		stopWorkers()
	}
	return err
}

func serveHealth(ctx context.Context, addr string, pg *database.PostgresClient, rdb *database.RedisClient, zapLog *zap.Logger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		checkCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		body := map[string]string{"status": "ready", "time": time.Now().Format(time.RFC3339)}
		status := http.StatusOK
		if err := pg.Ping(checkCtx); err != nil {
			status, body["status"], body["postgres"] = http.StatusServiceUnavailable, "not ready", err.Error()
		}
		if err := rdb.Ping(checkCtx); err != nil {
			status, body["status"], body["redis"] = http.StatusServiceUnavailable, "not ready", err.Error()
		}
		writeStatus(w, status, body)
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zapLog.Info("Health/Metrics server listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func sampleQueueDepth(ctx context.Context, q *queue.RedisQueue, every time.Duration, zapLog *zap.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := q.Stats(ctx)
			if err != nil {
				zapLog.Debug("queue stats unavailable", zap.Error(err))
				continue
			}
			metrics.SetQueueDepth(metrics.QueueDepth{
				Queued:     stats.Queued,
				Processing: stats.Processing,
				InFlight:   stats.InFlight,
				Dead:       stats.Dead,
			})
		}
	}
}
