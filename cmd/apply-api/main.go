// cmd/apply-api/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"apply-workers/internal/api"
	"apply-workers/internal/common/config"
	"apply-workers/internal/common/database"
	"apply-workers/internal/common/logger"
	"apply-workers/internal/common/queue"

	enqueueapply "apply-workers/internal/workers/apply/enqueue-apply"
	recordapplication "apply-workers/internal/workers/apply/record-application"
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
	}
	log := logger.NewZapAdapter(zapLog).WithFields(map[string]interface{}{
		"service": "apply-api",
		"env":     cfg.App.Environment,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	q := queue.New(rdb.Client, queue.Options{
		Name:              cfg.Queue.Name,
		VisibilityTimeout: config.GetDuration(cfg.Queue.VisibilityTimeout),
		MaxDeliveries:     cfg.Queue.MaxDeliveries,
		ReaperBatch:       cfg.Queue.ReaperBatch,
	})
	records := recordapplication.NewWriter(
		recordapplication.LoadConfig(config.GetDuration(cfg.Worker.RecordTimeout)), pg.DB, log)

	handler := api.NewApplyHandler(enqueueapply.NewProducer(q, log), records, log)
	router := api.NewRouter(handler, map[string]api.HealthCheck{
		"redis":    rdb.Ping,
		"postgres": pg.Ping,
	})

	srv := &http.Server{
		Addr:              cfg.Server.APIAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zapLog.Info("Apply API listening", zap.String("addr", srv.Addr), zap.String("queue", q.Name()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		zapLog.Error("apply api stopped with error", zap.Error(err))
		return
	}
	zapLog.Info("Apply API stopped gracefully")
}
