// cmd/tools/queue-admin/main.go
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"apply-workers/internal/common/config"
	"apply-workers/internal/common/database"
	"apply-workers/internal/common/logger"
	"apply-workers/internal/common/queue"
	enqueueapply "apply-workers/internal/workers/apply/enqueue-apply"
)

func main() {
	statsCmd := flag.NewFlagSet("stats", flag.ExitOnError)

	enqueueCmd := flag.NewFlagSet("enqueue", flag.ExitOnError)
	jobID := enqueueCmd.String("job", "", "Job ID to apply to")
	resumeID := enqueueCmd.String("resume", "", "Resume ID to attach")
	autoApprove := enqueueCmd.Bool("auto-approve", false, "Submit without manual approval")

	requeueCmd := flag.NewFlagSet("requeue-dead", flag.ExitOnError)
	limit := requeueCmd.Int("limit", 0, "Maximum tasks to move back (0 = all)")

	reasonCmd := flag.NewFlagSet("dead", flag.ExitOnError)
	count := reasonCmd.Int64("n", 20, "Number of dead tasks to show")

	migrateCmd := flag.NewFlagSet("migrate", flag.ExitOnError)

	if len(os.Args) < 2 {
		help()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fail("load config", err)
	}
	log := logger.NewStructured("warn", "console")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch os.Args[1] {
	case "stats":
		statsCmd.Parse(os.Args[2:])
		q := openQueue(ctx, cfg)
		stats, err := q.Stats(ctx)
		if err != nil {
			fail("read stats", err)
		}
		printJSON(stats)

	case "enqueue":
		enqueueCmd.Parse(os.Args[2:])
		q := openQueue(ctx, cfg)
		out, err := enqueueapply.NewProducer(q, log).Submit(ctx, &enqueueapply.Request{
			JobID:       *jobID,
			ResumeID:    *resumeID,
			AutoApprove: *autoApprove,
		})
		if err != nil {
			enqueueCmd.Usage()
			fail("enqueue", err)
		}
		printJSON(out)

	case "requeue-dead":
		requeueCmd.Parse(os.Args[2:])
		q := openQueue(ctx, cfg)
		moved, err := q.RequeueDead(ctx, *limit)
		if err != nil {
			fail("requeue dead tasks", err)
		}
		fmt.Printf("Moved %d task(s) back to %s\n", moved, q.Name())

	case "dead":
		reasonCmd.Parse(os.Args[2:])
		q := openQueue(ctx, cfg)
		dead, err := q.PeekDead(ctx, *count)
		if err != nil {
			fail("list dead tasks", err)
		}
		for _, d := range dead {
			reason, err := q.DeadReason(ctx, d)
			if err != nil {
				fail("read dead reason", err)
			}
			fmt.Printf("%s\t%s\t%s\n", taskID(d), reason, d.Payload)
		}

	case "migrate":
		migrateCmd.Parse(os.Args[2:])
		pg, err := database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			fail("connect postgres", err)
		}
		defer pg.Close()
		if err := database.Migrate(ctx, pg.DB); err != nil {
			fail("migrate", err)
		}
		version, err := database.MigrationVersion(ctx, pg.DB)
		if err != nil {
			fail("read schema version", err)
		}
		fmt.Printf("Schema at version %d\n", version)

	default:
		help()
		os.Exit(1)
	}
}

func openQueue(ctx context.Context, cfg *config.Config) *queue.RedisQueue {
	rdb, err := database.NewRedis(cfg.Database.Redis)
	if err != nil {
		fail("connect redis", err)
	}
	if err := rdb.Ping(ctx); err != nil {
		fail("ping redis", err)
	}
	return queue.New(rdb.Client, queue.Options{
		Name:              cfg.Queue.Name,
		VisibilityTimeout: config.GetDuration(cfg.Queue.VisibilityTimeout),
		MaxDeliveries:     cfg.Queue.MaxDeliveries,
		ReaperBatch:       cfg.Queue.ReaperBatch,
	})
}

func taskID(d *queue.Delivery) string {
	if d.Task == nil {
		return "-"
	}
	return d.Task.TaskID
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fail("encode output", err)
	}
}

func fail(what string, err error) {
	fmt.Fprintf(os.Stderr, "Error: %s: %v\n", what, err)
	os.Exit(1)
}

func help() {
	fmt.Println("Usage: queue-admin <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  stats          Show queue, processing, in-flight and dead counts")
	fmt.Println("  enqueue        Submit an apply task (-job, -resume, -auto-approve)")
	fmt.Println("  dead           List dead tasks with their reasons (-n)")
	fmt.Println("  requeue-dead   Move dead tasks back to the queue (-limit)")
	fmt.Println("  migrate        Apply database migrations")
}
