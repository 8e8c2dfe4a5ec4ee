// internal/common/worker/reaper.go
package worker

import (
	"context"
	"time"

	"apply-workers/internal/common/logger"
	"apply-workers/internal/common/queue"
)

// Requeuer is implemented by queue.RedisQueue.
type Requeuer interface {
	RequeueExpired(ctx context.Context, now time.Time) (*queue.RequeueResult, error)
}

// DeadFunc is called for every delivery moved to the dead list.
type DeadFunc func(ctx context.Context, d *queue.Delivery)

// Reaper periodically returns expired in-flight deliveries to the queue.
type Reaper struct {
	queue    Requeuer
	interval time.Duration
	onDead   DeadFunc
	logger   logger.Logger
	now      func() time.Time
}

func NewReaper(q Requeuer, interval time.Duration, onDead DeadFunc, log logger.Logger) *Reaper {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Reaper{
		queue:    q,
		interval: interval,
		onDead:   onDead,
		logger:   log.WithFields(map[string]interface{}{"component": "reaper"}),
		now:      time.Now,
	}
}

// Run sweeps once per interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("reaper sweep failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}

// Sweep performs a single requeue pass.
func (r *Reaper) Sweep(ctx context.Context) (*queue.RequeueResult, error) {
	res, err := r.queue.RequeueExpired(ctx, r.now())
	if err != nil {
		return nil, err
	}
	if res.Requeued > 0 || len(res.Dead) > 0 {
		r.logger.Info("expired deliveries reclaimed", map[string]interface{}{
			"requeued":     res.Requeued,
			"deadLettered": len(res.Dead),
		})
	}
	for _, d := range res.Dead {
		if r.onDead != nil {
			r.onDead(ctx, d)
		}
	}
	return res, nil
}
