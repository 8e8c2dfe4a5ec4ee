// internal/common/worker/pool.go
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	apperrors "apply-workers/internal/common/errors"
	"apply-workers/internal/common/logger"
	"apply-workers/internal/common/queue"
)

// Handler processes one delivery. A nil error means the delivery was
// acknowledged or deliberately left for redelivery by the handler itself.
type Handler interface {
	Handle(ctx context.Context, d *queue.Delivery) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, d *queue.Delivery) error

func (f HandlerFunc) Handle(ctx context.Context, d *queue.Delivery) error {
	return f(ctx, d)
}

// Source is the consuming side of the task queue.
type Source interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Delivery, error)
}

type PoolConfig struct {
	Concurrency    int
	PollTimeout    time.Duration
	ShutdownGrace  time.Duration
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// Pool runs Concurrency consumer loops against a Source.
type Pool struct {
	source  Source
	handler Handler
	cfg     PoolConfig
	logger  logger.Logger

	mu       sync.Mutex
	inFlight int
}

func NewPool(source Source, handler Handler, cfg PoolConfig, log logger.Logger) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Second
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 30 * time.Second
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 500 * time.Millisecond
	}
	if cfg.BackoffMax < cfg.BackoffInitial {
		cfg.BackoffMax = 30 * time.Second
	}
	return &Pool{
		source:  source,
		handler: handler,
		cfg:     cfg,
		logger:  log.WithFields(map[string]interface{}{"component": "worker-pool"}),
	}
}

// InFlight returns the number of deliveries currently being handled.
func (p *Pool) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight
}

// Run blocks until ctx is cancelled and every loop has returned. Handlers run
// on a context that outlives ctx by ShutdownGrace, then gets cancelled.
func (p *Pool) Run(ctx context.Context) error {
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	p.logger.Info("worker pool started", map[string]interface{}{
		"concurrency": p.cfg.Concurrency,
		"pollTimeout": p.cfg.PollTimeout.String(),
	})

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.loop(ctx, workCtx, id)
		}(i)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	p.logger.Info("stopping worker pool", map[string]interface{}{
		"inFlight": p.InFlight(),
		"grace":    p.cfg.ShutdownGrace.String(),
	})

	grace := time.NewTimer(p.cfg.ShutdownGrace)
	defer grace.Stop()
	select {
	case <-done:
	case <-grace.C:
		p.logger.Warn("shutdown grace elapsed, cancelling in-flight tasks", map[string]interface{}{
			"inFlight": p.InFlight(),
		})
		cancelWork()
		<-done
	}

	p.logger.Info("worker pool stopped", nil)
	return nil
}

func (p *Pool) loop(ctx, workCtx context.Context, id int) {
	log := p.logger.WithFields(map[string]interface{}{"workerId": id})
	var delay time.Duration

	for ctx.Err() == nil {
		d, err := p.source.Dequeue(ctx, p.cfg.PollTimeout)
		if errors.Is(err, queue.ErrNoTask) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			delay = p.nextBackoff(delay)
			log.Warn("dequeue failed, backing off", map[string]interface{}{
				"error":   err.Error(),
				"backoff": delay.String(),
			})
			if !sleep(ctx, delay) {
				return
			}
			continue
		}

		// A delivery received during shutdown is already ours; handle it.
		err = p.handle(workCtx, d)
		if err == nil {
			delay = 0
			continue
		}

		fields := map[string]interface{}{
			"error":   err.Error(),
			"payload": d.Payload,
			"attempt": d.Attempt,
		}
		if d.Task != nil {
			fields["taskId"] = d.Task.TaskID
		}
		if !apperrors.IsRetryable(err) {
			log.Error("handler failed", fields)
			delay = 0
			continue
		}
		delay = p.nextBackoff(delay)
		fields["backoff"] = delay.String()
		log.Warn("handler hit a transient failure, backing off", fields)
		if !sleep(ctx, delay) {
			return
		}
	}
}

func (p *Pool) handle(ctx context.Context, d *queue.Delivery) error {
	p.mu.Lock()
	p.inFlight++
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.inFlight--
		p.mu.Unlock()
	}()
	return p.handler.Handle(ctx, d)
}

func (p *Pool) nextBackoff(prev time.Duration) time.Duration {
	if prev <= 0 {
		return p.cfg.BackoffInitial
	}
	next := prev * 2
	if next > p.cfg.BackoffMax {
		return p.cfg.BackoffMax
	}
	return next
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
