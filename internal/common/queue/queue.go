// internal/common/queue/queue.go
package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	apperrors "apply-workers/internal/common/errors"
	"apply-workers/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const DefaultName = "job_apply_queue"

// Dead-letter reasons recorded alongside dead payloads.
const (
	ReasonMaxDeliveries = "max_deliveries_exceeded"
	ReasonUndecodable   = "undecodable"
)

var (
	// ErrNoTask is returned by Dequeue when the timeout elapsed on an empty queue.
	ErrNoTask = errors.New("no task available")
	// ErrNotInFlight is returned by Ack when the payload was no longer held.
	ErrNotInFlight = errors.New("task not in flight")
)

// Options configures a RedisQueue.
type Options struct {
	Name              string
	VisibilityTimeout time.Duration
	MaxDeliveries     int
	ReaperBatch       int
}

// Delivery is one dequeued payload. Task is nil when the payload could not be
// decoded; DecodeErr then says why.
//
// Entry is the list member that carries the delivery through processing,
// in-flight, attempts and dead bookkeeping: "<token>|<payload>". The token is
// minted on first dequeue and kept across redeliveries, so identical payloads
// enqueued twice are tracked as two tasks.
type Delivery struct {
	Task      *models.ApplyTask
	Entry     string
	Payload   string
	Attempt   int
	Deadline  time.Time
	DecodeErr error
}

// Stats is a snapshot of the queue's lists.
type Stats struct {
	Queued     int64 `json:"queued"`
	Processing int64 `json:"processing"`
	InFlight   int64 `json:"inFlight"`
	Dead       int64 `json:"dead"`
}

// RequeueResult reports one reaper pass.
type RequeueResult struct {
	Requeued int
	Dead     []*Delivery
}

type keys struct {
	queue      string
	processing string
	inflight   string
	attempts   string
	dead       string
	reasons    string
}

// RedisQueue is a FIFO list of apply tasks with at-least-once delivery. A
// dequeued payload sits in a processing list with a deadline until it is
// acknowledged; expired payloads are pushed back by RequeueExpired.
type RedisQueue struct {
	client redis.Cmdable
	opts   Options
	keys   keys
	now    func() time.Time
}

// New creates a queue over client. Zero options fall back to job_apply_queue,
// a five minute visibility timeout, three deliveries and batches of 100.
func New(client redis.Cmdable, opts Options) *RedisQueue {
	if opts.Name == "" {
		opts.Name = DefaultName
	}
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = 5 * time.Minute
	}
	if opts.MaxDeliveries <= 0 {
		opts.MaxDeliveries = 3
	}
	if opts.ReaperBatch <= 0 {
		opts.ReaperBatch = 100
	}
	return &RedisQueue{
		client: client,
		opts:   opts,
		keys: keys{
			queue:      opts.Name,
			processing: opts.Name + ":processing",
			inflight:   opts.Name + ":inflight",
			attempts:   opts.Name + ":attempts",
			dead:       opts.Name + ":dead",
			reasons:    opts.Name + ":dead_reasons",
		},
		now: time.Now,
	}
}

// Name returns the main list key.
func (q *RedisQueue) Name() string {
	return q.keys.queue
}

// Enqueue appends task to the tail of the list.
func (q *RedisQueue) Enqueue(ctx context.Context, task *models.ApplyTask) error {
	payload, err := task.Encode()
	if err != nil {
		return err
	}
	if err := q.client.RPush(ctx, q.keys.queue, payload).Err(); err != nil {
		return apperrors.NewQueueUnavailableError("RPUSH", err)
	}
	return nil
}

// Dequeue blocks up to timeout (0 waits forever) for the head item and moves
// it into the processing list. Only one caller can receive a given item.
func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Delivery, error) {
	raw, err := q.client.BLMove(ctx, q.keys.queue, q.keys.processing, "LEFT", "RIGHT", timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoTask
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, apperrors.NewQueueUnavailableError("BLMOVE", err)
	}

	token, payload, ok := splitEntry(raw)
	if !ok {
		token = uuid.NewString()
	}
	entry := token + entrySep + payload

	// The item is already ours; finish the bookkeeping even if ctx was just cancelled.
	bookCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	deadline := q.now().Add(q.opts.VisibilityTimeout)
	attempt, err := claimScript.Run(bookCtx, q.client,
		[]string{q.keys.processing, q.keys.inflight, q.keys.attempts},
		raw, entry, strconv.FormatInt(deadline.UnixMilli(), 10),
	).Int()
	if err != nil {
		// Left in the processing list; the reaper adopts and expires it.
		return nil, apperrors.NewQueueUnavailableError("claim", err)
	}
	if attempt == 0 {
		return nil, ErrNoTask
	}

	d := decoded(entry, attempt)
	d.Deadline = deadline
	return d, nil
}

// Ack removes a processed delivery from in-flight bookkeeping. If the reaper
// had already pushed it back, the requeued copy is withdrawn instead.
func (q *RedisQueue) Ack(ctx context.Context, d *Delivery) error {
	removed, err := ackScript.Run(ctx, q.client,
		[]string{q.keys.processing, q.keys.inflight, q.keys.attempts, q.keys.queue},
		d.member(),
	).Int64()
	if err != nil {
		return apperrors.NewQueueUnavailableError("ack", err)
	}
	if removed == 0 {
		return ErrNotInFlight
	}
	return nil
}

// DeadLetter moves a delivery straight to the dead list, remembering reason.
func (q *RedisQueue) DeadLetter(ctx context.Context, d *Delivery, reason string) error {
	err := deadLetterScript.Run(ctx, q.client,
		[]string{q.keys.processing, q.keys.inflight, q.keys.attempts, q.keys.dead, q.keys.reasons},
		d.member(), reason,
	).Err()
	if err != nil {
		return apperrors.NewQueueUnavailableError("dead-letter", err)
	}
	return nil
}

// RequeueExpired pushes every delivery whose deadline passed before now back
// onto the queue, or onto the dead list once MaxDeliveries is reached.
func (q *RedisQueue) RequeueExpired(ctx context.Context, now time.Time) (*RequeueResult, error) {
	res, err := requeueScript.Run(ctx, q.client,
		[]string{q.keys.queue, q.keys.processing, q.keys.inflight, q.keys.attempts, q.keys.dead, q.keys.reasons},
		strconv.FormatInt(now.UnixMilli(), 10),
		q.opts.MaxDeliveries,
		q.opts.ReaperBatch,
		strconv.FormatInt(now.Add(q.opts.VisibilityTimeout).UnixMilli(), 10),
		ReasonMaxDeliveries,
	).Slice()
	if err != nil {
		return nil, apperrors.NewQueueUnavailableError("requeue", err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("requeue: unexpected reply %v", res)
	}

	requeued, _ := res[0].(int64)
	out := &RequeueResult{Requeued: int(requeued)}
	deadPayloads, _ := res[1].([]interface{})
	for _, raw := range deadPayloads {
		entry, ok := raw.(string)
		if !ok {
			continue
		}
		out.Dead = append(out.Dead, decoded(entry, q.opts.MaxDeliveries))
	}
	return out, nil
}

// RequeueDead moves up to limit dead payloads (0 means all) back to the tail
// of the queue.
func (q *RedisQueue) RequeueDead(ctx context.Context, limit int) (int, error) {
	if limit < 0 {
		limit = 0
	}
	moved, err := requeueDeadScript.Run(ctx, q.client,
		[]string{q.keys.dead, q.keys.queue, q.keys.reasons},
		limit,
	).Int()
	if err != nil {
		return 0, apperrors.NewQueueUnavailableError("requeue dead", err)
	}
	return moved, nil
}

// PeekDead returns up to n dead deliveries, oldest first, without moving them.
func (q *RedisQueue) PeekDead(ctx context.Context, n int64) ([]*Delivery, error) {
	if n <= 0 {
		return nil, nil
	}
	entries, err := q.client.LRange(ctx, q.keys.dead, 0, n-1).Result()
	if err != nil {
		return nil, apperrors.NewQueueUnavailableError("LRANGE", err)
	}
	out := make([]*Delivery, 0, len(entries))
	for _, entry := range entries {
		out = append(out, decoded(entry, 0))
	}
	return out, nil
}

// DeadReason returns why d was dead-lettered, or "" if unknown.
func (q *RedisQueue) DeadReason(ctx context.Context, d *Delivery) (string, error) {
	reason, err := q.client.HGet(ctx, q.keys.reasons, d.member()).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", apperrors.NewQueueUnavailableError("HGET", err)
	}
	return reason, nil
}

// Stats returns the current list sizes.
func (q *RedisQueue) Stats(ctx context.Context) (*Stats, error) {
	var s Stats
	var err error
	if s.Queued, err = q.client.LLen(ctx, q.keys.queue).Result(); err != nil {
		return nil, apperrors.NewQueueUnavailableError("LLEN", err)
	}
	if s.Processing, err = q.client.LLen(ctx, q.keys.processing).Result(); err != nil {
		return nil, apperrors.NewQueueUnavailableError("LLEN", err)
	}
	if s.InFlight, err = q.client.ZCard(ctx, q.keys.inflight).Result(); err != nil {
		return nil, apperrors.NewQueueUnavailableError("ZCARD", err)
	}
	if s.Dead, err = q.client.LLen(ctx, q.keys.dead).Result(); err != nil {
		return nil, apperrors.NewQueueUnavailableError("LLEN", err)
	}
	return &s, nil
}

const entrySep = "|"

// splitEntry separates a tokened entry. Items pushed by producers carry no
// token and come back whole with ok false.
func splitEntry(entry string) (token, payload string, ok bool) {
	const n = 36 // canonical UUID length
	if len(entry) > n && entry[n:n+1] == entrySep {
		if _, err := uuid.Parse(entry[:n]); err == nil {
			return entry[:n], entry[n+1:], true
		}
	}
	return "", entry, false
}

// decoded builds a Delivery from a stored entry. Payloads without a task_id
// take the delivery token as their id.
func decoded(entry string, attempt int) *Delivery {
	token, payload, _ := splitEntry(entry)
	d := &Delivery{Entry: entry, Payload: payload, Attempt: attempt}
	task, err := models.DecodeApplyTask(payload)
	if err != nil {
		d.DecodeErr = err
		return d
	}
	if task.TaskID == "" {
		task.TaskID = token
	}
	d.Task = task
	return d
}

func (d *Delivery) member() string {
	if d.Entry != "" {
		return d.Entry
	}
	return d.Payload
}
