// internal/common/queue/queue_test.go
package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	apperrors "apply-workers/internal/common/errors"
	"apply-workers/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupQueue(t *testing.T, opts Options) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, opts), mr
}

func testTask(jobID string) *models.ApplyTask {
	return &models.ApplyTask{
		TaskID:     "task-" + jobID,
		JobID:      jobID,
		ResumeID:   "R1",
		EnqueuedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestNew_Defaults(t *testing.T) {
	q := New(nil, Options{})
	assert.Equal(t, "job_apply_queue", q.Name())
	assert.Equal(t, "job_apply_queue:processing", q.keys.processing)
	assert.Equal(t, 5*time.Minute, q.opts.VisibilityTimeout)
	assert.Equal(t, 3, q.opts.MaxDeliveries)
	assert.Equal(t, 100, q.opts.ReaperBatch)
}

func TestEnqueueDequeue_FIFO(t *testing.T) {
	q, mr := setupQueue(t, Options{})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testTask("J1")))
	require.NoError(t, q.Enqueue(ctx, testTask("J2")))

	first, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, first.Task)
	assert.Equal(t, "J1", first.Task.JobID)
	assert.Equal(t, "task-J1", first.Task.TaskID)
	assert.Equal(t, 1, first.Attempt)

	second, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "J2", second.Task.JobID)

	processing, err := mr.List("job_apply_queue:processing")
	require.NoError(t, err)
	assert.Len(t, processing, 2)
	assert.False(t, mr.Exists("job_apply_queue"))
}

func TestDequeue_EmptyQueueTimesOut(t *testing.T) {
	q, _ := setupQueue(t, Options{})

	d, err := q.Dequeue(context.Background(), time.Second)
	assert.Nil(t, d)
	assert.ErrorIs(t, err, ErrNoTask)
}

func TestDequeue_OnlyOneConsumerGetsATask(t *testing.T) {
	q, _ := setupQueue(t, Options{})
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, testTask("J1")))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		delivered []*Delivery
		empty     int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := q.Dequeue(ctx, time.Second)
			mu.Lock()
			defer mu.Unlock()
			if errors.Is(err, ErrNoTask) {
				empty++
				return
			}
			if assert.NoError(t, err) {
				delivered = append(delivered, d)
			}
		}()
	}
	wg.Wait()

	require.Len(t, delivered, 1)
	assert.Equal(t, 1, empty)
	assert.Equal(t, "J1", delivered[0].Task.JobID)
}

func TestDequeue_UndecodablePayload(t *testing.T) {
	q, mr := setupQueue(t, Options{})
	_, err := mr.Push("job_apply_queue", "not-json")
	require.NoError(t, err)

	d, err := q.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Nil(t, d.Task)
	assert.Error(t, d.DecodeErr)
	assert.Equal(t, "not-json", d.Payload)
}

func TestDequeue_LegacyPayloadKeepsTaskIDAcrossRedelivery(t *testing.T) {
	q, mr := setupQueue(t, Options{VisibilityTimeout: time.Minute})
	ctx := context.Background()
	payload := `{"job_id":"J1","resume_id":"R1","auto_approve":true}`
	_, err := mr.Push("job_apply_queue", payload)
	require.NoError(t, err)

	d, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, d.Task)
	assert.NotEmpty(t, d.Task.TaskID)
	assert.True(t, d.Task.AutoApprove)
	assert.Equal(t, payload, d.Payload)
	assert.Equal(t, d.Task.TaskID+"|"+payload, d.Entry)

	_, err = q.RequeueExpired(ctx, d.Deadline.Add(time.Millisecond))
	require.NoError(t, err)

	again, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, d.Task.TaskID, again.Task.TaskID)
	assert.Equal(t, d.Entry, again.Entry)
	assert.Equal(t, 2, again.Attempt)
}

func TestDequeue_IdenticalLegacyPayloadsAreSeparateTasks(t *testing.T) {
	q, mr := setupQueue(t, Options{})
	ctx := context.Background()
	payload := `{"job_id":"J1","resume_id":"R1","auto_approve":false}`
	for i := 0; i < 2; i++ {
		_, err := mr.Push("job_apply_queue", payload)
		require.NoError(t, err)
	}

	d1, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	d2, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)

	assert.NotEqual(t, d1.Task.TaskID, d2.Task.TaskID)
	assert.Equal(t, 1, d1.Attempt)
	assert.Equal(t, 1, d2.Attempt)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Processing)
	assert.Equal(t, int64(2), stats.InFlight)

	require.NoError(t, q.Ack(ctx, d1))

	stats, err = q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Processing)
	assert.Equal(t, int64(1), stats.InFlight)
	score, err := mr.ZScore("job_apply_queue:inflight", d2.Entry)
	require.NoError(t, err)
	assert.Equal(t, float64(d2.Deadline.UnixMilli()), score)

	require.NoError(t, q.Ack(ctx, d2))
	stats, err = q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, *stats)
}

func TestAck_ClearsBookkeeping(t *testing.T) {
	q, mr := setupQueue(t, Options{})
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, testTask("J1")))

	d, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NoError(t, q.Ack(ctx, d))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, *stats)
	assert.False(t, mr.Exists("job_apply_queue:attempts"))

	assert.ErrorIs(t, q.Ack(ctx, d), ErrNotInFlight)
}

func TestAck_WithdrawsRequeuedCopy(t *testing.T) {
	q, _ := setupQueue(t, Options{VisibilityTimeout: time.Minute})
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, testTask("J1")))

	d, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)

	res, err := q.RequeueExpired(ctx, time.Now().Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Requeued)

	require.NoError(t, q.Ack(ctx, d))
	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Queued)
}

func TestRequeueExpired_RedeliversAfterVisibilityTimeout(t *testing.T) {
	q, _ := setupQueue(t, Options{VisibilityTimeout: time.Minute, MaxDeliveries: 3})
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, testTask("J1")))

	d, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)

	res, err := q.RequeueExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Zero(t, res.Requeued, "deadline not reached yet")

	res, err = q.RequeueExpired(ctx, d.Deadline.Add(time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Requeued)
	assert.Empty(t, res.Dead)

	again, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, d.Payload, again.Payload)
	assert.Equal(t, d.Entry, again.Entry)
	assert.Equal(t, 2, again.Attempt)
}

func TestRequeueExpired_DeadLettersAfterMaxDeliveries(t *testing.T) {
	q, mr := setupQueue(t, Options{VisibilityTimeout: time.Minute, MaxDeliveries: 2})
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, testTask("J1")))

	for attempt := 1; attempt <= 2; attempt++ {
		d, err := q.Dequeue(ctx, time.Second)
		require.NoError(t, err)
		assert.Equal(t, attempt, d.Attempt)
		_, err = q.RequeueExpired(ctx, d.Deadline.Add(time.Second))
		require.NoError(t, err)
	}

	dead, err := mr.List("job_apply_queue:dead")
	require.NoError(t, err)
	assert.Len(t, dead, 1)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Queued)
	assert.Equal(t, int64(0), stats.Processing)
	assert.Equal(t, int64(1), stats.Dead)
}

func TestRequeueExpired_ReturnsDeadDeliveries(t *testing.T) {
	q, _ := setupQueue(t, Options{VisibilityTimeout: time.Minute, MaxDeliveries: 1})
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, testTask("J7")))

	d, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)

	res, err := q.RequeueExpired(ctx, d.Deadline.Add(time.Second))
	require.NoError(t, err)
	require.Len(t, res.Dead, 1)
	assert.Equal(t, "J7", res.Dead[0].Task.JobID)
	assert.Equal(t, 1, res.Dead[0].Attempt)

	reason, err := q.DeadReason(ctx, res.Dead[0])
	require.NoError(t, err)
	assert.Equal(t, ReasonMaxDeliveries, reason)
}

func TestRequeueExpired_AdoptsOrphans(t *testing.T) {
	q, mr := setupQueue(t, Options{VisibilityTimeout: time.Minute})
	ctx := context.Background()
	task := testTask("J1")
	payload, err := task.Encode()
	require.NoError(t, err)
	// A worker that died right after BLMOVE leaves no deadline behind.
	_, err = mr.Push("job_apply_queue:processing", payload)
	require.NoError(t, err)

	now := time.Now()
	res, err := q.RequeueExpired(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, res.Requeued)

	score, err := mr.ZScore("job_apply_queue:inflight", payload)
	require.NoError(t, err)
	assert.Equal(t, float64(now.Add(time.Minute).UnixMilli()), score)

	res, err = q.RequeueExpired(ctx, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Requeued)
}

func TestDeadLetter(t *testing.T) {
	q, mr := setupQueue(t, Options{})
	ctx := context.Background()
	_, err := mr.Push("job_apply_queue", "garbage")
	require.NoError(t, err)

	d, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NoError(t, q.DeadLetter(ctx, d, ReasonUndecodable))

	assert.Equal(t, "garbage", d.Payload)
	dead, err := mr.List("job_apply_queue:dead")
	require.NoError(t, err)
	assert.Equal(t, []string{d.Entry}, dead)
	assert.False(t, mr.Exists("job_apply_queue:processing"))

	peeked, err := q.PeekDead(ctx, 1)
	require.NoError(t, err)
	require.Len(t, peeked, 1)
	assert.Equal(t, "garbage", peeked[0].Payload)

	reason, err := q.DeadReason(ctx, peeked[0])
	require.NoError(t, err)
	assert.Equal(t, ReasonUndecodable, reason)
}

func TestRequeueDead(t *testing.T) {
	q, mr := setupQueue(t, Options{})
	ctx := context.Background()
	for _, p := range []string{"a", "b", "c"} {
		_, err := mr.Push("job_apply_queue:dead", p)
		require.NoError(t, err)
	}

	moved, err := q.RequeueDead(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, moved)

	moved, err = q.RequeueDead(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	queued, err := mr.List("job_apply_queue")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, queued)
	assert.False(t, mr.Exists("job_apply_queue:dead"))
}

func TestPeekDead(t *testing.T) {
	q, mr := setupQueue(t, Options{})
	ctx := context.Background()
	payload, err := testTask("J1").Encode()
	require.NoError(t, err)
	for _, p := range []string{payload, "not-json", "extra"} {
		_, err := mr.Push("job_apply_queue:dead", p)
		require.NoError(t, err)
	}

	dead, err := q.PeekDead(ctx, 2)
	require.NoError(t, err)
	require.Len(t, dead, 2)
	require.NotNil(t, dead[0].Task)
	assert.Equal(t, "task-J1", dead[0].Task.TaskID)
	assert.Nil(t, dead[1].Task)
	assert.Error(t, dead[1].DecodeErr)

	remaining, err := mr.List("job_apply_queue:dead")
	require.NoError(t, err)
	assert.Len(t, remaining, 3)

	none, err := q.PeekDead(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestEnqueue_StoreUnavailable(t *testing.T) {
	q, mr := setupQueue(t, Options{})
	mr.Close()

	err := q.Enqueue(context.Background(), testTask("J1"))
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeQueueUnavailable, apperrors.CodeOf(err))
	assert.True(t, apperrors.IsRetryable(err))
}

func TestStats_WithMock(t *testing.T) {
	client, mock := redismock.NewClientMock()
	q := New(client, Options{Name: "apply"})

	mock.ExpectLLen("apply").SetVal(4)
	mock.ExpectLLen("apply:processing").SetVal(1)
	mock.ExpectZCard("apply:inflight").SetVal(1)
	mock.ExpectLLen("apply:dead").SetVal(2)

	stats, err := q.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Queued: 4, Processing: 1, InFlight: 1, Dead: 2}, *stats)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStats_Error(t *testing.T) {
	client, mock := redismock.NewClientMock()
	q := New(client, Options{})

	mock.ExpectLLen("job_apply_queue").SetErr(errors.New("connection refused"))

	_, err := q.Stats(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeQueueUnavailable, apperrors.CodeOf(err))
}
