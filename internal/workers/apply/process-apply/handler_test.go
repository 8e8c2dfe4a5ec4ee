// internal/workers/apply/process-apply/handler_test.go
package processapply

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	apperrors "apply-workers/internal/common/errors"
	"apply-workers/internal/common/logger"
	"apply-workers/internal/common/queue"
	"apply-workers/internal/models"
	recordapplication "apply-workers/internal/workers/apply/record-application"
	runautomation "apply-workers/internal/workers/apply/run-automation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Fakes
// ==========================

type fakeQueue struct {
	mu       sync.Mutex
	acked    []string
	dead     map[string]string
	ackErr   error
	deadErr  error
	ackCtxOK bool
}

func (q *fakeQueue) Ack(ctx context.Context, d *queue.Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ackCtxOK = ctx.Err() == nil
	if q.ackErr != nil {
		return q.ackErr
	}
	q.acked = append(q.acked, d.Payload)
	return nil
}

func (q *fakeQueue) DeadLetter(ctx context.Context, d *queue.Delivery, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deadErr != nil {
		return q.deadErr
	}
	if q.dead == nil {
		q.dead = map[string]string{}
	}
	q.dead[d.Payload] = reason
	return nil
}

type fakeResolver struct{}

func (fakeResolver) Resolve(ctx context.Context, task *models.ApplyTask) models.ApplyContext {
	return models.ApplyContext{TargetURL: "https://jobs.example.com/" + task.JobID}
}

type fakeRunner struct {
	outcome models.AutomationOutcome
	calls   int
	input   *runautomation.Input
	// waitCancel makes the run block until ctx is cancelled.
	waitCancel bool
}

func (r *fakeRunner) Run(ctx context.Context, in *runautomation.Input) *runautomation.Output {
	r.calls++
	r.input = in
	if r.waitCancel {
		<-ctx.Done()
		return &runautomation.Output{Outcome: models.Failed("cancelled"), Execution: models.Execution{ExitCode: -1, Attempt: in.Attempt}}
	}
	return &runautomation.Output{Outcome: r.outcome, Execution: models.Execution{Attempt: in.Attempt, DurationMs: 42}}
}

type fakeRecorder struct {
	exists    bool
	existsErr error
	recordErr error
	recorded  []*recordapplication.Input
	ctxLive   bool
}

func (r *fakeRecorder) Exists(ctx context.Context, taskID string) (bool, error) {
	return r.exists, r.existsErr
}

func (r *fakeRecorder) Record(ctx context.Context, in *recordapplication.Input) (*models.ApplicationRecord, error) {
	r.ctxLive = ctx.Err() == nil
	if r.recordErr != nil {
		return nil, r.recordErr
	}
	r.recorded = append(r.recorded, in)
	return &models.ApplicationRecord{ID: "rec-1", TaskID: in.Task.TaskID, Status: in.Outcome.Status}, nil
}

type fakeAlerter struct {
	alerts []*models.LostTaskAlert
	err    error
}

func (a *fakeAlerter) Alert(ctx context.Context, alert *models.LostTaskAlert) error {
	a.alerts = append(a.alerts, alert)
	return a.err
}

type fixture struct {
	queue    *fakeQueue
	runner   *fakeRunner
	recorder *fakeRecorder
	alerter  *fakeAlerter
	handler  *Handler
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		queue:    &fakeQueue{},
		runner:   &fakeRunner{outcome: models.AutomationOutcome{Status: "success", Screenshot: "s3://x"}},
		recorder: &fakeRecorder{},
		alerter:  &fakeAlerter{},
	}
	f.handler = NewHandler(f.queue, fakeResolver{}, f.runner, f.recorder, f.alerter, nil, logger.NewTestLogger(t))
	return f
}

func testDelivery() *queue.Delivery {
	return &queue.Delivery{
		Task:    &models.ApplyTask{TaskID: "task-1", JobID: "J1", ResumeID: "R1", AutoApprove: true},
		Payload: `{"task_id":"task-1","job_id":"J1","resume_id":"R1","auto_approve":true}`,
		Attempt: 1,
	}
}

// ==========================
// Tests
// ==========================

func TestHandle_Success(t *testing.T) {
	f := newFixture(t)
	d := testDelivery()

	require.NoError(t, f.handler.Handle(context.Background(), d))

	require.Len(t, f.recorder.recorded, 1)
	rec := f.recorder.recorded[0]
	assert.Equal(t, "task-1", rec.Task.TaskID)
	assert.Equal(t, models.AutomationOutcome{Status: "success", Screenshot: "s3://x"}, rec.Outcome)
	assert.Equal(t, 1, rec.Execution.Attempt)
	assert.Equal(t, "https://jobs.example.com/J1", f.runner.input.Context.TargetURL)
	assert.Equal(t, []string{d.Payload}, f.queue.acked)
	assert.Empty(t, f.alerter.alerts)
}

func TestHandle_UndecodablePayloadIsDeadLettered(t *testing.T) {
	f := newFixture(t)
	d := &queue.Delivery{Payload: "garbage", Attempt: 1, DecodeErr: errors.New("decode apply task: invalid character")}

	require.NoError(t, f.handler.Handle(context.Background(), d))

	assert.Equal(t, map[string]string{"garbage": queue.ReasonUndecodable}, f.queue.dead)
	assert.Zero(t, f.runner.calls)
	require.Len(t, f.alerter.alerts, 1)
	assert.Equal(t, ReasonUndecodable, f.alerter.alerts[0].Reason)
	assert.NotEmpty(t, f.alerter.alerts[0].CreatedAt)
}

func TestHandle_DeadLetterFailureIsReturned(t *testing.T) {
	f := newFixture(t)
	f.queue.deadErr = apperrors.NewQueueUnavailableError("dead-letter", errors.New("EOF"))
	d := &queue.Delivery{Payload: "garbage", DecodeErr: errors.New("bad")}

	err := f.handler.Handle(context.Background(), d)
	assert.True(t, apperrors.IsRetryable(err))
	assert.Empty(t, f.alerter.alerts)
}

func TestHandle_AlreadyRecordedIsAckedWithoutRunning(t *testing.T) {
	f := newFixture(t)
	f.recorder.exists = true
	d := testDelivery()
	d.Attempt = 2

	require.NoError(t, f.handler.Handle(context.Background(), d))
	assert.Zero(t, f.runner.calls)
	assert.Empty(t, f.recorder.recorded)
	assert.Equal(t, []string{d.Payload}, f.queue.acked)
}

func TestHandle_DuplicateCheckFailureLeavesTaskInFlight(t *testing.T) {
	f := newFixture(t)
	f.recorder.existsErr = apperrors.NewDatabaseConnectionFailedError(errors.New("db down"))

	err := f.handler.Handle(context.Background(), testDelivery())
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))
	assert.Zero(t, f.runner.calls)
	assert.Empty(t, f.queue.acked)
}

func TestHandle_PersistenceFailureAlertsAndDoesNotAck(t *testing.T) {
	f := newFixture(t)
	f.recorder.recordErr = apperrors.NewDatabaseInsertFailedError(errors.New("connection reset"))

	err := f.handler.Handle(context.Background(), testDelivery())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeDatabaseInsertFailed, apperrors.CodeOf(err))
	assert.Empty(t, f.queue.acked)

	require.Len(t, f.alerter.alerts, 1)
	alert := f.alerter.alerts[0]
	assert.Equal(t, ReasonPersistenceFailed, alert.Reason)
	assert.Equal(t, "task-1", alert.TaskID)
	assert.Equal(t, "success", alert.Status)
}

func TestHandle_AlertFailureDoesNotMaskPersistenceError(t *testing.T) {
	f := newFixture(t)
	f.recorder.recordErr = apperrors.NewDatabaseInsertFailedError(errors.New("connection reset"))
	f.alerter.err = errors.New("sns throttled")

	err := f.handler.Handle(context.Background(), testDelivery())
	assert.Equal(t, apperrors.ErrCodeDatabaseInsertFailed, apperrors.CodeOf(err))
}

func TestHandle_DuplicateOnRecordIsAcked(t *testing.T) {
	f := newFixture(t)
	f.recorder.recordErr = fmt.Errorf("%w: task-1", recordapplication.ErrDuplicateApplication)

	require.NoError(t, f.handler.Handle(context.Background(), testDelivery()))
	assert.Len(t, f.queue.acked, 1)
	assert.Empty(t, f.alerter.alerts)
}

func TestHandle_CancelledRunIsStillRecorded(t *testing.T) {
	f := newFixture(t)
	f.runner.waitCancel = true
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, f.handler.Handle(ctx, testDelivery()))
	require.Len(t, f.recorder.recorded, 1)
	assert.Equal(t, models.Failed("cancelled"), f.recorder.recorded[0].Outcome)
	assert.True(t, f.recorder.ctxLive)
	assert.True(t, f.queue.ackCtxOK)
	assert.Len(t, f.queue.acked, 1)
}

func TestHandle_AckNotInFlightIsTolerated(t *testing.T) {
	f := newFixture(t)
	f.queue.ackErr = queue.ErrNotInFlight

	assert.NoError(t, f.handler.Handle(context.Background(), testDelivery()))
}

func TestHandle_AckFailureIsRetryable(t *testing.T) {
	f := newFixture(t)
	f.queue.ackErr = errors.New("EOF")

	err := f.handler.Handle(context.Background(), testDelivery())
	assert.Equal(t, apperrors.ErrCodeAckFailed, apperrors.CodeOf(err))
	assert.True(t, apperrors.IsRetryable(err))
}

func TestOnDead_Alerts(t *testing.T) {
	f := newFixture(t)
	d := testDelivery()
	d.Attempt = 3

	f.handler.OnDead(context.Background(), d)
	require.Len(t, f.alerter.alerts, 1)
	assert.Equal(t, ReasonDeadLettered, f.alerter.alerts[0].Reason)
	assert.Equal(t, "task-1", f.alerter.alerts[0].TaskID)
	assert.Equal(t, 3, f.alerter.alerts[0].Attempt)
}
