// internal/workers/apply/run-automation/invoker.go
package runautomation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"time"

	apperrors "apply-workers/internal/common/errors"
	"apply-workers/internal/common/logger"
	"apply-workers/internal/models"
)

const (
	TaskType = "run-automation"

	detailTimeout   = "timeout"
	detailCancelled = "cancelled"
)

// Invoker runs the external automation process once per task.
type Invoker struct {
	config *Config
	logger logger.Logger
}

func NewInvoker(config *Config, log logger.Logger) *Invoker {
	return &Invoker{
		config: config,
		logger: log.WithFields(map[string]interface{}{"taskType": TaskType}),
	}
}

// Run executes the automation and always returns an outcome. Timeouts,
// cancellation and start failures become failed outcomes.
func (i *Invoker) Run(ctx context.Context, in *Input) *Output {
	log := i.logger.WithFields(map[string]interface{}{
		"taskId":  in.Task.TaskID,
		"jobId":   in.Task.JobID,
		"attempt": in.Attempt,
	})

	runCtx, cancel := context.WithTimeout(ctx, i.config.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, i.config.Command, i.config.Args...)
	cmd.Dir = i.config.WorkDir
	cmd.Env = i.buildEnv(in)
	cmd.WaitDelay = i.config.KillDelay
	startInOwnGroup(cmd)

	stdout := newCappedBuffer(i.config.MaxOutputBytes)
	stderr := newCappedBuffer(i.config.MaxOutputBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	out := &Output{Execution: models.Execution{ExitCode: -1, Attempt: in.Attempt}}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		startErr := apperrors.NewAutomationStartFailedError(i.config.Command, err)
		log.Error("automation did not start", map[string]interface{}{
			"error":     startErr.Error(),
			"errorCode": startErr.Code,
		})
		out.Outcome = models.Failed(fmt.Sprintf("start automation: %v", err))
		return out
	}

	waitErr := cmd.Wait()
	out.Execution.DurationMs = time.Since(start).Milliseconds()
	if cmd.ProcessState != nil {
		out.Execution.ExitCode = cmd.ProcessState.ExitCode()
	}
	out.Stdout = stdout.String()
	out.Stderr = stderr.String()

	if waitErr != nil && runCtx.Err() != nil {
		if ctx.Err() != nil {
			log.Warn("automation cancelled", map[string]interface{}{
				"durationMs": out.Execution.DurationMs,
			})
			out.Outcome = models.Failed(detailCancelled)
			return out
		}
		timeoutErr := apperrors.NewAutomationTimeoutError(i.config.Timeout)
		log.Warn("automation timed out", map[string]interface{}{
			"errorCode":  timeoutErr.Code,
			"timeout":    i.config.Timeout.String(),
			"durationMs": out.Execution.DurationMs,
		})
		out.Outcome = models.Failed(detailTimeout)
		return out
	}

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		// Output is complete; only the pipe drain was cut short.
		log.Warn("automation wait returned an error", map[string]interface{}{
			"error": waitErr.Error(),
		})
	}
	if stdout.Truncated() || stderr.Truncated() {
		log.Warn("automation output truncated", map[string]interface{}{
			"limitBytes": i.config.MaxOutputBytes,
		})
	}

	out.Outcome = Classify(out.Stdout, out.Stderr)
	log.Info("automation finished", map[string]interface{}{
		"status":     out.Outcome.Status,
		"exitCode":   out.Execution.ExitCode,
		"durationMs": out.Execution.DurationMs,
	})
	return out
}

// buildEnv starts from an empty environment: only the apply variables and the
// configured pass-through host variables reach the process.
func (i *Invoker) buildEnv(in *Input) []string {
	vars := in.Environment()
	env := make([]string, 0, len(vars)+len(i.config.PassEnv))
	for _, name := range i.config.PassEnv {
		if _, reserved := vars[name]; reserved {
			continue
		}
		if v, ok := os.LookupEnv(name); ok {
			env = append(env, name+"="+v)
		}
	}
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+vars[k])
	}
	return env
}
