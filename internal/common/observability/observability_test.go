// internal/common/observability/observability_test.go
package observability

import (
	"context"
	"strings"
	"testing"
	"time"

	"apply-workers/internal/common/logger"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestObservability_ExportsTaskMetrics(t *testing.T) {
	reg := promclient.NewRegistry()
	o := New("apply-workers-test", reg, logger.NewTestLogger(t))
	defer o.Shutdown()

	ctx, span := o.StartSpan(context.Background(), "apply.process", attribute.String("task.id", "t1"))
	o.RecordTaskProcessed(ctx, "success")
	o.RecordTaskDuration(ctx, 1500*time.Millisecond, "success")
	span.End()

	families, err := reg.Gather()
	require.NoError(t, err)

	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	joined := strings.Join(names, ",")
	assert.Contains(t, joined, "apply_tasks_processed")
	assert.Contains(t, joined, "apply_tasks_duration")
	for _, name := range names {
		assert.NotContains(t, name, ".", "metric %q is not a plain Prometheus name", name)
	}
}

func TestObservability_NilSafe(t *testing.T) {
	var o *Observability
	ctx, span := o.StartSpan(context.Background(), "noop")
	assert.NotNil(t, span)
	o.RecordTaskProcessed(ctx, "failed")
	o.RecordTaskDuration(ctx, time.Second, "failed")
	o.Shutdown()
}
