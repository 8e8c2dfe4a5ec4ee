// internal/common/aws/alerter.go
package aws

import (
	"context"
	"encoding/json"
	"fmt"

	"apply-workers/internal/common/config"
	"apply-workers/internal/common/logger"
	"apply-workers/internal/models"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

const (
	ChannelNone = "none"
	ChannelSNS  = "sns"
	ChannelSES  = "ses"
)

// Alerter tells an operator that a dequeued task has no durable record.
type Alerter interface {
	Alert(ctx context.Context, alert *models.LostTaskAlert) error
}

// NewAlerter builds the alerter selected by cfg.Channel.
func NewAlerter(ctx context.Context, cfg config.AlertsConfig, log logger.Logger) (Alerter, error) {
	switch cfg.Channel {
	case "", ChannelNone:
		return NewLogAlerter(log), nil
	case ChannelSNS, ChannelSES:
	default:
		return nil, fmt.Errorf("unknown alerts channel %q", cfg.Channel)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if cfg.Channel == ChannelSNS {
		return NewSNSAlerter(sns.NewFromConfig(awsCfg), cfg.SNS.TopicARN), nil
	}
	return NewSESAlerter(ses.NewFromConfig(awsCfg), cfg.SES.FromEmail, cfg.SES.ToEmails), nil
}

// LogAlerter only logs; it is used when no channel is configured.
type LogAlerter struct {
	logger logger.Logger
}

func NewLogAlerter(log logger.Logger) *LogAlerter {
	return &LogAlerter{logger: log.WithFields(map[string]interface{}{"component": "alerts"})}
}

func (a *LogAlerter) Alert(_ context.Context, alert *models.LostTaskAlert) error {
	a.logger.Error("lost task", map[string]interface{}{
		"taskId":   alert.TaskID,
		"jobId":    alert.JobID,
		"resumeId": alert.ResumeID,
		"reason":   alert.Reason,
		"detail":   alert.Detail,
		"status":   alert.Status,
		"attempt":  alert.Attempt,
	})
	return nil
}

func subject(alert *models.LostTaskAlert) string {
	return fmt.Sprintf("apply task %s lost: %s", alert.TaskID, alert.Reason)
}

func body(alert *models.LostTaskAlert) (string, error) {
	b, err := json.MarshalIndent(alert, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}
