// internal/common/aws/ses.go
package aws

import (
	"context"

	apperrors "apply-workers/internal/common/errors"
	"apply-workers/internal/models"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// SESService is the subset of *ses.Client used here.
type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESAlerter emails lost-task alerts.
type SESAlerter struct {
	client SESService
	from   string
	to     []string
}

func NewSESAlerter(client SESService, from string, to []string) *SESAlerter {
	return &SESAlerter{client: client, from: from, to: to}
}

func (a *SESAlerter) Alert(ctx context.Context, alert *models.LostTaskAlert) error {
	text, err := body(alert)
	if err != nil {
		return apperrors.NewAlertPublishFailedError(ChannelSES, err)
	}
	_, err = a.client.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &types.Destination{ToAddresses: a.to},
		Message: &types.Message{
			Subject: &types.Content{Data: awssdk.String(subject(alert))},
			Body: &types.Body{
				Text: &types.Content{Data: awssdk.String(text)},
			},
		},
		Source: awssdk.String(a.from),
	})
	if err != nil {
		return apperrors.NewAlertPublishFailedError(ChannelSES, err)
	}
	return nil
}
