// internal/common/aws/sns.go
package aws

import (
	"context"

	apperrors "apply-workers/internal/common/errors"
	"apply-workers/internal/models"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// SNSService is the subset of *sns.Client used here.
type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSAlerter publishes lost-task alerts to a topic.
type SNSAlerter struct {
	client   SNSService
	topicARN string
}

func NewSNSAlerter(client SNSService, topicARN string) *SNSAlerter {
	return &SNSAlerter{client: client, topicARN: topicARN}
}

func (a *SNSAlerter) Alert(ctx context.Context, alert *models.LostTaskAlert) error {
	msg, err := body(alert)
	if err != nil {
		return apperrors.NewAlertPublishFailedError(ChannelSNS, err)
	}
	_, err = a.client.Publish(ctx, &sns.PublishInput{
		TopicArn: awssdk.String(a.topicARN),
		Subject:  awssdk.String(subject(alert)),
		Message:  awssdk.String(msg),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"reason": {DataType: awssdk.String("String"), StringValue: awssdk.String(alert.Reason)},
		},
	})
	if err != nil {
		return apperrors.NewAlertPublishFailedError(ChannelSNS, err)
	}
	return nil
}
