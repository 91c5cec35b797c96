package sms

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/sirupsen/logrus"
)

type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSDispatcher publishes transactional SMS through Amazon SNS.
type SNSDispatcher struct {
	client   SNSAPI
	senderID string
	logger   *logrus.Logger
}

func NewSNSDispatcher(client SNSAPI, senderID string, logger *logrus.Logger) *SNSDispatcher {
	return &SNSDispatcher{
		client:   client,
		senderID: senderID,
		logger:   logger,
	}
}

func (d *SNSDispatcher) Send(ctx context.Context, phone, message string) (string, error) {
	attrs := map[string]types.MessageAttributeValue{
		"AWS.SNS.SMS.SMSType": {
			DataType:    aws.String("String"),
			StringValue: aws.String("Transactional"),
		},
	}
	if d.senderID != "" {
		attrs["AWS.SNS.SMS.SenderID"] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(d.senderID),
		}
	}

	out, err := d.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber:       aws.String(phone),
		Message:           aws.String(message),
		MessageAttributes: attrs,
	})
	if err != nil {
		d.logger.WithError(err).WithField("phone", phone).Error("Failed to publish SMS")
		return "", fmt.Errorf("failed to publish SMS: %w", err)
	}

	messageID := aws.ToString(out.MessageId)
	d.logger.WithFields(logrus.Fields{
		"phone":      phone,
		"message_id": messageID,
	}).Info("SMS published")

	return messageID, nil
}
