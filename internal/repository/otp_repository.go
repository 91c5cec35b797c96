package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sirupsen/logrus"

	"github.com/dhr/workerauth/internal/models"
)

// attemptRetries bounds how often Attempt re-reads a record that was replaced
// between its read and its conditional increment.
const attemptRetries = 3

type otpItem struct {
	PK string `dynamodbav:"PK"`
	SK string `dynamodbav:"SK"`
	models.OTPRecord
	TTL int64 `dynamodbav:"TTL"`
}

// OTPRepository stores OTP records in a single DynamoDB table with TTL.
type OTPRepository struct {
	client    DynamoDBAPI
	tableName string
	logger    *logrus.Logger
}

func NewOTPRepository(client DynamoDBAPI, tableName string, logger *logrus.Logger) *OTPRepository {
	return &OTPRepository{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

// Put stores the record with a TTL so DynamoDB reclaims abandoned challenges.
func (r *OTPRepository) Put(ctx context.Context, rec models.OTPRecord) error {
	item, err := attributevalue.MarshalMap(otpItem{
		PK:        otpPK(rec.Phone),
		SK:        metadataSK,
		OTPRecord: rec,
		TTL:       rec.ExpiresAt.Add(expiredGrace).Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal OTP: %w", err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to store OTP in DynamoDB")
		return fmt.Errorf("failed to store OTP: %w", err)
	}

	return nil
}

func (r *OTPRepository) Get(ctx context.Context, phone string) (*models.OTPRecord, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            itemKey(otpPK(phone)),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get OTP: %w", err)
	}

	if result.Item == nil {
		return nil, ErrOTPNotFound
	}

	var item otpItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal OTP data: %w", err)
	}

	return &item.OTPRecord, nil
}

func (r *OTPRepository) Delete(ctx context.Context, phone string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       itemKey(otpPK(phone)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete OTP: %w", err)
	}

	return nil
}

// Attempt reads the record, then increments Attempts conditionally on the
// record still carrying the same code hash. The increment itself is atomic, so
// concurrent attempts each observe a distinct count.
func (r *OTPRepository) Attempt(ctx context.Context, phone string, now time.Time, maxAttempts int) (*models.OTPRecord, AttemptOutcome, error) {
	for i := 0; i < attemptRetries; i++ {
		rec, err := r.Get(ctx, phone)
		if err != nil {
			return nil, AttemptAllowed, err
		}

		if rec.Expired(now) {
			if _, err := r.Consume(ctx, phone, rec.CodeHash); err != nil {
				return nil, AttemptAllowed, err
			}
			return rec, AttemptExpired, nil
		}

		out, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:           aws.String(r.tableName),
			Key:                 itemKey(otpPK(phone)),
			UpdateExpression:    aws.String("ADD Attempts :one"),
			ConditionExpression: aws.String("CodeHash = :hash"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":one":  &types.AttributeValueMemberN{Value: "1"},
				":hash": &types.AttributeValueMemberS{Value: rec.CodeHash},
			},
			ReturnValues: types.ReturnValueAllNew,
		})
		if isConditionalCheckFailed(err) {
			continue
		}
		if err != nil {
			r.logger.WithError(err).Error("Failed to increment OTP attempts in DynamoDB")
			return nil, AttemptAllowed, fmt.Errorf("failed to register OTP attempt: %w", err)
		}

		var item otpItem
		if err := attributevalue.UnmarshalMap(out.Attributes, &item); err != nil {
			return nil, AttemptAllowed, fmt.Errorf("failed to unmarshal OTP data: %w", err)
		}
		updated := item.OTPRecord

		if updated.Attempts > maxAttempts {
			if _, err := r.Consume(ctx, phone, updated.CodeHash); err != nil {
				return nil, AttemptAllowed, err
			}
			return &updated, AttemptExhausted, nil
		}

		return &updated, AttemptAllowed, nil
	}

	return nil, AttemptAllowed, fmt.Errorf("OTP for %s changed during %d attempts", phone, attemptRetries)
}

func (r *OTPRepository) Consume(ctx context.Context, phone, codeHash string) (bool, error) {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 itemKey(otpPK(phone)),
		ConditionExpression: aws.String("CodeHash = :hash"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":hash": &types.AttributeValueMemberS{Value: codeHash},
		},
	})
	if isConditionalCheckFailed(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to consume OTP: %w", err)
	}

	return true, nil
}

func otpPK(phone string) string {
	return fmt.Sprintf("OTP#%s", phone)
}
