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

type refreshTokenItem struct {
	PK        string      `dynamodbav:"PK"`
	SK        string      `dynamodbav:"SK"`
	JTI       string      `dynamodbav:"JTI"`
	UserID    string      `dynamodbav:"UserID"`
	Phone     string      `dynamodbav:"Phone"`
	Role      models.Role `dynamodbav:"Role"`
	FamilyID  string      `dynamodbav:"FamilyID"`
	Revoked   bool        `dynamodbav:"Revoked"`
	CreatedAt time.Time   `dynamodbav:"CreatedAt"`
	ExpiresAt time.Time   `dynamodbav:"ExpiresAt"`
	TTL       int64       `dynamodbav:"TTL"`
}

func (i refreshTokenItem) toModel() models.RefreshTokenData {
	return models.RefreshTokenData{
		JTI:       i.JTI,
		UserID:    i.UserID,
		Phone:     i.Phone,
		Role:      i.Role,
		FamilyID:  i.FamilyID,
		CreatedAt: i.CreatedAt,
		ExpiresAt: i.ExpiresAt,
		Revoked:   i.Revoked,
	}
}

type RefreshTokenRepository struct {
	client    DynamoDBAPI
	tableName string
	logger    *logrus.Logger
}

func NewRefreshTokenRepository(client DynamoDBAPI, tableName string, logger *logrus.Logger) *RefreshTokenRepository {
	return &RefreshTokenRepository{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

// Store stores refresh token in DynamoDB with TTL
func (r *RefreshTokenRepository) Store(ctx context.Context, data models.RefreshTokenData) error {
	item, err := attributevalue.MarshalMap(refreshTokenItem{
		PK:        refreshPK(data.JTI),
		SK:        metadataSK,
		JTI:       data.JTI,
		UserID:    data.UserID,
		Phone:     data.Phone,
		Role:      data.Role,
		FamilyID:  data.FamilyID,
		Revoked:   data.Revoked,
		CreatedAt: data.CreatedAt,
		ExpiresAt: data.ExpiresAt,
		TTL:       data.ExpiresAt.Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal refresh token: %w", err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to store refresh token in DynamoDB")
		return fmt.Errorf("failed to store refresh token: %w", err)
	}

	return nil
}

func (r *RefreshTokenRepository) Get(ctx context.Context, jti string) (*models.RefreshTokenData, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       itemKey(refreshPK(jti)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}

	if result.Item == nil {
		return nil, ErrRefreshTokenNotFound
	}

	var item refreshTokenItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token data: %w", err)
	}

	data := item.toModel()
	if time.Now().After(data.ExpiresAt) {
		return nil, ErrRefreshTokenNotFound
	}
	return &data, nil
}

func (r *RefreshTokenRepository) Revoke(ctx context.Context, jti string) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 itemKey(refreshPK(jti)),
		UpdateExpression:    aws.String("SET Revoked = :revoked"),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":revoked": &types.AttributeValueMemberBOOL{Value: true},
		},
	})
	if isConditionalCheckFailed(err) {
		return ErrRefreshTokenNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}

	return nil
}

// Rotate sets Revoked only while it is still false, so one conditional
// update wins per token.
func (r *RefreshTokenRepository) Rotate(ctx context.Context, jti string) (*models.RefreshTokenData, error) {
	data, err := r.Get(ctx, jti)
	if err != nil {
		return nil, err
	}
	if data.Revoked {
		return nil, ErrRefreshTokenReused
	}

	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 itemKey(refreshPK(jti)),
		UpdateExpression:    aws.String("SET Revoked = :revoked"),
		ConditionExpression: aws.String("attribute_exists(PK) AND Revoked = :live"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":revoked": &types.AttributeValueMemberBOOL{Value: true},
			":live":    &types.AttributeValueMemberBOOL{Value: false},
		},
	})
	if isConditionalCheckFailed(err) {
		return nil, ErrRefreshTokenReused
	}
	if err != nil {
		return nil, fmt.Errorf("failed to revoke refresh token: %w", err)
	}

	data.Revoked = true
	return data, nil
}

func (r *RefreshTokenRepository) IsRevoked(ctx context.Context, jti string) (bool, error) {
	data, err := r.Get(ctx, jti)
	if err == ErrRefreshTokenNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return data.Revoked, nil
}

// RevokeFamily scans for every token of the family and marks it revoked.
func (r *RefreshTokenRepository) RevokeFamily(ctx context.Context, familyID string) error {
	tokens, err := r.getByFamilyID(ctx, familyID)
	if err != nil {
		return err
	}

	for _, token := range tokens {
		if err := r.Revoke(ctx, token.JTI); err != nil && err != ErrRefreshTokenNotFound {
			r.logger.WithError(err).WithField("jti", token.JTI).Warn("Failed to revoke family member")
		}
	}

	return nil
}

func (r *RefreshTokenRepository) getByFamilyID(ctx context.Context, familyID string) ([]refreshTokenItem, error) {
	result, err := r.client.Scan(ctx, &dynamodb.ScanInput{
		TableName:        aws.String(r.tableName),
		FilterExpression: aws.String("begins_with(PK, :pk_prefix) AND FamilyID = :family_id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk_prefix": &types.AttributeValueMemberS{Value: "REFRESH_TOKEN#"},
			":family_id": &types.AttributeValueMemberS{Value: familyID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query tokens by family ID: %w", err)
	}

	var tokens []refreshTokenItem
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &tokens); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tokens: %w", err)
	}

	return tokens, nil
}

func refreshPK(jti string) string {
	return fmt.Sprintf("REFRESH_TOKEN#%s", jti)
}
