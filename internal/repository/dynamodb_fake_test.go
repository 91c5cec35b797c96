package repository

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeDynamoDB is an in-memory table that understands exactly the expressions
// the repositories issue.
type fakeDynamoDB struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
}

func newFakeDynamoDB() *fakeDynamoDB {
	return &fakeDynamoDB{items: make(map[string]map[string]types.AttributeValue)}
}

func (f *fakeDynamoDB) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[keyOf(in.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: copyItem(item)}, nil
}

func (f *fakeDynamoDB) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := keyOf(in.Item)
	if err := checkCondition(in.ConditionExpression, f.items[key], in.ExpressionAttributeValues); err != nil {
		return nil, err
	}
	f.items[key] = copyItem(in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamoDB) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := keyOf(in.Key)
	if err := checkCondition(in.ConditionExpression, f.items[key], in.ExpressionAttributeValues); err != nil {
		return nil, err
	}
	delete(f.items, key)
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeDynamoDB) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := keyOf(in.Key)
	item := f.items[key]
	if err := checkCondition(in.ConditionExpression, item, in.ExpressionAttributeValues); err != nil {
		return nil, err
	}
	if item == nil {
		item = copyItem(in.Key)
	}

	switch aws.ToString(in.UpdateExpression) {
	case "ADD Attempts :one":
		current, _ := strconv.Atoi(scalar(item["Attempts"]))
		delta, _ := strconv.Atoi(scalar(in.ExpressionAttributeValues[":one"]))
		item["Attempts"] = &types.AttributeValueMemberN{Value: strconv.Itoa(current + delta)}
	case "SET Revoked = :revoked":
		item["Revoked"] = in.ExpressionAttributeValues[":revoked"]
	default:
		return nil, fmt.Errorf("fake: unsupported update %q", aws.ToString(in.UpdateExpression))
	}

	f.items[key] = item
	return &dynamodb.UpdateItemOutput{Attributes: copyItem(item)}, nil
}

func (f *fakeDynamoDB) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if aws.ToString(in.FilterExpression) != "begins_with(PK, :pk_prefix) AND FamilyID = :family_id" {
		return nil, fmt.Errorf("fake: unsupported filter %q", aws.ToString(in.FilterExpression))
	}
	prefix := scalar(in.ExpressionAttributeValues[":pk_prefix"])
	family := scalar(in.ExpressionAttributeValues[":family_id"])

	var out []map[string]types.AttributeValue
	for _, item := range f.items {
		if strings.HasPrefix(scalar(item["PK"]), prefix) && scalar(item["FamilyID"]) == family {
			out = append(out, copyItem(item))
		}
	}
	return &dynamodb.ScanOutput{Items: out}, nil
}

func checkCondition(expr *string, item map[string]types.AttributeValue, values map[string]types.AttributeValue) error {
	var ok bool
	switch aws.ToString(expr) {
	case "":
		return nil
	case "attribute_not_exists(PK)":
		ok = item == nil
	case "attribute_exists(PK)":
		ok = item != nil
	case "attribute_exists(PK) AND Revoked = :live":
		ok = item != nil && scalar(item["Revoked"]) == scalar(values[":live"])
	case "CodeHash = :hash":
		ok = item != nil && scalar(item["CodeHash"]) == scalar(values[":hash"])
	default:
		return fmt.Errorf("fake: unsupported condition %q", aws.ToString(expr))
	}
	if !ok {
		return &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	}
	return nil
}

func keyOf(item map[string]types.AttributeValue) string {
	return scalar(item["PK"]) + "|" + scalar(item["SK"])
}

func scalar(av types.AttributeValue) string {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		return v.Value
	case *types.AttributeValueMemberBOOL:
		return strconv.FormatBool(v.Value)
	default:
		return ""
	}
}

func copyItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}
