package cache

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoStore.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

var _ DynamoAPI = (*dynamodb.Client)(nil)

// dynamoBatchLimit is DynamoDB's BatchWriteItem request cap.
const dynamoBatchLimit = 25

type dynamoItem struct {
	PK        string `dynamodbav:"pk"`
	Value     []byte `dynamodbav:"value"`
	ExpiresAt int64  `dynamodbav:"expires_at,omitempty"`
}

// DynamoStore keeps entries in a DynamoDB table keyed by "pk". The
// expires_at attribute is compatible with DynamoDB TTL, which deletes
// lazily, so reads also check it.
type DynamoStore struct {
	client     DynamoAPI
	table      string
	defaultTTL time.Duration
	now        func() time.Time
}

// NewDynamoStore creates a store over table.
func NewDynamoStore(client DynamoAPI, table string, defaultTTL time.Duration) *DynamoStore {
	return &DynamoStore{client: client, table: table, defaultTTL: defaultTTL, now: time.Now}
}

func keyAttr(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"pk": &types.AttributeValueMemberS{Value: key}}
}

func (s *DynamoStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            keyAttr(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, false, dynamoError("dynamodb get", err)
	}
	if out.Item == nil {
		return nil, false, nil
	}

	var item dynamoItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, false, dynamoError("dynamodb unmarshal", err)
	}
	if item.ExpiresAt > 0 && s.now().Unix() >= item.ExpiresAt {
		return nil, false, nil
	}
	return item.Value, true, nil
}

func (s *DynamoStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	item := dynamoItem{PK: key, Value: value}
	if ttl > 0 {
		item.ExpiresAt = s.now().Add(ttl).Unix()
	}

	itemMap, err := attributevalue.MarshalMap(item)
	if err != nil {
		return dynamoError("dynamodb marshal", err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      itemMap,
	}); err != nil {
		return dynamoError("dynamodb put", err)
	}
	return nil
}

func (s *DynamoStore) Remove(ctx context.Context, key string) error {
	if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       keyAttr(key),
	}); err != nil {
		return dynamoError("dynamodb delete", err)
	}
	return nil
}

func (s *DynamoStore) Clear(ctx context.Context) error {
	return s.RemoveByPrefix(ctx, "")
}

// RemoveByPrefix scans for keys beginning with prefix and batch-deletes
// them. Unprocessed items are retried until DynamoDB accepts them.
func (s *DynamoStore) RemoveByPrefix(ctx context.Context, prefix string) error {
	builder := expression.NewBuilder().WithProjection(expression.NamesList(expression.Name("pk")))
	if prefix != "" {
		builder = builder.WithFilter(expression.Name("pk").BeginsWith(prefix))
	}
	expr, err := builder.Build()
	if err != nil {
		return dynamoError("dynamodb expression", err)
	}

	input := &dynamodb.ScanInput{
		TableName:                 aws.String(s.table),
		ProjectionExpression:      expr.Projection(),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}

	for {
		out, err := s.client.Scan(ctx, input)
		if err != nil {
			return dynamoError("dynamodb scan", err)
		}
		if err := s.deleteKeys(ctx, out.Items); err != nil {
			return err
		}
		if len(out.LastEvaluatedKey) == 0 {
			return nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func (s *DynamoStore) deleteKeys(ctx context.Context, items []map[string]types.AttributeValue) error {
	for start := 0; start < len(items); start += dynamoBatchLimit {
		end := start + dynamoBatchLimit
		if end > len(items) {
			end = len(items)
		}

		requests := make([]types.WriteRequest, 0, end-start)
		for _, item := range items[start:end] {
			requests = append(requests, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: map[string]types.AttributeValue{"pk": item["pk"]}},
			})
		}

		pending := map[string][]types.WriteRequest{s.table: requests}
		for len(pending[s.table]) > 0 {
			out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
			if err != nil {
				return dynamoError("dynamodb batch delete", err)
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			pending = out.UnprocessedItems
		}
	}
	return nil
}

// dynamoError keeps the AWS error code in the details so throttling and
// missing tables are told apart in logs.
func dynamoError(op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return backendError(op, apiErr.ErrorCode(), err)
	}
	return unavailable(op, err)
}
