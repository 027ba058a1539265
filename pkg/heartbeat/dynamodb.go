package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoDBAPI defines DynamoDB operations for heartbeat storage.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// heartbeatRecord is the heartbeat item, stored next to the lock item in the
// same table.
type heartbeatRecord struct {
	LockID string `dynamodbav:"lock_id"`
	BeatAt int64  `dynamodbav:"beat_at"`
}

// DynamoDBStore keeps the heartbeat as unix milliseconds in one item.
type DynamoDBStore struct {
	dbClient  DynamoDBAPI
	tableName string
	itemID    string
}

// Ensure DynamoDBStore implements Store.
var _ Store = (*DynamoDBStore)(nil)

// NewDynamoDBStore creates a heartbeat store keyed by lockName+"#heartbeat".
func NewDynamoDBStore(dbClient DynamoDBAPI, tableName, lockName string) *DynamoDBStore {
	return &DynamoDBStore{
		dbClient:  dbClient,
		tableName: tableName,
		itemID:    lockName + "#heartbeat",
	}
}

// Update records t unless a later heartbeat is already stored.
func (s *DynamoDBStore) Update(ctx context.Context, t time.Time) error {
	return s.write(ctx, t, true)
}

// Reset records t unconditionally.
func (s *DynamoDBStore) Reset(ctx context.Context, t time.Time) error {
	return s.write(ctx, t, false)
}

func (s *DynamoDBStore) write(ctx context.Context, t time.Time, monotonic bool) error {
	input := &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"lock_id": &types.AttributeValueMemberS{Value: s.itemID},
		},
		UpdateExpression: aws.String("SET beat_at = :beat_at"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":beat_at": &types.AttributeValueMemberN{Value: strconv.FormatInt(t.UnixMilli(), 10)},
		},
	}
	if monotonic {
		input.ConditionExpression = aws.String("attribute_not_exists(beat_at) OR beat_at < :beat_at")
	}

	if _, err := s.dbClient.UpdateItem(ctx, input); err != nil {
		var ccfe *types.ConditionalCheckFailedException
		if errors.As(err, &ccfe) {
			return nil
		}
		return fmt.Errorf("failed to write heartbeat: %w", err)
	}
	return nil
}

// Last returns the latest heartbeat using a consistent read.
func (s *DynamoDBStore) Last(ctx context.Context) (time.Time, error) {
	out, err := s.dbClient.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"lock_id": &types.AttributeValueMemberS{Value: s.itemID},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read heartbeat: %w", err)
	}
	if len(out.Item) == 0 {
		return time.Time{}, nil
	}

	var record heartbeatRecord
	if err := attributevalue.UnmarshalMap(out.Item, &record); err != nil {
		return time.Time{}, fmt.Errorf("failed to unmarshal heartbeat: %w", err)
	}
	if record.BeatAt == 0 {
		return time.Time{}, nil
	}
	return time.UnixMilli(record.BeatAt), nil
}
