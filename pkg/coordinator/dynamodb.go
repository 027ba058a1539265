package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoDBAPI defines DynamoDB operations for the master lock.
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// lockRecord represents the master lock in DynamoDB.
type lockRecord struct {
	LockID     string `dynamodbav:"lock_id"`
	Owner      string `dynamodbav:"owner"`
	AcquiredAt int64  `dynamodbav:"acquired_at"`
}

// DynamoDBBackend implements Backend with a single item keyed by lock_id.
// The item exists exactly while the lock is held.
type DynamoDBBackend struct {
	dbClient  DynamoDBAPI
	tableName string
	lockName  string
}

// Ensure DynamoDBBackend implements Backend.
var _ Backend = (*DynamoDBBackend)(nil)

// NewDynamoDBBackend creates a DynamoDB-based lock backend.
func NewDynamoDBBackend(dbClient DynamoDBAPI, tableName, lockName string) *DynamoDBBackend {
	return &DynamoDBBackend{
		dbClient:  dbClient,
		tableName: tableName,
		lockName:  lockName,
	}
}

func (b *DynamoDBBackend) key() map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"lock_id": &types.AttributeValueMemberS{Value: b.lockName},
	}
}

// TryAcquire writes the lock item if it does not exist or already names owner.
func (b *DynamoDBBackend) TryAcquire(ctx context.Context, owner string) (bool, error) {
	record := lockRecord{
		LockID:     b.lockName,
		Owner:      owner,
		AcquiredAt: time.Now().UnixMilli(),
	}

	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return false, fmt.Errorf("failed to marshal lock record: %w", err)
	}

	_, err = b.dbClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(b.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(lock_id) OR #owner = :owner"),
		ExpressionAttributeNames: map[string]string{
			"#owner": "owner",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: owner},
		},
	})
	if err != nil {
		var ccfe *types.ConditionalCheckFailedException
		if errors.As(err, &ccfe) {
			return false, nil
		}
		return false, fmt.Errorf("failed to put lock item: %w", err)
	}

	return true, nil
}

// Release deletes the lock item if owner holds it.
func (b *DynamoDBBackend) Release(ctx context.Context, owner string) error {
	_, err := b.dbClient.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(b.tableName),
		Key:                 b.key(),
		ConditionExpression: aws.String("#owner = :owner"),
		ExpressionAttributeNames: map[string]string{
			"#owner": "owner",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: owner},
		},
	})
	if err != nil {
		var ccfe *types.ConditionalCheckFailedException
		if errors.As(err, &ccfe) {
			return ErrNotHeld
		}
		return fmt.Errorf("failed to delete lock item: %w", err)
	}
	return nil
}

// ForceRelease deletes the lock item unconditionally.
func (b *DynamoDBBackend) ForceRelease(ctx context.Context) error {
	_, err := b.dbClient.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(b.tableName),
		Key:       b.key(),
	})
	if err != nil {
		return fmt.Errorf("failed to delete lock item: %w", err)
	}
	return nil
}

// Holder reads the lock item with a consistent read.
func (b *DynamoDBBackend) Holder(ctx context.Context) (string, error) {
	out, err := b.dbClient.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(b.tableName),
		Key:            b.key(),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get lock item: %w", err)
	}
	if len(out.Item) == 0 {
		return "", nil
	}

	var record lockRecord
	if err := attributevalue.UnmarshalMap(out.Item, &record); err != nil {
		return "", fmt.Errorf("failed to unmarshal lock record: %w", err)
	}
	return record.Owner, nil
}
