package heartbeat

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type mockDynamoDBClient struct {
	getItemFunc    func(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	updateItemFunc func(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

func (m *mockDynamoDBClient) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if m.getItemFunc != nil {
		return m.getItemFunc(ctx, params, optFns...)
	}
	return &dynamodb.GetItemOutput{}, nil
}

func (m *mockDynamoDBClient) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	if m.updateItemFunc != nil {
		return m.updateItemFunc(ctx, params, optFns...)
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func TestDynamoDBStore_Update(t *testing.T) {
	now := time.UnixMilli(1700000000123)

	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{name: "written"},
		{name: "older than stored", err: &types.ConditionalCheckFailedException{Message: aws.String("newer heartbeat")}},
		{name: "dynamodb error", err: fmt.Errorf("throttled"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotInput *dynamodb.UpdateItemInput
			mockDB := &mockDynamoDBClient{
				updateItemFunc: func(_ context.Context, params *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
					gotInput = params
					return &dynamodb.UpdateItemOutput{}, tt.err
				},
			}

			store := NewDynamoDBStore(mockDB, "test-locks", "scheduler")
			err := store.Update(context.Background(), now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Update() error = %v, wantErr %v", err, tt.wantErr)
			}

			if gotInput.ConditionExpression == nil {
				t.Error("Update() should be conditional on an older heartbeat")
			}
			key, ok := gotInput.Key["lock_id"].(*types.AttributeValueMemberS)
			if !ok || key.Value != "scheduler#heartbeat" {
				t.Errorf("key = %v, want scheduler#heartbeat", gotInput.Key["lock_id"])
			}
			beat, ok := gotInput.ExpressionAttributeValues[":beat_at"].(*types.AttributeValueMemberN)
			if !ok || beat.Value != "1700000000123" {
				t.Errorf(":beat_at = %v", gotInput.ExpressionAttributeValues[":beat_at"])
			}
		})
	}
}

func TestDynamoDBStore_Reset(t *testing.T) {
	var gotInput *dynamodb.UpdateItemInput
	mockDB := &mockDynamoDBClient{
		updateItemFunc: func(_ context.Context, params *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
			gotInput = params
			return &dynamodb.UpdateItemOutput{}, nil
		},
	}

	store := NewDynamoDBStore(mockDB, "test-locks", "scheduler")
	if err := store.Reset(context.Background(), time.UnixMilli(1700000000123)); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if gotInput.ConditionExpression != nil {
		t.Errorf("ConditionExpression = %q, want none", *gotInput.ConditionExpression)
	}
	if beat, ok := gotInput.ExpressionAttributeValues[":beat_at"].(*types.AttributeValueMemberN); !ok || beat.Value != "1700000000123" {
		t.Errorf(":beat_at = %v", gotInput.ExpressionAttributeValues[":beat_at"])
	}
}

func TestDynamoDBStore_Last(t *testing.T) {
	t.Run("present", func(t *testing.T) {
		mockDB := &mockDynamoDBClient{
			getItemFunc: func(_ context.Context, _ *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
				item, err := attributevalue.MarshalMap(heartbeatRecord{LockID: "scheduler#heartbeat", BeatAt: 1700000000123})
				if err != nil {
					return nil, err
				}
				return &dynamodb.GetItemOutput{Item: item}, nil
			},
		}

		store := NewDynamoDBStore(mockDB, "test-locks", "scheduler")
		last, err := store.Last(context.Background())
		if err != nil {
			t.Fatalf("Last() error = %v", err)
		}
		if !last.Equal(time.UnixMilli(1700000000123)) {
			t.Errorf("Last() = %v", last)
		}
	})

	t.Run("missing", func(t *testing.T) {
		store := NewDynamoDBStore(&mockDynamoDBClient{}, "test-locks", "scheduler")
		last, err := store.Last(context.Background())
		if err != nil || !last.IsZero() {
			t.Errorf("Last() = %v, %v; want zero", last, err)
		}
	})

	t.Run("error", func(t *testing.T) {
		mockDB := &mockDynamoDBClient{
			getItemFunc: func(_ context.Context, _ *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
				return nil, fmt.Errorf("network error")
			},
		}

		store := NewDynamoDBStore(mockDB, "test-locks", "scheduler")
		if _, err := store.Last(context.Background()); err == nil {
			t.Error("Last() should return error on DynamoDB failure")
		}
	})
}
