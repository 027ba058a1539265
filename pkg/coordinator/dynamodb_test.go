package coordinator

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type mockDynamoDBClient struct {
	putItemFunc    func(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	getItemFunc    func(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	deleteItemFunc func(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

func (m *mockDynamoDBClient) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if m.putItemFunc != nil {
		return m.putItemFunc(ctx, params, optFns...)
	}
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDynamoDBClient) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if m.getItemFunc != nil {
		return m.getItemFunc(ctx, params, optFns...)
	}
	return &dynamodb.GetItemOutput{}, nil
}

func (m *mockDynamoDBClient) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	if m.deleteItemFunc != nil {
		return m.deleteItemFunc(ctx, params, optFns...)
	}
	return &dynamodb.DeleteItemOutput{}, nil
}

func TestDynamoDBBackend_TryAcquire(t *testing.T) {
	t.Run("successful acquisition", func(t *testing.T) {
		var gotInput *dynamodb.PutItemInput
		mockDB := &mockDynamoDBClient{
			putItemFunc: func(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
				gotInput = params
				return &dynamodb.PutItemOutput{}, nil
			},
		}

		backend := NewDynamoDBBackend(mockDB, "test-locks", "test-lock")

		acquired, err := backend.TryAcquire(context.Background(), "node-a/1")
		if err != nil {
			t.Fatalf("TryAcquire() error = %v", err)
		}
		if !acquired {
			t.Error("TryAcquire() should return true on success")
		}
		if aws.ToString(gotInput.TableName) != "test-locks" {
			t.Errorf("TableName = %q, want test-locks", aws.ToString(gotInput.TableName))
		}
		if gotInput.ConditionExpression == nil {
			t.Fatal("PutItem should be conditional")
		}

		var record lockRecord
		if err := attributevalue.UnmarshalMap(gotInput.Item, &record); err != nil {
			t.Fatalf("UnmarshalMap() error = %v", err)
		}
		if record.LockID != "test-lock" || record.Owner != "node-a/1" {
			t.Errorf("record = %+v", record)
		}
	})

	t.Run("lock already held", func(t *testing.T) {
		mockDB := &mockDynamoDBClient{
			putItemFunc: func(_ context.Context, _ *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
				return nil, &types.ConditionalCheckFailedException{
					Message: aws.String("Lock already held"),
				}
			},
		}

		backend := NewDynamoDBBackend(mockDB, "test-locks", "test-lock")

		acquired, err := backend.TryAcquire(context.Background(), "node-b/1")
		if err != nil {
			t.Fatalf("TryAcquire() error = %v", err)
		}
		if acquired {
			t.Error("TryAcquire() should return false when lock is held")
		}
	})

	t.Run("dynamodb error", func(t *testing.T) {
		mockDB := &mockDynamoDBClient{
			putItemFunc: func(_ context.Context, _ *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
				return nil, fmt.Errorf("network error")
			},
		}

		backend := NewDynamoDBBackend(mockDB, "test-locks", "test-lock")

		if _, err := backend.TryAcquire(context.Background(), "node-a/1"); err == nil {
			t.Error("TryAcquire() should return error on DynamoDB failure")
		}
	})
}

func TestDynamoDBBackend_Release(t *testing.T) {
	t.Run("owner releases", func(t *testing.T) {
		var gotInput *dynamodb.DeleteItemInput
		mockDB := &mockDynamoDBClient{
			deleteItemFunc: func(_ context.Context, params *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
				gotInput = params
				return &dynamodb.DeleteItemOutput{}, nil
			},
		}

		backend := NewDynamoDBBackend(mockDB, "test-locks", "test-lock")

		if err := backend.Release(context.Background(), "node-a/1"); err != nil {
			t.Fatalf("Release() error = %v", err)
		}
		owner, ok := gotInput.ExpressionAttributeValues[":owner"].(*types.AttributeValueMemberS)
		if !ok || owner.Value != "node-a/1" {
			t.Errorf(":owner = %v, want node-a/1", gotInput.ExpressionAttributeValues[":owner"])
		}
	})

	t.Run("not owner", func(t *testing.T) {
		mockDB := &mockDynamoDBClient{
			deleteItemFunc: func(_ context.Context, _ *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
				return nil, &types.ConditionalCheckFailedException{Message: aws.String("owner mismatch")}
			},
		}

		backend := NewDynamoDBBackend(mockDB, "test-locks", "test-lock")

		if err := backend.Release(context.Background(), "node-a/1"); !errors.Is(err, ErrNotHeld) {
			t.Errorf("Release() error = %v, want ErrNotHeld", err)
		}
	})
}

func TestDynamoDBBackend_ForceRelease(t *testing.T) {
	var conditional bool
	mockDB := &mockDynamoDBClient{
		deleteItemFunc: func(_ context.Context, params *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
			conditional = params.ConditionExpression != nil
			return &dynamodb.DeleteItemOutput{}, nil
		},
	}

	backend := NewDynamoDBBackend(mockDB, "test-locks", "test-lock")

	if err := backend.ForceRelease(context.Background()); err != nil {
		t.Fatalf("ForceRelease() error = %v", err)
	}
	if conditional {
		t.Error("ForceRelease() should delete unconditionally")
	}
}

func TestDynamoDBBackend_Holder(t *testing.T) {
	tests := []struct {
		name    string
		getItem func(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
		want    string
		wantErr bool
	}{
		{
			name: "held",
			getItem: func(_ context.Context, params *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
				if !aws.ToBool(params.ConsistentRead) {
					return nil, fmt.Errorf("expected consistent read")
				}
				item, _ := attributevalue.MarshalMap(lockRecord{LockID: "test-lock", Owner: "node-a/1"})
				return &dynamodb.GetItemOutput{Item: item}, nil
			},
			want: "node-a/1",
		},
		{
			name: "free",
			getItem: func(_ context.Context, _ *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
				return &dynamodb.GetItemOutput{}, nil
			},
			want: "",
		},
		{
			name: "error",
			getItem: func(_ context.Context, _ *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
				return nil, fmt.Errorf("throttled")
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := NewDynamoDBBackend(&mockDynamoDBClient{getItemFunc: tt.getItem}, "test-locks", "test-lock")

			got, err := backend.Holder(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Holder() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Holder() = %q, want %q", got, tt.want)
			}
		})
	}
}
