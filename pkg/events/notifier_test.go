package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

type mockSNSClient struct {
	publishFunc func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

func (m *mockSNSClient) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	if m.publishFunc != nil {
		return m.publishFunc(ctx, params, optFns...)
	}
	return &sns.PublishOutput{MessageId: aws.String("test-message-id")}, nil
}

func TestSNSNotifier_Notify(t *testing.T) {
	var got *sns.PublishInput
	client := &mockSNSClient{
		publishFunc: func(_ context.Context, params *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
			got = params
			return &sns.PublishOutput{MessageId: aws.String("id-1")}, nil
		},
	}
	notifier := NewSNSNotifierWithClient(client, "arn:aws:sns:us-east-1:123456789:masterlock")

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	err := notifier.Notify(context.Background(), Event{
		Type:       TypeBecameMaster,
		InstanceID: "node-a",
		LockName:   "scheduler",
		Epoch:      3,
		Timestamp:  ts,
	})
	if err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	if aws.ToString(got.TopicArn) != "arn:aws:sns:us-east-1:123456789:masterlock" {
		t.Errorf("TopicArn = %q", aws.ToString(got.TopicArn))
	}
	if !strings.Contains(aws.ToString(got.Subject), "became_master") {
		t.Errorf("Subject = %q, want event type", aws.ToString(got.Subject))
	}
	if attr := got.MessageAttributes["event_type"]; aws.ToString(attr.StringValue) != "became_master" {
		t.Errorf("event_type attribute = %q", aws.ToString(attr.StringValue))
	}

	var decoded Event
	if err := json.Unmarshal([]byte(aws.ToString(got.Message)), &decoded); err != nil {
		t.Fatalf("message is not JSON: %v", err)
	}
	if decoded.Type != TypeBecameMaster || decoded.InstanceID != "node-a" || decoded.Epoch != 3 || !decoded.Timestamp.Equal(ts) {
		t.Errorf("decoded event = %+v", decoded)
	}
}

func TestSNSNotifier_FillsTimestamp(t *testing.T) {
	var got *sns.PublishInput
	client := &mockSNSClient{
		publishFunc: func(_ context.Context, params *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
			got = params
			return &sns.PublishOutput{}, nil
		},
	}
	notifier := NewSNSNotifierWithClient(client, "arn")

	before := time.Now()
	if err := notifier.Notify(context.Background(), Event{Type: TypeStopped}); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	var decoded Event
	if err := json.Unmarshal([]byte(aws.ToString(got.Message)), &decoded); err != nil {
		t.Fatalf("message is not JSON: %v", err)
	}
	if decoded.Timestamp.Before(before.Add(-time.Second)) {
		t.Errorf("Timestamp = %v, want about now", decoded.Timestamp)
	}
}

func TestSNSNotifier_PublishError(t *testing.T) {
	client := &mockSNSClient{
		publishFunc: func(_ context.Context, _ *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
			return nil, errors.New("sns error")
		},
	}
	notifier := NewSNSNotifierWithClient(client, "arn")

	err := notifier.Notify(context.Background(), Event{Type: TypeOwnershipLost})
	if err == nil || !strings.Contains(err.Error(), "ownership_lost") {
		t.Errorf("Notify() error = %v, want wrapped publish error", err)
	}
}

func TestNoopNotifier(t *testing.T) {
	var n Notifier = NoopNotifier{}
	if err := n.Notify(context.Background(), Event{Type: TypeStopped}); err != nil {
		t.Errorf("Notify() error = %v", err)
	}
}
