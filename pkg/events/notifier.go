// Package events publishes election transitions to external subscribers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/Shavakan/masterlock/pkg/logging"
)

// Type identifies an election transition.
type Type string

// Election transitions.
const (
	TypeBecameMaster        Type = "became_master"
	TypeOwnershipLost       Type = "ownership_lost"
	TypeStaleMasterReleased Type = "stale_master_released"
	TypeStopped             Type = "stopped"
)

var eventsLog = logging.WithComponent(logging.LogTypeEvents, "sns")

// Event is one election transition observed by a node.
type Event struct {
	Type       Type      `json:"type"`
	InstanceID string    `json:"instance_id"`
	LockName   string    `json:"lock_name"`
	Epoch      uint64    `json:"epoch,omitempty"`
	Holder     string    `json:"holder,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Notifier delivers election events.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// NoopNotifier drops every event.
type NoopNotifier struct{}

// Notify implements Notifier.
func (NoopNotifier) Notify(context.Context, Event) error { return nil }

// SNSAPI provides the SNS operations used by SNSNotifier.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSNotifier publishes events as JSON messages to an SNS topic. The event
// type is attached as a message attribute so subscribers can filter on it.
type SNSNotifier struct {
	client   SNSAPI
	topicARN string
}

// NewSNSNotifier creates a notifier for topicARN using the default AWS client.
func NewSNSNotifier(cfg aws.Config, topicARN string) *SNSNotifier {
	return NewSNSNotifierWithClient(sns.NewFromConfig(cfg), topicARN)
}

// NewSNSNotifierWithClient creates a notifier with a custom client.
func NewSNSNotifierWithClient(client SNSAPI, topicARN string) *SNSNotifier {
	return &SNSNotifier{client: client, topicARN: topicARN}
}

// Notify publishes event to the topic.
func (n *SNSNotifier) Notify(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	out, err := n.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(n.topicARN),
		Subject:  aws.String(fmt.Sprintf("masterlock %s: %s", event.LockName, event.Type)),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"event_type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(event.Type)),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.Type, err)
	}

	eventsLog.Debug("event published",
		slog.String("event_type", string(event.Type)),
		slog.String("message_id", aws.ToString(out.MessageId)),
	)
	return nil
}
