package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// CloudWatchAPI provides CloudWatch operations.
type CloudWatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchPublisher publishes metrics to AWS CloudWatch.
type CloudWatchPublisher struct {
	client     CloudWatchAPI
	namespace  string
	instanceID string
}

// Ensure CloudWatchPublisher implements Publisher.
var _ Publisher = (*CloudWatchPublisher)(nil)

// NewCloudWatchPublisher creates a CloudWatch metrics publisher.
func NewCloudWatchPublisher(cfg aws.Config, instanceID string) *CloudWatchPublisher {
	return NewCloudWatchPublisherWithClient(cloudwatch.NewFromConfig(cfg), "Masterlock", instanceID)
}

// NewCloudWatchPublisherWithClient creates a CloudWatch metrics publisher with a custom client and namespace.
func NewCloudWatchPublisherWithClient(client CloudWatchAPI, namespace, instanceID string) *CloudWatchPublisher {
	return &CloudWatchPublisher{
		client:     client,
		namespace:  namespace,
		instanceID: instanceID,
	}
}

// Close implements Publisher.Close. CloudWatch client doesn't require cleanup.
func (p *CloudWatchPublisher) Close() error {
	return nil
}

// PublishElectionAttempt publishes an acquisition attempt with a Result dimension.
func (p *CloudWatchPublisher) PublishElectionAttempt(ctx context.Context, acquired bool) error {
	return p.putMetricWithDimensions(ctx, "ElectionAttempts", 1, types.StandardUnitCount,
		types.Dimension{Name: aws.String("Result"), Value: aws.String(attemptResult(acquired))})
}

// PublishStaleMasterReleased publishes a stale master release.
func (p *CloudWatchPublisher) PublishStaleMasterReleased(ctx context.Context) error {
	return p.putMetric(ctx, "StaleMasterReleases", 1, types.StandardUnitCount)
}

// PublishOwnershipLost publishes an ownership loss.
func (p *CloudWatchPublisher) PublishOwnershipLost(ctx context.Context) error {
	return p.putMetric(ctx, "OwnershipLosses", 1, types.StandardUnitCount)
}

// PublishSchedulerStartFailure publishes a scheduler start failure.
func (p *CloudWatchPublisher) PublishSchedulerStartFailure(ctx context.Context) error {
	return p.putMetric(ctx, "SchedulerStartFailures", 1, types.StandardUnitCount)
}

// PublishHeartbeatFailure publishes a failed heartbeat write.
func (p *CloudWatchPublisher) PublishHeartbeatFailure(ctx context.Context) error {
	return p.putMetric(ctx, "HeartbeatWriteFailures", 1, types.StandardUnitCount)
}

// PublishMasterStatus publishes the master gauge with an InstanceId dimension.
func (p *CloudWatchPublisher) PublishMasterStatus(ctx context.Context, isMaster bool, epoch uint64) error {
	dim := types.Dimension{Name: aws.String("InstanceId"), Value: aws.String(p.instanceID)}
	if err := p.putGaugeMetric(ctx, "IsMaster", boolToFloat(isMaster), types.StandardUnitNone, dim); err != nil {
		return err
	}
	return p.putGaugeMetric(ctx, "Epoch", float64(epoch), types.StandardUnitCount, dim)
}

// PublishHeartbeatAge publishes heartbeat age as observed by this instance.
func (p *CloudWatchPublisher) PublishHeartbeatAge(ctx context.Context, age time.Duration) error {
	return p.putGaugeMetric(ctx, "HeartbeatAge", age.Seconds(), types.StandardUnitSeconds,
		types.Dimension{Name: aws.String("InstanceId"), Value: aws.String(p.instanceID)})
}

// PublishJobRun publishes a job run duration with JobName and Result dimensions.
func (p *CloudWatchPublisher) PublishJobRun(ctx context.Context, jobName string, duration time.Duration, failed bool) error {
	return p.putMetricWithDimensions(ctx, "JobDuration", duration.Seconds(), types.StandardUnitSeconds,
		types.Dimension{Name: aws.String("JobName"), Value: aws.String(jobName)},
		types.Dimension{Name: aws.String("Result"), Value: aws.String(jobResult(failed))},
	)
}

// PublishServiceCheck is a no-op for CloudWatch (Datadog-specific feature).
func (p *CloudWatchPublisher) PublishServiceCheck(_ context.Context, _ string, _ int, _ string) error { //nolint:revive
	return nil
}

// PublishEvent is a no-op for CloudWatch (Datadog-specific feature).
func (p *CloudWatchPublisher) PublishEvent(_ context.Context, _, _, _ string, _ []string) error { //nolint:revive
	return nil
}

func (p *CloudWatchPublisher) putMetric(ctx context.Context, name string, value float64, unit types.StandardUnit) error {
	return p.putMetricWithDimensions(ctx, name, value, unit)
}

func (p *CloudWatchPublisher) putMetricWithDimensions(ctx context.Context, name string, value float64, unit types.StandardUnit, dims ...types.Dimension) error {
	_, err := p.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(p.namespace),
		MetricData: []types.MetricDatum{
			{
				MetricName: aws.String(name),
				Value:      aws.Float64(value),
				Unit:       unit,
				Dimensions: dims,
				Timestamp:  aws.Time(time.Now()),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish metric %s: %w", name, err)
	}
	return nil
}

func (p *CloudWatchPublisher) putGaugeMetric(ctx context.Context, name string, value float64, unit types.StandardUnit, dims ...types.Dimension) error {
	_, err := p.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(p.namespace),
		MetricData: []types.MetricDatum{
			{
				MetricName: aws.String(name),
				StatisticValues: &types.StatisticSet{
					SampleCount: aws.Float64(1),
					Sum:         aws.Float64(value),
					Minimum:     aws.Float64(value),
					Maximum:     aws.Float64(value),
				},
				Unit:       unit,
				Dimensions: dims,
				Timestamp:  aws.Time(time.Now()),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish metric %s: %w", name, err)
	}
	return nil
}
