// Package metrics forwards daily lead statistics to CloudWatch. Emission is
// best-effort; the scheduler logs and continues when the backend is down.
package metrics

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwTypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"brokerdesk/internal/config"
	"brokerdesk/internal/scheduler"
)

// MetricPutter abstracts the CloudWatch PutMetricData operation for
// testability. Production code uses the *cloudwatch.Client from
// aws-sdk-go-v2.
type MetricPutter interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchEmitter implements scheduler.MetricsEmitter against CloudWatch
// custom metrics.
type CloudWatchEmitter struct {
	client    MetricPutter
	namespace string
	logger    *slog.Logger
}

// NewCloudWatchEmitter creates a CloudWatchEmitter. The metric namespace
// comes from AWSConfig.
func NewCloudWatchEmitter(client MetricPutter, awsCfg config.AWSConfig, logger *slog.Logger) *CloudWatchEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchEmitter{
		client:    client,
		namespace: awsCfg.MetricNamespace,
		logger:    logger,
	}
}

// EmitDailyStats pushes the snapshot as gauge metrics dimensioned by date.
// All five values go in a single PutMetricData call.
func (e *CloudWatchEmitter) EmitDailyStats(ctx context.Context, stats scheduler.DailyStats) error {
	dateDim := cwTypes.Dimension{
		Name:  aws.String("Date"),
		Value: aws.String(stats.Date),
	}

	datum := func(name string, value int64) cwTypes.MetricDatum {
		return cwTypes.MetricDatum{
			MetricName: aws.String(name),
			Value:      aws.Float64(float64(value)),
			Unit:       cwTypes.StandardUnitCount,
			Dimensions: []cwTypes.Dimension{dateDim},
		}
	}

	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(e.namespace),
		MetricData: []cwTypes.MetricDatum{
			datum("TotalLeads", stats.TotalLeads),
			datum("AssignmentsLast7Days", stats.AssignmentsLast7Days),
			datum("PendingConversions", stats.PendingConversions),
			datum("ClientsConvertedToday", stats.ClientsConvertedToday),
		},
	}

	if _, err := e.client.PutMetricData(ctx, input); err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "daily stats emitted",
		"namespace", e.namespace,
		"date", stats.Date,
	)
	return nil
}
