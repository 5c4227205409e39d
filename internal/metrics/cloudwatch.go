// Package metrics emits operational telemetry to CloudWatch.
package metrics

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"stockcast/internal/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchMetrics publishes admission, prediction, and webhook metrics.
// Every method is fire-and-forget: a metric that fails to publish is
// logged and dropped, never surfaced to the caller.
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

// NewCloudWatchMetrics creates a CloudWatchMetrics publishing to the given namespace.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger types.Logger) *CloudWatchMetrics {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	return &CloudWatchMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

func (m *CloudWatchMetrics) put(ctx context.Context, datum cwtypes.MetricDatum) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{datum},
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to publish metric",
			"metric", aws.ToString(datum.MetricName),
			"error", err.Error(),
		)
	}
}

func dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}

// RecordAdmission emits AdmissionAllowed or AdmissionDenied. Denials carry
// the deny reason as a dimension so throttle and quota pressure can be
// graphed separately.
func (m *CloudWatchMetrics) RecordAdmission(ctx context.Context, channel types.Channel, tier types.Tier, allowed bool, reason types.DenyReason) {
	name := types.MetricAdmissionAllowed
	dims := []cwtypes.Dimension{
		dim(types.DimChannel, string(channel)),
		dim(types.DimTier, string(tier)),
	}
	if !allowed {
		name = types.MetricAdmissionDenied
		dims = append(dims, dim(types.DimDenyReason, string(reason)))
	}

	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: dims,
	})
}

// RecordPredictionLatency emits the wall-clock duration of a model run.
func (m *CloudWatchMetrics) RecordPredictionLatency(ctx context.Context, channel types.Channel, duration time.Duration) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricPredictionLatency),
		Value:      aws.Float64(float64(duration.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
		Dimensions: []cwtypes.Dimension{dim(types.DimChannel, string(channel))},
	})
}

// RecordPredictorFailure emits a count of failed model runs.
func (m *CloudWatchMetrics) RecordPredictorFailure(ctx context.Context, channel types.Channel) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricPredictorFailure),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{dim(types.DimChannel, string(channel))},
	})
}

// RecordRequest emits APILatency per HTTP request, dimensioned by method,
// endpoint, and status. Satisfies the core middleware's MetricsCollector.
// The context is background-scoped: the request context is already done
// by the time the middleware records.
func (m *CloudWatchMetrics) RecordRequest(method, endpoint, status string, duration time.Duration) {
	m.put(context.Background(), cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricAPILatency),
		Value:      aws.Float64(float64(duration.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
		Dimensions: []cwtypes.Dimension{
			dim(types.DimMethod, method),
			dim(types.DimEndpoint, endpoint),
			dim(types.DimStatus, status),
		},
	})
}

// RecordWebhook emits WebhookApplied or WebhookStale per processed billing event.
func (m *CloudWatchMetrics) RecordWebhook(ctx context.Context, eventType string, applied bool) {
	name := types.MetricWebhookApplied
	if !applied {
		name = types.MetricWebhookStale
	}
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{dim(types.DimEventType, eventType)},
	})
}
