package core

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// Metric names and dimensions emitted by the API.
const (
	MetricAPILatency      = "APILatency"
	MetricAPIRequestCount = "APIRequestCount"
	MetricWebhookOutcome  = "WebhookOutcome"

	DimMethod    = "Method"
	DimEndpoint  = "Endpoint"
	DimStatus    = "Status"
	DimEventType = "EventType"
	DimOutcome   = "Outcome"
)

// maxDatumsPerPut bounds one PutMetricData call.
const maxDatumsPerPut = 500

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchMetrics implements MetricsCollector by buffering datums and
// sending them to CloudWatch from Run or an explicit Flush.
//
// Metrics emitted:
//   - APILatency (ms): Dims {Method, Endpoint, Status}
//   - APIRequestCount: Dims {Method, Endpoint, Status}
//   - WebhookOutcome: Dims {EventType, Outcome}
var _ MetricsCollector = (*CloudWatchMetrics)(nil)

type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	pending []cwtypes.MetricDatum
}

// NewCloudWatchMetrics creates a collector publishing to namespace.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
		now:       time.Now,
	}
}

// RecordRequest buffers latency and count datums for one request.
func (m *CloudWatchMetrics) RecordRequest(method, endpoint, status string, duration time.Duration) {
	dims := []cwtypes.Dimension{
		{Name: aws.String(DimMethod), Value: aws.String(method)},
		{Name: aws.String(DimEndpoint), Value: aws.String(endpoint)},
		{Name: aws.String(DimStatus), Value: aws.String(status)},
	}
	ts := m.now()
	m.add(
		cwtypes.MetricDatum{
			MetricName: aws.String(MetricAPILatency),
			Value:      aws.Float64(float64(duration.Microseconds()) / 1000),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Dimensions: dims,
			Timestamp:  aws.Time(ts),
		},
		cwtypes.MetricDatum{
			MetricName: aws.String(MetricAPIRequestCount),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: dims,
			Timestamp:  aws.Time(ts),
		},
	)
}

// RecordWebhook buffers one WebhookOutcome datum.
func (m *CloudWatchMetrics) RecordWebhook(eventType, outcome string) {
	m.add(cwtypes.MetricDatum{
		MetricName: aws.String(MetricWebhookOutcome),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String(DimEventType), Value: aws.String(eventType)},
			{Name: aws.String(DimOutcome), Value: aws.String(outcome)},
		},
		Timestamp: aws.Time(m.now()),
	})
}

func (m *CloudWatchMetrics) add(datums ...cwtypes.MetricDatum) {
	m.mu.Lock()
	m.pending = append(m.pending, datums...)
	m.mu.Unlock()
}

// Flush sends all buffered datums. Send failures are logged and the
// affected datums are dropped.
func (m *CloudWatchMetrics) Flush(ctx context.Context) {
	m.mu.Lock()
	batch := m.pending
	m.pending = nil
	m.mu.Unlock()

	for len(batch) > 0 {
		n := min(len(batch), maxDatumsPerPut)
		input := &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(m.namespace),
			MetricData: batch[:n],
		}
		if _, err := m.client.PutMetricData(ctx, input); err != nil {
			m.logger.Error("failed to publish metrics",
				"error", err.Error(),
				"datums", n,
			)
		}
		batch = batch[n:]
	}
}

// Run flushes every interval until ctx is cancelled, then flushes once more
// with a short grace period.
func (m *CloudWatchMetrics) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Flush(ctx)
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			m.Flush(flushCtx)
			cancel()
			return nil
		}
	}
}

// NoopMetrics discards all metrics. Used when metrics are disabled.
type NoopMetrics struct{}

func (NoopMetrics) RecordRequest(method, endpoint, status string, duration time.Duration) {}
func (NoopMetrics) RecordWebhook(eventType, outcome string)                               {}
