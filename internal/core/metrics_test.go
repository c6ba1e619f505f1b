package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// mockCloudWatch records PutMetricData inputs.
type mockCloudWatch struct {
	mu     sync.Mutex
	inputs []*cloudwatch.PutMetricDataInput
	err    error
}

func (m *mockCloudWatch) PutMetricData(_ context.Context, in *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputs = append(m.inputs, in)
	return &cloudwatch.PutMetricDataOutput{}, m.err
}

func (m *mockCloudWatch) calls() []*cloudwatch.PutMetricDataInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*cloudwatch.PutMetricDataInput(nil), m.inputs...)
}

func dimValue(d cwtypes.MetricDatum, name string) string {
	for _, dim := range d.Dimensions {
		if aws.ToString(dim.Name) == name {
			return aws.ToString(dim.Value)
		}
	}
	return ""
}

func TestCloudWatchMetrics_RecordAndFlush(t *testing.T) {
	cw := &mockCloudWatch{}
	m := NewCloudWatchMetrics(cw, "Storefront", testLogger())
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return fixed }

	m.RecordRequest("POST", "/v1/orders", "201", 1500*time.Microsecond)
	m.RecordWebhook("payment_intent.succeeded", "created")
	m.Flush(context.Background())

	calls := cw.calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 PutMetricData call, got %d", len(calls))
	}
	in := calls[0]
	if aws.ToString(in.Namespace) != "Storefront" || len(in.MetricData) != 3 {
		t.Fatalf("unexpected input: ns=%s datums=%d", aws.ToString(in.Namespace), len(in.MetricData))
	}

	latency := in.MetricData[0]
	if aws.ToString(latency.MetricName) != MetricAPILatency || aws.ToFloat64(latency.Value) != 1.5 {
		t.Errorf("unexpected latency datum %+v", latency)
	}
	if dimValue(latency, DimEndpoint) != "/v1/orders" || dimValue(latency, DimStatus) != "201" {
		t.Error("latency dimensions wrong")
	}
	if !aws.ToTime(latency.Timestamp).Equal(fixed) {
		t.Error("timestamp should come from the clock")
	}

	hook := in.MetricData[2]
	if aws.ToString(hook.MetricName) != MetricWebhookOutcome || dimValue(hook, DimOutcome) != "created" {
		t.Errorf("unexpected webhook datum %+v", hook)
	}

	// Buffer is drained.
	m.Flush(context.Background())
	if len(cw.calls()) != 1 {
		t.Error("empty flush must not call CloudWatch")
	}
}

func TestCloudWatchMetrics_BatchesLargeBuffers(t *testing.T) {
	cw := &mockCloudWatch{}
	m := NewCloudWatchMetrics(cw, "Storefront", testLogger())

	for range 600 {
		m.RecordWebhook("payment_intent.succeeded", "already_paid")
	}
	m.Flush(context.Background())

	calls := cw.calls()
	if len(calls) != 2 || len(calls[0].MetricData) != maxDatumsPerPut || len(calls[1].MetricData) != 100 {
		t.Errorf("unexpected batching: %d calls", len(calls))
	}
}

func TestCloudWatchMetrics_SendErrorIsSwallowed(t *testing.T) {
	cw := &mockCloudWatch{err: errors.New("throttled")}
	m := NewCloudWatchMetrics(cw, "Storefront", testLogger())
	m.RecordWebhook("payment_intent.payment_failed", "no_order")
	m.Flush(context.Background())
	if len(cw.calls()) != 1 {
		t.Error("expected one attempt")
	}
}

func TestCloudWatchMetrics_RunFlushesOnCancel(t *testing.T) {
	cw := &mockCloudWatch{}
	m := NewCloudWatchMetrics(cw, "Storefront", testLogger())
	m.RecordWebhook("payment_intent.succeeded", "created")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, time.Hour) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if len(cw.calls()) != 1 {
		t.Error("expected final flush on shutdown")
	}
}
