// Package observe ties toolchat into OpenTelemetry: metric instruments,
// span helpers that also decorate slog loggers, HTTP middleware for the ops
// server, and the SDK setup with a Prometheus bridge.
//
// Components take a [*Metrics] through an option and fall back to
// [DefaultMetrics], which binds to the global meter provider. Tests build
// their own with [NewMetrics] and a manual reader.
package observe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Values of the "status" attribute.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Metrics holds the toolchat instruments. The attribute keys each one is
// recorded with are listed next to it.
type Metrics struct {
	ToolCalls          metric.Int64Counter     // tool, status
	ToolDuration       metric.Float64Histogram // tool
	ToolCallsExtracted metric.Int64Counter     // grammar

	ProviderRequests metric.Int64Counter     // provider, status
	LLMDuration      metric.Float64Histogram // provider
	ActiveJobs       metric.Int64UpDownCounter

	PersistenceOps      metric.Int64Counter     // op, status
	PersistenceDuration metric.Float64Histogram // op
	Chats               metric.Int64Gauge

	HTTPRequestDuration metric.Float64Histogram // method, route, status
}

// latencyBuckets span quick local tools up to long remote generations, in
// seconds.
var latencyBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// instruments creates instruments on one meter and collects the creation
// errors so NewMetrics can report them together.
type instruments struct {
	meter metric.Meter
	errs  []error
}

func (in *instruments) counter(name, desc string) metric.Int64Counter {
	c, err := in.meter.Int64Counter(name, metric.WithDescription(desc))
	in.errs = append(in.errs, err)
	return c
}

func (in *instruments) seconds(name, desc string, buckets ...float64) metric.Float64Histogram {
	opts := []metric.Float64HistogramOption{metric.WithDescription(desc), metric.WithUnit("s")}
	if len(buckets) > 0 {
		opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
	}
	h, err := in.meter.Float64Histogram(name, opts...)
	in.errs = append(in.errs, err)
	return h
}

// NewMetrics creates every instrument on a meter from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	in := &instruments{meter: mp.Meter(scope)}
	m := &Metrics{
		ToolCalls:          in.counter("toolchat.tool.calls", "Tool invocations by tool and status."),
		ToolDuration:       in.seconds("toolchat.tool.duration", "Tool execution latency.", latencyBuckets...),
		ToolCallsExtracted: in.counter("toolchat.tool.extracted", "Tool calls parsed from model output by grammar."),

		ProviderRequests: in.counter("toolchat.provider.requests", "Completion jobs by provider and status."),
		LLMDuration:      in.seconds("toolchat.llm.duration", "Wall time of completion jobs.", latencyBuckets...),

		PersistenceOps:      in.counter("toolchat.persistence.ops", "Persistence operations by op and status."),
		PersistenceDuration: in.seconds("toolchat.persistence.duration", "Persistence latency.", latencyBuckets...),

		HTTPRequestDuration: in.seconds("toolchat.http.request.duration", "Ops server request latency."),
	}

	var err error
	m.ActiveJobs, err = in.meter.Int64UpDownCounter("toolchat.inference.active_jobs",
		metric.WithDescription("Completion jobs currently running."))
	in.errs = append(in.errs, err)
	m.Chats, err = in.meter.Int64Gauge("toolchat.chats",
		metric.WithDescription("Chats held in memory."))
	in.errs = append(in.errs, err)

	if err := errors.Join(in.errs...); err != nil {
		return nil, fmt.Errorf("observe: create instruments: %w", err)
	}
	return m, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns instruments bound to the global meter provider.
// They follow later [otel.SetMeterProvider] calls, so components may be
// built before [SetupTelemetry] runs.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic(err)
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

func statusOf(err error) attribute.KeyValue {
	if err != nil {
		return attribute.String("status", StatusError)
	}
	return attribute.String("status", StatusOK)
}

// timed adds one to counter with the key attribute and status, and records
// d on hist with the key attribute only.
func timed(ctx context.Context, counter metric.Int64Counter, hist metric.Float64Histogram, key attribute.KeyValue, d time.Duration, err error) {
	counter.Add(ctx, 1, metric.WithAttributes(key, statusOf(err)))
	hist.Record(ctx, d.Seconds(), metric.WithAttributes(key))
}

// RecordToolCall records one tool execution.
func (m *Metrics) RecordToolCall(ctx context.Context, tool string, d time.Duration, err error) {
	timed(ctx, m.ToolCalls, m.ToolDuration, attribute.String("tool", tool), d, err)
}

// RecordExtraction records n tool calls parsed with the named grammar.
func (m *Metrics) RecordExtraction(ctx context.Context, grammar string, n int) {
	if n > 0 {
		m.ToolCallsExtracted.Add(ctx, int64(n), metric.WithAttributes(attribute.String("grammar", grammar)))
	}
}

// RecordPersistence records one persistence operation.
func (m *Metrics) RecordPersistence(ctx context.Context, op string, d time.Duration, err error) {
	timed(ctx, m.PersistenceOps, m.PersistenceDuration, attribute.String("op", op), d, err)
}

// RecordProviderRequest records one completion job.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider string, d time.Duration, err error) {
	timed(ctx, m.ProviderRequests, m.LLMDuration, attribute.String("provider", provider), d, err)
}
