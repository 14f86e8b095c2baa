package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useRecorder installs an in-memory span recorder as the global tracer
// provider for the duration of the test. Tests using it must not run in
// parallel.
func useRecorder(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

func TestStartSpan(t *testing.T) {
	exp := useRecorder(t)

	ctx, span := StartSpan(context.Background(), "toolcall.execute")
	cid := CorrelationID(ctx)
	span.End()

	if len(cid) != 32 || strings.Trim(cid, "0123456789abcdef") != "" {
		t.Errorf("correlation id = %q, want 32 hex digits", cid)
	}
	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "toolcall.execute" {
		t.Fatalf("spans = %+v", spans)
	}
	if spans[0].InstrumentationScope.Name != scope {
		t.Errorf("scope = %q", spans[0].InstrumentationScope.Name)
	}
}

func TestFail(t *testing.T) {
	exp := useRecorder(t)

	_, ok := StartSpan(context.Background(), "ok")
	Fail(ok, nil)
	ok.End()
	_, bad := StartSpan(context.Background(), "bad")
	Fail(bad, errors.New("tool server gone"))
	bad.End()

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("spans = %d", len(spans))
	}
	if spans[0].Status.Code != codes.Unset || len(spans[0].Events) != 0 {
		t.Errorf("nil error changed the span: %+v", spans[0].Status)
	}
	if spans[1].Status.Code != codes.Error || spans[1].Status.Description != "tool server gone" {
		t.Errorf("status = %+v", spans[1].Status)
	}
	if len(spans[1].Events) != 1 || spans[1].Events[0].Name != "exception" {
		t.Errorf("events = %+v", spans[1].Events)
	}
}

func TestCorrelationID_NoSpan(t *testing.T) {
	t.Parallel()
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID = %q, want empty", got)
	}
}

func TestLogger(t *testing.T) {
	useRecorder(t)
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	Logger(context.Background(), base).Info("plain")
	ctx, span := StartSpan(context.Background(), "traced")
	defer span.End()
	Logger(ctx, base).Info("traced")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %q", lines)
	}
	if strings.Contains(lines[0], "trace_id") {
		t.Errorf("untraced line has trace attributes: %s", lines[0])
	}
	if !strings.Contains(lines[1], "trace_id="+CorrelationID(ctx)) || !strings.Contains(lines[1], "span_id=") {
		t.Errorf("traced line = %s", lines[1])
	}
}

func TestLogger_NilBaseUsesDefault(t *testing.T) {
	t.Parallel()
	if Logger(context.Background(), nil) != slog.Default() {
		t.Error("nil base did not fall back to slog.Default")
	}
}
