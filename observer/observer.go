// Package observer provides OTEL-based observability for Cortex.
//
// It exposes a Tracer (tracer.go) implementing cortex.Tracer, plus a set of
// metric instruments for the envelope, recall, remember, and graph-sync
// paths. Users export to any OTEL-compatible backend by setting standard
// OTEL env vars or the backend's OTLP endpoint in config.
package observer

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	cortexlog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/cortexmem/cortex/observer"

// Instruments holds all OTEL instruments used across the envelope, recall,
// remember, and graph-sync paths.
type Instruments struct {
	Tracer trace.Tracer
	Meter  metric.Meter
	Logger cortexlog.Logger

	// Counters
	RememberTotal  metric.Int64Counter
	RecallTotal    metric.Int64Counter
	EmbedRequests  metric.Int64Counter
	LLMRequests    metric.Int64Counter
	FactOutcomes   metric.Int64Counter
	GateRejections metric.Int64Counter
	GraphSyncOps   metric.Int64Counter

	// Histograms
	RememberDuration metric.Float64Histogram
	RecallDuration   metric.Float64Histogram
	EmbedDuration    metric.Float64Histogram

	// Gauges (observable, via callback)
	GraphSyncBacklog metric.Int64ObservableGauge
}

// Init sets up OTEL trace, metric, and log providers with OTLP HTTP
// exporters. Configuration comes from standard OTEL env vars
// (OTEL_EXPORTER_OTLP_ENDPOINT, etc.), which cmd/cortex sets from the
// observer.otlp_endpoint setting. Returns a shutdown function that must be
// called on application exit.
func Init(ctx context.Context, serviceName string) (*Instruments, func(context.Context) error, error) {
	if serviceName == "" {
		serviceName = "cortex"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(serviceName)),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, nil, err
	}

	traceExp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	metricExp, err := otlpmetrichttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	logExp, err := otlploghttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, nil, err
	}
	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)),
		sdklog.WithResource(res),
	)
	global.SetLoggerProvider(lp)

	inst, err := newInstruments()
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		_ = lp.Shutdown(ctx)
		return nil, nil, err
	}

	shutdown := func(ctx context.Context) error {
		return errors.Join(
			tp.Shutdown(ctx),
			mp.Shutdown(ctx),
			lp.Shutdown(ctx),
		)
	}

	return inst, shutdown, nil
}

func newInstruments() (*Instruments, error) {
	tracer := otel.Tracer(scopeName)
	meter := otel.Meter(scopeName)
	logger := global.GetLoggerProvider().Logger(scopeName)

	rememberTotal, err := meter.Int64Counter("cortex.remember.count",
		metric.WithDescription("Remember calls"), metric.WithUnit("{call}"))
	if err != nil {
		return nil, err
	}
	recallTotal, err := meter.Int64Counter("cortex.recall.count",
		metric.WithDescription("Recall calls"), metric.WithUnit("{call}"))
	if err != nil {
		return nil, err
	}
	embedRequests, err := meter.Int64Counter("cortex.embedding.requests",
		metric.WithDescription("Embedding provider calls"), metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}
	llmRequests, err := meter.Int64Counter("cortex.llm.requests",
		metric.WithDescription("LLM provider calls"), metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}
	factOutcomes, err := meter.Int64Counter("cortex.belief.outcomes",
		metric.WithDescription("Belief-revision adjudication outcomes"), metric.WithUnit("{outcome}"))
	if err != nil {
		return nil, err
	}
	gateRejections, err := meter.Int64Counter("cortex.envelope.gate_rejections",
		metric.WithDescription("Envelope gate rejections (circuit open, rate limited, concurrency timeout)"),
		metric.WithUnit("{rejection}"))
	if err != nil {
		return nil, err
	}
	graphSyncOps, err := meter.Int64Counter("cortex.graph_sync.operations",
		metric.WithDescription("Graph-sync queue operations processed"), metric.WithUnit("{operation}"))
	if err != nil {
		return nil, err
	}

	rememberDuration, err := meter.Float64Histogram("cortex.remember.duration",
		metric.WithDescription("Remember call duration"), metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	recallDuration, err := meter.Float64Histogram("cortex.recall.duration",
		metric.WithDescription("Recall call duration"), metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	embedDuration, err := meter.Float64Histogram("cortex.embedding.duration",
		metric.WithDescription("Embedding call duration"), metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	graphSyncBacklog, err := meter.Int64ObservableGauge("cortex.graph_sync.backlog",
		metric.WithDescription("Pending graph-sync queue depth"), metric.WithUnit("{item}"))
	if err != nil {
		return nil, err
	}

	return &Instruments{
		Tracer:           tracer,
		Meter:            meter,
		Logger:           logger,
		RememberTotal:    rememberTotal,
		RecallTotal:      recallTotal,
		EmbedRequests:    embedRequests,
		LLMRequests:      llmRequests,
		FactOutcomes:     factOutcomes,
		GateRejections:   gateRejections,
		GraphSyncOps:     graphSyncOps,
		RememberDuration: rememberDuration,
		RecallDuration:   recallDuration,
		EmbedDuration:    embedDuration,
		GraphSyncBacklog: graphSyncBacklog,
	}, nil
}
