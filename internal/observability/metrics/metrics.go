package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
	PushgatewayURL   string
}

// Metrics exposes pipeline instruments. A nil *Metrics records nothing.
type Metrics struct {
	rowsProcessed metric.Int64Counter
	rowsDropped   metric.Int64Counter
	stageDuration metric.Float64Histogram
	runs          metric.Int64Counter

	batch *Batch
}

// NewProvider configures and registers the meter provider. The periodic
// reader is flushed on shutdown so a short run still exports.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				log.Info("shutting down meter provider")
				return provider.Shutdown(ctx)
			},
		})
	}

	log.Info("metrics initialized",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)
	return provider, nil
}

// New configures the pipeline instruments and, when a Pushgateway URL is
// set, the end-of-run batch metrics.
func New(cfg Config, provider metric.MeterProvider, log *zap.Logger) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "saaswarehouse"
	}
	meter := provider.Meter(name)

	rowsProcessed, err := meter.Int64Counter("etl_rows_processed_total",
		metric.WithDescription("Rows emitted by a pipeline stage"))
	if err != nil {
		return nil, err
	}
	rowsDropped, err := meter.Int64Counter("etl_rows_dropped_total",
		metric.WithDescription("Rows excluded by a pipeline stage"))
	if err != nil {
		return nil, err
	}
	stageDuration, err := meter.Float64Histogram("etl_stage_duration_seconds",
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	runs, err := meter.Int64Counter("etl_runs_total")
	if err != nil {
		return nil, err
	}

	m := &Metrics{
		rowsProcessed: rowsProcessed,
		rowsDropped:   rowsDropped,
		stageDuration: stageDuration,
		runs:          runs,
	}
	if url := strings.TrimSpace(cfg.PushgatewayURL); url != "" {
		m.batch = NewBatch(NewPushgatewayPusher(url, name, map[string]string{
			"environment": cfg.Environment,
		}), log)
	}
	return m, nil
}

// RecordRows counts rows a stage produced for table.
func (m *Metrics) RecordRows(ctx context.Context, stage, table string, n int) {
	if m == nil || n <= 0 {
		return
	}
	attrs := FilterAttributes(
		attribute.String("stage", stage),
		attribute.String("table", table),
	)
	m.rowsProcessed.Add(ctx, int64(n), metric.WithAttributes(attrs...))
	m.batch.setRows(stage, table, n)
}

// RecordDropped counts rows a stage excluded, per reason.
func (m *Metrics) RecordDropped(ctx context.Context, stage string, byReason map[string]int) {
	if m == nil {
		return
	}
	for reason, n := range byReason {
		if n <= 0 {
			continue
		}
		attrs := FilterAttributes(
			attribute.String("stage", stage),
			attribute.String("reason", reason),
		)
		m.rowsDropped.Add(ctx, int64(n), metric.WithAttributes(attrs...))
		m.batch.setDropped(reason, n)
	}
}

func (m *Metrics) RecordStage(ctx context.Context, stage string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("stage", stage),
		attribute.String("status", status(err)),
	)
	m.stageDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attrs...))
}

// RecordRun counts a finished run and pushes batch metrics if configured.
// Push failures are logged, never returned.
func (m *Metrics) RecordRun(ctx context.Context, finished time.Time, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.runs.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("status", status(err)))...))
	m.batch.finish(ctx, finished, elapsed, err == nil)
}

func status(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"stage":  {},
	"table":  {},
	"reason": {},
	"status": {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
