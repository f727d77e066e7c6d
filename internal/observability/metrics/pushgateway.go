package metrics

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"
)

// Pusher sends a registry to an external collector once.
type Pusher interface {
	Push(ctx context.Context, registry *prometheus.Registry) error
}

// PushgatewayPusher sends metrics to a Prometheus Pushgateway.
type PushgatewayPusher struct {
	endpoint string
	job      string
	grouping map[string]string
}

func NewPushgatewayPusher(endpoint, job string, grouping map[string]string) *PushgatewayPusher {
	return &PushgatewayPusher{
		endpoint: strings.TrimSpace(endpoint),
		job:      strings.TrimSpace(job),
		grouping: grouping,
	}
}

// Push replaces the job's metric group on the Pushgateway.
func (p *PushgatewayPusher) Push(ctx context.Context, registry *prometheus.Registry) error {
	if p == nil || registry == nil {
		return nil
	}
	if p.endpoint == "" {
		return errors.New("pushgateway endpoint is required")
	}
	if p.job == "" {
		return errors.New("pushgateway job is required")
	}

	pusher := push.New(p.endpoint, p.job).Gatherer(registry)
	for key, value := range p.grouping {
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		pusher = pusher.Grouping(key, value)
	}
	return pusher.PushContext(ctx)
}

// Batch holds the last-run gauges of the job; they are pushed once when
// the run ends.
type Batch struct {
	registry *prometheus.Registry
	pusher   Pusher
	log      *zap.Logger

	lastSuccess  prometheus.Gauge
	lastFinished prometheus.Gauge
	lastDuration prometheus.Gauge
	rows         *prometheus.GaugeVec
	dropped      *prometheus.GaugeVec
}

func NewBatch(pusher Pusher, log *zap.Logger) *Batch {
	registry := prometheus.NewRegistry()
	b := &Batch{
		registry: registry,
		pusher:   pusher,
		log:      log.Named("metrics.pushgateway"),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "etl_last_run_success",
			Help: "1 if the last pipeline run succeeded, 0 otherwise.",
		}),
		lastFinished: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "etl_last_run_finished_timestamp_seconds",
			Help: "Unix time the last pipeline run finished.",
		}),
		lastDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "etl_last_run_duration_seconds",
			Help: "Wall time of the last pipeline run.",
		}),
		rows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "etl_last_run_rows",
			Help: "Rows emitted per stage and table in the last run.",
		}, []string{"stage", "table"}),
		dropped: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "etl_last_run_dropped_rows",
			Help: "Rows excluded per reason in the last run.",
		}, []string{"reason"}),
	}
	registry.MustRegister(b.lastSuccess, b.lastFinished, b.lastDuration, b.rows, b.dropped)
	return b
}

// Registry exposes the underlying registry for inspection.
func (b *Batch) Registry() *prometheus.Registry {
	return b.registry
}

func (b *Batch) setRows(stage, table string, n int) {
	if b == nil {
		return
	}
	b.rows.WithLabelValues(stage, table).Set(float64(n))
}

func (b *Batch) setDropped(reason string, n int) {
	if b == nil {
		return
	}
	b.dropped.WithLabelValues(reason).Add(float64(n))
}

func (b *Batch) finish(ctx context.Context, finished time.Time, elapsed time.Duration, ok bool) {
	if b == nil {
		return
	}
	if ok {
		b.lastSuccess.Set(1)
	} else {
		b.lastSuccess.Set(0)
	}
	b.lastFinished.Set(float64(finished.Unix()))
	b.lastDuration.Set(elapsed.Seconds())

	if err := b.pusher.Push(ctx, b.registry); err != nil {
		b.log.Warn("pushgateway push failed", zap.Error(err))
	}
}
