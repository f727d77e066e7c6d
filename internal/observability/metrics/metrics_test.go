package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("stage", "clean"),
		attribute.String("user_id", "456"),
		attribute.String("reason", "duplicate_key"),
	)
	require.Len(t, attrs, 2)
	assert.Equal(t, attribute.Key("stage"), attrs[0].Key)
	assert.Equal(t, attribute.Key("reason"), attrs[1].Key)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordRows(ctx, "clean", "users", 3)
	m.RecordDropped(ctx, "clean", map[string]int{"duplicate_key": 1})
	m.RecordStage(ctx, "clean", time.Second, nil)
	m.RecordRun(ctx, time.Now(), time.Second, nil)
}

func TestRecordRowsAndDrops(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	m, err := New(Config{ServiceName: "etl-test"}, provider, zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordRows(ctx, "clean", "users", 4)
	m.RecordRows(ctx, "load", "fact_subscriptions", 2)
	m.RecordDropped(ctx, "clean", map[string]int{"duplicate_key": 1, "invalid_plan": 0})

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	sums := map[string]int64{}
	for _, scope := range rm.ScopeMetrics {
		for _, md := range scope.Metrics {
			data, ok := md.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range data.DataPoints {
				sums[md.Name] += dp.Value
			}
		}
	}
	assert.Equal(t, int64(6), sums["etl_rows_processed_total"])
	assert.Equal(t, int64(1), sums["etl_rows_dropped_total"])
}

type recordingPusher struct {
	pushed int
	err    error
}

func (p *recordingPusher) Push(context.Context, *prometheus.Registry) error {
	p.pushed++
	return p.err
}

func TestBatchFinishPushesOnce(t *testing.T) {
	pusher := &recordingPusher{err: errors.New("gateway down")}
	b := NewBatch(pusher, zap.NewNop())

	b.setRows("load", "dim_users", 5)
	b.setDropped("orphaned_user", 1)
	b.setDropped("orphaned_user", 2)
	b.finish(context.Background(), time.Unix(1700000000, 0), 1500*time.Millisecond, true)

	assert.Equal(t, 1, pusher.pushed)
	assert.Equal(t, float64(1), testutil.ToFloat64(b.lastSuccess))
	assert.Equal(t, float64(1700000000), testutil.ToFloat64(b.lastFinished))
	assert.Equal(t, 1.5, testutil.ToFloat64(b.lastDuration))
	assert.Equal(t, float64(5), testutil.ToFloat64(b.rows.WithLabelValues("load", "dim_users")))
	assert.Equal(t, float64(3), testutil.ToFloat64(b.dropped.WithLabelValues("orphaned_user")))
}

func TestPushgatewayPusher(t *testing.T) {
	var (
		mu     sync.Mutex
		method string
		path   string
		body   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := new(strings.Builder)
		_, _ = io.Copy(buf, r.Body)
		mu.Lock()
		method, path, body = r.Method, r.URL.Path, buf.String()
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	b := NewBatch(NewPushgatewayPusher(srv.URL, "saaswarehouse", map[string]string{"environment": "test", "empty": ""}), zap.NewNop())
	b.finish(context.Background(), time.Now(), time.Second, false)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/metrics/job/saaswarehouse/environment/test", path)
	assert.NotEmpty(t, body)
}

func TestPushgatewayPusherRequiresEndpoint(t *testing.T) {
	err := NewPushgatewayPusher("", "job", nil).Push(context.Background(), NewBatch(&recordingPusher{}, zap.NewNop()).Registry())
	assert.EqualError(t, err, "pushgateway endpoint is required")
}
