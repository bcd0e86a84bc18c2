// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics collector for system-level monitoring. Keeps a
// thread-safe map with dynamic registration for callers that just
// want a snapshot (adapters/control_adapter.go), and layers a real
// Prometheus registry on top: named histograms/gauges/counters for the
// reactor, write queue, and pub/sub engine, plus an ad hoc gauge per
// key passed to Set, all exposed through WriteText for a /metrics route.

package control

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// MetricsRegistry holds mutable and read-only metrics.
type MetricsRegistry struct {
	mu      sync.RWMutex
	metrics map[string]any
	updated time.Time

	reg         *prometheus.Registry
	tickLatency prometheus.Histogram
	queueDepth  prometheus.Gauge
	fanout      prometheus.Counter

	gaugeMu sync.Mutex
	gauges  map[string]prometheus.Gauge
}

// NewMetricsRegistry creates an empty registry with the reactor tick
// latency, write-queue depth, and pub/sub fan-out metrics pre-registered.
func NewMetricsRegistry() *MetricsRegistry {
	reg := prometheus.NewRegistry()
	mr := &MetricsRegistry{
		metrics: make(map[string]any),
		reg:     reg,
		tickLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fio_reactor_tick_latency_seconds",
			Help:    "Duration of one reactor poll/dispatch/timeout iteration.",
			Buckets: prometheus.DefBuckets,
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fio_write_queue_depth",
			Help: "Total pending write-queue chunks across all connections on this worker.",
		}),
		fanout: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fio_pubsub_fanout_total",
			Help: "Total subscriber callbacks dispatched by the pub/sub engine.",
		}),
		gauges: make(map[string]prometheus.Gauge),
	}
	reg.MustRegister(mr.tickLatency, mr.queueDepth, mr.fanout)
	return mr
}

// Set sets or updates a metric key. Numeric values are additionally
// mirrored into a lazily-registered ad hoc Prometheus gauge so any
// named metric reported through the old map-based path also shows up
// on the /metrics route.
func (mr *MetricsRegistry) Set(key string, value any) {
	mr.mu.Lock()
	mr.metrics[key] = value
	mr.updated = time.Now()
	mr.mu.Unlock()

	if f, ok := toFloat64(value); ok {
		mr.gaugeFor(key).Set(f)
	}
}

// GetSnapshot returns the latest metrics.
func (mr *MetricsRegistry) GetSnapshot() map[string]any {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	out := make(map[string]any, len(mr.metrics))
	for k, v := range mr.metrics {
		out[k] = v
	}
	return out
}

// ObserveReactorTick records one reactor loop iteration's duration.
// Satisfies internal/ioreactor.Metrics.
func (mr *MetricsRegistry) ObserveReactorTick(d time.Duration) {
	mr.tickLatency.Observe(d.Seconds())
}

// SetWriteQueueDepth records the current total pending write-queue
// chunks across every connection on this worker. Satisfies
// internal/ioreactor.Metrics.
func (mr *MetricsRegistry) SetWriteQueueDepth(n int) {
	mr.queueDepth.Set(float64(n))
	mr.Set("write_queue.depth", n)
}

// IncFanout records n subscriber callbacks dispatched by one publish.
// Satisfies pubsub.FanoutSink.
func (mr *MetricsRegistry) IncFanout(n int) {
	if n <= 0 {
		return
	}
	mr.fanout.Add(float64(n))
}

// Registry exposes the underlying Prometheus registry.
func (mr *MetricsRegistry) Registry() *prometheus.Registry { return mr.reg }

// WriteText renders every registered metric in the Prometheus text
// exposition format, for a /metrics route served over httpcodec.
func (mr *MetricsRegistry) WriteText(w io.Writer) error {
	families, err := mr.reg.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}

func (mr *MetricsRegistry) gaugeFor(key string) prometheus.Gauge {
	mr.gaugeMu.Lock()
	defer mr.gaugeMu.Unlock()
	if g, ok := mr.gauges[key]; ok {
		return g
	}
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fio_metric_" + sanitizeMetricName(key),
		Help: fmt.Sprintf("Ad hoc metric %q set via MetricsRegistry.Set.", key),
	})
	mr.reg.MustRegister(g)
	mr.gauges[key] = g
	return g
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// sanitizeMetricName maps an arbitrary key (e.g. "write_queue.depth")
// onto the Prometheus metric-name character set.
func sanitizeMetricName(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
			out[i] = c
		default:
			out[i] = '_'
		}
	}
	return string(out)
}
