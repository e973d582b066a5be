package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"
)

const subsystem = "gateway"

// Collector records gateway metrics in Prometheus and serves them
type Collector struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	cacheLookups    *prometheus.CounterVec
	cacheHitRatio   prometheus.Gauge
	rateLimited     prometheus.Counter
	activeRequests  prometheus.Gauge

	renderDuration *prometheus.HistogramVec
	slotWait       prometheus.Histogram
	pendingRenders prometheus.Gauge

	cacheEntries   prometheus.Gauge
	cacheDiskBytes prometheus.Gauge
	cleanupRemoved *prometheus.CounterVec

	logger      *zap.Logger
	httpHandler fasthttp.RequestHandler
}

// NewCollector registers metrics on the default registry
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWithRegistry(namespace, prometheus.DefaultRegisterer, logger)
}

// NewCollectorWithRegistry registers metrics on registerer; tests pass a fresh registry
func NewCollectorWithRegistry(namespace string, registerer prometheus.Registerer, logger *zap.Logger) *Collector {
	c := &Collector{logger: logger}

	c.requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "requests_total",
		Help:      "Render requests by output kind and response status",
	}, []string{"kind", "status"})

	c.requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "request_duration_seconds",
		Help:      "Time to serve render requests, including render time on a miss",
		Buckets:   []float64{0.005, 0.05, 0.25, 1, 5, 15, 60, 180},
	}, []string{"kind", "cache"})

	c.cacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "cache_lookups_total",
		Help:      "Cache lookups by result: hit, miss (led a render) or shared (joined one)",
	}, []string{"result"})

	c.cacheHitRatio = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "cache_hit_ratio",
		Help:      "Share of lookups that did not start a render (0-1)",
	})

	c.rateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the rate limiter",
	})

	c.activeRequests = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "active_requests",
		Help:      "Requests currently being served",
	})

	c.renderDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "render_duration_seconds",
		Help:      "Time spent in the render engine",
		Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"result"})

	c.slotWait = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "render_slot_wait_seconds",
		Help:      "Time a render waited for a free slot",
		Buckets:   []float64{0.001, 0.01, 0.1, 1, 5, 30, 120},
	})

	c.pendingRenders = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "pending_renders",
		Help:      "Renders in flight, queued ones included",
	})

	c.cacheEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "cache_entries",
		Help:      "Entries in the content cache at the last sweep",
	})

	c.cacheDiskBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "cache_disk_bytes",
		Help:      "Disk bytes used by the content cache at the last sweep",
	})

	c.cleanupRemoved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "cleanup_removed_files_total",
		Help:      "Orphaned files removed by the cleanup worker",
	}, []string{"area"})

	registerer.MustRegister(
		c.requestsTotal,
		c.requestDuration,
		c.cacheLookups,
		c.cacheHitRatio,
		c.rateLimited,
		c.activeRequests,
		c.renderDuration,
		c.slotWait,
		c.pendingRenders,
		c.cacheEntries,
		c.cacheDiskBytes,
		c.cleanupRemoved,
	)

	gatherer, ok := registerer.(prometheus.Gatherer)
	if !ok {
		gatherer = prometheus.DefaultGatherer
	}
	c.httpHandler = fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	logger.Debug("Prometheus metrics initialized", zap.String("namespace", namespace))
	return c
}

// RecordRequest records a finished request. cacheResult is empty when the
// request failed before a lookup.
func (c *Collector) RecordRequest(kind string, statusCode int, cacheResult string, duration time.Duration) {
	c.requestsTotal.WithLabelValues(kind, strconv.Itoa(statusCode)).Inc()
	if cacheResult != "" {
		c.requestDuration.WithLabelValues(kind, cacheResult).Observe(duration.Seconds())
	}
}

// RecordCacheLookup counts a lookup result (hit, miss, shared)
func (c *Collector) RecordCacheLookup(result string) {
	c.cacheLookups.WithLabelValues(result).Inc()

	hits := c.counterValue(c.cacheLookups.WithLabelValues("hit"))
	shared := c.counterValue(c.cacheLookups.WithLabelValues("shared"))
	misses := c.counterValue(c.cacheLookups.WithLabelValues("miss"))
	if total := hits + shared + misses; total > 0 {
		c.cacheHitRatio.Set((hits + shared) / total)
	}
}

func (c *Collector) RecordRateLimited() {
	c.rateLimited.Inc()
}

func (c *Collector) IncActiveRequests() {
	c.activeRequests.Inc()
}

func (c *Collector) DecActiveRequests() {
	c.activeRequests.Dec()
}

// ObserveRender implements coordinator.Observer
func (c *Collector) ObserveRender(duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	c.renderDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// ObserveSlotWait implements coordinator.Observer
func (c *Collector) ObserveSlotWait(duration time.Duration) {
	c.slotWait.Observe(duration.Seconds())
}

// SetPendingRenders implements coordinator.Observer
func (c *Collector) SetPendingRenders(n int) {
	c.pendingRenders.Set(float64(n))
}

// UpdateCacheStats sets the cache size gauges
func (c *Collector) UpdateCacheStats(entries int, diskBytes int64) {
	c.cacheEntries.Set(float64(entries))
	c.cacheDiskBytes.Set(float64(diskBytes))
}

// RecordCleanup counts files removed from one storage area
func (c *Collector) RecordCleanup(area string, removed int) {
	if removed > 0 {
		c.cleanupRemoved.WithLabelValues(area).Add(float64(removed))
	}
}

// ServeHTTP serves the Prometheus exposition format
func (c *Collector) ServeHTTP(ctx *fasthttp.RequestCtx) {
	c.httpHandler(ctx)
}

func (c *Collector) counterValue(counter prometheus.Counter) float64 {
	metric := &dto.Metric{}
	if err := counter.Write(metric); err != nil {
		c.logger.Warn("Failed to read counter value", zap.Error(err))
		return 0
	}
	return metric.GetCounter().GetValue()
}
