// Package metrics exposes Prometheus collectors fed from the event bus.
package metrics

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hanpama/querycost/internal/eventbus"
	"github.com/hanpama/querycost/internal/events"
)

const namespace = "querycost"

// Collector holds the service metrics on its own registry.
type Collector struct {
	registry *prometheus.Registry

	analysesTotal      *prometheus.CounterVec
	analysisComplexity *prometheus.HistogramVec
	analysisDepth      *prometheus.HistogramVec
	analysisDuration   *prometheus.HistogramVec
	documentLookups    *prometheus.CounterVec
	httpRequestsTotal  *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
	rpcRequestsTotal   *prometheus.CounterVec
	rpcDuration        *prometheus.HistogramVec
}

// New creates a Collector. Process and Go runtime collectors are included.
func New() *Collector {
	c := &Collector{registry: prometheus.NewRegistry()}

	c.analysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_total",
			Help:      "Total number of analyzed requests by transport and outcome code.",
		},
		[]string{"transport", "code"},
	)
	c.analysisComplexity = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "admitted_complexity",
			Help:      "Complexity of admitted requests.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		},
		[]string{"transport"},
	)
	c.analysisDepth = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "admitted_depth",
			Help:      "Depth of admitted requests.",
			Buckets:   prometheus.LinearBuckets(1, 1, 15),
		},
		[]string{"transport"},
	)
	c.analysisDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "Time spent loading and analyzing a request.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 10),
		},
		[]string{"transport"},
	)
	c.documentLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "document_cache_lookups_total",
			Help:      "Parsed document cache lookups by result.",
		},
		[]string{"result"},
	)
	c.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)
	c.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method"},
	)
	c.rpcRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_requests_total",
			Help:      "Total number of gRPC calls",
		},
		[]string{"method", "code"},
	)
	c.rpcDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "grpc_request_duration_seconds",
			Help:      "gRPC call duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.analysesTotal,
		c.analysisComplexity,
		c.analysisDepth,
		c.analysisDuration,
		c.documentLookups,
		c.httpRequestsTotal,
		c.httpDuration,
		c.rpcRequestsTotal,
		c.rpcDuration,
	)
	return c
}

// Registry returns the registry the collectors are registered with.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Subscribe records events from bus.
func (c *Collector) Subscribe(bus *eventbus.Bus) (unsubscribe func()) {
	unsubs := []func(){
		eventbus.On(bus, func(_ context.Context, e events.AnalysisFinish) {
			code := e.Code
			if code == "" {
				code = "OK"
			}
			c.analysesTotal.WithLabelValues(e.Transport, code).Inc()
			c.analysisDuration.WithLabelValues(e.Transport).Observe(e.Duration.Seconds())
			if e.Err == nil {
				c.analysisComplexity.WithLabelValues(e.Transport).Observe(e.Complexity)
				c.analysisDepth.WithLabelValues(e.Transport).Observe(float64(e.Depth))
			}
		}),
		eventbus.On(bus, func(_ context.Context, e events.DocumentLookup) {
			result := "miss"
			if e.Hit {
				result = "hit"
			}
			c.documentLookups.WithLabelValues(result).Inc()
		}),
		eventbus.On(bus, func(_ context.Context, e events.HTTPFinish) {
			c.httpRequestsTotal.WithLabelValues(e.Request.Method, strconv.Itoa(e.Status)).Inc()
			c.httpDuration.WithLabelValues(e.Request.Method).Observe(e.Duration.Seconds())
		}),
		eventbus.On(bus, func(_ context.Context, e events.RPCFinish) {
			c.rpcRequestsTotal.WithLabelValues(e.Method, e.Code.String()).Inc()
			c.rpcDuration.WithLabelValues(e.Method).Observe(e.Duration.Seconds())
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
