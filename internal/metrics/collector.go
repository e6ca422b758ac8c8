package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gigachat_proxy"

// Collector owns the proxy's Prometheus registry and every metric recorded by
// the token store, the transformers and the HTTP handler.
//
// A nil *Collector is valid and records nothing, so components can be built
// without metrics in tests.
type Collector struct {
	registry *prometheus.Registry

	tokenRefreshes    *prometheus.CounterVec
	tokenFallbacks    prometheus.Counter
	tokenInvalidation prometheus.Counter

	transforms        *prometheus.CounterVec
	messagesProcessed prometheus.Counter
	messagesConverted prometheus.Counter
	upstreamRequests  *prometheus.CounterVec
	upstreamDuration  *prometheus.HistogramVec
	syncedDeployments *prometheus.GaugeVec
}

// NewCollector creates a collector registered on registry. A nil registry
// gets a fresh one, keeping collectors independent from the global default.
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	c := &Collector{
		registry: registry,
		tokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "token",
			Name:      "refreshes_total",
			Help:      "Credential acquisitions by result (success, error).",
		}, []string{"result"}),
		tokenFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "token",
			Name:      "stale_fallbacks_total",
			Help:      "Times a stale credential was served after a failed refresh.",
		}),
		tokenInvalidation: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "token",
			Name:      "invalidations_total",
			Help:      "Explicit credential invalidations.",
		}),
		transforms: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transform",
			Name:      "total",
			Help:      "Transformations by direction (request, response) and result (ok, fallback).",
		}, []string{"direction", "result"}),
		messagesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transform",
			Name:      "messages_processed_total",
			Help:      "Messages inspected by the request transformer.",
		}),
		messagesConverted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transform",
			Name:      "messages_converted_total",
			Help:      "Messages whose content was rewritten to a string.",
		}),
		upstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "requests_total",
			Help:      "Upstream chat completion calls by HTTP status code.",
		}, []string{"code"}),
		upstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "request_duration_seconds",
			Help:      "Upstream chat completion latency.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"target"}),
		syncedDeployments: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "modelsync",
			Name:      "deployments",
			Help:      "Deployments currently registered per provider.",
		}, []string{"provider"}),
	}

	registry.MustRegister(
		c.tokenRefreshes,
		c.tokenFallbacks,
		c.tokenInvalidation,
		c.transforms,
		c.messagesProcessed,
		c.messagesConverted,
		c.upstreamRequests,
		c.upstreamDuration,
		c.syncedDeployments,
	)

	return c
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) TokenRefresh(ok bool) {
	if c == nil {
		return
	}
	result := "success"
	if !ok {
		result = "error"
	}
	c.tokenRefreshes.WithLabelValues(result).Inc()
}

func (c *Collector) TokenFallback() {
	if c == nil {
		return
	}
	c.tokenFallbacks.Inc()
}

func (c *Collector) TokenInvalidated() {
	if c == nil {
		return
	}
	c.tokenInvalidation.Inc()
}

// Transform records one request or response transformation. fellBack is true
// when the caller had to use the untransformed value.
func (c *Collector) Transform(direction string, fellBack bool) {
	if c == nil {
		return
	}
	result := "ok"
	if fellBack {
		result = "fallback"
	}
	c.transforms.WithLabelValues(direction, result).Inc()
}

func (c *Collector) Messages(processed, converted int) {
	if c == nil {
		return
	}
	c.messagesProcessed.Add(float64(processed))
	c.messagesConverted.Add(float64(converted))
}

func (c *Collector) Upstream(target string, code string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.upstreamRequests.WithLabelValues(code).Inc()
	c.upstreamDuration.WithLabelValues(target).Observe(elapsed.Seconds())
}

func (c *Collector) Deployments(provider string, n int) {
	if c == nil {
		return
	}
	c.syncedDeployments.WithLabelValues(provider).Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
