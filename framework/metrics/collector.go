// Package metrics exports container activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"reflect"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/km-arc/go-activator/framework/container"
)

// Collector holds the Prometheus metrics for one container. It implements
// container.Observer.
type Collector struct {
	// Registry for this collector instance
	registry *prometheus.Registry

	ResolvesTotal    *prometheus.CounterVec
	ResolveDuration  *prometheus.HistogramVec
	CompiledTotal    *prometheus.CounterVec
	DiscoveriesTotal *prometheus.CounterVec
	DisposalsTotal   *prometheus.CounterVec
}

var _ container.Observer = (*Collector)(nil)

// NewCollector creates a collector with its own registry, so several
// containers (and tests) never collide on registration.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		ResolvesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolves_total",
				Help:      "Total number of top-level resolves",
			},
			[]string{"type", "cached", "outcome"},
		),
		ResolveDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "resolve_duration_seconds",
				Help:      "Resolve duration in seconds",
				Buckets:   []float64{.000001, .000005, .00001, .00005, .0001, .0005, .001, .005, .01, .05},
			},
			[]string{"cached"},
		),
		CompiledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "activators_compiled_total",
				Help:      "Total number of activators published to the compiled cache",
			},
			[]string{"type"},
		),
		DiscoveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "discoveries_total",
				Help:      "Total number of just-in-time discovery runs",
			},
			[]string{"registered"},
		),
		DisposalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "disposals_total",
				Help:      "Total number of disposed instances",
			},
			[]string{"outcome"},
		),
	}

	registry.MustRegister(
		c.ResolvesTotal,
		c.ResolveDuration,
		c.CompiledTotal,
		c.DiscoveriesTotal,
		c.DisposalsTotal,
	)
	return c
}

// Registry returns the registry the metrics are registered with.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) Resolved(t reflect.Type, _ any, cached bool, elapsed time.Duration, err error) {
	hit := strconv.FormatBool(cached)
	c.ResolvesTotal.WithLabelValues(typeLabel(t), hit, outcome(err)).Inc()
	c.ResolveDuration.WithLabelValues(hit).Observe(elapsed.Seconds())
}

func (c *Collector) Compiled(t reflect.Type, _ any) {
	c.CompiledTotal.WithLabelValues(typeLabel(t)).Inc()
}

func (c *Collector) Discovered(_ reflect.Type, registered bool) {
	c.DiscoveriesTotal.WithLabelValues(strconv.FormatBool(registered)).Inc()
}

func (c *Collector) Disposed(_ reflect.Type, err error) {
	c.DisposalsTotal.WithLabelValues(outcome(err)).Inc()
}

func typeLabel(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
