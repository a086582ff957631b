// Package stats exposes the realtime layer's operational counters behind
// a small provider interface, backed by Prometheus.
package stats

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Provider is the counter surface the realtime server records against.
type Provider interface {
	RegisterMetric(name string)
	Incr(name string)
	Decr(name string)
	Set(name string, value int)
}

// PromStats implements Provider on a dedicated Prometheus registry, so
// test instances never collide on the default global registerer.
type PromStats struct {
	registry *prometheus.Registry
	mu       sync.Mutex
	gauges   map[string]prometheus.Gauge
}

func NewPromStats() *PromStats {
	return &PromStats{
		registry: prometheus.NewRegistry(),
		gauges:   make(map[string]prometheus.Gauge),
	}
}

// RegisterMetric creates a gauge under the given name. Registering the
// same name twice is a no-op.
func (p *PromStats) RegisterMetric(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.gauges[name]; ok {
		return
	}

	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mt_realtime",
		Name:      name,
	})
	p.registry.MustRegister(g)
	p.gauges[name] = g
}

func (p *PromStats) Incr(name string) {
	if g := p.gauge(name); g != nil {
		g.Inc()
	}
}

func (p *PromStats) Decr(name string) {
	if g := p.gauge(name); g != nil {
		g.Dec()
	}
}

func (p *PromStats) Set(name string, value int) {
	if g := p.gauge(name); g != nil {
		g.Set(float64(value))
	}
}

func (p *PromStats) gauge(name string) prometheus.Gauge {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gauges[name]
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PromStats) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
