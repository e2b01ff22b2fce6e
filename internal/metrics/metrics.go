// Package metrics collects Prometheus metrics for the timeline watcher.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/blackmichael/bluesky-timeline/internal/domain"
)

var _ domain.Recorder = (*Collector)(nil)

// Collector is the Prometheus implementation of domain.Recorder.
type Collector struct {
	syncs          *prometheus.CounterVec
	pagesFetched   prometheus.Counter
	newPosts       prometheus.Counter
	resolves       *prometheus.CounterVec
	postsPublished prometheus.Counter
	sinkFailures   prometheus.Counter
	storeSize      prometheus.Gauge
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		syncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "timeline_sync_cycles_total",
			Help: "Timeline sync cycles by outcome.",
		}, []string{"outcome"}),
		pagesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timeline_pages_fetched_total",
			Help: "Timeline pages fetched during sync cycles.",
		}),
		newPosts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timeline_new_posts_total",
			Help: "Posts discovered as new by sync cycles.",
		}),
		resolves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "timeline_resolves_total",
			Help: "Single-post lookups by outcome.",
		}, []string{"outcome"}),
		postsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timeline_posts_published_total",
			Help: "Rendered posts handed to the sink.",
		}),
		sinkFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timeline_sink_failures_total",
			Help: "Rendered posts the sink failed to accept.",
		}),
		storeSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "timeline_store_posts",
			Help: "Posts held in the in-memory store.",
		}),
	}

	reg.MustRegister(
		c.syncs,
		c.pagesFetched,
		c.newPosts,
		c.resolves,
		c.postsPublished,
		c.sinkFailures,
		c.storeSize,
	)

	return c
}

// RecordSync records one sync cycle.
func (c *Collector) RecordSync(outcome string, pages, newPosts int) {
	c.syncs.WithLabelValues(outcome).Inc()
	c.pagesFetched.Add(float64(pages))
	c.newPosts.Add(float64(newPosts))
}

// RecordResolve records one single-post lookup.
func (c *Collector) RecordResolve(found bool) {
	outcome := "not_found"
	if found {
		outcome = "found"
	}
	c.resolves.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordPublished(count int) {
	c.postsPublished.Add(float64(count))
}

func (c *Collector) RecordSinkFailure() {
	c.sinkFailures.Inc()
}

func (c *Collector) SetStoreSize(n int) {
	c.storeSize.Set(float64(n))
}

// Handler returns the HTTP handler for Prometheus scrapes.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
