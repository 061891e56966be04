// Package metrics holds the Prometheus collectors for the API. Every method
// tolerates a nil *Collector so components can run without metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	versionsCommitted prometheus.Counter
	saveConflicts     *prometheus.CounterVec
	commentsAppended  prometheus.Counter
	activityDropped   *prometheus.CounterVec
}

// NewCollector builds a collector on its own registry so tests can create
// as many as they like without duplicate registration.
func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		versionsCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "versions_committed_total",
			Help:      "Versions successfully committed",
		}),
		saveConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "save_conflicts_total",
			Help:      "Commits rejected because another writer got there first",
		}, []string{"reason"}),
		commentsAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "comments_appended_total",
			Help:      "Comments successfully appended",
		}),
		activityDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activity_records_dropped_total",
			Help:      "Activity records that could not be written",
		}, []string{"reason"}),
	}
	c.registry.MustRegister(
		c.httpRequests,
		c.httpDuration,
		c.versionsCommitted,
		c.saveConflicts,
		c.commentsAppended,
		c.activityDropped,
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) VersionCommitted() {
	if c == nil {
		return
	}
	c.versionsCommitted.Inc()
}

func (c *Collector) SaveConflict(reason string) {
	if c == nil {
		return
	}
	c.saveConflicts.WithLabelValues(reason).Inc()
}

func (c *Collector) CommentAppended() {
	if c == nil {
		return
	}
	c.commentsAppended.Inc()
}

func (c *Collector) ActivityDropped(reason string) {
	if c == nil {
		return
	}
	c.activityDropped.WithLabelValues(reason).Inc()
}

func (c *Collector) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
