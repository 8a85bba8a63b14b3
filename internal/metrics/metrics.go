// Package metrics exposes Prometheus counters and gauges mirroring the
// Shared Map Substrate's statistics slot, the Rule Store's size, and
// the Event Pipeline's drop counter, so an operator can scrape the
// daemon the same way the teacher's eBPF stack exposes its own
// packet/byte/map counters.
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wardfw/ward/internal/errors"
)

// Collector holds every Prometheus metric the daemon exports.
type Collector struct {
	PacketsTotal      prometheus.Counter
	PacketsDropped    prometheus.Counter
	PacketsAllowed    prometheus.Counter
	PacketsRedirected prometheus.Counter
	BytesTotal        prometheus.Counter
	MapLookups        prometheus.Counter
	MapHits           prometheus.Counter

	ActiveRules       prometheus.Gauge
	ActiveSessions    prometheus.Gauge
	SubscriberCount   prometheus.Gauge
	EventsDropped     prometheus.Counter

	registry *prometheus.Registry
	server   *http.Server

	lastTotals counters
}

// counters snapshots the monotonic substrate counters so Observe can
// derive per-interval deltas for the Prometheus Counters (which must
// only ever increase by the amount actually added).
type counters struct {
	total, bytes, drop, allow, redirect, lookups, hits uint64
}

// NewCollector constructs a Collector and registers its metrics
// against a dedicated Prometheus registry (rather than the global
// default registry the teacher's prometheus.MustRegister(...)
// convention in internal/ebpf/stats reaches for), so multiple
// Collectors — one per test, for instance — never collide on a
// name already registered by another.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		PacketsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flywall_packets_total",
			Help: "Total number of packets classified.",
		}),
		PacketsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flywall_packets_dropped_total",
			Help: "Total number of packets dropped.",
		}),
		PacketsAllowed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flywall_packets_allowed_total",
			Help: "Total number of packets allowed.",
		}),
		PacketsRedirected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flywall_packets_redirected_total",
			Help: "Total number of packets redirected.",
		}),
		BytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flywall_bytes_total",
			Help: "Total number of bytes classified.",
		}),
		MapLookups: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flywall_map_lookups_total",
			Help: "Total number of ACL table lookups.",
		}),
		MapHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flywall_map_hits_total",
			Help: "Total number of ACL table exact-match hits.",
		}),
		ActiveRules: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flywall_active_rules",
			Help: "Number of rules currently in the Rule Store.",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flywall_active_sessions",
			Help: "Number of tracked sessions.",
		}),
		SubscriberCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flywall_event_subscribers",
			Help: "Number of active event-stream subscriptions.",
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flywall_events_dropped_total",
			Help: "Total number of events discarded because the event ring was full.",
		}),
	}
	c.registry.MustRegister(
		c.PacketsTotal, c.PacketsDropped, c.PacketsAllowed, c.PacketsRedirected,
		c.BytesTotal, c.MapLookups, c.MapHits,
		c.ActiveRules, c.ActiveSessions, c.SubscriberCount, c.EventsDropped,
	)
	return c
}

// ObserveStats folds a StatsRecord snapshot into the Prometheus
// Counters by adding only the delta since the last observation, since
// prometheus.Counter.Add must never be called with a decreasing total.
func (c *Collector) ObserveStats(totalPackets, totalBytes, drop, allow, redirect, lookups, hits uint64) {
	c.PacketsTotal.Add(delta(c.lastTotals.total, totalPackets))
	c.BytesTotal.Add(delta(c.lastTotals.bytes, totalBytes))
	c.PacketsDropped.Add(delta(c.lastTotals.drop, drop))
	c.PacketsAllowed.Add(delta(c.lastTotals.allow, allow))
	c.PacketsRedirected.Add(delta(c.lastTotals.redirect, redirect))
	c.MapLookups.Add(delta(c.lastTotals.lookups, lookups))
	c.MapHits.Add(delta(c.lastTotals.hits, hits))
	c.lastTotals = counters{totalPackets, totalBytes, drop, allow, redirect, lookups, hits}
}

func delta(prev, next uint64) float64 {
	if next < prev {
		return 0
	}
	return float64(next - prev)
}

// SetActiveRules, SetActiveSessions, SetSubscriberCount update the
// point-in-time gauges.
func (c *Collector) SetActiveRules(n int)     { c.ActiveRules.Set(float64(n)) }
func (c *Collector) SetActiveSessions(n int)  { c.ActiveSessions.Set(float64(n)) }
func (c *Collector) SetSubscriberCount(n int) { c.SubscriberCount.Set(float64(n)) }

// AddEventsDropped increments the dropped-events counter by n.
func (c *Collector) AddEventsDropped(n uint64) {
	if n == 0 {
		return
	}
	c.EventsDropped.Add(float64(n))
}

// Start serves /metrics on addr in the background, matching the
// teacher's startPrometheusServer (a dedicated http.ServeMux and
// promhttp.Handler()).
func (c *Collector) Start(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	c.server = &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the metrics HTTP server.
func (c *Collector) Stop(ctx context.Context) error {
	if c.server == nil {
		return nil
	}
	if err := c.server.Shutdown(ctx); err != nil {
		return errors.Wrapf(err, errors.KindInternal, "shut down metrics server")
	}
	return nil
}
