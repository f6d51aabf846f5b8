package infra

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector exports a Metrics instance to prometheus on every scrape.
type MetricsCollector struct {
	m *Metrics

	ordersPlaced        *prometheus.Desc
	ordersCancelled     *prometheus.Desc
	fillsRecorded       *prometheus.Desc
	sharesFilled        *prometheus.Desc
	errorsTotal         *prometheus.Desc
	consistencyWarnings *prometheus.Desc
	avgLatency          *prometheus.Desc
	activeConnections   *prometheus.Desc
	position            *prometheus.Desc
	basis               *prometheus.Desc
}

// NewMetricsCollector wraps m. Labels identify the ledger being exported.
func NewMetricsCollector(m *Metrics, labels prometheus.Labels) *MetricsCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("stockpurse_"+name, help, nil, labels)
	}
	return &MetricsCollector{
		m:                   m,
		ordersPlaced:        desc("orders_placed_total", "Orders accepted by the venue"),
		ordersCancelled:     desc("orders_cancelled_total", "Orders closed by a cancel"),
		fillsRecorded:       desc("fills_total", "Fills folded into the ledger"),
		sharesFilled:        desc("shares_filled_total", "Shares filled across all orders"),
		errorsTotal:         desc("errors_total", "Venue or ledger errors"),
		consistencyWarnings: desc("consistency_warnings_total", "Venue responses that disagreed with expectations"),
		avgLatency:          desc("venue_avg_latency_seconds", "Average venue round trip"),
		activeConnections:   desc("feed_connections", "Open websocket feeds"),
		position:            desc("position_shares", "Signed shares held"),
		basis:               desc("basis_cents", "Signed cumulative cash flow in cents"),
	}
}

// Describe implements prometheus.Collector.
func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.ordersPlaced
	ch <- c.ordersCancelled
	ch <- c.fillsRecorded
	ch <- c.sharesFilled
	ch <- c.errorsTotal
	ch <- c.consistencyWarnings
	ch <- c.avgLatency
	ch <- c.activeConnections
	ch <- c.position
	ch <- c.basis
}

// Collect implements prometheus.Collector.
func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.m.Snapshot()
	ch <- prometheus.MustNewConstMetric(c.ordersPlaced, prometheus.CounterValue, float64(s.OrdersPlaced))
	ch <- prometheus.MustNewConstMetric(c.ordersCancelled, prometheus.CounterValue, float64(s.OrdersCancelled))
	ch <- prometheus.MustNewConstMetric(c.fillsRecorded, prometheus.CounterValue, float64(s.FillsRecorded))
	ch <- prometheus.MustNewConstMetric(c.sharesFilled, prometheus.CounterValue, float64(s.SharesFilled))
	ch <- prometheus.MustNewConstMetric(c.errorsTotal, prometheus.CounterValue, float64(s.ErrorsTotal))
	ch <- prometheus.MustNewConstMetric(c.consistencyWarnings, prometheus.CounterValue, float64(s.ConsistencyWarnings))
	ch <- prometheus.MustNewConstMetric(c.avgLatency, prometheus.GaugeValue, float64(s.AvgLatencyNs)/1e9)
	ch <- prometheus.MustNewConstMetric(c.activeConnections, prometheus.GaugeValue, float64(s.ActiveConnections))
	ch <- prometheus.MustNewConstMetric(c.position, prometheus.GaugeValue, float64(s.Position))
	ch <- prometheus.MustNewConstMetric(c.basis, prometheus.GaugeValue, float64(s.Basis))
}
