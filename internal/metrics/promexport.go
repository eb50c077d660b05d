package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PromCollector adapts a Sink's global counters into a prometheus.Collector,
// so the process can be scraped without duplicating the counter bookkeeping
// in two places.
type PromCollector struct {
	sink *Sink

	totalRequests  *prometheus.Desc
	successTotal   *prometheus.Desc
	failedTotal    *prometheus.Desc
	inputTokens    *prometheus.Desc
	outputTokens   *prometheus.Desc
	activeConns    *prometheus.Desc
	latencyP50     *prometheus.Desc
	latencyP95     *prometheus.Desc
	latencyP99     *prometheus.Desc
	requestsPerMin *prometheus.Desc
}

// NewPromCollector builds a collector over sink's global counters.
func NewPromCollector(sink *Sink) *PromCollector {
	ns := "amux_gateway"
	return &PromCollector{
		sink:           sink,
		totalRequests:  prometheus.NewDesc(ns+"_requests_total", "Total requests handled.", nil, nil),
		successTotal:   prometheus.NewDesc(ns+"_requests_success_total", "Total successful requests.", nil, nil),
		failedTotal:    prometheus.NewDesc(ns+"_requests_failed_total", "Total failed requests.", nil, nil),
		inputTokens:    prometheus.NewDesc(ns+"_input_tokens_total", "Total input tokens.", nil, nil),
		outputTokens:   prometheus.NewDesc(ns+"_output_tokens_total", "Total output tokens.", nil, nil),
		activeConns:    prometheus.NewDesc(ns+"_active_connections", "Currently active connections.", nil, nil),
		latencyP50:     prometheus.NewDesc(ns+"_latency_p50_ms", "p50 latency in milliseconds.", nil, nil),
		latencyP95:     prometheus.NewDesc(ns+"_latency_p95_ms", "p95 latency in milliseconds.", nil, nil),
		latencyP99:     prometheus.NewDesc(ns+"_latency_p99_ms", "p99 latency in milliseconds.", nil, nil),
		requestsPerMin: prometheus.NewDesc(ns+"_requests_per_minute", "Requests observed in the trailing 60s window.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *PromCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.totalRequests
	ch <- c.successTotal
	ch <- c.failedTotal
	ch <- c.inputTokens
	ch <- c.outputTokens
	ch <- c.activeConns
	ch <- c.latencyP50
	ch <- c.latencyP95
	ch <- c.latencyP99
	ch <- c.requestsPerMin
}

// Collect implements prometheus.Collector.
func (c *PromCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.sink.Global()
	ch <- prometheus.MustNewConstMetric(c.totalRequests, prometheus.CounterValue, float64(s.TotalRequests))
	ch <- prometheus.MustNewConstMetric(c.successTotal, prometheus.CounterValue, float64(s.SuccessRequests))
	ch <- prometheus.MustNewConstMetric(c.failedTotal, prometheus.CounterValue, float64(s.FailedRequests))
	ch <- prometheus.MustNewConstMetric(c.inputTokens, prometheus.CounterValue, float64(s.InputTokens))
	ch <- prometheus.MustNewConstMetric(c.outputTokens, prometheus.CounterValue, float64(s.OutputTokens))
	ch <- prometheus.MustNewConstMetric(c.activeConns, prometheus.GaugeValue, float64(s.ActiveConns))
	ch <- prometheus.MustNewConstMetric(c.latencyP50, prometheus.GaugeValue, float64(s.P50Ms))
	ch <- prometheus.MustNewConstMetric(c.latencyP95, prometheus.GaugeValue, float64(s.P95Ms))
	ch <- prometheus.MustNewConstMetric(c.latencyP99, prometheus.GaugeValue, float64(s.P99Ms))
	ch <- prometheus.MustNewConstMetric(c.requestsPerMin, prometheus.GaugeValue, float64(s.RequestsPerMinute))
}
