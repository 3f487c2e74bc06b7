package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// #region metrics
type metrics struct {
	requests    *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	predictions *prometheus.CounterVec
	unknown     *prometheus.CounterVec
	mismatches  prometheus.Counter
}

func newMetrics(reg *prometheus.Registry) *metrics {
	m := &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "delayrisk",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "delayrisk",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "delayrisk",
			Name:      "predictions_total",
			Help:      "Served predictions by label.",
		}, []string{"label"}),
		unknown: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "delayrisk",
			Name:      "unknown_category_total",
			Help:      "Categorical values outside the trained domain, by field.",
		}, []string{"field"}),
		mismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "delayrisk",
			Name:      "model_mismatch_total",
			Help:      "Requests failed by encoder/classifier dimension skew.",
		}),
	}
	reg.MustRegister(
		m.requests, m.latency, m.predictions, m.unknown, m.mismatches,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// #endregion metrics
