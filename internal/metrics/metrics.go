// Package metrics exposes the dashboard's operational metrics.
//
// Registers on a private registry:
//
//	#cryptodash_cycles_total{result}
//	#cryptodash_fetch_duration_seconds
//	#cryptodash_tracked_coins
//	#cryptodash_data_quality_percent
//	#cryptodash_alerts_total{kind,severity}
//	#cryptodash_exports_total{format,result}
//	#go_* and process_* system metrics
//
// Handler serves them in the Prometheus text format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cryptodash/models"
)

// Collectors holds the Prometheus instruments. A nil *Collectors is valid
// and records nothing.
type Collectors struct {
	registry      *prometheus.Registry
	cycles        *prometheus.CounterVec
	fetchDuration prometheus.Histogram
	trackedCoins  prometheus.Gauge
	dataQuality   prometheus.Gauge
	alerts        *prometheus.CounterVec
	exports       *prometheus.CounterVec
}

func NewCollectors() *Collectors {
	c := &Collectors{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptodash_cycles_total",
				Help: "Number of polling cycles by result",
			},
			[]string{"result"},
		),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cryptodash_fetch_duration_seconds",
			Help:    "Duration of market data fetches",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		trackedCoins: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cryptodash_tracked_coins",
			Help: "Number of coins with snapshot history",
		}),
		dataQuality: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cryptodash_data_quality_percent",
			Help: "Share of successful cycles",
		}),
		alerts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptodash_alerts_total",
				Help: "Number of alerts raised",
			},
			[]string{"kind", "severity"},
		),
		exports: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptodash_exports_total",
				Help: "Number of exports written",
			},
			[]string{"format", "result"},
		),
	}

	c.registry.MustRegister(
		c.cycles,
		c.fetchDuration,
		c.trackedCoins,
		c.dataQuality,
		c.alerts,
		c.exports,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Handler serves the registry.
func (c *Collectors) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collectors) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collectors) observeCycle(stats CycleStats) {
	if c == nil {
		return
	}
	result := "success"
	if stats.Failed {
		result = "failed"
	}
	c.cycles.WithLabelValues(result).Inc()
	if stats.FetchDuration > 0 {
		c.fetchDuration.Observe(stats.FetchDuration.Seconds())
	}
	c.trackedCoins.Set(float64(stats.TrackedCoins))
	c.dataQuality.Set(stats.DataQualityPercent)
}

func (c *Collectors) observeAlerts(alerts []models.Alert) {
	if c == nil {
		return
	}
	for _, a := range alerts {
		c.alerts.WithLabelValues(string(a.Kind), string(a.Severity)).Inc()
	}
}

func (c *Collectors) observeExport(format string, ok bool) {
	if c == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failed"
	}
	c.exports.WithLabelValues(format, result).Inc()
}
