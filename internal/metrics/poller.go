package metrics

import (
	"time"

	"cryptodash/logger"
	"cryptodash/models"
)

// CycleStats summarizes one polling cycle.
type CycleStats struct {
	RunID               string
	Cycle               int64
	Duration            time.Duration
	FetchDuration       time.Duration
	Saved               int
	Skipped             int
	Failed              bool
	TrackedCoins        int
	DataQualityPercent  float64
	ConsecutiveFailures int
	Alerts              []models.Alert
}

// ReportCycle records a finished cycle in Prometheus and emits it as
// metric log lines.
func ReportCycle(log *logger.Log, c *Collectors, stats CycleStats) {
	c.observeCycle(stats)
	c.observeAlerts(stats.Alerts)

	l := log.WithComponent("poller").WithFields(logger.Fields{"run_id": stats.RunID})
	l.LogMetric("poller", "cycle_duration_ms", stats.Duration.Milliseconds(), "gauge", logger.Fields{"unit": "milliseconds"})
	l.LogMetric("poller", "coins_saved", stats.Saved, "gauge", logger.Fields{})
	l.LogMetric("poller", "coins_skipped", stats.Skipped, "gauge", logger.Fields{})
	l.LogMetric("poller", "data_quality_percent", stats.DataQualityPercent, "gauge", logger.Fields{"unit": "percent"})
	l.LogMetric("poller", "consecutive_failures", stats.ConsecutiveFailures, "gauge", logger.Fields{})
	if len(stats.Alerts) > 0 {
		l.LogMetric("alerts", "alerts_raised", len(stats.Alerts), "counter", logger.Fields{})
	}

	entry := l.WithFields(logger.Fields{
		"cycle":                stats.Cycle,
		"duration":             stats.Duration.String(),
		"saved":                stats.Saved,
		"skipped":              stats.Skipped,
		"tracked_coins":        stats.TrackedCoins,
		"data_quality_percent": stats.DataQualityPercent,
		"alerts":               len(stats.Alerts),
	})
	if stats.Failed {
		entry.WithFields(logger.Fields{"consecutive_failures": stats.ConsecutiveFailures}).Warn("cycle failed")
		return
	}
	entry.Info("cycle completed")
}
