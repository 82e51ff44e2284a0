package metrics

import "cryptodash/logger"

// ExportStats describes one stored export.
type ExportStats struct {
	Format    string
	Records   int
	Bytes     int
	Locations []string
	Err       error
}

// ReportExport emits export metrics using the provided logger.
func ReportExport(log *logger.Log, c *Collectors, stats ExportStats) {
	c.observeExport(stats.Format, stats.Err == nil)

	l := log.WithComponent("export_writer")
	fields := logger.Fields{"format": stats.Format}
	l.LogMetric("export_writer", "export_records", stats.Records, "gauge", fields)
	l.LogMetric("export_writer", "export_bytes", stats.Bytes, "gauge", logger.Fields{"format": stats.Format, "unit": "bytes"})

	entry := l.WithFields(logger.Fields{
		"format":    stats.Format,
		"records":   stats.Records,
		"bytes":     stats.Bytes,
		"locations": stats.Locations,
	})
	if stats.Err != nil {
		entry.WithError(stats.Err).Warn("export failed")
		return
	}
	entry.Info("export metrics")
}
