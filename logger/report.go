package logger

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// ReportSink receives the fields of every runtime report.
type ReportSink func(ctx context.Context, fields Fields)

type componentStat struct {
	warns  int64
	errors int64
}

var (
	fetches      int64
	fetchErrors  int64
	cycles       int64
	alertsRaised int64
	exports      int64
	components   sync.Map // map[string]*componentStat

	reportMu   sync.RWMutex
	reportSink ReportSink
)

func statFor(component string) *componentStat {
	v, _ := components.LoadOrStore(component, &componentStat{})
	return v.(*componentStat)
}

func recordWarn(component string) {
	atomic.AddInt64(&statFor(component).warns, 1)
}

func recordError(component string) {
	atomic.AddInt64(&statFor(component).errors, 1)
}

func IncrementFetch(ok bool) {
	atomic.AddInt64(&fetches, 1)
	if !ok {
		atomic.AddInt64(&fetchErrors, 1)
	}
}

// FetchCounts returns the fetch attempts and failures counted so far.
func FetchCounts() (total, failed int64) {
	return atomic.LoadInt64(&fetches), atomic.LoadInt64(&fetchErrors)
}

func IncrementCycle() {
	atomic.AddInt64(&cycles, 1)
}

func IncrementAlerts(n int) {
	atomic.AddInt64(&alertsRaised, int64(n))
}

func IncrementExport() {
	atomic.AddInt64(&exports, 1)
}

// SetReportSink installs a receiver for runtime reports, e.g. a CloudWatch
// publisher.
func SetReportSink(sink ReportSink) {
	reportMu.Lock()
	reportSink = sink
	reportMu.Unlock()
}

// StartReport begins periodic logging of process and pipeline statistics.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func collectReport() Fields {
	cpuPct := 0.0
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		cpuPct = pct[0]
	}
	memoryMB := int64(0)
	if vm, err := mem.VirtualMemory(); err == nil {
		memoryMB = int64(vm.Used) / 1024 / 1024
	}

	perComponent := map[string]map[string]int64{}
	components.Range(func(k, v any) bool {
		cs := v.(*componentStat)
		perComponent[k.(string)] = map[string]int64{
			"warns":  atomic.LoadInt64(&cs.warns),
			"errors": atomic.LoadInt64(&cs.errors),
		}
		return true
	})

	return Fields{
		"fetches":      atomic.LoadInt64(&fetches),
		"fetch_errors": atomic.LoadInt64(&fetchErrors),
		"cycles":       atomic.LoadInt64(&cycles),
		"alerts":       atomic.LoadInt64(&alertsRaised),
		"exports":      atomic.LoadInt64(&exports),
		"goroutines":   runtime.NumGoroutine(),
		"cpu_percent":  cpuPct,
		"memory_mb":    memoryMB,
		"components":   perComponent,
	}
}

func logReport(ctx context.Context, log *Log) {
	fields := collectReport()
	log.WithComponent("report").WithFields(fields).Info("runtime report")

	reportMu.RLock()
	sink := reportSink
	reportMu.RUnlock()
	if sink != nil {
		sink(ctx, fields)
	}
}
