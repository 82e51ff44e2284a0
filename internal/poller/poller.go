// Package poller drives the fetch, record, enrich and alert cycle on a fixed
// interval and publishes the resulting dashboard state.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"cryptodash/internal/alert"
	"cryptodash/internal/enrich"
	"cryptodash/internal/export"
	"cryptodash/internal/metrics"
	"cryptodash/internal/snapshot"
	"cryptodash/logger"
	"cryptodash/models"
	"cryptodash/reader/coingecko"
)

var (
	ErrCycleInFlight = errors.New("a refresh cycle is already running")
	ErrPaused        = errors.New("polling is paused after repeated failures")
)

// Fetcher is the market source.
type Fetcher interface {
	FetchMarkets(ctx context.Context, q coingecko.MarketsQuery) ([]models.Coin, error)
	InvalidateCache(ctx context.Context) error
}

// Exporter stores rendered exports for automatic exports.
type Exporter interface {
	Enabled() bool
	Formats() []export.Format
	Options() export.Options
	Write(ctx context.Context, doc export.Document) ([]string, error)
}

type Config struct {
	Interval     time.Duration
	FetchTimeout time.Duration
	Query        coingecko.MarketsQuery
	// MaxConsecutiveFailures opens the circuit breaker after that many
	// failed fetches in a row. Zero disables the breaker.
	MaxConsecutiveFailures int
	// AutoExportEvery exports after every N successful cycles. Zero disables it.
	AutoExportEvery int
	PublishTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 20 * time.Second
	}
	if c.Query.Currency == "" {
		c.Query.Currency = "usd"
	}
	if c.Query.PerPage <= 0 {
		c.Query.PerPage = 100
	}
	if c.Query.Page <= 0 {
		c.Query.Page = 1
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 10 * time.Second
	}
	return c
}

type Deps struct {
	Fetcher    Fetcher
	Store      *snapshot.Store
	Alerts     *alert.Evaluator
	Publishers []alert.Publisher
	Exporter   Exporter
	Metrics    *metrics.Collectors
	Log        *logger.Log
}

// State is the published, read-only view of the latest cycle. A new State
// is swapped in after every cycle; readers must not modify it.
type State struct {
	RunID               string                `json:"run_id"`
	Cycle               int64                 `json:"cycle"`
	Records             []models.EnrichedCoin `json:"records"`
	Summary             enrich.Summary        `json:"summary"`
	NewAlerts           []models.Alert        `json:"new_alerts"`
	LastUpdate          time.Time             `json:"last_update"`
	LastError           string                `json:"last_error,omitempty"`
	LastErrorAt         time.Time             `json:"last_error_at,omitempty"`
	Paused              bool                  `json:"paused"`
	ConsecutiveFailures int                   `json:"consecutive_failures"`
}

// CycleReport describes one attempted cycle.
type CycleReport struct {
	RunID     string        `json:"run_id"`
	Cycle     int64         `json:"cycle"`
	Saved     int           `json:"saved"`
	Skipped   int           `json:"skipped"`
	Failed    bool          `json:"failed"`
	Duration  time.Duration `json:"duration"`
	NewAlerts int           `json:"new_alerts"`
	Err       error         `json:"-"`
}

type Driver struct {
	cfg        Config
	fetcher    Fetcher
	store      *snapshot.Store
	alerts     *alert.Evaluator
	publishers []alert.Publisher
	exporter   Exporter
	metrics    *metrics.Collectors
	log        *logger.Log
	now        func() time.Time

	// sem serializes cycles; a send acquires, a receive releases.
	sem chan struct{}

	state       atomic.Pointer[State]
	nextRefresh atomic.Int64

	mu        sync.Mutex
	failures  int
	paused    bool
	successes int64
}

func New(cfg Config, deps Deps) *Driver {
	log := deps.Log
	if log == nil {
		log = logger.GetLogger()
	}
	d := &Driver{
		cfg:        cfg.withDefaults(),
		fetcher:    deps.Fetcher,
		store:      deps.Store,
		alerts:     deps.Alerts,
		publishers: deps.Publishers,
		exporter:   deps.Exporter,
		metrics:    deps.Metrics,
		log:        log,
		now:        time.Now,
		sem:        make(chan struct{}, 1),
	}
	d.state.Store(&State{})
	return d
}

// State returns the latest published state.
func (d *Driver) State() *State {
	return d.state.Load()
}

// Countdown is the time left until the next scheduled tick, zero when no
// tick is scheduled.
func (d *Driver) Countdown() time.Duration {
	next := d.nextRefresh.Load()
	if next == 0 {
		return 0
	}
	left := time.Unix(0, next).Sub(d.now())
	if left < 0 {
		return 0
	}
	return left
}

func (d *Driver) NextRefresh() time.Time {
	next := d.nextRefresh.Load()
	if next == 0 {
		return time.Time{}
	}
	return time.Unix(0, next)
}

func (d *Driver) Paused() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.paused
}

// Run performs an initial cycle and then one per interval until ctx ends.
func (d *Driver) Run(ctx context.Context) error {
	log := d.log.WithComponent("poller").WithFields(logger.Fields{
		"interval":   d.cfg.Interval.String(),
		"currency":   d.cfg.Query.Currency,
		"page_size":  d.cfg.Query.PerPage,
		"page":       d.cfg.Query.Page,
		"breaker_at": d.cfg.MaxConsecutiveFailures,
	})
	log.Info("starting poller")

	interval := d.cfg.Interval
	start := time.Now()
	d.tick(ctx)

	nextTick := nextTickAfter(start, interval)
	d.nextRefresh.Store(nextTick.UnixNano())
	timer := time.NewTimer(time.Until(nextTick))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			d.nextRefresh.Store(0)
			log.Info("poller stopped due to context cancellation")
			return nil
		case <-timer.C:
			start := time.Now()
			d.tick(ctx)
			duration := time.Since(start)

			if duration > interval {
				log.WithFields(logger.Fields{
					"duration": duration.Milliseconds(),
					"interval": interval.Milliseconds(),
				}).Warn("fetch took longer than interval")
			}

			nextTick = nextTickAfter(start, interval)
			d.nextRefresh.Store(nextTick.UnixNano())
			timer.Reset(time.Until(nextTick))
		}
	}
}

// nextTickAfter spaces cycles one interval apart, measured from the start
// of the previous tick. An overrunning tick pushes the schedule back
// rather than firing immediately.
func nextTickAfter(start time.Time, interval time.Duration) time.Time {
	next := start.Add(interval)
	if now := time.Now(); !next.After(now) {
		next = now.Add(interval)
	}
	return next
}

func (d *Driver) tick(ctx context.Context) {
	if _, err := d.TryRefresh(ctx); err != nil {
		switch {
		case errors.Is(err, ErrPaused):
			d.log.WithComponent("poller").Debug("poller paused, skipping tick")
		case errors.Is(err, ErrCycleInFlight):
			d.log.WithComponent("poller").Warn("previous cycle still running, skipping tick")
		}
	}
}

func (d *Driver) tryAcquire() bool {
	select {
	case d.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

func (d *Driver) acquire(ctx context.Context) error {
	select {
	case d.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Driver) release() { <-d.sem }

// TryRefresh runs a scheduled cycle unless one is in flight or the breaker
// is open.
func (d *Driver) TryRefresh(ctx context.Context) (CycleReport, error) {
	if d.Paused() {
		return CycleReport{}, ErrPaused
	}
	if !d.tryAcquire() {
		return CycleReport{}, ErrCycleInFlight
	}
	defer d.release()
	rep := d.runCycle(ctx)
	return rep, rep.Err
}

// Refresh runs a cycle now, waiting for an in-flight one to finish first.
// force drops cached responses so the source is queried. A successful
// manual refresh closes the circuit breaker.
func (d *Driver) Refresh(ctx context.Context, force bool) (CycleReport, error) {
	if err := d.acquire(ctx); err != nil {
		return CycleReport{}, err
	}
	defer d.release()

	if force {
		if err := d.fetcher.InvalidateCache(ctx); err != nil {
			d.log.WithComponent("poller").WithError(err).Warn("failed to invalidate fetch cache")
		}
	}
	rep := d.runCycle(ctx)
	if rep.Err == nil {
		d.Resume()
	}
	return rep, rep.Err
}

// Resume closes the circuit breaker.
func (d *Driver) Resume() {
	d.mu.Lock()
	wasPaused := d.paused
	d.paused = false
	d.failures = 0
	d.mu.Unlock()

	d.updateState(func(s *State) {
		s.Paused = false
		s.ConsecutiveFailures = 0
	})
	if wasPaused {
		d.log.WithComponent("poller").Info("poller resumed")
	}
}

// Reset clears the snapshot history, alerts and fetch cache. It waits for
// an in-flight cycle.
func (d *Driver) Reset(ctx context.Context) error {
	if err := d.acquire(ctx); err != nil {
		return err
	}
	defer d.release()

	d.store.Reset()
	d.alerts.Reset()
	if err := d.fetcher.InvalidateCache(ctx); err != nil {
		d.log.WithComponent("poller").WithError(err).Warn("failed to invalidate fetch cache")
	}

	d.mu.Lock()
	d.failures = 0
	d.paused = false
	d.successes = 0
	d.mu.Unlock()

	d.state.Store(&State{})
	d.log.WithComponent("poller").Info("dashboard state reset")
	return nil
}

func (d *Driver) updateState(fn func(*State)) {
	for {
		cur := d.state.Load()
		next := *cur
		fn(&next)
		if d.state.CompareAndSwap(cur, &next) {
			return
		}
	}
}

// runCycle must be called with the semaphore held.
func (d *Driver) runCycle(ctx context.Context) CycleReport {
	runID := uuid.New().String()
	start := d.now()
	log := d.log.WithComponent("poller").WithFields(logger.Fields{"run_id": runID})

	fctx, cancel := context.WithTimeout(ctx, d.cfg.FetchTimeout)
	coins, err := d.fetcher.FetchMarkets(fctx, d.cfg.Query)
	cancel()
	fetchDuration := d.now().Sub(start)
	logger.IncrementFetch(err == nil)

	if err != nil {
		return d.fail(runID, start, fetchDuration, fmt.Errorf("fetch markets: %w", err))
	}
	logger.LogDataFlowEntry(log, "coingecko", "snapshot_store", len(coins), "coins")

	res := d.store.RecordCycle(coins)
	records := enrich.Enrich(coins, d.store)
	raised := d.alerts.Evaluate(records)
	stats := d.store.Stats()
	logger.IncrementCycle()

	d.mu.Lock()
	d.failures = 0
	if !res.Failed {
		d.successes++
	}
	successes := d.successes
	d.mu.Unlock()

	d.state.Store(&State{
		RunID:      runID,
		Cycle:      res.Cycle,
		Records:    records,
		Summary:    enrich.Summarize(records),
		NewAlerts:  raised,
		LastUpdate: res.Timestamp,
	})

	rep := CycleReport{
		RunID:     runID,
		Cycle:     res.Cycle,
		Saved:     res.Saved,
		Skipped:   res.Skipped,
		Failed:    res.Failed,
		Duration:  d.now().Sub(start),
		NewAlerts: len(raised),
	}
	metrics.ReportCycle(d.log, d.metrics, metrics.CycleStats{
		RunID:              runID,
		Cycle:              res.Cycle,
		Duration:           rep.Duration,
		FetchDuration:      fetchDuration,
		Saved:              res.Saved,
		Skipped:            res.Skipped,
		Failed:             res.Failed,
		TrackedCoins:       stats.TrackedCoins,
		DataQualityPercent: stats.DataQualityPercent,
		Alerts:             raised,
	})

	d.publish(ctx, log, raised)
	if d.cfg.AutoExportEvery > 0 && !res.Failed && successes%int64(d.cfg.AutoExportEvery) == 0 {
		d.autoExport(ctx, log, records)
	}
	return rep
}

func (d *Driver) fail(runID string, start time.Time, fetchDuration time.Duration, err error) CycleReport {
	d.mu.Lock()
	d.failures++
	failures := d.failures
	opened := false
	if d.cfg.MaxConsecutiveFailures > 0 && failures >= d.cfg.MaxConsecutiveFailures && !d.paused {
		d.paused = true
		opened = true
	}
	paused := d.paused
	d.mu.Unlock()

	now := d.now()
	d.updateState(func(s *State) {
		s.LastError = err.Error()
		s.LastErrorAt = now
		s.ConsecutiveFailures = failures
		s.Paused = paused
	})

	log := d.log.WithComponent("poller").WithFields(logger.Fields{
		"run_id":               runID,
		"consecutive_failures": failures,
	})
	log.WithError(err).Warn("market fetch failed")
	if opened {
		log.Error("too many consecutive failures, polling paused until resumed")
	}

	stats := d.store.Stats()
	metrics.ReportCycle(d.log, d.metrics, metrics.CycleStats{
		RunID:               runID,
		Cycle:               stats.CycleCount,
		Duration:            now.Sub(start),
		FetchDuration:       fetchDuration,
		Failed:              true,
		TrackedCoins:        stats.TrackedCoins,
		DataQualityPercent:  stats.DataQualityPercent,
		ConsecutiveFailures: failures,
	})
	return CycleReport{RunID: runID, Failed: true, Duration: now.Sub(start), Err: err}
}

func (d *Driver) publish(ctx context.Context, log *logger.Entry, raised []models.Alert) {
	if len(raised) == 0 {
		return
	}
	for _, p := range d.publishers {
		pctx, cancel := context.WithTimeout(ctx, d.cfg.PublishTimeout)
		if err := p.Publish(pctx, raised); err != nil {
			log.WithError(err).Warn("failed to publish alerts")
		}
		cancel()
	}
}

func (d *Driver) autoExport(ctx context.Context, log *logger.Entry, records []models.EnrichedCoin) {
	if d.exporter == nil || !d.exporter.Enabled() {
		return
	}
	now := d.now()
	for _, f := range d.exporter.Formats() {
		doc, err := export.Render(f, records, now, d.exporter.Options())
		if err != nil {
			log.WithError(err).Warn("failed to render export")
			continue
		}
		locations, err := d.exporter.Write(ctx, doc)
		metrics.ReportExport(d.log, d.metrics, metrics.ExportStats{
			Format:    string(f),
			Records:   doc.Records,
			Bytes:     len(doc.Data),
			Locations: locations,
			Err:       err,
		})
	}
}
