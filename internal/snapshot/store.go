// Package snapshot keeps a bounded per-coin history of price and volume
// observations and derives multi-timeframe changes from it.
//
// Time is measured in polling cycles rather than wall-clock time: a change
// over a timeframe compares the current value with the snapshot recorded
// closest to the cycle that lies the timeframe's length in the past.
package snapshot

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"cryptodash/internal/timeframe"
	"cryptodash/logger"
	"cryptodash/models"
)

var (
	ErrUnknownTimeframe = errors.New("unknown timeframe")
	ErrUnknownCoin      = errors.New("coin has no recorded history")
)

var hundred = decimal.NewFromInt(100)

type Config struct {
	CycleMinutes int
	// Retention caps the snapshots kept per coin.
	Retention      int
	ToleranceRatio float64
	MinTolerance   float64
	// VolumeWindow is the number of most recent snapshots averaged for the
	// 24h volume; MinVolumeSamples is the least that yields a value.
	VolumeWindow     int
	MinVolumeSamples int
}

func DefaultConfig() Config {
	return Config{
		CycleMinutes:     5,
		Retention:        2016,
		ToleranceRatio:   0.2,
		MinTolerance:     1,
		VolumeWindow:     288,
		MinVolumeSamples: 10,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.CycleMinutes <= 0 {
		c.CycleMinutes = def.CycleMinutes
	}
	if c.Retention <= 0 {
		c.Retention = def.Retention
	}
	if c.ToleranceRatio <= 0 {
		c.ToleranceRatio = def.ToleranceRatio
	}
	if c.MinTolerance <= 0 {
		c.MinTolerance = def.MinTolerance
	}
	if c.VolumeWindow <= 0 {
		c.VolumeWindow = 24 * 60 / c.CycleMinutes
	}
	if c.MinVolumeSamples <= 0 {
		c.MinVolumeSamples = def.MinVolumeSamples
	}
	return c
}

// CycleResult summarises one RecordCycle call.
type CycleResult struct {
	Cycle     int64     `json:"cycle"`
	Saved     int       `json:"saved"`
	Skipped   int       `json:"skipped"`
	Evicted   int       `json:"evicted"`
	Failed    bool      `json:"failed"`
	Timestamp time.Time `json:"timestamp"`
}

type Stats struct {
	TrackedCoins       int       `json:"tracked_coins"`
	CycleCount         int64     `json:"cycle_count"`
	SuccessfulCycles   int64     `json:"successful_cycles"`
	FailedCycles       int64     `json:"failed_cycles"`
	LastSnapshotTime   time.Time `json:"last_snapshot_time"`
	AvgHistoryLength   float64   `json:"avg_history_length"`
	DataQualityPercent float64   `json:"data_quality_percent"`
}

type Store struct {
	cfg Config
	log *logger.Log
	now func() time.Time

	mu         sync.RWMutex
	histories  map[string]*history
	cycleCount int64
	successful int64
	failed     int64
	lastRecord time.Time
}

func New(cfg Config, log *logger.Log) *Store {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Store{
		cfg:       cfg.withDefaults(),
		log:       log,
		now:       time.Now,
		histories: make(map[string]*history),
	}
}

func (s *Store) Config() Config { return s.cfg }

// RecordCycle advances the cycle counter and appends a snapshot for every
// valid coin. A cycle that saves nothing counts as failed.
func (s *Store) RecordCycle(coins []models.Coin) CycleResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cycleCount++
	ts := s.now()
	s.lastRecord = ts
	res := CycleResult{Cycle: s.cycleCount, Timestamp: ts}

	for _, c := range coins {
		snap, ok := snapshotOf(c, s.cycleCount, ts)
		if !ok {
			res.Skipped++
			continue
		}
		h, exists := s.histories[c.ID]
		if !exists {
			h = newHistory(s.cfg.Retention)
			s.histories[c.ID] = h
		}
		if h.push(snap) {
			res.Evicted++
		}
		res.Saved++
	}

	if res.Saved == 0 {
		res.Failed = true
		s.failed++
	} else {
		s.successful++
	}

	entry := s.log.WithComponent("snapshot_store").WithFields(logger.Fields{
		"cycle":   res.Cycle,
		"saved":   res.Saved,
		"skipped": res.Skipped,
		"evicted": res.Evicted,
		"coins":   len(s.histories),
	})
	if res.Failed {
		entry.Warn("cycle recorded no snapshots")
	} else {
		entry.Debug("cycle recorded")
	}
	return res
}

func snapshotOf(c models.Coin, cycle int64, ts time.Time) (models.Snapshot, bool) {
	if c.ID == "" || !c.CurrentPrice.Valid || !c.TotalVolume.Valid {
		return models.Snapshot{}, false
	}
	if !c.CurrentPrice.Decimal.IsPositive() || c.TotalVolume.Decimal.IsNegative() {
		return models.Snapshot{}, false
	}
	return models.Snapshot{
		Price:     c.CurrentPrice.Decimal,
		Volume:    c.TotalVolume.Decimal,
		Cycle:     cycle,
		Timestamp: ts,
	}, true
}

func priceOf(s models.Snapshot) decimal.Decimal  { return s.Price }
func volumeOf(s models.Snapshot) decimal.Decimal { return s.Volume }

// PriceChangePercent compares current with the price recorded one
// timeframe ago.
func (s *Store) PriceChangePercent(id string, current decimal.Decimal, timeframeID string) (models.Percent, error) {
	return s.changePercent(id, current, timeframeID, priceOf)
}

// VolumeChangePercent compares current with the 24h volume recorded one
// timeframe ago.
func (s *Store) VolumeChangePercent(id string, current decimal.Decimal, timeframeID string) (models.Percent, error) {
	return s.changePercent(id, current, timeframeID, volumeOf)
}

func (s *Store) changePercent(id string, current decimal.Decimal, timeframeID string, field func(models.Snapshot) decimal.Decimal) (models.Percent, error) {
	tf, ok := timeframe.Lookup(timeframeID)
	if !ok {
		return models.Unavailable, fmt.Errorf("%w: %q", ErrUnknownTimeframe, timeframeID)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.histories[id]
	if !ok {
		return models.Unavailable, fmt.Errorf("%w: %q", ErrUnknownCoin, id)
	}
	return s.changeLocked(h, current, tf, field), nil
}

func (s *Store) changeLocked(h *history, current decimal.Decimal, tf timeframe.Timeframe, field func(models.Snapshot) decimal.Decimal) models.Percent {
	if h.len() < 2 {
		return models.Unavailable
	}
	cyclesBack := tf.CyclesBack(s.cfg.CycleMinutes)
	if cyclesBack == 0 {
		return models.Unavailable
	}

	target := s.cycleCount - int64(cyclesBack)
	match, distance := h.closest(target)
	tolerance := math.Max(s.cfg.MinTolerance, float64(cyclesBack)*s.cfg.ToleranceRatio)
	if float64(distance) > tolerance {
		return models.Unavailable
	}

	old := field(match)
	if old.IsZero() {
		return models.Unavailable
	}
	pct := current.Sub(old).Div(old).Mul(hundred)
	return models.PercentOf(pct.InexactFloat64())
}

// AllPriceChanges evaluates every registered timeframe for one coin.
func (s *Store) AllPriceChanges(id string, current decimal.Decimal) (map[string]models.Percent, error) {
	return s.allChanges(id, current, priceOf)
}

func (s *Store) AllVolumeChanges(id string, current decimal.Decimal) (map[string]models.Percent, error) {
	return s.allChanges(id, current, volumeOf)
}

func (s *Store) allChanges(id string, current decimal.Decimal, field func(models.Snapshot) decimal.Decimal) (map[string]models.Percent, error) {
	tfs := timeframe.All()
	out := make(map[string]models.Percent, len(tfs))

	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.histories[id]
	if !ok {
		for _, tf := range tfs {
			out[tf.ID] = models.Unavailable
		}
		return out, fmt.Errorf("%w: %q", ErrUnknownCoin, id)
	}
	for _, tf := range tfs {
		out[tf.ID] = s.changeLocked(h, current, tf, field)
	}
	return out, nil
}

// AverageVolume24h averages the volume of the most recent VolumeWindow
// snapshots.
func (s *Store) AverageVolume24h(id string) (decimal.NullDecimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.histories[id]
	if !ok {
		return decimal.NullDecimal{}, fmt.Errorf("%w: %q", ErrUnknownCoin, id)
	}
	if h.len() < s.cfg.MinVolumeSamples {
		return decimal.NullDecimal{}, nil
	}

	window := h.tail(s.cfg.VolumeWindow)
	sum := decimal.Zero
	for _, snap := range window {
		sum = sum.Add(snap.Volume)
	}
	return models.NewDecimal(sum.Div(decimal.NewFromInt(int64(len(window))))), nil
}

// HasDataForTimeframe reports whether enough cycles have elapsed for the
// timeframe to possibly resolve.
func (s *Store) HasDataForTimeframe(timeframeID string) (bool, error) {
	tf, ok := timeframe.Lookup(timeframeID)
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownTimeframe, timeframeID)
	}
	cyclesBack := tf.CyclesBack(s.cfg.CycleMinutes)
	if cyclesBack == 0 {
		return false, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cycleCount >= int64(cyclesBack), nil
}

// History returns a copy of a coin's snapshots, oldest first.
func (s *Store) History(id string) ([]models.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.histories[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCoin, id)
	}
	return h.tail(h.len()), nil
}

func (s *Store) CycleCount() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cycleCount
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		TrackedCoins:     len(s.histories),
		CycleCount:       s.cycleCount,
		SuccessfulCycles: s.successful,
		FailedCycles:     s.failed,
		LastSnapshotTime: s.lastRecord,
	}
	if len(s.histories) > 0 {
		total := 0
		for _, h := range s.histories {
			total += h.len()
		}
		st.AvgHistoryLength = float64(total) / float64(len(s.histories))
	}
	if s.cycleCount > 0 {
		st.DataQualityPercent = float64(s.successful) / float64(s.cycleCount) * 100
	}
	return st
}

// Reset drops all history and counters.
func (s *Store) Reset() {
	s.mu.Lock()
	s.histories = make(map[string]*history)
	s.cycleCount = 0
	s.successful = 0
	s.failed = 0
	s.lastRecord = time.Time{}
	s.mu.Unlock()

	s.log.WithComponent("snapshot_store").Info("snapshot history reset")
}
