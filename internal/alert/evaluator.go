// Package alert turns enriched records into deduplicated threshold alerts.
package alert

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"cryptodash/logger"
	"cryptodash/models"
)

// Publisher forwards newly raised alerts to an external system.
type Publisher interface {
	Publish(ctx context.Context, alerts []models.Alert) error
	Close() error
}

var ErrInvalidThreshold = errors.New("alert thresholds must be positive")

// Thresholds are absolute percentages. VolumeDrop is compared against the
// negated value.
type Thresholds struct {
	Price5m     float64 `json:"price_5m"`
	Price15m    float64 `json:"price_15m"`
	VolumeSpike float64 `json:"volume_spike"`
	VolumeDrop  float64 `json:"volume_drop"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{Price5m: 5, Price15m: 8, VolumeSpike: 50, VolumeDrop: 30}
}

func (t Thresholds) Validate() error {
	if t.Price5m <= 0 || t.Price15m <= 0 || t.VolumeSpike <= 0 || t.VolumeDrop <= 0 {
		return ErrInvalidThreshold
	}
	return nil
}

type Config struct {
	Thresholds Thresholds
	MaxAlerts  int
	// DedupRetention bounds how long a dedup key is remembered.
	DedupRetention time.Duration
	PruneInterval  time.Duration
	// Bucket widths used when deriving dedup keys.
	Price5mBucket  time.Duration
	Price15mBucket time.Duration
	VolumeBucket   time.Duration
}

func DefaultConfig() Config {
	return Config{
		Thresholds:     DefaultThresholds(),
		MaxAlerts:      50,
		DedupRetention: time.Hour,
		PruneInterval:  10 * time.Minute,
		Price5mBucket:  time.Minute,
		Price15mBucket: 5 * time.Minute,
		VolumeBucket:   5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Thresholds == (Thresholds{}) {
		c.Thresholds = def.Thresholds
	}
	if c.MaxAlerts <= 0 {
		c.MaxAlerts = def.MaxAlerts
	}
	if c.DedupRetention <= 0 {
		c.DedupRetention = def.DedupRetention
	}
	if c.PruneInterval <= 0 {
		c.PruneInterval = def.PruneInterval
	}
	if c.Price5mBucket <= 0 {
		c.Price5mBucket = def.Price5mBucket
	}
	if c.Price15mBucket <= 0 {
		c.Price15mBucket = def.Price15mBucket
	}
	if c.VolumeBucket <= 0 {
		c.VolumeBucket = def.VolumeBucket
	}
	return c
}

// Evaluator keeps the bounded, newest-first alert list and the memory of
// dedup keys already emitted.
type Evaluator struct {
	cfg Config
	log *logger.Log
	now func() time.Time

	mu        sync.RWMutex
	alerts    []models.Alert
	seen      map[string]time.Time
	lastPrune time.Time
}

func NewEvaluator(cfg Config, log *logger.Log) *Evaluator {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Evaluator{
		cfg:  cfg.withDefaults(),
		log:  log,
		now:  time.Now,
		seen: make(map[string]time.Time),
	}
}

// Evaluate checks every record against the rules and returns the alerts
// raised by this call, in evaluation order.
func (e *Evaluator) Evaluate(records []models.EnrichedCoin) []models.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	e.pruneLocked(now)

	var raised []models.Alert
	for _, r := range records {
		for _, a := range e.checkLocked(r, now) {
			if _, dup := e.seen[a.ID]; dup {
				continue
			}
			e.seen[a.ID] = now
			raised = append(raised, a)
		}
	}
	if len(raised) == 0 {
		return nil
	}

	merged := make([]models.Alert, 0, len(raised)+len(e.alerts))
	merged = append(merged, raised...)
	merged = append(merged, e.alerts...)
	if len(merged) > e.cfg.MaxAlerts {
		merged = merged[:e.cfg.MaxAlerts]
	}
	e.alerts = merged

	for _, a := range raised {
		e.log.WithComponent("alerts").WithFields(logger.Fields{
			"coin":     a.CoinID,
			"kind":     a.Kind,
			"value":    a.Value,
			"severity": a.Severity,
		}).Info("alert raised")
	}
	logger.IncrementAlerts(len(raised))

	out := make([]models.Alert, len(raised))
	copy(out, raised)
	return out
}

func (e *Evaluator) checkLocked(r models.EnrichedCoin, now time.Time) []models.Alert {
	t := e.cfg.Thresholds
	var out []models.Alert

	if p := r.PriceChange("5m"); p.Valid && math.Abs(p.Value) >= t.Price5m {
		out = append(out, e.build(r, models.AlertPrice5m, p.Value, t.Price5m, priceSeverity(p.Value, t.Price5m), e.cfg.Price5mBucket, now))
	}
	if p := r.PriceChange("15m"); p.Valid && math.Abs(p.Value) >= t.Price15m {
		out = append(out, e.build(r, models.AlertPrice15m, p.Value, t.Price15m, priceSeverity(p.Value, t.Price15m), e.cfg.Price15mBucket, now))
	}
	if v := r.VolumeVsAvg; v.Valid {
		switch {
		case v.Value >= t.VolumeSpike:
			sev := models.SeverityMedium
			if v.Value > 100 {
				sev = models.SeverityHigh
			}
			out = append(out, e.build(r, models.AlertVolumeHigh, v.Value, t.VolumeSpike, sev, e.cfg.VolumeBucket, now))
		case v.Value <= -t.VolumeDrop:
			out = append(out, e.build(r, models.AlertVolumeLow, v.Value, t.VolumeDrop, models.SeverityLow, e.cfg.VolumeBucket, now))
		}
	}
	return out
}

func priceSeverity(value, threshold float64) models.Severity {
	if math.Abs(value) > 2*threshold {
		return models.SeverityHigh
	}
	return models.SeverityMedium
}

// DedupKey identifies an alert within its time bucket. Bucketing and
// pruning both work in milliseconds.
func DedupKey(coinID string, kind models.AlertKind, at time.Time, bucket time.Duration) string {
	width := bucket.Milliseconds()
	if width <= 0 {
		width = 1
	}
	return fmt.Sprintf("%s:%s:%d", coinID, kind, at.UnixMilli()/width)
}

func (e *Evaluator) build(r models.EnrichedCoin, kind models.AlertKind, value, threshold float64, sev models.Severity, bucket time.Duration, now time.Time) models.Alert {
	return models.Alert{
		ID:         DedupKey(r.ID, kind, now, bucket),
		CoinID:     r.ID,
		CoinName:   r.Name,
		CoinSymbol: r.Symbol,
		Kind:       kind,
		Value:      value,
		Threshold:  threshold,
		Severity:   sev,
		Message:    message(r, kind, value),
		Timestamp:  now,
	}
}

func message(r models.EnrichedCoin, kind models.AlertKind, value float64) string {
	name := r.Name
	if name == "" {
		name = r.ID
	}
	pct := models.PercentOf(value).String()
	switch kind {
	case models.AlertPrice5m:
		return fmt.Sprintf("%s moved %s in 5 minutes", name, pct)
	case models.AlertPrice15m:
		return fmt.Sprintf("%s moved %s in 15 minutes", name, pct)
	case models.AlertVolumeHigh:
		return fmt.Sprintf("%s volume is %s above its 24h average", name, pct)
	default:
		return fmt.Sprintf("%s volume is %s below its 24h average", name, pct)
	}
}

func (e *Evaluator) pruneLocked(now time.Time) {
	if now.Sub(e.lastPrune) < e.cfg.PruneInterval {
		return
	}
	e.lastPrune = now
	cutoff := now.UnixMilli() - e.cfg.DedupRetention.Milliseconds()
	for key, at := range e.seen {
		if at.UnixMilli() < cutoff {
			delete(e.seen, key)
		}
	}
}

// All returns the alert list, newest first.
func (e *Evaluator) All() []models.Alert {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]models.Alert, len(e.alerts))
	copy(out, e.alerts)
	return out
}

// Recent returns alerts raised within the last d.
func (e *Evaluator) Recent(d time.Duration) []models.Alert {
	cutoff := e.now().Add(-d)
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []models.Alert
	for _, a := range e.alerts {
		if a.Timestamp.After(cutoff) {
			out = append(out, a)
		}
	}
	return out
}

// Remove dismisses one alert. Its dedup key stays remembered.
func (e *Evaluator) Remove(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, a := range e.alerts {
		if a.ID == id {
			e.alerts = append(e.alerts[:i:i], e.alerts[i+1:]...)
			return true
		}
	}
	return false
}

// Clear dismisses every alert but keeps dedup memory, so cleared alerts do
// not immediately fire again.
func (e *Evaluator) Clear() {
	e.mu.Lock()
	e.alerts = nil
	e.mu.Unlock()
}

// Reset drops alerts and dedup memory.
func (e *Evaluator) Reset() {
	e.mu.Lock()
	e.alerts = nil
	e.seen = make(map[string]time.Time)
	e.lastPrune = time.Time{}
	e.mu.Unlock()
}

func (e *Evaluator) Thresholds() Thresholds {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg.Thresholds
}

func (e *Evaluator) SetThresholds(t Thresholds) error {
	if err := t.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.cfg.Thresholds = t
	e.mu.Unlock()

	e.log.WithComponent("alerts").WithFields(logger.Fields{
		"price_5m":     t.Price5m,
		"price_15m":    t.Price15m,
		"volume_spike": t.VolumeSpike,
		"volume_drop":  t.VolumeDrop,
	}).Info("alert thresholds updated")
	return nil
}

// SeenKeys reports how many dedup keys are currently remembered.
func (e *Evaluator) SeenKeys() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.seen)
}
