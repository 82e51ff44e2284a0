package alert

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptodash/logger"
	"cryptodash/models"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestEvaluator(cfg Config) (*Evaluator, *clock) {
	log := logger.Logger()
	log.SetOutput(&bytes.Buffer{})
	c := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	e := NewEvaluator(cfg, log)
	e.now = c.now
	return e, c
}

func record(id string, p5, p15, vol models.Percent) models.EnrichedCoin {
	return models.EnrichedCoin{
		Coin:         models.Coin{ID: id, Name: id, Symbol: id[:1]},
		PriceChanges: map[string]models.Percent{"5m": p5, "15m": p15},
		VolumeVsAvg:  vol,
	}
}

func TestEvaluateRules(t *testing.T) {
	e, _ := newTestEvaluator(DefaultConfig())

	tests := []struct {
		name     string
		rec      models.EnrichedCoin
		kind     models.AlertKind
		severity models.Severity
	}{
		{"price 5m medium", record("a", models.PercentOf(5), models.Unavailable, models.Unavailable), models.AlertPrice5m, models.SeverityMedium},
		{"price 5m high negative", record("b", models.PercentOf(-10.5), models.Unavailable, models.Unavailable), models.AlertPrice5m, models.SeverityHigh},
		{"price 15m medium", record("c", models.Unavailable, models.PercentOf(-9), models.Unavailable), models.AlertPrice15m, models.SeverityMedium},
		{"price 15m high", record("d", models.Unavailable, models.PercentOf(17), models.Unavailable), models.AlertPrice15m, models.SeverityHigh},
		{"volume spike medium", record("e", models.Unavailable, models.Unavailable, models.PercentOf(50)), models.AlertVolumeHigh, models.SeverityMedium},
		{"volume spike high", record("f", models.Unavailable, models.Unavailable, models.PercentOf(150)), models.AlertVolumeHigh, models.SeverityHigh},
		{"volume drop", record("g", models.Unavailable, models.Unavailable, models.PercentOf(-30)), models.AlertVolumeLow, models.SeverityLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Evaluate([]models.EnrichedCoin{tt.rec})
			require.Len(t, got, 1)
			assert.Equal(t, tt.kind, got[0].Kind)
			assert.Equal(t, tt.severity, got[0].Severity)
			assert.Equal(t, tt.rec.ID, got[0].CoinID)
			assert.NotEmpty(t, got[0].Message)
		})
	}
}

func TestEvaluateBelowThreshold(t *testing.T) {
	e, _ := newTestEvaluator(DefaultConfig())
	got := e.Evaluate([]models.EnrichedCoin{
		record("quiet", models.PercentOf(4.99), models.PercentOf(-7.9), models.PercentOf(-29)),
		record("empty", models.Unavailable, models.Unavailable, models.Unavailable),
	})
	assert.Empty(t, got)
	assert.Empty(t, e.All())
}

func TestEvaluateIndependentRules(t *testing.T) {
	e, _ := newTestEvaluator(DefaultConfig())
	got := e.Evaluate([]models.EnrichedCoin{
		record("all", models.PercentOf(6), models.PercentOf(9), models.PercentOf(70)),
	})
	require.Len(t, got, 3)
	assert.Equal(t, models.AlertPrice5m, got[0].Kind)
	assert.Equal(t, models.AlertPrice15m, got[1].Kind)
	assert.Equal(t, models.AlertVolumeHigh, got[2].Kind)
}

func TestEvaluateDedupWithinBucket(t *testing.T) {
	e, c := newTestEvaluator(DefaultConfig())
	rec := []models.EnrichedCoin{record("bitcoin", models.PercentOf(6), models.Unavailable, models.Unavailable)}

	require.Len(t, e.Evaluate(rec), 1)
	c.advance(10 * time.Second)
	assert.Empty(t, e.Evaluate(rec))
	assert.Len(t, e.All(), 1)

	// Next one-minute bucket fires again.
	c.advance(time.Minute)
	assert.Len(t, e.Evaluate(rec), 1)
	assert.Len(t, e.All(), 2)
}

func TestEvaluateNewestFirstAndCapped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAlerts = 5
	e, c := newTestEvaluator(cfg)

	for i := 0; i < 4; i++ {
		recs := []models.EnrichedCoin{
			record(fmt.Sprintf("coin%d-a", i), models.PercentOf(6), models.Unavailable, models.Unavailable),
			record(fmt.Sprintf("coin%d-b", i), models.PercentOf(6), models.Unavailable, models.Unavailable),
		}
		e.Evaluate(recs)
		c.advance(time.Second)
	}

	all := e.All()
	require.Len(t, all, 5)
	assert.Equal(t, "coin3-a", all[0].CoinID)
	assert.Equal(t, "coin3-b", all[1].CoinID)
	assert.Equal(t, "coin2-a", all[2].CoinID)
	assert.Equal(t, "coin1-a", all[4].CoinID)
}

func TestDefaultCap(t *testing.T) {
	e, _ := newTestEvaluator(DefaultConfig())
	var recs []models.EnrichedCoin
	for i := 0; i < 60; i++ {
		recs = append(recs, record(fmt.Sprintf("c%02d", i), models.PercentOf(6), models.Unavailable, models.Unavailable))
	}
	assert.Len(t, e.Evaluate(recs), 60)
	assert.Len(t, e.All(), 50)
}

func TestPruneForgetsOldKeys(t *testing.T) {
	e, c := newTestEvaluator(DefaultConfig())
	e.Evaluate([]models.EnrichedCoin{record("bitcoin", models.PercentOf(6), models.Unavailable, models.Unavailable)})
	assert.Equal(t, 1, e.SeenKeys())

	c.advance(30 * time.Minute)
	e.Evaluate(nil)
	assert.Equal(t, 1, e.SeenKeys())

	c.advance(31 * time.Minute)
	e.Evaluate(nil)
	assert.Equal(t, 0, e.SeenKeys())
}

func TestRemoveClearReset(t *testing.T) {
	e, c := newTestEvaluator(DefaultConfig())
	rec := []models.EnrichedCoin{record("bitcoin", models.PercentOf(6), models.PercentOf(9), models.Unavailable)}
	got := e.Evaluate(rec)
	require.Len(t, got, 2)

	assert.True(t, e.Remove(got[0].ID))
	assert.False(t, e.Remove(got[0].ID))
	assert.Len(t, e.All(), 1)

	e.Clear()
	assert.Empty(t, e.All())
	// Dedup memory survives Clear.
	assert.Empty(t, e.Evaluate(rec))

	e.Reset()
	assert.Equal(t, 0, e.SeenKeys())
	c.advance(time.Second)
	assert.Len(t, e.Evaluate(rec), 2)
}

func TestRecent(t *testing.T) {
	e, c := newTestEvaluator(DefaultConfig())
	e.Evaluate([]models.EnrichedCoin{record("old", models.PercentOf(6), models.Unavailable, models.Unavailable)})
	c.advance(10 * time.Minute)
	e.Evaluate([]models.EnrichedCoin{record("new", models.PercentOf(6), models.Unavailable, models.Unavailable)})

	recent := e.Recent(5 * time.Minute)
	require.Len(t, recent, 1)
	assert.Equal(t, "new", recent[0].CoinID)
}

func TestSetThresholds(t *testing.T) {
	e, _ := newTestEvaluator(DefaultConfig())
	assert.ErrorIs(t, e.SetThresholds(Thresholds{Price5m: 0, Price15m: 1, VolumeSpike: 1, VolumeDrop: 1}), ErrInvalidThreshold)

	require.NoError(t, e.SetThresholds(Thresholds{Price5m: 1, Price15m: 2, VolumeSpike: 10, VolumeDrop: 5}))
	assert.Equal(t, 1.0, e.Thresholds().Price5m)

	got := e.Evaluate([]models.EnrichedCoin{record("x", models.PercentOf(1.5), models.Unavailable, models.PercentOf(-6))})
	require.Len(t, got, 2)
	assert.Equal(t, models.AlertPrice5m, got[0].Kind)
	assert.Equal(t, models.AlertVolumeLow, got[1].Kind)
}

func TestDedupKey(t *testing.T) {
	at := time.UnixMilli(125_000)
	assert.Equal(t, "btc:price-5m:2", DedupKey("btc", models.AlertPrice5m, at, time.Minute))
	assert.Equal(t, "btc:volume-low:0", DedupKey("btc", models.AlertVolumeLow, at, 5*time.Minute))
}
