package enrich

import (
	"bytes"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptodash/internal/snapshot"
	"cryptodash/logger"
	"cryptodash/models"
)

func coin(id string, price, volume int64) models.Coin {
	return models.Coin{
		ID:           id,
		Name:         id,
		CurrentPrice: models.NewDecimal(decimal.NewFromInt(price)),
		TotalVolume:  models.NewDecimal(decimal.NewFromInt(volume)),
	}
}

func newStore() *snapshot.Store {
	log := logger.Logger()
	log.SetOutput(&bytes.Buffer{})
	return snapshot.New(snapshot.Config{VolumeWindow: 288}, log)
}

func TestEnrichJoinsHistory(t *testing.T) {
	store := newStore()
	// 12 cycles at price 100 / volume 1000, then one at 110 / 2300.
	for i := 0; i < 12; i++ {
		store.RecordCycle([]models.Coin{coin("bitcoin", 100, 1000)})
	}
	latest := []models.Coin{coin("bitcoin", 110, 2300)}
	store.RecordCycle(latest)

	out := Enrich(latest, store)
	require.Len(t, out, 1)
	rec := out[0]

	assert.Equal(t, "bitcoin", rec.ID)
	assert.Len(t, rec.PriceChanges, 14)
	require.True(t, rec.PriceChange("5m").Valid)
	assert.InDelta(t, 10.0, rec.PriceChange("5m").Value, 1e-9)
	require.True(t, rec.PriceChange("1h").Valid)
	assert.InDelta(t, 10.0, rec.PriceChange("1h").Value, 1e-9)
	assert.False(t, rec.PriceChange("3m").Valid)
	assert.False(t, rec.PriceChange("24h").Valid)

	require.True(t, rec.VolumeChange("5m").Valid)
	assert.InDelta(t, 130.0, rec.VolumeChange("5m").Value, 1e-9)

	// Average over 13 samples: (12*1000 + 2300) / 13 = 1100.
	require.True(t, rec.AvgVolume24h.Valid)
	assert.True(t, rec.AvgVolume24h.Decimal.Equal(decimal.NewFromInt(1100)), rec.AvgVolume24h.Decimal.String())
	require.True(t, rec.VolumeVsAvg.Valid)
	assert.InDelta(t, 109.090909, rec.VolumeVsAvg.Value, 1e-5)
}

func TestEnrichUnknownCoinIsUnavailable(t *testing.T) {
	store := newStore()
	bad := models.Coin{ID: "ghost", CurrentPrice: models.NewDecimal(decimal.NewFromInt(1))}
	store.RecordCycle([]models.Coin{bad})

	out := Enrich([]models.Coin{bad}, store)
	require.Len(t, out, 1)
	for id, p := range out[0].PriceChanges {
		assert.False(t, p.Valid, id)
	}
	assert.False(t, out[0].AvgVolume24h.Valid)
	assert.False(t, out[0].VolumeVsAvg.Valid)
}

func TestEnrichIsDeterministic(t *testing.T) {
	store := newStore()
	for i := 0; i < 15; i++ {
		store.RecordCycle([]models.Coin{coin("bitcoin", int64(100+i), 1000), coin("ethereum", 50, int64(10+i))})
	}
	latest := []models.Coin{coin("bitcoin", 120, 900), coin("ethereum", 55, 40)}
	assert.Equal(t, Enrich(latest, store), Enrich(latest, store))
}

func TestVolumeVsAverageZeroAverage(t *testing.T) {
	got := volumeVsAverage(models.NewDecimal(decimal.NewFromInt(5)), models.NewDecimal(decimal.Zero))
	assert.False(t, got.Valid)
}

func TestSummarize(t *testing.T) {
	mk := func(change models.Percent, vol models.Percent) models.EnrichedCoin {
		return models.EnrichedCoin{
			PriceChanges: map[string]models.Percent{"24h": change},
			VolumeVsAvg:  vol,
		}
	}
	records := []models.EnrichedCoin{
		mk(models.PercentOf(4), models.PercentOf(60)),
		mk(models.PercentOf(-2), models.PercentOf(10)),
		mk(models.PercentOf(0), models.Unavailable),
		mk(models.Unavailable, models.PercentOf(51)),
	}
	s := Summarize(records)
	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 1, s.Gainers)
	assert.Equal(t, 1, s.Losers)
	assert.Equal(t, 2, s.HighVolume)
	require.True(t, s.AvgChange24h.Valid)
	assert.InDelta(t, 2.0/3.0, s.AvgChange24h.Value, 1e-9)

	assert.False(t, Summarize(nil).AvgChange24h.Valid)
}
