// Package enrich joins the coins of the latest fetch with the analytics the
// snapshot history can provide for them.
package enrich

import (
	"github.com/shopspring/decimal"

	"cryptodash/internal/timeframe"
	"cryptodash/models"
)

// Source is the subset of the snapshot store enrichment reads from.
type Source interface {
	AllPriceChanges(id string, current decimal.Decimal) (map[string]models.Percent, error)
	AllVolumeChanges(id string, current decimal.Decimal) (map[string]models.Percent, error)
	AverageVolume24h(id string) (decimal.NullDecimal, error)
}

var hundred = decimal.NewFromInt(100)

// Enrich derives per-timeframe changes and volume indicators for every coin.
// It never mutates its input and produces the same output for the same store
// state.
func Enrich(coins []models.Coin, src Source) []models.EnrichedCoin {
	out := make([]models.EnrichedCoin, 0, len(coins))
	for _, c := range coins {
		out = append(out, enrichOne(c, src))
	}
	return out
}

func enrichOne(c models.Coin, src Source) models.EnrichedCoin {
	rec := models.EnrichedCoin{
		Coin:          c,
		PriceChanges:  unavailableChanges(),
		VolumeChanges: unavailableChanges(),
	}

	// Coins skipped by the store's validation have no history
	// (snapshot.ErrUnknownCoin) and keep the all-unavailable defaults.
	if !c.CurrentPrice.Valid {
		return rec
	}
	changes, err := src.AllPriceChanges(c.ID, c.CurrentPrice.Decimal)
	if err != nil {
		return rec
	}
	rec.PriceChanges = changes

	if c.TotalVolume.Valid {
		if changes, err := src.AllVolumeChanges(c.ID, c.TotalVolume.Decimal); err == nil {
			rec.VolumeChanges = changes
		}
	}

	avg, err := src.AverageVolume24h(c.ID)
	if err != nil {
		return rec
	}
	rec.AvgVolume24h = avg
	rec.VolumeVsAvg = volumeVsAverage(c.TotalVolume, avg)
	return rec
}

func volumeVsAverage(current, avg decimal.NullDecimal) models.Percent {
	if !current.Valid || !avg.Valid || avg.Decimal.IsZero() {
		return models.Unavailable
	}
	pct := current.Decimal.Sub(avg.Decimal).Div(avg.Decimal).Mul(hundred)
	return models.PercentOf(pct.InexactFloat64())
}

func unavailableChanges() map[string]models.Percent {
	ids := timeframe.IDs()
	m := make(map[string]models.Percent, len(ids))
	for _, id := range ids {
		m[id] = models.Unavailable
	}
	return m
}
