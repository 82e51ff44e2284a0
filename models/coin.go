package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Coin is one row of the CoinGecko /coins/markets response. Nullable numeric
// fields stay null when the source omits them.
type Coin struct {
	ID            string              `json:"id"`
	Symbol        string              `json:"symbol"`
	Name          string              `json:"name"`
	Image         string              `json:"image"`
	CurrentPrice  decimal.NullDecimal `json:"current_price"`
	MarketCap     decimal.NullDecimal `json:"market_cap"`
	MarketCapRank int                 `json:"market_cap_rank"`
	TotalVolume   decimal.NullDecimal `json:"total_volume"`
	LastUpdated   time.Time           `json:"last_updated"`
}

// Snapshot is the immutable price/volume observation of a coin at one cycle.
type Snapshot struct {
	Price     decimal.Decimal `json:"price"`
	Volume    decimal.Decimal `json:"volume"`
	Cycle     int64           `json:"cycle"`
	Timestamp time.Time       `json:"timestamp"`
}

// EnrichedCoin joins a Coin with the analytics derived from its history.
type EnrichedCoin struct {
	Coin
	PriceChanges  map[string]Percent  `json:"price_changes"`
	VolumeChanges map[string]Percent  `json:"volume_changes"`
	AvgVolume24h  decimal.NullDecimal `json:"avg_volume_24h"`
	VolumeVsAvg   Percent             `json:"volume_vs_avg"`
}

// PriceChange returns the change for timeframe id, unavailable if absent.
func (c EnrichedCoin) PriceChange(id string) Percent {
	return c.PriceChanges[id]
}

// VolumeChange returns the volume change for timeframe id.
func (c EnrichedCoin) VolumeChange(id string) Percent {
	return c.VolumeChanges[id]
}

// NewDecimal wraps a decimal into a valid NullDecimal.
func NewDecimal(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}
