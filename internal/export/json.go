package export

import (
	"encoding/json"
	"io"
	"time"

	"github.com/shopspring/decimal"

	"cryptodash/models"
)

// Record is the JSON export shape of one coin. LastUpdated carries the
// export time, not the source's update time.
type Record struct {
	Rank          int                       `json:"rank"`
	Name          string                    `json:"name"`
	Symbol        string                    `json:"symbol"`
	ID            string                    `json:"id"`
	Price         decimal.NullDecimal       `json:"price"`
	MarketCap     decimal.NullDecimal       `json:"marketCap"`
	Volume24h     decimal.NullDecimal       `json:"volume24h"`
	AvgVolume24h  decimal.NullDecimal       `json:"avgVolume24h"`
	VolumeVsAvg   models.Percent            `json:"volumeVsAvg"`
	PriceChanges  map[string]models.Percent `json:"priceChanges"`
	VolumeChanges map[string]models.Percent `json:"volumeChanges"`
	Image         string                    `json:"image"`
	LastUpdated   time.Time                 `json:"lastUpdated"`
}

func toRecord(r models.EnrichedCoin, now time.Time) Record {
	return Record{
		Rank:          r.MarketCapRank,
		Name:          r.Name,
		Symbol:        r.Symbol,
		ID:            r.ID,
		Price:         r.CurrentPrice,
		MarketCap:     r.MarketCap,
		Volume24h:     r.TotalVolume,
		AvgVolume24h:  r.AvgVolume24h,
		VolumeVsAvg:   r.VolumeVsAvg,
		PriceChanges:  r.PriceChanges,
		VolumeChanges: r.VolumeChanges,
		Image:         r.Image,
		LastUpdated:   now.UTC(),
	}
}

// WriteJSON writes an indented array of Records.
func WriteJSON(w io.Writer, records []models.EnrichedCoin, now time.Time) error {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		out = append(out, toRecord(r, now))
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// ParseJSON reads a document produced by WriteJSON.
func ParseJSON(r io.Reader) ([]Record, error) {
	var out []Record
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
