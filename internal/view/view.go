// Package view filters and orders enriched records the way the dashboard
// table shows them.
package view

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"cryptodash/internal/timeframe"
	"cryptodash/models"
)

type Tier string

const (
	TierTop50     Tier = "top50"
	TierTop100    Tier = "top100"
	TierWatchlist Tier = "watchlist"
	TierAll       Tier = "all"
)

var (
	ErrUnknownSortKey = errors.New("unknown sort key")
	ErrUnknownTier    = errors.New("unknown tier")
)

// Query describes one filter pass. The zero value keeps every record in
// input order.
type Query struct {
	Tier       Tier   `json:"tier"`
	Search     string `json:"search"`
	SortKey    string `json:"sort_key"`
	Descending bool   `json:"descending"`
}

func ParseTier(s string) (Tier, error) {
	switch t := Tier(strings.ToLower(strings.TrimSpace(s))); t {
	case "":
		return TierAll, nil
	case TierTop50, TierTop100, TierWatchlist, TierAll:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTier, s)
	}
}

// Membership is what the watchlist tier consults.
type Membership interface {
	Has(id string) bool
}

// field is a sortable projection of one record. Missing values sort last.
type field struct {
	num  decimal.Decimal
	text string
	ok   bool
}

type extractor struct {
	text bool
	get  func(models.EnrichedCoin) field
}

func numeric(get func(models.EnrichedCoin) decimal.NullDecimal) extractor {
	return extractor{get: func(r models.EnrichedCoin) field {
		v := get(r)
		return field{num: v.Decimal, ok: v.Valid}
	}}
}

func percent(get func(models.EnrichedCoin) models.Percent) extractor {
	return extractor{get: func(r models.EnrichedCoin) field {
		p := get(r)
		if !p.Valid {
			return field{}
		}
		return field{num: decimal.NewFromFloat(p.Value), ok: true}
	}}
}

func text(get func(models.EnrichedCoin) string) extractor {
	return extractor{text: true, get: func(r models.EnrichedCoin) field {
		s := get(r)
		return field{text: strings.ToLower(s), ok: s != ""}
	}}
}

var aliases = map[string]string{
	"market_cap_rank": "rank",
	"marketcaprank":   "rank",
	"current_price":   "price",
	"currentprice":    "price",
	"marketcap":       "market_cap",
	"total_volume":    "volume",
	"totalvolume":     "volume",
	"volume24h":       "volume",
	"avgvolume24h":    "avg_volume_24h",
	"volumevsavg":     "volume_vs_avg",
	"pricechanges":    "price_changes",
	"volumechanges":   "volume_changes",
}

var fields = map[string]extractor{
	"rank": {get: func(r models.EnrichedCoin) field {
		return field{num: decimal.NewFromInt(int64(r.MarketCapRank)), ok: r.MarketCapRank > 0}
	}},
	"name":           text(func(r models.EnrichedCoin) string { return r.Name }),
	"symbol":         text(func(r models.EnrichedCoin) string { return r.Symbol }),
	"id":             text(func(r models.EnrichedCoin) string { return r.ID }),
	"price":          numeric(func(r models.EnrichedCoin) decimal.NullDecimal { return r.CurrentPrice }),
	"market_cap":     numeric(func(r models.EnrichedCoin) decimal.NullDecimal { return r.MarketCap }),
	"volume":         numeric(func(r models.EnrichedCoin) decimal.NullDecimal { return r.TotalVolume }),
	"avg_volume_24h": numeric(func(r models.EnrichedCoin) decimal.NullDecimal { return r.AvgVolume24h }),
	"volume_vs_avg":  percent(func(r models.EnrichedCoin) models.Percent { return r.VolumeVsAvg }),
}

func canonical(part string) string {
	p := strings.ToLower(part)
	if a, ok := aliases[p]; ok {
		return a
	}
	return p
}

// resolve maps keys such as "priceChanges.1h" or "market_cap" to an extractor.
func resolve(key string) (extractor, error) {
	head, tail, dotted := strings.Cut(strings.TrimSpace(key), ".")
	head = canonical(head)
	tail = strings.ToLower(tail)
	if !dotted {
		if ex, ok := fields[head]; ok {
			return ex, nil
		}
		return extractor{}, fmt.Errorf("%w: %q", ErrUnknownSortKey, key)
	}
	if _, ok := timeframe.Lookup(tail); !ok {
		return extractor{}, fmt.Errorf("%w: %q", ErrUnknownSortKey, key)
	}
	switch head {
	case "price_changes":
		return percent(func(r models.EnrichedCoin) models.Percent { return r.PriceChange(tail) }), nil
	case "volume_changes":
		return percent(func(r models.EnrichedCoin) models.Percent { return r.VolumeChange(tail) }), nil
	}
	return extractor{}, fmt.Errorf("%w: %q", ErrUnknownSortKey, key)
}

// ValidateSortKey reports whether key can be used in a Query.
func ValidateSortKey(key string) error {
	if key == "" {
		return nil
	}
	_, err := resolve(key)
	return err
}

// Apply returns a new slice; records is not modified. Records are expected
// in market-cap order, which is what the top tiers slice and what ties fall
// back to.
func Apply(records []models.EnrichedCoin, q Query, members Membership) ([]models.EnrichedCoin, error) {
	var ex extractor
	if q.SortKey != "" {
		var err error
		if ex, err = resolve(q.SortKey); err != nil {
			return nil, err
		}
	}
	tier, err := ParseTier(string(q.Tier))
	if err != nil {
		return nil, err
	}

	out := tierFilter(records, tier, members)
	out = search(out, q.Search)

	if q.SortKey != "" {
		sortBy(out, ex, q.Descending)
	}
	return out, nil
}

func tierFilter(records []models.EnrichedCoin, tier Tier, members Membership) []models.EnrichedCoin {
	limit := len(records)
	switch tier {
	case TierTop50:
		limit = min(50, limit)
	case TierTop100:
		limit = min(100, limit)
	case TierWatchlist:
		out := make([]models.EnrichedCoin, 0)
		if members == nil {
			return out
		}
		for _, r := range records {
			if members.Has(r.ID) {
				out = append(out, r)
			}
		}
		return out
	}
	out := make([]models.EnrichedCoin, limit)
	copy(out, records[:limit])
	return out
}

func search(records []models.EnrichedCoin, term string) []models.EnrichedCoin {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return records
	}
	out := records[:0]
	for _, r := range records {
		if strings.Contains(strings.ToLower(r.Name), term) ||
			strings.Contains(strings.ToLower(r.Symbol), term) ||
			strings.Contains(strings.ToLower(r.ID), term) {
			out = append(out, r)
		}
	}
	return out
}

func sortBy(records []models.EnrichedCoin, ex extractor, desc bool) {
	keys := make([]field, len(records))
	for i, r := range records {
		keys[i] = ex.get(r)
	}
	idx := make([]int, len(records))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ka, kb := keys[idx[a]], keys[idx[b]]
		if ka.ok != kb.ok {
			return ka.ok
		}
		if !ka.ok {
			return false
		}
		var c int
		if ex.text {
			c = strings.Compare(ka.text, kb.text)
		} else {
			c = ka.num.Cmp(kb.num)
		}
		if desc {
			return c > 0
		}
		return c < 0
	})
	sorted := make([]models.EnrichedCoin, len(records))
	for i, j := range idx {
		sorted[i] = records[j]
	}
	copy(records, sorted)
}
