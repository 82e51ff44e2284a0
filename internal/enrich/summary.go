package enrich

import "cryptodash/models"

// HighVolumeThreshold is the volume-vs-average percentage above which a
// coin counts as trading on unusual volume.
const HighVolumeThreshold = 50.0

// Summary is the market overview shown above the coin table.
type Summary struct {
	Total        int            `json:"total"`
	Gainers      int            `json:"gainers"`
	Losers       int            `json:"losers"`
	AvgChange24h models.Percent `json:"avg_change_24h"`
	HighVolume   int            `json:"high_volume"`
}

// Summarize counts gainers and losers over the 24h window and averages the
// available 24h changes.
func Summarize(records []models.EnrichedCoin) Summary {
	s := Summary{Total: len(records)}
	sum := 0.0
	n := 0
	for _, r := range records {
		ch := r.PriceChange("24h")
		if ch.Valid {
			sum += ch.Value
			n++
			switch {
			case ch.Value > 0:
				s.Gainers++
			case ch.Value < 0:
				s.Losers++
			}
		}
		if r.VolumeVsAvg.Valid && r.VolumeVsAvg.Value > HighVolumeThreshold {
			s.HighVolume++
		}
	}
	if n > 0 {
		s.AvgChange24h = models.PercentOf(sum / float64(n))
	}
	return s
}
