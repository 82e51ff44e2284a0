// Package timeframe holds the fixed list of lookback windows that price and
// volume changes are derived for.
package timeframe

import (
	"fmt"
	"time"
)

// Timeframe is a lookback window. UpdateEvery is the expected refresh
// cadence in polling cycles.
type Timeframe struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Minutes     int    `json:"minutes"`
	UpdateEvery int    `json:"update_every"`
}

// Duration returns the lookback as a time.Duration.
func (t Timeframe) Duration() time.Duration {
	return time.Duration(t.Minutes) * time.Minute
}

// CyclesBack is the number of whole polling cycles the window spans. It is
// zero for windows shorter than one cycle.
func (t Timeframe) CyclesBack(cycleMinutes int) int {
	if cycleMinutes <= 0 {
		return 0
	}
	return t.Minutes / cycleMinutes
}

var registry = []Timeframe{
	{ID: "3m", Label: "3m", Minutes: 3, UpdateEvery: 1},
	{ID: "5m", Label: "5m", Minutes: 5, UpdateEvery: 1},
	{ID: "15m", Label: "15m", Minutes: 15, UpdateEvery: 3},
	{ID: "30m", Label: "30m", Minutes: 30, UpdateEvery: 6},
	{ID: "45m", Label: "45m", Minutes: 45, UpdateEvery: 9},
	{ID: "1h", Label: "1h", Minutes: 60, UpdateEvery: 12},
	{ID: "2h", Label: "2h", Minutes: 120, UpdateEvery: 24},
	{ID: "4h", Label: "4h", Minutes: 240, UpdateEvery: 48},
	{ID: "6h", Label: "6h", Minutes: 360, UpdateEvery: 72},
	{ID: "12h", Label: "12h", Minutes: 720, UpdateEvery: 144},
	{ID: "18h", Label: "18h", Minutes: 1080, UpdateEvery: 216},
	{ID: "24h", Label: "24h", Minutes: 1440, UpdateEvery: 288},
	{ID: "3d", Label: "3D", Minutes: 4320, UpdateEvery: 864},
	{ID: "1w", Label: "1W", Minutes: 10080, UpdateEvery: 2016},
}

var byID = func() map[string]Timeframe {
	m := make(map[string]Timeframe, len(registry))
	for _, tf := range registry {
		m[tf.ID] = tf
	}
	return m
}()

// All returns the timeframes in ascending order of length.
func All() []Timeframe {
	out := make([]Timeframe, len(registry))
	copy(out, registry)
	return out
}

// IDs returns the timeframe ids in registry order.
func IDs() []string {
	ids := make([]string, len(registry))
	for i, tf := range registry {
		ids[i] = tf.ID
	}
	return ids
}

func Lookup(id string) (Timeframe, bool) {
	tf, ok := byID[id]
	return tf, ok
}

// MustLookup panics on an unknown id. Only use it with literal ids.
func MustLookup(id string) Timeframe {
	tf, ok := byID[id]
	if !ok {
		panic(fmt.Sprintf("timeframe: unknown id %q", id))
	}
	return tf
}

// Longest returns the widest window, which bounds useful history retention.
func Longest() Timeframe {
	return registry[len(registry)-1]
}
