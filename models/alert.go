package models

import "time"

type AlertKind string

const (
	AlertPrice5m    AlertKind = "price-5m"
	AlertPrice15m   AlertKind = "price-15m"
	AlertVolumeHigh AlertKind = "volume-high"
	AlertVolumeLow  AlertKind = "volume-low"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Alert is a threshold crossing detected for one coin. ID doubles as the
// deduplication key.
type Alert struct {
	ID         string    `json:"id"`
	CoinID     string    `json:"coin_id"`
	CoinName   string    `json:"coin_name"`
	CoinSymbol string    `json:"coin_symbol"`
	Kind       AlertKind `json:"kind"`
	Value      float64   `json:"value"`
	Threshold  float64   `json:"threshold"`
	Severity   Severity  `json:"severity"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}
