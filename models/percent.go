package models

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Percent is a derived percentage that may be unavailable. The zero value
// is unavailable, which is distinct from a valid 0%.
type Percent struct {
	Value float64
	Valid bool
}

// Unavailable is the canonical "no value" Percent.
var Unavailable = Percent{}

func PercentOf(v float64) Percent {
	return Percent{Value: v, Valid: true}
}

// Format renders the value with the given precision, or na when unavailable.
func (p Percent) Format(precision int, na string) string {
	if !p.Valid {
		return na
	}
	return strconv.FormatFloat(p.Value, 'f', precision, 64)
}

// String renders "+1.23%", "-0.50%" or "-" for unavailable.
func (p Percent) String() string {
	if !p.Valid {
		return "-"
	}
	s := p.Format(2, "-") + "%"
	if p.Value > 0 {
		return "+" + s
	}
	return s
}

func (p Percent) MarshalJSON() ([]byte, error) {
	if !p.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(p.Value)
}

func (p *Percent) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*p = Unavailable
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*p = PercentOf(v)
	return nil
}
