package models

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

func TestCoinDecodesMarketsRow(t *testing.T) {
	raw := `{"id":"bitcoin","symbol":"btc","name":"Bitcoin","image":"https://img/btc.png",
		"current_price":67012.5,"market_cap":1320000000000,"market_cap_rank":1,
		"total_volume":null,"last_updated":"2024-05-01T12:00:00.000Z"}`

	var c Coin
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if c.ID != "bitcoin" || c.MarketCapRank != 1 {
		t.Fatalf("unexpected coin: %+v", c)
	}
	if !c.CurrentPrice.Valid || !c.CurrentPrice.Decimal.Equal(decimal.RequireFromString("67012.5")) {
		t.Fatalf("unexpected price: %+v", c.CurrentPrice)
	}
	if c.TotalVolume.Valid {
		t.Fatalf("null volume should stay invalid")
	}
	if c.LastUpdated.IsZero() {
		t.Fatalf("last_updated not parsed")
	}
}

func TestNullRankLeavesZero(t *testing.T) {
	var c Coin
	if err := json.Unmarshal([]byte(`{"id":"x","market_cap_rank":null}`), &c); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if c.MarketCapRank != 0 {
		t.Fatalf("expected unranked coin, got %d", c.MarketCapRank)
	}
}

func TestPercentJSON(t *testing.T) {
	data, err := json.Marshal(map[string]Percent{"a": PercentOf(-1.5), "b": Unavailable})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"a":-1.5,"b":null}` {
		t.Fatalf("unexpected json: %s", data)
	}

	var out map[string]Percent
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["a"] != PercentOf(-1.5) || out["b"].Valid {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

func TestPercentString(t *testing.T) {
	cases := map[Percent]string{
		PercentOf(1.234): "+1.23%",
		PercentOf(-0.5):  "-0.50%",
		PercentOf(0):     "0.00%",
		Unavailable:      "-",
	}
	for p, want := range cases {
		if got := p.String(); got != want {
			t.Errorf("%+v: got %q want %q", p, got, want)
		}
	}
	if PercentOf(0) == Unavailable {
		t.Fatalf("valid zero must differ from unavailable")
	}
}
