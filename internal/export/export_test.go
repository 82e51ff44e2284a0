package export

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptodash/internal/timeframe"
	"cryptodash/models"
)

var exportTime = time.Date(2024, 5, 1, 23, 30, 0, 0, time.UTC)

func records() []models.EnrichedCoin {
	changes := map[string]models.Percent{}
	for _, id := range timeframe.IDs() {
		changes[id] = models.Unavailable
	}
	changes["5m"] = models.PercentOf(1.234)
	changes["1h"] = models.PercentOf(-0.5)

	return []models.EnrichedCoin{
		{
			Coin: models.Coin{
				ID:            "bitcoin",
				Symbol:        "btc",
				Name:          "Bitcoin",
				Image:         "https://img/btc.png",
				MarketCapRank: 1,
				CurrentPrice:  models.NewDecimal(decimal.RequireFromString("67000.51")),
				MarketCap:     models.NewDecimal(decimal.RequireFromString("1320000000000")),
				TotalVolume:   models.NewDecimal(decimal.RequireFromString("31000000000")),
			},
			PriceChanges:  changes,
			VolumeChanges: changes,
			AvgVolume24h:  models.NewDecimal(decimal.RequireFromString("30000000000")),
			VolumeVsAvg:   models.PercentOf(3.3333),
		},
		{
			Coin: models.Coin{
				ID:            "odd-coin",
				Symbol:        "odd",
				Name:          `Odd, "Quoted" Coin`,
				MarketCapRank: 2,
				CurrentPrice:  models.NewDecimal(decimal.RequireFromString("0.00001234")),
			},
		},
	}
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "crypto-dashboard-2024-05-01.csv", Filename(FormatCSV, exportTime))
	local := time.Date(2024, 5, 2, 1, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	assert.Equal(t, "crypto-dashboard-2024-05-01.json", Filename(FormatJSON, local))
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat(" CSV ")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)
	_, err = ParseFormat("xlsx")
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, records()))

	rows, err := ReadCSV(&buf)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	header := rows[0]
	assert.Len(t, header, 7+len(timeframe.All()))
	assert.Equal(t, "Volume vs Avg (%)", header[6])
	assert.Equal(t, "Price Change 3m (%)", header[7])
	assert.Equal(t, "Price Change 1W (%)", header[len(header)-1])

	btc := rows[1]
	assert.Equal(t, []string{"1", "Bitcoin", "BTC", "67000.51", "1320000000000", "31000000000", "3.33"}, btc[:7])
	assert.Equal(t, "N/A", btc[7])
	assert.Equal(t, "1.23", btc[8])
	assert.Equal(t, "-0.50", btc[12])

	odd := rows[2]
	assert.Equal(t, `Odd, "Quoted" Coin`, odd[1])
	assert.Equal(t, "0.00001234", odd[3])
	assert.Equal(t, "N/A", odd[4])
	assert.Equal(t, "N/A", odd[6])
}

func TestJSONRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := records()
	require.NoError(t, WriteJSON(&buf, in, exportTime))
	assert.True(t, strings.Contains(buf.String(), `"marketCap"`))
	assert.True(t, strings.Contains(buf.String(), `"3m": null`))

	out, err := ParseJSON(&buf)
	require.NoError(t, err)
	require.Len(t, out, len(in))
	for i := range in {
		assert.Equal(t, in[i].MarketCapRank, out[i].Rank)
		assert.Equal(t, in[i].ID, out[i].ID)
		assert.Equal(t, in[i].CurrentPrice.Valid, out[i].Price.Valid)
		assert.True(t, in[i].CurrentPrice.Decimal.Equal(out[i].Price.Decimal))
		assert.Equal(t, in[i].TotalVolume.Valid, out[i].Volume24h.Valid)
		assert.True(t, in[i].TotalVolume.Decimal.Equal(out[i].Volume24h.Decimal))
		assert.True(t, exportTime.Equal(out[i].LastUpdated))
	}
	assert.Equal(t, models.PercentOf(1.234), out[0].PriceChanges["5m"])
	assert.False(t, out[0].PriceChanges["3m"].Valid)
}

func TestParseJSONRejectsGarbage(t *testing.T) {
	_, err := ParseJSON(strings.NewReader(`{"rank":1}`))
	assert.Error(t, err)
}

func TestParquet(t *testing.T) {
	for _, codec := range []string{"", "snappy", "gzip"} {
		data, err := Parquet(records(), exportTime, codec)
		require.NoError(t, err, codec)
		require.Greater(t, len(data), 8)
		assert.Equal(t, "PAR1", string(data[:4]))
		assert.Equal(t, "PAR1", string(data[len(data)-4:]))
	}
}

func TestRender(t *testing.T) {
	doc, err := Render(FormatJSON, records(), exportTime, Options{})
	require.NoError(t, err)
	assert.Equal(t, "crypto-dashboard-2024-05-01.json", doc.Filename)
	assert.Equal(t, "application/json", doc.ContentType)
	assert.Equal(t, 2, doc.Records)
	assert.NotEmpty(t, doc.Data)

	doc, err = Render(FormatCSV, nil, exportTime, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, doc.Records)
	assert.True(t, strings.HasPrefix(string(doc.Data), "Rank,Name,Symbol"))

	_, err = Render(Format("xml"), nil, exportTime, Options{})
	assert.ErrorIs(t, err, ErrUnknownFormat)
}
