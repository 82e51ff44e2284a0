package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"cryptodash/internal/timeframe"
	"cryptodash/models"
)

const notAvailable = "N/A"

// Header returns the CSV column names.
func Header() []string {
	h := []string{
		"Rank",
		"Name",
		"Symbol",
		"Price (USD)",
		"Market Cap",
		"Volume 24h",
		"Volume vs Avg (%)",
	}
	for _, tf := range timeframe.All() {
		h = append(h, fmt.Sprintf("Price Change %s (%%)", tf.Label))
	}
	return h
}

// WriteCSV writes the header and one row per record.
func WriteCSV(w io.Writer, records []models.EnrichedCoin) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header()); err != nil {
		return err
	}
	tfs := timeframe.All()
	for _, r := range records {
		row := []string{
			strconv.Itoa(r.MarketCapRank),
			r.Name,
			strings.ToUpper(r.Symbol),
			decimalCell(r.CurrentPrice),
			decimalCell(r.MarketCap),
			decimalCell(r.TotalVolume),
			r.VolumeVsAvg.Format(2, notAvailable),
		}
		for _, tf := range tfs {
			row = append(row, r.PriceChange(tf.ID).Format(2, notAvailable))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func decimalCell(d decimal.NullDecimal) string {
	if !d.Valid {
		return notAvailable
	}
	return d.Decimal.String()
}

// ReadCSV parses a document written by WriteCSV back into string rows,
// header first.
func ReadCSV(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Header())
	return cr.ReadAll()
}
