package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"cryptodash/models"
)

// ParquetRow is the flattened parquet schema. Unavailable values are null.
type ParquetRow struct {
	ExportedAt   int64    `parquet:"name=exported_at, type=INT64"`
	Rank         int32    `parquet:"name=rank, type=INT32"`
	ID           string   `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Name         string   `parquet:"name=name, type=BYTE_ARRAY, convertedtype=UTF8"`
	Symbol       string   `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Price        *float64 `parquet:"name=price, type=DOUBLE, repetitiontype=OPTIONAL"`
	MarketCap    *float64 `parquet:"name=market_cap, type=DOUBLE, repetitiontype=OPTIONAL"`
	Volume24h    *float64 `parquet:"name=volume_24h, type=DOUBLE, repetitiontype=OPTIONAL"`
	AvgVolume24h *float64 `parquet:"name=avg_volume_24h, type=DOUBLE, repetitiontype=OPTIONAL"`
	VolumeVsAvg  *float64 `parquet:"name=volume_vs_avg, type=DOUBLE, repetitiontype=OPTIONAL"`
	Change3m     *float64 `parquet:"name=price_change_3m, type=DOUBLE, repetitiontype=OPTIONAL"`
	Change5m     *float64 `parquet:"name=price_change_5m, type=DOUBLE, repetitiontype=OPTIONAL"`
	Change15m    *float64 `parquet:"name=price_change_15m, type=DOUBLE, repetitiontype=OPTIONAL"`
	Change30m    *float64 `parquet:"name=price_change_30m, type=DOUBLE, repetitiontype=OPTIONAL"`
	Change45m    *float64 `parquet:"name=price_change_45m, type=DOUBLE, repetitiontype=OPTIONAL"`
	Change1h     *float64 `parquet:"name=price_change_1h, type=DOUBLE, repetitiontype=OPTIONAL"`
	Change2h     *float64 `parquet:"name=price_change_2h, type=DOUBLE, repetitiontype=OPTIONAL"`
	Change4h     *float64 `parquet:"name=price_change_4h, type=DOUBLE, repetitiontype=OPTIONAL"`
	Change6h     *float64 `parquet:"name=price_change_6h, type=DOUBLE, repetitiontype=OPTIONAL"`
	Change12h    *float64 `parquet:"name=price_change_12h, type=DOUBLE, repetitiontype=OPTIONAL"`
	Change18h    *float64 `parquet:"name=price_change_18h, type=DOUBLE, repetitiontype=OPTIONAL"`
	Change24h    *float64 `parquet:"name=price_change_24h, type=DOUBLE, repetitiontype=OPTIONAL"`
	Change3d     *float64 `parquet:"name=price_change_3d, type=DOUBLE, repetitiontype=OPTIONAL"`
	Change1w     *float64 `parquet:"name=price_change_1w, type=DOUBLE, repetitiontype=OPTIONAL"`
}

// memoryFile is an append-only in-memory parquet sink.
type memoryFile struct {
	buffer *bytes.Buffer
}

func newMemoryFile() *memoryFile {
	return &memoryFile{buffer: &bytes.Buffer{}}
}

func (m *memoryFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memoryFile) Open(string) (source.ParquetFile, error)   { return m, nil }

// Seek only reports the current size; the writer never seeks backwards.
func (m *memoryFile) Seek(int64, int) (int64, error) { return int64(m.buffer.Len()), nil }

func (m *memoryFile) Read(b []byte) (int, error)  { return m.buffer.Read(b) }
func (m *memoryFile) Write(b []byte) (int, error) { return m.buffer.Write(b) }
func (m *memoryFile) Close() error                { return nil }
func (m *memoryFile) Bytes() []byte               { return m.buffer.Bytes() }

func compressionCodec(name string) parquet.CompressionCodec {
	switch name {
	case "snappy":
		return parquet.CompressionCodec_SNAPPY
	case "gzip":
		return parquet.CompressionCodec_GZIP
	case "lzo":
		return parquet.CompressionCodec_LZO
	default:
		return parquet.CompressionCodec_UNCOMPRESSED
	}
}

func optDecimal(d decimal.NullDecimal) *float64 {
	if !d.Valid {
		return nil
	}
	v := d.Decimal.InexactFloat64()
	return &v
}

func optPercent(p models.Percent) *float64 {
	if !p.Valid {
		return nil
	}
	v := p.Value
	return &v
}

func toParquetRow(r models.EnrichedCoin, now time.Time) ParquetRow {
	ch := func(id string) *float64 { return optPercent(r.PriceChange(id)) }
	return ParquetRow{
		ExportedAt:   now.UnixMilli(),
		Rank:         int32(r.MarketCapRank),
		ID:           r.ID,
		Name:         r.Name,
		Symbol:       r.Symbol,
		Price:        optDecimal(r.CurrentPrice),
		MarketCap:    optDecimal(r.MarketCap),
		Volume24h:    optDecimal(r.TotalVolume),
		AvgVolume24h: optDecimal(r.AvgVolume24h),
		VolumeVsAvg:  optPercent(r.VolumeVsAvg),
		Change3m:     ch("3m"),
		Change5m:     ch("5m"),
		Change15m:    ch("15m"),
		Change30m:    ch("30m"),
		Change45m:    ch("45m"),
		Change1h:     ch("1h"),
		Change2h:     ch("2h"),
		Change4h:     ch("4h"),
		Change6h:     ch("6h"),
		Change12h:    ch("12h"),
		Change18h:    ch("18h"),
		Change24h:    ch("24h"),
		Change3d:     ch("3d"),
		Change1w:     ch("1w"),
	}
}

// Parquet encodes records into a single in-memory parquet file.
func Parquet(records []models.EnrichedCoin, now time.Time, compression string) ([]byte, error) {
	fw := newMemoryFile()
	pw, err := writer.NewParquetWriter(fw, new(ParquetRow), 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = compressionCodec(compression)

	for _, r := range records {
		if err := pw.Write(toParquetRow(r, now)); err != nil {
			_ = pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}
	return fw.Bytes(), nil
}
