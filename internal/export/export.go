// Package export renders enriched records as downloadable CSV, JSON or
// Parquet documents.
package export

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"cryptodash/models"
)

type Format string

const (
	FormatCSV     Format = "csv"
	FormatJSON    Format = "json"
	FormatParquet Format = "parquet"
)

var ErrUnknownFormat = errors.New("unknown export format")

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatJSON, FormatParquet:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatJSON:
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

// Filename is crypto-dashboard-YYYY-MM-DD.<ext>, dated in UTC.
func Filename(f Format, now time.Time) string {
	return fmt.Sprintf("crypto-dashboard-%s.%s", now.UTC().Format("2006-01-02"), f)
}

// Options tunes rendering. The zero value is usable.
type Options struct {
	// ParquetCompression is one of snappy, gzip, lzo or uncompressed.
	ParquetCompression string
}

// Document is one rendered export.
type Document struct {
	Format      Format
	Filename    string
	ContentType string
	Records     int
	Data        []byte
}

// Render serializes records in the given format.
func Render(f Format, records []models.EnrichedCoin, now time.Time, opts Options) (Document, error) {
	var buf bytes.Buffer
	var err error
	switch f {
	case FormatCSV:
		err = WriteCSV(&buf, records)
	case FormatJSON:
		err = WriteJSON(&buf, records, now)
	case FormatParquet:
		var data []byte
		data, err = Parquet(records, now, opts.ParquetCompression)
		buf.Write(data)
	default:
		return Document{}, fmt.Errorf("%w: %q", ErrUnknownFormat, f)
	}
	if err != nil {
		return Document{}, fmt.Errorf("render %s: %w", f, err)
	}
	return Document{
		Format:      f,
		Filename:    Filename(f, now),
		ContentType: f.ContentType(),
		Records:     len(records),
		Data:        buf.Bytes(),
	}, nil
}
