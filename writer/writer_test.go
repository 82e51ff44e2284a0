package writer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	kafka "github.com/segmentio/kafka-go"

	appconfig "cryptodash/config"
	"cryptodash/internal/export"
	"cryptodash/logger"
	"cryptodash/models"
)

func quietLog() *logger.Log {
	log := logger.Logger()
	log.SetOutput(&bytes.Buffer{})
	return log
}

type fakePutter struct {
	inputs []*s3.PutObjectInput
	bodies [][]byte
	err    error
}

func (f *fakePutter) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, _ := io.ReadAll(in.Body)
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func testDoc() export.Document {
	return export.Document{
		Format:      export.FormatCSV,
		Filename:    "crypto-dashboard-2024-05-01.csv",
		ContentType: "text/csv",
		Records:     2,
		Data:        []byte("Rank,Name\n1,Bitcoin\n"),
	}
}

func TestExportWriterLocal(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports")
	cfg := &appconfig.Config{Export: appconfig.ExportConfig{Directory: dir, Formats: []string{"csv", "bogus", "parquet"}}}

	w, err := NewExportWriter(context.Background(), cfg, quietLog())
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	if !w.Enabled() {
		t.Fatalf("expected writer to be enabled")
	}
	if got := w.Formats(); len(got) != 2 || got[0] != export.FormatCSV || got[1] != export.FormatParquet {
		t.Fatalf("unexpected formats %v", got)
	}

	locs, err := w.Write(context.Background(), testDoc())
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	want := filepath.Join(dir, "crypto-dashboard-2024-05-01.csv")
	if len(locs) != 1 || locs[0] != want {
		t.Fatalf("unexpected locations %v", locs)
	}
	data, err := os.ReadFile(want)
	if err != nil || string(data) != string(testDoc().Data) {
		t.Fatalf("unexpected file content %q (%v)", data, err)
	}
}

func TestExportWriterS3(t *testing.T) {
	put := &fakePutter{}
	w := &ExportWriter{
		cfg: appconfig.ExportConfig{
			ParquetCompression: "snappy",
			S3:                 appconfig.S3Config{Enabled: true, Bucket: "dash-exports", Prefix: "/daily/"},
		},
		version: "1.2.0",
		s3:      put,
		log:     quietLog(),
		now:     func() time.Time { return time.Date(2024, 5, 1, 13, 4, 5, 0, time.UTC) },
	}

	locs, err := w.Write(context.Background(), testDoc())
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if len(put.inputs) != 1 {
		t.Fatalf("expected one upload, got %d", len(put.inputs))
	}
	in := put.inputs[0]
	key := *in.Key
	if !strings.HasPrefix(key, "daily/date=2024-05-01/crypto-dashboard-2024-05-01-130405-") || !strings.HasSuffix(key, ".csv") {
		t.Fatalf("unexpected key %s", key)
	}
	if *in.Bucket != "dash-exports" || *in.ContentType != "text/csv" {
		t.Fatalf("unexpected input %+v", in)
	}
	if in.Metadata["records"] != "2" || in.Metadata["cryptodash-version"] != "1.2.0" {
		t.Fatalf("unexpected metadata %v", in.Metadata)
	}
	if string(put.bodies[0]) != string(testDoc().Data) {
		t.Fatalf("unexpected body %q", put.bodies[0])
	}
	if len(locs) != 1 || locs[0] != "s3://dash-exports/"+key {
		t.Fatalf("unexpected locations %v", locs)
	}
}

func TestExportWriterS3Failure(t *testing.T) {
	w := &ExportWriter{
		cfg: appconfig.ExportConfig{S3: appconfig.S3Config{Enabled: true, Bucket: "b"}},
		s3:  &fakePutter{err: errors.New("access denied")},
		log: quietLog(),
		now: time.Now,
	}
	if _, err := w.Write(context.Background(), testDoc()); err == nil {
		t.Fatalf("expected upload error")
	}
}

func TestExportWriterDisabled(t *testing.T) {
	w, err := NewExportWriter(context.Background(), &appconfig.Config{}, quietLog())
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	if w.Enabled() {
		t.Fatalf("expected writer without destinations to be disabled")
	}
	if _, err := w.Write(context.Background(), testDoc()); err == nil {
		t.Fatalf("expected error without destinations")
	}
}

type fakeMessages struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeMessages) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeMessages) Close() error {
	f.closed = true
	return nil
}

func TestKafkaWriterPublish(t *testing.T) {
	fake := &fakeMessages{}
	kw := &KafkaWriter{topic: "alerts", writer: fake, log: quietLog()}

	alerts := []models.Alert{
		{ID: "bitcoin:price-5m:1", CoinID: "bitcoin", Kind: models.AlertPrice5m, Severity: models.SeverityHigh, Value: 12},
		{ID: "ethereum:volume-low:2", CoinID: "ethereum", Kind: models.AlertVolumeLow, Severity: models.SeverityLow, Value: -40},
	}
	if err := kw.Publish(context.Background(), alerts); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(fake.msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(fake.msgs))
	}
	if string(fake.msgs[0].Key) != "bitcoin" || string(fake.msgs[1].Key) != "ethereum" {
		t.Fatalf("unexpected keys")
	}
	var decoded models.Alert
	if err := json.Unmarshal(fake.msgs[1].Value, &decoded); err != nil || decoded.ID != alerts[1].ID {
		t.Fatalf("unexpected payload %s (%v)", fake.msgs[1].Value, err)
	}

	if err := kw.Publish(context.Background(), nil); err != nil || len(fake.msgs) != 2 {
		t.Fatalf("empty publish must be a no-op")
	}

	fake.err = errors.New("broker down")
	if err := kw.Publish(context.Background(), alerts); err == nil {
		t.Fatalf("expected write error")
	}
	if err := kw.Close(); err != nil || !fake.closed {
		t.Fatalf("expected writer to be closed")
	}
}

func TestNewKafkaWriterValidation(t *testing.T) {
	if _, err := NewKafkaWriter(appconfig.KafkaConfig{Topic: "t"}, quietLog()); err == nil {
		t.Fatalf("expected error without brokers")
	}
	if _, err := NewKafkaWriter(appconfig.KafkaConfig{Brokers: []string{"localhost:9092"}}, quietLog()); err == nil {
		t.Fatalf("expected error without topic")
	}
	kw, err := NewKafkaWriter(appconfig.KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "t"}, quietLog())
	if err != nil {
		t.Fatalf("new kafka writer: %v", err)
	}
	_ = kw.Close()
}
