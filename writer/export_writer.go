package writer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	appconfig "cryptodash/config"
	"cryptodash/internal/export"
	"cryptodash/logger"
)

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ExportWriter stores rendered exports in a local directory, an S3 bucket,
// or both.
type ExportWriter struct {
	cfg     appconfig.ExportConfig
	version string
	s3      objectPutter
	log     *logger.Log
	now     func() time.Time
}

func NewExportWriter(ctx context.Context, cfg *appconfig.Config, log *logger.Log) (*ExportWriter, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	w := &ExportWriter{
		cfg:     cfg.Export,
		version: cfg.App.Version,
		log:     log,
		now:     time.Now,
	}

	if dir := cfg.Export.Directory; dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create export directory %s: %w", dir, err)
		}
	}

	if cfg.Export.S3.Enabled {
		client, err := newS3Client(ctx, cfg.Export.S3)
		if err != nil {
			return nil, err
		}
		w.s3 = client
	}

	log.WithComponent("export_writer").WithFields(logger.Fields{
		"directory":  cfg.Export.Directory,
		"s3_enabled": cfg.Export.S3.Enabled,
		"bucket":     cfg.Export.S3.Bucket,
		"region":     cfg.Export.S3.Region,
		"endpoint":   cfg.Export.S3.Endpoint,
		"path_style": cfg.Export.S3.PathStyle,
	}).Info("export writer initialized")
	return w, nil
}

func newS3Client(ctx context.Context, cfg appconfig.S3Config) (*s3.Client, error) {
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	creds, err := awsConfig.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	return s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	}), nil
}

// Enabled reports whether any destination is configured.
func (w *ExportWriter) Enabled() bool {
	return w != nil && (w.cfg.Directory != "" || w.s3 != nil)
}

// Formats returns the formats written by automatic exports.
func (w *ExportWriter) Formats() []export.Format {
	var out []export.Format
	for _, s := range w.cfg.Formats {
		if f, err := export.ParseFormat(s); err == nil {
			out = append(out, f)
		}
	}
	return out
}

func (w *ExportWriter) Options() export.Options {
	return export.Options{ParquetCompression: w.cfg.ParquetCompression}
}

// Write stores doc in every configured destination and returns where it
// went. The local file is named by date and replaced by later exports of
// the same day; S3 objects get a unique key.
func (w *ExportWriter) Write(ctx context.Context, doc export.Document) ([]string, error) {
	if !w.Enabled() {
		return nil, fmt.Errorf("no export destination configured")
	}
	log := w.log.WithComponent("export_writer").WithFields(logger.Fields{
		"format":  doc.Format,
		"records": doc.Records,
		"size":    len(doc.Data),
	})

	var locations []string
	if w.cfg.Directory != "" {
		p, err := w.writeLocal(doc)
		if err != nil {
			log.WithError(err).Error("failed to write export file")
			return locations, err
		}
		locations = append(locations, p)
	}
	if w.s3 != nil {
		key := w.objectKey(doc)
		if err := w.upload(ctx, key, doc); err != nil {
			log.WithError(err).
				WithEnv("S3_BUCKET").
				WithFields(logger.Fields{"bucket": w.cfg.S3.Bucket, "s3_key": key}).
				Error("failed to upload export to S3")
			return locations, err
		}
		locations = append(locations, fmt.Sprintf("s3://%s/%s", w.cfg.S3.Bucket, key))
	}

	logger.IncrementExport()
	log.WithFields(logger.Fields{"locations": locations}).Info("export stored")
	return locations, nil
}

func (w *ExportWriter) writeLocal(doc export.Document) (string, error) {
	p := filepath.Join(w.cfg.Directory, doc.Filename)
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, doc.Data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		return "", fmt.Errorf("rename %s: %w", tmp, err)
	}
	return p, nil
}

// objectKey is <prefix>/date=YYYY-MM-DD/<name>-<HHMMSS>-<id>.<ext>.
func (w *ExportWriter) objectKey(doc export.Document) string {
	ts := w.now().UTC()
	base := strings.TrimSuffix(doc.Filename, "."+string(doc.Format))
	name := fmt.Sprintf("%s-%s-%s.%s", base, ts.Format("150405"), uuid.New().String()[:8], doc.Format)
	return path.Join(strings.Trim(w.cfg.S3.Prefix, "/"), "date="+ts.Format("2006-01-02"), name)
}

func (w *ExportWriter) upload(ctx context.Context, key string, doc export.Document) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(w.cfg.S3.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(doc.Data),
		ContentType: aws.String(doc.ContentType),
		Metadata: map[string]string{
			"format":            string(doc.Format),
			"records":           strconv.Itoa(doc.Records),
			"compression":       w.cfg.ParquetCompression,
			"cryptodash-version": w.version,
		},
	}
	if _, err := w.s3.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to upload to S3 bucket %s: %w", w.cfg.S3.Bucket, err)
	}
	return nil
}
