package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafka "github.com/segmentio/kafka-go"

	appconfig "cryptodash/config"
	"cryptodash/logger"
	"cryptodash/models"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaWriter publishes raised alerts to a Kafka topic, one message per
// alert keyed by coin id so a coin's alerts stay ordered on one partition.
type KafkaWriter struct {
	topic  string
	writer messageWriter
	log    *logger.Log
}

func NewKafkaWriter(cfg appconfig.KafkaConfig, log *logger.Log) (*KafkaWriter, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic not configured")
	}
	if log == nil {
		log = logger.GetLogger()
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = time.Second
	}
	kw := &KafkaWriter{
		topic: cfg.Topic,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: batchTimeout,
		},
		log: log,
	}
	kw.log.WithComponent("kafka_writer").WithFields(logger.Fields{
		"brokers": cfg.Brokers,
		"topic":   cfg.Topic,
	}).Debug("kafka writer initialized")
	return kw, nil
}

func alertMessages(alerts []models.Alert) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, 0, len(alerts))
	for _, a := range alerts {
		data, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("marshal alert %s: %w", a.ID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(a.CoinID),
			Value: data,
			Time:  a.Timestamp,
			Headers: []kafka.Header{
				{Key: "kind", Value: []byte(a.Kind)},
				{Key: "severity", Value: []byte(a.Severity)},
			},
		})
	}
	return msgs, nil
}

// Publish writes alerts synchronously. An empty batch is a no-op.
func (kw *KafkaWriter) Publish(ctx context.Context, alerts []models.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	msgs, err := alertMessages(alerts)
	if err != nil {
		return err
	}
	if err := kw.writer.WriteMessages(ctx, msgs...); err != nil {
		kw.log.WithComponent("kafka_writer").WithError(err).Warn("failed to write alerts")
		return fmt.Errorf("write %d alerts to %s: %w", len(msgs), kw.topic, err)
	}
	kw.log.WithComponent("kafka_writer").WithFields(logger.Fields{
		"topic":  kw.topic,
		"alerts": len(msgs),
	}).Debug("alerts written to kafka")
	return nil
}

func (kw *KafkaWriter) Close() error {
	kw.log.WithComponent("kafka_writer").Debug("stopping kafka writer")
	return kw.writer.Close()
}
