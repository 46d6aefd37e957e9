package pipeline

import (
	"context"
	"time"

	"salesetl/pkg/errors"

	"github.com/segmentio/kafka-go"
)

// Publisher ships a finished RunReport somewhere.
type Publisher interface {
	Publish(ctx context.Context, report *RunReport) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes each report as one JSON message keyed by run id.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.LeastBytes{},
			BatchTimeout:           10 * time.Millisecond,
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
		topic: topic,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, report *RunReport) error {
	payload, err := report.JSON()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeReportPublish, "Failed to encode run report")
	}

	msg := kafka.Message{
		Key:   []byte(report.RunID),
		Value: payload,
		Time:  report.FinishedAt,
		Headers: []kafka.Header{
			{Key: "state", Value: []byte(report.State)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return errors.Wrap(err, errors.ErrCodeReportPublish, "Failed to publish run report").
			WithContext("topic", p.topic).
			AsRecoverable()
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
