package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// Producer publishes room payloads keyed by the sending account, so
// consumers can attribute every message to its sender.
type Producer struct {
	account string
	writer  *kafka.Writer
}

func NewProducer(brokers []string, account string) *Producer {
	return &Producer{
		account: account,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func (p *Producer) Publish(ctx context.Context, room string, payload []byte) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: room,
		Key:   []byte(p.account),
		Value: payload,
	})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
