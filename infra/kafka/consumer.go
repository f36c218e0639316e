package kafka

import (
	"context"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"tradepost/transport"
)

// Consumer subscribes to one or more trading rooms through a consumer
// group. Every node uses its own group ID, so each gets the full room
// traffic rather than a partition-balanced share.
type Consumer struct {
	group  sarama.ConsumerGroup
	events chan transport.Event
	log    zerolog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func NewConsumer(brokers []string, groupID string, rooms []string, log zerolog.Logger) (*Consumer, error) {
	cfg := sarama.NewConfig()
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Return.Errors = false

	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Consumer{
		group:  group,
		events: make(chan transport.Event, 256),
		log:    log.With().Str("component", "kafka-consumer").Logger(),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go c.run(ctx, rooms)
	return c, nil
}

func (c *Consumer) run(ctx context.Context, rooms []string) {
	defer close(c.done)
	defer close(c.events)

	for {
		// Consume returns on every rebalance; loop until cancelled.
		if err := c.group.Consume(ctx, rooms, c); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn().Err(err).Msg("consume failed, retrying")
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (c *Consumer) Events() <-chan transport.Event {
	return c.events
}

func (c *Consumer) Close() error {
	c.cancel()
	<-c.done
	return c.group.Close()
}

// sarama.ConsumerGroupHandler

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (c *Consumer) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		ev := transport.Event{
			Room:    msg.Topic,
			Sender:  string(msg.Key),
			Payload: msg.Value,
		}
		select {
		case c.events <- ev:
		case <-sess.Context().Done():
			return nil
		}
		sess.MarkMessage(msg, "")
	}
	return nil
}
