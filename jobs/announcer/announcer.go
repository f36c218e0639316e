package announcer

import (
	"context"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"tradepost/infra/store"
	"tradepost/wire"
)

// Announcer drains the outbox into the trading room. Records move
// NEW -> SENT -> ACKED; a send failure rolls the record back to NEW so
// the next tick retries it. Delivery is at-least-once and peers dedupe
// through sequence watermarks, so double sends are harmless.
type Announcer struct {
	store    *store.Store
	producer sarama.SyncProducer
	room     string
	account  string
	interval time.Duration
	log      zerolog.Logger
}

func New(
	brokers []string,
	st *store.Store,
	room string,
	account string,
	log zerolog.Logger,
) (*Announcer, error) {

	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}

	return &Announcer{
		store:    st,
		producer: producer,
		room:     room,
		account:  account,
		interval: 250 * time.Millisecond,
		log:      log.With().Str("component", "announcer").Logger(),
	}, nil
}

func (a *Announcer) Start(ctx context.Context) {
	a.log.Info().Str("room", a.room).Msg("announcer started")

	go func() {
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.flushOnce()
			}
		}
	}()
}

func (a *Announcer) flushOnce() {
	_ = a.store.ScanOutbox(store.OutboxNew, func(rec *store.OutboxRecord) error {
		// Mark SENT first so a crash mid-send errs toward resending.
		_ = a.store.MarkOutbox(rec.Sequence, store.OutboxSent)

		if err := a.publish(rec.Payload); err != nil {
			a.log.Warn().Err(err).Uint64("sequence", rec.Sequence).Msg("publish failed, will retry")
			_ = a.store.MarkOutbox(rec.Sequence, store.OutboxNew)
			return nil
		}

		_ = a.store.MarkOutbox(rec.Sequence, store.OutboxAcked)
		return nil
	})
}

// AnnounceJoin tells the room this account is present; peers answer by
// re-announcing their open orders.
func (a *Announcer) AnnounceJoin() error {
	payload, err := wire.Marshal(&wire.Envelope{Version: wire.ProtocolVersion, Join: &wire.Join{}})
	if err != nil {
		return err
	}
	return a.publish(payload)
}

// AnnounceLeave tells the room this account is departing so peers evict
// its open orders.
func (a *Announcer) AnnounceLeave() error {
	payload, err := wire.Marshal(&wire.Envelope{Version: wire.ProtocolVersion, Leave: &wire.Leave{}})
	if err != nil {
		return err
	}
	return a.publish(payload)
}

func (a *Announcer) publish(payload []byte) error {
	_, _, err := a.producer.SendMessage(&sarama.ProducerMessage{
		Topic: a.room,
		Key:   sarama.StringEncoder(a.account),
		Value: sarama.ByteEncoder(payload),
	})
	return err
}

func (a *Announcer) Close() error {
	return a.producer.Close()
}
