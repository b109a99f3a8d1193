package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"VaultLedger/internal/observability"
)

// NATSSubscriber subscribes to JetStream subjects and feeds raw messages into
// the ingestion channel for parsing and submission to the core.
type NATSSubscriber struct {
	js        jetstream.JetStream
	msgChan   chan<- RawMessage
	metrics   *observability.Metrics
	logger    zerolog.Logger
	consumers []jetstream.ConsumeContext
}

// RawMessage is an undecoded NATS message. AckFunc is called once the message
// has been handed to the core's submission channel (or is permanently
// unparseable); NakFunc requests redelivery.
type RawMessage struct {
	Subject         string
	RequestIDHeader string
	Data            []byte
	Timestamp       time.Time
	AckFunc         func()
	NakFunc         func()
}

// SubjectConfig maps a NATS subject tree to a message kind.
type SubjectConfig struct {
	Subject      string
	Kind         string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the standard inbound subject configuration. Each
// input class has its own stream so custody, oracle, and request traffic
// scale and retain independently.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "vault.requests.>", Kind: KindBinaryRequest, ConsumerName: "vault-requests", StreamName: "VAULT_REQUESTS"},
		{Subject: "vault.prices.>", Kind: KindPriceUpdate, ConsumerName: "vault-prices", StreamName: "VAULT_PRICES"},
		{Subject: "vault.custody.>", Kind: KindCustodyCredit, ConsumerName: "vault-custody", StreamName: "VAULT_CUSTODY"},
	}
}

func NewNATSSubscriber(js jetstream.JetStream, msgChan chan<- RawMessage, metrics *observability.Metrics) *NATSSubscriber {
	return &NATSSubscriber{
		js:      js,
		msgChan: msgChan,
		metrics: metrics,
		logger:  observability.NewLogger("nats-subscriber"),
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s; redelivered
// messages are absorbed by the core's idempotency check.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			now := time.Now()
			if ns.metrics != nil {
				if meta, err := msg.Metadata(); err == nil {
					ns.metrics.NATSPullLatency.WithLabelValues(cfg.Subject).Observe(now.Sub(meta.Timestamp).Seconds())
				}
			}

			raw := RawMessage{
				Subject:         msg.Subject(),
				RequestIDHeader: msg.Headers().Get(RequestIDHeader),
				Data:            msg.Data(),
				Timestamp:       now,
				AckFunc:         func() { msg.Ack() },
				NakFunc:         func() { msg.Nak() },
			}

			select {
			case ns.msgChan <- raw:
				// Queued; the ingestion loop acks after hand-off to the core.
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.logger.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}

	return nil
}

// EnsureStreams creates the required inbound JetStream streams if they don't
// exist. Streams use file storage with limits retention and a 72h window;
// the request log in Postgres is the durable record, NATS is transport.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	logger := observability.NewLogger("nats-streams")

	streams := []jetstream.StreamConfig{
		{
			Name:      "VAULT_REQUESTS",
			Subjects:  []string{"vault.requests.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "VAULT_PRICES",
			Subjects:  []string{"vault.prices.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "VAULT_CUSTODY",
			Subjects:  []string{"vault.custody.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		logger.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}

	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.logger.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	logger := observability.NewLogger("nats")

	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
