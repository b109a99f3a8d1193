package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"VaultLedger/internal/observability"
)

// OutboundPublisher publishes request outcomes to NATS for downstream
// consumers (custody bridge, notification services, reconciliation).
// Subjects follow the pattern: vault.ledger.outcomes.{request_type}
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan PublishableOutcome
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// PublishableOutcome reports one request's fate: applied with a sequence and
// state hash, skipped (duplicate or stale price), or rejected with a code.
type PublishableOutcome struct {
	Sequence       int64     `json:"sequence"` // -1 when nothing was applied
	RequestType    string    `json:"request_type"`
	IdempotencyKey string    `json:"idempotency_key"`
	Actor          string    `json:"actor,omitempty"`
	Applied        bool      `json:"applied"`
	Skipped        bool      `json:"skipped,omitempty"`
	ErrorCode      string    `json:"error_code,omitempty"`
	ErrorDetail    string    `json:"error_detail,omitempty"`
	StateHash      string    `json:"state_hash,omitempty"` // hex, applied requests only
	Timestamp      time.Time `json:"timestamp"`
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan PublishableOutcome, metrics *observability.Metrics) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    observability.NewLogger("outbound-publisher"),
	}
}

// Run starts the outbound publisher loop. Publish failures are non-fatal:
// downstream consumers can query the request log directly.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case outcome, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, outcome); err != nil {
				op.logger.Warn().Err(err).
					Int64("sequence", outcome.Sequence).
					Str("request_type", outcome.RequestType).
					Msg("outbound publish failed")
				if op.metrics != nil {
					op.metrics.PublishDrops.Inc()
				}
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, outcome PublishableOutcome) error {
	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}

	subject := fmt.Sprintf("vault.ledger.outcomes.%s", outcome.RequestType)
	_, err = op.js.Publish(ctx, subject, data)
	return err
}

// EnsureOutboundStream creates the outbound outcomes stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "VAULT_LEDGER_OUTCOMES",
		Subjects:  []string{"vault.ledger.outcomes.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	logger := observability.NewLogger("nats-streams")
	logger.Info().Str("stream", "VAULT_LEDGER_OUTCOMES").Msg("ensured stream")
	return nil
}
