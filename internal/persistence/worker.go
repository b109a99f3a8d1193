package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"VaultLedger/internal/observability"
)

// LogEntry is one applied request plus its journal rows, bridged from the
// core output by the orchestrator (cmd/vaultledger). Persistence never
// imports core, so the bridge copies envelope fields into RequestRow.
type LogEntry struct {
	RequestRow  RequestRow
	JournalRows []JournalRow
	EmittedAt   time.Time
}

// PersistenceWorker drains the persist channel and batch-writes to Postgres.
// The persist channel uses BLOCKING sends from the core, so if this worker
// falls behind, the core stalls rather than losing an applied request.
type PersistenceWorker struct {
	writer       *RequestLogWriter
	inputChan    <-chan LogEntry
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

func NewPersistenceWorker(
	db *sql.DB,
	inputChan <-chan LogEntry,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
) *PersistenceWorker {
	return &PersistenceWorker{
		writer:       NewRequestLogWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		logger:       observability.NewLogger("persistence"),
	}
}

// Run starts the persistence worker loop. It batches incoming entries and
// flushes either when the batch is full or the flush timeout expires.
// Blocks until ctx is cancelled or the input channel closes.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	batch := make([]LogEntry, 0, pw.batchSize)

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			// Graceful shutdown: flush remaining with a fresh context so the
			// final batch is not lost to the cancellation itself.
			if len(batch) > 0 {
				if err := pw.flush(context.Background(), batch); err != nil {
					pw.logger.Error().Err(err).Int("requests", len(batch)).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case entry, ok := <-pw.inputChan:
			if !ok {
				if len(batch) > 0 {
					if err := pw.flush(context.Background(), batch); err != nil {
						pw.logger.Error().Err(err).Int("requests", len(batch)).Msg("final flush failed")
					}
				}
				return nil
			}

			batch = append(batch, entry)

			if len(batch) >= pw.batchSize {
				if err := pw.flushWithRetry(ctx, batch); err != nil {
					pw.logger.Error().Err(err).Msg("batch flush failed after retries")
				}
				batch = batch[:0]
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				if err := pw.flushWithRetry(ctx, batch); err != nil {
					pw.logger.Error().Err(err).Msg("timeout flush failed after retries")
				}
				batch = batch[:0]
			}
			timer.Reset(pw.flushTimeout)
		}
	}
}

// flushWithRetry attempts to flush with exponential backoff. The worker
// NEVER drops applied requests; it retries until the write succeeds or the
// context is cancelled, in which case it makes one last attempt with a
// background context before giving up.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, batch []LogEntry) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			pw.logger.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("requests", len(batch)).
				Msg("persistence retry")
			if pw.metrics != nil {
				pw.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				if finalErr := pw.flush(context.Background(), batch); finalErr != nil {
					return finalErr
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := pw.flush(ctx, batch)
		if err == nil {
			if attempt > 0 {
				pw.logger.Info().Int("attempts", attempt).Msg("persistence flush recovered")
			}
			return nil
		}

		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("retry").Inc()
		}
	}
}

func (pw *PersistenceWorker) flush(ctx context.Context, batch []LogEntry) error {
	start := time.Now()

	requests := make([]RequestRow, 0, len(batch))
	journals := make([]JournalRow, 0, len(batch)*2)
	for _, entry := range batch {
		requests = append(requests, entry.RequestRow)
		journals = append(journals, entry.JournalRows...)
	}

	// Requests and journals commit in a single transaction
	tx, err := pw.writer.db.BeginTx(ctx, nil)
	if err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("tx_begin").Inc()
		}
		return err
	}
	defer tx.Rollback()

	if err := pw.writer.WriteRequestBatch(tx, requests); err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("write_requests").Inc()
		}
		return err
	}

	if err := pw.writer.WriteJournalBatch(tx, journals); err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("write_journals").Inc()
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("tx_commit").Inc()
		}
		return err
	}

	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistBatchSize.Observe(float64(len(requests)))
		pw.metrics.PersistRequestsWritten.Add(float64(len(requests)))
		pw.metrics.PersistJournalsWritten.Add(float64(len(journals)))
		pw.metrics.PersistLastSequence.Set(float64(requests[len(requests)-1].Sequence))
		for _, entry := range batch {
			if !entry.EmittedAt.IsZero() {
				pw.metrics.ApplyToPersist.Observe(time.Since(entry.EmittedAt).Seconds())
			}
		}
	}

	return nil
}
