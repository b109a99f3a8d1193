package persistence

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// RequestLogWriter writes applied requests and their journal entries to
// Postgres using multi-row INSERT. Both tables use ON CONFLICT DO NOTHING so
// replayed batches after a crash are harmless.
type RequestLogWriter struct {
	db *sql.DB
}

// RequestRow represents a row in request_log.requests
type RequestRow struct {
	Sequence       int64
	RequestType    string
	IdempotencyKey string
	Actor          string
	SourceSequence int64
	Payload        []byte // JSON-encoded request payload
	StateHash      []byte
	PrevHash       []byte
	AppliedAt      time.Time
}

// JournalRow represents a row in request_log.journals
type JournalRow struct {
	JournalID     string
	BatchID       string
	RequestRef    string
	Sequence      int64
	DebitAccount  string
	CreditAccount string
	AssetID       uint16
	Amount        int64
	JournalType   int32
	Timestamp     int64
}

func NewRequestLogWriter(db *sql.DB) *RequestLogWriter {
	return &RequestLogWriter{db: db}
}

// WriteRequestBatch inserts a batch of request rows inside the caller's
// transaction.
func (w *RequestLogWriter) WriteRequestBatch(tx *sql.Tx, requests []RequestRow) error {
	if len(requests) == 0 {
		return nil
	}

	query := `INSERT INTO request_log.requests
		(sequence, request_type, idempotency_key, actor, source_sequence, payload, state_hash, prev_hash, applied_at)
		VALUES `

	values := make([]string, 0, len(requests))
	args := make([]interface{}, 0, len(requests)*9)

	for i, r := range requests {
		base := i * 9
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
		))
		args = append(args,
			r.Sequence, r.RequestType, r.IdempotencyKey, r.Actor,
			r.SourceSequence, r.Payload, r.StateHash, r.PrevHash, r.AppliedAt,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.Exec(query, args...)
	return err
}

// WriteJournalBatch inserts a batch of journal rows inside the caller's
// transaction.
func (w *RequestLogWriter) WriteJournalBatch(tx *sql.Tx, journals []JournalRow) error {
	if len(journals) == 0 {
		return nil
	}

	query := `INSERT INTO request_log.journals
		(journal_id, batch_id, request_ref, sequence, debit_account, credit_account, asset_id, amount, journal_type, timestamp)
		VALUES `

	values := make([]string, 0, len(journals))
	args := make([]interface{}, 0, len(journals)*10)

	for i, j := range journals {
		base := i * 10
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10,
		))
		args = append(args,
			j.JournalID, j.BatchID, j.RequestRef, j.Sequence,
			j.DebitAccount, j.CreditAccount, j.AssetID, j.Amount,
			j.JournalType, j.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (journal_id) DO NOTHING"

	_, err := tx.Exec(query, args...)
	return err
}
