package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"VaultLedger/internal/addressing"
	"VaultLedger/internal/core"
	"VaultLedger/internal/ledger"
	"VaultLedger/internal/state"
)

// SnapshotManager handles creating and loading state snapshots for recovery.
// Snapshots contain balances, deposit records, the pool config, oracle
// readings, source sequences, the idempotency LRU, and the chain tip.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is the serializable form of core.SnapshotState.
type SnapshotData struct {
	Sequence        int64                        `json:"sequence"`
	StateHash       []byte                       `json:"state_hash"`
	Balances        []BalanceSnapshot            `json:"balances"`
	Config          *state.PoolConfig            `json:"config,omitempty"`
	Deposits        []*state.Deposit             `json:"deposits"`
	Prices          map[string]*state.PriceState `json:"prices"`
	SequenceState   map[string]int64             `json:"sequence_state"`
	IdempotencyKeys []string                     `json:"idempotency_keys"`
	CreatedAt       time.Time                    `json:"created_at"`
}

// BalanceSnapshot flattens one ledger account. AccountKey is a struct and
// cannot serve as a JSON map key, so balances are stored as a sorted list.
type BalanceSnapshot struct {
	Scope   uint8  `json:"scope"`
	Entity  string `json:"entity"`
	SubType uint8  `json:"sub_type"`
	AssetID uint16 `json:"asset_id"`
	Balance int64  `json:"balance"`
}

// SnapshotFromCore converts a core snapshot into its stored form.
func SnapshotFromCore(snap *core.SnapshotState, createdAt time.Time) *SnapshotData {
	balances := make([]BalanceSnapshot, 0, len(snap.Balances))
	for key, balance := range snap.Balances {
		balances = append(balances, BalanceSnapshot{
			Scope:   uint8(key.Scope),
			Entity:  key.Entity.String(),
			SubType: uint8(key.SubType),
			AssetID: uint16(key.AssetID),
			Balance: balance,
		})
	}
	sort.Slice(balances, func(i, j int) bool {
		a, b := balances[i], balances[j]
		if a.Scope != b.Scope {
			return a.Scope < b.Scope
		}
		if a.Entity != b.Entity {
			return a.Entity < b.Entity
		}
		if a.SubType != b.SubType {
			return a.SubType < b.SubType
		}
		return a.AssetID < b.AssetID
	})

	return &SnapshotData{
		Sequence:        snap.Sequence,
		StateHash:       snap.StateHash[:],
		Balances:        balances,
		Config:          snap.Config,
		Deposits:        snap.Deposits,
		Prices:          snap.Prices,
		SequenceState:   snap.SequenceState,
		IdempotencyKeys: snap.IdempotencyKeys,
		CreatedAt:       createdAt,
	}
}

// ToCore converts a stored snapshot back into core form for restore.
func (sd *SnapshotData) ToCore() (*core.SnapshotState, error) {
	if len(sd.StateHash) != 32 {
		return nil, fmt.Errorf("snapshot state hash has %d bytes, want 32", len(sd.StateHash))
	}

	snap := &core.SnapshotState{
		Sequence:        sd.Sequence,
		Balances:        make(map[ledger.AccountKey]int64, len(sd.Balances)),
		Config:          sd.Config,
		Deposits:        sd.Deposits,
		Prices:          sd.Prices,
		SequenceState:   sd.SequenceState,
		IdempotencyKeys: sd.IdempotencyKeys,
	}
	copy(snap.StateHash[:], sd.StateHash)

	for _, b := range sd.Balances {
		entity, err := addressing.ParseIdentity(b.Entity)
		if err != nil {
			return nil, fmt.Errorf("snapshot balance entity %q: %w", b.Entity, err)
		}
		key := ledger.AccountKey{
			Scope:   ledger.AccountScope(b.Scope),
			Entity:  entity,
			SubType: ledger.AccountSubType(b.SubType),
			AssetID: ledger.AssetID(b.AssetID),
		}
		snap.Balances[key] = b.Balance
	}

	return snap, nil
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot to Postgres and reports its encoded
// size. Snapshots are written unverified and promoted by MarkVerified once
// an integrity check passes.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) (int, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	snapshotID := uuid.New()
	sizeBytes := len(data)
	formatVersion := int32(1) // v1: JSON-encoded SnapshotData

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO request_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, snapshotID, snap.Sequence, data, snap.StateHash, formatVersion, sizeBytes, snap.CreatedAt)

	return sizeBytes, err
}

// LoadLatestSnapshot loads the most recent verified snapshot. Returns
// (nil, nil) when no snapshot exists, which means a cold start: replay the
// full request log from sequence zero.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM request_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// MarkVerified marks a snapshot as verified after an integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE request_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadRequestsFrom loads applied requests from a given sequence for replay,
// used for warm restart (from a snapshot boundary) and cold restart (from
// zero).
func (sm *SnapshotManager) LoadRequestsFrom(ctx context.Context, fromSequence int64, limit int) ([]RequestRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, request_type, idempotency_key, actor, source_sequence,
		       payload, state_hash, prev_hash, applied_at
		FROM request_log.requests
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []RequestRow
	for rows.Next() {
		var r RequestRow
		if err := rows.Scan(
			&r.Sequence, &r.RequestType, &r.IdempotencyKey, &r.Actor,
			&r.SourceSequence, &r.Payload, &r.StateHash, &r.PrevHash, &r.AppliedAt,
		); err != nil {
			return nil, err
		}
		requests = append(requests, r)
	}

	return requests, rows.Err()
}

// GetLatestSequence returns the highest sequence in the request log.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM request_log.requests
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil // Empty request log
	}
	return seq.Int64, nil
}
