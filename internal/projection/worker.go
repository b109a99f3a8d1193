package projection

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"VaultLedger/internal/ledger"
	"VaultLedger/internal/observability"
	"VaultLedger/internal/state"
)

// AppliedOutput carries one applied request into the read model, bridged
// from the core output by the orchestrator. Deposit and Config are detached
// copies and nil when the request did not touch them.
type AppliedOutput struct {
	Sequence    int64
	RequestType string
	Timestamp   int64 // versioned input time, epoch seconds
	Journals    []ledger.Journal
	Deposit     *state.Deposit
	Config      *state.PoolConfig
}

// ProjectionWorker updates the projections schema from applied requests.
// The projection channel is non-blocking with drop: a lost update leaves the
// read model behind until a rebuild, never corrupts it. The watermark is
// committed in the same transaction as the tables it covers, and outputs at
// or below it are skipped, so replaying the log through the worker after a
// restart cannot double-apply balance increments.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan AppliedOutput
	metrics   *observability.Metrics
	logger    zerolog.Logger
	lastSeq   int64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan AppliedOutput, metrics *observability.Metrics) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    observability.NewLogger("projection"),
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	watermark, err := pw.loadWatermark(ctx)
	if err != nil {
		return fmt.Errorf("load projection watermark: %w", err)
	}
	pw.lastSeq = watermark

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if output.Sequence <= pw.lastSeq {
				continue // already projected before a restart
			}

			start := time.Now()
			if err := pw.processOutput(ctx, output); err != nil {
				pw.logger.Warn().
					Err(err).
					Int64("sequence", output.Sequence).
					Str("request_type", output.RequestType).
					Msg("projection update failed")
				// Projections are eventually consistent and rebuildable
				// from the request log.
			}
			if pw.metrics != nil {
				pw.metrics.ProjectionUpdateDur.WithLabelValues("main").Observe(time.Since(start).Seconds())
			}

			pw.lastSeq = output.Sequence
		}
	}
}

func (pw *ProjectionWorker) loadWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := pw.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE projection = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return seq, nil
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output AppliedOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, j := range output.Journals {
		if err := pw.applyJournal(ctx, tx, output.Sequence, j); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}

	if output.Deposit != nil {
		if err := pw.upsertDeposit(ctx, tx, output.Sequence, output.Deposit); err != nil {
			return fmt.Errorf("deposit projection: %w", err)
		}
	}

	if output.Config != nil {
		if err := pw.upsertConfig(ctx, tx, output.Sequence, output.Config); err != nil {
			return fmt.Errorf("config projection: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (projection, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (projection) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

// applyJournal moves the projected balances the way the ledger does: the
// debit account is the destination and increases, the credit account pays
// and decreases.
func (pw *ProjectionWorker) applyJournal(ctx context.Context, tx *sql.Tx, sequence int64, j ledger.Journal) error {
	if err := pw.adjustBalance(ctx, tx, sequence, j.DebitAccount, j.Amount); err != nil {
		return err
	}
	if err := pw.adjustBalance(ctx, tx, sequence, j.CreditAccount, -j.Amount); err != nil {
		return err
	}

	if j.DebitAccount.Scope == ledger.AccountScopeUser {
		if err := pw.insertActivity(ctx, tx, sequence, j, j.DebitAccount, "in"); err != nil {
			return err
		}
	}
	if j.CreditAccount.Scope == ledger.AccountScopeUser {
		if err := pw.insertActivity(ctx, tx, sequence, j, j.CreditAccount, "out"); err != nil {
			return err
		}
	}

	return nil
}

func (pw *ProjectionWorker) adjustBalance(ctx context.Context, tx *sql.Tx, sequence int64, key ledger.AccountKey, delta int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances
			(account_path, scope, entity, sub_type, asset_id, balance, updated_sequence, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (account_path)
		DO UPDATE SET balance = projections.balances.balance + $6,
		              updated_sequence = $7, updated_at = NOW()
	`, key.AccountPath(), uint8(key.Scope), key.Entity.String(), uint8(key.SubType),
		uint16(key.AssetID), delta, sequence)
	return err
}

func (pw *ProjectionWorker) insertActivity(ctx context.Context, tx *sql.Tx, sequence int64, j ledger.Journal, holder ledger.AccountKey, direction string) error {
	assetName, _ := ledger.GetAssetName(j.AssetID)
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.activity
			(journal_id, user_id, sequence, journal_type, asset, amount, direction, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (journal_id, user_id) DO NOTHING
	`, j.JournalID.String(), holder.Entity.String(), sequence, int32(j.JournalType),
		assetName, j.Amount, direction, j.Timestamp)
	return err
}

func (pw *ProjectionWorker) upsertDeposit(ctx context.Context, tx *sql.Tx, sequence int64, d *state.Deposit) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.deposits
			(user_id, deposit_address, amount, deposit_time, unlock_time,
			 interest_credited, commission_rate, state, version, updated_sequence, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (user_id, deposit_time)
		DO UPDATE SET state = $8, interest_credited = $6, version = $9,
		              updated_sequence = $10, updated_at = NOW()
	`, d.User.String(), d.Address.String(), d.Amount, d.DepositTime, d.UnlockTime,
		d.InterestCredited, d.CommissionRate, d.State.String(), d.Version, sequence)
	return err
}

func (pw *ProjectionWorker) upsertConfig(ctx context.Context, tx *sql.Tx, sequence int64, cfg *state.PoolConfig) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.pool_config
			(singleton, interest_asset, collateral_asset, base_interest_rate,
			 price_max_age, min_commission_rate, max_commission_rate,
			 min_deposit_amount, max_deposit_amount, allowed_lock_periods,
			 version, updated_sequence, updated_at)
		VALUES (TRUE, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (singleton)
		DO UPDATE SET interest_asset = $1, collateral_asset = $2,
		              base_interest_rate = $3, price_max_age = $4,
		              min_commission_rate = $5, max_commission_rate = $6,
		              min_deposit_amount = $7, max_deposit_amount = $8,
		              allowed_lock_periods = $9, version = $10,
		              updated_sequence = $11, updated_at = NOW()
	`, cfg.InterestAsset.String(), cfg.CollateralAsset.String(), cfg.BaseInterestRate,
		cfg.PriceMaxAge, cfg.MinCommissionRate, cfg.MaxCommissionRate,
		cfg.MinDepositAmount, cfg.MaxDepositAmount, pq.Array(cfg.AllowedLockPeriods),
		cfg.Version, sequence)
	return err
}

// ResetProjections truncates every projection table and clears the
// watermark. The next boot replays the request log through the worker,
// which repopulates balances, deposits, config, and activity in one pass.
func ResetProjections(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.deposits`,
		`TRUNCATE projections.pool_config`,
		`TRUNCATE projections.activity`,
		`DELETE FROM projections.watermark WHERE projection = 'main'`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("reset projections: %w", err)
		}
	}

	return nil
}
