package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"VaultLedger/internal/addressing"
	"VaultLedger/internal/ledger"
)

// ErrNotFound is returned when the requested record does not exist in the
// projections. The serving layer maps it to HTTP 404.
var ErrNotFound = errors.New("not found")

// ErrInvalidCursor is returned when a pagination cursor cannot be parsed.
var ErrInvalidCursor = errors.New("invalid cursor")

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// QueryService provides read-only access to the projection tables and the
// request log. All responses include as_of_sequence, the projection worker's
// watermark at read time, so callers can reason about staleness against the
// sequence an accepted request reported.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// GetConfig returns the projected pool configuration.
func (qs *QueryService) GetConfig(ctx context.Context) (*ConfigResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var resp ConfigResponse
	err = qs.db.QueryRowContext(ctx, `
		SELECT interest_asset, collateral_asset, base_interest_rate, price_max_age,
		       min_commission_rate, max_commission_rate,
		       min_deposit_amount, max_deposit_amount,
		       allowed_lock_periods, version
		FROM projections.pool_config
		WHERE singleton
	`).Scan(
		&resp.InterestAsset, &resp.CollateralAsset, &resp.BaseInterestRate,
		&resp.PriceMaxAge, &resp.MinCommissionRate, &resp.MaxCommissionRate,
		&resp.MinDepositAmount, &resp.MaxDepositAmount,
		pq.Array(&resp.AllowedLockPeriods), &resp.Version,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	resp.AsOfSequence = asOfSeq
	return &resp, nil
}

// GetDeposit returns a user's most recent deposit record. A user holds at
// most one live deposit; completed ones stay queryable through ListDeposits.
func (qs *QueryService) GetDeposit(ctx context.Context, user addressing.Identity) (*DepositResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var d DepositResponse
	err = qs.db.QueryRowContext(ctx, `
		SELECT user_id, deposit_address, amount, deposit_time, unlock_time,
		       interest_credited, commission_rate, state, version
		FROM projections.deposits
		WHERE user_id = $1
		ORDER BY deposit_time DESC
		LIMIT 1
	`, user.String()).Scan(
		&d.UserID, &d.DepositAddress, &d.Amount, &d.DepositTime, &d.UnlockTime,
		&d.InterestCredited, &d.CommissionRate, &d.State, &d.Version,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	d.AsOfSequence = asOfSeq
	return &d, nil
}

// ListDeposits returns deposits ordered by most recently touched, optionally
// filtered by lifecycle state. The cursor is the updated_sequence of the last
// row of the previous page.
func (qs *QueryService) ListDeposits(ctx context.Context, state string, limit int, cursor string) (*DepositListResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}
	limit = clampLimit(limit)

	query := `
		SELECT user_id, deposit_address, amount, deposit_time, unlock_time,
		       interest_credited, commission_rate, state, version, updated_sequence
		FROM projections.deposits
		WHERE 1 = 1
	`
	args := []interface{}{}
	argIdx := 1

	if state != "" {
		query += fmt.Sprintf(" AND state = $%d", argIdx)
		args = append(args, state)
		argIdx++
	}

	if cursor != "" {
		afterSeq, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return nil, ErrInvalidCursor
		}
		query += fmt.Sprintf(" AND updated_sequence < $%d", argIdx)
		args = append(args, afterSeq)
		argIdx++
	}

	query += " ORDER BY updated_sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	resp := &DepositListResponse{AsOfSequence: asOfSeq}
	var lastSeq int64
	for rows.Next() {
		var d DepositResponse
		d.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&d.UserID, &d.DepositAddress, &d.Amount, &d.DepositTime, &d.UnlockTime,
			&d.InterestCredited, &d.CommissionRate, &d.State, &d.Version, &lastSeq,
		); err != nil {
			return nil, err
		}
		resp.Deposits = append(resp.Deposits, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(resp.Deposits) == limit {
		resp.NextCursor = strconv.FormatInt(lastSeq, 10)
	}
	return resp, nil
}

// GetPools returns the system pool balances plus the custody boundary
// accounts. Summing any asset across this response and all user holdings
// yields zero when the ledger is intact.
func (qs *QueryService) GetPools(ctx context.Context) (*PoolsResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	keys := []ledger.AccountKey{
		ledger.CollateralPoolKey(),
		ledger.InterestPoolKey(),
		ledger.WithdrawalPoolKey(),
		ledger.NewExternalAccountKey(ledger.AssetCollateral),
		ledger.NewExternalAccountKey(ledger.AssetInterest),
	}

	resp := &PoolsResponse{AsOfSequence: asOfSeq}
	for _, key := range keys {
		path := key.AccountPath()
		balance, err := qs.getProjectedBalance(ctx, path)
		if err != nil {
			return nil, err
		}
		assetName, _ := ledger.GetAssetName(key.AssetID)
		resp.Pools = append(resp.Pools, PoolBalance{
			AccountPath: path,
			Asset:       assetName,
			Balance:     balance,
		})
	}
	return resp, nil
}

// GetBalances returns all holding accounts for one user, including a zero
// set when the user has never transacted.
func (qs *QueryService) GetBalances(ctx context.Context, user addressing.Identity) (*BalancesResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	// scope 0 = user accounts; the literal keeps the partial index usable
	rows, err := qs.db.QueryContext(ctx, `
		SELECT account_path, asset_id, balance
		FROM projections.balances
		WHERE scope = 0 AND entity = $1
		ORDER BY account_path
	`, user.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	resp := &BalancesResponse{UserID: user.String(), AsOfSequence: asOfSeq}
	for rows.Next() {
		var ab AccountBalance
		var assetID int16
		if err := rows.Scan(&ab.AccountPath, &assetID, &ab.Balance); err != nil {
			return nil, err
		}
		ab.Asset, _ = ledger.GetAssetName(ledger.AssetID(assetID))
		resp.Accounts = append(resp.Accounts, ab)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetActivity returns a user's ledger activity, newest first. The cursor is
// "sequence:journal_id" of the last entry of the previous page; journals
// created by one request share a sequence, so the journal id breaks the tie.
func (qs *QueryService) GetActivity(ctx context.Context, user addressing.Identity, limit int, cursor string) (*ActivityResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}
	limit = clampLimit(limit)

	query := `
		SELECT journal_id, sequence, journal_type, asset, amount, direction, occurred_at
		FROM projections.activity
		WHERE user_id = $1
	`
	args := []interface{}{user.String()}
	argIdx := 2

	if cursor != "" {
		afterSeq, afterID, err := parseActivityCursor(cursor)
		if err != nil {
			return nil, err
		}
		query += fmt.Sprintf(" AND (sequence, journal_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, afterSeq, afterID)
		argIdx += 2
	}

	query += " ORDER BY sequence DESC, journal_id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	resp := &ActivityResponse{UserID: user.String(), AsOfSequence: asOfSeq}
	for rows.Next() {
		var e ActivityEntry
		var journalType int32
		if err := rows.Scan(
			&e.JournalID, &e.Sequence, &journalType, &e.Asset,
			&e.Amount, &e.Direction, &e.OccurredAt,
		); err != nil {
			return nil, err
		}
		e.JournalType = ledger.JournalType(journalType).String()
		resp.Entries = append(resp.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(resp.Entries) == limit {
		last := resp.Entries[len(resp.Entries)-1]
		resp.NextCursor = fmt.Sprintf("%d:%s", last.Sequence, last.JournalID)
	}
	return resp, nil
}

// VerifyIntegrity checks the hash chain in the request log and the global
// zero-sum invariant over the projected balances.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}
	report := &IntegrityReport{AsOfSequence: asOfSeq}

	// Each request's prev_hash must equal its predecessor's state_hash; the
	// COALESCE makes a missing predecessor (log truncated to a snapshot) pass.
	rows, err := qs.db.QueryContext(ctx, `
		SELECT r1.sequence
		FROM request_log.requests r1
		LEFT JOIN request_log.requests r2 ON r2.sequence = r1.sequence - 1
		WHERE r1.sequence > 0 AND r1.prev_hash != COALESCE(r2.state_hash, r1.prev_hash)
		ORDER BY r1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Every journal moves an amount between two accounts of the same asset,
	// so each asset must sum to zero across all scopes.
	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT asset_id, SUM(balance) AS total
		FROM projections.balances
		GROUP BY asset_id
		HAVING SUM(balance) != 0
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var assetID uint16
		var total int64
		if err := balanceRows.Scan(&assetID, &total); err != nil {
			return nil, err
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, UnbalancedAsset{
			AssetID:   assetID,
			Imbalance: total,
		})
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedAssets) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE projection = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

func (qs *QueryService) getProjectedBalance(ctx context.Context, accountPath string) (int64, error) {
	var balance int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT balance FROM projections.balances WHERE account_path = $1
	`, accountPath).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return balance, err
}

func parseActivityCursor(cursor string) (int64, string, error) {
	parts := strings.SplitN(cursor, ":", 2)
	if len(parts) != 2 {
		return 0, "", ErrInvalidCursor
	}
	seq, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, "", ErrInvalidCursor
	}
	return seq, parts[1], nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	if limit > maxPageSize {
		return maxPageSize
	}
	return limit
}
