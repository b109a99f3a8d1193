package query

// ConfigResponse is the projected pool configuration.
type ConfigResponse struct {
	InterestAsset      string  `json:"interest_asset"`
	CollateralAsset    string  `json:"collateral_asset"`
	BaseInterestRate   int64   `json:"base_interest_rate"`
	PriceMaxAge        int64   `json:"price_max_age"`
	MinCommissionRate  int64   `json:"min_commission_rate"`
	MaxCommissionRate  int64   `json:"max_commission_rate"`
	MinDepositAmount   int64   `json:"min_deposit_amount"`
	MaxDepositAmount   int64   `json:"max_deposit_amount"`
	AllowedLockPeriods []int64 `json:"allowed_lock_periods"`
	Version            int64   `json:"version"`
	AsOfSequence       int64   `json:"as_of_sequence"`
}

// DepositResponse represents a deposit record for API queries.
type DepositResponse struct {
	UserID           string `json:"user_id"`
	DepositAddress   string `json:"deposit_address"`
	Amount           int64  `json:"amount"`
	DepositTime      int64  `json:"deposit_time"`
	UnlockTime       int64  `json:"unlock_time"`
	InterestCredited int64  `json:"interest_credited"`
	CommissionRate   int64  `json:"commission_rate"`
	State            string `json:"state"`
	Version          int64  `json:"version"`
	AsOfSequence     int64  `json:"as_of_sequence"`
}

// DepositListResponse is one page of deposit records. NextCursor is opaque;
// pass it back unchanged to fetch the next page. Empty means no more pages.
type DepositListResponse struct {
	Deposits     []DepositResponse `json:"deposits"`
	NextCursor   string            `json:"next_cursor,omitempty"`
	AsOfSequence int64             `json:"as_of_sequence"`
}

// PoolBalance is one system pool or custody boundary account.
type PoolBalance struct {
	AccountPath string `json:"account_path"`
	Asset       string `json:"asset"`
	Balance     int64  `json:"balance"`
}

// PoolsResponse reports the pool accounts and the custody boundary. The
// custody accounts run negative: they record what the outside world has
// handed to the service, seen from the outside.
type PoolsResponse struct {
	Pools        []PoolBalance `json:"pools"`
	AsOfSequence int64         `json:"as_of_sequence"`
}

// AccountBalance is one of a user's holding accounts.
type AccountBalance struct {
	AccountPath string `json:"account_path"`
	Asset       string `json:"asset"`
	Balance     int64  `json:"balance"`
}

// BalancesResponse lists all holding accounts for one user.
type BalancesResponse struct {
	UserID       string           `json:"user_id"`
	Accounts     []AccountBalance `json:"accounts"`
	AsOfSequence int64            `json:"as_of_sequence"`
}

// ActivityEntry is one ledger movement seen from the account holder's side.
// Direction is "in" when the holder's account was the destination and "out"
// when it was the source.
type ActivityEntry struct {
	JournalID   string `json:"journal_id"`
	Sequence    int64  `json:"sequence"`
	JournalType string `json:"journal_type"`
	Asset       string `json:"asset"`
	Amount      int64  `json:"amount"`
	Direction   string `json:"direction"`
	OccurredAt  int64  `json:"occurred_at"`
}

// ActivityResponse is one page of a user's ledger activity.
type ActivityResponse struct {
	UserID       string          `json:"user_id"`
	Entries      []ActivityEntry `json:"entries"`
	NextCursor   string          `json:"next_cursor,omitempty"`
	AsOfSequence int64           `json:"as_of_sequence"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
	AsOfSequence     int64             `json:"as_of_sequence"`
}

// UnbalancedAsset represents an asset with non-zero global balance sum.
type UnbalancedAsset struct {
	AssetID   uint16 `json:"asset_id"`
	Imbalance int64  `json:"imbalance"`
}
