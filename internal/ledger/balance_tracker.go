package ledger

import (
	"fmt"

	"VaultLedger/internal/addressing"
)

// BalanceTracker maintains in-memory account balances
type BalanceTracker struct {
	balances map[AccountKey]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]int64),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.balances[j.DebitAccount] += j.Amount
	bt.balances[j.CreditAccount] -= j.Amount
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	return bt.balances[key]
}

// UserCollateral returns a holder's collateral holding balance
func (bt *BalanceTracker) UserCollateral(holder addressing.Identity) int64 {
	return bt.GetBalance(NewUserAccountKey(holder, SubTypeCollateralHolding, AssetCollateral))
}

// UserInterest returns a holder's interest holding balance
func (bt *BalanceTracker) UserInterest(holder addressing.Identity) int64 {
	return bt.GetBalance(NewUserAccountKey(holder, SubTypeInterestHolding, AssetInterest))
}

// CollateralPool returns the locked-principal pool balance
func (bt *BalanceTracker) CollateralPool() int64 {
	return bt.GetBalance(CollateralPoolKey())
}

// InterestPool returns the interest inventory pool balance
func (bt *BalanceTracker) InterestPool() int64 {
	return bt.GetBalance(InterestPoolKey())
}

// WithdrawalPool returns the staged-payout pool balance
func (bt *BalanceTracker) WithdrawalPool() int64 {
	return bt.GetBalance(WithdrawalPoolKey())
}

// ComputeGlobalBalance sums all account balances per asset (zero for a
// zero-sum ledger: the custody boundary offsets every holding and pool)
func (bt *BalanceTracker) ComputeGlobalBalance() map[AssetID]int64 {
	totals := make(map[AssetID]int64)

	for key, balance := range bt.balances {
		totals[key.AssetID] += balance
	}

	return totals
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance < 0 {
		return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
	}
	return nil
}

// Snapshot returns a copy of all balances (for snapshots and rebuilds)
func (bt *BalanceTracker) Snapshot() map[AccountKey]int64 {
	snapshot := make(map[AccountKey]int64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}

// Restore replaces all balances with the snapshot contents
func (bt *BalanceTracker) Restore(balances map[AccountKey]int64) {
	bt.balances = make(map[AccountKey]int64, len(balances))
	for k, v := range balances {
		bt.balances[k] = v
	}
}
