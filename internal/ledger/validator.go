package ledger

import (
	"fmt"

	"VaultLedger/internal/addressing"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies the batch is well-formed
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateGlobalBalance verifies the ledger is zero-sum per asset
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for assetID, total := range totals {
		if total != 0 {
			assetName, _ := GetAssetName(assetID)
			return fmt.Errorf("global balance for %s is non-zero: %d", assetName, total)
		}
	}

	return nil
}

// ValidatePoolsNonNegative verifies no pool has been driven negative
func (v *InvariantValidator) ValidatePoolsNonNegative() error {
	for _, key := range []AccountKey{CollateralPoolKey(), InterestPoolKey(), WithdrawalPoolKey()} {
		if err := v.tracker.ValidateNonNegative(key); err != nil {
			return err
		}
	}
	return nil
}

// ValidateHoldingsNonNegative verifies a holder's accounts never go negative
func (v *InvariantValidator) ValidateHoldingsNonNegative(holder addressing.Identity) error {
	if err := v.tracker.ValidateNonNegative(NewUserAccountKey(holder, SubTypeCollateralHolding, AssetCollateral)); err != nil {
		return err
	}
	return v.tracker.ValidateNonNegative(NewUserAccountKey(holder, SubTypeInterestHolding, AssetInterest))
}
