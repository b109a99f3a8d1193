package ledger

import (
	"github.com/google/uuid"

	"VaultLedger/internal/addressing"
	"VaultLedger/internal/protocol"
)

// JournalGenerator creates balanced journal batches for protocol requests.
// Every liquidity pre-check runs against the tracker before a batch is
// returned, so a generated batch always applies cleanly and a rejection
// leaves balances untouched.
type JournalGenerator struct {
	tracker *BalanceTracker
}

func NewJournalGenerator(tracker *BalanceTracker) *JournalGenerator {
	return &JournalGenerator{tracker: tracker}
}

func (jg *JournalGenerator) newBatch(seq int64, requestRef string, ts int64, capacity int) *Batch {
	return &Batch{
		BatchID:    uuid.New(),
		RequestRef: requestRef,
		Sequence:   seq,
		Timestamp:  ts,
		Journals:   make([]Journal, 0, capacity),
	}
}

// GenerateCustodyCredit funds a holding from the custody boundary.
// Moves funds: external:custody -> holder's holding for the asset.
func (jg *JournalGenerator) GenerateCustodyCredit(seq int64, requestRef string, owner addressing.Identity, assetID AssetID, amount int64, ts int64) (*Batch, error) {
	if amount <= 0 {
		return nil, protocol.ErrInvalidInput("custody credit amount must be positive")
	}

	batch := jg.newBatch(seq, requestRef, ts, 1)
	batch.add(NewUserAccountKey(owner, HoldingSubType(assetID), assetID), NewExternalAccountKey(assetID), assetID, amount, JournalTypeCustodyCredit)
	return batch, nil
}

// GenerateOpenDeposit locks the principal and pays the interest credit.
// Moves funds: user:collateral_holding -> system:collateral_pool and
// system:interest_pool -> user:interest_holding.
// Pre-checks: the user holding covers the principal and the interest pool
// covers the credit. A zero interest credit produces a single-leg batch.
func (jg *JournalGenerator) GenerateOpenDeposit(seq int64, requestRef string, user addressing.Identity, principal, interest int64, ts int64) (*Batch, error) {
	if principal <= 0 {
		return nil, protocol.ErrInvalidInput("deposit principal must be positive")
	}

	holding := NewUserAccountKey(user, SubTypeCollateralHolding, AssetCollateral)
	if have := jg.tracker.GetBalance(holding); have < principal {
		return nil, protocol.ErrInsufficientBalance(holding.AccountPath(), have, principal)
	}
	if have := jg.tracker.InterestPool(); have < interest {
		return nil, protocol.ErrInsufficientPoolBalance("interest_pool", have, interest)
	}

	batch := jg.newBatch(seq, requestRef, ts, 2)
	batch.add(CollateralPoolKey(), holding, AssetCollateral, principal, JournalTypePrincipalLock)
	if interest > 0 {
		batch.add(NewUserAccountKey(user, SubTypeInterestHolding, AssetInterest), InterestPoolKey(), AssetInterest, interest, JournalTypeInterestPayout)
	}
	return batch, nil
}

// GenerateClawback returns pro-rated interest to the pool on early exit.
// Moves funds: user:interest_holding -> system:interest_pool.
// A zero clawback moves nothing and produces no batch.
func (jg *JournalGenerator) GenerateClawback(seq int64, requestRef string, user addressing.Identity, amount int64, ts int64) (*Batch, error) {
	if amount == 0 {
		return nil, nil
	}
	if amount < 0 {
		return nil, protocol.ErrInvalidInput("clawback amount must not be negative")
	}

	holding := NewUserAccountKey(user, SubTypeInterestHolding, AssetInterest)
	if have := jg.tracker.GetBalance(holding); have < amount {
		return nil, protocol.ErrInsufficientInterestBalance(have, amount)
	}

	batch := jg.newBatch(seq, requestRef, ts, 1)
	batch.add(InterestPoolKey(), holding, AssetInterest, amount, JournalTypeClawback)
	return batch, nil
}

// GenerateInvestmentSweep moves the entire collateral pool into the admin's
// holding for off-platform deployment. An empty pool rejects.
func (jg *JournalGenerator) GenerateInvestmentSweep(seq int64, requestRef string, admin addressing.Identity, ts int64) (*Batch, error) {
	available := jg.tracker.CollateralPool()
	if available <= 0 {
		return nil, protocol.ErrInsufficientPoolBalance("collateral_pool", available, 1)
	}

	batch := jg.newBatch(seq, requestRef, ts, 1)
	batch.add(NewUserAccountKey(admin, SubTypeCollateralHolding, AssetCollateral), CollateralPoolKey(), AssetCollateral, available, JournalTypeInvestmentSweep)
	return batch, nil
}

// GenerateWithdrawalStage moves a deposit's principal from the admin holding
// into the withdrawal pool so the owner can collect it.
func (jg *JournalGenerator) GenerateWithdrawalStage(seq int64, requestRef string, admin addressing.Identity, amount int64, ts int64) (*Batch, error) {
	if amount <= 0 {
		return nil, protocol.ErrInvalidInput("staged amount must be positive")
	}

	holding := NewUserAccountKey(admin, SubTypeCollateralHolding, AssetCollateral)
	if have := jg.tracker.GetBalance(holding); have < amount {
		return nil, protocol.ErrInsufficientBalance(holding.AccountPath(), have, amount)
	}

	batch := jg.newBatch(seq, requestRef, ts, 1)
	batch.add(WithdrawalPoolKey(), holding, AssetCollateral, amount, JournalTypeWithdrawalStage)
	return batch, nil
}

// GenerateInterestFund moves interest inventory from the admin holding into
// the interest pool.
func (jg *JournalGenerator) GenerateInterestFund(seq int64, requestRef string, admin addressing.Identity, amount int64, ts int64) (*Batch, error) {
	if amount <= 0 {
		return nil, protocol.ErrInvalidInput("funding amount must be positive")
	}

	holding := NewUserAccountKey(admin, SubTypeInterestHolding, AssetInterest)
	if have := jg.tracker.GetBalance(holding); have < amount {
		return nil, protocol.ErrInsufficientBalance(holding.AccountPath(), have, amount)
	}

	batch := jg.newBatch(seq, requestRef, ts, 1)
	batch.add(InterestPoolKey(), holding, AssetInterest, amount, JournalTypeInterestFund)
	return batch, nil
}

// GenerateInterestDefund moves interest inventory from the pool back to the
// admin holding.
func (jg *JournalGenerator) GenerateInterestDefund(seq int64, requestRef string, admin addressing.Identity, amount int64, ts int64) (*Batch, error) {
	if amount <= 0 {
		return nil, protocol.ErrInvalidInput("defunding amount must be positive")
	}

	if have := jg.tracker.InterestPool(); have < amount {
		return nil, protocol.ErrInsufficientPoolBalance("interest_pool", have, amount)
	}

	batch := jg.newBatch(seq, requestRef, ts, 1)
	batch.add(NewUserAccountKey(admin, SubTypeInterestHolding, AssetInterest), InterestPoolKey(), AssetInterest, amount, JournalTypeInterestDefund)
	return batch, nil
}

// GeneratePrincipalRelease pays the unlocked principal from the withdrawal
// pool back to the owner's holding.
func (jg *JournalGenerator) GeneratePrincipalRelease(seq int64, requestRef string, user addressing.Identity, amount int64, ts int64) (*Batch, error) {
	if amount <= 0 {
		return nil, protocol.ErrInvalidInput("release amount must be positive")
	}

	if have := jg.tracker.WithdrawalPool(); have < amount {
		return nil, protocol.ErrInsufficientPoolBalance("withdrawal_pool", have, amount)
	}

	batch := jg.newBatch(seq, requestRef, ts, 1)
	batch.add(NewUserAccountKey(user, SubTypeCollateralHolding, AssetCollateral), WithdrawalPoolKey(), AssetCollateral, amount, JournalTypePrincipalRelease)
	return batch, nil
}
