package ledger_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"VaultLedger/internal/addressing"
	"VaultLedger/internal/ledger"
	"VaultLedger/internal/protocol"
)

func fillIdentity(b byte) addressing.Identity {
	var id addressing.Identity
	for i := range id {
		id[i] = b
	}
	return id
}

func applyBatch(t *testing.T, bt *ledger.BalanceTracker, batch *ledger.Batch, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("generate batch: %v", err)
	}
	if batch == nil {
		t.Fatal("generate batch: got nil batch")
	}
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("apply batch: %v", err)
	}
}

func wantCode(t *testing.T, err error, code protocol.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with code %d, got nil", code)
	}
	if got, _ := protocol.CodeOf(err); got != code {
		t.Fatalf("error code = %d (%v), want %d", got, err, code)
	}
}

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_UserPath(t *testing.T) {
	user := fillIdentity(0xAB)
	key := ledger.NewUserAccountKey(user, ledger.SubTypeCollateralHolding, ledger.AssetCollateral)

	path := key.AccountPath()
	expected := "user:" + strings.Repeat("ab", 32) + ":collateral_holding:collateral"
	if path != expected {
		t.Errorf("got %q, want %q", path, expected)
	}
}

func TestAccountKey_SystemPath(t *testing.T) {
	path := ledger.CollateralPoolKey().AccountPath()
	if path != "system:collateral_pool:collateral" {
		t.Errorf("got %q, want %q", path, "system:collateral_pool:collateral")
	}

	path = ledger.WithdrawalPoolKey().AccountPath()
	if path != "system:withdrawal_pool:collateral" {
		t.Errorf("got %q, want %q", path, "system:withdrawal_pool:collateral")
	}
}

func TestAccountKey_ExternalPath(t *testing.T) {
	key := ledger.NewExternalAccountKey(ledger.AssetInterest)

	path := key.AccountPath()
	if path != "external:custody:interest" {
		t.Errorf("got %q, want %q", path, "external:custody:interest")
	}
}

func TestGetAssetID_Known(t *testing.T) {
	id, ok := ledger.GetAssetID("collateral")
	if !ok {
		t.Fatal("collateral should be a known asset role")
	}
	if id != ledger.AssetCollateral {
		t.Errorf("got %d, want %d", id, ledger.AssetCollateral)
	}
}

func TestGetAssetID_Unknown(t *testing.T) {
	_, ok := ledger.GetAssetID("stablecoin")
	if ok {
		t.Error("stablecoin should not be a known asset role")
	}
}

// ============================================================================
// Test: BalanceTracker
// ============================================================================

func TestBalanceTracker_InitialBalanceZero(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	user := fillIdentity(0x01)

	if bal := bt.UserCollateral(user); bal != 0 {
		t.Errorf("initial balance should be 0, got %d", bal)
	}
	if bal := bt.InterestPool(); bal != 0 {
		t.Errorf("initial pool balance should be 0, got %d", bal)
	}
}

func TestBalanceTracker_ApplyJournal(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	user := fillIdentity(0x01)

	// Custody credit: debit user:collateral_holding, credit external:custody
	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewUserAccountKey(user, ledger.SubTypeCollateralHolding, ledger.AssetCollateral),
		CreditAccount: ledger.NewExternalAccountKey(ledger.AssetCollateral),
		AssetID:       ledger.AssetCollateral,
		Amount:        1_000_000,
	})

	if got := bt.UserCollateral(user); got != 1_000_000 {
		t.Errorf("collateral holding: got %d, want 1_000_000", got)
	}
	if got := bt.GetBalance(ledger.NewExternalAccountKey(ledger.AssetCollateral)); got != -1_000_000 {
		t.Errorf("custody boundary: got %d, want -1_000_000", got)
	}
}

func TestBalanceTracker_GlobalBalanceZeroSum(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	user := fillIdentity(0x01)

	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewUserAccountKey(user, ledger.SubTypeCollateralHolding, ledger.AssetCollateral),
		CreditAccount: ledger.NewExternalAccountKey(ledger.AssetCollateral),
		AssetID:       ledger.AssetCollateral,
		Amount:        1_000_000,
	})

	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.CollateralPoolKey(),
		CreditAccount: ledger.NewUserAccountKey(user, ledger.SubTypeCollateralHolding, ledger.AssetCollateral),
		AssetID:       ledger.AssetCollateral,
		Amount:        300_000,
	})

	totals := bt.ComputeGlobalBalance()
	for aid, total := range totals {
		if total != 0 {
			t.Errorf("asset %d has non-zero global balance: %d", aid, total)
		}
	}
}

func TestBalanceTracker_SnapshotAndRestore(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	user := fillIdentity(0x01)

	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewUserAccountKey(user, ledger.SubTypeCollateralHolding, ledger.AssetCollateral),
		CreditAccount: ledger.NewExternalAccountKey(ledger.AssetCollateral),
		AssetID:       ledger.AssetCollateral,
		Amount:        999,
	})

	snap := bt.Snapshot()
	if len(snap) == 0 {
		t.Fatal("snapshot should not be empty")
	}

	// Mutating the snapshot must not affect the tracker
	for k := range snap {
		snap[k] = 0
	}
	if bt.UserCollateral(user) != 999 {
		t.Error("tracker balance should not be affected by snapshot mutation")
	}

	// Restoring a fresh tracker from an unmutated snapshot reproduces balances
	restored := ledger.NewBalanceTracker()
	restored.Restore(bt.Snapshot())
	if restored.UserCollateral(user) != 999 {
		t.Errorf("restored balance: got %d, want 999", restored.UserCollateral(user))
	}
}

// ============================================================================
// Test: Batch Validation
// ============================================================================

func TestBatchValidate_EmptyBatch_Fails(t *testing.T) {
	batch := &ledger.Batch{
		BatchID:  uuid.New(),
		Journals: []ledger.Journal{},
	}

	if err := batch.Validate(); err == nil {
		t.Error("empty batch should fail validation")
	}
}

func TestBatchValidate_NonPositiveAmount_Fails(t *testing.T) {
	for _, amount := range []int64{0, -100} {
		batchID := uuid.New()
		batch := &ledger.Batch{
			BatchID: batchID,
			Journals: []ledger.Journal{
				{
					JournalID:     uuid.New(),
					BatchID:       batchID,
					DebitAccount:  ledger.NewUserAccountKey(fillIdentity(0x01), ledger.SubTypeCollateralHolding, ledger.AssetCollateral),
					CreditAccount: ledger.NewExternalAccountKey(ledger.AssetCollateral),
					AssetID:       ledger.AssetCollateral,
					Amount:        amount,
				},
			},
		}

		if err := batch.Validate(); err == nil {
			t.Errorf("amount %d should fail validation", amount)
		}
	}
}

func TestBatchValidate_SelfTransfer_Fails(t *testing.T) {
	batchID := uuid.New()
	sameAccount := ledger.NewUserAccountKey(fillIdentity(0x01), ledger.SubTypeCollateralHolding, ledger.AssetCollateral)

	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				DebitAccount:  sameAccount,
				CreditAccount: sameAccount,
				AssetID:       ledger.AssetCollateral,
				Amount:        100,
			},
		},
	}

	if err := batch.Validate(); err == nil {
		t.Error("self-transfer should fail validation")
	}
}

func TestBatchValidate_MismatchedBatchID_Fails(t *testing.T) {
	batch := &ledger.Batch{
		BatchID: uuid.New(),
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       uuid.New(),
				DebitAccount:  ledger.NewUserAccountKey(fillIdentity(0x01), ledger.SubTypeCollateralHolding, ledger.AssetCollateral),
				CreditAccount: ledger.NewExternalAccountKey(ledger.AssetCollateral),
				AssetID:       ledger.AssetCollateral,
				Amount:        100,
			},
		},
	}

	if err := batch.Validate(); err == nil {
		t.Error("mismatched batch ID should fail validation")
	}
}

func TestBatchValidate_AssetMismatch_Fails(t *testing.T) {
	batchID := uuid.New()
	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				DebitAccount:  ledger.NewUserAccountKey(fillIdentity(0x01), ledger.SubTypeInterestHolding, ledger.AssetInterest),
				CreditAccount: ledger.NewExternalAccountKey(ledger.AssetCollateral),
				AssetID:       ledger.AssetCollateral,
				Amount:        100,
			},
		},
	}

	if err := batch.Validate(); err == nil {
		t.Error("cross-asset transfer should fail validation")
	}
}

// ============================================================================
// Test: JournalGenerator
// ============================================================================

func TestGenerator_CustodyCreditFundsHolding(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(bt)
	user := fillIdentity(0x01)

	batch, err := jg.GenerateCustodyCredit(1, "credit-1", user, ledger.AssetCollateral, 2_000_000, 100)
	applyBatch(t, bt, batch, err)

	if got := bt.UserCollateral(user); got != 2_000_000 {
		t.Errorf("holding after credit: got %d, want 2_000_000", got)
	}
}

func TestGenerator_OpenDeposit_MovesPrincipalAndInterest(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(bt)
	user := fillIdentity(0x01)
	admin := fillIdentity(0xAA)

	batch, err := jg.GenerateCustodyCredit(1, "c-1", user, ledger.AssetCollateral, 500_000, 100)
	applyBatch(t, bt, batch, err)
	batch, err = jg.GenerateCustodyCredit(2, "c-2", admin, ledger.AssetInterest, 100_000, 100)
	applyBatch(t, bt, batch, err)
	batch, err = jg.GenerateInterestFund(3, "f-1", admin, 100_000, 100)
	applyBatch(t, bt, batch, err)

	batch, err = jg.GenerateOpenDeposit(4, "d-1", user, 500_000, 60_000, 200)
	applyBatch(t, bt, batch, err)

	if got := bt.UserCollateral(user); got != 0 {
		t.Errorf("user collateral after deposit: got %d, want 0", got)
	}
	if got := bt.CollateralPool(); got != 500_000 {
		t.Errorf("collateral pool: got %d, want 500_000", got)
	}
	if got := bt.UserInterest(user); got != 60_000 {
		t.Errorf("user interest: got %d, want 60_000", got)
	}
	if got := bt.InterestPool(); got != 40_000 {
		t.Errorf("interest pool: got %d, want 40_000", got)
	}

	if err := ledger.NewInvariantValidator(bt).ValidateGlobalBalance(); err != nil {
		t.Errorf("ledger should stay zero-sum: %v", err)
	}
}

func TestGenerator_OpenDeposit_InsufficientHolding(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(bt)
	user := fillIdentity(0x01)

	_, err := jg.GenerateOpenDeposit(1, "d-1", user, 500_000, 60_000, 200)
	wantCode(t, err, protocol.CodeInsufficientBalance)

	// Rejection must not touch balances
	if got := bt.CollateralPool(); got != 0 {
		t.Errorf("pool mutated by rejected deposit: %d", got)
	}
}

func TestGenerator_OpenDeposit_InterestPoolShortfall(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(bt)
	user := fillIdentity(0x01)

	batch, err := jg.GenerateCustodyCredit(1, "c-1", user, ledger.AssetCollateral, 500_000, 100)
	applyBatch(t, bt, batch, err)

	_, err = jg.GenerateOpenDeposit(2, "d-1", user, 500_000, 60_000, 200)
	wantCode(t, err, protocol.CodeInsufficientPoolBalance)

	if got := bt.UserCollateral(user); got != 500_000 {
		t.Errorf("holding mutated by rejected deposit: %d", got)
	}
}

func TestGenerator_Clawback_ZeroProducesNoBatch(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(bt)

	batch, err := jg.GenerateClawback(1, "e-1", fillIdentity(0x01), 0, 100)
	if err != nil {
		t.Fatalf("zero clawback should not error: %v", err)
	}
	if batch != nil {
		t.Fatal("zero clawback should produce no batch")
	}
}

func TestGenerator_Clawback_InsufficientHolding(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(bt)

	_, err := jg.GenerateClawback(1, "e-1", fillIdentity(0x01), 10_000, 100)
	wantCode(t, err, protocol.CodeInsufficientInterestBalance)
}

func TestGenerator_InvestmentSweep_EmptyPoolRejects(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(bt)

	_, err := jg.GenerateInvestmentSweep(1, "s-1", fillIdentity(0xAA), 100)
	wantCode(t, err, protocol.CodeInsufficientPoolBalance)

	var perr *protocol.Error
	if !errors.As(err, &perr) {
		t.Fatalf("expected *protocol.Error, got %T", err)
	}
}

func TestGenerator_FullLifecycle_Reconciles(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(bt)
	v := ledger.NewInvariantValidator(bt)
	user := fillIdentity(0x01)
	admin := fillIdentity(0xAA)

	steps := []struct {
		name string
		gen  func() (*ledger.Batch, error)
	}{
		{"fund admin interest", func() (*ledger.Batch, error) {
			return jg.GenerateCustodyCredit(1, "c-1", admin, ledger.AssetInterest, 1_000_000, 100)
		}},
		{"fund interest pool", func() (*ledger.Batch, error) {
			return jg.GenerateInterestFund(2, "f-1", admin, 800_000, 110)
		}},
		{"fund user collateral", func() (*ledger.Batch, error) {
			return jg.GenerateCustodyCredit(3, "c-2", user, ledger.AssetCollateral, 500_000, 120)
		}},
		{"open deposit", func() (*ledger.Batch, error) {
			return jg.GenerateOpenDeposit(4, "d-1", user, 500_000, 60_000, 130)
		}},
		{"sweep pool for investment", func() (*ledger.Batch, error) {
			return jg.GenerateInvestmentSweep(5, "i-1", admin, 140)
		}},
		{"stage withdrawal", func() (*ledger.Batch, error) {
			return jg.GenerateWithdrawalStage(6, "p-1", admin, 500_000, 150)
		}},
		{"release principal", func() (*ledger.Batch, error) {
			return jg.GeneratePrincipalRelease(7, "w-1", user, 500_000, 160)
		}},
	}

	for _, step := range steps {
		batch, err := step.gen()
		if err != nil {
			t.Fatalf("%s: %v", step.name, err)
		}
		if err := bt.ApplyBatch(batch); err != nil {
			t.Fatalf("%s: apply: %v", step.name, err)
		}
		if err := v.ValidateGlobalBalance(); err != nil {
			t.Fatalf("%s: zero-sum broken: %v", step.name, err)
		}
		if err := v.ValidatePoolsNonNegative(); err != nil {
			t.Fatalf("%s: pool went negative: %v", step.name, err)
		}
	}

	// Principal is back with the user and the interest credit was kept
	if got := bt.UserCollateral(user); got != 500_000 {
		t.Errorf("final user collateral: got %d, want 500_000", got)
	}
	if got := bt.UserInterest(user); got != 60_000 {
		t.Errorf("final user interest: got %d, want 60_000", got)
	}
	if got := bt.CollateralPool(); got != 0 {
		t.Errorf("final collateral pool: got %d, want 0", got)
	}
	if got := bt.WithdrawalPool(); got != 0 {
		t.Errorf("final withdrawal pool: got %d, want 0", got)
	}
	if got := bt.InterestPool(); got != 740_000 {
		t.Errorf("final interest pool: got %d, want 740_000", got)
	}
	if got := bt.UserInterest(admin); got != 200_000 {
		t.Errorf("final admin interest holding: got %d, want 200_000", got)
	}
}

// ============================================================================
// Test: InvariantValidator
// ============================================================================

func TestInvariantValidator_GlobalBalanceZero(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	v := ledger.NewInvariantValidator(bt)

	// Empty ledger should pass
	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("empty ledger should have zero global balance: %v", err)
	}

	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewUserAccountKey(fillIdentity(0x01), ledger.SubTypeCollateralHolding, ledger.AssetCollateral),
		CreditAccount: ledger.NewExternalAccountKey(ledger.AssetCollateral),
		AssetID:       ledger.AssetCollateral,
		Amount:        1_000_000,
	})

	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("balanced ledger should have zero global balance: %v", err)
	}
}
