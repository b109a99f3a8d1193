package query_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"VaultLedger/internal/addressing"
	"VaultLedger/internal/ledger"
	"VaultLedger/internal/persistence"
	"VaultLedger/internal/projection"
	"VaultLedger/internal/query"
	"VaultLedger/internal/state"
	"VaultLedger/internal/testutil"
)

// These tests need a reachable Postgres; they are skipped unless
// INTEGRATION_TEST=1 is set and the database from testutil.TestPostgresDSN
// answers. Projections are seeded through the projection worker so the
// queries read exactly what production writes.

func migrateUp(t *testing.T, db *sql.DB) {
	t.Helper()
	m := persistence.NewMigrator(db, "../../migrations")
	if err := m.Up(context.Background()); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
}

func project(t *testing.T, db *sql.DB, outputs []projection.AppliedOutput) {
	t.Helper()

	ch := make(chan projection.AppliedOutput, len(outputs))
	worker := projection.NewProjectionWorker(db, ch, nil)

	done := make(chan error, 1)
	go func() {
		done <- worker.Run(context.Background())
	}()

	for _, out := range outputs {
		ch <- out
	}
	close(ch)

	if err := <-done; err != nil {
		t.Fatalf("projection worker: %v", err)
	}
}

func testJournal(seq int64, debit, credit ledger.AccountKey, asset ledger.AssetID, amount int64, jt ledger.JournalType) ledger.Journal {
	return ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		RequestRef:    "req-test",
		Sequence:      seq,
		DebitAccount:  debit,
		CreditAccount: credit,
		AssetID:       asset,
		Amount:        amount,
		JournalType:   jt,
		Timestamp:     1_700_000_000,
	}
}

func testDeposit(user addressing.Identity, depositTime int64, st state.DepositState, version int64) *state.Deposit {
	return &state.Deposit{
		User:           user,
		Address:        addressing.DepositAddress(user),
		Amount:         500_000_000,
		DepositTime:    depositTime,
		UnlockTime:     depositTime + 2_592_000,
		CommissionRate: 250,
		State:          st,
		Version:        version,
	}
}

func chainedRequestRow(seq int64, prevHash, stateHash [32]byte) persistence.RequestRow {
	return persistence.RequestRow{
		Sequence:       seq,
		RequestType:    "DepositCollateral",
		IdempotencyKey: fmt.Sprintf("chain-key-%d", seq),
		Actor:          addressing.Identity{0x01}.String(),
		Payload:        []byte(`{}`),
		StateHash:      stateHash[:],
		PrevHash:       prevHash[:],
		AppliedAt:      time.Now().UTC(),
	}
}

func writeRequests(t *testing.T, db *sql.DB, rows []persistence.RequestRow) {
	t.Helper()
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	writer := persistence.NewRequestLogWriter(db)
	if err := writer.WriteRequestBatch(tx, rows); err != nil {
		t.Fatalf("write requests: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestQueryService_ConfigDepositBalances(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	migrateUp(t, db)

	qs := query.NewQueryService(db)
	ctx := context.Background()

	if _, err := qs.GetConfig(ctx); !errors.Is(err, query.ErrNotFound) {
		t.Fatalf("GetConfig on empty projections: err = %v, want ErrNotFound", err)
	}

	user := addressing.Identity{0xAB}
	holding := ledger.NewUserAccountKey(user, ledger.SubTypeCollateralHolding, ledger.AssetCollateral)

	cfg := state.DefaultConfig
	cfg.InterestAsset = addressing.Identity{0x1E}
	cfg.CollateralAsset = addressing.Identity{0xC0}
	cfg.Version = 2

	deposit := testDeposit(user, 1_700_000_000, state.DepositStateDeposited, 1)
	project(t, db, []projection.AppliedOutput{{
		Sequence:    9,
		RequestType: "DepositCollateral",
		Timestamp:   1_700_000_000,
		Journals: []ledger.Journal{
			testJournal(9, ledger.CollateralPoolKey(), ledger.NewExternalAccountKey(ledger.AssetCollateral), ledger.AssetCollateral, 500_000_000, ledger.JournalTypeCustodyCredit),
			testJournal(9, holding, ledger.CollateralPoolKey(), ledger.AssetCollateral, 500_000_000, ledger.JournalTypePrincipalLock),
		},
		Deposit: deposit,
		Config:  &cfg,
	}})

	gotCfg, err := qs.GetConfig(ctx)
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	if gotCfg.InterestAsset != cfg.InterestAsset.String() {
		t.Errorf("interest asset = %s, want %s", gotCfg.InterestAsset, cfg.InterestAsset)
	}
	if gotCfg.BaseInterestRate != cfg.BaseInterestRate || gotCfg.Version != 2 {
		t.Errorf("config = (rate %d, version %d), want (%d, 2)",
			gotCfg.BaseInterestRate, gotCfg.Version, cfg.BaseInterestRate)
	}
	if len(gotCfg.AllowedLockPeriods) != len(cfg.AllowedLockPeriods) {
		t.Errorf("allowed lock periods = %v, want %v", gotCfg.AllowedLockPeriods, cfg.AllowedLockPeriods)
	}
	if gotCfg.AsOfSequence != 9 {
		t.Errorf("as_of_sequence = %d, want 9", gotCfg.AsOfSequence)
	}

	gotDep, err := qs.GetDeposit(ctx, user)
	if err != nil {
		t.Fatalf("GetDeposit: %v", err)
	}
	if gotDep.UserID != user.String() || gotDep.Amount != 500_000_000 || gotDep.State != "Deposited" {
		t.Errorf("deposit = (%s, %d, %s), want (%s, 500000000, Deposited)",
			gotDep.UserID, gotDep.Amount, gotDep.State, user)
	}
	if gotDep.DepositAddress != addressing.DepositAddress(user).String() {
		t.Errorf("deposit address = %s, want derived address", gotDep.DepositAddress)
	}

	if _, err := qs.GetDeposit(ctx, addressing.Identity{0xFF}); !errors.Is(err, query.ErrNotFound) {
		t.Errorf("GetDeposit for unknown user: err = %v, want ErrNotFound", err)
	}

	gotBal, err := qs.GetBalances(ctx, user)
	if err != nil {
		t.Fatalf("GetBalances: %v", err)
	}
	if len(gotBal.Accounts) != 1 {
		t.Fatalf("balances = %d accounts, want 1", len(gotBal.Accounts))
	}
	if gotBal.Accounts[0].AccountPath != holding.AccountPath() || gotBal.Accounts[0].Balance != 500_000_000 {
		t.Errorf("holding = (%s, %d), want (%s, 500000000)",
			gotBal.Accounts[0].AccountPath, gotBal.Accounts[0].Balance, holding.AccountPath())
	}
	if gotBal.Accounts[0].Asset != "collateral" {
		t.Errorf("asset = %s, want collateral", gotBal.Accounts[0].Asset)
	}

	gotPools, err := qs.GetPools(ctx)
	if err != nil {
		t.Fatalf("GetPools: %v", err)
	}
	poolBalances := map[string]int64{}
	for _, p := range gotPools.Pools {
		poolBalances[p.AccountPath] = p.Balance
	}
	// Pool took the deposit in then locked it out to the user's holding.
	if got := poolBalances[ledger.CollateralPoolKey().AccountPath()]; got != 0 {
		t.Errorf("collateral pool = %d, want 0", got)
	}
	if got := poolBalances[ledger.NewExternalAccountKey(ledger.AssetCollateral).AccountPath()]; got != -500_000_000 {
		t.Errorf("custody = %d, want -500000000", got)
	}
}

func TestQueryService_ListDepositsPagination(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	migrateUp(t, db)

	userA := addressing.Identity{0x0A}
	userB := addressing.Identity{0x0B}
	userC := addressing.Identity{0x0C}

	project(t, db, []projection.AppliedOutput{
		{Sequence: 1, RequestType: "DepositCollateral", Deposit: testDeposit(userA, 1_700_000_000, state.DepositStateDeposited, 1)},
		{Sequence: 2, RequestType: "DepositCollateral", Deposit: testDeposit(userB, 1_700_000_100, state.DepositStateDeposited, 1)},
		{Sequence: 3, RequestType: "DepositCollateral", Deposit: testDeposit(userC, 1_700_000_200, state.DepositStateDeposited, 1)},
		// B starts withdrawing, which bumps its row to the top of the listing.
		{Sequence: 4, RequestType: "RequestWithdraw", Deposit: testDeposit(userB, 1_700_000_100, state.DepositStateWithdrawRequested, 2)},
	})

	qs := query.NewQueryService(db)
	ctx := context.Background()

	page1, err := qs.ListDeposits(ctx, "", 2, "")
	if err != nil {
		t.Fatalf("ListDeposits page 1: %v", err)
	}
	if len(page1.Deposits) != 2 {
		t.Fatalf("page 1 = %d deposits, want 2", len(page1.Deposits))
	}
	if page1.Deposits[0].UserID != userB.String() || page1.Deposits[1].UserID != userC.String() {
		t.Errorf("page 1 order = (%s, %s), want (%s, %s)",
			page1.Deposits[0].UserID, page1.Deposits[1].UserID, userB, userC)
	}
	if page1.NextCursor == "" {
		t.Fatal("page 1 next cursor is empty, want a cursor")
	}

	page2, err := qs.ListDeposits(ctx, "", 2, page1.NextCursor)
	if err != nil {
		t.Fatalf("ListDeposits page 2: %v", err)
	}
	if len(page2.Deposits) != 1 || page2.Deposits[0].UserID != userA.String() {
		t.Fatalf("page 2 = %+v, want just user A", page2.Deposits)
	}
	if page2.NextCursor != "" {
		t.Errorf("page 2 next cursor = %q, want empty", page2.NextCursor)
	}

	requested, err := qs.ListDeposits(ctx, "WithdrawRequested", 10, "")
	if err != nil {
		t.Fatalf("ListDeposits filtered: %v", err)
	}
	if len(requested.Deposits) != 1 || requested.Deposits[0].UserID != userB.String() {
		t.Fatalf("filtered = %+v, want just user B", requested.Deposits)
	}
	if requested.Deposits[0].Version != 2 {
		t.Errorf("filtered version = %d, want 2", requested.Deposits[0].Version)
	}

	if _, err := qs.ListDeposits(ctx, "", 10, "not-a-number"); !errors.Is(err, query.ErrInvalidCursor) {
		t.Errorf("bad cursor: err = %v, want ErrInvalidCursor", err)
	}
}

func TestQueryService_ActivityPagination(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	migrateUp(t, db)

	user := addressing.Identity{0xAA}
	holding := ledger.NewUserAccountKey(user, ledger.SubTypeInterestHolding, ledger.AssetInterest)

	// Three payouts under one sequence; the cursor has to split them
	// without losing or repeating entries.
	journals := []ledger.Journal{
		testJournal(6, holding, ledger.InterestPoolKey(), ledger.AssetInterest, 100, ledger.JournalTypeInterestPayout),
		testJournal(6, holding, ledger.InterestPoolKey(), ledger.AssetInterest, 200, ledger.JournalTypeInterestPayout),
		testJournal(6, holding, ledger.InterestPoolKey(), ledger.AssetInterest, 300, ledger.JournalTypeInterestPayout),
	}
	project(t, db, []projection.AppliedOutput{{
		Sequence:    6,
		RequestType: "CreditInterest",
		Journals:    journals,
	}})

	qs := query.NewQueryService(db)
	ctx := context.Background()

	seen := map[string]bool{}
	cursor := ""
	pages := 0
	for {
		page, err := qs.GetActivity(ctx, user, 2, cursor)
		if err != nil {
			t.Fatalf("GetActivity: %v", err)
		}
		for _, e := range page.Entries {
			if seen[e.JournalID] {
				t.Fatalf("journal %s returned twice", e.JournalID)
			}
			seen[e.JournalID] = true
			if e.JournalType != "InterestPayout" || e.Direction != "in" || e.Asset != "interest" {
				t.Errorf("entry = (%s, %s, %s), want (InterestPayout, in, interest)",
					e.JournalType, e.Direction, e.Asset)
			}
		}
		pages++
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
		if pages > 5 {
			t.Fatal("pagination did not terminate")
		}
	}
	if len(seen) != 3 {
		t.Errorf("saw %d journals across pages, want 3", len(seen))
	}

	if _, err := qs.GetActivity(ctx, user, 10, "garbage"); !errors.Is(err, query.ErrInvalidCursor) {
		t.Errorf("bad cursor: err = %v, want ErrInvalidCursor", err)
	}
}

func TestQueryService_VerifyIntegrity(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	migrateUp(t, db)

	qs := query.NewQueryService(db)
	ctx := context.Background()

	hash := func(b byte) [32]byte {
		var h [32]byte
		h[0] = b
		return h
	}

	// A well-formed chain and a balanced set of accounts.
	writeRequests(t, db, []persistence.RequestRow{
		chainedRequestRow(0, hash(0xFE), hash(0x01)),
		chainedRequestRow(1, hash(0x01), hash(0x02)),
		chainedRequestRow(2, hash(0x02), hash(0x03)),
	})
	project(t, db, []projection.AppliedOutput{{
		Sequence:    2,
		RequestType: "DepositCollateral",
		Journals: []ledger.Journal{
			testJournal(2, ledger.CollateralPoolKey(), ledger.NewExternalAccountKey(ledger.AssetCollateral), ledger.AssetCollateral, 1_000, ledger.JournalTypeCustodyCredit),
		},
	}})

	report, err := qs.VerifyIntegrity(ctx)
	if err != nil {
		t.Fatalf("VerifyIntegrity: %v", err)
	}
	if !report.IsHealthy {
		t.Fatalf("healthy chain reported unhealthy: %+v", report)
	}

	// Break the chain and plant an orphaned balance.
	writeRequests(t, db, []persistence.RequestRow{
		chainedRequestRow(3, hash(0xBA), hash(0x04)),
	})
	if _, err := db.Exec(`
		INSERT INTO projections.balances
			(account_path, scope, entity, sub_type, asset_id, balance, updated_sequence)
		VALUES ('system:interest_pool:interest', 1, '', 3, 2, 7, 3)
	`); err != nil {
		t.Fatalf("seed orphan balance: %v", err)
	}

	report, err = qs.VerifyIntegrity(ctx)
	if err != nil {
		t.Fatalf("VerifyIntegrity after corruption: %v", err)
	}
	if report.IsHealthy {
		t.Fatal("corrupted state reported healthy")
	}
	if len(report.HashChainBreaks) != 1 || report.HashChainBreaks[0] != 3 {
		t.Errorf("hash chain breaks = %v, want [3]", report.HashChainBreaks)
	}
	if len(report.UnbalancedAssets) != 1 {
		t.Fatalf("unbalanced assets = %v, want one entry", report.UnbalancedAssets)
	}
	if report.UnbalancedAssets[0].AssetID != 2 || report.UnbalancedAssets[0].Imbalance != 7 {
		t.Errorf("unbalanced = %+v, want asset 2 imbalance 7", report.UnbalancedAssets[0])
	}
}
