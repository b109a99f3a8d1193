package persistence_test

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"VaultLedger/internal/addressing"
	"VaultLedger/internal/core"
	"VaultLedger/internal/ledger"
	"VaultLedger/internal/persistence"
	"VaultLedger/internal/state"
)

// sampleSnapshotState builds a populated core snapshot covering every
// account scope, a live deposit, and oracle state.
func sampleSnapshotState() *core.SnapshotState {
	user := addressing.Identity{0x01}

	cfg := state.DefaultConfig.Clone()
	cfg.InterestAsset = addressing.Identity{0x1E}
	cfg.CollateralAsset = addressing.Identity{0xC0}
	cfg.Version = 3

	balances := map[ledger.AccountKey]int64{
		ledger.NewUserAccountKey(user, ledger.SubTypeCollateralHolding, ledger.AssetCollateral): 1_000_000_000,
		ledger.NewUserAccountKey(user, ledger.SubTypeInterestHolding, ledger.AssetInterest):     670_685_931_506,
		ledger.CollateralPoolKey(): 1_000_000_000,
		ledger.InterestPoolKey():   -670_685_931_506,
		ledger.NewExternalAccountKey(ledger.AssetCollateral): -2_000_000_000,
	}

	deposit := &state.Deposit{
		User:             user,
		Address:          addressing.DepositAddress(user),
		Amount:           1_000_000_000,
		DepositTime:      1_700_000_000,
		UnlockTime:       1_702_592_000,
		InterestCredited: 670_685_931_506,
		CommissionRate:   200,
		State:            state.DepositStateDeposited,
		Version:          1,
	}

	var hash [32]byte
	for i := range hash {
		hash[i] = byte(i)
	}

	return &core.SnapshotState{
		Sequence:  41,
		StateHash: hash,
		Balances:  balances,
		Config:    cfg,
		Deposits:  []*state.Deposit{deposit},
		Prices: map[string]*state.PriceState{
			cfg.CollateralAsset.String(): {
				Price:         60_000,
				Exponent:      0,
				PublishTime:   1_700_000_000,
				PriceSequence: 7,
				Timestamp:     1_700_000_000,
			},
		},
		SequenceState:   map[string]int64{"custody": 3},
		IdempotencyKeys: []string{"key-a", "key-b"},
	}
}

func assertSnapshotEqual(t *testing.T, want, got *core.SnapshotState) {
	t.Helper()

	if got.Sequence != want.Sequence {
		t.Errorf("sequence: got %d, want %d", got.Sequence, want.Sequence)
	}
	if got.StateHash != want.StateHash {
		t.Errorf("state hash: got %x, want %x", got.StateHash, want.StateHash)
	}
	if !reflect.DeepEqual(got.Balances, want.Balances) {
		t.Errorf("balances: got %v, want %v", got.Balances, want.Balances)
	}
	if !reflect.DeepEqual(got.Config, want.Config) {
		t.Errorf("config: got %+v, want %+v", got.Config, want.Config)
	}
	if !reflect.DeepEqual(got.Deposits, want.Deposits) {
		t.Errorf("deposits: got %+v, want %+v", got.Deposits, want.Deposits)
	}
	if !reflect.DeepEqual(got.Prices, want.Prices) {
		t.Errorf("prices: got %+v, want %+v", got.Prices, want.Prices)
	}
	if !reflect.DeepEqual(got.SequenceState, want.SequenceState) {
		t.Errorf("sequence state: got %v, want %v", got.SequenceState, want.SequenceState)
	}
	if !reflect.DeepEqual(got.IdempotencyKeys, want.IdempotencyKeys) {
		t.Errorf("idempotency keys: got %v, want %v", got.IdempotencyKeys, want.IdempotencyKeys)
	}
}

func TestSnapshotData_CoreRoundTrip(t *testing.T) {
	snap := sampleSnapshotState()

	sd := persistence.SnapshotFromCore(snap, time.Now().UTC())
	got, err := sd.ToCore()
	if err != nil {
		t.Fatalf("ToCore: %v", err)
	}

	assertSnapshotEqual(t, snap, got)
}

func TestSnapshotData_JSONRoundTrip(t *testing.T) {
	snap := sampleSnapshotState()
	sd := persistence.SnapshotFromCore(snap, time.Now().UTC())

	data, err := json.Marshal(sd)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded persistence.SnapshotData
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	got, err := decoded.ToCore()
	if err != nil {
		t.Fatalf("ToCore: %v", err)
	}

	assertSnapshotEqual(t, snap, got)
}

func TestSnapshotFromCore_BalancesSorted(t *testing.T) {
	sd := persistence.SnapshotFromCore(sampleSnapshotState(), time.Now().UTC())

	if len(sd.Balances) < 2 {
		t.Fatalf("expected multiple balances, got %d", len(sd.Balances))
	}
	for i := 1; i < len(sd.Balances); i++ {
		a, b := sd.Balances[i-1], sd.Balances[i]
		before := a.Scope < b.Scope ||
			(a.Scope == b.Scope && a.Entity < b.Entity) ||
			(a.Scope == b.Scope && a.Entity == b.Entity && a.SubType < b.SubType) ||
			(a.Scope == b.Scope && a.Entity == b.Entity && a.SubType == b.SubType && a.AssetID < b.AssetID)
		if !before {
			t.Errorf("balances not sorted at %d: %+v then %+v", i, a, b)
		}
	}
}

func TestSnapshotData_ToCore_RejectsShortHash(t *testing.T) {
	sd := &persistence.SnapshotData{StateHash: []byte{0x01, 0x02, 0x03}}
	if _, err := sd.ToCore(); err == nil {
		t.Fatal("expected error for truncated state hash, got nil")
	}
}

func TestSnapshotData_ToCore_RejectsBadEntity(t *testing.T) {
	sd := persistence.SnapshotFromCore(sampleSnapshotState(), time.Now().UTC())
	sd.Balances[0].Entity = "not-hex"
	if _, err := sd.ToCore(); err == nil {
		t.Fatal("expected error for malformed balance entity, got nil")
	}
}
