package request_test

import (
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"VaultLedger/internal/addressing"
	"VaultLedger/internal/protocol"
	"VaultLedger/internal/request"
)

var (
	wireID = uuid.MustParse("6b1f4c2e-9d3a-4f08-8c51-0e7a9b2d4c66")
	wireTS = time.Unix(1_700_000_000, 0).UTC()
)

func fillIdentity(b byte) addressing.Identity {
	var id addressing.Identity
	for i := range id {
		id[i] = b
	}
	return id
}

func i64(v int64) *int64 {
	return &v
}

func mustEncode(t *testing.T, req request.Request) []byte {
	t.Helper()
	raw, err := request.EncodeRequest(req)
	if err != nil {
		t.Fatalf("EncodeRequest(%s): %v", req.RequestType(), err)
	}
	return raw
}

func mustDecode(t *testing.T, raw []byte) request.Request {
	t.Helper()
	req, err := request.DecodeRequest(raw, wireID, wireTS)
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	return req
}

// ==== Test: every wire op round-trips through encode and decode ====

func TestWireRoundTrip_AllOps(t *testing.T) {
	admin := fillIdentity(0xAA)
	user := fillIdentity(0x42)
	deposit := addressing.DepositAddress(user)

	cases := []struct {
		name string
		req  request.Request
	}{
		{
			name: "initialize",
			req: &request.Initialize{
				RequestID:             wireID,
				Admin:                 admin,
				ConfigAddress:         addressing.ConfigAddress(),
				AuthorityAddress:      addressing.AuthorityAddress(),
				WithdrawalPoolAddress: addressing.WithdrawalPoolAddress(),
				InterestAsset:         fillIdentity(0x01),
				CollateralAsset:       fillIdentity(0x02),
				BaseInterestRate:      170,
				PriceMaxAge:           300,
				MinCommissionRate:     200,
				MaxCommissionRate:     500,
				MinDepositAmount:      10_000_000,
				MaxDepositAmount:      1_000_000_000,
				AllowedLockPeriods:    []int64{2_592_000, 7_776_000, 15_552_000},
				Timestamp:             wireTS,
			},
		},
		{
			name: "update_config_value",
			req: &request.UpdateConfig{
				RequestID:        wireID,
				Admin:            admin,
				ConfigAddress:    addressing.ConfigAddress(),
				Selector:         request.SelectorBaseInterestRate,
				BaseInterestRate: i64(250),
				Timestamp:        wireTS,
			},
		},
		{
			name: "update_config_periods",
			req: &request.UpdateConfig{
				RequestID:          wireID,
				Admin:              admin,
				ConfigAddress:      addressing.ConfigAddress(),
				Selector:           request.SelectorAllowedLockPeriods,
				AllowedLockPeriods: []int64{2_592_000},
				Timestamp:          wireTS,
			},
		},
		{
			// Present-but-empty is distinct from absent: the core rejects it
			// as invalid input instead of treating the call as a no-op.
			name: "update_config_empty_periods",
			req: &request.UpdateConfig{
				RequestID:          wireID,
				Admin:              admin,
				ConfigAddress:      addressing.ConfigAddress(),
				Selector:           request.SelectorAllowedLockPeriods,
				AllowedLockPeriods: []int64{},
				Timestamp:          wireTS,
			},
		},
		{
			name: "withdraw_collateral_for_investment",
			req: &request.WithdrawCollateralForInvestment{
				RequestID:        wireID,
				Admin:            admin,
				ConfigAddress:    addressing.ConfigAddress(),
				AuthorityAddress: addressing.AuthorityAddress(),
				Timestamp:        wireTS,
			},
		},
		{
			name: "prepare_withdrawal",
			req: &request.PrepareWithdrawal{
				RequestID:             wireID,
				Admin:                 admin,
				ConfigAddress:         addressing.ConfigAddress(),
				WithdrawalPoolAddress: addressing.WithdrawalPoolAddress(),
				DepositAddress:        deposit,
				User:                  user,
				Timestamp:             wireTS,
			},
		},
		{
			name: "deposit_interest",
			req: &request.DepositInterest{
				RequestID:        wireID,
				Admin:            admin,
				ConfigAddress:    addressing.ConfigAddress(),
				AuthorityAddress: addressing.AuthorityAddress(),
				Amount:           500_000_000,
				Timestamp:        wireTS,
			},
		},
		{
			name: "withdraw_interest",
			req: &request.WithdrawInterest{
				RequestID:        wireID,
				Admin:            admin,
				ConfigAddress:    addressing.ConfigAddress(),
				AuthorityAddress: addressing.AuthorityAddress(),
				Amount:           250_000_000,
				Timestamp:        wireTS,
			},
		},
		{
			name: "deposit_collateral",
			req: &request.DepositCollateral{
				RequestID:        wireID,
				User:             user,
				ConfigAddress:    addressing.ConfigAddress(),
				AuthorityAddress: addressing.AuthorityAddress(),
				DepositAddress:   deposit,
				Amount:           100_000_000,
				LockPeriod:       2_592_000,
				CommissionRate:   200,
				Timestamp:        wireTS,
			},
		},
		{
			name: "request_withdrawal_early",
			req: &request.RequestWithdrawalEarly{
				RequestID:        wireID,
				User:             user,
				ConfigAddress:    addressing.ConfigAddress(),
				AuthorityAddress: addressing.AuthorityAddress(),
				DepositAddress:   deposit,
				Timestamp:        wireTS,
			},
		},
		{
			name: "request_withdrawal",
			req: &request.RequestWithdrawal{
				RequestID:      wireID,
				User:           user,
				DepositAddress: deposit,
				Timestamp:      wireTS,
			},
		},
		{
			name: "withdraw_collateral",
			req: &request.WithdrawCollateral{
				RequestID:             wireID,
				User:                  user,
				ConfigAddress:         addressing.ConfigAddress(),
				AuthorityAddress:      addressing.AuthorityAddress(),
				DepositAddress:        deposit,
				WithdrawalPoolAddress: addressing.WithdrawalPoolAddress(),
				Timestamp:             wireTS,
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw := mustEncode(t, tc.req)
			got := mustDecode(t, raw)
			if !reflect.DeepEqual(got, tc.req) {
				t.Fatalf("round-trip mismatch:\n got  %#v\n want %#v", got, tc.req)
			}
		})
	}
}

// ==== Test: decode stamps the supplied request id and timestamp ====

func TestWireDecode_StampsIDAndTimestamp(t *testing.T) {
	raw := mustEncode(t, &request.RequestWithdrawal{
		User:           fillIdentity(0x42),
		DepositAddress: addressing.DepositAddress(fillIdentity(0x42)),
	})

	got := mustDecode(t, raw).(*request.RequestWithdrawal)
	if got.RequestID != wireID {
		t.Fatalf("RequestID = %s, want %s", got.RequestID, wireID)
	}
	if !got.Timestamp.Equal(wireTS) {
		t.Fatalf("Timestamp = %s, want %s", got.Timestamp, wireTS)
	}
	if got.IdempotencyKey() != wireID.String() {
		t.Fatalf("IdempotencyKey = %q, want %q", got.IdempotencyKey(), wireID.String())
	}
}

// ==== Test: malformed wire bytes are rejected with InvalidRequest ====

func TestWireDecode_Malformed(t *testing.T) {
	user := fillIdentity(0x42)
	valid := mustEncode(t, &request.RequestWithdrawal{
		User:           user,
		DepositAddress: addressing.DepositAddress(user),
	})

	unknownOp := append([]byte(nil), valid...)
	unknownOp[0] = 99

	truncated := append([]byte(nil), valid[:len(valid)-1]...)

	trailing := append(append([]byte(nil), valid...), 0x00)

	// Count byte claims two references but the op takes one.
	badCount := append([]byte(nil), valid...)
	badCount[33] = 2
	badCount = append(badCount, make([]byte, 32)...)

	// Amount is the trailing u64 of a deposit-interest frame.
	overflow := mustEncode(t, &request.DepositInterest{
		Admin:            fillIdentity(0xAA),
		ConfigAddress:    addressing.ConfigAddress(),
		AuthorityAddress: addressing.AuthorityAddress(),
		Amount:           1,
	})
	for i := len(overflow) - 8; i < len(overflow); i++ {
		overflow[i] = 0xFF
	}

	// The last byte of a bare update-config frame is the period-list
	// presence byte.
	badPresence := mustEncode(t, &request.UpdateConfig{
		Admin:         fillIdentity(0xAA),
		ConfigAddress: addressing.ConfigAddress(),
		Selector:      request.SelectorBaseInterestRate,
	})
	badPresence[len(badPresence)-1] = 2

	cases := []struct {
		name string
		raw  []byte
	}{
		{name: "empty", raw: nil},
		{name: "unknown_op", raw: unknownOp},
		{name: "truncated", raw: truncated},
		{name: "trailing_bytes", raw: trailing},
		{name: "account_count_mismatch", raw: badCount},
		{name: "u64_exceeds_int64", raw: overflow},
		{name: "bad_presence_byte", raw: badPresence},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := request.DecodeRequest(tc.raw, wireID, wireTS)
			if err == nil {
				t.Fatal("expected decode error, got nil")
			}
			if got, _ := protocol.CodeOf(err); got != protocol.CodeInvalidRequest {
				t.Fatalf("error code = %d (%v), want %d", got, err, protocol.CodeInvalidRequest)
			}
		})
	}
}

// ==== Test: encoding rejects negative numeric fields ====

func TestWireEncode_NegativeAmountFails(t *testing.T) {
	_, err := request.EncodeRequest(&request.DepositInterest{
		Admin:            fillIdentity(0xAA),
		ConfigAddress:    addressing.ConfigAddress(),
		AuthorityAddress: addressing.AuthorityAddress(),
		Amount:           -5,
	})
	if err == nil {
		t.Fatal("expected encode error for negative amount, got nil")
	}
}

// ==== Test: derived request ids are stable across redelivery ====

func TestDeriveRequestID_Deterministic(t *testing.T) {
	raw := mustEncode(t, &request.RequestWithdrawal{
		User:           fillIdentity(0x42),
		DepositAddress: addressing.DepositAddress(fillIdentity(0x42)),
	})

	first := request.DeriveRequestID(raw)
	second := request.DeriveRequestID(raw)
	if first != second {
		t.Fatalf("same bytes derived different ids: %s vs %s", first, second)
	}
	if first == uuid.Nil {
		t.Fatal("derived id is the nil uuid")
	}

	other := request.DeriveRequestID(append(append([]byte(nil), raw...), 0x01))
	if other == first {
		t.Fatal("different bytes derived the same id")
	}
}

func TestAssignRequestID(t *testing.T) {
	id := uuid.MustParse("0f8d2b6a-1c3e-4d57-9a02-5b6c7d8e9f10")

	dep := &request.DepositCollateral{}
	request.AssignRequestID(dep, id)
	if dep.RequestID != id {
		t.Errorf("deposit RequestID = %s, want %s", dep.RequestID, id)
	}

	credit := &request.CustodyCredit{}
	request.AssignRequestID(credit, id)
	if credit.CreditID != id {
		t.Errorf("custody CreditID = %s, want %s", credit.CreditID, id)
	}

	price := &request.PriceUpdate{FeedID: "collateral_usd", PriceSequence: 9}
	before := price.IdempotencyKey()
	request.AssignRequestID(price, id)
	if got := price.IdempotencyKey(); got != before {
		t.Errorf("price key changed from %q to %q", before, got)
	}
}
