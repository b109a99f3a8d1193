package ingestion_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"VaultLedger/internal/addressing"
	"VaultLedger/internal/ingestion"
	"VaultLedger/internal/request"
)

func rawFromJSON(t *testing.T, v interface{}) ingestion.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawMessage{
		Subject:   "test",
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

func TestParseBinaryRequest_RoundTrip(t *testing.T) {
	user := addressing.Identity{0x42}
	original := &request.RequestWithdrawal{
		RequestID:      uuid.New(),
		User:           user,
		DepositAddress: addressing.DepositAddress(user),
	}

	data, err := request.EncodeRequest(original)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	raw := ingestion.RawMessage{
		Subject:         "vault.requests.user",
		RequestIDHeader: original.RequestID.String(),
		Data:            data,
		Timestamp:       time.Unix(1_700_000_000, 0),
	}

	req, err := ingestion.ParseRawMessage(raw, ingestion.KindBinaryRequest)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	rw, ok := req.(*request.RequestWithdrawal)
	if !ok {
		t.Fatalf("expected *request.RequestWithdrawal, got %T", req)
	}
	if rw.RequestID != original.RequestID {
		t.Errorf("request id: got %s, want header value %s", rw.RequestID, original.RequestID)
	}
	if rw.User != user {
		t.Errorf("user: got %s, want %s", rw.User, user)
	}
	if rw.DepositAddress != original.DepositAddress {
		t.Error("deposit address did not survive the round trip")
	}
	if !rw.Timestamp.Equal(raw.Timestamp) {
		t.Errorf("timestamp: got %v, want received-at %v", rw.Timestamp, raw.Timestamp)
	}
}

func TestParseBinaryRequest_NoHeader_DerivesID(t *testing.T) {
	user := addressing.Identity{0x42}
	data, err := request.EncodeRequest(&request.RequestWithdrawal{
		User:           user,
		DepositAddress: addressing.DepositAddress(user),
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	raw := ingestion.RawMessage{Data: data, Timestamp: time.Now()}
	req, err := ingestion.ParseRawMessage(raw, ingestion.KindBinaryRequest)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	want := request.DeriveRequestID(data)
	if req.(*request.RequestWithdrawal).RequestID != want {
		t.Errorf("derived id: got %s, want %s", req.(*request.RequestWithdrawal).RequestID, want)
	}

	// Redelivery of identical bytes derives the identical id.
	again, err := ingestion.ParseRawMessage(raw, ingestion.KindBinaryRequest)
	if err != nil {
		t.Fatalf("reparse failed: %v", err)
	}
	if again.IdempotencyKey() != req.IdempotencyKey() {
		t.Error("identical bytes must produce identical idempotency keys")
	}
}

func TestParseBinaryRequest_BadHeader_Fails(t *testing.T) {
	raw := ingestion.RawMessage{
		RequestIDHeader: "not-a-uuid",
		Data:            []byte{0x08},
	}
	if _, err := ingestion.ParseRawMessage(raw, ingestion.KindBinaryRequest); err == nil {
		t.Fatal("expected error for malformed request id header")
	}
}

func TestParseBinaryRequest_Truncated_Fails(t *testing.T) {
	raw := ingestion.RawMessage{Data: []byte{0x06, 0x01, 0x02}}
	if _, err := ingestion.ParseRawMessage(raw, ingestion.KindBinaryRequest); err == nil {
		t.Fatal("expected error for truncated request")
	}
}

func TestParsePriceUpdate(t *testing.T) {
	payload := map[string]interface{}{
		"feed_id":        "c000000000000000000000000000000000000000000000000000000000000000",
		"price":          int64(60_000),
		"exponent":       int32(-2),
		"publish_time":   int64(1_700_000_000),
		"price_sequence": int64(100),
	}

	raw := rawFromJSON(t, payload)
	req, err := ingestion.ParseRawMessage(raw, ingestion.KindPriceUpdate)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	pu, ok := req.(*request.PriceUpdate)
	if !ok {
		t.Fatalf("expected *request.PriceUpdate, got %T", req)
	}
	if pu.Price != 60_000 {
		t.Errorf("price: got %d, want 60_000", pu.Price)
	}
	if pu.Exponent != -2 {
		t.Errorf("exponent: got %d, want -2", pu.Exponent)
	}
	if pu.PriceSequence != 100 {
		t.Errorf("price_sequence: got %d, want 100", pu.PriceSequence)
	}
	if pu.Timestamp.Unix() != 1_700_000_000 {
		t.Errorf("timestamp: got %d, want publish_time", pu.Timestamp.Unix())
	}
}

func TestParseCustodyCredit(t *testing.T) {
	owner := addressing.Identity{0x01}
	payload := map[string]interface{}{
		"credit_id":        "550e8400-e29b-41d4-a716-446655440000",
		"owner":            owner.String(),
		"asset":            "collateral",
		"amount":           int64(1_000_000_000),
		"custody_sequence": int64(7),
		"timestamp_us":     int64(1_700_000_000_000_000),
	}

	raw := rawFromJSON(t, payload)
	req, err := ingestion.ParseRawMessage(raw, ingestion.KindCustodyCredit)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	cc, ok := req.(*request.CustodyCredit)
	if !ok {
		t.Fatalf("expected *request.CustodyCredit, got %T", req)
	}
	if cc.Owner != owner {
		t.Errorf("owner: got %s, want %s", cc.Owner, owner)
	}
	if cc.Asset != "collateral" {
		t.Errorf("asset: got %s, want collateral", cc.Asset)
	}
	if cc.Amount != 1_000_000_000 {
		t.Errorf("amount: got %d, want 1_000_000_000", cc.Amount)
	}
	if cc.CustodySequence != 7 {
		t.Errorf("custody_sequence: got %d, want 7", cc.CustodySequence)
	}
	if cc.Timestamp.UnixMicro() != 1_700_000_000_000_000 {
		t.Errorf("timestamp: got %d us", cc.Timestamp.UnixMicro())
	}
}

func TestParseCustodyCredit_InvalidOwner_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"credit_id":        "550e8400-e29b-41d4-a716-446655440000",
		"owner":            "not-hex",
		"asset":            "collateral",
		"amount":           int64(1),
		"custody_sequence": int64(0),
		"timestamp_us":     int64(0),
	}

	raw := rawFromJSON(t, payload)
	if _, err := ingestion.ParseRawMessage(raw, ingestion.KindCustodyCredit); err == nil {
		t.Fatal("expected error for invalid owner identity")
	}
}

func TestParseCustodyCredit_InvalidUUID_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"credit_id":        "not-a-uuid",
		"owner":            addressing.Identity{0x01}.String(),
		"asset":            "collateral",
		"amount":           int64(1),
		"custody_sequence": int64(0),
		"timestamp_us":     int64(0),
	}

	raw := rawFromJSON(t, payload)
	if _, err := ingestion.ParseRawMessage(raw, ingestion.KindCustodyCredit); err == nil {
		t.Fatal("expected error for invalid credit_id")
	}
}

func TestParseUnknownKind_Fails(t *testing.T) {
	raw := ingestion.RawMessage{Data: []byte(`{}`)}
	if _, err := ingestion.ParseRawMessage(raw, "NonExistentKind"); err == nil {
		t.Fatal("expected error for unknown message kind")
	}
}

func TestParseInvalidJSON_Fails(t *testing.T) {
	raw := ingestion.RawMessage{Data: []byte(`{invalid json`)}
	if _, err := ingestion.ParseRawMessage(raw, ingestion.KindPriceUpdate); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
	if _, err := ingestion.ParseRawMessage(raw, ingestion.KindCustodyCredit); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}
