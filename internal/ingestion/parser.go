package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"VaultLedger/internal/addressing"
	"VaultLedger/internal/request"
)

// Message kinds, resolved from the NATS subject before parsing. Binary
// protocol requests carry their own discriminator; price and custody inputs
// arrive as JSON from the bridge producers.
const (
	KindBinaryRequest = "BinaryRequest"
	KindPriceUpdate   = "PriceUpdate"
	KindCustodyCredit = "CustodyCredit"
)

// RequestIDHeader names the NATS header carrying an explicit idempotency id
// for binary requests. Absent, the id derives from the raw bytes.
const RequestIDHeader = "Vault-Request-Id"

// ParseRawMessage converts a raw NATS message into a typed request.Request.
// The shell validates shape here; protocol semantics are the core's job.
func ParseRawMessage(raw RawMessage, kind string) (request.Request, error) {
	switch kind {
	case KindBinaryRequest:
		return parseBinaryRequest(raw)
	case KindPriceUpdate:
		return parsePriceUpdate(raw.Data)
	case KindCustodyCredit:
		return parseCustodyCredit(raw.Data)
	default:
		return nil, fmt.Errorf("unknown message kind: %s", kind)
	}
}

func parseBinaryRequest(raw RawMessage) (request.Request, error) {
	id := uuid.Nil
	if raw.RequestIDHeader != "" {
		parsed, err := uuid.Parse(raw.RequestIDHeader)
		if err != nil {
			return nil, fmt.Errorf("parse %s header: %w", RequestIDHeader, err)
		}
		id = parsed
	}
	if id == uuid.Nil {
		id = request.DeriveRequestID(raw.Data)
	}

	req, err := request.DecodeRequest(raw.Data, id, raw.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("decode binary request: %w", err)
	}
	return req, nil
}

// --- JSON wire formats ---
// These structs represent the JSON payloads received from NATS.
// Field names use snake_case to match upstream producers.

type priceUpdateJSON struct {
	FeedID        string `json:"feed_id"`
	Price         int64  `json:"price"`
	Exponent      int32  `json:"exponent"`
	PublishTime   int64  `json:"publish_time"`
	PriceSequence int64  `json:"price_sequence"`
}

func parsePriceUpdate(data []byte) (*request.PriceUpdate, error) {
	var j priceUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PriceUpdate: %w", err)
	}

	return &request.PriceUpdate{
		FeedID:        j.FeedID,
		Price:         j.Price,
		Exponent:      j.Exponent,
		PublishTime:   j.PublishTime,
		PriceSequence: j.PriceSequence,
		Timestamp:     time.Unix(j.PublishTime, 0),
	}, nil
}

type custodyCreditJSON struct {
	CreditID        string `json:"credit_id"`
	Owner           string `json:"owner"`
	Asset           string `json:"asset"`
	Amount          int64  `json:"amount"`
	CustodySequence int64  `json:"custody_sequence"`
	TimestampUs     int64  `json:"timestamp_us"`
}

func parseCustodyCredit(data []byte) (*request.CustodyCredit, error) {
	var j custodyCreditJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CustodyCredit: %w", err)
	}

	creditID, err := uuid.Parse(j.CreditID)
	if err != nil {
		return nil, fmt.Errorf("parse credit_id: %w", err)
	}
	owner, err := addressing.ParseIdentity(j.Owner)
	if err != nil {
		return nil, fmt.Errorf("parse owner: %w", err)
	}

	return &request.CustodyCredit{
		CreditID:        creditID,
		Owner:           owner,
		Asset:           j.Asset,
		Amount:          j.Amount,
		CustodySequence: j.CustodySequence,
		Timestamp:       time.UnixMicro(j.TimestampUs),
	}, nil
}
