package request

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"VaultLedger/internal/addressing"
)

// RequestType discriminates request payloads. Protocol operations 0..9 map to
// wire discriminators in wire.go; price and custody inputs arrive JSON-encoded
// and never appear on the binary wire.
type RequestType int32

const (
	RequestTypeUnknown RequestType = iota
	RequestTypeInitialize
	RequestTypeUpdateConfig
	RequestTypeWithdrawCollateralForInvestment
	RequestTypePrepareWithdrawal
	RequestTypeDepositInterest
	RequestTypeWithdrawInterest
	RequestTypeDepositCollateral
	RequestTypeRequestWithdrawalEarly
	RequestTypeRequestWithdrawal
	RequestTypeWithdrawCollateral
	RequestTypePriceUpdate
	RequestTypeCustodyCredit
)

// Envelope wraps every applied request in the log
type Envelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Request type discriminator
	RequestType RequestType

	// Caller identity (zero for price/custody inputs)
	Actor addressing.Identity

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded request-specific data
	Payload []byte

	// SHA-256 of state AFTER applying this request
	StateHash [32]byte

	// Previous request's state hash (chain integrity)
	PrevHash [32]byte
}

// Request is the interface all request payloads must implement
type Request interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// RequestType returns the discriminator
	RequestType() RequestType

	// Actor returns the caller identity (zero for price/custody inputs)
	Actor() addressing.Identity

	// SourceSequence returns the upstream ordering key (0 for protocol ops)
	SourceSequence() int64
}

func (rt RequestType) String() string {
	switch rt {
	case RequestTypeInitialize:
		return "Initialize"
	case RequestTypeUpdateConfig:
		return "UpdateConfig"
	case RequestTypeWithdrawCollateralForInvestment:
		return "WithdrawCollateralForInvestment"
	case RequestTypePrepareWithdrawal:
		return "PrepareWithdrawal"
	case RequestTypeDepositInterest:
		return "DepositInterest"
	case RequestTypeWithdrawInterest:
		return "WithdrawInterest"
	case RequestTypeDepositCollateral:
		return "DepositCollateral"
	case RequestTypeRequestWithdrawalEarly:
		return "RequestWithdrawalEarly"
	case RequestTypeRequestWithdrawal:
		return "RequestWithdrawal"
	case RequestTypeWithdrawCollateral:
		return "WithdrawCollateral"
	case RequestTypePriceUpdate:
		return "PriceUpdate"
	case RequestTypeCustodyCredit:
		return "CustodyCredit"
	default:
		return "Unknown"
	}
}

// ParseRequestType resolves a stored type name back to its discriminator.
func ParseRequestType(s string) (RequestType, error) {
	for rt := RequestTypeInitialize; rt <= RequestTypeCustodyCredit; rt++ {
		if rt.String() == s {
			return rt, nil
		}
	}
	return RequestTypeUnknown, fmt.Errorf("unknown request type: %q", s)
}

// UnmarshalPayload decodes a persisted envelope payload back into its typed
// request, used when replaying the log through the core.
func UnmarshalPayload(rt RequestType, payload []byte) (Request, error) {
	var req Request
	switch rt {
	case RequestTypeInitialize:
		req = &Initialize{}
	case RequestTypeUpdateConfig:
		req = &UpdateConfig{}
	case RequestTypeWithdrawCollateralForInvestment:
		req = &WithdrawCollateralForInvestment{}
	case RequestTypePrepareWithdrawal:
		req = &PrepareWithdrawal{}
	case RequestTypeDepositInterest:
		req = &DepositInterest{}
	case RequestTypeWithdrawInterest:
		req = &WithdrawInterest{}
	case RequestTypeDepositCollateral:
		req = &DepositCollateral{}
	case RequestTypeRequestWithdrawalEarly:
		req = &RequestWithdrawalEarly{}
	case RequestTypeRequestWithdrawal:
		req = &RequestWithdrawal{}
	case RequestTypeWithdrawCollateral:
		req = &WithdrawCollateral{}
	case RequestTypePriceUpdate:
		req = &PriceUpdate{}
	case RequestTypeCustodyCredit:
		req = &CustodyCredit{}
	default:
		return nil, fmt.Errorf("cannot unmarshal payload for request type %d", rt)
	}

	if err := json.Unmarshal(payload, req); err != nil {
		return nil, fmt.Errorf("unmarshal %s payload: %w", rt, err)
	}
	return req, nil
}

// AssignRequestID stamps id onto requests whose idempotency key is
// caller-supplied. Price updates derive their key from feed and sequence and
// are left untouched.
func AssignRequestID(req Request, id uuid.UUID) {
	switch r := req.(type) {
	case *Initialize:
		r.RequestID = id
	case *UpdateConfig:
		r.RequestID = id
	case *WithdrawCollateralForInvestment:
		r.RequestID = id
	case *PrepareWithdrawal:
		r.RequestID = id
	case *DepositInterest:
		r.RequestID = id
	case *WithdrawInterest:
		r.RequestID = id
	case *DepositCollateral:
		r.RequestID = id
	case *RequestWithdrawalEarly:
		r.RequestID = id
	case *RequestWithdrawal:
		r.RequestID = id
	case *WithdrawCollateral:
		r.RequestID = id
	case *CustodyCredit:
		r.CreditID = id
	}
}
