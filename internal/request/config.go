package request

import (
	"time"

	"github.com/google/uuid"

	"VaultLedger/internal/addressing"
)

// Initialize creates the singleton pool configuration and provisions the
// three pool accounts. Admin-only; fails once the config exists.
type Initialize struct {
	RequestID             uuid.UUID
	Admin                 addressing.Identity
	ConfigAddress         addressing.Address
	AuthorityAddress      addressing.Address
	WithdrawalPoolAddress addressing.Address
	InterestAsset         addressing.Identity
	CollateralAsset       addressing.Identity
	BaseInterestRate      int64
	PriceMaxAge           int64
	MinCommissionRate     int64
	MaxCommissionRate     int64
	MinDepositAmount      int64
	MaxDepositAmount      int64
	AllowedLockPeriods    []int64
	Timestamp             time.Time
}

func (r *Initialize) IdempotencyKey() string {
	return r.RequestID.String()
}

func (r *Initialize) RequestType() RequestType {
	return RequestTypeInitialize
}

func (r *Initialize) Actor() addressing.Identity {
	return r.Admin
}

func (r *Initialize) SourceSequence() int64 {
	return 0
}

// Config selectors for UpdateConfig. One field per call.
const (
	SelectorBaseInterestRate   uint8 = 0
	SelectorPriceMaxAge        uint8 = 1
	SelectorMinCommissionRate  uint8 = 2
	SelectorMaxCommissionRate  uint8 = 3
	SelectorMinDepositAmount   uint8 = 4
	SelectorMaxDepositAmount   uint8 = 5
	SelectorAllowedLockPeriods uint8 = 6
)

// UpdateConfig mutates one selected config field, re-validated against the
// stored opposite bound. Absent optional values are a no-op for the selector.
type UpdateConfig struct {
	RequestID          uuid.UUID
	Admin              addressing.Identity
	ConfigAddress      addressing.Address
	Selector           uint8
	BaseInterestRate   *int64
	PriceMaxAge        *int64
	MinCommissionRate  *int64
	MaxCommissionRate  *int64
	MinDepositAmount   *int64
	MaxDepositAmount   *int64
	AllowedLockPeriods []int64
	Timestamp          time.Time
}

func (r *UpdateConfig) IdempotencyKey() string {
	return r.RequestID.String()
}

func (r *UpdateConfig) RequestType() RequestType {
	return RequestTypeUpdateConfig
}

func (r *UpdateConfig) Actor() addressing.Identity {
	return r.Admin
}

func (r *UpdateConfig) SourceSequence() int64 {
	return 0
}
