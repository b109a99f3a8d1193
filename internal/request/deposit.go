package request

import (
	"time"

	"github.com/google/uuid"

	"VaultLedger/internal/addressing"
)

// DepositCollateral opens a time-locked deposit: principal moves into the
// collateral pool and the pro-rated interest credit pays out immediately from
// the interest pool.
type DepositCollateral struct {
	RequestID        uuid.UUID
	User             addressing.Identity
	ConfigAddress    addressing.Address
	AuthorityAddress addressing.Address
	DepositAddress   addressing.Address
	Amount           int64
	LockPeriod       int64 // Seconds
	CommissionRate   int64 // Parts-per-thousand, fixed for this deposit
	Timestamp        time.Time
}

func (r *DepositCollateral) IdempotencyKey() string {
	return r.RequestID.String()
}

func (r *DepositCollateral) RequestType() RequestType {
	return RequestTypeDepositCollateral
}

func (r *DepositCollateral) Actor() addressing.Identity {
	return r.User
}

func (r *DepositCollateral) SourceSequence() int64 {
	return 0
}
