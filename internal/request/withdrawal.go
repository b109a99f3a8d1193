package request

import (
	"time"

	"github.com/google/uuid"

	"VaultLedger/internal/addressing"
)

// RequestWithdrawalEarly is the owner's exit: the pro-rated clawback returns
// to the interest pool and the deposit flips to WithdrawRequested. Valid at
// any time; past maturity the clawback equals the full credit.
type RequestWithdrawalEarly struct {
	RequestID        uuid.UUID
	User             addressing.Identity
	ConfigAddress    addressing.Address
	AuthorityAddress addressing.Address
	DepositAddress   addressing.Address
	Timestamp        time.Time
}

func (r *RequestWithdrawalEarly) IdempotencyKey() string {
	return r.RequestID.String()
}

func (r *RequestWithdrawalEarly) RequestType() RequestType {
	return RequestTypeRequestWithdrawalEarly
}

func (r *RequestWithdrawalEarly) Actor() addressing.Identity {
	return r.User
}

func (r *RequestWithdrawalEarly) SourceSequence() int64 {
	return 0
}

// RequestWithdrawal is the time-gated step: requires WithdrawRequested state
// and maturity; flips to WithdrawReady with no fund movement.
type RequestWithdrawal struct {
	RequestID      uuid.UUID
	User           addressing.Identity
	DepositAddress addressing.Address
	Timestamp      time.Time
}

func (r *RequestWithdrawal) IdempotencyKey() string {
	return r.RequestID.String()
}

func (r *RequestWithdrawal) RequestType() RequestType {
	return RequestTypeRequestWithdrawal
}

func (r *RequestWithdrawal) Actor() addressing.Identity {
	return r.User
}

func (r *RequestWithdrawal) SourceSequence() int64 {
	return 0
}

// WithdrawCollateral pays the staged principal from the withdrawal pool back
// to the owner and retires the deposit.
type WithdrawCollateral struct {
	RequestID             uuid.UUID
	User                  addressing.Identity
	ConfigAddress         addressing.Address
	AuthorityAddress      addressing.Address
	DepositAddress        addressing.Address
	WithdrawalPoolAddress addressing.Address
	Timestamp             time.Time
}

func (r *WithdrawCollateral) IdempotencyKey() string {
	return r.RequestID.String()
}

func (r *WithdrawCollateral) RequestType() RequestType {
	return RequestTypeWithdrawCollateral
}

func (r *WithdrawCollateral) Actor() addressing.Identity {
	return r.User
}

func (r *WithdrawCollateral) SourceSequence() int64 {
	return 0
}
