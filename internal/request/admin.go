package request

import (
	"time"

	"github.com/google/uuid"

	"VaultLedger/internal/addressing"
)

// WithdrawCollateralForInvestment sweeps the entire collateral pool balance
// to the admin's collateral holding for off-platform redeployment.
type WithdrawCollateralForInvestment struct {
	RequestID        uuid.UUID
	Admin            addressing.Identity
	ConfigAddress    addressing.Address
	AuthorityAddress addressing.Address
	Timestamp        time.Time
}

func (r *WithdrawCollateralForInvestment) IdempotencyKey() string {
	return r.RequestID.String()
}

func (r *WithdrawCollateralForInvestment) RequestType() RequestType {
	return RequestTypeWithdrawCollateralForInvestment
}

func (r *WithdrawCollateralForInvestment) Actor() addressing.Identity {
	return r.Admin
}

func (r *WithdrawCollateralForInvestment) SourceSequence() int64 {
	return 0
}

// PrepareWithdrawal stages a requested deposit's principal: the admin's
// collateral holding funds the withdrawal pool and the deposit flips to
// WithdrawReady.
type PrepareWithdrawal struct {
	RequestID             uuid.UUID
	Admin                 addressing.Identity
	ConfigAddress         addressing.Address
	WithdrawalPoolAddress addressing.Address
	DepositAddress        addressing.Address
	User                  addressing.Identity
	Timestamp             time.Time
}

func (r *PrepareWithdrawal) IdempotencyKey() string {
	return r.RequestID.String()
}

func (r *PrepareWithdrawal) RequestType() RequestType {
	return RequestTypePrepareWithdrawal
}

func (r *PrepareWithdrawal) Actor() addressing.Identity {
	return r.Admin
}

func (r *PrepareWithdrawal) SourceSequence() int64 {
	return 0
}

// DepositInterest funds the interest pool from the admin's interest holding.
type DepositInterest struct {
	RequestID        uuid.UUID
	Admin            addressing.Identity
	ConfigAddress    addressing.Address
	AuthorityAddress addressing.Address
	Amount           int64
	Timestamp        time.Time
}

func (r *DepositInterest) IdempotencyKey() string {
	return r.RequestID.String()
}

func (r *DepositInterest) RequestType() RequestType {
	return RequestTypeDepositInterest
}

func (r *DepositInterest) Actor() addressing.Identity {
	return r.Admin
}

func (r *DepositInterest) SourceSequence() int64 {
	return 0
}

// WithdrawInterest reclaims interest pool inventory to the admin's holding.
type WithdrawInterest struct {
	RequestID        uuid.UUID
	Admin            addressing.Identity
	ConfigAddress    addressing.Address
	AuthorityAddress addressing.Address
	Amount           int64
	Timestamp        time.Time
}

func (r *WithdrawInterest) IdempotencyKey() string {
	return r.RequestID.String()
}

func (r *WithdrawInterest) RequestType() RequestType {
	return RequestTypeWithdrawInterest
}

func (r *WithdrawInterest) Actor() addressing.Identity {
	return r.Admin
}

func (r *WithdrawInterest) SourceSequence() int64 {
	return 0
}
