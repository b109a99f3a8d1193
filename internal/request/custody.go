package request

import (
	"time"

	"github.com/google/uuid"

	"VaultLedger/internal/addressing"
)

// CustodyCredit records external funds arriving under custody: the owner's
// holding is credited from the external scope. This is how user and admin
// holdings get funded.
type CustodyCredit struct {
	CreditID        uuid.UUID
	Owner           addressing.Identity
	Asset           string // "collateral" or "interest"
	Amount          int64
	CustodySequence int64
	Timestamp       time.Time
}

func (c *CustodyCredit) IdempotencyKey() string {
	return c.CreditID.String()
}

func (c *CustodyCredit) RequestType() RequestType {
	return RequestTypeCustodyCredit
}

func (c *CustodyCredit) Actor() addressing.Identity {
	return c.Owner
}

func (c *CustodyCredit) SourceSequence() int64 {
	return c.CustodySequence
}
