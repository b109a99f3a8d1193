package request

import (
	"fmt"
	"time"

	"VaultLedger/internal/addressing"
)

// PriceUpdate carries an oracle reading for a feed. Price scales by
// 10^Exponent (negative exponent divides). Readings with a stale sequence are
// silently ignored by the core.
type PriceUpdate struct {
	FeedID        string
	Price         int64
	Exponent      int32
	PublishTime   int64 // Unix seconds, set by the oracle publisher
	PriceSequence int64 // Monotonic per feed
	Timestamp     time.Time
}

func (p *PriceUpdate) IdempotencyKey() string {
	return fmt.Sprintf("%s:price:%d", p.FeedID, p.PriceSequence)
}

func (p *PriceUpdate) RequestType() RequestType {
	return RequestTypePriceUpdate
}

func (p *PriceUpdate) Actor() addressing.Identity {
	return addressing.Identity{}
}

func (p *PriceUpdate) SourceSequence() int64 {
	return p.PriceSequence
}
