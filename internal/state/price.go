package state

import (
	"VaultLedger/internal/protocol"
)

// PriceState tracks the latest oracle reading for one feed
type PriceState struct {
	Price         int64
	Exponent      int32
	PublishTime   int64 // Unix seconds, set by the oracle publisher
	PriceSequence int64
	Timestamp     int64 // versioned input time at ingestion
}

// PriceCache holds per-feed oracle readings
type PriceCache struct {
	feeds map[string]*PriceState
}

func NewPriceCache() *PriceCache {
	return &PriceCache{
		feeds: make(map[string]*PriceState),
	}
}

// Update processes an oracle reading and reports whether it was accepted.
// Stale or duplicate sequences are silently ignored (idempotent); sequence
// gaps are tolerated, last write by sequence wins.
func (pc *PriceCache) Update(feedID string, price int64, exponent int32, publishTime, sequence, timestamp int64) bool {
	current := pc.feeds[feedID]
	if current != nil && sequence <= current.PriceSequence {
		return false
	}

	pc.feeds[feedID] = &PriceState{
		Price:         price,
		Exponent:      exponent,
		PublishTime:   publishTime,
		PriceSequence: sequence,
		Timestamp:     timestamp,
	}
	return true
}

// Get returns the latest reading for a feed
func (pc *PriceCache) Get(feedID string) (*PriceState, bool) {
	st := pc.feeds[feedID]
	if st == nil {
		return nil, false
	}
	return st, true
}

// Fresh returns the latest reading if it published no more than maxAge
// seconds before now.
func (pc *PriceCache) Fresh(feedID string, now, maxAge int64) (*PriceState, error) {
	st, ok := pc.Get(feedID)
	if !ok {
		return nil, protocol.ErrPriceUnavailable(feedID)
	}

	age := now - st.PublishTime
	if age > maxAge {
		return nil, protocol.ErrPriceTooStale(feedID, age, maxAge)
	}
	return st, nil
}

// Restore directly sets a reading (used for snapshot restore)
func (pc *PriceCache) Restore(feedID string, st *PriceState) {
	pc.feeds[feedID] = st
}

// All returns all readings (for snapshot creation)
func (pc *PriceCache) All() map[string]*PriceState {
	result := make(map[string]*PriceState, len(pc.feeds))
	for k, v := range pc.feeds {
		result[k] = v
	}
	return result
}
