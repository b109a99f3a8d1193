package addressing

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Namespace scopes every derived address to this protocol generation.
const Namespace = "vaultledger/v1"

// Well-known seeds for the singleton protocol accounts.
const (
	SeedConfig         = "pool_config"
	SeedAuthority      = "authority"
	SeedWithdrawalPool = "withdrawal_pool"
)

// Identity is a raw 32-byte caller or asset identifier.
type Identity [32]byte

// Address is a content-derived account key: a pure function of its seeds,
// collision-resistant, one-way.
type Address [32]byte

var zeroIdentity Identity

func (id Identity) String() string {
	return hex.EncodeToString(id[:])
}

// Short returns the first 8 hex chars, for log fields and account paths.
func (id Identity) Short() string {
	return hex.EncodeToString(id[:4])
}

func (id Identity) IsZero() bool {
	return id == zeroIdentity
}

func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// MarshalText hex-encodes for JSON payloads and map keys.
func (id Identity) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *Identity) UnmarshalText(text []byte) error {
	parsed, err := ParseIdentity(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseIdentity decodes a 64-char hex identity.
func ParseIdentity(s string) (Identity, error) {
	var id Identity
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("parse identity: %w", err)
	}
	if len(raw) != len(id) {
		return id, fmt.Errorf("parse identity: need %d bytes, got %d", len(id), len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

// ParseAddress decodes a 64-char hex address.
func ParseAddress(s string) (Address, error) {
	var a Address
	raw, err := hex.DecodeString(s)
	if err != nil {
		return a, fmt.Errorf("parse address: %w", err)
	}
	if len(raw) != len(a) {
		return a, fmt.Errorf("parse address: need %d bytes, got %d", len(a), len(raw))
	}
	copy(a[:], raw)
	return a, nil
}

// Derive computes SHA-256(namespace || 0x00 || seed_1 || 0x00 || ... || seed_n).
// The zero separator keeps seed boundaries unambiguous.
func Derive(seeds ...[]byte) Address {
	hasher := sha256.New()
	hasher.Write([]byte(Namespace))
	for _, seed := range seeds {
		hasher.Write([]byte{0})
		hasher.Write(seed)
	}

	var addr Address
	copy(addr[:], hasher.Sum(nil))
	return addr
}

// ConfigAddress is the singleton pool configuration record address.
func ConfigAddress() Address {
	return Derive([]byte(SeedConfig))
}

// AuthorityAddress is the derived identity that alone controls the pools.
func AuthorityAddress() Address {
	return Derive([]byte(SeedAuthority))
}

// WithdrawalPoolAddress is the staging pool for prepared withdrawals.
func WithdrawalPoolAddress() Address {
	return Derive([]byte(SeedWithdrawalPool))
}

// DepositAddress derives the per-user deposit record address from the user
// identity alone. One live deposit per user follows from this.
func DepositAddress(user Identity) Address {
	return Derive(user[:])
}

// Expect compares a caller-supplied address against the derived expectation.
// Returns a descriptive error on mismatch; callers wrap it into the coded
// rejection.
func Expect(name string, got, want Address) error {
	if !bytes.Equal(got[:], want[:]) {
		return fmt.Errorf("address mismatch for %s: expected=%s, actual=%s", name, want, got)
	}
	return nil
}
