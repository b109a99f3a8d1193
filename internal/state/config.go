package state

import (
	"VaultLedger/internal/addressing"
	"VaultLedger/internal/protocol"
	"VaultLedger/internal/request"
)

// PoolConfig is the singleton service configuration, created once by
// Initialize and mutated only field-by-field through UpdateConfig.
type PoolConfig struct {
	InterestAsset      addressing.Identity
	CollateralAsset    addressing.Identity
	BaseInterestRate   int64 // parts-per-thousand annual rate
	PriceMaxAge        int64 // seconds, > 0
	MinCommissionRate  int64 // parts-per-thousand
	MaxCommissionRate  int64
	MinDepositAmount   int64
	MaxDepositAmount   int64
	AllowedLockPeriods []int64 // seconds, never empty
	Version            int64
}

// DefaultConfig mirrors the values the service is provisioned with in
// production; the admin CLI uses these when flags are not given.
var DefaultConfig = PoolConfig{
	BaseInterestRate:  170, // 17% annual
	PriceMaxAge:       300,
	MinCommissionRate: 200, // 20%
	MaxCommissionRate: 500, // 50%
	MinDepositAmount:  10_000_000,
	MaxDepositAmount:  1_000_000_000,
	AllowedLockPeriods: []int64{
		protocol.SecondsPerMonth,
		3 * protocol.SecondsPerMonth,
		6 * protocol.SecondsPerMonth,
	},
}

// IsAllowedPeriod reports whether a lock period is in the configured list
func (c *PoolConfig) IsAllowedPeriod(period int64) bool {
	for _, p := range c.AllowedLockPeriods {
		if p == period {
			return true
		}
	}
	return false
}

// CollateralFeedID is the oracle feed key for the collateral asset
func (c *PoolConfig) CollateralFeedID() string {
	return c.CollateralAsset.String()
}

// Clone returns a deep copy safe to hand to readers
func (c *PoolConfig) Clone() *PoolConfig {
	cp := *c
	cp.AllowedLockPeriods = append([]int64(nil), c.AllowedLockPeriods...)
	return &cp
}

// CanonicalBytes returns deterministic serialization for hashing
func (c *PoolConfig) CanonicalBytes() []byte {
	buf := make([]byte, 0, 136)

	buf = append(buf, c.InterestAsset[:]...)
	buf = append(buf, c.CollateralAsset[:]...)
	buf = appendInt64LE(buf, c.BaseInterestRate)
	buf = appendInt64LE(buf, c.PriceMaxAge)
	buf = appendInt64LE(buf, c.MinCommissionRate)
	buf = appendInt64LE(buf, c.MaxCommissionRate)
	buf = appendInt64LE(buf, c.MinDepositAmount)
	buf = appendInt64LE(buf, c.MaxDepositAmount)

	buf = appendInt64LE(buf, int64(len(c.AllowedLockPeriods)))
	for _, p := range c.AllowedLockPeriods {
		buf = appendInt64LE(buf, p)
	}

	buf = appendInt64LE(buf, c.Version)
	return buf
}

// ValidateConfig checks a full configuration at initialization time
func ValidateConfig(cfg *PoolConfig) error {
	if cfg.MinCommissionRate > cfg.MaxCommissionRate {
		return protocol.ErrInvalidInput("min commission rate exceeds max commission rate")
	}
	if cfg.MinDepositAmount > cfg.MaxDepositAmount {
		return protocol.ErrInvalidInput("min deposit amount exceeds max deposit amount")
	}
	if cfg.MaxCommissionRate > protocol.RateDenominator {
		return protocol.ErrValueOutOfRange("max_commission_rate", cfg.MaxCommissionRate)
	}
	if cfg.PriceMaxAge <= 0 {
		return protocol.ErrValueOutOfRange("price_max_age", cfg.PriceMaxAge)
	}
	if len(cfg.AllowedLockPeriods) == 0 {
		return protocol.ErrInvalidInput("allowed lock periods must not be empty")
	}
	for _, p := range cfg.AllowedLockPeriods {
		if p <= 0 {
			return protocol.ErrValueOutOfRange("lock_period", p)
		}
	}
	return nil
}

// ConfigManager owns the singleton pool configuration
type ConfigManager struct {
	config *PoolConfig
}

func NewConfigManager() *ConfigManager {
	return &ConfigManager{}
}

func (cm *ConfigManager) IsInitialized() bool {
	return cm.config != nil
}

// Get returns the live configuration
func (cm *ConfigManager) Get() (*PoolConfig, error) {
	if cm.config == nil {
		return nil, protocol.ErrNotInitialized()
	}
	return cm.config, nil
}

// Initialize stores the configuration exactly once
func (cm *ConfigManager) Initialize(cfg *PoolConfig) error {
	if cm.config != nil {
		return protocol.ErrAlreadyInitialized()
	}
	if err := ValidateConfig(cfg); err != nil {
		return err
	}
	cm.config = cfg.Clone()
	return nil
}

// Restore directly sets the configuration (used for snapshot restore)
func (cm *ConfigManager) Restore(cfg *PoolConfig) {
	cm.config = cfg
}

// Apply mutates the one field named by the update's selector, re-validated
// against the stored opposite bound. An absent optional value is a no-op;
// the returned field name is empty in that case.
func (cm *ConfigManager) Apply(req *request.UpdateConfig) (string, error) {
	cfg, err := cm.Get()
	if err != nil {
		return "", err
	}

	switch req.Selector {
	case request.SelectorBaseInterestRate:
		if req.BaseInterestRate == nil {
			return "", nil
		}
		cfg.BaseInterestRate = *req.BaseInterestRate

	case request.SelectorPriceMaxAge:
		if req.PriceMaxAge == nil {
			return "", nil
		}
		if *req.PriceMaxAge <= 0 {
			return "", protocol.ErrValueOutOfRange("price_max_age", *req.PriceMaxAge)
		}
		cfg.PriceMaxAge = *req.PriceMaxAge

	case request.SelectorMinCommissionRate:
		if req.MinCommissionRate == nil {
			return "", nil
		}
		if *req.MinCommissionRate > cfg.MaxCommissionRate {
			return "", protocol.ErrValueOutOfRange("min_commission_rate", *req.MinCommissionRate)
		}
		cfg.MinCommissionRate = *req.MinCommissionRate

	case request.SelectorMaxCommissionRate:
		if req.MaxCommissionRate == nil {
			return "", nil
		}
		if *req.MaxCommissionRate < cfg.MinCommissionRate || *req.MaxCommissionRate > protocol.RateDenominator {
			return "", protocol.ErrValueOutOfRange("max_commission_rate", *req.MaxCommissionRate)
		}
		cfg.MaxCommissionRate = *req.MaxCommissionRate

	case request.SelectorMinDepositAmount:
		if req.MinDepositAmount == nil {
			return "", nil
		}
		if *req.MinDepositAmount > cfg.MaxDepositAmount {
			return "", protocol.ErrValueOutOfRange("min_deposit_amount", *req.MinDepositAmount)
		}
		cfg.MinDepositAmount = *req.MinDepositAmount

	case request.SelectorMaxDepositAmount:
		if req.MaxDepositAmount == nil {
			return "", nil
		}
		if *req.MaxDepositAmount < cfg.MinDepositAmount {
			return "", protocol.ErrValueOutOfRange("max_deposit_amount", *req.MaxDepositAmount)
		}
		cfg.MaxDepositAmount = *req.MaxDepositAmount

	case request.SelectorAllowedLockPeriods:
		if req.AllowedLockPeriods == nil {
			return "", nil
		}
		if len(req.AllowedLockPeriods) == 0 {
			return "", protocol.ErrInvalidInput("allowed lock periods must not be empty")
		}
		for _, p := range req.AllowedLockPeriods {
			if p <= 0 {
				return "", protocol.ErrValueOutOfRange("lock_period", p)
			}
		}
		cfg.AllowedLockPeriods = append([]int64(nil), req.AllowedLockPeriods...)

	default:
		return "", protocol.ErrInvalidConfigParam(req.Selector)
	}

	cfg.Version++
	return selectorFieldName(req.Selector), nil
}

func selectorFieldName(selector uint8) string {
	switch selector {
	case request.SelectorBaseInterestRate:
		return "base_interest_rate"
	case request.SelectorPriceMaxAge:
		return "price_max_age"
	case request.SelectorMinCommissionRate:
		return "min_commission_rate"
	case request.SelectorMaxCommissionRate:
		return "max_commission_rate"
	case request.SelectorMinDepositAmount:
		return "min_deposit_amount"
	case request.SelectorMaxDepositAmount:
		return "max_deposit_amount"
	case request.SelectorAllowedLockPeriods:
		return "allowed_lock_periods"
	default:
		return "unknown"
	}
}
