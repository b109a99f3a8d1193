package ledger

import (
	"fmt"

	"VaultLedger/internal/addressing"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types, also used for the admin's own holdings
	SubTypeCollateralHolding AccountSubType = iota
	SubTypeInterestHolding

	// System sub-types: the three pools under the derived authority
	SubTypeCollateralPool
	SubTypeInterestPool
	SubTypeWithdrawalPool

	// External sub-type: the custody boundary
	SubTypeCustody
)

// AssetID maps asset roles to numeric IDs for compact keys. The 32-byte asset
// identifiers configured at initialization live in the pool config; the ledger
// only cares which of the two roles an amount belongs to.
type AssetID uint16

const (
	AssetCollateral AssetID = 1
	AssetInterest   AssetID = 2
)

var (
	assetToID = map[string]AssetID{
		"collateral": AssetCollateral,
		"interest":   AssetInterest,
	}
	idToAsset = map[AssetID]string{
		AssetCollateral: "collateral",
		AssetInterest:   "interest",
	}
)

func GetAssetID(asset string) (AssetID, bool) {
	id, ok := assetToID[asset]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	name, ok := idToAsset[id]
	return name, ok
}

// HoldingSubType returns the user-scope holding sub-type for an asset role.
func HoldingSubType(id AssetID) AccountSubType {
	if id == AssetInterest {
		return SubTypeInterestHolding
	}
	return SubTypeCollateralHolding
}

// AccountKey is the in-memory key for balance tracking
type AccountKey struct {
	Scope   AccountScope
	Entity  addressing.Identity // holder identity; zero for system and external accounts
	SubType AccountSubType
	AssetID AssetID
}

// NewUserAccountKey creates a key for a holding account. Admin holdings use
// the same shape with the admin identity.
func NewUserAccountKey(holder addressing.Identity, subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeUser,
		Entity:  holder,
		SubType: subType,
		AssetID: assetID,
	}
}

// NewSystemAccountKey creates a key for a pool account
func NewSystemAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeSystem,
		SubType: subType,
		AssetID: assetID,
	}
}

// NewExternalAccountKey creates a key for the custody boundary account
func NewExternalAccountKey(assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: SubTypeCustody,
		AssetID: assetID,
	}
}

// Pool account keys. The collateral and withdrawal pools hold the collateral
// asset; the interest pool holds the interest asset.

func CollateralPoolKey() AccountKey {
	return NewSystemAccountKey(SubTypeCollateralPool, AssetCollateral)
}

func InterestPoolKey() AccountKey {
	return NewSystemAccountKey(SubTypeInterestPool, AssetInterest)
}

func WithdrawalPoolKey() AccountKey {
	return NewSystemAccountKey(SubTypeWithdrawalPool, AssetCollateral)
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	assetName, _ := GetAssetName(k.AssetID)

	switch k.Scope {
	case AccountScopeUser:
		return fmt.Sprintf("user:%s:%s:%s", k.Entity, k.subTypeName(), assetName)
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%s", k.subTypeName(), assetName)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), assetName)
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeCollateralHolding:
		return "collateral_holding"
	case SubTypeInterestHolding:
		return "interest_holding"
	case SubTypeCollateralPool:
		return "collateral_pool"
	case SubTypeInterestPool:
		return "interest_pool"
	case SubTypeWithdrawalPool:
		return "withdrawal_pool"
	case SubTypeCustody:
		return "custody"
	default:
		return "unknown"
	}
}
