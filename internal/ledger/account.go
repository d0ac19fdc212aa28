package ledger

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeMember AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// Member sub-types
	SubTypePooled AccountSubType = iota

	// System sub-types: fees holds retained extraction/depth fees and
	// kick sweeps, penalty holds the contract share of eviction
	// penalties. Both only accumulate.
	SubTypeSystemFees
	SubTypeSystemPenalty

	// External sub-types: boundaries where WSTR enters or leaves pool
	// custody. external:token is the participants' wallet side,
	// external:swap is the treasury/flash-swap counterparty.
	SubTypeExternalToken
	SubTypeExternalSwap
)

// AccountKey is the in-memory key for balance tracking. All balances
// are WSTR, so there is no asset dimension.
type AccountKey struct {
	Scope   AccountScope
	Entity  common.Address // member address; zero for system/external
	SubType AccountSubType
}

// NewMemberAccountKey creates the pooled-balance key for a member
func NewMemberAccountKey(addr common.Address) AccountKey {
	return AccountKey{
		Scope:   AccountScopeMember,
		Entity:  addr,
		SubType: SubTypePooled,
	}
}

// NewSystemAccountKey creates a key for system accounts
func NewSystemAccountKey(subType AccountSubType) AccountKey {
	return AccountKey{
		Scope:   AccountScopeSystem,
		SubType: subType,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
	}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeMember:
		return fmt.Sprintf("member:%s:%s", k.Entity.Hex(), k.subTypeName())
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s", k.subTypeName())
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s", k.subTypeName())
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypePooled:
		return "pooled"
	case SubTypeSystemFees:
		return "fees"
	case SubTypeSystemPenalty:
		return "penalty"
	case SubTypeExternalToken:
		return "token"
	case SubTypeExternalSwap:
		return "swap"
	default:
		return "unknown"
	}
}

// ParseAccountPath is the inverse of AccountPath. Used when restoring
// balances from a snapshot, where keys are stored as paths.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")
	switch {
	case len(parts) == 3 && parts[0] == "member":
		if !common.IsHexAddress(parts[1]) {
			return AccountKey{}, fmt.Errorf("invalid member address in path %q", path)
		}
		sub, err := parseSubType(parts[2])
		if err != nil {
			return AccountKey{}, fmt.Errorf("path %q: %w", path, err)
		}
		return AccountKey{
			Scope:   AccountScopeMember,
			Entity:  common.HexToAddress(parts[1]),
			SubType: sub,
		}, nil

	case len(parts) == 2 && parts[0] == "system":
		sub, err := parseSubType(parts[1])
		if err != nil {
			return AccountKey{}, fmt.Errorf("path %q: %w", path, err)
		}
		return AccountKey{Scope: AccountScopeSystem, SubType: sub}, nil

	case len(parts) == 2 && parts[0] == "external":
		sub, err := parseSubType(parts[1])
		if err != nil {
			return AccountKey{}, fmt.Errorf("path %q: %w", path, err)
		}
		return AccountKey{Scope: AccountScopeExternal, SubType: sub}, nil
	}
	return AccountKey{}, fmt.Errorf("unparseable account path %q", path)
}

func parseSubType(name string) (AccountSubType, error) {
	switch name {
	case "pooled":
		return SubTypePooled, nil
	case "fees":
		return SubTypeSystemFees, nil
	case "penalty":
		return SubTypeSystemPenalty, nil
	case "token":
		return SubTypeExternalToken, nil
	case "swap":
		return SubTypeExternalSwap, nil
	}
	return 0, fmt.Errorf("unknown account sub-type %q", name)
}
