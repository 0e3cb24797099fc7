package wallet

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Policy modes
const (
	ModeOpaque = "opaque"
	ModeEVM    = "evm"
)

var (
	ErrEmpty      = errors.New("wallet address is empty")
	ErrNotEVMAddr = errors.New("wallet address is not a valid EVM address")
)

// Policy normalizes client-supplied wallet addresses before they reach the
// store. Opaque mode only trims whitespace; EVM mode also requires a 20-byte
// hex address and rewrites it to its EIP-55 checksum form so that case
// variants of the same address collide on the unique index.
type Policy struct {
	mode string
}

// NewPolicy returns the policy for mode.
func NewPolicy(mode string) (*Policy, error) {
	switch m := strings.ToLower(strings.TrimSpace(mode)); m {
	case "", ModeOpaque:
		return &Policy{mode: ModeOpaque}, nil
	case ModeEVM:
		return &Policy{mode: ModeEVM}, nil
	default:
		return nil, fmt.Errorf("unknown wallet validation mode %q", mode)
	}
}

// Mode reports the active mode.
func (p *Policy) Mode() string {
	return p.mode
}

// Normalize validates address and returns the form to persist.
func (p *Policy) Normalize(address string) (string, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", ErrEmpty
	}
	if p.mode != ModeEVM {
		return address, nil
	}
	if !common.IsHexAddress(address) {
		return "", ErrNotEVMAddr
	}
	return common.HexToAddress(address).Hex(), nil
}
