// Package idgen produces the public user identifiers that double as
// referral codes.
package idgen

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

// Scheme names accepted by New
const (
	SchemeCode = "code"
	SchemeUUID = "uuid"
	SchemeTW   = "tw"
)

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength   = 9

	twPrefix = "TW-"
	twMin    = 100000
	twMax    = 999999
)

// Generator returns a fresh identifier on every call.
type Generator interface {
	Generate() string
}

// GeneratorFunc adapts a plain function to Generator.
type GeneratorFunc func() string

func (f GeneratorFunc) Generate() string { return f() }

var (
	randInt   = rand.Int
	newUUIDv7 = uuid.NewV7
)

// New returns the generator for the named scheme.
func New(scheme string) (Generator, error) {
	switch strings.ToLower(strings.TrimSpace(scheme)) {
	case "", SchemeCode:
		return GeneratorFunc(Code), nil
	case SchemeUUID:
		return GeneratorFunc(UUID), nil
	case SchemeTW:
		return GeneratorFunc(TW), nil
	default:
		return nil, fmt.Errorf("unknown id scheme %q", scheme)
	}
}

// Code returns 9 characters drawn uniformly from A-Z0-9.
func Code() string {
	var sb strings.Builder
	sb.Grow(codeLength)
	bound := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < codeLength; i++ {
		sb.WriteByte(codeAlphabet[uniform(bound)])
	}
	return sb.String()
}

// UUID returns a canonical UUID string, v7 with a v4 fallback.
func UUID() string {
	id, err := newUUIDv7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// TW returns "TW-" followed by a number in [100000, 999999].
func TW() string {
	n := uniform(big.NewInt(twMax-twMin+1)) + twMin
	return fmt.Sprintf("%s%d", twPrefix, n)
}

// uniform draws from [0, bound). The system CSPRNG does not fail on supported
// platforms; if it ever does there is no safe fallback, so panic.
func uniform(bound *big.Int) int64 {
	n, err := randInt(rand.Reader, bound)
	if err != nil {
		panic(fmt.Sprintf("idgen: reading random source: %v", err))
	}
	return n.Int64()
}
