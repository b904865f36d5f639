// Package utils holds input-format validation and amount conversion
// helpers shared by the verification core and the HTTP layer.
package utils

import (
	"fmt"
	"regexp"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// Base58 length bounds for the chain's canonical encodings. Transaction
// signatures are 64 bytes, addresses 32 bytes.
const (
	SignatureMinLen = 87
	SignatureMaxLen = 88
	AddressMinLen   = 32
	AddressMaxLen   = 44
)

// Base58 alphabet: 123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz
var base58Re = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)

// ValidateSignature checks that s is a plausible base58 transaction
// signature: alphabet, length 87-88, and a clean 64-byte decode. Callers
// run this before spending a network round-trip.
func ValidateSignature(s string) error {
	if s == "" {
		return fmt.Errorf("signature cannot be empty")
	}
	if len(s) < SignatureMinLen || len(s) > SignatureMaxLen {
		return fmt.Errorf("signature has invalid length %d", len(s))
	}
	if !base58Re.MatchString(s) {
		return fmt.Errorf("signature must be valid base58")
	}
	if _, err := solana.SignatureFromBase58(s); err != nil {
		return fmt.Errorf("signature does not decode: %w", err)
	}
	return nil
}

// ValidateAddress checks that s is a plausible base58 account address:
// alphabet, length 32-44, and a clean 32-byte decode.
func ValidateAddress(s string) error {
	if s == "" {
		return fmt.Errorf("address cannot be empty")
	}
	if len(s) < AddressMinLen || len(s) > AddressMaxLen {
		return fmt.Errorf("address has invalid length %d", len(s))
	}
	if !base58Re.MatchString(s) {
		return fmt.Errorf("address must be valid base58")
	}
	if _, err := solana.PublicKeyFromBase58(s); err != nil {
		return fmt.Errorf("address does not decode: %w", err)
	}
	return nil
}

// ValidateAmount checks that amount is a valid positive decimal string.
func ValidateAmount(amount string) (*decimal.Decimal, error) {
	if amount == "" {
		return nil, fmt.Errorf("amount cannot be empty")
	}

	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount format: %w", err)
	}

	if !dec.IsPositive() {
		return nil, fmt.Errorf("amount must be positive")
	}

	return &dec, nil
}
