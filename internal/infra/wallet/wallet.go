// Package wallet implements the two account types that can authenticate
// against the venue: a native Fuel key and an EVM key adapted to Fuel.
package wallet

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	"volume_miner/internal/domain"
)

// Account types accepted in configuration.
const (
	TypeFuel = "fuel"
	TypeEVM  = "evm"
)

// New returns the signer for accountType. The variant is chosen here, once,
// from configuration.
func New(accountType, privateKeyHex string) (domain.Signer, error) {
	key, err := parseKey(privateKeyHex)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(accountType) {
	case TypeFuel:
		return NewFuelSigner(key), nil
	case TypeEVM:
		return NewEVMSigner(key), nil
	default:
		return nil, fmt.Errorf("unknown account type %q (want %s or %s)", accountType, TypeFuel, TypeEVM)
	}
}

// GenerateSessionSigner creates a fresh Fuel key used as the trading session
// key. It never leaves the process.
func GenerateSessionSigner() (*FuelSigner, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate session key: %w", err)
	}
	return NewFuelSigner(key), nil
}

func parseKey(privateKeyHex string) (*ecdsa.PrivateKey, error) {
	h := strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	if h == "" {
		return nil, fmt.Errorf("private key is empty")
	}
	key, err := crypto.HexToECDSA(h)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}

// compact turns a 65-byte [R || S || V] signature into the 64-byte form
// where the recovery bit is stored in the top bit of S.
func compact(sig []byte) ([]byte, error) {
	if len(sig) != crypto.SignatureLength {
		return nil, fmt.Errorf("unexpected signature length %d", len(sig))
	}
	v := sig[crypto.RecoveryIDOffset]
	if v >= 27 {
		v -= 27
	}
	if v > 1 {
		return nil, fmt.Errorf("invalid recovery id %d", sig[crypto.RecoveryIDOffset])
	}
	out := make([]byte, 64)
	copy(out, sig[:64])
	out[32] |= v << 7
	return out, nil
}

// expand is the inverse of compact.
func expand(sig []byte) ([]byte, error) {
	if len(sig) != 64 {
		return nil, fmt.Errorf("unexpected compact signature length %d", len(sig))
	}
	out := make([]byte, crypto.SignatureLength)
	copy(out, sig)
	out[crypto.RecoveryIDOffset] = sig[32] >> 7
	out[32] &= 0x7f
	return out, nil
}
