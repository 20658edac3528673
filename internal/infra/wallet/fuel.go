package wallet

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"strconv"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

const fuelMessagePrefix = "\x19Fuel Signed Message:\n"

// FuelSigner signs with a native Fuel secp256k1 key.
type FuelSigner struct {
	key     *ecdsa.PrivateKey
	address []byte
}

// NewFuelSigner wraps key. The Fuel address is sha256 of the 64-byte
// uncompressed public key without its 0x04 prefix.
func NewFuelSigner(key *ecdsa.PrivateKey) *FuelSigner {
	pub := crypto.FromECDSAPub(&key.PublicKey)[1:]
	sum := sha256.Sum256(pub)
	return &FuelSigner{key: key, address: sum[:]}
}

func (s *FuelSigner) Address() string {
	return hexutil.Encode(s.address)
}

// PublicKey returns the 64-byte public key, hex encoded.
func (s *FuelSigner) PublicKey() string {
	return hexutil.Encode(crypto.FromECDSAPub(&s.key.PublicKey)[1:])
}

// Sign signs the Fuel personal message hash of message.
func (s *FuelSigner) Sign(message []byte) ([]byte, error) {
	hash := FuelMessageHash(message)
	sig, err := crypto.Sign(hash, s.key)
	if err != nil {
		return nil, err
	}
	return compact(sig)
}

// FuelMessageHash is sha256("\x19Fuel Signed Message:\n" + len + message).
func FuelMessageHash(message []byte) []byte {
	h := sha256.New()
	h.Write([]byte(fuelMessagePrefix))
	h.Write([]byte(strconv.Itoa(len(message))))
	h.Write(message)
	return h.Sum(nil)
}
