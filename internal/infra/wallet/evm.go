package wallet

import (
	"crypto/ecdsa"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

const evmMessagePrefix = "\x19Ethereum Signed Message:\n"

// EVMSigner adapts an Ethereum key to the venue: the 20-byte address is left
// padded to 32 bytes and signatures are EIP-191 personal messages in the
// 64-byte EIP-2098 form.
type EVMSigner struct {
	key     *ecdsa.PrivateKey
	evmAddr common.Address
}

// NewEVMSigner wraps key.
func NewEVMSigner(key *ecdsa.PrivateKey) *EVMSigner {
	return &EVMSigner{key: key, evmAddr: crypto.PubkeyToAddress(key.PublicKey)}
}

func (s *EVMSigner) Address() string {
	return hexutil.Encode(common.LeftPadBytes(s.evmAddr.Bytes(), 32))
}

// EVMAddress is the unpadded checksummed address.
func (s *EVMSigner) EVMAddress() string {
	return s.evmAddr.Hex()
}

func (s *EVMSigner) Sign(message []byte) ([]byte, error) {
	sig, err := crypto.Sign(EVMMessageHash(message), s.key)
	if err != nil {
		return nil, err
	}
	return compact(sig)
}

// EVMMessageHash is the EIP-191 personal message hash:
// keccak256("\x19Ethereum Signed Message:\n" + len + message).
func EVMMessageHash(message []byte) []byte {
	return crypto.Keccak256([]byte(evmMessagePrefix+strconv.Itoa(len(message))), message)
}
