package wallet

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// well-known test key from the go-ethereum docs
const testKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		accountType string
		key         string
		wantErr     bool
	}{
		{"fuel", "fuel", testKey, false},
		{"evm", "EVM", testKey, false},
		{"no prefix", "evm", strings.TrimPrefix(testKey, "0x"), false},
		{"unknown type", "solana", testKey, true},
		{"empty key", "fuel", "", true},
		{"bad key", "fuel", "0xzz", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.accountType, tt.key)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, s.Address(), 66)
		})
	}
}

func TestEVMSigner(t *testing.T) {
	s, err := New(TypeEVM, testKey)
	require.NoError(t, err)
	evm := s.(*EVMSigner)

	assert.Equal(t, "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23", evm.EVMAddress())
	assert.Equal(t, "0x0000000000000000000000002c7536e3605d9c16a7a3d7b1898e529396a65c23", evm.Address())

	msg := []byte("session payload")
	sig, err := evm.Sign(msg)
	require.NoError(t, err)
	require.Len(t, sig, 64)

	full, err := expand(sig)
	require.NoError(t, err)
	pub, err := crypto.SigToPub(EVMMessageHash(msg), full)
	require.NoError(t, err)
	assert.Equal(t, evm.EVMAddress(), crypto.PubkeyToAddress(*pub).Hex())
}

func TestFuelSigner(t *testing.T) {
	s, err := New(TypeFuel, testKey)
	require.NoError(t, err)
	fuel := s.(*FuelSigner)

	msg := []byte("session payload")
	sig, err := fuel.Sign(msg)
	require.NoError(t, err)
	require.Len(t, sig, 64)

	full, err := expand(sig)
	require.NoError(t, err)
	pub, err := crypto.SigToPub(FuelMessageHash(msg), full)
	require.NoError(t, err)
	assert.Equal(t, fuel.PublicKey(), hexutil.Encode(crypto.FromECDSAPub(pub)[1:]))

	// address is deterministic and differs from the padded EVM form
	again := NewFuelSigner(fuel.key)
	assert.Equal(t, fuel.Address(), again.Address())
	evm, _ := New(TypeEVM, testKey)
	assert.NotEqual(t, evm.Address(), fuel.Address())
}

func TestGenerateSessionSigner(t *testing.T) {
	a, err := GenerateSessionSigner()
	require.NoError(t, err)
	b, err := GenerateSessionSigner()
	require.NoError(t, err)
	assert.NotEqual(t, a.Address(), b.Address())
}

func TestCompactRoundTrip(t *testing.T) {
	for _, v := range []byte{0, 1, 27, 28} {
		sig := make([]byte, 65)
		for i := range sig[:64] {
			sig[i] = byte(i)
		}
		sig[64] = v

		c, err := compact(sig)
		require.NoError(t, err)
		back, err := expand(c)
		require.NoError(t, err)

		want := v
		if want >= 27 {
			want -= 27
		}
		assert.Equal(t, sig[:64], back[:64])
		assert.Equal(t, want, back[64])
	}

	_, err := compact(make([]byte, 10))
	assert.Error(t, err)
	bad := make([]byte, 65)
	bad[64] = 5
	_, err = compact(bad)
	assert.Error(t, err)
}

func TestEVMMessageHash(t *testing.T) {
	// matches ethers hashMessage("hello")
	assert.Equal(t,
		"0x50b2c43fd39106bafbba0da34fc430e1f91e3c96ea2acee2bc34119f92b37750",
		hexutil.Encode(EVMMessageHash([]byte("hello"))),
	)
}
