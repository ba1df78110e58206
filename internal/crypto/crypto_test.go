package crypto

import (
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey     = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	testAddress = "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"
)

func TestEncryptDecryptKey(t *testing.T) {
	blob, err := EncryptKey("0x"+testKey, "correct horse")
	require.NoError(t, err)

	got, err := DecryptKey(blob, "correct horse")
	require.NoError(t, err)
	assert.Equal(t, testKey, got)

	_, err = DecryptKey(blob, "wrong")
	assert.Error(t, err)
}

func TestKeyFile_RecordsAgentAddress(t *testing.T) {
	blob, err := EncryptKey(testKey, "pw")
	require.NoError(t, err)

	addr, err := KeyFileAddress(blob)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(testAddress), addr)
}

func TestDecryptKey_RejectsEditedAddress(t *testing.T) {
	blob, err := EncryptKey(testKey, "pw")
	require.NoError(t, err)

	var f map[string]any
	require.NoError(t, json.Unmarshal(blob, &f))
	f["address"] = "0x1111111111111111111111111111111111111111"
	edited, err := json.Marshal(f)
	require.NoError(t, err)

	_, err = DecryptKey(edited, "pw")
	assert.Error(t, err, "address is bound to the ciphertext")
}

func TestEncryptKey_RejectsBadInput(t *testing.T) {
	_, err := EncryptKey(testKey, "")
	assert.Error(t, err)

	_, err = EncryptKey("abcd", "pw")
	assert.ErrorContains(t, err, "expected 32-byte key")
}

func TestLoadKey(t *testing.T) {
	t.Run("raw key wins", func(t *testing.T) {
		k, err := LoadKey(KeyConfig{RawPrivateKey: "0x" + testKey, EncryptedKeyPath: "/does/not/exist"})
		require.NoError(t, err)
		assert.Equal(t, testKey, k)
	})

	t.Run("encrypted file", func(t *testing.T) {
		blob, err := EncryptKey(testKey, "pw")
		require.NoError(t, err)
		path := filepath.Join(t.TempDir(), "agent.key.json")
		require.NoError(t, os.WriteFile(path, blob, 0o600))

		k, err := LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
		require.NoError(t, err)
		assert.Equal(t, testKey, k)
	})

	t.Run("nothing configured", func(t *testing.T) {
		_, err := LoadKey(KeyConfig{})
		assert.ErrorContains(t, err, "no private key source")
	})
}

func TestSigner_AddressAndSignTx(t *testing.T) {
	s, err := NewSigner(testKey, 31337)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(testAddress), s.Address())
	assert.Equal(t, int64(31337), s.ChainID().Int64())

	to := common.HexToAddress("0x1111111111111111111111111111111111111111")
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    3,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      100_000,
		GasPrice: big.NewInt(1_000_000_000),
		Data:     []byte{0x01},
	})
	signed, err := s.SignTx(tx)
	require.NoError(t, err)

	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(31337)), signed)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), from)
}

func TestNewSigner_InvalidKey(t *testing.T) {
	_, err := NewSigner("zz", 1)
	assert.Error(t, err)
}

func TestMockPaymentHash(t *testing.T) {
	a := MockPaymentHash("agent-1", "n1", "1000", 1700000000)
	b := MockPaymentHash("agent-1", "n1", "1000", 1700000000)
	c := MockPaymentHash("agent-1", "n2", "1000", 1700000000)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, common.Hash{}, a)
}
