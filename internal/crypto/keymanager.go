// Package crypto loads the agent's signing key, signs its transactions and
// derives the digests used by the mock payment path.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"
)

const (
	kdfIterations = 480_000
	kdfSaltLen    = 16
	kdfKeyLen     = 32

	keyFileVersion = 2
)

// ErrKeyFileMismatch is returned when a key file's recorded agent address does
// not belong to the key it decrypts to.
var ErrKeyFileMismatch = errors.New("crypto: key file address mismatch")

// agentKeyFile is the on-disk agent key. Address is stored in the clear so
// operators can tell which agent a file belongs to, and is bound to the
// ciphertext as additional data.
type agentKeyFile struct {
	Version    int    `json:"version"`
	Address    string `json:"address"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeyConfig says where the agent key comes from. A raw key takes precedence
// over an encrypted file.
type KeyConfig struct {
	RawPrivateKey    string // hex, 0x prefix optional
	EncryptedKeyPath string // file written by EncryptKey
	KeyPassword      string
}

// EncryptKey seals an agent private key under password and returns the key
// file contents.
func EncryptKey(privateKeyHex string, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	keyBytes, addr, err := parseAgentKey(privateKeyHex)
	if err != nil {
		return nil, err
	}

	salt := make([]byte, kdfSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: salt: %w", err)
	}
	aead, err := keyFileAEAD(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}

	return json.MarshalIndent(agentKeyFile{
		Version:    keyFileVersion,
		Address:    addr.Hex(),
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(aead.Seal(nil, nonce, keyBytes, addr.Bytes())),
	}, "", "  ")
}

// KeyFileAddress returns the agent address recorded in a key file without
// decrypting it.
func KeyFileAddress(data []byte) (common.Address, error) {
	f, err := readKeyFile(data)
	if err != nil {
		return common.Address{}, err
	}
	return common.HexToAddress(f.Address), nil
}

// DecryptKey opens a key file and returns the private key as hex without a 0x
// prefix. The decrypted key must derive the recorded address.
func DecryptKey(data []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: password must not be empty")
	}
	f, err := readKeyFile(data)
	if err != nil {
		return "", err
	}

	var salt, nonce, sealed []byte
	for _, field := range []struct {
		name string
		in   string
		out  *[]byte
	}{
		{"salt", f.Salt, &salt},
		{"nonce", f.Nonce, &nonce},
		{"ciphertext", f.Ciphertext, &sealed},
	} {
		if *field.out, err = base64.StdEncoding.DecodeString(field.in); err != nil {
			return "", fmt.Errorf("crypto: key file %s: %w", field.name, err)
		}
	}

	aead, err := keyFileAEAD(password, salt)
	if err != nil {
		return "", err
	}
	if len(nonce) != aead.NonceSize() {
		return "", fmt.Errorf("crypto: key file nonce is %d bytes, want %d", len(nonce), aead.NonceSize())
	}
	recorded := common.HexToAddress(f.Address)
	plain, err := aead.Open(nil, nonce, sealed, recorded.Bytes())
	if err != nil {
		return "", fmt.Errorf("crypto: open key file for %s (wrong password?): %w", recorded.Hex(), err)
	}

	keyHex := hex.EncodeToString(plain)
	if _, addr, err := parseAgentKey(keyHex); err != nil {
		return "", err
	} else if addr != recorded {
		return "", fmt.Errorf("%w: file says %s, key is %s", ErrKeyFileMismatch, recorded.Hex(), addr.Hex())
	}
	return keyHex, nil
}

// LoadKey resolves the agent's private key from cfg.
func LoadKey(cfg KeyConfig) (string, error) {
	switch {
	case cfg.RawPrivateKey != "":
		k := strings.TrimPrefix(cfg.RawPrivateKey, "0x")
		if _, err := hex.DecodeString(k); err != nil {
			return "", fmt.Errorf("crypto: raw agent key is not hex: %w", err)
		}
		return k, nil
	case cfg.EncryptedKeyPath != "":
		data, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return "", fmt.Errorf("crypto: read key file: %w", err)
		}
		return DecryptKey(data, cfg.KeyPassword)
	default:
		return "", errors.New("crypto: no private key source configured (set a raw key or an encrypted key path)")
	}
}

func parseAgentKey(privateKeyHex string) ([]byte, common.Address, error) {
	keyBytes, err := hex.DecodeString(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("crypto: agent key is not hex: %w", err)
	}
	if len(keyBytes) != 32 {
		return nil, common.Address{}, fmt.Errorf("crypto: expected 32-byte key, got %d bytes", len(keyBytes))
	}
	pk, err := ethcrypto.ToECDSA(keyBytes)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("crypto: agent key: %w", err)
	}
	return keyBytes, ethcrypto.PubkeyToAddress(pk.PublicKey), nil
}

func readKeyFile(data []byte) (agentKeyFile, error) {
	var f agentKeyFile
	if err := json.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("crypto: parse key file: %w", err)
	}
	if f.Version != keyFileVersion {
		return f, fmt.Errorf("crypto: key file version %d, want %d", f.Version, keyFileVersion)
	}
	if !common.IsHexAddress(f.Address) {
		return f, fmt.Errorf("crypto: key file address %q is malformed", f.Address)
	}
	return f, nil
}

func keyFileAEAD(password string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(pbkdf2.Key([]byte(password), salt, kdfIterations, kdfKeyLen, sha256.New))
	if err != nil {
		return nil, fmt.Errorf("crypto: cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm: %w", err)
	}
	return aead, nil
}
