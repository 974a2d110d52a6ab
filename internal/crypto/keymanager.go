// Package crypto loads the signing wallet and signs transactions.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"

	"github.com/zcombinatorio/percent-sub003/internal/domain"
)

const (
	defaultIterations = 480_000
	saltLen           = 16
	aesKeyLen         = 32
	keyFileVersion    = 1
)

// sealedKey is the on-disk format of a password-protected wallet key.
type sealedKey struct {
	Version    int    `json:"version"`
	Address    string `json:"address"`
	Iterations int    `json:"iterations"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeySource says where the wallet key comes from. PrivateKey wins over
// KeyFile. A key file is parsed as a sealed JSON document when Password is
// set and as a hex key otherwise.
type KeySource struct {
	PrivateKey string
	KeyFile    string
	Password   string
}

// ParseHexKey parses a secp256k1 key with or without a 0x prefix.
func ParseHexKey(raw string) (*ecdsa.PrivateKey, error) {
	k, err := ethcrypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(raw), "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	return k, nil
}

// SealKey encrypts key with password (PBKDF2-SHA256 + AES-256-GCM).
func SealKey(key *ecdsa.PrivateKey, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: salt: %w", err)
	}
	gcm, err := newGCM(password, salt, defaultIterations)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}

	doc := sealedKey{
		Version:    keyFileVersion,
		Address:    ethcrypto.PubkeyToAddress(key.PublicKey).Hex(),
		Iterations: defaultIterations,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, ethcrypto.FromECDSA(key), nil)),
	}
	return json.MarshalIndent(doc, "", "  ")
}

// OpenKey decrypts a document produced by SealKey and checks that the
// recovered key matches the recorded address.
func OpenKey(data []byte, password string) (*ecdsa.PrivateKey, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	var doc sealedKey
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("crypto: parse key file: %w", err)
	}
	if doc.Version != keyFileVersion {
		return nil, fmt.Errorf("crypto: unsupported key file version %d", doc.Version)
	}

	fields := make([][]byte, 3)
	for i, s := range []string{doc.Salt, doc.Nonce, doc.Ciphertext} {
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("crypto: decode key file: %w", err)
		}
		fields[i] = b
	}
	iterations := doc.Iterations
	if iterations <= 0 {
		iterations = defaultIterations
	}
	gcm, err := newGCM(password, fields[0], iterations)
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, fields[1], fields[2], nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: decryption failed (wrong password?): %w", err)
	}

	key, err := ethcrypto.ToECDSA(plain)
	if err != nil {
		return nil, fmt.Errorf("crypto: decrypted key: %w", err)
	}
	if doc.Address != "" {
		got := ethcrypto.PubkeyToAddress(key.PublicKey)
		if !strings.EqualFold(got.Hex(), doc.Address) {
			return nil, fmt.Errorf("crypto: key file address %s does not match key %s", doc.Address, got.Hex())
		}
	}
	return key, nil
}

// LoadKey resolves the wallet key. It returns domain.ErrMissingSigner when
// no source is configured.
func LoadKey(src KeySource) (*ecdsa.PrivateKey, error) {
	if src.PrivateKey != "" {
		return ParseHexKey(src.PrivateKey)
	}
	if src.KeyFile == "" {
		return nil, fmt.Errorf("crypto: %w", domain.ErrMissingSigner)
	}

	data, err := os.ReadFile(src.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("crypto: read key file: %w: %w", domain.ErrMissingSigner, err)
	}
	if src.Password != "" || bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")) {
		return OpenKey(data, src.Password)
	}
	return ParseHexKey(string(data))
}

func newGCM(password string, salt []byte, iterations int) (cipher.AEAD, error) {
	derived := pbkdf2.Key([]byte(password), salt, iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("crypto: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm: %w", err)
	}
	return gcm, nil
}
