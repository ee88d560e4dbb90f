// Package crypto loads the trading keypair and authenticates operator API
// requests.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gagliardetto/solana-go"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	// currentVersion is the encrypted-key JSON schema version. Version 1
	// stored 32-byte secp256k1 keys and is not readable here.
	currentVersion = 2
)

// encryptedKeyJSON is the on-disk format for an encrypted keypair.
type encryptedKeyJSON struct {
	Version    int    `json:"version"`
	PublicKey  string `json:"public_key"`
	Salt       string `json:"salt"`  // base64 standard encoding
	Nonce      string `json:"nonce"` // base64 standard encoding
	Ciphertext string `json:"ciphertext"`
}

// KeyConfig carries the information LoadKey needs to resolve a keypair.
type KeyConfig struct {
	// PrivateKey is a base58 keypair or a JSON byte array as written by
	// solana-keygen. Takes precedence when set.
	PrivateKey string
	// KeypairPath is a solana-keygen JSON file.
	KeypairPath string
	// EncryptedKeyPath is a file produced by EncryptKey, opened with
	// KeyPassword.
	EncryptedKeyPath string
	KeyPassword      string
}

// ParsePrivateKey accepts a base58 keypair or a JSON array of 64 bytes.
func ParsePrivateKey(s string) (solana.PrivateKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("crypto: empty private key")
	}
	var key solana.PrivateKey
	if strings.HasPrefix(s, "[") {
		var ints []int
		if err := json.Unmarshal([]byte(s), &ints); err != nil {
			return nil, fmt.Errorf("crypto: private key byte array: %w", err)
		}
		key = make(solana.PrivateKey, len(ints))
		for i, v := range ints {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("crypto: private key byte %d out of range: %d", i, v)
			}
			key[i] = byte(v)
		}
	} else {
		var err error
		key, err = solana.PrivateKeyFromBase58(s)
		if err != nil {
			return nil, fmt.Errorf("crypto: private key base58: %w", err)
		}
	}
	if err := validate(key); err != nil {
		return nil, err
	}
	return key, nil
}

// validate checks that key is a 64-byte ed25519 keypair whose public half
// matches its seed.
func validate(key solana.PrivateKey) error {
	if len(key) != ed25519.PrivateKeySize {
		return fmt.Errorf("crypto: expected %d-byte keypair, got %d bytes", ed25519.PrivateKeySize, len(key))
	}
	derived := ed25519.NewKeyFromSeed(key[:ed25519.SeedSize])
	if !bytes.Equal(derived[ed25519.SeedSize:], key[ed25519.SeedSize:]) {
		return errors.New("crypto: keypair public half does not match its seed")
	}
	return nil
}

// EncryptKey encrypts key with PBKDF2-HMAC-SHA256 key derivation and
// AES-256-GCM. It returns the JSON blob to write to disk.
func EncryptKey(key solana.PrivateKey, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	if err := validate(key); err != nil {
		return nil, err
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}
	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}
	pub := key.PublicKey()

	out := encryptedKeyJSON{
		Version:    currentVersion,
		PublicKey:  pub.String(),
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, key, pub[:])),
	}
	return json.MarshalIndent(out, "", "  ")
}

// DecryptKey opens a blob produced by EncryptKey.
func DecryptKey(encryptedJSON []byte, password string) (solana.PrivateKey, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}

	var stored encryptedKeyJSON
	if err := json.Unmarshal(encryptedJSON, &stored); err != nil {
		return nil, fmt.Errorf("crypto: parsing encrypted key JSON: %w", err)
	}
	if stored.Version != currentVersion {
		return nil, fmt.Errorf("crypto: unsupported version %d", stored.Version)
	}
	pub, err := solana.PublicKeyFromBase58(stored.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: public key: %w", err)
	}

	salt, err := base64.StdEncoding.DecodeString(stored.Salt)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(stored.Nonce)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(stored.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding ciphertext: %w", err)
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, pub[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: decryption failed (wrong password?): %w", err)
	}
	key := solana.PrivateKey(plaintext)
	if err := validate(key); err != nil {
		return nil, err
	}
	return key, nil
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	derivedKey := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}
	return gcm, nil
}

// LoadKey resolves the keypair. Resolution order: PrivateKey, KeypairPath,
// EncryptedKeyPath.
func LoadKey(cfg KeyConfig) (solana.PrivateKey, error) {
	switch {
	case cfg.PrivateKey != "":
		return ParsePrivateKey(cfg.PrivateKey)
	case cfg.KeypairPath != "":
		data, err := os.ReadFile(cfg.KeypairPath)
		if err != nil {
			return nil, fmt.Errorf("crypto: reading keypair file: %w", err)
		}
		return ParsePrivateKey(string(data))
	case cfg.EncryptedKeyPath != "":
		data, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return nil, fmt.Errorf("crypto: reading encrypted key file: %w", err)
		}
		return DecryptKey(data, cfg.KeyPassword)
	}
	return nil, errors.New("crypto: no private key source configured (set private_key, keypair_path or encrypted_key_path)")
}
