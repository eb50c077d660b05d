// Package secret implements credential decryption for persisted Provider
// and Proxy rows: a minimal Decryptor interface plus a reference AES-GCM
// implementation. Decryption itself is outside the gateway core's concern,
// but needed for a runnable end-to-end gateway.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/scrypt"
)

// EncryptedPrefix marks a stored credential as an encrypted payload rather
// than a plaintext value.
const EncryptedPrefix = "enc:"

const payloadVersion = 1

var (
	ErrInvalidPassphrase = errors.New("secret: invalid passphrase")
	ErrInvalidPayload    = errors.New("secret: invalid encrypted payload")
)

// Decryptor resolves a stored credential value into its plaintext form.
// Values not carrying EncryptedPrefix are returned unchanged — they are
// already plaintext (e.g. an env-expanded API key).
type Decryptor interface {
	Decrypt(stored string) (string, error)
}

// payload is the on-disk encrypted representation.
type payload struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// AESGCM is the reference Decryptor: AES-256-GCM with a scrypt-derived key.
type AESGCM struct {
	Passphrase string
}

// New builds an AESGCM decryptor for the given passphrase.
func New(passphrase string) *AESGCM {
	return &AESGCM{Passphrase: passphrase}
}

// Decrypt implements Decryptor.
func (a *AESGCM) Decrypt(stored string) (string, error) {
	if stored == "" || !strings.HasPrefix(stored, EncryptedPrefix) {
		return stored, nil
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, EncryptedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: decode payload: %v", ErrInvalidPayload, err)
	}

	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", fmt.Errorf("%w: parse payload: %v", ErrInvalidPayload, err)
	}
	if p.Version != payloadVersion {
		return "", fmt.Errorf("%w: unsupported version %d", ErrInvalidPayload, p.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(p.Salt)
	if err != nil {
		return "", fmt.Errorf("%w: decode salt: %v", ErrInvalidPayload, err)
	}
	nonce, err := base64.StdEncoding.DecodeString(p.Nonce)
	if err != nil {
		return "", fmt.Errorf("%w: decode nonce: %v", ErrInvalidPayload, err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(p.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: decode ciphertext: %v", ErrInvalidPayload, err)
	}

	key, err := deriveKey(a.Passphrase, salt)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("init gcm: %w", err)
	}
	if len(nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("%w: invalid nonce size", ErrInvalidPayload)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPassphrase, err)
	}
	return string(plaintext), nil
}

// Encrypt produces a storage-safe encrypted string; the companion of
// Decrypt, used by whatever admin surface writes Provider/Proxy rows.
func (a *AESGCM) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	key, err := deriveKey(a.Passphrase, salt)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("init gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	ciphertext := gcm.Seal(nil, nonce, []byte(plaintext), nil)

	raw, err := json.Marshal(payload{
		Version:    payloadVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	})
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return EncryptedPrefix + base64.StdEncoding.EncodeToString(raw), nil
}

func deriveKey(passphrase string, salt []byte) ([]byte, error) {
	key, err := scrypt.Key([]byte(passphrase), salt, 1<<15, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

// NoOp is a Decryptor that treats every stored value as already plaintext.
// Used when no passphrase is configured.
type NoOp struct{}

func (NoOp) Decrypt(stored string) (string, error) { return stored, nil }
