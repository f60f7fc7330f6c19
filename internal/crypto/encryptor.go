package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrCiphertextTooShort indicates a truncated or corrupted payload.
	ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")
)

// Encryptor protects sensitive fields at rest. Values are marshalled to JSON
// before sealing so any field value round-trips.
type Encryptor interface {
	EncryptJSON(value any) (string, error)
	DecryptJSON(payload string, out any) error
}

// AESGCM seals JSON payloads with AES-256-GCM. The key is derived from the
// configured secret via SHA-256.
type AESGCM struct {
	aead cipher.AEAD
}

// NewAESGCM derives an AEAD from the secret.
func NewAESGCM(secret string) (*AESGCM, error) {
	if secret == "" {
		return nil, errors.New("crypto: encryption key is empty")
	}
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return &AESGCM{aead: aead}, nil
}

// EncryptJSON marshals and seals a value, returning a base64 payload.
func (e *AESGCM) EncryptJSON(value any) (string, error) {
	plain, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("marshal sensitive value: %w", err)
	}

	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := e.aead.Seal(nonce, nonce, plain, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptJSON opens a payload produced by EncryptJSON and unmarshals it.
func (e *AESGCM) DecryptJSON(payload string, out any) error {
	sealed, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return fmt.Errorf("decode sensitive payload: %w", err)
	}
	if len(sealed) < e.aead.NonceSize() {
		return ErrCiphertextTooShort
	}

	nonce, ciphertext := sealed[:e.aead.NonceSize()], sealed[e.aead.NonceSize():]
	plain, err := e.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return fmt.Errorf("open sensitive payload: %w", err)
	}
	return json.Unmarshal(plain, out)
}

// Plaintext is a pass-through used when no encryption key is configured.
// Values are stored as bare JSON.
type Plaintext struct{}

// EncryptJSON marshals without sealing.
func (Plaintext) EncryptJSON(value any) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("marshal sensitive value: %w", err)
	}
	return string(data), nil
}

// DecryptJSON unmarshals a bare JSON payload.
func (Plaintext) DecryptJSON(payload string, out any) error {
	return json.Unmarshal([]byte(payload), out)
}

var (
	_ Encryptor = (*AESGCM)(nil)
	_ Encryptor = Plaintext{}
)
