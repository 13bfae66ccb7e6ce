package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeySize is the size of the AES-256 key in bytes.
	KeySize = 32
	// NonceSize is the size of the GCM nonce.
	NonceSize = 12
	// PBKDF2Iterations is the number of iterations for key derivation.
	PBKDF2Iterations = 100000
)

var (
	ErrInvalidKey        = errors.New("invalid encryption key: must be at least 32 characters")
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	ErrDecryptionFailed  = errors.New("decryption failed")
)

// Encryptor seals secret values at rest. Every secret name gets its own
// derived key, so a ciphertext cannot be replayed under another name.
type Encryptor struct {
	masterKey []byte

	mu   sync.Mutex
	keys map[string][]byte
}

// NewEncryptor creates a new Encryptor with the given master secret.
// The secret should be at least 32 characters.
func NewEncryptor(secret string) (*Encryptor, error) {
	if len(secret) < 32 {
		return nil, ErrInvalidKey
	}
	hash := sha256.Sum256([]byte(secret))
	return &Encryptor{masterKey: hash[:], keys: make(map[string][]byte)}, nil
}

// DeriveKey derives the key for a secret name using PBKDF2.
func (e *Encryptor) DeriveKey(name string) []byte {
	e.mu.Lock()
	defer e.mu.Unlock()

	if key, ok := e.keys[name]; ok {
		return key
	}
	key := pbkdf2.Key(e.masterKey, []byte("secret:"+name), PBKDF2Iterations, KeySize, sha256.New)
	e.keys[name] = key
	return key
}

func (e *Encryptor) gcm(name string) (cipher.AEAD, error) {
	block, err := aes.NewCipher(e.DeriveKey(name))
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}

// Encrypt encrypts plaintext using AES-256-GCM with the key for name.
// Returns the ciphertext and the nonce used.
func (e *Encryptor) Encrypt(plaintext, name string) (ciphertext, nonce []byte, err error) {
	gcm, err := e.gcm(name)
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("generating nonce: %w", err)
	}

	// The name is bound as additional data.
	ciphertext = gcm.Seal(nil, nonce, []byte(plaintext), []byte(name))
	return ciphertext, nonce, nil
}

// Decrypt decrypts ciphertext sealed by Encrypt under the same name.
func (e *Encryptor) Decrypt(ciphertext, nonce []byte, name string) (string, error) {
	if len(ciphertext) == 0 || len(nonce) == 0 {
		return "", ErrInvalidCiphertext
	}

	gcm, err := e.gcm(name)
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", ErrInvalidCiphertext
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, []byte(name))
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}
