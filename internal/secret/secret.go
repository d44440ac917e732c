// Package secret encrypts credentials with a key held by the OS credential store.
package secret

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	defaultService = "towerlink"
	defaultUser    = "safe-storage"
	masterKeySize  = chacha20poly1305.KeySize
)

var (
	// ErrUnavailable indicates the host has no usable credential store.
	ErrUnavailable = errors.New("platform secret storage is unavailable")
	// ErrMalformed indicates ciphertext that was not produced by Encrypt.
	ErrMalformed = errors.New("malformed encrypted secret")
)

// Box is the encrypt/decrypt capability consumed by the config layer.
type Box interface {
	// Available returns nil when Encrypt and Decrypt can be used.
	Available() error
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// Keyring seals secrets with XChaCha20-Poly1305 under a master key kept in the OS keychain.
type Keyring struct {
	service string
	user    string

	mu  sync.Mutex
	key []byte
}

// Option customizes a Keyring.
type Option func(*Keyring)

// WithService overrides the keychain service/user pair that holds the master key.
func WithService(service, user string) Option {
	return func(k *Keyring) {
		k.service = service
		k.user = user
	}
}

// NewKeyring constructs a keychain-backed Box.
func NewKeyring(opts ...Option) *Keyring {
	k := &Keyring{service: defaultService, user: defaultUser}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Available probes the keychain without creating a master key.
func (k *Keyring) Available() error {
	_, err := k.masterKey(false)
	return err
}

// Encrypt seals plaintext, creating the master key on first use.
func (k *Keyring) Encrypt(plaintext []byte) ([]byte, error) {
	key, err := k.masterKey(true)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a payload produced by Encrypt.
func (k *Keyring) Decrypt(ciphertext []byte) ([]byte, error) {
	key, err := k.masterKey(false)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, fmt.Errorf("%w: no master key in keychain", ErrMalformed)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	if len(ciphertext) < aead.NonceSize()+aead.Overhead() {
		return nil, fmt.Errorf("%w: payload too short", ErrMalformed)
	}

	nonce, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return plaintext, nil
}

// masterKey loads the cached or stored key. A missing key is only created when create is set;
// otherwise it is reported as (nil, nil).
func (k *Keyring) masterKey(create bool) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.key != nil {
		return k.key, nil
	}

	encoded, err := keyring.Get(k.service, k.user)
	switch {
	case err == nil:
		key, decodeErr := base64.StdEncoding.DecodeString(encoded)
		if decodeErr != nil || len(key) != masterKeySize {
			return nil, fmt.Errorf("%w: keychain entry %s/%s is not a valid master key", ErrMalformed, k.service, k.user)
		}
		k.key = key
		return key, nil
	case errors.Is(err, keyring.ErrNotFound):
		if !create {
			return nil, nil
		}
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	key := make([]byte, masterKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate master key: %w", err)
	}
	if err := keyring.Set(k.service, k.user, base64.StdEncoding.EncodeToString(key)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	k.key = key
	return key, nil
}
