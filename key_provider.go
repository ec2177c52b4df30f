package fscrypt

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

// KeyProvider supplies master secrets by identifier. A provider that does
// not hold the key returns an error wrapping ErrKeyNotFound; any other error
// is a provider failure. Lookups may block. Callers copy the returned key
// and never modify the provider's slice.
type KeyProvider interface {
	LookupKey(ctx context.Context, id KeyIdentifier) ([]byte, error)
}

// KeyProviderFunc adapts a function to a KeyProvider
type KeyProviderFunc func(ctx context.Context, id KeyIdentifier) ([]byte, error)

func (f KeyProviderFunc) LookupKey(ctx context.Context, id KeyIdentifier) ([]byte, error) {
	return f(ctx, id)
}

// Keyring is an in-memory, concurrency-safe set of master keys. Keys can be
// added and removed at any time; inodes whose key was missing pick it up on
// their next EnsureReady.
type Keyring struct {
	mu     sync.RWMutex
	keys   map[KeyIdentifier][]byte
	logger logrus.FieldLogger
}

// NewKeyring creates an empty keyring. A nil logger discards.
func NewKeyring(logger logrus.FieldLogger) *Keyring {
	if logger == nil {
		logger = discardLogger()
	}
	return &Keyring{
		keys:   make(map[KeyIdentifier][]byte),
		logger: logger,
	}
}

// AddKey stores a copy of a master key under id
func (k *Keyring) AddKey(id KeyIdentifier, key []byte) error {
	if err := ValidateMasterKey(key); err != nil {
		return err
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if old, ok := k.keys[id]; ok {
		wipe(old)
	}
	k.keys[id] = append([]byte(nil), key...)

	k.logger.WithField("key", id.String()).Info("master key added")
	return nil
}

// RemoveKey wipes and forgets a master key. Inodes that already derived
// their subkeys keep them until evicted.
func (k *Keyring) RemoveKey(id KeyIdentifier) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	key, ok := k.keys[id]
	if !ok {
		return false
	}
	wipe(key)
	delete(k.keys, id)

	k.logger.WithField("key", id.String()).Info("master key removed")
	return true
}

// LookupKey returns a copy of the key so callers may wipe it
func (k *Keyring) LookupKey(ctx context.Context, id KeyIdentifier) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	key, ok := k.keys[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, id)
	}
	return append([]byte(nil), key...), nil
}

// HashFunc represents hash function types for PBKDF2
type HashFunc uint8

const (
	// SHA256 hash function
	SHA256 HashFunc = iota
	// SHA512 hash function
	SHA512
)

// PBKDF2Params contains parameters for PBKDF2 key derivation
type PBKDF2Params struct {
	Iterations int      // Number of iterations (minimum 100,000 recommended)
	HashFunc   HashFunc // Hash function to use
	KeySize    int      // Derived key size in bytes (default 32)
}

// Argon2idParams contains parameters for Argon2id key derivation
type Argon2idParams struct {
	Memory      uint32 // Memory in KiB (e.g., 64*1024 for 64MB)
	Iterations  uint32 // Number of iterations (time parameter)
	Parallelism uint8  // Degree of parallelism
	KeySize     int    // Derived key size in bytes (default 32)
}

// PasswordKeyProvider derives every master key from one password, salted
// with the key identifier
type PasswordKeyProvider struct {
	password     []byte
	useArgon2id  bool
	pbkdf2Params PBKDF2Params
	argon2Params Argon2idParams
}

// NewPasswordKeyProviderPBKDF2 creates a new password-based key provider using PBKDF2
func NewPasswordKeyProviderPBKDF2(password []byte, params PBKDF2Params) *PasswordKeyProvider {
	if params.Iterations == 0 {
		params.Iterations = 100000
	}
	if params.KeySize == 0 {
		params.KeySize = 32
	}

	return &PasswordKeyProvider{
		password:     password,
		useArgon2id:  false,
		pbkdf2Params: params,
	}
}

// NewPasswordKeyProvider creates a new password-based key provider using Argon2id (recommended)
func NewPasswordKeyProvider(password []byte, params Argon2idParams) *PasswordKeyProvider {
	if params.Memory == 0 {
		params.Memory = 64 * 1024 // 64 MB
	}
	if params.Iterations == 0 {
		params.Iterations = 3
	}
	if params.Parallelism == 0 {
		params.Parallelism = 4
	}
	if params.KeySize == 0 {
		params.KeySize = 32
	}

	return &PasswordKeyProvider{
		password:     password,
		useArgon2id:  true,
		argon2Params: params,
	}
}

// LookupKey derives the master key for id from the password
func (p *PasswordKeyProvider) LookupKey(ctx context.Context, id KeyIdentifier) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(p.password) == 0 {
		return nil, errors.New("password cannot be empty")
	}

	if p.useArgon2id {
		return argon2.IDKey(
			p.password,
			id[:],
			p.argon2Params.Iterations,
			p.argon2Params.Memory,
			p.argon2Params.Parallelism,
			uint32(p.argon2Params.KeySize),
		), nil
	}

	var hashFunc func() hash.Hash
	switch p.pbkdf2Params.HashFunc {
	case SHA256:
		hashFunc = sha256.New
	case SHA512:
		hashFunc = sha512.New
	default:
		return nil, fmt.Errorf("unsupported hash function: %v", p.pbkdf2Params.HashFunc)
	}

	return pbkdf2.Key(p.password, id[:], p.pbkdf2Params.Iterations, p.pbkdf2Params.KeySize, hashFunc), nil
}

// EnvKeyProvider reads hex-encoded master keys from environment variables
// named prefix + upper-case hex identifier
type EnvKeyProvider struct {
	prefix string
}

// DefaultEnvKeyPrefix is the variable prefix used when none is given
const DefaultEnvKeyPrefix = "FSCRYPT_KEY_"

// NewEnvKeyProvider creates a new environment variable key provider
func NewEnvKeyProvider(prefix string) *EnvKeyProvider {
	if prefix == "" {
		prefix = DefaultEnvKeyPrefix
	}
	return &EnvKeyProvider{prefix: prefix}
}

// VarName returns the environment variable holding the key for id
func (e *EnvKeyProvider) VarName(id KeyIdentifier) string {
	return e.prefix + strings.ToUpper(id.String())
}

// LookupKey returns the key from the environment variable; an unset
// variable means the key is absent
func (e *EnvKeyProvider) LookupKey(ctx context.Context, id KeyIdentifier) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := e.VarName(id)
	keyHex, ok := os.LookupEnv(name)
	if !ok || keyHex == "" {
		return nil, fmt.Errorf("%w: environment variable %s not set", ErrKeyNotFound, name)
	}

	key, err := hex.DecodeString(strings.TrimSpace(keyHex))
	if err != nil {
		return nil, fmt.Errorf("environment variable %s is not valid hex: %w", name, err)
	}
	if err := ValidateMasterKey(key); err != nil {
		return nil, fmt.Errorf("environment variable %s: %w", name, err)
	}
	return key, nil
}
