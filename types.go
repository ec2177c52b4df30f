package fscrypt

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	// BlockSize is the cipher block size every encrypted name and symlink
	// target is aligned to
	BlockSize = 16

	// NonceSize is the size of the per-file nonce stored in a policy
	NonceSize = 16

	// KeyIdentifierSize is the size of a master key identifier
	KeyIdentifierSize = 16

	// MinMasterKeySize and MaxMasterKeySize bound the raw master secret
	MinMasterKeySize = 16
	MaxMasterKeySize = 64

	// DefaultMaxNameLen is the on-disk name field size of most filesystems
	DefaultMaxNameLen = 255

	// DefaultMaxSymlinkLen is the symlink content capacity (one page)
	DefaultMaxSymlinkLen = 4096
)

// ContentsMode selects the cipher used for file contents
type ContentsMode uint8

const (
	// ContentsInvalid is the zero value and never valid in a policy
	ContentsInvalid ContentsMode = iota
	// ContentsAES256GCM uses AES-256 with Galois/Counter Mode
	ContentsAES256GCM
	// ContentsChaCha20Poly1305 uses ChaCha20 stream cipher with Poly1305 MAC
	ContentsChaCha20Poly1305
)

// String returns the string representation of the contents mode
func (m ContentsMode) String() string {
	switch m {
	case ContentsAES256GCM:
		return "aes-256-gcm"
	case ContentsChaCha20Poly1305:
		return "chacha20-poly1305"
	default:
		return "unknown"
	}
}

// Valid reports whether the mode is a known contents mode
func (m ContentsMode) Valid() bool {
	return m == ContentsAES256GCM || m == ContentsChaCha20Poly1305
}

// FilenamesMode selects the cipher used for filenames and symlink targets
type FilenamesMode uint8

const (
	// FilenamesInvalid is the zero value and never valid in a policy
	FilenamesInvalid FilenamesMode = iota
	// FilenamesAES256CBC encrypts the padded name with AES-256-CBC and a zero IV
	FilenamesAES256CBC
)

// String returns the string representation of the filenames mode
func (m FilenamesMode) String() string {
	switch m {
	case FilenamesAES256CBC:
		return "aes-256-cbc"
	default:
		return "unknown"
	}
}

// Valid reports whether the mode is a known filenames mode
func (m FilenamesMode) Valid() bool {
	return m == FilenamesAES256CBC
}

// PolicyFlags holds the optional behaviour bits of a policy
type PolicyFlags uint8

const (
	// PolicyFlagPad16 pads names to 16 bytes (the default padding class)
	PolicyFlagPad16 PolicyFlags = 0
	// PolicyFlagPad32 pads names to 32 bytes, hiding more of the name length
	PolicyFlagPad32 PolicyFlags = 1 << 0
	// PolicyFlagSymlinkContentsKey encrypts symlink targets with the contents
	// key instead of the filenames key
	PolicyFlagSymlinkContentsKey PolicyFlags = 1 << 1

	policyFlagsMask = PolicyFlagPad32 | PolicyFlagSymlinkContentsKey
)

// PaddingClass returns the multiple encrypted names are padded to
func (f PolicyFlags) PaddingClass() int {
	if f&PolicyFlagPad32 != 0 {
		return 32
	}
	return 16
}

// KeyIdentifier names a master key held by a KeyProvider
type KeyIdentifier [KeyIdentifierSize]byte

// NewKeyIdentifier returns a fresh random key identifier
func NewKeyIdentifier() KeyIdentifier {
	return KeyIdentifier(uuid.New())
}

// ParseKeyIdentifier parses the hex form produced by String
func ParseKeyIdentifier(s string) (KeyIdentifier, error) {
	var id KeyIdentifier
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("invalid key identifier: %w", err)
	}
	if len(b) != KeyIdentifierSize {
		return id, fmt.Errorf("key identifier must be %d bytes, got %d", KeyIdentifierSize, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// String returns the identifier as lowercase hex
func (id KeyIdentifier) String() string {
	return hex.EncodeToString(id[:])
}

// Config contains configuration for the encryption subsystem
type Config struct {
	// KeyProvider supplies master keys
	KeyProvider KeyProvider

	// PolicyStore persists per-inode encryption policies
	PolicyStore PolicyStore

	// MaxNameLen is the size of the on-disk name field (default 255)
	MaxNameLen int

	// MaxSymlinkLen is the symlink content capacity, length prefix included
	// (default 4096)
	MaxSymlinkLen int

	// Logger receives setup events; nil discards
	Logger logrus.FieldLogger
}

// Validate checks if the configuration is valid and fills in defaults
func (c *Config) Validate() error {
	if c == nil {
		return ErrNilConfig
	}
	if c.KeyProvider == nil {
		return ErrNilKeyProvider
	}
	if c.PolicyStore == nil {
		return ErrNilPolicyStore
	}
	if c.MaxNameLen == 0 {
		c.MaxNameLen = DefaultMaxNameLen
	}
	if c.MaxSymlinkLen == 0 {
		c.MaxSymlinkLen = DefaultMaxSymlinkLen
	}
	if err := ValidateSize(c.MaxNameLen, "max_name_len", BlockSize*2, 4096); err != nil {
		return err
	}
	if err := ValidateSize(c.MaxSymlinkLen, "max_symlink_len", 2+BlockSize, 2+0xFFFF); err != nil {
		return err
	}
	if c.Logger == nil {
		c.Logger = discardLogger()
	}
	return nil
}
