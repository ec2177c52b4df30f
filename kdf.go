package fscrypt

import (
	"crypto/sha512"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Purpose separates the subkeys derived from one master key, so that one
// leaked subkey reveals nothing about the others.
type Purpose uint8

const (
	// PurposeContents derives the file contents key
	PurposeContents Purpose = iota + 1
	// PurposeFilenames derives the filename and symlink target key
	PurposeFilenames
	// PurposeDirHash derives the directory index hash key from a filenames key
	PurposeDirHash
)

// String returns the HKDF info label of the purpose
func (p Purpose) String() string {
	switch p {
	case PurposeContents:
		return "contents"
	case PurposeFilenames:
		return "filenames"
	case PurposeDirHash:
		return "dirhash"
	default:
		return "unknown"
	}
}

// SubkeySize is the size of every derived subkey (AES-256, ChaCha20, BLAKE2b)
const SubkeySize = 32

const kdfLabel = "fscrypt\x00"

// DeriveKey derives a purpose-specific subkey from a master secret and a
// per-file nonce using HKDF-SHA512. The nonce is the HKDF salt and the
// purpose label is the info string, so the output is deterministic for a
// given (master, nonce, purpose).
//
// A nil nonce is only accepted for PurposeDirHash, which derives from an
// already per-file filenames key.
func DeriveKey(master, nonce []byte, purpose Purpose) ([]byte, error) {
	switch purpose {
	case PurposeContents, PurposeFilenames:
		if len(master) < MinMasterKeySize || len(master) > MaxMasterKeySize {
			return nil, &KeyDerivationError{
				Purpose: purpose,
				Message: fmt.Sprintf("master key must be %d to %d bytes, got %d", MinMasterKeySize, MaxMasterKeySize, len(master)),
			}
		}
		if len(nonce) != NonceSize {
			return nil, &KeyDerivationError{
				Purpose: purpose,
				Message: fmt.Sprintf("nonce must be %d bytes, got %d", NonceSize, len(nonce)),
			}
		}
	case PurposeDirHash:
		if len(master) != SubkeySize {
			return nil, &KeyDerivationError{
				Purpose: purpose,
				Message: fmt.Sprintf("filenames key must be %d bytes, got %d", SubkeySize, len(master)),
			}
		}
	default:
		return nil, &KeyDerivationError{Purpose: purpose, Message: "unknown purpose"}
	}

	info := make([]byte, 0, len(kdfLabel)+len(purpose.String()))
	info = append(info, kdfLabel...)
	info = append(info, purpose.String()...)

	key := make([]byte, SubkeySize)
	if _, err := io.ReadFull(hkdf.New(sha512.New, master, nonce, info), key); err != nil {
		return nil, &KeyDerivationError{Purpose: purpose, Message: err.Error()}
	}
	return key, nil
}

// wipe zeroes key material in place
func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
