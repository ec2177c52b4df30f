package fscrypt

import (
	"fmt"
)

// Input validation helpers

// ValidateSize checks if a size parameter is valid
func ValidateSize(size int, name string, minSize, maxSize int) error {
	if size < 0 {
		return &ValidationError{
			Field:   name,
			Value:   size,
			Message: "size cannot be negative",
		}
	}
	if minSize >= 0 && size < minSize {
		return &ValidationError{
			Field:   name,
			Value:   size,
			Message: fmt.Sprintf("size too small: got %d, minimum is %d", size, minSize),
		}
	}
	if maxSize > 0 && size > maxSize {
		return &ValidationError{
			Field:   name,
			Value:   size,
			Message: fmt.Sprintf("size too large: got %d, maximum is %d", size, maxSize),
		}
	}
	return nil
}

// ValidateKey checks if a key has the correct size
func ValidateKey(key []byte, expectedSize int) error {
	if key == nil {
		return &ValidationError{
			Field:   "key",
			Message: "key cannot be nil",
			Err:     ErrInvalidKey,
		}
	}

	if len(key) != expectedSize {
		return &ValidationError{
			Field:   "key",
			Value:   len(key),
			Message: fmt.Sprintf("invalid key size: got %d bytes, expected %d bytes", len(key), expectedSize),
			Err:     ErrInvalidKey,
		}
	}

	return nil
}

// ValidateMasterKey checks that a master secret from a KeyProvider is usable
func ValidateMasterKey(key []byte) error {
	if len(key) < MinMasterKeySize || len(key) > MaxMasterKeySize {
		return &ValidationError{
			Field:   "master_key",
			Value:   len(key),
			Message: fmt.Sprintf("master key must be %d to %d bytes, got %d", MinMasterKeySize, MaxMasterKeySize, len(key)),
			Err:     ErrInvalidKey,
		}
	}
	return nil
}

// ValidateName checks a plaintext name before it is padded and encrypted
func ValidateName(name []byte, maxLen int) error {
	if len(name) == 0 {
		return ErrEmptyName
	}
	if len(name) > maxLen {
		return fmt.Errorf("%w: %d bytes, maximum is %d", ErrNameTooLong, len(name), maxLen)
	}
	for _, c := range name {
		if c == 0 || c == '/' {
			return &ValidationError{
				Field:   "name",
				Value:   string(name),
				Message: "name cannot contain NUL or '/'",
			}
		}
	}
	return nil
}
