package fscrypt

import (
	"errors"
	"fmt"
)

// Sentinel errors. Structured errors below unwrap to one of these so callers
// can branch with errors.Is.
var (
	// ErrMissingKey means the inode is encrypted but its master key is not
	// currently available. It is recoverable: retry once the key is supplied.
	ErrMissingKey = errors.New("required key not available")

	// ErrKeyNotFound is returned by a KeyProvider that does not hold the key
	ErrKeyNotFound = errors.New("key not found")

	ErrKeyDerivation   = errors.New("key derivation failed")
	ErrInvalidPolicy   = errors.New("invalid encryption policy")
	ErrUnsupportedMode = errors.New("unsupported encryption mode")
	ErrPolicyExists    = errors.New("inode already has a different encryption policy")

	ErrCorruptName    = errors.New("corrupt encrypted filename")
	ErrCorruptSymlink = errors.New("corrupt encrypted symlink")
	ErrNameTooLong    = errors.New("filename too long")
	ErrEmptyName      = errors.New("filename cannot be empty")
	ErrTargetTooLong  = errors.New("symlink target too long")

	ErrInvalidKey     = errors.New("invalid encryption key")
	ErrAuthFailed     = errors.New("authentication failed - data may be corrupted or tampered")
	ErrNilConfig      = errors.New("config cannot be nil")
	ErrNilKeyProvider = errors.New("key provider cannot be nil")
	ErrNilPolicyStore = errors.New("policy store cannot be nil")
	ErrNilInode       = errors.New("inode cannot be nil")
)

// ValidationError represents a configuration or parameter validation error
type ValidationError struct {
	Field   string // The field or parameter that failed validation
	Value   any    // The invalid value
	Message string // Human-readable error message
	Err     error  // Underlying error, if any
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// PolicyError represents a malformed or unsupported policy. It is terminal
// for the inode it was read from.
type PolicyError struct {
	Ino     uint64 // Inode number, if known
	Message string // Human-readable error message
	Err     error  // Underlying error
}

func (e *PolicyError) Error() string {
	if e.Ino != 0 {
		return fmt.Sprintf("policy error: inode %d: %s", e.Ino, e.Message)
	}
	return fmt.Sprintf("policy error: %s", e.Message)
}

func (e *PolicyError) Unwrap() error {
	if e.Err == nil {
		return ErrInvalidPolicy
	}
	return e.Err
}

// Is makes every PolicyError match ErrInvalidPolicy
func (e *PolicyError) Is(target error) bool {
	return target == ErrInvalidPolicy
}

// KeyDerivationError is a contract violation in the inputs to DeriveKey
type KeyDerivationError struct {
	Purpose Purpose
	Message string
}

func (e *KeyDerivationError) Error() string {
	return fmt.Sprintf("key derivation error: %s: %s", e.Purpose, e.Message)
}

func (e *KeyDerivationError) Unwrap() error {
	return ErrKeyDerivation
}

// CorruptionError represents on-disk data that fails structural validation
type CorruptionError struct {
	Kind    string // "name" or "symlink"
	Message string // Human-readable error message
	Err     error  // ErrCorruptName or ErrCorruptSymlink
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("corruption error: %s: %s", e.Kind, e.Message)
}

func (e *CorruptionError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a new validation error
func NewValidationError(field string, value any, message string) error {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// NewPolicyError creates a new policy error wrapping err
func NewPolicyError(ino uint64, message string, err error) error {
	return &PolicyError{
		Ino:     ino,
		Message: message,
		Err:     err,
	}
}

func corruptName(format string, args ...any) error {
	return &CorruptionError{
		Kind:    "name",
		Message: fmt.Sprintf(format, args...),
		Err:     ErrCorruptName,
	}
}

func corruptSymlink(format string, args ...any) error {
	return &CorruptionError{
		Kind:    "symlink",
		Message: fmt.Sprintf(format, args...),
		Err:     ErrCorruptSymlink,
	}
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsPolicyError checks if an error is a policy error
func IsPolicyError(err error) bool {
	var pe *PolicyError
	return errors.As(err, &pe)
}

// IsCorruptionError checks if an error is a corruption error
func IsCorruptionError(err error) bool {
	var ce *CorruptionError
	return errors.As(err, &ce)
}

// IsMissingKey reports whether err means "no key, try again later"
func IsMissingKey(err error) bool {
	return errors.Is(err, ErrMissingKey)
}
