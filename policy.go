package fscrypt

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// PolicyMagic identifies a policy record (ASCII: "FSCP")
	PolicyMagic = uint32(0x46534350)

	// PolicyVersion is the only policy version this package reads or writes
	PolicyVersion = uint8(1)

	// PolicySize is the encoded size of a policy record:
	// 4 (magic) + 1 (version) + 1 (contents) + 1 (filenames) + 1 (flags)
	// + 16 (key identifier) + 16 (nonce)
	PolicySize = 8 + KeyIdentifierSize + NonceSize
)

// Policy is the encryption configuration persisted with every encrypted
// inode. It is immutable once committed; this package only reads it.
type Policy struct {
	Version       uint8
	ContentsMode  ContentsMode
	FilenamesMode FilenamesMode
	Flags         PolicyFlags
	KeyID         KeyIdentifier
	Nonce         [NonceSize]byte
}

// NewPolicy creates a version 1 policy with a fresh random nonce
func NewPolicy(keyID KeyIdentifier, contents ContentsMode, filenames FilenamesMode, flags PolicyFlags) (*Policy, error) {
	p := &Policy{
		Version:       PolicyVersion,
		ContentsMode:  contents,
		FilenamesMode: filenames,
		Flags:         flags,
		KeyID:         keyID,
	}
	if _, err := rand.Read(p.Nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Inherit returns the policy for a new child of an inode with this policy:
// same modes, flags and master key, fresh nonce.
func (p *Policy) Inherit() (*Policy, error) {
	return NewPolicy(p.KeyID, p.ContentsMode, p.FilenamesMode, p.Flags)
}

// Equal reports whether two policies are identical, nonce included
func (p *Policy) Equal(o *Policy) bool {
	if p == nil || o == nil {
		return p == o
	}
	return *p == *o
}

// Validate checks that every field holds a supported value
func (p *Policy) Validate() error {
	if p.Version != PolicyVersion {
		return NewPolicyError(0, fmt.Sprintf("unsupported policy version %d", p.Version), ErrInvalidPolicy)
	}
	if !p.ContentsMode.Valid() {
		return NewPolicyError(0, fmt.Sprintf("unsupported contents mode %d", p.ContentsMode), ErrUnsupportedMode)
	}
	if !p.FilenamesMode.Valid() {
		return NewPolicyError(0, fmt.Sprintf("unsupported filenames mode %d", p.FilenamesMode), ErrUnsupportedMode)
	}
	if p.Flags&^policyFlagsMask != 0 {
		return NewPolicyError(0, fmt.Sprintf("unknown policy flags %#x", uint8(p.Flags&^policyFlagsMask)), ErrInvalidPolicy)
	}
	return nil
}

// WriteTo writes the policy record to the given writer
func (p *Policy) WriteTo(w io.Writer) (int64, error) {
	buf := new(bytes.Buffer)

	if err := binary.Write(buf, binary.LittleEndian, PolicyMagic); err != nil {
		return 0, fmt.Errorf("failed to write magic bytes: %w", err)
	}
	buf.WriteByte(p.Version)
	buf.WriteByte(byte(p.ContentsMode))
	buf.WriteByte(byte(p.FilenamesMode))
	buf.WriteByte(byte(p.Flags))
	buf.Write(p.KeyID[:])
	buf.Write(p.Nonce[:])

	n, err := w.Write(buf.Bytes())
	return int64(n), err
}

// ReadFrom reads a policy record from the given reader. Structural problems
// are reported as a PolicyError.
func (p *Policy) ReadFrom(r io.Reader) (int64, error) {
	var raw [PolicySize]byte
	n, err := io.ReadFull(r, raw[:])
	if err != nil {
		return int64(n), NewPolicyError(0, fmt.Sprintf("truncated policy record (%d bytes)", n), ErrInvalidPolicy)
	}

	if magic := binary.LittleEndian.Uint32(raw[0:4]); magic != PolicyMagic {
		return int64(n), NewPolicyError(0, fmt.Sprintf("bad policy magic %#08x", magic), ErrInvalidPolicy)
	}
	p.Version = raw[4]
	p.ContentsMode = ContentsMode(raw[5])
	p.FilenamesMode = FilenamesMode(raw[6])
	p.Flags = PolicyFlags(raw[7])
	copy(p.KeyID[:], raw[8:8+KeyIdentifierSize])
	copy(p.Nonce[:], raw[8+KeyIdentifierSize:])

	return int64(n), p.Validate()
}

// MarshalBinary encodes the policy record
func (p *Policy) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)
	if _, err := p.WriteTo(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a policy record; trailing bytes are rejected
func (p *Policy) UnmarshalBinary(data []byte) error {
	if len(data) != PolicySize {
		return NewPolicyError(0, fmt.Sprintf("policy record must be %d bytes, got %d", PolicySize, len(data)), ErrInvalidPolicy)
	}
	_, err := p.ReadFrom(bytes.NewReader(data))
	return err
}
