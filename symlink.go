package fscrypt

import (
	"encoding/binary"
	"fmt"
	"math"
)

// SymlinkData is the on-disk content of an encrypted symlink.
//
// Byte layout:
//
//	[0, 2)        Len, little-endian uint16: exact length of Ciphertext
//	[2, 2+Len)    Ciphertext: padded, encrypted target
//
// No trailing data is permitted.
type SymlinkData struct {
	Len        uint16
	Ciphertext []byte
}

// symlinkHeaderSize is the size of the length prefix
const symlinkHeaderSize = 2

// MarshalBinary encodes the record. Len must match the ciphertext length.
func (s *SymlinkData) MarshalBinary() ([]byte, error) {
	if int(s.Len) != len(s.Ciphertext) {
		return nil, fmt.Errorf("symlink length prefix %d does not match ciphertext length %d", s.Len, len(s.Ciphertext))
	}
	buf := make([]byte, symlinkHeaderSize+len(s.Ciphertext))
	binary.LittleEndian.PutUint16(buf[0:2], s.Len)
	copy(buf[symlinkHeaderSize:], s.Ciphertext)
	return buf, nil
}

// UnmarshalBinary decodes and structurally validates a record. The
// ciphertext aliases data.
func (s *SymlinkData) UnmarshalBinary(data []byte) error {
	if len(data) < symlinkHeaderSize {
		return corruptSymlink("record of %d bytes is shorter than the length prefix", len(data))
	}
	n := binary.LittleEndian.Uint16(data[0:2])
	rest := data[symlinkHeaderSize:]
	if int(n) != len(rest) {
		return corruptSymlink("length prefix %d does not match %d remaining bytes", n, len(rest))
	}
	if n == 0 || n%BlockSize != 0 {
		return corruptSymlink("ciphertext length %d is not a positive multiple of %d", n, BlockSize)
	}
	s.Len = n
	s.Ciphertext = rest
	return nil
}

// SymlinkDiskSize returns the on-disk size of an encrypted target of
// targetLen plaintext bytes under ci's padding class
func SymlinkDiskSize(ci *CryptInfo, targetLen int) int {
	class := ci.PaddingClass()
	return symlinkHeaderSize + (targetLen/class+1)*class
}

// EncodeSymlink encrypts a symlink target into its on-disk record. The
// capacity checks happen before anything is encrypted.
func EncodeSymlink(ci *CryptInfo, target []byte) ([]byte, error) {
	if len(target) == 0 {
		return nil, NewValidationError("target", "", "symlink target cannot be empty")
	}

	size := SymlinkDiskSize(ci, len(target))
	ctLen := size - symlinkHeaderSize
	if ctLen > math.MaxUint16 {
		return nil, fmt.Errorf("%w: ciphertext of %d bytes exceeds the length prefix", ErrTargetTooLong, ctLen)
	}
	if size > ci.maxSymlinkLen {
		return nil, fmt.Errorf("%w: %d bytes on disk, capacity is %d", ErrTargetTooLong, size, ci.maxSymlinkLen)
	}

	ct := encryptPadded(ci.symlinks, target, ci.PaddingClass())
	rec := SymlinkData{Len: uint16(len(ct)), Ciphertext: ct}
	return rec.MarshalBinary()
}

// DecodeSymlink validates, decrypts and unpads an on-disk symlink record
func DecodeSymlink(ci *CryptInfo, raw []byte) ([]byte, error) {
	var rec SymlinkData
	if err := rec.UnmarshalBinary(raw); err != nil {
		return nil, err
	}
	if len(raw) > ci.maxSymlinkLen {
		return nil, corruptSymlink("record of %d bytes exceeds capacity %d", len(raw), ci.maxSymlinkLen)
	}

	target, ok := decryptPadded(ci.symlinks, rec.Ciphertext, ci.PaddingClass())
	if !ok {
		return nil, corruptSymlink("bad padding")
	}
	return target, nil
}
