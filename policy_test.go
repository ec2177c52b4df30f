package fscrypt

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestPolicy_MarshalUnmarshal(t *testing.T) {
	id := NewKeyIdentifier()
	p, err := NewPolicy(id, ContentsChaCha20Poly1305, FilenamesAES256CBC, PolicyFlagPad32|PolicyFlagSymlinkContentsKey)
	if err != nil {
		t.Fatalf("NewPolicy failed: %v", err)
	}

	raw, err := p.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary failed: %v", err)
	}
	if len(raw) != PolicySize {
		t.Fatalf("record is %d bytes, want %d", len(raw), PolicySize)
	}
	if magic := binary.LittleEndian.Uint32(raw[0:4]); magic != PolicyMagic {
		t.Errorf("magic = %#x, want %#x", magic, PolicyMagic)
	}
	if !bytes.Equal(raw[8:24], id[:]) {
		t.Error("key identifier not at offset 8")
	}
	if !bytes.Equal(raw[24:40], p.Nonce[:]) {
		t.Error("nonce not at offset 24")
	}

	var got Policy
	if err := got.UnmarshalBinary(raw); err != nil {
		t.Fatalf("UnmarshalBinary failed: %v", err)
	}
	if !got.Equal(p) {
		t.Errorf("round trip = %+v, want %+v", got, *p)
	}
}

func TestPolicy_UnmarshalErrors(t *testing.T) {
	p, _ := NewPolicy(NewKeyIdentifier(), ContentsAES256GCM, FilenamesAES256CBC, PolicyFlagPad16)
	good, _ := p.MarshalBinary()

	mutate := func(off int, b byte) []byte {
		raw := append([]byte(nil), good...)
		raw[off] = b
		return raw
	}

	tests := []struct {
		name    string
		raw     []byte
		wantErr error
	}{
		{"empty", nil, ErrInvalidPolicy},
		{"truncated", good[:20], ErrInvalidPolicy},
		{"trailing byte", append(append([]byte(nil), good...), 0), ErrInvalidPolicy},
		{"bad magic", mutate(0, 'X'), ErrInvalidPolicy},
		{"bad version", mutate(4, 2), ErrInvalidPolicy},
		{"bad contents mode", mutate(5, 9), ErrUnsupportedMode},
		{"bad filenames mode", mutate(6, 0), ErrUnsupportedMode},
		{"unknown flag", mutate(7, 0x80), ErrInvalidPolicy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Policy
			err := got.UnmarshalBinary(tt.raw)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("UnmarshalBinary = %v, want %v", err, tt.wantErr)
			}
			if !IsPolicyError(err) {
				t.Errorf("UnmarshalBinary error = %T, want PolicyError", err)
			}
		})
	}
}

func TestPolicy_Inherit(t *testing.T) {
	p, _ := NewPolicy(NewKeyIdentifier(), ContentsAES256GCM, FilenamesAES256CBC, PolicyFlagPad32)

	child, err := p.Inherit()
	if err != nil {
		t.Fatalf("Inherit failed: %v", err)
	}
	if child.KeyID != p.KeyID || child.ContentsMode != p.ContentsMode ||
		child.FilenamesMode != p.FilenamesMode || child.Flags != p.Flags {
		t.Errorf("Inherit changed settings: %+v vs %+v", child, p)
	}
	if child.Nonce == p.Nonce {
		t.Error("Inherit reused the nonce")
	}
	if child.Equal(p) {
		t.Error("Equal should compare nonces")
	}
}

func TestNewPolicy_Invalid(t *testing.T) {
	if _, err := NewPolicy(NewKeyIdentifier(), ContentsInvalid, FilenamesAES256CBC, 0); !errors.Is(err, ErrUnsupportedMode) {
		t.Errorf("NewPolicy(invalid contents) = %v, want ErrUnsupportedMode", err)
	}
	if _, err := NewPolicy(NewKeyIdentifier(), ContentsAES256GCM, FilenamesAES256CBC, PolicyFlags(0x40)); !errors.Is(err, ErrInvalidPolicy) {
		t.Errorf("NewPolicy(unknown flag) = %v, want ErrInvalidPolicy", err)
	}
}

func TestPolicyFlags_PaddingClass(t *testing.T) {
	if got := PolicyFlagPad16.PaddingClass(); got != 16 {
		t.Errorf("Pad16 class = %d, want 16", got)
	}
	if got := (PolicyFlagPad32 | PolicyFlagSymlinkContentsKey).PaddingClass(); got != 32 {
		t.Errorf("Pad32 class = %d, want 32", got)
	}
}

func TestKeyIdentifier(t *testing.T) {
	id := NewKeyIdentifier()
	if id == NewKeyIdentifier() {
		t.Error("NewKeyIdentifier returned the same identifier twice")
	}

	parsed, err := ParseKeyIdentifier(id.String())
	if err != nil {
		t.Fatalf("ParseKeyIdentifier failed: %v", err)
	}
	if parsed != id {
		t.Errorf("ParseKeyIdentifier = %s, want %s", parsed, id)
	}

	for _, bad := range []string{"", "zz", "0011"} {
		if _, err := ParseKeyIdentifier(bad); err == nil {
			t.Errorf("ParseKeyIdentifier(%q) should fail", bad)
		}
	}
}
