package fscrypt

import (
	"errors"
	"strings"
	"testing"
)

// TestConfig_Validate tests the Config validation
func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
		errMsg  string
	}{
		{
			name:    "nil config",
			config:  nil,
			wantErr: true,
			errMsg:  "config cannot be nil",
		},
		{
			name:    "nil key provider",
			config:  &Config{PolicyStore: NewMemoryPolicyStore()},
			wantErr: true,
			errMsg:  "key provider cannot be nil",
		},
		{
			name:    "nil policy store",
			config:  &Config{KeyProvider: NewKeyring(nil)},
			wantErr: true,
			errMsg:  "policy store cannot be nil",
		},
		{
			name:    "valid minimal config",
			config:  &Config{KeyProvider: NewKeyring(nil), PolicyStore: NewMemoryPolicyStore()},
			wantErr: false,
		},
		{
			name:    "negative name length",
			config:  &Config{KeyProvider: NewKeyring(nil), PolicyStore: NewMemoryPolicyStore(), MaxNameLen: -1},
			wantErr: true,
			errMsg:  "size cannot be negative",
		},
		{
			name:    "name length too small",
			config:  &Config{KeyProvider: NewKeyring(nil), PolicyStore: NewMemoryPolicyStore(), MaxNameLen: 16},
			wantErr: true,
			errMsg:  "size too small",
		},
		{
			name:    "symlink length beyond prefix range",
			config:  &Config{KeyProvider: NewKeyring(nil), PolicyStore: NewMemoryPolicyStore(), MaxSymlinkLen: 70000},
			wantErr: true,
			errMsg:  "size too large",
		},
		{
			name:    "custom sizes",
			config:  &Config{KeyProvider: NewKeyring(nil), PolicyStore: NewMemoryPolicyStore(), MaxNameLen: 1024, MaxSymlinkLen: 2 + 0xFFFF},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if err != nil && tt.errMsg != "" && !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Validate() error = %v, want error containing %q", err, tt.errMsg)
			}
		})
	}
}

func TestValidateSize(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		min     int
		max     int
		wantErr bool
	}{
		{"in range", 64, 32, 128, false},
		{"at min", 32, 32, 128, false},
		{"at max", 128, 32, 128, false},
		{"below min", 31, 32, 128, true},
		{"above max", 129, 32, 128, true},
		{"negative", -5, 0, 0, true},
		{"no max", 1 << 20, 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSize(tt.size, "test_size", tt.min, tt.max)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSize() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !IsValidationError(err) {
				t.Errorf("ValidateSize() should return ValidationError, got %T", err)
			}
		})
	}
}

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name    string
		key     []byte
		wantErr bool
	}{
		{"nil", nil, true},
		{"short", make([]byte, 16), true},
		{"exact", make([]byte, 32), false},
		{"long", make([]byte, 33), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateKey(tt.key, 32)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateKey() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidKey) {
				t.Errorf("ValidateKey() error should wrap ErrInvalidKey, got %v", err)
			}
		})
	}
}

func TestValidateMasterKey(t *testing.T) {
	for _, size := range []int{16, 32, 64} {
		if err := ValidateMasterKey(make([]byte, size)); err != nil {
			t.Errorf("ValidateMasterKey(%d bytes) = %v", size, err)
		}
	}
	for _, size := range []int{0, 15, 65} {
		if err := ValidateMasterKey(make([]byte, size)); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("ValidateMasterKey(%d bytes) = %v, want ErrInvalidKey", size, err)
		}
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		maxLen  int
		wantErr error
		isValid bool
	}{
		{"ok", "file.txt", 239, nil, false},
		{"at limit", strings.Repeat("a", 10), 10, nil, false},
		{"empty", "", 239, ErrEmptyName, false},
		{"too long", strings.Repeat("a", 11), 10, ErrNameTooLong, false},
		{"slash", "a/b", 239, nil, true},
		{"nul", "a\x00", 239, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName([]byte(tt.input), tt.maxLen)
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("ValidateName() = %v, want %v", err, tt.wantErr)
				}
			case tt.isValid:
				if !IsValidationError(err) {
					t.Errorf("ValidateName() = %v, want ValidationError", err)
				}
			default:
				if err != nil {
					t.Errorf("ValidateName() unexpected error: %v", err)
				}
			}
		})
	}
}
