package fscrypt

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	iofs "io/fs"

	"golang.org/x/crypto/blake2b"
)

// EncodedName is an encrypted directory entry name with the hash pair the
// directory index stores alongside it
type EncodedName struct {
	Ciphertext []byte
	Hash       uint32
	MinorHash  uint32
}

// EncodeName pads the plaintext name to the policy's padding class and
// encrypts it with the filenames key. The result is always a positive
// multiple of BlockSize and never longer than the on-disk name field.
func EncodeName(ci *CryptInfo, name []byte) (*EncodedName, error) {
	if err := ValidateName(name, ci.MaxPlainNameLen()); err != nil {
		return nil, err
	}

	hash, minor := HashName(ci, name)
	return &EncodedName{
		Ciphertext: encryptPadded(ci.names, name, ci.PaddingClass()),
		Hash:       hash,
		MinorHash:  minor,
	}, nil
}

// DecodeName decrypts an on-disk name and strips its padding
func DecodeName(ci *CryptInfo, disk []byte) ([]byte, error) {
	if len(disk) == 0 {
		return nil, corruptName("empty name")
	}
	if len(disk)%BlockSize != 0 {
		return nil, corruptName("length %d is not a multiple of %d", len(disk), BlockSize)
	}
	if len(disk) > ci.maxNameLen {
		return nil, corruptName("length %d exceeds name field size %d", len(disk), ci.maxNameLen)
	}

	name, ok := decryptPadded(ci.names, disk, ci.PaddingClass())
	if !ok {
		return nil, corruptName("bad padding")
	}
	if bytes.IndexByte(name, 0) >= 0 || bytes.IndexByte(name, '/') >= 0 {
		return nil, corruptName("decrypted name contains NUL or '/'")
	}
	return name, nil
}

// HashName computes the directory index hash pair of a plaintext name. It
// is keyed BLAKE2b-256 under the inode's dirhash key, so the same name
// hashes differently in directories with different keys. The low bit of
// the primary hash is always clear.
func HashName(ci *CryptInfo, name []byte) (hash, minor uint32) {
	h, err := blake2b.New256(ci.hashKey)
	if err != nil {
		// hashKey is always SubkeySize bytes
		panic(err)
	}
	h.Write(name)
	sum := h.Sum(nil)
	return binary.LittleEndian.Uint32(sum[0:4]) &^ 1, binary.LittleEndian.Uint32(sum[4:8])
}

// encryptPadded applies PKCS#7 padding to a multiple of class and encrypts
func encryptPadded(c blockCipher, plain []byte, class int) []byte {
	padLen := class - len(plain)%class
	buf := make([]byte, len(plain)+padLen)
	copy(buf, plain)
	for i := len(plain); i < len(buf); i++ {
		buf[i] = byte(padLen)
	}
	c.EncryptBlocks(buf, buf)
	return buf
}

// decryptPadded decrypts a BlockSize-aligned buffer and strips PKCS#7
// padding. An empty result is rejected.
func decryptPadded(c blockCipher, ciphertext []byte, class int) ([]byte, bool) {
	buf := make([]byte, len(ciphertext))
	c.DecryptBlocks(buf, ciphertext)

	n := len(buf)
	padLen := int(buf[n-1])
	if padLen == 0 || padLen > class || padLen >= n {
		return nil, false
	}
	good := 1
	for _, b := range buf[n-padLen:] {
		good &= subtle.ConstantTimeByteEq(b, byte(padLen))
	}
	if good != 1 {
		return nil, false
	}
	return buf[:n-padLen], true
}

// No-key names present an encrypted entry to a caller that lacks the key:
// base64url of hash | minor hash | ciphertext. Ciphertext longer than
// noKeyPrefixLen is cut there and followed by its SHA-256, which keeps the
// presented name within the name field.
const (
	noKeyPrefixLen = 144
	noKeyHeaderLen = 8
	noKeyMaxLen    = noKeyHeaderLen + noKeyPrefixLen + sha256.Size
)

var noKeyEncoding = base64.RawURLEncoding

// NoKeyName returns the name shown for an encrypted entry when the key is
// not available
func NoKeyName(disk []byte, hash, minor uint32) string {
	payload := make([]byte, noKeyHeaderLen, noKeyMaxLen)
	binary.LittleEndian.PutUint32(payload[0:4], hash)
	binary.LittleEndian.PutUint32(payload[4:8], minor)
	if len(disk) <= noKeyPrefixLen {
		payload = append(payload, disk...)
	} else {
		digest := sha256.Sum256(disk)
		payload = append(payload, disk[:noKeyPrefixLen]...)
		payload = append(payload, digest[:]...)
	}
	return noKeyEncoding.EncodeToString(payload)
}

// FileName is the working set for one name-based directory operation: the
// user-visible name, the name as stored on disk, and the hash pair used to
// find it in the directory index.
type FileName struct {
	UserName  string
	DiskName  []byte
	Hash      uint32
	MinorHash uint32

	// CryptoBuf backs DiskName when the name was encrypted
	CryptoBuf []byte

	// NoKey is set when the name came from a no-key presentation; DiskName
	// may then be only a prefix of the real ciphertext
	NoKey  bool
	digest []byte
}

// ParseNoKeyName recovers the hash pair and ciphertext (or its prefix and
// digest) from a name produced by NoKeyName
func ParseNoKeyName(name string) (*FileName, error) {
	if len(name) > noKeyEncoding.EncodedLen(noKeyMaxLen) {
		return nil, fmt.Errorf("%w: no-key name too long", iofs.ErrNotExist)
	}
	payload, err := noKeyEncoding.DecodeString(name)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid no-key name: %v", iofs.ErrNotExist, err)
	}

	fname := &FileName{UserName: name, NoKey: true}
	switch n := len(payload) - noKeyHeaderLen; {
	case n == noKeyPrefixLen+sha256.Size:
		fname.DiskName = payload[noKeyHeaderLen : noKeyHeaderLen+noKeyPrefixLen]
		fname.digest = payload[noKeyHeaderLen+noKeyPrefixLen:]
	case n > 0 && n <= noKeyPrefixLen && n%BlockSize == 0:
		fname.DiskName = payload[noKeyHeaderLen:]
	default:
		return nil, fmt.Errorf("%w: malformed no-key name", iofs.ErrNotExist)
	}
	fname.Hash = binary.LittleEndian.Uint32(payload[0:4])
	fname.MinorHash = binary.LittleEndian.Uint32(payload[4:8])
	return fname, nil
}

// Matches reports whether an on-disk entry name is the one this FileName
// refers to
func (f *FileName) Matches(disk []byte) bool {
	if f.digest == nil {
		return bytes.Equal(f.DiskName, disk)
	}
	if len(disk) <= noKeyPrefixLen || !bytes.Equal(f.DiskName, disk[:noKeyPrefixLen]) {
		return false
	}
	digest := sha256.Sum256(disk)
	return subtle.ConstantTimeCompare(f.digest, digest[:]) == 1
}

// SetupFilename prepares a FileName for an operation on name in dir.
// lookup is true for operations that only search for an existing entry;
// those may proceed without the key by parsing a no-key name. Operations
// that create entries need the key and fail with ErrMissingKey.
func (c *Crypt) SetupFilename(ctx context.Context, dir *Inode, name string, lookup bool) (*FileName, error) {
	if name == "." || name == ".." {
		return &FileName{UserName: name, DiskName: []byte(name)}, nil
	}

	err := c.RequireKey(ctx, dir)
	if err != nil {
		if lookup && IsMissingKey(err) {
			return ParseNoKeyName(name)
		}
		return nil, err
	}

	info := dir.CryptInfo()
	if info == nil {
		return &FileName{UserName: name, DiskName: []byte(name)}, nil
	}

	enc, err := EncodeName(info, []byte(name))
	if err != nil {
		return nil, err
	}
	return &FileName{
		UserName:  name,
		DiskName:  enc.Ciphertext,
		Hash:      enc.Hash,
		MinorHash: enc.MinorHash,
		CryptoBuf: enc.Ciphertext,
	}, nil
}

// DiskToUser converts a directory entry read from disk into the name shown
// to the caller: the decrypted name with the key, a no-key name without it.
// Entries of unencrypted directories are returned unchanged.
func (c *Crypt) DiskToUser(ctx context.Context, dir *Inode, disk []byte, hash, minor uint32) (string, error) {
	if string(disk) == "." || string(disk) == ".." {
		return string(disk), nil
	}

	err := c.RequireKey(ctx, dir)
	if err != nil {
		if IsMissingKey(err) {
			return NoKeyName(disk, hash, minor), nil
		}
		return "", err
	}

	info := dir.CryptInfo()
	if info == nil {
		return string(disk), nil
	}
	name, err := DecodeName(info, disk)
	if err != nil {
		return "", err
	}
	return string(name), nil
}
