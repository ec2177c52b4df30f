package fscrypt

import (
	"fmt"
)

// CryptInfo is the per-inode crypto context: the derived subkeys and the
// cipher handles built from them. It is constructed completely or not at
// all, and is read-only once published on an Inode, so any number of
// goroutines may use it concurrently.
type CryptInfo struct {
	policy Policy

	contentsKey  []byte
	filenamesKey []byte
	hashKey      []byte

	contents CipherEngine
	names    blockCipher
	symlinks blockCipher

	maxNameLen    int
	maxSymlinkLen int
}

// newCryptInfo derives every subkey for policy from master and builds the
// cipher handles. On error nothing is returned and all derived material
// has been wiped.
func newCryptInfo(policy *Policy, master []byte, maxNameLen, maxSymlinkLen int) (_ *CryptInfo, err error) {
	ci := &CryptInfo{
		policy:        *policy,
		maxNameLen:    maxNameLen,
		maxSymlinkLen: maxSymlinkLen,
	}
	defer func() {
		if err != nil {
			ci.Wipe()
		}
	}()

	if ci.contentsKey, err = DeriveKey(master, policy.Nonce[:], PurposeContents); err != nil {
		return nil, err
	}
	if ci.filenamesKey, err = DeriveKey(master, policy.Nonce[:], PurposeFilenames); err != nil {
		return nil, err
	}
	if ci.hashKey, err = DeriveKey(ci.filenamesKey, nil, PurposeDirHash); err != nil {
		return nil, err
	}

	if ci.contents, err = NewContentsEngine(policy.ContentsMode, ci.contentsKey); err != nil {
		return nil, fmt.Errorf("failed to create contents cipher: %w", err)
	}
	if ci.names, err = newBlockCipher(policy.FilenamesMode, ci.filenamesKey); err != nil {
		return nil, fmt.Errorf("failed to create filenames cipher: %w", err)
	}

	ci.symlinks = ci.names
	if policy.Flags&PolicyFlagSymlinkContentsKey != 0 {
		if ci.symlinks, err = newBlockCipher(policy.FilenamesMode, ci.contentsKey); err != nil {
			return nil, fmt.Errorf("failed to create symlink cipher: %w", err)
		}
	}
	return ci, nil
}

// Policy returns a copy of the policy the context was derived from
func (ci *CryptInfo) Policy() Policy {
	return ci.policy
}

// Contents returns the contents AEAD engine
func (ci *CryptInfo) Contents() CipherEngine {
	return ci.contents
}

// PaddingClass returns the multiple names and symlink targets are padded to
func (ci *CryptInfo) PaddingClass() int {
	return ci.policy.Flags.PaddingClass()
}

// MaxPlainNameLen is the longest plaintext name that still fits the on-disk
// name field once padded. Padding always adds at least one byte.
func (ci *CryptInfo) MaxPlainNameLen() int {
	class := ci.PaddingClass()
	return (ci.maxNameLen/class)*class - 1
}

// Wipe zeroes the derived key material. The cipher handles must not be
// used afterwards.
func (ci *CryptInfo) Wipe() {
	wipe(ci.contentsKey)
	wipe(ci.filenamesKey)
	wipe(ci.hashKey)
	ci.contents = nil
	ci.names = nil
	ci.symlinks = nil
}
