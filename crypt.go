package fscrypt

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Crypt sets up and hands out per-inode crypto contexts. It holds no
// per-inode state of its own: contexts live on the Inode, so contention is
// per inode and an unrelated inode is never blocked.
type Crypt struct {
	config *Config
}

// New creates the encryption subsystem
func New(config *Config) (*Crypt, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Crypt{config: config}, nil
}

// EnsureReady sets up the inode's crypto context if the inode is encrypted
// and the context is not ready yet. It returns nil both when the context is
// ready and when the inode is not encrypted at all.
//
// When the master key is not available it returns ErrMissingKey and records
// nothing, so a later call retries. A malformed policy is returned as a
// PolicyError and remembered on the inode until it is evicted.
//
// EnsureReady may block in the policy store and key provider; do not call it
// while holding locks those collaborators might need.
func (c *Crypt) EnsureReady(ctx context.Context, inode *Inode) error {
	_, err := c.setup(ctx, inode)
	return err
}

// HasUsableKey reports whether the inode's crypto context is ready. It never
// triggers setup.
func (c *Crypt) HasUsableKey(inode *Inode) bool {
	return inode != nil && inode.CryptInfo() != nil
}

// RequireKey is the entry point for operations that must not proceed on an
// encrypted inode without its key: it returns nil for unencrypted inodes and
// for encrypted ones with a ready context, ErrMissingKey when the key is
// unavailable, or the setup error.
func (c *Crypt) RequireKey(ctx context.Context, inode *Inode) error {
	info, err := c.setup(ctx, inode)
	if err != nil {
		return err
	}
	if info == nil {
		// not encrypted
		return nil
	}
	if !c.HasUsableKey(inode) {
		return fmt.Errorf("inode %d: %w", inode.Ino, ErrMissingKey)
	}
	return nil
}

// IsEncrypted reports whether the inode has an encryption policy
func (c *Crypt) IsEncrypted(ctx context.Context, inode *Inode) (bool, error) {
	if inode == nil {
		return false, ErrNilInode
	}
	if inode.CryptInfo() != nil {
		return true, nil
	}
	p, err := c.config.PolicyStore.ReadPolicy(ctx, inode)
	if err != nil {
		if IsPolicyError(err) {
			return true, err
		}
		return false, err
	}
	return p != nil, nil
}

// InheritPolicy commits a policy for a newly created child of an encrypted
// directory. The directory's key must be available; files created in an
// unencrypted directory are left unencrypted.
func (c *Crypt) InheritPolicy(ctx context.Context, dir, child *Inode) error {
	if err := c.RequireKey(ctx, dir); err != nil {
		return err
	}
	info := dir.CryptInfo()
	if info == nil {
		return nil
	}
	p, err := info.policy.Inherit()
	if err != nil {
		return err
	}
	return c.config.PolicyStore.WritePolicy(ctx, child, p)
}

// setup returns the inode's context, or nil with no error for an
// unencrypted inode
func (c *Crypt) setup(ctx context.Context, inode *Inode) (*CryptInfo, error) {
	if inode == nil {
		return nil, ErrNilInode
	}
	if info := inode.CryptInfo(); info != nil {
		return info, nil
	}
	if err := inode.terminal(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	policy, err := c.config.PolicyStore.ReadPolicy(ctx, inode)
	if err != nil {
		return nil, c.fail(inode, err)
	}
	if policy == nil {
		return nil, nil
	}
	if err := policy.Validate(); err != nil {
		return nil, c.fail(inode, err)
	}

	log := c.config.Logger.WithFields(logrus.Fields{"ino": inode.Ino, "key": policy.KeyID.String()})

	provided, err := c.config.KeyProvider.LookupKey(ctx, policy.KeyID)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			log.Debug("master key not available")
			return nil, fmt.Errorf("inode %d: %w (key %s)", inode.Ino, ErrMissingKey, policy.KeyID)
		}
		log.WithError(err).Warn("key lookup failed")
		return nil, fmt.Errorf("inode %d: key lookup failed: %w", inode.Ino, err)
	}
	// The provider keeps ownership of its slice
	master := append([]byte(nil), provided...)
	defer wipe(master)

	if err := ValidateMasterKey(master); err != nil {
		return nil, fmt.Errorf("inode %d: key %s: %w", inode.Ino, policy.KeyID, err)
	}

	info, err := newCryptInfo(policy, master, c.config.MaxNameLen, c.config.MaxSymlinkLen)
	if err != nil {
		return nil, c.fail(inode, err)
	}

	// A caller that stopped waiting must not publish
	if err := ctx.Err(); err != nil {
		info.Wipe()
		return nil, err
	}
	published := inode.publish(info)
	if published == info {
		log.Debug("crypto context ready")
	}
	return published, nil
}

// fail records policy errors as terminal for the inode and returns err
func (c *Crypt) fail(inode *Inode, err error) error {
	var pe *PolicyError
	if errors.As(err, &pe) {
		if pe.Ino == 0 {
			pe.Ino = inode.Ino
		}
		inode.setTerminal(err)
		c.config.Logger.WithField("ino", inode.Ino).WithError(err).Warn("invalid encryption policy")
	}
	return err
}
