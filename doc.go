// Package fscrypt implements per-inode transparent encryption for a
// filesystem: per-file key derivation with a lazily built, race-free
// crypto context, filename encryption with the hash pair a directory index
// needs, and the length-prefixed encrypted symlink format.
//
// # Overview
//
// Each encrypted inode carries a Policy (modes, flags, master key
// identifier and a random 16-byte nonce) kept in a PolicyStore. The first
// operation that needs the inode's keys calls Crypt.EnsureReady, which
// reads the policy, fetches the master key from a KeyProvider, derives the
// per-file subkeys with HKDF-SHA512 and publishes a CryptInfo on the Inode.
// Later calls see the published context with a single atomic load.
//
// The name and symlink codecs are plain functions over a ready CryptInfo
// and may run concurrently on the same or different inodes.
//
// # Cipher Suites
//
// - Names and symlink targets: AES-256-CBC with a zero IV over a PKCS#7
//   padded buffer. The per-file nonce makes each key unique, so equal
//   names in different directories encrypt differently.
// - Contents: AES-256-GCM or ChaCha20-Poly1305, exposed as a CipherEngine.
// - Directory hash: keyed BLAKE2b-256 of the plaintext name.
//
// # Basic Usage
//
//	keyring := fscrypt.NewKeyring(nil)
//	id := fscrypt.NewKeyIdentifier()
//	keyring.AddKey(id, masterKey)
//
//	c, err := fscrypt.New(&fscrypt.Config{
//	    KeyProvider: keyring,
//	    PolicyStore: fscrypt.NewMemoryPolicyStore(),
//	})
//	if err != nil {
//	    panic(err)
//	}
//
//	dir := fscrypt.NewInode(2, fscrypt.TypeDirectory)
//	name, err := c.SetupFilename(ctx, dir, "report.txt", false)
//	// name.DiskName is the ciphertext to store in the directory entry
//
// # Missing Keys
//
// Without the master key, EnsureReady returns ErrMissingKey and records
// nothing, so a later call succeeds once the key is added. Lookups and
// directory listings still work on no-key names (see NoKeyName), while
// creating entries requires the key.
//
// A malformed or unsupported policy is returned as a PolicyError and
// remembered on the inode until Inode.Evict.
package fscrypt
