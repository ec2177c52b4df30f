package fscrypt

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

// Key layout:
//
//	"pol:" + big-endian inode number  ->  policy record (PolicySize bytes)
//
// Big-endian keeps records ordered by inode number in range scans.
var policyKeyPrefix = []byte("pol:")

func policyKey(ino uint64) []byte {
	key := make([]byte, len(policyKeyPrefix)+8)
	copy(key, policyKeyPrefix)
	binary.BigEndian.PutUint64(key[len(policyKeyPrefix):], ino)
	return key
}

// BadgerPolicyStore persists policy records in a BadgerDB database
type BadgerPolicyStore struct {
	db     *badger.DB
	logger logrus.FieldLogger
}

// OpenBadgerPolicyStore opens (or creates) a database at dir. An empty dir
// opens an in-memory database.
func OpenBadgerPolicyStore(dir string, logger logrus.FieldLogger) (*BadgerPolicyStore, error) {
	if logger == nil {
		logger = discardLogger()
	}

	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open policy database: %w", err)
	}
	return &BadgerPolicyStore{db: db, logger: logger}, nil
}

// Close closes the underlying database
func (s *BadgerPolicyStore) Close() error {
	return s.db.Close()
}

func (s *BadgerPolicyStore) ReadPolicy(ctx context.Context, inode *Inode) (*Policy, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(policyKey(inode.Ino))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read policy: %w", err)
	}
	return decodePolicy(inode.Ino, raw)
}

func (s *BadgerPolicyStore) WritePolicy(ctx context.Context, inode *Inode, p *Policy) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := p.MarshalBinary()
	if err != nil {
		return err
	}

	key := policyKey(inode.Ino)
	err = s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == nil {
			existing, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if bytes.Equal(existing, raw) {
				return nil
			}
			return fmt.Errorf("inode %d: %w", inode.Ino, ErrPolicyExists)
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, raw)
	})
	if err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"ino": inode.Ino,
		"key": p.KeyID.String(),
	}).Debug("policy committed")
	return nil
}
