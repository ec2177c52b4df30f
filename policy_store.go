package fscrypt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path"
	"sync"

	"github.com/absfs/absfs"
	"github.com/sirupsen/logrus"
)

// PolicyStore persists the encryption policy of each inode
type PolicyStore interface {
	// ReadPolicy returns the inode's policy, or nil with no error if the
	// inode is not encrypted. A malformed record yields a PolicyError.
	ReadPolicy(ctx context.Context, inode *Inode) (*Policy, error)

	// WritePolicy commits a policy for an inode. Writing an identical policy
	// again is a no-op; writing a different one fails with ErrPolicyExists.
	WritePolicy(ctx context.Context, inode *Inode, p *Policy) error
}

// MemoryPolicyStore keeps encoded policy records in memory
type MemoryPolicyStore struct {
	mu       sync.RWMutex
	policies map[uint64][]byte
}

// NewMemoryPolicyStore creates an empty in-memory policy store
func NewMemoryPolicyStore() *MemoryPolicyStore {
	return &MemoryPolicyStore{policies: make(map[uint64][]byte)}
}

func (s *MemoryPolicyStore) ReadPolicy(ctx context.Context, inode *Inode) (*Policy, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	raw, ok := s.policies[inode.Ino]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return decodePolicy(inode.Ino, raw)
}

func (s *MemoryPolicyStore) WritePolicy(ctx context.Context, inode *Inode, p *Policy) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := p.MarshalBinary()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.policies[inode.Ino]; ok {
		if bytes.Equal(existing, raw) {
			return nil
		}
		return fmt.Errorf("inode %d: %w", inode.Ino, ErrPolicyExists)
	}
	s.policies[inode.Ino] = raw
	return nil
}

// PutRaw stores an arbitrary record for an inode, bypassing validation.
// Used to model on-disk corruption.
func (s *MemoryPolicyStore) PutRaw(ino uint64, raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[ino] = append([]byte(nil), raw...)
}

// FSPolicyStore keeps one policy record file per inode in a directory of an
// absfs.FileSystem
type FSPolicyStore struct {
	mu     sync.Mutex // serializes writers
	fs     absfs.FileSystem
	dir    string
	logger logrus.FieldLogger
}

// DefaultPolicyDir is where FSPolicyStore keeps records when no directory is given
const DefaultPolicyDir = "/.fscrypt"

// NewFSPolicyStore creates the policy directory if needed
func NewFSPolicyStore(fs absfs.FileSystem, dir string, logger logrus.FieldLogger) (*FSPolicyStore, error) {
	if fs == nil {
		return nil, fmt.Errorf("base filesystem cannot be nil")
	}
	if dir == "" {
		dir = DefaultPolicyDir
	}
	if logger == nil {
		logger = discardLogger()
	}
	if err := fs.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create policy directory: %w", err)
	}
	return &FSPolicyStore{fs: fs, dir: dir, logger: logger}, nil
}

func (s *FSPolicyStore) recordPath(ino uint64) string {
	return path.Join(s.dir, fmt.Sprintf("%016x", ino))
}

func (s *FSPolicyStore) ReadPolicy(ctx context.Context, inode *Inode) (*Policy, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := s.readRecord(inode.Ino)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	return decodePolicy(inode.Ino, raw)
}

func (s *FSPolicyStore) readRecord(ino uint64) ([]byte, error) {
	file, err := s.fs.Open(s.recordPath(ino))
	if err != nil {
		if isNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open policy record: %w", err)
	}
	defer file.Close()

	// One byte more than a valid record so trailing data is detected
	raw, err := io.ReadAll(io.LimitReader(file, PolicySize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read policy record: %w", err)
	}
	return raw, nil
}

func (s *FSPolicyStore) WritePolicy(ctx context.Context, inode *Inode, p *Policy) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := p.MarshalBinary()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.readRecord(inode.Ino)
	if err != nil {
		return err
	}
	if existing != nil {
		if bytes.Equal(existing, raw) {
			return nil
		}
		return fmt.Errorf("inode %d: %w", inode.Ino, ErrPolicyExists)
	}

	file, err := s.fs.OpenFile(s.recordPath(inode.Ino), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create policy record: %w", err)
	}
	defer file.Close()
	if _, err := file.Write(raw); err != nil {
		return fmt.Errorf("failed to write policy record: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"ino":       inode.Ino,
		"contents":  p.ContentsMode.String(),
		"filenames": p.FilenamesMode.String(),
		"key":       p.KeyID.String(),
	}).Debug("policy committed")
	return nil
}

func decodePolicy(ino uint64, raw []byte) (*Policy, error) {
	var p Policy
	if err := p.UnmarshalBinary(raw); err != nil {
		if pe, ok := err.(*PolicyError); ok {
			pe.Ino = ino
		}
		return nil, err
	}
	return &p, nil
}

func isNotExist(err error) bool {
	return os.IsNotExist(err) || errors.Is(err, iofs.ErrNotExist)
}
