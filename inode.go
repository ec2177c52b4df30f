package fscrypt

import (
	"sync/atomic"
)

// FileType is the kind of file an inode represents
type FileType uint8

const (
	TypeRegular FileType = iota
	TypeDirectory
	TypeSymlink
)

func (t FileType) String() string {
	switch t {
	case TypeRegular:
		return "regular"
	case TypeDirectory:
		return "directory"
	case TypeSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// Inode is the in-memory file object a crypto context attaches to. The
// filesystem embeds or owns one per cached inode and calls Evict when the
// inode leaves its cache.
//
// The context is published once with a compare-and-swap and never mutated
// afterwards, so readers after EnsureReady need no locking. It lives as long
// as the Inode (until Evict) and is never shared with another Inode.
type Inode struct {
	Ino  uint64
	Type FileType

	info    atomic.Pointer[CryptInfo]
	failure atomic.Pointer[terminalFailure]
}

type terminalFailure struct {
	err error
}

// NewInode creates an inode with no crypto context attached
func NewInode(ino uint64, typ FileType) *Inode {
	return &Inode{Ino: ino, Type: typ}
}

// CryptInfo returns the published crypto context, or nil if none is ready
func (i *Inode) CryptInfo() *CryptInfo {
	return i.info.Load()
}

// publish attaches info unless another caller won the race. It reports the
// context the inode ends up with, never nil; a losing caller's info is wiped.
func (i *Inode) publish(info *CryptInfo) *CryptInfo {
	for {
		if i.info.CompareAndSwap(nil, info) {
			return info
		}
		if cur := i.info.Load(); cur != nil {
			info.Wipe()
			return cur
		}
		// evicted between the swap and the load
	}
}

func (i *Inode) terminal() error {
	if f := i.failure.Load(); f != nil {
		return f.err
	}
	return nil
}

func (i *Inode) setTerminal(err error) {
	i.failure.CompareAndSwap(nil, &terminalFailure{err: err})
}

// Evict detaches and wipes the crypto context and forgets any terminal
// failure. The caller must guarantee no operation is still using the
// context, as it would for the inode itself.
func (i *Inode) Evict() {
	if info := i.info.Swap(nil); info != nil {
		info.Wipe()
	}
	i.failure.Store(nil)
}
