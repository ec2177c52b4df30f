package fscrypt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/absfs/absfs"
	"github.com/absfs/memfs"
)

func newMemFS(t testing.TB) absfs.FileSystem {
	t.Helper()
	fs, err := memfs.NewFS()
	if err != nil {
		t.Fatalf("Failed to create memfs: %v", err)
	}
	return fs
}

// policyStores returns one of each store implementation
func policyStores(t *testing.T) map[string]PolicyStore {
	t.Helper()

	fsStore, err := NewFSPolicyStore(newMemFS(t), "", nil)
	if err != nil {
		t.Fatalf("NewFSPolicyStore failed: %v", err)
	}
	badgerStore, err := OpenBadgerPolicyStore("", nil)
	if err != nil {
		t.Fatalf("OpenBadgerPolicyStore failed: %v", err)
	}
	t.Cleanup(func() { badgerStore.Close() })

	return map[string]PolicyStore{
		"memory": NewMemoryPolicyStore(),
		"fs":     fsStore,
		"badger": badgerStore,
	}
}

func TestPolicyStores(t *testing.T) {
	ctx := context.Background()

	for name, store := range policyStores(t) {
		t.Run(name, func(t *testing.T) {
			inode := NewInode(42, TypeDirectory)

			got, err := store.ReadPolicy(ctx, inode)
			if err != nil || got != nil {
				t.Fatalf("ReadPolicy on empty store = %v, %v; want nil, nil", got, err)
			}

			p, _ := NewPolicy(NewKeyIdentifier(), ContentsAES256GCM, FilenamesAES256CBC, PolicyFlagPad32)
			if err := store.WritePolicy(ctx, inode, p); err != nil {
				t.Fatalf("WritePolicy failed: %v", err)
			}

			got, err = store.ReadPolicy(ctx, inode)
			if err != nil {
				t.Fatalf("ReadPolicy failed: %v", err)
			}
			if !got.Equal(p) {
				t.Errorf("ReadPolicy = %+v, want %+v", got, p)
			}

			// Identical rewrite is a no-op, a different policy is refused
			if err := store.WritePolicy(ctx, inode, p); err != nil {
				t.Errorf("identical WritePolicy failed: %v", err)
			}
			other, _ := p.Inherit()
			if err := store.WritePolicy(ctx, inode, other); !errors.Is(err, ErrPolicyExists) {
				t.Errorf("second WritePolicy = %v, want ErrPolicyExists", err)
			}

			// Nothing leaks to other inodes
			if got, _ := store.ReadPolicy(ctx, NewInode(43, TypeRegular)); got != nil {
				t.Error("policy visible on another inode")
			}
		})
	}
}

func TestPolicyStores_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for name, store := range policyStores(t) {
		t.Run(name, func(t *testing.T) {
			inode := NewInode(1, TypeRegular)
			if _, err := store.ReadPolicy(ctx, inode); !errors.Is(err, context.Canceled) {
				t.Errorf("ReadPolicy = %v, want context.Canceled", err)
			}
			p, _ := NewPolicy(NewKeyIdentifier(), ContentsAES256GCM, FilenamesAES256CBC, 0)
			if err := store.WritePolicy(ctx, inode, p); !errors.Is(err, context.Canceled) {
				t.Errorf("WritePolicy = %v, want context.Canceled", err)
			}
		})
	}
}

func TestPolicyStores_ConcurrentWrites(t *testing.T) {
	ctx := context.Background()

	for name, store := range policyStores(t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			errs := make([]error, 16)
			for i := range errs {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					p, _ := NewPolicy(NewKeyIdentifier(), ContentsAES256GCM, FilenamesAES256CBC, 0)
					errs[i] = store.WritePolicy(ctx, NewInode(uint64(i+1), TypeRegular), p)
				}(i)
			}
			wg.Wait()

			for i, err := range errs {
				if err != nil {
					t.Errorf("WritePolicy(%d) failed: %v", i+1, err)
				}
			}
			for i := range errs {
				if got, err := store.ReadPolicy(ctx, NewInode(uint64(i+1), TypeRegular)); err != nil || got == nil {
					t.Errorf("ReadPolicy(%d) = %v, %v", i+1, got, err)
				}
			}
		})
	}
}

func TestFSPolicyStore_CorruptRecord(t *testing.T) {
	ctx := context.Background()
	fs := newMemFS(t)
	store, err := NewFSPolicyStore(fs, "/policies", nil)
	if err != nil {
		t.Fatalf("NewFSPolicyStore failed: %v", err)
	}

	f, err := fs.Create(fmt.Sprintf("/policies/%016x", 7))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	f.Write([]byte("not a policy record"))
	f.Close()

	_, err = store.ReadPolicy(ctx, NewInode(7, TypeRegular))
	if !IsPolicyError(err) {
		t.Fatalf("ReadPolicy = %v, want PolicyError", err)
	}
	var pe *PolicyError
	if errors.As(err, &pe) && pe.Ino != 7 {
		t.Errorf("PolicyError.Ino = %d, want 7", pe.Ino)
	}
}

func TestFSPolicyStore_Persistent(t *testing.T) {
	ctx := context.Background()
	fs := newMemFS(t)
	inode := NewInode(9, TypeDirectory)
	p, _ := NewPolicy(NewKeyIdentifier(), ContentsAES256GCM, FilenamesAES256CBC, 0)

	first, err := NewFSPolicyStore(fs, "/policies", nil)
	if err != nil {
		t.Fatalf("NewFSPolicyStore failed: %v", err)
	}
	if err := first.WritePolicy(ctx, inode, p); err != nil {
		t.Fatalf("WritePolicy failed: %v", err)
	}

	// A second store over the same filesystem sees the record
	second, err := NewFSPolicyStore(fs, "/policies", nil)
	if err != nil {
		t.Fatalf("NewFSPolicyStore failed: %v", err)
	}
	got, err := second.ReadPolicy(ctx, inode)
	if err != nil || !got.Equal(p) {
		t.Errorf("ReadPolicy = %+v, %v; want %+v", got, err, p)
	}
}

func TestNewFSPolicyStore_NilFS(t *testing.T) {
	if _, err := NewFSPolicyStore(nil, "", nil); err == nil {
		t.Error("NewFSPolicyStore(nil) should fail")
	}
}

func TestBadgerPolicyStore_OnDisk(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	inode := NewInode(11, TypeRegular)
	p, _ := NewPolicy(NewKeyIdentifier(), ContentsChaCha20Poly1305, FilenamesAES256CBC, PolicyFlagSymlinkContentsKey)

	store, err := OpenBadgerPolicyStore(dir, nil)
	if err != nil {
		t.Fatalf("OpenBadgerPolicyStore failed: %v", err)
	}
	if err := store.WritePolicy(ctx, inode, p); err != nil {
		t.Fatalf("WritePolicy failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := OpenBadgerPolicyStore(dir, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.ReadPolicy(ctx, inode)
	if err != nil || !got.Equal(p) {
		t.Errorf("ReadPolicy after reopen = %+v, %v; want %+v", got, err, p)
	}
}

func TestBadgerPolicyStore_WithCrypt(t *testing.T) {
	ctx := context.Background()
	store, err := OpenBadgerPolicyStore("", nil)
	if err != nil {
		t.Fatalf("OpenBadgerPolicyStore failed: %v", err)
	}
	defer store.Close()

	keyring := NewKeyring(nil)
	id := NewKeyIdentifier()
	keyring.AddKey(id, make([]byte, 32))

	c, err := New(&Config{KeyProvider: keyring, PolicyStore: store})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	dir := NewInode(1, TypeDirectory)
	p, _ := NewPolicy(id, ContentsAES256GCM, FilenamesAES256CBC, 0)
	if err := store.WritePolicy(ctx, dir, p); err != nil {
		t.Fatalf("WritePolicy failed: %v", err)
	}
	child := NewInode(2, TypeRegular)
	if err := c.InheritPolicy(ctx, dir, child); err != nil {
		t.Fatalf("InheritPolicy failed: %v", err)
	}
	if err := c.EnsureReady(ctx, child); err != nil {
		t.Fatalf("EnsureReady(child) failed: %v", err)
	}
}
