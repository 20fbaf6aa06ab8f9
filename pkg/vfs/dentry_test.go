package vfs

import "testing"

type fakeFS struct{}

func (fakeFS) ReadInode(inum uint64) (*Stat, any, error) { return &Stat{Inum: inum}, nil, nil }
func (fakeFS) WriteInode(inum uint64, blob any) error     { return nil }
func (fakeFS) DiscardInode(inum uint64, blob any)         {}

func TestLookupMissThenHitMovesToFront(t *testing.T) {
	ic := NewIcache(8)
	dc := NewDcache(8, ic)
	root := dc.CreateRoot(fakeFS{})

	a, err := dc.Lookup(root, "a")
	if err != nil || a == nil {
		t.Fatalf("lookup a: %v, %v", a, err)
	}
	dc.SetInode(a, mustInode(t, ic, 1))

	b, err := dc.Lookup(root, "b")
	if err != nil || b == nil {
		t.Fatalf("lookup b: %v, %v", b, err)
	}
	dc.SetInode(b, mustInode(t, ic, 2))

	got, err := dc.Lookup(root, "a")
	if err != nil || got != a {
		t.Fatalf("second lookup of a should hit the same dentry: %v, %v", got, err)
	}

	if front := dc.inuse.Front(); front != a {
		t.Fatal("hit on a should move it to the front of the LRU")
	}
}

func mustInode(t *testing.T, ic *Icache, inum uint64) *Inode {
	t.Helper()
	in, err := ic.Get(fakeFS{}, inum)
	if err != nil {
		t.Fatalf("icache get: %v", err)
	}
	return in
}

func TestPendingLookupReturnsNilForRetry(t *testing.T) {
	ic := NewIcache(8)
	dc := NewDcache(8, ic)
	root := dc.CreateRoot(fakeFS{})

	pending, err := dc.Lookup(root, "x")
	if err != nil || pending == nil {
		t.Fatalf("first lookup should allocate a pending dentry: %v, %v", pending, err)
	}

	retry, err := dc.Lookup(root, "x")
	if err != nil {
		t.Fatalf("retry lookup: %v", err)
	}
	if retry != nil {
		t.Fatal("lookup of a still-pending dentry must return nil to signal retry")
	}

	dc.SetInode(pending, mustInode(t, ic, 9))
	resolved, err := dc.Lookup(root, "x")
	if err != nil || resolved != pending {
		t.Fatalf("lookup after resolve should hit the same dentry: %v, %v", resolved, err)
	}
	if got := resolved.ReadRefs(); got != 2 {
		t.Fatalf("resolved refcount = %d, want 2", got)
	}
}

func TestDerefKeepsSlotForRediscovery(t *testing.T) {
	ic := NewIcache(8)
	dc := NewDcache(8, ic)
	root := dc.CreateRoot(fakeFS{})

	d, _ := dc.Lookup(root, "a")
	dc.SetInode(d, mustInode(t, ic, 1))
	dc.Deref(d)

	if d.ReadRefs() != 0 {
		t.Fatalf("refcount after single deref = %d, want 0", d.ReadRefs())
	}

	again, err := dc.Lookup(root, "a")
	if err != nil || again != d {
		t.Fatalf("lookup after deref-to-zero should rediscover the same slot without a fresh read: %v, %v", again, err)
	}
}
