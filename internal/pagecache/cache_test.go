package pagecache

import "testing"

type fakeReleaser struct {
	released [][]byte
}

func (f *fakeReleaser) ReleaseFrame(page []byte) error {
	f.released = append(f.released, page)
	return nil
}

func TestUnboundedCacheNeverEvicts(t *testing.T) {
	rel := &fakeReleaser{}
	c := New(0, rel)

	for i := uint64(0); i < 100; i++ {
		c.Insert(i, []byte{byte(i)})
	}

	if c.Len() != 100 {
		t.Fatalf("Len() = %d, want 100", c.Len())
	}
	if len(rel.released) != 0 {
		t.Fatalf("unbounded cache released %d frames, want 0", len(rel.released))
	}

	page, ok := c.Get(42)
	if !ok || page[0] != 42 {
		t.Fatalf("Get(42) = %v, %v", page, ok)
	}
}

func TestBoundedCacheEvictsOldestOnOverflow(t *testing.T) {
	rel := &fakeReleaser{}
	c := New(2, rel)

	c.Insert(1, []byte{1})
	c.Insert(2, []byte{2})
	c.Insert(3, []byte{3}) // evicts pfn 1 (least recently used)

	if _, ok := c.Get(1); ok {
		t.Fatalf("Get(1) after eviction: want absent")
	}
	if len(rel.released) != 1 || rel.released[0][0] != 1 {
		t.Fatalf("released = %v, want [[1]]", rel.released)
	}
	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", c.Len())
	}
}

func TestRemoveReleasesExactlyOnce(t *testing.T) {
	rel := &fakeReleaser{}
	c := New(0, rel)

	c.Insert(7, []byte{7})
	c.Remove(7)
	c.Remove(7) // no-op, not a second release

	if len(rel.released) != 1 {
		t.Fatalf("released %d times, want 1", len(rel.released))
	}
}

func TestFlushReleasesEveryFrame(t *testing.T) {
	rel := &fakeReleaser{}
	c := New(4, rel)

	for i := uint64(0); i < 3; i++ {
		c.Insert(i, []byte{byte(i)})
	}

	c.Flush()

	if c.Len() != 0 {
		t.Fatalf("Len() after Flush = %d, want 0", c.Len())
	}
	if len(rel.released) != 3 {
		t.Fatalf("released %d frames, want 3", len(rel.released))
	}
}
