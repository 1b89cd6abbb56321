package storage

import (
	"path/filepath"
	"testing"
)

func openTestPager(t *testing.T) *Pager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pages.db")
	p, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestAllocateStampsNoPageSentinel(t *testing.T) {
	p := openTestPager(t)

	page, err := p.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	defer p.Unpin(page)

	got := le32(page.Data()[0:4])
	if PageID(got) != NoPage {
		t.Fatalf("fresh page's id sentinel = %d, want NoPage (%d)", int32(got), NoPage)
	}
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func TestPinUnpinRoundTrip(t *testing.T) {
	p := openTestPager(t)

	page, err := p.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	id := page.ID()
	copy(page.Data(), []byte("hello"))
	page.SetDirty(true)
	if err := p.Unpin(page); err != nil {
		t.Fatal(err)
	}

	reread, err := p.Pin(id)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Unpin(reread)
	if string(reread.Data()[0:5]) != "hello" {
		t.Fatalf("reread page data = %q, want %q", reread.Data()[0:5], "hello")
	}
}

func TestPinInvalidIDFails(t *testing.T) {
	p := openTestPager(t)
	if _, err := p.Pin(PageID(99)); err == nil {
		t.Fatal("expected Pin of an unallocated page id to fail")
	}
}

func TestFreeRejectsPinnedPage(t *testing.T) {
	p := openTestPager(t)
	page, err := p.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Free(page.ID()); err == nil {
		t.Fatal("expected Free of a still-pinned page to fail")
	}
	_ = p.Unpin(page)
}

func TestFreedIDIsReused(t *testing.T) {
	p := openTestPager(t)
	page, err := p.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	id := page.ID()
	if err := p.Unpin(page); err != nil {
		t.Fatal(err)
	}
	if err := p.Free(id); err != nil {
		t.Fatal(err)
	}

	reused, err := p.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	defer p.Unpin(reused)
	if reused.ID() != id {
		t.Fatalf("expected freed id %d to be reused, got %d", id, reused.ID())
	}
}

func TestCloseFailsWithPinnedPages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pages.db")
	p, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	page, err := p.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	defer p.Unpin(page)

	if err := p.Close(); err != ErrPagesStillPinned {
		t.Fatalf("Close() = %v, want ErrPagesStillPinned", err)
	}
}

func TestEvictionFlushesDirtyFrames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pages.db")
	p, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	// Allocate and immediately unpin more pages than fit in the buffer
	// pool, forcing eviction of earlier frames. The first page's write
	// must survive eviction.
	first, err := p.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	copy(first.Data(), []byte("first"))
	first.SetDirty(true)
	firstID := first.ID()
	if err := p.Unpin(first); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < MaxFramesInBuffer+2; i++ {
		page, err := p.Allocate()
		if err != nil {
			t.Fatal(err)
		}
		if err := p.Unpin(page); err != nil {
			t.Fatal(err)
		}
	}

	reread, err := p.Pin(firstID)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Unpin(reread)
	if string(reread.Data()[0:5]) != "first" {
		t.Fatalf("evicted page's data did not survive: got %q", reread.Data()[0:5])
	}
}
