package exhash

import (
	"path/filepath"
	"testing"

	"github.com/patterdb/exhash/internal/storage"
)

func newTestPage(t *testing.T) (*storage.Pager, *storage.Page) {
	t.Helper()
	pager, err := storage.Open(filepath.Join(t.TempDir(), "bucket.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = pager.Close() })
	page, err := pager.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	return pager, page
}

func TestBucketPutGet(t *testing.T) {
	_, page := newTestPage(t)
	b := newBucket(page)

	if !b.Put(0, 10, 100) {
		t.Fatal("expected Put into an empty slot to succeed")
	}
	e, ok := b.Get(0)
	if !ok || e.Key != 10 || e.Value != 100 {
		t.Fatalf("Get(0) = (%v, %v), want (10,100)/true", e, ok)
	}
	if b.Put(0, 11, 101) {
		t.Fatal("expected Put into a live slot to fail")
	}
}

func TestBucketInsertProbesPastOccupied(t *testing.T) {
	_, page := newTestPage(t)
	b := newBucket(page)

	if !b.Insert(1, 1, 0) {
		t.Fatal("first insert should succeed")
	}
	if !b.Insert(2, 2, 0) {
		t.Fatal("second insert at the same start should probe forward and succeed")
	}
	e0, _ := b.Get(0)
	e1, _ := b.Get(1)
	if e0.Key != 1 || e1.Key != 2 {
		t.Fatalf("expected keys 1,2 at slots 0,1; got %v,%v", e0, e1)
	}
}

func TestBucketInsertFullWrapAroundFails(t *testing.T) {
	_, page := newTestPage(t)
	b := newBucket(page)
	for i := 0; i < MaxBucketEntries; i++ {
		if !b.Insert(uint32(i), uint32(i), 0) {
			t.Fatalf("insert %d should have succeeded in an unfilled bucket", i)
		}
	}
	if b.Insert(999, 999, 0) {
		t.Fatal("expected Insert into a full bucket to fail")
	}
}

func TestBucketTombstoneIsReused(t *testing.T) {
	_, page := newTestPage(t)
	b := newBucket(page)

	b.Insert(5, 50, 0)
	if !b.Remove(5, 50, 0) {
		t.Fatal("expected Remove to find the entry just inserted")
	}
	if b.Occupied(0) != true {
		t.Fatal("occupied bit must stay set after a tombstone")
	}
	if b.Readable(0) {
		t.Fatal("readable bit must clear after a tombstone")
	}
	if !b.Insert(6, 60, 0) {
		t.Fatal("expected Insert to reuse the tombstoned slot")
	}
	e, ok := b.Get(0)
	if !ok || e.Key != 6 {
		t.Fatalf("expected the reused slot to hold key 6, got %v ok=%v", e, ok)
	}
}

func TestBucketRemoveTombstonesAllMatches(t *testing.T) {
	_, page := newTestPage(t)
	b := newBucket(page)

	b.Insert(7, 700, 0)
	b.Insert(7, 701, 0)
	b.Insert(7, 700, 0) // a duplicate of the first pair, further down the chain

	if !b.Remove(7, 700, 0) {
		t.Fatal("expected Remove to find at least one match")
	}
	if b.Readable(0) {
		t.Fatal("first (7,700) slot should be tombstoned")
	}
	if !b.Readable(1) {
		t.Fatal("the (7,701) slot should remain live")
	}
	if b.Readable(2) {
		t.Fatal("the second (7,700) slot should also be tombstoned")
	}
}

func TestBucketRemoveMissingIsNoop(t *testing.T) {
	_, page := newTestPage(t)
	b := newBucket(page)
	if b.Remove(1, 1, 0) {
		t.Fatal("expected Remove on an empty bucket to report no match")
	}
}

func TestLoadBucketRoundTripsThroughPage(t *testing.T) {
	pager, page := newTestPage(t)
	b := newBucket(page)
	b.Insert(3, 30, 0)
	b.Insert(4, 40, 0)

	id := page.ID()
	if err := pager.Unpin(page); err != nil {
		t.Fatal(err)
	}
	reread, err := pager.Pin(id)
	if err != nil {
		t.Fatal(err)
	}
	defer pager.Unpin(reread)

	loaded := loadBucket(reread)
	e0, ok0 := loaded.Get(0)
	e1, ok1 := loaded.Get(1)
	if !ok0 || !ok1 || e0.Key != 3 || e1.Key != 4 {
		t.Fatalf("round-tripped bucket lost data: %v/%v %v/%v", e0, ok0, e1, ok1)
	}
}
