package exhash

import (
	"path/filepath"
	"testing"

	"github.com/patterdb/exhash/internal/storage"
	"github.com/patterdb/exhash/internal/xhash"
)

func newTestTable(t *testing.T) (*storage.Pager, *HashTable) {
	t.Helper()
	pager, err := storage.Open(filepath.Join(t.TempDir(), "table.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = pager.Close() })
	table, err := New(pager, 1234, nil)
	if err != nil {
		t.Fatal(err)
	}
	return pager, table
}

func TestNewTableStartsAtDepthOneWithTwoBuckets(t *testing.T) {
	_, table := newTestTable(t)
	if table.GlobalDepth() != 1 {
		t.Fatalf("GlobalDepth() = %d, want 1", table.GlobalDepth())
	}
	if table.dir.BucketPageID(0) == table.dir.BucketPageID(1) {
		t.Fatal("the two initial slots should point at distinct bucket pages")
	}
}

func TestPutThenGet(t *testing.T) {
	_, table := newTestTable(t)
	ok, err := table.Put(7, 700)
	if err != nil || !ok {
		t.Fatalf("Put(7,700) = %v, %v", ok, err)
	}
	var out []uint32
	if err := table.Get(7, &out); err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0] != 700 {
		t.Fatalf("Get(7) = %v, want [700]", out)
	}
}

func TestGetOnEmptyTableReturnsEmpty(t *testing.T) {
	_, table := newTestTable(t)
	var out []uint32
	if err := table.Get(42, &out); err != nil {
		t.Fatal(err)
	}
	if len(out) != 0 {
		t.Fatalf("Get(42) on empty table = %v, want empty", out)
	}
}

func TestPutDuplicateKeyIsMultimap(t *testing.T) {
	_, table := newTestTable(t)
	mustPut(t, table, 7, 700)
	mustPut(t, table, 7, 701)
	var out []uint32
	if err := table.Get(7, &out); err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("Get(7) = %v, want two values", out)
	}
}

func TestRemoveOneOfTwoDuplicates(t *testing.T) {
	_, table := newTestTable(t)
	mustPut(t, table, 7, 700)
	mustPut(t, table, 7, 701)
	if err := table.Remove(7, 700); err != nil {
		t.Fatal(err)
	}
	var out []uint32
	if err := table.Get(7, &out); err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0] != 701 {
		t.Fatalf("Get(7) after removing 700 = %v, want [701]", out)
	}
}

func TestRemoveMissingIsNoop(t *testing.T) {
	_, table := newTestTable(t)
	if err := table.Remove(1, 1); err != nil {
		t.Fatal(err)
	}
}

func TestSurvivesForcedSplit(t *testing.T) {
	_, table := newTestTable(t)
	n := MaxBucketEntries + 1
	// Keys whose hashes share the low bit all route to slot 0 at global
	// depth 1, so N+1 of them overflow that one bucket.
	keys := make([]uint32, 0, n)
	for k := uint32(0); len(keys) < n; k++ {
		if xhash.Prefix(xhash.Sum64(k, table.seed), 1) == 0 {
			keys = append(keys, k)
		}
	}
	for _, k := range keys {
		mustPut(t, table, k, k*3)
	}
	if table.GlobalDepth() < 2 {
		t.Fatalf("expected global depth >= 2 after %d inserts, got %d", n, table.GlobalDepth())
	}
	for _, k := range keys {
		var out []uint32
		if err := table.Get(k, &out); err != nil {
			t.Fatal(err)
		}
		if len(out) != 1 || out[0] != k*3 {
			t.Fatalf("Get(%d) = %v, want [%d]", k, out, k*3)
		}
	}
	problems, err := table.Verify()
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range problems {
		t.Error(p)
	}
}

func TestDestroyFreesAllPages(t *testing.T) {
	pager, table := newTestTable(t)
	mustPut(t, table, 1, 1)
	if err := table.Destroy(); err != nil {
		t.Fatal(err)
	}
	// Every page the table owned should now be free for reuse; the
	// pager should accept a fresh Allocate without growing the file's
	// high-water mark past what was already reserved.
	before := pager.NumPages()
	page, err := pager.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	defer pager.Unpin(page)
	if pager.NumPages() != before {
		t.Fatalf("expected Destroy to free ids for reuse, pager grew from %d to %d", before, pager.NumPages())
	}
}

func mustPut(t *testing.T, table *HashTable, key, value uint32) {
	t.Helper()
	ok, err := table.Put(key, value)
	if err != nil {
		t.Fatalf("Put(%d,%d) error: %s", key, value, err)
	}
	if !ok {
		t.Fatalf("Put(%d,%d) reported capacity failure", key, value)
	}
}
