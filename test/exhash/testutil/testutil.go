// Package testutil collects the small helpers the integration tests in
// test/exhash share, the way the teacher's test/utils package does for
// its own index tests.
package testutil

import (
	"math/rand"
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/patterdb/exhash/internal/exhash"
)

// Salt perturbs generated values so tests don't hardcode numbers.
var Salt uint32 = uint32(rand.Intn(1000)) + 1

// TempDBFile creates a fresh temp file for a table to live in and
// arranges for it (and its journal) to be removed when t finishes.
func TempDBFile(t *testing.T) string {
	t.Helper()
	f, err := os.CreateTemp("", "exhash-*.db")
	if err != nil {
		t.Fatal(err)
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name) // OpenIndex must create it fresh

	t.Cleanup(func() {
		_ = os.Remove(name)
		_ = os.Remove(name + ".wal")
	})
	return name
}

// OpenIndex opens a fresh table at a temp file with a random seed.
func OpenIndex(t *testing.T) *exhash.Index {
	t.Helper()
	ix, err := exhash.OpenIndex(TempDBFile(t), rand.Uint64())
	if err != nil {
		t.Fatal("failed to open index:", err)
	}
	return ix
}

// InsertEntry puts (key, value) into ix, failing the test on error or a
// false success flag.
func InsertEntry(t *testing.T, ix *exhash.Index, key, value uint32) {
	t.Helper()
	ok, err := ix.Table.Put(key, value)
	if err != nil {
		t.Errorf("put(%d, %d): %s", key, value, err)
		return
	}
	if !ok {
		t.Errorf("put(%d, %d): reported capacity failure", key, value)
	}
}

// CheckGet asserts that get(key) returns exactly the expected multiset
// of values, order ignored.
func CheckGet(t *testing.T, ix *exhash.Index, key uint32, expected []uint32) {
	t.Helper()
	var got []uint32
	if err := ix.Table.Get(key, &got); err != nil {
		t.Errorf("get(%d): %s", key, err)
		return
	}
	sortU32 := cmpopts.SortSlices(func(a, b uint32) bool { return a < b })
	if diff := cmp.Diff(expected, got, sortU32, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("get(%d) mismatch (-want +got):\n%s", key, diff)
	}
}

// GenerateRandomKeyValuePairs generates n pairs with unique keys.
func GenerateRandomKeyValuePairs(n int) ([]KeyValuePair, map[uint32]uint32) {
	pairs := make([]KeyValuePair, 0, n)
	answer := make(map[uint32]uint32, n)
	for len(pairs) < n {
		key := rand.Uint32()
		if _, ok := answer[key]; ok {
			continue
		}
		value := rand.Uint32()
		answer[key] = value
		pairs = append(pairs, KeyValuePair{Key: key, Value: value})
	}
	return pairs, answer
}

// KeyValuePair is a single generated (key, value) pair.
type KeyValuePair struct {
	Key   uint32
	Value uint32
}
