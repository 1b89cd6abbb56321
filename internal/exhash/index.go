package exhash

import (
	"github.com/patterdb/exhash/internal/storage"
	"github.com/patterdb/exhash/internal/wal"
)

// RootPageID is the directory page's id in a freshly created table file:
// New always allocates the directory first, so it is always page 0.
const RootPageID storage.PageID = 0

// Index bundles a HashTable with the pager and journal backing it,
// managing the on-disk file's lifecycle the way the teacher's HashIndex
// wraps a HashTable with its Pager.
type Index struct {
	Table *HashTable
	pager *storage.Pager
	log   *wal.Log
	path  string
}

// OpenIndex opens (or creates) the hash table backed by the file at path,
// journaling mutating operations to path+".wal". seed is used on every
// open, for creation and reopening alike, and is not persisted in the
// file (it's a construction parameter, not routing state), so callers
// must supply the same seed on every open of a given file or lookups
// will stop matching what was inserted under a different seed.
func OpenIndex(path string, seed uint64) (*Index, error) {
	pager, err := storage.Open(path)
	if err != nil {
		return nil, err
	}
	log, err := wal.Open(path + ".wal")
	if err != nil {
		_ = pager.Close()
		return nil, err
	}

	var table *HashTable
	if pager.NumPages() == 0 {
		table, err = New(pager, seed, log)
	} else {
		table, err = Init(pager, RootPageID, seed, log)
	}
	if err != nil {
		_ = log.Close()
		_ = pager.Close()
		return nil, err
	}

	return &Index{Table: table, pager: pager, log: log, path: path}, nil
}

// Close releases the table's directory pin, flushes every dirty page to
// disk, and closes the journal.
func (ix *Index) Close() error {
	if err := ix.Table.Deinit(); err != nil {
		return err
	}
	if err := ix.pager.Close(); err != nil {
		return err
	}
	return ix.log.Close()
}

// Destroy tears the table down on disk (frees every page it owns) before
// closing it.
func (ix *Index) Destroy() error {
	if err := ix.Table.Destroy(); err != nil {
		return err
	}
	if err := ix.pager.Close(); err != nil {
		return err
	}
	return ix.log.Close()
}

// Pager exposes the underlying buffer pool, mainly for tests.
func (ix *Index) Pager() *storage.Pager { return ix.pager }

// Log exposes the underlying journal, mainly for tests and diagnostics.
func (ix *Index) Log() *wal.Log { return ix.log }
