// Package exhash implements a disk-backed extendible hash table: a
// directory page routing hash prefixes to bucket pages, buckets that
// split independently as they overflow, and a table-level latch composed
// with per-page latches so point lookups only ever need shared latches.
package exhash

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/patterdb/exhash/internal/storage"
	"github.com/patterdb/exhash/internal/wal"
	"github.com/patterdb/exhash/internal/xhash"
)

// ErrBucketFull names the capacity error of a bucket that no split can
// make room in. Put does not return it: Put reports that case as a false
// success flag with a nil error.
var ErrBucketFull = errors.New("exhash: bucket full after split")

// HashTable is the in-memory handle onto a disk-backed extendible hash
// table: a pin on its directory page, a table-level reader/writer latch,
// and the collaborators (buffer pool/allocator, hash seed, journal) it
// needs to route, split, and log operations.
type HashTable struct {
	pager   *storage.Pager
	dirPage *storage.Page
	dir     *DirectoryPage
	seed    uint64
	log     *wal.Log
	mu      sync.RWMutex
}

// New allocates a directory page and the first two bucket pages (global
// depth 1), and returns a ready-to-use table. log may be nil.
func New(pager *storage.Pager, seed uint64, log *wal.Log) (*HashTable, error) {
	dirPage, err := pager.AllocateLatched(storage.ExclusiveLatch)
	if err != nil {
		return nil, err
	}
	dir := loadDirectory(dirPage)

	b0Page, err := pager.AllocateLatched(storage.ExclusiveLatch)
	if err != nil {
		dirPage.WUnlock()
		_ = pager.Unpin(dirPage)
		_ = pager.Free(dirPage.ID())
		return nil, err
	}
	b1Page, err := pager.AllocateLatched(storage.ExclusiveLatch)
	if err != nil {
		b0Page.WUnlock()
		_ = pager.Unpin(b0Page)
		_ = pager.Free(b0Page.ID())
		dirPage.WUnlock()
		_ = pager.Unpin(dirPage)
		_ = pager.Free(dirPage.ID())
		return nil, err
	}
	b0 := newBucket(b0Page)
	b1 := newBucket(b1Page)

	dir.SetBucketPageID(0, b0.id)
	dir.SetBucketPageID(1, b1.id)
	dir.SetLocalDepth(0, 1)
	dir.SetLocalDepth(1, 1)

	b0Page.WUnlock()
	b1Page.WUnlock()
	if err := pager.Unpin(b0Page); err != nil {
		return nil, err
	}
	if err := pager.Unpin(b1Page); err != nil {
		return nil, err
	}
	dirPage.WUnlock()

	return &HashTable{pager: pager, dirPage: dirPage, dir: dir, seed: seed, log: log}, nil
}

// Init reopens a table from an existing directory page id.
func Init(pager *storage.Pager, dirPageID storage.PageID, seed uint64, log *wal.Log) (*HashTable, error) {
	dirPage, err := pager.Pin(dirPageID)
	if err != nil {
		return nil, err
	}
	dirPage.RLock()
	dir := loadDirectory(dirPage)
	dirPage.RUnlock()
	return &HashTable{pager: pager, dirPage: dirPage, dir: dir, seed: seed, log: log}, nil
}

// Deinit releases the table's in-memory resources (the directory page
// pin) without freeing anything on disk.
func (t *HashTable) Deinit() error {
	return t.pager.Unpin(t.dirPage)
}

// Destroy frees every bucket page the directory references, then unpins
// the directory page and frees it. It does not merge or compact; it is
// meant for tearing the whole table down.
func (t *HashTable) Destroy() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	freed := make(map[storage.PageID]bool)
	for i := 0; i < t.dir.Size(); i++ {
		id := t.dir.BucketPageID(uint32(i))
		if freed[id] {
			continue
		}
		freed[id] = true
		if err := t.pager.Free(id); err != nil {
			return err
		}
	}
	dirID := t.dirPage.ID()
	if err := t.pager.Unpin(t.dirPage); err != nil {
		return err
	}
	return t.pager.Free(dirID)
}

// DirectoryPageID returns the page id backing this table's directory, so
// a caller can later Init a fresh handle onto the same table.
func (t *HashTable) DirectoryPageID() storage.PageID {
	return t.dirPage.ID()
}

// GlobalDepth returns the table's current global depth.
func (t *HashTable) GlobalDepth() uint8 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.dir.GlobalDepth()
}

// WLock/WUnlock/RLock/RUnlock expose the table-level latch directly, the
// way the teacher's HashTable and HashBucket both do, so composed
// operations (and tests asserting on latch discipline) can drive it.
func (t *HashTable) WLock()   { t.mu.Lock() }
func (t *HashTable) WUnlock() { t.mu.Unlock() }
func (t *HashTable) RLock()   { t.mu.RLock() }
func (t *HashTable) RUnlock() { t.mu.RUnlock() }

// Get appends every live value stored under key to out.
func (t *HashTable) Get(key uint32, out *[]uint32) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	h := xhash.Sum64(key, t.seed)
	pfx := xhash.Prefix(h, t.dir.GlobalDepth())
	bucketID := t.dir.BucketPageID(pfx)

	page, err := t.pager.Pin(bucketID)
	if err != nil {
		return err
	}
	page.RLock()
	defer page.RUnlock()
	defer t.pager.Unpin(page)

	bucket := loadBucket(page)
	start := xhash.LocalIndex(h, t.dir.GlobalDepth(), MaxBucketEntries)
	i := start
	for first := true; first || i != start; first = false {
		if !bucket.Occupied(i) {
			break
		}
		if e, ok := bucket.Get(i); ok && e.Key == key {
			*out = append(*out, e.Value)
		}
		i = (i + 1) % MaxBucketEntries
	}
	return nil
}

// Put inserts (key, value), splitting as many times as necessary. It
// returns false only when the target bucket is full and already at local
// depth GlobalDepthMax, so no further split is possible; the caller must
// treat that as a capacity error.
func (t *HashTable) Put(key, value uint32) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.putLocked(key, value)
}

func (t *HashTable) putLocked(key, value uint32) (bool, error) {
	h := xhash.Sum64(key, t.seed)
	pfx := xhash.Prefix(h, t.dir.GlobalDepth())
	bucketID := t.dir.BucketPageID(pfx)

	page, err := t.pager.Pin(bucketID)
	if err != nil {
		return false, err
	}
	page.WLock()
	bucket := loadBucket(page)
	start := xhash.LocalIndex(h, t.dir.GlobalDepth(), MaxBucketEntries)

	if bucket.Insert(key, value, start) {
		page.WUnlock()
		if err := t.pager.Unpin(page); err != nil {
			return false, err
		}
		t.appendLog(wal.OpPut, key, value)
		return true, nil
	}

	// A bucket already at the maximum local depth can't be split any
	// further: every hash bit the directory can route on is already
	// spoken for. This only happens under a pathological workload (e.g.
	// inserting more exact (key, value) duplicates than a bucket can
	// hold), and it's the one case Put legitimately reports failure
	// instead of recursing forever.
	if t.dir.LocalDepth(pfx) >= GlobalDepthMax {
		page.WUnlock()
		if err := t.pager.Unpin(page); err != nil {
			return false, err
		}
		return false, nil
	}

	// Bucket full: split it, holding its exclusive latch into the split,
	// then retry the insertion from the top (it may split again if the
	// entries happened to co-locate in one child).
	if err := t.split(pfx, bucket, page); err != nil {
		return false, err
	}
	return t.putLocked(key, value)
}

// split implements spec §4.5: allocate a replacement and a mirror bucket,
// double the directory if the splitting bucket is already at global
// depth, repoint the directory slots that used to reference the old
// bucket, rehash the old bucket's live entries across the two new
// buckets, and free the old bucket.
//
// Caller holds the table's exclusive latch and oldPage's exclusive latch.
func (t *HashTable) split(idx uint32, oldBucket *BucketPage, oldPage *storage.Page) error {
	localDepth := t.dir.LocalDepth(idx)
	oldBucketID := oldPage.ID()

	// Snapshot the old bucket's live entries before touching anything
	// else; the page itself is about to be freed.
	live := make([]Entry, 0, MaxBucketEntries)
	for i := 0; i < MaxBucketEntries; i++ {
		if e, ok := oldBucket.Get(i); ok {
			live = append(live, e)
		}
	}

	replacementPage, err := t.pager.AllocateLatched(storage.ExclusiveLatch)
	if err != nil {
		oldPage.WUnlock()
		_ = t.pager.Unpin(oldPage)
		return err
	}
	mirrorPage, err := t.pager.AllocateLatched(storage.ExclusiveLatch)
	if err != nil {
		replacementPage.WUnlock()
		_ = t.pager.Unpin(replacementPage)
		_ = t.pager.Free(replacementPage.ID())
		oldPage.WUnlock()
		_ = t.pager.Unpin(oldPage)
		return err
	}
	replacement := newBucket(replacementPage)
	mirror := newBucket(mirrorPage)
	newLocalDepth := localDepth + 1

	if localDepth == t.dir.GlobalDepth() {
		// Case A: the directory must double first (spec §4.5 Case A). The
		// duplication in Double means slot idx and slot idx+oldSize are
		// now the only two slots pointing at oldBucketID, which is exactly
		// what the Case B loop below expects.
		t.dir.Double()
	}

	// Every slot that still points at the old bucket is repointed here,
	// partitioned by bit `localDepth` (zero-indexed, spec §4.5 Case B) of
	// the slot index: in Case A that bit distinguishes idx from
	// idx+oldSize, the same low-bit convention xhash.Prefix routes by.
	mask := uint32(1) << localDepth
	size := uint32(t.dir.Size())
	for s := uint32(0); s < size; s++ {
		if t.dir.BucketPageID(s) != oldBucketID {
			continue
		}
		if s&mask != 0 {
			t.dir.SetBucketPageID(s, mirror.id)
		} else {
			t.dir.SetBucketPageID(s, replacement.id)
		}
		t.dir.SetLocalDepth(s, newLocalDepth)
	}

	replacementPage.WUnlock()
	mirrorPage.WUnlock()
	oldPage.WUnlock()
	if err := t.pager.Unpin(oldPage); err != nil {
		return err
	}
	if err := t.pager.Free(oldBucketID); err != nil {
		return err
	}

	// Rehash: the directory now routes each slot correctly, so an
	// entry's destination is whichever new bucket its own updated
	// prefix resolves to.
	for _, e := range live {
		h := xhash.Sum64(e.Key, t.seed)
		pfx := xhash.Prefix(h, t.dir.GlobalDepth())
		destID := t.dir.BucketPageID(pfx)
		target := replacement
		if destID == mirror.id {
			target = mirror
		}
		localStart := xhash.LocalIndex(h, t.dir.GlobalDepth(), MaxBucketEntries)
		if !target.Insert(e.Key, e.Value, localStart) {
			// Capacity is preserved and entries are partitioned by one
			// additional hash bit, so this can only happen on a bug.
			panic(fmt.Sprintf("exhash: bucket full immediately after split rehashing key %d", e.Key))
		}
	}

	if err := t.pager.Unpin(replacementPage); err != nil {
		return err
	}
	if err := t.pager.Unpin(mirrorPage); err != nil {
		return err
	}

	t.appendLog(wal.OpSplit, 0, 0)
	return nil
}

// Remove tombstones every live (key, value) match along the probe chain.
// Missing entries are a no-op, not an error.
func (t *HashTable) Remove(key, value uint32) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	h := xhash.Sum64(key, t.seed)
	pfx := xhash.Prefix(h, t.dir.GlobalDepth())
	bucketID := t.dir.BucketPageID(pfx)

	page, err := t.pager.Pin(bucketID)
	if err != nil {
		return err
	}
	page.WLock()
	defer page.WUnlock()
	defer t.pager.Unpin(page)

	bucket := loadBucket(page)
	start := xhash.LocalIndex(h, t.dir.GlobalDepth(), MaxBucketEntries)
	bucket.Remove(key, value, start)
	t.appendLog(wal.OpRemove, key, value)
	return nil
}

// appendLog best-effort journals an operation and stamps the directory's
// reserved LSN field. Never consulted for replay; see internal/wal.
func (t *HashTable) appendLog(op wal.Op, key, value uint32) {
	if t.log == nil {
		return
	}
	lsn, err := t.log.Append(op, key, value)
	if err != nil || lsn > math.MaxInt32 {
		return
	}
	t.dir.SetLSN(int32(lsn))
}
