package exhash

import (
	"github.com/bits-and-blooms/bitset"

	"github.com/patterdb/exhash/internal/storage"
)

// MaxBucketEntries is the number of fixed-width entries a bucket page can
// hold. Derived exactly as spec: with one bit each for occupied/readable
// per slot, N ~= 4*PageSize / (4*sizeof(entry) + 1). This value is a
// storage-format contract: changing it changes the on-disk layout.
const MaxBucketEntries = int((4 * storage.PageSize) / (4*EntrySize + 1))

// bitmapBytes is the number of bytes needed to pack MaxBucketEntries bits,
// one bit per slot, without the word-alignment overhead a bitset's own
// binary encoding would add.
const bitmapBytes = (MaxBucketEntries + 7) / 8

const (
	bucketPageIDOff  = 0
	bucketOccupiedOff = bucketPageIDOff + 4
	bucketReadableOff = bucketOccupiedOff + bitmapBytes
	bucketDataOff     = bucketReadableOff + bitmapBytes
)

// BucketPage is a single disk page interpreted as a fixed-capacity
// open-addressing table of (key, value) slots with occupancy and
// readability bitmaps, per spec §3.1.
type BucketPage struct {
	page     *storage.Page
	id       storage.PageID
	occupied *bitset.BitSet
	readable *bitset.BitSet
	entries  [MaxBucketEntries]Entry
}

// loadBucket interprets page's bytes as a BucketPage. If the page's
// stored id sentinel doesn't match the pinned page's real id, the bucket
// is treated as freshly zero-initialized (spec §3.1, §6.3).
func loadBucket(page *storage.Page) *BucketPage {
	b := &BucketPage{page: page, id: page.ID()}
	data := page.Data()
	storedID := storage.PageID(le32(data[bucketPageIDOff : bucketPageIDOff+4]))
	if storedID != page.ID() {
		b.occupied = bitset.New(uint(MaxBucketEntries))
		b.readable = bitset.New(uint(MaxBucketEntries))
		b.writeHeader()
		return b
	}
	b.occupied = unpackBits(data[bucketOccupiedOff:bucketOccupiedOff+bitmapBytes], MaxBucketEntries)
	b.readable = unpackBits(data[bucketReadableOff:bucketReadableOff+bitmapBytes], MaxBucketEntries)
	for i := 0; i < MaxBucketEntries; i++ {
		off := bucketDataOff + i*EntrySize
		b.entries[i] = unmarshalEntry(data[off : off+EntrySize])
	}
	return b
}

// newBucket initializes a brand-new, empty bucket on a freshly allocated
// page (already zeroed by the allocator).
func newBucket(page *storage.Page) *BucketPage {
	b := &BucketPage{
		page:     page,
		id:       page.ID(),
		occupied: bitset.New(uint(MaxBucketEntries)),
		readable: bitset.New(uint(MaxBucketEntries)),
	}
	b.writeHeader()
	page.SetDirty(true)
	return b
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func packBits(bs *bitset.BitSet, n int) []byte {
	out := make([]byte, (n+7)/8)
	for i := 0; i < n; i++ {
		if bs.Test(uint(i)) {
			out[i/8] |= 1 << uint(i%8)
		}
	}
	return out
}

func unpackBits(data []byte, n int) *bitset.BitSet {
	bs := bitset.New(uint(n))
	for i := 0; i < n; i++ {
		if data[i/8]&(1<<uint(i%8)) != 0 {
			bs.Set(uint(i))
		}
	}
	return bs
}

// writeHeader flushes id + both bitmaps into the page's byte buffer.
func (b *BucketPage) writeHeader() {
	data := b.page.Data()
	putLE32(data[bucketPageIDOff:bucketPageIDOff+4], uint32(b.page.ID()))
	copy(data[bucketOccupiedOff:bucketOccupiedOff+bitmapBytes], packBits(b.occupied, MaxBucketEntries))
	copy(data[bucketReadableOff:bucketReadableOff+bitmapBytes], packBits(b.readable, MaxBucketEntries))
	b.page.SetDirty(true)
}

// writeEntry flushes one entry's bytes into the page buffer.
func (b *BucketPage) writeEntry(i int) {
	off := bucketDataOff + i*EntrySize
	b.entries[i].marshalInto(b.page.Data()[off : off+EntrySize])
	b.page.SetDirty(true)
}

// Get returns the entry at slot i if it is live.
func (b *BucketPage) Get(i int) (Entry, bool) {
	if !b.readable.Test(uint(i)) {
		return Entry{}, false
	}
	return b.entries[i], true
}

// Put writes (key, value) into slot i, failing if the slot already holds
// a live entry.
func (b *BucketPage) Put(i int, key, value uint32) bool {
	if b.readable.Test(uint(i)) {
		return false
	}
	b.occupied.Set(uint(i))
	b.readable.Set(uint(i))
	b.entries[i] = Entry{Key: key, Value: value}
	b.writeEntry(i)
	b.writeHeader()
	return true
}

// Insert attempts Put(start, ...), linearly probing start+1, start+2, ...
// (mod N) on failure. Tombstones (occupied but not readable) are reused.
// Returns false if a full wrap-around finds no free slot.
func (b *BucketPage) Insert(key, value uint32, start int) bool {
	n := MaxBucketEntries
	i := start
	for {
		if b.Put(i, key, value) {
			return true
		}
		i = (i + 1) % n
		if i == start {
			return false
		}
	}
}

// Remove tombstones the first slot at or after start (wrapping, stopping
// at the end of the occupied chain) whose live entry equals (key, value),
// and continues tombstoning further exact matches along the same chain.
// Returns whether any match was removed.
func (b *BucketPage) Remove(key, value uint32, start int) bool {
	n := MaxBucketEntries
	removed := false
	i := start
	for first := true; first || i != start; first = false {
		if !b.occupied.Test(uint(i)) {
			break
		}
		if b.readable.Test(uint(i)) && b.entries[i].Key == key && b.entries[i].Value == value {
			b.ForceRemove(i)
			removed = true
		}
		i = (i + 1) % n
	}
	return removed
}

// ForceRemove clears readable[i] unconditionally. occupied[i] is left
// set, preserving probe-chain termination semantics.
func (b *BucketPage) ForceRemove(i int) {
	b.readable.Clear(uint(i))
	b.writeHeader()
}

// NumReadable returns the count of live entries in the bucket.
func (b *BucketPage) NumReadable() uint {
	return b.readable.Count()
}

// IsFull reports whether the bucket holds the maximum number of live
// entries it can.
func (b *BucketPage) IsFull() bool {
	return int(b.NumReadable()) >= MaxBucketEntries
}

// Occupied reports whether slot i has ever been written (sticky, never
// cleared by removal).
func (b *BucketPage) Occupied(i int) bool {
	return b.occupied.Test(uint(i))
}

// Readable reports whether slot i currently holds a live entry.
func (b *BucketPage) Readable(i int) bool {
	return b.readable.Test(uint(i))
}

// Page returns the backing pinned page.
func (b *BucketPage) Page() *storage.Page { return b.page }
