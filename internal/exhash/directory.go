package exhash

import (
	"github.com/patterdb/exhash/internal/storage"
)

// GlobalDepthMax bounds the global depth: the directory has 512 slots, and
// 2^9 = 512, so depth cannot exceed 9 (spec §3.2).
const GlobalDepthMax = 9

// DirectorySlots is the fixed capacity of the directory's local-depth and
// bucket-page-id arrays, regardless of how many are currently active.
const DirectorySlots = 1 << GlobalDepthMax

const (
	dirPageIDOff      = 0
	dirLSNOff         = dirPageIDOff + 4
	dirGlobalDepthOff = dirLSNOff + 4
	dirLocalDepthsOff = dirGlobalDepthOff + 1
	dirBucketIDsOff   = dirLocalDepthsOff + DirectorySlots
	dirEncodedSize    = dirBucketIDsOff + DirectorySlots*4
)

func init() {
	if dirEncodedSize > int(storage.PageSize) {
		panic("exhash: directory page layout overflows PageSize")
	}
}

// DirectoryPage holds global depth, per-slot local depths, and per-slot
// bucket page identifiers, per spec §3.2.
type DirectoryPage struct {
	page          *storage.Page
	lsn           int32
	globalDepth   uint8
	localDepths   [DirectorySlots]uint8
	bucketPageIDs [DirectorySlots]storage.PageID
}

// loadDirectory interprets page's bytes as a DirectoryPage, treating a
// page-id mismatch as an uninitialized page (spec §6.3).
func loadDirectory(page *storage.Page) *DirectoryPage {
	d := &DirectoryPage{page: page}
	data := page.Data()
	storedID := storage.PageID(le32(data[dirPageIDOff : dirPageIDOff+4]))
	if storedID != page.ID() {
		d.globalDepth = 1
		for i := range d.bucketPageIDs {
			d.bucketPageIDs[i] = storage.NoPage
		}
		d.flush()
		return d
	}
	d.lsn = int32(le32(data[dirLSNOff : dirLSNOff+4]))
	d.globalDepth = data[dirGlobalDepthOff]
	copy(d.localDepths[:], data[dirLocalDepthsOff:dirLocalDepthsOff+DirectorySlots])
	for i := 0; i < DirectorySlots; i++ {
		off := dirBucketIDsOff + i*4
		d.bucketPageIDs[i] = storage.PageID(le32(data[off : off+4]))
	}
	return d
}

// flush serializes the directory's fields into its backing page and marks
// the page dirty. Callers mutate in place then call flush once per op.
func (d *DirectoryPage) flush() {
	data := d.page.Data()
	putLE32(data[dirPageIDOff:dirPageIDOff+4], uint32(d.page.ID()))
	putLE32(data[dirLSNOff:dirLSNOff+4], uint32(d.lsn))
	data[dirGlobalDepthOff] = d.globalDepth
	copy(data[dirLocalDepthsOff:dirLocalDepthsOff+DirectorySlots], d.localDepths[:])
	for i := 0; i < DirectorySlots; i++ {
		off := dirBucketIDsOff + i*4
		putLE32(data[off:off+4], uint32(d.bucketPageIDs[i]))
	}
	d.page.SetDirty(true)
}

// GlobalDepth returns the number of significant hash-prefix bits.
func (d *DirectoryPage) GlobalDepth() uint8 { return d.globalDepth }

// Size returns the number of currently active directory slots, 2^G.
func (d *DirectoryPage) Size() int { return 1 << d.globalDepth }

// LSN returns the reserved log-sequence number of the last operation that
// touched this directory. Never consulted for replay.
func (d *DirectoryPage) LSN() int32 { return d.lsn }

// SetLSN stamps the reserved log-sequence number and persists it.
func (d *DirectoryPage) SetLSN(lsn int32) {
	d.lsn = lsn
	d.flush()
}

// LocalDepth returns the local depth of the bucket at slot i.
func (d *DirectoryPage) LocalDepth(i uint32) uint8 { return d.localDepths[i] }

// SetLocalDepth sets the local depth of slot i and persists it.
func (d *DirectoryPage) SetLocalDepth(i uint32, depth uint8) {
	d.localDepths[i] = depth
	d.flush()
}

// BucketPageID returns the page id the directory routes slot i to.
func (d *DirectoryPage) BucketPageID(i uint32) storage.PageID { return d.bucketPageIDs[i] }

// SetBucketPageID points slot i at id and persists it.
func (d *DirectoryPage) SetBucketPageID(i uint32, id storage.PageID) {
	d.bucketPageIDs[i] = id
	d.flush()
}

// Double implements directory doubling (spec §4.5 Case A): the directory
// is duplicated, slot s and slot s+oldSize both inheriting old slot s's
// bucket and local depth. This matches the low-bit routing convention
// (prefix(h) = h & ((1<<G)-1)): under the new, wider G, a hash that used
// to resolve to slot s now resolves to s or s+oldSize depending on the
// newly-significant bit, and both start out pointing at the same bucket
// until a subsequent split repoints one of them.
func (d *DirectoryPage) Double() {
	oldSize := d.Size()
	d.globalDepth++
	for s := 0; s < oldSize; s++ {
		d.bucketPageIDs[s+oldSize] = d.bucketPageIDs[s]
		d.localDepths[s+oldSize] = d.localDepths[s]
	}
	d.flush()
}
