package storage

import (
	"sync"
	"sync/atomic"

	"github.com/ncw/directio"
)

// PageID identifies a page on disk. It is deliberately narrow (int32, not
// int64): the directory page packs 512 of these into one page, so the
// on-disk width of a PageID is part of the storage format's contract.
type PageID int32

// NoPage is the sentinel PageID for "not allocated" / "not yet assigned".
const NoPage PageID = -1

// PageSize is the size in bytes of every page, aligned to the block size
// directio requires for unbuffered I/O.
const PageSize int64 = directio.BlockSize

// Page is a pinned, latched view onto one page's worth of bytes. Its
// address is stable for as long as it's pinned: the byte slice backing it
// is never reallocated or moved while pinCount > 0.
type Page struct {
	pager    *Pager
	id       PageID
	pinCount atomic.Int64
	dirty    bool
	rwlock   sync.RWMutex
	data     []byte
}

// ID returns the page's identifier.
func (p *Page) ID() PageID { return p.id }

// Data returns the page's raw byte buffer. Callers holding at least a
// shared latch may read it; mutation requires the exclusive latch.
func (p *Page) Data() []byte { return p.data }

// IsDirty reports whether the page has unflushed mutations.
func (p *Page) IsDirty() bool { return p.dirty }

// SetDirty marks (or clears) the page's dirty flag.
func (p *Page) SetDirty(dirty bool) { p.dirty = dirty }

// Update overwrites size bytes of the page's data at offset, marking it
// dirty. The caller must hold the exclusive page latch.
func (p *Page) Update(data []byte, offset, size int64) {
	p.dirty = true
	copy(p.data[offset:offset+size], data)
}

func (p *Page) pin() int64   { return p.pinCount.Add(1) }
func (p *Page) unpin() int64 { return p.pinCount.Add(-1) }

// WLock acquires the page's latch exclusively.
func (p *Page) WLock() { p.rwlock.Lock() }

// WUnlock releases the page's exclusive latch.
func (p *Page) WUnlock() { p.rwlock.Unlock() }

// RLock acquires the page's latch in shared mode.
func (p *Page) RLock() { p.rwlock.RLock() }

// RUnlock releases the page's shared latch.
func (p *Page) RUnlock() { p.rwlock.RUnlock() }

// LatchMode selects shared or exclusive acquisition for AllocateLatched.
type LatchMode int

const (
	// SharedLatch acquires the page's reader latch.
	SharedLatch LatchMode = iota
	// ExclusiveLatch acquires the page's writer latch.
	ExclusiveLatch
)

func (p *Page) latch(mode LatchMode) {
	if mode == ExclusiveLatch {
		p.WLock()
	} else {
		p.RLock()
	}
}

func (p *Page) unlatch(mode LatchMode) {
	if mode == ExclusiveLatch {
		p.WUnlock()
	} else {
		p.RUnlock()
	}
}
