// Package storage implements the paged buffer pool and page allocator that
// the extendible hash table is built on: pinning pages into stable memory,
// evicting unpinned frames under pressure, and handing out/reclaiming page
// identifiers.
package storage

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/ncw/directio"
)

// MaxFramesInBuffer bounds how many pages the buffer pool keeps resident
// at once. Pinning beyond this with nothing left to evict fails.
const MaxFramesInBuffer = 64

// ErrNoFreeFrames is returned when the buffer pool has no unpinned frame
// left to evict and no free frame to hand out.
var ErrNoFreeFrames = errors.New("storage: no free frames in buffer pool")

// ErrInvalidPageID is returned by Pin when asked for a page outside the
// range the pager has ever allocated.
var ErrInvalidPageID = errors.New("storage: invalid page id")

// ErrPagesStillPinned is returned by Close if pages are still pinned.
var ErrPagesStillPinned = errors.New("storage: pages still pinned at close")

// Pager is the buffer pool and page allocator combined: it satisfies both
// roles the core hash table consumes (pin/unpin, and allocate/free), the
// way the teacher's Pager already conflates the two.
type Pager struct {
	file     *os.File
	numPages int64 // high-water mark of pages ever allocated in the file

	freeFrames     *frameList // frames with no backing page yet
	unpinnedFrames *frameList // resident pages with pinCount == 0
	pinnedFrames   *frameList // resident pages with pinCount > 0

	frameTable map[PageID]*frameLink
	freeIDs    []PageID // reclaimed page ids available for reuse by Allocate

	mtx sync.Mutex
}

// Open creates or reopens a Pager backed by the file at path.
func Open(path string) (*Pager, error) {
	pager := &Pager{
		frameTable:     make(map[PageID]*frameLink),
		freeFrames:     newFrameList(),
		unpinnedFrames: newFrameList(),
		pinnedFrames:   newFrameList(),
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0775); err != nil {
			return nil, err
		}
	}
	f, err := directio.OpenFile(path, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return nil, err
	}
	pager.file = f

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size()%PageSize != 0 {
		return nil, errors.New("storage: backing file size is not page-aligned")
	}
	pager.numPages = info.Size() / PageSize

	block := directio.AlignedBlock(int(PageSize * MaxFramesInBuffer))
	for i := 0; i < MaxFramesInBuffer; i++ {
		frame := &Page{
			pager: pager,
			id:    NoPage,
			data:  block[i*int(PageSize) : (i+1)*int(PageSize)],
		}
		pager.freeFrames.pushTail(frame)
	}
	return pager, nil
}

// NumPages returns the number of page ids ever allocated (including freed
// ones: freeing does not shrink the file).
func (p *Pager) NumPages() int64 {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.numPages
}

// nextFrame returns a frame free for reuse, evicting an unpinned page if
// necessary. p.mtx must be held.
func (p *Pager) nextFrame(id PageID) (*Page, error) {
	if link := p.freeFrames.peekHead(); link != nil {
		link.popSelf()
		frame := link.frame
		frame.id = id
		frame.dirty = false
		frame.pinCount.Store(1)
		return frame, nil
	}
	if link := p.unpinnedFrames.peekHead(); link != nil {
		link.popSelf()
		frame := link.frame
		p.flushLocked(frame)
		delete(p.frameTable, frame.id)
		frame.id = id
		frame.dirty = false
		frame.pinCount.Store(1)
		return frame, nil
	}
	return nil, ErrNoFreeFrames
}

// Allocate reserves a fresh page id, pins it, and returns the pinned page
// with its bytes zeroed except for a NoPage sentinel in the first four.
// The caller must Unpin it.
func (p *Pager) Allocate() (*Page, error) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	var id PageID
	if n := len(p.freeIDs); n > 0 {
		id = p.freeIDs[n-1]
		p.freeIDs = p.freeIDs[:n-1]
	} else {
		id = PageID(p.numPages)
		p.numPages++
	}

	frame, err := p.nextFrame(id)
	if err != nil {
		return nil, err
	}
	for i := range frame.data {
		frame.data[i] = 0
	}
	// Every page format this pager serves (directory and bucket pages
	// alike) begins with a page_id field and treats a mismatch against
	// the pinned id as "uninitialized". A freshly allocated page must
	// not accidentally look initialized just because its real id happens
	// to be 0, so stamp the universal NoPage sentinel instead of leaving
	// zero bytes there.
	putLE32(frame.data[0:4], uint32(NoPage))
	frame.dirty = true
	link := p.pinnedFrames.pushTail(frame)
	p.frameTable[id] = link
	return frame, nil
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// AllocateLatched allocates a fresh page and additionally acquires its
// latch in the given mode, matching the allocator contract's
// alloc_latched primitive.
func (p *Pager) AllocateLatched(mode LatchMode) (*Page, error) {
	page, err := p.Allocate()
	if err != nil {
		return nil, err
	}
	page.latch(mode)
	return page, nil
}

// Pin returns the page for id, reading it from disk if it is not already
// resident. Every successful Pin must be paired with exactly one Unpin.
func (p *Pager) Pin(id PageID) (*Page, error) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	if id < 0 || int64(id) >= p.numPages {
		return nil, ErrInvalidPageID
	}
	if link, ok := p.frameTable[id]; ok {
		frame := link.frame
		if link.list == p.unpinnedFrames {
			link.popSelf()
			newLink := p.pinnedFrames.pushTail(frame)
			p.frameTable[id] = newLink
		}
		frame.pin()
		return frame, nil
	}

	frame, err := p.nextFrame(id)
	if err != nil {
		return nil, err
	}
	frame.dirty = false
	if err := p.fillFromDisk(frame); err != nil {
		p.freeFrames.pushTail(frame)
		return nil, err
	}
	link := p.pinnedFrames.pushTail(frame)
	p.frameTable[id] = link
	return frame, nil
}

// Unpin releases one residency claim on page. Once the count reaches zero
// the page becomes eligible for eviction.
func (p *Pager) Unpin(page *Page) error {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	remaining := page.unpin()
	if remaining < 0 {
		return errors.New("storage: pin count went negative")
	}
	if remaining == 0 {
		link := p.frameTable[page.id]
		link.popSelf()
		newLink := p.unpinnedFrames.pushTail(page)
		p.frameTable[page.id] = newLink
	}
	return nil
}

// Free marks id as reusable. The page must not be pinned, and the caller
// is responsible for ensuring no live directory slot still references it.
func (p *Pager) Free(id PageID) error {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	if link, ok := p.frameTable[id]; ok {
		if link.list == p.pinnedFrames {
			return errors.New("storage: cannot free a pinned page")
		}
		link.popSelf()
		frame := link.frame
		delete(p.frameTable, id)
		frame.id = NoPage
		p.freeFrames.pushTail(frame)
	}
	p.freeIDs = append(p.freeIDs, id)
	return nil
}

func (p *Pager) fillFromDisk(frame *Page) error {
	if _, err := p.file.Seek(int64(frame.id)*PageSize, io.SeekStart); err != nil {
		return err
	}
	if _, err := p.file.Read(frame.data); err != nil && err != io.EOF {
		return err
	}
	return nil
}

// flushLocked writes frame to disk if dirty. p.mtx must be held.
func (p *Pager) flushLocked(frame *Page) {
	if !frame.IsDirty() {
		return
	}
	_, _ = p.file.WriteAt(frame.data, int64(frame.id)*PageSize)
	frame.SetDirty(false)
}

// FlushAll writes every dirty resident page to disk.
func (p *Pager) FlushAll() {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	p.pinnedFrames.forEach(p.flushLocked)
	p.unpinnedFrames.forEach(p.flushLocked)
}

// Close flushes all dirty pages and closes the backing file. It fails if
// any page is still pinned.
func (p *Pager) Close() error {
	p.mtx.Lock()
	if p.pinnedFrames.peekHead() != nil {
		p.mtx.Unlock()
		return ErrPagesStillPinned
	}
	p.mtx.Unlock()
	p.FlushAll()
	return p.file.Close()
}
