package chunklist

import (
	"unsafe"

	"github.com/bvscd/embmem/internal/allocator"
	"github.com/bvscd/embmem/internal/memerrors"
)

// chunk is a node of the native linked chunk list. Its payload lives in
// allocator-owned memory; only the header (prev/next linkage and the
// valid-data window) lives in ordinary Go-managed memory, matching the
// split already used by the resizable buffer (header fields on the Go
// struct, raw bytes from the allocator).
//
// The valid data occupies data[start:end]; bytes before start are
// headroom (free space to grow towards the head), bytes after end are
// tailroom (free space to grow towards the tail). cused = end - start,
// cfree = start + (len(data) - end).
type chunk struct {
	prev, next *chunk
	data       []byte
	start, end int
}

func newChunk(alloc *allocator.Allocator, capacity int, forHead bool) (*chunk, error) {
	if capacity <= 0 {
		capacity = 1
	}
	p, err := alloc.Allocate(uintptr(capacity))
	if err != nil {
		return nil, err
	}
	data := unsafe.Slice((*byte)(p), capacity)
	c := &chunk{data: data}
	if forHead {
		c.start, c.end = capacity, capacity
	}
	return c, nil
}

func (c *chunk) cused() int     { return c.end - c.start }
func (c *chunk) headroom() int  { return c.start }
func (c *chunk) tailroom() int  { return len(c.data) - c.end }
func (c *chunk) window() []byte { return c.data[c.start:c.end] }

// linkedChunkList is the native, allocator-backed implementation of
// ChunkList (§6.4 Mode 1), with an attached-view degenerate state (Mode
// 2) modeled as a tagged arm rather than sentinel field overloading.
type linkedChunkList struct {
	alloc     *allocator.Allocator
	chunkSize int

	head, tail *chunk

	attached bool
	view     []byte
}

// NewLinkedChunkList constructs an empty, owned chunk list that allocates
// chunkSize-byte chunks as needed from alloc.
func NewLinkedChunkList(alloc *allocator.Allocator, chunkSize int) ChunkList {
	return &linkedChunkList{alloc: alloc, chunkSize: chunkSize}
}

func (l *linkedChunkList) ensureOwned() error {
	if l.attached {
		return l.Destroy()
	}
	return nil
}

func (l *linkedChunkList) Destroy() error {
	if l.attached {
		l.attached = false
		l.view = nil
		return nil
	}
	for c := l.head; c != nil; {
		next := c.next
		if err := l.alloc.Free(unsafe.Pointer(&c.data[0])); err != nil {
			return err
		}
		c = next
	}
	l.head, l.tail = nil, nil
	return nil
}

func (l *linkedChunkList) Attach(raw []byte) error {
	if err := l.Destroy(); err != nil {
		return err
	}
	l.attached = true
	l.view = raw
	return nil
}

func (l *linkedChunkList) GetSize() int {
	if l.attached {
		return len(l.view)
	}
	total := 0
	for c := l.head; c != nil; c = c.next {
		total += c.cused()
	}
	return total
}

func (l *linkedChunkList) unlink(c *chunk) error {
	if c.prev != nil {
		c.prev.next = c.next
	} else {
		l.head = c.next
	}
	if c.next != nil {
		c.next.prev = c.prev
	} else {
		l.tail = c.prev
	}
	c.prev, c.next = nil, nil
	return l.alloc.Free(unsafe.Pointer(&c.data[0]))
}

func (l *linkedChunkList) appendTail(c *chunk) {
	c.prev = l.tail
	c.next = nil
	if l.tail != nil {
		l.tail.next = c
	} else {
		l.head = c
	}
	l.tail = c
}

func (l *linkedChunkList) prependHead(c *chunk) {
	c.next = l.head
	c.prev = nil
	if l.head != nil {
		l.head.prev = c
	} else {
		l.tail = c
	}
	l.head = c
}

// Push implements §6.4's walk-from-the-target-end algorithm: fill the
// empty chunk nearest the existing data first (or, when there is no empty
// chunk at that end, the free room left in the end chunk itself), only
// reaching further towards the list's outer end (or allocating new chunks
// there) once that one is full.
func (l *linkedChunkList) Push(data []byte, toHead bool) error {
	if err := l.ensureOwned(); err != nil {
		return err
	}
	remaining := data
	if toHead {
		return l.pushHead(remaining)
	}
	return l.pushTail(remaining)
}

func (l *linkedChunkList) pushTail(remaining []byte) error {
	cur := l.innermostEmptyFromTail()
	if cur == nil && l.tail != nil && l.tail.tailroom() > 0 {
		cur = l.tail
	}
	for len(remaining) > 0 {
		if cur == nil {
			c, err := newChunk(l.alloc, l.chunkSize, false)
			if err != nil {
				return err
			}
			l.appendTail(c)
			cur = c
		}
		room := cur.tailroom()
		if room == 0 {
			if cur.next != nil && cur.next.cused() == 0 {
				cur = cur.next
				continue
			}
			c, err := newChunk(l.alloc, l.chunkSize, false)
			if err != nil {
				return err
			}
			l.appendTail(c)
			cur = c
			continue
		}
		n := room
		if n > len(remaining) {
			n = len(remaining)
		}
		copy(cur.data[cur.end:cur.end+n], remaining[:n])
		cur.end += n
		remaining = remaining[n:]
	}
	return nil
}

func (l *linkedChunkList) pushHead(remaining []byte) error {
	cur := l.innermostEmptyFromHead()
	if cur == nil && l.head != nil && l.head.headroom() > 0 {
		cur = l.head
	}
	for len(remaining) > 0 {
		if cur == nil {
			c, err := newChunk(l.alloc, l.chunkSize, true)
			if err != nil {
				return err
			}
			l.prependHead(c)
			cur = c
		}
		room := cur.headroom()
		if room == 0 {
			if cur.prev != nil && cur.prev.cused() == 0 {
				cur = cur.prev
				continue
			}
			c, err := newChunk(l.alloc, l.chunkSize, true)
			if err != nil {
				return err
			}
			l.prependHead(c)
			cur = c
			continue
		}
		n := room
		if n > len(remaining) {
			n = len(remaining)
		}
		tail := remaining[len(remaining)-n:]
		copy(cur.data[cur.start-n:cur.start], tail)
		cur.start -= n
		remaining = remaining[:len(remaining)-n]
	}
	return nil
}

// innermostEmptyFromTail finds the empty chunk closest to the existing
// data from the tail side, walking backward from the list's tail.
func (l *linkedChunkList) innermostEmptyFromTail() *chunk {
	if l.tail == nil {
		return nil
	}
	c := l.tail
	for c.cused() == 0 && c.prev != nil && c.prev.cused() == 0 {
		c = c.prev
	}
	if c.cused() == 0 {
		return c
	}
	return nil
}

// innermostEmptyFromHead is the head-side mirror of innermostEmptyFromTail.
func (l *linkedChunkList) innermostEmptyFromHead() *chunk {
	if l.head == nil {
		return nil
	}
	c := l.head
	for c.cused() == 0 && c.next != nil && c.next.cused() == 0 {
		c = c.next
	}
	if c.cused() == 0 {
		return c
	}
	return nil
}

func (l *linkedChunkList) Get(dst []byte, count int, fromHead, remove bool) bool {
	if l.attached {
		if count > len(l.view) {
			return false
		}
		var src []byte
		if fromHead {
			src = l.view[:count]
		} else {
			src = l.view[len(l.view)-count:]
		}
		if dst != nil {
			copy(dst, src)
		}
		if remove {
			if fromHead {
				l.view = l.view[count:]
			} else {
				l.view = l.view[:len(l.view)-count]
			}
		}
		return true
	}

	if count > l.GetSize() {
		return false
	}

	remaining := count
	dstOff := 0
	var cur *chunk
	if fromHead {
		cur = l.head
	} else {
		cur = l.tail
	}

	for remaining > 0 {
		avail := cur.cused()
		n := avail
		if n > remaining {
			n = remaining
		}
		if dst != nil {
			var src []byte
			if fromHead {
				src = cur.data[cur.start : cur.start+n]
			} else {
				src = cur.data[cur.end-n : cur.end]
			}
			copy(dst[dstOff:dstOff+n], src)
		}
		dstOff += n
		remaining -= n

		next := cur.next
		prev := cur.prev
		if remove {
			if fromHead {
				cur.start += n
			} else {
				cur.end -= n
			}
			if cur.cused() == 0 {
				l.unlink(cur) //nolint:errcheck // chunk was allocated by this list, free cannot meaningfully fail here
			}
		}
		if fromHead {
			cur = next
		} else {
			cur = prev
		}
	}
	return true
}

func (l *linkedChunkList) AcquireBlock(size int, toHead bool) (*Block, error) {
	if err := l.ensureOwned(); err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, memerrors.BadParamf("AcquireBlock", "size must be positive, got %d", size)
	}

	var cur *chunk
	if toHead {
		cur = l.innermostEmptyFromHead()
	} else {
		cur = l.innermostEmptyFromTail()
	}

	room := 0
	if cur != nil {
		if toHead {
			room = cur.headroom()
		} else {
			room = cur.tailroom()
		}
	}
	if cur == nil || room < size {
		capacity := l.chunkSize
		if capacity < size {
			capacity = size
		}
		c, err := newChunk(l.alloc, capacity, toHead)
		if err != nil {
			return nil, err
		}
		if toHead {
			l.prependHead(c)
		} else {
			l.appendTail(c)
		}
		cur = c
	}

	var data []byte
	if toHead {
		data = cur.data[cur.start-size : cur.start]
	} else {
		data = cur.data[cur.end : cur.end+size]
	}
	return &Block{Data: data, lchunk: cur, ltoHead: toHead}, nil
}

func (l *linkedChunkList) ReleaseBlock(blk *Block, used int) error {
	c := blk.lchunk
	if used > 0 {
		if blk.ltoHead {
			copy(c.data[c.start-used:c.start], blk.Data[:used])
			c.start -= used
		} else {
			c.end += used
		}
	}
	if c.cused() == 0 {
		return l.unlink(c)
	}
	return nil
}

func (l *linkedChunkList) Reuse(reserve int) error {
	if err := l.ensureOwned(); err != nil {
		return err
	}
	total := 0
	for c := l.head; c != nil; c = c.next {
		c.start, c.end = 0, 0
		total += len(c.data)
	}
	for total < reserve {
		c, err := newChunk(l.alloc, l.chunkSize, false)
		if err != nil {
			return err
		}
		l.appendTail(c)
		total += len(c.data)
	}
	for l.tail != nil && total-len(l.tail.data) >= reserve {
		total -= len(l.tail.data)
		if err := l.unlink(l.tail); err != nil {
			return err
		}
	}
	return nil
}

func (l *linkedChunkList) NewIterator() Iterator {
	if l.attached {
		return &onceIterator{data: l.view}
	}
	return &linkedIterator{cur: l.head}
}

type linkedIterator struct {
	cur *chunk
}

func (it *linkedIterator) Next() ([]byte, bool) {
	if it.cur == nil {
		return nil, false
	}
	w := it.cur.window()
	it.cur = it.cur.next
	return w, true
}

func (l *linkedChunkList) FindByte(offset int, sample byte) (int, bool) {
	return findByte(l, offset, sample)
}
