// Package chunklist implements a byte stream spread across a list of
// allocator-backed chunks, exposed through one interface with two
// concrete implementations: a native linked chunk chain, and a
// buffer-equivalent mode that degrades every operation onto a resizable
// buffer. Both satisfy ChunkList and are driven by the same test table.
package chunklist

import "github.com/bvscd/embmem/internal/memerrors"

// ChunkList is the byte-stream-over-chunks contract shared by the linked
// and buffer-backed implementations.
type ChunkList interface {
	// Push copies len(data) bytes into the stream at the given end.
	Push(data []byte, toHead bool) error

	// Get copies count bytes from the given end into dst (if dst is
	// non-nil) and optionally consumes them. Returns false, without
	// error, if the stream holds fewer than count bytes.
	Get(dst []byte, count int, fromHead, remove bool) bool

	// AcquireBlock reserves a contiguous writable window of at least size
	// bytes at the given end. The caller must pair every AcquireBlock
	// with exactly one ReleaseBlock.
	AcquireBlock(size int, toHead bool) (*Block, error)

	// ReleaseBlock commits used bytes of a block obtained from
	// AcquireBlock (used may be less than the block's reserved size, or
	// zero to abandon the reservation).
	ReleaseBlock(blk *Block, used int) error

	// Reuse resets every chunk to empty in place, then grows total
	// capacity to at least reserve bytes. The linked mode also releases
	// surplus tail chunks beyond reserve; the buffer-equivalent mode never
	// shrinks its capacity.
	Reuse(reserve int) error

	// NewIterator returns a lazy forward iterator over the stream's
	// blocks (a block per chunk for the linked mode, a single block for
	// the buffer-equivalent and attached-view modes).
	NewIterator() Iterator

	// FindByte scans the stream starting at offset for the first
	// occurrence of sample, returning its absolute index.
	FindByte(offset int, sample byte) (int, bool)

	// GetSize returns the total number of bytes currently held.
	GetSize() int

	// Destroy releases all owned backing storage (or clears an attached
	// view) and leaves the list empty and owned.
	Destroy() error

	// Attach makes the list reference raw without copying, in "attached
	// view" mode; any later mutating call first converts it back to an
	// empty owned list.
	Attach(raw []byte) error
}

// Iterator performs lazy forward traversal over a ChunkList's blocks.
type Iterator interface {
	Next() ([]byte, bool)
}

// Block is a reservation returned by AcquireBlock; its Data window is
// writable immediately but not part of the stream's reported size until
// committed with ReleaseBlock.
type Block struct {
	Data []byte

	lchunk  *chunk
	ltoHead bool

	bl       *bufferChunkList
	btoHead  bool
	bPrevLen int
}

// onceIterator yields a single block, then terminates — used for the
// attached-view and buffer-equivalent modes, which have no chunk chain to
// walk.
type onceIterator struct {
	data []byte
	done bool
}

func (it *onceIterator) Next() ([]byte, bool) {
	if it.done {
		return nil, false
	}
	it.done = true
	if it.data == nil {
		return nil, false
	}
	return it.data, true
}

// findByte implements FindByte against any ChunkList via its iterator,
// shared by both concrete implementations.
func findByte(l ChunkList, offset int, sample byte) (int, bool) {
	it := l.NewIterator()
	skipped := 0
	index := 0
	for {
		blk, ok := it.Next()
		if !ok {
			return 0, false
		}
		start := 0
		if skipped < offset {
			remaining := offset - skipped
			if remaining >= len(blk) {
				skipped += len(blk)
				index += len(blk)
				continue
			}
			start = remaining
			skipped = offset
		}
		for i := start; i < len(blk); i++ {
			if blk[i] == sample {
				return index + i, true
			}
		}
		index += len(blk)
	}
}

// Move transfers bytes bytes from the head of src to the toHead end of
// dst (bytes == 0 means "everything currently in src"). Implemented
// against the common ChunkList interface rather than splicing chunk
// pointers directly: simpler and correct for both concrete
// implementations, at the cost of one intermediate copy.
func Move(dst, src ChunkList, toHead bool, bytes int) error {
	total := src.GetSize()
	if bytes == 0 || bytes > total {
		bytes = total
	}
	if bytes == 0 {
		return nil
	}
	buf := make([]byte, bytes)
	if !src.Get(buf, bytes, true, true) {
		return memerrors.InvalidPointerf("Move", "source list does not hold %d bytes", bytes)
	}
	return dst.Push(buf, toHead)
}
