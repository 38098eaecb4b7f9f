package chunklist

import (
	"github.com/bvscd/embmem/internal/allocator"
	"github.com/bvscd/embmem/internal/membuf"
	"github.com/bvscd/embmem/internal/memerrors"
)

// bufferChunkList is the Mode 3 compile-time alternative from §6.4: the
// chunk list is structurally identical to a resizable buffer, and every
// ChunkList operation degrades onto membuf.Buffer calls.
type bufferChunkList struct {
	buf      *membuf.Buffer
	attached bool
	view     []byte
}

// NewBufferChunkList constructs a ChunkList backed by a single
// byte-atom resizable buffer rather than a linked chunk chain.
func NewBufferChunkList(alloc *allocator.Allocator) (ChunkList, error) {
	b, err := membuf.Create(1, 0, 0, alloc)
	if err != nil {
		return nil, err
	}
	return &bufferChunkList{buf: b}, nil
}

func (l *bufferChunkList) ensureOwned() error {
	if l.attached {
		l.attached = false
		l.view = nil
	}
	return nil
}

func (l *bufferChunkList) GetSize() int {
	if l.attached {
		return len(l.view)
	}
	return int(l.buf.Length())
}

func (l *bufferChunkList) Push(data []byte, toHead bool) error {
	if err := l.ensureOwned(); err != nil {
		return err
	}
	if !toHead {
		return l.buf.Load(data, l.buf.Length(), uintptr(len(data)))
	}

	old := append([]byte(nil), l.buf.Bytes()...)
	combined := make([]byte, 0, len(data)+len(old))
	combined = append(combined, data...)
	combined = append(combined, old...)
	l.buf.SetEmpty()
	return l.buf.Load(combined, 0, uintptr(len(combined)))
}

func (l *bufferChunkList) Get(dst []byte, count int, fromHead, remove bool) bool {
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

	total := int(l.buf.Length())
	if count > total {
		return false
	}
	raw := l.buf.Bytes()
	var src []byte
	if fromHead {
		src = raw[:count]
	} else {
		src = raw[total-count:]
	}
	if dst != nil {
		copy(dst, src)
	}
	if remove {
		if fromHead {
			rest := append([]byte(nil), raw[count:]...)
			l.buf.SetEmpty()
			if len(rest) > 0 {
				return l.buf.Load(rest, 0, uintptr(len(rest))) == nil
			}
		} else {
			return l.buf.SetLength(uintptr(total - count)) == nil
		}
	}
	return true
}

func (l *bufferChunkList) AcquireBlock(size int, toHead bool) (*Block, error) {
	if err := l.ensureOwned(); err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, memerrors.BadParamf("AcquireBlock", "size must be positive, got %d", size)
	}
	prevLen := l.buf.Length()
	if err := l.buf.Expand(prevLen + uintptr(size)); err != nil {
		return nil, err
	}
	window := l.buf.CapBytes()[prevLen : prevLen+uintptr(size)]
	return &Block{Data: window, bl: l, btoHead: toHead, bPrevLen: int(prevLen)}, nil
}

func (l *bufferChunkList) ReleaseBlock(blk *Block, used int) error {
	if !blk.btoHead {
		return l.buf.SetLength(uintptr(blk.bPrevLen + used))
	}
	if used == 0 {
		return l.buf.SetLength(uintptr(blk.bPrevLen))
	}
	usedBytes := append([]byte(nil), blk.Data[:used]...)
	old := append([]byte(nil), l.buf.Bytes()[:blk.bPrevLen]...)
	combined := append(usedBytes, old...)
	l.buf.SetEmpty()
	return l.buf.Load(combined, 0, uintptr(len(combined)))
}

func (l *bufferChunkList) Reuse(reserve int) error {
	if err := l.ensureOwned(); err != nil {
		return err
	}
	l.buf.SetEmpty()
	return l.buf.Expand(uintptr(reserve))
}

func (l *bufferChunkList) NewIterator() Iterator {
	if l.attached {
		return &onceIterator{data: l.view}
	}
	return &onceIterator{data: l.buf.Bytes()}
}

func (l *bufferChunkList) FindByte(offset int, sample byte) (int, bool) {
	return findByte(l, offset, sample)
}

func (l *bufferChunkList) Destroy() error {
	if l.attached {
		l.attached = false
		l.view = nil
		return nil
	}
	return l.buf.Destroy()
}

func (l *bufferChunkList) Attach(raw []byte) error {
	if err := l.Destroy(); err != nil {
		return err
	}
	l.attached = true
	l.view = raw
	return nil
}
