// Package membuf implements the polymorphic resizable buffer: a
// variable-length container addressed in fixed-width atoms (1, 2, 4, or 8
// bytes) that grows geometrically through a region allocator and supports
// attaching to externally owned memory without copying.
package membuf

import (
	"unsafe"

	"github.com/bvscd/embmem/internal/allocator"
	"github.com/bvscd/embmem/internal/memerrors"
)

// Mode flag bits, packed the same way as the source's buf_const_t: the low
// five bits of a combined word carry the atom size and bits 8..29 carry the
// free-capacity-in-atoms, leaving these four bits free for mode flags.
const (
	Secured  uint32 = 0x20
	Attached uint32 = 0x40
	Shared   uint32 = 0x80
	NoGrowth uint32 = 0x40000000

	atomMask  uint32 = 0x1F
	allocMask uint32 = 0x3FFFFF00
	modeMask  uint32 = Secured | Attached | Shared | NoGrowth
)

// Buffer is a polymorphic, atom-sized, geometrically-growing byte container.
// Callers must externally serialize operations on the same Buffer; nothing
// here is safe for concurrent use (see the allocator's own concurrency
// model, which this type inherits at one remove).
type Buffer struct {
	atomSize uintptr
	mode     uint32

	length   uintptr // atoms
	capacity uintptr // atoms

	data     []byte // capacity*atomSize bytes, nil when capacity == 0
	allocPtr unsafe.Pointer // non-nil only when this buffer owns data

	alloc *allocator.Allocator
}

// Create constructs a buffer with the given atom size (<= 31 bytes) and
// mode flags. If initialAtoms > 0, alloc must be non-nil and initialAtoms *
// atomSize bytes are reserved immediately; otherwise the buffer starts
// empty and alloc is retained for a future Expand/Load/Fill call.
func Create(atomSize, initialAtoms uintptr, flags uint32, alloc *allocator.Allocator) (*Buffer, error) {
	if atomSize > uintptr(atomMask) {
		return nil, memerrors.BadParamf("Create", "atom size %d exceeds the 31-byte limit", atomSize)
	}
	if flags&^modeMask != 0 {
		return nil, memerrors.BadParamf("Create", "flags %#x intrude into the atom/capacity bit range", flags)
	}

	b := &Buffer{atomSize: atomSize, mode: flags, alloc: alloc}
	if initialAtoms == 0 {
		return b, nil
	}
	if alloc == nil {
		return nil, memerrors.Internalf("Create", "non-zero initial length requires an allocator")
	}

	p, err := alloc.Allocate(initialAtoms * atomSize)
	if err != nil {
		return nil, err
	}
	b.allocPtr = p
	b.capacity = initialAtoms
	b.data = unsafe.Slice((*byte)(p), initialAtoms*atomSize)
	return b, nil
}

// AtomSize returns the buffer's atom width in bytes.
func (b *Buffer) AtomSize() uintptr { return b.atomSize }

// Length returns the current data length in atoms.
func (b *Buffer) Length() uintptr { return b.length }

// Capacity returns the currently allocated capacity in atoms.
func (b *Buffer) Capacity() uintptr { return b.capacity }

// Flags reconstructs the packed mode/atom/capacity word described in §8.3,
// for callers that want the source's bit layout rather than the separate
// Go-native accessors.
func (b *Buffer) Flags() uint32 {
	free := uint32(b.capacity-b.length) << 8
	return (b.mode & modeMask) | (uint32(b.atomSize) & atomMask) | (free & allocMask)
}

func (b *Buffer) IsSecured() bool  { return b.mode&Secured != 0 }
func (b *Buffer) IsAttached() bool { return b.mode&Attached != 0 }
func (b *Buffer) IsShared() bool   { return b.mode&Shared != 0 }
func (b *Buffer) IsNoGrowth() bool { return b.mode&NoGrowth != 0 }

// Bytes returns the raw byte view of the buffer's current length (not its
// full capacity). The returned slice aliases the buffer's backing storage.
func (b *Buffer) Bytes() []byte {
	if b.data == nil {
		return nil
	}
	return b.data[:b.length*b.atomSize]
}

// capBytes returns the raw byte view of the buffer's full capacity.
func (b *Buffer) capBytes() []byte {
	if b.data == nil {
		return nil
	}
	return b.data[:b.capacity*b.atomSize]
}

// Destroy releases the buffer's backing storage: zeroized first if Secured
// and not Shared, freed through the allocator unless Attached. Safe to call
// more than once.
func (b *Buffer) Destroy() error {
	var err error
	if b.data != nil {
		if b.mode&Secured != 0 && b.mode&Shared == 0 {
			clear(b.capBytes())
		}
		if b.mode&Attached == 0 && b.capacity > 0 {
			err = b.alloc.Free(b.allocPtr)
		}
	}
	b.data = nil
	b.allocPtr = nil
	b.length = 0
	b.capacity = 0
	b.mode &^= Attached | Shared
	return err
}

// Expand grows capacity to at least target atoms, preserving existing
// content and length. A no-op if target does not exceed the current
// capacity.
func (b *Buffer) Expand(target uintptr) error {
	if target <= b.capacity {
		return nil
	}
	if b.mode&Attached != 0 {
		return memerrors.UnexpectedCallf("Expand", "cannot grow an attached buffer")
	}
	if b.alloc == nil {
		return memerrors.Internalf("Expand", "buffer has no allocator to grow from")
	}

	newCap := b.capacity
	if b.mode&NoGrowth != 0 {
		newCap = target
	} else {
		if newCap == 0 {
			newCap = b.alloc.UnitBytes() / b.atomSize
			if newCap == 0 {
				newCap = 1
			}
		}
		for newCap < target {
			next := newCap * 2
			if next <= newCap {
				return memerrors.Internalf("Expand", "capacity overflow doubling from %d", newCap)
			}
			newCap = next
		}
	}

	p, err := b.alloc.Allocate(newCap * b.atomSize)
	if err != nil {
		return err
	}
	newData := unsafe.Slice((*byte)(p), newCap*b.atomSize)
	copy(newData, b.data[:b.length*b.atomSize])

	oldPtr, oldCap := b.allocPtr, b.capacity
	b.data = newData
	b.allocPtr = p
	b.capacity = newCap

	if oldCap > 0 {
		if ferr := b.alloc.Free(oldPtr); ferr != nil {
			return ferr
		}
	}
	return nil
}

// Load copies countAtoms atoms from src into the buffer at offsetAtoms,
// expanding as needed. Final length is max(length, offset+count). Fails
// with invalid_pointer if src aliases the buffer's current backing storage
// (a reallocating copy must not read from memory it is about to move).
func (b *Buffer) Load(src []byte, offsetAtoms, countAtoms uintptr) error {
	if countAtoms == 0 {
		return nil
	}
	if b.aliases(src) {
		return memerrors.InvalidPointerf("Load", "source aliases the buffer's current backing storage")
	}

	end := offsetAtoms + countAtoms
	if end > b.capacity {
		if err := b.Expand(end); err != nil {
			return err
		}
	}

	copy(b.data[offsetAtoms*b.atomSize:end*b.atomSize], src[:countAtoms*b.atomSize])
	if end > b.length {
		b.length = end
	}
	return nil
}

func (b *Buffer) aliases(src []byte) bool {
	if len(src) == 0 || b.data == nil {
		return false
	}
	base := uintptr(unsafe.Pointer(&b.data[0]))
	p := uintptr(unsafe.Pointer(&src[0]))
	end := base + uintptr(len(b.data))
	return p >= base && p < end
}

// Fill writes sample, truncated to the buffer's atom width, into
// countAtoms atoms starting at offsetAtoms, expanding as needed.
func (b *Buffer) Fill(sample uint64, offsetAtoms, countAtoms uintptr) error {
	end := offsetAtoms + countAtoms
	if err := b.Expand(end); err != nil {
		return err
	}

	switch b.atomSize {
	case 1:
		v := byte(sample)
		for i := offsetAtoms; i < end; i++ {
			b.data[i] = v
		}
	case 2:
		v := uint16(sample)
		view := unsafe.Slice((*uint16)(unsafe.Pointer(&b.data[0])), b.capacity)
		for i := offsetAtoms; i < end; i++ {
			view[i] = v
		}
	case 4:
		v := uint32(sample)
		view := unsafe.Slice((*uint32)(unsafe.Pointer(&b.data[0])), b.capacity)
		for i := offsetAtoms; i < end; i++ {
			view[i] = v
		}
	case 8:
		view := unsafe.Slice((*uint64)(unsafe.Pointer(&b.data[0])), b.capacity)
		for i := offsetAtoms; i < end; i++ {
			view[i] = sample
		}
	default:
		return memerrors.UnexpectedCallf("Fill", "atom size %d has no native width store", b.atomSize)
	}

	if end > b.length {
		b.length = end
	}
	return nil
}

// Attach destroys any current backing and sets the buffer to reference raw
// without copying, marking it Attached (and Shared if requested). usedAtoms
// must not exceed capacityAtoms. raw must hold at least capacityAtoms *
// atomSize bytes.
func (b *Buffer) Attach(raw []byte, usedAtoms, capacityAtoms uintptr, shared bool) error {
	if usedAtoms > capacityAtoms {
		return memerrors.BadParamf("Attach", "used atoms %d exceeds capacity %d", usedAtoms, capacityAtoms)
	}
	if err := b.Destroy(); err != nil {
		return err
	}

	b.data = raw[:capacityAtoms*b.atomSize]
	b.allocPtr = nil
	b.length = usedAtoms
	b.capacity = capacityAtoms
	b.mode |= Attached
	if shared {
		b.mode |= Shared
	} else {
		b.mode &^= Shared
	}
	return nil
}

// Detach releases the buffer's attachment: if attached, the pointer is
// dropped without freeing; if owned, the backing storage is freed. Either
// way length and capacity reset to zero.
func (b *Buffer) Detach() error {
	if err := b.Destroy(); err != nil {
		return err
	}
	b.mode &^= Attached | Shared
	return nil
}

// SetEmpty resets length to zero, zeroizing the full capacity first when
// Secured.
func (b *Buffer) SetEmpty() {
	if b.mode&Secured != 0 {
		clear(b.capBytes())
	}
	b.length = 0
}

// SetLength sets the data length directly; len must not exceed capacity.
func (b *Buffer) SetLength(length uintptr) error {
	if length > b.capacity {
		return memerrors.OutOfBoundsf("SetLength", length, b.capacity)
	}
	b.length = length
	return nil
}

// Equal reports whether two buffers share the same atom size, length, and
// byte-identical payload.
func Equal(a, b *Buffer) bool {
	if a.atomSize != b.atomSize || a.length != b.length {
		return false
	}
	ab, bb := a.Bytes(), b.Bytes()
	if len(ab) != len(bb) {
		return false
	}
	for i := range ab {
		if ab[i] != bb[i] {
			return false
		}
	}
	return true
}
