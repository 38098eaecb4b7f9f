package allocator

import (
	"unsafe"

	"github.com/bvscd/embmem/internal/memerrors"
)

// blockTag is the one-unit header preceding every block in a region. cprev
// holds the previous block's length in units; cnext holds this block's
// length in units, OR'd with busyFlag when the block is in use.
type blockTag struct {
	cprev uint32
	cnext uint32
}

const (
	busyFlag uint32 = 1 << 31
	offsMask uint32 = busyFlag - 1
)

// unitSize is the tag unit: every block's payload is addressed in multiples
// of this size, and every tag occupies exactly one unit.
var unitSize = unsafe.Sizeof(blockTag{})

func (t *blockTag) busy() bool    { return t.cnext&busyFlag != 0 }
func (t *blockTag) length() uint32 { return t.cnext & offsMask }

func (t *blockTag) setBusy(length uint32) { t.cnext = length | busyFlag }
func (t *blockTag) setFree(length uint32) { t.cnext = length &^ busyFlag }

// region is one self-contained block chain: either the allocator's primary
// caller-supplied buffer, or a system-backed extension.
type region struct {
	buf        []byte
	totalUnits uintptr
	// release tears down the backing storage (munmap/VirtualFree) for an
	// extension region. Nil for the primary region, which the caller owns.
	release func() error
}

// newRegion aligns buf to a unit boundary, trims its length to a whole
// number of units, and writes the initial single free block spanning the
// entire region.
func newRegion(buf []byte, release func() error) (*region, error) {
	if len(buf) == 0 {
		return nil, memerrors.BadParamf("Create", "empty buffer")
	}
	base := uintptr(unsafe.Pointer(&buf[0]))
	align := base % unitSize
	if align != 0 {
		skip := unitSize - align
		if skip >= uintptr(len(buf)) {
			return nil, memerrors.BadParamf("Create", "buffer too small to align")
		}
		buf = buf[skip:]
	}
	totalUnits := uintptr(len(buf)) / unitSize
	if totalUnits <= 1 {
		return nil, memerrors.BadParamf("Create", "region must hold more than one unit, got %d", totalUnits)
	}

	r := &region{buf: buf, totalUnits: totalUnits, release: release}
	head := r.tagAt(0)
	head.cprev = 0
	head.setFree(uint32(totalUnits - 1))
	return r, nil
}

// tagAt returns the tag at unit index u. u must be < totalUnits.
func (r *region) tagAt(u uintptr) *blockTag {
	return (*blockTag)(unsafe.Pointer(&r.buf[u*unitSize]))
}

// payloadAt returns the payload byte slice immediately following the tag at
// unit index u, sized to its current declared length in units.
func (r *region) payloadAt(u uintptr) []byte {
	tag := r.tagAt(u)
	start := (u + 1) * unitSize
	end := start + uintptr(tag.length())*unitSize
	return r.buf[start:end]
}

// nextIndex returns the unit index of the block following the one at u,
// which may equal totalUnits (the end-of-region sentinel position).
func (r *region) nextIndex(u uintptr) uintptr {
	tag := r.tagAt(u)
	return u + 1 + uintptr(tag.length())
}

// prevIndex returns the unit index of the block preceding the one at u. Only
// valid when u is not the first block (cprev carries 0 for the first block,
// which callers must check for separately).
func (r *region) prevIndex(u uintptr) uintptr {
	tag := r.tagAt(u)
	return u - 1 - uintptr(tag.cprev)
}

// ptrForUnit returns the caller-visible pointer for the payload of the block
// whose tag sits at unit index u: the byte immediately after the tag.
func (r *region) ptrForUnit(u uintptr) unsafe.Pointer {
	return unsafe.Pointer(&r.buf[(u+1)*unitSize])
}

// unitForPtr recovers the tag unit index owning payload pointer p, or false
// if p does not land on a unit boundary inside this region.
func (r *region) unitForPtr(p unsafe.Pointer) (uintptr, bool) {
	base := uintptr(unsafe.Pointer(&r.buf[0]))
	off := uintptr(p) - base
	// off == 0 means p == base: the region's first tag, never a payload
	// pointer (every payload starts at least one unit past base). Reject it
	// explicitly before the subtraction below, which would otherwise wrap
	// uintptr(0) - 1 around to its maximum value and smuggle a bogus "found"
	// result past the totalUnits guard.
	if uintptr(p) <= base || off >= uintptr(len(r.buf)) {
		return 0, false
	}
	if off%unitSize != 0 {
		return 0, false
	}
	u := off/unitSize - 1
	if u+1 >= r.totalUnits {
		return 0, false
	}
	return u, true
}

// setNextCprev fixes the cprev of the block following the one at u to match
// u's current declared length, after u's length has changed (split or
// coalesce).
func (r *region) setNextCprev(u uintptr) {
	next := r.nextIndex(u)
	if next >= r.totalUnits {
		return
	}
	r.tagAt(next).cprev = r.tagAt(u).length()
}

// isSingleFreeBlock reports whether the region consists of exactly one free
// block spanning its entire capacity, the condition under which an
// extension is torn down.
func (r *region) isSingleFreeBlock() bool {
	head := r.tagAt(0)
	return !head.busy() && uintptr(head.length())+1 == r.totalUnits
}

// walkToUnit walks the block chain from the region start looking for a
// block whose tag begins exactly at unit index target. It reports whether
// such a block was found, and separately whether the chain itself is
// internally consistent (next.cprev matches cur's declared length, and the
// walk lands exactly on totalUnits). An inconsistent chain indicates heap
// corruption independent of whether target was found.
func (r *region) walkToUnit(target uintptr) (found bool, consistent bool) {
	u := uintptr(0)
	steps := uintptr(0)
	for u < r.totalUnits {
		if steps > r.totalUnits {
			return found, false
		}
		if u == target {
			found = true
		}
		tag := r.tagAt(u)
		next := r.nextIndex(u)
		if next > r.totalUnits {
			return found, false
		}
		if next < r.totalUnits && r.tagAt(next).cprev != tag.length() {
			return found, false
		}
		u = next
		steps++
	}
	return found, u == r.totalUnits
}
