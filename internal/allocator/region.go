package allocator

import (
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"github.com/bvscd/embmem/internal/memerrors"
)

// Stats summarizes one allocator's byte accounting across its primary
// region and any extensions, at the moment it was captured.
type Stats struct {
	FreeBytes     uintptr
	BusyBytes     uintptr
	ExtensionCount int
	PoolCount      int
}

type origin struct {
	file string
	line int
}

// Allocator is a first-fit coalescing region allocator over a caller-owned
// byte buffer, with optional growth via system-backed extensions and an
// optional bitmap pool layer.
type Allocator struct {
	mu sync.Mutex

	cfg Config

	primary    *region
	extensions []*region
	pools      []*pool

	origins  map[uintptr]origin
	poisoned *memerrors.Error

	monitor *heapMonitor
}

// NewAllocator constructs an allocator over buf, the caller-supplied primary
// region. buf must, once aligned to the tag unit size, hold more than one
// unit (see UnitBytes).
func NewAllocator(buf []byte, opts ...Option) (*Allocator, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}

	r, err := newRegion(buf, nil)
	if err != nil {
		return nil, err
	}

	a := &Allocator{
		cfg:     cfg,
		primary: r,
	}
	if cfg.EnableDebug {
		a.origins = make(map[uintptr]origin)
	}
	if cfg.HeapMonitorInterval > 0 {
		a.monitor = newHeapMonitor(a, cfg.HeapMonitorInterval, cfg.HeapMonitorWriter)
		a.monitor.start()
	}
	return a, nil
}

// Destroy stops any background heap monitor and releases all extensions.
// The primary buffer itself is caller-owned and is not touched.
func (a *Allocator) Destroy() {
	if a.monitor != nil {
		a.monitor.stop()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, ext := range a.extensions {
		if ext.release != nil {
			_ = ext.release()
		}
	}
	a.extensions = nil
}

// UnitBytes returns the size in bytes of one tag unit, the granularity at
// which allocation requests are rounded.
func (a *Allocator) UnitBytes() uintptr { return unitSize }

func (a *Allocator) poisonedErr() error {
	if a.poisoned != nil {
		return a.poisoned
	}
	return nil
}

// Allocate reserves at least size bytes and returns a pointer to the start
// of the reservation.
func (a *Allocator) Allocate(size uintptr) (unsafe.Pointer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.poisonedErr(); err != nil {
		return nil, err
	}

	p, err := a.allocateLocked(size)
	if err != nil {
		return nil, err
	}
	if a.cfg.EnableDebug {
		a.recordOrigin(p)
	}
	return p, nil
}

func (a *Allocator) recordOrigin(p unsafe.Pointer) {
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		file, line = "unknown", 0
	}
	a.origins[uintptr(p)] = origin{file: file, line: line}
	if !a.cfg.NoTrace {
		fmt.Fprintf(a.cfg.DebugWriter, "alloc %p at %s:%d\n", p, file, line)
	}
}

func (a *Allocator) allocateLocked(size uintptr) (unsafe.Pointer, error) {
	k := unitsFor(size)

	if p, ok := tryAllocateInRegion(a.primary, k); ok {
		return p, nil
	}
	for _, ext := range a.extensions {
		if p, ok := tryAllocateInRegion(ext, k); ok {
			return p, nil
		}
	}

	if !a.cfg.UseSystemFallback {
		return nil, memerrors.NoMemoryf("Allocate", size)
	}

	extUnits := uintptr(k) + 1
	if a.primary.totalUnits > extUnits {
		extUnits = a.primary.totalUnits
	}
	ext, err := newSystemExtension(extUnits * unitSize)
	if err != nil {
		return nil, memerrors.NoMemoryf("Allocate", size)
	}
	a.extensions = append(a.extensions, ext)
	p, ok := tryAllocateInRegion(ext, k)
	if !ok {
		return nil, memerrors.Internalf("Allocate", "fresh extension could not satisfy request of %d units", k)
	}
	return p, nil
}

// unitsFor rounds a byte size up to whole tag units, with a floor of one
// unit (a zero-byte allocation still reserves one unit).
func unitsFor(size uintptr) uint32 {
	k := (size + unitSize - 1) / unitSize
	if k == 0 {
		k = 1
	}
	return uint32(k)
}

// tryAllocateInRegion walks r's block chain for the fragmentation-aware
// first-fit candidate and, if found, splits and marks it busy.
func tryAllocateInRegion(r *region, k uint32) (unsafe.Pointer, bool) {
	bestIdx, found := selectCandidate(r, k)
	if !found {
		return nil, false
	}
	splitAndMark(r, bestIdx, k)
	return r.ptrForUnit(bestIdx), true
}

// selectCandidate walks the chain once and returns the unit index of the
// free block minimizing slack + 3*neighbor_busy/4.
func selectCandidate(r *region, k uint32) (uintptr, bool) {
	var (
		bestIdx   uintptr
		bestScore int64 = -1
		found     bool
	)

	for u := uintptr(0); u < r.totalUnits; u = r.nextIndex(u) {
		tag := r.tagAt(u)
		if tag.busy() {
			continue
		}
		length := tag.length()
		if length < k {
			continue
		}

		var neighborBusy uint32
		next := r.nextIndex(u)
		if next < r.totalUnits {
			nt := r.tagAt(next)
			if nt.busy() {
				neighborBusy = nt.length()
			}
		}

		slack := int64(length - k)
		score := slack + (3*int64(neighborBusy))/4
		if !found || score < bestScore {
			bestScore = score
			bestIdx = u
			found = true
		}
	}
	return bestIdx, found
}

// splitAndMark carves k payload units out of the free block at idx, leaving
// a free tail when it would hold at least 2 units, and marks the head busy.
func splitAndMark(r *region, idx uintptr, k uint32) {
	head := r.tagAt(idx)
	length := head.length()

	tailPayload := int64(length) - int64(k) - 1
	if tailPayload < 2 {
		head.setBusy(length)
		return
	}

	head.setBusy(k)
	tailIdx := idx + 1 + uintptr(k)
	tail := r.tagAt(tailIdx)
	tail.cprev = k
	tail.setFree(uint32(tailPayload))
	r.setNextCprev(tailIdx)
}

// Free releases the reservation at p, coalescing with adjacent free blocks
// and tearing down an extension that becomes entirely free.
func (a *Allocator) Free(p unsafe.Pointer) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.poisonedErr(); err != nil {
		return err
	}

	if a.cfg.EnablePools {
		if handled, err := a.freeFromPoolLocked(p); handled {
			return err
		}
	}

	return a.freeInternalLocked(p)
}

// freeInternalLocked performs the region-level free for p: locate its
// owning block, coalesce, and tear down a fully-freed extension. Caller
// must already hold a.mu.
func (a *Allocator) freeInternalLocked(p unsafe.Pointer) error {
	r, u, err := a.locateBusyBlock(p)
	if err != nil {
		return err
	}

	freeBlock(r, u)

	if r != a.primary && r.isSingleFreeBlock() {
		a.removeExtension(r)
	}

	if a.cfg.EnableDebug {
		delete(a.origins, uintptr(p))
	}
	return nil
}

// locateBusyBlock finds the region owning p and validates that a busy block
// begins exactly at p's unit, returning invalid_pointer or heap_corrupted as
// appropriate.
func (a *Allocator) locateBusyBlock(p unsafe.Pointer) (*region, uintptr, error) {
	regions := append([]*region{a.primary}, a.extensions...)
	for _, r := range regions {
		u, ok := r.unitForPtr(p)
		if !ok {
			continue
		}
		found, consistent := r.walkToUnit(u)
		if !consistent {
			err := memerrors.HeapCorruptedf("Free", "tag chain inconsistent in region containing %p", p)
			a.markPoisoned(err)
			return nil, 0, err
		}
		if !found {
			return nil, 0, memerrors.InvalidPointerf("Free", "pointer %p does not begin a block", p)
		}
		tag := r.tagAt(u)
		if !tag.busy() {
			return nil, 0, memerrors.InvalidPointerf("Free", "pointer %p refers to a free block", p)
		}
		return r, u, nil
	}
	return nil, 0, memerrors.InvalidPointerf("Free", "pointer %p is not owned by this allocator", p)
}

// freeBlock clears BUSY on the block at u, then coalesces forward and
// backward, fixing cprev links as it goes.
func freeBlock(r *region, u uintptr) {
	tag := r.tagAt(u)
	tag.setFree(tag.length())

	next := r.nextIndex(u)
	if next < r.totalUnits {
		nt := r.tagAt(next)
		if !nt.busy() {
			merged := tag.length() + 1 + nt.length()
			tag.setFree(merged)
			r.setNextCprev(u)
		}
	}

	if u > 0 {
		prev := r.prevIndex(u)
		pt := r.tagAt(prev)
		if !pt.busy() {
			merged := pt.length() + 1 + tag.length()
			pt.setFree(merged)
			r.setNextCprev(prev)
		}
	}
}

func (a *Allocator) removeExtension(r *region) {
	for i, ext := range a.extensions {
		if ext == r {
			a.extensions = append(a.extensions[:i], a.extensions[i+1:]...)
			if r.release != nil {
				_ = r.release()
			}
			return
		}
	}
}

// AllocateInRange returns a reservation of some size between min and max
// bytes inclusive, preferring the largest free block not exceeding max, or
// exactly max when system fallback growth is permitted.
func (a *Allocator) AllocateInRange(min, max uintptr) (unsafe.Pointer, uintptr, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.poisonedErr(); err != nil {
		return nil, 0, err
	}

	target := max
	if !a.cfg.UseSystemFallback {
		target = a.largestFreeNotExceeding(max)
		if target < min {
			return nil, 0, memerrors.NoMemoryf("AllocateInRange", min)
		}
	}

	p, err := a.allocateLocked(target)
	if err != nil {
		return nil, 0, err
	}
	if a.cfg.EnableDebug {
		a.recordOrigin(p)
	}
	return p, target, nil
}

func (a *Allocator) largestFreeNotExceeding(max uintptr) uintptr {
	maxUnits := max / unitSize
	var best uint32
	scan := func(r *region) {
		for u := uintptr(0); u < r.totalUnits; u = r.nextIndex(u) {
			tag := r.tagAt(u)
			if tag.busy() {
				continue
			}
			length := tag.length()
			if uintptr(length) > maxUnits {
				length = uint32(maxUnits)
			}
			if length > best {
				best = length
			}
		}
	}
	scan(a.primary)
	for _, ext := range a.extensions {
		scan(ext)
	}
	return uintptr(best) * unitSize
}

// PointerIsWithin reports whether p lies inside one of this allocator's
// regions at a whole unit offset, without walking the chain to confirm it
// begins an actual block.
func (a *Allocator) PointerIsWithin(p unsafe.Pointer) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.primary.unitForPtr(p); ok {
		return true
	}
	for _, ext := range a.extensions {
		if _, ok := ext.unitForPtr(p); ok {
			return true
		}
	}
	return false
}

// MaxFreeBlockBytes returns the payload size, in bytes, of the largest
// single free block across the primary region and all extensions.
func (a *Allocator) MaxFreeBlockBytes() uintptr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.largestFreeNotExceeding(^uintptr(0))
}

// Stats reports the current free/busy byte totals across every region.
func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	var s Stats
	accumulate := func(r *region) {
		for u := uintptr(0); u < r.totalUnits; u = r.nextIndex(u) {
			tag := r.tagAt(u)
			bytes := uintptr(tag.length()) * unitSize
			if tag.busy() {
				s.BusyBytes += bytes
			} else {
				s.FreeBytes += bytes
			}
		}
	}
	accumulate(a.primary)
	for _, ext := range a.extensions {
		accumulate(ext)
	}
	s.ExtensionCount = len(a.extensions)
	s.PoolCount = len(a.pools)
	return s
}

// markPoisoned latches a fatal heap_corrupted condition: every subsequent
// Allocate, AllocateInRange, AllocateFromPool and Free call fails
// immediately without re-walking the chain. PointerIsWithin,
// MaxFreeBlockBytes and Stats do not check the latch.
func (a *Allocator) markPoisoned(err *memerrors.Error) {
	a.poisoned = err
}

// HeapMonitorHistory returns the most recent CSV rows emitted by the
// background heap monitor (see Config.HeapMonitorInterval), oldest first.
// Returns nil when the monitor is disabled.
func (a *Allocator) HeapMonitorHistory() []string {
	if a.monitor == nil {
		return nil
	}
	return a.monitor.History()
}
