package membuf

import (
	"testing"

	"github.com/bvscd/embmem/internal/allocator"
)

func mustAllocator(t *testing.T, size int) *allocator.Allocator {
	t.Helper()
	a, err := allocator.NewAllocator(make([]byte, size))
	if err != nil {
		t.Fatalf("NewAllocator: %v", err)
	}
	return a
}

func TestCreateRejectsOversizedAtom(t *testing.T) {
	if _, err := Create(32, 0, 0, nil); err == nil {
		t.Fatal("expected an error for an atom size beyond the 31-byte mask")
	}
}

func TestCreateRejectsFlagsIntrudingOnPackedBits(t *testing.T) {
	if _, err := Create(1, 0, atomMask, nil); err == nil {
		t.Fatal("expected an error when caller-supplied flags overlap the atom/capacity bit range")
	}
}

func TestCreateZeroLengthNeedsNoAllocator(t *testing.T) {
	b, err := Create(1, 0, 0, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if b.Capacity() != 0 || b.Length() != 0 {
		t.Fatal("expected an empty buffer")
	}
}

func TestCreateNonZeroLengthWithoutAllocatorFails(t *testing.T) {
	if _, err := Create(1, 4, 0, nil); err == nil {
		t.Fatal("expected an error requesting initial capacity without an allocator")
	}
}

func TestLoadGrowsAndPreservesContent(t *testing.T) {
	a := mustAllocator(t, 4096)
	b, err := Create(1, 4, 0, a)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := b.Load([]byte("abcd"), 0, 4); err != nil {
		t.Fatalf("Load initial: %v", err)
	}
	if err := b.Load([]byte("efgh"), 4, 4); err != nil {
		t.Fatalf("Load growth: %v", err)
	}
	if b.Length() != 8 {
		t.Fatalf("expected length 8, got %d", b.Length())
	}
	if string(b.Bytes()) != "abcdefgh" {
		t.Fatalf("expected %q, got %q", "abcdefgh", b.Bytes())
	}
	if b.Capacity() < 8 {
		t.Fatalf("expected capacity to have grown to at least 8, got %d", b.Capacity())
	}
}

func TestLoadRejectsAliasingSource(t *testing.T) {
	a := mustAllocator(t, 4096)
	b, err := Create(1, 8, 0, a)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := b.Load([]byte("12345678"), 0, 8); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := b.Load(b.Bytes(), 0, 8); err == nil {
		t.Fatal("expected an invalid_pointer error loading from the buffer's own storage")
	}
}

func TestFillWidensAcrossAtomSizes(t *testing.T) {
	for _, atomSize := range []uintptr{1, 2, 4, 8} {
		a := mustAllocator(t, 4096)
		b, err := Create(atomSize, 0, 0, a)
		if err != nil {
			t.Fatalf("Create atomSize=%d: %v", atomSize, err)
		}
		if err := b.Fill(0xAB, 0, 4); err != nil {
			t.Fatalf("Fill atomSize=%d: %v", atomSize, err)
		}
		if b.Length() != 4 {
			t.Fatalf("atomSize=%d: expected length 4, got %d", atomSize, b.Length())
		}
		raw := b.Bytes()
		if uintptr(len(raw)) != 4*atomSize {
			t.Fatalf("atomSize=%d: expected %d raw bytes, got %d", atomSize, 4*atomSize, len(raw))
		}
	}
}

func TestFillUnsupportedAtomSizeFails(t *testing.T) {
	a := mustAllocator(t, 4096)
	b, err := Create(3, 0, 0, a)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := b.Fill(1, 0, 1); err == nil {
		t.Fatal("expected an error filling an atom width with no native store")
	}
}

func TestAttachDoesNotCopyAndDetachDropsWithoutFreeing(t *testing.T) {
	raw := make([]byte, 16)
	for i := range raw {
		raw[i] = byte(i)
	}
	b, err := Create(1, 0, 0, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := b.Attach(raw, 8, 16, false); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if !b.IsAttached() {
		t.Fatal("expected the buffer to report Attached")
	}
	if b.Length() != 8 || b.Capacity() != 16 {
		t.Fatalf("unexpected length/capacity after attach: %d/%d", b.Length(), b.Capacity())
	}
	// Mutating raw must be visible through the buffer: no copy was made.
	raw[0] = 0xFF
	if b.Bytes()[0] != 0xFF {
		t.Fatal("expected Attach to alias the caller's storage rather than copy it")
	}

	if err := b.Detach(); err != nil {
		t.Fatalf("Detach: %v", err)
	}
	if b.Capacity() != 0 || b.Length() != 0 {
		t.Fatal("expected Detach to reset length and capacity")
	}
}

// TestAttachThenDestroyLeavesArrayUntouched is scenario S4: attach over a
// caller-owned, shared array and destroy the buffer. Shared overrides the
// Secured zero-wipe, and Attached means no free, so the array must come
// through untouched.
func TestAttachThenDestroyLeavesArrayUntouched(t *testing.T) {
	raw := make([]byte, 256)
	for i := range raw {
		raw[i] = byte(i + 1)
	}
	shadow := make([]byte, len(raw))
	copy(shadow, raw)

	b, err := Create(1, 0, Secured, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := b.Attach(raw, 100, 256, true); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if !b.IsShared() {
		t.Fatal("expected Attach(shared=true) to set the Shared flag")
	}
	if err := b.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if string(raw) != string(shadow) {
		t.Fatal("expected a shared, attached buffer's Destroy to neither wipe nor free the caller's array")
	}
}

func TestExpandFailsOnAttachedBuffer(t *testing.T) {
	raw := make([]byte, 4)
	b, err := Create(1, 0, 0, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := b.Attach(raw, 4, 4, false); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if err := b.Expand(64); err == nil {
		t.Fatal("expected Expand to fail on an attached buffer")
	}
}

func TestNoGrowthExpandsExactly(t *testing.T) {
	a := mustAllocator(t, 4096)
	b, err := Create(1, 4, NoGrowth, a)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := b.Expand(5); err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if b.Capacity() != 5 {
		t.Fatalf("expected NoGrowth to expand to exactly the requested size, got %d", b.Capacity())
	}
}

func TestGeometricGrowthAtLeastDoubles(t *testing.T) {
	a := mustAllocator(t, 4096)
	b, err := Create(1, 4, 0, a)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := b.Expand(5); err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if b.Capacity() < 8 {
		t.Fatalf("expected geometric growth to at least double capacity from 4, got %d", b.Capacity())
	}
}

// TestSecuredDestroyWipesStorage checks the Secured-without-Shared half of
// Destroy's rule (see TestAttachThenDestroyLeavesArrayUntouched for the
// Shared-overrides-Secured half, scenario S4).
func TestSecuredDestroyWipesStorage(t *testing.T) {
	a := mustAllocator(t, 4096)
	b, err := Create(1, 8, Secured, a)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := b.Load([]byte("secretda"), 0, 8); err != nil {
		t.Fatalf("Load: %v", err)
	}
	view := b.Bytes()
	shadow := make([]byte, len(view))
	copy(shadow, view)
	allZero := true
	for _, c := range shadow {
		if c != 0 {
			allZero = false
		}
	}
	if allZero {
		t.Fatal("test setup error: shadow copy should not already be zeroed")
	}

	if err := b.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	// view still aliases the backing array Destroy wiped in place, before
	// dropping the buffer's own reference to it.
	for i, c := range view {
		if c != 0 {
			t.Fatalf("expected storage to be wiped at byte %d, got %#x", i, c)
		}
	}
}

func TestEqualComparesAtomSizeLengthAndPayload(t *testing.T) {
	a := mustAllocator(t, 4096)
	b1, _ := Create(1, 4, 0, a)
	b2, _ := Create(1, 4, 0, a)
	if err := b1.Load([]byte("abcd"), 0, 4); err != nil {
		t.Fatalf("Load b1: %v", err)
	}
	if err := b2.Load([]byte("abcd"), 0, 4); err != nil {
		t.Fatalf("Load b2: %v", err)
	}
	if !Equal(b1, b2) {
		t.Fatal("expected equal buffers to compare equal")
	}
	if err := b2.Load([]byte("X"), 0, 1); err != nil {
		t.Fatalf("Load mutate: %v", err)
	}
	if Equal(b1, b2) {
		t.Fatal("expected a content difference to break equality")
	}
}

func TestSetEmptyResetsLengthOnly(t *testing.T) {
	a := mustAllocator(t, 4096)
	b, err := Create(1, 4, 0, a)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := b.Load([]byte("abcd"), 0, 4); err != nil {
		t.Fatalf("Load: %v", err)
	}
	b.SetEmpty()
	if b.Length() != 0 {
		t.Fatalf("expected length reset to 0, got %d", b.Length())
	}
	if b.Capacity() != 4 {
		t.Fatalf("expected capacity to remain 4, got %d", b.Capacity())
	}
}
