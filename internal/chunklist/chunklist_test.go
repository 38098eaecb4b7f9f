package chunklist

import (
	"testing"

	"github.com/bvscd/embmem/internal/allocator"
)

// constructor produces a fresh empty ChunkList for a test case; the same
// table below is run against both concrete implementations.
type constructor struct {
	name string
	new  func(t *testing.T) ChunkList
}

func constructors(t *testing.T) []constructor {
	return []constructor{
		{
			name: "linked",
			new: func(t *testing.T) ChunkList {
				a, err := allocator.NewAllocator(make([]byte, 64*1024))
				if err != nil {
					t.Fatalf("NewAllocator: %v", err)
				}
				return NewLinkedChunkList(a, 4)
			},
		},
		{
			name: "buffer",
			new: func(t *testing.T) ChunkList {
				a, err := allocator.NewAllocator(make([]byte, 64*1024))
				if err != nil {
					t.Fatalf("NewAllocator: %v", err)
				}
				l, err := NewBufferChunkList(a)
				if err != nil {
					t.Fatalf("NewBufferChunkList: %v", err)
				}
				return l
			},
		},
	}
}

// TestRoundTrip is universal invariant 7: Push(S, toHead=false) followed
// by Get(len(S), fromHead=true, remove=true) yields S.
func TestRoundTrip(t *testing.T) {
	for _, c := range constructors(t) {
		t.Run(c.name, func(t *testing.T) {
			l := c.new(t)
			s := []byte("round trip payload")
			if err := l.Push(s, false); err != nil {
				t.Fatalf("Push: %v", err)
			}
			got := make([]byte, len(s))
			if !l.Get(got, len(s), true, true) {
				t.Fatal("expected Get to succeed")
			}
			if string(got) != string(s) {
				t.Fatalf("expected %q, got %q", s, got)
			}
			if l.GetSize() != 0 {
				t.Fatalf("expected the list to be drained, got size %d", l.GetSize())
			}
		})
	}
}

func TestGetFailsPolitelyWhenTooFewBytes(t *testing.T) {
	for _, c := range constructors(t) {
		t.Run(c.name, func(t *testing.T) {
			l := c.new(t)
			if err := l.Push([]byte("ab"), false); err != nil {
				t.Fatalf("Push: %v", err)
			}
			buf := make([]byte, 5)
			if l.Get(buf, 5, true, false) {
				t.Fatal("expected Get to fail politely, not succeed")
			}
		})
	}
}

func TestPushToHeadPrepends(t *testing.T) {
	for _, c := range constructors(t) {
		t.Run(c.name, func(t *testing.T) {
			l := c.new(t)
			if err := l.Push([]byte("World"), false); err != nil {
				t.Fatalf("Push tail: %v", err)
			}
			if err := l.Push([]byte("Hello"), true); err != nil {
				t.Fatalf("Push head: %v", err)
			}
			got := make([]byte, 10)
			if !l.Get(got, 10, true, false) {
				t.Fatal("expected Get to succeed")
			}
			if string(got) != "HelloWorld" {
				t.Fatalf("expected %q, got %q", "HelloWorld", got)
			}
		})
	}
}

// TestAcquireReleaseBlockRoundTrip is scenario S8: AcquireBlock(32,
// toHead=false), write 20 bytes, ReleaseBlock(blk, 20); GetSize() == 20.
func TestAcquireReleaseBlockRoundTrip(t *testing.T) {
	for _, c := range constructors(t) {
		t.Run(c.name, func(t *testing.T) {
			l := c.new(t)
			blk, err := l.AcquireBlock(32, false)
			if err != nil {
				t.Fatalf("AcquireBlock: %v", err)
			}
			if len(blk.Data) < 20 {
				t.Fatalf("expected at least 20 writable bytes, got %d", len(blk.Data))
			}
			for i := 0; i < 20; i++ {
				blk.Data[i] = byte('a' + i%26)
			}
			if err := l.ReleaseBlock(blk, 20); err != nil {
				t.Fatalf("ReleaseBlock: %v", err)
			}
			if l.GetSize() != 20 {
				t.Fatalf("expected GetSize() == 20, got %d", l.GetSize())
			}
		})
	}
}

func TestFindByte(t *testing.T) {
	for _, c := range constructors(t) {
		t.Run(c.name, func(t *testing.T) {
			l := c.new(t)
			if err := l.Push([]byte("abcdefgh"), false); err != nil {
				t.Fatalf("Push: %v", err)
			}
			idx, ok := l.FindByte(0, 'e')
			if !ok || idx != 4 {
				t.Fatalf("expected index 4, got %d (ok=%v)", idx, ok)
			}
			if _, ok := l.FindByte(0, 'z'); ok {
				t.Fatal("expected FindByte to report not-found for an absent byte")
			}
		})
	}
}

func TestAttachThenDestroyLeavesSourceUntouched(t *testing.T) {
	for _, c := range constructors(t) {
		t.Run(c.name, func(t *testing.T) {
			l := c.new(t)
			raw := []byte("attached view")
			if err := l.Attach(raw); err != nil {
				t.Fatalf("Attach: %v", err)
			}
			if l.GetSize() != len(raw) {
				t.Fatalf("expected GetSize() == %d, got %d", len(raw), l.GetSize())
			}
			if err := l.Destroy(); err != nil {
				t.Fatalf("Destroy: %v", err)
			}
			if string(raw) != "attached view" {
				t.Fatal("expected the attached source to be untouched after Destroy")
			}
		})
	}
}

// TestMutatingAnAttachedViewConvertsToOwned checks the documented
// attached-view rule: any mutating call first Destroys the view (which
// clears it, not copies it) before proceeding, so the attached content
// does not survive into the now-owned list.
func TestMutatingAnAttachedViewConvertsToOwned(t *testing.T) {
	for _, c := range constructors(t) {
		t.Run(c.name, func(t *testing.T) {
			l := c.new(t)
			if err := l.Attach([]byte("view")); err != nil {
				t.Fatalf("Attach: %v", err)
			}
			if err := l.Push([]byte("X"), false); err != nil {
				t.Fatalf("Push: %v", err)
			}
			got := make([]byte, l.GetSize())
			if !l.Get(got, len(got), true, false) {
				t.Fatal("expected Get to succeed")
			}
			if string(got) != "X" {
				t.Fatalf("expected the attached content to be dropped, got %q", got)
			}
		})
	}
}

// TestMovePartial is scenario S3: push "ABCDEFGHIJ" into X, move 7 bytes
// from X to Y's tail. Expected Y == "ABCDEFG", X == "HIJ".
func TestMovePartial(t *testing.T) {
	for _, c := range constructors(t) {
		t.Run(c.name, func(t *testing.T) {
			x := c.new(t)
			y := c.new(t)
			if err := x.Push([]byte("ABCDEFGHIJ"), false); err != nil {
				t.Fatalf("Push: %v", err)
			}
			if err := Move(y, x, false, 7); err != nil {
				t.Fatalf("Move: %v", err)
			}
			gotY := make([]byte, y.GetSize())
			if !y.Get(gotY, len(gotY), true, false) {
				t.Fatal("expected Get(Y) to succeed")
			}
			if string(gotY) != "ABCDEFG" {
				t.Fatalf("expected Y == %q, got %q", "ABCDEFG", gotY)
			}
			gotX := make([]byte, x.GetSize())
			if !x.Get(gotX, len(gotX), true, false) {
				t.Fatal("expected Get(X) to succeed")
			}
			if string(gotX) != "HIJ" {
				t.Fatalf("expected X == %q, got %q", "HIJ", gotX)
			}
		})
	}
}

func TestReuseGrowsAndResets(t *testing.T) {
	for _, c := range constructors(t) {
		t.Run(c.name, func(t *testing.T) {
			l := c.new(t)
			if err := l.Push([]byte("data"), false); err != nil {
				t.Fatalf("Push: %v", err)
			}
			if err := l.Reuse(64); err != nil {
				t.Fatalf("Reuse: %v", err)
			}
			if l.GetSize() != 0 {
				t.Fatalf("expected Reuse to reset size to 0, got %d", l.GetSize())
			}
			if err := l.Push([]byte("fresh"), false); err != nil {
				t.Fatalf("Push after Reuse: %v", err)
			}
			got := make([]byte, 5)
			if !l.Get(got, 5, true, false) {
				t.Fatal("expected Get to succeed after Reuse")
			}
			if string(got) != "fresh" {
				t.Fatalf("expected %q, got %q", "fresh", got)
			}
		})
	}
}

// TestHeadPushAcrossMultipleEmptyChunks exercises the recorded open-question
// decision: a head push long enough to span several freshly allocated
// small chunks fills them innermost-first, preserving stream order.
func TestHeadPushAcrossMultipleEmptyChunks(t *testing.T) {
	a, err := allocator.NewAllocator(make([]byte, 64*1024))
	if err != nil {
		t.Fatalf("NewAllocator: %v", err)
	}
	l := NewLinkedChunkList(a, 4)

	if err := l.Push([]byte("Z"), false); err != nil {
		t.Fatalf("seed Push: %v", err)
	}
	if err := l.Push([]byte("ABCDEFGHIJ"), true); err != nil {
		t.Fatalf("head Push: %v", err)
	}

	got := make([]byte, l.GetSize())
	if !l.Get(got, len(got), true, false) {
		t.Fatal("expected Get to succeed")
	}
	if string(got) != "ABCDEFGHIJZ" {
		t.Fatalf("expected %q, got %q", "ABCDEFGHIJZ", got)
	}
}
