package vision

import (
	"testing"

	"github.com/your-org/visionguard/internal/models"
)

func poseAt(x float32) models.PoseFrame {
	var pf models.PoseFrame
	pf[0] = models.Keypoint{X: x, Conf: 1}
	return pf
}

func TestBufferFillsToWindow(t *testing.T) {
	b := NewSequenceBuffer(3)

	if b.Push(1, poseAt(0)) {
		t.Error("window should not be full after 1 frame")
	}
	if b.Push(1, poseAt(1)) {
		t.Error("window should not be full after 2 frames")
	}
	if !b.Push(1, poseAt(2)) {
		t.Error("window should be full after 3 frames")
	}
	if seq := b.Sequence(1); len(seq) != 3 {
		t.Errorf("expected sequence of 3, got %d", len(seq))
	}
}

func TestBufferSequenceNilUntilFull(t *testing.T) {
	b := NewSequenceBuffer(3)
	b.Push(1, poseAt(0))
	b.Push(1, poseAt(1))

	if seq := b.Sequence(1); seq != nil {
		t.Errorf("expected nil for partial window, got %d frames", len(seq))
	}
	if seq := b.Sequence(99); seq != nil {
		t.Error("expected nil for unknown person")
	}
}

func TestBufferSlidesAndKeepsOrder(t *testing.T) {
	b := NewSequenceBuffer(3)
	for i := 0; i < 5; i++ {
		b.Push(1, poseAt(float32(i)))
	}

	seq := b.Sequence(1)
	if len(seq) != 3 {
		t.Fatalf("expected window of 3, got %d", len(seq))
	}
	// Oldest evicted: frames 2, 3, 4 remain in arrival order.
	for i, want := range []float32{2, 3, 4} {
		if got := seq[i][0].X; got != want {
			t.Errorf("frame %d: expected x=%v, got %v", i, want, got)
		}
	}
}

func TestBufferSequenceIsACopy(t *testing.T) {
	b := NewSequenceBuffer(2)
	b.Push(1, poseAt(0))
	b.Push(1, poseAt(1))

	seq := b.Sequence(1)
	seq[0][0].X = 999

	if again := b.Sequence(1); again[0][0].X == 999 {
		t.Error("mutating a returned sequence leaked into the buffer")
	}
}

func TestBufferDropMissing(t *testing.T) {
	b := NewSequenceBuffer(2)
	b.Push(1, poseAt(0))
	b.Push(2, poseAt(0))
	b.Push(3, poseAt(0))

	b.DropMissing([]int{2})

	if b.Persons() != 1 {
		t.Errorf("expected 1 person left, got %d", b.Persons())
	}
	all := b.SnapshotAll()
	if _, ok := all[2]; !ok {
		t.Error("person 2 should have survived")
	}
}

func TestBufferSnapshotIncludesPartialWindows(t *testing.T) {
	b := NewSequenceBuffer(5)
	b.Push(1, poseAt(0))
	b.Push(1, poseAt(1))

	all := b.SnapshotAll()
	if len(all[1]) != 2 {
		t.Errorf("snapshot should include partial windows, got %d frames", len(all[1]))
	}
}
