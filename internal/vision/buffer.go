package vision

import (
	"sync"

	"github.com/your-org/visionguard/internal/models"
)

// SequenceBuffer keeps a sliding window of the last N pose frames per
// person. Once a person's window fills, every new frame yields a fresh
// full-length sequence for classification.
type SequenceBuffer struct {
	mu     sync.Mutex
	window int
	seqs   map[int][]models.PoseFrame
}

func NewSequenceBuffer(window int) *SequenceBuffer {
	if window <= 0 {
		window = models.DefaultSequenceLength
	}
	return &SequenceBuffer{
		window: window,
		seqs:   make(map[int][]models.PoseFrame),
	}
}

func (b *SequenceBuffer) Window() int {
	return b.window
}

// Push appends a frame to a person's window, evicting the oldest frame
// once the window is full. Returns true when the window holds exactly N
// frames and is ready for classification.
func (b *SequenceBuffer) Push(personID int, frame models.PoseFrame) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	seq := append(b.seqs[personID], frame)
	if len(seq) > b.window {
		seq = seq[len(seq)-b.window:]
	}
	b.seqs[personID] = seq
	return len(seq) == b.window
}

// Sequence returns a copy of a person's window, or nil if it is not yet
// full.
func (b *SequenceBuffer) Sequence(personID int) models.PoseSequence {
	b.mu.Lock()
	defer b.mu.Unlock()

	seq := b.seqs[personID]
	if len(seq) < b.window {
		return nil
	}
	out := make(models.PoseSequence, b.window)
	copy(out, seq)
	return out
}

// Drop discards a person's window. Called when their track ages out.
func (b *SequenceBuffer) Drop(personID int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.seqs, personID)
}

// DropMissing discards windows for every person not in the active set.
func (b *SequenceBuffer) DropMissing(active []int) {
	alive := make(map[int]bool, len(active))
	for _, id := range active {
		alive[id] = true
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for id := range b.seqs {
		if !alive[id] {
			delete(b.seqs, id)
		}
	}
}

// SnapshotAll returns a copy of every buffered window, full or not. This
// is the structure persisted with an anomaly for retraining.
func (b *SequenceBuffer) SnapshotAll() models.PoseTensor {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(models.PoseTensor, len(b.seqs))
	for id, seq := range b.seqs {
		cp := make(models.PoseSequence, len(seq))
		copy(cp, seq)
		out[id] = cp
	}
	return out
}

// Persons returns the ids currently holding buffered frames.
func (b *SequenceBuffer) Persons() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.seqs)
}
