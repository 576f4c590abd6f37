package vision

import (
	"testing"

	"github.com/your-org/visionguard/internal/models"
)

func TestBuildFlowInputLayout(t *testing.T) {
	seqLen := 2
	seq := make(models.PoseSequence, seqLen)
	seq[0][0] = models.Keypoint{X: 100, Y: 50}
	seq[0][leftShoulder] = models.Keypoint{X: 40, Y: 80}
	seq[0][rightShoulder] = models.Keypoint{X: 60, Y: 80}

	input := buildFlowInput(seq, seqLen, 200, 100)

	if len(input) != 2*seqLen*graphJoints {
		t.Fatalf("expected %d values, got %d", 2*seqLen*graphJoints, len(input))
	}
	// x channel, frame 0, joint 0: 100/200
	if got := input[0]; got != 0.5 {
		t.Errorf("expected normalized x 0.5, got %v", got)
	}
	// y channel, frame 0, joint 0: 50/100
	if got := input[seqLen*graphJoints]; got != 0.5 {
		t.Errorf("expected normalized y 0.5, got %v", got)
	}
	// Synthetic neck: midpoint of shoulders, (50/200, 80/100).
	if got := input[models.NumKeypoints]; got != 0.25 {
		t.Errorf("expected neck x 0.25, got %v", got)
	}
	if got := input[seqLen*graphJoints+models.NumKeypoints]; got != 0.8 {
		t.Errorf("expected neck y 0.8, got %v", got)
	}
}

func TestFlattenSequenceInvariantToTranslation(t *testing.T) {
	seq := make(models.PoseSequence, 2)
	for j := 0; j < models.NumKeypoints; j++ {
		seq[0][j] = models.Keypoint{X: float32(j * 10), Y: float32(j * 5)}
		seq[1][j] = models.Keypoint{X: float32(j*10 + 2), Y: float32(j * 5)}
	}

	shifted := make(models.PoseSequence, 2)
	for f := range seq {
		for j := 0; j < models.NumKeypoints; j++ {
			shifted[f][j] = models.Keypoint{X: seq[f][j].X + 300, Y: seq[f][j].Y + 150}
		}
	}

	a := FlattenSequence(seq)
	b := FlattenSequence(shifted)
	if len(a) != models.NumKeypoints*2 {
		t.Fatalf("expected %d dims, got %d", models.NumKeypoints*2, len(a))
	}
	for i := range a {
		if diff := a[i] - b[i]; diff > 1e-5 || diff < -1e-5 {
			t.Fatalf("dim %d differs after translation: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestFlattenSequenceEmpty(t *testing.T) {
	out := FlattenSequence(nil)
	if len(out) != models.NumKeypoints*2 {
		t.Fatalf("expected fixed dims for empty input, got %d", len(out))
	}
	for _, v := range out {
		if v != 0 {
			t.Fatal("empty input should produce a zero vector")
		}
	}
}
