package vision

import (
	"fmt"
	"math"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/visionguard/internal/models"
)

// graphJoints is the pose graph size the normalizing-flow model was trained
// on: the 17 COCO keypoints plus a synthetic neck joint (shoulder midpoint).
const graphJoints = models.NumKeypoints + 1

const (
	leftShoulder  = 5
	rightShoulder = 6
)

// Classifier scores pose sequences with a normalizing-flow anomaly model.
// The model outputs negative log-likelihood; normal movement scores high,
// abnormal movement scores low (negative).
type Classifier struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	seqLen       int
	threshold    float64
	highCut      float64
	mediumCut    float64
}

// NewClassifier loads the anomaly ONNX model for a fixed sequence length.
func NewClassifier(modelPath string, seqLen int, threshold, highCut, mediumCut float64, opts *ort.SessionOptions) (*Classifier, error) {
	if seqLen <= 0 {
		seqLen = models.DefaultSequenceLength
	}

	// Input: [1, 2, seqLen, joints] (x/y channels over the pose graph).
	inputShape := ort.NewShape(1, 2, int64(seqLen), graphJoints)
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"pose"},
		[]string{"nll"},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		opts,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create classifier session: %w", err)
	}

	return &Classifier{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		seqLen:       seqLen,
		threshold:    threshold,
		highCut:      highCut,
		mediumCut:    mediumCut,
	}, nil
}

func (c *Classifier) SequenceLength() int {
	return c.seqLen
}

// Score runs the flow model on one pose sequence. The sequence must be
// exactly SequenceLength frames; frameW/frameH normalize coordinates to
// the unit square.
func (c *Classifier) Score(seq models.PoseSequence, frameW, frameH int) (float64, error) {
	if len(seq) != c.seqLen {
		return 0, fmt.Errorf("sequence length %d, want %d", len(seq), c.seqLen)
	}
	if frameW <= 0 || frameH <= 0 {
		return 0, fmt.Errorf("invalid frame size %dx%d", frameW, frameH)
	}

	input := buildFlowInput(seq, c.seqLen, frameW, frameH)

	c.mu.Lock()
	defer c.mu.Unlock()

	copy(c.inputTensor.GetData(), input)
	if err := c.session.Run(); err != nil {
		return 0, fmt.Errorf("run classifier: %w", err)
	}
	nll := float64(c.outputTensor.GetData()[0])
	return -nll, nil
}

// IsAbnormal reports whether a score falls below the configured threshold.
func (c *Classifier) IsAbnormal(score float64) bool {
	return score < c.threshold
}

// Bucket maps a score's magnitude onto a confidence bucket. Farther below
// the threshold means a more confident abnormal call.
func (c *Classifier) Bucket(score float64) models.ConfidenceBucket {
	mag := math.Abs(score)
	switch {
	case mag >= c.highCut:
		return models.ConfidenceHigh
	case mag >= c.mediumCut:
		return models.ConfidenceMedium
	default:
		return models.ConfidenceLow
	}
}

// buildFlowInput lays out [2][seqLen][joints] with coordinates normalized
// to [0,1]. The synthetic neck joint is the shoulder midpoint.
func buildFlowInput(seq models.PoseSequence, seqLen int, frameW, frameH int) []float32 {
	input := make([]float32, 2*seqLen*graphJoints)
	w := float32(frameW)
	h := float32(frameH)

	for t, frame := range seq {
		for j := 0; j < models.NumKeypoints; j++ {
			input[0*seqLen*graphJoints+t*graphJoints+j] = frame[j].X / w
			input[1*seqLen*graphJoints+t*graphJoints+j] = frame[j].Y / h
		}
		neckX := (frame[leftShoulder].X + frame[rightShoulder].X) / 2
		neckY := (frame[leftShoulder].Y + frame[rightShoulder].Y) / 2
		input[0*seqLen*graphJoints+t*graphJoints+models.NumKeypoints] = neckX / w
		input[1*seqLen*graphJoints+t*graphJoints+models.NumKeypoints] = neckY / h
	}

	return input
}

// FlattenSequence produces the embedding vector persisted for similarity
// search over labeled samples: mean x/y per joint across the window,
// normalized to the sequence's own bounding extent so it is invariant to
// frame size and position.
func FlattenSequence(seq models.PoseSequence) []float32 {
	out := make([]float32, models.NumKeypoints*2)
	if len(seq) == 0 {
		return out
	}

	minX, minY := float32(math.MaxFloat32), float32(math.MaxFloat32)
	maxX, maxY := float32(-math.MaxFloat32), float32(-math.MaxFloat32)
	for _, frame := range seq {
		for j := 0; j < models.NumKeypoints; j++ {
			if frame[j].X < minX {
				minX = frame[j].X
			}
			if frame[j].X > maxX {
				maxX = frame[j].X
			}
			if frame[j].Y < minY {
				minY = frame[j].Y
			}
			if frame[j].Y > maxY {
				maxY = frame[j].Y
			}
		}
	}
	spanX := maxX - minX
	spanY := maxY - minY
	if spanX <= 0 {
		spanX = 1
	}
	if spanY <= 0 {
		spanY = 1
	}

	n := float32(len(seq))
	for _, frame := range seq {
		for j := 0; j < models.NumKeypoints; j++ {
			out[j*2] += (frame[j].X - minX) / spanX / n
			out[j*2+1] += (frame[j].Y - minY) / spanY / n
		}
	}
	return out
}

func (c *Classifier) Close() {
	if c.session != nil {
		c.session.Destroy()
	}
	if c.inputTensor != nil {
		c.inputTensor.Destroy()
	}
	if c.outputTensor != nil {
		c.outputTensor.Destroy()
	}
}
