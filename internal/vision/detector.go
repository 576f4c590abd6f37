package vision

import (
	"fmt"
	"image"
	"sort"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/visionguard/internal/models"
)

const (
	yoloInputW  = 640
	yoloInputH  = 640
	yoloAnchors = 8400
	yoloClasses = 80
	personClass = 0
)

// Detector runs YOLOv8 person detection using ONNX Runtime.
// A single Detector is shared across all streams; Run is serialized.
type Detector struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	threshold    float32
}

// NewDetector loads the YOLOv8 ONNX model.
// opts may be nil (ORT defaults) or a pre-configured *ort.SessionOptions.
func NewDetector(modelPath string, threshold float32, opts *ort.SessionOptions) (*Detector, error) {
	inputShape := ort.NewShape(1, 3, yoloInputH, yoloInputW)
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	// YOLOv8 output: [1, 4+classes, anchors] = [1, 84, 8400]
	outputShape := ort.NewShape(1, 4+yoloClasses, yoloAnchors)
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"images"},
		[]string{"output0"},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		opts,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create detector session: %w", err)
	}

	return &Detector{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		threshold:    threshold,
	}, nil
}

// Detect runs person detection on a frame and returns boxes in the
// frame's pixel coordinates.
func (d *Detector) Detect(img image.Image) ([]models.Detection, error) {
	bounds := img.Bounds()
	origW := bounds.Dx()
	origH := bounds.Dy()

	input := preprocessYOLO(img, yoloInputW, yoloInputH)

	d.mu.Lock()
	copy(d.inputTensor.GetData(), input)
	if err := d.session.Run(); err != nil {
		d.mu.Unlock()
		return nil, fmt.Errorf("run detection: %w", err)
	}
	out := make([]float32, len(d.outputTensor.GetData()))
	copy(out, d.outputTensor.GetData())
	d.mu.Unlock()

	detections := d.parseDetections(out, origW, origH)
	return nmsDetections(detections, 0.45), nil
}

// parseDetections decodes the transposed YOLOv8 layout where each of the
// 84 rows holds all 8400 anchor values.
func (d *Detector) parseDetections(out []float32, origW, origH int) []models.Detection {
	scaleW := float32(origW) / float32(yoloInputW)
	scaleH := float32(origH) / float32(yoloInputH)

	var detections []models.Detection
	for a := 0; a < yoloAnchors; a++ {
		score := out[(4+personClass)*yoloAnchors+a]
		if score < d.threshold {
			continue
		}

		cx := out[0*yoloAnchors+a]
		cy := out[1*yoloAnchors+a]
		w := out[2*yoloAnchors+a]
		h := out[3*yoloAnchors+a]

		x1 := clampF((cx-w/2)*scaleW, 0, float32(origW))
		y1 := clampF((cy-h/2)*scaleH, 0, float32(origH))
		x2 := clampF((cx+w/2)*scaleW, 0, float32(origW))
		y2 := clampF((cy+h/2)*scaleH, 0, float32(origH))
		if x2-x1 <= 0 || y2-y1 <= 0 {
			continue
		}

		detections = append(detections, models.Detection{
			BBox: models.BBox{
				X: int(x1),
				Y: int(y1),
				W: int(x2 - x1),
				H: int(y2 - y1),
			},
			Confidence: score,
		})
	}
	return detections
}

func (d *Detector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.inputTensor != nil {
		d.inputTensor.Destroy()
	}
	if d.outputTensor != nil {
		d.outputTensor.Destroy()
	}
}

// nmsDetections performs Non-Maximum Suppression on detections.
func nmsDetections(detections []models.Detection, iouThreshold float64) []models.Detection {
	if len(detections) == 0 {
		return detections
	}

	sort.Slice(detections, func(i, j int) bool {
		return detections[i].Confidence > detections[j].Confidence
	})

	keep := make([]bool, len(detections))
	for i := range keep {
		keep[i] = true
	}

	for i := 0; i < len(detections); i++ {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(detections); j++ {
			if !keep[j] {
				continue
			}
			if IoU(detections[i].BBox, detections[j].BBox) > iouThreshold {
				keep[j] = false
			}
		}
	}

	var result []models.Detection
	for i, d := range detections {
		if keep[i] {
			result = append(result, d)
		}
	}
	return result
}

// IoU computes intersection over union of two boxes. Returns 0 when either
// box is degenerate.
func IoU(a, b models.BBox) float64 {
	ax2, ay2 := a.X+a.W, a.Y+a.H
	bx2, by2 := b.X+b.W, b.Y+b.H

	x1 := maxInt(a.X, b.X)
	y1 := maxInt(a.Y, b.Y)
	x2 := minInt(ax2, bx2)
	y2 := minInt(ay2, by2)

	interW := x2 - x1
	interH := y2 - y1
	if interW <= 0 || interH <= 0 {
		return 0
	}
	intersection := float64(interW) * float64(interH)

	areaA := float64(a.W) * float64(a.H)
	areaB := float64(b.W) * float64(b.H)
	union := areaA + areaB - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}

func clampF(v, min, max float32) float32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
