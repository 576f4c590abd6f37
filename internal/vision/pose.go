package vision

import (
	"fmt"
	"image"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/visionguard/internal/models"
)

const poseChannels = 4 + 1 + models.NumKeypoints*3 // box + conf + 17 keypoints

// PoseEstimator runs YOLOv8-pose keypoint extraction on person crops.
// Shared across all streams; Run is serialized.
type PoseEstimator struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

// NewPoseEstimator loads the YOLOv8-pose ONNX model.
func NewPoseEstimator(modelPath string, opts *ort.SessionOptions) (*PoseEstimator, error) {
	inputShape := ort.NewShape(1, 3, yoloInputH, yoloInputW)
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	// YOLOv8-pose output: [1, 56, 8400]
	outputShape := ort.NewShape(1, poseChannels, yoloAnchors)
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
		return nil, fmt.Errorf("create pose session: %w", err)
	}

	return &PoseEstimator{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

// Estimate extracts keypoints for the person inside bbox. The crop is run
// through the model and the highest confidence candidate wins; keypoints
// come back in full-frame pixel coordinates.
func (p *PoseEstimator) Estimate(img image.Image, bbox models.BBox) (models.PoseFrame, error) {
	var pose models.PoseFrame

	crop := cropBox(img, bbox)
	if crop == nil {
		return pose, fmt.Errorf("empty crop for bbox %+v", bbox)
	}
	cropBounds := crop.Bounds()
	cropW := cropBounds.Dx()
	cropH := cropBounds.Dy()

	input := preprocessYOLO(crop, yoloInputW, yoloInputH)

	p.mu.Lock()
	copy(p.inputTensor.GetData(), input)
	if err := p.session.Run(); err != nil {
		p.mu.Unlock()
		return pose, fmt.Errorf("run pose estimation: %w", err)
	}
	out := make([]float32, len(p.outputTensor.GetData()))
	copy(out, p.outputTensor.GetData())
	p.mu.Unlock()

	// Pick the highest confidence anchor.
	best := -1
	bestConf := float32(0.25)
	for a := 0; a < yoloAnchors; a++ {
		if conf := out[4*yoloAnchors+a]; conf > bestConf {
			bestConf = conf
			best = a
		}
	}
	if best < 0 {
		return pose, fmt.Errorf("no pose candidate in crop")
	}

	// Keypoints are in model input scale; map back through the crop into
	// full-frame coordinates.
	scaleW := float32(cropW) / float32(yoloInputW)
	scaleH := float32(cropH) / float32(yoloInputH)
	offX := float32(maxInt(bbox.X-bbox.W/10, 0))
	offY := float32(maxInt(bbox.Y-bbox.H/10, 0))

	for k := 0; k < models.NumKeypoints; k++ {
		ch := 5 + k*3
		pose[k] = models.Keypoint{
			X:    out[ch*yoloAnchors+best]*scaleW + offX,
			Y:    out[(ch+1)*yoloAnchors+best]*scaleH + offY,
			Conf: out[(ch+2)*yoloAnchors+best],
		}
	}

	return pose, nil
}

func (p *PoseEstimator) Close() {
	if p.session != nil {
		p.session.Destroy()
	}
	if p.inputTensor != nil {
		p.inputTensor.Destroy()
	}
	if p.outputTensor != nil {
		p.outputTensor.Destroy()
	}
}
