package models

// BBox is a top-left anchored box in pixel coordinates.
type BBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Detection is a single person detection in one frame.
type Detection struct {
	BBox       BBox
	Confidence float32
}

// TrackedPerson is a detection bound to a stable per-stream person id, with
// the pose keypoints extracted from the bbox crop.
type TrackedPerson struct {
	PersonID  int
	BBox      BBox
	Keypoints PoseFrame
}

type ConfidenceBucket string

const (
	ConfidenceLow    ConfidenceBucket = "LOW"
	ConfidenceMedium ConfidenceBucket = "MEDIUM"
	ConfidenceHigh   ConfidenceBucket = "HIGH"
)

// DetectionResult is the output of one positive (or negative) anomaly
// classification for one person.
type DetectionResult struct {
	PersonID         int              `json:"person_id"`
	FrameNumber      int              `json:"frame_number"`
	Score            float64          `json:"score"`
	IsAbnormal       bool             `json:"is_abnormal"`
	Classification   string           `json:"classification"`
	Confidence       ConfidenceBucket `json:"confidence"`
	BBox             BBox             `json:"bbox"`
	EscalateCritical bool             `json:"escalate_critical,omitempty"`
}
