package models

// NumKeypoints is the COCO keypoint count produced by the pose estimator.
const NumKeypoints = 17

// DefaultSequenceLength is the pose-sequence window the classifier was
// trained on. Overridable via SEQUENCE_LENGTH.
const DefaultSequenceLength = 24

// Keypoint is a single COCO keypoint in absolute pixel coordinates.
type Keypoint struct {
	X    float32 `json:"x"`
	Y    float32 `json:"y"`
	Conf float32 `json:"conf"`
}

// PoseFrame holds the 17 keypoints extracted for one person in one frame.
type PoseFrame [NumKeypoints]Keypoint

// PoseSequence is a contiguous window of pose frames for one tracked person.
// The classifier only ever receives sequences of exactly the configured
// sequence length.
type PoseSequence []PoseFrame

// PoseTensor maps person id to that person's buffered pose sequence. This is
// the exact structure persisted alongside an anomaly for later re-training.
type PoseTensor map[int]PoseSequence
