package vision

import (
	"image"
	"log/slog"
	"sort"
	"sync"

	"github.com/your-org/visionguard/internal/models"
)

// PoseFunc extracts keypoints for one person box. Injected so the tracker
// can be tested without an ONNX runtime.
type PoseFunc func(img image.Image, bbox models.BBox) (models.PoseFrame, error)

type track struct {
	id     int
	bbox   models.BBox
	missed int // consecutive frames without a matching detection
}

// Tracker assigns stable per-stream person ids to detections by greedy IoU
// matching. One Tracker per stream; ids increase monotonically and are
// never reused within a stream.
type Tracker struct {
	mu           sync.Mutex
	tracks       []*track
	nextID       int
	maxAge       int
	iouThreshold float64
	pose         PoseFunc
}

func NewTracker(maxAge int, iouThreshold float64, pose PoseFunc) *Tracker {
	if maxAge <= 0 {
		maxAge = 30
	}
	if iouThreshold <= 0 {
		iouThreshold = 0.3
	}
	return &Tracker{
		nextID:       1,
		maxAge:       maxAge,
		iouThreshold: iouThreshold,
		pose:         pose,
	}
}

// Update matches detections to tracks, creates tracks for the unmatched,
// drops tracks not seen for maxAge frames, and extracts a pose for every
// surviving detection. Detections are matched in descending confidence
// order; equal IoU candidates resolve to the lower person id.
func (t *Tracker) Update(img image.Image, detections []models.Detection) []models.TrackedPerson {
	t.mu.Lock()

	for _, tr := range t.tracks {
		tr.missed++
	}

	order := make([]int, len(detections))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return detections[order[a]].Confidence > detections[order[b]].Confidence
	})

	type assignment struct {
		det   models.Detection
		track *track
	}
	assignments := make([]assignment, 0, len(detections))
	taken := make(map[int]bool)

	for _, di := range order {
		det := detections[di]
		var best *track
		bestIoU := -1.0

		for _, tr := range t.tracks {
			if taken[tr.id] {
				continue
			}
			v := IoU(det.BBox, tr.bbox)
			if v < t.iouThreshold {
				continue
			}
			if v > bestIoU || (v == bestIoU && tr.id < best.id) {
				bestIoU = v
				best = tr
			}
		}

		if best != nil {
			best.bbox = det.BBox
			best.missed = 0
			taken[best.id] = true
			assignments = append(assignments, assignment{det: det, track: best})
		} else {
			tr := &track{id: t.nextID, bbox: det.BBox}
			t.nextID++
			t.tracks = append(t.tracks, tr)
			taken[tr.id] = true
			assignments = append(assignments, assignment{det: det, track: tr})
		}
	}

	alive := t.tracks[:0]
	for _, tr := range t.tracks {
		if tr.missed <= t.maxAge {
			alive = append(alive, tr)
		}
	}
	t.tracks = alive

	t.mu.Unlock()

	// Pose extraction runs outside the lock; inference has its own
	// serialization.
	persons := make([]models.TrackedPerson, 0, len(assignments))
	for _, a := range assignments {
		kp, err := t.pose(img, a.det.BBox)
		if err != nil {
			slog.Debug("pose extraction failed", "person_id", a.track.id, "error", err)
			continue
		}
		persons = append(persons, models.TrackedPerson{
			PersonID:  a.track.id,
			BBox:      a.det.BBox,
			Keypoints: kp,
		})
	}

	sort.Slice(persons, func(i, j int) bool {
		return persons[i].PersonID < persons[j].PersonID
	})
	return persons
}

// ActiveIDs returns the ids of tracks still within the age window.
func (t *Tracker) ActiveIDs() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]int, 0, len(t.tracks))
	for _, tr := range t.tracks {
		ids = append(ids, tr.id)
	}
	sort.Ints(ids)
	return ids
}

// TrackCount returns the number of active tracks.
func (t *Tracker) TrackCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tracks)
}
