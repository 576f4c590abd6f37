package stream

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/visionguard/internal/models"
	"github.com/your-org/visionguard/internal/observability"
	"github.com/your-org/visionguard/internal/vision"
)

// frameQueueSize bounds the per-stream frame queue. Arrivals beyond the
// bound evict the oldest queued frame; the latest frame always wins.
const frameQueueSize = 8

type State int32

const (
	StateStarting State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// AnomalySink receives every abnormal classification together with the
// annotated evidence frame and the full pose snapshot for that stream.
type AnomalySink interface {
	HandleAnomaly(ctx context.Context, event models.AnomalyEvent, annotated []byte, poses models.PoseTensor)
}

// personDetector and sequenceScorer are the two inference stages the
// pipeline depends on, satisfied by the shared vision sessions.
type personDetector interface {
	Detect(img image.Image) ([]models.Detection, error)
}

type sequenceScorer interface {
	SequenceLength() int
	Score(seq models.PoseSequence, frameW, frameH int) (float64, error)
	IsAbnormal(score float64) bool
	Bucket(score float64) models.ConfidenceBucket
}

// Processor runs the per-stream pipeline: detect, track, buffer, classify,
// annotate. One goroutine per stream consumes the frame queue.
type Processor struct {
	ID       string
	UserID   string
	ShopID   uuid.UUID
	Location string

	detector   personDetector
	classifier sequenceScorer
	tracker    *vision.Tracker
	buffer     *vision.SequenceBuffer
	sink       AnomalySink

	frames chan image.Image
	cancel context.CancelFunc
	done   chan struct{}

	mu          sync.Mutex
	state       State
	frameNumber int
	startedAt   time.Time
}

type ProcessorConfig struct {
	StreamID string
	UserID   string
	ShopID   uuid.UUID
	Location string

	Manager       *vision.Manager
	Sink          AnomalySink
	TrackerMaxAge int
	TrackerIoU    float64
}

func NewProcessor(cfg ProcessorConfig) *Processor {
	p := &Processor{
		ID:         cfg.StreamID,
		UserID:     cfg.UserID,
		ShopID:     cfg.ShopID,
		Location:   cfg.Location,
		detector:   cfg.Manager.Detector(),
		classifier: cfg.Manager.Classifier(),
		sink:       cfg.Sink,
		frames:     make(chan image.Image, frameQueueSize),
		done:       make(chan struct{}),
		state:      StateStarting,
	}
	p.tracker = vision.NewTracker(cfg.TrackerMaxAge, cfg.TrackerIoU, cfg.Manager.Pose().Estimate)
	p.buffer = vision.NewSequenceBuffer(cfg.Manager.Classifier().SequenceLength())
	return p
}

// Start launches the processing goroutine.
func (p *Processor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.mu.Lock()
	p.state = StateRunning
	p.startedAt = time.Now()
	p.mu.Unlock()

	go p.run(ctx)
	slog.Info("stream processor started", "stream_id", p.ID, "user_id", p.UserID)
}

// Submit queues a decoded frame. Never blocks: when the queue is full the
// oldest frame is evicted to make room.
func (p *Processor) Submit(frame image.Image) {
	if p.State() != StateRunning {
		return
	}
	for {
		select {
		case p.frames <- frame:
			return
		default:
		}
		select {
		case <-p.frames:
			observability.FramesDropped.WithLabelValues(p.ID).Inc()
		default:
		}
	}
}

// Stop shuts the pipeline down and waits for the worker to drain.
func (p *Processor) Stop() {
	p.mu.Lock()
	if p.state == StateStopping || p.state == StateStopped {
		p.mu.Unlock()
		return
	}
	p.state = StateStopping
	p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}
	<-p.done

	p.mu.Lock()
	p.state = StateStopped
	p.mu.Unlock()
	slog.Info("stream processor stopped", "stream_id", p.ID)
}

func (p *Processor) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Processor) Stats() map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return map[string]interface{}{
		"stream_id":    p.ID,
		"state":        p.state.String(),
		"frame_number": p.frameNumber,
		"persons":      p.buffer.Persons(),
		"tracks":       p.tracker.TrackCount(),
		"started_at":   p.startedAt,
	}
}

func (p *Processor) run(ctx context.Context) {
	defer close(p.done)

	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-p.frames:
			if err := p.process(ctx, frame); err != nil {
				slog.Error("process frame", "stream_id", p.ID, "error", err)
			}
		}
	}
}

func (p *Processor) process(ctx context.Context, frame image.Image) error {
	p.mu.Lock()
	p.frameNumber++
	frameNum := p.frameNumber
	p.mu.Unlock()

	bounds := frame.Bounds()
	frameW, frameH := bounds.Dx(), bounds.Dy()

	start := time.Now()
	detections, err := p.detector.Detect(frame)
	if err != nil {
		return fmt.Errorf("detect: %w", err)
	}
	observability.InferenceDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())
	observability.FramesProcessed.WithLabelValues(p.ID).Inc()

	persons := p.tracker.Update(frame, detections)
	p.buffer.DropMissing(p.tracker.ActiveIDs())
	if len(persons) == 0 {
		return nil
	}
	observability.PersonsDetected.WithLabelValues(p.ID).Add(float64(len(persons)))

	classifier := p.classifier
	results := make(map[int]models.DetectionResult)

	for _, person := range persons {
		if !p.buffer.Push(person.PersonID, person.Keypoints) {
			continue
		}
		seq := p.buffer.Sequence(person.PersonID)
		if seq == nil {
			continue
		}

		start = time.Now()
		score, err := classifier.Score(seq, frameW, frameH)
		if err != nil {
			slog.Warn("classify", "stream_id", p.ID, "person_id", person.PersonID, "error", err)
			continue
		}
		observability.InferenceDuration.WithLabelValues("classify").Observe(time.Since(start).Seconds())

		if !classifier.IsAbnormal(score) {
			continue
		}

		results[person.PersonID] = models.DetectionResult{
			PersonID:       person.PersonID,
			FrameNumber:    frameNum,
			Score:          score,
			IsAbnormal:     true,
			Classification: "Abnormal",
			Confidence:     classifier.Bucket(score),
			BBox:           person.BBox,
		}
	}

	if len(results) == 0 {
		return nil
	}

	observability.AnomaliesDetected.WithLabelValues(p.ID).Add(float64(len(results)))
	annotated := vision.EncodeJPEG(vision.Annotate(frame, persons, results), 90)
	poses := p.buffer.SnapshotAll()

	for _, result := range results {
		event := models.AnomalyEvent{
			UserID:    p.UserID,
			ShopID:    p.ShopID,
			StreamID:  p.ID,
			Location:  p.Location,
			Timestamp: time.Now().UTC(),
			Result:    result,
		}
		p.sink.HandleAnomaly(ctx, event, annotated, poses)
	}

	return nil
}
