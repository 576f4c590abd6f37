package vision

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/visionguard/internal/config"
)

var ErrModelLoad = errors.New("model load failed")

// Manager owns the three shared ONNX sessions. Load is idempotent; all
// streams share one set of sessions, each serializing its own Run calls.
type Manager struct {
	mu         sync.Mutex
	loaded     bool
	detector   *Detector
	pose       *PoseEstimator
	classifier *Classifier
	cfg        config.ModelsConfig
	det        config.DetectionConfig
}

func NewManager(cfg config.ModelsConfig, det config.DetectionConfig) *Manager {
	return &Manager{cfg: cfg, det: det}
}

// Load initialises all sessions. Calling Load again after success is a
// no-op. Any failure tears down the sessions already created.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.loaded {
		return nil
	}

	opts, err := sessionOptions(m.cfg.Device)
	if err != nil {
		return fmt.Errorf("%w: session options: %v", ErrModelLoad, err)
	}
	if opts != nil {
		defer opts.Destroy()
	}

	slog.Info("loading detection model", "path", m.cfg.YOLOPath)
	det, err := NewDetector(m.cfg.YOLOPath, float32(m.det.PersonConfidence), opts)
	if err != nil {
		return fmt.Errorf("%w: detector: %v", ErrModelLoad, err)
	}

	slog.Info("loading pose model", "path", m.cfg.PosePath)
	pose, err := NewPoseEstimator(m.cfg.PosePath, opts)
	if err != nil {
		det.Close()
		return fmt.Errorf("%w: pose estimator: %v", ErrModelLoad, err)
	}

	slog.Info("loading anomaly model", "path", m.cfg.AnomalyPath)
	cls, err := NewClassifier(m.cfg.AnomalyPath, m.det.SequenceLength,
		m.det.AnomalyThreshold, m.det.HighCut, m.det.MediumCut, opts)
	if err != nil {
		det.Close()
		pose.Close()
		return fmt.Errorf("%w: classifier: %v", ErrModelLoad, err)
	}

	m.detector = det
	m.pose = pose
	m.classifier = cls
	m.loaded = true
	slog.Info("vision models ready")
	return nil
}

func (m *Manager) Loaded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loaded
}

func (m *Manager) Detector() *Detector {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.detector
}

func (m *Manager) Pose() *PoseEstimator {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pose
}

func (m *Manager) Classifier() *Classifier {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.classifier
}

// Close releases all sessions. Safe to call more than once.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.detector != nil {
		m.detector.Close()
		m.detector = nil
	}
	if m.pose != nil {
		m.pose.Close()
		m.pose = nil
	}
	if m.classifier != nil {
		m.classifier.Close()
		m.classifier = nil
	}
	m.loaded = false
}

func sessionOptions(device string) (*ort.SessionOptions, error) {
	if device != "cuda" {
		return nil, nil
	}
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	cudaOpts, err := ort.NewCUDAProviderOptions()
	if err != nil {
		opts.Destroy()
		return nil, err
	}
	defer cudaOpts.Destroy()
	if err := opts.AppendExecutionProviderCUDA(cudaOpts); err != nil {
		opts.Destroy()
		return nil, err
	}
	return opts, nil
}
