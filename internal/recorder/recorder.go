package recorder

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/visionguard/internal/models"
	"github.com/your-org/visionguard/internal/observability"
)

// EventStore is the subset of the database used for persisting anomalies.
type EventStore interface {
	CreateAnomalyWithSample(ctx context.Context, a *models.Anomaly, ts *models.TrainingSample) error
	AddSampleEmbedding(ctx context.Context, sampleID uuid.UUID, embedding []float32) error
}

// ObjectStore uploads evidence frames.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
}

// Alerter pushes real-time notifications to a connected user.
type Alerter interface {
	PushAnomaly(userID string, event models.AnomalyEvent)
	Notify(userID string, payload interface{})
}

// Publisher hands the event to the durable bus for external sinks.
type Publisher interface {
	PublishAnomaly(ctx context.Context, shopID string, data interface{}) error
}

// Embedder flattens a pose sequence for similarity search. Optional.
type Embedder func(seq models.PoseSequence) []float32

// Recorder persists anomaly evidence. The live alert goes out first so a
// storage outage never silences the operator; persistence failures are
// logged and dropped.
type Recorder struct {
	db       EventStore
	objects  ObjectStore
	alerter  Alerter
	producer Publisher
	embed    Embedder
}

func New(db EventStore, objects ObjectStore, alerter Alerter, producer Publisher, embed Embedder) *Recorder {
	return &Recorder{
		db:       db,
		objects:  objects,
		alerter:  alerter,
		producer: producer,
		embed:    embed,
	}
}

// HandleAnomaly delivers the alert, uploads the annotated JPEG, then writes
// the anomaly and its training sample in one transaction (retried once).
// A JPEG that made it to storage before a failed transaction is left in
// place and logged.
func (r *Recorder) HandleAnomaly(ctx context.Context, event models.AnomalyEvent, annotated []byte, poses models.PoseTensor) {
	if r.alerter != nil {
		wsEvent := event
		wsEvent.AnnotatedFrame = annotated
		wsEvent.FrameFormat = "jpeg"
		r.alerter.PushAnomaly(event.UserID, wsEvent)
		observability.AlertsSent.WithLabelValues(event.UserID).Inc()
	}

	key := evidenceKey(event.ShopID, event.Timestamp)
	if err := r.objects.PutObject(ctx, key, annotated, "image/jpeg"); err != nil {
		slog.Error("upload evidence frame", "stream_id", event.StreamID, "key", key, "error", err)
		return
	}

	anomaly, sample, err := buildRows(event, key, poses)
	if err != nil {
		slog.Error("build anomaly rows", "stream_id", event.StreamID, "error", err)
		return
	}

	if err := r.db.CreateAnomalyWithSample(ctx, anomaly, sample); err != nil {
		slog.Warn("persist anomaly (retrying)", "stream_id", event.StreamID, "error", err)
		if err := r.db.CreateAnomalyWithSample(ctx, anomaly, sample); err != nil {
			slog.Error("persist anomaly, evidence frame orphaned",
				"stream_id", event.StreamID, "key", key, "error", err)
			return
		}
	}

	// A compact notification follows the full event once the anomaly has
	// an id to link to.
	if r.alerter != nil {
		r.alerter.Notify(event.UserID, map[string]interface{}{
			"anomaly_id": anomaly.ID,
			"title":      anomaly.Description,
			"severity":   anomaly.Severity,
		})
	}

	if r.embed != nil {
		if seq, ok := poses[event.Result.PersonID]; ok {
			if vec := r.embed(seq); len(vec) > 0 {
				if err := r.db.AddSampleEmbedding(ctx, sample.ID, vec); err != nil {
					slog.Warn("store sample embedding", "sample_id", sample.ID, "error", err)
				}
			}
		}
	}

	if r.producer != nil {
		busEvent := event
		busEvent.AnnotatedFrame = nil
		busEvent.FrameFormat = ""
		if err := r.producer.PublishAnomaly(ctx, event.ShopID.String(), busEvent); err != nil {
			slog.Warn("publish anomaly event", "shop_id", event.ShopID, "error", err)
		}
	}
}

// Severity maps a confidence bucket onto stored severity. Critical is
// reserved for explicitly escalated events.
func Severity(bucket models.ConfidenceBucket, escalate bool) models.AnomalySeverity {
	if escalate {
		return models.SeverityCritical
	}
	switch bucket {
	case models.ConfidenceHigh:
		return models.SeverityHigh
	case models.ConfidenceMedium:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

func buildRows(event models.AnomalyEvent, key string, poses models.PoseTensor) (*models.Anomaly, *models.TrainingSample, error) {
	extra, err := json.Marshal(map[string]interface{}{
		"stream_id":    event.StreamID,
		"person_id":    event.Result.PersonID,
		"frame_number": event.Result.FrameNumber,
		"bbox":         event.Result.BBox,
		"score":        event.Result.Score,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("marshal extra: %w", err)
	}

	poseDict, err := json.Marshal(poses)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal pose dict: %w", err)
	}

	anomaly := &models.Anomaly{
		ID:        uuid.New(),
		ShopID:    event.ShopID,
		Timestamp: event.Timestamp,
		Location:  event.Location,
		Severity:  Severity(event.Result.Confidence, event.Result.EscalateCritical),
		Status:    models.StatusPending,
		Description: fmt.Sprintf("%s (person %d, score %.2f)",
			event.Result.Classification, event.Result.PersonID, event.Result.Score),
		ImageRef:        key,
		AnomalyType:     "behavior",
		ConfidenceScore: event.Result.Score,
		Extra:           extra,
	}

	sample := &models.TrainingSample{
		ID:                        uuid.New(),
		PoseDict:                  poseDict,
		StreamID:                  event.StreamID,
		FrameNumber:               event.Result.FrameNumber,
		PredictedScore:            event.Result.Score,
		PredictedConfidenceBucket: event.Result.Confidence,
	}

	return anomaly, sample, nil
}

func evidenceKey(shopID uuid.UUID, ts time.Time) string {
	suffix := make([]byte, 4)
	_, _ = rand.Read(suffix)
	return fmt.Sprintf("anomaly_frames/%s/%s_%s.jpg",
		shopID, ts.Format("20060102_150405"), hex.EncodeToString(suffix))
}
