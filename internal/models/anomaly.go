package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type AnomalySeverity string

const (
	SeverityLow      AnomalySeverity = "low"
	SeverityMedium   AnomalySeverity = "medium"
	SeverityHigh     AnomalySeverity = "high"
	SeverityCritical AnomalySeverity = "critical"
)

type AnomalyStatus string

const (
	StatusPending       AnomalyStatus = "pending"
	StatusAcknowledged  AnomalyStatus = "acknowledged"
	StatusResolved      AnomalyStatus = "resolved"
	StatusFalsePositive AnomalyStatus = "false_positive"
)

// Anomaly is a persisted anomaly event with a reference to its JPEG evidence.
type Anomaly struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	ShopID          uuid.UUID       `json:"shop_id" db:"shop_id"`
	Timestamp       time.Time       `json:"timestamp" db:"timestamp"`
	Location        string          `json:"location" db:"location"`
	Severity        AnomalySeverity `json:"severity" db:"severity"`
	Status          AnomalyStatus   `json:"status" db:"status"`
	Description     string          `json:"description" db:"description"`
	ImageRef        string          `json:"image_ref" db:"image_ref"`
	AnomalyType     string          `json:"anomaly_type" db:"anomaly_type"`
	ConfidenceScore float64         `json:"confidence_score" db:"confidence_score"`
	Extra           json.RawMessage `json:"extra,omitempty" db:"extra"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

type UserFeedback string

const (
	FeedbackTruePositive  UserFeedback = "true_positive"
	FeedbackFalsePositive UserFeedback = "false_positive"
	FeedbackUncertain     UserFeedback = "uncertain"
)

// TrainingSample stores the exact classifier input that produced an anomaly,
// plus later user feedback. Created in the same transaction as its Anomaly.
type TrainingSample struct {
	ID                        uuid.UUID        `json:"id" db:"id"`
	AnomalyID                 uuid.UUID        `json:"anomaly_id" db:"anomaly_id"`
	PoseDict                  json.RawMessage  `json:"pose_dict" db:"pose_dict"`
	StreamID                  string           `json:"stream_id" db:"stream_id"`
	FrameNumber               int              `json:"frame_number" db:"frame_number"`
	PredictedScore            float64          `json:"predicted_score" db:"predicted_score"`
	PredictedConfidenceBucket ConfidenceBucket `json:"predicted_confidence_bucket" db:"predicted_confidence_bucket"`
	UserFeedback              *UserFeedback    `json:"user_feedback,omitempty" db:"user_feedback"`
	UserLabel                 *string          `json:"user_label,omitempty" db:"user_label"`
	UserNotes                 *string          `json:"user_notes,omitempty" db:"user_notes"`
	LabeledBy                 *uuid.UUID       `json:"labeled_by,omitempty" db:"labeled_by"`
	LabeledAt                 *time.Time       `json:"labeled_at,omitempty" db:"labeled_at"`
	UsedForTraining           bool             `json:"used_for_training" db:"used_for_training"`
	TrainingBatchID           *string          `json:"training_batch_id,omitempty" db:"training_batch_id"`
	CreatedAt                 time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt                 time.Time        `json:"updated_at" db:"updated_at"`
}

// AnomalyEvent is the in-flight shape published to the event bus and pushed
// over the alert WebSocket. The WebSocket copy carries the annotated JPEG
// (base64 over the wire); the bus copy drops it.
type AnomalyEvent struct {
	UserID         string          `json:"user_id"`
	ShopID         uuid.UUID       `json:"shop_id"`
	StreamID       string          `json:"stream_id"`
	Location       string          `json:"location"`
	Timestamp      time.Time       `json:"timestamp"`
	Result         DetectionResult `json:"result"`
	AnnotatedFrame []byte          `json:"annotated_frame,omitempty"`
	FrameFormat    string          `json:"frame_format,omitempty"`
}
