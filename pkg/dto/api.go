package dto

import (
	"time"

	"github.com/google/uuid"
)

// OfferRequest starts a new video stream session.
type OfferRequest struct {
	SDP      string         `json:"sdp" binding:"required"`
	Type     string         `json:"type" binding:"required"`
	UserID   string         `json:"user_id" binding:"required"`
	ShopID   uuid.UUID      `json:"shop_id" binding:"required"`
	Metadata StreamMetadata `json:"stream_metadata"`
}

// StreamMetadata carries optional descriptive fields for a stream.
type StreamMetadata struct {
	Location string `json:"location,omitempty"`
	Camera   string `json:"camera,omitempty"`
}

// AnswerResponse returns the server's SDP answer and the allocated stream id.
type AnswerResponse struct {
	SDP      string `json:"sdp"`
	Type     string `json:"type"`
	UserID   string `json:"user_id"`
	StreamID string `json:"stream_id"`
}

type StreamListResponse struct {
	UserID  string   `json:"user_id"`
	Streams []string `json:"streams"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// UpdateAnomalyStatusRequest changes an anomaly's workflow status.
type UpdateAnomalyStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// TrainingBatchRequest marks labeled samples as exported for a training run.
type TrainingBatchRequest struct {
	ShopID    uuid.UUID   `json:"shop_id" binding:"required"`
	SampleIDs []uuid.UUID `json:"sample_ids" binding:"required"`
}

// SetTelegramChatRequest binds a Telegram chat to a shop.
type SetTelegramChatRequest struct {
	ChatID string `json:"chat_id" binding:"required"`
}

// FeedbackRequest labels a training sample.
type FeedbackRequest struct {
	Feedback string  `json:"feedback" binding:"required"`
	Label    *string `json:"label,omitempty"`
	Notes    *string `json:"notes,omitempty"`
}

// AnomalyListResponse is a filtered page of anomalies.
type AnomalyListResponse struct {
	Total     int         `json:"total"`
	Limit     int         `json:"limit"`
	Offset    int         `json:"offset"`
	Anomalies interface{} `json:"anomalies"`
}

// ConnectionInfo describes one live alert channel.
type ConnectionInfo struct {
	UserID                string    `json:"user_id"`
	Connected             bool      `json:"connected"`
	ConnectedAt           time.Time `json:"connected_at"`
	UptimeSeconds         float64   `json:"uptime_seconds"`
	LastHeartbeatAt       time.Time `json:"last_heartbeat_at"`
	SecondsSinceHeartbeat float64   `json:"seconds_since_heartbeat"`
	QueuedSends           int       `json:"queued_sends"`
}

type ConnectionsResponse struct {
	Total       int              `json:"total"`
	Connections []ConnectionInfo `json:"connections"`
}
