package dto

import (
	"encoding/json"
	"time"
)

// WebSocket message types exchanged on the alert channel.
const (
	WSTypeAnomaly      = "anomaly_detected"
	WSTypePing         = "ping"
	WSTypePong         = "pong"
	WSTypeAck          = "ack"
	WSTypeNotification = "notification"
	WSTypeShutdown     = "server_shutdown"
)

// Close codes on the alert channel beyond the standard 1000.
const (
	CloseSuperseded   = 4000 // replaced by a newer connection for the same user
	ClosePongTimeout  = 4001 // no pong within the heartbeat window
	CloseUnauthorized = 4401 // missing or invalid token
)

// WSMessage is the envelope for every alert-channel message.
type WSMessage struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// WSInbound is what the server accepts from clients.
type WSInbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}
