package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/visionguard/internal/api/ws"
	"github.com/your-org/visionguard/internal/queue"
	"github.com/your-org/visionguard/internal/storage"
	"github.com/your-org/visionguard/internal/vision"
	"github.com/your-org/visionguard/pkg/dto"
)

type SystemHandler struct {
	db       *storage.PostgresStore
	minio    *storage.MinIOStore
	producer *queue.Producer
	manager  *vision.Manager
	hub      *ws.Hub
}

func NewSystemHandler(db *storage.PostgresStore, minio *storage.MinIOStore, producer *queue.Producer, manager *vision.Manager, hub *ws.Hub) *SystemHandler {
	return &SystemHandler{db: db, minio: minio, producer: producer, manager: manager, hub: hub}
}

func (h *SystemHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *SystemHandler) Readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if err := h.db.Ping(ctx); err != nil {
		checks["postgres"] = err.Error()
		healthy = false
	} else {
		checks["postgres"] = "ok"
	}

	if err := h.minio.Ping(ctx); err != nil {
		checks["minio"] = err.Error()
		healthy = false
	} else {
		checks["minio"] = "ok"
	}

	if err := h.producer.Ping(); err != nil {
		checks["nats"] = err.Error()
		healthy = false
	} else {
		checks["nats"] = "ok"
	}

	if h.manager.Loaded() {
		checks["models"] = "ok"
	} else {
		checks["models"] = "not loaded"
		healthy = false
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"status": map[bool]string{true: "ready", false: "not ready"}[healthy],
		"checks": checks,
	})
}

// Connections lists every open alert channel.
func (h *SystemHandler) Connections(c *gin.Context) {
	infos := h.hub.StatsAll()
	c.JSON(http.StatusOK, dto.ConnectionsResponse{
		Total:       len(infos),
		Connections: infos,
	})
}

// Connection returns one user's alert channel info.
func (h *SystemHandler) Connection(c *gin.Context) {
	info := h.hub.Stats(c.Param("user_id"))
	if info == nil {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "no connection for user"})
		return
	}
	c.JSON(http.StatusOK, info)
}
