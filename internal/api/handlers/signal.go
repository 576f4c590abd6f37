package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/visionguard/internal/auth"
	"github.com/your-org/visionguard/internal/config"
	"github.com/your-org/visionguard/internal/storage"
	"github.com/your-org/visionguard/internal/stream"
	"github.com/your-org/visionguard/internal/vision"
	"github.com/your-org/visionguard/pkg/dto"
)

// SignalHandler negotiates inbound WebRTC streams.
type SignalHandler struct {
	registry  *stream.Registry
	manager   *vision.Manager
	sink      stream.AnomalySink
	db        *storage.PostgresStore
	webrtcCfg config.WebRTCConfig
	detCfg    config.DetectionConfig
}

func NewSignalHandler(registry *stream.Registry, manager *vision.Manager, sink stream.AnomalySink, db *storage.PostgresStore, webrtcCfg config.WebRTCConfig, detCfg config.DetectionConfig) *SignalHandler {
	return &SignalHandler{
		registry:  registry,
		manager:   manager,
		sink:      sink,
		db:        db,
		webrtcCfg: webrtcCfg,
		detCfg:    detCfg,
	}
}

// Offer accepts a browser SDP offer, spins up the per-stream pipeline, and
// returns the answer with a freshly allocated stream id. A failed
// negotiation tears everything down so no half-built session leaks.
func (h *SignalHandler) Offer(c *gin.Context) {
	var req dto.OfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}
	if req.Type != "offer" {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "type must be \"offer\""})
		return
	}

	if !h.authorize(c, req.UserID, req.ShopID) {
		return
	}

	if !h.manager.Loaded() {
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: "models not loaded"})
		return
	}

	streamID := uuid.NewString()
	processor := stream.NewProcessor(stream.ProcessorConfig{
		StreamID:      streamID,
		UserID:        req.UserID,
		ShopID:        req.ShopID,
		Location:      req.Metadata.Location,
		Manager:       h.manager,
		Sink:          h.sink,
		TrackerMaxAge: h.detCfg.TrackerMaxAge,
		TrackerIoU:    h.detCfg.TrackerIoU,
	})

	peer, err := stream.NewPeer(h.webrtcCfg, processor, stream.NewVP8Decoder(), func() {
		// Connection died on its own; pull the session out of the registry.
		if s := h.registry.Remove(req.UserID, streamID); s != nil {
			s.Processor.Stop()
		}
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})
		return
	}

	timeout := time.Duration(h.webrtcCfg.OfferTimeout) * time.Second
	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()

	answer, err := peer.HandleOffer(ctx, req.SDP)
	if err != nil {
		peer.Close()
		status := http.StatusBadRequest
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		c.JSON(status, dto.ErrorResponse{Error: err.Error()})
		return
	}

	processor.Start(context.Background())
	if prev := h.registry.Add(req.UserID, &stream.Session{Processor: processor, Peer: peer}); prev != nil {
		prev.Close()
	}

	c.JSON(http.StatusOK, dto.AnswerResponse{
		SDP:      answer,
		Type:     "answer",
		UserID:   req.UserID,
		StreamID: streamID,
	})
}

// authorize requires the caller to be the named user and to have access to
// the shop. With auth disabled everything passes.
func (h *SignalHandler) authorize(c *gin.Context, userID string, shopID uuid.UUID) bool {
	claims := auth.ClaimsFrom(c)
	if claims == nil {
		return true
	}
	if claims.UserID != userID {
		c.JSON(http.StatusForbidden, dto.ErrorResponse{Error: "user_id does not match caller"})
		return false
	}
	uid, err := uuid.Parse(claims.UserID)
	if err != nil {
		c.JSON(http.StatusForbidden, dto.ErrorResponse{Error: "invalid user id in token"})
		return false
	}
	ok, err := h.db.UserCanAccessShop(c.Request.Context(), uid, shopID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})
		return false
	}
	if !ok {
		c.JSON(http.StatusForbidden, dto.ErrorResponse{Error: "no access to this shop"})
		return false
	}
	return true
}
