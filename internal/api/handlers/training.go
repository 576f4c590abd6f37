package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/visionguard/internal/auth"
	"github.com/your-org/visionguard/internal/models"
	"github.com/your-org/visionguard/internal/storage"
	"github.com/your-org/visionguard/internal/vision"
	"github.com/your-org/visionguard/pkg/dto"
)

// TrainingStore is the subset of the database behind the feedback loop.
// *storage.PostgresStore satisfies it.
type TrainingStore interface {
	ListUnlabeledSamples(ctx context.Context, shopID uuid.UUID, limit, offset int) ([]models.TrainingSample, error)
	GetTrainingSample(ctx context.Context, id uuid.UUID) (*models.TrainingSample, error)
	SubmitFeedback(ctx context.Context, sampleID, userID uuid.UUID, feedback models.UserFeedback, label, notes *string) error
	MarkSamplesUsed(ctx context.Context, ids []uuid.UUID, batchID string) error
	SearchSimilarSamples(ctx context.Context, embedding []float32, limit int) ([]storage.SimilarSample, error)
	GetAnomaly(ctx context.Context, id uuid.UUID) (*models.Anomaly, error)
	UserCanAccessShop(ctx context.Context, userID, shopID uuid.UUID) (bool, error)
}

// TrainingHandler serves the feedback loop over collected samples. Every
// operation checks the caller's shop access; samples inherit their shop
// through the anomaly they were captured with.
type TrainingHandler struct {
	db TrainingStore
}

func NewTrainingHandler(db TrainingStore) *TrainingHandler {
	return &TrainingHandler{db: db}
}

// ListUnlabeled returns samples awaiting feedback for one shop.
func (h *TrainingHandler) ListUnlabeled(c *gin.Context) {
	shopID, err := uuid.Parse(c.Query("shop_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid shop_id"})
		return
	}
	if !h.authorize(c, shopID) {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	samples, err := h.db.ListUnlabeledSamples(c.Request.Context(), shopID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"samples": samples})
}

// Feedback records a user label on one sample.
func (h *TrainingHandler) Feedback(c *gin.Context) {
	sample := h.load(c)
	if sample == nil {
		return
	}

	var req dto.FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	feedback := models.UserFeedback(req.Feedback)
	switch feedback {
	case models.FeedbackTruePositive, models.FeedbackFalsePositive, models.FeedbackUncertain:
	default:
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid feedback value"})
		return
	}

	userID := uuid.Nil
	if claims := auth.ClaimsFrom(c); claims != nil {
		if id, err := uuid.Parse(claims.UserID); err == nil {
			userID = id
		}
	}

	if err := h.db.SubmitFeedback(c.Request.Context(), sample.ID, userID, feedback, req.Label, req.Notes); err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": sample.ID, "feedback": feedback})
}

// Similar finds samples whose pose embedding is closest to the given one.
// Useful for propagating one label across near-duplicate events.
func (h *TrainingHandler) Similar(c *gin.Context) {
	sample := h.load(c)
	if sample == nil {
		return
	}

	var poses models.PoseTensor
	if err := json.Unmarshal(sample.PoseDict, &poses); err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "corrupt pose data"})
		return
	}

	// Embed the longest sequence in the snapshot; it belongs to the
	// person the anomaly fired on in the common case.
	var longest models.PoseSequence
	for _, seq := range poses {
		if len(seq) > len(longest) {
			longest = seq
		}
	}
	if len(longest) == 0 {
		c.JSON(http.StatusUnprocessableEntity, dto.ErrorResponse{Error: "sample has no pose data"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "5"))
	matches, err := h.db.SearchSimilarSamples(c.Request.Context(), vision.FlattenSequence(longest), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"matches": matches})
}

// ExportBatch marks a set of labeled samples as consumed by a training run
// and returns the generated batch id.
func (h *TrainingHandler) ExportBatch(c *gin.Context) {
	var req dto.TrainingBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}
	if !h.authorize(c, req.ShopID) {
		return
	}

	batchID := uuid.NewString()
	if err := h.db.MarkSamplesUsed(c.Request.Context(), req.SampleIDs, batchID); err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"batch_id": batchID, "marked": len(req.SampleIDs)})
}

// load fetches the sample, resolves its shop through the parent anomaly and
// enforces access. Writes the error response itself and returns nil on any
// failure.
func (h *TrainingHandler) load(c *gin.Context) *models.TrainingSample {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid sample id"})
		return nil
	}

	sample, err := h.db.GetTrainingSample(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})
		return nil
	}
	if sample == nil {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "training sample not found"})
		return nil
	}

	anomaly, err := h.db.GetAnomaly(c.Request.Context(), sample.AnomalyID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})
		return nil
	}
	if anomaly == nil {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "anomaly not found"})
		return nil
	}
	if !h.authorize(c, anomaly.ShopID) {
		return nil
	}
	return sample
}

func (h *TrainingHandler) authorize(c *gin.Context, shopID uuid.UUID) bool {
	claims := auth.ClaimsFrom(c)
	if claims == nil {
		return true // auth disabled
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		c.JSON(http.StatusForbidden, dto.ErrorResponse{Error: "invalid user id in token"})
		return false
	}

	ok, err := h.db.UserCanAccessShop(c.Request.Context(), userID, shopID)
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
