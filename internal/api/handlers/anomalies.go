package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/visionguard/internal/auth"
	"github.com/your-org/visionguard/internal/models"
	"github.com/your-org/visionguard/internal/storage"
	"github.com/your-org/visionguard/pkg/dto"
)

// AnomalyHandler serves the anomaly review API.
type AnomalyHandler struct {
	db    *storage.PostgresStore
	minio *storage.MinIOStore
}

func NewAnomalyHandler(db *storage.PostgresStore, minio *storage.MinIOStore) *AnomalyHandler {
	return &AnomalyHandler{db: db, minio: minio}
}

// List returns anomalies for a shop the caller can access, newest first.
// Filters: severity, status, from, to (RFC3339), limit, offset.
func (h *AnomalyHandler) List(c *gin.Context) {
	shopID, err := uuid.Parse(c.Query("shop_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid shop_id"})
		return
	}
	if !h.authorize(c, shopID) {
		return
	}

	f := storage.AnomalyFilter{ShopID: shopID}
	if v := c.Query("severity"); v != "" {
		s := models.AnomalySeverity(v)
		f.Severity = &s
	}
	if v := c.Query("status"); v != "" {
		s := models.AnomalyStatus(v)
		f.Status = &s
	}
	if v := c.Query("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.From = &t
		}
	}
	if v := c.Query("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.To = &t
		}
	}
	f.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	f.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))

	anomalies, total, err := h.db.ListAnomalies(c.Request.Context(), f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, dto.AnomalyListResponse{
		Total:     total,
		Limit:     f.Limit,
		Offset:    f.Offset,
		Anomalies: anomalies,
	})
}

// Get returns one anomaly.
func (h *AnomalyHandler) Get(c *gin.Context) {
	a := h.load(c)
	if a == nil {
		return
	}
	c.JSON(http.StatusOK, a)
}

// UpdateStatus moves an anomaly through the review workflow.
func (h *AnomalyHandler) UpdateStatus(c *gin.Context) {
	a := h.load(c)
	if a == nil {
		return
	}

	var req dto.UpdateAnomalyStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	status := models.AnomalyStatus(req.Status)
	switch status {
	case models.StatusPending, models.StatusAcknowledged,
		models.StatusResolved, models.StatusFalsePositive:
	default:
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid status"})
		return
	}

	if err := h.db.UpdateAnomalyStatus(c.Request.Context(), a.ID, status); err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": a.ID, "status": status})
}

// Evidence streams the annotated JPEG for an anomaly.
func (h *AnomalyHandler) Evidence(c *gin.Context) {
	a := h.load(c)
	if a == nil {
		return
	}

	data, err := h.minio.GetObject(c.Request.Context(), a.ImageRef)
	if err != nil {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "evidence frame not found"})
		return
	}
	c.Data(http.StatusOK, "image/jpeg", data)
}

// load fetches the anomaly and enforces shop access. Writes the error
// response itself and returns nil on any failure.
func (h *AnomalyHandler) load(c *gin.Context) *models.Anomaly {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid anomaly id"})
		return nil
	}

	a, err := h.db.GetAnomaly(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})
		return nil
	}
	if a == nil {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "anomaly not found"})
		return nil
	}
	if !h.authorize(c, a.ShopID) {
		return nil
	}
	return a
}

func (h *AnomalyHandler) authorize(c *gin.Context, shopID uuid.UUID) bool {
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
