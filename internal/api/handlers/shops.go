package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/visionguard/internal/auth"
	"github.com/your-org/visionguard/internal/models"
	"github.com/your-org/visionguard/pkg/dto"
)

// ShopStore is the subset of the database behind shop settings.
// *storage.PostgresStore satisfies it.
type ShopStore interface {
	GetShop(ctx context.Context, id uuid.UUID) (*models.Shop, error)
	SetShopChatID(ctx context.Context, shopID uuid.UUID, chatID string) error
	UserCanAccessShop(ctx context.Context, userID, shopID uuid.UUID) (bool, error)
}

// ShopHandler serves shop settings. Currently that is the Telegram chat
// binding the bot hands out on /start.
type ShopHandler struct {
	db ShopStore
}

func NewShopHandler(db ShopStore) *ShopHandler {
	return &ShopHandler{db: db}
}

// SetTelegramChat binds a Telegram chat to a shop so the notifier can
// deliver anomaly messages there.
func (h *ShopHandler) SetTelegramChat(c *gin.Context) {
	shopID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid shop id"})
		return
	}

	var req dto.SetTelegramChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	shop, err := h.db.GetShop(c.Request.Context(), shopID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})
		return
	}
	if shop == nil {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "shop not found"})
		return
	}
	if !h.authorize(c, shopID) {
		return
	}

	if err := h.db.SetShopChatID(c.Request.Context(), shopID, req.ChatID); err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": shopID, "telegram_chat_id": req.ChatID})
}

func (h *ShopHandler) authorize(c *gin.Context, shopID uuid.UUID) bool {
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
