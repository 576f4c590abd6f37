package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/visionguard/internal/auth"
	"github.com/your-org/visionguard/internal/models"
	"github.com/your-org/visionguard/pkg/dto"
)

type fakeShopStore struct {
	access  bool
	shop    *models.Shop
	chatIDs map[uuid.UUID]string
}

func (f *fakeShopStore) GetShop(_ context.Context, id uuid.UUID) (*models.Shop, error) {
	if f.shop != nil && f.shop.ID == id {
		return f.shop, nil
	}
	return nil, nil
}

func (f *fakeShopStore) SetShopChatID(_ context.Context, shopID uuid.UUID, chatID string) error {
	if f.chatIDs == nil {
		f.chatIDs = make(map[uuid.UUID]string)
	}
	f.chatIDs[shopID] = chatID
	return nil
}

func (f *fakeShopStore) UserCanAccessShop(_ context.Context, _, _ uuid.UUID) (bool, error) {
	return f.access, nil
}

func shopRouter(store ShopStore) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(auth.Middleware(auth.NewHMACVerifier(testSecret)))
	h := NewShopHandler(store)
	r.PATCH("/v1/shops/:id/telegram", h.SetTelegramChat)
	return r
}

func TestSetTelegramChatBindsShop(t *testing.T) {
	shopID := uuid.New()
	store := &fakeShopStore{access: true, shop: &models.Shop{ID: shopID, Name: "corner store"}}
	r := shopRouter(store)

	w := doJSON(t, r, http.MethodPatch, "/v1/shops/"+shopID.String()+"/telegram",
		bearerToken(t, uuid.NewString()), dto.SetTelegramChatRequest{ChatID: "-100123456"})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if store.chatIDs[shopID] != "-100123456" {
		t.Errorf("chat id not stored, got %q", store.chatIDs[shopID])
	}
}

func TestSetTelegramChatForbiddenWithoutShopAccess(t *testing.T) {
	shopID := uuid.New()
	store := &fakeShopStore{access: false, shop: &models.Shop{ID: shopID}}
	r := shopRouter(store)

	w := doJSON(t, r, http.MethodPatch, "/v1/shops/"+shopID.String()+"/telegram",
		bearerToken(t, uuid.NewString()), dto.SetTelegramChatRequest{ChatID: "-100123456"})

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if len(store.chatIDs) != 0 {
		t.Error("chat id must not be stored without shop access")
	}
}

func TestSetTelegramChatUnknownShop(t *testing.T) {
	store := &fakeShopStore{access: true}
	r := shopRouter(store)

	w := doJSON(t, r, http.MethodPatch, "/v1/shops/"+uuid.NewString()+"/telegram",
		bearerToken(t, uuid.NewString()), dto.SetTelegramChatRequest{ChatID: "-1"})

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}
