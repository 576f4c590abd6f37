package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/your-org/visionguard/internal/auth"
	"github.com/your-org/visionguard/internal/models"
	"github.com/your-org/visionguard/internal/storage"
	"github.com/your-org/visionguard/pkg/dto"
)

const testSecret = "handler-test-secret"

type fakeTrainingStore struct {
	access    bool
	samples   map[uuid.UUID]*models.TrainingSample
	anomalies map[uuid.UUID]*models.Anomaly

	listCalls    int
	searchCalls  int
	feedbackIDs  []uuid.UUID
	markedIDs    []uuid.UUID
	markedBatch  string
	accessChecks int
}

func (f *fakeTrainingStore) ListUnlabeledSamples(_ context.Context, _ uuid.UUID, _, _ int) ([]models.TrainingSample, error) {
	f.listCalls++
	return nil, nil
}

func (f *fakeTrainingStore) GetTrainingSample(_ context.Context, id uuid.UUID) (*models.TrainingSample, error) {
	return f.samples[id], nil
}

func (f *fakeTrainingStore) SubmitFeedback(_ context.Context, sampleID, _ uuid.UUID, _ models.UserFeedback, _, _ *string) error {
	f.feedbackIDs = append(f.feedbackIDs, sampleID)
	return nil
}

func (f *fakeTrainingStore) MarkSamplesUsed(_ context.Context, ids []uuid.UUID, batchID string) error {
	f.markedIDs = ids
	f.markedBatch = batchID
	return nil
}

func (f *fakeTrainingStore) SearchSimilarSamples(_ context.Context, _ []float32, _ int) ([]storage.SimilarSample, error) {
	f.searchCalls++
	return nil, nil
}

func (f *fakeTrainingStore) GetAnomaly(_ context.Context, id uuid.UUID) (*models.Anomaly, error) {
	return f.anomalies[id], nil
}

func (f *fakeTrainingStore) UserCanAccessShop(_ context.Context, _, _ uuid.UUID) (bool, error) {
	f.accessChecks++
	return f.access, nil
}

// sampleInShop seeds a store with one sample whose anomaly belongs to a shop.
func sampleInShop(access bool) (*fakeTrainingStore, uuid.UUID) {
	sampleID := uuid.New()
	anomalyID := uuid.New()
	poses, _ := json.Marshal(models.PoseTensor{1: make(models.PoseSequence, 2)})
	return &fakeTrainingStore{
		access: access,
		samples: map[uuid.UUID]*models.TrainingSample{
			sampleID: {ID: sampleID, AnomalyID: anomalyID, PoseDict: poses},
		},
		anomalies: map[uuid.UUID]*models.Anomaly{
			anomalyID: {ID: anomalyID, ShopID: uuid.New()},
		},
	}, sampleID
}

func trainingRouter(store TrainingStore) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(auth.Middleware(auth.NewHMACVerifier(testSecret)))
	h := NewTrainingHandler(store)
	r.GET("/v1/training-data", h.ListUnlabeled)
	r.POST("/v1/training-data/:id/feedback", h.Feedback)
	r.GET("/v1/training-data/:id/similar", h.Similar)
	r.POST("/v1/training-batches", h.ExportBatch)
	return r
}

func bearerToken(t *testing.T, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		UserID: userID,
		Role:   models.RoleOwner,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

func doJSON(t *testing.T, r *gin.Engine, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestListUnlabeledForbiddenWithoutShopAccess(t *testing.T) {
	store := &fakeTrainingStore{access: false}
	r := trainingRouter(store)

	w := doJSON(t, r, http.MethodGet,
		"/v1/training-data?shop_id="+uuid.NewString(), bearerToken(t, uuid.NewString()), nil)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if store.listCalls != 0 {
		t.Error("samples must not be listed for a shop the caller cannot access")
	}
}

func TestListUnlabeledAllowedWithShopAccess(t *testing.T) {
	store := &fakeTrainingStore{access: true}
	r := trainingRouter(store)

	w := doJSON(t, r, http.MethodGet,
		"/v1/training-data?shop_id="+uuid.NewString(), bearerToken(t, uuid.NewString()), nil)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if store.listCalls != 1 {
		t.Error("expected one listing call")
	}
}

func TestFeedbackForbiddenWithoutShopAccess(t *testing.T) {
	store, sampleID := sampleInShop(false)
	r := trainingRouter(store)

	w := doJSON(t, r, http.MethodPost,
		"/v1/training-data/"+sampleID.String()+"/feedback",
		bearerToken(t, uuid.NewString()),
		dto.FeedbackRequest{Feedback: "true_positive"})

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if len(store.feedbackIDs) != 0 {
		t.Error("feedback must not be recorded on a foreign shop's sample")
	}
	if store.accessChecks == 0 {
		t.Error("feedback must resolve the sample's shop and check access")
	}
}

func TestFeedbackRecordedWithShopAccess(t *testing.T) {
	store, sampleID := sampleInShop(true)
	r := trainingRouter(store)

	w := doJSON(t, r, http.MethodPost,
		"/v1/training-data/"+sampleID.String()+"/feedback",
		bearerToken(t, uuid.NewString()),
		dto.FeedbackRequest{Feedback: "false_positive"})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(store.feedbackIDs) != 1 || store.feedbackIDs[0] != sampleID {
		t.Errorf("expected feedback on %s, got %v", sampleID, store.feedbackIDs)
	}
}

func TestSimilarForbiddenWithoutShopAccess(t *testing.T) {
	store, sampleID := sampleInShop(false)
	r := trainingRouter(store)

	w := doJSON(t, r, http.MethodGet,
		"/v1/training-data/"+sampleID.String()+"/similar",
		bearerToken(t, uuid.NewString()), nil)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if store.searchCalls != 0 {
		t.Error("similarity search must not run on a foreign shop's sample")
	}
}

func TestExportBatchMarksSamples(t *testing.T) {
	store := &fakeTrainingStore{access: true}
	r := trainingRouter(store)
	ids := []uuid.UUID{uuid.New(), uuid.New()}

	w := doJSON(t, r, http.MethodPost, "/v1/training-batches",
		bearerToken(t, uuid.NewString()),
		dto.TrainingBatchRequest{ShopID: uuid.New(), SampleIDs: ids})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(store.markedIDs) != 2 || store.markedBatch == "" {
		t.Errorf("expected samples marked with a batch id, got %v / %q",
			store.markedIDs, store.markedBatch)
	}
}

func TestExportBatchForbiddenWithoutShopAccess(t *testing.T) {
	store := &fakeTrainingStore{access: false}
	r := trainingRouter(store)

	w := doJSON(t, r, http.MethodPost, "/v1/training-batches",
		bearerToken(t, uuid.NewString()),
		dto.TrainingBatchRequest{ShopID: uuid.New(), SampleIDs: []uuid.UUID{uuid.New()}})

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if len(store.markedIDs) != 0 {
		t.Error("samples must not be marked without shop access")
	}
}
