package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/visionguard/internal/models"
)

type fakeStore struct {
	mu         sync.Mutex
	failures   int // number of CreateAnomalyWithSample calls to fail
	calls      int
	anomalies  []*models.Anomaly
	samples    []*models.TrainingSample
	embeddings map[uuid.UUID][]float32
}

func (f *fakeStore) CreateAnomalyWithSample(_ context.Context, a *models.Anomaly, ts *models.TrainingSample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return errors.New("db down")
	}
	f.anomalies = append(f.anomalies, a)
	f.samples = append(f.samples, ts)
	return nil
}

func (f *fakeStore) AddSampleEmbedding(_ context.Context, id uuid.UUID, vec []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.embeddings == nil {
		f.embeddings = make(map[uuid.UUID][]float32)
	}
	f.embeddings[id] = vec
	return nil
}

type fakeObjects struct {
	fail bool
	keys []string
	data [][]byte
}

func (f *fakeObjects) PutObject(_ context.Context, key string, data []byte, _ string) error {
	if f.fail {
		return errors.New("minio down")
	}
	f.keys = append(f.keys, key)
	f.data = append(f.data, data)
	return nil
}

type fakeAlerter struct {
	users         []string
	events        []models.AnomalyEvent
	notifications []interface{}
}

func (f *fakeAlerter) PushAnomaly(userID string, event models.AnomalyEvent) {
	f.users = append(f.users, userID)
	f.events = append(f.events, event)
}

func (f *fakeAlerter) Notify(_ string, payload interface{}) {
	f.notifications = append(f.notifications, payload)
}

type fakePublisher struct {
	shops []string
}

func (f *fakePublisher) PublishAnomaly(_ context.Context, shopID string, _ interface{}) error {
	f.shops = append(f.shops, shopID)
	return nil
}

func testEvent() models.AnomalyEvent {
	return models.AnomalyEvent{
		UserID:    "u1",
		ShopID:    uuid.New(),
		StreamID:  "cam-1",
		Location:  "entrance",
		Timestamp: time.Date(2026, 8, 24, 12, 30, 45, 0, time.UTC),
		Result: models.DetectionResult{
			PersonID:       7,
			FrameNumber:    120,
			Score:          -2.6,
			IsAbnormal:     true,
			Classification: "Abnormal",
			Confidence:     models.ConfidenceMedium,
			BBox:           models.BBox{X: 10, Y: 20, W: 30, H: 40},
		},
	}
}

func testPoses() models.PoseTensor {
	seq := make(models.PoseSequence, 3)
	return models.PoseTensor{7: seq}
}

func TestHandleAnomalyHappyPath(t *testing.T) {
	db := &fakeStore{}
	objects := &fakeObjects{}
	alerter := &fakeAlerter{}
	publisher := &fakePublisher{}
	rec := New(db, objects, alerter, publisher, func(models.PoseSequence) []float32 {
		return []float32{1, 2, 3}
	})

	event := testEvent()
	rec.HandleAnomaly(context.Background(), event, []byte("jpeg"), testPoses())

	if len(alerter.users) != 1 || alerter.users[0] != "u1" {
		t.Fatalf("expected alert for u1, got %v", alerter.users)
	}
	if string(alerter.events[0].AnnotatedFrame) != "jpeg" || alerter.events[0].FrameFormat != "jpeg" {
		t.Error("pushed alert should carry the annotated frame")
	}
	if len(objects.keys) != 1 {
		t.Fatalf("expected 1 uploaded frame, got %d", len(objects.keys))
	}
	wantPrefix := "anomaly_frames/" + event.ShopID.String() + "/20260824_123045_"
	if !strings.HasPrefix(objects.keys[0], wantPrefix) || !strings.HasSuffix(objects.keys[0], ".jpg") {
		t.Errorf("evidence key %q does not match layout", objects.keys[0])
	}

	if len(db.anomalies) != 1 || len(db.samples) != 1 {
		t.Fatalf("expected anomaly and sample persisted together")
	}
	a, s := db.anomalies[0], db.samples[0]
	if a.Severity != models.SeverityMedium {
		t.Errorf("expected medium severity, got %s", a.Severity)
	}
	if a.Status != models.StatusPending {
		t.Errorf("new anomaly must start pending, got %s", a.Status)
	}
	if a.ImageRef != objects.keys[0] {
		t.Errorf("anomaly image_ref %q does not point at uploaded key %q", a.ImageRef, objects.keys[0])
	}
	if s.StreamID != "cam-1" || s.FrameNumber != 120 || s.PredictedScore != -2.6 {
		t.Errorf("sample fields wrong: %+v", s)
	}
	var extra map[string]interface{}
	if err := json.Unmarshal(a.Extra, &extra); err != nil {
		t.Fatalf("unmarshal extra: %v", err)
	}
	for _, key := range []string{"stream_id", "person_id", "frame_number", "bbox", "score"} {
		if _, ok := extra[key]; !ok {
			t.Errorf("extra payload missing %q: %v", key, extra)
		}
	}
	if got, ok := extra["score"].(float64); !ok || got != -2.6 {
		t.Errorf("extra score = %v, want -2.6", extra["score"])
	}
	if s.UsedForTraining {
		t.Error("new sample must not be marked used for training")
	}
	if len(db.embeddings[s.ID]) != 3 {
		t.Error("embedding should be stored for the firing person")
	}
	if len(publisher.shops) != 1 || publisher.shops[0] != event.ShopID.String() {
		t.Errorf("expected bus publish for shop, got %v", publisher.shops)
	}
	if len(alerter.notifications) != 1 {
		t.Errorf("expected 1 follow-up notification, got %d", len(alerter.notifications))
	}
}

func TestHandleAnomalyUploadFailureSkipsDB(t *testing.T) {
	db := &fakeStore{}
	objects := &fakeObjects{fail: true}
	alerter := &fakeAlerter{}
	rec := New(db, objects, alerter, nil, nil)

	rec.HandleAnomaly(context.Background(), testEvent(), []byte("jpeg"), testPoses())

	if len(alerter.users) != 1 {
		t.Error("alert must go out even when storage is down")
	}
	if db.calls != 0 {
		t.Error("no DB write without an evidence frame")
	}
}

func TestHandleAnomalyRetriesDBOnce(t *testing.T) {
	db := &fakeStore{failures: 1}
	objects := &fakeObjects{}
	rec := New(db, objects, &fakeAlerter{}, nil, nil)

	rec.HandleAnomaly(context.Background(), testEvent(), []byte("jpeg"), testPoses())

	if db.calls != 2 {
		t.Fatalf("expected 1 retry (2 calls), got %d", db.calls)
	}
	if len(db.anomalies) != 1 {
		t.Error("retry should have succeeded")
	}
}

func TestHandleAnomalyDBFailureLeavesOrphanButAlerts(t *testing.T) {
	db := &fakeStore{failures: 2}
	objects := &fakeObjects{}
	alerter := &fakeAlerter{}
	publisher := &fakePublisher{}
	rec := New(db, objects, alerter, publisher, nil)

	rec.HandleAnomaly(context.Background(), testEvent(), []byte("jpeg"), testPoses())

	if db.calls != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", db.calls)
	}
	if len(db.anomalies) != 0 {
		t.Error("nothing should be persisted after both attempts fail")
	}
	if len(alerter.users) != 1 {
		t.Error("the live alert precedes persistence and must have been sent")
	}
	if len(objects.keys) != 1 {
		t.Error("the uploaded frame stays behind as an orphan")
	}
	if len(publisher.shops) != 0 {
		t.Error("no bus publish when persistence failed")
	}
	if len(alerter.notifications) != 0 {
		t.Error("no follow-up notification without a persisted anomaly")
	}
}

func TestSeverityMapping(t *testing.T) {
	cases := []struct {
		bucket   models.ConfidenceBucket
		escalate bool
		want     models.AnomalySeverity
	}{
		{models.ConfidenceHigh, false, models.SeverityHigh},
		{models.ConfidenceMedium, false, models.SeverityMedium},
		{models.ConfidenceLow, false, models.SeverityLow},
		{models.ConfidenceLow, true, models.SeverityCritical},
		{models.ConfidenceHigh, true, models.SeverityCritical},
	}
	for _, tc := range cases {
		if got := Severity(tc.bucket, tc.escalate); got != tc.want {
			t.Errorf("Severity(%s, %v) = %s, want %s", tc.bucket, tc.escalate, got, tc.want)
		}
	}
}
