package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/visionguard/internal/config"
	"github.com/your-org/visionguard/internal/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Shops / access ---

func (s *PostgresStore) GetShop(ctx context.Context, id uuid.UUID) (*models.Shop, error) {
	sh := &models.Shop{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, owner_id, name, COALESCE(telegram_chat_id, ''), created_at, updated_at FROM shops WHERE id = $1`, id,
	).Scan(&sh.ID, &sh.OwnerID, &sh.Name, &sh.TelegramChatID, &sh.CreatedAt, &sh.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get shop: %w", err)
	}
	return sh, nil
}

// UserCanAccessShop reports whether the user owns the shop or is assigned
// as one of its managers.
func (s *PostgresStore) UserCanAccessShop(ctx context.Context, userID, shopID uuid.UUID) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM shops WHERE id = $1 AND owner_id = $2
			UNION
			SELECT 1 FROM shop_managers WHERE shop_id = $1 AND user_id = $2
		)`, shopID, userID,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check shop access: %w", err)
	}
	return ok, nil
}

// SetShopChatID binds a Telegram chat to a shop for alert delivery.
func (s *PostgresStore) SetShopChatID(ctx context.Context, shopID uuid.UUID, chatID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE shops SET telegram_chat_id = $1 WHERE id = $2`, chatID, shopID)
	if err != nil {
		return fmt.Errorf("set shop chat id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("shop not found")
	}
	return nil
}

// --- Anomalies ---

// CreateAnomalyWithSample inserts the anomaly and its training sample in a
// single transaction. Either both rows land or neither does.
func (s *PostgresStore) CreateAnomalyWithSample(ctx context.Context, a *models.Anomaly, ts *models.TrainingSample) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Extra == nil {
		a.Extra = json.RawMessage("{}")
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO anomalies (id, shop_id, timestamp, location, severity, status, description, image_ref, anomaly_type, confidence_score, extra)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING created_at, updated_at`,
		a.ID, a.ShopID, a.Timestamp, a.Location, a.Severity, a.Status,
		a.Description, a.ImageRef, a.AnomalyType, a.ConfidenceScore, a.Extra,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert anomaly: %w", err)
	}

	if ts.ID == uuid.Nil {
		ts.ID = uuid.New()
	}
	ts.AnomalyID = a.ID
	err = tx.QueryRow(ctx,
		`INSERT INTO training_samples (id, anomaly_id, pose_dict, stream_id, frame_number, predicted_score, predicted_confidence_bucket, used_for_training)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE) RETURNING created_at, updated_at`,
		ts.ID, ts.AnomalyID, ts.PoseDict, ts.StreamID, ts.FrameNumber,
		ts.PredictedScore, ts.PredictedConfidenceBucket,
	).Scan(&ts.CreatedAt, &ts.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert training sample: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit anomaly tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAnomaly(ctx context.Context, id uuid.UUID) (*models.Anomaly, error) {
	a := &models.Anomaly{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, shop_id, timestamp, location, severity, status, description, image_ref, anomaly_type, confidence_score, extra, created_at, updated_at
		 FROM anomalies WHERE id = $1`, id,
	).Scan(&a.ID, &a.ShopID, &a.Timestamp, &a.Location, &a.Severity, &a.Status,
		&a.Description, &a.ImageRef, &a.AnomalyType, &a.ConfidenceScore, &a.Extra,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get anomaly: %w", err)
	}
	return a, nil
}

type AnomalyFilter struct {
	ShopID   uuid.UUID
	Severity *models.AnomalySeverity
	Status   *models.AnomalyStatus
	From     *time.Time
	To       *time.Time
	Limit    int
	Offset   int
}

func (s *PostgresStore) ListAnomalies(ctx context.Context, f AnomalyFilter) ([]models.Anomaly, int, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 500 {
		f.Limit = 500
	}

	baseWhere := "WHERE shop_id = $1"
	args := []interface{}{f.ShopID}
	argIdx := 2

	if f.Severity != nil {
		baseWhere += fmt.Sprintf(" AND severity = $%d", argIdx)
		args = append(args, *f.Severity)
		argIdx++
	}
	if f.Status != nil {
		baseWhere += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, *f.Status)
		argIdx++
	}
	if f.From != nil {
		baseWhere += fmt.Sprintf(" AND timestamp >= $%d", argIdx)
		args = append(args, *f.From)
		argIdx++
	}
	if f.To != nil {
		baseWhere += fmt.Sprintf(" AND timestamp <= $%d", argIdx)
		args = append(args, *f.To)
		argIdx++
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM anomalies " + baseWhere
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count anomalies: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT id, shop_id, timestamp, location, severity, status, description, image_ref, anomaly_type, confidence_score, extra, created_at, updated_at
		 FROM anomalies %s ORDER BY timestamp DESC LIMIT $%d OFFSET $%d`,
		baseWhere, argIdx, argIdx+1)
	args = append(args, f.Limit, f.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list anomalies: %w", err)
	}
	defer rows.Close()

	var anomalies []models.Anomaly
	for rows.Next() {
		var a models.Anomaly
		if err := rows.Scan(&a.ID, &a.ShopID, &a.Timestamp, &a.Location, &a.Severity, &a.Status,
			&a.Description, &a.ImageRef, &a.AnomalyType, &a.ConfidenceScore, &a.Extra,
			&a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan anomaly: %w", err)
		}
		anomalies = append(anomalies, a)
	}
	return anomalies, total, nil
}

func (s *PostgresStore) UpdateAnomalyStatus(ctx context.Context, id uuid.UUID, status models.AnomalyStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE anomalies SET status = $1, updated_at = NOW() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("update anomaly status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("anomaly not found")
	}
	return nil
}

// --- Training samples ---

func (s *PostgresStore) GetTrainingSample(ctx context.Context, id uuid.UUID) (*models.TrainingSample, error) {
	ts := &models.TrainingSample{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, anomaly_id, pose_dict, stream_id, frame_number, predicted_score, predicted_confidence_bucket,
		        user_feedback, user_label, user_notes, labeled_by, labeled_at, used_for_training, training_batch_id, created_at, updated_at
		 FROM training_samples WHERE id = $1`, id,
	).Scan(&ts.ID, &ts.AnomalyID, &ts.PoseDict, &ts.StreamID, &ts.FrameNumber,
		&ts.PredictedScore, &ts.PredictedConfidenceBucket,
		&ts.UserFeedback, &ts.UserLabel, &ts.UserNotes, &ts.LabeledBy, &ts.LabeledAt,
		&ts.UsedForTraining, &ts.TrainingBatchID, &ts.CreatedAt, &ts.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get training sample: %w", err)
	}
	return ts, nil
}

func (s *PostgresStore) ListUnlabeledSamples(ctx context.Context, shopID uuid.UUID, limit, offset int) ([]models.TrainingSample, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT ts.id, ts.anomaly_id, ts.pose_dict, ts.stream_id, ts.frame_number, ts.predicted_score, ts.predicted_confidence_bucket,
		        ts.user_feedback, ts.user_label, ts.user_notes, ts.labeled_by, ts.labeled_at, ts.used_for_training, ts.training_batch_id, ts.created_at, ts.updated_at
		 FROM training_samples ts
		 JOIN anomalies a ON a.id = ts.anomaly_id
		 WHERE a.shop_id = $1 AND ts.user_feedback IS NULL
		 ORDER BY ts.created_at DESC LIMIT $2 OFFSET $3`,
		shopID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list unlabeled samples: %w", err)
	}
	defer rows.Close()

	var samples []models.TrainingSample
	for rows.Next() {
		var ts models.TrainingSample
		if err := rows.Scan(&ts.ID, &ts.AnomalyID, &ts.PoseDict, &ts.StreamID, &ts.FrameNumber,
			&ts.PredictedScore, &ts.PredictedConfidenceBucket,
			&ts.UserFeedback, &ts.UserLabel, &ts.UserNotes, &ts.LabeledBy, &ts.LabeledAt,
			&ts.UsedForTraining, &ts.TrainingBatchID, &ts.CreatedAt, &ts.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan training sample: %w", err)
		}
		samples = append(samples, ts)
	}
	return samples, nil
}

// SubmitFeedback records a user label on a sample. Re-labeling overwrites
// the previous feedback.
func (s *PostgresStore) SubmitFeedback(ctx context.Context, sampleID, userID uuid.UUID, feedback models.UserFeedback, label, notes *string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE training_samples
		 SET user_feedback = $1, user_label = $2, user_notes = $3, labeled_by = $4, labeled_at = NOW(), updated_at = NOW()
		 WHERE id = $5`,
		feedback, label, notes, userID, sampleID)
	if err != nil {
		return fmt.Errorf("submit feedback: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("training sample not found")
	}
	return nil
}

// MarkSamplesUsed stamps labeled samples with a training batch id so later
// export runs skip them.
func (s *PostgresStore) MarkSamplesUsed(ctx context.Context, ids []uuid.UUID, batchID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE training_samples SET used_for_training = TRUE, training_batch_id = $1, updated_at = NOW() WHERE id = ANY($2)`,
		batchID, ids)
	if err != nil {
		return fmt.Errorf("mark samples used: %w", err)
	}
	return nil
}

// AddSampleEmbedding stores the flattened pose embedding for similarity
// lookups across labeled samples.
func (s *PostgresStore) AddSampleEmbedding(ctx context.Context, sampleID uuid.UUID, embedding []float32) error {
	vec := pgvector.NewVector(embedding)
	_, err := s.pool.Exec(ctx,
		`UPDATE training_samples SET pose_embedding = $1, updated_at = NOW() WHERE id = $2`,
		vec, sampleID)
	if err != nil {
		return fmt.Errorf("add sample embedding: %w", err)
	}
	return nil
}

type SimilarSample struct {
	SampleID uuid.UUID            `json:"sample_id"`
	Feedback *models.UserFeedback `json:"user_feedback,omitempty"`
	Score    float32              `json:"score"`
}

// SearchSimilarSamples finds training samples whose pose embedding is
// closest to the given one, most similar first.
func (s *PostgresStore) SearchSimilarSamples(ctx context.Context, embedding []float32, limit int) ([]SimilarSample, error) {
	if limit <= 0 {
		limit = 5
	}
	vec := pgvector.NewVector(embedding)

	rows, err := s.pool.Query(ctx,
		`SELECT id, user_feedback, 1 - (pose_embedding <=> $1) AS score
		 FROM training_samples
		 WHERE pose_embedding IS NOT NULL
		 ORDER BY pose_embedding <=> $1
		 LIMIT $2`, vec, limit)
	if err != nil {
		return nil, fmt.Errorf("search similar samples: %w", err)
	}
	defer rows.Close()

	var matches []SimilarSample
	for rows.Next() {
		var m SimilarSample
		if err := rows.Scan(&m.SampleID, &m.Feedback, &m.Score); err != nil {
			return nil, fmt.Errorf("scan similar sample: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, nil
}
