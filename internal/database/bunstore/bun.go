package bunstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/DinukaYohan/math-app/internal/database"
	"github.com/DinukaYohan/math-app/internal/database/models"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/schema"
)

var _ database.QARepository = (*BunStore)(nil)

type BunStore struct {
	db *bun.DB
}

func NewBunStore(ctx context.Context, db *sql.DB, dialect schema.Dialect) (*BunStore, error) {
	bunDB := bun.NewDB(db, dialect)

	store := &BunStore{db: bunDB}

	// Create tables if they don't exist
	if _, err := bunDB.NewCreateTable().Model((*models.QAPair)(nil)).IfNotExists().Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to create qa_pairs table: %w", err)
	}
	if _, err := bunDB.NewCreateIndex().Model((*models.QAPair)(nil)).
		Index("idx_qa_user_created").
		IfNotExists().
		Column("user_id", "created_at").
		Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to create qa_pairs index: %w", err)
	}

	return store, nil
}

func (s *BunStore) SaveQA(ctx context.Context, userID int64, question, answer, provider string, meta map[string]string) (string, error) {
	if meta == nil {
		meta = map[string]string{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("failed to encode qa meta: %w", err)
	}

	qa := &models.QAPair{
		QAID:      uuid.NewString(),
		UserID:    userID,
		Question:  question,
		Answer:    answer,
		Model:     provider,
		MetaJSON:  string(metaJSON),
		CreatedAt: time.Now().UTC(),
	}
	if _, err := s.db.NewInsert().Model(qa).Exec(ctx); err != nil {
		return "", err
	}
	return qa.QAID, nil
}

func (s *BunStore) ListQAForUser(ctx context.Context, userID int64, limit, offset int) ([]*models.QAPair, error) {
	var items []*models.QAPair
	q := s.db.NewSelect().Model(&items).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Offset(offset)
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *BunStore) GetQA(ctx context.Context, userID int64, qaid string) (*models.QAPair, error) {
	qa := new(models.QAPair)
	if err := s.db.NewSelect().Model(qa).Where("qaid = ? AND user_id = ?", qaid, userID).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, err
	}
	return qa, nil
}

func (s *BunStore) DeleteQA(ctx context.Context, userID int64, qaid string) error {
	res, err := s.db.NewDelete().Model((*models.QAPair)(nil)).
		Where("qaid = ? AND user_id = ?", qaid, userID).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// SetReview stores a thumbs up/down score and free text. A nil score with empty text clears the review.
func (s *BunStore) SetReview(ctx context.Context, userID int64, qaid string, score *int, text string) error {
	var reviewText any
	if text != "" {
		reviewText = text
	}
	res, err := s.db.NewUpdate().Model((*models.QAPair)(nil)).
		Set("review_score = ?", score).
		Set("review_text = ?", reviewText).
		Where("qaid = ? AND user_id = ?", qaid, userID).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return database.ErrNotFound
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *BunStore) Close() error {
	return s.db.Close()
}
