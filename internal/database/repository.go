package database

import (
	"context"
	"errors"

	"github.com/DinukaYohan/math-app/internal/database/models"
	"github.com/DinukaYohan/math-app/internal/domain/repository"
)

var ErrNotFound = errors.New("record not found")

// QARepository handles question/answer history persistence.
// Every lookup is scoped to the owning user; foreign records behave as missing.
type QARepository interface {
	repository.QARecorder
	ListQAForUser(ctx context.Context, userID int64, limit, offset int) ([]*models.QAPair, error)
	GetQA(ctx context.Context, userID int64, qaid string) (*models.QAPair, error)
	DeleteQA(ctx context.Context, userID int64, qaid string) error
	SetReview(ctx context.Context, userID int64, qaid string, score *int, text string) error
}
