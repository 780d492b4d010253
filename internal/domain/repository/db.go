package repository

import (
	"context"
)

// QARecorder is the persistence collaborator the generation flow hands results to.
// It returns the record id assigned by storage.
type QARecorder interface {
	SaveQA(ctx context.Context, userID int64, question, answer, provider string, meta map[string]string) (string, error)
}
