package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Review score values accepted for a QA pair.
const (
	ReviewUp   = 1
	ReviewDown = -1
)

// QAPair is one generated question/answer stored for a user.
type QAPair struct {
	bun.BaseModel `bun:"table:qa_pairs,alias:qa"`

	QAID        string    `bun:"qaid,pk" json:"qaid"`
	UserID      int64     `bun:",notnull" json:"-"`
	Question    string    `bun:",notnull" json:"question"`
	Answer      string    `bun:",notnull" json:"answer"`
	Model       string    `bun:",nullzero" json:"model"`
	MetaJSON    string    `bun:",nullzero" json:"-"` // JSON object of the request selections
	ReviewScore *int      `bun:",nullzero" json:"review_score"`
	ReviewText  string    `bun:",nullzero" json:"review_text,omitempty"`
	CreatedAt   time.Time `bun:",nullzero,notnull,default:current_timestamp" json:"created_at"`
}
