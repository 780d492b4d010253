package question

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/DinukaYohan/math-app/internal/database"
	"github.com/DinukaYohan/math-app/internal/database/models"
	"github.com/DinukaYohan/math-app/internal/domain/repository"
	"github.com/rs/zerolog/log"
)

const (
	defaultMaxTokens    = 256
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// Selection is the structured form of a generation request.
type Selection struct {
	Country           string
	Grade             string
	Language          string
	Topic             string
	LearningObjective string
}

func (s Selection) trimmed() Selection {
	return Selection{
		Country:           strings.TrimSpace(s.Country),
		Grade:             strings.TrimSpace(s.Grade),
		Language:          strings.TrimSpace(s.Language),
		Topic:             strings.TrimSpace(s.Topic),
		LearningObjective: strings.TrimSpace(s.LearningObjective),
	}
}

// Meta is the selection as persisted alongside the generated text.
func (s Selection) Meta() map[string]string {
	return map[string]string{
		"country":            s.Country,
		"grade":              s.Grade,
		"language":           s.Language,
		"topic":              s.Topic,
		"learning_objective": s.LearningObjective,
	}
}

// BuildPrompt renders the question prompt for a complete selection.
func BuildPrompt(sel Selection) (string, error) {
	sel = sel.trimmed()
	if sel.Country == "" || sel.Grade == "" || sel.Language == "" || sel.Topic == "" {
		return "", &repository.ValidationError{Field: "selection", Reason: "country, grade, language, topic required"}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Create ONE short, correct, elementary-level math word problem for grade %s about %s. ", sel.Grade, sel.Topic)
	if sel.LearningObjective != "" {
		fmt.Fprintf(&b, "Align the question with this learning objective: '%s'. ", sel.LearningObjective)
	}
	fmt.Fprintf(&b, "Use culturally appropriate examples for %s. Language: %s. Keep it clear and age-appropriate.", sel.Country, sel.Language)
	return b.String(), nil
}

// GenerateInput is a raw prompt or, when Prompt is blank, a structured selection.
type GenerateInput struct {
	Prompt    string
	Selection Selection
	Model     string
}

// GenerateOutput describes a stored generation.
type GenerateOutput struct {
	QAID      string            `json:"qaid"`
	Prompt    string            `json:"prompt"`
	Content   string            `json:"content"`
	ModelUsed string            `json:"model_used"`
	Meta      map[string]string `json:"meta"`
}

// Review is the user's feedback on a stored answer.
type Review struct {
	Score *int   `json:"score"`
	Text  string `json:"text"`
}

// Item is a history entry with its selection and review decoded.
type Item struct {
	QAID      string            `json:"qaid"`
	Question  string            `json:"question"`
	Answer    string            `json:"answer"`
	Model     string            `json:"model"`
	Meta      map[string]string `json:"meta"`
	Review    Review            `json:"review"`
	CreatedAt time.Time         `json:"created_at"`
}

// Service generates questions through the router and keeps per-user history.
type Service struct {
	router       repository.LLMRouter
	store        database.QARepository
	maxTokens    int
	chatProvider repository.ProviderKey
}

// Option customizes a Service.
type Option func(*Service)

// WithMaxTokens sets the output budget passed to providers.
func WithMaxTokens(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxTokens = n
		}
	}
}

// WithChatProvider sets the provider used by Chat when none is named.
func WithChatProvider(key repository.ProviderKey) Option {
	return func(s *Service) { s.chatProvider = key.Normalize() }
}

func NewService(router repository.LLMRouter, store database.QARepository, opts ...Option) *Service {
	s := &Service{
		router:    router,
		store:     store,
		maxTokens: defaultMaxTokens,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Generate produces a question for userID and stores it in their history.
func (s *Service) Generate(ctx context.Context, userID int64, in GenerateInput) (*GenerateOutput, error) {
	prompt := strings.TrimSpace(in.Prompt)
	sel := Selection{}
	if prompt == "" {
		sel = in.Selection.trimmed()
		var err error
		if prompt, err = BuildPrompt(sel); err != nil {
			return nil, err
		}
	}

	key := repository.ProviderKey(in.Model).Normalize()
	if key == "" {
		key = s.router.DefaultKey()
	}

	content, err := s.router.Generate(ctx, prompt, key, s.maxTokens)
	if err != nil {
		return nil, err
	}

	meta := sel.Meta()
	qaid, err := s.store.SaveQA(ctx, userID, prompt, content, string(key), meta)
	if err != nil {
		return nil, fmt.Errorf("failed to save generation: %w", err)
	}

	log.Info().Str("component", "question").Int64("user_id", userID).Str("qaid", qaid).Str("model", string(key)).Msg("question generated")
	return &GenerateOutput{
		QAID:      qaid,
		Prompt:    prompt,
		Content:   content,
		ModelUsed: string(key),
		Meta:      meta,
	}, nil
}

// Chat answers a free-form message without storing it.
func (s *Service) Chat(ctx context.Context, message, model string) (string, error) {
	key := repository.ProviderKey(model).Normalize()
	if key == "" {
		key = s.chatProvider
	}
	return s.router.Generate(ctx, message, key, s.maxTokens)
}

// History lists userID's entries, newest first.
func (s *Service) History(ctx context.Context, userID int64, limit, offset int) ([]Item, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	limit = min(limit, maxHistoryLimit)
	offset = max(offset, 0)

	rows, err := s.store.ListQAForUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	items := make([]Item, 0, len(rows))
	for _, row := range rows {
		items = append(items, toItem(row))
	}
	return items, nil
}

// Get returns one of userID's entries.
func (s *Service) Get(ctx context.Context, userID int64, qaid string) (*Item, error) {
	row, err := s.store.GetQA(ctx, userID, qaid)
	if err != nil {
		return nil, err
	}
	item := toItem(row)
	return &item, nil
}

// Delete removes one of userID's entries.
func (s *Service) Delete(ctx context.Context, userID int64, qaid string) error {
	return s.store.DeleteQA(ctx, userID, qaid)
}

// SetReview records "up", "down" or, for an empty score, clears the rating.
func (s *Service) SetReview(ctx context.Context, userID int64, qaid, score, text string) (*Review, error) {
	parsed, err := ParseScore(score)
	if err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if err := s.store.SetReview(ctx, userID, qaid, parsed, text); err != nil {
		return nil, err
	}
	return &Review{Score: parsed, Text: text}, nil
}

// ParseScore maps a review score to its stored value.
func ParseScore(score string) (*int, error) {
	var v int
	switch strings.ToLower(strings.TrimSpace(score)) {
	case "":
		return nil, nil
	case "up":
		v = models.ReviewUp
	case "down":
		v = models.ReviewDown
	default:
		return nil, &repository.ValidationError{
			Field:  "score",
			Value:  score,
			Reason: "must be 'up', 'down', or empty to clear",
		}
	}
	return &v, nil
}

func toItem(row *models.QAPair) Item {
	item := Item{
		QAID:      row.QAID,
		Question:  row.Question,
		Answer:    row.Answer,
		Model:     row.Model,
		Meta:      map[string]string{},
		Review:    Review{Score: row.ReviewScore, Text: row.ReviewText},
		CreatedAt: row.CreatedAt,
	}
	if row.MetaJSON != "" {
		if err := json.Unmarshal([]byte(row.MetaJSON), &item.Meta); err != nil {
			log.Warn().Err(err).Str("component", "question").Str("qaid", row.QAID).Msg("unreadable meta")
			item.Meta = map[string]string{}
		}
	}
	return item
}
