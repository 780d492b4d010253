package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/DinukaYohan/math-app/internal/database"
	"github.com/DinukaYohan/math-app/internal/domain/repository"
	"github.com/DinukaYohan/math-app/internal/usecase/question"
	"github.com/rs/zerolog/log"
)

// UserIDHeader carries the caller identity established by the auth layer in front of the API.
const UserIDHeader = "X-User-ID"

// QuestionService is the use case the handlers drive.
type QuestionService interface {
	Generate(ctx context.Context, userID int64, in question.GenerateInput) (*question.GenerateOutput, error)
	Chat(ctx context.Context, message, model string) (string, error)
	History(ctx context.Context, userID int64, limit, offset int) ([]question.Item, error)
	Get(ctx context.Context, userID int64, qaid string) (*question.Item, error)
	Delete(ctx context.Context, userID int64, qaid string) error
	SetReview(ctx context.Context, userID int64, qaid, score, text string) (*question.Review, error)
}

// Server holds the dependencies for the HTTP API server
type Server struct {
	questions      QuestionService
	providers      repository.LLMRouter
	metrics        http.Handler
	requestTimeout time.Duration
}

// Option customizes a Server.
type Option func(*Server)

// WithMetricsHandler exposes h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithRequestTimeout bounds the time a handler may spend on providers and storage.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) { s.requestTimeout = d }
}

// NewServer initializes a new API server with the required dependencies
func NewServer(questions QuestionService, providers repository.LLMRouter, opts ...Option) *Server {
	s := &Server{questions: questions, providers: providers}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterRoutes registers all API endpoints with a new ServeMux and wraps it with request logging.
func (s *Server) RegisterRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /options/models", s.handleModels)
	mux.HandleFunc("POST /generate", s.handleGenerate)
	mux.HandleFunc("GET /history", s.handleHistory)
	mux.HandleFunc("GET /qa/{qaid}", s.handleGetQA)
	mux.HandleFunc("DELETE /qa/{qaid}", s.handleDeleteQA)
	mux.HandleFunc("POST /qa/{qaid}/review", s.handleReview)
	mux.HandleFunc("POST /api/chat", s.handleChat)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	return logRequests(mux)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		if r.URL.Path == "/metrics" || r.URL.Path == "/healthz" {
			return
		}
		log.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", rec.status).Dur("dur", time.Since(start)).Msg("http")
	})
}

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.requestTimeout > 0 {
		return context.WithTimeout(r.Context(), s.requestTimeout)
	}
	return context.WithCancel(r.Context())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "time": time.Now().UTC()})
}

type ModelsResponse struct {
	Models  []string `json:"models"`
	Default string   `json:"default"`
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	keys := s.providers.Keys()
	resp := ModelsResponse{Models: make([]string, 0, len(keys)), Default: string(s.providers.DefaultKey())}
	for _, k := range keys {
		resp.Models = append(resp.Models, string(k))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Grade accepts either a JSON string or a number.
type Grade string

func (g *Grade) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*g = Grade(s)
		return nil
	}
	if string(b) == "null" {
		*g = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*g = Grade(n.String())
	return nil
}

type GenerateRequest struct {
	Prompt            string `json:"prompt"`
	Model             string `json:"model"`
	Country           string `json:"country"`
	Grade             Grade  `json:"grade"`
	Language          string `json:"language"`
	Topic             string `json:"topic"`
	LearningObjective string `json:"learning_objective"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req GenerateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	out, err := s.questions.Generate(ctx, userID, question.GenerateInput{
		Prompt: req.Prompt,
		Model:  req.Model,
		Selection: question.Selection{
			Country:           req.Country,
			Grade:             string(req.Grade),
			Language:          req.Language,
			Topic:             req.Topic,
			LearningObjective: req.LearningObjective,
		},
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	items, err := s.questions.History(ctx, userID, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleGetQA(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()

	item, err := s.questions.Get(ctx, userID, r.PathValue("qaid"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleDeleteQA(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()

	if err := s.questions.Delete(ctx, userID, r.PathValue("qaid")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type ReviewRequest struct {
	Score string `json:"score"`
	Text  string `json:"text"`
}

type ReviewResponse struct {
	QAID   string           `json:"qaid"`
	Review *question.Review `json:"review"`
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req ReviewRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()

	qaid := r.PathValue("qaid")
	review, err := s.questions.SetReview(ctx, userID, qaid, req.Score, req.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ReviewResponse{QAID: qaid, Review: review})
}

type ChatRequest struct {
	Message string `json:"message"`
	Model   string `json:"model"`
}

type ChatResponse struct {
	Reply string `json:"reply"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()

	reply, err := s.questions.Chat(ctx, req.Message, req.Model)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ChatResponse{Reply: reply})
}

func requireUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := strings.TrimSpace(r.Header.Get(UserIDHeader))
	id, err := strconv.ParseInt(raw, 10, 64)
	if raw == "" || err != nil || id <= 0 {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing or invalid " + UserIDHeader})
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request payload"})
		return false
	}
	return true
}

func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &repository.ValidationError{Field: name, Value: raw, Reason: "must be an integer"}
	}
	return v, nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	var (
		vErr *repository.ValidationError
		gErr *repository.GenerationError
	)
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &vErr):
		status = http.StatusBadRequest
	case errors.Is(err, database.ErrNotFound):
		status = http.StatusNotFound
	case errors.As(err, &gErr):
		status = http.StatusBadGateway
	}

	msg := err.Error()
	if status == http.StatusNotFound {
		msg = "not found"
	}
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Msg("request failed")
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to encode response")
	}
}
