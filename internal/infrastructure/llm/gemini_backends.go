package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"unicode"

	legacygenai "github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
	"google.golang.org/genai"
)

// genAIBackend uses the current Google Gen AI SDK.
type genAIBackend struct {
	client      *genai.Client
	model       string
	temperature float32
}

func newGenAIBackend(ctx context.Context, cfg GeminiConfig) (*genAIBackend, error) {
	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: newHTTPClient("gemini", cfg.Timeout),
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, err
	}
	return &genAIBackend{client: client, model: cfg.Model, temperature: float32(cfg.Temperature)}, nil
}

func (b *genAIBackend) generate(ctx context.Context, prompt string, maxTokens int32) (*geminiResponse, error) {
	resp, err := b.client.Models.GenerateContent(ctx, b.model, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(b.temperature),
		MaxOutputTokens:  maxTokens,
		ResponseMIMEType: geminiMIMEType,
	})
	if err != nil {
		return nil, err
	}
	return fromGenAIResponse(resp), nil
}

func fromGenAIResponse(resp *genai.GenerateContentResponse) *geminiResponse {
	if resp == nil {
		return &geminiResponse{}
	}
	out := &geminiResponse{text: resp.Text()}
	for _, cand := range resp.Candidates {
		if cand == nil {
			continue
		}
		gc := geminiCandidate{finishReason: string(cand.FinishReason)}
		if cand.Content != nil {
			for _, p := range cand.Content.Parts {
				gc.parts = append(gc.parts, p)
			}
		}
		for _, r := range cand.SafetyRatings {
			if r == nil {
				continue
			}
			blocked := r.Blocked
			gc.safety = append(gc.safety, safetyRating{
				category:    string(r.Category),
				probability: probabilityOrScore(string(r.Probability), float64(r.ProbabilityScore)),
				severity:    string(r.Severity),
				blocked:     &blocked,
			})
		}
		out.candidates = append(out.candidates, gc)
	}
	return out
}

// legacyBackend uses github.com/google/generative-ai-go.
type legacyBackend struct {
	client      *legacygenai.Client
	model       string
	temperature float32
}

func newLegacyBackend(ctx context.Context, cfg GeminiConfig) (*legacyBackend, error) {
	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(cfg.BaseURL))
	}
	client, err := legacygenai.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &legacyBackend{client: client, model: cfg.Model, temperature: float32(cfg.Temperature)}, nil
}

func (b *legacyBackend) generate(ctx context.Context, prompt string, maxTokens int32) (*geminiResponse, error) {
	model := b.client.GenerativeModel(b.model)
	model.SetMaxOutputTokens(maxTokens)
	model.SetTemperature(b.temperature)
	model.ResponseMIMEType = geminiMIMEType

	resp, err := model.GenerateContent(ctx, legacygenai.Text(prompt))
	if err != nil {
		// The SDK reports safety and recitation stops as errors; they are
		// empty responses, not transport failures.
		var blocked *legacygenai.BlockedError
		if errors.As(err, &blocked) {
			return fromLegacyBlocked(blocked), nil
		}
		return nil, err
	}
	return fromLegacyResponse(resp), nil
}

func (b *legacyBackend) Close() error {
	return b.client.Close()
}

func fromLegacyResponse(resp *legacygenai.GenerateContentResponse) *geminiResponse {
	out := &geminiResponse{}
	if resp == nil {
		return out
	}
	for _, cand := range resp.Candidates {
		if cand != nil {
			out.candidates = append(out.candidates, fromLegacyCandidate(cand))
		}
	}
	return out
}

func fromLegacyBlocked(e *legacygenai.BlockedError) *geminiResponse {
	out := &geminiResponse{}
	if e.Candidate != nil {
		out.candidates = append(out.candidates, fromLegacyCandidate(e.Candidate))
	}
	if e.PromptFeedback != nil {
		out.candidates = append(out.candidates, geminiCandidate{
			finishReason: "PROMPT_" + enumName(e.PromptFeedback.BlockReason.String(), "BlockReason"),
			safety:       fromLegacyRatings(e.PromptFeedback.SafetyRatings),
		})
	}
	return out
}

var legacyFinishReasons = map[legacygenai.FinishReason]string{
	legacygenai.FinishReasonUnspecified: "FINISH_REASON_UNSPECIFIED",
	legacygenai.FinishReasonStop:        "STOP",
	legacygenai.FinishReasonMaxTokens:   "MAX_TOKENS",
	legacygenai.FinishReasonSafety:      "SAFETY",
	legacygenai.FinishReasonRecitation:  "RECITATION",
	legacygenai.FinishReasonOther:       "OTHER",
}

func fromLegacyCandidate(cand *legacygenai.Candidate) geminiCandidate {
	reason, ok := legacyFinishReasons[cand.FinishReason]
	if !ok {
		reason = cand.FinishReason.String()
	}
	gc := geminiCandidate{finishReason: reason, safety: fromLegacyRatings(cand.SafetyRatings)}
	if cand.Content != nil {
		for _, p := range cand.Content.Parts {
			gc.parts = append(gc.parts, p)
		}
	}
	return gc
}

func fromLegacyRatings(ratings []*legacygenai.SafetyRating) []safetyRating {
	var out []safetyRating
	for _, r := range ratings {
		if r == nil {
			continue
		}
		var prob string
		if r.Probability != legacygenai.HarmProbabilityUnspecified {
			prob = enumName(r.Probability.String(), "HarmProbability")
		}
		blocked := r.Blocked
		out = append(out, safetyRating{
			category:    enumName(r.Category.String(), ""),
			probability: prob,
			blocked:     &blocked,
		})
	}
	return out
}

// enumName converts a Go enum name such as "HarmCategoryHateSpeech" to the
// wire spelling "HARM_CATEGORY_HATE_SPEECH", dropping prefix first.
func enumName(name, prefix string) string {
	name = strings.TrimPrefix(name, prefix)
	var b strings.Builder
	for i, r := range name {
		if i > 0 && unicode.IsUpper(r) {
			b.WriteByte('_')
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

func probabilityOrScore(prob string, score float64) string {
	if prob != "" {
		return prob
	}
	if score != 0 {
		return strconv.FormatFloat(score, 'g', -1, 64)
	}
	return ""
}

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"

// restBackend calls the v1beta REST endpoint directly and decodes the
// response loosely, so parts arrive as mappings or plain strings.
type restBackend struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	model       string
	temperature float64
}

func newRESTBackend(cfg GeminiConfig) *restBackend {
	base := cfg.BaseURL
	if base == "" {
		base = defaultGeminiBaseURL
	}
	return &restBackend{
		httpClient:  newHTTPClient("gemini", cfg.Timeout),
		baseURL:     strings.TrimRight(base, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
	}
}

type restPart struct {
	Text string `json:"text"`
}

type restContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []restPart `json:"parts"`
}

type restGenerationConfig struct {
	MaxOutputTokens  int32   `json:"maxOutputTokens"`
	Temperature      float64 `json:"temperature"`
	ResponseMIMEType string  `json:"responseMimeType"`
}

type restRequest struct {
	Contents         []restContent        `json:"contents"`
	GenerationConfig restGenerationConfig `json:"generationConfig"`
}

type restSafetyRating struct {
	Category         string  `json:"category"`
	Probability      string  `json:"probability"`
	ProbabilityScore float64 `json:"probabilityScore"`
	Severity         string  `json:"severity"`
	Blocked          *bool   `json:"blocked"`
}

type restResponse struct {
	Candidates []struct {
		Content struct {
			Parts []any `json:"parts"`
		} `json:"content"`
		FinishReason  string             `json:"finishReason"`
		SafetyRatings []restSafetyRating `json:"safetyRatings"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason   string             `json:"blockReason"`
		SafetyRatings []restSafetyRating `json:"safetyRatings"`
	} `json:"promptFeedback"`
}

type restError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (b *restBackend) generate(ctx context.Context, prompt string, maxTokens int32) (*geminiResponse, error) {
	body, err := json.Marshal(restRequest{
		Contents: []restContent{{Role: "user", Parts: []restPart{{Text: prompt}}}},
		GenerationConfig: restGenerationConfig{
			MaxOutputTokens:  maxTokens,
			Temperature:      b.temperature,
			ResponseMIMEType: geminiMIMEType,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal gemini request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", b.baseURL, url.PathEscape(b.model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", b.apiKey)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read gemini response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr restError
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("gemini returned status %d (%s): %s", resp.StatusCode, apiErr.Error.Status, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("gemini returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var decoded restResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode gemini response: %w", err)
	}
	return fromRESTResponse(&decoded), nil
}

func fromRESTResponse(resp *restResponse) *geminiResponse {
	out := &geminiResponse{}
	for _, cand := range resp.Candidates {
		out.candidates = append(out.candidates, geminiCandidate{
			parts:        cand.Content.Parts,
			finishReason: cand.FinishReason,
			safety:       fromRESTRatings(cand.SafetyRatings),
		})
	}
	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" {
		out.candidates = append(out.candidates, geminiCandidate{
			finishReason: "PROMPT_" + fb.BlockReason,
			safety:       fromRESTRatings(fb.SafetyRatings),
		})
	}
	return out
}

func fromRESTRatings(ratings []restSafetyRating) []safetyRating {
	var out []safetyRating
	for _, r := range ratings {
		out = append(out, safetyRating{
			category:    r.Category,
			probability: probabilityOrScore(r.Probability, r.ProbabilityScore),
			severity:    r.Severity,
			blocked:     r.Blocked,
		})
	}
	return out
}
