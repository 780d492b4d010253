package llm

import (
	"fmt"
	"strings"

	legacygenai "github.com/google/generative-ai-go/genai"
	"google.golang.org/genai"
)

// geminiResponse is the backend-neutral view of a generateContent result.
type geminiResponse struct {
	// text is the SDK's own convenience accessor, when it has one.
	text       string
	candidates []geminiCandidate
}

type geminiCandidate struct {
	// parts keep whatever representation the backend produced.
	parts        []any
	finishReason string
	safety       []safetyRating
}

type safetyRating struct {
	category    string
	probability string
	severity    string
	blocked     *bool
}

// partExtractor pulls text out of one part representation. ok is false when
// the part is not of the extractor's kind.
type partExtractor func(part any) (text string, ok bool)

// partExtractors are tried in order for every part.
var partExtractors = []partExtractor{
	sdkPartText,
	legacyPartText,
	mappingPartText,
	rawStringPartText,
}

func sdkPartText(part any) (string, bool) {
	p, ok := part.(*genai.Part)
	if !ok {
		return "", false
	}
	if p == nil || p.Thought {
		return "", true
	}
	return p.Text, true
}

func legacyPartText(part any) (string, bool) {
	t, ok := part.(legacygenai.Text)
	return string(t), ok
}

func mappingPartText(part any) (string, bool) {
	m, ok := part.(map[string]any)
	if !ok {
		return "", false
	}
	if thought, _ := m["thought"].(bool); thought {
		return "", true
	}
	t, _ := m["text"].(string)
	return t, true
}

func rawStringPartText(part any) (string, bool) {
	s, ok := part.(string)
	return s, ok
}

// extractText returns the first non-empty trimmed text: the top-level
// accessor first, then candidates and their parts in order.
func (r *geminiResponse) extractText() string {
	if r == nil {
		return ""
	}
	if t := strings.TrimSpace(r.text); t != "" {
		return t
	}
	for _, cand := range r.candidates {
		for _, part := range cand.parts {
			if t := partText(part); t != "" {
				return t
			}
		}
	}
	return ""
}

func partText(part any) string {
	for _, extract := range partExtractors {
		if text, ok := extract(part); ok {
			return strings.TrimSpace(text)
		}
	}
	return ""
}

// FinishDiagnosis summarizes why a response carried no text.
type FinishDiagnosis struct {
	Reasons []string
	Safety  []string
}

func diagnose(r *geminiResponse) FinishDiagnosis {
	var d FinishDiagnosis
	if r == nil {
		return d
	}
	for _, cand := range r.candidates {
		if cand.finishReason != "" {
			d.Reasons = appendUnique(d.Reasons, cand.finishReason)
		}
		for _, rating := range cand.safety {
			if note := rating.String(); note != "" {
				d.Safety = appendUnique(d.Safety, note)
			}
		}
	}
	return d
}

// TokenLimited reports whether generation stopped on the output cap.
func (d FinishDiagnosis) TokenLimited() bool {
	for _, r := range d.Reasons {
		if strings.Contains(r, string(genai.FinishReasonMaxTokens)) {
			return true
		}
	}
	return false
}

func (d FinishDiagnosis) String() string {
	reason := "unknown"
	if len(d.Reasons) > 0 {
		reason = strings.Join(d.Reasons, ", ")
	}
	if len(d.Safety) == 0 {
		return "finish_reason=" + reason
	}
	return fmt.Sprintf("finish_reason=%s; safety=%s", reason, strings.Join(d.Safety, "; "))
}

func (s safetyRating) String() string {
	if s.category == "" {
		return ""
	}
	var bits []string
	if s.probability != "" {
		bits = append(bits, s.probability)
	}
	if s.severity != "" {
		bits = append(bits, s.severity)
	}
	if s.blocked != nil {
		if *s.blocked {
			bits = append(bits, "blocked")
		} else {
			bits = append(bits, "allowed")
		}
	}
	if len(bits) == 0 {
		return s.category
	}
	return s.category + ": " + strings.Join(bits, ", ")
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
