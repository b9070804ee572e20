package provider

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/konradekk14/llm-code-review-assistant/internal/review"
)

// wireFinding is the finding shape models are asked to emit.
type wireFinding struct {
	File       string `json:"file"`
	Line       int    `json:"line"`
	Severity   string `json:"severity"`
	Category   string `json:"category"`
	Title      string `json:"title"`
	Rationale  string `json:"rationale"`
	Suggestion string `json:"suggestion"`
}

// wireReview is the top-level reply shape.
type wireReview struct {
	Summary  string        `json:"summary"`
	Findings []wireFinding `json:"findings"`
}

// parseReviewJSON parses a model reply into normalized findings. Models
// sometimes wrap JSON in markdown fences; those are stripped first.
func parseReviewJSON(content, providerName string) ([]review.Finding, string, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var wire wireReview
	if err := json.Unmarshal([]byte(content), &wire); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrParse, err)
	}

	findings := make([]review.Finding, 0, len(wire.Findings))
	for _, wf := range wire.Findings {
		if wf.Title == "" {
			continue
		}
		line := wf.Line
		if line < 0 {
			line = 0
		}
		findings = append(findings, review.Finding{
			File:       wf.File,
			Line:       line,
			Severity:   review.NormalizeSeverity(wf.Severity),
			Category:   review.NormalizeCategory(wf.Category),
			Title:      wf.Title,
			Rationale:  wf.Rationale,
			Suggestion: wf.Suggestion,
			Providers:  []string{providerName},
		})
	}

	return findings, wire.Summary, nil
}
