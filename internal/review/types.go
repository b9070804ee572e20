// Package review defines the data model for code review requests and results.
package review

import "time"

// Hunk is one contiguous changed region of a file in unified-diff terms.
type Hunk struct {
	// File is the new-side path of the changed file.
	File string `json:"file"`

	// OldStart/OldLines describe the region in the old version.
	OldStart int `json:"old_start"`
	OldLines int `json:"old_lines"`

	// NewStart/NewLines describe the region in the new version.
	NewStart int `json:"new_start"`
	NewLines int `json:"new_lines"`

	// Added and Removed hold the changed line contents without diff markers.
	Added   []string `json:"added,omitempty"`
	Removed []string `json:"removed,omitempty"`

	// Patch is the raw hunk text, used verbatim when building prompts.
	Patch string `json:"patch,omitempty"`
}

// Request is a review request for one diff.
//
// A request is immutable once dispatch begins: the coordinator and adapters
// only read it, and it is discarded after the review is assembled or the
// request terminally fails.
type Request struct {
	// ID identifies the request for logging and traceability.
	ID string `json:"id"`

	// Repo is the origin repository in "owner/name" form. Optional.
	Repo string `json:"repo,omitempty"`

	// Title and Description carry pull-request metadata for prompting. Optional.
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`

	// Hunks is the ordered sequence of changed regions.
	Hunks []Hunk `json:"hunks"`

	// Providers restricts the review to a subset of configured providers.
	// Empty means all configured providers.
	Providers []string `json:"providers,omitempty"`
}

// Files returns the distinct file paths touched by the request, in first-seen order.
func (r *Request) Files() []string {
	seen := make(map[string]bool, len(r.Hunks))
	var files []string
	for _, h := range r.Hunks {
		if !seen[h.File] {
			seen[h.File] = true
			files = append(files, h.File)
		}
	}
	return files
}

// Finding is a single reviewable issue reported by one or more providers.
type Finding struct {
	File string `json:"file"`

	// Line is the new-side line the finding anchors to. 0 means file-level.
	Line int `json:"line,omitempty"`

	Severity Severity `json:"severity"`
	Category Category `json:"category"`

	Title      string `json:"title"`
	Rationale  string `json:"rationale,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`

	// Providers lists every provider that reported this finding.
	Providers []string `json:"providers"`

	// Notes holds corroborating messages from providers other than the
	// one whose message became the primary Title/Rationale.
	Notes []string `json:"notes,omitempty"`
}

// Usage is token accounting reported by a provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ProviderStatus classifies the outcome of one provider call.
type ProviderStatus string

const (
	StatusOK          ProviderStatus = "ok"
	StatusTimeout     ProviderStatus = "timeout"
	StatusAuthError   ProviderStatus = "auth_error"
	StatusParseError  ProviderStatus = "parse_error"
	StatusUnavailable ProviderStatus = "unavailable"
)

// ProviderResponse is the normalized result of one provider call,
// successful or not.
type ProviderResponse struct {
	// Provider is the configured provider name.
	Provider string `json:"provider"`

	Status ProviderStatus `json:"status"`

	// Error carries the failure reason when Status is not ok.
	Error string `json:"error,omitempty"`

	// Findings is empty unless Status is ok.
	Findings []Finding `json:"findings,omitempty"`

	// Summary is the provider's own free-text summary, if it gave one.
	Summary string `json:"summary,omitempty"`

	Latency time.Duration `json:"latency_ns"`
	Usage   Usage         `json:"usage"`
}

// Succeeded reports whether the provider produced usable output.
func (r *ProviderResponse) Succeeded() bool {
	return r.Status == StatusOK
}

// AggregatedReview is the merged, normalized result of one review request.
type AggregatedReview struct {
	// RequestID links the review back to its originating request.
	RequestID string `json:"request_id"`

	// Summary is a deterministic natural-language synopsis of the findings.
	Summary string `json:"summary"`

	// Risk is the overall risk signal: low, medium or high.
	Risk string `json:"risk"`

	// Findings is the merged finding list in stable order
	// (file, line, descending severity).
	Findings []Finding `json:"findings"`

	// Contributors lists every provider response that took part in the
	// request, including failed ones, for traceability.
	Contributors []ProviderResponse `json:"contributors"`
}
