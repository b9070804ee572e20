package coordinator

import (
	"fmt"

	"github.com/konradekk14/llm-code-review-assistant/internal/review"
)

type findingKey struct {
	file     string
	line     int
	category review.Category
}

// mergeFindings deduplicates findings across successful responses.
//
// Findings from different providers that land on the same file, line and
// category are treated as one issue: the highest-severity report wins the
// title, rationale and suggestion, every reporting provider is attributed,
// and the losing reports' titles are kept as corroborating notes.
func mergeFindings(responses []review.ProviderResponse) []review.Finding {
	var merged []review.Finding
	index := make(map[findingKey]int)

	for _, resp := range responses {
		if !resp.Succeeded() {
			continue
		}
		for _, f := range resp.Findings {
			key := findingKey{file: f.File, line: f.Line, category: f.Category}
			pos, exists := index[key]
			if !exists {
				index[key] = len(merged)
				merged = append(merged, f)
				continue
			}
			merged[pos] = combine(merged[pos], f)
		}
	}

	return merged
}

// combine folds a duplicate report into an existing finding. The report
// with the higher severity keeps the primary text; the other's title
// survives as a note.
func combine(existing, incoming review.Finding) review.Finding {
	if incoming.Severity.Rank() > existing.Severity.Rank() {
		incoming.Notes = append(existing.Notes, noteFor(existing))
		incoming.Providers = appendProviders(existing.Providers, incoming.Providers)
		return incoming
	}

	existing.Notes = append(existing.Notes, noteFor(incoming))
	existing.Providers = appendProviders(existing.Providers, incoming.Providers)
	return existing
}

func noteFor(f review.Finding) string {
	who := "unknown"
	if len(f.Providers) > 0 {
		who = f.Providers[0]
	}
	return fmt.Sprintf("%s: %s", who, f.Title)
}

// appendProviders unions provider attributions preserving first-seen order.
func appendProviders(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, p := range existing {
		seen[p] = true
	}
	for _, p := range incoming {
		if !seen[p] {
			seen[p] = true
			existing = append(existing, p)
		}
	}
	return existing
}
