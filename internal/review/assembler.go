package review

import (
	"fmt"
	"sort"
	"strings"
)

// Assemble produces the final AggregatedReview from a merged finding list.
//
// The summary is derived deterministically from the findings (no model call)
// and the finding order is stable: file path, then line number, then
// descending severity. Repeated runs on the same input produce byte-identical
// output.
func Assemble(requestID string, findings []Finding, contributors []ProviderResponse) *AggregatedReview {
	sorted := make([]Finding, len(findings))
	copy(sorted, findings)
	SortFindings(sorted)

	return &AggregatedReview{
		RequestID:    requestID,
		Summary:      summarize(sorted),
		Risk:         riskSignal(sorted),
		Findings:     sorted,
		Contributors: contributors,
	}
}

// SortFindings sorts findings in place by file path, then line number,
// then descending severity, then title as the final tie-break.
func SortFindings(findings []Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].File != findings[j].File {
			return findings[i].File < findings[j].File
		}
		if findings[i].Line != findings[j].Line {
			return findings[i].Line < findings[j].Line
		}
		if findings[i].Severity.Rank() != findings[j].Severity.Rank() {
			return findings[i].Severity.Rank() > findings[j].Severity.Rank()
		}
		return findings[i].Title < findings[j].Title
	})
}

// severityOrder is the fixed descending order used for summary counts.
var severityOrder = []Severity{
	SeveritySecurity,
	SeverityError,
	SeverityWarn,
	SeverityNit,
	SeverityInfo,
}

func summarize(findings []Finding) string {
	if len(findings) == 0 {
		return "No issues found."
	}

	counts := make(map[Severity]int, len(severityOrder))
	files := make(map[string]bool)
	for _, f := range findings {
		counts[f.Severity]++
		files[f.File] = true
	}

	var parts []string
	for _, s := range severityOrder {
		if counts[s] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", counts[s], s))
		}
	}

	return fmt.Sprintf("%d finding%s across %d file%s (%s); risk: %s",
		len(findings), plural(len(findings)),
		len(files), plural(len(files)),
		strings.Join(parts, ", "),
		riskSignal(findings),
	)
}

// riskSignal maps the highest severity present to an overall risk level.
func riskSignal(findings []Finding) string {
	highest := -1
	for _, f := range findings {
		if r := f.Severity.Rank(); r > highest {
			highest = r
		}
	}
	switch {
	case highest >= SeverityError.Rank():
		return "high"
	case highest >= SeverityWarn.Rank():
		return "medium"
	default:
		return "low"
	}
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
