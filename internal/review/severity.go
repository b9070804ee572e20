package review

import "strings"

// Severity classifies how serious a finding is.
//
// Severities form a total order: info < nit < warn < error < security.
// Security issues rank above plain errors so that a provider flagging an
// injection or credential leak always wins the merge over a correctness
// complaint at the same location.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityNit      Severity = "nit"
	SeverityWarn     Severity = "warn"
	SeverityError    Severity = "error"
	SeveritySecurity Severity = "security"
)

var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityNit:      1,
	SeverityWarn:     2,
	SeverityError:    3,
	SeveritySecurity: 4,
}

// Rank returns the position of s in the severity total order.
// Unknown severities rank as warn.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return severityRank[SeverityWarn]
}

// NormalizeSeverity maps free-form provider severity labels onto the
// canonical taxonomy. Providers disagree on naming ("critical", "blocker",
// "minor"...), so anything unrecognized falls back to warn rather than
// being dropped.
func NormalizeSeverity(raw string) Severity {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "info", "information", "note":
		return SeverityInfo
	case "nit", "nitpick", "minor", "style":
		return SeverityNit
	case "warn", "warning", "medium", "moderate":
		return SeverityWarn
	case "error", "major", "high", "critical", "blocker":
		return SeverityError
	case "security", "vulnerability":
		return SeveritySecurity
	default:
		return SeverityWarn
	}
}

// Category classifies what kind of issue a finding is about.
type Category string

const (
	CategoryReadability Category = "readability"
	CategoryStyle       Category = "style"
	CategoryBug         Category = "bug"
	CategoryPerf        Category = "perf"
	CategorySecurity    Category = "security"
	CategoryTest        Category = "test"
	CategoryDocs        Category = "docs"
	CategoryGeneral     Category = "general"
)

var knownCategories = map[Category]bool{
	CategoryReadability: true,
	CategoryStyle:       true,
	CategoryBug:         true,
	CategoryPerf:        true,
	CategorySecurity:    true,
	CategoryTest:        true,
	CategoryDocs:        true,
	CategoryGeneral:     true,
}

// NormalizeCategory maps free-form category labels onto the canonical set.
func NormalizeCategory(raw string) Category {
	c := Category(strings.ToLower(strings.TrimSpace(raw)))
	switch c {
	case "performance":
		return CategoryPerf
	case "testing", "tests":
		return CategoryTest
	case "documentation":
		return CategoryDocs
	}
	if knownCategories[c] {
		return c
	}
	return CategoryGeneral
}
