package provider

import (
	"strings"
	"text/template"
	"unicode/utf8"
)

// maxPatchChars bounds the raw patch text included per hunk so one giant
// hunk cannot crowd everything else out of the prompt.
const maxPatchChars = 2000

// reviewSystemPrompt instructs the model to act as a reviewer and reply
// with machine-readable findings only.
const reviewSystemPrompt = `You are an expert code reviewer. Review the provided diff and report concrete, actionable findings.

Respond with a JSON object containing:
- "summary": a one or two sentence overview of the change and its risks
- "findings": an array of objects, each with:
  - "file": the file path the finding applies to
  - "line": the new-side line number, or 0 for file-level findings
  - "severity": one of "info", "nit", "warn", "error", "security"
  - "category": one of "readability", "style", "bug", "perf", "security", "test", "docs"
  - "title": a short imperative description of the issue
  - "rationale": why this matters
  - "suggestion": a concrete fix, if one exists

Report only real issues. An empty findings array is a valid answer.
Respond ONLY with the JSON object, no additional text.`

var reviewPromptTemplate = template.Must(template.New("review").Parse(`{{if .Title}}Pull request: {{.Title}}
{{end}}{{if .Description}}{{.Description}}

{{end}}{{if .Context}}Related code from the repository index:
{{range .Context}}--- {{.File}}:{{.StartLine}}-{{.EndLine}}
{{.Content}}
{{end}}
{{end}}Changed hunks to review:
{{range .Hunks}}--- {{.File}} (new lines {{.NewStart}}-{{.NewEnd}})
{{.Patch}}
{{end}}`))

type promptContext struct {
	File      string
	StartLine int
	EndLine   int
	Content   string
}

type promptHunk struct {
	File     string
	NewStart int
	NewEnd   int
	Patch    string
}

type promptData struct {
	Title       string
	Description string
	Context     []promptContext
	Hunks       []promptHunk
}

// buildPrompt renders the user prompt for one review request.
func buildPrompt(req Request) string {
	data := promptData{
		Title:       req.Review.Title,
		Description: req.Review.Description,
	}

	for _, m := range req.Context {
		data.Context = append(data.Context, promptContext{
			File:      m.File,
			StartLine: m.StartLine,
			EndLine:   m.EndLine,
			Content:   m.Content,
		})
	}

	for _, h := range req.Review.Hunks {
		patch := h.Patch
		if len(patch) > maxPatchChars {
			cut := maxPatchChars
			// Back up so the cut never splits a multi-byte rune.
			for cut > 0 && !utf8.RuneStart(patch[cut]) {
				cut--
			}
			patch = patch[:cut] + "\n... (truncated)"
		}
		data.Hunks = append(data.Hunks, promptHunk{
			File:     h.File,
			NewStart: h.NewStart,
			NewEnd:   h.NewStart + h.NewLines - 1,
			Patch:    patch,
		})
	}

	var sb strings.Builder
	if err := reviewPromptTemplate.Execute(&sb, data); err != nil {
		// The template only references fields that exist; execution cannot
		// fail on well-formed data.
		return ""
	}
	return sb.String()
}
