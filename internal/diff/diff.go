// Package diff parses unified diffs into the review hunk model.
package diff

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bluekeyes/go-gitdiff/gitdiff"

	"github.com/konradekk14/llm-code-review-assistant/internal/review"
)

// ErrEmptyDiff indicates the diff contained no reviewable hunks.
var ErrEmptyDiff = errors.New("diff contains no reviewable hunks")

// ParseHunks parses raw unified diff text into the ordered hunk sequence
// of a review request. Binary files and deletions without text fragments
// are skipped; renamed files are reported under their new path.
func ParseHunks(raw string) ([]review.Hunk, error) {
	files, _, err := gitdiff.Parse(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parsing diff: %w", err)
	}

	var hunks []review.Hunk
	for _, f := range files {
		if f.IsBinary {
			continue
		}

		path := f.NewName
		if path == "" {
			path = f.OldName
		}

		for _, frag := range f.TextFragments {
			h := review.Hunk{
				File:     path,
				OldStart: int(frag.OldPosition),
				OldLines: int(frag.OldLines),
				NewStart: int(frag.NewPosition),
				NewLines: int(frag.NewLines),
			}

			var patch strings.Builder
			fmt.Fprintf(&patch, "@@ -%d,%d +%d,%d @@\n",
				frag.OldPosition, frag.OldLines, frag.NewPosition, frag.NewLines)

			for _, line := range frag.Lines {
				content := strings.TrimSuffix(line.Line, "\n")
				switch line.Op {
				case gitdiff.OpAdd:
					h.Added = append(h.Added, content)
					patch.WriteString("+" + content + "\n")
				case gitdiff.OpDelete:
					h.Removed = append(h.Removed, content)
					patch.WriteString("-" + content + "\n")
				default:
					patch.WriteString(" " + content + "\n")
				}
			}

			h.Patch = patch.String()
			hunks = append(hunks, h)
		}
	}

	if len(hunks) == 0 {
		return nil, ErrEmptyDiff
	}

	return hunks, nil
}
