// Package ghpost posts aggregated reviews back to GitHub pull requests.
package ghpost

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/konradekk14/llm-code-review-assistant/internal/review"
)

var (
	// ErrNoToken indicates a poster built without credentials.
	ErrNoToken = errors.New("github token not set")

	// ErrBadRepo indicates a repo reference not in "owner/name" form.
	ErrBadRepo = errors.New("repo must be in owner/name form")
)

// Poster submits reviews as GitHub pull request reviews with inline
// comments.
type Poster struct {
	client *github.Client
	logger *zap.Logger
}

// New creates a Poster authenticated with the given token. baseURL
// overrides the API endpoint for GitHub Enterprise; empty means github.com.
func New(ctx context.Context, token, baseURL string, logger *zap.Logger) (*Poster, error) {
	if token == "" {
		return nil, ErrNoToken
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(ctx, ts)

	client := github.NewClient(tc)
	if baseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(baseURL, baseURL)
		if err != nil {
			return nil, fmt.Errorf("configuring enterprise URL: %w", err)
		}
	}

	return &Poster{client: client, logger: logger}, nil
}

// Post submits the aggregated review as a COMMENT review on the pull
// request. Line-anchored findings become inline comments on the new side;
// file-level findings are folded into the review body.
func (p *Poster) Post(ctx context.Context, repo string, prNumber int, agg *review.AggregatedReview) error {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return err
	}

	var comments []*github.DraftReviewComment
	var fileLevel []review.Finding
	for _, f := range agg.Findings {
		if f.Line == 0 {
			fileLevel = append(fileLevel, f)
			continue
		}
		comments = append(comments, &github.DraftReviewComment{
			Path: github.String(f.File),
			Line: github.Int(f.Line),
			Side: github.String("RIGHT"),
			Body: github.String(commentBody(f)),
		})
	}

	reviewReq := &github.PullRequestReviewRequest{
		Body:     github.String(reviewBody(agg, fileLevel)),
		Event:    github.String("COMMENT"),
		Comments: comments,
	}

	_, _, err = p.client.PullRequests.CreateReview(ctx, owner, name, prNumber, reviewReq)
	if err != nil {
		return fmt.Errorf("posting review to %s#%d: %w", repo, prNumber, err)
	}

	p.logger.Info("posted review",
		zap.String("repo", repo),
		zap.Int("pr", prNumber),
		zap.Int("inline_comments", len(comments)),
		zap.Int("file_level", len(fileLevel)),
	)
	return nil
}

func splitRepo(repo string) (owner, name string, err error) {
	parts := strings.Split(repo, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: %q", ErrBadRepo, repo)
	}
	return parts[0], parts[1], nil
}

func commentBody(f review.Finding) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "**[%s/%s]** %s", f.Severity, f.Category, f.Title)
	if f.Rationale != "" {
		sb.WriteString("\n\n")
		sb.WriteString(f.Rationale)
	}
	if f.Suggestion != "" {
		sb.WriteString("\n\nSuggestion: ")
		sb.WriteString(f.Suggestion)
	}
	if len(f.Notes) > 0 {
		sb.WriteString("\n\nAlso noted by: ")
		sb.WriteString(strings.Join(f.Notes, "; "))
	}
	return sb.String()
}

func reviewBody(agg *review.AggregatedReview, fileLevel []review.Finding) string {
	var sb strings.Builder
	sb.WriteString(agg.Summary)

	if len(fileLevel) > 0 {
		sb.WriteString("\n")
		for _, f := range fileLevel {
			fmt.Fprintf(&sb, "\n- `%s` [%s/%s] %s", f.File, f.Severity, f.Category, f.Title)
		}
	}
	return sb.String()
}
