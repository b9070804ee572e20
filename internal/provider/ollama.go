package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/konradekk14/llm-code-review-assistant/internal/review"
)

// ollamaAdapter speaks Ollama's native chat API. BaseURL has no version
// prefix, e.g. http://localhost:11434.
type ollamaAdapter struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

func newOllamaAdapter(config Config, logger *zap.Logger) *ollamaAdapter {
	return &ollamaAdapter{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(config.RPS), defaultBurst),
		logger:  logger,
	}
}

func (a *ollamaAdapter) Name() string { return a.config.Name }

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Format   string              `json:"format,omitempty"`
	Options  ollamaOptions       `json:"options"`
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
}

type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done            bool  `json:"done"`
	PromptEvalCount int   `json:"prompt_eval_count"`
	EvalCount       int   `json:"eval_count"`
}

// SubmitReview sends the review prompt and parses the model's reply.
func (a *ollamaAdapter) SubmitReview(ctx context.Context, req Request) (*review.ProviderResponse, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limiter: %v", ErrTimeout, err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	body := ollamaChatRequest{
		Model: a.config.Model,
		Messages: []ollamaChatMessage{
			{Role: "system", Content: reviewSystemPrompt},
			{Role: "user", Content: buildPrompt(req)},
		},
		Stream:  false,
		Format:  "json",
		Options: ollamaOptions{Temperature: 0.2},
	}

	start := time.Now()

	var content string
	var usage review.Usage
	err := withRetries(ctx, a.config.MaxRetries, func(ctx context.Context) error {
		var err error
		content, usage, err = a.doChat(ctx, body)
		return err
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, err
	}

	findings, summary, err := parseReviewJSON(content, a.config.Name)
	if err != nil {
		a.logger.Warn("unparseable model reply",
			zap.String("provider", a.config.Name),
			zap.Error(err),
		)
		return nil, err
	}

	return &review.ProviderResponse{
		Provider: a.config.Name,
		Status:   review.StatusOK,
		Findings: findings,
		Summary:  summary,
		Latency:  time.Since(start),
		Usage:    usage,
	}, nil
}

func (a *ollamaAdapter) doChat(ctx context.Context, body ollamaChatRequest) (string, review.Usage, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return "", review.Usage{}, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.config.BaseURL+"/api/chat", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", review.Usage{}, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", review.Usage{}, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		}
		return "", review.Usage{}, &retryableError{err: fmt.Errorf("%w: %v", ErrUnavailable, err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", review.Usage{}, &retryableError{err: fmt.Errorf("%w: reading response: %v", ErrUnavailable, err)}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", review.Usage{}, &retryableError{err: fmt.Errorf("%w: rate limited (429)", ErrUnavailable)}
	case resp.StatusCode >= 500:
		return "", review.Usage{}, &retryableError{err: fmt.Errorf("%w: server error (%d)", ErrUnavailable, resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return "", review.Usage{}, fmt.Errorf("%w: API error (%d): %s", ErrUnavailable, resp.StatusCode, string(respBody))
	}

	var chatResp ollamaChatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", review.Usage{}, fmt.Errorf("%w: %v", ErrParse, err)
	}

	usage := review.Usage{
		PromptTokens:     chatResp.PromptEvalCount,
		CompletionTokens: chatResp.EvalCount,
		TotalTokens:      chatResp.PromptEvalCount + chatResp.EvalCount,
	}
	return chatResp.Message.Content, usage, nil
}

// Healthcheck probes the Ollama tags endpoint, which answers whenever the
// server is up.
func (a *ollamaAdapter) Healthcheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.config.BaseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	return nil
}

var _ Provider = (*ollamaAdapter)(nil)
