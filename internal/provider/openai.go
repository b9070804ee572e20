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

// openAIAdapter speaks the OpenAI chat-completions API, which also covers
// OpenAI-compatible backends (vLLM, LocalAI, OpenRouter). BaseURL includes
// the version prefix, e.g. https://api.openai.com/v1.
type openAIAdapter struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

func newOpenAIAdapter(config Config, logger *zap.Logger) *openAIAdapter {
	return &openAIAdapter{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(config.RPS), defaultBurst),
		logger:  logger,
	}
}

func (a *openAIAdapter) Name() string { return a.config.Name }

type openAIChatRequest struct {
	Model          string              `json:"model"`
	Messages       []openAIChatMessage `json:"messages"`
	Temperature    float64             `json:"temperature"`
	ResponseFormat *openAIFormat       `json:"response_format,omitempty"`
}

type openAIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIFormat struct {
	Type string `json:"type"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type openAIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// SubmitReview sends the review prompt and parses the model's reply.
func (a *openAIAdapter) SubmitReview(ctx context.Context, req Request) (*review.ProviderResponse, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limiter: %v", ErrTimeout, err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	body := openAIChatRequest{
		Model: a.config.Model,
		Messages: []openAIChatMessage{
			{Role: "system", Content: reviewSystemPrompt},
			{Role: "user", Content: buildPrompt(req)},
		},
		Temperature:    0.2,
		ResponseFormat: &openAIFormat{Type: "json_object"},
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

func (a *openAIAdapter) doChat(ctx context.Context, body openAIChatRequest) (string, review.Usage, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return "", review.Usage{}, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.config.BaseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", review.Usage{}, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.config.APIKey)
	}

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
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", review.Usage{}, fmt.Errorf("%w: status %d", ErrAuth, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", review.Usage{}, &retryableError{err: fmt.Errorf("%w: rate limited (429)", ErrUnavailable)}
	case resp.StatusCode >= 500:
		return "", review.Usage{}, &retryableError{err: fmt.Errorf("%w: server error (%d)", ErrUnavailable, resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		var errResp openAIErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			return "", review.Usage{}, fmt.Errorf("%w: API error (%d): %s", ErrUnavailable, resp.StatusCode, errResp.Error.Message)
		}
		return "", review.Usage{}, fmt.Errorf("%w: API error (%d)", ErrUnavailable, resp.StatusCode)
	}

	var chatResp openAIChatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", review.Usage{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if len(chatResp.Choices) == 0 {
		return "", review.Usage{}, fmt.Errorf("%w: empty choices", ErrParse)
	}

	usage := review.Usage{
		PromptTokens:     chatResp.Usage.PromptTokens,
		CompletionTokens: chatResp.Usage.CompletionTokens,
		TotalTokens:      chatResp.Usage.TotalTokens,
	}
	return chatResp.Choices[0].Message.Content, usage, nil
}

// Healthcheck probes the configured model's metadata endpoint.
func (a *openAIAdapter) Healthcheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		a.config.BaseURL+"/models/"+a.config.Model, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if a.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.config.APIKey)
	}

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrAuth, resp.StatusCode)
	default:
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
}

var _ Provider = (*openAIAdapter)(nil)
