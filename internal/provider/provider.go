// Package provider adapts LLM backends to a common review interface.
//
// Each adapter submits a prompt describing the changed code, parses the
// model's JSON reply into normalized findings, and classifies failures so
// the coordinator can distinguish a bad credential from a flaky backend.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/konradekk14/llm-code-review-assistant/internal/retrieval"
	"github.com/konradekk14/llm-code-review-assistant/internal/review"
)

// Failure classes. Adapters wrap every error in exactly one of these so
// callers can branch with errors.Is.
var (
	// ErrAuth indicates rejected credentials. Never retried.
	ErrAuth = errors.New("provider authentication failed")

	// ErrTimeout indicates the call exceeded its deadline.
	ErrTimeout = errors.New("provider call timed out")

	// ErrUnavailable indicates the backend is unreachable or overloaded.
	ErrUnavailable = errors.New("provider unavailable")

	// ErrParse indicates the model replied with output that could not be
	// interpreted as findings. Never retried; a malformed reply is a model
	// behavior problem, not a transient fault.
	ErrParse = errors.New("provider response unparseable")

	// ErrInvalidConfig indicates invalid provider configuration.
	ErrInvalidConfig = errors.New("invalid provider configuration")
)

// Default adapter tuning.
const (
	defaultTimeout     = 60 * time.Second
	defaultMaxRetries  = 3
	defaultBaseBackoff = 250 * time.Millisecond
	defaultRateLimit   = 50.0 / 60.0 // 50 requests per minute
	defaultBurst       = 5
)

// Roles a provider can play in the coordinator's dispatch policy.
const (
	RolePrimary   = "primary"
	RoleSecondary = "secondary"
)

// Request bundles everything an adapter needs for one review call.
type Request struct {
	// Review is the diff under review.
	Review review.Request

	// Context holds indexed fragments related to the changed regions.
	// May be empty when retrieval was unavailable.
	Context []retrieval.Match
}

// Provider is a review-capable LLM backend.
type Provider interface {
	// Name returns the configured provider name.
	Name() string

	// SubmitReview sends the review request and returns normalized findings.
	// On failure the error wraps one of the package sentinels.
	SubmitReview(ctx context.Context, req Request) (*review.ProviderResponse, error)

	// Healthcheck probes the backend without running a review.
	Healthcheck(ctx context.Context) error
}

// Config describes one configured provider.
type Config struct {
	// Name is the unique provider name used in requests and results.
	Name string `koanf:"name"`

	// Type selects the adapter: "openai" or "ollama".
	Type string `koanf:"type"`

	// BaseURL is the backend's API base URL.
	BaseURL string `koanf:"base_url"`

	// Model is the model identifier to review with.
	Model string `koanf:"model"`

	// APIKey authenticates against the backend. Optional for local backends.
	APIKey string `koanf:"api_key"`

	// Role is the provider's dispatch role: "primary" or "secondary".
	Role string `koanf:"role"`

	// Timeout bounds a single review call including retries.
	Timeout time.Duration `koanf:"timeout"`

	// MaxRetries is the number of retry attempts after the first call.
	// Zero means the default; a negative value disables retries.
	MaxRetries int `koanf:"max_retries"`

	// RPS is the sustained request rate limit. Zero means the default.
	RPS float64 `koanf:"rps"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Role == "" {
		c.Role = RoleSecondary
	}
	if c.Timeout == 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.RPS == 0 {
		c.RPS = defaultRateLimit
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: name required", ErrInvalidConfig)
	}
	switch c.Type {
	case "openai", "ollama":
	default:
		return fmt.Errorf("%w: unsupported type %q", ErrInvalidConfig, c.Type)
	}
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	switch c.Role {
	case RolePrimary, RoleSecondary:
	default:
		return fmt.Errorf("%w: unsupported role %q", ErrInvalidConfig, c.Role)
	}
	return nil
}

// New creates the adapter for the given configuration.
func New(config Config, logger *zap.Logger) (Provider, error) {
	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	switch config.Type {
	case "openai":
		return newOpenAIAdapter(config, logger), nil
	case "ollama":
		return newOllamaAdapter(config, logger), nil
	default:
		return nil, fmt.Errorf("%w: unsupported type %q", ErrInvalidConfig, config.Type)
	}
}

// StatusFromError maps an adapter error to the response status taxonomy.
func StatusFromError(err error) review.ProviderStatus {
	switch {
	case errors.Is(err, ErrAuth):
		return review.StatusAuthError
	case errors.Is(err, ErrParse):
		return review.StatusParseError
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return review.StatusTimeout
	default:
		return review.StatusUnavailable
	}
}
