// Package coordinator fans review requests out to providers and merges
// what comes back.
package coordinator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/konradekk14/llm-code-review-assistant/internal/provider"
	"github.com/konradekk14/llm-code-review-assistant/internal/review"
)

// Dispatch modes.
const (
	// ModeAggregate queries every selected provider and merges all
	// successful responses.
	ModeAggregate = "aggregate"

	// ModeFallback queries providers one at a time, primaries first, and
	// stops at the first success.
	ModeFallback = "fallback"
)

// Config holds coordinator dispatch policy.
type Config struct {
	// Mode selects the dispatch strategy: "aggregate" or "fallback".
	Mode string `koanf:"mode"`

	// Deadline bounds the whole dispatch. Providers that have not answered
	// by then are reported as timed out and their results discarded.
	Deadline time.Duration `koanf:"deadline"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeAggregate
	}
	if c.Deadline == 0 {
		c.Deadline = 120 * time.Second
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeAggregate, ModeFallback:
	default:
		return fmt.Errorf("unsupported dispatch mode %q", c.Mode)
	}
	if c.Deadline < time.Second {
		return fmt.Errorf("deadline must be at least 1s, got %s", c.Deadline)
	}
	return nil
}

// AllProvidersFailedError reports that no provider produced a usable
// review, with the per-provider reasons.
type AllProvidersFailedError struct {
	Reasons map[string]string
}

func (e *AllProvidersFailedError) Error() string {
	parts := make([]string, 0, len(e.Reasons))
	for name, reason := range e.Reasons {
		parts = append(parts, fmt.Sprintf("%s: %s", name, reason))
	}
	sort.Strings(parts)
	return "all providers failed: " + strings.Join(parts, "; ")
}

// Outcome is the result of one dispatch.
type Outcome struct {
	// Findings is the merged finding set from all successful responses.
	Findings []review.Finding

	// Responses holds one entry per dispatched provider, failures included.
	Responses []review.ProviderResponse
}

// Coordinator dispatches review requests across the provider registry.
type Coordinator struct {
	registry *provider.Registry
	config   Config
	logger   *zap.Logger
}

// New creates a Coordinator over the given registry.
func New(registry *provider.Registry, config Config, logger *zap.Logger) (*Coordinator, error) {
	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Coordinator{
		registry: registry,
		config:   config,
		logger:   logger,
	}, nil
}

// Review dispatches the request per the configured mode. It returns
// AllProvidersFailedError when every dispatched provider failed; partial
// failure is not an error, the failed responses just carry their status.
func (c *Coordinator) Review(ctx context.Context, req provider.Request) (*Outcome, error) {
	tracer := otel.Tracer("reviewd.coordinator")
	ctx, span := tracer.Start(ctx, "coordinator.Review")
	defer span.End()

	span.SetAttributes(
		attribute.String("request_id", req.Review.ID),
		attribute.String("mode", c.config.Mode),
	)

	providers, err := c.registry.Select(req.Review.Providers)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider selection failed")
		return nil, err
	}
	if len(providers) == 0 {
		err := fmt.Errorf("%w: no providers configured", provider.ErrInvalidConfig)
		span.RecordError(err)
		span.SetStatus(codes.Error, "no providers")
		return nil, err
	}

	// An implicit provider set means configured AND healthy: known-failed
	// providers stay out of the aggregate fan-out so a dead backend does not
	// burn a call and its timeout on every request. An explicit subset is
	// honored as given, and the fallback path has its own last-resort pass.
	if c.config.Mode != ModeFallback && len(req.Review.Providers) == 0 {
		providers = c.dropFailed(providers)
	}

	providers = c.orderByPreference(providers)

	ctx, cancel := context.WithTimeout(ctx, c.config.Deadline)
	defer cancel()

	var outcome *Outcome
	switch c.config.Mode {
	case ModeFallback:
		outcome = c.reviewFallback(ctx, providers, req)
	default:
		outcome = c.reviewAggregate(ctx, providers, req)
	}

	if !anySucceeded(outcome.Responses) {
		reasons := make(map[string]string, len(outcome.Responses))
		for _, r := range outcome.Responses {
			reasons[r.Provider] = fmt.Sprintf("%s: %s", r.Status, r.Error)
		}
		err := &AllProvidersFailedError{Reasons: reasons}
		span.RecordError(err)
		span.SetStatus(codes.Error, "all providers failed")
		return outcome, err
	}

	outcome.Findings = mergeFindings(outcome.Responses)
	span.SetAttributes(attribute.Int("findings", len(outcome.Findings)))
	span.SetStatus(codes.Ok, "")
	return outcome, nil
}

// orderByPreference sorts providers primaries first, then by health so
// failed providers are tried last. The sort is stable, so registration
// order breaks ties.
func (c *Coordinator) orderByPreference(providers []provider.Provider) []provider.Provider {
	ordered := make([]provider.Provider, len(providers))
	copy(ordered, providers)

	sort.SliceStable(ordered, func(i, j int) bool {
		pi, pj := ordered[i], ordered[j]
		ri := c.registry.Role(pi.Name()) == provider.RolePrimary
		rj := c.registry.Role(pj.Name()) == provider.RolePrimary
		if ri != rj {
			return ri
		}
		return healthRank(c.registry.Health(pi.Name())) < healthRank(c.registry.Health(pj.Name()))
	})
	return ordered
}

// dropFailed removes providers currently marked failed. When every provider
// is failed the full set is kept, so the request still gets a last-resort
// attempt instead of failing without a single call.
func (c *Coordinator) dropFailed(providers []provider.Provider) []provider.Provider {
	kept := make([]provider.Provider, 0, len(providers))
	for _, p := range providers {
		if c.registry.Health(p.Name()) != provider.HealthFailed {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		return providers
	}
	return kept
}

func healthRank(h provider.Health) int {
	switch h {
	case provider.HealthHealthy:
		return 0
	case provider.HealthUnknown:
		return 1
	case provider.HealthDegraded:
		return 2
	default:
		return 3
	}
}

type dispatchResult struct {
	name     string
	response *review.ProviderResponse
	err      error
	elapsed  time.Duration
}

// reviewAggregate fans out to every provider at once and waits for all of
// them or the deadline, whichever comes first.
func (c *Coordinator) reviewAggregate(ctx context.Context, providers []provider.Provider, req provider.Request) *Outcome {
	// Buffered to provider count: stragglers finishing after the deadline
	// can still send and exit instead of leaking.
	results := make(chan dispatchResult, len(providers))

	for _, p := range providers {
		p := p
		go func() {
			start := time.Now()
			resp, err := p.SubmitReview(ctx, req)
			results <- dispatchResult{name: p.Name(), response: resp, err: err, elapsed: time.Since(start)}
		}()
	}

	byName := make(map[string]review.ProviderResponse, len(providers))

collect:
	for range providers {
		select {
		case res := <-results:
			byName[res.name] = c.recordResult(res)
		case <-ctx.Done():
			break collect
		}
	}

	responses := make([]review.ProviderResponse, 0, len(providers))
	for _, p := range providers {
		if resp, ok := byName[p.Name()]; ok {
			responses = append(responses, resp)
			continue
		}
		// Straggler abandoned at the deadline.
		c.registry.Record(p.Name(), c.config.Deadline, provider.ErrTimeout)
		c.logger.Warn("provider missed dispatch deadline",
			zap.String("provider", p.Name()),
			zap.String("request_id", req.Review.ID),
		)
		responses = append(responses, review.ProviderResponse{
			Provider: p.Name(),
			Status:   review.StatusTimeout,
			Error:    "dispatch deadline exceeded",
			Latency:  c.config.Deadline,
		})
	}

	return &Outcome{Responses: responses}
}

// reviewFallback tries providers sequentially and stops at the first
// success. Providers already marked failed are skipped unless nothing else
// succeeded.
func (c *Coordinator) reviewFallback(ctx context.Context, providers []provider.Provider, req provider.Request) *Outcome {
	var responses []review.ProviderResponse
	var skipped []provider.Provider

	for _, p := range providers {
		if c.registry.Health(p.Name()) == provider.HealthFailed {
			skipped = append(skipped, p)
			continue
		}
		resp, done := c.tryOne(ctx, p, req)
		responses = append(responses, resp)
		if done {
			return &Outcome{Responses: responses}
		}
	}

	// Last resort: give failed providers one chance anyway.
	for _, p := range skipped {
		resp, done := c.tryOne(ctx, p, req)
		responses = append(responses, resp)
		if done {
			break
		}
	}

	return &Outcome{Responses: responses}
}

func (c *Coordinator) tryOne(ctx context.Context, p provider.Provider, req provider.Request) (review.ProviderResponse, bool) {
	start := time.Now()
	resp, err := p.SubmitReview(ctx, req)
	result := c.recordResult(dispatchResult{name: p.Name(), response: resp, err: err, elapsed: time.Since(start)})
	return result, err == nil
}

// recordResult normalizes a dispatch result into a response and feeds the
// health registry.
func (c *Coordinator) recordResult(res dispatchResult) review.ProviderResponse {
	c.registry.Record(res.name, res.elapsed, res.err)

	if res.err == nil && res.response != nil {
		return *res.response
	}

	c.logger.Warn("provider call failed",
		zap.String("provider", res.name),
		zap.Duration("elapsed", res.elapsed),
		zap.Error(res.err),
	)
	return review.ProviderResponse{
		Provider: res.name,
		Status:   provider.StatusFromError(res.err),
		Error:    res.err.Error(),
		Latency:  res.elapsed,
	}
}

func anySucceeded(responses []review.ProviderResponse) bool {
	for _, r := range responses {
		if r.Succeeded() {
			return true
		}
	}
	return false
}
