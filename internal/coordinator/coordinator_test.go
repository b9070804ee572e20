package coordinator_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/konradekk14/llm-code-review-assistant/internal/coordinator"
	"github.com/konradekk14/llm-code-review-assistant/internal/provider"
	"github.com/konradekk14/llm-code-review-assistant/internal/review"
)

// stubProvider answers with canned findings, an error, or hangs until the
// context expires.
type stubProvider struct {
	name     string
	findings []review.Finding
	err      error
	delay    time.Duration
	calls    atomic.Int32
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) SubmitReview(ctx context.Context, _ provider.Request) (*review.ProviderResponse, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, provider.ErrTimeout
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return &review.ProviderResponse{
		Provider: s.name,
		Status:   review.StatusOK,
		Findings: s.findings,
		Summary:  "reviewed by " + s.name,
		Latency:  s.delay,
	}, nil
}

func (s *stubProvider) Healthcheck(_ context.Context) error { return nil }

var _ provider.Provider = (*stubProvider)(nil)

func finding(provider, file string, line int, severity review.Severity, title string) review.Finding {
	return review.Finding{
		File:      file,
		Line:      line,
		Severity:  severity,
		Category:  review.CategoryBug,
		Title:     title,
		Providers: []string{provider},
	}
}

func buildCoordinator(t *testing.T, cfg coordinator.Config, providers ...*stubProvider) (*coordinator.Coordinator, *provider.Registry) {
	t.Helper()

	registry := provider.NewRegistry(zap.NewNop())
	for i, p := range providers {
		role := provider.RoleSecondary
		if i == 0 {
			role = provider.RolePrimary
		}
		require.NoError(t, registry.Register(p, role))
	}

	c, err := coordinator.New(registry, cfg, zap.NewNop())
	require.NoError(t, err)
	return c, registry
}

func reviewRequest() provider.Request {
	return provider.Request{
		Review: review.Request{
			ID:    "req-1",
			Hunks: []review.Hunk{{File: "a.go", NewStart: 1, NewLines: 2, Patch: "@@ +1,2 @@"}},
		},
	}
}

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := coordinator.Config{}
	cfg.ApplyDefaults()

	assert.Equal(t, coordinator.ModeAggregate, cfg.Mode)
	assert.Equal(t, 120*time.Second, cfg.Deadline)
}

func TestConfig_Validate(t *testing.T) {
	assert.Error(t, coordinator.Config{Mode: "race", Deadline: time.Minute}.Validate())
	assert.Error(t, coordinator.Config{Mode: coordinator.ModeAggregate, Deadline: time.Millisecond}.Validate())
	assert.NoError(t, coordinator.Config{Mode: coordinator.ModeFallback, Deadline: time.Minute}.Validate())
}

func TestReview_AggregateMergesProviders(t *testing.T) {
	a := &stubProvider{name: "gpt", findings: []review.Finding{
		finding("gpt", "a.go", 10, review.SeverityWarn, "Possible nil dereference"),
		finding("gpt", "b.go", 5, review.SeverityNit, "Rename x"),
	}}
	b := &stubProvider{name: "local", findings: []review.Finding{
		finding("local", "a.go", 10, review.SeverityError, "Nil pointer dereference"),
	}}

	c, _ := buildCoordinator(t, coordinator.Config{}, a, b)

	outcome, err := c.Review(context.Background(), reviewRequest())
	require.NoError(t, err)

	require.Len(t, outcome.Responses, 2)
	require.Len(t, outcome.Findings, 2)

	// The duplicate at a.go:10 merges under the higher severity.
	var dup review.Finding
	for _, f := range outcome.Findings {
		if f.File == "a.go" {
			dup = f
		}
	}
	assert.Equal(t, review.SeverityError, dup.Severity)
	assert.Equal(t, "Nil pointer dereference", dup.Title)
	assert.ElementsMatch(t, []string{"gpt", "local"}, dup.Providers)
	require.Len(t, dup.Notes, 1)
	assert.Contains(t, dup.Notes[0], "Possible nil dereference")
}

func TestReview_AggregateToleratesPartialFailure(t *testing.T) {
	ok := &stubProvider{name: "gpt", findings: []review.Finding{
		finding("gpt", "a.go", 1, review.SeverityWarn, "Issue"),
	}}
	bad := &stubProvider{name: "local", err: provider.ErrUnavailable}

	c, registry := buildCoordinator(t, coordinator.Config{}, ok, bad)

	outcome, err := c.Review(context.Background(), reviewRequest())
	require.NoError(t, err)

	require.Len(t, outcome.Responses, 2)
	byName := map[string]review.ProviderResponse{}
	for _, r := range outcome.Responses {
		byName[r.Provider] = r
	}
	assert.Equal(t, review.StatusOK, byName["gpt"].Status)
	assert.Equal(t, review.StatusUnavailable, byName["local"].Status)
	assert.NotEmpty(t, byName["local"].Error)

	// Health bookkeeping reflects the outcomes.
	assert.Equal(t, provider.HealthHealthy, registry.Health("gpt"))
	assert.Equal(t, provider.HealthDegraded, registry.Health("local"))
}

func TestReview_AggregateDeadlineAbandonsStragglers(t *testing.T) {
	fast := &stubProvider{name: "fast", findings: []review.Finding{
		finding("fast", "a.go", 1, review.SeverityInfo, "Note"),
	}}
	slow := &stubProvider{name: "slow", delay: 10 * time.Second}

	c, _ := buildCoordinator(t, coordinator.Config{Deadline: time.Second}, fast, slow)

	start := time.Now()
	outcome, err := c.Review(context.Background(), reviewRequest())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	byName := map[string]review.ProviderResponse{}
	for _, r := range outcome.Responses {
		byName[r.Provider] = r
	}
	assert.Equal(t, review.StatusOK, byName["fast"].Status)
	assert.Equal(t, review.StatusTimeout, byName["slow"].Status)
}

func TestReview_AllProvidersFailed(t *testing.T) {
	a := &stubProvider{name: "gpt", err: provider.ErrAuth}
	b := &stubProvider{name: "local", err: provider.ErrUnavailable}

	c, _ := buildCoordinator(t, coordinator.Config{}, a, b)

	outcome, err := c.Review(context.Background(), reviewRequest())
	require.Error(t, err)

	var allFailed *coordinator.AllProvidersFailedError
	require.ErrorAs(t, err, &allFailed)
	assert.Len(t, allFailed.Reasons, 2)
	assert.Contains(t, allFailed.Reasons["gpt"], "auth_error")

	// The failed responses are still returned for traceability.
	require.NotNil(t, outcome)
	assert.Len(t, outcome.Responses, 2)
}

func TestReview_FallbackStopsAtFirstSuccess(t *testing.T) {
	primary := &stubProvider{name: "gpt", findings: []review.Finding{
		finding("gpt", "a.go", 1, review.SeverityWarn, "Issue"),
	}}
	secondary := &stubProvider{name: "local"}

	c, _ := buildCoordinator(t, coordinator.Config{Mode: coordinator.ModeFallback}, primary, secondary)

	outcome, err := c.Review(context.Background(), reviewRequest())
	require.NoError(t, err)

	assert.Len(t, outcome.Responses, 1)
	assert.Equal(t, int32(1), primary.calls.Load())
	assert.Equal(t, int32(0), secondary.calls.Load())
}

func TestReview_FallbackAdvancesPastFailure(t *testing.T) {
	primary := &stubProvider{name: "gpt", err: provider.ErrUnavailable}
	secondary := &stubProvider{name: "local", findings: []review.Finding{
		finding("local", "a.go", 1, review.SeverityWarn, "Issue"),
	}}

	c, _ := buildCoordinator(t, coordinator.Config{Mode: coordinator.ModeFallback}, primary, secondary)

	outcome, err := c.Review(context.Background(), reviewRequest())
	require.NoError(t, err)

	require.Len(t, outcome.Responses, 2)
	assert.Equal(t, review.StatusUnavailable, outcome.Responses[0].Status)
	assert.Equal(t, review.StatusOK, outcome.Responses[1].Status)
}

func TestReview_FallbackSkipsFailedProvidersFirst(t *testing.T) {
	primary := &stubProvider{name: "gpt", err: provider.ErrUnavailable}
	secondary := &stubProvider{name: "local", findings: []review.Finding{
		finding("local", "a.go", 1, review.SeverityWarn, "Issue"),
	}}

	c, registry := buildCoordinator(t, coordinator.Config{Mode: coordinator.ModeFallback}, primary, secondary)

	// Drive the primary into failed state.
	for i := 0; i < 3; i++ {
		registry.Record("gpt", time.Second, errors.New("down"))
	}
	require.Equal(t, provider.HealthFailed, registry.Health("gpt"))

	outcome, err := c.Review(context.Background(), reviewRequest())
	require.NoError(t, err)

	// The failed primary is skipped entirely once a healthy provider answers.
	assert.Equal(t, int32(0), primary.calls.Load())
	assert.Equal(t, int32(1), secondary.calls.Load())
	assert.Len(t, outcome.Responses, 1)
}

func TestReview_AggregateExcludesFailedProviders(t *testing.T) {
	ok := &stubProvider{name: "gpt", findings: []review.Finding{
		finding("gpt", "a.go", 1, review.SeverityWarn, "Issue"),
	}}
	down := &stubProvider{name: "local", err: provider.ErrUnavailable}

	c, registry := buildCoordinator(t, coordinator.Config{}, ok, down)

	// Drive the secondary into failed state.
	for i := 0; i < 3; i++ {
		registry.Record("local", time.Second, errors.New("down"))
	}
	require.Equal(t, provider.HealthFailed, registry.Health("local"))

	outcome, err := c.Review(context.Background(), reviewRequest())
	require.NoError(t, err)

	// The implicit set is configured AND healthy, so the dead backend is
	// never dispatched.
	assert.Equal(t, int32(0), down.calls.Load())
	require.Len(t, outcome.Responses, 1)
	assert.Equal(t, review.StatusOK, outcome.Responses[0].Status)
}

func TestReview_AggregateExplicitSubsetOverridesHealth(t *testing.T) {
	ok := &stubProvider{name: "gpt"}
	down := &stubProvider{name: "local", findings: []review.Finding{
		finding("local", "a.go", 1, review.SeverityWarn, "Issue"),
	}}

	c, registry := buildCoordinator(t, coordinator.Config{}, ok, down)

	for i := 0; i < 3; i++ {
		registry.Record("local", time.Second, errors.New("down"))
	}

	req := reviewRequest()
	req.Review.Providers = []string{"local"}

	outcome, err := c.Review(context.Background(), req)
	require.NoError(t, err)

	// Naming a provider explicitly dispatches it regardless of health.
	assert.Equal(t, int32(1), down.calls.Load())
	assert.Len(t, outcome.Responses, 1)
}

func TestReview_AggregateAllFailedStillDispatches(t *testing.T) {
	a := &stubProvider{name: "gpt", err: provider.ErrUnavailable}
	b := &stubProvider{name: "local", findings: []review.Finding{
		finding("local", "a.go", 1, review.SeverityWarn, "Issue"),
	}}

	c, registry := buildCoordinator(t, coordinator.Config{}, a, b)

	for i := 0; i < 3; i++ {
		registry.Record("gpt", time.Second, errors.New("down"))
		registry.Record("local", time.Second, errors.New("down"))
	}

	// With nothing healthier to prefer, the full set gets its last-resort
	// chance, which is also how failed providers recover between probes.
	outcome, err := c.Review(context.Background(), reviewRequest())
	require.NoError(t, err)

	assert.Equal(t, int32(1), a.calls.Load())
	assert.Equal(t, int32(1), b.calls.Load())
	assert.Len(t, outcome.Responses, 2)
	assert.Equal(t, provider.HealthHealthy, registry.Health("local"))
}

func TestReview_RequestSubsetSelection(t *testing.T) {
	a := &stubProvider{name: "gpt", findings: []review.Finding{
		finding("gpt", "a.go", 1, review.SeverityWarn, "Issue"),
	}}
	b := &stubProvider{name: "local"}

	c, _ := buildCoordinator(t, coordinator.Config{}, a, b)

	req := reviewRequest()
	req.Review.Providers = []string{"gpt"}

	outcome, err := c.Review(context.Background(), req)
	require.NoError(t, err)

	assert.Len(t, outcome.Responses, 1)
	assert.Equal(t, int32(0), b.calls.Load())
}

func TestReview_UnknownProviderRejected(t *testing.T) {
	a := &stubProvider{name: "gpt"}
	c, _ := buildCoordinator(t, coordinator.Config{}, a)

	req := reviewRequest()
	req.Review.Providers = []string{"ghost"}

	_, err := c.Review(context.Background(), req)
	assert.ErrorIs(t, err, provider.ErrUnknownProvider)
}
