package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Health classifies a provider's recent track record.
type Health string

const (
	// HealthUnknown means no call or probe has completed yet.
	HealthUnknown Health = "unknown"

	// HealthHealthy means the last call succeeded.
	HealthHealthy Health = "healthy"

	// HealthDegraded means recent failures below the failure threshold.
	HealthDegraded Health = "degraded"

	// HealthFailed means consecutive failures reached the threshold.
	HealthFailed Health = "failed"
)

// failureThreshold is the consecutive-failure count at which a provider
// transitions from degraded to failed.
const failureThreshold = 3

// ErrUnknownProvider indicates a provider name that is not registered.
var ErrUnknownProvider = fmt.Errorf("unknown provider")

// Status is a point-in-time view of one provider's health.
type Status struct {
	Name                string        `json:"name"`
	Role                string        `json:"role"`
	Health              Health        `json:"health"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastLatency         time.Duration `json:"last_latency_ns"`
	LastError           string        `json:"last_error,omitempty"`
	LastChecked         time.Time     `json:"last_checked,omitempty"`
}

// Registry tracks configured providers and their health. A single success
// restores a provider to healthy; reaching the failure threshold marks it
// failed until it succeeds again.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Provider
	status map[string]*Status
	order  []string
	logger *zap.Logger
}

// NewRegistry creates an empty provider registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		byName: make(map[string]Provider),
		status: make(map[string]*Status),
		logger: logger,
	}
}

// Register adds a provider under its dispatch role.
func (r *Registry) Register(p Provider, role string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := p.Name()
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("%w: duplicate provider name %q", ErrInvalidConfig, name)
	}

	r.byName[name] = p
	r.status[name] = &Status{Name: name, Role: role, Health: HealthUnknown}
	r.order = append(r.order, name)
	return nil
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byName[name]
	return p, ok
}

// Select resolves a request's provider subset. An empty subset means all
// registered providers, in registration order. Repeated names resolve to a
// single entry so a provider is never dispatched twice for one request.
func (r *Registry) Select(names []string) ([]Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(names) == 0 {
		providers := make([]Provider, 0, len(r.order))
		for _, name := range r.order {
			providers = append(providers, r.byName[name])
		}
		return providers, nil
	}

	providers := make([]Provider, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		p, ok := r.byName[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
		}
		providers = append(providers, p)
	}
	return providers, nil
}

// Role returns the dispatch role a provider was registered under.
func (r *Registry) Role(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if st, ok := r.status[name]; ok {
		return st.Role
	}
	return ""
}

// Record updates a provider's health from one call outcome.
func (r *Registry) Record(name string, latency time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.status[name]
	if !ok {
		return
	}

	st.LastLatency = latency
	st.LastChecked = time.Now()

	if err == nil {
		if st.Health != HealthHealthy {
			r.logger.Info("provider recovered", zap.String("provider", name))
		}
		st.Health = HealthHealthy
		st.ConsecutiveFailures = 0
		st.LastError = ""
		return
	}

	st.ConsecutiveFailures++
	st.LastError = err.Error()
	if st.ConsecutiveFailures >= failureThreshold {
		if st.Health != HealthFailed {
			r.logger.Error("provider marked failed",
				zap.String("provider", name),
				zap.Int("consecutive_failures", st.ConsecutiveFailures),
				zap.Error(err),
			)
		}
		st.Health = HealthFailed
		return
	}
	st.Health = HealthDegraded
	r.logger.Warn("provider degraded",
		zap.String("provider", name),
		zap.Int("consecutive_failures", st.ConsecutiveFailures),
		zap.Error(err),
	)
}

// Health returns a provider's current health.
func (r *Registry) Health(name string) Health {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if st, ok := r.status[name]; ok {
		return st.Health
	}
	return HealthUnknown
}

// Snapshot returns the status of every provider in registration order.
func (r *Registry) Snapshot() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Status, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, *r.status[name])
	}
	return out
}

// CheckAll probes every registered provider concurrently and records the
// outcomes. Probe failures are reflected in health state, not returned.
func (r *Registry) CheckAll(ctx context.Context) {
	r.mu.RLock()
	providers := make([]Provider, 0, len(r.order))
	for _, name := range r.order {
		providers = append(providers, r.byName[name])
	}
	r.mu.RUnlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, p := range providers {
		p := p
		g.Go(func() error {
			start := time.Now()
			err := p.Healthcheck(ctx)
			r.Record(p.Name(), time.Since(start), err)
			return nil
		})
	}
	g.Wait()
}
