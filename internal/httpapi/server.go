// Package httpapi provides the HTTP API for reviewd.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/konradekk14/llm-code-review-assistant/internal/coordinator"
	"github.com/konradekk14/llm-code-review-assistant/internal/diff"
	"github.com/konradekk14/llm-code-review-assistant/internal/index"
	"github.com/konradekk14/llm-code-review-assistant/internal/provider"
	"github.com/konradekk14/llm-code-review-assistant/internal/review"
	"github.com/konradekk14/llm-code-review-assistant/internal/reviewer"
)

// ReviewService runs review requests end to end.
type ReviewService interface {
	GenerateReview(ctx context.Context, req review.Request) (*review.AggregatedReview, error)
}

// IndexService maintains the code fragment index.
type IndexService interface {
	Index(ctx context.Context, fragments []index.CodeFragment) (*index.BatchResult, error)
	Remove(ctx context.Context, file string) error
}

// ProviderStatusSource exposes provider health.
type ProviderStatusSource interface {
	Snapshot() []provider.Status
	CheckAll(ctx context.Context)
}

// ReviewPoster publishes aggregated reviews to the originating pull request.
type ReviewPoster interface {
	Post(ctx context.Context, repo string, prNumber int, agg *review.AggregatedReview) error
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Server provides HTTP endpoints for reviewd.
type Server struct {
	echo      *echo.Echo
	reviews   ReviewService
	indexer   IndexService
	providers ProviderStatusSource
	poster    ReviewPoster
	metrics   *Metrics
	logger    *zap.Logger
	config    *Config
}

// NewServer creates the HTTP server. The indexer and provider source may be
// nil, in which case the corresponding endpoints return 503.
func NewServer(reviews ReviewService, indexer IndexService, providers ProviderStatusSource, logger *zap.Logger, cfg *Config) (*Server, error) {
	if reviews == nil {
		return nil, fmt.Errorf("review service cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "127.0.0.1", Port: 8941}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	metrics := NewMetrics(logger)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(metrics.Middleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:      e,
		reviews:   reviews,
		indexer:   indexer,
		providers: providers,
		metrics:   metrics,
		logger:    logger,
		config:    cfg,
	}
	s.registerRoutes()

	return s, nil
}

// WithPoster enables posting reviews back to pull requests.
func (s *Server) WithPoster(poster ReviewPoster) *Server {
	s.poster = poster
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/reviews", s.handleCreateReview)
	v1.GET("/providers", s.handleProviders)
	v1.POST("/index", s.handleIndex)
	v1.POST("/index/remove", s.handleIndexRemove)
}

// ReviewRequest is the request body for POST /api/v1/reviews. Either Diff
// (raw unified diff text) or Hunks must be provided.
type ReviewRequest struct {
	Repo        string        `json:"repo,omitempty"`
	PRNumber    int           `json:"pr_number,omitempty"`
	Title       string        `json:"title,omitempty"`
	Description string        `json:"description,omitempty"`
	Diff        string        `json:"diff,omitempty"`
	Hunks       []review.Hunk `json:"hunks,omitempty"`
	Providers   []string      `json:"providers,omitempty"`
}

// IndexRequest is the request body for POST /api/v1/index.
type IndexRequest struct {
	Fragments []index.CodeFragment `json:"fragments"`
}

// IndexRemoveRequest is the request body for POST /api/v1/index/remove.
type IndexRemoveRequest struct {
	File string `json:"file"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// ProvidersResponse is the response body for GET /api/v1/providers.
type ProvidersResponse struct {
	Providers []provider.Status `json:"providers"`
}

// ErrorResponse is the body of failed requests.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Reasons map[string]string `json:"reasons,omitempty"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleCreateReview(c echo.Context) error {
	var req ReviewRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid review request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	hunks := req.Hunks
	if req.Diff != "" {
		parsed, err := diff.ParseHunks(req.Diff)
		if err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("parsing diff: %v", err)})
		}
		hunks = parsed
	}
	if len(hunks) == 0 {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "either diff or hunks is required"})
	}

	result, err := s.reviews.GenerateReview(c.Request().Context(), review.Request{
		Repo:        req.Repo,
		Title:       req.Title,
		Description: req.Description,
		Hunks:       hunks,
		Providers:   req.Providers,
	})
	if err != nil {
		var allFailed *coordinator.AllProvidersFailedError
		switch {
		case errors.As(err, &allFailed):
			return c.JSON(http.StatusBadGateway, ErrorResponse{
				Error:   "all providers failed",
				Reasons: allFailed.Reasons,
			})
		case errors.Is(err, reviewer.ErrEmptyRequest), errors.Is(err, provider.ErrUnknownProvider):
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		default:
			s.logger.Error("review failed", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
		}
	}

	if s.poster != nil && req.Repo != "" && req.PRNumber > 0 {
		// Posting is best effort: the client still gets its review when
		// GitHub is down.
		if err := s.poster.Post(c.Request().Context(), req.Repo, req.PRNumber, result); err != nil {
			s.logger.Error("posting review to pull request failed",
				zap.String("repo", req.Repo),
				zap.Int("pr", req.PRNumber),
				zap.Error(err),
			)
		}
	}

	s.metrics.RecordFindings(c, result.Risk, len(result.Findings))
	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleProviders(c echo.Context) error {
	if s.providers == nil {
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "provider registry not configured"})
	}

	if c.QueryParam("check") == "true" {
		s.providers.CheckAll(c.Request().Context())
	}
	return c.JSON(http.StatusOK, ProvidersResponse{Providers: s.providers.Snapshot()})
}

func (s *Server) handleIndex(c echo.Context) error {
	if s.indexer == nil {
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "indexing not configured"})
	}

	var req IndexRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	result, err := s.indexer.Index(c.Request().Context(), req.Fragments)
	if err != nil {
		if errors.Is(err, index.ErrNoFragments) {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		}
		s.logger.Error("indexing failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleIndexRemove(c echo.Context) error {
	if s.indexer == nil {
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "indexing not configured"})
	}

	var req IndexRemoveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.File == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "file field is required"})
	}

	if err := s.indexer.Remove(c.Request().Context(), req.File); err != nil {
		s.logger.Error("index removal failed", zap.String("file", req.File), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
	return c.NoContent(http.StatusNoContent)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Handler exposes the routing tree for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
