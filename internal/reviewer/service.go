// Package reviewer orchestrates the full review pipeline: context
// retrieval, provider dispatch and result assembly.
package reviewer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/konradekk14/llm-code-review-assistant/internal/coordinator"
	"github.com/konradekk14/llm-code-review-assistant/internal/provider"
	"github.com/konradekk14/llm-code-review-assistant/internal/retrieval"
	"github.com/konradekk14/llm-code-review-assistant/internal/review"
)

// ErrEmptyRequest indicates a review request with no hunks.
var ErrEmptyRequest = errors.New("review request has no hunks")

// ContextRetriever is the slice of the retrieval API the reviewer needs.
type ContextRetriever interface {
	Retrieve(ctx context.Context, region string) (*retrieval.Result, error)
}

// Dispatcher is the slice of the coordinator API the reviewer needs.
type Dispatcher interface {
	Review(ctx context.Context, req provider.Request) (*coordinator.Outcome, error)
}

// Service runs review requests end to end.
type Service struct {
	retriever   ContextRetriever
	coordinator Dispatcher
	logger      *zap.Logger
}

// New creates a reviewer service. The retriever may be nil, in which case
// reviews run without indexed context.
func New(retriever ContextRetriever, dispatcher Dispatcher, logger *zap.Logger) (*Service, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("coordinator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		retriever:   retriever,
		coordinator: dispatcher,
		logger:      logger,
	}, nil
}

// GenerateReview runs one review request through the pipeline and returns
// the aggregated result. Retrieval failures degrade the review to run
// without context; only total provider failure is an error.
func (s *Service) GenerateReview(ctx context.Context, req review.Request) (*review.AggregatedReview, error) {
	tracer := otel.Tracer("reviewd.reviewer")
	ctx, span := tracer.Start(ctx, "reviewer.GenerateReview")
	defer span.End()

	if len(req.Hunks) == 0 {
		span.SetStatus(codes.Error, "empty request")
		return nil, ErrEmptyRequest
	}

	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	span.SetAttributes(
		attribute.String("request_id", req.ID),
		attribute.Int("hunks", len(req.Hunks)),
	)

	logger := s.logger.With(zap.String("request_id", req.ID))

	matches := s.retrieveContext(ctx, logger, req)

	outcome, err := s.coordinator.Review(ctx, provider.Request{
		Review:  req,
		Context: matches,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dispatch failed")
		return nil, fmt.Errorf("dispatching review %s: %w", req.ID, err)
	}

	aggregated := review.Assemble(req.ID, outcome.Findings, outcome.Responses)

	logger.Info("review completed",
		zap.Int("findings", len(aggregated.Findings)),
		zap.String("risk", aggregated.Risk),
		zap.Int("providers", len(aggregated.Contributors)),
	)

	span.SetAttributes(attribute.Int("findings", len(aggregated.Findings)))
	span.SetStatus(codes.Ok, "")
	return aggregated, nil
}

// retrieveContext collects indexed fragments related to the changed hunks.
// The index being unavailable or stale never blocks a review; it just runs
// without context.
func (s *Service) retrieveContext(ctx context.Context, logger *zap.Logger, req review.Request) []retrieval.Match {
	if s.retriever == nil {
		return nil
	}

	result, err := s.retriever.Retrieve(ctx, queryRegion(req))
	if err != nil {
		logger.Error("context retrieval unavailable, reviewing without context", zap.Error(err))
		return nil
	}
	if result.Rejected > 0 {
		logger.Error("index holds fragments from a different embedding model, re-index needed",
			zap.Int("rejected", result.Rejected),
		)
	}

	logger.Debug("retrieved review context", zap.Int("matches", len(result.Matches)))
	return result.Matches
}

// queryRegion condenses the request's changed lines into one retrieval
// query.
func queryRegion(req review.Request) string {
	var sb strings.Builder
	for _, h := range req.Hunks {
		sb.WriteString(h.File)
		sb.WriteByte('\n')
		for _, line := range h.Added {
			sb.WriteString(line)
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}
