// Package retrieval finds indexed code fragments relevant to a code region.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/konradekk14/llm-code-review-assistant/internal/embeddings"
	"github.com/konradekk14/llm-code-review-assistant/internal/vectorstore"
)

var (
	// ErrEmptyQuery indicates an empty query region.
	ErrEmptyQuery = errors.New("empty query region")

	// ErrStoreUnavailable indicates the vector store could not serve the query.
	ErrStoreUnavailable = errors.New("vector store unavailable")
)

// Config holds retrieval tuning parameters.
type Config struct {
	// TopK is the maximum number of fragments returned per query.
	TopK int `koanf:"top_k"`

	// MinSimilarity is the score threshold below which fragments are
	// discarded as noise. Range [0, 1].
	MinSimilarity float64 `koanf:"min_similarity"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.TopK == 0 {
		c.TopK = 5
	}
	if c.MinSimilarity == 0 {
		c.MinSimilarity = 0.35
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.TopK < 1 {
		return fmt.Errorf("top_k must be at least 1, got %d", c.TopK)
	}
	if c.MinSimilarity < 0 || c.MinSimilarity > 1 {
		return fmt.Errorf("min_similarity must be in [0, 1], got %f", c.MinSimilarity)
	}
	return nil
}

// Match is a retrieved fragment with its similarity score.
type Match struct {
	// File is the fragment's source file path.
	File string `json:"file"`

	// StartLine and EndLine delimit the fragment within the file.
	StartLine int `json:"start_line"`
	EndLine   int `json:"end_line"`

	// Content is the fragment's source text.
	Content string `json:"content"`

	// Commit is the commit reference the fragment was indexed from.
	Commit string `json:"commit,omitempty"`

	// Score is the cosine similarity to the query region, in [0, 1].
	Score float32 `json:"score"`

	indexedAt int64
}

// Result is the outcome of one retrieval query.
type Result struct {
	// Matches holds the surviving fragments, ordered by score descending.
	// Ties break toward the most recently indexed fragment.
	Matches []Match `json:"matches"`

	// Rejected counts fragments dropped because their stored embedding
	// version does not match the active embedding model. A non-zero value
	// means the index is partially stale and needs re-indexing.
	Rejected int `json:"rejected,omitempty"`
}

// Retriever queries the vector store for fragments similar to a code region.
type Retriever struct {
	store    vectorstore.Store
	embedder embeddings.Embedder
	config   Config
	logger   *zap.Logger
}

// New creates a Retriever. The embedder must be the same one used for
// indexing, otherwise every stored fragment is rejected as version-stale.
func New(store vectorstore.Store, embedder embeddings.Embedder, config Config, logger *zap.Logger) (*Retriever, error) {
	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Retriever{
		store:    store,
		embedder: embedder,
		config:   config,
		logger:   logger,
	}, nil
}

// Retrieve embeds the given code region and returns the most similar indexed
// fragments. Fragments below the similarity threshold or stored under a
// different embedding version are dropped.
func (r *Retriever) Retrieve(ctx context.Context, region string) (*Result, error) {
	tracer := otel.Tracer("reviewd.retrieval")
	ctx, span := tracer.Start(ctx, "retrieval.Retrieve")
	defer span.End()

	if region == "" {
		span.SetStatus(codes.Error, "empty query")
		return nil, ErrEmptyQuery
	}

	vector, err := r.embedder.EmbedQuery(ctx, region)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query embedding failed")
		return nil, fmt.Errorf("embedding query region: %w", err)
	}

	// Over-fetch so threshold and version filtering still leave TopK
	// candidates when possible.
	raw, err := r.store.Query(ctx, vector, r.config.TopK*2)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store query failed")
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	version := r.embedder.Version()
	result := &Result{Matches: make([]Match, 0, len(raw))}

	for _, sr := range raw {
		if v := sr.Metadata[vectorstore.MetaEmbeddingVersion]; v != version {
			result.Rejected++
			r.logger.Warn("rejecting fragment with stale embedding version",
				zap.String("id", sr.ID),
				zap.String("stored_version", v),
				zap.String("active_version", version),
			)
			continue
		}
		if float64(sr.Score) < r.config.MinSimilarity {
			continue
		}
		result.Matches = append(result.Matches, matchFromResult(sr))
	}

	sort.SliceStable(result.Matches, func(i, j int) bool {
		a, b := result.Matches[i], result.Matches[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.indexedAt > b.indexedAt
	})

	if len(result.Matches) > r.config.TopK {
		result.Matches = result.Matches[:r.config.TopK]
	}

	span.SetAttributes(
		attribute.Int("matches", len(result.Matches)),
		attribute.Int("rejected", result.Rejected),
	)
	span.SetStatus(codes.Ok, "")

	return result, nil
}

func matchFromResult(sr vectorstore.SearchResult) Match {
	start, _ := strconv.Atoi(sr.Metadata[vectorstore.MetaStartLine])
	end, _ := strconv.Atoi(sr.Metadata[vectorstore.MetaEndLine])
	indexedAt, _ := strconv.ParseInt(sr.Metadata[vectorstore.MetaIndexedAt], 10, 64)

	return Match{
		File:      sr.Metadata[vectorstore.MetaFile],
		StartLine: start,
		EndLine:   end,
		Content:   sr.Content,
		Commit:    sr.Metadata[vectorstore.MetaCommit],
		Score:     sr.Score,
		indexedAt: indexedAt,
	}
}
