// Package index turns source-code fragments into stored embedding vectors.
package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/konradekk14/llm-code-review-assistant/internal/embeddings"
	"github.com/konradekk14/llm-code-review-assistant/internal/vectorstore"
)

// timeNow is stubbed in tests.
var timeNow = time.Now

// ErrNoFragments indicates an empty indexing batch.
var ErrNoFragments = errors.New("no fragments to index")

// CodeFragment is a unit of source code to be embedded and stored.
// Fragments are immutable once indexed: when a file changes, new fragments
// with new content hashes supersede the old ones, which are retired via
// Remove rather than mutated.
type CodeFragment struct {
	// File is the source file path.
	File string `json:"file"`

	// StartLine and EndLine delimit the fragment within the file (1-based,
	// inclusive).
	StartLine int `json:"start_line"`
	EndLine   int `json:"end_line"`

	// Content is the fragment's source text.
	Content string `json:"content"`

	// Commit is the commit reference the fragment was taken from. Optional.
	Commit string `json:"commit,omitempty"`
}

// Hash returns the fragment's content hash, which doubles as its storage
// key. The file path participates so identical snippets in different files
// stay distinct.
func (f CodeFragment) Hash() string {
	h := sha256.New()
	h.Write([]byte(f.File))
	h.Write([]byte{0})
	h.Write([]byte(f.Content))
	return hex.EncodeToString(h.Sum(nil))
}

// BatchResult summarizes one indexing batch.
type BatchResult struct {
	// Indexed is the number of fragments embedded and stored.
	Indexed int

	// Skipped is the number of fragments whose content hash was already
	// indexed (no-op re-index).
	Skipped int

	// Failed is the number of fragments whose embedding computation failed.
	// Failed fragments are logged and skipped; no partial vector is written.
	Failed int
}

// Indexer computes embeddings for code fragments and stores them keyed by
// content hash.
type Indexer struct {
	store    vectorstore.Store
	embedder embeddings.Embedder
	logger   *zap.Logger

	// seen maps already-indexed content hashes to their file path, so an
	// unchanged fragment is skipped without recomputing its embedding.
	mu   sync.Mutex
	seen map[string]string
}

// New creates an Indexer backed by the given store and embedding function.
func New(store vectorstore.Store, embedder embeddings.Embedder, logger *zap.Logger) *Indexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{
		store:    store,
		embedder: embedder,
		logger:   logger,
		seen:     make(map[string]string),
	}
}

// Index embeds and stores a batch of fragments.
//
// Indexing is idempotent per content hash: re-indexing an unchanged fragment
// is a no-op. Embedding failure for one fragment is reported, logged and
// skipped without aborting the batch or writing partial state. Only a store
// failure aborts the batch.
func (ix *Indexer) Index(ctx context.Context, fragments []CodeFragment) (*BatchResult, error) {
	if len(fragments) == 0 {
		return nil, ErrNoFragments
	}

	result := &BatchResult{}

	// Drop unchanged fragments before touching the embedder.
	pending := make([]CodeFragment, 0, len(fragments))
	hashes := make([]string, 0, len(fragments))
	ix.mu.Lock()
	for _, f := range fragments {
		h := f.Hash()
		if _, ok := ix.seen[h]; ok {
			result.Skipped++
			continue
		}
		pending = append(pending, f)
		hashes = append(hashes, h)
	}
	ix.mu.Unlock()

	if len(pending) == 0 {
		return result, nil
	}

	vectors, failed := ix.embed(ctx, pending)

	now := strconv.FormatInt(timeNow().Unix(), 10)
	version := ix.embedder.Version()

	docs := make([]vectorstore.Document, 0, len(pending))
	indexedHashes := make([]string, 0, len(pending))
	for i, f := range pending {
		if failed[i] {
			result.Failed++
			continue
		}
		docs = append(docs, vectorstore.Document{
			ID:        hashes[i],
			Content:   f.Content,
			Embedding: vectors[i],
			Metadata: map[string]string{
				vectorstore.MetaFile:             f.File,
				vectorstore.MetaStartLine:        strconv.Itoa(f.StartLine),
				vectorstore.MetaEndLine:          strconv.Itoa(f.EndLine),
				vectorstore.MetaCommit:           f.Commit,
				vectorstore.MetaIndexedAt:        now,
				vectorstore.MetaEmbeddingVersion: version,
			},
		})
		indexedHashes = append(indexedHashes, hashes[i])
	}

	if len(docs) > 0 {
		if err := ix.store.Upsert(ctx, docs); err != nil {
			return nil, fmt.Errorf("storing fragments: %w", err)
		}

		ix.mu.Lock()
		for i, h := range indexedHashes {
			ix.seen[h] = docs[i].Metadata[vectorstore.MetaFile]
		}
		ix.mu.Unlock()
	}

	result.Indexed = len(docs)

	ix.logger.Debug("indexed fragment batch",
		zap.Int("indexed", result.Indexed),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
	)

	return result, nil
}

// embed computes vectors for the batch, falling back to per-fragment
// embedding when the batch call fails so a single bad fragment cannot
// poison the rest.
func (ix *Indexer) embed(ctx context.Context, fragments []CodeFragment) ([][]float32, []bool) {
	texts := make([]string, len(fragments))
	for i, f := range fragments {
		texts[i] = f.Content
	}

	failed := make([]bool, len(fragments))

	vectors, err := ix.embedder.EmbedDocuments(ctx, texts)
	if err == nil && len(vectors) == len(fragments) {
		return vectors, failed
	}

	ix.logger.Warn("batch embedding failed, retrying per fragment", zap.Error(err))

	vectors = make([][]float32, len(fragments))
	for i, f := range fragments {
		v, err := ix.embedder.EmbedQuery(ctx, f.Content)
		if err != nil {
			failed[i] = true
			ix.logger.Warn("skipping fragment, embedding failed",
				zap.String("file", f.File),
				zap.Int("start_line", f.StartLine),
				zap.Error(err),
			)
			continue
		}
		vectors[i] = v
	}

	return vectors, failed
}

// Remove retires all fragments belonging to a file path. Used on file
// deletion or full rewrite.
func (ix *Indexer) Remove(ctx context.Context, file string) error {
	if file == "" {
		return fmt.Errorf("file path cannot be empty")
	}

	if err := ix.store.DeleteByFile(ctx, file); err != nil {
		return fmt.Errorf("removing fragments for %s: %w", file, err)
	}

	ix.mu.Lock()
	for h, f := range ix.seen {
		if f == file {
			delete(ix.seen, h)
		}
	}
	ix.mu.Unlock()

	ix.logger.Info("retired file from index", zap.String("file", file))
	return nil
}
