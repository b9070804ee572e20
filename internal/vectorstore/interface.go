// Package vectorstore defines the vector storage abstraction and its backends.
package vectorstore

import (
	"context"
	"errors"
)

// Sentinel errors for vector store operations.
var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyDocuments indicates empty or nil documents.
	ErrEmptyDocuments = errors.New("empty or nil documents")

	// ErrConnectionFailed indicates the backend could not be reached.
	ErrConnectionFailed = errors.New("failed to connect to vector store")

	// ErrDimensionMismatch indicates a vector whose dimension does not
	// match the collection's configured size.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Metadata keys written by the indexer and read back during retrieval.
const (
	MetaFile             = "file"
	MetaStartLine        = "start_line"
	MetaEndLine          = "end_line"
	MetaCommit           = "commit"
	MetaIndexedAt        = "indexed_at"
	MetaEmbeddingVersion = "embedding_version"
)

// Store is the capability set the review core needs from a vector store:
// insert-by-key, nearest-neighbor query, and delete-by-key. Concrete engines
// are swappable behind this interface.
//
// Vectors are computed by the caller; the store never embeds text itself.
// Upsert is atomic per key: a document's vector and metadata appear together
// or not at all. No cross-document transaction is provided.
type Store interface {
	// Upsert inserts documents keyed by their IDs, replacing any existing
	// document with the same ID.
	Upsert(ctx context.Context, docs []Document) error

	// Query returns up to k nearest neighbors of the given vector,
	// ordered by descending similarity score.
	Query(ctx context.Context, vector []float32, k int) ([]SearchResult, error)

	// DeleteByKey removes documents by their IDs. Missing IDs are not an error.
	DeleteByKey(ctx context.Context, ids []string) error

	// DeleteByFile removes every document whose file metadata matches path.
	// Used to retire a file's fragments on deletion or full rewrite.
	DeleteByFile(ctx context.Context, path string) error

	// Count returns the number of stored documents.
	Count(ctx context.Context) (int, error)

	// Close releases backend resources.
	Close() error
}
