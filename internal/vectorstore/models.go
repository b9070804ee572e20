package vectorstore

// Document is a stored vector with its source text and metadata.
type Document struct {
	// ID is the unique key, derived from the fragment content hash.
	ID string

	// Content is the source text the vector was computed from.
	Content string

	// Embedding is the precomputed vector. Its dimension must match the
	// store's configured vector size.
	Embedding []float32

	// Metadata carries fragment attributes (file, line range, commit,
	// embedding version). See the Meta* constants.
	Metadata map[string]string
}

// SearchResult is one nearest-neighbor match.
type SearchResult struct {
	// ID is the matched document's key.
	ID string

	// Content is the matched document's text.
	Content string

	// Score is the similarity score; higher is more similar.
	Score float32

	// Metadata is the matched document's metadata.
	Metadata map[string]string
}
