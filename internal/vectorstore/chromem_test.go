package vectorstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/konradekk14/llm-code-review-assistant/internal/vectorstore"
)

const testVectorSize = 8

// testVector returns a normalized vector seeded by a text hash. chromem
// computes cosine similarity, so vectors must be unit length.
func testVector(text string) []float32 {
	v := make([]float32, testVectorSize)
	hash := 0
	for _, c := range text {
		hash = (hash*31 + int(c)) % 1000
	}
	var sumSq float32
	for i := range v {
		v[i] = float32((hash+i)%100+1) / 100.0
		sumSq += v[i] * v[i]
	}
	norm := sqrt32(sumSq)
	for i := range v {
		v[i] /= norm
	}
	return v
}

func sqrt32(x float32) float32 {
	z := x / 2
	for i := 0; i < 10; i++ {
		z = (z + x/z) / 2
	}
	return z
}

func newTestStore(t *testing.T) *vectorstore.ChromemStore {
	t.Helper()

	config := vectorstore.ChromemConfig{
		Path:       t.TempDir(),
		Collection: "test_fragments",
		VectorSize: testVectorSize,
	}

	store, err := vectorstore.NewChromemStore(config, zap.NewNop())
	require.NoError(t, err)
	return store
}

func testDoc(id, content, file string) vectorstore.Document {
	return vectorstore.Document{
		ID:        id,
		Content:   content,
		Embedding: testVector(content),
		Metadata:  map[string]string{vectorstore.MetaFile: file},
	}
}

func TestChromemConfig_ApplyDefaults(t *testing.T) {
	config := vectorstore.ChromemConfig{}
	config.ApplyDefaults()

	assert.Equal(t, "~/.config/reviewd/vectorstore", config.Path)
	assert.Equal(t, "code_fragments", config.Collection)
	assert.Equal(t, 384, config.VectorSize)
}

func TestChromemStore_UpsertAndQuery(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	docs := []vectorstore.Document{
		testDoc("h1", "func ratio(a, b int) int { return a / b }", "utils.go"),
		testDoc("h2", "type Config struct { Path string }", "config.go"),
	}
	require.NoError(t, store.Upsert(ctx, docs))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	results, err := store.Query(ctx, testVector("func ratio(a, b int) int { return a / b }"), 2)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	assert.Equal(t, "h1", results[0].ID)
	assert.Equal(t, "utils.go", results[0].Metadata[vectorstore.MetaFile])

	// Scores must be non-increasing.
	for i := 1; i < len(results); i++ {
		assert.LessOrEqual(t, results[i].Score, results[i-1].Score)
	}
}

func TestChromemStore_UpsertIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	doc := testDoc("h1", "some content", "a.go")

	require.NoError(t, store.Upsert(ctx, []vectorstore.Document{doc}))
	require.NoError(t, store.Upsert(ctx, []vectorstore.Document{doc}))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestChromemStore_UpsertValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.Upsert(ctx, nil)
	assert.ErrorIs(t, err, vectorstore.ErrEmptyDocuments)

	err = store.Upsert(ctx, []vectorstore.Document{{
		ID:        "bad",
		Content:   "x",
		Embedding: []float32{1, 0}, // wrong dimension
	}})
	assert.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)
}

func TestChromemStore_QueryEmptyStore(t *testing.T) {
	store := newTestStore(t)

	results, err := store.Query(context.Background(), testVector("anything"), 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestChromemStore_QueryCapsK(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, []vectorstore.Document{
		testDoc("h1", "alpha", "a.go"),
	}))

	// k larger than document count must not error.
	results, err := store.Query(ctx, testVector("alpha"), 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestChromemStore_QueryDimensionMismatch(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Query(context.Background(), []float32{1, 0}, 5)
	assert.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)
}

func TestChromemStore_DeleteByKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, []vectorstore.Document{
		testDoc("h1", "alpha", "a.go"),
		testDoc("h2", "beta", "b.go"),
	}))

	require.NoError(t, store.DeleteByKey(ctx, []string{"h1"}))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Deleting nothing is a no-op.
	assert.NoError(t, store.DeleteByKey(ctx, nil))
}

func TestChromemStore_DeleteByFile(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, []vectorstore.Document{
		testDoc("h1", "alpha", "a.go"),
		testDoc("h2", "beta", "a.go"),
		testDoc("h3", "gamma", "b.go"),
	}))

	require.NoError(t, store.DeleteByFile(ctx, "a.go"))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	results, err := store.Query(ctx, testVector("gamma"), 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "h3", results[0].ID)
}

func TestChromemStore_Persistence(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	config := vectorstore.ChromemConfig{
		Path:       dir,
		Collection: "test_fragments",
		VectorSize: testVectorSize,
	}

	store, err := vectorstore.NewChromemStore(config, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, store.Upsert(ctx, []vectorstore.Document{
		testDoc("h1", "persisted", "a.go"),
	}))
	require.NoError(t, store.Close())

	reopened, err := vectorstore.NewChromemStore(config, zap.NewNop())
	require.NoError(t, err)

	count, err := reopened.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
