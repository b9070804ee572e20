package vectorstore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/konradekk14/llm-code-review-assistant/internal/vectorstore"
)

func TestNewStore_DefaultsToChromem(t *testing.T) {
	cfg := vectorstore.Config{
		Chromem: vectorstore.ChromemConfig{
			Path:       t.TempDir(),
			VectorSize: testVectorSize,
		},
	}

	store, err := vectorstore.NewStore(cfg, zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	assert.IsType(t, &vectorstore.ChromemStore{}, store)
}

func TestNewStore_UnsupportedProvider(t *testing.T) {
	_, err := vectorstore.NewStore(vectorstore.Config{Provider: "pinecone"}, zap.NewNop())
	require.Error(t, err)
	assert.ErrorIs(t, err, vectorstore.ErrInvalidConfig)
}
