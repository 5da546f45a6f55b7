package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEntries() []VectorEntry {
	return []VectorEntry{
		{ID: "a", Document: Document{Content: "alpha", Metadata: map[string]string{MetaDocID: "a"}}, Vector: []float32{1, 0, 0}},
		{ID: "b", Document: Document{Content: "beta", Metadata: map[string]string{MetaDocID: "b"}}, Vector: []float32{0.8, 0.6, 0}},
		{ID: "c", Document: Document{Content: "gamma", Metadata: map[string]string{MetaDocID: "c"}}, Vector: []float32{0, 0, 1}},
	}
}

func TestHNSWIndex_EmptyQueryReturnsEmpty(t *testing.T) {
	idx := NewHNSWIndex(HNSWConfig{Dimensions: 3})

	hits, err := idx.Query(context.Background(), []float32{1, 0, 0}, 5)

	require.NoError(t, err)
	assert.NotNil(t, hits)
	assert.Empty(t, hits)
	n, err := idx.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestHNSWIndex_QueryOrdersByDistance(t *testing.T) {
	// Given: three documents
	ctx := context.Background()
	idx := NewHNSWIndex(HNSWConfig{Dimensions: 3})
	require.NoError(t, idx.Add(ctx, sampleEntries()))

	// When: querying with the first document's direction (unnormalized)
	hits, err := idx.Query(ctx, []float32{2, 0, 0}, 3)

	// Then: hits come back by ascending cosine distance
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "alpha", hits[0].Document.Content)
	assert.InDelta(t, 0.0, hits[0].Distance, 1e-6)
	assert.Equal(t, "beta", hits[1].Document.Content)
	assert.InDelta(t, 0.2, hits[1].Distance, 1e-6)
	assert.Equal(t, "gamma", hits[2].Document.Content)
	assert.InDelta(t, 1.0, hits[2].Distance, 1e-6)
}

func TestHNSWIndex_QueryRespectsK(t *testing.T) {
	ctx := context.Background()
	idx := NewHNSWIndex(HNSWConfig{Dimensions: 3})
	require.NoError(t, idx.Add(ctx, sampleEntries()))

	hits, err := idx.Query(ctx, []float32{1, 0, 0}, 1)

	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestHNSWIndex_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	idx := NewHNSWIndex(HNSWConfig{Dimensions: 3})
	require.NoError(t, idx.Add(ctx, sampleEntries()))

	_, err := idx.Query(ctx, []float32{1, 0}, 1)
	assert.ErrorAs(t, err, &ErrDimensionMismatch{})

	err = idx.Add(ctx, []VectorEntry{{ID: "d", Vector: []float32{1}}})
	assert.ErrorAs(t, err, &ErrDimensionMismatch{})
}

func TestHNSWIndex_ReAddReplacesDocument(t *testing.T) {
	ctx := context.Background()
	idx := NewHNSWIndex(HNSWConfig{Dimensions: 3})
	require.NoError(t, idx.Add(ctx, sampleEntries()))

	require.NoError(t, idx.Add(ctx, []VectorEntry{
		{ID: "a", Document: Document{Content: "alpha v2"}, Vector: []float32{1, 0, 0}},
	}))

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	hits, err := idx.Query(ctx, []float32{1, 0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "alpha v2", hits[0].Document.Content)
	for _, h := range hits {
		assert.NotEqual(t, "alpha", h.Document.Content)
	}
}

func TestHNSWIndex_SaveLoadRoundTrip(t *testing.T) {
	// Given: a saved index
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vectors.hnsw")
	idx := NewHNSWIndex(HNSWConfig{Dimensions: 3})
	require.NoError(t, idx.Add(ctx, sampleEntries()))
	require.NoError(t, idx.Save(path))
	require.NoError(t, idx.Close())

	// When: opening it again
	loaded, err := OpenHNSWIndex(path)
	require.NoError(t, err)
	defer loaded.Close()

	// Then: documents and metadata survive
	n, err := loaded.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	hits, err := loaded.Query(ctx, []float32{0, 0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "gamma", hits[0].Document.Content)
	assert.Equal(t, "c", hits[0].Document.Meta(MetaDocID))
}

func TestHNSWIndex_Documents(t *testing.T) {
	ctx := context.Background()
	idx := NewHNSWIndex(HNSWConfig{})
	require.NoError(t, idx.Add(ctx, sampleEntries()))

	got := idx.Documents()

	require.Len(t, got, 3)
	assert.Equal(t, "alpha", got[0].Content)
	assert.Equal(t, "gamma", got[2].Content)
}

func TestHNSWIndex_Closed(t *testing.T) {
	idx := NewHNSWIndex(HNSWConfig{Dimensions: 3})
	require.NoError(t, idx.Close())

	_, err := idx.Query(context.Background(), []float32{1, 0, 0}, 1)
	assert.ErrorIs(t, err, ErrIndexClosed)
	_, err = idx.Count(context.Background())
	assert.ErrorIs(t, err, ErrIndexClosed)
}

func TestOpenHNSWIndex_MissingFile(t *testing.T) {
	_, err := OpenHNSWIndex(filepath.Join(t.TempDir(), "missing.hnsw"))
	assert.Error(t, err)
}
