package embed

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vectorMagnitude(v []float32) float64 {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}
	return math.Sqrt(sum)
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// ============================================================================
// Basic embedding
// ============================================================================

func TestStaticEmbedder_Embed_ReturnsNormalizedVector(t *testing.T) {
	// Given: a static embedder
	embedder := NewStaticEmbedder()

	// When: I embed a sentence
	embedding, err := embedder.Embed(context.Background(), "hybrid retrieval with rank fusion")

	// Then: a unit vector of StaticDimensions is returned
	require.NoError(t, err)
	assert.Len(t, embedding, StaticDimensions)
	assert.InDelta(t, 1.0, vectorMagnitude(embedding), 0.001)
}

func TestStaticEmbedder_CustomDimensions(t *testing.T) {
	embedder := NewStaticEmbedderWithDimensions(64)

	embedding, err := embedder.Embed(context.Background(), "query")

	require.NoError(t, err)
	assert.Len(t, embedding, 64)
	assert.Equal(t, 64, embedder.Dimensions())
}

func TestStaticEmbedder_Embed_IsDeterministicAcrossInstances(t *testing.T) {
	text := "getUserById returns the user record"

	emb1, err1 := NewStaticEmbedder().Embed(context.Background(), text)
	emb2, err2 := NewStaticEmbedder().Embed(context.Background(), text)

	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, emb1, emb2)
}

func TestStaticEmbedder_SimilarTextsScoreHigher(t *testing.T) {
	// Given: two related texts and one unrelated
	embedder := NewStaticEmbedder()
	ctx := context.Background()
	a, _ := embedder.Embed(ctx, "reciprocal rank fusion combines ranked lists")
	b, _ := embedder.Embed(ctx, "rank fusion of ranked result lists")
	c, _ := embedder.Embed(ctx, "banana bread recipe with walnuts")

	// Then: the related pair is closer
	assert.Greater(t, cosineSimilarity(a, b), cosineSimilarity(a, c))
}

func TestStaticEmbedder_Embed_BlankInput_ReturnsZeroVector(t *testing.T) {
	embedder := NewStaticEmbedder()

	for _, text := range []string{"", "   \n\t"} {
		embedding, err := embedder.Embed(context.Background(), text)
		require.NoError(t, err)
		assert.Len(t, embedding, StaticDimensions)
		assert.Zero(t, vectorMagnitude(embedding))
	}
}

func TestStaticEmbedder_Embed_UnicodeText(t *testing.T) {
	embedding, err := NewStaticEmbedder().Embed(context.Background(), "混合检索 排名融合")

	require.NoError(t, err)
	assert.InDelta(t, 1.0, vectorMagnitude(embedding), 0.001)
}

// ============================================================================
// Batch and lifecycle
// ============================================================================

func TestStaticEmbedder_EmbedBatch_PreservesOrder(t *testing.T) {
	embedder := NewStaticEmbedder()
	ctx := context.Background()
	texts := []string{"first", "", "third"}

	out, err := embedder.EmbedBatch(ctx, texts)

	require.NoError(t, err)
	require.Len(t, out, 3)
	single, _ := embedder.Embed(ctx, "third")
	assert.Equal(t, single, out[2])
	assert.Zero(t, vectorMagnitude(out[1]))
}

func TestStaticEmbedder_Close(t *testing.T) {
	// Given: a closed embedder
	embedder := NewStaticEmbedder()
	require.NoError(t, embedder.Close())
	require.NoError(t, embedder.Close())

	// Then: it is unavailable and refuses work
	assert.False(t, embedder.Available(context.Background()))
	_, err := embedder.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, ErrEmbedderClosed)
	assert.Equal(t, "static", embedder.ModelName())
}
