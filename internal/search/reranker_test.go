package search

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

func fusedFixture() []FusedResult {
	return []FusedResult{
		{Document: doc("A", "passage a"), RRFScore: 0.03, FusionRank: 1, Sources: []Source{SourceBM25, SourceDense}},
		{Document: doc("B", "passage b"), RRFScore: 0.02, FusionRank: 2, Sources: []Source{SourceBM25}},
		{Document: doc("C", "passage c"), RRFScore: 0.01, FusionRank: 3, Sources: []Source{SourceDense}},
	}
}

// =============================================================================
// Ordering and truncation
// =============================================================================

func TestReranker_Rerank_SortsAndTruncates(t *testing.T) {
	// Given: cross-encoder scores [0.2, 0.9, 0.5] and top_n = 2
	enc := &fakeCrossEncoder{scores: []float64{0.2, 0.9, 0.5}}
	r := NewReranker(enc)

	// When: reranking
	out := r.Rerank(context.Background(), "query", fusedFixture(), 2)

	// Then: the 0.9 document then the 0.5 document
	require.Len(t, out, 2)
	assert.Equal(t, []string{"B", "C"}, rerankedIDs(out))
	assert.InDelta(t, 0.9, out[0].CrossEncoderScore, 1e-12)
	assert.InDelta(t, 0.5, out[1].CrossEncoderScore, 1e-12)
	assert.Equal(t, 1, out[0].FinalRank)
	assert.Equal(t, 2, out[1].FinalRank)

	// Fusion metadata carried through
	assert.Equal(t, 2, out[0].FusionRank)
	assert.InDelta(t, 0.02, out[0].RRFScore, 1e-12)

	// One batched call with every passage in order
	assert.Equal(t, int32(1), enc.calls.Load())
	assert.Equal(t, []string{"passage a", "passage b", "passage c"}, enc.passages)
}

func TestReranker_Rerank_EmptyInputSkipsModel(t *testing.T) {
	enc := &fakeCrossEncoder{}
	r := NewReranker(enc)

	out := r.Rerank(context.Background(), "query", []FusedResult{}, 5)

	assert.NotNil(t, out)
	assert.Empty(t, out)
	assert.Zero(t, enc.calls.Load())
}

func TestReranker_Rerank_DefaultTopN(t *testing.T) {
	enc := &fakeCrossEncoder{scores: []float64{0.1, 0.2, 0.3}}
	r := NewReranker(enc, WithDefaultTopN(2))

	out := r.Rerank(context.Background(), "query", fusedFixture(), 0)

	assert.Equal(t, []string{"C", "B"}, rerankedIDs(out))
}

func TestReranker_Rerank_TopNLargerThanInput(t *testing.T) {
	enc := &fakeCrossEncoder{scores: []float64{0.1, 0.2, 0.3}}
	r := NewReranker(enc)

	out := r.Rerank(context.Background(), "query", fusedFixture(), 50)

	assert.Len(t, out, 3)
}

func TestReranker_Rerank_TiesKeepFusionOrder(t *testing.T) {
	enc := &fakeCrossEncoder{scores: []float64{0.5, 0.5, 0.5}}
	r := NewReranker(enc)

	out := r.Rerank(context.Background(), "query", fusedFixture(), 3)

	assert.Equal(t, []string{"A", "B", "C"}, rerankedIDs(out))
}

func TestReranker_Rerank_Idempotent(t *testing.T) {
	// Given: a deterministic cross-encoder and a failing one
	scoring := NewReranker(&fakeCrossEncoder{scores: []float64{0.2, 0.9, 0.5}})
	failing := NewReranker(&fakeCrossEncoder{fn: func(context.Context, string, []string) ([]float64, error) {
		return nil, errors.New("down")
	}})

	for name, r := range map[string]*Reranker{"scored": scoring, "fallback": failing} {
		t.Run(name, func(t *testing.T) {
			// When: reranking the same input twice
			first := r.Rerank(context.Background(), "query", fusedFixture(), 2)
			second := r.Rerank(context.Background(), "query", fusedFixture(), 2)

			// Then: both runs agree
			require.Len(t, first, 2)
			assert.Equal(t, first, second)
		})
	}
}

func TestReranker_Rerank_DoesNotMutateInput(t *testing.T) {
	enc := &fakeCrossEncoder{scores: []float64{0.2, 0.9, 0.5}}
	r := NewReranker(enc)
	in := fusedFixture()
	before := fusedFixture()

	out := r.Rerank(context.Background(), "query", in, 3)
	out[0].Sources[0] = "mutated"

	assert.Equal(t, before, in)
}

func TestReranker_Rerank_ClampsScores(t *testing.T) {
	enc := &fakeCrossEncoder{scores: []float64{-0.5, 1.7, 0.4}}
	r := NewReranker(enc)

	out := r.Rerank(context.Background(), "query", fusedFixture(), 3)

	for _, res := range out {
		assert.GreaterOrEqual(t, res.CrossEncoderScore, 0.0)
		assert.LessOrEqual(t, res.CrossEncoderScore, 1.0)
	}
	assert.Equal(t, "B", rerankedIDs(out)[0])
}

// =============================================================================
// Degradation
// =============================================================================

func TestReranker_Rerank_FailureKeepsFusionOrder(t *testing.T) {
	// Given: a cross-encoder that fails
	enc := &fakeCrossEncoder{fn: func(context.Context, string, []string) ([]float64, error) {
		return nil, errors.New("model crashed")
	}}
	r := NewReranker(enc)

	// When: reranking with top_n = 2
	out, err := r.RerankWithStatus(context.Background(), "query", fusedFixture(), 2)

	// Then: fusion order, zero scores, final ranks assigned
	require.Error(t, err)
	assert.Equal(t, amerrors.ErrCodeProviderFailed, amerrors.GetCode(err))
	assert.Equal(t, []string{"A", "B"}, rerankedIDs(out))
	for i, res := range out {
		assert.Zero(t, res.CrossEncoderScore)
		assert.Equal(t, i+1, res.FinalRank)
	}
}

func TestReranker_Rerank_Timeout(t *testing.T) {
	enc := &fakeCrossEncoder{fn: func(ctx context.Context, _ string, _ []string) ([]float64, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	r := NewReranker(enc, WithRerankTimeout(20*time.Millisecond))

	out, err := r.RerankWithStatus(context.Background(), "query", fusedFixture(), 3)

	assert.Equal(t, amerrors.ErrCodeProviderTimeout, amerrors.GetCode(err))
	assert.Equal(t, []string{"A", "B", "C"}, rerankedIDs(out))
}

func TestReranker_Rerank_ScoreCountMismatch(t *testing.T) {
	enc := &fakeCrossEncoder{scores: []float64{0.9}}
	r := NewReranker(enc)

	out, err := r.RerankWithStatus(context.Background(), "query", fusedFixture(), 3)

	assert.Equal(t, amerrors.ErrCodeProviderResponse, amerrors.GetCode(err))
	assert.Equal(t, []string{"A", "B", "C"}, rerankedIDs(out))
}

func TestReranker_Rerank_NaNScore(t *testing.T) {
	enc := &fakeCrossEncoder{scores: []float64{0.1, math.NaN(), 0.3}}
	r := NewReranker(enc)

	_, err := r.RerankWithStatus(context.Background(), "query", fusedFixture(), 3)

	assert.Equal(t, amerrors.ErrCodeProviderResponse, amerrors.GetCode(err))
}

func TestReranker_Rerank_NilEncoderDegrades(t *testing.T) {
	r := NewReranker(nil)

	out, err := r.RerankWithStatus(context.Background(), "query", fusedFixture(), 2)

	require.Error(t, err)
	assert.Len(t, out, 2)
}

// =============================================================================
// NoOpCrossEncoder
// =============================================================================

func TestNoOpCrossEncoder_PreservesOrder(t *testing.T) {
	r := NewReranker(NoOpCrossEncoder{})

	out := r.Rerank(context.Background(), "query", fusedFixture(), 3)

	assert.Equal(t, []string{"A", "B", "C"}, rerankedIDs(out))
	assert.InDelta(t, 1.0, out[0].CrossEncoderScore, 1e-12)
	assert.Greater(t, out[2].CrossEncoderScore, 0.0)
}
