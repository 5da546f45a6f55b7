package store

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStandardIndex(t *testing.T) *OkapiIndex {
	t.Helper()
	a, err := NewAnalyzer(AnalyzerStandard)
	require.NoError(t, err)
	return NewOkapiIndex(a, DefaultOkapiConfig())
}

func docs(contents ...string) []Document {
	out := make([]Document, len(contents))
	for i, c := range contents {
		out[i] = Document{Content: c}
	}
	return out
}

func TestOkapiIndex_Unbuilt(t *testing.T) {
	idx := newStandardIndex(t)

	assert.False(t, idx.Built())
	assert.Nil(t, idx.Scores([]string{"anything"}))
	assert.Equal(t, 0, idx.Len())
}

func TestOkapiIndex_BuildTwiceFails(t *testing.T) {
	idx := newStandardIndex(t)
	require.NoError(t, idx.Build(docs("red blue")))

	err := idx.Build(docs("green"))

	assert.ErrorIs(t, err, ErrAlreadyBuilt)
	assert.Equal(t, 1, idx.Len())
}

func TestOkapiIndex_ScoresMatchFormula(t *testing.T) {
	// Given: three documents with lengths 2, 1, 1
	idx := newStandardIndex(t)
	require.NoError(t, idx.Build(docs("red blue", "green", "yellow")))

	// When: scoring a term that appears once in the second document
	scores := idx.Scores([]string{"green"})

	// Then: only that document scores, with the Okapi value
	require.Len(t, scores, 3)
	avgdl := 4.0 / 3.0
	idf := math.Log((3 - 1 + 0.5) / (1 + 0.5))
	want := idf * (1 * 2.5) / (1 + 1.5*(1-0.75+0.75*1/avgdl))
	assert.InDelta(t, want, scores[1], 1e-12)
	assert.Equal(t, 0.0, scores[0])
	assert.Equal(t, 0.0, scores[2])
}

func TestOkapiIndex_NegativeIDFFlooredToEpsilon(t *testing.T) {
	// Given: "apple" appears in 2 of 3 documents (raw idf < 0)
	idx := newStandardIndex(t)
	require.NoError(t, idx.Build(docs("apple banana", "apple cherry", "durian")))

	// When: scoring "apple"
	scores := idx.Scores([]string{"apple"})

	// Then: the floored idf keeps the score positive
	assert.Greater(t, scores[0], 0.0)
	assert.Greater(t, scores[1], 0.0)
	assert.Equal(t, 0.0, scores[2])
}

func TestOkapiIndex_TermInHalfTheCorpusScoresZero(t *testing.T) {
	idx := newStandardIndex(t)
	require.NoError(t, idx.Build(docs("alpha", "beta")))

	scores := idx.Scores([]string{"alpha"})

	assert.Equal(t, []float64{0, 0}, scores)
}

func TestOkapiIndex_RepeatedQueryTermsAccumulate(t *testing.T) {
	idx := newStandardIndex(t)
	require.NoError(t, idx.Build(docs("red blue", "green", "yellow")))

	once := idx.Scores([]string{"green"})
	twice := idx.Scores([]string{"green", "green"})

	assert.InDelta(t, 2*once[1], twice[1], 1e-12)
}

func TestOkapiIndex_EmptyCorpus(t *testing.T) {
	idx := newStandardIndex(t)
	require.NoError(t, idx.Build(nil))

	assert.True(t, idx.Built())
	assert.Empty(t, idx.Scores([]string{"x"}))
	assert.Equal(t, IndexStats{}, idx.Stats())
}

func TestOkapiIndex_Stats(t *testing.T) {
	idx := newStandardIndex(t)
	require.NoError(t, idx.Build(docs("red blue", "green")))

	stats := idx.Stats()

	assert.Equal(t, 2, stats.DocumentCount)
	assert.Equal(t, 3, stats.TermCount)
	assert.InDelta(t, 1.5, stats.AvgDocLength, 1e-12)
}

func TestOkapiIndex_BuildCopiesInput(t *testing.T) {
	input := docs("red blue")
	idx := newStandardIndex(t)
	require.NoError(t, idx.Build(input))

	input[0].Content = "mutated"

	assert.Equal(t, "red blue", idx.Document(0).Content)
}

func TestOkapiIndex_ConcurrentReads(t *testing.T) {
	idx := newStandardIndex(t)
	require.NoError(t, idx.Build(docs("red blue", "green", "yellow")))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			scores := idx.Scores(idx.Tokenize("green"))
			assert.Greater(t, scores[1], 0.0)
		}()
	}
	wg.Wait()
}
