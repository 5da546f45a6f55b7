package search

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrag/internal/embed"
	"github.com/Aman-CERP/amanrag/internal/llm"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// =============================================================================
// Test doubles
// =============================================================================

// fakeEmbedder returns a fixed vector unless fn is set.
type fakeEmbedder struct {
	fn    func(ctx context.Context, text string) ([]float32, error)
	calls atomic.Int32
}

var _ embed.Embedder = (*fakeEmbedder)(nil)

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	if f.fn != nil {
		return f.fn(ctx, text)
	}
	return []float32{1, 0, 0}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int                  { return 3 }
func (f *fakeEmbedder) ModelName() string                { return "fake" }
func (f *fakeEmbedder) Available(_ context.Context) bool { return true }
func (f *fakeEmbedder) Close() error                     { return nil }

// fakeVectorIndex answers Query with hits, or with hitsFor(vec) when set.
type fakeVectorIndex struct {
	hits     []store.VectorHit
	hitsFor  func(vec []float32) []store.VectorHit
	count    int
	countErr error
	queryErr error

	mu     sync.Mutex
	lastK  int
	closed bool
}

var _ store.VectorIndex = (*fakeVectorIndex)(nil)

func (f *fakeVectorIndex) Query(_ context.Context, vec []float32, k int) ([]store.VectorHit, error) {
	f.mu.Lock()
	f.lastK = k
	f.mu.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	hits := f.hits
	if f.hitsFor != nil {
		hits = f.hitsFor(vec)
	}
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (f *fakeVectorIndex) Count(_ context.Context) (int, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	if f.count == 0 && f.hitsFor == nil {
		return len(f.hits), nil
	}
	return f.count, nil
}

func (f *fakeVectorIndex) Close() error {
	f.closed = true
	return nil
}

// fakeGenerator answers prompts with fn and records every call.
type fakeGenerator struct {
	fn func(ctx context.Context, prompt string, temperature float64) (string, error)

	mu           sync.Mutex
	prompts      []string
	temperatures []float64
}

var _ llm.Generator = (*fakeGenerator)(nil)

func (f *fakeGenerator) Generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.temperatures = append(f.temperatures, temperature)
	f.mu.Unlock()
	return f.fn(ctx, prompt, temperature)
}

func (f *fakeGenerator) ModelName() string { return "fake-llm" }
func (f *fakeGenerator) Close() error      { return nil }

func (f *fakeGenerator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

// fakeCrossEncoder returns scores, or calls fn when set.
type fakeCrossEncoder struct {
	scores []float64
	fn     func(ctx context.Context, query string, passages []string) ([]float64, error)

	calls    atomic.Int32
	mu       sync.Mutex
	passages []string
}

var _ CrossEncoder = (*fakeCrossEncoder)(nil)

func (f *fakeCrossEncoder) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.passages = append([]string(nil), passages...)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(ctx, query, passages)
	}
	return f.scores, nil
}

// =============================================================================
// Fixtures
// =============================================================================

func doc(id, content string) store.Document {
	if id == "" {
		return store.Document{Content: content}
	}
	return store.Document{Content: content, Metadata: map[string]string{store.MetaDocID: id}}
}

func bm25(docs ...store.Document) []ChannelResult {
	return ranked(SourceBM25, docs...)
}

func dense(docs ...store.Document) []ChannelResult {
	return ranked(SourceDense, docs...)
}

func ranked(src Source, docs ...store.Document) []ChannelResult {
	out := make([]ChannelResult, len(docs))
	for i, d := range docs {
		out[i] = ChannelResult{Document: d, Score: 1 / float64(i+1), Rank: i + 1, Source: src}
	}
	return out
}

func docIDs[T any](items []T, get func(T) store.Document) []string {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = get(it).Meta(store.MetaDocID)
	}
	return ids
}

func fusedIDs(r []FusedResult) []string {
	return docIDs(r, func(f FusedResult) store.Document { return f.Document })
}

func rerankedIDs(r []RerankedResult) []string {
	return docIDs(r, func(x RerankedResult) store.Document { return x.Document })
}

func channelIDs(r []ChannelResult) []string {
	return docIDs(r, func(c ChannelResult) store.Document { return c.Document })
}

// newLexical builds a retriever over docs with the standard analyzer.
func newLexical(t *testing.T, docs ...store.Document) *LexicalRetriever {
	t.Helper()
	analyzer, err := store.NewAnalyzer(store.AnalyzerStandard)
	require.NoError(t, err)
	r := NewLexicalRetriever(analyzer, store.DefaultOkapiConfig())
	require.NoError(t, r.BuildIndex(docs))
	return r
}

func boolPtr(b bool) *bool { return &b }
