package search

import (
	"context"
	"log/slog"
	"sort"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// LexicalRetriever is the BM25-Okapi keyword channel over a fixed corpus.
// BuildIndex is called once; Search is safe for concurrent use afterwards.
type LexicalRetriever struct {
	index *store.OkapiIndex
}

// NewLexicalRetriever creates an unbuilt retriever using analyzer for both
// documents and queries.
func NewLexicalRetriever(analyzer *store.Analyzer, cfg store.OkapiConfig) *LexicalRetriever {
	return &LexicalRetriever{index: store.NewOkapiIndex(analyzer, cfg)}
}

// BuildIndex tokenizes and indexes docs. A second call is a contract
// violation and returns ERR_407.
func (r *LexicalRetriever) BuildIndex(docs []store.Document) error {
	if err := r.index.Build(docs); err != nil {
		return amerrors.New(amerrors.ErrCodeInvalidResult, "lexical index already built", err)
	}
	slog.Debug("lexical_index_built",
		slog.Int("documents", len(docs)),
		slog.Int("terms", r.index.Stats().TermCount))
	return nil
}

// Built reports whether BuildIndex has run.
func (r *LexicalRetriever) Built() bool {
	return r.index.Built()
}

// Stats returns index statistics.
func (r *LexicalRetriever) Stats() store.IndexStats {
	return r.index.Stats()
}

// Search scores every document against query and returns up to topK hits
// with a positive score, ranked 1..n by descending score. Equal scores keep
// corpus order. An unbuilt index yields an empty slice and a warning.
func (r *LexicalRetriever) Search(ctx context.Context, query string, topK int) []ChannelResult {
	if !r.index.Built() {
		slog.Warn("lexical_index_not_built", slog.String("query", truncateQuery(query, 50)))
		return []ChannelResult{}
	}
	if topK <= 0 || ctx.Err() != nil {
		return []ChannelResult{}
	}

	scores := r.index.Scores(r.index.Tokenize(query))

	type hit struct {
		idx   int
		score float64
	}
	hits := make([]hit, 0, len(scores))
	for i, s := range scores {
		if s > 0 {
			hits = append(hits, hit{idx: i, score: s})
		}
	}
	if len(hits) == 0 {
		return []ChannelResult{}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].score > hits[j].score
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}

	results := make([]ChannelResult, len(hits))
	for i, h := range hits {
		results[i] = ChannelResult{
			Document: r.index.Document(h.idx),
			Score:    h.score,
			Rank:     i + 1,
			Source:   SourceBM25,
		}
	}
	return results
}
