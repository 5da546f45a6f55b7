package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Aman-CERP/amanrag/internal/embed"
	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// VectorRetriever is the dense channel: it embeds the query and asks the
// vector index for nearest neighbours.
type VectorRetriever struct {
	embedder embed.Embedder
	index    store.VectorIndex

	embedTimeout time.Duration
	queryTimeout time.Duration
	breaker      *amerrors.CircuitBreaker
}

// VectorOption configures a VectorRetriever.
type VectorOption func(*VectorRetriever)

// WithEmbedTimeout bounds each embedding call.
func WithEmbedTimeout(d time.Duration) VectorOption {
	return func(r *VectorRetriever) {
		if d > 0 {
			r.embedTimeout = d
		}
	}
}

// WithQueryTimeout bounds each index Count and Query call.
func WithQueryTimeout(d time.Duration) VectorOption {
	return func(r *VectorRetriever) {
		if d > 0 {
			r.queryTimeout = d
		}
	}
}

// WithEmbedBreaker replaces the embedding circuit breaker.
func WithEmbedBreaker(cb *amerrors.CircuitBreaker) VectorOption {
	return func(r *VectorRetriever) {
		if cb != nil {
			r.breaker = cb
		}
	}
}

// NewVectorRetriever creates a dense retriever over index.
func NewVectorRetriever(embedder embed.Embedder, index store.VectorIndex, opts ...VectorOption) *VectorRetriever {
	d := DefaultConfig()
	r := &VectorRetriever{
		embedder:     embedder,
		index:        index,
		embedTimeout: d.EmbeddingTimeout,
		queryTimeout: d.IndexQueryTimeout,
		breaker:      amerrors.NewCircuitBreaker("embedding", amerrors.WithMaxFailures(3)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Search returns up to topK neighbours of query with similarity
// 1 - distance, ranked 1..n in index order. Any failure yields an empty
// slice and a warning.
func (r *VectorRetriever) Search(ctx context.Context, query string, topK int) []ChannelResult {
	results, _ := r.SearchWithStatus(ctx, query, topK)
	return results
}

// SearchWithStatus is Search plus the error that caused an empty result,
// for callers that report degraded stages. The results are always usable.
func (r *VectorRetriever) SearchWithStatus(ctx context.Context, query string, topK int) ([]ChannelResult, error) {
	if topK <= 0 || r.index == nil {
		return []ChannelResult{}, nil
	}

	count, err := r.count(ctx)
	if err != nil {
		return r.fail("vector_count_failed", query, amerrors.New(amerrors.ErrCodeIndexQuery, "vector index count failed", err))
	}
	if count == 0 {
		slog.Debug("vector_index_empty")
		return []ChannelResult{}, nil
	}

	vec, err := r.embed(ctx, query)
	if err != nil {
		return r.fail("vector_embed_failed", query, err)
	}

	hits, err := r.query(ctx, vec, topK)
	if err != nil {
		return r.fail("vector_search_failed", query, r.classifyQueryError(err))
	}

	if len(hits) > topK {
		hits = hits[:topK]
	}
	results := make([]ChannelResult, len(hits))
	for i, h := range hits {
		results[i] = ChannelResult{
			Document: h.Document,
			Score:    1 - h.Distance,
			Rank:     i + 1,
			Source:   SourceDense,
		}
	}
	return results, nil
}

func (r *VectorRetriever) count(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()
	return r.index.Count(ctx)
}

func (r *VectorRetriever) embed(ctx context.Context, query string) ([]float32, error) {
	if r.embedder == nil {
		return nil, amerrors.New(amerrors.ErrCodeEmbeddingFailed, "no embedder configured", nil)
	}

	vec, err := amerrors.CircuitExecute(r.breaker, func() ([]float32, error) {
		ctx, cancel := context.WithTimeout(ctx, r.embedTimeout)
		defer cancel()
		return r.embedder.Embed(ctx, query)
	})
	if err != nil {
		return nil, amerrors.ProviderError("embedding", err)
	}
	return vec, nil
}

func (r *VectorRetriever) query(ctx context.Context, vec []float32, topK int) ([]store.VectorHit, error) {
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()
	return r.index.Query(ctx, vec, topK)
}

func (r *VectorRetriever) classifyQueryError(err error) error {
	var dm store.ErrDimensionMismatch
	if errors.As(err, &dm) {
		return amerrors.New(amerrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("embedding has %d dimensions, index expects %d", dm.Got, dm.Expected), err).
			WithSuggestion("Use the embedding model the vector index was built with")
	}
	return amerrors.ProviderError("vector_index", err)
}

func (r *VectorRetriever) fail(event, query string, err error) ([]ChannelResult, error) {
	attrs := []any{slog.String("query", truncateQuery(query, 50))}
	for _, a := range amerrors.LogAttrs(err) {
		attrs = append(attrs, a)
	}
	slog.Warn(event, attrs...)
	return []ChannelResult{}, err
}
