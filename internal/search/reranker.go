package search

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// CrossEncoder scores (query, passage) pairs jointly. Score returns one
// value in [0,1] per passage, in input order, from a single batched call.
type CrossEncoder interface {
	Score(ctx context.Context, query string, passages []string) ([]float64, error)
}

// Reranker rescores fused candidates against the original query and keeps
// the best top_n. It never modifies its input.
type Reranker struct {
	encoder CrossEncoder
	topN    int
	timeout time.Duration
	breaker *amerrors.CircuitBreaker
}

// RerankerOption configures a Reranker.
type RerankerOption func(*Reranker)

// WithDefaultTopN sets the top_n used when Rerank is called with topN <= 0.
func WithDefaultTopN(n int) RerankerOption {
	return func(r *Reranker) {
		if n > 0 {
			r.topN = n
		}
	}
}

// WithRerankTimeout bounds the cross-encoder call.
func WithRerankTimeout(d time.Duration) RerankerOption {
	return func(r *Reranker) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithRerankBreaker replaces the cross-encoder circuit breaker.
func WithRerankBreaker(cb *amerrors.CircuitBreaker) RerankerOption {
	return func(r *Reranker) {
		if cb != nil {
			r.breaker = cb
		}
	}
}

// NewReranker creates a reranker around encoder.
func NewReranker(encoder CrossEncoder, opts ...RerankerOption) *Reranker {
	d := DefaultConfig()
	r := &Reranker{
		encoder: encoder,
		topN:    d.RerankTopN,
		timeout: d.RerankTimeout,
		breaker: amerrors.NewCircuitBreaker("reranker", amerrors.WithMaxFailures(3)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Rerank scores every candidate in one cross-encoder call, sorts by score
// descending (ties keep fusion order), assigns FinalRank and truncates to
// topN. topN <= 0 uses the configured default. An empty candidate list
// returns an empty slice without calling the model.
func (r *Reranker) Rerank(ctx context.Context, query string, results []FusedResult, topN int) []RerankedResult {
	out, _ := r.RerankWithStatus(ctx, query, results, topN)
	return out
}

// RerankWithStatus is Rerank plus the cross-encoder error, if any. On
// error the candidates keep fusion order with a zero score.
func (r *Reranker) RerankWithStatus(ctx context.Context, query string, results []FusedResult, topN int) ([]RerankedResult, error) {
	if len(results) == 0 {
		return []RerankedResult{}, nil
	}
	if topN <= 0 {
		topN = r.topN
	}

	out := make([]RerankedResult, len(results))
	passages := make([]string, len(results))
	for i, f := range results {
		out[i] = RerankedResult{
			Document:   f.Document,
			RRFScore:   f.RRFScore,
			FusionRank: f.FusionRank,
			Sources:    append([]Source(nil), f.Sources...),
		}
		passages[i] = f.Document.Content
	}

	start := time.Now()
	scores, err := r.score(ctx, query, passages)
	if err != nil {
		attrs := []any{
			slog.String("query", truncateQuery(query, 50)),
			slog.Int("candidates", len(results)),
			slog.Duration("rerank_attempt", time.Since(start)),
		}
		for _, a := range amerrors.LogAttrs(err) {
			attrs = append(attrs, a)
		}
		slog.Warn("rerank_failed_using_fusion_order", attrs...)
		return finalize(out, topN), err
	}

	for i := range out {
		out[i].CrossEncoderScore = scores[i]
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CrossEncoderScore > out[j].CrossEncoderScore
	})

	slog.Debug("rerank_complete",
		slog.Int("candidates", len(results)),
		slog.Int("top_n", topN),
		slog.Duration("duration", time.Since(start)))

	return finalize(out, topN), nil
}

// finalize truncates to topN and numbers FinalRank from 1.
func finalize(out []RerankedResult, topN int) []RerankedResult {
	if len(out) > topN {
		out = out[:topN]
	}
	for i := range out {
		out[i].FinalRank = i + 1
	}
	return out
}

// score runs the cross-encoder under timeout and breaker and checks the
// response shape. Scores outside [0,1] are clamped.
func (r *Reranker) score(ctx context.Context, query string, passages []string) ([]float64, error) {
	if r.encoder == nil {
		return nil, amerrors.New(amerrors.ErrCodeRerankFailed, "no cross-encoder configured", nil)
	}

	scores, err := amerrors.CircuitExecute(r.breaker, func() ([]float64, error) {
		ctx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		return r.encoder.Score(ctx, query, passages)
	})
	if err != nil {
		return nil, amerrors.ProviderError("reranker", err)
	}

	if len(scores) != len(passages) {
		return nil, amerrors.New(amerrors.ErrCodeProviderResponse,
			fmt.Sprintf("cross-encoder returned %d scores for %d passages", len(scores), len(passages)), nil)
	}

	clamped := make([]float64, len(scores))
	for i, s := range scores {
		if math.IsNaN(s) {
			return nil, amerrors.New(amerrors.ErrCodeProviderResponse,
				fmt.Sprintf("cross-encoder returned NaN for passage %d", i), nil)
		}
		clamped[i] = math.Max(0, math.Min(1, s))
	}
	return clamped, nil
}

// NoOpCrossEncoder scores passages by input position so fusion order is
// preserved. Used when no reranking model is configured.
type NoOpCrossEncoder struct{}

// Score returns 1.0 for the first passage, decreasing linearly.
func (NoOpCrossEncoder) Score(_ context.Context, _ string, passages []string) ([]float64, error) {
	scores := make([]float64, len(passages))
	for i := range passages {
		scores[i] = 1.0 - float64(i)/float64(len(passages))
	}
	return scores, nil
}

var _ CrossEncoder = NoOpCrossEncoder{}
