package search

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/telemetry"
)

// maxVariantConcurrency bounds concurrent searches per channel.
const maxVariantConcurrency = 4

// RetrieveOptions overrides Config for a single call. Nil pointers and a
// zero TopN keep the configured values.
type RetrieveOptions struct {
	UseHyDE          *bool
	UseDecomposition *bool
	TopN             int
}

// Timings records how long each stage took.
type Timings struct {
	QueryProcessing time.Duration `json:"query_processing"`
	Lexical         time.Duration `json:"lexical"`
	Dense           time.Duration `json:"dense"`
	Fusion          time.Duration `json:"fusion"`
	Rerank          time.Duration `json:"rerank"`
	Total           time.Duration `json:"total"`
}

// Response is the full trace of one retrieval.
type Response struct {
	Query    string           `json:"query"`
	Variants QueryVariants    `json:"variants"`
	BM25     []ChannelResult  `json:"bm25"`
	Dense    []ChannelResult  `json:"dense"`
	Fused    []FusedResult    `json:"fused"`
	Results  []RerankedResult `json:"results"`

	// RerankDegraded is set when Results are in fusion order because the
	// cross-encoder failed.
	RerankDegraded bool `json:"rerank_degraded"`

	// Degraded lists every stage that fell back.
	Degraded []telemetry.Stage `json:"degraded,omitempty"`
	Timings  Timings           `json:"timings"`
}

// Pipeline runs query processing, both channels, fusion and reranking.
type Pipeline struct {
	config    Config
	processor *QueryProcessor
	lexical   *LexicalRetriever
	vector    *VectorRetriever
	fusion    *FusionEngine
	reranker  *Reranker
	metrics   *telemetry.QueryMetrics
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithMetrics records one telemetry event per Retrieve call.
func WithMetrics(m *telemetry.QueryMetrics) PipelineOption {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// NewPipeline assembles a pipeline. A nil lexical or vector retriever
// disables that channel. The fusion engine is built from cfg.
func NewPipeline(cfg Config, processor *QueryProcessor, lexical *LexicalRetriever, vector *VectorRetriever, reranker *Reranker, opts ...PipelineOption) *Pipeline {
	cfg = cfg.withDefaults()
	if processor == nil {
		processor = NewQueryProcessor(nil)
	}
	if reranker == nil {
		reranker = NewReranker(NoOpCrossEncoder{}, WithDefaultTopN(cfg.RerankTopN))
	}

	p := &Pipeline{
		config:    cfg,
		processor: processor,
		lexical:   lexical,
		vector:    vector,
		fusion:    NewFusionEngine(cfg.FusionK, cfg.Identity),
		reranker:  reranker,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Config returns the pipeline configuration.
func (p *Pipeline) Config() Config {
	return p.config
}

// Retrieve answers query with up to TopN reranked documents. Provider
// failures degrade the affected stage and are reported in
// Response.Degraded; only an empty query, a cancelled context or a fusion
// contract violation return an error.
func (p *Pipeline) Retrieve(ctx context.Context, query string, opts RetrieveOptions) (*Response, error) {
	start := time.Now()

	if strings.TrimSpace(query) == "" {
		return nil, amerrors.New(amerrors.ErrCodeQueryEmpty, "query is empty", nil).
			WithSuggestion("Provide a non-empty search query")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	useHyDE := p.config.UseHyDE
	if opts.UseHyDE != nil {
		useHyDE = *opts.UseHyDE
	}
	useDecomposition := p.config.UseDecomposition
	if opts.UseDecomposition != nil {
		useDecomposition = *opts.UseDecomposition
	}
	topN := opts.TopN
	if topN <= 0 {
		topN = p.config.RerankTopN
	}

	resp := &Response{Query: query}
	var degradedMu sync.Mutex
	degrade := func(s telemetry.Stage) {
		degradedMu.Lock()
		resp.Degraded = append(resp.Degraded, s)
		degradedMu.Unlock()
	}

	// Stage 1: query variants
	stageStart := time.Now()
	resp.Variants = p.processor.Process(ctx, query, useHyDE, useDecomposition)
	resp.Timings.QueryProcessing = time.Since(stageStart)
	if resp.Variants.DecompositionFallback {
		degrade(telemetry.StageDecomposition)
	}
	if resp.Variants.HyDEFallback {
		degrade(telemetry.StageHyDE)
	}

	// Stage 2: both channels concurrently
	var g errgroup.Group
	g.Go(func() error {
		t := time.Now()
		resp.BM25 = p.searchLexical(ctx, resp.Variants.BM25SearchQueries, degrade)
		resp.Timings.Lexical = time.Since(t)
		return nil
	})
	g.Go(func() error {
		t := time.Now()
		resp.Dense = p.searchDense(ctx, resp.Variants.VectorSearchQueries, degrade)
		resp.Timings.Dense = time.Since(t)
		return nil
	})
	_ = g.Wait()

	// Stage 3: fusion
	stageStart = time.Now()
	fused, err := p.fusion.Fuse(resp.BM25, resp.Dense)
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "fusion_contract_violation", amerrors.LogAttrs(err)...)
		return nil, err
	}
	resp.Fused = fused
	resp.Timings.Fusion = time.Since(stageStart)

	// Stage 4: rerank the candidate window
	candidates := fused
	if n := p.config.RerankCandidates; n > 0 && len(candidates) > n {
		candidates = candidates[:n]
	}
	stageStart = time.Now()
	results, rerr := p.reranker.RerankWithStatus(ctx, query, candidates, topN)
	resp.Results = results
	resp.Timings.Rerank = time.Since(stageStart)
	if rerr != nil {
		resp.RerankDegraded = true
		degrade(telemetry.StageRerank)
	}

	resp.Timings.Total = time.Since(start)

	slog.Info("retrieve_complete",
		slog.String("query", truncateQuery(query, 50)),
		slog.Int("bm25", len(resp.BM25)),
		slog.Int("dense", len(resp.Dense)),
		slog.Int("fused", len(resp.Fused)),
		slog.Int("results", len(resp.Results)),
		slog.Int("degraded", len(resp.Degraded)),
		slog.Duration("total", resp.Timings.Total))

	if p.metrics != nil {
		p.metrics.Record(telemetry.QueryEvent{
			Query:       query,
			ResultCount: len(resp.Results),
			Latency:     resp.Timings.Total,
			Degraded:    resp.Degraded,
			Timestamp:   start,
		})
	}

	return resp, nil
}

// searchLexical runs every BM25 variant and merges the lists.
func (p *Pipeline) searchLexical(ctx context.Context, queries []string, degrade func(telemetry.Stage)) []ChannelResult {
	if p.lexical == nil {
		return []ChannelResult{}
	}
	if !p.lexical.Built() {
		degrade(telemetry.StageLexical)
	}

	lists := make([][]ChannelResult, len(queries))
	for i, q := range queries {
		lists[i] = p.lexical.Search(ctx, q, p.config.BM25TopK)
	}
	return mergeVariants(lists, SourceBM25, p.config.BM25TopK, p.config.Identity)
}

// searchDense embeds and searches every vector variant concurrently and
// merges the lists. The stage counts as degraded if any variant failed.
func (p *Pipeline) searchDense(ctx context.Context, queries []string, degrade func(telemetry.Stage)) []ChannelResult {
	if p.vector == nil {
		return []ChannelResult{}
	}

	lists := make([][]ChannelResult, len(queries))
	errs := make([]error, len(queries))

	var g errgroup.Group
	g.SetLimit(maxVariantConcurrency)
	for i, q := range queries {
		g.Go(func() error {
			lists[i], errs[i] = p.vector.SearchWithStatus(ctx, q, p.config.VectorTopK)
			return nil
		})
	}
	_ = g.Wait()

	for _, err := range errs {
		if err != nil {
			degrade(telemetry.StageDense)
			break
		}
	}
	return mergeVariants(lists, SourceDense, p.config.VectorTopK, p.config.Identity)
}

// NewPipelineFromConfig wires a pipeline with explicitly tuned components
// for cfg. Callers own the returned components' lifecycles.
func NewPipelineFromConfig(cfg Config, processor *QueryProcessor, lexical *LexicalRetriever, vector *VectorRetriever, encoder CrossEncoder, opts ...PipelineOption) *Pipeline {
	cfg = cfg.withDefaults()
	reranker := NewReranker(encoder,
		WithDefaultTopN(cfg.RerankTopN),
		WithRerankTimeout(cfg.RerankTimeout))
	return NewPipeline(cfg, processor, lexical, vector, reranker, opts...)
}
