package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Aman-CERP/amanrag/internal/config"
	"github.com/Aman-CERP/amanrag/internal/embed"
	"github.com/Aman-CERP/amanrag/internal/llm"
	"github.com/Aman-CERP/amanrag/internal/search"
	"github.com/Aman-CERP/amanrag/internal/store"
	"github.com/Aman-CERP/amanrag/internal/telemetry"
)

// components owns everything a retrieval run needs.
type components struct {
	pipeline *search.Pipeline
	embedder embed.Embedder
	gen      llm.Generator
	index    store.VectorIndex
	encoder  search.CrossEncoder
	metrics  *telemetry.QueryMetrics
}

// buildComponents wires providers, indices and the pipeline from cfg.
// Provider construction never contacts the network; an unreachable provider
// surfaces as a degraded stage on the first query.
func buildComponents(ctx context.Context, cfg *config.Config, root string) (*components, error) {
	c := &components{}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	scfg := search.ConfigFrom(cfg)

	lexical, err := buildLexical(cfg, root)
	if err != nil {
		return nil, err
	}

	c.embedder, err = embed.NewEmbedder(ctx, cfg.Embeddings, scfg.EmbeddingTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	c.index, err = openVectorIndex(cfg, root)
	if err != nil {
		return nil, err
	}

	c.gen, err = llm.NewGenerator(ctx, cfg.Generation, scfg.GenerationTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to create generator: %w", err)
	}

	c.encoder, err = search.NewCrossEncoder(cfg.Reranker, scfg.RerankTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to create reranker: %w", err)
	}

	var opts []search.PipelineOption
	if cfg.Telemetry.Enabled {
		metricsStore, err := telemetry.OpenSQLiteMetricsStore(resolvePath(root, cfg.Telemetry.Path))
		if err != nil {
			// Telemetry never blocks retrieval
			slog.Warn("telemetry_unavailable", slog.String("error", err.Error()))
		} else {
			c.metrics = telemetry.NewQueryMetrics(metricsStore)
			opts = append(opts, search.WithMetrics(c.metrics))
		}
	}

	processor := search.NewQueryProcessor(c.gen,
		search.WithGenerationTimeout(scfg.GenerationTimeout),
		search.WithTemperatures(scfg.DecomposeTemperature, scfg.HyDETemperature))

	vector := search.NewVectorRetriever(c.embedder, c.index,
		search.WithEmbedTimeout(scfg.EmbeddingTimeout),
		search.WithQueryTimeout(scfg.IndexQueryTimeout))

	c.pipeline = search.NewPipelineFromConfig(scfg, processor, lexical, vector, c.encoder, opts...)

	slog.Debug("pipeline_ready",
		slog.Bool("lexical_built", lexical.Built()),
		slog.String("embedder", c.embedder.ModelName()),
		slog.String("vector_backend", cfg.Vector.Backend),
		slog.String("reranker", cfg.Reranker.Provider),
		slog.Bool("telemetry", c.metrics != nil))

	ok = true
	return c, nil
}

// buildLexical builds the BM25 index from the configured corpus. Without a
// corpus the retriever stays unbuilt and the lexical channel returns nothing.
func buildLexical(cfg *config.Config, root string) (*search.LexicalRetriever, error) {
	analyzer, err := store.NewAnalyzer(cfg.Lexical.Analyzer)
	if err != nil {
		return nil, err
	}
	lexical := search.NewLexicalRetriever(analyzer, store.OkapiConfig{
		K1:      cfg.Lexical.K1,
		B:       cfg.Lexical.B,
		Epsilon: cfg.Lexical.Epsilon,
	})

	if cfg.Lexical.CorpusPath == "" {
		slog.Warn("lexical_corpus_not_configured")
		return lexical, nil
	}

	docs, err := store.LoadCorpus(resolvePath(root, cfg.Lexical.CorpusPath))
	if err != nil {
		return nil, err
	}
	if err := lexical.BuildIndex(docs); err != nil {
		return nil, err
	}
	return lexical, nil
}

// openVectorIndex opens the configured backend. A missing local index file
// yields an empty index, so the dense channel contributes nothing.
func openVectorIndex(cfg *config.Config, root string) (store.VectorIndex, error) {
	switch cfg.Vector.Backend {
	case "qdrant":
		idx, err := store.NewQdrantIndex(store.QdrantConfig{
			Host:       cfg.Vector.QdrantHost,
			Port:       cfg.Vector.QdrantPort,
			Collection: cfg.Vector.Collection,
			APIKey:     cfg.Vector.QdrantAPIKey,
		})
		if err != nil {
			return nil, err
		}
		return idx, nil
	default:
		path := resolvePath(root, cfg.Vector.Path)
		if !fileExists(path) {
			slog.Warn("vector_index_not_found", slog.String("path", path))
			return store.NewHNSWIndex(store.HNSWConfig{Dimensions: cfg.Embeddings.Dimensions}), nil
		}
		idx, err := store.OpenHNSWIndex(path)
		if err != nil {
			return nil, err
		}
		return idx, nil
	}
}

// Close releases providers and flushes telemetry.
func (c *components) Close() {
	if c.metrics != nil {
		if err := c.metrics.Close(); err != nil {
			slog.Warn("telemetry_flush_failed", slog.String("error", err.Error()))
		}
	}
	if closer, ok := c.encoder.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	if c.gen != nil {
		_ = c.gen.Close()
	}
	if c.index != nil {
		_ = c.index.Close()
	}
	if c.embedder != nil {
		_ = c.embedder.Close()
	}
}
