package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrag/internal/config"
	"github.com/Aman-CERP/amanrag/internal/embed"
	"github.com/Aman-CERP/amanrag/internal/output"
	"github.com/Aman-CERP/amanrag/internal/store"
)

const defaultEmbedBatchSize = 32

func newIndexCmd() *cobra.Command {
	var batchSize int

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build the local vector index from the corpus",
		Long: `Embed every document of lexical.corpus_path and write the HNSW index to
vector.path. The BM25 index is always built in memory at query time; only the
vector index is persisted. Documents are indexed as-is without chunking.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, root, err := loadConfig()
			if err != nil {
				return err
			}
			return runIndex(cmd.Context(), cmd, cfg, root, batchSize)
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", defaultEmbedBatchSize, "Documents per embedding request")
	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, cfg *config.Config, root string, batchSize int) error {
	if cfg.Vector.Backend != "hnsw" {
		return fmt.Errorf("vector.backend %q is populated externally; index only builds the local hnsw index", cfg.Vector.Backend)
	}
	if cfg.Lexical.CorpusPath == "" {
		return fmt.Errorf("lexical.corpus_path is not set")
	}
	if batchSize <= 0 {
		batchSize = defaultEmbedBatchSize
	}

	docs, err := store.LoadCorpus(resolvePath(root, cfg.Lexical.CorpusPath))
	if err != nil {
		return err
	}

	embedder, err := embed.NewEmbedder(ctx, cfg.Embeddings, cfg.Timeouts.EmbeddingTimeout())
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}
	defer func() { _ = embedder.Close() }()

	idx := store.NewHNSWIndex(store.HNSWConfig{Dimensions: cfg.Embeddings.Dimensions})
	defer func() { _ = idx.Close() }()

	start := time.Now()
	out := output.New(cmd.OutOrStdout())
	progress := func(done int) { out.Progress(done, len(docs), "embedding documents") }
	if err := indexDocuments(ctx, idx, embedder, docs, batchSize, progress); err != nil {
		return err
	}

	path := resolvePath(root, cfg.Vector.Path)
	if err := idx.Save(path); err != nil {
		return fmt.Errorf("failed to save vector index: %w", err)
	}

	slog.Info("index_complete",
		slog.Int("documents", len(docs)),
		slog.String("path", path),
		slog.Duration("duration", time.Since(start)))
	out.Successf("Indexed %d documents into %s (%s)", len(docs), path, time.Since(start).Round(time.Millisecond))
	return nil
}

// indexDocuments embeds docs in batches and adds them to idx, reporting the
// number of documents done after each batch.
func indexDocuments(ctx context.Context, idx *store.HNSWIndex, embedder embed.Embedder, docs []store.Document, batchSize int, progress func(done int)) error {
	for startAt := 0; startAt < len(docs); startAt += batchSize {
		end := min(startAt+batchSize, len(docs))
		batch := docs[startAt:end]

		texts := make([]string, len(batch))
		for i, d := range batch {
			texts[i] = d.Content
		}

		vectors, err := embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("failed to embed documents %d-%d: %w", startAt, end-1, err)
		}
		if len(vectors) != len(batch) {
			return fmt.Errorf("embedder returned %d vectors for %d documents", len(vectors), len(batch))
		}

		entries := make([]store.VectorEntry, len(batch))
		for i, d := range batch {
			entries[i] = store.VectorEntry{
				ID:       entryID(d, startAt+i),
				Document: d,
				Vector:   vectors[i],
			}
		}
		if err := idx.Add(ctx, entries); err != nil {
			return err
		}

		slog.Debug("index_batch_added", slog.Int("from", startAt), slog.Int("to", end))
		if progress != nil {
			progress(end)
		}
	}
	return nil
}

// entryID keys a vector entry by doc_id, then source plus chunk index, then
// corpus position. parent_id is shared by chunks and cannot key an entry.
func entryID(d store.Document, position int) string {
	if id := d.Meta(store.MetaDocID); id != "" {
		return id
	}
	if src, chunk := d.Meta(store.MetaSource), d.Meta(store.MetaChunkIndex); src != "" && chunk != "" {
		return src + "#" + chunk
	}
	return "corpus:" + strconv.Itoa(position)
}
