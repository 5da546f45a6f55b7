package cmd

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrag/internal/output"
	"github.com/Aman-CERP/amanrag/internal/search"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	noHyDE      bool
	noDecompose bool
	topN        int
	jsonOutput  bool
	explain     bool
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Retrieve passages for a query",
		Long: `Retrieve passages with the hybrid pipeline.

BM25 and dense search run concurrently, are fused with Reciprocal Rank
Fusion and reordered by the cross-encoder. Output is JSON when --json is set
or stdout is not a terminal.`,
		Example: `  amanrag search "how does reciprocal rank fusion work"
  amanrag search "rrf constant" --no-hyde --top-n 3
  amanrag search "hybrid search" --json | jq '.results[0]'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().BoolVar(&opts.noHyDE, "no-hyde", false, "Skip the hypothetical answer passage for dense search")
	cmd.Flags().BoolVar(&opts.noDecompose, "no-decompose", false, "Skip sub-query decomposition for BM25")
	cmd.Flags().IntVarP(&opts.topN, "top-n", "n", 0, "Number of results (default: retrieval.rerank_top_n)")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output the full retrieval trace as JSON")
	cmd.Flags().BoolVar(&opts.explain, "explain", false, "Show query variants and per-channel results")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	cfg, root, err := loadConfig()
	if err != nil {
		return err
	}

	c, err := buildComponents(ctx, cfg, root)
	if err != nil {
		return err
	}
	defer c.Close()

	ropts := search.RetrieveOptions{TopN: opts.topN}
	if opts.noHyDE {
		ropts.UseHyDE = boolPtr(false)
	}
	if opts.noDecompose {
		ropts.UseDecomposition = boolPtr(false)
	}

	slog.Info("search_started", slog.String("query", query), slog.Int("top_n", opts.topN))

	resp, err := c.pipeline.Retrieve(ctx, query, ropts)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.jsonOutput || !output.IsTerminal(out) {
		return writeJSON(out, resp)
	}
	return printSearchResults(out, resp, opts.explain)
}

func printSearchResults(w io.Writer, resp *search.Response, explain bool) error {
	out := output.New(w)
	if explain {
		printExplain(out, resp)
	}

	if len(resp.Results) == 0 {
		out.Warningf("No results for %q", resp.Query)
		return nil
	}

	out.Headingf("Results for %q (%s)", resp.Query, resp.Timings.Total.Round(time.Millisecond))
	for _, r := range resp.Results {
		out.Linef("%d. %s  score=%.3f rrf=%.4f sources=%s",
			r.FinalRank, documentLabel(r.Document), r.CrossEncoderScore, r.RRFScore, joinSources(r.Sources))
		out.Detailf("%s", snippet(r.Document.Content, 160))
	}

	if len(resp.Degraded) > 0 {
		stages := make([]string, len(resp.Degraded))
		for i, s := range resp.Degraded {
			stages[i] = string(s)
		}
		out.Newline()
		out.Warningf("Degraded: %s", strings.Join(stages, ", "))
	}
	if resp.RerankDegraded {
		out.Warning("Reranker unavailable: results are in fusion order")
	}
	return nil
}

func printExplain(out *output.Writer, resp *search.Response) {
	out.Heading("Query variants")
	out.Linef("bm25:   %s", strings.Join(resp.Variants.BM25SearchQueries, " | "))
	out.Linef("vector: %s", strings.Join(resp.Variants.VectorSearchQueries, " | "))
	out.Newline()

	printChannel(out, "BM25", resp.BM25)
	printChannel(out, "Dense", resp.Dense)

	out.Headingf("Fused (%d)", len(resp.Fused))
	for _, f := range resp.Fused {
		out.Linef("%2d. %-24s rrf=%.4f sources=%s",
			f.FusionRank, documentLabel(f.Document), f.RRFScore, joinSources(f.Sources))
	}
	out.Newline()
}

func printChannel(out *output.Writer, name string, results []search.ChannelResult) {
	out.Headingf("%s (%d)", name, len(results))
	for _, r := range results {
		out.Linef("%2d. %-24s score=%.4f", r.Rank, documentLabel(r.Document), r.Score)
	}
	out.Newline()
}

// documentLabel names a document by doc_id, parent_id or source.
func documentLabel(doc store.Document) string {
	for _, key := range []string{store.MetaDocID, store.MetaParentID, store.MetaSource} {
		if v := doc.Meta(key); v != "" {
			if idx := doc.Meta(store.MetaChunkIndex); idx != "" && key != store.MetaDocID {
				return v + "#" + idx
			}
			return v
		}
	}
	return "(unnamed)"
}

func joinSources(sources []search.Source) string {
	parts := make([]string, len(sources))
	for i, s := range sources {
		parts[i] = string(s)
	}
	return strings.Join(parts, "+")
}

// snippet collapses whitespace and truncates to maxRunes.
func snippet(s string, maxRunes int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= maxRunes {
		return s
	}
	return string(r[:maxRunes]) + "..."
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func boolPtr(b bool) *bool { return &b }
