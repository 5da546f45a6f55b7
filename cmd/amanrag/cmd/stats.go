package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrag/internal/output"
	"github.com/Aman-CERP/amanrag/internal/telemetry"
)

func newStatsCmd() *cobra.Command {
	var jsonOutput bool
	var days int
	var limit int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show query telemetry",
		Long: `Display persisted query telemetry:
  - Query latency distribution
  - Degraded stages (decomposition, hyde, lexical, dense, rerank)
  - Top query terms
  - Recent zero-result queries

Telemetry is recorded only when telemetry.enabled is true.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, root, err := loadConfig()
			if err != nil {
				return err
			}
			path := resolvePath(root, cfg.Telemetry.Path)
			if !fileExists(path) {
				return fmt.Errorf("no telemetry found at %s\nSet telemetry.enabled: true and run some searches", path)
			}

			store, err := telemetry.OpenSQLiteMetricsStore(path)
			if err != nil {
				return fmt.Errorf("failed to open telemetry store: %w", err)
			}
			defer func() { _ = store.Close() }()

			out, err := collectStats(store, days, limit, time.Now())
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), out)
			}
			return printStats(cmd.OutOrStdout(), out)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().IntVar(&days, "days", 7, "Number of days to include")
	cmd.Flags().IntVar(&limit, "limit", 10, "Number of terms and zero-result queries to show")

	return cmd
}

// StatsOutput is the JSON output format for stats.
type StatsOutput struct {
	From                string           `json:"from"`
	To                  string           `json:"to"`
	TotalQueries        int64            `json:"total_queries"`
	LatencyDistribution map[string]int64 `json:"latency_distribution"`
	DegradedStages      map[string]int64 `json:"degraded_stages"`
	TopTerms            []StatsTermCount `json:"top_terms"`
	ZeroResultQueries   []string         `json:"zero_result_queries"`
}

// StatsTermCount represents a term and its frequency.
type StatsTermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// collectStats reads the day-bucketed counters for the last days days.
func collectStats(store telemetry.QueryMetricsStore, days, limit int, now time.Time) (*StatsOutput, error) {
	if days <= 0 {
		days = 1
	}
	to := now.Format("2006-01-02")
	from := now.AddDate(0, 0, -(days - 1)).Format("2006-01-02")

	latencies, err := store.GetLatencyCounts(from, to)
	if err != nil {
		return nil, fmt.Errorf("get latency counts: %w", err)
	}
	stages, err := store.GetStageCounts(from, to)
	if err != nil {
		return nil, fmt.Errorf("get stage counts: %w", err)
	}
	terms, err := store.GetTopTerms(limit)
	if err != nil {
		return nil, fmt.Errorf("get top terms: %w", err)
	}
	zero, err := store.GetZeroResultQueries(limit)
	if err != nil {
		return nil, fmt.Errorf("get zero-result queries: %w", err)
	}

	out := &StatsOutput{
		From:                from,
		To:                  to,
		LatencyDistribution: make(map[string]int64, len(latencies)),
		DegradedStages:      make(map[string]int64, len(stages)),
		TopTerms:            make([]StatsTermCount, 0, len(terms)),
		ZeroResultQueries:   zero,
	}
	// Every recorded query lands in exactly one latency bucket
	for bucket, n := range latencies {
		out.LatencyDistribution[string(bucket)] = n
		out.TotalQueries += n
	}
	for stage, n := range stages {
		out.DegradedStages[string(stage)] = n
	}
	for _, tc := range terms {
		out.TopTerms = append(out.TopTerms, StatsTermCount{Term: tc.Term, Count: tc.Count})
	}
	if out.ZeroResultQueries == nil {
		out.ZeroResultQueries = []string{}
	}
	return out, nil
}

var latencyOrder = []telemetry.LatencyBucket{
	telemetry.BucketP50,
	telemetry.BucketP250,
	telemetry.BucketP1000,
	telemetry.BucketP5000,
	telemetry.BucketSlow,
}

func printStats(w io.Writer, s *StatsOutput) error {
	out := output.New(w)
	out.Headingf("Query telemetry %s .. %s", s.From, s.To)
	out.Linef("Total queries: %d", s.TotalQueries)
	out.Newline()

	out.Heading("Latency")
	for _, b := range latencyOrder {
		out.Linef("%-8s %d", b, s.LatencyDistribution[string(b)])
	}
	out.Newline()

	out.Heading("Degraded stages")
	names := make([]string, 0, len(s.DegradedStages))
	for name := range s.DegradedStages {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		out.Linef("%-14s %d", name, s.DegradedStages[name])
	}
	printNone(out, len(names))

	out.Heading("Top terms")
	for _, tc := range s.TopTerms {
		out.Linef("%-20s %d", tc.Term, tc.Count)
	}
	printNone(out, len(s.TopTerms))

	out.Heading("Zero-result queries")
	for _, q := range s.ZeroResultQueries {
		out.Linef("%s", strings.TrimSpace(q))
	}
	printNone(out, len(s.ZeroResultQueries))
	return nil
}

func printNone(out *output.Writer, n int) {
	if n == 0 {
		out.Linef("none")
	}
	out.Newline()
}
