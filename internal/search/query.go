package search

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/llm"
)

// MaxSubQueries caps the number of sub-queries kept from decomposition.
const MaxSubQueries = 3

const decomposePrompt = `Break the following search query into at most 3 simpler sub-queries that together cover what it asks.
Write one sub-query per line, with no numbering, bullets or extra text.
If the query is already simple, repeat it unchanged on a single line.

Query: %s`

const hydePrompt = `Write one short passage (about 100 characters) that would directly answer the question below, as if quoted from a relevant document.
Write only the passage.

Question: %s`

// listMarker matches a leading "1.", "2)", "-", "*" or "•" followed by
// whitespace, so "3.5 turbo" and "-v flag" are left intact.
var listMarker = regexp.MustCompile(`^\s*(?:\d+[.)]|[-*•])(?:\s+|$)`)

// QueryProcessor derives search variants from a user query using a text
// generator. A nil generator makes every transformation fall back to the
// original query.
type QueryProcessor struct {
	gen     llm.Generator
	timeout time.Duration
	breaker *amerrors.CircuitBreaker

	decomposeTemperature float64
	hydeTemperature      float64
}

// QueryOption configures a QueryProcessor.
type QueryOption func(*QueryProcessor)

// WithGenerationTimeout bounds each generator call.
func WithGenerationTimeout(d time.Duration) QueryOption {
	return func(p *QueryProcessor) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithTemperatures sets the sampling temperatures for decomposition and HyDE.
func WithTemperatures(decompose, hyde float64) QueryOption {
	return func(p *QueryProcessor) {
		p.decomposeTemperature = decompose
		p.hydeTemperature = hyde
	}
}

// WithGenerationBreaker replaces the generator circuit breaker.
func WithGenerationBreaker(cb *amerrors.CircuitBreaker) QueryOption {
	return func(p *QueryProcessor) {
		if cb != nil {
			p.breaker = cb
		}
	}
}

// NewQueryProcessor creates a processor around gen.
func NewQueryProcessor(gen llm.Generator, opts ...QueryOption) *QueryProcessor {
	d := DefaultConfig()
	p := &QueryProcessor{
		gen:                  gen,
		timeout:              d.GenerationTimeout,
		breaker:              amerrors.NewCircuitBreaker("generation", amerrors.WithMaxFailures(3)),
		decomposeTemperature: d.DecomposeTemperature,
		hydeTemperature:      d.HyDETemperature,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Decompose splits query into up to MaxSubQueries simpler sub-queries.
// On any failure it returns []string{query}.
func (p *QueryProcessor) Decompose(ctx context.Context, query string) []string {
	subs, _ := p.decompose(ctx, query)
	return subs
}

func (p *QueryProcessor) decompose(ctx context.Context, query string) ([]string, error) {
	text, err := p.generate(ctx, fmt.Sprintf(decomposePrompt, query), p.decomposeTemperature)
	if err != nil {
		p.logFallback("query_decomposition_failed", query, err)
		return []string{query}, err
	}

	subs := parseSubQueries(text)
	if len(subs) == 0 {
		err := amerrors.New(amerrors.ErrCodeProviderResponse, "decomposition produced no sub-queries", llm.ErrEmptyResponse)
		p.logFallback("query_decomposition_failed", query, err)
		return []string{query}, err
	}

	slog.Debug("query_decomposed",
		slog.String("query", truncateQuery(query, 50)),
		slog.Int("sub_queries", len(subs)))
	return subs, nil
}

// GenerateHyDE writes a short hypothetical passage that would answer
// query. On any failure, including an empty response, it returns query.
func (p *QueryProcessor) GenerateHyDE(ctx context.Context, query string) string {
	text, _ := p.generateHyDE(ctx, query)
	return text
}

func (p *QueryProcessor) generateHyDE(ctx context.Context, query string) (string, error) {
	text, err := p.generate(ctx, fmt.Sprintf(hydePrompt, query), p.hydeTemperature)
	if err != nil {
		p.logFallback("hyde_generation_failed", query, err)
		return query, err
	}
	return text, nil
}

// Process builds the query variants for both channels. Decomposition and
// HyDE run concurrently when both are enabled. The original query is
// always first in each list. Without a generator both transformations
// are skipped.
func (p *QueryProcessor) Process(ctx context.Context, query string, useHyDE, useDecomposition bool) QueryVariants {
	if p.gen == nil {
		useHyDE, useDecomposition = false, false
	}

	var (
		subs      []string
		decompErr error
		hyde      string
		hydeErr   error
	)

	var g errgroup.Group
	if useDecomposition {
		g.Go(func() error {
			subs, decompErr = p.decompose(ctx, query)
			return nil
		})
	}
	if useHyDE {
		g.Go(func() error {
			hyde, hydeErr = p.generateHyDE(ctx, query)
			return nil
		})
	}
	_ = g.Wait()

	variants := QueryVariants{
		VectorSearchQueries: []string{query},
		BM25SearchQueries:   []string{query},
	}

	if useDecomposition {
		if decompErr != nil {
			variants.DecompositionFallback = true
		} else if len(subs) > 1 {
			variants.BM25SearchQueries = append(variants.BM25SearchQueries, subs...)
		}
	}

	if useHyDE {
		if hydeErr != nil {
			variants.HyDEFallback = true
		} else if hyde != query {
			variants.VectorSearchQueries = append(variants.VectorSearchQueries, hyde)
		}
	}

	return variants
}

// generate runs one generator call under timeout and breaker. A blank
// answer counts as a failure.
func (p *QueryProcessor) generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	if p.gen == nil {
		return "", amerrors.New(amerrors.ErrCodeGenerationFailed, "no generator configured", nil)
	}

	text, err := amerrors.CircuitExecute(p.breaker, func() (string, error) {
		ctx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()
		return p.gen.Generate(ctx, prompt, temperature)
	})
	if err != nil {
		return "", amerrors.ProviderError("generation", err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", amerrors.New(amerrors.ErrCodeProviderResponse, "generator returned an empty response", llm.ErrEmptyResponse)
	}
	return text, nil
}

func (p *QueryProcessor) logFallback(event, query string, err error) {
	attrs := []any{slog.String("query", truncateQuery(query, 50))}
	if p.gen == nil {
		slog.Debug(event, append(attrs, slog.String("reason", "no generator"))...)
		return
	}
	for _, a := range amerrors.LogAttrs(err) {
		attrs = append(attrs, a)
	}
	slog.Warn(event, attrs...)
}

// parseSubQueries splits a model answer into cleaned, non-empty lines,
// dropping list markers and keeping at most MaxSubQueries.
func parseSubQueries(text string) []string {
	subs := make([]string, 0, MaxSubQueries)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(listMarker.ReplaceAllString(line, ""))
		if line == "" {
			continue
		}
		subs = append(subs, line)
		if len(subs) == MaxSubQueries {
			break
		}
	}
	return subs
}
