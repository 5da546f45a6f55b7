package store

import (
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/analysis/lang/cjk"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/registry"
)

// Analyzer names accepted by NewAnalyzer.
const (
	// AnalyzerCJK segments CJK runs into overlapping bigrams and other
	// scripts on Unicode word boundaries.
	AnalyzerCJK = "cjk"
	// AnalyzerStandard splits on Unicode word boundaries, lowercases and drops English stop words.
	AnalyzerStandard = "standard"
	// AnalyzerEnglish adds possessive handling and Porter stemming.
	AnalyzerEnglish = "en"
	// AnalyzerCode splits identifiers (camelCase, snake_case) for source text.
	AnalyzerCode = "code"
)

const (
	identifierTokenizerName = "amanrag_identifier"
	identifierStopName      = "amanrag_identifier_stop"
)

func init() {
	_ = registry.RegisterTokenizer(identifierTokenizerName, identifierTokenizerConstructor)
	_ = registry.RegisterTokenFilter(identifierStopName, identifierStopConstructor)
}

// Analyzer turns text into index terms using a bleve analysis chain.
// The same Analyzer must be used for documents and queries.
type Analyzer struct {
	name     string
	analyzer analysis.Analyzer
}

// NewAnalyzer resolves a named bleve analyzer.
func NewAnalyzer(name string) (*Analyzer, error) {
	cache := registry.NewCache()

	var (
		a   analysis.Analyzer
		err error
	)
	switch strings.ToLower(name) {
	case AnalyzerCJK:
		a, err = cache.AnalyzerNamed(cjk.AnalyzerName)
	case AnalyzerStandard:
		a, err = cache.AnalyzerNamed(standard.Name)
	case AnalyzerEnglish:
		a, err = cache.AnalyzerNamed(en.AnalyzerName)
	case AnalyzerCode:
		a, err = cache.DefineAnalyzer(AnalyzerCode, map[string]interface{}{
			"type":          custom.Name,
			"tokenizer":     identifierTokenizerName,
			"token_filters": []string{lowercase.Name, identifierStopName},
		})
	default:
		return nil, fmt.Errorf("unknown analyzer %q", name)
	}
	if err != nil {
		return nil, fmt.Errorf("build analyzer %q: %w", name, err)
	}

	return &Analyzer{name: strings.ToLower(name), analyzer: a}, nil
}

// Name returns the analyzer name.
func (a *Analyzer) Name() string {
	return a.name
}

// Tokenize returns the terms for text in stream order. Repeated terms are
// kept so term frequencies can be counted.
func (a *Analyzer) Tokenize(text string) []string {
	if strings.TrimSpace(text) == "" {
		return []string{}
	}

	stream := a.analyzer.Analyze([]byte(text))
	terms := make([]string, 0, len(stream))
	for _, tok := range stream {
		if len(tok.Term) == 0 {
			continue
		}
		terms = append(terms, string(tok.Term))
	}
	return terms
}

func identifierTokenizerConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.Tokenizer, error) {
	return &identifierTokenizer{}, nil
}

// identifierTokenizer adapts TokenizeIdentifiers to analysis.Tokenizer.
type identifierTokenizer struct{}

func (t *identifierTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	lower := strings.ToLower(text)
	tokens := TokenizeIdentifiers(text)

	result := make(analysis.TokenStream, 0, len(tokens))
	offset := 0
	for i, token := range tokens {
		start := strings.Index(lower[offset:], token)
		if start == -1 {
			start = offset
		} else {
			start += offset
		}
		end := start + len(token)
		if end > len(text) {
			end = len(text)
		}

		result = append(result, &analysis.Token{
			Term:     []byte(token),
			Start:    start,
			End:      end,
			Position: i + 1,
			Type:     analysis.AlphaNumeric,
		})
		offset = end
	}
	return result
}

func identifierStopConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.TokenFilter, error) {
	return &identifierStopFilter{stopWords: BuildStopWordMap(DefaultCodeStopWords)}, nil
}

type identifierStopFilter struct {
	stopWords map[string]struct{}
}

func (f *identifierStopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	result := make(analysis.TokenStream, 0, len(input))
	for _, token := range input {
		if _, isStop := f.stopWords[string(token.Term)]; !isStop {
			result = append(result, token)
		}
	}
	return result
}
