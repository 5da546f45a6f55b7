package store

import (
	"math"
	"sync"
)

// OkapiConfig holds BM25-Okapi parameters.
type OkapiConfig struct {
	// K1 controls term frequency saturation.
	K1 float64
	// B controls document length normalization (0-1).
	B float64
	// Epsilon floors negative IDF values at Epsilon * average IDF.
	Epsilon float64
}

// DefaultOkapiConfig returns the classic Okapi parameters.
func DefaultOkapiConfig() OkapiConfig {
	return OkapiConfig{K1: 1.5, B: 0.75, Epsilon: 0.25}
}

// OkapiIndex is an in-memory BM25-Okapi index over a fixed corpus.
// It is built once and then read concurrently.
type OkapiIndex struct {
	mu       sync.RWMutex
	analyzer *Analyzer
	config   OkapiConfig

	docs      []Document
	termFreqs []map[string]int
	docLens   []int
	avgDocLen float64
	idf       map[string]float64
	built     bool
}

// NewOkapiIndex creates an unbuilt index that tokenizes with analyzer.
func NewOkapiIndex(analyzer *Analyzer, cfg OkapiConfig) *OkapiIndex {
	return &OkapiIndex{
		analyzer: analyzer,
		config:   cfg,
	}
}

// Build tokenizes docs and computes term frequencies, document frequencies,
// IDF and average document length. It may be called only once.
func (x *OkapiIndex) Build(docs []Document) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.built {
		return ErrAlreadyBuilt
	}

	n := len(docs)
	x.docs = make([]Document, n)
	copy(x.docs, docs)
	x.termFreqs = make([]map[string]int, n)
	x.docLens = make([]int, n)

	docFreq := make(map[string]int)
	totalLen := 0
	for i, doc := range docs {
		terms := x.analyzer.Tokenize(doc.Content)
		freqs := make(map[string]int, len(terms))
		for _, t := range terms {
			freqs[t]++
		}
		for t := range freqs {
			docFreq[t]++
		}
		x.termFreqs[i] = freqs
		x.docLens[i] = len(terms)
		totalLen += len(terms)
	}
	if n > 0 {
		x.avgDocLen = float64(totalLen) / float64(n)
	}

	x.idf = computeIDF(docFreq, n, x.config.Epsilon)
	x.built = true
	return nil
}

// computeIDF applies idf = ln((N - n + 0.5) / (n + 0.5)) and replaces
// negative values with epsilon times the average idf.
func computeIDF(docFreq map[string]int, n int, epsilon float64) map[string]float64 {
	idf := make(map[string]float64, len(docFreq))
	if len(docFreq) == 0 {
		return idf
	}

	var sum float64
	var negative []string
	for term, df := range docFreq {
		v := math.Log(float64(n)-float64(df)+0.5) - math.Log(float64(df)+0.5)
		idf[term] = v
		sum += v
		if v < 0 {
			negative = append(negative, term)
		}
	}

	floor := epsilon * sum / float64(len(idf))
	for _, term := range negative {
		idf[term] = floor
	}
	return idf
}

// Built reports whether Build has completed.
func (x *OkapiIndex) Built() bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.built
}

// Len returns the number of indexed documents.
func (x *OkapiIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.docs)
}

// Document returns the i-th indexed document.
func (x *OkapiIndex) Document(i int) Document {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.docs[i]
}

// Tokenize runs the index analyzer over text.
func (x *OkapiIndex) Tokenize(text string) []string {
	return x.analyzer.Tokenize(text)
}

// Scores returns one BM25 score per indexed document, in corpus order.
// Repeated query terms contribute once per occurrence. An unbuilt index
// returns nil.
func (x *OkapiIndex) Scores(queryTerms []string) []float64 {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if !x.built {
		return nil
	}

	scores := make([]float64, len(x.docs))
	if x.avgDocLen == 0 {
		return scores
	}

	k1, b := x.config.K1, x.config.B
	for _, term := range queryTerms {
		idf, ok := x.idf[term]
		if !ok {
			continue
		}
		for i, freqs := range x.termFreqs {
			tf := float64(freqs[term])
			if tf == 0 {
				continue
			}
			norm := tf + k1*(1-b+b*float64(x.docLens[i])/x.avgDocLen)
			scores[i] += idf * (tf * (k1 + 1) / norm)
		}
	}
	return scores
}

// Stats returns index statistics.
func (x *OkapiIndex) Stats() IndexStats {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return IndexStats{
		DocumentCount: len(x.docs),
		TermCount:     len(x.idf),
		AvgDocLength:  x.avgDocLen,
	}
}
