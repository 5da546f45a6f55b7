// Package search implements hybrid retrieval: query variants, a BM25
// channel, a dense vector channel, reciprocal rank fusion and cross-encoder
// reranking.
package search

import (
	"time"

	"github.com/Aman-CERP/amanrag/internal/config"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// Source names a retrieval channel.
type Source string

const (
	SourceBM25  Source = "bm25"
	SourceDense Source = "dense"
)

// Defaults for Config fields left at zero.
const (
	DefaultBM25TopK   = 10
	DefaultVectorTopK = 10
	DefaultFusionK    = 60
	DefaultRerankTopN = 5
)

// ChannelResult is one hit from a single channel. Rank is 1-based and
// contiguous within the channel.
type ChannelResult struct {
	Document store.Document `json:"document"`
	Score    float64        `json:"score"`
	Rank     int            `json:"rank"`
	Source   Source         `json:"source"`
}

// FusedResult is a document after reciprocal rank fusion.
type FusedResult struct {
	Document store.Document `json:"document"`
	RRFScore float64        `json:"rrf_score"`

	// Sources lists the channels that surfaced the document, in the order
	// they were first encountered.
	Sources    []Source `json:"sources"`
	FusionRank int      `json:"fusion_rank"`

	// Key is the identity the document was merged under.
	Key string `json:"key"`
}

// HasSource reports whether s contributed to the fused score.
func (f FusedResult) HasSource(s Source) bool {
	for _, src := range f.Sources {
		if src == s {
			return true
		}
	}
	return false
}

// RerankedResult is a fused document rescored by the cross-encoder.
type RerankedResult struct {
	Document          store.Document `json:"document"`
	CrossEncoderScore float64        `json:"cross_encoder_score"`
	FinalRank         int            `json:"final_rank"`

	// Carried from fusion for display.
	RRFScore   float64  `json:"rrf_score"`
	FusionRank int      `json:"fusion_rank"`
	Sources    []Source `json:"sources"`
}

// QueryVariants are the queries routed to each channel.
type QueryVariants struct {
	VectorSearchQueries []string `json:"vector_search_queries"`
	BM25SearchQueries   []string `json:"bm25_search_queries"`

	// HyDEFallback is set when HyDE was requested but the original query
	// was used instead.
	HyDEFallback bool `json:"hyde_fallback,omitempty"`

	// DecompositionFallback is set when decomposition was requested but
	// the provider failed.
	DecompositionFallback bool `json:"decomposition_fallback,omitempty"`
}

// Config is the explicit configuration passed to pipeline components.
type Config struct {
	BM25TopK         int
	VectorTopK       int
	FusionK          int
	RerankTopN       int
	RerankCandidates int

	UseHyDE          bool
	UseDecomposition bool

	Identity IdentityPolicy

	DecomposeTemperature float64
	HyDETemperature      float64

	EmbeddingTimeout  time.Duration
	GenerationTimeout time.Duration
	IndexQueryTimeout time.Duration
	RerankTimeout     time.Duration
}

// DefaultConfig returns the pipeline defaults.
func DefaultConfig() Config {
	return Config{
		BM25TopK:             DefaultBM25TopK,
		VectorTopK:           DefaultVectorTopK,
		FusionK:              DefaultFusionK,
		RerankTopN:           DefaultRerankTopN,
		UseHyDE:              true,
		UseDecomposition:     true,
		Identity:             IdentityContentHash,
		DecomposeTemperature: 0.0,
		HyDETemperature:      0.7,
		EmbeddingTimeout:     10 * time.Second,
		GenerationTimeout:    30 * time.Second,
		IndexQueryTimeout:    5 * time.Second,
		RerankTimeout:        30 * time.Second,
	}
}

// ConfigFrom derives a pipeline Config from the application configuration.
func ConfigFrom(cfg *config.Config) Config {
	r := cfg.Retrieval
	return Config{
		BM25TopK:             r.BM25TopK,
		VectorTopK:           r.VectorTopK,
		FusionK:              r.FusionK,
		RerankTopN:           r.RerankTopN,
		RerankCandidates:     r.RerankCandidates,
		UseHyDE:              r.UseHyDE,
		UseDecomposition:     r.UseDecomposition,
		Identity:             IdentityPolicy(r.IdentityFallback),
		DecomposeTemperature: cfg.Generation.DecomposeTemperature,
		HyDETemperature:      cfg.Generation.HyDETemperature,
		EmbeddingTimeout:     cfg.Timeouts.EmbeddingTimeout(),
		GenerationTimeout:    cfg.Timeouts.GenerationTimeout(),
		IndexQueryTimeout:    cfg.Timeouts.IndexQueryTimeout(),
		RerankTimeout:        cfg.Timeouts.RerankTimeout(),
	}.withDefaults()
}

// withDefaults fills zero values.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BM25TopK <= 0 {
		c.BM25TopK = d.BM25TopK
	}
	if c.VectorTopK <= 0 {
		c.VectorTopK = d.VectorTopK
	}
	if c.FusionK <= 0 {
		c.FusionK = d.FusionK
	}
	if c.RerankTopN <= 0 {
		c.RerankTopN = d.RerankTopN
	}
	if c.RerankCandidates < 0 {
		c.RerankCandidates = 0
	}
	if c.Identity == "" {
		c.Identity = d.Identity
	}
	if c.EmbeddingTimeout <= 0 {
		c.EmbeddingTimeout = d.EmbeddingTimeout
	}
	if c.GenerationTimeout <= 0 {
		c.GenerationTimeout = d.GenerationTimeout
	}
	if c.IndexQueryTimeout <= 0 {
		c.IndexQueryTimeout = d.IndexQueryTimeout
	}
	if c.RerankTimeout <= 0 {
		c.RerankTimeout = d.RerankTimeout
	}
	return c
}

// truncateQuery shortens a query for logging.
func truncateQuery(q string, maxLen int) string {
	r := []rune(q)
	if len(r) <= maxLen {
		return q
	}
	return string(r[:maxLen]) + "..."
}
