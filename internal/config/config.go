// Package config loads amanrag configuration from defaults, the user config,
// the project config and AMANRAG_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Identity fallback policies for documents without doc_id/parent_id.
const (
	IdentityContentHash = "content_hash"
	IdentityDistinct    = "distinct"
)

// Config represents the complete amanrag configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Retrieval  RetrievalConfig  `yaml:"retrieval" json:"retrieval"`
	Timeouts   TimeoutsConfig   `yaml:"timeouts" json:"timeouts"`
	Lexical    LexicalConfig    `yaml:"lexical" json:"lexical"`
	Vector     VectorConfig     `yaml:"vector" json:"vector"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Generation GenerationConfig `yaml:"generation" json:"generation"`
	Reranker   RerankerConfig   `yaml:"reranker" json:"reranker"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" json:"telemetry"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// RetrievalConfig configures the hybrid retrieval pipeline.
// Values are configurable via:
//  1. User config (~/.config/amanrag/config.yaml)
//  2. Project config (.amanrag.yaml)
//  3. Env vars (AMANRAG_BM25_TOP_K, AMANRAG_VECTOR_TOP_K, AMANRAG_FUSION_K, AMANRAG_RERANK_TOP_N)
type RetrievalConfig struct {
	// BM25TopK is the number of lexical hits kept per query.
	BM25TopK int `yaml:"bm25_top_k" json:"bm25_top_k"`

	// VectorTopK is the number of nearest neighbours requested per query.
	VectorTopK int `yaml:"vector_top_k" json:"vector_top_k"`

	// FusionK is the RRF smoothing constant. Default: 60.
	FusionK int `yaml:"fusion_k" json:"fusion_k"`

	// RerankTopN is the number of results returned after reranking.
	RerankTopN int `yaml:"rerank_top_n" json:"rerank_top_n"`

	// RerankCandidates caps how many fused results reach the cross-encoder (0 = all).
	RerankCandidates int `yaml:"rerank_candidates" json:"rerank_candidates"`

	UseHyDE          bool `yaml:"use_hyde" json:"use_hyde"`
	UseDecomposition bool `yaml:"use_decomposition" json:"use_decomposition"`

	// IdentityFallback is "content_hash" or "distinct".
	IdentityFallback string `yaml:"identity_fallback" json:"identity_fallback"`
}

// TimeoutsConfig holds per-call timeouts for external collaborators (Go duration strings).
type TimeoutsConfig struct {
	Embedding  string `yaml:"embedding" json:"embedding"`
	Generation string `yaml:"generation" json:"generation"`
	IndexQuery string `yaml:"index_query" json:"index_query"`
	Rerank     string `yaml:"rerank" json:"rerank"`
}

// LexicalConfig configures the BM25-Okapi index.
type LexicalConfig struct {
	// Analyzer is one of "cjk", "standard", "en", "code".
	Analyzer string  `yaml:"analyzer" json:"analyzer"`
	K1       float64 `yaml:"k1" json:"k1"`
	B        float64 `yaml:"b" json:"b"`
	Epsilon  float64 `yaml:"epsilon" json:"epsilon"`

	// CorpusPath is a JSONL file of documents used to build the index.
	CorpusPath string `yaml:"corpus_path" json:"corpus_path"`
}

// VectorConfig selects the vector index backend.
type VectorConfig struct {
	// Backend is "hnsw" (local file) or "qdrant".
	Backend    string `yaml:"backend" json:"backend"`
	Path       string `yaml:"path" json:"path"`
	QdrantHost string `yaml:"qdrant_host" json:"qdrant_host"`
	QdrantPort int    `yaml:"qdrant_port" json:"qdrant_port"`
	Collection string `yaml:"collection" json:"collection"`
	// QdrantAPIKey authenticates against secured Qdrant deployments.
	QdrantAPIKey string `yaml:"qdrant_api_key" json:"-"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "ollama", "openai" or "static".
	Provider   string `yaml:"provider" json:"provider"`
	Model      string `yaml:"model" json:"model"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`
	APIKey     string `yaml:"api_key" json:"-"`

	// CacheSize is the query embedding LRU size. Negative disables caching.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// GenerationConfig configures the text-generation provider used for
// decomposition and HyDE.
type GenerationConfig struct {
	// Provider is "ollama", "openai", "anthropic" or "none".
	Provider string `yaml:"provider" json:"provider"`
	Model    string `yaml:"model" json:"model"`
	BaseURL  string `yaml:"base_url" json:"base_url"`
	APIKey   string `yaml:"api_key" json:"-"`

	// Chat routes ollama through its chat endpoint instead of /api/generate.
	// openai and anthropic always use chat.
	Chat bool `yaml:"chat" json:"chat"`

	DecomposeTemperature float64 `yaml:"decompose_temperature" json:"decompose_temperature"`
	HyDETemperature      float64 `yaml:"hyde_temperature" json:"hyde_temperature"`
}

// RerankerConfig configures the cross-encoder endpoint.
type RerankerConfig struct {
	// Provider is "http" (/rerank with {query, documents}), "tei" or "none".
	Provider string `yaml:"provider" json:"provider"`
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	Model    string `yaml:"model" json:"model"`

	// RawScores means the endpoint returns logits that need a sigmoid.
	RawScores bool `yaml:"raw_scores" json:"raw_scores"`

	// Instruction is sent with each request to instruction-tuned rerankers
	// on the "http" API. TEI ignores it.
	Instruction string `yaml:"instruction" json:"instruction"`
}

// TelemetryConfig configures local query telemetry.
type TelemetryConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// NewConfig returns a configuration with defaults applied.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Retrieval: RetrievalConfig{
			BM25TopK:         10,
			VectorTopK:       10,
			FusionK:          60,
			RerankTopN:       5,
			RerankCandidates: 0,
			UseHyDE:          true,
			UseDecomposition: true,
			IdentityFallback: IdentityContentHash,
		},
		Timeouts: TimeoutsConfig{
			Embedding:  "10s",
			Generation: "30s",
			IndexQuery: "5s",
			Rerank:     "30s",
		},
		Lexical: LexicalConfig{
			Analyzer: "cjk",
			K1:       1.5,
			B:        0.75,
			Epsilon:  0.25,
		},
		Vector: VectorConfig{
			Backend:    "hnsw",
			Path:       filepath.Join(".amanrag", "vectors.hnsw"),
			QdrantHost: "localhost",
			QdrantPort: 6334,
			Collection: "documents",
		},
		Embeddings: EmbeddingsConfig{
			Provider:  "ollama",
			Model:     "nomic-embed-text",
			CacheSize: 1000,
		},
		Generation: GenerationConfig{
			Provider:             "ollama",
			Model:                "qwen3:0.6b",
			DecomposeTemperature: 0.0,
			HyDETemperature:      0.7,
		},
		Reranker: RerankerConfig{
			Provider: "http",
			Endpoint: "http://localhost:9659",
		},
		Telemetry: TelemetryConfig{
			Enabled: false,
			Path:    filepath.Join(".amanrag", "telemetry.db"),
		},
		Logging: LoggingConfig{
			Level: "warn",
		},
	}
}

// GetUserConfigPath returns the user config path, honouring XDG_CONFIG_HOME.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "amanrag", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "amanrag", "config.yaml")
	}
	return filepath.Join(home, ".config", "amanrag", "config.yaml")
}

// Load loads configuration with precedence (lowest to highest):
//  1. Defaults
//  2. User config (~/.config/amanrag/config.yaml)
//  3. Project config (.amanrag.yaml in dir)
//  4. Environment variables (AMANRAG_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userPath := GetUserConfigPath(); fileExists(userPath) {
		if err := cfg.loadYAML(userPath); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFromFile(dir string) error {
	for _, name := range []string{".amanrag.yaml", ".amanrag.yml"} {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			return c.loadYAML(path)
		}
	}
	return nil
}

// loadYAML decodes path on top of the current values; keys absent from the
// file keep their current value.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies AMANRAG_* environment variable overrides.
// Malformed numeric values are ignored.
func (c *Config) applyEnvOverrides() {
	setPositiveInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				*dst = n
			}
		}
	}
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	setPositiveInt("AMANRAG_BM25_TOP_K", &c.Retrieval.BM25TopK)
	setPositiveInt("AMANRAG_VECTOR_TOP_K", &c.Retrieval.VectorTopK)
	setPositiveInt("AMANRAG_FUSION_K", &c.Retrieval.FusionK)
	setPositiveInt("AMANRAG_RERANK_TOP_N", &c.Retrieval.RerankTopN)
	setBool("AMANRAG_USE_HYDE", &c.Retrieval.UseHyDE)
	setBool("AMANRAG_USE_DECOMPOSITION", &c.Retrieval.UseDecomposition)
	setString("AMANRAG_IDENTITY_FALLBACK", &c.Retrieval.IdentityFallback)

	setString("AMANRAG_CORPUS_PATH", &c.Lexical.CorpusPath)
	setString("AMANRAG_VECTOR_BACKEND", &c.Vector.Backend)
	setString("AMANRAG_VECTOR_PATH", &c.Vector.Path)
	setString("AMANRAG_QDRANT_HOST", &c.Vector.QdrantHost)
	setString("AMANRAG_QDRANT_API_KEY", &c.Vector.QdrantAPIKey)

	setString("AMANRAG_EMBEDDINGS_PROVIDER", &c.Embeddings.Provider)
	setString("AMANRAG_EMBEDDINGS_MODEL", &c.Embeddings.Model)
	setString("AMANRAG_OLLAMA_HOST", &c.Embeddings.OllamaHost)

	setString("AMANRAG_GENERATION_PROVIDER", &c.Generation.Provider)
	setString("AMANRAG_GENERATION_MODEL", &c.Generation.Model)

	setString("AMANRAG_RERANKER_PROVIDER", &c.Reranker.Provider)
	setString("AMANRAG_RERANKER_ENDPOINT", &c.Reranker.Endpoint)
	setString("AMANRAG_RERANKER_INSTRUCTION", &c.Reranker.Instruction)

	setString("AMANRAG_LOG_LEVEL", &c.Logging.Level)

	// Conventional provider keys fill in when nothing is configured
	if c.Vector.QdrantAPIKey == "" && strings.EqualFold(c.Vector.Backend, "qdrant") {
		c.Vector.QdrantAPIKey = os.Getenv("QDRANT_API_KEY")
	}
	if c.Embeddings.APIKey == "" && strings.EqualFold(c.Embeddings.Provider, "openai") {
		c.Embeddings.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.Generation.APIKey == "" {
		switch strings.ToLower(c.Generation.Provider) {
		case "openai":
			c.Generation.APIKey = os.Getenv("OPENAI_API_KEY")
		case "anthropic":
			c.Generation.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	}
}

// Validate checks the final configuration for invalid values.
func (c *Config) Validate() error {
	r := c.Retrieval
	if r.BM25TopK <= 0 {
		return fmt.Errorf("retrieval.bm25_top_k must be positive, got %d", r.BM25TopK)
	}
	if r.VectorTopK <= 0 {
		return fmt.Errorf("retrieval.vector_top_k must be positive, got %d", r.VectorTopK)
	}
	if r.FusionK <= 0 {
		return fmt.Errorf("retrieval.fusion_k must be positive, got %d", r.FusionK)
	}
	if r.RerankTopN <= 0 {
		return fmt.Errorf("retrieval.rerank_top_n must be positive, got %d", r.RerankTopN)
	}
	if r.RerankCandidates < 0 {
		return fmt.Errorf("retrieval.rerank_candidates must be non-negative, got %d", r.RerankCandidates)
	}
	if err := oneOf("retrieval.identity_fallback", r.IdentityFallback, IdentityContentHash, IdentityDistinct); err != nil {
		return err
	}

	for name, v := range map[string]string{
		"timeouts.embedding":   c.Timeouts.Embedding,
		"timeouts.generation":  c.Timeouts.Generation,
		"timeouts.index_query": c.Timeouts.IndexQuery,
		"timeouts.rerank":      c.Timeouts.Rerank,
	} {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: invalid duration %q: %w", name, v, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, v)
		}
	}

	if err := oneOf("lexical.analyzer", c.Lexical.Analyzer, "cjk", "standard", "en", "code"); err != nil {
		return err
	}
	if c.Lexical.K1 < 0 {
		return fmt.Errorf("lexical.k1 must be non-negative, got %f", c.Lexical.K1)
	}
	if c.Lexical.B < 0 || c.Lexical.B > 1 {
		return fmt.Errorf("lexical.b must be between 0 and 1, got %f", c.Lexical.B)
	}
	if c.Lexical.Epsilon < 0 {
		return fmt.Errorf("lexical.epsilon must be non-negative, got %f", c.Lexical.Epsilon)
	}

	if err := oneOf("vector.backend", c.Vector.Backend, "hnsw", "qdrant"); err != nil {
		return err
	}
	if err := oneOf("embeddings.provider", c.Embeddings.Provider, "ollama", "openai", "static"); err != nil {
		return err
	}
	if err := oneOf("generation.provider", c.Generation.Provider, "ollama", "openai", "anthropic", "none"); err != nil {
		return err
	}
	if err := oneOf("reranker.provider", c.Reranker.Provider, "http", "tei", "none"); err != nil {
		return err
	}
	if err := oneOf("logging.level", c.Logging.Level, "debug", "info", "warn", "error"); err != nil {
		return err
	}

	return nil
}

// EmbeddingTimeout returns the parsed embedding timeout.
func (t TimeoutsConfig) EmbeddingTimeout() time.Duration {
	return parseDuration(t.Embedding, 10*time.Second)
}

// GenerationTimeout returns the parsed generation timeout.
func (t TimeoutsConfig) GenerationTimeout() time.Duration {
	return parseDuration(t.Generation, 30*time.Second)
}

// IndexQueryTimeout returns the parsed index query timeout.
func (t TimeoutsConfig) IndexQueryTimeout() time.Duration {
	return parseDuration(t.IndexQuery, 5*time.Second)
}

// RerankTimeout returns the parsed rerank timeout.
func (t TimeoutsConfig) RerankTimeout() time.Duration {
	return parseDuration(t.Rerank, 30*time.Second)
}

// WriteYAML writes the configuration to path.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func oneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if strings.EqualFold(value, a) {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s, got %q", field, strings.Join(allowed, ", "), value)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
