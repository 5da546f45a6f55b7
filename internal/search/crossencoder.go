package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Aman-CERP/amanrag/internal/config"
)

// Cross-encoder endpoint defaults.
const (
	DefaultRerankerEndpoint = "http://localhost:9659"
	DefaultRerankerModel    = "reranker-small"
	DefaultRerankerTimeout  = 30 * time.Second
)

// RerankAPI selects the wire format spoken by the /rerank endpoint.
type RerankAPI string

const (
	// RerankAPIDocuments posts {query, documents} and reads {results: [...]}.
	RerankAPIDocuments RerankAPI = "http"
	// RerankAPITEI posts {query, texts} and reads a bare [...] array
	// (Hugging Face text-embeddings-inference).
	RerankAPITEI RerankAPI = "tei"
)

// HTTPCrossEncoderConfig configures an HTTPCrossEncoder.
type HTTPCrossEncoderConfig struct {
	Endpoint string
	Model    string
	API      RerankAPI

	// RawScores requests logits and maps them through a sigmoid.
	RawScores bool

	// Instruction is passed through to endpoints that accept one.
	Instruction string

	Timeout time.Duration
}

// HTTPCrossEncoder scores passages against a /rerank HTTP endpoint.
type HTTPCrossEncoder struct {
	client *http.Client
	config HTTPCrossEncoderConfig
	mu     sync.RWMutex
	closed bool
}

var _ CrossEncoder = (*HTTPCrossEncoder)(nil)

// NewHTTPCrossEncoder creates a client. No request is made until Score
// or Available is called.
func NewHTTPCrossEncoder(cfg HTTPCrossEncoderConfig) *HTTPCrossEncoder {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultRerankerEndpoint
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if cfg.API == "" {
		cfg.API = RerankAPIDocuments
	}
	if cfg.Model == "" && cfg.API == RerankAPIDocuments {
		cfg.Model = DefaultRerankerModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRerankerTimeout
	}

	return &HTTPCrossEncoder{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		config: cfg,
	}
}

// NewCrossEncoder builds the cross-encoder named by cfg. Provider "none"
// returns a NoOpCrossEncoder.
func NewCrossEncoder(cfg config.RerankerConfig, timeout time.Duration) (CrossEncoder, error) {
	switch RerankAPI(strings.ToLower(cfg.Provider)) {
	case RerankAPIDocuments, "":
		return NewHTTPCrossEncoder(HTTPCrossEncoderConfig{
			Endpoint:    cfg.Endpoint,
			Model:       cfg.Model,
			API:         RerankAPIDocuments,
			RawScores:   cfg.RawScores,
			Instruction: cfg.Instruction,
			Timeout:     timeout,
		}), nil
	case RerankAPITEI:
		return NewHTTPCrossEncoder(HTTPCrossEncoderConfig{
			Endpoint:  cfg.Endpoint,
			Model:     cfg.Model,
			API:       RerankAPITEI,
			RawScores: cfg.RawScores,
			Timeout:   timeout,
		}), nil
	case "none":
		return NoOpCrossEncoder{}, nil
	default:
		return nil, fmt.Errorf("unsupported reranker provider: %s (supported: http, tei, none)", cfg.Provider)
	}
}

type documentsRequest struct {
	Query       string   `json:"query"`
	Documents   []string `json:"documents"`
	Model       string   `json:"model,omitempty"`
	Instruction string   `json:"instruction,omitempty"`
}

type documentsResponse struct {
	Results          []indexedScore `json:"results"`
	ProcessingTimeMs float64        `json:"processing_time_ms"`
}

type teiRequest struct {
	Query     string   `json:"query"`
	Texts     []string `json:"texts"`
	RawScores bool     `json:"raw_scores"`
	Truncate  bool     `json:"truncate"`
}

type indexedScore struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// Score posts every passage in a single request and returns scores in
// input order.
func (c *HTTPCrossEncoder) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return nil, fmt.Errorf("cross-encoder is closed")
	}
	c.mu.RUnlock()

	if len(passages) == 0 {
		return []float64{}, nil
	}

	var payload any
	switch c.config.API {
	case RerankAPITEI:
		payload = teiRequest{Query: query, Texts: passages, RawScores: c.config.RawScores, Truncate: true}
	default:
		payload = documentsRequest{
			Query:       query,
			Documents:   passages,
			Model:       c.config.Model,
			Instruction: c.config.Instruction,
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("rerank failed (status %d): %s", resp.StatusCode, string(msg))
	}

	var results []indexedScore
	var serverMs float64
	switch c.config.API {
	case RerankAPITEI:
		if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
			return nil, fmt.Errorf("failed to decode rerank response: %w", err)
		}
	default:
		var out documentsResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("failed to decode rerank response: %w", err)
		}
		results = out.Results
		serverMs = out.ProcessingTimeMs
	}

	scores, err := c.alignScores(results, len(passages))
	if err != nil {
		return nil, err
	}

	slog.Debug("cross_encoder_scored",
		slog.String("api", string(c.config.API)),
		slog.Int("passages", len(passages)),
		slog.Int("payload_bytes", len(body)),
		slog.Duration("http_request", time.Since(start)),
		slog.Float64("server_time_ms", serverMs))

	return scores, nil
}

// alignScores maps index-tagged results back to input order. Every input
// index must appear exactly once.
func (c *HTTPCrossEncoder) alignScores(results []indexedScore, n int) ([]float64, error) {
	if len(results) != n {
		return nil, fmt.Errorf("rerank returned %d results for %d passages", len(results), n)
	}
	scores := make([]float64, n)
	seen := make([]bool, n)
	for _, r := range results {
		if r.Index < 0 || r.Index >= n || seen[r.Index] {
			return nil, fmt.Errorf("rerank returned invalid index %d", r.Index)
		}
		seen[r.Index] = true
		s := r.Score
		if c.config.RawScores {
			s = sigmoid(s)
		}
		scores[r.Index] = s
	}
	return scores, nil
}

// Available checks the endpoint's /health route.
func (c *HTTPCrossEncoder) Available(ctx context.Context) bool {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return false
	}
	c.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.Endpoint+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Close releases idle connections.
func (c *HTTPCrossEncoder) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if transport, ok := c.client.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
	return nil
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
