package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/coder/hnsw"
	"github.com/gofrs/flock"
)

// HNSWConfig configures the local HNSW vector index.
type HNSWConfig struct {
	Dimensions int
	M          int
	EfSearch   int
}

// VectorEntry is one document and its embedding to add to an HNSWIndex.
type VectorEntry struct {
	ID       string
	Document Document
	Vector   []float32
}

// HNSWIndex is a local cosine-distance vector index on coder/hnsw.
// Documents are stored next to the graph so Query can return content and
// metadata without a second lookup.
type HNSWIndex struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config HNSWConfig

	idMap   map[string]uint64
	docs    map[uint64]Document
	nextKey uint64

	closed bool
}

// hnswMetadata is the gob sidecar persisted next to the graph file.
type hnswMetadata struct {
	IDMap   map[string]uint64
	Docs    map[uint64]Document
	NextKey uint64
	Config  HNSWConfig
}

// NewHNSWIndex creates an empty index.
func NewHNSWIndex(cfg HNSWConfig) *HNSWIndex {
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20
	}

	return &HNSWIndex{
		graph:  newGraph(cfg),
		config: cfg,
		idMap:  make(map[string]uint64),
		docs:   make(map[uint64]Document),
	}
}

func newGraph(cfg HNSWConfig) *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = cfg.M
	g.EfSearch = cfg.EfSearch
	g.Ml = 0.25
	return g
}

// OpenHNSWIndex loads an index previously written by Save.
func OpenHNSWIndex(path string) (*HNSWIndex, error) {
	idx := NewHNSWIndex(HNSWConfig{})
	if err := idx.Load(path); err != nil {
		return nil, err
	}
	return idx, nil
}

// Add inserts entries. Re-adding an ID orphans the old node instead of
// deleting it from the graph.
func (s *HNSWIndex) Add(ctx context.Context, entries []VectorEntry) error {
	if len(entries) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrIndexClosed
	}

	if s.config.Dimensions == 0 {
		s.config.Dimensions = len(entries[0].Vector)
	}
	for _, e := range entries {
		if len(e.Vector) != s.config.Dimensions {
			return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(e.Vector)}
		}
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if old, exists := s.idMap[e.ID]; exists {
			delete(s.docs, old)
		}

		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(e.Vector))
		copy(vec, e.Vector)
		normalizeVectorInPlace(vec)

		s.graph.Add(hnsw.MakeNode(key, vec))
		s.idMap[e.ID] = key
		s.docs[key] = e.Document
	}
	return nil
}

// Query returns up to k nearest documents by ascending cosine distance.
func (s *HNSWIndex) Query(ctx context.Context, embedding []float32, k int) ([]VectorHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrIndexClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(s.docs) == 0 || k <= 0 {
		return []VectorHit{}, nil
	}
	if len(embedding) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(embedding)}
	}

	query := make([]float32, len(embedding))
	copy(query, embedding)
	normalizeVectorInPlace(query)

	// Orphaned nodes may occupy result slots; over-fetch to compensate
	fetch := k
	if orphans := s.graph.Len() - len(s.docs); orphans > 0 {
		fetch += orphans
	}

	nodes := s.graph.Search(query, fetch)
	hits := make([]VectorHit, 0, len(nodes))
	for _, node := range nodes {
		doc, live := s.docs[node.Key]
		if !live {
			continue
		}
		hits = append(hits, VectorHit{
			Document: doc,
			Distance: float64(s.graph.Distance(query, node.Value)),
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Distance < hits[j].Distance
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Count returns the number of live documents.
func (s *HNSWIndex) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrIndexClosed
	}
	return len(s.docs), nil
}

// Documents returns all live documents in insertion order.
func (s *HNSWIndex) Documents() []Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([]Document, 0, len(s.docs))
	for key := uint64(0); key < s.nextKey; key++ {
		if doc, ok := s.docs[key]; ok {
			docs = append(docs, doc)
		}
	}
	return docs
}

// Save writes the graph to path and the metadata to path+".meta".
// An exclusive lock on path+".lock" is held while writing.
func (s *HNSWIndex) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrIndexClosed
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock index: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}
	if err := s.graph.Export(file); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to export graph: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close index file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename index file: %w", err)
	}

	return s.saveMetadata(path + ".meta")
}

func (s *HNSWIndex) saveMetadata(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp metadata file: %w", err)
	}

	meta := hnswMetadata{
		IDMap:   s.idMap,
		Docs:    s.docs,
		NextKey: s.nextKey,
		Config:  s.config,
	}
	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close metadata file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// Load replaces the index contents with the files written by Save.
// A shared lock on path+".lock" is held while reading.
func (s *HNSWIndex) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrIndexClosed
	}

	lock := flock.New(path + ".lock")
	if err := lock.RLock(); err != nil {
		return fmt.Errorf("failed to lock index: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	meta, err := loadHNSWMetadata(path + ".meta")
	if err != nil {
		return fmt.Errorf("failed to load metadata: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open index file: %w", err)
	}
	defer file.Close()

	graph := newGraph(meta.Config)
	// Import needs an io.ByteReader
	if err := graph.Import(bufio.NewReader(file)); err != nil {
		return fmt.Errorf("failed to import graph: %w", err)
	}

	s.graph = graph
	s.config = meta.Config
	s.idMap = meta.IDMap
	s.docs = meta.Docs
	s.nextKey = meta.NextKey
	if s.idMap == nil {
		s.idMap = make(map[string]uint64)
	}
	if s.docs == nil {
		s.docs = make(map[uint64]Document)
	}
	return nil
}

func loadHNSWMetadata(path string) (*hnswMetadata, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open metadata file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Warn("hnsw_metadata_close_failed", slog.String("error", err.Error()))
		}
	}()

	var meta hnswMetadata
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode hnsw metadata: %w", err)
	}
	return &meta, nil
}

// Close releases resources.
func (s *HNSWIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.graph = nil
	return nil
}

var _ VectorIndex = (*HNSWIndex)(nil)

// normalizeVectorInPlace normalizes a vector to unit length in place.
func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}
