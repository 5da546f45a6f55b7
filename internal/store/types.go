// Package store holds the document model and the two retrieval indices:
// the in-memory BM25-Okapi lexical index and the vector index backends.
package store

import (
	"context"
	"errors"
	"fmt"
)

// Recognized metadata keys.
const (
	MetaDocID      = "doc_id"
	MetaParentID   = "parent_id"
	MetaSource     = "source"
	MetaChunkIndex = "chunk_index"
)

// Document is an immutable unit of retrievable content.
type Document struct {
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Meta returns the metadata value for key, or "" if unset.
func (d Document) Meta(key string) string {
	if d.Metadata == nil {
		return ""
	}
	return d.Metadata[key]
}

// VectorHit is one nearest neighbour returned by a VectorIndex.
type VectorHit struct {
	Document Document
	// Distance is the cosine distance in [0, 2]; 0 means identical direction.
	Distance float64
}

// VectorIndex is the query contract for persistent embedding indices.
// Query returns hits ordered by ascending distance.
type VectorIndex interface {
	Query(ctx context.Context, embedding []float32, k int) ([]VectorHit, error)

	// Count returns the number of live entries.
	Count(ctx context.Context) (int, error)

	Close() error
}

// IndexStats describes a built lexical index.
type IndexStats struct {
	DocumentCount int     `json:"document_count"`
	TermCount     int     `json:"term_count"`
	AvgDocLength  float64 `json:"avg_doc_length"`
}

// ErrIndexClosed is returned by operations on a closed index.
var ErrIndexClosed = errors.New("index is closed")

// ErrAlreadyBuilt is returned when a build-once index is built twice.
var ErrAlreadyBuilt = errors.New("index already built")

// ErrDimensionMismatch indicates vector dimensions don't match.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
