package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/qdrant/go-client/qdrant"
)

// ContentPayloadKey is the payload field holding document content.
const ContentPayloadKey = "content"

// QdrantConfig configures the Qdrant vector index.
type QdrantConfig struct {
	Host       string
	Port       int
	Collection string
	APIKey     string
}

// QdrantIndex queries an existing Qdrant collection created with cosine
// distance. Qdrant reports cosine similarity, which is mapped back to
// distance as 1 - score.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
}

// NewQdrantIndex connects to Qdrant over gRPC.
func NewQdrantIndex(cfg QdrantConfig) (*QdrantIndex, error) {
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("qdrant collection name is required")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	return &QdrantIndex{client: client, collection: cfg.Collection}, nil
}

// Query returns the k nearest points ordered by ascending distance.
func (q *QdrantIndex) Query(ctx context.Context, embedding []float32, k int) ([]VectorHit, error) {
	if k <= 0 {
		return []VectorHit{}, nil
	}

	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(embedding...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant query: %w", err)
	}

	hits := make([]VectorHit, 0, len(points))
	for _, point := range points {
		hits = append(hits, VectorHit{
			Document: payloadToDocument(point.Payload),
			Distance: 1 - float64(point.Score),
		})
	}
	return hits, nil
}

// Count returns the exact number of points in the collection.
func (q *QdrantIndex) Count(ctx context.Context) (int, error) {
	n, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: q.collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant count: %w", err)
	}
	return int(n), nil
}

// Close closes the gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

var _ VectorIndex = (*QdrantIndex)(nil)

// payloadToDocument splits a point payload into content and string metadata.
func payloadToDocument(payload map[string]*qdrant.Value) Document {
	doc := Document{Metadata: make(map[string]string, len(payload))}
	for k, v := range payload {
		if k == ContentPayloadKey {
			doc.Content = v.GetStringValue()
			continue
		}
		if s, ok := valueString(v); ok {
			doc.Metadata[k] = s
		}
	}
	return doc
}

// valueString renders scalar payload values; lists, structs and nulls are skipped.
func valueString(v *qdrant.Value) (string, bool) {
	if v == nil {
		return "", false
	}
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue, true
	case *qdrant.Value_IntegerValue:
		return strconv.FormatInt(kind.IntegerValue, 10), true
	case *qdrant.Value_DoubleValue:
		return strconv.FormatFloat(kind.DoubleValue, 'g', -1, 64), true
	case *qdrant.Value_BoolValue:
		return strconv.FormatBool(kind.BoolValue), true
	default:
		return "", false
	}
}
