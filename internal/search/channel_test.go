package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrag/internal/store"
)

func scored(src Source, entries ...any) []ChannelResult {
	out := make([]ChannelResult, 0, len(entries)/2)
	for i := 0; i < len(entries); i += 2 {
		out = append(out, ChannelResult{
			Document: doc(entries[i].(string), entries[i].(string)),
			Score:    entries[i+1].(float64),
			Rank:     len(out) + 1,
			Source:   src,
		})
	}
	return out
}

func TestMergeVariants_KeepsBestScore(t *testing.T) {
	// Given: two variant lists sharing B
	lists := [][]ChannelResult{
		scored(SourceBM25, "A", 3.0, "B", 1.0),
		scored(SourceBM25, "B", 5.0, "C", 0.5),
	}

	// When: merging
	merged := mergeVariants(lists, SourceBM25, 10, IdentityContentHash)

	// Then: B keeps 5.0 and leads; ranks are contiguous
	assert.Equal(t, []string{"B", "A", "C"}, channelIDs(merged))
	assert.InDelta(t, 5.0, merged[0].Score, 1e-12)
	for i, r := range merged {
		assert.Equal(t, i+1, r.Rank)
		assert.Equal(t, SourceBM25, r.Source)
	}
}

func TestMergeVariants_TiesKeepFirstSeen(t *testing.T) {
	lists := [][]ChannelResult{
		scored(SourceDense, "A", 0.5),
		scored(SourceDense, "B", 0.5),
	}

	merged := mergeVariants(lists, SourceDense, 10, IdentityContentHash)

	assert.Equal(t, []string{"A", "B"}, channelIDs(merged))
}

func TestMergeVariants_TruncatesToTopK(t *testing.T) {
	lists := [][]ChannelResult{
		scored(SourceBM25, "A", 3.0, "B", 2.0),
		scored(SourceBM25, "C", 2.5, "D", 1.0),
	}

	merged := mergeVariants(lists, SourceBM25, 2, IdentityContentHash)

	assert.Equal(t, []string{"A", "C"}, channelIDs(merged))
}

func TestMergeVariants_SingleListUnchanged(t *testing.T) {
	list := scored(SourceDense, "A", 0.9, "B", 0.7)

	merged := mergeVariants([][]ChannelResult{list}, SourceDense, 10, IdentityContentHash)

	assert.Equal(t, list, merged)
}

func TestMergeVariants_Empty(t *testing.T) {
	merged := mergeVariants(nil, SourceBM25, 10, IdentityContentHash)
	assert.NotNil(t, merged)
	assert.Empty(t, merged)

	merged = mergeVariants([][]ChannelResult{scored(SourceBM25, "A", 1.0)}, SourceBM25, 0, IdentityContentHash)
	assert.Empty(t, merged)
}

// =============================================================================
// Identity
// =============================================================================

func TestDocumentKey_Precedence(t *testing.T) {
	both := store.Document{Content: "x", Metadata: map[string]string{store.MetaDocID: "d", store.MetaParentID: "p"}}
	parent := store.Document{Content: "x", Metadata: map[string]string{store.MetaParentID: "p"}}
	bare := store.Document{Content: "x"}

	assert.Equal(t, "d", IdentityContentHash.DocumentKey(both, SourceBM25, 0))
	assert.Equal(t, "p", IdentityDistinct.DocumentKey(parent, SourceBM25, 0))
	assert.Equal(t, ContentHash("x"), IdentityContentHash.DocumentKey(bare, SourceBM25, 0))
	assert.Equal(t, "distinct:dense:7", IdentityDistinct.DocumentKey(bare, SourceDense, 7))
}

func TestContentHash_NormalizesWhitespace(t *testing.T) {
	h := ContentHash("a b c")

	assert.Equal(t, h, ContentHash("  a\tb\n\nc "))
	assert.NotEqual(t, h, ContentHash("a b d"))
	require.True(t, len(h) > len("sha256:"))
	assert.Equal(t, "sha256:", h[:7])
}
