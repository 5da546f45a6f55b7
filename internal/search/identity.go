package search

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/Aman-CERP/amanrag/internal/config"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// IdentityPolicy decides the merge key for documents without doc_id or
// parent_id metadata.
type IdentityPolicy string

const (
	// IdentityContentHash keys a document by a hash of its normalized
	// content, so identical passages from different channels merge.
	IdentityContentHash IdentityPolicy = config.IdentityContentHash

	// IdentityDistinct gives every result its own key, so documents
	// without metadata never merge.
	IdentityDistinct IdentityPolicy = config.IdentityDistinct
)

// DocumentKey returns the identity used to merge doc across result lists.
// doc_id wins, then parent_id, then the policy fallback. ordinal must be
// unique among the results being merged; only IdentityDistinct uses it.
func (p IdentityPolicy) DocumentKey(doc store.Document, source Source, ordinal int) string {
	if id := doc.Meta(store.MetaDocID); id != "" {
		return id
	}
	if id := doc.Meta(store.MetaParentID); id != "" {
		return id
	}
	if p == IdentityDistinct {
		return "distinct:" + string(source) + ":" + strconv.Itoa(ordinal)
	}
	return ContentHash(doc.Content)
}

// ContentHash returns "sha256:" plus the hex digest of content with
// surrounding whitespace trimmed and inner whitespace runs collapsed.
func ContentHash(content string) string {
	normalized := strings.Join(strings.Fields(content), " ")
	sum := sha256.Sum256([]byte(normalized))
	return "sha256:" + hex.EncodeToString(sum[:])
}
