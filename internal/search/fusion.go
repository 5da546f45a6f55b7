package search

import (
	"fmt"
	"sort"
	"strconv"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// FusionEngine merges ranked channel lists with Reciprocal Rank Fusion.
//
// Algorithm: RRF_score(d) = Σ 1 / (k + rank_i(d))
//
// Where rank_i is the 1-based rank of d in list i; lists without d add
// nothing. Only ranks are used, so BM25 scores and cosine similarities
// never meet. Ties keep first-encounter order.
type FusionEngine struct {
	k        int
	identity IdentityPolicy
}

// NewFusionEngine creates an engine with smoothing constant k. If k <= 0,
// DefaultFusionK is used. An empty identity policy means content hash.
func NewFusionEngine(k int, identity IdentityPolicy) *FusionEngine {
	if k <= 0 {
		k = DefaultFusionK
	}
	if identity == "" {
		identity = IdentityContentHash
	}
	return &FusionEngine{k: k, identity: identity}
}

// K returns the smoothing constant.
func (f *FusionEngine) K() int {
	return f.k
}

// Fuse combines the BM25 and dense channel lists.
func (f *FusionEngine) Fuse(bm25, dense []ChannelResult) ([]FusedResult, error) {
	return f.FuseLists(bm25, dense)
}

// FuseLists combines any number of ranked lists. Results are sorted by
// RRFScore descending and numbered 1..N in FusionRank. A rank below 1 or
// an unknown source is a contract violation and returns ERR_407 with no
// results.
func (f *FusionEngine) FuseLists(lists ...[]ChannelResult) ([]FusedResult, error) {
	total := 0
	for _, l := range lists {
		total += len(l)
	}
	if total == 0 {
		return []FusedResult{}, nil
	}

	fused := make([]FusedResult, 0, total)
	byKey := make(map[string]int, total)
	ordinal := 0

	for li, list := range lists {
		for _, r := range list {
			if err := validateChannelResult(r, li); err != nil {
				return nil, err
			}

			key := f.identity.DocumentKey(r.Document, r.Source, ordinal)
			ordinal++

			idx, ok := byKey[key]
			if !ok {
				idx = len(fused)
				byKey[key] = idx
				fused = append(fused, FusedResult{Document: r.Document, Key: key})
			}
			entry := &fused[idx]
			entry.RRFScore += 1.0 / float64(f.k+r.Rank)
			if !entry.HasSource(r.Source) {
				entry.Sources = append(entry.Sources, r.Source)
			}
		}
	}

	sort.SliceStable(fused, func(i, j int) bool {
		return fused[i].RRFScore > fused[j].RRFScore
	})
	for i := range fused {
		fused[i].FusionRank = i + 1
	}
	return fused, nil
}

func validateChannelResult(r ChannelResult, list int) error {
	if r.Rank < 1 {
		return amerrors.ContractError(fmt.Sprintf("channel result has rank %d; ranks start at 1", r.Rank)).
			WithDetail("list", strconv.Itoa(list)).
			WithDetail("source", string(r.Source))
	}
	switch r.Source {
	case SourceBM25, SourceDense:
		return nil
	default:
		return amerrors.ContractError(fmt.Sprintf("channel result has unknown source %q", r.Source)).
			WithDetail("list", strconv.Itoa(list))
	}
}
