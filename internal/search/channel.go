package search

import "sort"

// mergeVariants folds the result lists that several query variants
// produced on one channel into a single ranked list. Documents are merged
// by identity keeping their best score, first seen on ties. The merged
// list is sorted by descending score (stable), re-ranked 1..n and cut to
// topK.
func mergeVariants(lists [][]ChannelResult, source Source, topK int, identity IdentityPolicy) []ChannelResult {
	if topK <= 0 {
		return []ChannelResult{}
	}

	merged := make([]ChannelResult, 0)
	byKey := make(map[string]int)
	ordinal := 0

	for _, list := range lists {
		for _, r := range list {
			key := identity.DocumentKey(r.Document, source, ordinal)
			ordinal++

			if idx, ok := byKey[key]; ok {
				if r.Score > merged[idx].Score {
					merged[idx].Document = r.Document
					merged[idx].Score = r.Score
				}
				continue
			}
			byKey[key] = len(merged)
			merged = append(merged, ChannelResult{Document: r.Document, Score: r.Score, Source: source})
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})
	if len(merged) > topK {
		merged = merged[:topK]
	}
	for i := range merged {
		merged[i].Rank = i + 1
	}
	return merged
}
