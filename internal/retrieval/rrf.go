package retrieval

import (
	"sort"

	"github.com/echointellect/rag/internal/models"
)

// Fusion defaults.
const (
	DefaultRRFK   = 60
	WeightDense   = 0.6
	WeightLexical = 0.4
)

// SourceFused marks records produced by rank fusion.
const SourceFused = "rrf_merged"

// RankedList is one input to RRF fusion.
type RankedList struct {
	Name    string
	Weight  float64
	Results []models.RetrievalResult
}

type fusedEntry struct {
	record models.RetrievalResult
	score  float64
	ranks  map[string]int
	seen   int
}

// FuseRRF merges ranked lists by weighted reciprocal rank: each record
// scores sum(w_i / (k + rank_i)) over the lists containing it, rank
// 1-based. Output is sorted by descending fused score; ties keep
// first-occurrence order across the lists in input order.
func FuseRRF(lists []RankedList, k int) []models.RetrievalResult {
	if k <= 0 {
		k = DefaultRRFK
	}

	order := make([]string, 0)
	entries := make(map[string]*fusedEntry)
	seen := 0
	for _, list := range lists {
		for rank, r := range list.Results {
			if r.DataID == "" {
				continue
			}
			e, ok := entries[r.DataID]
			if !ok {
				e = &fusedEntry{record: r, ranks: make(map[string]int, len(lists)), seen: seen}
				seen++
				entries[r.DataID] = e
				order = append(order, r.DataID)
			}
			e.score += list.Weight / float64(k+rank+1)
			e.ranks[list.Name] = rank + 1
		}
	}

	out := make([]models.RetrievalResult, 0, len(order))
	for _, id := range order {
		e := entries[id]
		r := e.record
		meta := make(map[string]interface{}, len(r.Metadata)+2)
		for key, v := range r.Metadata {
			meta[key] = v
		}
		meta["source_ranks"] = e.ranks
		meta["rrf_score"] = e.score
		r.Metadata = meta
		r.Score = e.score
		r.Source = SourceFused
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}
