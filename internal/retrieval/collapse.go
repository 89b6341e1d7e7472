package retrieval

import "github.com/echointellect/rag/internal/models"

// Collapse merges entries that reference the same chunk. A chunk surfaced
// by several of its vectors keeps its maximum per-vector score and its
// earliest position; every surviving record's metadata carries
// vector_count and the full score list, singletons included. Records
// already annotated keep their annotation, so Collapse(Collapse(x))
// equals Collapse(x).
func Collapse(results []models.RetrievalResult) []models.RetrievalResult {
	if len(results) == 0 {
		return results
	}

	order := make([]string, 0, len(results))
	groups := make(map[string][]models.RetrievalResult, len(results))
	for _, r := range results {
		if r.DataID == "" {
			continue
		}
		if _, seen := groups[r.DataID]; !seen {
			order = append(order, r.DataID)
		}
		groups[r.DataID] = append(groups[r.DataID], r)
	}

	out := make([]models.RetrievalResult, 0, len(order))
	for _, id := range order {
		group := groups[id]

		best := group[0]
		for _, r := range group[1:] {
			if r.Score > best.Score {
				best = r
			}
		}

		scores := make([]float64, len(group))
		for i, r := range group {
			scores[i] = r.Score
		}
		out = append(out, annotate(best, len(group), scores))
	}
	return out
}

// annotate stamps vector_count and all_scores onto a copy of the record's
// metadata. A record that already carries vector_count was collapsed
// earlier and keeps its original annotation.
func annotate(r models.RetrievalResult, count int, scores []float64) models.RetrievalResult {
	if _, done := r.Metadata["vector_count"]; done {
		return r
	}
	meta := make(map[string]interface{}, len(r.Metadata)+2)
	for k, v := range r.Metadata {
		meta[k] = v
	}
	meta["vector_count"] = count
	meta["all_scores"] = scores
	r.Metadata = meta
	return r
}
