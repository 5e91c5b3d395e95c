package memory

import (
	"math"
	"sort"
)

// Default search parameters used when callers pass non-positive values.
const (
	// DefaultTopK is the default maximum number of search results.
	DefaultTopK = 5

	// DefaultThreshold is the default minimum cosine similarity for a
	// candidate to appear in search results.
	DefaultThreshold = 0.3
)

// CosineSimilarity returns the cosine similarity of a and b in [-1, 1].
//
// It returns exactly 0 — not an error — when either vector is empty, the
// lengths differ, or either vector has zero norm. A defined fallback keeps
// degenerate embeddings (failed requests, padding rows) out of search results
// without poisoning the whole query.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		av := float64(a[i])
		bv := float64(b[i])
		dot += av * bv
		normA += av * av
		normB += bv * bv
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Search ranks candidates by cosine similarity to query.
//
// Candidates scoring below threshold are dropped, the remainder is sorted
// descending by similarity with ties keeping their original order (stable
// sort), and the result is truncated to at most topK entries.
//
// topK <= 0 falls back to [DefaultTopK]; threshold <= 0 falls back to
// [DefaultThreshold] (pass a small positive epsilon to effectively disable the
// filter). The scan is O(n) over candidates — candidate sets are scoped per
// project and expected to stay in the thousands, so no ANN index is used.
func Search(query []float32, candidates []EmbeddingRecord, topK int, threshold float64) []SearchResult {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	results := make([]SearchResult, 0, len(candidates))
	for _, rec := range candidates {
		sim := CosineSimilarity(query, rec.Vector)
		if sim < threshold {
			continue
		}
		results = append(results, SearchResult{Record: rec, Similarity: sim})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results
}
