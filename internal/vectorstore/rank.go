package vectorstore

import (
	"math"
	"sort"

	"ghgrag/internal/domain"
)

// DefaultTopK is used when a caller passes a non-positive k.
const DefaultTopK = 3

// Cosine returns the cosine similarity of a and b, or 0 when either has zero
// magnitude. Extra trailing components of the longer vector are ignored.
func Cosine(a, b []float64) float64 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	s := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if math.IsNaN(s) {
		return 0
	}
	return s
}

// Rank orders results by descending score, ties by ascending position, and
// truncates to topK.
func Rank(results []domain.SearchResult, topK int) []domain.SearchResult {
	if topK <= 0 {
		topK = DefaultTopK
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Position < results[j].Position
	})
	if topK < len(results) {
		results = results[:topK]
	}
	return results
}
