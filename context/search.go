package context

import (
	"math"
	"strings"
)

// cosineSimilarity implements the §4.10 semantic-search similarity metric.
// Self-similarity is 1 (within float epsilon); orthogonal vectors are 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// tokenize splits on whitespace and lower-cases, the §4.10 keyword-search
// tokenisation rule.
func tokenize(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	return fields
}

// keywordScore scores content against searchTerms: exact-word matches score
// 1.0, substring matches score 0.5, per term; term coverage (fraction of
// terms found) is blended with content importance by the caller (spec
// §4.10 "Semantic search").
func keywordScore(content string, searchTerms []string) (score float64, covered int) {
	if len(searchTerms) == 0 {
		return 0, 0
	}
	words := make(map[string]struct{})
	for _, w := range tokenize(content) {
		words[w] = struct{}{}
	}
	lowerContent := strings.ToLower(content)

	var total float64
	for _, term := range searchTerms {
		lt := strings.ToLower(term)
		if _, exact := words[lt]; exact {
			total += 1.0
			covered++
		} else if strings.Contains(lowerContent, lt) {
			total += 0.5
			covered++
		}
	}
	return total / float64(len(searchTerms)), covered
}

// blendRelevance mixes the keyword score with the computed importance score
// (ImportanceScore) into a final relevance figure used to rank ContextItems.
func blendRelevance(keywordScore, importance float64) float64 {
	return clamp01(0.7*keywordScore + 0.3*importance)
}

// hybridScore implements the §4.10 Hybrid query_type blend: keyword weight
// 0.4, similarity weight 0.6, clamped to [0,1]. Each memory item is scored
// once with both components, so no max-merge of duplicates is applied.
func hybridScore(keyword, similarity float64) float64 {
	return clamp01(0.4*keyword + 0.6*similarity)
}

func mergeMax(scores map[string]float64, id string, score float64) {
	if existing, ok := scores[id]; !ok || score > existing {
		scores[id] = score
	}
}
