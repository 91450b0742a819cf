package relevance

import (
	"math"
	"sort"
	"unicode/utf8"
)

const maxTFIDFFeatures = 1000

// tfidfCosine fits a unigram+bigram TF-IDF model (smoothed idf, L2-normalised rows) on
// exactly the two documents and returns their cosine similarity. ok is false when the
// vocabulary is empty.
func tfidfCosine(a, b string) (score float64, ok bool) {
	docs := [2]map[string]float64{ngramCounts(a), ngramCounts(b)}

	totals := make(map[string]float64)
	df := make(map[string]int)
	for _, counts := range docs {
		for term, n := range counts {
			totals[term] += n
			df[term]++
		}
	}
	if len(totals) == 0 {
		return 0, false
	}
	vocab := limitVocabulary(totals, maxTFIDFFeatures)

	var vecs [2]map[string]float64
	for i, counts := range docs {
		vec := make(map[string]float64, len(counts))
		var norm float64
		for term, n := range counts {
			if _, keep := vocab[term]; !keep {
				continue
			}
			idf := math.Log(float64(1+len(docs))/float64(1+df[term])) + 1
			w := n * idf
			vec[term] = w
			norm += w * w
		}
		norm = math.Sqrt(norm)
		if norm > 0 {
			for term := range vec {
				vec[term] /= norm
			}
		}
		vecs[i] = vec
	}

	for term, w := range vecs[0] {
		score += w * vecs[1][term]
	}
	return clamp01(score), true
}

func ngramCounts(text string) map[string]float64 {
	var tokens []string
	for _, w := range wordTokens(text) {
		if utf8.RuneCountInString(w) >= 2 {
			tokens = append(tokens, w)
		}
	}
	counts := make(map[string]float64, 2*len(tokens))
	for i, tok := range tokens {
		counts[tok]++
		if i+1 < len(tokens) {
			counts[tok+" "+tokens[i+1]]++
		}
	}
	return counts
}

// limitVocabulary keeps the limit most frequent terms across the corpus, ties broken alphabetically.
func limitVocabulary(totals map[string]float64, limit int) map[string]struct{} {
	terms := make([]string, 0, len(totals))
	for term := range totals {
		terms = append(terms, term)
	}
	if len(terms) > limit {
		sort.Slice(terms, func(i, j int) bool {
			if totals[terms[i]] != totals[terms[j]] {
				return totals[terms[i]] > totals[terms[j]]
			}
			return terms[i] < terms[j]
		})
		terms = terms[:limit]
	}
	vocab := make(map[string]struct{}, len(terms))
	for _, term := range terms {
		vocab[term] = struct{}{}
	}
	return vocab
}
