package qdrant

import (
	"hash/fnv"
	"math"
	"sort"

	"github.com/kirillkom/fso-faq-assistant/internal/core/language"
)

type sparseVector struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

const (
	docBM25K1      = 1.2
	queryBM25K     = 1.2
	questionBoost  = 1.5
	maxSparseTerms = 256
)

// encodeSparseDocument weights question terms above answer terms so that
// paraphrased questions match the stored question first.
func encodeSparseDocument(question, answer string) sparseVector {
	termFreq := make(map[uint32]float64, 64)
	appendTermFreq(termFreq, tokenize(answer), 1.0)
	appendTermFreq(termFreq, tokenize(question), questionBoost)
	return termFreqToSparse(termFreq, docBM25K1)
}

func encodeSparseQuery(query string) sparseVector {
	termFreq := make(map[uint32]float64, 32)
	appendTermFreq(termFreq, tokenize(query), 1.0)
	return termFreqToSparse(termFreq, queryBM25K)
}

func appendTermFreq(dst map[uint32]float64, tokens []string, tokenWeight float64) {
	for _, token := range tokens {
		if token == "" {
			continue
		}
		dst[hashToken(token)] += tokenWeight
	}
}

// termFreqToSparse applies BM25 saturation, keeps the heaviest terms and L2-normalizes,
// so the dot product of two encoded vectors stays within [0,1].
func termFreqToSparse(tf map[uint32]float64, k float64) sparseVector {
	if len(tf) == 0 {
		return sparseVector{}
	}
	indices := make([]uint32, 0, len(tf))
	weights := make(map[uint32]float64, len(tf))
	for idx, tfValue := range tf {
		weight := (tfValue * (k + 1.0)) / (tfValue + k)
		if math.IsNaN(weight) || math.IsInf(weight, 0) || weight <= 0 {
			continue
		}
		weights[idx] = weight
		indices = append(indices, idx)
	}
	if len(indices) == 0 {
		return sparseVector{}
	}
	if len(indices) > maxSparseTerms {
		sort.Slice(indices, func(i, j int) bool {
			if weights[indices[i]] != weights[indices[j]] {
				return weights[indices[i]] > weights[indices[j]]
			}
			return indices[i] < indices[j]
		})
		indices = indices[:maxSparseTerms]
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	var norm float64
	for _, idx := range indices {
		norm += weights[idx] * weights[idx]
	}
	norm = math.Sqrt(norm)

	values := make([]float32, 0, len(indices))
	for _, idx := range indices {
		values = append(values, float32(weights[idx]/norm))
	}
	return sparseVector{Indices: indices, Values: values}
}

func hashToken(token string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(token))
	sum := h.Sum32()
	if sum == 0 {
		return 1
	}
	return sum
}

// tokenize folds case and diacritics, so "Inscription" and "inscription" share a term
// and Arabic or Tifinagh words are kept intact.
func tokenize(s string) []string {
	if s == "" {
		return nil
	}
	return language.Words(language.Fold(s))
}
