package usecase

import (
	"math"

	"github.com/kirillkom/fso-faq-assistant/internal/core/domain"
)

// NormalizeScore maps retriever scores above 1 onto [0,1] by dividing by 100.
func NormalizeScore(score float64) float64 {
	if score > 1 {
		return score / 100
	}
	return score
}

// ComputeConfidence averages normalized evidence scores, adds the source-count bonus and
// the high-score bonus, caps at 1 and rounds to two decimals.
func ComputeConfidence(scores []float64, policy domain.ConfidencePolicy) float64 {
	if len(scores) == 0 {
		return 0
	}
	var sum float64
	for _, s := range scores {
		sum += NormalizeScore(s)
	}
	avg := sum / float64(len(scores))

	bonus := math.Min(policy.PerSourceBonus*float64(len(scores)), policy.SourceBonusCap)
	if avg > policy.HighScoreBar {
		bonus += policy.HighScoreBonus
	}
	value := math.Min(avg+bonus, 1)
	value = math.Max(value, 0)
	return math.Round(value*100) / 100
}

func hitScores(hits []domain.RetrievedHit) []float64 {
	scores := make([]float64, len(hits))
	for i, h := range hits {
		scores[i] = h.Score
	}
	return scores
}
