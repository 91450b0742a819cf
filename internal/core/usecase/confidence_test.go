package usecase

import (
	"math"
	"testing"

	"github.com/kirillkom/fso-faq-assistant/internal/core/domain"
)

func TestNormalizeScore(t *testing.T) {
	if NormalizeScore(92.0) != NormalizeScore(0.92) {
		t.Fatalf("92.0 and 0.92 must normalize to the same value")
	}
	if got := NormalizeScore(0.92); got != 0.92 {
		t.Fatalf("NormalizeScore(0.92) = %v", got)
	}
	if got := NormalizeScore(1.0); got != 1.0 {
		t.Fatalf("NormalizeScore(1.0) = %v", got)
	}
}

func TestComputeConfidence(t *testing.T) {
	policy := domain.DefaultConfidencePolicy()
	cases := []struct {
		name   string
		scores []float64
		want   float64
	}{
		{name: "empty", scores: nil, want: 0},
		{name: "dean question hits", scores: []float64{85, 40, 30}, want: 0.67},
		{name: "single high score capped", scores: []float64{0.95}, want: 1},
		{name: "source bonus capped", scores: []float64{0.1, 0.1, 0.1, 0.1, 0.1, 0.1}, want: 0.3},
		{name: "high score bonus", scores: []float64{0.82, 0.84}, want: 1},
		{name: "bar is exclusive", scores: []float64{0.8}, want: 0.85},
		{name: "mixed scales", scores: []float64{92.0, 0.92}, want: 1},
		{name: "low scores", scores: []float64{0.3, 0.25}, want: 0.38},
	}
	for _, tc := range cases {
		got := ComputeConfidence(tc.scores, policy)
		if math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("%s: ComputeConfidence(%v) = %v, want %v", tc.name, tc.scores, got, tc.want)
		}
	}
}

func TestComputeConfidenceBoundsAndRounding(t *testing.T) {
	policy := domain.DefaultConfidencePolicy()
	inputs := [][]float64{
		{0.123456},
		{99.9, 0.01, 3.3},
		{0, 0, 0},
		{250},
		{0.333, 0.333, 0.334},
	}
	for _, scores := range inputs {
		got := ComputeConfidence(scores, policy)
		if got < 0 || got > 1 {
			t.Fatalf("confidence out of bounds for %v: %v", scores, got)
		}
		if math.Abs(got*100-math.Round(got*100)) > 1e-9 {
			t.Fatalf("confidence not rounded to 2 decimals for %v: %v", scores, got)
		}
	}
}
