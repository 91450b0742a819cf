package domain

import "time"

// ConfidencePolicy holds the tunable constants of the evidence confidence formula.
type ConfidencePolicy struct {
	PerSourceBonus float64
	SourceBonusCap float64
	HighScoreBonus float64
	HighScoreBar   float64
}

func DefaultConfidencePolicy() ConfidencePolicy {
	return ConfidencePolicy{
		PerSourceBonus: 0.05,
		SourceBonusCap: 0.2,
		HighScoreBonus: 0.1,
		HighScoreBar:   0.8,
	}
}

// PipelineLimits configures the question pipeline. Zero values are replaced by defaults.
type PipelineLimits struct {
	DefaultTopK           int
	DefaultScoreThreshold float64
	AcceptanceBar         float64

	GeneralKnowledgeConfidence float64
	PreviewConfidence          float64
	PreviewChars               int

	EmbedTimeout     time.Duration
	RetrieveTimeout  time.Duration
	SynthesisTimeout time.Duration
	EnhanceTimeout   time.Duration
	WriteTimeout     time.Duration

	PersistWebAnswers bool

	Confidence ConfidencePolicy
}

func (l PipelineLimits) WithDefaults() PipelineLimits {
	if l.DefaultTopK <= 0 {
		l.DefaultTopK = 3
	}
	if l.DefaultScoreThreshold <= 0 {
		l.DefaultScoreThreshold = 0.7
	}
	if l.AcceptanceBar <= 0 {
		l.AcceptanceBar = 0.5
	}
	if l.GeneralKnowledgeConfidence <= 0 {
		l.GeneralKnowledgeConfidence = 0.75
	}
	if l.PreviewConfidence <= 0 {
		l.PreviewConfidence = 0.4
	}
	if l.PreviewChars <= 0 {
		l.PreviewChars = 400
	}
	if l.EmbedTimeout <= 0 {
		l.EmbedTimeout = 10 * time.Second
	}
	if l.RetrieveTimeout <= 0 {
		l.RetrieveTimeout = 10 * time.Second
	}
	if l.SynthesisTimeout <= 0 {
		l.SynthesisTimeout = 90 * time.Second
	}
	if l.EnhanceTimeout <= 0 {
		l.EnhanceTimeout = 60 * time.Second
	}
	if l.WriteTimeout <= 0 {
		l.WriteTimeout = 5 * time.Second
	}
	if l.Confidence == (ConfidencePolicy{}) {
		l.Confidence = DefaultConfidencePolicy()
	}
	return l
}
