package pipeline

import (
	"time"

	"github.com/sells-group/qaforge/internal/config"
	"github.com/sells-group/qaforge/internal/ingest"
)

// Settings are the generation tunables shared by every run.
type Settings struct {
	PairCount       int
	BatchSize       int
	IncorrectRatio  float64
	MaxGaps         int
	SyntheticPerGap int
	// InterCallDelay paces the per-gap and per-pair loops.
	InterCallDelay time.Duration
	// ValidationThreshold is the minimum validator confidence for a
	// synthetic pair to be accepted.
	ValidationThreshold    float64
	MinContentChars        int
	ValidationContextChars int
	MaxOutputTokens        int
	Temperature            float64
}

// DefaultSettings mirrors the configuration defaults.
func DefaultSettings() Settings {
	return Settings{
		PairCount:              100,
		BatchSize:              50,
		IncorrectRatio:         0.08,
		MaxGaps:                8,
		SyntheticPerGap:        5,
		InterCallDelay:         750 * time.Millisecond,
		ValidationThreshold:    0.7,
		MinContentChars:        300,
		ValidationContextChars: 8000,
		MaxOutputTokens:        8192,
		Temperature:            0.7,
	}
}

// SettingsFromConfig converts the pipeline config section, falling back to
// defaults for unset values. The inter-call delay is taken as given, so 0
// disables pacing.
func SettingsFromConfig(cfg config.PipelineConfig) Settings {
	s := DefaultSettings()
	if cfg.QAPairCount > 0 {
		s.PairCount = cfg.QAPairCount
	}
	if cfg.QABatchSize > 0 {
		s.BatchSize = cfg.QABatchSize
	}
	if cfg.IncorrectRatio > 0 {
		s.IncorrectRatio = cfg.IncorrectRatio
	}
	if cfg.MaxGaps > 0 {
		s.MaxGaps = cfg.MaxGaps
	}
	if cfg.SyntheticPerGap > 0 {
		s.SyntheticPerGap = cfg.SyntheticPerGap
	}
	if cfg.InterCallDelayMs >= 0 {
		s.InterCallDelay = time.Duration(cfg.InterCallDelayMs) * time.Millisecond
	}
	if cfg.ValidationThreshold > 0 {
		s.ValidationThreshold = cfg.ValidationThreshold
	}
	if cfg.MinContentChars > 0 {
		s.MinContentChars = cfg.MinContentChars
	}
	if cfg.ValidationContextChars > 0 {
		s.ValidationContextChars = cfg.ValidationContextChars
	}
	if cfg.MaxOutputTokens > 0 {
		s.MaxOutputTokens = cfg.MaxOutputTokens
	}
	if cfg.Temperature > 0 {
		s.Temperature = cfg.Temperature
	}
	return s
}

// Input is one generation request.
type Input struct {
	// RunID ties the run to a stored record. Empty means Run creates one.
	RunID   string
	Sources []ingest.Source
	// PairCount overrides Settings.PairCount when > 0.
	PairCount    int
	Augmentation bool
	GapFilling   bool
}

func (in Input) sourceNames() []string {
	names := make([]string, 0, len(in.Sources))
	for _, s := range in.Sources {
		names = append(names, s.Label())
	}
	return names
}
