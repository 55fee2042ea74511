package model

import "time"

// StageStatus is the outcome of one pipeline stage.
type StageStatus string

const (
	StageOK       StageStatus = "ok"
	StageDegraded StageStatus = "degraded"
	StageFatal    StageStatus = "fatal"
	StageSkipped  StageStatus = "skipped"
)

// StageReport summarizes a finished stage.
type StageReport struct {
	Stage    string      `json:"stage"`
	Status   StageStatus `json:"status"`
	Duration int64       `json:"duration_ms"`
	Warning  string      `json:"warning,omitempty"`
	Usage    Usage       `json:"usage"`
}

// Stats are computed once at the end of a run.
type Stats struct {
	Total              int `json:"total"`
	Correct            int `json:"correct"`
	Incorrect          int `json:"incorrect"`
	Original           int `json:"original"`
	SyntheticGenerated int `json:"synthetic_generated"`
	Validated          int `json:"validated"`
	Rejected           int `json:"rejected"`
	ValidationFailed   int `json:"validation_failed"`
	GapsIdentified     int `json:"gaps_identified"`
	GapsAddressed      int `json:"gaps_addressed"`
	Warnings           int `json:"warnings"`
}

// Result is the aggregated output of a pipeline run.
type Result struct {
	RunID               string            `json:"run_id"`
	Pairs               []QAPair          `json:"qa_pairs"`
	Synthetic           []QAPair          `json:"synthetic_pairs,omitempty"`
	Themes              []string          `json:"themes"`
	Gaps                []KnowledgeGap    `json:"gaps,omitempty"`
	Sources             []GroundingSource `json:"sources,omitempty"`
	ContentChars        int               `json:"content_chars"`
	AugmentationEnabled bool              `json:"augmentation_enabled"`
	GapFillingEnabled   bool              `json:"gap_filling_enabled"`
	Stats               Stats             `json:"stats"`
	Stages              []StageReport     `json:"stages"`
	Usage               Usage             `json:"usage"`
	Warnings            []string          `json:"warnings,omitempty"`
	StartedAt           time.Time         `json:"started_at"`
	CompletedAt         time.Time         `json:"completed_at"`
}

// ComputeStats derives the final statistics from the result's pairs and gaps.
func ComputeStats(r *Result) Stats {
	s := Stats{
		Total:          len(r.Pairs),
		GapsIdentified: len(r.Gaps),
		Warnings:       len(r.Warnings),
	}
	for _, p := range r.Pairs {
		if p.IsCorrect {
			s.Correct++
		} else {
			s.Incorrect++
		}
		if p.Provenance == ProvenanceOriginal {
			s.Original++
		}
	}

	addressed := make(map[string]bool)
	for _, p := range r.Synthetic {
		s.SyntheticGenerated++
		switch p.Validation {
		case ValidationValidated:
			s.Validated++
			if p.GapID != "" {
				addressed[p.GapID] = true
			}
		case ValidationRejected:
			s.Rejected++
		case ValidationFailed:
			s.ValidationFailed++
		}
	}
	s.GapsAddressed = len(addressed)
	return s
}
