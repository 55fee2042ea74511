package model

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Provenance records where a QA pair came from.
type Provenance string

const (
	ProvenanceOriginal  Provenance = "original"
	ProvenanceSynthetic Provenance = "synthetic"
)

// ValidationStatus tracks cross-validation of a synthetic pair.
type ValidationStatus string

const (
	ValidationNone      ValidationStatus = ""
	ValidationPending   ValidationStatus = "pending"
	ValidationValidated ValidationStatus = "validated"
	ValidationRejected  ValidationStatus = "rejected"
	ValidationFailed    ValidationStatus = "failed"
)

// Default confidences applied when a provider omits one.
const (
	DefaultCorrectConfidence   = 0.9
	DefaultIncorrectConfidence = 0.2
)

// QAPair is a single labeled question/answer record.
type QAPair struct {
	Question             string           `json:"question"`
	Answer               string           `json:"answer"`
	IsCorrect            bool             `json:"is_correct"`
	Confidence           float64          `json:"confidence"`
	Provenance           Provenance       `json:"provenance"`
	Validation           ValidationStatus `json:"validation,omitempty"`
	ValidationConfidence float64          `json:"validation_confidence,omitempty"`
	ValidationReasoning  string           `json:"validation_reasoning,omitempty"`
	GapID                string           `json:"gap_id,omitempty"`
}

// Valid reports whether both question and answer carry text and the
// confidence lies in [0,1].
func (p QAPair) Valid() bool {
	return strings.TrimSpace(p.Question) != "" &&
		strings.TrimSpace(p.Answer) != "" &&
		p.Confidence >= 0 && p.Confidence <= 1
}

// DedupeKey normalizes the question for duplicate detection.
func (p QAPair) DedupeKey() string {
	q := norm.NFC.String(strings.ToLower(strings.TrimSpace(p.Question)))
	return strings.Join(strings.Fields(q), " ")
}

// DefaultConfidence returns the confidence assumed for a pair whose
// provider response had none.
func DefaultConfidence(isCorrect bool) float64 {
	if isCorrect {
		return DefaultCorrectConfidence
	}
	return DefaultIncorrectConfidence
}

// ClampConfidence bounds c to [0,1].
func ClampConfidence(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}

// GapPriority ranks a knowledge gap.
type GapPriority string

const (
	PriorityHigh   GapPriority = "high"
	PriorityMedium GapPriority = "medium"
	PriorityLow    GapPriority = "low"
)

// ParsePriority maps free-form priority text to a GapPriority. Anything
// unrecognized becomes medium.
func ParsePriority(s string) GapPriority {
	switch GapPriority(strings.ToLower(strings.TrimSpace(s))) {
	case PriorityHigh:
		return PriorityHigh
	case PriorityLow:
		return PriorityLow
	default:
		return PriorityMedium
	}
}

// KnowledgeGap is an area under-represented in the generated pairs.
// Gaps are created by gap analysis and never mutated afterwards.
type KnowledgeGap struct {
	ID                     string      `json:"id"`
	Description            string      `json:"description"`
	Theme                  string      `json:"theme"`
	Priority               GapPriority `json:"priority"`
	SuggestedQuestionTypes []string    `json:"suggested_question_types,omitempty"`
	RelatedConcepts        []string    `json:"related_concepts,omitempty"`
}

// GroundingSource is a web citation returned by a search-enabled call.
type GroundingSource struct {
	Title string `json:"title,omitempty"`
	URI   string `json:"uri"`
}
