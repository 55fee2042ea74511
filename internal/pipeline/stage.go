// Package pipeline runs the multi-stage Q&A generation workflow: content
// preparation, theme identification, optional web augmentation, Q&A
// generation and optional gap filling with cross-validated synthetic pairs.
package pipeline

import (
	"fmt"

	"github.com/sells-group/qaforge/internal/model"
)

// Stage is one step of a generation run.
type Stage int

const (
	StageInit Stage = iota
	StagePreprocess
	StageThemeIdentification
	StageWebAugmentation
	StageQAGeneration
	StageGapAnalysis
	StageValidationContext
	StageSyntheticGeneration
	StageCrossValidation
	StageComplete
)

var stageNames = map[Stage]string{
	StageInit:                "init",
	StagePreprocess:          "preprocess",
	StageThemeIdentification: "theme_identification",
	StageWebAugmentation:     "web_augmentation",
	StageQAGeneration:        "qa_generation",
	StageGapAnalysis:         "gap_analysis",
	StageValidationContext:   "validation_context",
	StageSyntheticGeneration: "synthetic_generation",
	StageCrossValidation:     "cross_validation",
	StageComplete:            "complete",
}

func (s Stage) String() string {
	if n, ok := stageNames[s]; ok {
		return n
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// Label is the human-readable step shown while the stage runs.
func (s Stage) Label() string {
	switch s {
	case StagePreprocess:
		return "Preparing content"
	case StageThemeIdentification:
		return "Identifying themes"
	case StageWebAugmentation:
		return "Augmenting with web research"
	case StageQAGeneration:
		return "Generating Q&A pairs"
	case StageGapAnalysis:
		return "Analyzing knowledge gaps"
	case StageValidationContext:
		return "Building validation context"
	case StageSyntheticGeneration:
		return "Generating synthetic pairs"
	case StageCrossValidation:
		return "Validating synthetic pairs"
	case StageComplete:
		return "Complete"
	default:
		return ""
	}
}

// PlanStages returns the ordered stages a run executes. Init and Complete
// are states, not work, and are not part of the plan.
func PlanStages(augmentation, gapFilling bool) []Stage {
	plan := []Stage{StagePreprocess, StageThemeIdentification}
	if augmentation {
		plan = append(plan, StageWebAugmentation)
	}
	plan = append(plan, StageQAGeneration)
	if gapFilling {
		plan = append(plan,
			StageGapAnalysis,
			StageValidationContext,
			StageSyntheticGeneration,
			StageCrossValidation,
		)
	}
	return plan
}

// StageResult is the outcome of one stage: Ok with data, Degraded with
// data and a warning, or Fatal with an error. Skipped stages carry no data.
type StageResult[T any] struct {
	Status  model.StageStatus
	Data    T
	Warning string
	Err     error
}

// Ok is a stage that completed normally.
func Ok[T any](data T) StageResult[T] {
	return StageResult[T]{Status: model.StageOK, Data: data}
}

// Degraded is a stage that produced reduced output; the run continues.
func Degraded[T any](data T, warning string) StageResult[T] {
	return StageResult[T]{Status: model.StageDegraded, Data: data, Warning: warning}
}

// Fatal is a stage failure that aborts the run.
func Fatal[T any](err error) StageResult[T] {
	return StageResult[T]{Status: model.StageFatal, Err: err}
}

// Skipped is a planned stage with nothing to do.
func Skipped[T any](reason string) StageResult[T] {
	return StageResult[T]{Status: model.StageSkipped, Warning: reason}
}

// StageError is the error returned by Run when a stage is fatal.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline: %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
