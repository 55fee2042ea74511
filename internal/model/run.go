// Package model holds the domain types shared across qaforge packages.
package model

import "time"

// RunStatus represents the current state of a generation run.
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// RunInput describes what a run was started with.
type RunInput struct {
	Sources      []string `json:"sources"`
	PairCount    int      `json:"pair_count"`
	Augmentation bool     `json:"augmentation"`
	GapFilling   bool     `json:"gap_filling"`
}

// Run is a persisted generation run.
type Run struct {
	ID        string    `json:"id"`
	Input     RunInput  `json:"input"`
	Status    RunStatus `json:"status"`
	Stage     string    `json:"stage,omitempty"`
	Result    *Result   `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	Status RunStatus
	Limit  int
	Offset int
}
