// Package store persists generation runs and their QA pairs.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/qaforge/internal/config"
	"github.com/sells-group/qaforge/internal/model"
)

// ErrNotFound is returned when a run id does not exist.
var ErrNotFound = eris.New("store: run not found")

// Store defines the persistence interface for generation runs.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, input model.RunInput) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus, stage string) error
	SaveResult(ctx context.Context, runID string, result *model.Result) error
	FailRun(ctx context.Context, runID string, msg string) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter model.RunFilter) ([]model.Run, error)

	// Pairs
	ListPairs(ctx context.Context, runID string) ([]model.QAPair, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open builds the store named by cfg.Driver and migrates it.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case "", "sqlite":
		dsn := cfg.DatabaseURL
		if dsn == "" {
			dsn = "qaforge.db"
		}
		s, err = NewSQLite(dsn)
	case "postgres":
		s, err = NewPostgres(ctx, cfg.DatabaseURL, nil)
	case "memory":
		s = NewMemory()
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

const defaultListLimit = 100

var pairColumns = []string{
	"run_id", "position", "question", "answer", "is_correct", "confidence",
	"provenance", "validation", "validation_confidence", "gap_id",
}

// pairRows flattens original then synthetic pairs into insert rows.
func pairRows(runID string, result *model.Result) [][]any {
	all := make([]model.QAPair, 0, len(result.Pairs)+len(result.Synthetic))
	all = append(all, result.Pairs...)
	all = append(all, result.Synthetic...)

	rows := make([][]any, 0, len(all))
	for i, p := range all {
		rows = append(rows, []any{
			runID, i, p.Question, p.Answer, p.IsCorrect, p.Confidence,
			string(p.Provenance), string(p.Validation), p.ValidationConfidence, p.GapID,
		})
	}
	return rows
}
