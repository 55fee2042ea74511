package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/qaforge/internal/model"
)

// MemoryStore keeps runs in process memory. Runs are copied on the way
// in and out so callers never share state with the store.
type MemoryStore struct {
	mu    sync.RWMutex
	runs  map[string]*model.Run
	pairs map[string][]model.QAPair
}

// NewMemory returns an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		runs:  make(map[string]*model.Run),
		pairs: make(map[string][]model.QAPair),
	}
}

func (m *MemoryStore) Migrate(context.Context) error { return nil }
func (m *MemoryStore) Close() error                  { return nil }

func (m *MemoryStore) CreateRun(_ context.Context, input model.RunInput) (*model.Run, error) {
	now := time.Now().UTC()
	r := &model.Run{
		ID:        uuid.New().String(),
		Input:     input,
		Status:    model.RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	m.runs[r.ID] = r
	m.mu.Unlock()

	return cloneRun(r)
}

func (m *MemoryStore) UpdateRunStatus(_ context.Context, runID string, status model.RunStatus, stage string) error {
	return m.update(runID, func(r *model.Run) {
		r.Status = status
		r.Stage = stage
	})
}

func (m *MemoryStore) SaveResult(_ context.Context, runID string, result *model.Result) error {
	cp, err := cloneResult(result)
	if err != nil {
		return err
	}
	if err := m.update(runID, func(r *model.Run) {
		r.Result = cp
		r.Status = model.RunStatusComplete
		r.Stage = ""
		r.Error = ""
	}); err != nil {
		return err
	}

	var pairs []model.QAPair
	pairs = append(pairs, result.Pairs...)
	pairs = append(pairs, result.Synthetic...)

	m.mu.Lock()
	m.pairs[runID] = pairs
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) FailRun(_ context.Context, runID string, msg string) error {
	return m.update(runID, func(r *model.Run) {
		r.Status = model.RunStatusFailed
		r.Error = msg
	})
}

func (m *MemoryStore) GetRun(_ context.Context, runID string) (*model.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.runs[runID]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "memory: get run %s", runID)
	}
	return cloneRun(r)
}

func (m *MemoryStore) ListRuns(_ context.Context, filter model.RunFilter) ([]model.Run, error) {
	m.mu.RLock()
	var matched []*model.Run
	for _, r := range m.runs {
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		matched = append(matched, r)
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if filter.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[filter.Offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}

	runs := make([]model.Run, 0, len(matched))
	for _, r := range matched {
		cp, err := cloneRun(r)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *cp)
	}
	return runs, nil
}

func (m *MemoryStore) ListPairs(_ context.Context, runID string) ([]model.QAPair, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.QAPair(nil), m.pairs[runID]...), nil
}

func (m *MemoryStore) update(runID string, fn func(*model.Run)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[runID]
	if !ok {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	fn(r)
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func cloneRun(r *model.Run) (*model.Run, error) {
	cp := *r
	if r.Result != nil {
		res, err := cloneResult(r.Result)
		if err != nil {
			return nil, err
		}
		cp.Result = res
	}
	cp.Input.Sources = append([]string(nil), r.Input.Sources...)
	return &cp, nil
}

func cloneResult(res *model.Result) (*model.Result, error) {
	if res == nil {
		return nil, nil
	}
	b, err := json.Marshal(res)
	if err != nil {
		return nil, eris.Wrap(err, "memory: marshal result")
	}
	var cp model.Result
	if err := json.Unmarshal(b, &cp); err != nil {
		return nil, eris.Wrap(err, "memory: unmarshal result")
	}
	return &cp, nil
}
