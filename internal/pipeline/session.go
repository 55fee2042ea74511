package pipeline

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/qaforge/internal/estimate"
	"github.com/sells-group/qaforge/internal/model"
)

// ErrRunInProgress is returned by Start and Reset while a run is active.
var ErrRunInProgress = eris.New("pipeline: a run is already in progress")

// Runner is what a Session drives. *Orchestrator implements it.
type Runner interface {
	NewRun(ctx context.Context, in Input) (string, error)
	Run(ctx context.Context, in Input, obs Observer) (*model.Result, error)
}

// Snapshot is the caller-facing view of the session's run. On failure
// Error is set, CurrentStep is empty, Progress is 0 and Result is nil.
type Snapshot struct {
	RunID       string             `json:"run_id,omitempty"`
	Status      model.RunStatus    `json:"status,omitempty"`
	Error       *string            `json:"error"`
	CurrentStep string             `json:"current_step"`
	Progress    int                `json:"progress"`
	Estimate    *estimate.Estimate `json:"estimate,omitempty"`
	Result      *model.Result      `json:"result,omitempty"`
}

// Active reports whether the snapshot describes an unfinished run.
func (s Snapshot) Active() bool {
	return s.Status == model.RunStatusQueued || s.Status == model.RunStatusRunning
}

// Session allows a single active run at a time and tracks its progress.
type Session struct {
	runner Runner

	mu     sync.Mutex
	snap   Snapshot
	active bool
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSession creates an idle session.
func NewSession(runner Runner) *Session {
	return &Session{runner: runner}
}

// Start launches a run in the background and returns its id. The run
// outlives ctx's cancellation; use Cancel to stop it.
func (s *Session) Start(ctx context.Context, in Input) (string, error) {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return "", ErrRunInProgress
	}
	s.active = true
	s.mu.Unlock()

	id, err := s.runner.NewRun(ctx, in)
	if err != nil {
		s.mu.Lock()
		s.active = false
		s.mu.Unlock()
		return "", err
	}
	in.RunID = id

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	s.mu.Lock()
	s.snap = Snapshot{
		RunID:       id,
		Status:      model.RunStatusRunning,
		CurrentStep: "Starting",
	}
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		defer cancel()
		res, err := s.runner.Run(runCtx, in, ObserverFunc(func(p Progress) { s.observe(id, p) }))
		s.finish(id, res, err)
	}()

	zap.L().Info("pipeline: session run started", zap.String("run_id", id))
	return id, nil
}

func (s *Session) observe(id string, p Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.RunID != id {
		return
	}
	s.snap.CurrentStep = p.Message
	if p.Percent > s.snap.Progress {
		s.snap.Progress = p.Percent
	}
	est := p.Estimate
	s.snap.Estimate = &est
}

func (s *Session) finish(id string, res *model.Result, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.active = false
	if s.snap.RunID != id {
		return
	}
	if err != nil {
		msg := UserMessage(err)
		s.snap = Snapshot{
			RunID:  id,
			Status: model.RunStatusFailed,
			Error:  &msg,
		}
		return
	}
	s.snap.Status = model.RunStatusComplete
	s.snap.CurrentStep = StageComplete.Label()
	s.snap.Progress = 100
	s.snap.Estimate = nil
	s.snap.Result = res
}

// Snapshot returns the current view of the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Reset clears a finished run. It fails while a run is active.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return ErrRunInProgress
	}
	s.snap = Snapshot{}
	return nil
}

// Cancel stops the active run. It reports whether there was one.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active || s.cancel == nil {
		return false
	}
	s.cancel()
	return true
}

// Wait blocks until the active run, if any, has finished or ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
