package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/qaforge/internal/model"
	"github.com/sells-group/qaforge/internal/resilience"
)

// stubRunner blocks each run until release is closed or the run is cancelled.
type stubRunner struct {
	release chan struct{}
	started chan struct{}
	res     *model.Result
	err     error
	newErr  error
}

func newStubRunner() *stubRunner {
	return &stubRunner{release: make(chan struct{}), started: make(chan struct{}, 1)}
}

func (s *stubRunner) NewRun(context.Context, Input) (string, error) {
	if s.newErr != nil {
		return "", s.newErr
	}
	return "run-1", nil
}

func (s *stubRunner) Run(ctx context.Context, in Input, obs Observer) (*model.Result, error) {
	obs.OnProgress(Progress{RunID: in.RunID, Message: "Preparing content", Percent: 20})
	obs.OnProgress(Progress{RunID: in.RunID, Message: "Identifying themes", Percent: 10})
	s.started <- struct{}{}
	select {
	case <-s.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.res, nil
}

func waitFor(t *testing.T, s *Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
}

func TestSession_Complete(t *testing.T) {
	runner := newStubRunner()
	runner.res = &model.Result{RunID: "run-1", Pairs: []model.QAPair{{Question: "q", Answer: "a"}}}
	s := NewSession(runner)

	id, err := s.Start(context.Background(), textInput())
	require.NoError(t, err)
	assert.Equal(t, "run-1", id)
	<-runner.started

	snap := s.Snapshot()
	assert.True(t, snap.Active())
	assert.Equal(t, model.RunStatusRunning, snap.Status)
	assert.Equal(t, 20, snap.Progress)
	assert.Equal(t, "Identifying themes", snap.CurrentStep)
	assert.NotNil(t, snap.Estimate)

	close(runner.release)
	waitFor(t, s)

	snap = s.Snapshot()
	assert.False(t, snap.Active())
	assert.Equal(t, model.RunStatusComplete, snap.Status)
	assert.Equal(t, 100, snap.Progress)
	assert.Equal(t, "Complete", snap.CurrentStep)
	assert.Nil(t, snap.Error)
	require.NotNil(t, snap.Result)
	assert.Len(t, snap.Result.Pairs, 1)
}

func TestSession_RejectsConcurrentRun(t *testing.T) {
	runner := newStubRunner()
	s := NewSession(runner)

	_, err := s.Start(context.Background(), textInput())
	require.NoError(t, err)
	<-runner.started

	_, err = s.Start(context.Background(), textInput())
	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.ErrorIs(t, s.Reset(), ErrRunInProgress)

	close(runner.release)
	waitFor(t, s)

	require.NoError(t, s.Reset())
	assert.Equal(t, Snapshot{}, s.Snapshot())
}

func TestSession_Failure(t *testing.T) {
	runner := newStubRunner()
	f := resilience.NewFailure(resilience.KindRateLimited, 429, "quota", nil)
	f.KeysAttempted = 2
	runner.err = &StageError{Stage: StageQAGeneration, Err: f}
	s := NewSession(runner)

	_, err := s.Start(context.Background(), textInput())
	require.NoError(t, err)
	<-runner.started
	close(runner.release)
	waitFor(t, s)

	snap := s.Snapshot()
	assert.Equal(t, model.RunStatusFailed, snap.Status)
	require.NotNil(t, snap.Error)
	assert.Contains(t, *snap.Error, "Q&A generation failed: every API key is rate limited")
	assert.Equal(t, 0, snap.Progress)
	assert.Empty(t, snap.CurrentStep)
	assert.Nil(t, snap.Result)

	// A new run can start after a failure.
	runner2 := newStubRunner()
	s.runner = runner2
	_, err = s.Start(context.Background(), textInput())
	require.NoError(t, err)
	<-runner2.started
	close(runner2.release)
	waitFor(t, s)
}

func TestSession_Cancel(t *testing.T) {
	runner := newStubRunner()
	s := NewSession(runner)
	assert.False(t, s.Cancel())

	ctx, cancelCaller := context.WithCancel(context.Background())
	_, err := s.Start(ctx, textInput())
	require.NoError(t, err)
	<-runner.started

	// The run outlives the caller's context.
	cancelCaller()
	assert.True(t, s.Snapshot().Active())

	assert.True(t, s.Cancel())
	waitFor(t, s)

	snap := s.Snapshot()
	assert.Equal(t, model.RunStatusFailed, snap.Status)
	require.NotNil(t, snap.Error)
	assert.Equal(t, "generation was cancelled.", *snap.Error)
}

func TestSession_NewRunError(t *testing.T) {
	runner := newStubRunner()
	runner.newErr = errors.New("db down")
	s := NewSession(runner)

	_, err := s.Start(context.Background(), textInput())
	require.Error(t, err)
	assert.False(t, s.Snapshot().Active())

	runner.newErr = nil
	_, err = s.Start(context.Background(), textInput())
	require.NoError(t, err)
	<-runner.started
	close(runner.release)
	waitFor(t, s)
}

func TestSession_WithOrchestrator(t *testing.T) {
	fake := newFakeLLM().
		text(StageThemeIdentification, themesJSON).
		text(StageQAGeneration, qaJSON("core", 10))
	o := New(fake, newCleaner(t, sourceText), testProviders(), WithSettings(testSettings()))
	s := NewSession(o)

	id, err := s.Start(context.Background(), textInput())
	require.NoError(t, err)
	waitFor(t, s)

	snap := s.Snapshot()
	assert.Equal(t, id, snap.RunID)
	assert.Equal(t, model.RunStatusComplete, snap.Status)
	require.NotNil(t, snap.Result)
	assert.Equal(t, id, snap.Result.RunID)
	assert.Len(t, snap.Result.Pairs, 10)
}
