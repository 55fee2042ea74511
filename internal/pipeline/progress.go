package pipeline

import (
	"math"

	"github.com/sells-group/qaforge/internal/estimate"
)

// Progress is emitted after every sub-step of a run.
type Progress struct {
	RunID       string            `json:"run_id"`
	Stage       Stage             `json:"-"`
	StageName   string            `json:"stage"`
	StageIndex  int               `json:"stage_index"`
	TotalStages int               `json:"total_stages"`
	Message     string            `json:"message"`
	Percent     int               `json:"percent"`
	Estimate    estimate.Estimate `json:"estimate"`
}

// Observer receives progress updates. Calls happen on the run's goroutine.
type Observer interface {
	OnProgress(Progress)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Progress)

// OnProgress calls f(p).
func (f ObserverFunc) OnProgress(p Progress) { f(p) }

type nopObserver struct{}

func (nopObserver) OnProgress(Progress) {}

// Percent is round(100*i/total), clamped to [0,100].
func Percent(i, total int) int {
	if total <= 0 {
		return 0
	}
	p := int(math.Round(100 * float64(i) / float64(total)))
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

// reporter turns stage positions into Progress values with a fresh
// estimate. Percent never decreases across a run.
type reporter struct {
	runID   string
	plan    []Stage
	tracker *estimate.Tracker
	obs     Observer
	last    int
}

func newReporter(runID string, plan []Stage, tracker *estimate.Tracker, obs Observer) *reporter {
	if obs == nil {
		obs = nopObserver{}
	}
	return &reporter{runID: runID, plan: plan, tracker: tracker, obs: obs}
}

func (r *reporter) emit(stage Stage, index int, msg string) {
	total := len(r.plan)
	pct := Percent(index, total)
	if pct < r.last {
		pct = r.last
	}
	r.last = pct

	if msg == "" {
		msg = stage.Label()
	}
	r.obs.OnProgress(Progress{
		RunID:       r.runID,
		Stage:       stage,
		StageName:   stage.String(),
		StageIndex:  index,
		TotalStages: total,
		Message:     msg,
		Percent:     pct,
		Estimate:    r.tracker.Update(index, total),
	})
}
