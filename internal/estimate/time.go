package estimate

import (
	"math"
	"sync"
	"time"
)

// Model is the static per-stage cost model used before enough of a run has
// been observed.
type Model struct {
	PreprocessBase    time.Duration
	PerSource         time.Duration
	Themes            time.Duration
	Augmentation      time.Duration
	QAGeneration      time.Duration
	GapAnalysis       time.Duration
	ValidationContext time.Duration
	PerGap            time.Duration
	PerPairValidation time.Duration
	// PairsPerGap estimates how many synthetic pairs each gap yields.
	PairsPerGap int
	// MinRatio is the progress ratio past which observed pace is blended in.
	MinRatio float64
}

// DefaultModel returns the stock stage costs.
func DefaultModel() Model {
	return Model{
		PreprocessBase:    5 * time.Second,
		PerSource:         3 * time.Second,
		Themes:            8 * time.Second,
		Augmentation:      15 * time.Second,
		QAGeneration:      30 * time.Second,
		GapAnalysis:       10 * time.Second,
		ValidationContext: 8 * time.Second,
		PerGap:            12 * time.Second,
		PerPairValidation: 3 * time.Second,
		PairsPerGap:       5,
		MinRatio:          0.1,
	}
}

// Params describes the run being estimated.
type Params struct {
	Sources      int
	Augmentation bool
	GapFilling   bool
	GapCount     int
}

// Estimate is a total and remaining duration for a run.
type Estimate struct {
	Total     time.Duration `json:"total"`
	Remaining time.Duration `json:"remaining"`
}

// Static sums the stage costs for p.
func (m Model) Static(p Params) time.Duration {
	total := m.PreprocessBase + time.Duration(p.Sources)*m.PerSource + m.Themes + m.QAGeneration
	if p.Augmentation {
		total += m.Augmentation
	}
	if p.GapFilling {
		gaps := time.Duration(p.GapCount)
		pairs := time.Duration(p.GapCount * m.PairsPerGap)
		total += m.GapAnalysis + m.ValidationContext + gaps*m.PerGap + pairs*m.PerPairValidation
	}
	return total
}

// Estimate projects the run length at step of total given elapsed time.
// Past MinRatio the observed pace elapsed/ratio is used when it is larger,
// so the estimate grows with slowness but never drops below the static
// figure.
func (m Model) Estimate(step, total int, p Params, elapsed time.Duration) Estimate {
	est := m.Static(p)
	if total > 0 && step > 0 {
		ratio := math.Min(float64(step)/float64(total), 1)
		if ratio > m.MinRatio {
			if observed := time.Duration(float64(elapsed) / ratio); observed > est {
				est = observed
			}
		}
	}
	remaining := est - elapsed
	if remaining < 0 {
		remaining = 0
	}
	return Estimate{Total: est, Remaining: remaining}
}

// Tracker recomputes the estimate of a running pipeline against the clock.
type Tracker struct {
	mu     sync.Mutex
	model  Model
	params Params
	start  time.Time
	last   Estimate

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewTracker starts tracking a run now.
func NewTracker(m Model, p Params) *Tracker {
	t := &Tracker{model: m, params: p, nowFunc: time.Now}
	t.start = t.nowFunc()
	return t
}

// SetGapCount replaces the expected gap count once gap analysis has run.
func (t *Tracker) SetGapCount(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.params.GapCount = n
}

// Update recomputes the estimate at step of total.
func (t *Tracker) Update(step, total int) Estimate {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = t.model.Estimate(step, total, t.params, t.nowFunc().Sub(t.start))
	return t.last
}

// Last returns the most recent estimate.
func (t *Tracker) Last() Estimate {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// Elapsed is the time since the tracker started.
func (t *Tracker) Elapsed() time.Duration {
	return t.nowFunc().Sub(t.start)
}
