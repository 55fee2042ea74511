package estimate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestModel_Static(t *testing.T) {
	m := DefaultModel()

	base := m.Static(Params{Sources: 1})
	assert.Equal(t, 46*time.Second, base) // 5 + 3 + 8 + 30

	withAug := m.Static(Params{Sources: 1, Augmentation: true})
	assert.Equal(t, base+15*time.Second, withAug)

	withGaps := m.Static(Params{Sources: 1, GapFilling: true, GapCount: 3})
	// 10 + 8 + 3*12 + 15*3
	assert.Equal(t, base+99*time.Second, withGaps)
}

func TestModel_Estimate(t *testing.T) {
	m := DefaultModel()
	p := Params{Sources: 1}
	static := m.Static(p)

	tests := []struct {
		name          string
		step, total   int
		elapsed       time.Duration
		wantTotal     time.Duration
		wantRemaining time.Duration
	}{
		{"start", 0, 4, 0, static, static},
		{"below sample size uses static", 1, 20, 30 * time.Second, static, static - 30*time.Second},
		{"fast run keeps static floor", 2, 4, 5 * time.Second, static, static - 5*time.Second},
		{"slow run grows", 2, 4, 60 * time.Second, 120 * time.Second, 60 * time.Second},
		{"overrun clamps remaining", 4, 4, 200 * time.Second, 200 * time.Second, 0},
		{"zero total", 3, 0, 10 * time.Second, static, static - 10*time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.Estimate(tt.step, tt.total, p, tt.elapsed)
			assert.Equal(t, tt.wantTotal, got.Total)
			assert.Equal(t, tt.wantRemaining, got.Remaining)
		})
	}
}

func TestModel_EstimateNeverBelowObservedPace(t *testing.T) {
	m := DefaultModel()
	p := Params{Sources: 2, GapFilling: true, GapCount: 2}
	total := 8
	elapsed := time.Duration(0)
	for step := 1; step <= total; step++ {
		elapsed += 40 * time.Second
		got := m.Estimate(step, total, p, elapsed)
		ratio := float64(step) / float64(total)
		if ratio > m.MinRatio {
			assert.GreaterOrEqual(t, got.Total, time.Duration(float64(elapsed)/ratio))
		}
		assert.GreaterOrEqual(t, got.Total, m.Static(p))
		assert.GreaterOrEqual(t, got.Remaining, time.Duration(0))
	}
}

func TestTracker(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := NewTracker(DefaultModel(), Params{Sources: 1, GapFilling: true, GapCount: 8})
	tr.nowFunc = func() time.Time { return now }
	tr.start = now

	first := tr.Update(0, 5)
	tr.SetGapCount(2)
	second := tr.Update(0, 5)
	assert.Greater(t, first.Total, second.Total)

	now = now.Add(10 * time.Minute)
	third := tr.Update(4, 5)
	assert.Equal(t, time.Duration(float64(10*time.Minute)/0.8), third.Total)
	assert.Equal(t, third, tr.Last())
	assert.Equal(t, 10*time.Minute, tr.Elapsed())
}
