// Package monitoring summarizes recent generation runs from the store.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/qaforge/internal/model"
)

// maxRuns bounds how many recent runs one snapshot reads.
const maxRuns = 10000

// MetricsSnapshot holds a point-in-time view of run health.
type MetricsSnapshot struct {
	RunsTotal    int     `json:"runs_total"`
	RunsComplete int     `json:"runs_complete"`
	RunsFailed   int     `json:"runs_failed"`
	RunsActive   int     `json:"runs_active"`
	FailRate     float64 `json:"fail_rate"`

	// Totals and averages over completed runs.
	PairsTotal     int     `json:"pairs_total"`
	AvgPairs       float64 `json:"avg_pairs"`
	AvgTokens      int     `json:"avg_tokens"`
	CostUSD        float64 `json:"cost_usd"`
	AvgDurationSec float64 `json:"avg_duration_sec"`

	// SyntheticAcceptRate is validated / generated synthetic pairs.
	SyntheticAcceptRate float64 `json:"synthetic_accept_rate"`
	// DegradedRuns counts completed runs that carry warnings.
	DegradedRuns int `json:"degraded_runs"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister is the store method the collector needs.
type RunLister interface {
	ListRuns(ctx context.Context, filter model.RunFilter) ([]model.Run, error)
}

// Collector gathers metrics from the store.
type Collector struct {
	store RunLister
	now   func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(st RunLister) *Collector {
	return &Collector{store: st, now: time.Now}
}

// Collect gathers a snapshot of run metrics over the given lookback window.
// A lookback of 0 covers every stored run.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	runs, err := c.store.ListRuns(ctx, model.RunFilter{Limit: maxRuns})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	var cutoff time.Time
	if lookbackHours > 0 {
		cutoff = now.Add(-time.Duration(lookbackHours) * time.Hour)
	}

	var (
		totalTokens        int
		totalDur           time.Duration
		generated, checked int
	)
	for _, r := range runs {
		if !cutoff.IsZero() && r.CreatedAt.Before(cutoff) {
			continue
		}
		snap.RunsTotal++
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
			totalDur += r.UpdatedAt.Sub(r.CreatedAt)
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusQueued, model.RunStatusRunning:
			snap.RunsActive++
		}

		if r.Result == nil {
			continue
		}
		res := r.Result
		snap.PairsTotal += len(res.Pairs)
		snap.CostUSD += res.Usage.CostUSD
		totalTokens += res.Usage.TotalTokens
		generated += res.Stats.SyntheticGenerated
		checked += res.Stats.Validated
		if len(res.Warnings) > 0 {
			snap.DegradedRuns++
		}
	}

	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.FailRate = float64(snap.RunsFailed) / float64(finished)
	}
	if snap.RunsComplete > 0 {
		snap.AvgPairs = float64(snap.PairsTotal) / float64(snap.RunsComplete)
		snap.AvgTokens = totalTokens / snap.RunsComplete
		snap.AvgDurationSec = totalDur.Seconds() / float64(snap.RunsComplete)
	}
	if generated > 0 {
		snap.SyntheticAcceptRate = float64(checked) / float64(generated)
	}

	return snap, nil
}
