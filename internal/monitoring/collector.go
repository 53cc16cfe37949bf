// Package monitoring watches reconcile run history and raises webhook alerts
// when reconciliations fail, crash, or stop completing.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/identity-cli/internal/reconcile"
)

// historyLimit caps how many run rows a single collection reads.
const historyLimit = 1000

// MetricsSnapshot holds a point-in-time view of reconciliation health.
type MetricsSnapshot struct {
	// Run counts within the lookback window.
	RunsTotal     int     `json:"runs_total"`
	RunsComplete  int     `json:"runs_complete"`
	RunsFailed    int     `json:"runs_failed"`
	RunsAbandoned int     `json:"runs_abandoned"`
	RunsRunning   int     `json:"runs_running"`
	RunFailRate   float64 `json:"run_fail_rate"`

	// Counters of the most recent complete run.
	LastCompleteAt   *time.Time `json:"last_complete_at,omitempty"`
	LastRunID        string     `json:"last_run_id,omitempty"`
	LastFailures     int        `json:"last_failures"`
	LastAmbiguous    int        `json:"last_ambiguous"`
	LastMerged       int        `json:"last_merged"`
	LastIdentities   int64      `json:"last_identities"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister abstracts the run-log methods needed by the collector.
type RunLister interface {
	List(ctx context.Context, limit int) ([]reconcile.RunEntry, error)
}

// Collector gathers metrics from the reconcile run log.
type Collector struct {
	runs RunLister
	now  func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(runs RunLister) *Collector {
	return &Collector{runs: runs, now: time.Now}
}

// Collect gathers a snapshot of run metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	entries, err := c.runs.List(ctx, historyLimit)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	// List returns newest first, so the first complete row is the latest.
	for _, e := range entries {
		if e.Status == reconcile.StatusComplete && snap.LastCompleteAt == nil {
			completed := e.StartedAt
			if e.CompletedAt != nil {
				completed = *e.CompletedAt
			}
			snap.LastCompleteAt = &completed
			snap.LastRunID = e.ID
			if e.Summary != nil {
				t := e.Summary.Totals()
				snap.LastFailures = t.Failures
				snap.LastAmbiguous = t.Ambiguous
				snap.LastMerged = t.Merged
				snap.LastIdentities = e.Summary.IdentitiesTotal
			}
		}

		if e.StartedAt.Before(cutoff) {
			continue
		}
		snap.RunsTotal++
		switch e.Status {
		case reconcile.StatusComplete:
			snap.RunsComplete++
		case reconcile.StatusFailed:
			snap.RunsFailed++
		case reconcile.StatusAbandoned:
			snap.RunsAbandoned++
		case reconcile.StatusRunning:
			snap.RunsRunning++
		}
	}

	finished := snap.RunsComplete + snap.RunsFailed + snap.RunsAbandoned
	if finished > 0 {
		snap.RunFailRate = float64(snap.RunsFailed+snap.RunsAbandoned) / float64(finished)
	}

	return snap, nil
}
