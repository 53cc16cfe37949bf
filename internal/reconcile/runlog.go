package reconcile

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/identity-cli/internal/db"
	"github.com/sells-group/identity-cli/internal/resilience"
)

// ErrRunInProgress is returned when another reconciliation is running.
var ErrRunInProgress = eris.New("reconcile: another run is in progress")

// Run statuses.
const (
	StatusRunning   = "running"
	StatusComplete  = "complete"
	StatusFailed    = "failed"
	StatusAbandoned = "abandoned"
)

// RunEntry is a row of reconcile_runs.
type RunEntry struct {
	ID          string     `json:"id" yaml:"id"`
	Status      string     `json:"status" yaml:"status"`
	StartedAt   time.Time  `json:"started_at" yaml:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty" yaml:"error,omitempty"`
	Summary     *Summary   `json:"summary,omitempty" yaml:"summary,omitempty"`
}

// RunLog reads and writes the reconcile_runs table.
type RunLog struct {
	q   db.Querier
	now func() time.Time
}

// NewRunLog creates a RunLog.
func NewRunLog(q db.Querier) *RunLog {
	return &RunLog{q: q, now: time.Now}
}

// AbandonStale marks running rows started before cutoff as abandoned, so a
// crashed run does not block later ones forever.
func (l *RunLog) AbandonStale(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := l.q.Exec(ctx,
		`UPDATE reconcile_runs
		 SET status = 'abandoned', completed_at = now(), error = 'run exceeded stale_after without completing'
		 WHERE status = 'running' AND started_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, eris.Wrap(err, "runlog: abandon stale runs")
	}
	return tag.RowsAffected(), nil
}

// Start records a new running row and returns its id. It returns
// ErrRunInProgress when another row is already running.
func (l *RunLog) Start(ctx context.Context) (string, time.Time, error) {
	id := uuid.NewString()
	started := l.now().UTC()
	_, err := l.q.Exec(ctx,
		`INSERT INTO reconcile_runs (id, status, started_at) VALUES ($1, 'running', $2)`,
		id, started,
	)
	if err != nil {
		if resilience.IsUniqueViolation(err) {
			return "", time.Time{}, ErrRunInProgress
		}
		return "", time.Time{}, eris.Wrap(err, "runlog: start run")
	}
	return id, started, nil
}

// Complete marks a run complete and stores its summary.
func (l *RunLog) Complete(ctx context.Context, id string, s *Summary) error {
	metrics, err := marshalSummary(s)
	if err != nil {
		return err
	}
	_, err = l.q.Exec(ctx,
		`UPDATE reconcile_runs
		 SET status = 'complete', completed_at = now(), metrics = $1
		 WHERE id = $2`,
		metrics, id,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: complete run %s", id)
	}
	return nil
}

// Fail marks a run failed, keeping whatever partial summary exists.
func (l *RunLog) Fail(ctx context.Context, id string, errMsg string, s *Summary) error {
	metrics, err := marshalSummary(s)
	if err != nil {
		return err
	}
	_, err = l.q.Exec(ctx,
		`UPDATE reconcile_runs
		 SET status = 'failed', completed_at = now(), error = $1, metrics = $2
		 WHERE id = $3`,
		errMsg, metrics, id,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: fail run %s", id)
	}
	return nil
}

// List returns the most recent runs first.
func (l *RunLog) List(ctx context.Context, limit int) ([]RunEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.q.Query(ctx,
		`SELECT id, status, started_at, completed_at, error, metrics
		 FROM reconcile_runs ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: list")
	}
	defer rows.Close()

	var entries []RunEntry
	for rows.Next() {
		var e RunEntry
		var errStr *string
		var metrics []byte
		if err := rows.Scan(&e.ID, &e.Status, &e.StartedAt, &e.CompletedAt, &errStr, &metrics); err != nil {
			return nil, eris.Wrap(err, "runlog: scan entry")
		}
		if errStr != nil {
			e.Error = *errStr
		}
		if len(metrics) > 0 {
			var s Summary
			if err := json.Unmarshal(metrics, &s); err == nil {
				e.Summary = &s
			}
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "runlog: iterate")
}

func marshalSummary(s *Summary) ([]byte, error) {
	if s == nil {
		return nil, nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: marshal summary")
	}
	return b, nil
}
