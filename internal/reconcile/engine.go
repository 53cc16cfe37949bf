// Package reconcile runs the full identity reconciliation: schema, linking,
// legacy pointer sync, duplicate merge and reporting.
package reconcile

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/identity-cli/internal/identity"
	"github.com/sells-group/identity-cli/internal/merge"
	"github.com/sells-group/identity-cli/internal/schema"
)

// SchemaEnsurer creates missing schema objects.
type SchemaEnsurer interface {
	Ensure(ctx context.Context) (schema.EnsureReport, error)
}

// SchemaVerifier checks required columns.
type SchemaVerifier interface {
	Verify(ctx context.Context, extra ...schema.Column) error
}

// Linker links per-context records to identities.
type Linker interface {
	LinkAll(ctx context.Context) (*identity.LinkReport, error)
}

// LegacySyncer fills legacy account/customer pointers.
type LegacySyncer interface {
	Sync(ctx context.Context) (identity.LegacyReport, error)
}

// Grouper finds duplicate groups of an entity.
type Grouper interface {
	Groups(ctx context.Context, e merge.Entity) ([]merge.Group, error)
}

// Merger merges duplicate groups.
type Merger interface {
	MergeGroups(ctx context.Context, e merge.Entity, groups []merge.Group) (merge.Report, error)
}

// IdentityCounter counts identities.
type IdentityCounter interface {
	CountIdentities(ctx context.Context) (int64, error)
}

// RunRecorder persists run state.
type RunRecorder interface {
	AbandonStale(ctx context.Context, cutoff time.Time) (int64, error)
	Start(ctx context.Context) (string, time.Time, error)
	Complete(ctx context.Context, id string, s *Summary) error
	Fail(ctx context.Context, id string, errMsg string, s *Summary) error
}

// Components are the collaborators of an Engine.
type Components struct {
	Ensurer  SchemaEnsurer
	Verifier SchemaVerifier
	Linker   Linker
	Legacy   LegacySyncer
	Grouper  Grouper
	Merger   Merger
	Counter  IdentityCounter
	Runs     RunRecorder
	Registry merge.Registry
}

// Engine orchestrates one reconciliation run.
type Engine struct {
	c          Components
	staleAfter time.Duration
	now        func() time.Time
}

// NewEngine creates an Engine. A zero staleAfter never abandons running rows.
func NewEngine(c Components, staleAfter time.Duration) *Engine {
	return &Engine{c: c, staleAfter: staleAfter, now: time.Now}
}

// Run executes ensure, verify, link, legacy sync, group and merge, then
// records and logs the summary. A structural mismatch aborts the run before
// any data is changed. A second concurrent run fails with ErrRunInProgress.
func (e *Engine) Run(ctx context.Context) (*Summary, error) {
	log := zap.L().With(zap.String("component", "reconcile"))

	created, err := e.c.Ensurer.Ensure(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "reconcile: ensure schema")
	}

	if e.staleAfter > 0 {
		n, err := e.c.Runs.AbandonStale(ctx, e.now().Add(-e.staleAfter))
		if err != nil {
			return nil, err
		}
		if n > 0 {
			log.Warn("abandoned stale runs", zap.Int64("count", n))
		}
	}

	runID, started, err := e.c.Runs.Start(ctx)
	if err != nil {
		return nil, err
	}
	log = log.With(zap.String("run_id", runID))
	log.Info("reconciliation started")

	s := &Summary{RunID: runID, StartedAt: started, SchemaCreated: created.Created}

	if err := e.steps(ctx, s); err != nil {
		s.finish(e.now())
		// Record the failure even when ctx was canceled.
		if ferr := e.c.Runs.Fail(context.WithoutCancel(ctx), runID, err.Error(), s); ferr != nil {
			log.Error("failed to record run failure", zap.Error(ferr))
		}
		log.Error("reconciliation failed", zap.Error(err))
		return s, err
	}

	s.finish(e.now())
	if err := e.c.Runs.Complete(ctx, runID, s); err != nil {
		return s, err
	}
	s.Log()
	return s, nil
}

func (e *Engine) steps(ctx context.Context, s *Summary) error {
	if err := e.c.Verifier.Verify(ctx, e.c.Registry.Columns()...); err != nil {
		return eris.Wrap(err, "reconcile: verify schema")
	}

	link, err := e.c.Linker.LinkAll(ctx)
	if link != nil {
		s.Link = *link
	}
	if err != nil {
		return eris.Wrap(err, "reconcile: link")
	}

	legacy, err := e.c.Legacy.Sync(ctx)
	if err != nil {
		return eris.Wrap(err, "reconcile: legacy sync")
	}
	s.Legacy = legacy

	for _, entity := range merge.Entities {
		groups, err := e.c.Grouper.Groups(ctx, entity)
		if err != nil {
			return eris.Wrapf(err, "reconcile: group %s", entity.Name)
		}
		r, err := e.c.Merger.MergeGroups(ctx, entity, groups)
		s.Merges = append(s.Merges, r)
		if err != nil {
			return eris.Wrapf(err, "reconcile: merge %s", entity.Name)
		}
	}

	total, err := e.c.Counter.CountIdentities(ctx)
	if err != nil {
		return eris.Wrap(err, "reconcile: count identities")
	}
	s.IdentitiesTotal = total
	return nil
}
