package merge

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/identity-cli/internal/db"
	"github.com/sells-group/identity-cli/internal/resilience"
)

// Options configures an Executor.
type Options struct {
	// Concurrency bounds how many groups merge at once.
	Concurrency int
	// TxTimeout bounds each per-duplicate transaction.
	TxTimeout time.Duration
	// RatePerSec caps duplicate merges per second. Zero disables the cap.
	RatePerSec float64
	Retry      resilience.RetryConfig
}

// Report counts merge outcomes for one entity.
type Report struct {
	Entity             string `json:"entity" yaml:"entity"`
	Groups             int    `json:"groups" yaml:"groups"`
	Merged             int    `json:"merged" yaml:"merged"`
	RowsRewritten      int64  `json:"rows_rewritten" yaml:"rows_rewritten"`
	ConflictsDiscarded int64  `json:"conflicts_discarded" yaml:"conflicts_discarded"`
	Skipped            int    `json:"skipped" yaml:"skipped"`
	Failed             int    `json:"failed" yaml:"failed"`
}

// Result is the outcome of merging one duplicate.
type Result struct {
	RowsRewritten      int64
	ConflictsDiscarded int64
	// Deleted is false when the duplicate was already gone.
	Deleted bool
}

// Executor merges duplicates into survivors.
type Executor struct {
	pool    db.Pool
	reg     Registry
	opts    Options
	limiter *rate.Limiter
}

// NewExecutor creates an Executor.
func NewExecutor(pool db.Pool, reg Registry, opts Options) *Executor {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	e := &Executor{pool: pool, reg: reg, opts: opts}
	if opts.RatePerSec > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), 1)
	}
	return e
}

// MergeGroups merges every duplicate of every group. Groups run
// concurrently up to the configured limit; the members of one group merge
// one after another. A failed duplicate is logged and counted, and its
// group moves on to the next member. Only context cancellation is returned
// as an error.
func (e *Executor) MergeGroups(ctx context.Context, entity Entity, groups []Group) (Report, error) {
	log := zap.L().With(zap.String("component", "merge"), zap.String("entity", entity.Name))

	var merged, skipped, failed atomic.Int64
	var rewritten, discarded atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)

	for _, grp := range groups {
		g.Go(func() error {
			survivor := grp.Survivor()
			for _, dup := range grp.Duplicates() {
				if err := gctx.Err(); err != nil {
					return err
				}
				if e.limiter != nil {
					if err := e.limiter.Wait(gctx); err != nil {
						return err
					}
				}

				res, err := e.mergeWithRetry(gctx, entity, survivor, dup)
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					failed.Add(1)
					log.Error("merge failed",
						zap.String("survivor", survivor),
						zap.String("duplicate", dup),
						zap.Error(err),
					)
					continue
				}

				rewritten.Add(res.RowsRewritten)
				discarded.Add(res.ConflictsDiscarded)
				if !res.Deleted {
					skipped.Add(1)
					log.Debug("duplicate already merged", zap.String("duplicate", dup))
					continue
				}
				merged.Add(1)
				log.Debug("duplicate merged",
					zap.String("survivor", survivor),
					zap.String("duplicate", dup),
					zap.Int64("rows_rewritten", res.RowsRewritten),
				)
			}
			return nil
		})
	}

	waitErr := g.Wait()
	r := Report{
		Entity:             entity.Name,
		Groups:             len(groups),
		Merged:             int(merged.Load()),
		RowsRewritten:      rewritten.Load(),
		ConflictsDiscarded: discarded.Load(),
		Skipped:            int(skipped.Load()),
		Failed:             int(failed.Load()),
	}
	if waitErr != nil {
		return r, eris.Wrapf(waitErr, "merge: %s interrupted", entity.Name)
	}

	log.Info("merge complete",
		zap.Int("groups", r.Groups),
		zap.Int("merged", r.Merged),
		zap.Int64("rows_rewritten", r.RowsRewritten),
		zap.Int64("conflicts_discarded", r.ConflictsDiscarded),
		zap.Int("skipped", r.Skipped),
		zap.Int("failed", r.Failed),
	)
	return r, nil
}

func (e *Executor) mergeWithRetry(ctx context.Context, entity Entity, survivor, duplicate string) (Result, error) {
	cfg := e.opts.Retry
	cfg.ShouldRetry = func(err error) bool {
		return !pgconn.Timeout(err) && resilience.IsTransient(err)
	}
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger("merge "+entity.Name, zap.String("duplicate", duplicate))
	}

	var res Result
	err := resilience.Do(ctx, cfg, func(ctx context.Context) error {
		var err error
		res, err = e.MergeOne(ctx, entity, survivor, duplicate)
		return err
	})
	return res, err
}

// MergeOne re-points every ref from duplicate to survivor and deletes the
// duplicate, all in one transaction. Nothing is kept on failure.
func (e *Executor) MergeOne(ctx context.Context, entity Entity, survivor, duplicate string) (Result, error) {
	if survivor == "" || duplicate == "" || survivor == duplicate {
		return Result{}, eris.Errorf("merge: invalid pair %q <- %q", survivor, duplicate)
	}

	var res Result
	err := db.InTx(ctx, e.pool, e.opts.TxTimeout, func(ctx context.Context, tx pgx.Tx) error {
		for _, ref := range e.reg.Refs(entity) {
			if ref.Policy == DiscardConflicts {
				tag, err := tx.Exec(ctx, discardSQL(ref), duplicate, survivor)
				if err != nil {
					return eris.Wrapf(err, "merge: discard conflicts in %s", ref)
				}
				res.ConflictsDiscarded += tag.RowsAffected()
			}

			tag, err := tx.Exec(ctx, rewriteSQL(ref), survivor, duplicate)
			if err != nil {
				return eris.Wrapf(err, "merge: rewrite %s", ref)
			}
			res.RowsRewritten += tag.RowsAffected()
		}

		tag, err := tx.Exec(ctx, deleteSQL(entity), duplicate)
		if err != nil {
			return eris.Wrapf(err, "merge: delete %s %s", entity.Name, duplicate)
		}
		res.Deleted = tag.RowsAffected() == 1
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// rewriteSQL: $1 survivor, $2 duplicate.
func rewriteSQL(ref Ref) string {
	return fmt.Sprintf(`UPDATE %s SET %s = $1 WHERE %s = $2`,
		db.QuoteIdent(ref.Table), db.QuoteIdent(ref.Column), db.QuoteIdent(ref.Column))
}

// discardSQL deletes the duplicate's rows whose conflict key the survivor
// already holds. $1 duplicate, $2 survivor.
func discardSQL(ref Ref) string {
	col := db.QuoteIdent(ref.Column)
	var b strings.Builder
	fmt.Fprintf(&b, `DELETE FROM %s d WHERE d.%s = $1 AND EXISTS (SELECT 1 FROM %s s WHERE s.%s = $2`,
		db.QuoteIdent(ref.Table), col, db.QuoteIdent(ref.Table), col)
	for _, k := range ref.ConflictKeys {
		q := db.QuoteIdent(k)
		fmt.Fprintf(&b, ` AND s.%s IS NOT DISTINCT FROM d.%s`, q, q)
	}
	b.WriteString(`)`)
	return b.String()
}

func deleteSQL(e Entity) string {
	return fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, db.QuoteIdent(e.Table))
}
