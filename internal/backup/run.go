// Package backup orchestrates one backup cycle: inventory both sides,
// reconcile, gate on quota, transfer, snapshot the database, and prune.
package backup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/docvault/docvault/internal/config"
	"github.com/docvault/docvault/internal/database"
	"github.com/docvault/docvault/internal/inventory"
	"github.com/docvault/docvault/internal/plan"
	"github.com/docvault/docvault/internal/quota"
	"github.com/docvault/docvault/internal/retention"
	"github.com/docvault/docvault/internal/scheduler"
	"github.com/docvault/docvault/internal/state"
	"github.com/docvault/docvault/internal/storage"
	"github.com/docvault/docvault/internal/transfer"
)

// Options controls one invocation.
type Options struct {
	// Mode forces a backup mode; empty means the scheduler decides.
	Mode state.Mode

	// Confirm approves execution of a high-risk plan (deletion ratio
	// above threshold). Without it such a plan aborts the run before
	// any mutation.
	Confirm bool
}

type Engine struct {
	cfg      *config.Config
	provider storage.Provider
	exporter database.Exporter
	log      zerolog.Logger

	// now is swappable for tests.
	now func() time.Time
}

func NewEngine(cfg *config.Config, provider storage.Provider, exporter database.Exporter, logger zerolog.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		provider: provider,
		exporter: exporter,
		log:      logger,
		now:      time.Now,
	}
}

// Run executes one backup cycle and returns the finalized run record.
// A nil error with a partial-failure outcome means some operations
// failed or were deferred but the run itself completed.
func (e *Engine) Run(ctx context.Context, opts Options) (*state.RunRecord, error) {
	now := e.now()

	st, err := state.Load(e.cfg.StatePath)
	if err != nil {
		return nil, err
	}
	if stale := st.FinalizeStale(now); stale > 0 {
		e.log.Warn().Int("runs", stale).Msg("previous run did not finish, marked failed")
	}

	tracker := quota.NewTracker(e.cfg.Quota.CapBytes, e.cfg.QuotaWindow(), st.Quota)
	if tracker.RolloverIfDue(now) {
		e.log.Info().Msg("quota window rolled over")
	}

	rec := st.NewRun(opts.Mode, now)

	// A failure in the document phase marks the run failed but never
	// cancels the database snapshot below; a recoverable database
	// outranks the document sync.
	var (
		scan   *inventory.ScanResult
		remote []inventory.RemoteItem
		docErr error
	)

	if opts.Mode != state.ModeDBOnly {
		scan, remote, docErr = e.takeInventories(ctx)
		if docErr == nil {
			for _, scanErr := range scan.Errors {
				e.log.Error().Err(scanErr).Str("path", scanErr.Path).Msg("unreadable item excluded from plan")
			}
			rec.ScanErrs = len(scan.Errors)
		}
	} else {
		// The remote listing normally proves the bucket is reachable
		// before anything mutates; db-only skips it, so probe here.
		if _, err := e.provider.List(ctx, e.cfg.Storage.DBPrefix); err != nil {
			docErr = fmt.Errorf("storage preflight failed: %w", err)
		}
	}

	mode := opts.Mode
	if mode == "" && docErr == nil {
		sched := &scheduler.Scheduler{FullInterval: e.cfg.FullInterval()}
		decision := sched.Decide(now, st, scan.TotalBytes(), tracker.Remaining())
		mode = decision.Mode
		e.log.Info().Str("mode", string(mode)).Str("reason", decision.Reason).Msg("backup mode decided")
		if decision.DeferFull {
			st.DeferredFull = true
		}
	}
	rec.Mode = mode

	// Record the run start durably before any mutating operation.
	st.Quota = tracker.Snapshot()
	if err := st.Save(e.cfg.StatePath); err != nil {
		rec.FinishedAt = e.now()
		rec.Outcome = state.OutcomeFailed
		return rec, fmt.Errorf("failed to persist run start: %w", err)
	}

	var summary *transfer.Summary
	if docErr == nil && mode != state.ModeDBOnly {
		var p *plan.Plan
		p, docErr = e.reconcile(scan, remote, mode == state.ModeFull, opts.Confirm)
		if docErr == nil {
			executor := &transfer.Executor{
				Provider: e.provider,
				Quota:    tracker,
				Root:     e.cfg.DocsDir,
				Workers:  e.cfg.Transfer.Concurrency,
				Logger:   e.log,
			}
			summary = executor.Apply(ctx, p)
			rec.Added = summary.Added
			rec.Updated = summary.Updated
			rec.Deleted = summary.Deleted
			rec.Failed = summary.Failed
			rec.Deferred = summary.Deferred
			rec.BytesTransferred = summary.BytesTransferred

			e.log.Info().
				Int("added", summary.Added).
				Int("updated", summary.Updated).
				Int("deleted", summary.Deleted).
				Int("failed", summary.Failed).
				Int("deferred", summary.Deferred).
				Int64("bytes", summary.BytesTransferred).
				Msg("transfer finished")
		}
	}
	if docErr != nil {
		e.log.Error().Err(docErr).Msg("document phase failed, database snapshot still attempted")
	}

	dbErr := e.snapshotDatabase(ctx, tracker, rec)

	e.pruneArtifacts(ctx)

	e.finalize(st, rec, mode, summary, dbErr, docErr)

	st.Quota = tracker.Snapshot()
	st.Trim()
	if err := st.Save(e.cfg.StatePath); err != nil {
		return rec, fmt.Errorf("failed to persist state: %w", err)
	}

	if docErr != nil {
		return rec, docErr
	}
	if mode == state.ModeDBOnly && dbErr != nil {
		return rec, dbErr
	}
	return rec, nil
}

// takeInventories scans the corpus and lists the remote backup root
// concurrently; the reconciler needs both complete before planning.
func (e *Engine) takeInventories(ctx context.Context) (*inventory.ScanResult, []inventory.RemoteItem, error) {
	var (
		scan   *inventory.ScanResult
		remote []inventory.RemoteItem
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		scan, err = inventory.ScanLocal(gctx, e.cfg.DocsDir, e.cfg.Transfer.Concurrency)
		return err
	})
	g.Go(func() error {
		var err error
		remote, err = inventory.FetchRemote(gctx, e.provider, e.cfg.Storage.Prefix, e.cfg.Transfer.Concurrency)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return scan, remote, nil
}

func (e *Engine) reconcile(scan *inventory.ScanResult, remote []inventory.RemoteItem, full, confirm bool) (*plan.Plan, error) {
	reconciler := &plan.Reconciler{
		Prefix:         e.cfg.Storage.Prefix,
		MaxDeleteRatio: e.cfg.Transfer.MaxDeleteRatio,
		Full:           full,
		Unscannable:    unscannablePaths(scan.Errors),
	}

	p, err := reconciler.Build(scan.Items, remote)
	if err != nil {
		var riskErr *plan.HighRiskError
		if errors.As(err, &riskErr) && confirm {
			e.log.Warn().
				Int("deletes", riskErr.Deletes).
				Int("remote", riskErr.RemoteCount).
				Msg("high-risk plan confirmed by operator")
			return p, nil
		}
		return nil, err
	}

	e.log.Info().Str("plan", p.String()).Msg("plan built")
	return p, nil
}

// snapshotDatabase runs the snapshot job every cycle, orthogonal to
// the document sync. Exhausted quota flags the attempt but never skips
// it: a recoverable database outranks document bandwidth.
func (e *Engine) snapshotDatabase(ctx context.Context, tracker *quota.Tracker, rec *state.RunRecord) error {
	if tracker.Exhausted() {
		e.log.Warn().Msg("quota exhausted, attempting database snapshot anyway")
	}

	job := &database.SnapshotJob{
		Exporter:   e.exporter,
		Provider:   e.provider,
		StagingDir: e.cfg.StagingDir,
		Prefix:     e.cfg.Storage.DBPrefix,
		Logger:     e.log,
	}

	artifact, err := job.Run(ctx)
	if err != nil {
		e.log.Error().Err(err).Msg("database snapshot failed")
		rec.DBError = err.Error()
		return err
	}

	tracker.ForceCommit(artifact.Size)
	rec.DBArtifact = artifact.Key
	rec.BytesTransferred += artifact.Size
	return nil
}

func (e *Engine) pruneArtifacts(ctx context.Context) {
	manager := &retention.Manager{
		Provider:    e.provider,
		Prefix:      e.cfg.Storage.DBPrefix,
		Generations: e.cfg.Retention.Generations,
		Logger:      e.log,
	}
	if _, err := manager.Prune(ctx); err != nil {
		e.log.Error().Err(err).Msg("retention pruning failed")
	}
}

// unscannablePaths collects the paths behind a scan's errors so the
// reconciler can shield their remote copies.
func unscannablePaths(errs []*inventory.ScanError) []string {
	paths := make([]string, len(errs))
	for i, scanErr := range errs {
		paths[i] = scanErr.Path
	}
	return paths
}

func (e *Engine) finalize(st *state.ControlState, rec *state.RunRecord, mode state.Mode, summary *transfer.Summary, dbErr, docErr error) {
	rec.FinishedAt = e.now()

	if docErr != nil {
		rec.Outcome = state.OutcomeFailed
		return
	}

	clean := dbErr == nil && rec.ScanErrs == 0
	if summary != nil {
		clean = clean && summary.Clean()
	}

	if clean {
		rec.Outcome = state.OutcomeSuccess
		if mode == state.ModeFull {
			st.DeferredFull = false
		}
	} else if mode == state.ModeDBOnly && dbErr != nil {
		rec.Outcome = state.OutcomeFailed
	} else {
		rec.Outcome = state.OutcomePartial
	}
}
