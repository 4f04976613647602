// Package transfer applies a reconciliation plan against remote
// storage with bounded concurrency, retry, and quota-gated deferral.
package transfer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/docvault/docvault/internal/plan"
	"github.com/docvault/docvault/internal/quota"
	"github.com/docvault/docvault/internal/storage"
)

type OpStatus string

const (
	StatusDone     OpStatus = "done"
	StatusFailed   OpStatus = "failed"
	StatusDeferred OpStatus = "deferred"
)

// Result is the typed outcome of one operation. Failures are recorded
// here instead of aborting the plan; a single bad file must not block
// the rest of the backup.
type Result struct {
	Op     plan.Operation
	Status OpStatus
	Bytes  int64
	Err    error
}

type Summary struct {
	Results []Result

	Added    int
	Updated  int
	Deleted  int
	Failed   int
	Deferred int

	BytesTransferred int64
}

func (s *Summary) Clean() bool {
	return s.Failed == 0 && s.Deferred == 0
}

// Executor applies plans. The provider is expected to retry transient
// failures itself (storage.RetryingProvider); the executor only
// classifies final outcomes.
type Executor struct {
	Provider storage.Provider
	Quota    *quota.Tracker
	// Root is the local corpus directory uploads are read from.
	Root    string
	Workers int
	Logger  zerolog.Logger
}

// Apply executes every operation of p with a bounded worker pool.
// Operations on distinct keys have no ordering dependency; a plan never
// holds two operations for one key, so no per-key locking is needed.
// Once quota is exhausted, or the context is cancelled, remaining
// operations are deferred rather than failed.
func (e *Executor) Apply(ctx context.Context, p *plan.Plan) *Summary {
	workers := e.Workers
	if workers <= 0 {
		workers = 1
	}

	results := make([]Result, len(p.Ops))
	var (
		wg        sync.WaitGroup
		sem       = make(chan struct{}, workers)
		exhausted atomic.Bool
	)

	for i, op := range p.Ops {
		wg.Add(1)
		go func(idx int, op plan.Operation) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			if exhausted.Load() || ctx.Err() != nil {
				results[idx] = Result{Op: op, Status: StatusDeferred}
				return
			}

			results[idx] = e.applyOne(ctx, op, &exhausted)
		}(i, op)
	}
	wg.Wait()

	return summarize(results)
}

func (e *Executor) applyOne(ctx context.Context, op plan.Operation, exhausted *atomic.Bool) Result {
	log := e.Logger.With().Str("op", string(op.Kind)).Str("key", op.Key).Logger()

	if op.Kind == plan.OpDelete {
		if err := e.Provider.Delete(ctx, op.Key); err != nil {
			log.Error().Err(err).Msg("delete failed")
			return Result{Op: op, Status: StatusFailed, Err: err}
		}
		log.Debug().Msg("deleted")
		return Result{Op: op, Status: StatusDone}
	}

	size := op.UploadBytes()
	granted, remaining := e.Quota.Reserve(size)
	if !granted {
		// Not an error: the plan is truncated gracefully and the rest
		// of it waits for the next accounting window.
		exhausted.Store(true)
		log.Warn().Int64("remaining", remaining).Int64("needed", size).Msg("quota exhausted, deferring")
		return Result{Op: op, Status: StatusDeferred}
	}

	actual, err := e.upload(ctx, op)
	if err != nil {
		e.Quota.Cancel(size)
		log.Error().Err(err).Msg("upload failed")
		return Result{Op: op, Status: StatusFailed, Err: err}
	}

	e.Quota.Commit(size, actual)
	log.Debug().Int64("bytes", actual).Msg("uploaded")
	return Result{Op: op, Status: StatusDone, Bytes: actual}
}

func (e *Executor) upload(ctx context.Context, op plan.Operation) (int64, error) {
	f, err := os.Open(filepath.Join(e.Root, filepath.FromSlash(op.Path)))
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", op.Path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}

	metadata := map[string]string{
		storage.MetaFingerprint: op.Local.Fingerprint,
	}
	if err := e.Provider.Upload(ctx, op.Key, f, metadata); err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func summarize(results []Result) *Summary {
	s := &Summary{Results: results}
	for _, r := range results {
		switch r.Status {
		case StatusDone:
			s.BytesTransferred += r.Bytes
			switch r.Op.Kind {
			case plan.OpAdd:
				s.Added++
			case plan.OpUpdate:
				s.Updated++
			case plan.OpDelete:
				s.Deleted++
			}
		case StatusFailed:
			s.Failed++
		case StatusDeferred:
			s.Deferred++
		}
	}
	return s
}
