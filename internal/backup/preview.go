package backup

import (
	"context"
	"errors"
	"time"

	"github.com/docvault/docvault/internal/plan"
	"github.com/docvault/docvault/internal/quota"
	"github.com/docvault/docvault/internal/state"
)

// Preview is a dry-run view of what the next run would do. Nothing is
// mutated and no state is persisted.
type Preview struct {
	Plan               *plan.Plan
	ScanErrors         int
	ProjectedFullBytes int64
	RemainingQuota     int64
	HighRisk           *plan.HighRiskError
}

// BuildPreview computes the plan the reconciler would produce for the
// given mode without executing it.
func (e *Engine) BuildPreview(ctx context.Context, full bool) (*Preview, error) {
	st, err := state.Load(e.cfg.StatePath)
	if err != nil {
		return nil, err
	}

	tracker := quota.NewTracker(e.cfg.Quota.CapBytes, e.cfg.QuotaWindow(), st.Quota)
	tracker.RolloverIfDue(time.Now())

	scan, remote, err := e.takeInventories(ctx)
	if err != nil {
		return nil, err
	}

	reconciler := &plan.Reconciler{
		Prefix:         e.cfg.Storage.Prefix,
		MaxDeleteRatio: e.cfg.Transfer.MaxDeleteRatio,
		Full:           full,
		Unscannable:    unscannablePaths(scan.Errors),
	}

	preview := &Preview{
		ScanErrors:         len(scan.Errors),
		ProjectedFullBytes: scan.TotalBytes(),
		RemainingQuota:     tracker.Remaining(),
	}

	p, err := reconciler.Build(scan.Items, remote)
	if err != nil {
		var riskErr *plan.HighRiskError
		if !errors.As(err, &riskErr) {
			return nil, err
		}
		preview.HighRisk = riskErr
	}
	preview.Plan = p
	return preview, nil
}
