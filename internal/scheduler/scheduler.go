// Package scheduler decides which backup mode a run executes, gated by
// calendar cadence and remaining quota headroom.
package scheduler

import (
	"time"

	"github.com/docvault/docvault/internal/state"
)

// Decision is the outcome of the Deciding phase.
type Decision struct {
	Mode state.Mode

	// DeferFull is set when a full backup was due but had to degrade
	// to sync for lack of quota; the caller persists it so the next
	// run with headroom retries full.
	DeferFull bool

	Reason string
}

type Scheduler struct {
	// FullInterval is how often a full backup is due.
	FullInterval time.Duration
}

// Decide picks the document backup mode. projectedFullBytes is the
// summed size of the local corpus (what a full re-upload would cost);
// remaining is the unreserved quota headroom. The database snapshot is
// scheduled independently every run and is not part of this decision.
func (s *Scheduler) Decide(now time.Time, st *state.ControlState, projectedFullBytes, remaining int64) Decision {
	fullDue := st.DeferredFull
	reason := "full retry deferred from earlier run"

	if !fullDue {
		last := st.LastSuccessfulFull()
		if last == nil {
			fullDue = true
			reason = "no successful full backup on record"
		} else if now.Sub(last.StartedAt) >= s.FullInterval {
			fullDue = true
			reason = "full backup interval elapsed"
		}
	}

	if !fullDue {
		return Decision{Mode: state.ModeSync, Reason: "full backup not due"}
	}

	if projectedFullBytes > remaining {
		return Decision{
			Mode:      state.ModeSync,
			DeferFull: true,
			Reason:    "full backup due but projected size exceeds remaining quota",
		}
	}

	return Decision{Mode: state.ModeFull, Reason: reason}
}
