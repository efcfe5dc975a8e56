package orchestrator

import (
	"time"

	"github.com/ShayCichocki/hive/internal/state"
)

// ensureRun opens the run-history record for this session once. Runs
// without a state DB skip history entirely.
func (o *Orchestrator) ensureRun(goal string) {
	if o.db == nil {
		return
	}
	if !o.runOpen.CompareAndSwap(false, true) {
		return
	}
	if err := o.db.CreateRun(&state.Run{ID: o.sessionID, Goal: goal}); err != nil {
		o.logger.Log("[state] create run %s: %v", o.sessionID, err)
		o.runOpen.Store(false)
	}
}

// updateRunProgress refreshes the run record's counts and token
// totals, best-effort.
func (o *Orchestrator) updateRunProgress() {
	if o.db == nil {
		return
	}
	if !o.runOpen.Load() {
		return
	}
	st := o.Status()
	if err := o.db.UpdateRunProgress(o.sessionID, st.TotalTasks, st.Completed, st.Failed, st.Tokens); err != nil {
		o.logger.Log("[state] update run %s: %v", o.sessionID, err)
	}
}

// finishRun closes the run record with a terminal status.
func (o *Orchestrator) finishRun(status string) {
	o.updateRunProgress()

	if o.db == nil || !o.runOpen.Swap(false) {
		return
	}
	switch status {
	case "cancelled", "stopped":
		status = state.RunStatusStopped
	case "failed":
		status = state.RunStatusFailed
	default:
		status = state.RunStatusCompleted
	}
	if err := o.db.FinishRun(o.sessionID, status, time.Now()); err != nil {
		o.logger.Log("[state] finish run %s: %v", o.sessionID, err)
	}
}
