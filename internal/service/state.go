package service

import (
	"fmt"

	"github.com/CZERTAINLY/Jobber/internal/model"
)

// Step is the outcome of applying an event to a job status: the status to
// move to and the webhook to fire once the new status is recorded.
type Step struct {
	Next   model.Status
	Notify model.Hook
}

// Transition maps a runner event onto the job status machine
//
//	pending --started--> running --completed(0)--> succeeded
//	                             --completed(!0)-> failed
//	pending --spawn_failed-------------------------> failed
//
// Any other combination returns ErrInvalidTransition.
func Transition(current model.Status, ev Event) (Step, error) {
	switch {
	case current == model.StatusPending && ev.Kind == EventStarted:
		return Step{Next: model.StatusRunning, Notify: model.HookBegun}, nil
	case current == model.StatusRunning && ev.Kind == EventCompleted:
		if ev.ExitCode == 0 {
			return Step{Next: model.StatusSucceeded, Notify: model.HookEnded}, nil
		}
		return Step{Next: model.StatusFailed, Notify: model.HookEnded}, nil
	case current == model.StatusPending && ev.Kind == EventSpawnFailed:
		return Step{Next: model.StatusFailed, Notify: model.HookEnded}, nil
	}
	return Step{}, fmt.Errorf("%w: %s on %s", model.ErrInvalidTransition, ev.Kind, current)
}
