package service

// Package service implements execution and supervision of job processes.
//
// Overview
// The Manager owns the job store and one supervising goroutine per job.
// Clients submit a command line, the Manager stores a pending Job and returns
// its id immediately, the execution runs in the background.
//
// Runner is a thin, opinionated wrapper around os/exec:
//   - sets the child environment to exactly the requested map
//   - writes stdin and closes it
//   - drains stdout and stderr concurrently (errgroup)
//   - exposes a channel of Event values
//
// Data flow:
//
//	Manager               job goroutine            Runner{cmd}
//	   |                       |                       |
//	Submit -> store.Create     |                       |
//	   | wg.Go --------------->| Start() ------------->| exec.Cmd.Start
//	   |                       |<----- started --------|
//	   |                       | Transition, store.Update, "begun" webhook
//	   |                       |<----- completed ------| (process exits)
//	   |                       | Transition, store.Update, "ended" webhook
//
// Invariants:
//   - Events of one job are consumed by a single goroutine in emission order.
//   - A state transition is stored before the webhook for it is delivered,
//     so the "begun" delivery always completes before "ended" starts.
//   - A spawn failure moves the job straight to failed; no "begun" is sent.
//   - Webhook failures are logged and never change the job state.
//   - There is no cancellation, every started job runs to completion.
//
// internal/service/manager_test.go is the best source about how to properly use
// the Manager struct.
