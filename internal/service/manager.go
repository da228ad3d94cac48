package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/CZERTAINLY/Jobber/internal/log"
	"github.com/CZERTAINLY/Jobber/internal/model"
	"github.com/CZERTAINLY/Jobber/internal/store"
)

var ErrShuttingDown = errors.New("job manager is shutting down")

// Executor spawns processes and reports their lifecycle, see Runner.
type Executor interface {
	Start(ctx context.Context, proto Command) <-chan Event
}

// Notifier delivers webhook payloads, see Dispatcher.
type Notifier interface {
	Notify(ctx context.Context, url string, payload any) error
}

// Manager accepts submissions, supervises one goroutine per job and is the
// only writer of job state after creation.
type Manager struct {
	store    *store.Store
	executor Executor
	notifier Notifier

	mx     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewManager(s *store.Store, executor Executor, notifier Notifier) *Manager {
	return &Manager{
		store:    s,
		executor: executor,
		notifier: notifier,
	}
}

// ManagerFromConfig wires the default store, Runner and Dispatcher.
func ManagerFromConfig(cfg model.Config) *Manager {
	return NewManager(store.New(), NewRunner(), NewDispatcher(cfg.Webhook))
}

// Submit validates the submission, stores a pending job and starts its
// execution in the background. It returns as soon as the job is stored.
func (m *Manager) Submit(ctx context.Context, sub model.Submission) (string, error) {
	if err := sub.Validate(); err != nil {
		return "", err
	}

	m.mx.RLock()
	defer m.mx.RUnlock()
	if m.closed {
		return "", ErrShuttingDown
	}

	job, err := m.store.Create(ctx, sub.Job())
	if err != nil {
		return "", fmt.Errorf("creating job: %w", err)
	}

	// the job outlives the submitting request
	jobCtx := log.ContextAttrs(context.WithoutCancel(ctx), slog.String("job_id", job.ID))
	m.wg.Go(func() {
		m.supervise(jobCtx, job)
	})
	slog.InfoContext(jobCtx, "job submitted", "command_line", job.CommandLine)
	return job.ID, nil
}

// Query returns a snapshot of the job or ErrNotFound.
func (m *Manager) Query(ctx context.Context, id string) (model.JobView, error) {
	job, err := m.store.Get(ctx, id)
	if err != nil {
		return model.JobView{}, err
	}
	return job.View(), nil
}

// Wait blocks until all supervised jobs have finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Shutdown rejects new submissions and waits for running jobs, or until ctx is done.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mx.Lock()
	m.closed = true
	m.mx.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for running jobs: %w", ctx.Err())
	}
}

// supervise consumes runner events strictly in order. Every transition is
// recorded in the store before its webhook is fired.
func (m *Manager) supervise(ctx context.Context, job model.Job) {
	proto := Command{
		Path:  job.CommandLine[0],
		Args:  job.CommandLine[1:],
		Env:   job.Environment,
		Stdin: job.Stdin,
	}

	for ev := range m.executor.Start(ctx, proto) {
		updated, step, err := m.apply(ctx, job.ID, ev)
		if err != nil {
			slog.ErrorContext(ctx, "job state update failed", "event", ev.Kind.String(), "error", err)
			continue
		}
		slog.InfoContext(ctx, "job status changed", "status", updated.Status, "event", ev.Kind.String())
		m.notify(ctx, step.Notify, updated)
	}
}

func (m *Manager) apply(ctx context.Context, id string, ev Event) (model.Job, Step, error) {
	var step Step
	updated, err := m.store.Update(ctx, id, func(j *model.Job) error {
		var err error
		step, err = Transition(j.Status, ev)
		if err != nil {
			return err
		}
		j.Status = step.Next
		switch ev.Kind {
		case EventStarted:
			j.Started = ev.Time
		case EventCompleted:
			code := ev.ExitCode
			j.ExitCode = &code
			j.Stdout = ev.Stdout
			j.Stderr = ev.Stderr
			j.Ended = ev.Time
		case EventSpawnFailed:
			j.ExitCode = nil
			j.Stdout = ""
			j.Stderr = spawnReason(ev.Err)
			j.Ended = ev.Time
		}
		return nil
	})
	return updated, step, err
}

func (m *Manager) notify(ctx context.Context, hook model.Hook, job model.Job) {
	if hook == model.HookNone {
		return
	}
	url := job.Callbacks.URL(hook)
	if url == "" {
		return
	}
	err := m.notifier.Notify(ctx, url, Payload(hook, job))
	if err != nil {
		slog.WarnContext(ctx, "webhook delivery failed", "hook", string(hook), "url", url, "error", err)
		return
	}
	slog.DebugContext(ctx, "webhook delivered", "hook", string(hook), "url", url)
}

func spawnReason(err error) string {
	if err == nil {
		return "process could not be started"
	}
	return "process could not be started: " + err.Error()
}
