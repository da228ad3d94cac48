package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"os/exec"
	"slices"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

type EventKind int

const (
	EventStarted EventKind = iota + 1
	EventCompleted
	EventSpawnFailed
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventCompleted:
		return "completed"
	case EventSpawnFailed:
		return "spawn_failed"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is emitted by Runner for each step of a process lifecycle.
// ExitCode, Stdout and Stderr are set for EventCompleted only,
// Err for EventSpawnFailed only.
type Event struct {
	Kind     EventKind
	Time     time.Time
	Pid      int
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

// Command describes a process to spawn. Env is the complete environment
// of the child, nothing is inherited from the service.
type Command struct {
	Path  string
	Args  []string
	Env   map[string]string
	Stdin *string
}

func (c Command) environ() []string {
	// non-nil even when empty, exec.Cmd inherits os.Environ() on nil
	env := make([]string, 0, len(c.Env))
	for _, k := range slices.Sorted(maps.Keys(c.Env)) {
		env = append(env, k+"="+c.Env[k])
	}
	return env
}

type Runner struct{}

func NewRunner() *Runner {
	return &Runner{}
}

// Start spawns the command in a new goroutine and returns the channel of its
// lifecycle events. The channel receives either EventStarted followed by
// EventCompleted, or a single EventSpawnFailed, and is closed afterwards.
// Does NOT wait on the command to finish.
func (r *Runner) Start(ctx context.Context, proto Command) <-chan Event {
	events := make(chan Event, 2)
	go r.run(ctx, proto, events)
	return events
}

func (r *Runner) run(ctx context.Context, proto Command, events chan<- Event) {
	defer close(events)

	// a bare name is resolved against the PATH of this service, never
	// the PATH given in proto.Env
	cmd := exec.Command(proto.Path, proto.Args...)
	cmd.Env = proto.environ()

	pipes, err := openPipes(cmd, proto.Stdin != nil)
	if err != nil {
		events <- spawnFailed(err)
		return
	}

	if err := cmd.Start(); err != nil {
		pipes.close()
		slog.DebugContext(ctx, "spawning process failed", "path", proto.Path, "error", err)
		events <- spawnFailed(err)
		return
	}
	slog.DebugContext(ctx, "process started", "path", proto.Path, "pid", cmd.Process.Pid)
	events <- Event{
		Kind: EventStarted,
		Time: time.Now().UTC(),
		Pid:  cmd.Process.Pid,
	}

	// stdout and stderr must be drained concurrently with each other and with
	// the stdin writer, otherwise a full pipe buffer blocks the child
	var stdout, stderr bytes.Buffer
	var g errgroup.Group
	if pipes.stdin != nil {
		g.Go(func() error {
			return writeStdin(pipes.stdin, *proto.Stdin)
		})
	}
	g.Go(func() error {
		_, err := io.Copy(&stdout, pipes.stdout)
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(&stderr, pipes.stderr)
		return err
	})
	if err := g.Wait(); err != nil {
		slog.WarnContext(ctx, "process io failed", "pid", cmd.Process.Pid, "error", err)
	}

	waitErr := cmd.Wait()
	exitCode := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			slog.ErrorContext(ctx, "waiting for process failed", "pid", cmd.Process.Pid, "error", waitErr)
			exitCode = -1
		}
	}

	events <- Event{
		Kind:     EventCompleted,
		Time:     time.Now().UTC(),
		Pid:      cmd.Process.Pid,
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}
}

func spawnFailed(err error) Event {
	return Event{
		Kind: EventSpawnFailed,
		Time: time.Now().UTC(),
		Err:  err,
	}
}

// writeStdin writes data and closes w. A child which exits without
// reading its input is not an error.
func writeStdin(w io.WriteCloser, data string) error {
	_, err := io.WriteString(w, data)
	cerr := w.Close()
	if err == nil {
		err = cerr
	}
	if errors.Is(err, syscall.EPIPE) || errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}

type pipes struct {
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser
}

func openPipes(cmd *exec.Cmd, withStdin bool) (pipes, error) {
	var p pipes
	var err error
	if withStdin {
		p.stdin, err = cmd.StdinPipe()
		if err != nil {
			return p, fmt.Errorf("creating stdin pipe: %w", err)
		}
	}
	p.stdout, err = cmd.StdoutPipe()
	if err != nil {
		p.close()
		return p, fmt.Errorf("creating stdout pipe: %w", err)
	}
	p.stderr, err = cmd.StderrPipe()
	if err != nil {
		p.close()
		return p, fmt.Errorf("creating stderr pipe: %w", err)
	}
	return p, nil
}

func (p pipes) close() {
	for _, c := range []io.Closer{p.stdin, p.stdout, p.stderr} {
		if c != nil {
			_ = c.Close()
		}
	}
}
