package service_test

import (
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/CZERTAINLY/Jobber/internal/service"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, events <-chan service.Event) []service.Event {
	t.Helper()
	var ret []service.Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return ret
			}
			ret = append(ret, ev)
		case <-timeout:
			t.Fatalf("runner did not finish, got %d events", len(ret))
		}
	}
}

func lookPath(t *testing.T, name string) string {
	t.Helper()
	path, err := exec.LookPath(name)
	if err != nil {
		t.Skipf("skipped, binary %s not available: %v", name, err)
	}
	return path
}

func TestRunner(t *testing.T) {
	t.Parallel()
	runner := service.NewRunner()

	t.Run("true", func(t *testing.T) {
		t.Parallel()
		events := collect(t, runner.Start(t.Context(), service.Command{Path: lookPath(t, "true")}))
		require.Len(t, events, 2)
		require.Equal(t, service.EventStarted, events[0].Kind)
		require.NotZero(t, events[0].Pid)
		require.NotZero(t, events[0].Time)

		done := events[1]
		require.Equal(t, service.EventCompleted, done.Kind)
		require.Equal(t, 0, done.ExitCode)
		require.Equal(t, "", done.Stdout)
		require.Equal(t, "", done.Stderr)
		require.NoError(t, done.Err)
		require.False(t, done.Time.Before(events[0].Time))
	})

	t.Run("false", func(t *testing.T) {
		t.Parallel()
		events := collect(t, runner.Start(t.Context(), service.Command{Path: lookPath(t, "false")}))
		require.Len(t, events, 2)
		require.Equal(t, service.EventCompleted, events[1].Kind)
		require.Equal(t, 1, events[1].ExitCode)
	})

	t.Run("lookup ignores job PATH", func(t *testing.T) {
		t.Parallel()
		_ = lookPath(t, "true")
		events := collect(t, runner.Start(t.Context(), service.Command{
			Path: "true",
			Env:  map[string]string{"PATH": "/nonexistent"},
		}))
		require.Len(t, events, 2)
		require.Equal(t, service.EventCompleted, events[1].Kind)
		require.Equal(t, 0, events[1].ExitCode)
	})

	t.Run("exec error", func(t *testing.T) {
		t.Parallel()
		events := collect(t, runner.Start(t.Context(), service.Command{Path: "does not exist"}))
		require.Len(t, events, 1)
		ev := events[0]
		require.Equal(t, service.EventSpawnFailed, ev.Kind)
		var execErr *exec.Error
		require.ErrorAs(t, ev.Err, &execErr)
		require.Equal(t, "does not exist", execErr.Name)
	})

	t.Run("permission denied", func(t *testing.T) {
		t.Parallel()
		path := t.TempDir() + "/not-executable"
		require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o644))
		events := collect(t, runner.Start(t.Context(), service.Command{Path: path}))
		require.Len(t, events, 1)
		require.Equal(t, service.EventSpawnFailed, events[0].Kind)
		require.Error(t, events[0].Err)
	})
}

func TestRunnerEnvironment(t *testing.T) {
	// can't be parallel as touches the process environment
	envPath := "/usr/bin/env"
	if _, err := os.Stat(envPath); err != nil {
		t.Skipf("skipped, %s not available: %v", envPath, err)
	}
	// must not leak into the child
	t.Setenv("JOBBER_TEST_LEAK", "1")

	runner := service.NewRunner()
	t.Run("exact", func(t *testing.T) {
		events := collect(t, runner.Start(t.Context(), service.Command{
			Path: envPath,
			Env:  map[string]string{"FOO": "bar", "BAZ": "a b"},
		}))
		require.Len(t, events, 2)
		require.Equal(t, "BAZ=a b\nFOO=bar\n", events[1].Stdout)
	})
	t.Run("empty", func(t *testing.T) {
		events := collect(t, runner.Start(t.Context(), service.Command{Path: envPath}))
		require.Len(t, events, 2)
		require.Equal(t, "", events[1].Stdout)
	})
}

func TestRunnerStdin(t *testing.T) {
	t.Parallel()
	cat := lookPath(t, "cat")
	runner := service.NewRunner()

	t.Run("pass through", func(t *testing.T) {
		t.Parallel()
		stdin := "this is just some text"
		events := collect(t, runner.Start(t.Context(), service.Command{Path: cat, Stdin: &stdin}))
		require.Len(t, events, 2)
		require.Equal(t, stdin, events[1].Stdout)
	})

	t.Run("no stdin", func(t *testing.T) {
		t.Parallel()
		events := collect(t, runner.Start(t.Context(), service.Command{Path: cat}))
		require.Len(t, events, 2)
		require.Equal(t, 0, events[1].ExitCode)
		require.Equal(t, "", events[1].Stdout)
	})

	t.Run("child ignores stdin", func(t *testing.T) {
		t.Parallel()
		stdin := strings.Repeat("x", 1<<20)
		events := collect(t, runner.Start(t.Context(), service.Command{
			Path:  lookPath(t, "true"),
			Stdin: &stdin,
		}))
		require.Len(t, events, 2)
		require.Equal(t, 0, events[1].ExitCode)
	})
}

func TestRunnerInterleavedOutput(t *testing.T) {
	t.Parallel()
	sh := lookPath(t, "sh")

	// both streams exceed a pipe buffer, a sequential reader would deadlock
	script := `i=0; while [ $i -lt 2000 ]; do
	echo "stdout line $i with some padding to fill the pipe buffer quickly"
	echo "stderr line $i with some padding to fill the pipe buffer quickly" 1>&2
	i=$((i+1))
done
exit 3`
	events := collect(t, service.NewRunner().Start(t.Context(), service.Command{
		Path: sh,
		Args: []string{"-c", script},
	}))
	require.Len(t, events, 2)
	done := events[1]
	require.Equal(t, 3, done.ExitCode)
	require.Equal(t, 2000, strings.Count(done.Stdout, "\n"))
	require.Equal(t, 2000, strings.Count(done.Stderr, "\n"))
	require.True(t, strings.HasPrefix(done.Stdout, "stdout line 0 "))
	require.True(t, strings.HasPrefix(done.Stderr, "stderr line 0 "))
}

func TestEventKindString(t *testing.T) {
	t.Parallel()
	require.Equal(t, "started", service.EventStarted.String())
	require.Equal(t, "completed", service.EventCompleted.String())
	require.Equal(t, "spawn_failed", service.EventSpawnFailed.String())
	require.Equal(t, "EventKind(42)", service.EventKind(42).String())
}
