package model

import (
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strings"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition can leave the status.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Hook names a lifecycle event a webhook can subscribe to.
type Hook string

const (
	HookNone  Hook = ""
	HookBegun Hook = "begun"
	HookEnded Hook = "ended"
)

// Callbacks maps lifecycle events to webhook URLs, empty string means unset.
type Callbacks struct {
	Begun string `json:"begun,omitempty"`
	Ended string `json:"ended,omitempty"`
}

func (c Callbacks) URL(h Hook) string {
	switch h {
	case HookBegun:
		return c.Begun
	case HookEnded:
		return c.Ended
	default:
		return ""
	}
}

// Job is the tracked state of one submitted command line.
type Job struct {
	ID          string
	CommandLine []string
	Environment map[string]string
	Stdin       *string
	Callbacks   Callbacks

	Status   Status
	ExitCode *int
	Stdout   string
	Stderr   string

	Created time.Time
	Started time.Time
	Ended   time.Time
}

// Clone returns a copy sharing no mutable state with j.
func (j Job) Clone() Job {
	c := j
	c.CommandLine = slices.Clone(j.CommandLine)
	c.Environment = maps.Clone(j.Environment)
	if j.Stdin != nil {
		s := *j.Stdin
		c.Stdin = &s
	}
	if j.ExitCode != nil {
		e := *j.ExitCode
		c.ExitCode = &e
	}
	return c
}

// View returns what a query caller is allowed to observe. Output fields are
// exposed only once the job is terminal.
func (j Job) View() JobView {
	v := JobView{
		JobID:   j.ID,
		Status:  j.Status,
		Created: j.Created,
	}
	if !j.Started.IsZero() {
		started := j.Started
		v.Started = &started
	}
	if j.Status.Terminal() {
		ended := j.Ended
		v.Ended = &ended
		stdout, stderr := j.Stdout, j.Stderr
		v.Stdout = &stdout
		v.Stderr = &stderr
		if j.ExitCode != nil {
			code := *j.ExitCode
			v.ExitCode = &code
		}
	}
	return v
}

type JobView struct {
	JobID    string     `json:"job_id"`
	Status   Status     `json:"status"`
	ExitCode *int       `json:"exit_code,omitempty"`
	Stdout   *string    `json:"stdout,omitempty"`
	Stderr   *string    `json:"stderr,omitempty"`
	Created  time.Time  `json:"created"`
	Started  *time.Time `json:"started,omitempty"`
	Ended    *time.Time `json:"ended,omitempty"`
}

// Submission is a request to run a new job.
type Submission struct {
	CommandLine []string          `json:"command_line"`
	Environment map[string]string `json:"environment,omitempty"`
	Stdin       *string           `json:"stdin,omitempty"`
	Callbacks   Callbacks         `json:"callbacks,omitzero"`
}

// Validate returns an error wrapping ErrInvalidSubmission describing the first problem found.
func (s Submission) Validate() error {
	if len(s.CommandLine) == 0 {
		return fmt.Errorf("%w: command_line must not be empty", ErrInvalidSubmission)
	}
	if s.CommandLine[0] == "" {
		return fmt.Errorf("%w: command_line[0] must not be empty", ErrInvalidSubmission)
	}
	for name := range s.Environment {
		if name == "" || strings.ContainsAny(name, "=\x00") {
			return fmt.Errorf("%w: invalid environment variable name %q", ErrInvalidSubmission, name)
		}
	}
	for _, h := range []Hook{HookBegun, HookEnded} {
		raw := s.Callbacks.URL(h)
		if raw == "" {
			continue
		}
		if err := ValidateWebhookURL(raw); err != nil {
			return fmt.Errorf("%w: callbacks.%s: %w", ErrInvalidSubmission, h, err)
		}
	}
	return nil
}

// Job turns a validated submission into a new pending job.
func (s Submission) Job() Job {
	j := Job{
		CommandLine: slices.Clone(s.CommandLine),
		Environment: maps.Clone(s.Environment),
		Callbacks:   s.Callbacks,
		Status:      StatusPending,
	}
	if s.Stdin != nil {
		stdin := *s.Stdin
		j.Stdin = &stdin
	}
	return j
}

// ValidateWebhookURL accepts absolute http(s) URLs only.
func ValidateWebhookURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	return nil
}
