package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/CZERTAINLY/Jobber/internal/model"
)

const (
	contentType = "application/json"
	// how much of an error response ends up in the returned error
	maxErrorBody = 1024
)

type BegunPayload struct {
	Status model.Hook `json:"status"`
	JobID  string     `json:"job_id"`
}

// EndedPayload carries a null exit_code when the process never started.
// Output is delivered as JSON strings, so bytes that are not valid UTF-8
// arrive replaced by U+FFFD.
type EndedPayload struct {
	Status   model.Hook `json:"status"`
	ExitCode *int       `json:"exit_code"`
	Stdout   string     `json:"stdout"`
	Stderr   string     `json:"stderr"`
	JobID    string     `json:"job_id"`
}

// Payload builds the notification body of hook for job.
func Payload(hook model.Hook, job model.Job) any {
	switch hook {
	case model.HookBegun:
		return BegunPayload{Status: model.HookBegun, JobID: job.ID}
	case model.HookEnded:
		return EndedPayload{
			Status:   model.HookEnded,
			ExitCode: job.ExitCode,
			Stdout:   job.Stdout,
			Stderr:   job.Stderr,
			JobID:    job.ID,
		}
	default:
		return nil
	}
}

// Dispatcher delivers JSON notifications to webhook URLs. Each call is a
// single attempt, failures are returned and never retried.
type Dispatcher struct {
	method string
	client *http.Client
}

func NewDispatcher(cfg model.Webhook) *Dispatcher {
	method := cfg.Method
	if method == "" {
		method = model.DefaultWebhookMethod
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = model.DefaultWebhookTimeout
	}
	return &Dispatcher{
		method: method,
		client: &http.Client{Timeout: timeout},
	}
}

// WithClient replaces the http client. This method exists for a unit testing only.
func (d *Dispatcher) WithClient(client *http.Client) *Dispatcher {
	d.client = client
	return d
}

// Notify sends payload as JSON to url. Any non 2xx response or transport
// error is reported as ErrWebhookDelivery.
func (d *Dispatcher) Notify(ctx context.Context, url string, payload any) error {
	if err := model.ValidateWebhookURL(url); err != nil {
		return fmt.Errorf("%w: %w", model.ErrWebhookDelivery, err)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, d.method, url, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%w: %w", model.ErrWebhookDelivery, err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", model.ErrWebhookDelivery, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return fmt.Errorf("%w: status: %d, body: %s", model.ErrWebhookDelivery, resp.StatusCode, string(body))
}
