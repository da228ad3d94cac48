package model_test

import (
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/CZERTAINLY/Jobber/internal/model"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	yml := `
verbose: true
listen: 0.0.0.0:9000
webhook:
  method: post
  timeout: 3s
shutdown_timeout: 1m
`
	cfg, err := model.LoadConfig(strings.NewReader(yml))
	require.NoError(t, err)
	require.True(t, cfg.Verbose)
	require.Equal(t, "0.0.0.0:9000", cfg.Listen)
	require.Equal(t, http.MethodPost, cfg.Webhook.Method)
	require.Equal(t, 3*time.Second, cfg.Webhook.Timeout)
	require.Equal(t, time.Minute, cfg.ShutdownTimeout)
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := model.LoadConfig(nil)
	require.NoError(t, err)
	require.Equal(t, model.DefaultConfig(), cfg)
}

func TestLoadConfig_Env(t *testing.T) {
	// can't be parallel as touches the process environment
	t.Setenv("JOBBER_WEBHOOK_METHOD", "patch")
	t.Setenv("JOBBER_LISTEN", ":7000")

	cfg, err := model.LoadConfig(strings.NewReader("listen: :6000\n"))
	require.NoError(t, err)
	require.Equal(t, ":7000", cfg.Listen)
	require.Equal(t, http.MethodPatch, cfg.Webhook.Method)
}

func TestLoadConfig_Fail(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		scenario string
		yml      string
		then     string
	}{
		{
			scenario: "unsupported method",
			yml:      "webhook:\n  method: get\n",
			then:     "webhook.method",
		},
		{
			scenario: "zero timeout",
			yml:      "webhook:\n  timeout: 0s\n",
			then:     "webhook.timeout",
		},
		{
			scenario: "negative shutdown timeout",
			yml:      "shutdown_timeout: -1s\n",
			then:     "shutdown_timeout",
		},
		{
			scenario: "malformed duration",
			yml:      "webhook:\n  timeout: soon\n",
			then:     "webhook.timeout",
		},
		{
			scenario: "empty listen",
			yml:      "listen: \"\"\n",
			then:     "listen",
		},
		{
			scenario: "unknown field",
			yml:      "listen: :8080\nport: 8080\n",
			then:     "port",
		},
		{
			scenario: "broken yaml",
			yml:      "listen: [",
			then:     "reading config",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			_, err := model.LoadConfig(strings.NewReader(tc.yml))
			require.Error(t, err)
			require.ErrorContains(t, err, tc.then)
		})
	}
}

func TestLoadConfig_EnvInvalid(t *testing.T) {
	// can't be parallel as touches the process environment
	t.Setenv("JOBBER_WEBHOOK_METHOD", "delete")

	_, err := model.LoadConfig(nil)
	require.Error(t, err)
	require.ErrorContains(t, err, "webhook.method")

	details := model.CueErrDetails(err)
	require.NotEmpty(t, details)
	require.Equal(t, "webhook.method", details[0].Path)
	require.Empty(t, details[0].Pos.Filename)
}

func TestCueErrDetails(t *testing.T) {
	t.Parallel()
	_, err := model.LoadConfig(strings.NewReader("listen: :8080\nport: 8080\n"))
	require.Error(t, err)

	details := model.CueErrDetails(err)
	require.NotEmpty(t, details)
	d := details[0]
	require.Equal(t, "port", d.Path)
	require.Equal(t, "unknown_field", d.Code)
	require.Equal(t, "Field port is not allowed", d.Message)
	require.Equal(t, "jobber.yaml", d.Pos.Filename)
	require.Equal(t, 2, d.Pos.Line)

	require.Empty(t, model.CueErrDetails(nil))
	require.Empty(t, model.CueErrDetails(errors.New("not a schema error")))
}
