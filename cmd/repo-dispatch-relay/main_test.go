package main

import (
	"context"
	"testing"

	"github.com/kehao95/repo-dispatch-relay/internal/client"
	"github.com/kehao95/repo-dispatch-relay/internal/config"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeCmd_Flags(t *testing.T) {
	cmd := newServeCmd()
	for _, name := range []string{config.PortKey, config.GitHubTokenKey, config.WebhookSecretKey, config.APIURLKey, config.StatsdAddrKey} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}
}

func TestServeCmd_RequiresToken(t *testing.T) {
	t.Setenv(config.GitHubTokenEnv, "")
	cmd := newServeCmd()
	cmd.SetArgs([]string{})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), config.GitHubTokenEnv)
}

func TestWatchCmd_Flags(t *testing.T) {
	cmd := newWatchCmd()
	for _, name := range []string{"server", "result", "success-on", "failure-on", "timeout", "capture", "log-level"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}
}

func TestWatchCmd_RejectsBadRule(t *testing.T) {
	cmd := newWatchCmd()
	cmd.SetArgs([]string{"--success-on", "result"})
	assert.Error(t, cmd.Execute())
}

func TestRunWithSignals_PassesThroughErrors(t *testing.T) {
	want := client.ExitError{Code: 1}
	err := runWithSignals(func(context.Context) error { return want })
	assert.Equal(t, want, err)

	err = runWithSignals(func(context.Context) error { return errors.Wrap(context.Canceled, "stopped") })
	assert.NoError(t, err)
}
