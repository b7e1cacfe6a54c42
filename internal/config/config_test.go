package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(GitHubTokenEnv, "secret-token")
	cfg, err := Load(New())
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultWebhookPath, cfg.WebhookPath)
	assert.Equal(t, DefaultAPIURL, cfg.APIURL)
	assert.Equal(t, DefaultDispatchTimeout, cfg.DispatchTimeout)
	assert.Equal(t, int64(DefaultMaxBodyBytes), cfg.MaxBodyBytes)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, DefaultLogFormat, cfg.LogFormat)
	assert.Equal(t, DefaultMetricsPrefix, cfg.MetricsPrefix)
	assert.Equal(t, "secret-token", cfg.GitHubToken)
	assert.Empty(t, cfg.WebhookSecret)
	assert.Empty(t, cfg.StatsdAddr)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv(GitHubTokenEnv, "tok")
	t.Setenv(WebhookSecretEnv, "shh")
	t.Setenv("RELAY_PORT", "9090")
	t.Setenv("RELAY_WEBHOOK_PATH", "/hooks/github")
	t.Setenv("RELAY_API_URL", "https://ghe.example.com/api/v3/")
	t.Setenv("RELAY_DISPATCH_TIMEOUT", "3s")
	t.Setenv("RELAY_LOG_FORMAT", "CONSOLE")
	t.Setenv("RELAY_STATSD_ADDR", "localhost:8125")

	cfg, err := Load(New())
	require.NoError(t, err)

	assert.Equal(t, "tok", cfg.GitHubToken)
	assert.Equal(t, "shh", cfg.WebhookSecret)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "/hooks/github", cfg.WebhookPath)
	assert.Equal(t, "https://ghe.example.com/api/v3", cfg.APIURL)
	assert.Equal(t, 3*time.Second, cfg.DispatchTimeout)
	assert.Equal(t, "console", cfg.LogFormat)
	assert.Equal(t, "localhost:8125", cfg.StatsdAddr)
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	t.Setenv(GitHubTokenEnv, "from-env")
	t.Setenv("RELAY_PORT", "9090")

	v := New()
	flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	require.NoError(t, BindFlags(v, flags))
	require.NoError(t, flags.Parse([]string{"--port", "7070", "--github-token", "from-flag"}))

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Port)
	assert.Equal(t, "from-flag", cfg.GitHubToken)
}

func TestLoad_UnsetFlagsFallBackToEnv(t *testing.T) {
	t.Setenv(GitHubTokenEnv, "from-env")
	t.Setenv("RELAY_PORT", "9090")

	v := New()
	flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	require.NoError(t, BindFlags(v, flags))
	require.NoError(t, flags.Parse(nil))

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "from-env", cfg.GitHubToken)
}

func TestLoad_MissingToken(t *testing.T) {
	t.Setenv(GitHubTokenEnv, "")
	_, err := Load(New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), GitHubTokenEnv)
}

func TestValidate(t *testing.T) {
	valid := Config{
		Port:            8080,
		WebhookPath:     "/webhook",
		GitHubToken:     "tok",
		APIURL:          DefaultAPIURL,
		DispatchTimeout: time.Second,
		MaxBodyBytes:    1024,
		LogFormat:       "json",
	}
	require.NoError(t, valid.Validate())

	cases := map[string]func(c *Config){
		"port":        func(c *Config) { c.Port = 0 },
		"path":        func(c *Config) { c.WebhookPath = "webhook" },
		"relative":    func(c *Config) { c.APIURL = "api.github.com" },
		"scheme":      func(c *Config) { c.APIURL = "ftp://api.github.com" },
		"timeout":     func(c *Config) { c.DispatchTimeout = 0 },
		"body limit":  func(c *Config) { c.MaxBodyBytes = -1 },
		"log format":  func(c *Config) { c.LogFormat = "xml" },
		"empty token": func(c *Config) { c.GitHubToken = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := valid
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
