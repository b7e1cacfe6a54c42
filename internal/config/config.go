// Package config builds the relay's immutable runtime configuration from
// command-line flags and environment variables.
package config

import (
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is read once at startup and passed by value into constructors.
type Config struct {
	Port            int
	WebhookPath     string
	GitHubToken     string
	WebhookSecret   string
	APIURL          string
	DispatchTimeout time.Duration
	MaxBodyBytes    int64
	LogLevel        string
	LogFormat       string
	MetricsPrefix   string
	StatsdAddr      string
}

// Flag and viper keys.
const (
	PortKey            = "port"
	WebhookPathKey     = "webhook-path"
	GitHubTokenKey     = "github-token"
	WebhookSecretKey   = "webhook-secret"
	APIURLKey          = "api-url"
	DispatchTimeoutKey = "dispatch-timeout"
	MaxBodyBytesKey    = "max-body-bytes"
	LogLevelKey        = "log-level"
	LogFormatKey       = "log-format"
	MetricsPrefixKey   = "metrics-prefix"
	StatsdAddrKey      = "statsd-addr"
)

// Default values when neither flag nor env var is set.
const (
	DefaultPort            = 8080
	DefaultWebhookPath     = "/webhook"
	DefaultAPIURL          = "https://api.github.com"
	DefaultDispatchTimeout = 10 * time.Second
	DefaultMaxBodyBytes    = 25 << 20
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "json"
	DefaultMetricsPrefix   = "relay"
)

// EnvPrefix is prepended to every key that has no dedicated env var, e.g.
// RELAY_PORT or RELAY_DISPATCH_TIMEOUT.
const EnvPrefix = "RELAY"

// The credentials keep their conventional unprefixed names.
const (
	GitHubTokenEnv   = "GITHUB_TOKEN"
	WebhookSecretEnv = "WEBHOOK_SECRET"
)

// New returns a viper instance with defaults and env bindings installed.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv(GitHubTokenKey, GitHubTokenEnv)
	_ = v.BindEnv(WebhookSecretKey, WebhookSecretEnv)

	v.SetDefault(PortKey, DefaultPort)
	v.SetDefault(WebhookPathKey, DefaultWebhookPath)
	v.SetDefault(APIURLKey, DefaultAPIURL)
	v.SetDefault(DispatchTimeoutKey, DefaultDispatchTimeout)
	v.SetDefault(MaxBodyBytesKey, DefaultMaxBodyBytes)
	v.SetDefault(LogLevelKey, DefaultLogLevel)
	v.SetDefault(LogFormatKey, DefaultLogFormat)
	v.SetDefault(MetricsPrefixKey, DefaultMetricsPrefix)
	return v
}

// BindFlags registers the serve flags on flags and binds each to v so that an
// explicitly set flag wins over the environment.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	flags.Int(PortKey, DefaultPort, "Port to listen on")
	flags.String(WebhookPathKey, DefaultWebhookPath, "Path that receives GitHub webhooks")
	flags.String(GitHubTokenKey, "", "Token used to call the repository dispatch API (env "+GitHubTokenEnv+")")
	flags.String(WebhookSecretKey, "", "Shared secret for X-Hub-Signature-256 verification (env "+WebhookSecretEnv+")")
	flags.String(APIURLKey, DefaultAPIURL, "Base URL of the GitHub REST API")
	flags.Duration(DispatchTimeoutKey, DefaultDispatchTimeout, "Timeout for the outbound dispatch call")
	flags.Int64(MaxBodyBytesKey, DefaultMaxBodyBytes, "Maximum accepted webhook body size")
	flags.String(LogLevelKey, DefaultLogLevel, "Log level: debug, info, warn or error")
	flags.String(LogFormatKey, DefaultLogFormat, "Log format: json or console")
	flags.String(MetricsPrefixKey, DefaultMetricsPrefix, "Prefix for emitted metrics")
	flags.String(StatsdAddrKey, "", "host:port of a statsd agent; metrics are discarded when empty")

	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		err = v.BindPFlag(f.Name, f)
	})
	return errors.Wrap(err, "binding flags")
}

// Load reads and validates the configuration held by v.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		Port:            v.GetInt(PortKey),
		WebhookPath:     v.GetString(WebhookPathKey),
		GitHubToken:     strings.TrimSpace(v.GetString(GitHubTokenKey)),
		WebhookSecret:   v.GetString(WebhookSecretKey),
		APIURL:          strings.TrimSuffix(v.GetString(APIURLKey), "/"),
		DispatchTimeout: v.GetDuration(DispatchTimeoutKey),
		MaxBodyBytes:    v.GetInt64(MaxBodyBytesKey),
		LogLevel:        strings.ToLower(v.GetString(LogLevelKey)),
		LogFormat:       strings.ToLower(v.GetString(LogFormatKey)),
		MetricsPrefix:   v.GetString(MetricsPrefixKey),
		StatsdAddr:      v.GetString(StatsdAddrKey),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.GitHubToken == "" {
		return errors.Errorf("%s is required", GitHubTokenEnv)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.Errorf("invalid port %d", c.Port)
	}
	if !strings.HasPrefix(c.WebhookPath, "/") {
		return errors.Errorf("webhook path %q must start with /", c.WebhookPath)
	}
	u, err := url.Parse(c.APIURL)
	if err != nil {
		return errors.Wrapf(err, "parsing api url %q", c.APIURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return errors.Errorf("api url %q must be an absolute http(s) URL", c.APIURL)
	}
	if c.DispatchTimeout <= 0 {
		return errors.Errorf("dispatch timeout must be positive, got %s", c.DispatchTimeout)
	}
	if c.MaxBodyBytes <= 0 {
		return errors.Errorf("max body bytes must be positive, got %d", c.MaxBodyBytes)
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return errors.Errorf("unsupported log format %q", c.LogFormat)
	}
	return nil
}
