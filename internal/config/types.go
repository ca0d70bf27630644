// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
var ErrInvalidConfig = errors.New("invalid config")

type (
	// Config is the complete updater configuration.
	Config struct {
		FeedURL             string        `mapstructure:"feed_url"`
		InstallRoot         string        `mapstructure:"install_root"`
		BootstrapPackage    string        `mapstructure:"bootstrap_package"`
		ReplacementPatterns []string      `mapstructure:"replacement_patterns"`
		HTTP                HTTPConfig    `mapstructure:"http"`
		Verify              VerifyConfig  `mapstructure:"verify"`
		Log                 LogConfig     `mapstructure:"log"`
		Metrics             MetricsConfig `mapstructure:"metrics"`
		Host                HostConfig    `mapstructure:"host"`
		Watch               WatchConfig   `mapstructure:"watch"`
	}

	// HTTPConfig tunes the feed transport.
	HTTPConfig struct {
		Timeout   time.Duration `mapstructure:"timeout"`
		RetryMax  int           `mapstructure:"retry_max"`
		UserAgent string        `mapstructure:"user_agent"`
	}

	// VerifyConfig selects the verification failure policy.
	VerifyConfig struct {
		// IsolateFailures continues a verification pass after a package
		// fails and reports every failure at the end.
		IsolateFailures bool `mapstructure:"isolate_failures"`
	}

	// LogConfig configures the logger.
	LogConfig struct {
		Level      string `mapstructure:"level"`
		Format     string `mapstructure:"format"`
		File       string `mapstructure:"file"`
		MaxSizeMB  int    `mapstructure:"max_size_mb"`
		MaxBackups int    `mapstructure:"max_backups"`
	}

	// MetricsConfig enables the Prometheus endpoint of "run" when Listen is
	// set.
	MetricsConfig struct {
		Listen string `mapstructure:"listen"`
	}

	// HostConfig selects the application "run" starts.
	HostConfig struct {
		App       string   `mapstructure:"app"`
		Command   []string `mapstructure:"command"`
		StartMode string   `mapstructure:"start_mode"`
	}

	// WatchConfig controls the installed-manifest watcher of "run".
	WatchConfig struct {
		Enabled  bool          `mapstructure:"enabled"`
		Debounce time.Duration `mapstructure:"debounce"`
	}

	// LoadOptions selects where Load reads from.
	LoadOptions struct {
		// ConfigFilePath forces a specific file. It must exist.
		ConfigFilePath string
		// ConfigDirPath replaces ConfigDir() in the lookup.
		ConfigDirPath string
		// SkipWorkingDir disables the ./config.cue fallback.
		SkipWorkingDir bool
		// Overrides win over every other source, keyed by dotted config
		// key such as "log.level". Command-line flags land here.
		Overrides map[string]any
	}

	// InvalidConfigError lists every field that failed validation.
	// It wraps ErrInvalidConfig for errors.Is() compatibility.
	InvalidConfigError struct {
		FieldErrors []error
	}
)

// Error implements the error interface.
func (e *InvalidConfigError) Error() string {
	msgs := make([]string, 0, len(e.FieldErrors))
	for _, fe := range e.FieldErrors {
		msgs = append(msgs, fe.Error())
	}
	return fmt.Sprintf("%s: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}

// Unwrap returns ErrInvalidConfig for errors.Is() compatibility.
func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		InstallRoot:         ".",
		BootstrapPackage:    "coreupdater",
		ReplacementPatterns: []string{"**/*.dll", "**/*.exe", "**/*.so", "**/*.dylib"},
		HTTP: HTTPConfig{
			Timeout:   60 * time.Second,
			RetryMax:  3,
			UserAgent: "coreupdater",
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  5,
			MaxBackups: 10,
		},
		Host: HostConfig{
			App:       "exec",
			StartMode: "standalone",
		},
		Watch: WatchConfig{
			Enabled:  true,
			Debounce: 500 * time.Millisecond,
		},
	}
}

// Validate checks the constraints the CUE schema cannot express once
// environment overrides have been applied.
func (c *Config) Validate() error {
	var errs []error

	if c.FeedURL != "" {
		u, err := url.Parse(c.FeedURL)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("feed_url: %w", err))
		case u.Scheme != "http" && u.Scheme != "https":
			errs = append(errs, fmt.Errorf("feed_url: scheme %q is not http or https", u.Scheme))
		case u.Host == "":
			errs = append(errs, errors.New("feed_url: missing host"))
		}
	}
	if strings.TrimSpace(c.InstallRoot) == "" {
		errs = append(errs, errors.New("install_root: must not be empty"))
	}
	if c.BootstrapPackage == "" || strings.ContainsAny(c.BootstrapPackage, `/\`) {
		errs = append(errs, fmt.Errorf("bootstrap_package: %q is not a package name", c.BootstrapPackage))
	}
	for i, p := range c.ReplacementPatterns {
		if !doublestar.ValidatePattern(p) {
			errs = append(errs, fmt.Errorf("replacement_patterns[%d]: invalid pattern %q", i, p))
		}
	}
	if c.HTTP.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("http.timeout: %s is not positive", c.HTTP.Timeout))
	}
	if c.HTTP.RetryMax < 0 {
		errs = append(errs, fmt.Errorf("http.retry_max: %d is negative", c.HTTP.RetryMax))
	}
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level: unknown level %q", c.Log.Level))
	}
	if !slices.Contains([]string{"text", "json", "logfmt"}, c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}
	if c.Host.App == "" {
		errs = append(errs, errors.New("host.app: must not be empty"))
	}
	if c.Watch.Debounce < 0 {
		errs = append(errs, fmt.Errorf("watch.debounce: %s is negative", c.Watch.Debounce))
	}

	if len(errs) > 0 {
		return &InvalidConfigError{FieldErrors: errs}
	}
	return nil
}
