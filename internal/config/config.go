// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/spf13/viper"

	"github.com/invowk/coreupdater/internal/issue"
)

const (
	// AppName is the application name.
	AppName = "coreupdater"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "COREUPDATER"
	// ConfigDirEnv relocates the configuration directory.
	ConfigDirEnv = EnvPrefix + "_CONFIG_DIR"

	// maxConfigBytes caps the size of a configuration file (1 MB).
	maxConfigBytes = 1 << 20
)

//go:embed config_schema.cue
var configSchema string

// ConfigDir returns $COREUPDATER_CONFIG_DIR when set, and otherwise the
// platform's user configuration directory joined with AppName.
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	if dir := os.Getenv(ConfigDirEnv); dir != "" {
		return dir, nil
	}

	var configDir string

	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support")
	default:
		configDir = os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
	}

	return filepath.Join(configDir, AppName), nil
}

// Load reads the configuration selected by opts. It returns the path of the
// file that was loaded, or "" when only defaults and the environment apply.
func Load(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := newViper()

	path, err := resolveConfigFile(opts)
	if err != nil {
		return nil, "", err
	}
	if path != "" {
		if err := loadCUEIntoViper(v, path); err != nil {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(path).
				WithIssue(issue.ConfigLoadFailedId).
				WithSuggestion("Check that the file contains valid CUE syntax").
				WithSuggestion("Verify the configuration values match the expected schema").
				WithSuggestion("Use 'coreupdater config show' to see the effective configuration").
				Wrap(err).
				BuildError()
		}
	}

	for key, value := range opts.Overrides {
		v.Set(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(path).
			WithIssue(issue.ConfigLoadFailedId).
			WithSuggestion("Check " + EnvPrefix + "_* environment variables as well as the file").
			Wrap(err).
			BuildError()
	}

	return &cfg, path, nil
}

// newViper returns a Viper instance holding the defaults and reading
// COREUPDATER_* overrides. Every key has a default so AutomaticEnv applies
// to all of them during Unmarshal.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := DefaultConfig()
	v.SetDefault("feed_url", d.FeedURL)
	v.SetDefault("install_root", d.InstallRoot)
	v.SetDefault("bootstrap_package", d.BootstrapPackage)
	v.SetDefault("replacement_patterns", d.ReplacementPatterns)
	v.SetDefault("http.timeout", d.HTTP.Timeout)
	v.SetDefault("http.retry_max", d.HTTP.RetryMax)
	v.SetDefault("http.user_agent", d.HTTP.UserAgent)
	v.SetDefault("verify.isolate_failures", d.Verify.IsolateFailures)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("metrics.listen", d.Metrics.Listen)
	v.SetDefault("host.app", d.Host.App)
	v.SetDefault("host.command", d.Host.Command)
	v.SetDefault("host.start_mode", d.Host.StartMode)
	v.SetDefault("watch.enabled", d.Watch.Enabled)
	v.SetDefault("watch.debounce", d.Watch.Debounce)
	return v
}

// resolveConfigFile picks the explicit file, then the configuration
// directory, then ./config.cue. A missing explicit file is an error; the
// other locations are optional.
func resolveConfigFile(opts LoadOptions) (string, error) {
	if opts.ConfigFilePath != "" {
		if !fileExists(opts.ConfigFilePath) {
			return "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(opts.ConfigFilePath).
				WithIssue(issue.ConfigLoadFailedId).
				WithSuggestion("Verify the file path is correct").
				WithSuggestion("Check that the file exists and is readable").
				Wrap(fmt.Errorf("config file not found: %s", opts.ConfigFilePath)).
				BuildError()
		}
		return opts.ConfigFilePath, nil
	}

	cfgDir := opts.ConfigDirPath
	if cfgDir == "" {
		dir, err := ConfigDir()
		if err != nil {
			return "", err
		}
		cfgDir = dir
	}
	name := ConfigFileName + "." + ConfigFileExt
	if p := filepath.Join(cfgDir, name); fileExists(p) {
		return p, nil
	}
	if !opts.SkipWorkingDir && fileExists(name) {
		return name, nil
	}
	return "", nil
}

// loadCUEIntoViper parses a CUE file, validates it against the #Config schema,
// and merges its contents into Viper.
//
// Note: the file decodes to map[string]any rather than a struct so Viper can
// layer it between the defaults and the environment. Concrete(false) is used
// because every field is optional.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if len(data) > maxConfigBytes {
		return fmt.Errorf("%s: file size %d bytes exceeds maximum %d bytes", path, len(data), maxConfigBytes)
	}

	ctx := cuecontext.New()

	schemaValue := ctx.CompileString(configSchema)
	if schemaValue.Err() != nil {
		return fmt.Errorf("internal error: failed to compile config schema: %w", schemaValue.Err())
	}

	userValue := ctx.CompileBytes(data, cue.Filename(path))
	if userValue.Err() != nil {
		return formatCUEError(userValue.Err(), path)
	}

	schema := schemaValue.LookupPath(cue.ParsePath("#Config"))
	unified := schema.Unify(userValue)
	if err := unified.Validate(cue.Concrete(false)); err != nil {
		return formatCUEError(err, path)
	}

	var configMap map[string]any
	if err := unified.Decode(&configMap); err != nil {
		return formatCUEError(err, path)
	}

	if err := v.MergeConfigMap(configMap); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// FilePath returns the default location of the configuration file.
func FilePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConfigFileName+"."+ConfigFileExt), nil
}

// CreateDefaultConfig writes the defaults to path unless a file exists there.
func CreateDefaultConfig(path string) (created bool, err error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(GenerateCUE(DefaultConfig())), 0o644); err != nil {
		return false, fmt.Errorf("failed to write config file: %w", err)
	}
	return true, nil
}

// GenerateCUE renders cfg as a configuration file.
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// coreupdater configuration\n\n")

	fmt.Fprintf(&sb, "feed_url:          %q\n", cfg.FeedURL)
	fmt.Fprintf(&sb, "install_root:      %q\n", cfg.InstallRoot)
	fmt.Fprintf(&sb, "bootstrap_package: %q\n", cfg.BootstrapPackage)
	fmt.Fprintf(&sb, "replacement_patterns: %s\n", cueList(cfg.ReplacementPatterns))

	sb.WriteString("\nhttp: {\n")
	fmt.Fprintf(&sb, "\ttimeout:    %q\n", cfg.HTTP.Timeout.String())
	fmt.Fprintf(&sb, "\tretry_max:  %d\n", cfg.HTTP.RetryMax)
	fmt.Fprintf(&sb, "\tuser_agent: %q\n", cfg.HTTP.UserAgent)
	sb.WriteString("}\n")

	sb.WriteString("\nverify: {\n")
	fmt.Fprintf(&sb, "\tisolate_failures: %v\n", cfg.Verify.IsolateFailures)
	sb.WriteString("}\n")

	sb.WriteString("\nlog: {\n")
	fmt.Fprintf(&sb, "\tlevel:       %q\n", cfg.Log.Level)
	fmt.Fprintf(&sb, "\tformat:      %q\n", cfg.Log.Format)
	fmt.Fprintf(&sb, "\tfile:        %q\n", cfg.Log.File)
	fmt.Fprintf(&sb, "\tmax_size_mb: %d\n", cfg.Log.MaxSizeMB)
	fmt.Fprintf(&sb, "\tmax_backups: %d\n", cfg.Log.MaxBackups)
	sb.WriteString("}\n")

	sb.WriteString("\nmetrics: {\n")
	fmt.Fprintf(&sb, "\tlisten: %q\n", cfg.Metrics.Listen)
	sb.WriteString("}\n")

	sb.WriteString("\nhost: {\n")
	fmt.Fprintf(&sb, "\tapp:        %q\n", cfg.Host.App)
	fmt.Fprintf(&sb, "\tcommand:    %s\n", cueList(cfg.Host.Command))
	fmt.Fprintf(&sb, "\tstart_mode: %q\n", cfg.Host.StartMode)
	sb.WriteString("}\n")

	sb.WriteString("\nwatch: {\n")
	fmt.Fprintf(&sb, "\tenabled:  %v\n", cfg.Watch.Enabled)
	fmt.Fprintf(&sb, "\tdebounce: %q\n", cfg.Watch.Debounce.String())
	sb.WriteString("}\n")

	return sb.String()
}

func cueList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = fmt.Sprintf("%q", s)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
