// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/invowk/coreupdater/internal/config"
)

// newConfigCommand creates the `coreupdater config` command tree.
func newConfigCommand(app *App) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage coreupdater configuration",
		Long: `Manage coreupdater configuration.

Configuration is stored in:
  - Linux: ~/.config/coreupdater/config.cue
  - macOS: ~/Library/Application Support/coreupdater/config.cue
  - Windows: %APPDATA%\coreupdater\config.cue

Every key can be overridden with a COREUPDATER_ environment variable,
for example COREUPDATER_FEED_URL or COREUPDATER_HTTP_TIMEOUT.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			app.showConfig()
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "dump",
		Short: "Output the effective configuration as CUE",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			app.printf("%s", config.GenerateCUE(app.cfg))
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create the default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			path, err := config.FilePath()
			if err != nil {
				return err
			}
			created, err := config.CreateDefaultConfig(path)
			if err != nil {
				return err
			}
			if created {
				app.printf("%s %s\n", SuccessStyle.Render("created"), path)
			} else {
				app.printf("%s %s\n", SubtitleStyle.Render("already exists:"), path)
			}
			return nil
		},
	})

	return cfgCmd
}

func (a *App) showConfig() {
	cfg := a.cfg

	a.printf("%s\n\n", TitleStyle.Render("Current Configuration"))
	file := a.cfgPath
	if file == "" {
		file = SubtitleStyle.Render("(using defaults)")
	}
	a.printf("%s: %s\n\n", KeyStyle.Render("Config file"), file)

	rows := []struct {
		key   string
		value any
	}{
		{"feed_url", orNone(cfg.FeedURL)},
		{"install_root", cfg.InstallRoot},
		{"bootstrap_package", cfg.BootstrapPackage},
		{"replacement_patterns", strings.Join(cfg.ReplacementPatterns, ", ")},
		{"http.timeout", cfg.HTTP.Timeout},
		{"http.retry_max", cfg.HTTP.RetryMax},
		{"http.user_agent", cfg.HTTP.UserAgent},
		{"verify.isolate_failures", cfg.Verify.IsolateFailures},
		{"log.level", cfg.Log.Level},
		{"log.format", cfg.Log.Format},
		{"log.file", orNone(cfg.Log.File)},
		{"metrics.listen", orNone(cfg.Metrics.Listen)},
		{"host.app", cfg.Host.App},
		{"host.command", orNone(strings.Join(cfg.Host.Command, " "))},
		{"host.start_mode", cfg.Host.StartMode},
		{"watch.enabled", cfg.Watch.Enabled},
		{"watch.debounce", cfg.Watch.Debounce},
	}
	for _, r := range rows {
		a.printf("%s: %s\n", KeyStyle.Render(r.key), SuccessStyle.Render(fmt.Sprint(r.value)))
	}
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
