// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/invowk/coreupdater/internal/config"
	"github.com/invowk/coreupdater/internal/issue"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// flagKeys maps persistent flags to the configuration keys they override.
var flagKeys = map[string]string{
	"install-root": "install_root",
	"feed-url":     "feed_url",
	"log-level":    "log.level",
}

// NewRootCommand builds the command tree around app.
func NewRootCommand(app *App) *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "coreupdater",
		Short: "Keep an application installation current from a package feed",
		Long: TitleStyle.Render("coreupdater") + SubtitleStyle.Render(" - self-updating package manager") + `

coreupdater installs, updates and verifies the packages of an application
from a remote feed. Packages are zip archives described by XML manifests;
every archive and file is checked against its SHA-256 digest before it is
written. Files held open by the running application are staged and
replaced on the next start.

` + SubtitleStyle.Render("Examples:") + `
  coreupdater check             Update installed packages to the feed versions
  coreupdater verify            Repair damaged files and install missing dependencies
  coreupdater install libcore   Install a package and its dependencies
  coreupdater list --available  Show what the feed offers
  coreupdater run               Update, then start the host application`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			overrides := make(map[string]any)
			for flag, key := range flagKeys {
				if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
					overrides[key] = f.Value.String()
				}
			}
			app.flagValues = overrides
			return app.setup(cmd.Context(), config.LoadOptions{
				ConfigFilePath: cfgFile,
				Overrides:      overrides,
			})
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return app.teardown()
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&app.verbose, "verbose", "v", false, "enable debug logging and detailed error guidance")
	pf.StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/coreupdater/config.cue)")
	pf.String("install-root", "", "installation root (overrides install_root)")
	pf.String("feed-url", "", "feed URL (overrides feed_url)")
	pf.String("log-level", "", "log level: debug, info, warn or error (overrides log.level)")

	rootCmd.AddCommand(
		newCheckCommand(app),
		newVerifyCommand(app),
		newInstallCommand(app),
		newUninstallCommand(app),
		newListCommand(app),
		newStatusCommand(app),
		newConfigsCommand(app),
		newRunCommand(app),
		newConfigCommand(app),
	)
	return rootCmd
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the CLI and exits with the code the error taxonomy assigns.
func Execute() {
	app := NewApp(Dependencies{})
	rootCmd := NewRootCommand(app)

	err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
		fang.WithErrorHandler(func(w io.Writer, _ fang.Styles, err error) {
			fmt.Fprintln(w, ErrorStyle.Render("Error: ")+formatErrorForDisplay(err, app.verbose))
		}),
	)
	if err != nil {
		os.Exit(exitCodeFor(err))
	}
}

// formatErrorForDisplay formats an error for user display. ActionableErrors
// use their own Format; other errors get the catalog guidance of their class
// in verbose mode.
func formatErrorForDisplay(err error, verboseMode bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verboseMode)
	}
	msg := err.Error()
	if !verboseMode {
		return msg
	}
	if iss := issue.Get(issue.Classify(err)); iss != nil {
		if rendered, renderErr := iss.Render(""); renderErr == nil {
			msg += "\n" + rendered
		}
	}
	return msg
}
