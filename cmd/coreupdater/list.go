// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"maps"
	"slices"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/invowk/coreupdater/internal/updater"
)

func newListCommand(app *App) *cobra.Command {
	var available bool

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List installed packages, or the packages the feed offers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.withUpdater(cmd.Context(), func(u *updater.Updater) error {
				installed := u.InstalledPackages()
				if !available {
					app.renderInstalled(u)
					return nil
				}
				if !u.Enabled() {
					app.printf("%s\n", WarningStyle.Render("updater disabled: no feed to list"))
					return nil
				}
				if err := u.RefreshAvailable(cmd.Context()); err != nil {
					return err
				}
				app.renderAvailable(u.AvailablePackages(), installed)
				return nil
			})
		},
	}
	listCmd.Flags().BoolVarP(&available, "available", "a", false, "list the packages the feed offers")
	return listCmd
}

func (a *App) renderInstalled(u *updater.Updater) {
	manifests := u.InstalledManifests()

	t := table.NewWriter()
	t.SetOutputMirror(a.stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Package", "Version", "Files", "Depends on", "Description"})
	for _, name := range sortedKeys(manifests) {
		m := manifests[name]
		deps := ""
		for i, d := range m.DependencyNames() {
			if i > 0 {
				deps += ", "
			}
			deps += d
		}
		t.AppendRow(table.Row{name, m.Version, len(m.Files), deps, m.Description})
	}
	t.AppendFooter(table.Row{"", "", "", "", humanize.Comma(int64(len(manifests))) + " installed"})
	t.Render()
}

func (a *App) renderAvailable(available, installed map[string]string) {
	t := table.NewWriter()
	t.SetOutputMirror(a.stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Package", "Available", "Installed"})
	for _, name := range sortedKeys(available) {
		inst := installed[name]
		if inst == "" {
			inst = "-"
		}
		t.AppendRow(table.Row{name, available[name], inst})
	}
	t.Render()
}

func newStatusCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the recorded updater status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.withUpdater(cmd.Context(), func(u *updater.Updater) error {
				st := u.Status()

				app.printf("%s\n\n", TitleStyle.Render("Updater status"))
				app.printf("%s: %s\n", KeyStyle.Render("Install root"), u.InstallRoot())
				iv := u.InterfaceVersion()
				if !u.Enabled() {
					iv += " " + WarningStyle.Render("(disabled)")
				}
				app.printf("%s: %s\n", KeyStyle.Render("Interface version"), iv)
				app.printf("%s: %s\n", KeyStyle.Render("Last check"), when(st.LastCheck))
				verify := when(st.LastVerify)
				if !st.LastVerify.IsZero() {
					if st.LastVerifyOK {
						verify += " " + SuccessStyle.Render("ok")
					} else {
						verify += " " + ErrorStyle.Render("failed")
					}
				}
				app.printf("%s: %s\n", KeyStyle.Render("Last verify"), verify)
				if st.LastError != "" {
					app.printf("%s: %s\n", KeyStyle.Render("Last error"), ErrorStyle.Render(st.LastError))
				}
				restart := SuccessStyle.Render("no")
				if u.IsRestartRequired() || st.RestartRequired {
					restart = WarningStyle.Render("yes")
				}
				app.printf("%s: %s\n", KeyStyle.Render("Restart required"), restart)
				app.printf("%s: %d\n", KeyStyle.Render("Installed packages"), len(u.InstalledPackages()))
				return nil
			})
		},
	}
}

func newConfigsCommand(app *App) *cobra.Command {
	var (
		mode     string
		preloads bool
	)

	configsCmd := &cobra.Command{
		Use:   "configs",
		Short: "List the default configuration files installed packages provide for a start mode",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if mode == "" {
				mode = app.cfg.Host.StartMode
			}
			return app.withUpdater(cmd.Context(), func(u *updater.Updater) error {
				files := u.DefaultConfigurationFiles(mode)
				if preloads {
					files = u.PreloadAssemblies(mode)
				}
				for _, f := range files {
					app.printf("%s\n", f)
				}
				return nil
			})
		},
	}
	configsCmd.Flags().StringVar(&mode, "mode", "", "start mode (default is host.start_mode)")
	configsCmd.Flags().BoolVar(&preloads, "preloads", false, "list preload assemblies instead of configuration files")
	return configsCmd
}

func when(t time.Time) string {
	if t.IsZero() {
		return SubtitleStyle.Render("never")
	}
	return t.Local().Format(time.RFC3339) + " (" + humanize.Time(t) + ")"
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
