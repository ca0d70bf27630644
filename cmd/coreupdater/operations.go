// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/invowk/coreupdater/internal/issue"
	"github.com/invowk/coreupdater/internal/updater"
)

func newCheckCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Update installed packages to the versions the feed offers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.withUpdater(cmd.Context(), func(u *updater.Updater) error {
				if !u.Enabled() {
					app.printf("%s\n", WarningStyle.Render("updater disabled: no feed URL or bootstrap manifest"))
					return nil
				}
				before := u.InstalledPackages()
				if err := u.CheckForUpdates(cmd.Context()); err != nil {
					return err
				}
				app.reportChanges(before, u.InstalledPackages())
				app.reportRestart(u)
				return nil
			})
		},
	}
}

func newVerifyCommand(app *App) *cobra.Command {
	var isolate bool

	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Check installed files, repair damage and install missing dependencies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("isolate") {
				app.cfg.Verify.IsolateFailures = isolate
			}
			return app.withUpdater(cmd.Context(), func(u *updater.Updater) error {
				if !u.Enabled() {
					app.printf("%s\n", WarningStyle.Render("updater disabled: nothing verified"))
					return nil
				}
				before := u.InstalledPackages()
				if err := u.VerifyInstallation(cmd.Context()); err != nil {
					return err
				}
				app.reportChanges(before, u.InstalledPackages())
				app.printf("%s\n", SuccessStyle.Render("installation verified"))
				app.reportRestart(u)
				return nil
			})
		},
	}
	verifyCmd.Flags().BoolVar(&isolate, "isolate", false, "keep verifying after a package fails (overrides verify.isolate_failures)")
	return verifyCmd
}

func newInstallCommand(app *App) *cobra.Command {
	var version string

	installCmd := &cobra.Command{
		Use:   "install <package>",
		Short: "Install a package and its dependencies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			return app.withUpdater(cmd.Context(), func(u *updater.Updater) error {
				var err error
				if version != "" {
					err = u.InstallVersion(cmd.Context(), name, version)
				} else {
					err = u.InstallPackage(cmd.Context(), name)
				}
				if err != nil {
					return issue.Wrap(err, "install package", name)
				}
				app.printf("%s %s %s\n", SuccessStyle.Render("installed"), KeyStyle.Render(name), u.InstalledPackages()[name])
				app.reportRestart(u)
				return nil
			})
		},
	}
	installCmd.Flags().StringVar(&version, "version", "", "install this exact version instead of the latest")
	return installCmd
}

func newUninstallCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall <package>",
		Short: "Remove an installed package that no other package depends on",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			return app.withUpdater(cmd.Context(), func(u *updater.Updater) error {
				if err := u.UninstallPackage(cmd.Context(), name); err != nil {
					return issue.Wrap(err, "uninstall package", name)
				}
				app.printf("%s %s\n", SuccessStyle.Render("removed"), KeyStyle.Render(name))
				app.reportRestart(u)
				return nil
			})
		},
	}
}

// reportChanges prints the packages that were installed or changed version.
func (a *App) reportChanges(before, after map[string]string) {
	changed := false
	for _, name := range sortedKeys(after) {
		old, had := before[name]
		switch {
		case !had:
			a.printf("%s %s %s\n", SuccessStyle.Render("installed"), KeyStyle.Render(name), after[name])
		case old != after[name]:
			a.printf("%s %s %s -> %s\n", SuccessStyle.Render("updated"), KeyStyle.Render(name), old, after[name])
		default:
			continue
		}
		changed = true
	}
	if !changed {
		a.printf("%s\n", SubtitleStyle.Render("everything is up to date"))
	}
}

func (a *App) reportRestart(u *updater.Updater) {
	if u.IsRestartRequired() {
		a.printf("%s\n", WarningStyle.Render(fmt.Sprintf("restart required: files in use were replaced under %s", u.InstallRoot())))
	}
}
