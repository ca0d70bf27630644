// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/invowk/coreupdater/internal/host"
	"github.com/invowk/coreupdater/internal/metrics"
	"github.com/invowk/coreupdater/internal/updater"
	"github.com/invowk/coreupdater/internal/watch"
)

func newRunCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "run [-- args...]",
		Short: "Update the installation, then start the host application",
		Long: `Update the installation, then start the host application.

The update check and the verification run first. A failed verification
keeps the application from starting. When files in use were replaced,
coreupdater starts itself again with the same arguments instead.

While the application runs, installed manifests are watched for changes
made by other tools (watch.enabled) and metrics are served on
metrics.listen when it is set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withUpdater(cmd.Context(), func(u *updater.Updater) error {
				return app.runHost(cmd.Context(), u, args)
			})
		},
	}
}

func (a *App) runHost(ctx context.Context, u *updater.Updater, args []string) error {
	application, err := host.Lookup(a.cfg.Host.App, host.Options{
		InstallRoot: u.InstallRoot(),
		Command:     a.cfg.Host.Command,
		StartMode:   a.cfg.Host.StartMode,
		Logger:      a.logger,
	})
	if err != nil {
		return err
	}
	mode := a.cfg.Host.StartMode
	if application.IsRunningAsService() {
		mode = host.StartModeService
	}
	for _, p := range u.PreloadAssemblies(mode) {
		a.logger.Debug("preload", "assembly", p)
	}

	runner := host.NewRunner(u, application, host.WithLogger(a.logger), host.WithRestarter(func(ctx context.Context, args []string) error {
		// The new process takes the updater lock.
		if err := u.Close(); err != nil {
			return err
		}
		a.logger.Info("restarting to load replaced files")
		return host.Reexec(ctx, a.restartArgs(args))
	}))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if addr := a.cfg.Metrics.Listen; addr != "" {
		g.Go(func() error {
			if err := metrics.Serve(gctx, addr, a.registry); err != nil {
				return fmt.Errorf("metrics endpoint %s: %w", addr, err)
			}
			return nil
		})
	}

	if a.cfg.Watch.Enabled {
		w, err := watch.New(watch.Config{
			Dir:      u.ManifestDir(),
			Debounce: a.cfg.Watch.Debounce,
			Logger:   a.logger,
			OnChange: func(ctx context.Context, changed []string) error {
				a.logger.Info("installed manifests changed, reloading", "files", changed)
				return u.Reload(ctx)
			},
		})
		if err != nil {
			a.logger.Warn("manifest watcher disabled", "err", err)
		} else {
			g.Go(func() error {
				if err := w.Run(gctx); err != nil {
					a.logger.Warn("manifest watcher stopped", "err", err)
				}
				return nil
			})
		}
	}

	g.Go(func() error {
		defer cancel()
		return runner.Run(gctx, args)
	})

	err = g.Wait()
	if errors.Is(err, host.ErrVerificationFailed) {
		return &ExitError{Code: ExitIntegrity, Err: err}
	}
	return err
}

// restartArgs rebuilds the command line of the current invocation.
func (a *App) restartArgs(args []string) []string {
	out := []string{"run"}
	if a.cfgPath != "" {
		out = append(out, "--config", a.cfgPath)
	}
	for flag, key := range flagKeys {
		if v, ok := a.flagValues[key]; ok {
			out = append(out, "--"+flag, fmt.Sprint(v))
		}
	}
	if len(args) > 0 {
		out = append(out, "--")
		out = append(out, args...)
	}
	return out
}
