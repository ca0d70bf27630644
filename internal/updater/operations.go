// SPDX-License-Identifier: MPL-2.0

package updater

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/invowk/coreupdater/internal/events"
	"github.com/invowk/coreupdater/internal/registry"
	"github.com/invowk/coreupdater/internal/resolver"
	"github.com/invowk/coreupdater/internal/state"
)

// CheckForUpdates reloads the installed packages, refreshes the feed and
// installs every installed package whose available version differs. It is a
// no-op on a disabled updater.
func (u *Updater) CheckForUpdates(ctx context.Context) (err error) {
	u.opMu.Lock()
	defer u.opMu.Unlock()
	if err := u.requireOpen(); err != nil {
		return err
	}

	ev := u.bus.Operation("check")
	defer func() {
		u.record(func(s *state.Status) {
			s.LastCheck = time.Now().UTC()
			s.LastError = errorText(err)
		})
	}()

	if !u.enabled {
		ev.Infof("updater disabled, skipping update check")
		return nil
	}

	if err := u.reg.LoadInstalled(ctx); err != nil {
		ev.Errorf("loading installed packages: %v", err)
		return err
	}
	if _, err := u.reg.RefreshAvailable(ctx); err != nil {
		ev.Errorf("refreshing feed: %v", err)
		return err
	}

	installed := u.reg.Snapshot(registry.Installed)
	updated := 0
	for _, name := range slices.Sorted(maps.Keys(installed)) {
		avail, ok := u.reg.AvailableManifest(name)
		if !ok || avail.Version == installed[name] {
			continue
		}
		if avail.SkipDelivery {
			ev.ForPackage(name).Debugf("%s is not delivered by the updater, skipping", avail)
			continue
		}
		ev.ForPackage(name).Infof("updating %s from %s to %s", name, installed[name], avail.Version)
		// Latest manifest: a feed may publish no versioned manifest path.
		if err := u.install(ctx, resolver.Requirement{Name: name}, ev); err != nil {
			return err
		}
		updated++
	}

	if updated == 0 {
		ev.Infof("all packages are up to date")
	} else {
		ev.Infof("updated %d package(s)", updated)
	}
	if u.IsRestartRequired() {
		ev.Warnf("restart required to complete the update")
	}
	return nil
}

// RefreshAvailable reloads the feed index and manifests without installing
// anything. It returns ErrDisabled on a disabled updater.
func (u *Updater) RefreshAvailable(ctx context.Context) error {
	u.opMu.Lock()
	defer u.opMu.Unlock()
	if err := u.requireOpen(); err != nil {
		return err
	}
	if !u.enabled {
		return ErrDisabled
	}

	ev := u.bus.Operation("refresh")
	if _, err := u.reg.RefreshAvailable(ctx); err != nil {
		ev.Errorf("refreshing feed: %v", err)
		return err
	}
	ev.Debugf("feed lists %d package(s)", len(u.reg.Snapshot(registry.Available)))
	return nil
}

// VerifyInstallation checks every installed package against its recorded
// digests, reinstalls damaged packages and installs missing dependencies
// until the installation is stable. It is a no-op on a disabled updater.
//
// By default the pass stops at the first failure. With
// Options.IsolateVerifyFailures it continues and returns all failures.
func (u *Updater) VerifyInstallation(ctx context.Context) (err error) {
	u.opMu.Lock()
	defer u.opMu.Unlock()
	if err := u.requireOpen(); err != nil {
		return err
	}

	ev := u.bus.Operation("verify")
	defer func() {
		u.record(func(s *state.Status) {
			s.LastVerify = time.Now().UTC()
			s.LastVerifyOK = err == nil
			s.LastError = errorText(err)
		})
	}()

	if !u.enabled {
		ev.Infof("updater disabled, skipping verification")
		return nil
	}

	var merr *multierror.Error
	fail := func(err error) error {
		ev.Errorf("%v", err)
		if !u.opts.IsolateVerifyFailures {
			return err
		}
		merr = multierror.Append(merr, err)
		return nil
	}

	installed := u.reg.Installed()
	for _, name := range slices.Sorted(maps.Keys(installed)) {
		if err := ctx.Err(); err != nil {
			return err
		}
		m := installed[name]
		pev := ev.ForPackage(name)

		ok, err := u.inst.VerifyInstalled(m)
		if err != nil {
			if err := fail(fmt.Errorf("verifying %s: %w", m, err)); err != nil {
				return err
			}
			continue
		}
		if ok {
			pev.Debugf("%s verified", m)
			continue
		}

		u.opts.Metrics.VerifyMismatch()
		if m.SkipDelivery {
			pev.Warnf("%s does not match its manifest but is not delivered by the updater", m)
			continue
		}
		pev.Warnf("%s does not match its manifest, reinstalling", m)
		if err := u.inst.Install(ctx, m, ev); err != nil {
			if err := fail(fmt.Errorf("reinstalling %s: %w", m, err)); err != nil {
				return err
			}
		}
	}

	if err := u.installMissing(ctx, ev, fail); err != nil {
		return err
	}

	if err := merr.ErrorOrNil(); err != nil {
		return err
	}
	ev.Infof("installation verified")
	return nil
}

// installMissing installs dependency gaps until none remain. Each gap is
// installed alone, pinned to the declared version; its own dependencies
// become gaps of the next round. A gap that failed is not retried. A round
// that installs nothing while gaps remain ends the loop with an
// UnresolvableDependencyError.
func (u *Updater) installMissing(ctx context.Context, ev events.Emitter, fail func(error) error) error {
	res := resolver.New(u.feed, u.iv)
	failed := make(map[string]struct{})
	for {
		gaps := resolver.Missing(u.reg.Installed())
		if len(gaps) == 0 {
			return nil
		}

		progressed := false
		for _, gap := range gaps {
			if _, ok := failed[gap.Name]; ok {
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			ev.ForPackage(gap.Name).Infof("installing missing dependency %s", gap)
			if err := u.installGap(ctx, res, gap, ev); err != nil {
				failed[gap.Name] = struct{}{}
				if err := fail(fmt.Errorf("installing dependency %s: %w", gap, err)); err != nil {
					return err
				}
				continue
			}
			if _, ok := u.reg.InstalledManifest(gap.Name); ok {
				progressed = true
			}
		}

		if !progressed {
			return fail(&UnresolvableDependencyError{Missing: resolver.Missing(u.reg.Installed())})
		}
	}
}

func (u *Updater) installGap(ctx context.Context, res *resolver.Resolver, gap resolver.Requirement, ev events.Emitter) error {
	m, err := res.Fetch(ctx, resolver.Requirement{Name: gap.Name, Version: gap.Version})
	if err != nil {
		return err
	}
	if m.SkipDelivery {
		return fmt.Errorf("%w: %s", ErrNotDeliverable, m)
	}
	return u.inst.Install(ctx, m, ev)
}

// InstallPackage installs name and the dependencies it needs from the feed.
func (u *Updater) InstallPackage(ctx context.Context, name string) (err error) {
	return u.InstallVersion(ctx, name, "")
}

// InstallVersion installs a pinned version of name, or the latest one when
// version is empty.
func (u *Updater) InstallVersion(ctx context.Context, name, version string) (err error) {
	u.opMu.Lock()
	defer u.opMu.Unlock()
	if err := u.requireOpen(); err != nil {
		return err
	}
	if !u.enabled {
		return ErrDisabled
	}

	ev := u.bus.Operation("install")
	defer func() {
		u.record(func(s *state.Status) { s.LastError = errorText(err) })
	}()

	if err := u.install(ctx, resolver.Requirement{Name: name, Version: version}, ev); err != nil {
		ev.ForPackage(name).Errorf("installing %s: %v", name, err)
		return err
	}
	return nil
}

// install resolves req and installs the result in discovery order. A root
// flagged skip-delivery fails; such dependencies are skipped.
func (u *Updater) install(ctx context.Context, req resolver.Requirement, ev events.Emitter) error {
	plan, err := resolver.New(u.feed, u.iv).Resolve(ctx, req, u.reg.Snapshot(registry.Installed))
	if err != nil {
		return err
	}
	if len(plan) > 0 && plan[0].SkipDelivery {
		return fmt.Errorf("%w: %s", ErrNotDeliverable, plan[0])
	}

	for _, m := range plan {
		if m.SkipDelivery {
			ev.ForPackage(m.Name).Warnf("dependency %s is not delivered by the updater, skipping", m)
			continue
		}
		if err := u.inst.Install(ctx, m, ev); err != nil {
			return err
		}
	}
	return nil
}

// UninstallPackage removes an installed package that no other installed
// package depends on.
func (u *Updater) UninstallPackage(ctx context.Context, name string) (err error) {
	u.opMu.Lock()
	defer u.opMu.Unlock()
	if err := u.requireOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ev := u.bus.Operation("uninstall").ForPackage(name)
	defer func() {
		u.record(func(s *state.Status) { s.LastError = errorText(err) })
	}()

	err = u.reg.Update(func(tx *registry.Tx) error {
		m, ok := tx.Installed(name)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotInstalled, name)
		}
		if deps := tx.Dependents(name); len(deps) > 0 {
			return &DependencyStillRequiredError{Package: name, Dependents: deps}
		}
		return u.inst.Remove(tx, m, ev)
	})
	if err != nil {
		var still *DependencyStillRequiredError
		if errors.As(err, &still) || errors.Is(err, ErrNotInstalled) {
			ev.Warnf("%v", err)
		} else {
			ev.Errorf("uninstalling %s: %v", name, err)
		}
	}
	return err
}

func (u *Updater) requireOpen() error {
	if !u.opened {
		return errors.New("updater: not open")
	}
	return nil
}
