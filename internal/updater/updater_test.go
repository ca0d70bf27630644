// SPDX-License-Identifier: MPL-2.0

package updater

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/invowk/coreupdater/internal/events"
	"github.com/invowk/coreupdater/internal/feed"
	"github.com/invowk/coreupdater/internal/state"
	"github.com/invowk/coreupdater/pkg/manifest"
)

func bootstrap(t *testing.T, root string) {
	t.Helper()
	writeInstalled(t, root, &manifest.Manifest{Name: DefaultBootstrapPackage, Version: "1.0"})
}

func openUpdater(t *testing.T, root string, tf *testFeed, mutate ...func(*Options)) *Updater {
	t.Helper()

	opts := Options{InstallRoot: root}
	if tf != nil {
		opts.Feed = tf.client()
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	u, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := u.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = u.Close() })
	return u
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) handle(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) bySeverity(sev events.Severity) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.events {
		if e.Severity == sev {
			out = append(out, e)
		}
	}
	return out
}

// announced returns the package of every info event whose message starts
// with prefix, in emission order.
func (r *recorder) announced(prefix string) []string {
	var out []string
	for _, e := range r.bySeverity(events.Info) {
		if strings.HasPrefix(e.Message, prefix) {
			out = append(out, e.Package)
		}
	}
	return out
}

func readText(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile(%s) error = %v", path, err)
	}
	return string(data)
}

func TestOpen_Disabled(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		bootstrap bool
		feed      bool
	}{
		{"no bootstrap manifest", false, true},
		{"no feed", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			root := t.TempDir()
			if tt.bootstrap {
				bootstrap(t, root)
			}
			var tf *testFeed
			if tt.feed {
				tf = newTestFeed(t)
			}
			u := openUpdater(t, root, tf)

			if u.Enabled() {
				t.Fatal("Enabled() = true")
			}
			ctx := context.Background()
			if err := u.CheckForUpdates(ctx); err != nil {
				t.Errorf("CheckForUpdates() error = %v", err)
			}
			if err := u.VerifyInstallation(ctx); err != nil {
				t.Errorf("VerifyInstallation() error = %v", err)
			}
			if err := u.InstallPackage(ctx, "app"); !errors.Is(err, ErrDisabled) {
				t.Errorf("InstallPackage() error = %v, want ErrDisabled", err)
			}
		})
	}
}

func TestOpen_Locked(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	bootstrap(t, root)
	first := openUpdater(t, root, nil)

	second, err := New(Options{InstallRoot: root})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := second.Open(context.Background()); !errors.Is(err, ErrLocked) {
		t.Fatalf("Open() error = %v, want ErrLocked", err)
	}

	if err := first.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := second.Open(context.Background()); err != nil {
		t.Fatalf("Open() after Close() error = %v", err)
	}
	_ = second.Close()
}

func TestOpen_RemovesStagedFiles(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	bootstrap(t, root)
	staged := filepath.Join(root, "bin", "engine.dll.delete")
	if err := os.WriteFile(staged, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	u := openUpdater(t, root, newTestFeed(t))
	if _, err := os.Stat(staged); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("staged file survived Open(): %v", err)
	}
	if u.IsRestartRequired() {
		t.Error("IsRestartRequired() = true after a clean start")
	}
}

func TestOperations_RequireOpen(t *testing.T) {
	t.Parallel()

	u, err := New(Options{InstallRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := u.CheckForUpdates(context.Background()); err == nil {
		t.Error("CheckForUpdates() before Open() succeeded")
	}
	if err := u.UninstallPackage(context.Background(), "x"); err == nil {
		t.Error("UninstallPackage() before Open() succeeded")
	}
}

func TestInstallPackage_ResolvesDependencies(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	bootstrap(t, root)
	tf := newTestFeed(t)
	tf.publish(&manifest.Manifest{Name: "libcore", Version: "2.0"}, map[string]string{"bin/libcore.so": "libcore 2"})
	tf.publish(&manifest.Manifest{Name: "app", Version: "1.4", Dependencies: map[string]string{"libcore": "2.0"}},
		map[string]string{"bin/app.dll": "app 1.4"})

	u := openUpdater(t, root, tf)
	if err := u.InstallPackage(context.Background(), "app"); err != nil {
		t.Fatalf("InstallPackage() error = %v", err)
	}

	want := map[string]string{DefaultBootstrapPackage: "1.0", "app": "1.4", "libcore": "2.0"}
	if diff := cmp.Diff(want, u.InstalledPackages()); diff != "" {
		t.Errorf("InstalledPackages() mismatch (-want +got):\n%s", diff)
	}
	if got := readText(t, filepath.Join(root, "bin", "libcore.so")); got != "libcore 2" {
		t.Errorf("libcore.so = %q", got)
	}

	st, err := state.Load(u.StatePath())
	if err != nil {
		t.Fatalf("state.Load() error = %v", err)
	}
	if diff := cmp.Diff(want, st.Installed); diff != "" {
		t.Errorf("status file installed mismatch (-want +got):\n%s", diff)
	}
}

func TestInstallPackage_NotDeliverable(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	bootstrap(t, root)
	tf := newTestFeed(t)
	tf.publish(&manifest.Manifest{Name: "runtime", Version: "8", SkipDelivery: true}, map[string]string{"x": "x"})

	u := openUpdater(t, root, tf)
	if err := u.InstallPackage(context.Background(), "runtime"); !errors.Is(err, ErrNotDeliverable) {
		t.Fatalf("InstallPackage() error = %v, want ErrNotDeliverable", err)
	}
	if _, ok := u.InstalledPackages()["runtime"]; ok {
		t.Error("undeliverable package installed")
	}
}

func TestInstallPackage_SkipsUndeliverableDependency(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	bootstrap(t, root)
	tf := newTestFeed(t)
	tf.publish(&manifest.Manifest{Name: "runtime", Version: "8", SkipDelivery: true}, map[string]string{"x": "x"})
	tf.publish(&manifest.Manifest{Name: "app", Version: "1", Dependencies: map[string]string{"runtime": ""}},
		map[string]string{"bin/app.dll": "app"})

	u := openUpdater(t, root, tf)
	rec := &recorder{}
	u.Events().Subscribe(rec.handle)

	if err := u.InstallPackage(context.Background(), "app"); err != nil {
		t.Fatalf("InstallPackage() error = %v", err)
	}
	installed := u.InstalledPackages()
	if _, ok := installed["runtime"]; ok {
		t.Error("undeliverable dependency installed")
	}
	if installed["app"] != "1" {
		t.Errorf("app = %q, want 1", installed["app"])
	}
	if len(rec.bySeverity(events.Warn)) == 0 {
		t.Error("no warning for the skipped dependency")
	}
}

func TestInstallPackage_UnknownPackage(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	bootstrap(t, root)
	u := openUpdater(t, root, newTestFeed(t))

	if err := u.InstallPackage(context.Background(), "ghost"); !errors.Is(err, feed.ErrManifestNotFound) {
		t.Errorf("InstallPackage() error = %v, want ErrManifestNotFound", err)
	}
}

func TestCheckForUpdates(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	bootstrap(t, root)
	tf := newTestFeed(t)
	tf.publish(&manifest.Manifest{Name: "app", Version: "1.0"}, map[string]string{"bin/app.dll": "v1", "share/old.txt": "old"})
	tf.publish(&manifest.Manifest{Name: "devtools", Version: "1"}, map[string]string{"d": "d"})
	tf.hidden["devtools"] = true

	u := openUpdater(t, root, tf)
	ctx := context.Background()
	if err := u.InstallPackage(ctx, "app"); err != nil {
		t.Fatalf("InstallPackage() error = %v", err)
	}

	tf.publish(&manifest.Manifest{Name: "app", Version: "2.0"}, map[string]string{"bin/app.dll": "v2"})
	if err := u.CheckForUpdates(ctx); err != nil {
		t.Fatalf("CheckForUpdates() error = %v", err)
	}

	if got := u.InstalledPackages()["app"]; got != "2.0" {
		t.Errorf("app = %q, want 2.0", got)
	}
	if got := readText(t, filepath.Join(root, "bin", "app.dll")); got != "v2" {
		t.Errorf("app.dll = %q, want v2", got)
	}
	if _, err := os.Stat(filepath.Join(root, "share", "old.txt")); !errors.Is(err, os.ErrNotExist) {
		t.Error("file dropped by 2.0 still installed")
	}

	avail := u.AvailablePackages()
	if avail["app"] != "2.0" {
		t.Errorf("AvailablePackages()[app] = %q, want 2.0", avail["app"])
	}
	if _, ok := avail["devtools"]; ok {
		t.Error("hidden package listed as available")
	}
	if _, ok := u.InstalledPackages()["devtools"]; ok {
		t.Error("CheckForUpdates() installed a package that was not installed")
	}

	if st := u.Status(); st.LastCheck.IsZero() || st.LastError != "" {
		t.Errorf("Status() = %+v, want a successful check recorded", st)
	}
}

func TestCheckForUpdates_FeedWithoutVersionedManifests(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	bootstrap(t, root)
	tf := newTestFeed(t)
	tf.unversioned = true
	tf.publish(&manifest.Manifest{Name: "app", Version: "1.0"}, map[string]string{"bin/app.dll": "v1"})

	u := openUpdater(t, root, tf)
	ctx := context.Background()
	if err := u.InstallPackage(ctx, "app"); err != nil {
		t.Fatalf("InstallPackage() error = %v", err)
	}

	tf.publish(&manifest.Manifest{Name: "app", Version: "2.0"}, map[string]string{"bin/app.dll": "v2"})
	if err := u.CheckForUpdates(ctx); err != nil {
		t.Fatalf("CheckForUpdates() error = %v", err)
	}
	if got := u.InstalledPackages()["app"]; got != "2.0" {
		t.Errorf("app = %q, want 2.0", got)
	}
	if got := readText(t, filepath.Join(root, "bin", "app.dll")); got != "v2" {
		t.Errorf("app.dll = %q, want v2", got)
	}
}

func TestCheckForUpdates_SkipsUndeliverable(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	bootstrap(t, root)
	writeInstalled(t, root, &manifest.Manifest{Name: "runtime", Version: "7"})
	tf := newTestFeed(t)
	tf.publish(&manifest.Manifest{Name: "runtime", Version: "8", SkipDelivery: true}, map[string]string{"x": "x"})

	u := openUpdater(t, root, tf)
	if err := u.CheckForUpdates(context.Background()); err != nil {
		t.Fatalf("CheckForUpdates() error = %v", err)
	}
	if got := u.InstalledPackages()["runtime"]; got != "7" {
		t.Errorf("runtime = %q, want 7", got)
	}
}

func TestVerifyInstallation_ReinstallsDamagedPackage(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	bootstrap(t, root)
	tf := newTestFeed(t)
	tf.publish(&manifest.Manifest{Name: "app", Version: "1"}, map[string]string{"bin/app.dll": "genuine"})

	u := openUpdater(t, root, tf)
	ctx := context.Background()
	if err := u.InstallPackage(ctx, "app"); err != nil {
		t.Fatalf("InstallPackage() error = %v", err)
	}
	dll := filepath.Join(root, "bin", "app.dll")
	if err := os.WriteFile(dll, []byte("tampered"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := u.VerifyInstallation(ctx); err != nil {
		t.Fatalf("VerifyInstallation() error = %v", err)
	}
	if got := readText(t, dll); got != "genuine" {
		t.Errorf("app.dll = %q, want the reinstalled content", got)
	}
	if st := u.Status(); !st.LastVerifyOK || st.LastVerify.IsZero() {
		t.Errorf("Status() = %+v, want a successful verification", st)
	}
}

func TestVerifyInstallation_InstallsMissingDependencies(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	bootstrap(t, root)
	writeInstalled(t, root, &manifest.Manifest{Name: "app", Version: "1", Dependencies: map[string]string{"libnet": "3.1"}})
	tf := newTestFeed(t)
	tf.publish(&manifest.Manifest{Name: "libnet", Version: "3.1", Dependencies: map[string]string{"libtls": ""}},
		map[string]string{"bin/libnet.so": "net"})
	tf.publish(&manifest.Manifest{Name: "libtls", Version: "1"}, map[string]string{"bin/libtls.so": "tls"})
	tf.publish(&manifest.Manifest{Name: "libnet", Version: "4.0"}, map[string]string{"bin/libnet.so": "net4"})

	u := openUpdater(t, root, tf)
	if err := u.VerifyInstallation(context.Background()); err != nil {
		t.Fatalf("VerifyInstallation() error = %v", err)
	}

	installed := u.InstalledPackages()
	if installed["libnet"] != "3.1" {
		t.Errorf("libnet = %q, want the pinned 3.1", installed["libnet"])
	}
	if installed["libtls"] != "1" {
		t.Errorf("libtls = %q, want 1", installed["libtls"])
	}
}

func TestVerifyInstallation_GapDependenciesInstalledInLaterRound(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	bootstrap(t, root)
	writeInstalled(t, root, &manifest.Manifest{Name: "app", Version: "1", Dependencies: map[string]string{"libnet": ""}})
	tf := newTestFeed(t)
	tf.publish(&manifest.Manifest{Name: "libnet", Version: "3", Dependencies: map[string]string{"libtls": ""}},
		map[string]string{"bin/libnet.so": "net"})
	tf.publish(&manifest.Manifest{Name: "libtls", Version: "1"}, map[string]string{"bin/libtls.so": "tls"})

	u := openUpdater(t, root, tf)
	rec := &recorder{}
	unsubscribe := u.Events().Subscribe(rec.handle)
	defer unsubscribe()

	if err := u.VerifyInstallation(context.Background()); err != nil {
		t.Fatalf("VerifyInstallation() error = %v", err)
	}

	if diff := cmp.Diff([]string{"libnet", "libtls"}, rec.announced("installing missing dependency")); diff != "" {
		t.Errorf("gap installs mismatch (-want +got):\n%s", diff)
	}
	if got := u.InstalledPackages()["libtls"]; got != "1" {
		t.Errorf("libtls = %q, want 1", got)
	}
}

func TestVerifyInstallation_FailedGapNotRetried(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	bootstrap(t, root)
	writeInstalled(t, root, &manifest.Manifest{Name: "app", Version: "1", Dependencies: map[string]string{"ghost": "", "libnet": ""}})
	tf := newTestFeed(t)
	tf.publish(&manifest.Manifest{Name: "libnet", Version: "3", Dependencies: map[string]string{"libtls": ""}},
		map[string]string{"bin/libnet.so": "net"})
	tf.publish(&manifest.Manifest{Name: "libtls", Version: "1"}, map[string]string{"bin/libtls.so": "tls"})

	u := openUpdater(t, root, tf, func(o *Options) { o.IsolateVerifyFailures = true })
	rec := &recorder{}
	unsubscribe := u.Events().Subscribe(rec.handle)
	defer unsubscribe()

	err := u.VerifyInstallation(context.Background())
	if !errors.Is(err, ErrUnresolvableDependency) {
		t.Fatalf("VerifyInstallation() error = %v, want ErrUnresolvableDependency", err)
	}
	if n := strings.Count(err.Error(), "installing dependency ghost"); n != 1 {
		t.Errorf("ghost failure reported %d times, want 1:\n%v", n, err)
	}
	if diff := cmp.Diff([]string{"ghost", "libnet", "libtls"}, rec.announced("installing missing dependency")); diff != "" {
		t.Errorf("gap installs mismatch (-want +got):\n%s", diff)
	}
	if got := u.InstalledPackages()["libtls"]; got != "1" {
		t.Errorf("libtls = %q, want 1", got)
	}
}

func TestVerifyInstallation_UnresolvableDependency(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name             string
		isolate          bool
		wantUnresolvable bool
	}{
		{"abort on first failure", false, false},
		{"isolated failures", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			root := t.TempDir()
			bootstrap(t, root)
			writeInstalled(t, root, &manifest.Manifest{Name: "app", Version: "1", Dependencies: map[string]string{"ghost": ""}})

			u := openUpdater(t, root, newTestFeed(t), func(o *Options) { o.IsolateVerifyFailures = tt.isolate })
			err := u.VerifyInstallation(context.Background())
			if !errors.Is(err, feed.ErrManifestNotFound) {
				t.Errorf("VerifyInstallation() error = %v, want ErrManifestNotFound", err)
			}
			if got := errors.Is(err, ErrUnresolvableDependency); got != tt.wantUnresolvable {
				t.Errorf("errors.Is(ErrUnresolvableDependency) = %v, want %v", got, tt.wantUnresolvable)
			}
			if st := u.Status(); st.LastVerifyOK || st.LastError == "" {
				t.Errorf("Status() = %+v, want a failed verification", st)
			}
		})
	}
}

func TestUninstallPackage(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	bootstrap(t, root)
	tf := newTestFeed(t)
	tf.publish(&manifest.Manifest{Name: "libcore", Version: "2"}, map[string]string{"bin/libcore.so": "lib"})
	tf.publish(&manifest.Manifest{Name: "app", Version: "1", Dependencies: map[string]string{"libcore": ""}},
		map[string]string{"bin/app.dll": "app"})

	u := openUpdater(t, root, tf)
	ctx := context.Background()
	if err := u.InstallPackage(ctx, "app"); err != nil {
		t.Fatalf("InstallPackage() error = %v", err)
	}

	err := u.UninstallPackage(ctx, "libcore")
	var still *DependencyStillRequiredError
	if !errors.As(err, &still) || !errors.Is(err, ErrDependencyStillRequired) {
		t.Fatalf("UninstallPackage(libcore) error = %v, want *DependencyStillRequiredError", err)
	}
	if diff := cmp.Diff([]string{"app"}, still.Dependents); diff != "" {
		t.Errorf("Dependents mismatch (-want +got):\n%s", diff)
	}
	if _, err := os.Stat(filepath.Join(root, "bin", "libcore.so")); err != nil {
		t.Errorf("refused uninstall touched files: %v", err)
	}

	if err := u.UninstallPackage(ctx, "ghost"); !errors.Is(err, ErrNotInstalled) {
		t.Errorf("UninstallPackage(ghost) error = %v, want ErrNotInstalled", err)
	}

	for _, name := range []string{"app", "libcore"} {
		if err := u.UninstallPackage(ctx, name); err != nil {
			t.Fatalf("UninstallPackage(%s) error = %v", name, err)
		}
	}
	if diff := cmp.Diff(map[string]string{DefaultBootstrapPackage: "1.0"}, u.InstalledPackages()); diff != "" {
		t.Errorf("InstalledPackages() mismatch (-want +got):\n%s", diff)
	}
	if _, err := os.Stat(filepath.Join(root, "bin", "installed-packages", "app"+manifest.FileExt)); !errors.Is(err, os.ErrNotExist) {
		t.Error("manifest of app still on disk")
	}
}

func TestDefaultConfigurationFilesAndPreloads(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	bootstrap(t, root)
	writeInstalled(t, root, &manifest.Manifest{
		Name: "b-region", Version: "1",
		DefaultConfigurations: []manifest.Configuration{
			{Source: "config/region.ini", StartModes: []string{"grid"}},
			{Source: "config/common.ini"},
		},
		PreloadAssemblies: []manifest.Preload{{Filename: "bin/region.dll", StartModes: []string{"standalone"}}},
	})
	writeInstalled(t, root, &manifest.Manifest{
		Name: "a-core", Version: "1",
		DefaultConfigurations: []manifest.Configuration{{Source: "config/common.ini"}},
		PreloadAssemblies:     []manifest.Preload{{Filename: "bin/core.dll"}},
	})

	u := openUpdater(t, root, nil)

	if diff := cmp.Diff([]string{"config/common.ini", "config/region.ini"}, u.DefaultConfigurationFiles("grid")); diff != "" {
		t.Errorf("DefaultConfigurationFiles(grid) mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"config/common.ini"}, u.DefaultConfigurationFiles("standalone")); diff != "" {
		t.Errorf("DefaultConfigurationFiles(standalone) mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"bin/core.dll", "bin/region.dll"}, u.PreloadAssemblies("standalone")); diff != "" {
		t.Errorf("PreloadAssemblies(standalone) mismatch (-want +got):\n%s", diff)
	}
}

func TestEvents_TaggedWithOperation(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	bootstrap(t, root)
	tf := newTestFeed(t)
	tf.publish(&manifest.Manifest{Name: "app", Version: "1"}, map[string]string{"bin/app.dll": "app"})

	u := openUpdater(t, root, tf)
	rec := &recorder{}
	unsubscribe := u.Events().Subscribe(rec.handle)
	defer unsubscribe()

	if err := u.InstallPackage(context.Background(), "app"); err != nil {
		t.Fatalf("InstallPackage() error = %v", err)
	}

	infos := rec.bySeverity(events.Info)
	if len(infos) == 0 {
		t.Fatal("no info events emitted")
	}
	op := infos[0].Operation
	for _, e := range infos {
		if e.Action != "install" || e.Operation != op || e.Operation == "" {
			t.Errorf("event %+v not tagged with the install operation", e)
		}
	}
}

func TestRefreshAvailable(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	bootstrap(t, root)
	tf := newTestFeed(t)
	tf.publish(&manifest.Manifest{Name: "libcore", Version: "3.2"}, map[string]string{"bin/libcore.dll": "c"})
	u := openUpdater(t, root, tf)

	if err := u.RefreshAvailable(context.Background()); err != nil {
		t.Fatalf("RefreshAvailable() error = %v", err)
	}
	if diff := cmp.Diff(map[string]string{"libcore": "3.2"}, u.AvailablePackages()); diff != "" {
		t.Errorf("AvailablePackages() mismatch (-want +got):\n%s", diff)
	}
	if _, ok := u.InstalledPackages()["libcore"]; ok {
		t.Error("RefreshAvailable() installed a package")
	}

	disabled := openUpdater(t, t.TempDir(), nil)
	if err := disabled.RefreshAvailable(context.Background()); !errors.Is(err, ErrDisabled) {
		t.Errorf("RefreshAvailable() on disabled updater error = %v, want ErrDisabled", err)
	}
}

func TestReload(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	bootstrap(t, root)
	u := openUpdater(t, root, newTestFeed(t))

	writeInstalled(t, root, &manifest.Manifest{Name: "tool", Version: "5"})

	// Reload waits for the operation in progress.
	u.opMu.Lock()
	done := make(chan error, 1)
	go func() { done <- u.Reload(context.Background()) }()
	select {
	case err := <-done:
		u.opMu.Unlock()
		t.Fatalf("Reload() = %v while an operation held the updater", err)
	case <-time.After(50 * time.Millisecond):
	}
	u.opMu.Unlock()

	if err := <-done; err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if got := u.InstalledPackages()["tool"]; got != "5" {
		t.Errorf("tool = %q, want 5", got)
	}

	if err := u.Close(); err != nil {
		t.Fatal(err)
	}
	if err := u.Reload(context.Background()); err == nil {
		t.Error("Reload() after Close() should fail")
	}
}
