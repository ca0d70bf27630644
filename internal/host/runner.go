// SPDX-License-Identifier: MPL-2.0

package host

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"github.com/invowk/coreupdater/internal/logging"
)

var (
	// ErrVerificationFailed is returned by Run when the installation could not
	// be verified; the application is not started.
	ErrVerificationFailed = errors.New("installation verification failed")
	// ErrApplicationFailed is returned by Run when the application reports an
	// unsuccessful run.
	ErrApplicationFailed = errors.New("application failed")
)

type (
	// Updater is the part of the updater the Runner drives.
	Updater interface {
		CheckForUpdates(ctx context.Context) error
		VerifyInstallation(ctx context.Context) error
		IsRestartRequired() bool
	}

	// Restarter replaces the current process with one that sees the updated
	// files. args are the arguments Run was called with.
	Restarter func(ctx context.Context, args []string) error

	// Runner updates the installation and then runs an Application.
	// A Runner is single-use.
	Runner struct {
		updater   Updater
		app       Application
		restarter Restarter
		log       *log.Logger

		state   atomic.Int32
		stateMu sync.Mutex
		lastErr error
		done    chan struct{}
	}

	// RunnerOption configures a Runner.
	RunnerOption func(*Runner)
)

// WithRestarter replaces the default Reexec restarter.
func WithRestarter(r Restarter) RunnerOption {
	return func(rn *Runner) { rn.restarter = r }
}

// WithLogger sets the logger application output is forwarded to.
func WithLogger(l *log.Logger) RunnerOption {
	return func(rn *Runner) { rn.log = l }
}

// NewRunner creates a Runner in StateCreated.
func NewRunner(u Updater, app Application, opts ...RunnerOption) *Runner {
	r := &Runner{
		updater:   u,
		app:       app,
		restarter: Reexec,
		done:      make(chan struct{}),
	}
	r.state.Store(int32(StateCreated))
	for _, opt := range opts {
		opt(r)
	}
	r.log = logging.OrDiscard(r.log).WithPrefix("host")
	return r
}

// State returns the current state (atomic, lock-free read).
func (r *Runner) State() State {
	return State(r.state.Load())
}

// LastError returns the error that caused StateFailed, or nil.
func (r *Runner) LastError() error {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	return r.lastErr
}

// Run checks for updates, verifies the installation and runs the
// application until it exits or ctx is cancelled. A failed update check is
// logged and the installed version is started; a failed verification is not.
// When a restart is required the Restarter runs instead of the application
// and Run returns its result in StateRestarting.
func (r *Runner) Run(ctx context.Context, args []string) error {
	if !r.state.CompareAndSwap(int32(StateCreated), int32(StateUpdating)) {
		return fmt.Errorf("cannot run in state %s", r.State())
	}
	defer close(r.done)

	if err := r.updater.CheckForUpdates(ctx); err != nil {
		r.log.Warn("update check failed, starting installed version", "err", err)
	}
	if err := r.updater.VerifyInstallation(ctx); err != nil {
		return r.fail(fmt.Errorf("%w: %w", ErrVerificationFailed, err))
	}

	if r.updater.IsRestartRequired() {
		if !r.state.CompareAndSwap(int32(StateUpdating), int32(StateRestarting)) {
			r.state.Store(int32(StateStopped))
			return nil
		}
		r.log.Info("files in use were replaced, restarting")
		if err := r.restarter(ctx, args); err != nil {
			return r.fail(fmt.Errorf("restart: %w", err))
		}
		return nil
	}

	if !r.state.CompareAndSwap(int32(StateUpdating), int32(StateRunning)) {
		// Stop was called during the update.
		r.state.Store(int32(StateStopped))
		return nil
	}

	exited := make(chan bool, 1)
	go func() {
		exited <- r.app.Start(args, func(line string) { r.log.Info(line) })
	}()

	var ok bool
	select {
	case ok = <-exited:
	case <-ctx.Done():
		r.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))
		r.app.Shutdown()
		ok = <-exited
	}

	if State(r.state.Load()) == StateStopping {
		r.state.Store(int32(StateStopped))
		return nil
	}
	if !ok {
		return r.fail(ErrApplicationFailed)
	}
	r.state.Store(int32(StateStopped))
	return nil
}

// Stop shuts the application down and waits for Run to return. It is a
// no-op before Run and after Run returned.
func (r *Runner) Stop() {
	for {
		cur := r.State()
		switch cur {
		case StateCreated:
			if r.state.CompareAndSwap(int32(StateCreated), int32(StateStopped)) {
				close(r.done)
				return
			}
		case StateUpdating:
			if r.state.CompareAndSwap(int32(StateUpdating), int32(StateStopping)) {
				<-r.done
				return
			}
		case StateRunning:
			if r.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
				r.app.Shutdown()
				<-r.done
				return
			}
		default:
			<-r.done
			return
		}
	}
}

func (r *Runner) fail(err error) error {
	r.stateMu.Lock()
	r.lastErr = err
	r.stateMu.Unlock()
	r.state.Store(int32(StateFailed))
	return err
}

// Reexec starts the current executable again with args, attached to the same
// standard streams, and returns once it has started. The caller is expected
// to exit.
func Reexec(_ context.Context, args []string) error {
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	cmd := exec.Command(self, args...) //nolint:gosec // re-running ourselves
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", self, err)
	}
	return cmd.Process.Release()
}
