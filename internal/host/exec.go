// SPDX-License-Identifier: MPL-2.0

package host

import (
	"bufio"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/invowk/coreupdater/internal/logging"
)

// ExecAppName is the name the built-in exec application registers under.
const ExecAppName = "exec"

// shutdownGrace is how long Shutdown waits after the interrupt before it
// kills the process.
const shutdownGrace = 10 * time.Second

// ErrNoCommand is returned by the exec factory when Options.Command is empty.
var ErrNoCommand = errors.New("host.command is empty")

func init() {
	Register(ExecAppName, NewExecApp)
}

// execApp runs a program from the installation and forwards its output.
type execApp struct {
	opts Options
	log  *log.Logger

	mu       sync.Mutex
	cmd      *exec.Cmd
	shutdown bool
	done     chan struct{}
}

// NewExecApp is the Factory of the exec application. A relative program path
// is resolved against the install root.
func NewExecApp(opts Options) (Application, error) {
	if len(opts.Command) == 0 || opts.Command[0] == "" {
		return nil, ErrNoCommand
	}
	return &execApp{
		opts: opts,
		log:  logging.OrDiscard(opts.Logger),
		done: make(chan struct{}),
	}, nil
}

func (a *execApp) program() string {
	p := a.opts.Command[0]
	if filepath.IsAbs(p) || a.opts.InstallRoot == "" {
		return p
	}
	// Bare names such as "sh" come from PATH.
	if !containsSeparator(p) {
		return p
	}
	return filepath.Join(a.opts.InstallRoot, p)
}

func containsSeparator(p string) bool {
	return filepath.Base(p) != p
}

func (a *execApp) Start(args []string, sink LogSink) bool {
	defer close(a.done)

	argv := append(append([]string{}, a.opts.Command[1:]...), args...)
	cmd := exec.Command(a.program(), argv...) //nolint:gosec // program comes from the host configuration
	cmd.Dir = a.opts.InstallRoot

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	a.mu.Lock()
	if a.shutdown {
		a.mu.Unlock()
		return false
	}
	if err := cmd.Start(); err != nil {
		a.mu.Unlock()
		a.log.Error("start application", "program", cmd.Path, "err", err)
		return false
	}
	a.cmd = cmd
	a.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sc := bufio.NewScanner(pr)
		for sc.Scan() {
			if sink != nil {
				sink(sc.Text())
			}
		}
	}()

	err := cmd.Wait()
	pw.Close() //nolint:errcheck // the reader side only sees EOF
	wg.Wait()

	if err != nil {
		a.mu.Lock()
		stopped := a.shutdown
		a.mu.Unlock()
		if stopped {
			a.log.Info("application stopped", "program", cmd.Path)
			return true
		}
		a.log.Error("application exited", "program", cmd.Path, "err", err)
		return false
	}
	return true
}

func (a *execApp) Shutdown() {
	a.mu.Lock()
	if a.shutdown {
		a.mu.Unlock()
		return
	}
	a.shutdown = true
	cmd := a.cmd
	a.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return
	}
	// Windows has no interrupt for child processes.
	if runtime.GOOS == "windows" {
		_ = cmd.Process.Kill()
		return
	}
	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		_ = cmd.Process.Kill()
		return
	}
	select {
	case <-a.done:
	case <-time.After(shutdownGrace):
		a.log.Warn("application ignored interrupt, killing", "program", cmd.Path)
		_ = cmd.Process.Kill()
	}
}

func (a *execApp) IsRunningAsService() bool {
	return a.opts.StartMode == StartModeService
}
