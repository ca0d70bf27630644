// SPDX-License-Identifier: MPL-2.0

// Package metrics exposes Prometheus collectors for updater activity. All
// methods are safe on a nil *Metrics, which records nothing.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the updater collectors.
type Metrics struct {
	packagesInstalled   *prometheus.CounterVec
	archiveHashFailures prometheus.Counter
	verifyMismatches    prometheus.Counter
	downloadedBytes     prometheus.Counter
	restartRequired     prometheus.Gauge
}

// New creates the collectors and registers them on reg. A nil reg creates
// unregistered collectors.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		packagesInstalled: f.NewCounterVec(prometheus.CounterOpts{
			Name: "coreupdater_packages_installed_total",
			Help: "Packages installed or reinstalled, labelled by package name",
		}, []string{"package"}),
		archiveHashFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "coreupdater_archive_hash_failures_total",
			Help: "Downloaded archives rejected because their SHA-256 digest did not match the manifest",
		}),
		verifyMismatches: f.NewCounter(prometheus.CounterOpts{
			Name: "coreupdater_verify_mismatches_total",
			Help: "Installed packages whose files no longer matched their recorded digests",
		}),
		downloadedBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "coreupdater_downloaded_bytes_total",
			Help: "Bytes of package archives downloaded from the feed",
		}),
		restartRequired: f.NewGauge(prometheus.GaugeOpts{
			Name: "coreupdater_restart_required",
			Help: "1 when a locked file was staged for replacement and the host must restart",
		}),
	}
}

func (m *Metrics) PackageInstalled(name string) {
	if m != nil {
		m.packagesInstalled.WithLabelValues(name).Inc()
	}
}

func (m *Metrics) ArchiveHashFailure() {
	if m != nil {
		m.archiveHashFailures.Inc()
	}
}

func (m *Metrics) VerifyMismatch() {
	if m != nil {
		m.verifyMismatches.Inc()
	}
}

func (m *Metrics) Downloaded(n int64) {
	if m != nil && n > 0 {
		m.downloadedBytes.Add(float64(n))
	}
}

func (m *Metrics) SetRestartRequired(v bool) {
	if m == nil {
		return
	}
	if v {
		m.restartRequired.Set(1)
	} else {
		m.restartRequired.Set(0)
	}
}

// Serve exposes g on addr at /metrics until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{EnableOpenMetrics: true}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
