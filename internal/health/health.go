// SPDX-License-Identifier: MIT

// Package health provides an HTTP health/metrics surface for a running
// recording session: /healthz as JSON, suitable for a supervisor or UI
// poll, and a Prometheus-compatible /metrics endpoint exposing the
// diagnostics singleton's per-kind counters and FPSMeter rates.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// FileStatus describes the health state of one pipeline/output file.
type FileStatus struct {
	Filename string        `json:"filename"`
	State    string        `json:"state"`
	Uptime   time.Duration `json:"uptime_ns"`
	Healthy  bool          `json:"healthy"`
	Error    string        `json:"error,omitempty"`
}

// KindMetrics mirrors diagnostics.KindCounters plus the FPSMeter rates
// derived from it, shaped for JSON/Prometheus without importing the
// diagnostics package directly (keeps health a leaf dependency).
type KindMetrics struct {
	Captured        int64   `json:"captured"`
	Appended        int64   `json:"appended"`
	DroppedNotReady int64   `json:"dropped_not_ready"`
	WriterFailed    int64   `json:"writer_failed"`
	CaptureFPS      float64 `json:"capture_fps,omitempty"`
	AppendFPS       float64 `json:"append_fps,omitempty"`
	DropNotReadyFPS float64 `json:"drop_not_ready_fps,omitempty"`
}

// SystemInfo contains system-level health data included in the health response.
type SystemInfo struct {
	DiskFreeBytes  uint64 `json:"disk_free_bytes"`
	DiskTotalBytes uint64 `json:"disk_total_bytes"`
	DiskLowWarning bool   `json:"disk_low_warning,omitempty"`
}

// StatusProvider returns the current health status of every pipeline in the
// running session. The daemon implements this interface to supply live data.
type StatusProvider interface {
	Files() []FileStatus
}

// MetricsProvider returns the current per-kind diagnostics counters.
type MetricsProvider interface {
	Metrics() map[string]KindMetrics // keyed by "video", "audio"
}

// SystemInfoProvider returns system-level health data.
type SystemInfoProvider interface {
	SystemInfo() SystemInfo
}

// Response is the JSON body returned by the health endpoint.
type Response struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Files     []FileStatus           `json:"files"`
	Metrics   map[string]KindMetrics `json:"metrics,omitempty"`
	System    *SystemInfo            `json:"system,omitempty"`
}

// Handler serves the /healthz and /metrics endpoints.
type Handler struct {
	provider    StatusProvider
	metrics     MetricsProvider
	sysProvider SystemInfoProvider
}

// NewHandler creates a health check HTTP handler.
func NewHandler(provider StatusProvider) *Handler {
	return &Handler{provider: provider}
}

// WithMetrics attaches a diagnostics metrics provider to the handler.
func (h *Handler) WithMetrics(p MetricsProvider) *Handler {
	h.metrics = p
	return h
}

// WithSystemInfo attaches an optional system info provider to the handler.
// When set, disk space is included in /healthz responses and /metrics output.
func (h *Handler) WithSystemInfo(p SystemInfoProvider) *Handler {
	h.sysProvider = p
	return h
}

// ServeHTTP implements http.Handler, routing to /healthz and /metrics.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/metrics":
		h.serveMetrics(w, r)
	default:
		h.serveHealth(w, r)
	}
}

func (h *Handler) serveHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	resp := Response{
		Timestamp: time.Now(),
	}

	var files []FileStatus
	if h.provider != nil {
		files = h.provider.Files()
	}
	resp.Files = files

	if h.metrics != nil {
		resp.Metrics = h.metrics.Metrics()
	}

	healthy := len(files) > 0
	for _, f := range files {
		if !f.Healthy {
			healthy = false
			break
		}
	}

	if healthy {
		resp.Status = "healthy"
	} else {
		resp.Status = "unhealthy"
	}

	if h.sysProvider != nil {
		si := h.sysProvider.SystemInfo()
		resp.System = &si
		if si.DiskLowWarning {
			resp.Status = "degraded"
			healthy = false
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if healthy && resp.Status == "healthy" {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// serveMetrics writes a Prometheus text-format metrics response. This
// implements a minimal subset of the exposition format without any
// external dependency.
func (h *Handler) serveMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var sb strings.Builder

	var files []FileStatus
	if h.provider != nil {
		files = h.provider.Files()
	}

	if len(files) > 0 {
		fmt.Fprintln(&sb, "# HELP recorder_file_healthy Is the output file's pipeline currently healthy (1=healthy, 0=not).")
		fmt.Fprintln(&sb, "# TYPE recorder_file_healthy gauge")
		for _, f := range files {
			v := 0
			if f.Healthy {
				v = 1
			}
			fmt.Fprintf(&sb, "recorder_file_healthy{filename=%q} %d\n", f.Filename, v)
		}

		fmt.Fprintln(&sb, "# HELP recorder_file_uptime_seconds Seconds since the pipeline started writing.")
		fmt.Fprintln(&sb, "# TYPE recorder_file_uptime_seconds gauge")
		for _, f := range files {
			fmt.Fprintf(&sb, "recorder_file_uptime_seconds{filename=%q} %.3f\n", f.Filename, f.Uptime.Seconds())
		}
	}

	if h.metrics != nil {
		for kind, m := range h.metrics.Metrics() {
			fmt.Fprintf(&sb, "recorder_captured_frames_total{kind=%q} %d\n", kind, m.Captured)
			fmt.Fprintf(&sb, "recorder_appended_frames_total{kind=%q} %d\n", kind, m.Appended)
			fmt.Fprintf(&sb, "recorder_dropped_not_ready_total{kind=%q} %d\n", kind, m.DroppedNotReady)
			fmt.Fprintf(&sb, "recorder_writer_failed_total{kind=%q} %d\n", kind, m.WriterFailed)
			fmt.Fprintf(&sb, "recorder_capture_fps{kind=%q} %.3f\n", kind, m.CaptureFPS)
			fmt.Fprintf(&sb, "recorder_append_fps{kind=%q} %.3f\n", kind, m.AppendFPS)
			fmt.Fprintf(&sb, "recorder_drop_not_ready_fps{kind=%q} %.3f\n", kind, m.DropNotReadyFPS)
		}
	}

	if h.sysProvider != nil {
		si := h.sysProvider.SystemInfo()

		fmt.Fprintln(&sb, "# HELP recorder_disk_free_bytes Free bytes on the recording filesystem.")
		fmt.Fprintln(&sb, "# TYPE recorder_disk_free_bytes gauge")
		fmt.Fprintf(&sb, "recorder_disk_free_bytes %d\n", si.DiskFreeBytes)

		fmt.Fprintln(&sb, "# HELP recorder_disk_total_bytes Total bytes on the recording filesystem.")
		fmt.Fprintln(&sb, "# TYPE recorder_disk_total_bytes gauge")
		fmt.Fprintf(&sb, "recorder_disk_total_bytes %d\n", si.DiskTotalBytes)

		diskLow := 0
		if si.DiskLowWarning {
			diskLow = 1
		}
		fmt.Fprintln(&sb, "# HELP recorder_disk_low_warning 1 when free disk is below the configured threshold.")
		fmt.Fprintln(&sb, "# TYPE recorder_disk_low_warning gauge")
		fmt.Fprintf(&sb, "recorder_disk_low_warning %d\n", diskLow)
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(sb.String()))
}

// ListenAndServe starts the health check HTTP server on the given address.
// It shuts down gracefully when ctx is cancelled.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	return ListenAndServeReady(ctx, addr, handler, nil)
}

// ListenAndServeReady starts the health check HTTP server and signals
// readiness once bound, so a caller can detect a port-in-use failure
// immediately instead of only after ctx is cancelled.
func ListenAndServeReady(ctx context.Context, addr string, handler http.Handler, ready chan<- struct{}) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	if ready != nil {
		close(ready)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	return <-errCh
}
