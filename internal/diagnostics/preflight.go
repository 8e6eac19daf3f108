package diagnostics

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/avreclab/recorder-engine/internal/backend"
)

// CheckStatus is the severity of a single pre-flight check result.
type CheckStatus string

const (
	StatusOK       CheckStatus = "OK"
	StatusWarning  CheckStatus = "WARNING"
	StatusCritical CheckStatus = "CRITICAL"
	StatusError    CheckStatus = "ERROR"
)

// Threshold constants for the resource checks, trimmed down to the ones
// that matter for a short-lived recording session rather than a long-running
// daemon fleet.
const (
	DiskUsageCriticalPercent = 95
	DiskUsageWarningPercent  = 85
	FDUsageCriticalPercent   = 80
	FDUsageWarningPercent    = 50
	MemoryUsageCriticalPercent = 90
	MemoryUsageWarningPercent  = 75
)

// CheckResult is the outcome of one pre-flight check.
type CheckResult struct {
	Name     string
	Status   CheckStatus
	Message  string
	Duration time.Duration
}

// Report is the outcome of a full pre-flight run.
type Report struct {
	Checks  []CheckResult
	Healthy bool // false if any check is Critical or Error
}

// PreflightOptions configures which pre-flight checks run and against what.
type PreflightOptions struct {
	OutputDir  string
	FFmpegPath string
	NeedsHEVC  bool
	Probe      *backend.WriterProbe // optional; codec check skipped if nil
}

// RunPreflight runs the engine's pre-flight checks (trimmed from a larger
// system-diagnostics suite to the ones that determine whether a session's
// Prepare is likely to succeed: ffmpeg present, output directory writable,
// disk space, file descriptors, memory, and HEVC codec availability when
// the plan requests it) and returns a combined report.
func RunPreflight(ctx context.Context, opts PreflightOptions) Report {
	checks := []func(context.Context, PreflightOptions) CheckResult{
		checkFFmpegPresent,
		checkOutputDirWritable,
		checkDiskSpace,
		checkFileDescriptors,
		checkMemory,
	}
	if opts.NeedsHEVC && opts.Probe != nil {
		checks = append(checks, checkHEVCSupport)
	}

	report := Report{Healthy: true}
	for _, check := range checks {
		result := check(ctx, opts)
		report.Checks = append(report.Checks, result)
		if result.Status == StatusCritical || result.Status == StatusError {
			report.Healthy = false
		}
	}
	return report
}

func checkFFmpegPresent(ctx context.Context, opts PreflightOptions) CheckResult {
	start := time.Now()
	path := opts.FFmpegPath
	if path == "" {
		path = "ffmpeg"
	}
	if _, err := exec.LookPath(path); err != nil {
		return CheckResult{Name: "ffmpeg", Status: StatusCritical, Message: "ffmpeg not found on PATH", Duration: time.Since(start)}
	}
	return CheckResult{Name: "ffmpeg", Status: StatusOK, Message: "ffmpeg available", Duration: time.Since(start)}
}

func checkOutputDirWritable(ctx context.Context, opts PreflightOptions) CheckResult {
	start := time.Now()
	name := "output directory"
	if opts.OutputDir == "" {
		return CheckResult{Name: name, Status: StatusError, Message: "no output directory configured", Duration: time.Since(start)}
	}

	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return CheckResult{Name: name, Status: StatusCritical, Message: fmt.Sprintf("cannot create output directory: %v", err), Duration: time.Since(start)}
	}

	probe, err := os.CreateTemp(opts.OutputDir, ".preflight-*")
	if err != nil {
		return CheckResult{Name: name, Status: StatusCritical, Message: fmt.Sprintf("output directory not writable: %v", err), Duration: time.Since(start)}
	}
	probe.Close()
	os.Remove(probe.Name())

	return CheckResult{Name: name, Status: StatusOK, Message: "output directory writable", Duration: time.Since(start)}
}

func checkDiskSpace(ctx context.Context, opts PreflightOptions) CheckResult {
	start := time.Now()
	name := "disk space"

	path := opts.OutputDir
	if path == "" {
		path = "/"
	}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return CheckResult{Name: name, Status: StatusError, Message: "failed to stat filesystem", Duration: time.Since(start)}
	}

	available := stat.Bavail * uint64(stat.Bsize)
	total := stat.Blocks * uint64(stat.Bsize)
	if total == 0 {
		return CheckResult{Name: name, Status: StatusError, Message: "filesystem reported zero size", Duration: time.Since(start)}
	}
	usedPercent := 100.0 - (float64(available)/float64(total))*100.0

	switch {
	case usedPercent > DiskUsageCriticalPercent:
		return CheckResult{Name: name, Status: StatusCritical, Message: fmt.Sprintf("disk usage critical: %.1f%%", usedPercent), Duration: time.Since(start)}
	case usedPercent > DiskUsageWarningPercent:
		return CheckResult{Name: name, Status: StatusWarning, Message: fmt.Sprintf("disk usage high: %.1f%%", usedPercent), Duration: time.Since(start)}
	default:
		return CheckResult{Name: name, Status: StatusOK, Message: fmt.Sprintf("disk usage %.1f%%, %.1f GB available", usedPercent, float64(available)/(1024*1024*1024)), Duration: time.Since(start)}
	}
}

func checkFileDescriptors(ctx context.Context, opts PreflightOptions) CheckResult {
	start := time.Now()
	name := "file descriptors"

	data, err := os.ReadFile("/proc/sys/fs/file-nr")
	if err != nil {
		return CheckResult{Name: name, Status: StatusError, Message: "failed to read file descriptor info", Duration: time.Since(start)}
	}

	fields := strings.Fields(string(data))
	if len(fields) < 3 {
		return CheckResult{Name: name, Status: StatusError, Message: "unexpected /proc/sys/fs/file-nr format", Duration: time.Since(start)}
	}

	used, _ := strconv.ParseInt(fields[0], 10, 64)
	max, _ := strconv.ParseInt(fields[2], 10, 64)
	if max == 0 {
		return CheckResult{Name: name, Status: StatusError, Message: "reported fd limit is zero", Duration: time.Since(start)}
	}
	usedPercent := float64(used) / float64(max) * 100

	switch {
	case usedPercent > FDUsageCriticalPercent:
		return CheckResult{Name: name, Status: StatusCritical, Message: fmt.Sprintf("fd usage critical: %.1f%% (%d/%d)", usedPercent, used, max), Duration: time.Since(start)}
	case usedPercent > FDUsageWarningPercent:
		return CheckResult{Name: name, Status: StatusWarning, Message: fmt.Sprintf("fd usage elevated: %.1f%% (%d/%d)", usedPercent, used, max), Duration: time.Since(start)}
	default:
		return CheckResult{Name: name, Status: StatusOK, Message: fmt.Sprintf("fd usage normal: %.1f%% (%d/%d)", usedPercent, used, max), Duration: time.Since(start)}
	}
}

func checkMemory(ctx context.Context, opts PreflightOptions) CheckResult {
	start := time.Now()
	name := "memory"

	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return CheckResult{Name: name, Status: StatusError, Message: "failed to read memory info", Duration: time.Since(start)}
	}

	var total, available int64
	for _, line := range strings.Split(string(data), "\n") {
		switch {
		case strings.HasPrefix(line, "MemTotal:"):
			if fields := strings.Fields(line); len(fields) >= 2 {
				total, _ = strconv.ParseInt(fields[1], 10, 64)
				total *= 1024
			}
		case strings.HasPrefix(line, "MemAvailable:"):
			if fields := strings.Fields(line); len(fields) >= 2 {
				available, _ = strconv.ParseInt(fields[1], 10, 64)
				available *= 1024
			}
		}
	}
	if total == 0 {
		return CheckResult{Name: name, Status: StatusError, Message: "could not determine total memory", Duration: time.Since(start)}
	}
	usedPercent := 100.0 - (float64(available)/float64(total))*100.0

	switch {
	case usedPercent > MemoryUsageCriticalPercent:
		return CheckResult{Name: name, Status: StatusCritical, Message: fmt.Sprintf("memory usage critical: %.1f%%", usedPercent), Duration: time.Since(start)}
	case usedPercent > MemoryUsageWarningPercent:
		return CheckResult{Name: name, Status: StatusWarning, Message: fmt.Sprintf("memory usage elevated: %.1f%%", usedPercent), Duration: time.Since(start)}
	default:
		return CheckResult{Name: name, Status: StatusOK, Message: fmt.Sprintf("memory usage %.1f%%", usedPercent), Duration: time.Since(start)}
	}
}

func checkHEVCSupport(ctx context.Context, opts PreflightOptions) CheckResult {
	start := time.Now()
	name := "HEVC encoder"
	if opts.Probe.AcceptsHEVC(ctx) {
		return CheckResult{Name: name, Status: StatusOK, Message: "writer backend accepts HEVC", Duration: time.Since(start)}
	}
	return CheckResult{Name: name, Status: StatusWarning, Message: "writer backend lacks HEVC, falling back to H.264", Duration: time.Since(start)}
}
