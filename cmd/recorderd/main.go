// Package main implements recorderd, the recording engine daemon.
//
// recorderd loads a recording plan (a JSON file naming the display/window/
// camera/microphone schemes to capture and where to write them), prepares
// and starts one writer pipeline per scheme, and runs until interrupted by
// SIGINT/SIGTERM or by an unrecoverable pipeline failure. On stop it writes
// the session's bundle.json manifest next to the output files.
//
// Usage:
//
//	recorderd --plan=PATH --output-dir=DIR [options]
//
// Options:
//
//	--plan=PATH          Path to the plan JSON file (required)
//	--config=PATH          Path to recorderd's YAML config file (default: /etc/recorder-engine/config.yaml, if present)
//	--output-dir=DIR      Directory the session subdirectory is created under (required)
//	--session-name=NAME   Base name for the session subdirectory (default: "session")
//	--lock-dir=PATH        Directory for the daemon's lock file (default: /var/run/recorder-engine)
//	--ffmpeg-path=PATH     ffmpeg binary to shell out to (default: "ffmpeg")
//	--health-addr=ADDR     Address for the /healthz and /metrics HTTP server (default: ":8080")
//	--log-level=LEVEL      Log level: debug, info, warn, error (default: info)
//	--check-update         Check for a newer release and exit
//	--self-update          Download and install the latest release, then exit
//	--help                 Show this help message
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/avreclab/recorder-engine/internal/backend"
	"github.com/avreclab/recorder-engine/internal/bundle"
	"github.com/avreclab/recorder-engine/internal/config"
	"github.com/avreclab/recorder-engine/internal/devices"
	"github.com/avreclab/recorder-engine/internal/diagnostics"
	"github.com/avreclab/recorder-engine/internal/health"
	"github.com/avreclab/recorder-engine/internal/lock"
	"github.com/avreclab/recorder-engine/internal/orchestrator"
	"github.com/avreclab/recorder-engine/internal/pipeline"
	"github.com/avreclab/recorder-engine/internal/plan"
	"github.com/avreclab/recorder-engine/internal/updater"
	"github.com/avreclab/recorder-engine/internal/util"
)

// updateOwner/updateRepo identify the GitHub release this binary checks
// against for self-update, the way the teacher's cmd/lyrebird hardcodes
// its own repository.
const (
	updateOwner = "avreclab"
	updateRepo  = "recorder-engine"
)

// Build information (set by ldflags).
var (
	Version = "dev"
	Commit  = "unknown"
)

var (
	planPath    = flag.String("plan", "", "Path to the plan JSON file (required)")
	configPath  = flag.String("config", "", "Path to recorderd's YAML config file (optional)")
	outputDir   = flag.String("output-dir", "", "Directory the session subdirectory is created under (required)")
	sessionName = flag.String("session-name", "", "Base name for the session subdirectory")
	lockDir     = flag.String("lock-dir", "", "Directory for the daemon's lock file")
	ffmpegPath  = flag.String("ffmpeg-path", "", "ffmpeg binary to use")
	healthAddr  = flag.String("health-addr", "", "Address for the /healthz and /metrics HTTP server")
	logLevel    = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	checkUpdate = flag.Bool("check-update", false, "Check for a newer recorderd/recorder-wizard release and exit")
	selfUpdate  = flag.Bool("self-update", false, "Download and install the latest recorderd/recorder-wizard release")
	showHelp    = flag.Bool("help", false, "Show this help message")
)

func main() {
	flag.Parse()

	if *showHelp {
		printUsage()
		os.Exit(0)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(*logLevel)}))
	logger.Info("recorderd starting", "version", Version, "commit", Commit)

	if *checkUpdate || *selfUpdate {
		if err := runUpdateCheck(logger, *selfUpdate); err != nil {
			logger.Error("update check failed", "error", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	if *planPath == "" || *outputDir == "" {
		fmt.Fprintln(os.Stderr, "recorderd: --plan and --output-dir are required")
		printUsage()
		os.Exit(2)
	}

	cfg := loadConfig(logger)

	if err := run(logger, cfg); err != nil {
		logger.Error("recorderd exiting with error", "error", err)
		os.Exit(1)
	}
}

// loadConfig resolves recorderd's process config from --config (or the
// default path, if present) and layers any explicitly-set flags on top.
func loadConfig(logger *slog.Logger) *config.Config {
	cfg := config.DefaultConfig()

	path := *configPath
	if path == "" {
		path = config.ConfigFilePath
	}
	if loaded, err := config.LoadConfig(path); err == nil {
		cfg = loaded
	} else if *configPath != "" {
		logger.Warn("failed to load config file, using defaults", "path", path, "error", err)
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "session-name":
			cfg.Session.Name = *sessionName
		case "lock-dir":
			cfg.Output.LockDir = *lockDir
		case "ffmpeg-path":
			cfg.Backend.FFmpegPath = *ffmpegPath
		case "health-addr":
			cfg.Health.Addr = *healthAddr
		}
	})

	return cfg
}

func run(logger *slog.Logger, cfg *config.Config) error {
	p, err := plan.LoadFile(*planPath)
	if err != nil {
		return fmt.Errorf("load plan: %w", err)
	}

	if err := os.MkdirAll(cfg.Output.LockDir, 0o750); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	fl, err := lock.NewFileLock(filepath.Join(cfg.Output.LockDir, "recorderd.lock"))
	if err != nil {
		return fmt.Errorf("create lock: %w", err)
	}
	if err := fl.Acquire(cfg.Session.StartTimeout); err != nil {
		return fmt.Errorf("acquire lock (is another recorderd already running?): %w", err)
	}
	defer fl.Release()

	sessionDir := filepath.Join(*outputDir, bundle.SessionDirName(cfg.Session.Name, time.Now()))
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}
	logger.Info("session directory ready", "dir", sessionDir)

	workDir := filepath.Join(sessionDir, ".work")
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return fmt.Errorf("create scratch directory: %w", err)
	}

	probe := backend.NewWriterProbe(backend.WithProbeFFmpegPath(cfg.Backend.FFmpegPath))

	preflight := diagnostics.RunPreflight(context.Background(), diagnostics.PreflightOptions{
		OutputDir:  sessionDir,
		FFmpegPath: cfg.Backend.FFmpegPath,
		NeedsHEVC:  planRequestsHEVC(p),
		Probe:      probe,
	})
	for _, c := range preflight.Checks {
		logger.Info("preflight check", "name", c.Name, "status", string(c.Status), "message", c.Message)
	}
	if !preflight.Healthy {
		return fmt.Errorf("preflight checks failed, refusing to start")
	}

	diag := diagnostics.New(0)
	fpsMeter := diagnostics.NewFPSMeter(diag, time.Second)

	newWriter := func(item plan.SchemeItem) pipeline.ContainerWriter {
		return backend.NewFFmpegWriter(backend.FFmpegConfig{
			FFmpegPath: cfg.Backend.FFmpegPath,
			WorkDir:    workDir,
			OutputPath: filepath.Join(sessionDir, item.Filename),
			LogDir:     sessionDir,
			Logger:     logger,
		})
	}
	newSource := devices.NewSourceFactory()

	// Closed by OnInterrupt, which the orchestrator calls at most once.
	interrupted := make(chan struct{})

	rec, err := orchestrator.New(p, orchestrator.Config{
		Logger:       logger,
		Diagnostics:  diag,
		StartTimeout: cfg.Session.StartTimeout,
		StopTimeout:  cfg.Session.StopTimeout,
		HEVCAccepted: func() bool {
			return probe.AcceptsHEVC(context.Background())
		},
		OnInterrupt: func(err error) {
			logger.Error("session interrupted", "error", err)
			close(interrupted)
		},
	}, newWriter, newSource)
	if err != nil {
		return fmt.Errorf("construct recorder: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	adapter := &healthAdapter{rec: rec, fps: fpsMeter, outputDir: sessionDir}
	handler := health.NewHandler(adapter).WithMetrics(adapter).WithSystemInfo(adapter)
	healthReady := make(chan struct{})
	util.SafeGo("health-server", nil, func() {
		if err := health.ListenAndServeReady(ctx, cfg.Health.Addr, handler, healthReady); err != nil {
			logger.Warn("health server stopped", "error", err)
		}
	}, func(r interface{}, stack []byte) {
		logger.Error("health server panicked", "panic", r, "stack", string(stack))
	})
	util.SafeGo("fps-meter", nil, func() {
		fpsMeter.Run(ctx)
	}, func(r interface{}, stack []byte) {
		logger.Error("fps meter panicked", "panic", r, "stack", string(stack))
	})

	if err := rec.Prepare(ctx); err != nil {
		return fmt.Errorf("prepare session: %w", err)
	}

	if err := rec.Start(ctx); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	logger.Info("recording started", "items", len(p.Items), "health_addr", cfg.Health.Addr)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping session")
	case <-interrupted:
		logger.Info("unrecoverable failure, stopping session")
	}

	stopCtx, cancelStop := context.WithTimeout(context.Background(), cfg.Session.StopTimeout)
	defer cancelStop()
	result, err := rec.StopWithResult(stopCtx)
	if err != nil {
		return fmt.Errorf("stop session: %w", err)
	}

	info := bundle.BuildInfo(result)
	if err := bundle.Write(sessionDir, info); err != nil {
		return fmt.Errorf("write bundle manifest: %w", err)
	}
	logger.Info("bundle manifest written", "dir", sessionDir, "files", len(info.Files))

	if result.InterruptedBy != nil {
		return fmt.Errorf("session ended with interrupt: %w", result.InterruptedBy)
	}
	return nil
}

func planRequestsHEVC(p plan.Plan) bool {
	for _, item := range p.Items {
		switch item.Kind {
		case plan.KindDisplay, plan.KindWindow:
			if item.ScreenOptions.UseHEVC {
				return true
			}
		case plan.KindCamera:
			if item.CameraOptions.PreferHEVC {
				return true
			}
		}
	}
	return false
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// healthAdapter implements health.StatusProvider, health.MetricsProvider and
// health.SystemInfoProvider over a running Recorder and FPSMeter, keeping
// both of those packages ignorant of net/http.
type healthAdapter struct {
	rec       *orchestrator.Recorder
	fps       *diagnostics.FPSMeter
	outputDir string
}

func (a *healthAdapter) Files() []health.FileStatus {
	statuses := a.rec.Statuses()
	out := make([]health.FileStatus, 0, len(statuses))
	now := time.Now()
	for _, s := range statuses {
		fs := health.FileStatus{
			Filename: s.Filename,
			State:    s.State,
			Healthy:  s.Healthy,
		}
		if s.HasStartedAt {
			fs.Uptime = now.Sub(s.StartedAt)
		}
		if s.Err != nil {
			fs.Error = s.Err.Error()
		}
		out = append(out, fs)
	}
	return out
}

func (a *healthAdapter) Metrics() map[string]health.KindMetrics {
	snap := a.fps.Snapshot()
	return map[string]health.KindMetrics{
		diagnostics.VideoKind: {
			Captured:        snap.Video.Captured,
			Appended:        snap.Video.Appended,
			DroppedNotReady: snap.Video.DroppedNotReady,
			WriterFailed:    snap.Video.WriterFailed,
			CaptureFPS:      snap.CaptureFPS,
			AppendFPS:       snap.AppendFPS,
			DropNotReadyFPS: snap.DropNotReadyFPS,
		},
		diagnostics.AudioKind: {
			Captured:        snap.Audio.Captured,
			Appended:        snap.Audio.Appended,
			DroppedNotReady: snap.Audio.DroppedNotReady,
			WriterFailed:    snap.Audio.WriterFailed,
		},
	}
}

func (a *healthAdapter) SystemInfo() health.SystemInfo {
	free, total, err := diskUsage(a.outputDir)
	if err != nil {
		return health.SystemInfo{}
	}
	low := total > 0 && (100.0-(float64(free)/float64(total))*100.0) > diagnostics.DiskUsageWarningPercent
	return health.SystemInfo{DiskFreeBytes: free, DiskTotalBytes: total, DiskLowWarning: low}
}

func printUsage() {
	fmt.Println("recorderd - multi-stream recording engine daemon")
	fmt.Printf("Version: %s (%s)\n\n", Version, Commit)
	fmt.Println("Usage: recorderd --plan=PATH --output-dir=DIR [options]")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("recorderd prepares one writer pipeline per scheme item in the plan,")
	fmt.Println("records until interrupted, then writes the session's bundle.json manifest.")
	fmt.Println()
	fmt.Println("Signals:")
	fmt.Println("  SIGINT, SIGTERM  Graceful shutdown")
}

// runUpdateCheck checks the latest recorder-engine release and, when
// install is true, downloads and installs recorderd and recorder-wizard
// together (Updater.Update treats the pair as one atomic unit). The
// companion binary is assumed to live alongside recorderd's own
// executable, the usual single-directory install layout.
func runUpdateCheck(logger *slog.Logger, install bool) error {
	u := updater.New(
		updater.WithOwner(updateOwner),
		updater.WithRepo(updateRepo),
		updater.WithCurrentVersion(Version),
	)

	ctx := context.Background()
	info, err := u.CheckForUpdates(ctx)
	if err != nil {
		return fmt.Errorf("check for updates: %w", err)
	}
	logger.Info("update check complete",
		"current_version", info.CurrentVersion,
		"latest_version", info.LatestVersion,
		"update_available", info.UpdateAvailable)

	if !info.UpdateAvailable || !install {
		return nil
	}

	binaryPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("determine recorderd binary path: %w", err)
	}
	binaryPath, err = filepath.EvalSymlinks(binaryPath)
	if err != nil {
		return fmt.Errorf("resolve recorderd binary path: %w", err)
	}

	companionPath := filepath.Join(filepath.Dir(binaryPath), "recorder-wizard")
	if _, statErr := os.Stat(companionPath); statErr != nil {
		companionPath = ""
	}

	progress := func(downloaded, total int64) {
		if total > 0 {
			logger.Info("downloading update", "downloaded", downloaded, "total", total)
		}
	}

	if err := u.Update(ctx, info, binaryPath, companionPath, progress); err != nil {
		if u.HasBackup(binaryPath) {
			logger.Warn("update failed, rolling back", "error", err)
			if rbErr := u.Rollback(binaryPath); rbErr != nil {
				return fmt.Errorf("update failed (%w) and rollback failed: %w", err, rbErr)
			}
		}
		return fmt.Errorf("update: %w", err)
	}

	logger.Info("updated recorderd", "version", info.LatestVersion, "companion_updated", companionPath != "")
	return nil
}

// diskUsage returns free and total bytes on the filesystem containing path,
// mirroring internal/diagnostics' own pre-flight disk check.
func diskUsage(path string) (free, total uint64, err error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, 0, err
	}
	return stat.Bavail * uint64(stat.Bsize), stat.Blocks * uint64(stat.Bsize), nil
}
