// Package backend provides concrete ContainerWriter implementations. The
// only one in this tree, FFmpegWriter, shells out to ffmpeg the way the
// teacher's stream.Manager shells out to ffmpeg for audio streaming: a
// per-track *exec.Cmd, a shutdown that closes the input fifo (EOF) and
// waits up to a timeout before SIGKILL, and stderr captured to a rotating
// log file.
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/avreclab/recorder-engine/internal/media"
	"github.com/avreclab/recorder-engine/internal/pipeline"
)

const (
	// trackQueueCapacity bounds how many Append calls may be blocked in a
	// write to a track's fifo at once before ReadyForMore turns false and
	// the pipeline starts counting drops.
	trackQueueCapacity = 32

	// defaultStopTimeout is how long Finish waits for ffmpeg to exit after
	// closing its input fifos before it is killed.
	defaultStopTimeout = 5 * time.Second
)

// FFmpegConfig configures an FFmpegWriter.
type FFmpegConfig struct {
	FFmpegPath  string        // default "ffmpeg"
	WorkDir     string        // scratch directory for fifos and intermediate files
	OutputPath  string        // final muxed (or single-track) output path
	LogDir      string        // directory for ffmpeg stderr logs, "" disables
	StopTimeout time.Duration // default 5s
	Logger      *slog.Logger  // default slog.Default()
}

// FFmpegWriter is a ContainerWriter that records each configured track
// (video, audio) to its own ffmpeg process via a named pipe, then remuxes
// them into a single output file with a zero-recode `-c copy` pass in
// Finish. This sidesteps the fact that a real muxer's addInput-style API
// would need every track declared before the process starts, while this
// pipeline's tracks can configure independently, moments apart, as their
// first frames arrive (spec.md §4.2/§9).
//
// A writer with a single track skips the remux step and renames that
// track's intermediate file straight to OutputPath.
type FFmpegWriter struct {
	cfg FFmpegConfig

	mu      sync.Mutex
	video   *track
	audio   *track
	status  pipeline.WriterStatus
	started bool
	origin  media.PTS
}

// NewFFmpegWriter returns a writer that will produce cfg.OutputPath.
func NewFFmpegWriter(cfg FFmpegConfig) *FFmpegWriter {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &FFmpegWriter{cfg: cfg, status: pipeline.StatusUnknown}
}

func (w *FFmpegWriter) OutputPath() string { return w.cfg.OutputPath }

func (w *FFmpegWriter) Status() pipeline.WriterStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// ConfigureVideo opens a video track: a fifo plus an ffmpeg process reading
// raw frames from it into an H.264/HEVC intermediate file.
func (w *FFmpegWriter) ConfigureVideo(settings pipeline.VideoSettings) (pipeline.Input, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.video != nil {
		return w.video, nil
	}

	intermediate := filepath.Join(w.cfg.WorkDir, "video.mov")
	args := []string{
		"-y",
		"-f", "rawvideo",
		"-pixel_format", "bgra",
		"-video_size", fmt.Sprintf("%dx%d", settings.Width, settings.Height),
		"-framerate", fmt.Sprintf("%d", settings.FPS),
		"-i", "PIPE",
		"-c:v", settings.Codec,
		"-b:v", fmt.Sprintf("%d", settings.BitRate),
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		intermediate,
	}

	t, err := w.newTrack(media.Video, args, intermediate)
	if err != nil {
		return nil, err
	}
	w.video = t
	return t, nil
}

// ConfigureAudio opens an audio track the same way ConfigureVideo does, as
// AAC into an M4A intermediate file.
func (w *FFmpegWriter) ConfigureAudio(settings pipeline.AudioSettings) (pipeline.Input, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.audio != nil {
		return w.audio, nil
	}

	intermediate := filepath.Join(w.cfg.WorkDir, "audio.m4a")
	args := []string{
		"-y",
		"-f", "s16le",
		"-ar", fmt.Sprintf("%d", settings.SampleRate),
		"-ac", fmt.Sprintf("%d", settings.Channels),
		"-i", "PIPE",
		"-c:a", "aac",
		"-b:a", fmt.Sprintf("%d", settings.BitRate),
		intermediate,
	}

	t, err := w.newTrack(media.Audio, args, intermediate)
	if err != nil {
		return nil, err
	}
	w.audio = t
	return t, nil
}

// newTrack creates the fifo, substitutes its path for the "PIPE"
// placeholder in args, and starts the per-track ffmpeg process.
func (w *FFmpegWriter) newTrack(kind media.Kind, args []string, intermediate string) (*track, error) {
	if w.cfg.WorkDir == "" {
		return nil, fmt.Errorf("ffmpeg writer: WorkDir is required")
	}
	if err := os.MkdirAll(w.cfg.WorkDir, 0755); err != nil {
		return nil, fmt.Errorf("ffmpeg writer: create workdir: %w", err)
	}

	fifoPath := filepath.Join(w.cfg.WorkDir, kind.String()+".fifo")
	_ = os.Remove(fifoPath)
	if err := unix.Mkfifo(fifoPath, 0600); err != nil {
		return nil, fmt.Errorf("ffmpeg writer: mkfifo %s: %w", fifoPath, err)
	}
	for i, a := range args {
		if a == "PIPE" {
			args[i] = fifoPath
		}
	}

	t := newTrack(kind, fifoPath, intermediate)
	if err := t.start(w.cfg, args); err != nil {
		return nil, err
	}
	return t, nil
}

// StartSession records the session origin PTS. The per-track ffmpeg
// processes are already running by the time this is called (they start as
// soon as their track configures); this only flips the writer to
// StatusWriting so pipeline.Finish knows a session exists to finalize.
func (w *FFmpegWriter) StartSession(origin media.PTS) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.started = true
	w.origin = origin
	w.status = pipeline.StatusWriting
	return nil
}

// Cancel tears down any track processes without producing OutputPath.
func (w *FFmpegWriter) Cancel() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.video != nil {
		w.video.abort()
	}
	if w.audio != nil {
		w.audio.abort()
	}
	w.status = pipeline.StatusCancelled
	return nil
}

// Finish closes every configured track's fifo (signalling EOF to its
// ffmpeg process), waits for each to exit, and then produces OutputPath:
// a `-c copy` remux when both tracks were used, or a rename when only one
// was.
func (w *FFmpegWriter) Finish(ctx context.Context) error {
	w.mu.Lock()
	video, audio, started := w.video, w.audio, w.started
	w.mu.Unlock()

	if !started {
		return w.Cancel()
	}

	var videoOut, audioOut string
	if video != nil {
		if err := video.finish(ctx, w.cfg.StopTimeout); err != nil {
			w.setStatus(pipeline.StatusFailed)
			return fmt.Errorf("ffmpeg writer: finish video track: %w", err)
		}
		videoOut = video.intermediate
	}
	if audio != nil {
		if err := audio.finish(ctx, w.cfg.StopTimeout); err != nil {
			w.setStatus(pipeline.StatusFailed)
			return fmt.Errorf("ffmpeg writer: finish audio track: %w", err)
		}
		audioOut = audio.intermediate
	}

	var err error
	switch {
	case videoOut != "" && audioOut != "":
		err = w.remux(ctx, videoOut, audioOut)
	case videoOut != "":
		err = os.Rename(videoOut, w.cfg.OutputPath)
	case audioOut != "":
		err = os.Rename(audioOut, w.cfg.OutputPath)
	default:
		err = fmt.Errorf("ffmpeg writer: finish called with no configured track")
	}
	if err != nil {
		w.setStatus(pipeline.StatusFailed)
		return err
	}

	w.setStatus(pipeline.StatusCompleted)
	return nil
}

func (w *FFmpegWriter) remux(ctx context.Context, videoPath, audioPath string) error {
	cmd := exec.CommandContext(ctx, w.cfg.FFmpegPath,
		"-y", "-i", videoPath, "-i", audioPath,
		"-c", "copy", "-movflags", "+faststart",
		w.cfg.OutputPath)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg writer: remux: %w: %s", err, out)
	}
	return nil
}

func (w *FFmpegWriter) setStatus(s pipeline.WriterStatus) {
	w.mu.Lock()
	w.status = s
	w.mu.Unlock()
}

// track is one configured media track's fifo + backing ffmpeg process. It
// implements pipeline.Input.
type track struct {
	kind         media.Kind
	fifoPath     string
	intermediate string

	mu       sync.Mutex
	file     *os.File
	cmd      *exec.Cmd
	pending  atomic.Int32
	finished atomic.Bool
	failed   atomic.Bool
	exited   chan struct{}
}

func newTrack(kind media.Kind, fifoPath, intermediate string) *track {
	return &track{kind: kind, fifoPath: fifoPath, intermediate: intermediate, exited: make(chan struct{})}
}

func (t *track) start(cfg FFmpegConfig, args []string) error {
	cmd := exec.Command(cfg.FFmpegPath, args...)
	if cfg.LogDir != "" {
		logPath := filepath.Join(cfg.LogDir, fmt.Sprintf("ffmpeg-%s.log", t.kind))
		if lw, err := newRotatingWriter(logPath); err == nil {
			cmd.Stderr = lw
		} else {
			cfg.Logger.Warn("could not open ffmpeg log file", "track", t.kind.String(), "error", err)
		}
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ffmpeg writer: start %s track: %w", t.kind, err)
	}
	t.cmd = cmd

	go func() {
		_ = cmd.Wait()
		close(t.exited)
	}()

	// Opening the fifo for writing blocks until ffmpeg has opened its end
	// for reading; do it in a goroutine with a deadline so a misconfigured
	// ffmpeg invocation cannot hang Prepare/ConfigureVideo forever.
	opened := make(chan error, 1)
	go func() {
		f, err := os.OpenFile(t.fifoPath, os.O_WRONLY, os.ModeNamedPipe)
		if err != nil {
			opened <- err
			return
		}
		t.mu.Lock()
		t.file = f
		t.mu.Unlock()
		opened <- nil
	}()

	select {
	case err := <-opened:
		if err != nil {
			return fmt.Errorf("ffmpeg writer: open %s fifo: %w", t.kind, err)
		}
		return nil
	case <-time.After(10 * time.Second):
		return fmt.Errorf("ffmpeg writer: %s track's ffmpeg never opened its input pipe", t.kind)
	case <-t.exited:
		return fmt.Errorf("ffmpeg writer: %s track's ffmpeg exited before opening its input pipe", t.kind)
	}
}

func (t *track) ReadyForMore() bool {
	return !t.finished.Load() && !t.failed.Load() && t.pending.Load() < trackQueueCapacity
}

func (t *track) Append(_ context.Context, frame media.MediaFrame) pipeline.AppendResult {
	if t.failed.Load() {
		return pipeline.Failed
	}
	if t.finished.Load() || !t.ReadyForMore() {
		return pipeline.NotReady
	}

	t.mu.Lock()
	f := t.file
	t.mu.Unlock()
	if f == nil {
		return pipeline.NotReady
	}

	t.pending.Add(1)
	defer t.pending.Add(-1)

	if _, err := f.Write(frame.Payload); err != nil {
		t.failed.Store(true)
		return pipeline.Failed
	}
	return pipeline.Accepted
}

func (t *track) MarkFinished() {
	t.finished.Store(true)
}

// finish closes the fifo, signalling EOF to ffmpeg, and waits up to
// stopTimeout for the process to exit before killing it.
func (t *track) finish(ctx context.Context, stopTimeout time.Duration) error {
	t.MarkFinished()

	t.mu.Lock()
	f := t.file
	t.mu.Unlock()
	if f != nil {
		_ = f.Close()
	}

	if t.cmd == nil {
		// No backing process (unit tests construct a track directly over an
		// os.Pipe); there is nothing to wait for.
		return nil
	}

	select {
	case <-t.exited:
		return nil
	case <-time.After(stopTimeout):
		if t.cmd != nil && t.cmd.Process != nil {
			_ = t.cmd.Process.Kill()
		}
		<-t.exited
		return fmt.Errorf("%s track ffmpeg did not exit within %s, killed", t.kind, stopTimeout)
	case <-ctx.Done():
		if t.cmd != nil && t.cmd.Process != nil {
			_ = t.cmd.Process.Kill()
		}
		<-t.exited
		return ctx.Err()
	}
}

// abort kills the track's ffmpeg process immediately without waiting for a
// clean exit, used by Cancel.
func (t *track) abort() {
	t.failed.Store(true)
	t.mu.Lock()
	f := t.file
	t.mu.Unlock()
	if f != nil {
		_ = f.Close()
	}
	if t.cmd != nil && t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
	}
}
