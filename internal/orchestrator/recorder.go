// Package orchestrator implements the recorder orchestrator: it prepares
// and starts one CaptureSource/WriterPipeline pair per plan.SchemeItem,
// waits for every pipeline to receive its first frame, and drives a
// coordinated stop that finalizes every pipeline exactly once and reports
// the resulting bundle contents (spec.md §4.1).
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/avreclab/recorder-engine/internal/audiofx"
	"github.com/avreclab/recorder-engine/internal/capture"
	"github.com/avreclab/recorder-engine/internal/diagnostics"
	"github.com/avreclab/recorder-engine/internal/media"
	"github.com/avreclab/recorder-engine/internal/pipeline"
	"github.com/avreclab/recorder-engine/internal/plan"
	"github.com/avreclab/recorder-engine/internal/recerr"
)

// RecordingError is the taxonomy-tagged error every orchestrator
// operation reports failure through (spec.md §7).
type RecordingError = recerr.Error

const (
	// DefaultStartTimeout is how long Start waits for every pipeline to
	// receive its first frame before declaring a StartTimeout failure.
	DefaultStartTimeout = 10 * time.Second
	// DefaultStopTimeout bounds how long stopWithResult waits for every
	// pipeline's finalize to complete.
	DefaultStopTimeout = 15 * time.Second
)

// WriterFactory builds the ContainerWriter for one scheme item. Supplied
// by the caller (normally internal/backend.NewFFmpegWriter) so this
// package depends only on the pipeline.ContainerWriter trait.
type WriterFactory func(item plan.SchemeItem) pipeline.ContainerWriter

// SourceFactory builds the CaptureSource for one scheme item, resolving
// its device/display/window identifier. Supplied by the caller (normally
// internal/devices), returning a recerr-tagged PlanInvalid or
// SourceUnavailable error on resolution failure.
type SourceFactory func(item plan.SchemeItem) (capture.Source, error)

// Config configures a Recorder's timeouts and interrupt callback.
type Config struct {
	StartTimeout time.Duration
	StopTimeout  time.Duration
	// OnInterrupt is invoked at most once per session, with a
	// RecordingError, the moment any source/pipeline suffers an
	// unrecoverable error while the session is running.
	OnInterrupt func(error)
	Logger      *slog.Logger
	// Diagnostics receives every pipeline's counters, if set. Optional: a
	// nil Diagnostics means no metering singleton is wired for this
	// session (e.g. a short-lived CLI invocation that doesn't serve
	// /healthz).
	Diagnostics *diagnostics.Diagnostics
	// HEVCAccepted reports whether the configured writer backend can
	// encode HEVC right now (normally a cached backend.WriterProbe call).
	// Optional: nil is treated as "HEVC never accepted", which degrades
	// every HEVC-preferring item to H.264 (spec §3).
	HEVCAccepted func() bool
}

func (c Config) withDefaults() Config {
	if c.StartTimeout <= 0 {
		c.StartTimeout = DefaultStartTimeout
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// FileResult is one pipeline's contribution to the session bundle,
// consumed by internal/bundle to build bundle.json.
type FileResult struct {
	Item       plan.SchemeItem
	FileType   string // "screen", "camera", "microphone"
	OutputPath string
	FirstPTS   media.PTS
	HasFirstPTS bool
	LastPTS    media.PTS
	// RecordingStart/RecordingEnd are the wall-clock times of the first and
	// most recent appended frame (spec §6: bundle.json recordingStartTimestamp
	// / recordingEndTimestamp), not the source-clock PTS values above.
	RecordingStart    time.Time
	HasRecordingStart bool
	RecordingEnd      time.Time
	HasFile    bool
	HasAudio   bool
	Video      pipeline.VideoSettings
	HasVideo   bool
	Err        error
}

// Result is the outcome of a completed session.
type Result struct {
	Files       []FileResult
	InterruptedBy error // nil on a clean stop
}

type sessionEntry struct {
	item     plan.SchemeItem
	source   capture.Source
	pipeline *pipeline.WriterPipeline
	gate     *firstFrameGate
	// micGain is non-nil only for Microphone items, applying spec.md
	// §4.5's gain/AGC/limiter chain before the frame reaches the pipeline.
	micGain *audiofx.MicGainChain
}

// Recorder owns one session's sources and pipelines exclusively: it is not
// safe to reuse across sessions or to call its methods concurrently from
// more than one goroutine, beyond the internal per-source/per-pipeline
// workers it manages itself (spec.md §5 Ownership).
type Recorder struct {
	cfg Config
	p   plan.Plan

	newWriter WriterFactory
	newSource SourceFactory

	entries []*sessionEntry

	supervisor  *suture.Supervisor
	superCancel context.CancelFunc
	superDone   <-chan error

	interruptOnce sync.Once
	interruptErr  atomic.Value // RecordingError
	started       bool
	stopped       bool
}

// New validates p and constructs a Recorder ready for Prepare. It does not
// touch any capture source or writer yet.
func New(p plan.Plan, cfg Config, newWriter WriterFactory, newSource SourceFactory) (*Recorder, error) {
	if err := p.Validate(); err != nil {
		return nil, recerr.New(recerr.PlanInvalid, "", err)
	}
	return &Recorder{
		p:         p,
		cfg:       cfg.withDefaults(),
		newWriter: newWriter,
		newSource: newSource,
	}, nil
}

// Prepare resolves every scheme item's device/display/window and opens
// its writer pipeline, without producing any frames yet. A failure here
// is fatal for the whole session (spec.md §7: PlanInvalid,
// PermissionDenied, SourceUnavailable, FileCreateFailed,
// WriterSetupFailed are all "fatal at prepare").
func (r *Recorder) Prepare(ctx context.Context) error {
	entries := make([]*sessionEntry, 0, len(r.p.Items))

	for _, item := range r.p.Items {
		src, err := r.newSource(item)
		if err != nil {
			r.cancelPrepared(entries)
			return wrapPrepareErr(item, err)
		}
		if err := src.Prepare(ctx); err != nil {
			r.cancelPrepared(entries)
			return wrapPrepareErr(item, err)
		}

		writer := r.newWriter(item)
		plCfg := pipeline.Config{
			Filename:          item.Filename,
			FileType:          item.Kind.FileType(),
			Writer:            writer,
			AudioClockDiffers: audioClockDiffers(item),
			DeriveVideo:       r.deriveVideoFor(item),
		}
		if r.cfg.Diagnostics != nil {
			plCfg.Counters = r.cfg.Diagnostics
		}
		pl := pipeline.New(plCfg)

		entry := &sessionEntry{
			item:     item,
			source:   src,
			pipeline: pl,
			gate:     newFirstFrameGate(),
		}
		if item.Kind == plan.KindMicrophone {
			entry.micGain = audiofx.NewMicGainChain(item.MicrophoneOptions)
		}
		entries = append(entries, entry)
	}

	r.entries = entries
	return nil
}

// audioClockDiffers reports whether a scheme's muxed audio arrives on a
// clock independent of its video (spec.md §4.2/§9): system audio captured
// alongside a display/window is typically a separate capture session from
// the video, so its PTS origin needs the cross-clock offset correction. A
// camera's built-in microphone shares the camera's own capture session
// clock and does not.
func audioClockDiffers(item plan.SchemeItem) bool {
	return (item.Kind == plan.KindDisplay || item.Kind == plan.KindWindow) && item.CaptureSystemAudio
}

// deriveVideoFor closes over one scheme item's codec/bitrate options so the
// pipeline can derive VideoSettings from the first frame's resolution
// without depending on the plan package itself (spec §4.2). Microphone
// items never append video, so their pipeline keeps pipeline.New's bare
// passthrough default.
func (r *Recorder) deriveVideoFor(item plan.SchemeItem) func(width, height, fps int) pipeline.VideoSettings {
	hevcOK := r.cfg.HEVCAccepted != nil && r.cfg.HEVCAccepted()

	switch item.Kind {
	case plan.KindDisplay, plan.KindWindow:
		return func(width, height, _ int) pipeline.VideoSettings {
			return pipeline.DeriveScreenVideoSettings(item.ScreenOptions, width, height, item.HDR, hevcOK)
		}
	case plan.KindCamera:
		return func(width, height, fps int) pipeline.VideoSettings {
			return pipeline.DeriveCameraVideoSettings(item.CameraOptions, width, height, fps, hevcOK)
		}
	default:
		return nil
	}
}

func wrapPrepareErr(item plan.SchemeItem, err error) error {
	var re *recerr.Error
	if errors.As(err, &re) {
		return err
	}
	return recerr.New(recerr.SourceUnavailable, item.Filename, err)
}

func (r *Recorder) cancelPrepared(entries []*sessionEntry) {
	for _, e := range entries {
		_ = e.source.Stop(context.Background())
	}
}

// Start begins every prepared source and waits for each pipeline to
// accept its first frame within cfg.StartTimeout. On timeout, it stops
// everything started so far and returns a StartTimeout RecordingError.
func (r *Recorder) Start(ctx context.Context) error {
	if len(r.entries) == 0 {
		return recerr.Newf(recerr.StateError, "", "Start called before Prepare, or Prepare produced no entries")
	}
	if r.started {
		return recerr.Newf(recerr.StateError, "", "Start called twice")
	}
	r.started = true

	spec := suture.Spec{
		EventHook: func(ev suture.Event) {
			r.cfg.Logger.Debug("supervisor event", "event", ev.String())
		},
	}
	r.supervisor = suture.New("recorder", spec)

	superCtx, cancel := context.WithCancel(context.Background())
	r.superCancel = cancel

	for _, e := range r.entries {
		if err := e.pipeline.StartWriting(); err != nil {
			cancel()
			return recerr.New(recerr.WriterSetupFailed, e.item.Filename, err)
		}
		r.supervisor.Add(&sourceService{r: r, entry: e})
	}

	r.superDone = r.supervisor.ServeBackground(superCtx)

	startCtx, startCancel := context.WithTimeout(ctx, r.cfg.StartTimeout)
	defer startCancel()

	var wg sync.WaitGroup
	errs := make(chan error, len(r.entries))
	for _, e := range r.entries {
		wg.Add(1)
		go func(e *sessionEntry) {
			defer wg.Done()
			if err := e.gate.wait(startCtx); err != nil {
				errs <- recerr.New(recerr.StartTimeout, e.item.Filename, err)
			}
		}(e)
	}
	wg.Wait()
	close(errs)

	if firstErr, ok := <-errs; ok {
		_, _ = r.StopWithResult(context.Background())
		return firstErr
	}
	return nil
}

// StopWithResult finalizes every pipeline and stops every source,
// returning per-file results for the bundle manifest. It is idempotent:
// calling it again after a successful stop returns the same Result
// without re-finalizing anything.
func (r *Recorder) StopWithResult(ctx context.Context) (Result, error) {
	if r.stopped {
		return r.collectResults(), nil
	}
	r.stopped = true

	stopCtx, cancel := context.WithTimeout(ctx, r.cfg.StopTimeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, e := range r.entries {
		wg.Add(1)
		go func(e *sessionEntry) {
			defer wg.Done()
			_ = e.source.Stop(stopCtx)
			_ = e.pipeline.Finish(stopCtx)
		}(e)
	}
	wg.Wait()

	if r.superCancel != nil {
		r.superCancel()
		select {
		case <-r.superDone:
		case <-time.After(r.cfg.StopTimeout):
		}
	}

	return r.collectResults(), nil
}

func (r *Recorder) collectResults() Result {
	result := Result{Files: make([]FileResult, 0, len(r.entries))}
	if v := r.interruptErr.Load(); v != nil {
		result.InterruptedBy = v.(error)
	}

	for _, e := range r.entries {
		fr := FileResult{
			Item:       e.item,
			FileType:   e.item.Kind.FileType(),
			OutputPath: e.pipeline.OutputPath(),
			HasFile:    e.pipeline.HasFile(),
			HasAudio:   e.pipeline.HasAudio(),
		}
		if pts, ok := e.pipeline.FirstPTS(); ok {
			fr.FirstPTS = pts
			fr.HasFirstPTS = true
		}
		if t, ok := e.pipeline.FirstFrameWallTime(); ok {
			fr.RecordingStart = t
			fr.HasRecordingStart = true
		}
		fr.RecordingEnd = e.pipeline.LastFrameWallTime()
		if vs, ok := e.pipeline.VideoSettings(); ok {
			fr.Video = vs
			fr.HasVideo = true
		}
		fr.LastPTS = e.pipeline.LastPTS()
		fr.Err = e.pipeline.Err()
		result.Files = append(result.Files, fr)
	}
	return result
}

// PipelineStatus is one pipeline's live state, for a health/status surface
// polled while the session is running (internal/health adapts this into its
// StatusProvider/MetricsProvider shapes; orchestrator stays ignorant of HTTP).
type PipelineStatus struct {
	Filename     string
	FileType     string
	State        string
	Healthy      bool
	Err          error
	StartedAt    time.Time
	HasStartedAt bool
}

// Statuses returns the current state of every prepared pipeline, safe to
// call at any point after Prepare, including concurrently with Start/Stop.
func (r *Recorder) Statuses() []PipelineStatus {
	out := make([]PipelineStatus, 0, len(r.entries))
	for _, e := range r.entries {
		st := e.pipeline.State()
		ps := PipelineStatus{
			Filename: e.pipeline.Filename(),
			FileType: e.pipeline.FileType(),
			State:    st.String(),
			Healthy:  st != pipeline.StateFailed,
			Err:      e.pipeline.Err(),
		}
		if t, ok := e.pipeline.FirstFrameWallTime(); ok {
			ps.StartedAt = t
			ps.HasStartedAt = true
		}
		out = append(out, ps)
	}
	return out
}

// reportInterrupt latches the first interrupt error for the session and
// invokes cfg.OnInterrupt at most once (spec.md §6 "Interrupt callback").
func (r *Recorder) reportInterrupt(err error) {
	r.interruptOnce.Do(func() {
		r.interruptErr.Store(err)
		if r.cfg.OnInterrupt != nil {
			r.cfg.OnInterrupt(err)
		}
	})
}

// sourceService adapts one sessionEntry to suture.Service. It always
// returns suture.ErrDoNotRestart: a capture source that stops, for any
// reason, while a session is running is a terminal condition for that
// source, never a restart candidate (spec.md §4.1 failure semantics).
type sourceService struct {
	r     *Recorder
	entry *sessionEntry
}

func (s *sourceService) Serve(ctx context.Context) error {
	delegate := &pipelineDelegate{r: s.r, entry: s.entry}
	if err := s.entry.source.Start(ctx, delegate); err != nil {
		s.r.reportInterrupt(wrapPrepareErr(s.entry.item, err))
		return suture.ErrDoNotRestart
	}

	<-ctx.Done()
	_ = s.entry.source.Stop(context.Background())
	return suture.ErrDoNotRestart
}

func (s *sourceService) String() string {
	return fmt.Sprintf("source[%s]", s.entry.item.Filename)
}

// pipelineDelegate bridges a capture.Source's frame/error callbacks to its
// WriterPipeline and the Recorder's interrupt latch.
type pipelineDelegate struct {
	r     *Recorder
	entry *sessionEntry
}

func (d *pipelineDelegate) OnVideoSample(f media.MediaFrame) {
	switch d.entry.pipeline.AppendVideo(context.Background(), f) {
	case pipeline.Accepted:
		d.entry.gate.signal()
	case pipeline.Failed:
		d.reportWriterFailure()
	}
}

func (d *pipelineDelegate) OnAudioSample(f media.MediaFrame) {
	if d.entry.micGain != nil {
		d.entry.micGain.Process(&f)
	}
	switch d.entry.pipeline.AppendAudio(context.Background(), f) {
	case pipeline.Accepted:
		d.entry.gate.signal()
	case pipeline.Failed:
		d.reportWriterFailure()
	}
}

func (d *pipelineDelegate) OnError(err error) {
	// A capture-side interrupt (device disconnect, "stop sharing") is
	// end-of-stream, not a writer failure: the pipeline finalizes
	// normally in StopWithResult. Only the interrupt itself is reported.
	d.r.reportInterrupt(recerr.New(recerr.SourceUnavailable, d.entry.item.Filename, err))
}

func (d *pipelineDelegate) reportWriterFailure() {
	d.r.reportInterrupt(recerr.New(recerr.WriterAppendFailed, d.entry.item.Filename, d.entry.pipeline.Err()))
}
