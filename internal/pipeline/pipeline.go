// Package pipeline implements the per-file writer state machine (spec §4.2):
// the unit that owns one output file, accepts video/audio MediaFrames under
// back-pressure, performs cross-clock PTS alignment, and finalizes into a
// bundle manifest entry.
//
// Concurrency model follows the teacher's stream.Manager: an atomic.Value
// holds the externally-visible State, a mutex protects the small set of
// fields finish() and append*() both touch, a single "accepting" latch
// makes finish() mutually exclusive with append*, and a sync.Once makes
// finish() idempotent.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avreclab/recorder-engine/internal/media"
)

// defaultKeepaliveDuration is used for the synthesized keepalive frame when
// the last real video frame carries no duration (spec §4.2 Keepalive).
const defaultKeepaliveDuration = time.Second / 60

// Config configures a WriterPipeline.
type Config struct {
	Filename string
	FileType string // "screen", "camera", "microphone" — carried into the manifest
	Writer   ContainerWriter
	Counters Counters // optional; defaults to a no-op sink

	// AudioClockDiffers indicates the audio track may arrive on a different
	// clock than the host video (screen capture with system audio, or a
	// separately-captured microphone muxed into the screen file). When true,
	// the pipeline computes audioTimeOffset from the first audio frame after
	// session start and subtracts it from every subsequent audio PTS
	// (spec §4.2).
	AudioClockDiffers bool

	// DeriveVideo computes the encoder settings for the first video frame's
	// resolution/fps (spec §4.2: codec choice, bitrate formula). Optional;
	// defaults to a bare passthrough of width/height/fps with no bitrate.
	// Callers that know the item's ScreenOptions/CameraOptions should close
	// over DeriveScreenVideoSettings/DeriveCameraVideoSettings here.
	DeriveVideo func(width, height, fps int) VideoSettings

	// DeriveAudio computes AAC settings from the first audio frame's sample
	// rate/channel count. Optional; defaults to DeriveAudioSettings, which
	// has no plan-specific inputs.
	DeriveAudio func(sampleRate, channels int) AudioSettings
}

// WriterPipeline is the per-output-file state machine described in spec §4.2.
type WriterPipeline struct {
	cfg Config

	state atomic.Value // State

	mu               sync.Mutex
	accepting        bool
	sessionStarted   bool
	finishOnce       sync.Once
	finished         bool
	firstVideoPTS    media.PTS
	haveFirstVideo   bool
	lastVideoFrame   media.MediaFrame
	haveLastVideo    bool
	lastVideoPTS     media.PTS
	audioClock       media.Clock
	firstFrameWall   time.Time
	haveFirstFrame   bool
	lastFrameWall    time.Time

	videoInput    Input
	audioInput    Input
	videoSettings VideoSettings
	haveVideoSettings bool

	appendedVideo         int64
	appendedAudio         int64
	droppedVideoNotReady  int64
	droppedAudioNotReady  int64

	errOnce sync.Once
	err     error
}

// New creates a pipeline in StateCreated, not yet accepting frames.
func New(cfg Config) *WriterPipeline {
	if cfg.Counters == nil {
		cfg.Counters = noopCounters{}
	}
	if cfg.DeriveVideo == nil {
		cfg.DeriveVideo = func(width, height, fps int) VideoSettings {
			return VideoSettings{Width: width, Height: height, FPS: fps}
		}
	}
	if cfg.DeriveAudio == nil {
		cfg.DeriveAudio = DeriveAudioSettings
	}
	p := &WriterPipeline{cfg: cfg}
	p.state.Store(StateCreated)
	return p
}

// State returns the pipeline's current state.
func (p *WriterPipeline) State() State {
	if p == nil {
		return StateCreated
	}
	v := p.state.Load()
	if v == nil {
		return StateCreated
	}
	return v.(State)
}

func (p *WriterPipeline) setState(s State) { p.state.Store(s) }

// Filename returns the output filename this pipeline owns.
func (p *WriterPipeline) Filename() string { return p.cfg.Filename }

// FileType returns the manifest file type ("screen", "camera", "microphone").
func (p *WriterPipeline) FileType() string { return p.cfg.FileType }

// Err returns the first fatal error the pipeline observed, if any.
func (p *WriterPipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *WriterPipeline) setErrOnce(err error) {
	p.errOnce.Do(func() {
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
	})
}

// StartWriting opens the underlying writer (without yet starting the PTS
// session, which happens lazily on the first valid frame) and begins
// accepting appends.
func (p *WriterPipeline) StartWriting() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.State() != StateCreated {
		return fmt.Errorf("pipeline %s: StartWriting called from state %s", p.cfg.Filename, p.State())
	}

	p.accepting = true
	p.setState(StateWriting)
	return nil
}

// startSession is called exactly once, on the first valid frame after
// StartWriting, to open the writer's source-time origin (spec §4.2).
// Caller must hold p.mu.
func (p *WriterPipeline) startSession(origin media.PTS) error {
	if p.sessionStarted {
		return nil
	}
	if err := p.cfg.Writer.StartSession(origin); err != nil {
		return err
	}
	p.sessionStarted = true
	return nil
}

// recordFrameWallTime updates lastFrameWall monotonically (spec P5) and the
// diagnostics singleton.
func (p *WriterPipeline) recordFrameWallTime(t time.Time) {
	if t.After(p.lastFrameWall) {
		p.lastFrameWall = t
	}
	if !p.haveFirstFrame {
		p.haveFirstFrame = true
		p.firstFrameWall = t
	}
	p.cfg.Counters.RecordFrameWallTime(t)
}

// AppendVideo offers a video frame to the pipeline (spec §4.2 appendVideo).
// Safe to call from any goroutine; ordering of successive calls by a single
// caller is the caller's responsibility (one serial worker per media kind,
// per spec §5).
func (p *WriterPipeline) AppendVideo(ctx context.Context, frame media.MediaFrame) AppendResult {
	p.cfg.Counters.IncCaptured("video")

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.accepting || p.state.Load() != StateWriting {
		return NotReady
	}

	if p.videoInput == nil {
		settings := frame.FormatDesc
		vs := p.cfg.DeriveVideo(settings.Width, settings.Height, settings.FPS)
		in, err := p.cfg.Writer.ConfigureVideo(vs)
		if err != nil {
			p.failLocked(err)
			return Failed
		}
		p.videoInput = in
		p.videoSettings = vs
		p.haveVideoSettings = true
	}

	if !p.videoInput.ReadyForMore() {
		p.cfg.Counters.SetLastReadyForMore("video", false)
		p.droppedVideoNotReady++
		p.cfg.Counters.IncDroppedNotReady("video")
		return NotReady
	}
	p.cfg.Counters.SetLastReadyForMore("video", true)

	if !p.haveFirstVideo {
		if err := p.startSession(frame.PTS); err != nil {
			p.failLocked(err)
			return Failed
		}
		p.haveFirstVideo = true
		p.firstVideoPTS = frame.PTS
	}

	result := p.videoInput.Append(ctx, frame)
	switch result {
	case Accepted:
		p.appendedVideo++
		p.cfg.Counters.IncAppended("video")
		p.lastVideoFrame = frame
		p.haveLastVideo = true
		p.lastVideoPTS = frame.PTS
		p.recordFrameWallTime(frame.WallTime)
	case NotReady:
		p.droppedVideoNotReady++
		p.cfg.Counters.IncDroppedNotReady("video")
	case Failed:
		p.failLocked(fmt.Errorf("pipeline %s: video writer failed", p.cfg.Filename))
	}
	p.cfg.Counters.SetLastWriterStatus("video", p.cfg.Writer.Status().String())
	return result
}

// AppendAudio offers an audio frame to the pipeline (spec §4.2 appendAudio),
// applying the cross-clock PTS offset on the first audio frame after session
// start when Config.AudioClockDiffers is set.
func (p *WriterPipeline) AppendAudio(ctx context.Context, frame media.MediaFrame) AppendResult {
	p.cfg.Counters.IncCaptured("audio")

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.accepting || p.state.Load() != StateWriting {
		return NotReady
	}

	if p.audioInput == nil {
		as := p.cfg.DeriveAudio(frame.FormatDesc.SampleRate, frame.FormatDesc.Channels)
		in, err := p.cfg.Writer.ConfigureAudio(as)
		if err != nil {
			p.failLocked(err)
			return Failed
		}
		p.audioInput = in
	}

	if !p.audioInput.ReadyForMore() {
		p.droppedAudioNotReady++
		p.cfg.Counters.IncDroppedNotReady("audio")
		return NotReady
	}

	if !p.haveFirstVideo && !p.sessionStarted {
		// Audio-only pipeline (e.g. a standalone Microphone scheme): the
		// first audio frame opens the session.
		if err := p.startSession(frame.PTS); err != nil {
			p.failLocked(err)
			return Failed
		}
	}

	adjusted := frame
	if p.cfg.AudioClockDiffers {
		// spec §4.2: compute audioTimeOffset = audioPTS - firstVideoPTS on
		// the first audio frame after session start, and subtract it from
		// every subsequent audio PTS. Skipping this produces multi-hour
		// silent audio tracks when the audio and video clocks have
		// independent epochs. media.Clock freezes the offset on first use.
		origin := p.firstVideoPTS
		if !p.haveFirstVideo {
			origin = frame.PTS // audio-only pipeline: offset against itself
		}
		offset := p.audioClock.Align(frame.PTS, origin)
		adjusted.PTS = frame.PTS.Sub(offset)
	}

	result := p.audioInput.Append(ctx, adjusted)
	switch result {
	case Accepted:
		p.appendedAudio++
		p.cfg.Counters.IncAppended("audio")
		p.recordFrameWallTime(frame.WallTime)
	case NotReady:
		p.droppedAudioNotReady++
		p.cfg.Counters.IncDroppedNotReady("audio")
	case Failed:
		p.failLocked(fmt.Errorf("pipeline %s: audio writer failed", p.cfg.Filename))
	}
	return result
}

// failLocked transitions the pipeline to StateFailed and stops accepting.
// Caller must hold p.mu.
func (p *WriterPipeline) failLocked(err error) {
	p.accepting = false
	p.setState(StateFailed)
	p.setErrOnce(err)
	p.cfg.Counters.IncWriterFailed("video")
}

// Finish stops accepting appends and finalizes the writer (spec §4.2
// finish()). Mutually exclusive with AppendVideo/AppendAudio via the
// accepting latch; idempotent via finishOnce.
func (p *WriterPipeline) Finish(ctx context.Context) error {
	var result error
	p.finishOnce.Do(func() {
		result = p.finishLocked(ctx)
	})
	return result
}

func (p *WriterPipeline) finishLocked(ctx context.Context) error {
	p.mu.Lock()
	p.accepting = false
	sessionStarted := p.sessionStarted
	haveLastVideo := p.haveLastVideo
	lastVideoFrame := p.lastVideoFrame
	lastVideoPTS := p.lastVideoPTS
	videoInput := p.videoInput
	audioInput := p.audioInput
	p.mu.Unlock()

	if !sessionStarted {
		p.setState(StateCancelled)
		return p.cfg.Writer.Cancel()
	}

	p.setState(StateEndOfStream)

	if haveLastVideo && videoInput != nil && videoInput.ReadyForMore() && p.cfg.Writer.Status() == StatusWriting {
		// Keepalive: duplicate the last video sample with a new PTS
		// immediately following the last recorded PTS, to extend the
		// written timeline to the real stop instant (spec §4.2 Keepalive).
		dur := lastVideoFrame.Duration
		if dur.Timescale == 0 || dur.Value == 0 {
			dur = media.PTS{Value: int64(defaultKeepaliveDuration), Timescale: int64(time.Second)}
		}
		keepalive := lastVideoFrame
		keepalive.PTS = lastVideoPTS.Add(dur)
		if dur.Timescale > lastVideoPTS.Timescale {
			// Sum in the finer timescale so a sub-tick duration is not truncated to zero.
			keepalive.PTS = dur.Add(lastVideoPTS)
		}
		_ = videoInput.Append(ctx, keepalive) // best-effort; skipped conditions already checked above
	}

	if videoInput != nil {
		videoInput.MarkFinished()
	}
	if audioInput != nil {
		audioInput.MarkFinished()
	}

	if err := p.cfg.Writer.Finish(ctx); err != nil {
		p.setState(StateFailed)
		p.setErrOnce(err)
		return err
	}

	p.setState(StateFinalized)
	return nil
}

// FirstPTS returns the first video PTS if present. Without a video frame it
// returns the zero PTS (the first audio PTS is not recorded); ok is false if
// the pipeline never started a session.
func (p *WriterPipeline) FirstPTS() (media.PTS, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.haveFirstVideo {
		return p.firstVideoPTS, true
	}
	return media.PTS{}, p.sessionStarted
}

// LastPTS returns the last appended video PTS, or the zero value if none.
func (p *WriterPipeline) LastPTS() media.PTS {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastVideoPTS
}

// FirstFrameWallTime returns the wall-clock time of the first appended
// frame, used to populate the manifest's recordingStartTimestamp.
func (p *WriterPipeline) FirstFrameWallTime() (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.firstFrameWall, p.haveFirstFrame
}

// LastFrameWallTime returns the wall-clock time of the most recently
// appended frame (spec P5: monotone non-decreasing while active).
func (p *WriterPipeline) LastFrameWallTime() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastFrameWall
}

// Counts returns the pipeline's append/drop counters.
func (p *WriterPipeline) Counts() (appendedVideo, droppedVideoNotReady, appendedAudio, droppedAudioNotReady int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.appendedVideo, p.droppedVideoNotReady, p.appendedAudio, p.droppedAudioNotReady
}

// HasFile reports whether a session was ever started, i.e. whether a file
// exists on disk worth listing in the manifest (spec: "Missing first frame
// at stop time ... emits a manifest entry only if a file exists on disk").
func (p *WriterPipeline) HasFile() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessionStarted
}

// OutputPath returns the path of the file this pipeline's writer produces,
// for the bundle manifest.
func (p *WriterPipeline) OutputPath() string {
	return p.cfg.Writer.OutputPath()
}

// VideoSettings returns the codec/resolution/frame-rate the pipeline derived
// for its video track, and whether a video track was ever configured (a
// microphone-only pipeline never will be).
func (p *WriterPipeline) VideoSettings() (VideoSettings, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.videoSettings, p.haveVideoSettings
}

// HasAudio reports whether any audio frame was ever appended successfully,
// for the manifest's hasAudio field.
func (p *WriterPipeline) HasAudio() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.appendedAudio > 0
}

// ErrPipelineMisuse is returned (wrapped) for StateError-class programmer
// misuse, e.g. appending before StartWriting.
var ErrPipelineMisuse = errors.New("pipeline: misuse")
