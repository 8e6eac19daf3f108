package pipeline

import (
	"context"

	"github.com/avreclab/recorder-engine/internal/media"
)

// AppendResult is the outcome of offering one sample to a ContainerWriter
// input, replacing the "inspect writer state yourself" pattern the platform
// media-writer APIs use (spec §9, Writer back-pressure).
type AppendResult int

const (
	// Accepted means the sample was queued for muxing.
	Accepted AppendResult = iota
	// NotReady means the input is applying back-pressure; the caller should
	// drop the sample and count it, not retry.
	NotReady
	// Failed means the writer has entered a terminal failure state.
	Failed
)

func (r AppendResult) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case NotReady:
		return "not_ready"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// WriterStatus mirrors a platform media writer's lifecycle status.
type WriterStatus int

const (
	StatusUnknown WriterStatus = iota
	StatusWriting
	StatusCompleted
	StatusFailed
	StatusCancelled
)

// VideoSettings describes the encoder configuration derived for a video
// track (spec §4.2 bit-rate and settings derivation).
type VideoSettings struct {
	Codec         string // "h264" or "hevc"
	Width, Height int
	FPS           int
	BitRate       int
	MaxKeyFrameInterval float64 // seconds
}

// AudioSettings describes the encoder configuration derived for an audio
// track muxed alongside video, or for a standalone microphone file.
type AudioSettings struct {
	SampleRate int
	Channels   int
	BitRate    int
}

// Input is one track's append/readiness surface on a ContainerWriter.
type Input interface {
	// ReadyForMore reports whether another sample can be appended right now
	// without blocking. This is the only back-pressure signal on the hot
	// path; callers must not call Append when this is false.
	ReadyForMore() bool

	// Append offers a sample to the writer. It never blocks for long: a
	// writer that cannot accept the sample returns NotReady or Failed rather
	// than stalling the caller.
	Append(ctx context.Context, frame media.MediaFrame) AppendResult

	// MarkFinished signals that no further samples will be appended on this
	// track.
	MarkFinished()
}

// ContainerWriter is the abstract media-writer collaborator a WriterPipeline
// drives. Concrete implementations (internal/backend) bridge to an actual
// muxer process or platform API; the pipeline only depends on this
// interface (spec §9: "Writer back-pressure").
type ContainerWriter interface {
	// ConfigureVideo installs the video track settings. Called at most once,
	// lazily, from the first video frame's dimensions; this may come after
	// StartSession when an audio frame started the session.
	ConfigureVideo(settings VideoSettings) (VideoInput Input, err error)

	// ConfigureAudio installs the audio track settings. Called at most once,
	// lazily, from the first audio frame; this may come after StartSession
	// when a video frame started the session.
	ConfigureAudio(settings AudioSettings) (AudioInput Input, err error)

	// StartSession opens the underlying file/process at the given origin
	// PTS. Called once, when the first configured track receives its first
	// accepted frame; the other track may be configured afterwards.
	StartSession(origin media.PTS) error

	// Finish asks the writer to flush and close. It blocks until the writer
	// reaches a terminal status or ctx is cancelled.
	Finish(ctx context.Context) error

	// Cancel aborts the writer without producing a valid file (or removes a
	// partially-written one), used when no session was ever started.
	Cancel() error

	// Status returns the writer's current lifecycle status.
	Status() WriterStatus

	// OutputPath returns the path of the file this writer produces.
	OutputPath() string
}
