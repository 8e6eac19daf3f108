// Package media defines the unified timestamped sample type that flows from
// a CaptureSource through a BoundedFrameQueue into a WriterPipeline, plus the
// small set of clock helpers used to align streams that arrive on different
// clocks (system audio vs. host video, a separately captured microphone).
package media

import (
	"fmt"
	"time"
)

// Kind distinguishes video from audio frames.
type Kind int

const (
	Video Kind = iota
	Audio
)

func (k Kind) String() string {
	if k == Video {
		return "video"
	}
	return "audio"
}

// PTS is a rational presentation timestamp, value/timescale seconds.
// A timescale of 0 is invalid; callers should default to 1 (seconds) or
// the capture source's native timescale (commonly 600 or 1_000_000_000).
type PTS struct {
	Value     int64
	Timescale int64
}

// Seconds converts the rational timestamp to a float64 number of seconds.
func (p PTS) Seconds() float64 {
	if p.Timescale == 0 {
		return 0
	}
	return float64(p.Value) / float64(p.Timescale)
}

// Sub returns p-other expressed in p's timescale. If the timescales differ,
// other is rescaled first; this loses precision for exotic timescale ratios
// but is adequate for the offset computations this package performs (whole
// seconds to a handful of milliseconds).
func (p PTS) Sub(other PTS) PTS {
	if p.Timescale == other.Timescale {
		return PTS{Value: p.Value - other.Value, Timescale: p.Timescale}
	}
	rescaled := other.Value * p.Timescale / other.Timescale
	return PTS{Value: p.Value - rescaled, Timescale: p.Timescale}
}

// Add returns p+delta, delta expressed in p's timescale.
func (p PTS) Add(delta PTS) PTS {
	if p.Timescale == delta.Timescale {
		return PTS{Value: p.Value + delta.Value, Timescale: p.Timescale}
	}
	rescaled := delta.Value * p.Timescale / delta.Timescale
	return PTS{Value: p.Value + rescaled, Timescale: p.Timescale}
}

// Less reports whether p occurs strictly before other.
func (p PTS) Less(other PTS) bool {
	return p.Seconds() < other.Seconds()
}

// Clock computes the one-time offset between two independently-clocked
// PTS streams (screen capture's system audio, or a separately-captured
// microphone, arriving on a different clock than the host video) and
// holds it fixed for the rest of the session, the way WriterPipeline's
// audioTimeOffset logic requires. Capture clocks run at a steady rate
// relative to one another, so a single sample pair is enough to align
// every later sample without recomputing drift per frame.
//
// Clock is not itself safe for concurrent use; callers serialize access
// the same way WriterPipeline does (one mutex covering both the
// reference stream and the stream being aligned).
type Clock struct {
	offset     PTS
	haveOffset bool
}

// Align returns the fixed offset to subtract from pts so it lands on
// origin's timeline. The offset is computed once, from the first (pts,
// origin) pair seen, and returned unchanged on every later call
// regardless of the pts/origin passed in.
func (c *Clock) Align(pts, origin PTS) PTS {
	if !c.haveOffset {
		c.offset = pts.Sub(origin)
		c.haveOffset = true
	}
	return c.offset
}

// FormatDescriptor carries the media format metadata a writer needs to
// configure its track (width/height/fps for video, sample rate/channels for
// audio). Fields not applicable to a given Kind are left zero.
type FormatDescriptor struct {
	Width      int
	Height     int
	FPS        int
	SampleRate int
	Channels   int
	SampleFmt  SampleFormat
}

// SampleFormat identifies the in-memory layout of audio payloads that
// MicGainChain and the writer backend need to interpret.
type SampleFormat int

const (
	SampleFormatUnknown SampleFormat = iota
	SampleFormatPCM16
	SampleFormatFloat32
)

// MediaFrame is the unified timestamped sample handed from a CaptureSource
// to a WriterPipeline.
type MediaFrame struct {
	Kind       Kind
	PTS        PTS
	Duration   PTS
	FormatDesc FormatDescriptor
	Payload    []byte
	WallTime   time.Time // capture-side wall clock at the moment of production
}

// String renders a compact debug form, used by diagnostics event logging.
func (f MediaFrame) String() string {
	return fmt.Sprintf("%s@%.3fs(dur=%.3fs,%dB)", f.Kind, f.PTS.Seconds(), f.Duration.Seconds(), len(f.Payload))
}
