package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/avreclab/recorder-engine/internal/media"
)

// SyntheticBackend is an in-process Backend that emits frames on a fixed
// wall-clock ticker rather than driving a real capture device. It is the
// reference Backend for platforms/tests without access to the native
// screen-capture, camera, or microphone subsystems, and it is what
// internal/devices hands back for every source it resolves in this build.
type SyntheticBackend struct {
	Video *SyntheticVideoSpec
	Audio *SyntheticAudioSpec

	// FailAfter, if non-zero, makes Run return an error after emitting
	// this many total frames — used to exercise SourceUnavailable paths.
	FailAfter int

	opened bool
}

// SyntheticVideoSpec describes the synthetic video stream, if any.
type SyntheticVideoSpec struct {
	Width, Height, FPS int
}

// SyntheticAudioSpec describes the synthetic audio stream, if any.
type SyntheticAudioSpec struct {
	SampleRate, Channels int
}

func (b *SyntheticBackend) Open(context.Context) error {
	if b.Video == nil && b.Audio == nil {
		return fmt.Errorf("synthetic backend configured with neither video nor audio")
	}
	b.opened = true
	return nil
}

func (b *SyntheticBackend) Close() error {
	b.opened = false
	return nil
}

func (b *SyntheticBackend) Run(ctx context.Context, emitVideo, emitAudio func(media.MediaFrame)) error {
	if !b.opened {
		return fmt.Errorf("synthetic backend: Run called before Open")
	}

	var videoTicker, audioTicker *time.Ticker
	var videoCh, audioCh <-chan time.Time
	if b.Video != nil && b.Video.FPS > 0 {
		videoTicker = time.NewTicker(time.Second / time.Duration(b.Video.FPS))
		defer videoTicker.Stop()
		videoCh = videoTicker.C
	}
	if b.Audio != nil {
		// One audio buffer every 20ms, a common capture buffer size.
		audioTicker = time.NewTicker(20 * time.Millisecond)
		defer audioTicker.Stop()
		audioCh = audioTicker.C
	}

	var videoSeq, audioSeq, emitted int64
	videoTimescale := int64(1_000_000)
	start := time.Now()

	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-videoCh:
			frame := media.MediaFrame{
				Kind:       media.Video,
				PTS:        media.PTS{Value: t.Sub(start).Microseconds(), Timescale: videoTimescale},
				Duration:   media.PTS{Value: int64(time.Second / time.Duration(b.Video.FPS) / time.Microsecond), Timescale: videoTimescale},
				FormatDesc: media.FormatDescriptor{Width: b.Video.Width, Height: b.Video.Height, FPS: b.Video.FPS},
				WallTime:   t,
			}
			emitVideo(frame)
			videoSeq++
			emitted++
		case t := <-audioCh:
			frame := media.MediaFrame{
				Kind:       media.Audio,
				PTS:        media.PTS{Value: t.Sub(start).Microseconds(), Timescale: videoTimescale},
				FormatDesc: media.FormatDescriptor{SampleRate: b.Audio.SampleRate, Channels: b.Audio.Channels, SampleFmt: media.SampleFormatPCM16},
				WallTime:   t,
			}
			emitAudio(frame)
			audioSeq++
			emitted++
		}

		if b.FailAfter > 0 && emitted >= int64(b.FailAfter) {
			return fmt.Errorf("synthetic backend: simulated failure after %d frames", b.FailAfter)
		}
	}
}
