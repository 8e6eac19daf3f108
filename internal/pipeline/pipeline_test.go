package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/avreclab/recorder-engine/internal/media"
	"github.com/stretchr/testify/require"
)

// fakeInput is an in-memory Input used by pipeline tests.
type fakeInput struct {
	ready    bool
	appended []media.MediaFrame
	finished bool
	fail     bool
}

func (f *fakeInput) ReadyForMore() bool { return f.ready }

func (f *fakeInput) Append(_ context.Context, frame media.MediaFrame) AppendResult {
	if f.fail {
		return Failed
	}
	if !f.ready {
		return NotReady
	}
	f.appended = append(f.appended, frame)
	return Accepted
}

func (f *fakeInput) MarkFinished() { f.finished = true }

// fakeWriter is an in-memory ContainerWriter used by pipeline tests.
type fakeWriter struct {
	video, audio *fakeInput
	status       WriterStatus
	started      bool
	origin       media.PTS
	finishErr    error
	cancelled    bool
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{
		video:  &fakeInput{ready: true},
		audio:  &fakeInput{ready: true},
		status: StatusWriting,
	}
}

func (w *fakeWriter) ConfigureVideo(VideoSettings) (Input, error) { return w.video, nil }
func (w *fakeWriter) ConfigureAudio(AudioSettings) (Input, error) { return w.audio, nil }
func (w *fakeWriter) StartSession(origin media.PTS) error {
	w.started = true
	w.origin = origin
	return nil
}
func (w *fakeWriter) Finish(context.Context) error {
	w.status = StatusCompleted
	return w.finishErr
}
func (w *fakeWriter) Cancel() error {
	w.cancelled = true
	w.status = StatusCancelled
	return nil
}
func (w *fakeWriter) Status() WriterStatus { return w.status }
func (w *fakeWriter) OutputPath() string   { return "test.mov" }

func secPTS(v int64) media.PTS { return media.PTS{Value: v, Timescale: 1} }

func videoFrame(pts int64) media.MediaFrame {
	return media.MediaFrame{
		Kind:       media.Video,
		PTS:        secPTS(pts),
		Duration:   secPTS(0), // zero so keepalive tests exercise the default-duration path
		FormatDesc: media.FormatDescriptor{Width: 640, Height: 480, FPS: 30},
		WallTime:   time.Unix(pts, 0),
	}
}

func audioFrame(pts int64) media.MediaFrame {
	return media.MediaFrame{
		Kind:       media.Audio,
		PTS:        secPTS(pts),
		FormatDesc: media.FormatDescriptor{SampleRate: 48000, Channels: 2},
		WallTime:   time.Unix(pts, 0),
	}
}

func TestAppendVideoBeforeStartWritingIsDropped(t *testing.T) {
	w := newFakeWriter()
	p := New(Config{Filename: "a.mov", Writer: w})

	result := p.AppendVideo(context.Background(), videoFrame(0))
	require.Equal(t, NotReady, result)
	require.False(t, w.started)
}

func TestAppendVideoHappyPath(t *testing.T) {
	w := newFakeWriter()
	p := New(Config{Filename: "a.mov", Writer: w})
	require.NoError(t, p.StartWriting())

	result := p.AppendVideo(context.Background(), videoFrame(0))
	require.Equal(t, Accepted, result)
	require.True(t, w.started)

	result = p.AppendVideo(context.Background(), videoFrame(1))
	require.Equal(t, Accepted, result)

	appendedVideo, dropped, _, _ := p.Counts()
	require.EqualValues(t, 2, appendedVideo)
	require.Zero(t, dropped)

	first, ok := p.FirstPTS()
	require.True(t, ok)
	require.Equal(t, secPTS(0), first)
	require.Equal(t, secPTS(1), p.LastPTS())
}

func TestAppendVideoNotReadyIsCountedNotRetried(t *testing.T) {
	w := newFakeWriter()
	w.video.ready = false
	p := New(Config{Filename: "a.mov", Writer: w})
	require.NoError(t, p.StartWriting())

	result := p.AppendVideo(context.Background(), videoFrame(0))
	require.Equal(t, NotReady, result)

	_, dropped, _, _ := p.Counts()
	require.EqualValues(t, 1, dropped)
	require.False(t, w.started, "a not-ready first frame must not open a session")
}

func TestAppendVideoWriterFailureTransitionsPipelineToFailed(t *testing.T) {
	w := newFakeWriter()
	p := New(Config{Filename: "a.mov", Writer: w})
	require.NoError(t, p.StartWriting())
	require.Equal(t, Accepted, p.AppendVideo(context.Background(), videoFrame(0)))

	w.video.fail = true
	result := p.AppendVideo(context.Background(), videoFrame(1))
	require.Equal(t, Failed, result)
	require.Equal(t, StateFailed, p.State())
	require.Error(t, p.Err())

	// Further appends are dropped once failed.
	result = p.AppendVideo(context.Background(), videoFrame(2))
	require.Equal(t, NotReady, result)
}

func TestAudioClockOffsetIsAppliedOnceFromFirstVideoPTS(t *testing.T) {
	w := newFakeWriter()
	p := New(Config{Filename: "a.mov", Writer: w, AudioClockDiffers: true})
	require.NoError(t, p.StartWriting())

	require.Equal(t, Accepted, p.AppendVideo(context.Background(), videoFrame(0)))

	// Audio arrives on a wildly different clock epoch (e.g. "real-time hours").
	audioEpoch := int64(3600 * 5)
	require.Equal(t, Accepted, p.AppendAudio(context.Background(), audioFrame(audioEpoch)))
	require.Equal(t, Accepted, p.AppendAudio(context.Background(), audioFrame(audioEpoch+1)))

	require.Len(t, w.audio.appended, 2)
	require.Equal(t, secPTS(0), w.audio.appended[0].PTS, "first audio frame must be rebased to the offset origin")
	require.Equal(t, secPTS(1), w.audio.appended[1].PTS)
}

func TestFinishWithoutSessionCancelsWriter(t *testing.T) {
	w := newFakeWriter()
	p := New(Config{Filename: "a.mov", Writer: w})
	require.NoError(t, p.StartWriting())

	err := p.Finish(context.Background())
	require.NoError(t, err)
	require.True(t, w.cancelled)
	require.Equal(t, StateCancelled, p.State())
	require.False(t, p.HasFile())
}

func TestFinishAppendsKeepaliveFrame(t *testing.T) {
	w := newFakeWriter()
	p := New(Config{Filename: "a.mov", Writer: w})
	require.NoError(t, p.StartWriting())
	require.Equal(t, Accepted, p.AppendVideo(context.Background(), videoFrame(5)))

	err := p.Finish(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateFinalized, p.State())

	require.Len(t, w.video.appended, 2, "finish should synthesize exactly one keepalive frame")
	keepalive := w.video.appended[1]
	require.True(t, keepalive.PTS.Seconds() > secPTS(5).Seconds())
	require.True(t, w.video.finished)
	require.True(t, w.audio.finished)
}

func TestFinishIsIdempotent(t *testing.T) {
	w := newFakeWriter()
	p := New(Config{Filename: "a.mov", Writer: w})
	require.NoError(t, p.StartWriting())
	require.Equal(t, Accepted, p.AppendVideo(context.Background(), videoFrame(0)))

	err1 := p.Finish(context.Background())
	err2 := p.Finish(context.Background())
	require.NoError(t, err1)
	require.NoError(t, err2)
}

func TestKeepaliveSkippedWhenWriterNotReady(t *testing.T) {
	w := newFakeWriter()
	p := New(Config{Filename: "a.mov", Writer: w})
	require.NoError(t, p.StartWriting())
	require.Equal(t, Accepted, p.AppendVideo(context.Background(), videoFrame(0)))

	w.video.ready = false
	require.NoError(t, p.Finish(context.Background()))
	require.Len(t, w.video.appended, 1, "keepalive must be skipped when the input is not ready")
}
