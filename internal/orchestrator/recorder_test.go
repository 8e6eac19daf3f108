package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/avreclab/recorder-engine/internal/capture"
	"github.com/avreclab/recorder-engine/internal/media"
	"github.com/avreclab/recorder-engine/internal/pipeline"
	"github.com/avreclab/recorder-engine/internal/plan"
	"github.com/avreclab/recorder-engine/internal/recerr"
)

// fakeInput is a minimal pipeline.Input always ready to accept.
type fakeInput struct {
	mu       sync.Mutex
	appended int
}

func (f *fakeInput) ReadyForMore() bool { return true }
func (f *fakeInput) Append(context.Context, media.MediaFrame) pipeline.AppendResult {
	f.mu.Lock()
	f.appended++
	f.mu.Unlock()
	return pipeline.Accepted
}
func (f *fakeInput) MarkFinished() {}

// fakeWriter is a minimal pipeline.ContainerWriter for orchestrator tests.
type fakeWriter struct {
	video, audio *fakeInput
	status       pipeline.WriterStatus
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{video: &fakeInput{}, audio: &fakeInput{}, status: pipeline.StatusWriting}
}

func (w *fakeWriter) ConfigureVideo(pipeline.VideoSettings) (pipeline.Input, error) { return w.video, nil }
func (w *fakeWriter) ConfigureAudio(pipeline.AudioSettings) (pipeline.Input, error) { return w.audio, nil }
func (w *fakeWriter) StartSession(media.PTS) error                                  { return nil }
func (w *fakeWriter) Finish(context.Context) error {
	w.status = pipeline.StatusCompleted
	return nil
}
func (w *fakeWriter) Cancel() error {
	w.status = pipeline.StatusCancelled
	return nil
}
func (w *fakeWriter) Status() pipeline.WriterStatus { return w.status }
func (w *fakeWriter) OutputPath() string            { return "fake.mov" }

// fakeSource is a capture.Source that emits one video frame shortly after
// Start, and otherwise sits idle until Stop/ctx cancellation.
type fakeSource struct {
	kind         plan.Kind
	name         string
	prepareErr   error
	emitDelay    time.Duration
	neverEmits   bool
	stopped      chan struct{}
}

func (s *fakeSource) Kind() plan.Kind { return s.kind }
func (s *fakeSource) Name() string    { return s.name }

func (s *fakeSource) Prepare(context.Context) error { return s.prepareErr }

func (s *fakeSource) Start(ctx context.Context, delegate capture.Delegate) error {
	s.stopped = make(chan struct{})
	if s.neverEmits {
		return nil
	}
	go func() {
		select {
		case <-time.After(s.emitDelay):
			delegate.OnVideoSample(media.MediaFrame{
				Kind:       media.Video,
				FormatDesc: media.FormatDescriptor{Width: 640, Height: 480, FPS: 30},
			})
		case <-ctx.Done():
		}
	}()
	return nil
}

func (s *fakeSource) Stop(context.Context) error {
	if s.stopped != nil {
		select {
		case <-s.stopped:
		default:
			close(s.stopped)
		}
	}
	return nil
}

func singleDisplayPlan() plan.Plan {
	return plan.Plan{Items: []plan.SchemeItem{
		{Kind: plan.KindDisplay, Filename: "screen.mov", DisplayID: "display-0", ScreenOptions: plan.DefaultScreenOptions()},
	}}
}

func TestRecorderHappyPathReachesFirstFrameAndStops(t *testing.T) {
	fw := newFakeWriter()
	src := &fakeSource{kind: plan.KindDisplay, name: "screen.mov", emitDelay: time.Millisecond}

	r, err := New(singleDisplayPlan(), Config{StartTimeout: time.Second},
		func(plan.SchemeItem) pipeline.ContainerWriter { return fw },
		func(plan.SchemeItem) (capture.Source, error) { return src, nil })
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := r.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	result, err := r.StopWithResult(context.Background())
	if err != nil {
		t.Fatalf("StopWithResult() error = %v", err)
	}
	if len(result.Files) != 1 {
		t.Fatalf("len(result.Files) = %d, want 1", len(result.Files))
	}
	if !result.Files[0].HasFirstPTS {
		t.Error("expected the single pipeline to have a first PTS")
	}
	if result.InterruptedBy != nil {
		t.Errorf("InterruptedBy = %v, want nil on a clean stop", result.InterruptedBy)
	}
}

func TestRecorderStartTimeoutWhenNoFrameArrives(t *testing.T) {
	fw := newFakeWriter()
	src := &fakeSource{kind: plan.KindDisplay, name: "screen.mov", neverEmits: true}

	r, err := New(singleDisplayPlan(), Config{StartTimeout: 20 * time.Millisecond},
		func(plan.SchemeItem) pipeline.ContainerWriter { return fw },
		func(plan.SchemeItem) (capture.Source, error) { return src, nil })
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := r.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}

	err = r.Start(context.Background())
	if !recerr.Is(err, recerr.StartTimeout) {
		t.Fatalf("Start() error kind = %v, want StartTimeout", err)
	}
}

func TestRecorderPrepareFailureWrapsPlainErrorAsSourceUnavailable(t *testing.T) {
	boom := fmt.Errorf("display not found")
	src := &fakeSource{kind: plan.KindDisplay, name: "screen.mov", prepareErr: boom}

	r, err := New(singleDisplayPlan(), Config{},
		func(plan.SchemeItem) pipeline.ContainerWriter { return newFakeWriter() },
		func(plan.SchemeItem) (capture.Source, error) { return src, nil })
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	err = r.Prepare(context.Background())
	if !recerr.Is(err, recerr.SourceUnavailable) {
		t.Fatalf("Prepare() error kind = %v, want SourceUnavailable", err)
	}
}

func TestRecorderOnInterruptFiresAtMostOnce(t *testing.T) {
	fw := newFakeWriter()
	src := &fakeSource{kind: plan.KindDisplay, name: "screen.mov", emitDelay: time.Millisecond}

	var mu sync.Mutex
	var calls int
	r, err := New(singleDisplayPlan(), Config{
		StartTimeout: time.Second,
		OnInterrupt: func(error) {
			mu.Lock()
			calls++
			mu.Unlock()
		},
	},
		func(plan.SchemeItem) pipeline.ContainerWriter { return fw },
		func(plan.SchemeItem) (capture.Source, error) { return src, nil })
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := r.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	r.reportInterrupt(recerr.Newf(recerr.SourceUnavailable, "screen.mov", "device unplugged"))
	r.reportInterrupt(recerr.Newf(recerr.SourceUnavailable, "screen.mov", "second call should be ignored"))

	if _, err := r.StopWithResult(context.Background()); err != nil {
		t.Fatalf("StopWithResult() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("OnInterrupt called %d times, want exactly 1", calls)
	}
}
