package capture

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/avreclab/recorder-engine/internal/media"
	"github.com/avreclab/recorder-engine/internal/plan"
	"github.com/avreclab/recorder-engine/internal/recerr"
)

type recordingDelegate struct {
	mu     sync.Mutex
	video  []media.MediaFrame
	audio  []media.MediaFrame
	errs   []error
	errSig chan struct{}
}

func newRecordingDelegate() *recordingDelegate {
	return &recordingDelegate{errSig: make(chan struct{}, 1)}
}

func (d *recordingDelegate) OnVideoSample(f media.MediaFrame) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.video = append(d.video, f)
}

func (d *recordingDelegate) OnAudioSample(f media.MediaFrame) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.audio = append(d.audio, f)
}

func (d *recordingDelegate) OnError(err error) {
	d.mu.Lock()
	d.errs = append(d.errs, err)
	d.mu.Unlock()
	select {
	case d.errSig <- struct{}{}:
	default:
	}
}

func (d *recordingDelegate) videoCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.video)
}

func TestDisplaySourceProducesVideoFrames(t *testing.T) {
	backend := &SyntheticBackend{Video: &SyntheticVideoSpec{Width: 640, Height: 480, FPS: 120}}
	src := NewDisplaySource("screen", "display-0", nil, func(context.Context) (Backend, error) { return backend, nil })

	if err := src.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	delegate := newRecordingDelegate()
	if err := src.Start(context.Background(), delegate); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	deadline := time.After(time.Second)
	for delegate.videoCount() < 3 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for synthetic video frames")
		case <-time.After(time.Millisecond):
		}
	}

	if err := src.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if src.Kind() != plan.KindDisplay {
		t.Errorf("Kind() = %v, want KindDisplay", src.Kind())
	}
}

func TestMicrophoneSourceStopIsIdempotent(t *testing.T) {
	backend := &SyntheticBackend{Audio: &SyntheticAudioSpec{SampleRate: 48000, Channels: 1}}
	src := NewMicrophoneSource("mic", "default", func(context.Context) (Backend, error) { return backend, nil })

	if err := src.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if err := src.Start(context.Background(), newRecordingDelegate()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := src.Stop(context.Background()); err != nil {
		t.Fatalf("first Stop() error = %v", err)
	}
	if err := src.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
}

func TestAdapterReportsSourceUnavailableOnBackendFailure(t *testing.T) {
	backend := &SyntheticBackend{
		Video:     &SyntheticVideoSpec{Width: 1280, Height: 720, FPS: 200},
		FailAfter: 1,
	}
	src := NewCameraSource("cam0", "cam-0", func(context.Context) (Backend, error) { return backend, nil })

	if err := src.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	delegate := newRecordingDelegate()
	if err := src.Start(context.Background(), delegate); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	select {
	case <-delegate.errSig:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for onError after simulated backend failure")
	}

	delegate.mu.Lock()
	defer delegate.mu.Unlock()
	if len(delegate.errs) != 1 {
		t.Fatalf("got %d errors, want exactly 1", len(delegate.errs))
	}
	if !recerr.Is(delegate.errs[0], recerr.SourceUnavailable) {
		t.Errorf("error kind = %v, want SourceUnavailable", delegate.errs[0])
	}
}

func TestPrepareFailureWrapsSourceUnavailable(t *testing.T) {
	boom := errFake("device busy")
	src := NewWindowSource("win", "window-7", func(context.Context) (Backend, error) { return nil, boom })

	err := src.Prepare(context.Background())
	if !recerr.Is(err, recerr.SourceUnavailable) {
		t.Fatalf("Prepare() error kind = %v, want SourceUnavailable", err)
	}
}

type errFake string

func (e errFake) Error() string { return string(e) }
