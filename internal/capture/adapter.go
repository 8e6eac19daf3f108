package capture

import (
	"context"
	"fmt"
	"sync"

	"github.com/avreclab/recorder-engine/internal/media"
	"github.com/avreclab/recorder-engine/internal/plan"
	"github.com/avreclab/recorder-engine/internal/recerr"
	"github.com/avreclab/recorder-engine/internal/util"
)

// newBackendFunc resolves and opens the concrete backend for one adapter
// instance. It is supplied by internal/devices once a plan.SchemeItem has
// been validated, keeping this package ignorant of device-ID resolution.
type newBackendFunc func(ctx context.Context) (Backend, error)

// adapter is the shared Source implementation behind DisplaySource,
// WindowSource, CameraSource, and MicrophoneSource. Each one only differs
// in its Kind and how its Backend gets constructed.
type adapter struct {
	kind       plan.Kind
	name       string
	newBackend newBackendFunc
	retry      *Backoff
	videoQueue *media.BoundedFrameQueue

	mu       sync.Mutex
	backend  Backend
	cancel   context.CancelFunc
	done     chan struct{}
	stopping bool
}

func newAdapter(kind plan.Kind, name string, nb newBackendFunc) *adapter {
	return &adapter{kind: kind, name: name, newBackend: nb}
}

// WithRetry configures Prepare to retry a failed device/display/window
// resolution with exponential backoff before giving up. Without it,
// Prepare makes a single attempt.
func (a *adapter) WithRetry(retry *Backoff) *adapter {
	a.retry = retry
	return a
}

// WithVideoQueue inserts a bounded pre-writer queue between the backend's
// video samples and the delegate (spec §5 Back-pressure,
// plan.ScreenOptions.QueueDepth): a slow delegate drops or loses the
// oldest queued frame per q's DropPolicy instead of blocking the
// backend's own capture loop. Audio samples are never queued; a stalled
// writer must not delay the session clock video anchors to.
func (a *adapter) WithVideoQueue(q *media.BoundedFrameQueue) *adapter {
	a.videoQueue = q
	return a
}

func (a *adapter) Kind() plan.Kind { return a.kind }
func (a *adapter) Name() string    { return a.name }

func (a *adapter) Prepare(ctx context.Context) error {
	var lastErr error
	for {
		backend, err := a.newBackend(ctx)
		if err == nil {
			if err = backend.Open(ctx); err == nil {
				a.mu.Lock()
				a.backend = backend
				a.mu.Unlock()
				return nil
			}
		}
		lastErr = err

		if a.retry == nil || a.retry.ShouldStop() {
			return recerr.New(recerr.SourceUnavailable, a.name, lastErr)
		}
		a.retry.RecordFailure()
		if waitErr := a.retry.WaitContext(ctx); waitErr != nil {
			return recerr.New(recerr.SourceUnavailable, a.name, lastErr)
		}
	}
}

func (a *adapter) Start(ctx context.Context, delegate Delegate) error {
	a.mu.Lock()
	backend := a.backend
	if backend == nil {
		a.mu.Unlock()
		return recerr.Newf(recerr.StateError, a.name, "start called before prepare")
	}
	if a.cancel != nil {
		a.mu.Unlock()
		return recerr.Newf(recerr.StateError, a.name, "start called twice")
	}
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})
	done := a.done
	a.mu.Unlock()

	emitVideo := func(f media.MediaFrame) { delegate.OnVideoSample(f) }
	emitAudio := func(f media.MediaFrame) { delegate.OnAudioSample(f) }

	if a.videoQueue != nil {
		queue := a.videoQueue
		directEmit := emitVideo
		emitVideo = func(f media.MediaFrame) { queue.Push(f) }
		util.SafeGo(fmt.Sprintf("capture-%s-queue-drain", a.name), nil, func() {
			a.drainVideoQueue(runCtx, queue, directEmit)
		}, func(r interface{}, _ []byte) {
			delegate.OnError(recerr.Newf(recerr.SourceUnavailable, a.name, "video queue drain panicked: %v", r))
		})
	}

	util.SafeGo(fmt.Sprintf("capture-%s", a.name), nil, func() {
		defer close(done)
		err := backend.Run(runCtx, emitVideo, emitAudio)

		a.mu.Lock()
		stopping := a.stopping
		a.mu.Unlock()

		if err != nil && runCtx.Err() == nil && !stopping {
			delegate.OnError(recerr.New(recerr.SourceUnavailable, a.name, err))
		}
	}, func(r interface{}, _ []byte) {
		delegate.OnError(recerr.Newf(recerr.SourceUnavailable, a.name, "backend panicked: %v", r))
	})

	return nil
}

// drainVideoQueue pops frames pushed onto queue and hands them to emit,
// waking on queue.Notify() rather than polling. On ctx cancellation it
// keeps draining whatever is left in the queue before returning, so a
// backend that pushed its last frames right before Stop doesn't lose them.
func (a *adapter) drainVideoQueue(ctx context.Context, queue *media.BoundedFrameQueue, emit func(media.MediaFrame)) {
	for {
		for {
			f, ok := queue.Pop()
			if !ok {
				break
			}
			emit(f)
		}
		select {
		case <-queue.Notify():
		case <-ctx.Done():
			for {
				f, ok := queue.Pop()
				if !ok {
					return
				}
				emit(f)
			}
		}
	}
}

func (a *adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	a.stopping = true
	cancel := a.cancel
	done := a.done
	backend := a.backend
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
		}
	}
	if backend != nil {
		return backend.Close()
	}
	return nil
}
