// Package capture defines the CaptureSource abstraction the orchestrator
// drives, and the adapters bridging it to concrete backends for a display,
// a window, a camera, or a microphone.
package capture

import (
	"context"

	"github.com/avreclab/recorder-engine/internal/media"
	"github.com/avreclab/recorder-engine/internal/plan"
)

// Delegate receives samples and errors from a Source. Methods may be
// called from the source's own worker goroutines; implementations must
// not block, since a blocked delegate stalls that source's frame stream.
type Delegate interface {
	OnVideoSample(frame media.MediaFrame)
	OnAudioSample(frame media.MediaFrame)
	OnError(err error)
}

// Source produces MediaFrames from a display, window, camera, or
// microphone, and reports errors (including device disconnects and
// permission loss) through the Delegate passed to Start.
//
// Adapters never retain ownership of written files; they only produce
// frames and errors. prepare/start/stop may all suspend on underlying
// platform I/O; Source implementations must tolerate Stop being called
// before Start completes and make Stop idempotent.
type Source interface {
	Kind() plan.Kind
	Name() string

	// Prepare resolves the device/display/window identifier and
	// validates it is usable. It does not yet produce frames.
	Prepare(ctx context.Context) error

	// Start begins producing frames to delegate. It returns once the
	// backend has been engaged; frames arrive asynchronously until Stop
	// is called or the backend reports a fatal error via onError.
	Start(ctx context.Context, delegate Delegate) error

	// Stop disengages the backend. It is safe to call multiple times
	// and safe to call even if Start was never called or failed.
	Stop(ctx context.Context) error
}

// Backend is the platform capture primitive each adapter drives. Real
// builds wire a platform-specific implementation (screen-capture
// subsystem, camera/audio session); this package also ships
// SyntheticBackend, an in-memory implementation used by tests and by
// any build without native capture support.
type Backend interface {
	// Open acquires the underlying device/display/window handle.
	// Returns a SourceUnavailable-kind error (see internal/recerr) if
	// the target cannot be resolved.
	Open(ctx context.Context) error

	// Run blocks, invoking emitVideo/emitAudio for each sample the
	// backend produces, until ctx is cancelled or the backend
	// encounters a fatal error (device disconnect, permission revoked,
	// runtime error). A nil return means ctx was cancelled; any
	// non-nil, non-context error is reported to the delegate as
	// onError and treated as end-of-stream.
	Run(ctx context.Context, emitVideo, emitAudio func(media.MediaFrame)) error

	// Close releases the handle acquired by Open. Idempotent.
	Close() error
}
