package capture

import (
	"context"

	"github.com/avreclab/recorder-engine/internal/plan"
)

// CameraSource captures a single camera device's video (and, where the
// device exposes one, its built-in microphone).
type CameraSource struct {
	*adapter
	CameraID string
}

func NewCameraSource(name, cameraID string, newBackend func(ctx context.Context) (Backend, error)) *CameraSource {
	return &CameraSource{
		adapter:  newAdapter(plan.KindCamera, name, newBackend),
		CameraID: cameraID,
	}
}

// MicrophoneSource captures a single microphone device as an audio-only
// stream, destined for its own M4A file rather than a muxed track.
type MicrophoneSource struct {
	*adapter
	MicrophoneID string
}

func NewMicrophoneSource(name, microphoneID string, newBackend func(ctx context.Context) (Backend, error)) *MicrophoneSource {
	return &MicrophoneSource{
		adapter:      newAdapter(plan.KindMicrophone, name, newBackend),
		MicrophoneID: microphoneID,
	}
}
