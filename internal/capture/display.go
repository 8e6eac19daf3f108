package capture

import (
	"context"

	"github.com/avreclab/recorder-engine/internal/plan"
)

// DisplaySource captures a full display or a sub-rectangle of one. It is a
// thin Source wrapper: the real work happens in whichever Backend
// newBackend resolves (a platform screen-capture backend in production, or
// SyntheticBackend in tests and reference builds).
type DisplaySource struct {
	*adapter
	DisplayID string
	Region    *plan.Rect
}

// NewDisplaySource builds a DisplaySource for the given display identifier.
// newBackend is expected to have captured displayID and region already.
func NewDisplaySource(name, displayID string, region *plan.Rect, newBackend func(ctx context.Context) (Backend, error)) *DisplaySource {
	return &DisplaySource{
		adapter:   newAdapter(plan.KindDisplay, name, newBackend),
		DisplayID: displayID,
		Region:    region,
	}
}

// WindowSource captures a single on-screen window by identifier.
type WindowSource struct {
	*adapter
	WindowID string
}

func NewWindowSource(name, windowID string, newBackend func(ctx context.Context) (Backend, error)) *WindowSource {
	return &WindowSource{
		adapter:  newAdapter(plan.KindWindow, name, newBackend),
		WindowID: windowID,
	}
}
