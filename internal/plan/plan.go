// Package plan defines the recording plan accepted by the orchestrator: an
// ordered list of capture schemes (display, window, camera, microphone) and
// the per-scheme options that drive pipeline and source construction.
package plan

import (
	"fmt"
	"strings"
)

// Kind identifies the concrete type of a SchemeItem.
type Kind int

const (
	KindDisplay Kind = iota
	KindWindow
	KindCamera
	KindMicrophone
)

func (k Kind) String() string {
	switch k {
	case KindDisplay:
		return "display"
	case KindWindow:
		return "window"
	case KindCamera:
		return "camera"
	case KindMicrophone:
		return "microphone"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Rect is a pixel crop region, (0,0,0,0) meaning "no crop".
type Rect struct {
	X, Y, Width, Height int
}

// MarshalJSON renders Kind as its lowercase name so a plan file reads
// "kind": "display" rather than a bare integer.
func (k Kind) MarshalJSON() ([]byte, error) {
	return []byte(`"` + k.String() + `"`), nil
}

// UnmarshalJSON parses Kind from its lowercase name.
func (k *Kind) UnmarshalJSON(data []byte) error {
	s := string(data)
	s = strings.Trim(s, `"`)
	switch s {
	case "display":
		*k = KindDisplay
	case "window":
		*k = KindWindow
	case "camera":
		*k = KindCamera
	case "microphone":
		*k = KindMicrophone
	default:
		return fmt.Errorf("unknown scheme kind %q", s)
	}
	return nil
}

// Empty reports whether the rect carries no crop.
func (r Rect) Empty() bool {
	return r.Width == 0 && r.Height == 0
}

// ScreenOptions configures a Display or Window capture stream.
type ScreenOptions struct {
	FPS           int  `json:"fps"` // [1,240]
	QueueDepth    int  `json:"queueDepth,omitempty"`    // 0 = no bounded pre-writer queue
	TargetBitRate int  `json:"targetBitRate,omitempty"` // bits per second, 0 = derive from resolution/fps
	IncludeAudio  bool `json:"includeAudio,omitempty"`  // accepted but not read; system audio follows SchemeItem.CaptureSystemAudio only
	ShowsCursor   bool `json:"showsCursor,omitempty"`
	HDR           bool `json:"hdr,omitempty"`
	UseHEVC       bool `json:"useHEVC,omitempty"`
}

// DefaultScreenOptions returns the engine's built-in screen defaults.
func DefaultScreenOptions() ScreenOptions {
	return ScreenOptions{
		FPS:         60,
		ShowsCursor: true,
	}
}

// Validate checks ScreenOptions invariants from the data model.
func (o ScreenOptions) Validate() error {
	if o.FPS < 1 || o.FPS > 240 {
		return fmt.Errorf("fps must be in [1,240], got %d", o.FPS)
	}
	if o.QueueDepth < 0 {
		return fmt.Errorf("queueDepth must not be negative")
	}
	if o.TargetBitRate < 0 {
		return fmt.Errorf("targetBitRate must not be negative")
	}
	return nil
}

// CameraOptions configures a Camera capture stream's encoder.
type CameraOptions struct {
	Preset             string  `json:"preset,omitempty"`
	PreferHEVC         bool    `json:"preferHEVC,omitempty"`
	BppH264            float64 `json:"bppH264,omitempty"`
	BppHEVC            float64 `json:"bppHEVC,omitempty"`
	MinBitrate         int     `json:"minBitrate,omitempty"`
	MaxBitrate         int     `json:"maxBitrate,omitempty"`
	BitrateFPSOverride int     `json:"bitrateFPSOverride,omitempty"` // 0 = use the source's reported fps
}

// DefaultCameraOptions returns sensible camera encoder defaults.
func DefaultCameraOptions() CameraOptions {
	return CameraOptions{
		Preset:     "high",
		BppH264:    0.060,
		BppHEVC:    0.035,
		MinBitrate: 500_000,
		MaxBitrate: 12_000_000,
	}
}

// MicrophoneOptions configures MicGainChain processing for a Microphone
// stream. The muxed audio track of a Display/Window stream is not processed.
type MicrophoneOptions struct {
	EnableProcessing bool    `json:"enableProcessing,omitempty"`
	LinearGain       float64 `json:"linearGain,omitempty"` // [0,4]
	EnableAGC        bool    `json:"enableAGC,omitempty"`
	AGCTargetRMS     float64 `json:"agcTargetRMS,omitempty"` // (0,0.9]
	AGCMaxGainDb     float64 `json:"agcMaxGainDb,omitempty"`
	EnableLimiter    bool    `json:"enableLimiter,omitempty"`
	Channels         int     `json:"channels,omitempty"` // {1,2}
}

// DefaultMicrophoneOptions returns sensible microphone processing defaults.
func DefaultMicrophoneOptions() MicrophoneOptions {
	return MicrophoneOptions{
		LinearGain:   1.0,
		AGCTargetRMS: 0.2,
		AGCMaxGainDb: 24,
		Channels:     2,
	}
}

// Validate checks MicrophoneOptions invariants from the data model.
func (o MicrophoneOptions) Validate() error {
	if o.LinearGain < 0 || o.LinearGain > 4 {
		return fmt.Errorf("linearGain must be in [0,4], got %f", o.LinearGain)
	}
	if o.EnableAGC && (o.AGCTargetRMS <= 0 || o.AGCTargetRMS > 0.9) {
		return fmt.Errorf("agcTargetRMS must be in (0,0.9], got %f", o.AGCTargetRMS)
	}
	if o.Channels != 1 && o.Channels != 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", o.Channels)
	}
	return nil
}

// SchemeItem is one capture source entry in a Plan.
type SchemeItem struct {
	Kind     Kind   `json:"kind"`
	Filename string `json:"filename"` // unique within the plan, case-sensitive

	// Display / Window fields.
	DisplayID            string        `json:"displayId,omitempty"`
	WindowID             string        `json:"windowId,omitempty"`
	CropRect             Rect          `json:"cropRect,omitempty"`
	HDR                  bool          `json:"hdr,omitempty"`
	CaptureSystemAudio   bool          `json:"captureSystemAudio,omitempty"`
	ScreenOptions        ScreenOptions `json:"screenOptions,omitempty"`
	ExcludedWindowTitles []string      `json:"excludedWindowTitles,omitempty"`

	// Camera fields.
	CameraID      string        `json:"cameraId,omitempty"`
	CameraOptions CameraOptions `json:"cameraOptions,omitempty"`

	// Microphone fields.
	MicrophoneID      string            `json:"microphoneId,omitempty"`
	MicrophoneOptions MicrophoneOptions `json:"microphoneOptions,omitempty"`
}

// Plan is an ordered sequence of SchemeItems describing one recording session.
type Plan struct {
	Items []SchemeItem `json:"items"`
}

// Validate enforces the plan-level constraints from the data model:
// unique filenames, and at most one screen-family (display or window) scheme.
func (p Plan) Validate() error {
	if len(p.Items) == 0 {
		return fmt.Errorf("plan has no scheme items")
	}

	seenNames := make(map[string]struct{}, len(p.Items))
	screenSchemes := 0

	for i, it := range p.Items {
		if it.Filename == "" {
			return fmt.Errorf("item %d: filename is required", i)
		}
		if _, dup := seenNames[it.Filename]; dup {
			return fmt.Errorf("duplicate filename %q", it.Filename)
		}
		seenNames[it.Filename] = struct{}{}

		switch it.Kind {
		case KindDisplay, KindWindow:
			screenSchemes++
			if err := it.ScreenOptions.Validate(); err != nil {
				return fmt.Errorf("item %d (%s): %w", i, it.Kind, err)
			}
			if it.Kind == KindDisplay && it.DisplayID == "" {
				return fmt.Errorf("item %d: display scheme requires displayId", i)
			}
			if it.Kind == KindWindow {
				if it.WindowID == "" {
					return fmt.Errorf("item %d: window scheme requires windowId", i)
				}
				if len(it.ExcludedWindowTitles) > 0 {
					return fmt.Errorf("item %d: excludedWindowTitles is only valid on a display scheme, not window", i)
				}
			}
		case KindCamera:
			if it.CameraID == "" {
				return fmt.Errorf("item %d: camera scheme requires cameraId", i)
			}
		case KindMicrophone:
			if it.MicrophoneID == "" {
				return fmt.Errorf("item %d: microphone scheme requires microphoneId", i)
			}
			if err := it.MicrophoneOptions.Validate(); err != nil {
				return fmt.Errorf("item %d (microphone): %w", i, err)
			}
		default:
			return fmt.Errorf("item %d: unknown scheme kind %v", i, it.Kind)
		}
	}

	if screenSchemes > 1 {
		return fmt.Errorf("plan contains %d display/window schemes; mixing screens is not supported", screenSchemes)
	}

	return nil
}

// FileType maps a scheme Kind to the bundle manifest file type it produces.
func (k Kind) FileType() string {
	switch k {
	case KindDisplay, KindWindow:
		return "screen"
	case KindCamera:
		return "camera"
	case KindMicrophone:
		return "microphone"
	default:
		return "unknown"
	}
}
