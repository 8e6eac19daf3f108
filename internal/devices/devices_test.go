package devices

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/avreclab/recorder-engine/internal/plan"
	"github.com/avreclab/recorder-engine/internal/recerr"
)

// fakeAsoundTree builds a minimal /proc/asound-shaped directory with one
// USB card, mirroring the fixture shape internal/audio/detector.go expects.
func fakeAsoundTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cardDir := filepath.Join(dir, "card0")
	if err := os.MkdirAll(cardDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cardDir, "usbid"), []byte("0d8c:0014\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cardDir, "id"), []byte("YetiStereoMicrophone\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestResolveMicrophoneFindsDetectedDevice(t *testing.T) {
	AsoundPath = fakeAsoundTree(t)
	defer func() { AsoundPath = "/proc/asound" }()

	factory := NewSourceFactory()
	src, err := factory(plan.SchemeItem{
		Kind:         plan.KindMicrophone,
		Filename:     "mic.m4a",
		MicrophoneID: "YetiStereoMicrophone",
	})
	if err != nil {
		t.Fatalf("factory() error = %v", err)
	}
	if src.Kind() != plan.KindMicrophone {
		t.Errorf("Kind() = %v, want KindMicrophone", src.Kind())
	}
}

func TestResolveMicrophoneUnknownIDIsSourceUnavailable(t *testing.T) {
	AsoundPath = fakeAsoundTree(t)
	defer func() { AsoundPath = "/proc/asound" }()

	factory := NewSourceFactory()
	_, err := factory(plan.SchemeItem{
		Kind:         plan.KindMicrophone,
		Filename:     "mic.m4a",
		MicrophoneID: "nonexistent-mic",
	})
	if !recerr.Is(err, recerr.SourceUnavailable) {
		t.Fatalf("error = %v, want SourceUnavailable", err)
	}
}

func TestResolveMicrophoneEmptyIDIsPlanInvalid(t *testing.T) {
	factory := NewSourceFactory()
	_, err := factory(plan.SchemeItem{Kind: plan.KindMicrophone, Filename: "mic.m4a"})
	if !recerr.Is(err, recerr.PlanInvalid) {
		t.Fatalf("error = %v, want PlanInvalid", err)
	}
}

func TestResolveDisplayRequiresDisplayID(t *testing.T) {
	factory := NewSourceFactory()
	_, err := factory(plan.SchemeItem{Kind: plan.KindDisplay, Filename: "screen.mov"})
	if !recerr.Is(err, recerr.PlanInvalid) {
		t.Fatalf("error = %v, want PlanInvalid", err)
	}
}

func TestResolveDisplaySucceedsWithValidID(t *testing.T) {
	factory := NewSourceFactory()
	src, err := factory(plan.SchemeItem{
		Kind:          plan.KindDisplay,
		Filename:      "screen.mov",
		DisplayID:     "display-0",
		ScreenOptions: plan.DefaultScreenOptions(),
	})
	if err != nil {
		t.Fatalf("factory() error = %v", err)
	}
	if src.Kind() != plan.KindDisplay {
		t.Errorf("Kind() = %v, want KindDisplay", src.Kind())
	}
}

func TestResolveCameraRequiresCameraID(t *testing.T) {
	factory := NewSourceFactory()
	_, err := factory(plan.SchemeItem{Kind: plan.KindCamera, Filename: "cam.mov"})
	if !recerr.Is(err, recerr.PlanInvalid) {
		t.Fatalf("error = %v, want PlanInvalid", err)
	}
}

func TestResolveCameraRejectsMissingVideoDevice(t *testing.T) {
	factory := NewSourceFactory()
	_, err := factory(plan.SchemeItem{
		Kind:          plan.KindCamera,
		Filename:      "cam.mov",
		CameraID:      "/dev/video99",
		CameraOptions: plan.DefaultCameraOptions(),
	})
	if !recerr.Is(err, recerr.SourceUnavailable) {
		t.Fatalf("error = %v, want SourceUnavailable", err)
	}
}

func TestResolveCameraAcceptsOpaqueID(t *testing.T) {
	factory := NewSourceFactory()
	src, err := factory(plan.SchemeItem{
		Kind:          plan.KindCamera,
		Filename:      "cam.mov",
		CameraID:      "builtin-facetime-hd",
		CameraOptions: plan.DefaultCameraOptions(),
	})
	if err != nil {
		t.Fatalf("factory() error = %v", err)
	}
	if src.Kind() != plan.KindCamera {
		t.Errorf("Kind() = %v, want KindCamera", src.Kind())
	}
}
