package diagnostics

import (
	"testing"
	"time"
)

func TestCountersAccumulatePerKind(t *testing.T) {
	d := New(8)

	d.IncCaptured(VideoKind)
	d.IncCaptured(VideoKind)
	d.IncAppended(VideoKind)
	d.IncDroppedNotReady(VideoKind)
	d.IncCaptured(AudioKind)
	d.IncAppended(AudioKind)

	video, audio, _ := d.snapshotCounters()
	if video.Captured != 2 {
		t.Errorf("video.Captured = %d, want 2", video.Captured)
	}
	if video.Appended != 1 {
		t.Errorf("video.Appended = %d, want 1", video.Appended)
	}
	if video.DroppedNotReady != 1 {
		t.Errorf("video.DroppedNotReady = %d, want 1", video.DroppedNotReady)
	}
	if audio.Captured != 1 || audio.Appended != 1 {
		t.Errorf("audio counters = %+v, want Captured=1 Appended=1", audio)
	}
}

func TestIncWriterFailedLogsEvent(t *testing.T) {
	d := New(4)
	d.IncWriterFailed(VideoKind)

	events := d.Events()
	if len(events) != 1 {
		t.Fatalf("len(Events()) = %d, want 1", len(events))
	}
	if events[0].Severity != "error" || events[0].Kind != VideoKind {
		t.Errorf("event = %+v, want severity=error kind=video", events[0])
	}
}

func TestEventLogWrapsAtCapacity(t *testing.T) {
	d := New(3)
	for i := 0; i < 5; i++ {
		d.LogEvent("info", "event")
	}

	events := d.Events()
	if len(events) != 3 {
		t.Fatalf("len(Events()) = %d, want 3 (capacity)", len(events))
	}
}

func TestRecordFrameWallTimeKeepsLatest(t *testing.T) {
	d := New(4)
	earlier := time.Now().Add(-time.Minute)
	later := time.Now()

	d.RecordFrameWallTime(later)
	d.RecordFrameWallTime(earlier)

	_, _, lastFrame := d.snapshotCounters()
	if !lastFrame.Equal(later) {
		t.Errorf("lastFrame = %v, want the later timestamp %v", lastFrame, later)
	}
}
