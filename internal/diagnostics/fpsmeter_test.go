package diagnostics

import (
	"testing"
	"time"
)

func TestFPSMeterComputeRatesSinceLastSnapshot(t *testing.T) {
	d := New(4)
	m := NewFPSMeter(d, time.Second)
	start := time.Now()
	m.prevTaken = start

	for i := 0; i < 10; i++ {
		d.IncCaptured(VideoKind)
	}
	for i := 0; i < 8; i++ {
		d.IncAppended(VideoKind)
	}
	for i := 0; i < 2; i++ {
		d.IncDroppedNotReady(VideoKind)
	}

	snap := m.compute(start.Add(time.Second))
	if snap.CaptureFPS != 10 {
		t.Errorf("CaptureFPS = %v, want 10", snap.CaptureFPS)
	}
	if snap.AppendFPS != 8 {
		t.Errorf("AppendFPS = %v, want 8", snap.AppendFPS)
	}
	if snap.DropNotReadyFPS != 2 {
		t.Errorf("DropNotReadyFPS = %v, want 2", snap.DropNotReadyFPS)
	}
}

func TestFPSMeterSecondComputeIsIncremental(t *testing.T) {
	d := New(4)
	m := NewFPSMeter(d, time.Second)
	start := time.Now()
	m.prevTaken = start

	for i := 0; i < 5; i++ {
		d.IncCaptured(VideoKind)
	}
	_ = m.compute(start.Add(time.Second))

	for i := 0; i < 3; i++ {
		d.IncCaptured(VideoKind)
	}
	snap := m.compute(start.Add(2 * time.Second))
	if snap.CaptureFPS != 3 {
		t.Errorf("second CaptureFPS = %v, want 3 (delta since last snapshot)", snap.CaptureFPS)
	}
}

func TestNewFPSMeterClampsIntervalToMinimum(t *testing.T) {
	m := NewFPSMeter(New(1), 10*time.Millisecond)
	if m.interval != MinMeterInterval {
		t.Errorf("interval = %v, want clamped to %v", m.interval, MinMeterInterval)
	}
}

func TestSubscribeReceivesPublishedSnapshot(t *testing.T) {
	d := New(4)
	m := NewFPSMeter(d, time.Second)
	ch := m.Subscribe()

	m.publish(time.Now())

	select {
	case <-ch:
	default:
		t.Fatal("expected a snapshot to be buffered on the subscriber channel")
	}
}
