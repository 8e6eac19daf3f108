package diagnostics

import (
	"context"
	"sync"
	"time"
)

// DefaultMeterInterval is the FPSMeter's default publish interval
// (spec.md §4.3: "≥0.5 s, default 1 s").
const DefaultMeterInterval = time.Second

// MinMeterInterval is the smallest interval FPSMeter accepts.
const MinMeterInterval = 500 * time.Millisecond

// FPSMeter polls a Diagnostics singleton on a wall-clock ticker and
// publishes rate snapshots to subscribers. It never touches the hot path:
// each tick takes one lock acquisition inside Diagnostics.snapshotCounters
// and does its own arithmetic outside any lock.
type FPSMeter struct {
	diag     *Diagnostics
	interval time.Duration

	subMu sync.Mutex
	subs  []chan Snapshot

	prevVideo KindCounters
	prevTaken time.Time
}

// NewFPSMeter returns a meter over diag publishing at interval (clamped to
// MinMeterInterval, defaulting to DefaultMeterInterval when <= 0).
func NewFPSMeter(diag *Diagnostics, interval time.Duration) *FPSMeter {
	if interval <= 0 {
		interval = DefaultMeterInterval
	}
	if interval < MinMeterInterval {
		interval = MinMeterInterval
	}
	return &FPSMeter{diag: diag, interval: interval}
}

// Subscribe returns a channel receiving every future snapshot. The channel
// is buffered; a slow subscriber drops snapshots rather than blocking Run.
func (m *FPSMeter) Subscribe() <-chan Snapshot {
	ch := make(chan Snapshot, 4)
	m.subMu.Lock()
	m.subs = append(m.subs, ch)
	m.subMu.Unlock()
	return ch
}

// Run publishes a snapshot every interval until ctx is cancelled.
func (m *FPSMeter) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.prevTaken = time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.publish(now)
		}
	}
}

// Snapshot computes and returns the current snapshot without publishing it,
// useful for a one-shot query (e.g. a /healthz handler).
func (m *FPSMeter) Snapshot() Snapshot {
	return m.compute(time.Now())
}

func (m *FPSMeter) publish(now time.Time) {
	snap := m.compute(now)

	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

func (m *FPSMeter) compute(now time.Time) Snapshot {
	video, audio, lastFrame := m.diag.snapshotCounters()

	elapsed := now.Sub(m.prevTaken).Seconds()
	var captureFPS, appendFPS, dropFPS float64
	if elapsed > 0 {
		captureFPS = rateSince(m.prevVideo.Captured, video.Captured, elapsed)
		appendFPS = rateSince(m.prevVideo.Appended, video.Appended, elapsed)
		dropFPS = rateSince(m.prevVideo.DroppedNotReady, video.DroppedNotReady, elapsed)
	}

	m.prevVideo = video
	m.prevTaken = now

	return Snapshot{
		Taken:           now,
		Video:           video,
		Audio:           audio,
		CaptureFPS:      captureFPS,
		AppendFPS:       appendFPS,
		DropNotReadyFPS: dropFPS,
		LastFrameWall:   lastFrame,
	}
}

// rateSince computes (cur-prev)/elapsed, treating a counter that went
// backwards (a Diagnostics reset between ticks) as zero rather than
// producing a negative FPS.
func rateSince(prev, cur int64, elapsedSeconds float64) float64 {
	if cur < prev {
		return 0
	}
	return float64(cur-prev) / elapsedSeconds
}
