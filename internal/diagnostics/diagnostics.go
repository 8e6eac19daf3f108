// Package diagnostics implements the process-wide metering singleton
// described in spec.md §4.3: lock-protected counters per media kind, a
// bounded ring-buffered event/error log, and an FPSMeter publishing
// derived rates to subscribers. Nothing here sits on the append hot
// path beyond a single mutex'd integer increment; publication and rate
// computation happen on the FPSMeter's own timer goroutine.
package diagnostics

import (
	"sync"
	"time"
)

const (
	// VideoKind and AudioKind label per-kind counters and events.
	VideoKind = "video"
	AudioKind = "audio"

	defaultEventLogCapacity = 256
)

// KindCounters is a snapshot of one media kind's counters at a point in time.
type KindCounters struct {
	Captured         int64
	Appended         int64
	DroppedNotReady  int64
	WriterFailed     int64
	LastReadyForMore bool
	LastWriterStatus string
	QueueDepth       int
}

// Snapshot is published by the FPSMeter at its configured interval.
type Snapshot struct {
	Taken           time.Time
	Video           KindCounters
	Audio           KindCounters
	CaptureFPS      float64 // video frames captured per second since the last snapshot
	AppendFPS       float64 // video frames appended per second since the last snapshot
	DropNotReadyFPS float64 // video frames dropped-not-ready per second since the last snapshot
	LastFrameWall   time.Time
}

// Event is one entry in the bounded event/error log.
type Event struct {
	At       time.Time
	Kind     string // "video", "audio", "" for session-wide
	Severity string // "info", "error"
	Message  string
}

type kindState struct {
	captured         int64
	appended         int64
	droppedNotReady  int64
	writerFailed     int64
	lastReadyForMore bool
	lastWriterStatus string
	queueDepth       int
}

// Diagnostics is the process-wide counters/events singleton. The zero value
// is not usable; construct with New. A *Diagnostics implements
// pipeline.Counters, so it can be passed directly as pipeline.Config.Counters.
type Diagnostics struct {
	mu          sync.Mutex
	video       kindState
	audio       kindState
	lastFrame   time.Time
	events      []Event
	eventsNext  int
	eventsCount int
}

// New returns a Diagnostics singleton with an empty counter set and a
// bounded event log of the given capacity (defaultEventLogCapacity if <= 0).
func New(eventLogCapacity int) *Diagnostics {
	if eventLogCapacity <= 0 {
		eventLogCapacity = defaultEventLogCapacity
	}
	return &Diagnostics{events: make([]Event, eventLogCapacity)}
}

func (d *Diagnostics) stateFor(kind string) *kindState {
	if kind == AudioKind {
		return &d.audio
	}
	return &d.video
}

// IncCaptured records a frame received from a capture source, before any
// back-pressure or writer decision is applied.
func (d *Diagnostics) IncCaptured(kind string) {
	d.mu.Lock()
	d.stateFor(kind).captured++
	d.mu.Unlock()
}

// IncAppended records a frame successfully queued to the writer.
func (d *Diagnostics) IncAppended(kind string) {
	d.mu.Lock()
	d.stateFor(kind).appended++
	d.mu.Unlock()
}

// IncDroppedNotReady records a frame dropped because the writer input
// reported ReadyForMore() == false.
func (d *Diagnostics) IncDroppedNotReady(kind string) {
	d.mu.Lock()
	d.stateFor(kind).droppedNotReady++
	d.mu.Unlock()
}

// IncWriterFailed records a frame append that failed terminally.
func (d *Diagnostics) IncWriterFailed(kind string) {
	d.mu.Lock()
	d.stateFor(kind).writerFailed++
	d.mu.Unlock()
	d.logEvent(kind, "error", "writer append failed")
}

// SetLastReadyForMore records the most recent ReadyForMore() observation.
func (d *Diagnostics) SetLastReadyForMore(kind string, ready bool) {
	d.mu.Lock()
	d.stateFor(kind).lastReadyForMore = ready
	d.mu.Unlock()
}

// SetLastWriterStatus records the writer's most recently observed status.
func (d *Diagnostics) SetLastWriterStatus(kind string, status string) {
	d.mu.Lock()
	d.stateFor(kind).lastWriterStatus = status
	d.mu.Unlock()
}

// SetQueueDepth records the current depth of a kind's bounded frame queue.
func (d *Diagnostics) SetQueueDepth(kind string, depth int) {
	d.mu.Lock()
	d.stateFor(kind).queueDepth = depth
	d.mu.Unlock()
}

// RecordFrameWallTime records the wall-clock time a frame was last observed.
func (d *Diagnostics) RecordFrameWallTime(t time.Time) {
	d.mu.Lock()
	if t.After(d.lastFrame) {
		d.lastFrame = t
	}
	d.mu.Unlock()
}

// LogEvent appends a session-wide (kind-less) event to the ring buffer.
func (d *Diagnostics) LogEvent(severity, message string) {
	d.logEvent("", severity, message)
}

func (d *Diagnostics) logEvent(kind, severity, message string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events[d.eventsNext] = Event{At: time.Now(), Kind: kind, Severity: severity, Message: message}
	d.eventsNext = (d.eventsNext + 1) % len(d.events)
	if d.eventsCount < len(d.events) {
		d.eventsCount++
	}
}

// Events returns the event log in chronological order, oldest first.
func (d *Diagnostics) Events() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]Event, d.eventsCount)
	if d.eventsCount == 0 {
		return out
	}
	start := d.eventsNext - d.eventsCount
	if start < 0 {
		start += len(d.events)
	}
	for i := 0; i < d.eventsCount; i++ {
		out[i] = d.events[(start+i)%len(d.events)]
	}
	return out
}

// snapshotCounters returns a consistent copy of both kinds' counters and the
// last frame wall time under a single lock acquisition.
func (d *Diagnostics) snapshotCounters() (video, audio KindCounters, lastFrame time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return toKindCounters(d.video), toKindCounters(d.audio), d.lastFrame
}

func toKindCounters(s kindState) KindCounters {
	return KindCounters{
		Captured:         s.captured,
		Appended:         s.appended,
		DroppedNotReady:  s.droppedNotReady,
		WriterFailed:     s.writerFailed,
		LastReadyForMore: s.lastReadyForMore,
		LastWriterStatus: s.lastWriterStatus,
		QueueDepth:       s.queueDepth,
	}
}
