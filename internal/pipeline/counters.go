package pipeline

import "time"

// Counters is the subset of the diagnostics singleton a WriterPipeline
// reports into. It is defined here, from the consumer side, so that
// internal/diagnostics can depend on internal/pipeline's types without a
// reverse import; internal/diagnostics.Diagnostics implements this
// interface. Diagnostics is never on the append critical path for
// correctness (spec §4.3): every method here is a lock-protected integer
// increment, nothing more.
type Counters interface {
	IncCaptured(kind string)
	IncAppended(kind string)
	IncDroppedNotReady(kind string)
	IncWriterFailed(kind string)
	SetLastReadyForMore(kind string, ready bool)
	SetLastWriterStatus(kind string, status string)
	RecordFrameWallTime(t time.Time)
}

// noopCounters discards everything; used when a pipeline is constructed
// without a diagnostics sink (e.g. in unit tests that don't care about
// metrics).
type noopCounters struct{}

func (noopCounters) IncCaptured(string)                  {}
func (noopCounters) IncAppended(string)                   {}
func (noopCounters) IncDroppedNotReady(string)            {}
func (noopCounters) IncWriterFailed(string)               {}
func (noopCounters) SetLastReadyForMore(string, bool)     {}
func (noopCounters) SetLastWriterStatus(string, string)   {}
func (noopCounters) RecordFrameWallTime(time.Time)        {}
