package orchestrator

import (
	"context"
	"sync"
)

// firstFrameGate closes exactly once, the moment a pipeline accepts its
// first sample, letting Start() wait for "every pipeline is actually
// producing" before declaring the session started (spec.md §4.1: a
// pipeline that never receives a first frame within the start window is a
// StartTimeout failure).
type firstFrameGate struct {
	once sync.Once
	ch   chan struct{}
}

func newFirstFrameGate() *firstFrameGate {
	return &firstFrameGate{ch: make(chan struct{})}
}

func (g *firstFrameGate) signal() {
	g.once.Do(func() { close(g.ch) })
}

func (g *firstFrameGate) wait(ctx context.Context) error {
	select {
	case <-g.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
