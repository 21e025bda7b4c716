// Package stream adapts device callbacks to ring buffers.
//
// A Capture moves input callbacks into its ring one period at a time, a
// Render answers output callbacks from its ring. Both run on the platform's
// real-time callback threads and only touch atomics and preallocated
// buffers there.
package stream

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/petems/externalcue/internal/audio"
)

// Stats is a snapshot of a stream's counters.
type Stats struct {
	Callbacks uint64
	Periods   uint64
	Overruns  uint64
	Underruns uint64
	Fault     audio.Fault
}

// counters is shared by both stream kinds. The callback path writes it, any
// goroutine may read it.
type counters struct {
	callbacks atomic.Uint64
	periods   atomic.Uint64
	overruns  atomic.Uint64
	underruns atomic.Uint64
	fault     atomic.Uint32

	inflight atomic.Int32
	closing  atomic.Bool
}

// enter marks a callback in flight. It returns false once the stream is
// closing; the caller must then not touch its buffers.
func (c *counters) enter() bool {
	c.inflight.Add(1)
	if c.closing.Load() {
		c.inflight.Add(-1)
		return false
	}
	return true
}

func (c *counters) exit() { c.inflight.Add(-1) }

// Fault records f unless an earlier fault is already recorded.
func (c *counters) Fault(f audio.Fault) {
	if f == audio.NoFault {
		return
	}
	c.fault.CompareAndSwap(uint32(audio.NoFault), uint32(f))
}

// Stats reads the counters without blocking.
func (c *counters) Stats() Stats {
	return Stats{
		Callbacks: c.callbacks.Load(),
		Periods:   c.periods.Load(),
		Overruns:  c.overruns.Load(),
		Underruns: c.underruns.Load(),
		Fault:     audio.Fault(c.fault.Load()),
	}
}

// Callbacks returns the number of callbacks seen so far.
func (c *counters) Callbacks() uint64 { return c.callbacks.Load() }

// Detach makes later callbacks return immediately, rendering silence.
func (c *counters) Detach() { c.closing.Store(true) }

// Quiesce detaches the stream and waits up to timeout for the callback in
// flight to return. It reports whether the stream went idle in time.
func (c *counters) Quiesce(timeout time.Duration) bool {
	c.Detach()
	deadline := time.Now().Add(timeout)
	for c.inflight.Load() != 0 {
		if time.Now().After(deadline) {
			return false
		}
		runtime.Gosched()
	}
	return true
}
