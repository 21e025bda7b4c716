package mixer

import (
	"math"
	"sync/atomic"
)

// ActivityThreshold is the block peak (about -60 dBFS) above which an input
// counts as active.
const ActivityThreshold = 0.001

// ChannelState is the per-input control and status shared between the
// control goroutine and the real-time mixer. Every field is a single atomic
// word with one writer: gain and listen are written by the controller,
// active and peak by the mixer.
type ChannelState struct {
	gain   atomic.Uint32
	listen atomic.Bool
	active atomic.Bool
	peak   atomic.Uint32
}

// NewChannelState returns a state at unity gain with listening enabled.
func NewChannelState() *ChannelState {
	c := &ChannelState{}
	c.SetGain(1)
	c.SetListen(true)
	return c
}

func (c *ChannelState) Gain() float32 {
	return math.Float32frombits(c.gain.Load())
}

// SetGain stores g, clamped to [0, 1].
func (c *ChannelState) SetGain(g float32) {
	switch {
	case g != g || g < 0:
		g = 0
	case g > 1:
		g = 1
	}
	c.gain.Store(math.Float32bits(g))
}

func (c *ChannelState) Listen() bool { return c.listen.Load() }

func (c *ChannelState) SetListen(on bool) { c.listen.Store(on) }

// Active reports whether the last mixed block of this input carried signal.
func (c *ChannelState) Active() bool { return c.active.Load() }

// Peak is the absolute peak of the last mixed block of this input.
func (c *ChannelState) Peak() float32 {
	return math.Float32frombits(c.peak.Load())
}

func (c *ChannelState) observe(peak float32) {
	c.peak.Store(math.Float32bits(peak))
	c.active.Store(peak > ActivityThreshold)
}

func blockPeak(b []float32) float32 {
	var p float32
	for _, v := range b {
		if v < 0 {
			v = -v
		}
		if v > p {
			p = v
		}
	}
	return p
}
