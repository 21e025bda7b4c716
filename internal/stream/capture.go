package stream

import (
	"github.com/petems/externalcue/internal/audio"
	"github.com/petems/externalcue/internal/ringbuf"
)

// Capture feeds one input device into its ring. Callbacks of any length are
// accumulated into whole periods; a period that finds the ring full is
// dropped and counted as an overrun.
type Capture struct {
	counters

	ring     *ringbuf.Ring
	channels int

	slot  []float32
	fill  int
	spill []float32
	// dropping is set while the current period goes to spill.
	dropping bool
}

var _ audio.CaptureHandler = (*Capture)(nil)

// NewCapture returns a capture stream producing format periods into ring.
// ring.BlockLen() must equal format.BlockLen().
func NewCapture(format audio.StreamFormat, ring *ringbuf.Ring) *Capture {
	ch := format.Channels
	if ch <= 0 {
		ch = 1
	}
	return &Capture{
		ring:     ring,
		channels: ch,
		spill:    make([]float32, ring.BlockLen()),
	}
}

// Capture implements audio.CaptureHandler.
func (c *Capture) Capture(in []float32) {
	if !c.enter() {
		return
	}
	defer c.exit()

	c.callbacks.Add(1)
	if len(in)%c.channels != 0 {
		c.Fault(audio.FormatViolation)
		return
	}

	for len(in) > 0 {
		if c.slot == nil {
			c.slot = c.ring.Reserve()
			c.dropping = c.slot == nil
			if c.dropping {
				c.slot = c.spill
			}
		}
		n := copy(c.slot[c.fill:], in)
		c.fill += n
		in = in[n:]

		if c.fill == len(c.slot) {
			if c.dropping {
				c.overruns.Add(1)
			} else {
				c.ring.Commit()
				c.periods.Add(1)
			}
			c.slot = nil
			c.fill = 0
		}
	}
}
