package stream

import (
	"github.com/petems/externalcue/internal/audio"
	"github.com/petems/externalcue/internal/ringbuf"
)

// Render answers output device callbacks from its ring.
type Render struct {
	counters

	ring     *ringbuf.Ring
	channels int
	pull     func()

	cur []float32
	pos int
}

var _ audio.RenderHandler = (*Render)(nil)

// NewRender returns a render stream reading format periods from ring. pull,
// when set, is called on the callback whenever the ring is empty and a new
// period is needed; it is expected to produce at most one block into ring.
func NewRender(format audio.StreamFormat, ring *ringbuf.Ring, pull func()) *Render {
	ch := format.Channels
	if ch <= 0 {
		ch = 1
	}
	return &Render{ring: ring, channels: ch, pull: pull}
}

// Render implements audio.RenderHandler. It always writes len(out) samples.
func (r *Render) Render(out []float32) {
	if !r.enter() {
		clear(out)
		return
	}
	defer r.exit()

	r.callbacks.Add(1)
	if len(out)%r.channels != 0 {
		r.Fault(audio.FormatViolation)
		clear(out)
		return
	}

	for len(out) > 0 {
		if r.cur == nil {
			if r.pull != nil && r.ring.Len() == 0 {
				r.pull()
			}
			r.cur = r.ring.Front()
			if r.cur == nil {
				r.underruns.Add(1)
				clear(out)
				return
			}
			r.pos = 0
		}
		n := copy(out, r.cur[r.pos:])
		out = out[n:]
		r.pos += n
		if r.pos == len(r.cur) {
			r.ring.Release()
			r.cur = nil
			r.periods.Add(1)
		}
	}
}
