// Package mixer sums the input rings of a session into one output block per
// period.
//
// Step runs on the render callback: it never blocks, locks or allocates, and
// given the same queued blocks and channel states it produces bit-identical
// output.
package mixer

import (
	"fmt"
	"sync/atomic"

	"github.com/petems/externalcue/internal/audio"
	"github.com/petems/externalcue/internal/ringbuf"
)

// Input is one mixer source.
type Input struct {
	// Ring carries the input's period blocks. A nil ring is a missing input
	// and mixes as permanent silence.
	Ring     *ringbuf.Ring
	Channels int
	State    *ChannelState
}

type input struct {
	Input
	underruns atomic.Uint64
	skipped   atomic.Uint64
}

// Mixer mixes a fixed set of inputs into the output format.
type Mixer struct {
	out      audio.StreamFormat
	inputs   []*input
	lagLimit int
	overruns atomic.Uint64
}

// Option configures a Mixer.
type Option func(*Mixer)

// WithLagLimit sets how many blocks beyond the one being mixed may stay
// queued on an input. Older blocks are skipped so the mix follows the most
// recent capture. The default is 1.
func WithLagLimit(n int) Option {
	return func(m *Mixer) {
		if n >= 0 {
			m.lagLimit = n
		}
	}
}

// New validates inputs against out and returns a mixer.
func New(out audio.StreamFormat, inputs []Input, opts ...Option) (*Mixer, error) {
	if out.Channels <= 0 || out.PeriodFrames <= 0 {
		return nil, fmt.Errorf("mixer: invalid output format %s", out)
	}
	m := &Mixer{out: out, lagLimit: 1}
	for i, in := range inputs {
		if in.State == nil {
			in.State = NewChannelState()
		}
		if in.Ring != nil {
			if in.Channels <= 0 {
				return nil, fmt.Errorf("mixer: input %d has no channels", i)
			}
			if want := out.PeriodFrames * in.Channels; in.Ring.BlockLen() != want {
				return nil, fmt.Errorf("mixer: input %d block length %d, want %d",
					i, in.Ring.BlockLen(), want)
			}
		}
		m.inputs = append(m.inputs, &input{Input: in})
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// Format returns the output format.
func (m *Mixer) Format() audio.StreamFormat { return m.out }

// NumInputs returns the number of inputs, missing ones included.
func (m *Mixer) NumInputs() int { return len(m.inputs) }

// Channel returns the state of input i.
func (m *Mixer) Channel(i int) *ChannelState { return m.inputs[i].State }

// Underruns returns how many periods input i had no block ready.
func (m *Mixer) Underruns(i int) uint64 { return m.inputs[i].underruns.Load() }

// Skipped returns how many stale blocks of input i were dropped.
func (m *Mixer) Skipped(i int) uint64 { return m.inputs[i].skipped.Load() }

// Overruns returns how many mixed blocks were dropped by MixInto.
func (m *Mixer) Overruns() uint64 { return m.overruns.Load() }

// Step mixes one period into dst, which must hold out.BlockLen() samples.
//
// Each input contributes its most recent block scaled by its gain. A listen
// disabled input is still consumed so it stays current. Output channel c
// takes input channel c, or input channel 0 when the input has fewer
// channels. Sums saturate to [-1, 1].
func (m *Mixer) Step(dst []float32) {
	dst = dst[:m.out.BlockLen()]
	clear(dst)

	frames := m.out.PeriodFrames
	outCh := m.out.Channels

	for _, in := range m.inputs {
		if in.Ring == nil {
			in.State.observe(0)
			continue
		}
		src := in.Ring.Front()
		if src == nil {
			in.underruns.Add(1)
			in.State.observe(0)
			continue
		}
		for in.Ring.Len() > 1+m.lagLimit {
			in.Ring.Release()
			in.skipped.Add(1)
			src = in.Ring.Front()
		}

		in.State.observe(blockPeak(src))

		if g := in.State.Gain(); g != 0 && in.State.Listen() {
			ich := in.Channels
			for f := 0; f < frames; f++ {
				row := src[f*ich : (f+1)*ich]
				o := dst[f*outCh : (f+1)*outCh]
				for c := range o {
					sc := c
					if sc >= ich {
						sc = 0
					}
					o[c] += row[sc] * g
				}
			}
		}
		in.Ring.Release()
	}

	for i, v := range dst {
		dst[i] = audio.Clamp(v)
	}
}

// MixInto mixes one period directly into the next free slot of r. It
// returns false, counting an overrun, when r is full; the inputs are then
// left queued.
func (m *Mixer) MixInto(r *ringbuf.Ring) bool {
	slot := r.Reserve()
	if slot == nil {
		m.overruns.Add(1)
		return false
	}
	m.Step(slot)
	r.Commit()
	return true
}
