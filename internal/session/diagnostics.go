package session

import (
	"github.com/petems/externalcue/internal/audio"
)

// ChannelSnapshot is the state of one input.
type ChannelSnapshot struct {
	Channel Channel
	// Device is empty when the input is not selected.
	Device string
	Gain   float32
	Listen bool
	Active bool
	Peak   float32
}

// Diagnostics is a point-in-time view of the controller. Counters belong to
// the current session, or to the last one when stopped.
type Diagnostics struct {
	State  State
	Reason string

	Mode           audio.Mode
	Format         audio.StreamFormat
	PeriodAdjusted bool
	Output         string

	// Overruns counts periods each capture stream dropped on a full ring.
	Overruns [2]uint64
	// InputUnderruns counts periods mixed without a block from each input.
	InputUnderruns [2]uint64
	// Skipped counts stale input blocks dropped to stay current.
	Skipped [2]uint64
	// MixOverruns counts mixed periods dropped on a full output ring.
	MixOverruns uint64
	// Underruns counts render periods answered with silence.
	Underruns uint64
	// Callbacks counts render callbacks.
	Callbacks uint64
	Fault     audio.Fault

	Channels [2]ChannelSnapshot
}

// PollDiagnostics reads the controller state and counters. It only loads
// atomics, so it is safe from any goroutine at any rate.
func (c *Controller) PollDiagnostics() Diagnostics {
	st := c.Status()
	d := Diagnostics{State: st.State, Reason: st.Reason}
	for i := range d.Channels {
		d.Channels[i].Channel = Channel(i)
	}

	p := c.cur.Load()
	if p == nil {
		return d
	}

	d.Mode = p.neg.Mode
	d.Format = p.neg.Output
	d.PeriodAdjusted = p.neg.PeriodAdjusted
	d.Output = p.output.String()
	d.MixOverruns = p.mixer.Overruns()

	rs := p.render.Stats()
	d.Underruns = rs.Underruns
	d.Callbacks = rs.Callbacks
	d.Fault = rs.Fault

	for i := range p.inputs {
		if cs := p.capture[i]; cs != nil {
			s := cs.Stats()
			d.Overruns[i] = s.Overruns
			if d.Fault == audio.NoFault {
				d.Fault = s.Fault
			}
			d.Channels[i].Device = p.inputs[i].String()
		}
		d.InputUnderruns[i] = p.mixer.Underruns(i)
		d.Skipped[i] = p.mixer.Skipped(i)

		s := p.states[i]
		d.Channels[i].Gain = s.Gain()
		d.Channels[i].Listen = s.Listen()
		d.Channels[i].Active = s.Active()
		d.Channels[i].Peak = s.Peak()
	}
	return d
}
