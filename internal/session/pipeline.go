package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/petems/externalcue/internal/audio"
	"github.com/petems/externalcue/internal/mixer"
	"github.com/petems/externalcue/internal/ringbuf"
	"github.com/petems/externalcue/internal/stream"
)

// handler is what the controller needs from a capture or render stream.
type handler interface {
	Stats() stream.Stats
	Detach()
	Quiesce(timeout time.Duration) bool
}

// pipeline is one running session: streams, mixer and the devices driving
// them. It is built once by Start and never reused.
type pipeline struct {
	neg     audio.Negotiated
	inputs  [2]*audio.DeviceDescriptor
	output  audio.DeviceDescriptor
	states  [2]*mixer.ChannelState
	capture [2]*stream.Capture
	mixer   *mixer.Mixer
	render  *stream.Render

	// devices and handlers are parallel, in construction order.
	devices  []audio.Device
	handlers []handler
}

func newPipeline(neg audio.Negotiated, inA, inB *audio.DeviceDescriptor, out audio.DeviceDescriptor, slots, lag int) (*pipeline, error) {
	p := &pipeline{
		neg:    neg,
		inputs: [2]*audio.DeviceDescriptor{inA, inB},
		output: out,
		states: [2]*mixer.ChannelState{mixer.NewChannelState(), mixer.NewChannelState()},
	}

	inputs := make([]mixer.Input, len(p.inputs))
	for i, d := range p.inputs {
		inputs[i].State = p.states[i]
		if d == nil {
			continue
		}
		f := neg.Inputs[i]
		ring := ringbuf.New(slots, f.BlockLen())
		p.capture[i] = stream.NewCapture(f, ring)
		inputs[i].Ring = ring
		inputs[i].Channels = f.Channels
	}

	m, err := mixer.New(neg.Output, inputs, mixer.WithLagLimit(lag))
	if err != nil {
		return nil, err
	}
	p.mixer = m

	outRing := ringbuf.New(slots, neg.Output.BlockLen())
	p.render = stream.NewRender(neg.Output, outRing, func() { m.MixInto(outRing) })
	return p, nil
}

// open opens every device, captures first. On error the devices opened so
// far are closed.
func (p *pipeline) open(b audio.Backend) error {
	for i, d := range p.inputs {
		if d == nil {
			continue
		}
		dev, err := b.OpenCapture(*d, p.neg.Mode, p.neg.Inputs[i], p.capture[i])
		if err != nil {
			p.teardown(0)
			return &audio.DeviceUnavailableError{ID: d.ID, Direction: audio.Input, Err: err}
		}
		p.devices = append(p.devices, dev)
		p.handlers = append(p.handlers, p.capture[i])
	}

	dev, err := b.OpenRender(p.output, p.neg.Mode, p.neg.Output, p.render)
	if err != nil {
		p.teardown(0)
		return &audio.DeviceUnavailableError{ID: p.output.ID, Direction: audio.Output, Err: err}
	}
	p.devices = append(p.devices, dev)
	p.handlers = append(p.handlers, p.render)
	return nil
}

// start starts captures before the render device so the first mixed period
// has a chance to find input.
func (p *pipeline) start() error {
	for i, dev := range p.devices {
		if err := dev.Start(); err != nil {
			return fmt.Errorf("starting %s: %w", p.deviceName(i), err)
		}
	}
	return nil
}

func (p *pipeline) deviceName(i int) string {
	n := 0
	for _, d := range p.inputs {
		if d == nil {
			continue
		}
		if n == i {
			return d.String()
		}
		n++
	}
	return p.output.String()
}

// teardown detaches every stream, stops the devices in reverse order, waits
// for in-flight callbacks and closes the devices. idle reports whether every
// stream went quiet within quiesce.
func (p *pipeline) teardown(quiesce time.Duration) (idle bool, err error) {
	for _, h := range p.handlers {
		h.Detach()
	}

	var errs []error
	for i := len(p.devices) - 1; i >= 0; i-- {
		if err := p.devices[i].Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stopping %s: %w", p.deviceName(i), err))
		}
	}

	idle = true
	for _, h := range p.handlers {
		if !h.Quiesce(quiesce) {
			idle = false
		}
	}

	for i := len(p.devices) - 1; i >= 0; i-- {
		if err := p.devices[i].Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", p.deviceName(i), err))
		}
	}
	p.devices = nil
	return idle, errors.Join(errs...)
}

// fault returns the first recorded stream fault and the device it came
// from.
func (p *pipeline) fault() (audio.Fault, string) {
	for i, h := range p.handlers {
		if f := h.Stats().Fault; f != audio.NoFault {
			return f, p.deviceName(i)
		}
	}
	return audio.NoFault, ""
}
