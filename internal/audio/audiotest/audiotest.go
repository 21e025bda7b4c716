// Package audiotest provides an in-memory audio backend for tests. Its
// devices never run on their own: tests drive callbacks with Device.Push and
// Device.Pull.
package audiotest

import (
	"errors"
	"sync"

	"github.com/petems/externalcue/internal/audio"
)

// Backend is an audio.Backend whose devices are driven by the test.
type Backend struct {
	mu      sync.Mutex
	devices []audio.DeviceDescriptor
	opened  []*Device

	// EnumerateErr is returned by Enumerate when set.
	EnumerateErr error
	// OpenErr maps device ids to errors returned by Open*.
	OpenErr map[string]error
}

// NewBackend returns a backend exposing devs.
func NewBackend(devs ...audio.DeviceDescriptor) *Backend {
	return &Backend{devices: devs, OpenErr: make(map[string]error)}
}

// Input describes an input device supporting both modes.
func Input(id string, rate, channels int) audio.DeviceDescriptor {
	return audio.DeviceDescriptor{
		ID:         id,
		Name:       "Mock " + id,
		Direction:  audio.Input,
		Modes:      []audio.Mode{audio.Shared, audio.Exclusive},
		NativeRate: rate,
		Channels:   channels,
	}
}

// Output describes an output device supporting both modes.
func Output(id string, rate, channels int) audio.DeviceDescriptor {
	d := Input(id, rate, channels)
	d.Direction = audio.Output
	return d
}

func (b *Backend) Name() string { return "mock" }

// SetDevices replaces the device list, simulating hot-plug.
func (b *Backend) SetDevices(devs ...audio.DeviceDescriptor) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.devices = devs
}

func (b *Backend) Enumerate(dir audio.Direction) ([]audio.DeviceDescriptor, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.EnumerateErr != nil {
		return nil, b.EnumerateErr
	}
	var out []audio.DeviceDescriptor
	for _, d := range b.devices {
		if d.Direction == dir {
			out = append(out, d)
		}
	}
	return out, nil
}

func (b *Backend) OpenCapture(dev audio.DeviceDescriptor, mode audio.Mode, format audio.StreamFormat, h audio.CaptureHandler) (audio.Device, error) {
	return b.open(dev, mode, format, h, nil)
}

func (b *Backend) OpenRender(dev audio.DeviceDescriptor, mode audio.Mode, format audio.StreamFormat, h audio.RenderHandler) (audio.Device, error) {
	return b.open(dev, mode, format, nil, h)
}

func (b *Backend) open(dev audio.DeviceDescriptor, mode audio.Mode, format audio.StreamFormat, c audio.CaptureHandler, r audio.RenderHandler) (audio.Device, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.OpenErr[dev.ID]; err != nil {
		return nil, err
	}
	d := &Device{
		Descriptor: dev,
		Mode:       mode,
		Format:     format,
		capture:    c,
		render:     r,
	}
	b.opened = append(b.opened, d)
	return d, nil
}

// Opened returns every device opened so far, in open order.
func (b *Backend) Opened() []*Device {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Device(nil), b.opened...)
}

// Device returns the most recently opened device with id, or nil.
func (b *Backend) Device(id string) *Device {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.opened) - 1; i >= 0; i-- {
		if b.opened[i].Descriptor.ID == id {
			return b.opened[i]
		}
	}
	return nil
}

func (b *Backend) Close() error { return nil }

var errClosed = errors.New("audiotest: device closed")

// Device is a device opened on a Backend.
type Device struct {
	Descriptor audio.DeviceDescriptor
	Mode       audio.Mode
	Format     audio.StreamFormat

	// StartErr is returned by Start when set.
	StartErr error

	mu      sync.Mutex
	started bool
	closed  bool
	stops   int

	capture audio.CaptureHandler
	render  audio.RenderHandler
}

func (d *Device) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errClosed
	}
	if d.StartErr != nil {
		return d.StartErr
	}
	d.started = true
	return nil
}

func (d *Device) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = false
	d.stops++
	return nil
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = false
	d.closed = true
	return nil
}

// Running reports whether the device is started.
func (d *Device) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.started
}

// Closed reports whether Close was called.
func (d *Device) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Push delivers one capture callback. It is a no-op unless the device is a
// started capture device.
func (d *Device) Push(in []float32) {
	if d.capture == nil || !d.Running() {
		return
	}
	d.capture.Capture(in)
}

// Pull runs one render callback into out. It is a no-op unless the device is
// a started render device.
func (d *Device) Pull(out []float32) {
	if d.render == nil || !d.Running() {
		return
	}
	d.render.Render(out)
}

// Fail reports a runtime fault to the handler, as a platform would on
// device removal.
func (d *Device) Fail(f audio.Fault) {
	switch {
	case d.capture != nil:
		d.capture.Fault(f)
	case d.render != nil:
		d.render.Fault(f)
	}
}
