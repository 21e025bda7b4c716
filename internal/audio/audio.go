package audio

import (
	"fmt"
	"strings"
)

// Direction is the data flow direction of a device.
type Direction int

const (
	Input Direction = iota
	Output
)

func (d Direction) String() string {
	if d == Output {
		return "output"
	}
	return "input"
}

// Mode is the device sharing mode.
type Mode int

const (
	// Shared goes through the OS mixer.
	Shared Mode = iota
	// Exclusive locks the device for this process.
	Exclusive
)

func (m Mode) String() string {
	if m == Exclusive {
		return "exclusive"
	}
	return "shared"
}

// ParseMode parses "shared" or "exclusive" (case-insensitive).
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "shared":
		return Shared, nil
	case "exclusive":
		return Exclusive, nil
	}
	return Shared, fmt.Errorf("unknown mode %q", s)
}

// SampleType is the device side sample representation.
type SampleType int

const (
	Float32 SampleType = iota
	Int16
	Int32
)

func (t SampleType) String() string {
	switch t {
	case Int16:
		return "s16"
	case Int32:
		return "s32"
	}
	return "f32"
}

// BytesPerSample returns the size of one sample.
func (t SampleType) BytesPerSample() int {
	if t == Int16 {
		return 2
	}
	return 4
}

// DeviceDescriptor is an immutable snapshot of one enumerated device.
type DeviceDescriptor struct {
	ID        string
	Name      string
	Direction Direction
	Modes     []Mode
	// NativeRate is 0 when the device accepts any rate.
	NativeRate int
	Channels   int
	// SampleType is the native representation used in exclusive mode.
	SampleType SampleType
	// Period bounds in frames; 0 means unknown.
	MinPeriodFrames int
	MaxPeriodFrames int
	Default         bool
}

// Supports reports whether the device can be opened in mode.
func (d DeviceDescriptor) Supports(mode Mode) bool {
	for _, m := range d.Modes {
		if m == mode {
			return true
		}
	}
	return false
}

func (d DeviceDescriptor) String() string {
	if d.Name == "" {
		return d.ID
	}
	return fmt.Sprintf("%q (%s)", d.Name, d.ID)
}

// StreamFormat is the negotiated format of one stream.
type StreamFormat struct {
	SampleRate   int
	Channels     int
	SampleType   SampleType
	PeriodFrames int
}

// BlockLen is the number of interleaved samples in one period.
func (f StreamFormat) BlockLen() int {
	return f.PeriodFrames * f.Channels
}

func (f StreamFormat) String() string {
	return fmt.Sprintf("%d Hz, %d ch, %s, %d frames/period",
		f.SampleRate, f.Channels, f.SampleType, f.PeriodFrames)
}

// Fault is a runtime failure recorded by a stream on its callback path.
type Fault uint32

const (
	NoFault Fault = iota
	DeviceLost
	FormatViolation
)

func (f Fault) String() string {
	switch f {
	case DeviceLost:
		return "device lost"
	case FormatViolation:
		return "format violation"
	}
	return "none"
}

// CaptureHandler receives captured audio on the device callback.
// in holds interleaved float32 samples in [-1, 1]; it is only valid for the
// duration of the call.
type CaptureHandler interface {
	Capture(in []float32)
	Fault(f Fault)
}

// RenderHandler fills output audio on the device callback.
type RenderHandler interface {
	Render(out []float32)
	Fault(f Fault)
}

// Device is an opened capture or render device.
type Device interface {
	Start() error
	// Stop halts callbacks. Implementations wait for an in-flight callback
	// when the platform allows it.
	Stop() error
	Close() error
}

// Backend is a platform audio API.
type Backend interface {
	Name() string
	Enumerate(dir Direction) ([]DeviceDescriptor, error)
	OpenCapture(dev DeviceDescriptor, mode Mode, format StreamFormat, h CaptureHandler) (Device, error)
	OpenRender(dev DeviceDescriptor, mode Mode, format StreamFormat, h RenderHandler) (Device, error)
	Close() error
}
