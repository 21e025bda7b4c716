//go:build cgo && !noaudio

package audio

import (
	"errors"
	"fmt"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"
)

// maxPortAudioChannels caps how many channels a stream opens on devices
// exposing large channel counts.
const maxPortAudioChannels = 2

type portAudioBackend struct {
	log zerolog.Logger
}

// newPortAudio creates a PortAudio-based backend. PortAudio exposes no
// exclusive mode through its portable API, so every device is shared only.
func newPortAudio(log zerolog.Logger) (Backend, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return &portAudioBackend{log: log}, nil
}

func (p *portAudioBackend) Name() string { return "portaudio" }

func paDeviceID(d *portaudio.DeviceInfo) string {
	if d.HostApi != nil {
		return d.HostApi.Name + ":" + d.Name
	}
	return d.Name
}

func (p *portAudioBackend) Enumerate(dir Direction) ([]DeviceDescriptor, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	var def *portaudio.DeviceInfo
	if dir == Input {
		def, _ = portaudio.DefaultInputDevice()
	} else {
		def, _ = portaudio.DefaultOutputDevice()
	}

	result := make([]DeviceDescriptor, 0, len(devices))
	for _, d := range devices {
		channels := d.MaxInputChannels
		if dir == Output {
			channels = d.MaxOutputChannels
		}
		if channels <= 0 {
			continue
		}
		result = append(result, DeviceDescriptor{
			ID:         paDeviceID(d),
			Name:       d.Name,
			Direction:  dir,
			Modes:      []Mode{Shared},
			NativeRate: int(d.DefaultSampleRate),
			Channels:   min(channels, maxPortAudioChannels),
			Default:    d == def,
		})
	}
	return result, nil
}

func (p *portAudioBackend) find(id string) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	for _, d := range devices {
		if paDeviceID(d) == id {
			return d, nil
		}
	}
	return nil, fmt.Errorf("device not found: %s", id)
}

var errPortAudioExclusive = errors.New("portaudio: exclusive mode is not available")

func (p *portAudioBackend) OpenCapture(dev DeviceDescriptor, mode Mode, format StreamFormat, h CaptureHandler) (Device, error) {
	if mode != Shared {
		return nil, errPortAudioExclusive
	}
	info, err := p.find(dev.ID)
	if err != nil {
		return nil, err
	}
	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   info,
			Channels: format.Channels,
			Latency:  info.DefaultLowInputLatency,
		},
		SampleRate:      float64(format.SampleRate),
		FramesPerBuffer: format.PeriodFrames,
	}, func(in []float32) {
		h.Capture(in)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open audio stream: %w", err)
	}
	return &paDevice{stream: stream}, nil
}

func (p *portAudioBackend) OpenRender(dev DeviceDescriptor, mode Mode, format StreamFormat, h RenderHandler) (Device, error) {
	if mode != Shared {
		return nil, errPortAudioExclusive
	}
	info, err := p.find(dev.ID)
	if err != nil {
		return nil, err
	}
	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   info,
			Channels: format.Channels,
			Latency:  info.DefaultLowOutputLatency,
		},
		SampleRate:      float64(format.SampleRate),
		FramesPerBuffer: format.PeriodFrames,
	}, func(out []float32) {
		h.Render(out)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open audio stream: %w", err)
	}
	return &paDevice{stream: stream}, nil
}

func (p *portAudioBackend) Close() error {
	return portaudio.Terminate()
}

type paDevice struct {
	stream *portaudio.Stream
}

func (d *paDevice) Start() error {
	if err := d.stream.Start(); err != nil {
		return fmt.Errorf("failed to start audio stream: %w", err)
	}
	return nil
}

// Stop waits for the pending callback, as Pa_StopStream does.
func (d *paDevice) Stop() error {
	return d.stream.Stop()
}

func (d *paDevice) Close() error {
	return d.stream.Close()
}
