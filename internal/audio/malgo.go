//go:build cgo && !noaudio

package audio

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sync/atomic"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"
)

// malgoBackend drives devices through miniaudio. It is the only backend
// that can open devices in exclusive mode (WASAPI exclusive on Windows).
type malgoBackend struct {
	ctx *malgo.AllocatedContext
	log zerolog.Logger
}

func newMalgo(log zerolog.Logger) (Backend, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize miniaudio: %w", err)
	}
	return &malgoBackend{ctx: ctx, log: log}, nil
}

func (m *malgoBackend) Name() string { return "malgo" }

func encodeMalgoID(id malgo.DeviceID) string {
	return hex.EncodeToString(bytes.TrimRight(id[:], "\x00"))
}

func decodeMalgoID(s string) (malgo.DeviceID, error) {
	var id malgo.DeviceID
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("malformed device id %q: %w", s, err)
	}
	if len(raw) > len(id) {
		return id, fmt.Errorf("device id %q too long", s)
	}
	copy(id[:], raw)
	return id, nil
}

func malgoDeviceType(dir Direction) malgo.DeviceType {
	if dir == Output {
		return malgo.Playback
	}
	return malgo.Capture
}

func sampleTypeFromMalgo(f malgo.FormatType) SampleType {
	switch f {
	case malgo.FormatS16:
		return Int16
	case malgo.FormatS24, malgo.FormatS32:
		return Int32
	}
	return Float32
}

func malgoFormat(t SampleType) malgo.FormatType {
	switch t {
	case Int16:
		return malgo.FormatS16
	case Int32:
		return malgo.FormatS32
	}
	return malgo.FormatF32
}

func malgoShareMode(mode Mode) malgo.ShareMode {
	if mode == Exclusive {
		return malgo.Exclusive
	}
	return malgo.Shared
}

func (m *malgoBackend) Enumerate(dir Direction) ([]DeviceDescriptor, error) {
	typ := malgoDeviceType(dir)
	devices, err := m.ctx.Devices(typ)
	if err != nil {
		return nil, err
	}

	res := make([]DeviceDescriptor, 0, len(devices))
	seen := make(map[string]struct{}, len(devices))
	for _, dev := range devices {
		full, err := m.ctx.DeviceInfo(typ, dev.ID, malgo.Shared)
		if err != nil {
			m.log.Warn().Err(err).Str("device", dev.Name()).Msg("Unable to get audio device info")
			continue
		}

		id := encodeMalgoID(full.ID)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		desc := DeviceDescriptor{
			ID:        id,
			Name:      full.Name(),
			Direction: dir,
			Modes:     []Mode{Shared},
			Default:   full.IsDefault == 1,
		}
		for i := 0; i < int(full.FormatCount) && i < len(full.Formats); i++ {
			f := full.Formats[i]
			if desc.NativeRate == 0 && f.SampleRate > 0 {
				desc.NativeRate = int(f.SampleRate)
			}
			if desc.Channels == 0 && f.Channels > 0 {
				desc.Channels = int(f.Channels)
			}
		}

		excl, err := m.ctx.DeviceInfo(typ, dev.ID, malgo.Exclusive)
		if err == nil && excl.FormatCount > 0 {
			desc.Modes = append(desc.Modes, Exclusive)
			desc.SampleType = sampleTypeFromMalgo(excl.Formats[0].Format)
		}

		res = append(res, desc)
	}
	return res, nil
}

func (m *malgoBackend) OpenCapture(dev DeviceDescriptor, mode Mode, format StreamFormat, h CaptureHandler) (Device, error) {
	d, err := m.newDevice(dev, format, h, nil)
	if err != nil {
		return nil, err
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	d.configure(&cfg, format)
	cfg.Capture.DeviceID = d.id.Pointer()
	cfg.Capture.Format = malgoFormat(format.SampleType)
	cfg.Capture.Channels = uint32(format.Channels)
	cfg.Capture.ShareMode = malgoShareMode(mode)

	md, err := malgo.InitDevice(m.ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: d.onCapture,
		Stop: d.onStop,
	})
	if err != nil {
		return nil, err
	}
	d.dev = md
	return d, nil
}

func (m *malgoBackend) OpenRender(dev DeviceDescriptor, mode Mode, format StreamFormat, h RenderHandler) (Device, error) {
	d, err := m.newDevice(dev, format, nil, h)
	if err != nil {
		return nil, err
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	d.configure(&cfg, format)
	cfg.Playback.DeviceID = d.id.Pointer()
	cfg.Playback.Format = malgoFormat(format.SampleType)
	cfg.Playback.Channels = uint32(format.Channels)
	cfg.Playback.ShareMode = malgoShareMode(mode)

	md, err := malgo.InitDevice(m.ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: d.onRender,
		Stop: d.onStop,
	})
	if err != nil {
		return nil, err
	}
	d.dev = md
	return d, nil
}

func (m *malgoBackend) newDevice(dev DeviceDescriptor, format StreamFormat, c CaptureHandler, r RenderHandler) (*malgoDevice, error) {
	id, err := decodeMalgoID(dev.ID)
	if err != nil {
		return nil, err
	}
	return &malgoDevice{
		id:      id,
		format:  format,
		capture: c,
		render:  r,
		scratch: make([]float32, format.BlockLen()),
	}, nil
}

func (m *malgoBackend) Close() error {
	if err := m.ctx.Uninit(); err != nil {
		return err
	}
	m.ctx.Free()
	return nil
}

type malgoDevice struct {
	id       malgo.DeviceID
	dev      *malgo.Device
	format   StreamFormat
	capture  CaptureHandler
	render   RenderHandler
	scratch  []float32
	stopping atomic.Bool
}

func (d *malgoDevice) configure(cfg *malgo.DeviceConfig, format StreamFormat) {
	cfg.SampleRate = uint32(format.SampleRate)
	cfg.PeriodSizeInFrames = uint32(format.PeriodFrames)
	cfg.Periods = 2
	cfg.PerformanceProfile = malgo.LowLatency
	cfg.Alsa.NoMMap = 1
}

// onCapture converts device bytes to float32 in scratch-sized chunks.
func (d *malgoDevice) onCapture(_, in []byte, framecount uint32) {
	frameBytes := d.format.Channels * d.format.SampleType.BytesPerSample()
	total := int(framecount) * frameBytes
	if total > len(in) {
		total = len(in) - len(in)%frameBytes
	}
	for off := 0; off < total; {
		n := DecodeSamples(d.scratch, in[off:total], d.format.SampleType)
		if n == 0 {
			return
		}
		d.capture.Capture(d.scratch[:n])
		off += n * d.format.SampleType.BytesPerSample()
	}
}

func (d *malgoDevice) onRender(out, _ []byte, framecount uint32) {
	bps := d.format.SampleType.BytesPerSample()
	frameBytes := d.format.Channels * bps
	total := int(framecount) * frameBytes
	if total > len(out) {
		total = len(out) - len(out)%frameBytes
	}
	for off := 0; off < total; {
		n := min((total-off)/bps, len(d.scratch))
		if n == 0 {
			return
		}
		d.render.Render(d.scratch[:n])
		EncodeSamples(out[off:off+n*bps], d.scratch[:n], d.format.SampleType)
		off += n * bps
	}
}

// onStop fires on explicit stops too; only unrequested stops are faults.
func (d *malgoDevice) onStop() {
	if d.stopping.Load() {
		return
	}
	if d.capture != nil {
		d.capture.Fault(DeviceLost)
	} else {
		d.render.Fault(DeviceLost)
	}
}

func (d *malgoDevice) Start() error {
	d.stopping.Store(false)
	return d.dev.Start()
}

// Stop blocks until the in-flight data callback returns.
func (d *malgoDevice) Stop() error {
	d.stopping.Store(true)
	return d.dev.Stop()
}

func (d *malgoDevice) Close() error {
	d.stopping.Store(true)
	d.dev.Uninit()
	return nil
}
