package audio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/rs/zerolog"
)

const wavOutBitDepth = 16

// wavBackend treats WAV files in a directory as input devices and a single
// WAV file as the output device. Devices are paced by a ticker at the
// negotiated period, so a session runs in real time without hardware.
type wavBackend struct {
	dir         string
	outPath     string
	outRate     int
	outChannels int
	log         zerolog.Logger
}

func newWavFile(opts Options) (Backend, error) {
	if opts.WavDir == "" {
		return nil, errors.New("wavfile: input directory required")
	}
	if opts.WavOut == "" {
		return nil, errors.New("wavfile: output path required")
	}
	ch := opts.WavChannels
	if ch <= 0 {
		ch = 2
	}
	return &wavBackend{
		dir:         opts.WavDir,
		outPath:     opts.WavOut,
		outRate:     opts.WavRate,
		outChannels: ch,
		log:         opts.Logger,
	}, nil
}

func (w *wavBackend) Name() string { return "wavfile" }

func (w *wavBackend) outputID() string {
	return "file:" + filepath.Base(w.outPath)
}

func (w *wavBackend) Enumerate(dir Direction) ([]DeviceDescriptor, error) {
	if dir == Output {
		return []DeviceDescriptor{{
			ID:         w.outputID(),
			Name:       filepath.Base(w.outPath),
			Direction:  Output,
			Modes:      []Mode{Shared},
			NativeRate: w.outRate,
			Channels:   w.outChannels,
			Default:    true,
		}}, nil
	}

	if _, err := os.Stat(w.dir); err != nil {
		return nil, err
	}
	paths, err := filepath.Glob(filepath.Join(w.dir, "*.wav"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	res := make([]DeviceDescriptor, 0, len(paths))
	for _, p := range paths {
		rate, channels, err := probeWav(p)
		if err != nil {
			w.log.Warn().Err(err).Str("file", p).Msg("Skipping unreadable WAV file")
			continue
		}
		base := filepath.Base(p)
		res = append(res, DeviceDescriptor{
			ID:         base,
			Name:       strings.TrimSuffix(base, filepath.Ext(base)),
			Direction:  Input,
			Modes:      []Mode{Shared},
			NativeRate: rate,
			Channels:   channels,
		})
	}
	return res, nil
}

func probeWav(path string) (rate, channels int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return 0, 0, fmt.Errorf("%s: not a valid WAV file", path)
	}
	return int(dec.SampleRate), int(dec.NumChans), nil
}

// loadWav decodes path into interleaved float32 samples with the requested
// channel count. Extra source channels are dropped, missing ones repeat
// channel 0.
func loadWav(path string, channels int) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%s: not a valid WAV file", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	srcCh := int(dec.NumChans)
	if srcCh <= 0 {
		return nil, fmt.Errorf("%s: no channels", path)
	}
	depth := int(dec.BitDepth)
	frames := len(buf.Data) / srcCh
	out := make([]float32, frames*channels)
	for i := 0; i < frames; i++ {
		for c := 0; c < channels; c++ {
			sc := c
			if sc >= srcCh {
				sc = 0
			}
			out[i*channels+c] = IntToFloat(buf.Data[i*srcCh+sc], depth)
		}
	}
	return out, nil
}

func periodDuration(format StreamFormat) time.Duration {
	return time.Duration(format.PeriodFrames) * time.Second / time.Duration(format.SampleRate)
}

func (w *wavBackend) OpenCapture(dev DeviceDescriptor, mode Mode, format StreamFormat, h CaptureHandler) (Device, error) {
	if mode != Shared {
		return nil, fmt.Errorf("wavfile: %s mode not supported", mode)
	}
	samples, err := loadWav(filepath.Join(w.dir, dev.ID), format.Channels)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("wavfile: %s is empty", dev.ID)
	}
	src := &wavSource{samples: samples, scratch: make([]float32, format.BlockLen()), h: h}
	return newTickDevice(periodDuration(format), src.tick, nil), nil
}

func (w *wavBackend) OpenRender(dev DeviceDescriptor, mode Mode, format StreamFormat, h RenderHandler) (Device, error) {
	if mode != Shared {
		return nil, fmt.Errorf("wavfile: %s mode not supported", mode)
	}
	if dev.ID != w.outputID() {
		return nil, fmt.Errorf("wavfile: unknown output %q", dev.ID)
	}
	f, err := os.Create(w.outPath)
	if err != nil {
		return nil, err
	}
	sink := &wavSink{
		f:       f,
		enc:     wav.NewEncoder(f, format.SampleRate, wavOutBitDepth, format.Channels, 1),
		scratch: make([]float32, format.BlockLen()),
		h:       h,
		buf: &goaudio.IntBuffer{
			Format:         &goaudio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
			Data:           make([]int, format.BlockLen()),
			SourceBitDepth: wavOutBitDepth,
		},
	}
	return newTickDevice(periodDuration(format), sink.tick, sink.close), nil
}

func (w *wavBackend) Close() error { return nil }

// wavSource loops over a decoded file one period at a time.
type wavSource struct {
	samples []float32
	pos     int
	scratch []float32
	h       CaptureHandler
}

func (s *wavSource) tick() {
	for i := range s.scratch {
		s.scratch[i] = s.samples[s.pos]
		s.pos++
		if s.pos == len(s.samples) {
			s.pos = 0
		}
	}
	s.h.Capture(s.scratch)
}

type wavSink struct {
	f       *os.File
	enc     *wav.Encoder
	buf     *goaudio.IntBuffer
	scratch []float32
	h       RenderHandler
	failed  bool
}

func (s *wavSink) tick() {
	if s.failed {
		return
	}
	s.h.Render(s.scratch)
	for i, v := range s.scratch {
		s.buf.Data[i] = FloatToInt(v, wavOutBitDepth)
	}
	if err := s.enc.Write(s.buf); err != nil {
		s.failed = true
		s.h.Fault(DeviceLost)
	}
}

func (s *wavSink) close() error {
	err := s.enc.Close()
	if cerr := s.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// tickDevice runs fn once per period on its own goroutine.
type tickDevice struct {
	period  time.Duration
	fn      func()
	closeFn func() error

	mu     sync.Mutex
	stop   chan struct{}
	done   chan struct{}
	closed bool
}

func newTickDevice(period time.Duration, fn func(), closeFn func() error) *tickDevice {
	return &tickDevice{period: period, fn: fn, closeFn: closeFn}
}

func (d *tickDevice) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.New("wavfile: device closed")
	}
	if d.stop != nil {
		return nil
	}
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	go d.run(d.stop, d.done)
	return nil
}

func (d *tickDevice) run(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(d.period)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			d.fn()
		}
	}
}

// Stop waits for the running tick to finish.
func (d *tickDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop == nil {
		return nil
	}
	close(d.stop)
	<-d.done
	d.stop, d.done = nil, nil
	return nil
}

func (d *tickDevice) Close() error {
	if err := d.Stop(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.closeFn != nil {
		return d.closeFn()
	}
	return nil
}
