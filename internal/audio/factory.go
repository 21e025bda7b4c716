// Package audio holds the device model of the router: device descriptors,
// stream formats, the error taxonomy, and the Backend interface that each
// platform audio API implements.
//
// Backends:
//   - malgo (miniaudio) - shared and exclusive mode, the default
//   - portaudio - shared mode only
//   - wavfile - WAV files as inputs and output, for headless runs
package audio

import (
	"fmt"

	"github.com/rs/zerolog"
)

const (
	BackendAuto      = "auto"
	BackendMalgo     = "malgo"
	BackendPortAudio = "portaudio"
	BackendWavFile   = "wavfile"
)

// Options selects and configures a backend.
type Options struct {
	Backend string
	Logger  zerolog.Logger

	// wavfile backend only.
	WavDir      string
	WavOut      string
	WavRate     int
	WavChannels int
}

// New creates the backend named in opts. "auto" prefers malgo and falls back
// to PortAudio.
func New(opts Options) (Backend, error) {
	switch opts.Backend {
	case "", BackendAuto:
		b, err := newMalgo(opts.Logger)
		if err == nil {
			return b, nil
		}
		opts.Logger.Warn().Err(err).Msg("miniaudio unavailable, trying PortAudio")
		return newPortAudio(opts.Logger)
	case BackendMalgo:
		return newMalgo(opts.Logger)
	case BackendPortAudio:
		return newPortAudio(opts.Logger)
	case BackendWavFile:
		return newWavFile(opts)
	}
	return nil, fmt.Errorf("unknown audio backend %q", opts.Backend)
}
