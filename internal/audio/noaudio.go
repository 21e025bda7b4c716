//go:build !cgo || noaudio

// Device backends are unavailable in cgo-less and noaudio builds; only the
// wavfile and mock backends remain.

package audio

import (
	"errors"

	"github.com/rs/zerolog"
)

var errAudioDisabledCompilation = errors.New("audio was disabled during compilation")

func newPortAudio(zerolog.Logger) (Backend, error) {
	return nil, errAudioDisabledCompilation
}

func newMalgo(zerolog.Logger) (Backend, error) {
	return nil, errAudioDisabledCompilation
}
