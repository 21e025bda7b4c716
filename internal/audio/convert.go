package audio

import (
	"encoding/binary"
	"math"
)

const (
	s16In  = 1.0 / 32768.0
	s32In  = 1.0 / 2147483648.0
	s16Out = 32767.0
	s32Out = 2147483647.0
)

// Clamp saturates v to [-1, 1]. NaN becomes silence.
func Clamp(v float32) float32 {
	switch {
	case v != v:
		return 0
	case v > 1:
		return 1
	case v < -1:
		return -1
	}
	return v
}

// DecodeSamples converts little-endian device bytes of type t into dst and
// returns the number of samples written.
func DecodeSamples(dst []float32, src []byte, t SampleType) int {
	n := len(src) / t.BytesPerSample()
	if n > len(dst) {
		n = len(dst)
	}
	switch t {
	case Int16:
		for i := 0; i < n; i++ {
			dst[i] = float32(int16(binary.LittleEndian.Uint16(src[i*2:]))) * s16In
		}
	case Int32:
		for i := 0; i < n; i++ {
			dst[i] = float32(float64(int32(binary.LittleEndian.Uint32(src[i*4:]))) * s32In)
		}
	default:
		for i := 0; i < n; i++ {
			dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
		}
	}
	return n
}

// EncodeSamples converts src into little-endian device bytes of type t,
// saturating out of range values, and returns the number of samples written.
func EncodeSamples(dst []byte, src []float32, t SampleType) int {
	n := len(dst) / t.BytesPerSample()
	if n > len(src) {
		n = len(src)
	}
	switch t {
	case Int16:
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint16(dst[i*2:], uint16(int16(Clamp(src[i])*s16Out)))
		}
	case Int32:
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint32(dst[i*4:], uint32(int32(float64(Clamp(src[i]))*s32Out)))
		}
	default:
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(Clamp(src[i])))
		}
	}
	return n
}

// IntToFloat converts a PCM integer of the given bit depth to [-1, 1].
func IntToFloat(v, bitDepth int) float32 {
	switch bitDepth {
	case 8:
		return float32(v-128) / 128.0
	case 24:
		return float32(v) / 8388608.0
	case 32:
		return float32(float64(v) * s32In)
	}
	return float32(v) * s16In
}

// FloatToInt converts a sample to a PCM integer of the given bit depth.
func FloatToInt(v float32, bitDepth int) int {
	v = Clamp(v)
	switch bitDepth {
	case 8:
		return int(v*127.0) + 128
	case 24:
		return int(v * 8388607.0)
	case 32:
		return int(float64(v) * s32Out)
	}
	return int(v * s16Out)
}
