package audio

import (
	"errors"
	"fmt"
)

var (
	// ErrEnumeration matches every *EnumerationError.
	ErrEnumeration = errors.New("audio: device enumeration failed")

	// ErrNegotiation matches every negotiation failure.
	ErrNegotiation = errors.New("audio: format negotiation failed")

	// ErrNoOutput is returned when no output device was chosen.
	ErrNoOutput = errors.New("audio: output device must be selected")
)

// EnumerationError reports that the platform device list is unavailable.
type EnumerationError struct {
	Direction Direction
	Err       error
}

func (e *EnumerationError) Error() string {
	return fmt.Sprintf("audio: listing %s devices: %v", e.Direction, e.Err)
}

func (e *EnumerationError) Unwrap() error { return e.Err }

func (e *EnumerationError) Is(target error) bool { return target == ErrEnumeration }

// SampleRateMismatchError is returned when an input does not run at the
// output rate.
type SampleRateMismatchError struct {
	Expected int
	Got      int
	Device   DeviceDescriptor
	// Channel is the input label ("A", "B") when known.
	Channel string
}

func (e *SampleRateMismatchError) Error() string {
	who := "input"
	if e.Channel != "" {
		who = "input " + e.Channel
	}
	return fmt.Sprintf("audio: %s %s sample rate mismatch (%d Hz vs output %d Hz)",
		who, e.Device, e.Got, e.Expected)
}

func (e *SampleRateMismatchError) Is(target error) bool { return target == ErrNegotiation }

// UnsupportedModeError is returned when a device cannot be opened in the
// requested mode.
type UnsupportedModeError struct {
	Device DeviceDescriptor
	Mode   Mode
}

func (e *UnsupportedModeError) Error() string {
	return fmt.Sprintf("audio: device %s does not support %s mode", e.Device, e.Mode)
}

func (e *UnsupportedModeError) Is(target error) bool { return target == ErrNegotiation }

// DeviceUnavailableError is returned when a selected device is missing or
// cannot be opened.
type DeviceUnavailableError struct {
	ID        string
	Direction Direction
	Err       error
}

func (e *DeviceUnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("audio: %s device %q unavailable: %v", e.Direction, e.ID, e.Err)
	}
	return fmt.Sprintf("audio: %s device %q unavailable", e.Direction, e.ID)
}

func (e *DeviceUnavailableError) Unwrap() error { return e.Err }

func (e *DeviceUnavailableError) Is(target error) bool { return target == ErrNegotiation }
