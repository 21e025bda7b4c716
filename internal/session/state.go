package session

import "errors"

type State int

const (
	Idle State = iota
	Negotiating
	Running
	// Degraded means a device faulted or stalled while running. The session
	// keeps its devices until Stop.
	Degraded
	// Stopped is terminal, reached through Close.
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Negotiating:
		return "negotiating"
	case Running:
		return "running"
	case Degraded:
		return "degraded"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// Status is a state with the reason for it, if any.
type Status struct {
	State  State
	Reason string
}

// Channel names one of the two inputs.
type Channel int

const (
	ChannelA Channel = iota
	ChannelB
)

func (c Channel) String() string {
	switch c {
	case ChannelA:
		return "A"
	case ChannelB:
		return "B"
	}
	return "?"
}

var (
	ErrNotRunning     = errors.New("session: not running")
	ErrBusy           = errors.New("session: already started")
	ErrClosed         = errors.New("session: controller closed")
	ErrNoInput        = errors.New("session: input A must be selected")
	ErrInvalidGain    = errors.New("session: gain must be between 0 and 1")
	ErrUnknownChannel = errors.New("session: unknown channel")
)
