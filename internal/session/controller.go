// Package session owns the lifecycle of a routing session: it resolves the
// selected devices, negotiates one format, wires capture streams, mixer and
// render stream through ring buffers and runs them until stopped.
//
// The controller never calls into UI code. Front ends poll PollDiagnostics
// or Subscribe to state changes.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/petems/externalcue/internal/audio"
	"github.com/rs/zerolog"
)

const (
	DefaultRingSlots      = 4
	DefaultLagLimit       = 1
	DefaultWatchInterval  = 100 * time.Millisecond
	DefaultStallTimeout   = 2 * time.Second
	DefaultQuiesceTimeout = 500 * time.Millisecond
)

type Config struct {
	Backend audio.Backend
	Logger  zerolog.Logger

	PeriodFrames int
	FallbackRate int
	RingSlots    int
	// LagLimit is how many stale blocks per input the mixer keeps queued.
	// Zero mixes only the newest block; negative selects DefaultLagLimit.
	LagLimit int

	// WatchInterval is how often the watchdog samples stream health.
	WatchInterval time.Duration
	// StallTimeout is how long a stream may go without callbacks before the
	// session degrades. Negative disables stall detection.
	StallTimeout time.Duration
	// QuiesceTimeout bounds the wait for in-flight callbacks in Stop.
	QuiesceTimeout time.Duration
}

// StartRequest selects the devices of a session by id or display name.
type StartRequest struct {
	InputA string
	// InputB is optional; a missing input mixes as silence.
	InputB string
	Output string
	Mode   audio.Mode
}

type Controller struct {
	cfg     Config
	backend audio.Backend
	catalog *audio.Catalog
	log     zerolog.Logger

	// mu serializes Start, Stop and Close. The real-time path never takes it.
	mu     sync.Mutex
	status atomic.Pointer[Status]
	// cur is the running pipeline, or the last one after Stop. A failed
	// Start clears it.
	cur atomic.Pointer[pipeline]

	watchStop chan struct{}
	watchDone chan struct{}

	subMu   sync.Mutex
	subs    map[int]chan Status
	nextSub int
}

func New(cfg Config) *Controller {
	if cfg.RingSlots <= 0 {
		cfg.RingSlots = DefaultRingSlots
	}
	if cfg.LagLimit < 0 {
		cfg.LagLimit = DefaultLagLimit
	}
	if cfg.WatchInterval <= 0 {
		cfg.WatchInterval = DefaultWatchInterval
	}
	if cfg.StallTimeout == 0 {
		cfg.StallTimeout = DefaultStallTimeout
	}
	if cfg.QuiesceTimeout <= 0 {
		cfg.QuiesceTimeout = DefaultQuiesceTimeout
	}
	c := &Controller{
		cfg:     cfg,
		backend: cfg.Backend,
		catalog: audio.NewCatalog(cfg.Backend),
		log:     cfg.Logger,
		subs:    make(map[int]chan Status),
	}
	c.status.Store(&Status{State: Idle})
	return c
}

// ListDevices enumerates devices afresh.
func (c *Controller) ListDevices(dir audio.Direction) ([]audio.DeviceDescriptor, error) {
	return c.catalog.ListDevices(dir)
}

// Status returns the current state without blocking.
func (c *Controller) Status() Status {
	return *c.status.Load()
}

// Start negotiates and starts a session. On failure nothing stays open and
// the controller is back in Idle.
func (c *Controller) Start(ctx context.Context, req StartRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.Status().State {
	case Stopped:
		return ErrClosed
	case Idle:
	default:
		return ErrBusy
	}
	if req.InputA == "" {
		return c.failStart(ErrNoInput)
	}
	if req.Output == "" {
		return c.failStart(audio.ErrNoOutput)
	}

	c.setStatus(Status{State: Negotiating})
	p, err := c.build(ctx, req)
	if err != nil {
		return c.failStart(err)
	}

	c.cur.Store(p)
	c.setStatus(Status{State: Running})
	c.startWatchdog(p)

	c.log.Info().
		Str("mode", p.neg.Mode.String()).
		Str("output", p.output.String()).
		Str("format", p.neg.Output.String()).
		Msg("Session running")
	return nil
}

// failStart drops the previous session's diagnostics and publishes Idle with
// err as the reason.
func (c *Controller) failStart(err error) error {
	c.log.Error().Err(err).Msg("Failed to start session")
	c.cur.Store(nil)
	c.setStatus(Status{State: Idle, Reason: err.Error()})
	return err
}

func (c *Controller) build(ctx context.Context, req StartRequest) (*pipeline, error) {
	inA, err := c.catalog.Lookup(audio.Input, req.InputA)
	if err != nil {
		return nil, err
	}
	var inB *audio.DeviceDescriptor
	if req.InputB != "" {
		d, err := c.catalog.Lookup(audio.Input, req.InputB)
		if err != nil {
			return nil, err
		}
		inB = &d
	}
	out, err := c.catalog.Lookup(audio.Output, req.Output)
	if err != nil {
		return nil, err
	}

	neg, err := audio.Negotiate(&inA, inB, out, req.Mode, audio.Request{
		PeriodFrames: c.cfg.PeriodFrames,
		FallbackRate: c.cfg.FallbackRate,
	})
	if err != nil {
		return nil, err
	}
	if neg.PeriodAdjusted {
		c.log.Warn().
			Int("requested", neg.RequestedPeriod).
			Int("period", neg.Output.PeriodFrames).
			Msg("Period adjusted to device limits")
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p, err := newPipeline(neg, &inA, inB, out, c.cfg.RingSlots, c.cfg.LagLimit)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	if err := p.open(c.backend); err != nil {
		return nil, err
	}
	if err := p.start(); err != nil {
		p.teardown(c.cfg.QuiesceTimeout)
		return nil, fmt.Errorf("session: %w", err)
	}
	return p, nil
}

// Stop tears the running session down and returns to Idle. Diagnostics keep
// the final counters of the stopped session.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopLocked()
}

func (c *Controller) stopLocked() error {
	switch c.Status().State {
	case Running, Degraded:
	default:
		return ErrNotRunning
	}

	c.stopWatchdog()

	p := c.cur.Load()
	idle, err := p.teardown(c.cfg.QuiesceTimeout)
	if !idle {
		c.log.Warn().Dur("timeout", c.cfg.QuiesceTimeout).Msg("Callbacks still in flight after stop")
	}
	if err != nil {
		c.log.Error().Err(err).Msg("Errors while stopping session")
	}

	c.setStatus(Status{State: Idle})
	c.log.Info().Msg("Session stopped")
	return err
}

// Close stops any running session and retires the controller.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	switch c.Status().State {
	case Stopped:
		return nil
	case Running, Degraded:
		err = c.stopLocked()
	}
	c.setStatus(Status{State: Stopped})

	c.subMu.Lock()
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
	c.subMu.Unlock()
	return err
}

// SetChannelGain sets the gain of ch. It takes effect on the next mixed
// period.
func (c *Controller) SetChannelGain(ch Channel, gain float32) error {
	if gain != gain || gain < 0 || gain > 1 {
		return ErrInvalidGain
	}
	p, err := c.running(ch)
	if err != nil {
		return err
	}
	p.states[ch].SetGain(gain)
	return nil
}

// SetListen turns ch on or off in the mix. An input that is off is still
// drained so it resumes with current audio.
func (c *Controller) SetListen(ch Channel, on bool) error {
	p, err := c.running(ch)
	if err != nil {
		return err
	}
	p.states[ch].SetListen(on)
	return nil
}

func (c *Controller) running(ch Channel) (*pipeline, error) {
	if ch != ChannelA && ch != ChannelB {
		return nil, ErrUnknownChannel
	}
	if c.Status().State != Running {
		return nil, ErrNotRunning
	}
	p := c.cur.Load()
	if p == nil {
		return nil, ErrNotRunning
	}
	return p, nil
}

// Subscribe returns a channel receiving every state change. Updates are
// dropped for a subscriber that is not keeping up. The returned func
// unsubscribes.
func (c *Controller) Subscribe() (<-chan Status, func()) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	ch := make(chan Status, 8)
	if c.Status().State == Stopped {
		close(ch)
		return ch, func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			defer c.subMu.Unlock()
			if _, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(ch)
			}
		})
	}
}

func (c *Controller) setStatus(s Status) {
	c.status.Store(&s)
	c.publish(s)
}

func (c *Controller) publish(s Status) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- s:
		default:
		}
	}
}
