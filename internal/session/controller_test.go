package session

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/petems/externalcue/internal/audio"
	"github.com/petems/externalcue/internal/audio/audiotest"
	"github.com/rs/zerolog"
)

const testPeriod = 4

func newTestController(t *testing.T, b audio.Backend, opts ...func(*Config)) *Controller {
	t.Helper()
	cfg := Config{
		Backend:      b,
		Logger:       zerolog.Nop(),
		PeriodFrames: testPeriod,
		LagLimit:     DefaultLagLimit,
		StallTimeout: -1,
	}
	for _, o := range opts {
		o(&cfg)
	}
	c := New(cfg)
	t.Cleanup(func() { c.Close() })
	return c
}

func stereoBackend(rateB int) *audiotest.Backend {
	return audiotest.NewBackend(
		audiotest.Input("a", 48000, 2),
		audiotest.Input("b", rateB, 2),
		audiotest.Output("out", 48000, 2),
	)
}

func ramp(n int, scale float32) []float32 {
	b := make([]float32, n)
	for i := range b {
		b[i] = float32(i+1) * scale
	}
	return b
}

func waitForState(t *testing.T, ch <-chan Status, want State) Status {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case s, ok := <-ch:
			if !ok {
				t.Fatalf("subscription closed before reaching %s", want)
			}
			if s.State == want {
				return s
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestStartRateMismatchStaysIdle(t *testing.T) {
	b := stereoBackend(44100)
	c := newTestController(t, b)

	err := c.Start(context.Background(), StartRequest{InputA: "a", InputB: "b", Output: "out"})
	if !errors.Is(err, audio.ErrNegotiation) {
		t.Fatalf("Start() error = %v, want a negotiation error", err)
	}
	var mismatch *audio.SampleRateMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("Start() error = %T, want *SampleRateMismatchError", err)
	}
	if mismatch.Expected != 48000 || mismatch.Got != 44100 {
		t.Errorf("mismatch = %d vs %d, want 44100 vs 48000", mismatch.Got, mismatch.Expected)
	}
	if got := c.Status().State; got != Idle {
		t.Errorf("state = %s, want idle", got)
	}
	if n := len(b.Opened()); n != 0 {
		t.Errorf("%d devices opened after failed negotiation", n)
	}
}

func TestStartUnsupportedMode(t *testing.T) {
	out := audiotest.Output("out", 48000, 2)
	out.Modes = []audio.Mode{audio.Shared}
	b := audiotest.NewBackend(audiotest.Input("a", 48000, 2), out)
	c := newTestController(t, b)

	err := c.Start(context.Background(), StartRequest{InputA: "a", Output: "out", Mode: audio.Exclusive})
	var unsupported *audio.UnsupportedModeError
	if !errors.As(err, &unsupported) {
		t.Fatalf("Start() error = %v, want *UnsupportedModeError", err)
	}
	if len(b.Opened()) != 0 {
		t.Error("devices opened for an unsupported mode")
	}
}

func TestStartUnknownDevice(t *testing.T) {
	b := stereoBackend(48000)
	c := newTestController(t, b)

	err := c.Start(context.Background(), StartRequest{InputA: "gone", Output: "out"})
	var unavailable *audio.DeviceUnavailableError
	if !errors.As(err, &unavailable) || unavailable.ID != "gone" {
		t.Fatalf("Start() error = %v, want device gone unavailable", err)
	}
	if c.Status().State != Idle {
		t.Errorf("state = %s, want idle", c.Status().State)
	}
}

func TestStartRequiresSelection(t *testing.T) {
	c := newTestController(t, stereoBackend(48000))

	if err := c.Start(context.Background(), StartRequest{Output: "out"}); !errors.Is(err, ErrNoInput) {
		t.Errorf("without input A: %v, want ErrNoInput", err)
	}
	if err := c.Start(context.Background(), StartRequest{InputA: "a"}); !errors.Is(err, audio.ErrNoOutput) {
		t.Errorf("without output: %v, want ErrNoOutput", err)
	}
}

func TestOpenFailureClosesOpenedDevices(t *testing.T) {
	b := stereoBackend(48000)
	b.OpenErr["out"] = errors.New("device busy")
	c := newTestController(t, b)

	err := c.Start(context.Background(), StartRequest{InputA: "a", InputB: "b", Output: "out"})
	if err == nil {
		t.Fatal("Start() succeeded with a failing output")
	}
	opened := b.Opened()
	if len(opened) != 2 {
		t.Fatalf("%d devices opened, want both captures", len(opened))
	}
	for _, d := range opened {
		if !d.Closed() {
			t.Errorf("device %s left open", d.Descriptor.ID)
		}
	}
	if c.Status().State != Idle {
		t.Errorf("state = %s, want idle", c.Status().State)
	}
}

func TestMixEndToEnd(t *testing.T) {
	b := stereoBackend(48000)
	c := newTestController(t, b)

	if err := c.Start(context.Background(), StartRequest{InputA: "a", InputB: "b", Output: "out"}); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if c.Status().State != Running {
		t.Fatalf("state = %s, want running", c.Status().State)
	}
	if err := c.SetChannelGain(ChannelB, 0); err != nil {
		t.Fatalf("SetChannelGain() error: %v", err)
	}

	block := testPeriod * 2
	inA := ramp(block, 0.01)
	b.Device("a").Push(inA)
	b.Device("b").Push(ramp(block, 0.05))

	out := make([]float32, block)
	b.Device("out").Pull(out)

	for i := range inA {
		if out[i] != inA[i] {
			t.Fatalf("output = %v, want input A %v", out, inA)
		}
	}

	d := c.PollDiagnostics()
	if d.Format.SampleRate != 48000 || d.Format.PeriodFrames != testPeriod {
		t.Errorf("format = %s", d.Format)
	}
	if !d.Channels[ChannelA].Active || !d.Channels[ChannelB].Active {
		t.Error("both inputs carried signal but are not reported active")
	}
	if d.Channels[ChannelB].Gain != 0 {
		t.Errorf("channel B gain = %v, want 0", d.Channels[ChannelB].Gain)
	}
	if d.Underruns != 0 || d.InputUnderruns != [2]uint64{} {
		t.Errorf("unexpected underruns: %+v", d)
	}
}

func TestListenOffRemovesInput(t *testing.T) {
	b := stereoBackend(48000)
	c := newTestController(t, b)
	if err := c.Start(context.Background(), StartRequest{InputA: "a", InputB: "b", Output: "out"}); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := c.SetListen(ChannelA, false); err != nil {
		t.Fatalf("SetListen() error: %v", err)
	}

	block := testPeriod * 2
	inB := ramp(block, 0.02)
	b.Device("a").Push(ramp(block, 0.03))
	b.Device("b").Push(inB)

	out := make([]float32, block)
	b.Device("out").Pull(out)
	for i := range inB {
		if out[i] != inB[i] {
			t.Fatalf("output = %v, want input B %v", out, inB)
		}
	}
}

func TestMissingInputB(t *testing.T) {
	b := stereoBackend(48000)
	c := newTestController(t, b)
	if err := c.Start(context.Background(), StartRequest{InputA: "a", Output: "out"}); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	block := testPeriod * 2
	inA := ramp(block, 0.04)
	b.Device("a").Push(inA)
	out := make([]float32, block)
	b.Device("out").Pull(out)

	for i := range inA {
		if out[i] != inA[i] {
			t.Fatalf("output = %v, want input A %v", out, inA)
		}
	}
	d := c.PollDiagnostics()
	if d.InputUnderruns[ChannelB] != 0 {
		t.Errorf("missing input B counted %d underruns", d.InputUnderruns[ChannelB])
	}
	if d.Channels[ChannelB].Device != "" {
		t.Errorf("channel B device = %q, want empty", d.Channels[ChannelB].Device)
	}
	if len(b.Opened()) != 2 {
		t.Errorf("%d devices opened, want capture A and render", len(b.Opened()))
	}
}

func TestStopKeepsLastCounters(t *testing.T) {
	b := stereoBackend(48000)
	c := newTestController(t, b)
	if err := c.Start(context.Background(), StartRequest{InputA: "a", InputB: "b", Output: "out"}); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	out := make([]float32, testPeriod*2)
	render := b.Device("out")
	render.Pull(out)
	render.Pull(out)

	before := c.PollDiagnostics()
	if before.InputUnderruns != [2]uint64{2, 2} {
		t.Fatalf("input underruns = %v, want [2 2]", before.InputUnderruns)
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	for _, d := range b.Opened() {
		if !d.Closed() {
			t.Errorf("device %s not closed by Stop", d.Descriptor.ID)
		}
	}

	after := c.PollDiagnostics()
	if after.State != Idle {
		t.Errorf("state = %s, want idle", after.State)
	}
	after.State = before.State
	if after != before {
		t.Errorf("counters changed across Stop:\nbefore %+v\nafter  %+v", before, after)
	}
	if err := c.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("second Stop() = %v, want ErrNotRunning", err)
	}
}

func TestFailedStartClearsLastSession(t *testing.T) {
	b := stereoBackend(48000)
	c := newTestController(t, b)
	if err := c.Start(context.Background(), StartRequest{InputA: "a", InputB: "b", Output: "out"}); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	b.Device("out").Pull(make([]float32, testPeriod*2))
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}

	b.SetDevices(
		audiotest.Input("a", 48000, 2),
		audiotest.Input("b", 44100, 2),
		audiotest.Output("out", 48000, 2),
	)
	if err := c.Start(context.Background(), StartRequest{InputA: "a", InputB: "b", Output: "out"}); err == nil {
		t.Fatal("Start() succeeded with a rate mismatch")
	}

	d := c.PollDiagnostics()
	if d.State != Idle || !strings.Contains(d.Reason, "sample rate mismatch") {
		t.Errorf("status = %s %q, want idle with the mismatch", d.State, d.Reason)
	}
	if d.Format != (audio.StreamFormat{}) || d.Output != "" {
		t.Errorf("format = %q output = %q, want none after a failed start", d.Format, d.Output)
	}
	for _, ch := range d.Channels {
		if ch.Device != "" {
			t.Errorf("channel %s device = %q, want empty", ch.Channel, ch.Device)
		}
	}
	if d.InputUnderruns != [2]uint64{} || d.Callbacks != 0 {
		t.Errorf("counters from the stopped session survived: %+v", d)
	}
}

func TestStartWithoutSelectionPublishesReason(t *testing.T) {
	c := newTestController(t, stereoBackend(48000))
	states, unsubscribe := c.Subscribe()
	defer unsubscribe()

	tests := []struct {
		name string
		req  StartRequest
		want error
	}{
		{name: "no input A", req: StartRequest{Output: "out"}, want: ErrNoInput},
		{name: "no output", req: StartRequest{InputA: "a"}, want: audio.ErrNoOutput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Start(context.Background(), tt.req); !errors.Is(err, tt.want) {
				t.Fatalf("Start() = %v, want %v", err, tt.want)
			}
			s := waitForState(t, states, Idle)
			if s.Reason != tt.want.Error() {
				t.Errorf("reason = %q, want %q", s.Reason, tt.want.Error())
			}
		})
	}
}

func TestLagLimit(t *testing.T) {
	tests := []struct {
		name        string
		lag         int
		wantScale   float32
		wantSkipped uint64
	}{
		{name: "zero mixes newest", lag: 0, wantScale: 0.02, wantSkipped: 1},
		{name: "default keeps one", lag: -1, wantScale: 0.01, wantSkipped: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := stereoBackend(48000)
			c := newTestController(t, b, func(cfg *Config) { cfg.LagLimit = tt.lag })
			if err := c.Start(context.Background(), StartRequest{InputA: "a", Output: "out"}); err != nil {
				t.Fatalf("Start() error: %v", err)
			}

			block := testPeriod * 2
			b.Device("a").Push(ramp(block, 0.01))
			b.Device("a").Push(ramp(block, 0.02))
			out := make([]float32, block)
			b.Device("out").Pull(out)

			want := ramp(block, tt.wantScale)
			for i := range want {
				if out[i] != want[i] {
					t.Fatalf("output = %v, want %v", out, want)
				}
			}
			if got := c.PollDiagnostics().Skipped[ChannelA]; got != tt.wantSkipped {
				t.Errorf("skipped = %d, want %d", got, tt.wantSkipped)
			}
		})
	}
}

func TestControlRequiresRunning(t *testing.T) {
	c := newTestController(t, stereoBackend(48000))

	if err := c.SetChannelGain(ChannelA, 0.5); !errors.Is(err, ErrNotRunning) {
		t.Errorf("SetChannelGain() idle = %v, want ErrNotRunning", err)
	}
	if err := c.SetListen(ChannelA, false); !errors.Is(err, ErrNotRunning) {
		t.Errorf("SetListen() idle = %v, want ErrNotRunning", err)
	}
	if err := c.SetChannelGain(ChannelA, 1.5); !errors.Is(err, ErrInvalidGain) {
		t.Errorf("SetChannelGain(1.5) = %v, want ErrInvalidGain", err)
	}
	if err := c.SetListen(Channel(7), true); !errors.Is(err, ErrUnknownChannel) {
		t.Errorf("SetListen(7) = %v, want ErrUnknownChannel", err)
	}
}

func TestStartTwiceIsBusy(t *testing.T) {
	c := newTestController(t, stereoBackend(48000))
	req := StartRequest{InputA: "a", Output: "out"}
	if err := c.Start(context.Background(), req); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := c.Start(context.Background(), req); !errors.Is(err, ErrBusy) {
		t.Fatalf("second Start() = %v, want ErrBusy", err)
	}
}

func TestFaultDegradesSession(t *testing.T) {
	b := stereoBackend(48000)
	c := newTestController(t, b, func(cfg *Config) { cfg.WatchInterval = 5 * time.Millisecond })
	states, unsubscribe := c.Subscribe()
	defer unsubscribe()

	if err := c.Start(context.Background(), StartRequest{InputA: "a", InputB: "b", Output: "out"}); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	b.Device("b").Fail(audio.DeviceLost)

	s := waitForState(t, states, Degraded)
	if !strings.Contains(s.Reason, "device lost") {
		t.Errorf("reason = %q, want it to name the fault", s.Reason)
	}
	if d := c.PollDiagnostics(); d.Fault != audio.DeviceLost {
		t.Errorf("diagnostics fault = %v, want %v", d.Fault, audio.DeviceLost)
	}
	if err := c.SetChannelGain(ChannelA, 0.5); !errors.Is(err, ErrNotRunning) {
		t.Errorf("SetChannelGain() degraded = %v, want ErrNotRunning", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop() from degraded: %v", err)
	}
	waitForState(t, states, Idle)
}

func TestStallDegradesSession(t *testing.T) {
	b := stereoBackend(48000)
	c := newTestController(t, b, func(cfg *Config) {
		cfg.WatchInterval = 5 * time.Millisecond
		cfg.StallTimeout = 20 * time.Millisecond
	})
	states, unsubscribe := c.Subscribe()
	defer unsubscribe()

	if err := c.Start(context.Background(), StartRequest{InputA: "a", Output: "out"}); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	s := waitForState(t, states, Degraded)
	if !strings.Contains(s.Reason, "no callbacks") {
		t.Errorf("reason = %q, want a stall", s.Reason)
	}
}

func TestCloseIsTerminal(t *testing.T) {
	b := stereoBackend(48000)
	c := newTestController(t, b)
	states, _ := c.Subscribe()

	if err := c.Start(context.Background(), StartRequest{InputA: "a", Output: "out"}); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if c.Status().State != Stopped {
		t.Fatalf("state = %s, want stopped", c.Status().State)
	}
	if err := c.Start(context.Background(), StartRequest{InputA: "a", Output: "out"}); !errors.Is(err, ErrClosed) {
		t.Errorf("Start() after Close = %v, want ErrClosed", err)
	}

	waitForState(t, states, Stopped)
	if _, ok := <-states; ok {
		t.Error("subscription still open after Close")
	}
}

func TestStartHonoursCancelledContext(t *testing.T) {
	b := stereoBackend(48000)
	c := newTestController(t, b)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.Start(ctx, StartRequest{InputA: "a", Output: "out"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Start() = %v, want context.Canceled", err)
	}
	if len(b.Opened()) != 0 {
		t.Error("devices opened with a cancelled context")
	}
}
