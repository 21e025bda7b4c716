package stream

import (
	"sync"
	"testing"
	"time"

	"github.com/petems/externalcue/internal/audio"
	"github.com/petems/externalcue/internal/ringbuf"
)

func format(frames, channels int) audio.StreamFormat {
	return audio.StreamFormat{SampleRate: 48000, Channels: channels, PeriodFrames: frames}
}

func seq(start float32, n int) []float32 {
	b := make([]float32, n)
	for i := range b {
		b[i] = start + float32(i)
	}
	return b
}

func TestCaptureCommitsWholePeriods(t *testing.T) {
	f := format(4, 2)
	ring := ringbuf.New(4, f.BlockLen())
	c := NewCapture(f, ring)

	// 12 samples in uneven callbacks: one full period plus half of the next.
	c.Capture(seq(0, 5))
	c.Capture(seq(5, 7))

	st := c.Stats()
	if st.Periods != 1 || st.Callbacks != 2 {
		t.Fatalf("stats = %+v, want 1 period from 2 callbacks", st)
	}
	got := make([]float32, 8)
	if !ring.TryPop(got) {
		t.Fatal("no block committed")
	}
	for i, v := range got {
		if v != float32(i) {
			t.Fatalf("block = %v, want 0..7", got)
		}
	}
	if ring.Len() != 0 {
		t.Fatal("partial period was published")
	}
}

func TestCaptureOverrunDropsNewPeriod(t *testing.T) {
	f := format(2, 1)
	ring := ringbuf.New(1, f.BlockLen())
	c := NewCapture(f, ring)

	c.Capture([]float32{1, 1})
	c.Capture([]float32{2, 2})
	c.Capture([]float32{3, 3})

	st := c.Stats()
	if st.Periods != 1 || st.Overruns != 2 {
		t.Fatalf("stats = %+v, want 1 period and 2 overruns", st)
	}
	got := make([]float32, 2)
	ring.TryPop(got)
	if got[0] != 1 {
		t.Fatalf("queued block = %v, want the first period", got)
	}

	c.Capture([]float32{4, 4})
	ring.TryPop(got)
	if got[0] != 4 {
		t.Fatalf("after drain got %v, want [4 4]", got)
	}
}

func TestCaptureFormatViolation(t *testing.T) {
	f := format(4, 2)
	c := NewCapture(f, ringbuf.New(2, f.BlockLen()))
	c.Capture([]float32{1, 2, 3})

	if got := c.Stats().Fault; got != audio.FormatViolation {
		t.Fatalf("fault = %v, want %v", got, audio.FormatViolation)
	}
}

func TestFirstFaultWins(t *testing.T) {
	f := format(4, 2)
	c := NewCapture(f, ringbuf.New(2, f.BlockLen()))
	c.Fault(audio.DeviceLost)
	c.Fault(audio.FormatViolation)

	if got := c.Stats().Fault; got != audio.DeviceLost {
		t.Fatalf("fault = %v, want %v", got, audio.DeviceLost)
	}
}

func TestCaptureDoesNotAllocate(t *testing.T) {
	f := format(64, 2)
	ring := ringbuf.New(2, f.BlockLen())
	c := NewCapture(f, ring)
	in := seq(0, 48)
	dst := make([]float32, f.BlockLen())

	allocs := testing.AllocsPerRun(100, func() {
		c.Capture(in)
		for ring.TryPop(dst) {
		}
	})
	if allocs != 0 {
		t.Fatalf("Capture allocated %v times per run", allocs)
	}
}

func TestRenderUnderrunWritesSilence(t *testing.T) {
	f := format(4, 2)
	r := NewRender(f, ringbuf.New(2, f.BlockLen()), nil)

	out := seq(1, f.BlockLen())
	r.Render(out)

	if len(out) != f.BlockLen() {
		t.Fatalf("len(out) = %d, want %d", len(out), f.BlockLen())
	}
	for _, v := range out {
		if v != 0 {
			t.Fatalf("out = %v, want silence", out)
		}
	}
	if got := r.Stats().Underruns; got != 1 {
		t.Fatalf("underruns = %d, want exactly 1", got)
	}
}

func TestRenderSplitsBlocksAcrossCallbacks(t *testing.T) {
	f := format(2, 2)
	ring := ringbuf.New(4, f.BlockLen())
	ring.TryPush(seq(0, 4))
	ring.TryPush(seq(4, 4))
	r := NewRender(f, ring, nil)

	a := make([]float32, 2)
	b := make([]float32, 6)
	r.Render(a)
	r.Render(b)

	got := append(a, b...)
	for i, v := range got {
		if v != float32(i) {
			t.Fatalf("rendered %v, want 0..7", got)
		}
	}
	if st := r.Stats(); st.Periods != 2 || st.Underruns != 0 {
		t.Fatalf("stats = %+v, want 2 periods, no underrun", st)
	}
}

func TestRenderPullsOnDemand(t *testing.T) {
	f := format(2, 1)
	ring := ringbuf.New(2, f.BlockLen())
	var pulls int
	r := NewRender(f, ring, func() {
		pulls++
		ring.TryPush([]float32{0.5, 0.5})
	})

	out := make([]float32, 2)
	r.Render(out)
	r.Render(out)

	if pulls != 2 {
		t.Fatalf("pull called %d times, want 2", pulls)
	}
	if out[0] != 0.5 || r.Stats().Underruns != 0 {
		t.Fatalf("out = %v, stats = %+v", out, r.Stats())
	}
}

func TestRenderFormatViolation(t *testing.T) {
	f := format(4, 2)
	r := NewRender(f, ringbuf.New(2, f.BlockLen()), nil)
	out := []float32{1, 1, 1}
	r.Render(out)

	if r.Stats().Fault != audio.FormatViolation {
		t.Fatalf("fault = %v, want %v", r.Stats().Fault, audio.FormatViolation)
	}
	for _, v := range out {
		if v != 0 {
			t.Fatalf("out = %v, want silence", out)
		}
	}
}

func TestQuiesceRejectsLateCallbacks(t *testing.T) {
	f := format(2, 1)
	ring := ringbuf.New(2, f.BlockLen())
	c := NewCapture(f, ring)

	if !c.Quiesce(time.Second) {
		t.Fatal("idle stream did not quiesce")
	}
	c.Capture([]float32{1, 1})
	if ring.Len() != 0 || c.Stats().Callbacks != 0 {
		t.Fatal("callback ran after Quiesce")
	}
}

func TestQuiesceWaitsForInflightCallback(t *testing.T) {
	f := format(2, 1)
	ring := ringbuf.New(2, f.BlockLen())
	entered := make(chan struct{})
	release := make(chan struct{})
	r := NewRender(f, ring, func() {
		close(entered)
		<-release
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.Render(make([]float32, 2))
	}()
	<-entered

	if r.Quiesce(10 * time.Millisecond) {
		t.Fatal("Quiesce returned true with a callback in flight")
	}
	close(release)
	if !r.Quiesce(time.Second) {
		t.Fatal("Quiesce timed out after the callback returned")
	}
	wg.Wait()
}
