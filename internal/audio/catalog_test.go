package audio_test

import (
	"errors"
	"testing"

	"github.com/petems/externalcue/internal/audio"
	"github.com/petems/externalcue/internal/audio/audiotest"
)

func TestListDevicesFiltersByDirection(t *testing.T) {
	b := audiotest.NewBackend(audiotest.Input("a", 48000, 2), audiotest.Output("out", 48000, 2), audiotest.Input("b", 44100, 1))
	c := audio.NewCatalog(b)

	ins, err := c.ListDevices(audio.Input)
	if err != nil {
		t.Fatalf("ListDevices() error: %v", err)
	}
	if len(ins) != 2 || ins[0].ID != "a" || ins[1].ID != "b" {
		t.Fatalf("inputs = %v, want a, b in platform order", ins)
	}

	ins[0].Modes[0] = audio.Exclusive
	again, _ := c.ListDevices(audio.Input)
	if again[0].Modes[0] != audio.Shared {
		t.Error("descriptor modes share storage with the backend")
	}
}

func TestListDevicesIsNotCached(t *testing.T) {
	b := audiotest.NewBackend(audiotest.Input("a", 48000, 2))
	c := audio.NewCatalog(b)
	c.ListDevices(audio.Input)

	b.SetDevices(audiotest.Input("usb", 48000, 2))
	ins, err := c.ListDevices(audio.Input)
	if err != nil {
		t.Fatalf("ListDevices() error: %v", err)
	}
	if len(ins) != 1 || ins[0].ID != "usb" {
		t.Fatalf("inputs = %v, want hot-plugged usb", ins)
	}
}

func TestListDevicesEnumerationError(t *testing.T) {
	b := audiotest.NewBackend()
	b.EnumerateErr = errors.New("service down")

	_, err := audio.NewCatalog(b).ListDevices(audio.Output)
	if !errors.Is(err, audio.ErrEnumeration) {
		t.Fatalf("error = %v, want ErrEnumeration", err)
	}
	var ee *audio.EnumerationError
	if !errors.As(err, &ee) || ee.Direction != audio.Output || !errors.Is(err, b.EnumerateErr) {
		t.Fatalf("error = %v, want wrapped output enumeration error", err)
	}
}

func TestLookup(t *testing.T) {
	c := audio.NewCatalog(audiotest.NewBackend(audiotest.Input("a", 48000, 2), audiotest.Output("out", 48000, 2)))

	if d, err := c.Lookup(audio.Input, "a"); err != nil || d.ID != "a" {
		t.Errorf("Lookup(a) = %v, %v", d, err)
	}
	if d, err := c.Lookup(audio.Output, "Mock out"); err != nil || d.ID != "out" {
		t.Errorf("Lookup by name = %v, %v", d, err)
	}

	_, err := c.Lookup(audio.Output, "a")
	var du *audio.DeviceUnavailableError
	if !errors.As(err, &du) || du.ID != "a" || du.Direction != audio.Output {
		t.Errorf("Lookup(output a) = %v, want unavailable", err)
	}
}
