package audio

// DefaultPeriodFrames is 10 ms at 48 kHz.
const DefaultPeriodFrames = 480

// DefaultFallbackRate is used when the output accepts any rate.
const DefaultFallbackRate = 48000

// Request carries the tunables of a negotiation.
type Request struct {
	PeriodFrames int
	FallbackRate int
}

// Negotiated is the outcome of a successful negotiation.
type Negotiated struct {
	Mode   Mode
	Output StreamFormat
	// Inputs is parallel to the inputs passed to Negotiate; a nil input
	// yields a zero StreamFormat.
	Inputs          []StreamFormat
	RequestedPeriod int
	PeriodAdjusted  bool
}

// Negotiate validates an input/output selection and fixes the session format.
// The output rate is authoritative and every input must match it exactly.
// inputB may be nil.
func Negotiate(inputA, inputB *DeviceDescriptor, output DeviceDescriptor, mode Mode, req Request) (Negotiated, error) {
	if req.PeriodFrames <= 0 {
		req.PeriodFrames = DefaultPeriodFrames
	}
	if req.FallbackRate <= 0 {
		req.FallbackRate = DefaultFallbackRate
	}

	inputs := []*DeviceDescriptor{inputA, inputB}
	labels := []string{"A", "B"}

	if !output.Supports(mode) {
		return Negotiated{}, &UnsupportedModeError{Device: output, Mode: mode}
	}
	for _, in := range inputs {
		if in != nil && !in.Supports(mode) {
			return Negotiated{}, &UnsupportedModeError{Device: *in, Mode: mode}
		}
	}

	rate := output.NativeRate
	if rate == 0 {
		rate = req.FallbackRate
	}
	for i, in := range inputs {
		if in == nil || in.NativeRate == 0 {
			continue
		}
		if in.NativeRate != rate {
			return Negotiated{}, &SampleRateMismatchError{
				Expected: rate,
				Got:      in.NativeRate,
				Device:   *in,
				Channel:  labels[i],
			}
		}
	}

	period, adjusted := choosePeriod(req.PeriodFrames, mode, append([]*DeviceDescriptor{&output}, inputs...))

	n := Negotiated{
		Mode:            mode,
		RequestedPeriod: req.PeriodFrames,
		PeriodAdjusted:  adjusted,
		Output:          streamFormat(output, mode, rate, period),
		Inputs:          make([]StreamFormat, len(inputs)),
	}
	for i, in := range inputs {
		if in != nil {
			n.Inputs[i] = streamFormat(*in, mode, rate, period)
		}
	}
	return n, nil
}

// choosePeriod keeps the requested period unless an exclusive-mode device
// declares bounds that exclude it, in which case the smallest period every
// device can sustain is used.
func choosePeriod(want int, mode Mode, devs []*DeviceDescriptor) (int, bool) {
	if mode != Exclusive {
		return want, false
	}
	ok := true
	floor := 0
	for _, d := range devs {
		if d == nil {
			continue
		}
		if d.MinPeriodFrames > 0 && want < d.MinPeriodFrames {
			ok = false
		}
		if d.MaxPeriodFrames > 0 && want > d.MaxPeriodFrames {
			ok = false
		}
		if d.MinPeriodFrames > floor {
			floor = d.MinPeriodFrames
		}
	}
	if ok || floor == 0 {
		return want, false
	}
	return floor, floor != want
}

func streamFormat(d DeviceDescriptor, mode Mode, rate, period int) StreamFormat {
	ch := d.Channels
	if ch <= 0 {
		ch = 2
	}
	st := Float32
	if mode == Exclusive {
		st = d.SampleType
	}
	return StreamFormat{
		SampleRate:   rate,
		Channels:     ch,
		SampleType:   st,
		PeriodFrames: period,
	}
}
