// Package metrics exports session diagnostics to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/petems/externalcue/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Source is polled on every scrape.
type Source interface {
	PollDiagnostics() session.Diagnostics
}

var (
	stateDesc = prometheus.NewDesc("externalcue_session_state",
		"Current session state, 1 for the active state.", []string{"state"}, nil)
	overrunsDesc = prometheus.NewDesc("externalcue_capture_overruns_total",
		"Periods dropped by a capture stream on a full ring.", []string{"channel"}, nil)
	inputUnderrunsDesc = prometheus.NewDesc("externalcue_input_underruns_total",
		"Periods mixed without a block from an input.", []string{"channel"}, nil)
	skippedDesc = prometheus.NewDesc("externalcue_input_skipped_total",
		"Stale input blocks dropped to stay current.", []string{"channel"}, nil)
	gainDesc = prometheus.NewDesc("externalcue_channel_gain",
		"Gain applied to an input.", []string{"channel"}, nil)
	peakDesc = prometheus.NewDesc("externalcue_channel_peak",
		"Absolute peak of the last mixed block of an input.", []string{"channel"}, nil)
	listenDesc = prometheus.NewDesc("externalcue_channel_listen",
		"1 when an input is part of the mix.", []string{"channel"}, nil)
	mixOverrunsDesc = prometheus.NewDesc("externalcue_mix_overruns_total",
		"Mixed periods dropped on a full output ring.", nil, nil)
	underrunsDesc = prometheus.NewDesc("externalcue_render_underruns_total",
		"Render periods answered with silence.", nil, nil)
	callbacksDesc = prometheus.NewDesc("externalcue_render_callbacks_total",
		"Render device callbacks.", nil, nil)
	rateDesc = prometheus.NewDesc("externalcue_sample_rate_hertz",
		"Negotiated session sample rate.", nil, nil)
	periodDesc = prometheus.NewDesc("externalcue_period_frames",
		"Negotiated frames per period.", nil, nil)
)

var states = []session.State{
	session.Idle, session.Negotiating, session.Running, session.Degraded, session.Stopped,
}

// Collector turns one PollDiagnostics call into a scrape.
type Collector struct {
	src Source
}

func NewCollector(src Source) *Collector {
	return &Collector{src: src}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		stateDesc, overrunsDesc, inputUnderrunsDesc, skippedDesc,
		gainDesc, peakDesc, listenDesc, mixOverrunsDesc, underrunsDesc,
		callbacksDesc, rateDesc, periodDesc,
	} {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	d := c.src.PollDiagnostics()

	for _, s := range states {
		v := 0.0
		if s == d.State {
			v = 1
		}
		ch <- prometheus.MustNewConstMetric(stateDesc, prometheus.GaugeValue, v, s.String())
	}

	for i, snap := range d.Channels {
		label := snap.Channel.String()
		ch <- prometheus.MustNewConstMetric(overrunsDesc, prometheus.CounterValue, float64(d.Overruns[i]), label)
		ch <- prometheus.MustNewConstMetric(inputUnderrunsDesc, prometheus.CounterValue, float64(d.InputUnderruns[i]), label)
		ch <- prometheus.MustNewConstMetric(skippedDesc, prometheus.CounterValue, float64(d.Skipped[i]), label)
		ch <- prometheus.MustNewConstMetric(gainDesc, prometheus.GaugeValue, float64(snap.Gain), label)
		ch <- prometheus.MustNewConstMetric(peakDesc, prometheus.GaugeValue, float64(snap.Peak), label)
		listen := 0.0
		if snap.Listen {
			listen = 1
		}
		ch <- prometheus.MustNewConstMetric(listenDesc, prometheus.GaugeValue, listen, label)
	}

	ch <- prometheus.MustNewConstMetric(mixOverrunsDesc, prometheus.CounterValue, float64(d.MixOverruns))
	ch <- prometheus.MustNewConstMetric(underrunsDesc, prometheus.CounterValue, float64(d.Underruns))
	ch <- prometheus.MustNewConstMetric(callbacksDesc, prometheus.CounterValue, float64(d.Callbacks))
	ch <- prometheus.MustNewConstMetric(rateDesc, prometheus.GaugeValue, float64(d.Format.SampleRate))
	ch <- prometheus.MustNewConstMetric(periodDesc, prometheus.GaugeValue, float64(d.Format.PeriodFrames))
}

// NewRegistry returns a registry with the session collector and the
// process and Go runtime collectors.
func NewRegistry(src Source) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(NewCollector(src))
	return reg
}

// Serve exposes reg on addr under /metrics until ctx is done.
func Serve(ctx context.Context, addr string, reg *prometheus.Registry, log zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.InstrumentMetricHandler(
		reg, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	))
	hs := http.Server{
		Addr:              addr,
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Info().Str("addr", addr).Msg("Exposing prometheus metrics")
	go func() {
		<-ctx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		hs.Shutdown(ctx)
	}()
	if err := hs.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
