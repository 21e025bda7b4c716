package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/jessevdk/go-flags"
	"github.com/petems/externalcue/internal/audio"
	"github.com/petems/externalcue/internal/config"
	"github.com/petems/externalcue/internal/logging"
	"github.com/petems/externalcue/internal/metrics"
	"github.com/petems/externalcue/internal/permissions"
	"github.com/petems/externalcue/internal/session"
	"github.com/petems/externalcue/internal/tray"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	// Version is set via ldflags at build time
	Version = "dev"
	// Commit is set via ldflags at build time
	Commit = "unknown"
)

type options struct {
	ConfigFile string `long:"config" description:"Settings file (default: platform config dir)"`
	List       bool   `long:"list" description:"List audio devices and exit"`
	Headless   bool   `long:"headless" description:"Route without the tray until interrupted"`
	Save       bool   `long:"save" description:"Write the effective settings back to the settings file"`

	InputA string `long:"input-a" description:"Input A device id or name"`
	InputB string `long:"input-b" description:"Input B device id or name (optional)"`
	Output string `long:"output" description:"Output device id or name"`
	Mode   string `long:"mode" choice:"shared" choice:"exclusive" description:"Device access mode"`

	Backend      string `long:"backend" choice:"auto" choice:"malgo" choice:"portaudio" choice:"wavfile" description:"Audio backend"`
	PeriodFrames int    `long:"period" description:"Frames per period"`
	WavDir       string `long:"wav-dir" description:"Directory of WAV files used as inputs (wavfile backend)"`
	WavOut       string `long:"wav-out" description:"WAV file written as output (wavfile backend)"`

	Metrics  string `long:"metrics" description:"Serve Prometheus metrics on this address, e.g. 127.0.0.1:9464"`
	LogLevel string `long:"log-level" description:"Log level (debug, info, warn, error)"`
	Version  bool   `short:"V" long:"version" description:"Print version and exit"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		os.Exit(1)
	}
	if opts.Version {
		fmt.Printf("externalcue %s (%s)\n", Version, Commit)
		return
	}
	if err := run(opts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(opts options) error {
	// Load config from XDG/Library/AppData
	var (
		cfg *config.Config
		err error
	)
	if opts.ConfigFile != "" {
		cfg, err = config.LoadFile(opts.ConfigFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	applyFlags(cfg, opts)

	// Initialize logger with configured level
	log := logging.NewWithLevel(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		return err
	}
	if opts.Save {
		if err := cfg.Save(); err != nil {
			return fmt.Errorf("saving settings: %w", err)
		}
		log.Info().Str("path", cfg.Path()).Msg("Saved settings")
	}

	// macOS requires explicit microphone approval before capture works
	if cfg.Backend != audio.BackendWavFile {
		if err := permissions.EnsureMicrophone(log); err != nil {
			return err
		}
	}

	backend, err := audio.New(audio.Options{
		Backend:     cfg.Backend,
		Logger:      log,
		WavDir:      cfg.Wav.Dir,
		WavOut:      cfg.Wav.Out,
		WavRate:     cfg.Wav.Rate,
		WavChannels: cfg.Wav.Channels,
	})
	if err != nil {
		return fmt.Errorf("initializing audio: %w", err)
	}
	defer backend.Close()

	ctl := session.New(session.Config{
		Backend:      backend,
		Logger:       log,
		PeriodFrames: cfg.Audio.PeriodFrames,
		FallbackRate: cfg.Audio.FallbackRate,
		RingSlots:    cfg.Audio.RingSlots,
		LagLimit:     cfg.Audio.LagLimit,
	})
	defer ctl.Close()

	if opts.List {
		return listDevices(os.Stdout, ctl)
	}

	// Setup shutdown signal handling
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", Version).Str("backend", backend.Name()).Msg("externalcue starting...")

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Addr != "" {
		reg := metrics.NewRegistry(ctl)
		g.Go(func() error { return metrics.Serve(gctx, cfg.Metrics.Addr, reg, log) })
	}

	if opts.Headless {
		g.Go(func() error { return runHeadless(gctx, ctl, cfg, log) })
		return g.Wait()
	}

	// Start tray UI - MUST run on main thread
	trayUI := tray.New(ctl, cfg, log, Version, Commit)
	if err := trayUI.Run(gctx); err != nil {
		return fmt.Errorf("tray: %w", err)
	}
	stop()
	return g.Wait()
}

// applyFlags overrides file settings with the flags that were given.
func applyFlags(cfg *config.Config, opts options) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Devices.InputA, opts.InputA)
	set(&cfg.Devices.InputB, opts.InputB)
	set(&cfg.Devices.Output, opts.Output)
	set(&cfg.Mode, opts.Mode)
	set(&cfg.Backend, opts.Backend)
	set(&cfg.Wav.Dir, opts.WavDir)
	set(&cfg.Wav.Out, opts.WavOut)
	set(&cfg.Metrics.Addr, opts.Metrics)
	set(&cfg.LogLevel, opts.LogLevel)
	if opts.PeriodFrames > 0 {
		cfg.Audio.PeriodFrames = opts.PeriodFrames
	}
}

// runHeadless starts one session and keeps it until ctx is done, logging
// state changes.
func runHeadless(ctx context.Context, ctl *session.Controller, cfg *config.Config, log zerolog.Logger) error {
	mode, err := audio.ParseMode(cfg.Mode)
	if err != nil {
		return err
	}
	states, unsubscribe := ctl.Subscribe()
	defer unsubscribe()

	err = ctl.Start(ctx, session.StartRequest{
		InputA: cfg.Devices.InputA,
		InputB: cfg.Devices.InputB,
		Output: cfg.Devices.Output,
		Mode:   mode,
	})
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Shutting down...")
			if err := ctl.Stop(); err != nil && !errors.Is(err, session.ErrNotRunning) {
				return err
			}
			d := ctl.PollDiagnostics()
			log.Info().
				Uint64("underruns", d.Underruns).
				Uint64("overruns_a", d.Overruns[session.ChannelA]).
				Uint64("overruns_b", d.Overruns[session.ChannelB]).
				Msg("Final counters")
			return nil
		case s, ok := <-states:
			if !ok {
				return nil
			}
			if s.State == session.Degraded {
				log.Error().Str("reason", s.Reason).Msg("Routing degraded, stop and restart to recover")
			}
		}
	}
}

func listDevices(w io.Writer, ctl *session.Controller) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, dir := range []audio.Direction{audio.Input, audio.Output} {
		devs, err := ctl.ListDevices(dir)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s devices:\n", dir)
		for _, d := range devs {
			def := ""
			if d.Default {
				def = "*"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", def, d.ID, d.Name, rateLabel(d.NativeRate), modesLabel(d.Modes))
		}
	}
	return tw.Flush()
}

func rateLabel(rate int) string {
	if rate == 0 {
		return "any rate"
	}
	return fmt.Sprintf("%d Hz", rate)
}

func modesLabel(modes []audio.Mode) string {
	s := ""
	for i, m := range modes {
		if i > 0 {
			s += ","
		}
		s += m.String()
	}
	return s
}
