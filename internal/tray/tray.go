package tray

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/atotto/clipboard"
	"github.com/getlantern/systray"
	"github.com/petems/externalcue/internal/audio"
	"github.com/petems/externalcue/internal/config"
	"github.com/petems/externalcue/internal/session"
	"github.com/rs/zerolog"
)

// Controller is the session surface the tray drives.
type Controller interface {
	Start(ctx context.Context, req session.StartRequest) error
	Stop() error
	SetListen(ch session.Channel, on bool) error
	ListDevices(dir audio.Direction) ([]audio.DeviceDescriptor, error)
	PollDiagnostics() session.Diagnostics
	Subscribe() (<-chan session.Status, func())
}

type UI struct {
	ctl     Controller
	cfg     *config.Config
	version string
	commit  string
	log     zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc

	// Menu items
	mStartStop *systray.MenuItem
	mListen    [2]*systray.MenuItem
	mMode      *systray.MenuItem
	mInputA    *systray.MenuItem
	mInputB    *systray.MenuItem
	mOutput    *systray.MenuItem
	mStatus    *systray.MenuItem
}

func New(ctl Controller, cfg *config.Config, log zerolog.Logger, version, commit string) *UI {
	return &UI{
		ctl:     ctl,
		cfg:     cfg,
		version: version,
		commit:  commit,
		log:     log,
	}
}

// Run blocks on the systray event loop. It must be called from the main
// goroutine.
func (u *UI) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	u.mu.Lock()
	u.cancel = cancel
	u.mu.Unlock()

	go func() {
		<-ctx.Done()
		systray.Quit()
	}()
	systray.Run(func() { u.onReady(ctx) }, u.onExit)
	return nil
}

func (u *UI) onReady(ctx context.Context) {
	initial := currentStatus(u.ctl)
	u.updateStatus(initial)
	systray.SetTooltip("Two input audio router")

	// Build menu
	u.mStartStop = systray.AddMenuItem("Start Routing", "Open the selected devices and start mixing")
	u.mStatus = systray.AddMenuItem(statusLine(initial), "")
	u.mStatus.Disable()
	systray.AddSeparator()

	u.mListen[session.ChannelA] = systray.AddMenuItemCheckbox("Listen A", "Include input A in the mix", true)
	u.mListen[session.ChannelB] = systray.AddMenuItemCheckbox("Listen B", "Include input B in the mix", true)
	systray.AddSeparator()

	u.mMode = systray.AddMenuItem(modeTitle(u.cfg.Mode), "Switch between shared and exclusive device access")

	u.mInputA = systray.AddMenuItem("Input A", "Select input A")
	u.buildDeviceMenu(u.mInputA, audio.Input, false, &u.cfg.Devices.InputA)
	u.mInputB = systray.AddMenuItem("Input B", "Select input B")
	u.buildDeviceMenu(u.mInputB, audio.Input, true, &u.cfg.Devices.InputB)
	u.mOutput = systray.AddMenuItem("Output", "Select output device")
	u.buildDeviceMenu(u.mOutput, audio.Output, false, &u.cfg.Devices.Output)

	systray.AddSeparator()
	mCopy := systray.AddMenuItem("Copy Diagnostics", "Copy session counters to the clipboard")
	mAbout := systray.AddMenuItem("About", "About externalcue")
	mQuit := systray.AddMenuItem("Quit", "Exit application")

	states, unsubscribe := u.ctl.Subscribe()
	go u.watchStatus(states)

	// Event loop
	go u.handleEvents(ctx, unsubscribe, mCopy, mAbout, mQuit)

	if u.cfg.StartOnRun {
		u.start(ctx)
	}
}

func (u *UI) handleEvents(ctx context.Context, unsubscribe func(), mCopy, mAbout, mQuit *systray.MenuItem) {
	defer unsubscribe()
	for {
		select {
		case <-u.mStartStop.ClickedCh:
			u.toggleRunning(ctx)
		case <-u.mListen[session.ChannelA].ClickedCh:
			u.toggleListen(session.ChannelA)
		case <-u.mListen[session.ChannelB].ClickedCh:
			u.toggleListen(session.ChannelB)
		case <-u.mMode.ClickedCh:
			u.toggleMode()
		case <-mCopy.ClickedCh:
			u.copyDiagnostics()
		case <-mAbout.ClickedCh:
			u.showAbout()
		case <-mQuit.ClickedCh:
			systray.Quit()
			return
		case <-ctx.Done():
			return
		}
	}
}

func (u *UI) watchStatus(states <-chan session.Status) {
	for s := range states {
		u.updateStatus(s)
		running := s.State == session.Running || s.State == session.Degraded
		if running {
			u.mStartStop.SetTitle("Stop Routing")
		} else {
			u.mStartStop.SetTitle("Start Routing")
		}
		u.mStatus.SetTitle(statusLine(s))
	}
}

// buildDeviceMenu fills parent with one checkable item per device. The
// selection is written to *sel and saved.
func (u *UI) buildDeviceMenu(parent *systray.MenuItem, dir audio.Direction, optional bool, sel *string) {
	devices, err := u.ctl.ListDevices(dir)
	if err != nil {
		u.log.Error().Err(err).Str("direction", dir.String()).Msg("Failed to list audio devices")
		return
	}

	entries := deviceEntries(devices, optional)
	items := make(map[string]*systray.MenuItem, len(entries))
	var mu sync.Mutex

	for _, e := range entries {
		item := parent.AddSubMenuItemCheckbox(e.label, e.id, e.id == *sel || (*sel == "" && e.isDefault))
		items[e.id] = item

		go func(id, label string, menuItem *systray.MenuItem) {
			for range menuItem.ClickedCh {
				mu.Lock()
				// Uncheck all other items
				for other, itm := range items {
					if other != id {
						itm.Uncheck()
					}
				}
				menuItem.Check()
				*sel = id
				mu.Unlock()

				if err := u.cfg.Save(); err != nil {
					u.log.Error().Err(err).Msg("Failed to save config")
				}
				u.log.Info().Str("device", label).Str("direction", dir.String()).Msg("Changed audio device")
			}
		}(e.id, e.label, item)
	}
}

type deviceEntry struct {
	id        string
	label     string
	isDefault bool
}

// deviceEntries lists menu entries for devices. An optional selection gets a
// leading "None" entry with an empty id.
func deviceEntries(devices []audio.DeviceDescriptor, optional bool) []deviceEntry {
	var out []deviceEntry
	if optional {
		out = append(out, deviceEntry{label: "None"})
	}
	for _, d := range devices {
		label := d.Name
		if label == "" {
			label = d.ID
		}
		if d.NativeRate > 0 {
			label = fmt.Sprintf("%s (%d Hz)", label, d.NativeRate)
		}
		out = append(out, deviceEntry{id: d.ID, label: label, isDefault: d.Default})
	}
	return out
}

func (u *UI) toggleRunning(ctx context.Context) {
	switch u.ctl.PollDiagnostics().State {
	case session.Running, session.Degraded:
		if err := u.ctl.Stop(); err != nil {
			u.log.Error().Err(err).Msg("Failed to stop session")
		}
	default:
		u.start(ctx)
	}
}

func (u *UI) start(ctx context.Context) {
	if err := startSession(ctx, u.ctl, u.cfg, u.log); err != nil {
		u.mStatus.SetTitle(startFailedLine(err))
		return
	}
	for _, item := range u.mListen {
		item.Check()
	}
}

// startSession starts routing with the devices selected in cfg and logs
// any failure.
func startSession(ctx context.Context, ctl Controller, cfg *config.Config, log zerolog.Logger) error {
	mode, err := audio.ParseMode(cfg.Mode)
	if err != nil {
		log.Error().Err(err).Msg("Invalid mode in config")
		return err
	}
	req := session.StartRequest{
		InputA: cfg.Devices.InputA,
		InputB: cfg.Devices.InputB,
		Output: cfg.Devices.Output,
		Mode:   mode,
	}
	if err := ctl.Start(ctx, req); err != nil {
		log.Error().Err(err).Msg("Failed to start routing")
		return err
	}
	return nil
}

func startFailedLine(err error) string {
	return "Not started: " + err.Error()
}

func (u *UI) toggleListen(ch session.Channel) {
	item := u.mListen[ch]
	on := !item.Checked()
	if err := u.ctl.SetListen(ch, on); err != nil {
		u.log.Warn().Err(err).Str("channel", ch.String()).Msg("Cannot change listen state")
		return
	}
	if on {
		item.Check()
	} else {
		item.Uncheck()
	}
	u.log.Info().Str("channel", ch.String()).Bool("listen", on).Msg("Changed listen state")
}

func (u *UI) toggleMode() {
	oldMode := u.cfg.Mode
	u.cfg.Mode = nextMode(u.cfg.Mode)
	u.mMode.SetTitle(modeTitle(u.cfg.Mode))
	if err := u.cfg.Save(); err != nil {
		u.log.Error().Err(err).Msg("Failed to save config")
	}
	u.log.Info().Str("from", oldMode).Str("to", u.cfg.Mode).Msg("Changed mode, applies on next start")
}

func (u *UI) copyDiagnostics() {
	text := FormatDiagnostics(u.ctl.PollDiagnostics())
	if err := clipboard.WriteAll(text); err != nil {
		u.log.Error().Err(err).Msg("Failed to copy diagnostics")
		return
	}
	u.log.Info().Msg("Copied diagnostics to clipboard")
}

func (u *UI) showAbout() {
	u.log.Info().Str("version", u.version).Str("commit", u.commit).Msg("externalcue, two input audio router")
}

func (u *UI) onExit() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.cancel != nil {
		u.cancel()
	}
}

// updateStatus sets the tray title with a speaker emoji and status indicator
func (u *UI) updateStatus(s session.Status) {
	systray.SetTitle(fmt.Sprintf("🔈 %s", emojiForState(s.State)))
}

// emojiForState returns the appropriate status emoji
func emojiForState(s session.State) string {
	switch s {
	case session.Running:
		return "🟢" // Green - routing
	case session.Negotiating:
		return "🟡" // Yellow - opening devices
	case session.Degraded:
		return "🔴" // Red - device lost or stalled
	default:
		return "⚪️" // White - idle
	}
}

func currentStatus(ctl Controller) session.Status {
	d := ctl.PollDiagnostics()
	return session.Status{State: d.State, Reason: d.Reason}
}

func statusLine(s session.Status) string {
	title := strings.ToUpper(s.State.String()[:1]) + s.State.String()[1:]
	if s.Reason != "" {
		return title + ": " + s.Reason
	}
	return title
}

func nextMode(mode string) string {
	if strings.EqualFold(mode, "exclusive") {
		return "shared"
	}
	return "exclusive"
}

func modeTitle(mode string) string {
	if strings.EqualFold(mode, "exclusive") {
		return "Mode: Exclusive"
	}
	return "Mode: Shared"
}

// FormatDiagnostics renders d as plain text for bug reports.
func FormatDiagnostics(d session.Diagnostics) string {
	var b strings.Builder
	fmt.Fprintf(&b, "state: %s\n", d.State)
	if d.Reason != "" {
		fmt.Fprintf(&b, "reason: %s\n", d.Reason)
	}
	if d.Format.SampleRate > 0 {
		fmt.Fprintf(&b, "mode: %s\nformat: %s\n", d.Mode, d.Format)
		if d.PeriodAdjusted {
			b.WriteString("period adjusted to device limits\n")
		}
		fmt.Fprintf(&b, "output: %s\n", d.Output)
	}
	for i, c := range d.Channels {
		dev := c.Device
		if dev == "" {
			dev = "none"
		}
		fmt.Fprintf(&b, "input %s: %s gain=%.2f listen=%t active=%t overruns=%d underruns=%d skipped=%d\n",
			c.Channel, dev, c.Gain, c.Listen, c.Active, d.Overruns[i], d.InputUnderruns[i], d.Skipped[i])
	}
	fmt.Fprintf(&b, "render: callbacks=%d underruns=%d mix_overruns=%d", d.Callbacks, d.Underruns, d.MixOverruns)
	if d.Fault != audio.NoFault {
		fmt.Fprintf(&b, " fault=%s", d.Fault)
	}
	b.WriteString("\n")
	return b.String()
}
