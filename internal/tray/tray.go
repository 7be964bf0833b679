package tray

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/getlantern/systray"
	"github.com/rs/zerolog"

	"github.com/petems/audio-looper/internal/app"
	"github.com/petems/audio-looper/internal/audio"
	"github.com/petems/audio-looper/internal/config"
	"github.com/petems/audio-looper/internal/logging"
	"github.com/petems/audio-looper/internal/samples"
)

// menuRefresh is how often menu titles follow the looper state.
const menuRefresh = 250 * time.Millisecond

type UI struct {
	app     *app.App
	cfg     *config.Config
	version string
	commit  string
	log     zerolog.Logger

	// Menu items
	mRecord  *systray.MenuItem
	mPlay    *systray.MenuItem
	mEnable  *systray.MenuItem
	mNew     *systray.MenuItem
	mClear   *systray.MenuItem
	mDelete  *systray.MenuItem
	mSlots   *systray.MenuItem
	mInputs  *systray.MenuItem
	mOutputs *systray.MenuItem
	mMode    *systray.MenuItem

	mu          sync.Mutex
	slotItems   []*systray.MenuItem
	inputItems  []*systray.MenuItem
	outputItems []*systray.MenuItem
	stop        chan struct{}
}

// Status update methods for the app to call
func (u *UI) SetIdle() {
	u.updateStatus("idle")
}

func (u *UI) SetRecording() {
	u.updateStatus("recording")
}

func (u *UI) SetPlaying() {
	u.updateStatus("playing")
}

func (u *UI) SetError() {
	u.updateStatus("error")
}

func New(application *app.App, cfg *config.Config, log zerolog.Logger, version, commit string) *UI {
	return &UI{
		app:     application,
		cfg:     cfg,
		version: version,
		commit:  commit,
		log:     log.With().Str("component", "tray").Logger(),
		stop:    make(chan struct{}),
	}
}

// Run blocks running the tray until Quit is chosen or ctx is done. It must be
// called from the main goroutine.
func (u *UI) Run(ctx context.Context) error {
	go func() {
		select {
		case <-ctx.Done():
			systray.Quit()
		case <-u.stop:
		}
	}()
	systray.Run(u.onReady, u.onExit)
	return nil
}

func (u *UI) onReady() {
	// Status updates touch the tray, so they start once it exists.
	u.app.SetStatusUpdater(u)
	systray.SetTooltip("Multi-slot audio looper")

	// Build menu
	u.mRecord = systray.AddMenuItem("Record", "Record into the selected slot")
	u.mPlay = systray.AddMenuItem("Play", "Play every enabled slot")
	systray.AddSeparator()

	u.mSlots = systray.AddMenuItem("Slot", "Select the slot to record into")
	u.mEnable = systray.AddMenuItemCheckbox("Enabled", "Play the selected slot", false)
	u.mNew = systray.AddMenuItem("New Slot", "Add an empty slot")
	u.mClear = systray.AddMenuItem("Clear Slot", "Empty the selected slot")
	u.mDelete = systray.AddMenuItem("Delete Slot", "Remove the selected slot")
	systray.AddSeparator()

	u.mInputs = systray.AddMenuItem("Input Device", "Select the recording device")
	u.mOutputs = systray.AddMenuItem("Output Device", "Select the playback device")
	mRefresh := systray.AddMenuItem("Refresh Devices", "Enumerate audio devices again")
	u.mMode = systray.AddMenuItem(modeTitle(u.app.Mode()), "Toggle between hotkey modes")
	systray.AddSeparator()

	mLogs := systray.AddMenuItem("Open Logs", "View application logs")
	mAbout := systray.AddMenuItem("About", "About Audio Looper")
	mQuit := systray.AddMenuItem("Quit", "Exit application")

	u.refresh()

	go u.tick()
	go u.handleEvents(mRefresh, mLogs, mAbout, mQuit)
}

// tick drives the looper at the configured frame rate and keeps the menu in
// sync with it.
func (u *UI) tick() {
	frames := time.NewTicker(time.Second / time.Duration(u.cfg.Audio.FrameRate))
	defer frames.Stop()
	menu := time.NewTicker(menuRefresh)
	defer menu.Stop()

	for {
		select {
		case <-u.stop:
			return
		case now := <-frames.C:
			u.app.Update(now)
		case <-menu.C:
			u.refresh()
		}
	}
}

func (u *UI) handleEvents(mRefresh, mLogs, mAbout, mQuit *systray.MenuItem) {
	for {
		select {
		case <-u.stop:
			return
		case <-u.mRecord.ClickedCh:
			if err := u.app.ToggleRecord(); err != nil {
				u.log.Error().Err(err).Msg("Failed to toggle recording")
			}
		case <-u.mPlay.ClickedCh:
			u.app.TogglePlayback()
		case <-u.mEnable.ClickedCh:
			if err := u.app.ToggleSelectedEnabled(); err != nil {
				u.log.Error().Err(err).Msg("Failed to toggle slot")
			}
		case <-u.mNew.ClickedCh:
			u.app.NewSample()
		case <-u.mClear.ClickedCh:
			if err := u.app.ClearSample(u.app.State().Selected); err != nil {
				u.log.Error().Err(err).Msg("Failed to clear slot")
			}
		case <-u.mDelete.ClickedCh:
			if err := u.app.DeleteSample(u.app.State().Selected); err != nil {
				u.log.Error().Err(err).Msg("Failed to delete slot")
			}
		case <-mRefresh.ClickedCh:
			u.app.RefreshDevices()
		case <-u.mMode.ClickedCh:
			u.toggleMode()
		case <-mLogs.ClickedCh:
			u.openLogs()
		case <-mAbout.ClickedCh:
			u.showAbout()
		case <-mQuit.ClickedCh:
			systray.Quit()
			return
		}
		u.refresh()
	}
}

// refresh retitles the menu from a snapshot of the looper. Sub menu items
// cannot be removed, so surplus ones are hidden.
func (u *UI) refresh() {
	snap := u.app.Snapshot()

	u.mu.Lock()
	defer u.mu.Unlock()

	u.mRecord.SetTitle(recordTitle(snap.State))
	if snap.Playing {
		u.mPlay.SetTitle("Stop")
	} else {
		u.mPlay.SetTitle("Play")
	}

	if snap.Selected >= 0 && snap.Selected < len(snap.Slots) {
		u.mSlots.SetTitle("Slot: " + slotTitle(snap.Selected, snap.Slots[snap.Selected]))
		if snap.Slots[snap.Selected].Enabled {
			u.mEnable.Check()
		} else {
			u.mEnable.Uncheck()
		}
	} else {
		u.mSlots.SetTitle("Slot: None")
	}

	u.slotItems = u.syncItems(u.mSlots, u.slotItems, len(snap.Slots), func(i int) {
		if err := u.app.SelectSample(i); err != nil {
			u.log.Error().Err(err).Int("slot", i).Msg("Failed to select slot")
		}
	})
	for i, info := range snap.Slots {
		setItem(u.slotItems[i], slotTitle(i, info), i == snap.Selected)
	}

	u.inputItems = u.syncItems(u.mInputs, u.inputItems, len(snap.Inputs), func(i int) {
		if err := u.app.SelectInputDevice(i); err != nil {
			u.log.Error().Err(err).Msg("Failed to select input device")
		}
	})
	for i, dev := range snap.Inputs {
		setItem(u.inputItems[i], deviceTitle(dev), i == snap.SelectedInput)
	}

	u.outputItems = u.syncItems(u.mOutputs, u.outputItems, len(snap.Outputs), func(i int) {
		if err := u.app.SelectOutputDevice(i); err != nil {
			u.log.Error().Err(err).Msg("Failed to select output device")
		}
	})
	for i, dev := range snap.Outputs {
		setItem(u.outputItems[i], deviceTitle(dev), i == snap.SelectedOutput)
	}
}

// syncItems grows items to n sub items of parent, each calling onClick with
// its position, and hides the ones past n.
func (u *UI) syncItems(parent *systray.MenuItem, items []*systray.MenuItem, n int, onClick func(int)) []*systray.MenuItem {
	for len(items) < n {
		item := parent.AddSubMenuItemCheckbox("", "", false)
		go func(i int, menuItem *systray.MenuItem) {
			for {
				select {
				case <-u.stop:
					return
				case <-menuItem.ClickedCh:
					onClick(i)
					u.refresh()
				}
			}
		}(len(items), item)
		items = append(items, item)
	}
	for i, item := range items {
		if i < n {
			item.Show()
		} else {
			item.Hide()
		}
	}
	return items
}

func setItem(item *systray.MenuItem, title string, checked bool) {
	item.SetTitle(title)
	if checked {
		item.Check()
	} else {
		item.Uncheck()
	}
}

func (u *UI) toggleMode() {
	oldMode := u.app.Mode()
	newMode := config.ModePushToTalk
	if oldMode == config.ModePushToTalk {
		newMode = config.ModeToggle
	}
	u.app.SetMode(newMode)
	u.mMode.SetTitle(modeTitle(newMode))
	u.log.Info().Str("from", oldMode).Str("to", newMode).Msg("Changed mode")
}

func (u *UI) openLogs() {
	path := logging.LogPath()
	opener := "xdg-open"
	switch runtime.GOOS {
	case "darwin":
		opener = "open"
	case "windows":
		opener = "notepad"
	}
	if err := exec.Command(opener, path).Start(); err != nil {
		u.log.Error().Err(err).Str("path", path).Msg("Failed to open logs")
	}
}

func (u *UI) showAbout() {
	u.log.Info().Str("version", u.version).Str("commit", u.commit).Msg("Audio Looper")
}

func (u *UI) onExit() {
	close(u.stop)
}

// updateStatus sets the tray title with microphone emoji and status indicator
func (u *UI) updateStatus(status string) {
	emoji := emojiForStatus(status)
	systray.SetTitle(fmt.Sprintf("🎙 %s", emoji))
}

// emojiForStatus returns the appropriate status emoji
func emojiForStatus(status string) string {
	switch status {
	case "recording":
		return "🔴" // Red - recording
	case "playing":
		return "🔵" // Blue - loops playing
	case "idle":
		return "🟢" // Green - ready/idle
	case "error":
		return "⚪️" // White - error
	default:
		return "🟢" // Green - default to ready
	}
}

func modeTitle(mode string) string {
	if mode == config.ModePushToTalk {
		return "Hotkey: Push-to-Talk"
	}
	return "Hotkey: Toggle"
}

func recordTitle(s app.State) string {
	if s.Recording {
		return fmt.Sprintf("Stop Recording (slot %d)", s.Target)
	}
	return "Record"
}

// slotTitle renders a slot as its name, or its zero padded index when
// unnamed, with its recorded size.
func slotTitle(i int, info samples.Info) string {
	name := info.Name
	if name == "" {
		name = fmt.Sprintf("%04d", i)
	}
	return fmt.Sprintf("%s (%s)", name, humanize.IBytes(uint64(info.Len)))
}

func deviceTitle(dev audio.Device) string {
	return fmt.Sprintf("%s [%s]", dev.Name, dev.Format)
}
