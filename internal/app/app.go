package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/petems/audio-looper/internal/audio"
	"github.com/petems/audio-looper/internal/catalog"
	"github.com/petems/audio-looper/internal/config"
	"github.com/petems/audio-looper/internal/metrics"
	"github.com/petems/audio-looper/internal/samples"
	"github.com/petems/audio-looper/internal/session"
)

type Mode int

const (
	PushToTalk Mode = iota
	Toggle
)

// StatusUpdater is an interface for updating status (e.g., tray icon)
type StatusUpdater interface {
	SetIdle()
	SetRecording()
	SetPlaying()
	SetError()
}

// State is the recorder state. Recording and Playing are independent.
type State struct {
	Recording bool
	Playing   bool
	Target    int // slot being recorded into, -1 until the first recording
	Selected  int // -1 when there are no slots
}

type Config struct {
	Session       *session.Session
	Store         *samples.Store
	Catalog       *catalog.Catalog
	Config        *config.Config
	Logger        zerolog.Logger
	Metrics       *metrics.Metrics // Optional
	StatusUpdater StatusUpdater    // Optional - can be nil
}

// App is the looper state machine. All methods are safe for concurrent use;
// a single mutex guards the session and the sample store.
type App struct {
	session *session.Session
	store   *samples.Store
	catalog *catalog.Catalog
	cfg     *config.Config
	log     zerolog.Logger
	metrics *metrics.Metrics
	status  StatusUpdater

	mu       sync.Mutex
	state    State
	frames   uint64
	lastTick time.Time
	tickTime time.Duration
}

func New(cfg Config) *App {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	if cfg.Config == nil {
		cfg.Config = config.Default()
	}
	a := &App{
		session: cfg.Session,
		store:   cfg.Store,
		catalog: cfg.Catalog,
		cfg:     cfg.Config,
		log:     cfg.Logger.With().Str("component", "app").Logger(),
		metrics: cfg.Metrics,
		status:  cfg.StatusUpdater,
		state:   State{Target: -1, Selected: -1},
	}
	if a.store.Len() > 0 {
		a.state.Selected = 0
	}
	return a
}

// SetStatusUpdater sets the status receiver (for circular dependency
// resolution between the app and its host).
func (a *App) SetStatusUpdater(s StatusUpdater) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = s
	a.reportStatusLocked()
}

// Start creates the configured number of slots and opens the configured
// output and input devices. Device failures are logged and leave the
// device unselected; the looper stays usable.
func (a *App) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for a.store.Len() < a.cfg.Audio.Slots {
		a.newSampleLocked()
	}
	if a.state.Selected == -1 && a.store.Len() > 0 {
		a.state.Selected = 0
	}
	a.metrics.Slots.Set(float64(a.store.Len()))

	if i := a.pickDevice(audio.Output, a.cfg.Audio.OutputDevice); i >= 0 {
		if err := a.session.SelectOutputDevice(i); err != nil {
			a.log.Error().Err(err).Msg("Failed to select output device")
		}
	}
	if i := a.pickDevice(audio.Input, a.cfg.Audio.InputDevice); i >= 0 {
		if err := a.session.SelectInputDevice(i); err != nil {
			a.log.Error().Err(err).Msg("Failed to select input device")
		}
	}
	a.reportStatusLocked()
}

// pickDevice finds the configured device by name, falling back to the
// default device.
func (a *App) pickDevice(dir audio.Direction, name string) int {
	if name != "" {
		if i := a.catalog.FindByName(dir, name); i >= 0 {
			return i
		}
		a.log.Warn().Stringer("direction", dir).Str("device", name).
			Msg("Configured device not found, using default")
	}
	return a.catalog.Default(dir)
}

// ToggleRecord stops recording when recording, otherwise starts recording
// into the selected slot.
func (a *App) ToggleRecord() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state.Recording {
		a.stopRecordingLocked()
		return nil
	}
	return a.startRecordingLocked()
}

func (a *App) startRecordingLocked() error {
	if a.state.Recording {
		return nil
	}
	if err := audio.CheckIndex("slot", a.state.Selected, a.store.Len()); err != nil {
		return err
	}
	if err := a.session.ResumeCapture(); err != nil {
		a.log.Error().Err(err).Msg("Failed to start recording")
		if a.status != nil {
			a.status.SetError()
		}
		return fmt.Errorf("failed to start recording: %w", err)
	}

	a.state.Recording = true
	a.state.Target = a.state.Selected
	a.log.Info().Int("slot", a.state.Target).Msg("Started recording")
	a.reportStatusLocked()
	return nil
}

func (a *App) stopRecordingLocked() {
	if !a.state.Recording {
		return
	}
	if err := a.session.PauseCapture(); err != nil {
		a.log.Warn().Err(err).Msg("Failed to pause capture")
	}
	a.state.Recording = false
	a.log.Info().Int("slot", a.state.Target).Msg("Stopped recording")
	a.reportStatusLocked()
}

// SelectSample selects slot i. Selecting the slot being recorded stops the
// recording; selecting another slot while recording stops the recording
// and does not start a new one.
func (a *App) SelectSample(i int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.selectSampleLocked(i)
}

func (a *App) selectSampleLocked(i int) error {
	if err := audio.CheckIndex("slot", i, a.store.Len()); err != nil {
		return err
	}
	a.stopRecordingLocked()
	a.state.Selected = i
	return nil
}

// PressSlotKey handles digit key j: pressing the selected slot's key
// toggles recording, any other key selects that slot.
func (a *App) PressSlotKey(j int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if j == a.state.Selected {
		if a.state.Recording {
			a.stopRecordingLocked()
			return nil
		}
		return a.startRecordingLocked()
	}
	return a.selectSampleLocked(j)
}

// TogglePlayback starts or stops playback of the enabled slots. Every loop
// restarts from its beginning when playback starts.
func (a *App) TogglePlayback() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.state.Playing = !a.state.Playing
	if a.state.Playing {
		a.store.Rewind()
		a.log.Info().Msg("Started playback")
	} else {
		a.session.Mute()
		a.log.Info().Msg("Stopped playback")
	}
	a.reportStatusLocked()
}

// ToggleSlotEnabled flips whether slot i is played.
func (a *App) ToggleSlotEnabled(i int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.toggleSlotEnabledLocked(i)
}

func (a *App) toggleSlotEnabledLocked(i int) error {
	enabled, err := a.store.Enabled(i)
	if err != nil {
		return err
	}
	if err := a.store.SetEnabled(i, !enabled); err != nil {
		return err
	}
	if enabled {
		a.session.MuteSlot(i)
	}
	return nil
}

// ToggleSelectedEnabled flips the enabled flag of the selected slot.
func (a *App) ToggleSelectedEnabled() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.toggleSlotEnabledLocked(a.state.Selected)
}

// NewSample appends an empty slot and binds it to the output device.
func (a *App) NewSample() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	i := a.newSampleLocked()
	if a.state.Selected == -1 {
		a.state.Selected = i
	}
	return i
}

func (a *App) newSampleLocked() int {
	i := a.store.CreateSlot("")
	if err := a.session.BindSlot(i); err != nil {
		a.log.Warn().Err(err).Int("slot", i).Msg("New slot has no playback stream")
	}
	a.metrics.Slots.Set(float64(a.store.Len()))
	return i
}

// DeleteSample removes slot i. Recording stops when i is the target, and
// the selection and target are shifted to keep pointing at the same slots,
// clamped to the remaining ones.
func (a *App) DeleteSample(i int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := audio.CheckIndex("slot", i, a.store.Len()); err != nil {
		return err
	}
	if a.state.Recording && a.state.Target == i {
		a.stopRecordingLocked()
	}
	if err := a.store.DeleteSlot(i); err != nil {
		return err
	}

	a.state.Selected = adjustIndex(a.state.Selected, i, a.store.Len())
	a.state.Target = adjustIndex(a.state.Target, i, a.store.Len())
	a.metrics.Slots.Set(float64(a.store.Len()))
	a.log.Info().Int("slot", i).Msg("Deleted slot")
	return nil
}

// adjustIndex maps idx to the slot list after deleting slot deleted, n
// being the new slot count.
func adjustIndex(idx, deleted, n int) int {
	switch {
	case idx < 0:
		return idx
	case idx > deleted:
		idx--
	}
	if idx >= n {
		idx = n - 1
	}
	return idx
}

// ClearSample empties slot i.
func (a *App) ClearSample(i int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.store.Clear(i); err != nil {
		return err
	}
	a.session.MuteSlot(i)
	return nil
}

// RenameSample sets the display name of slot i.
func (a *App) RenameSample(i int, name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.store.SetName(i, name)
}

// SelectOutputDevice switches the output device. Recording stops first
// since the capture stream is rebuilt with the output.
func (a *App) SelectOutputDevice(i int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	dev, err := a.catalog.Device(audio.Output, i)
	if err != nil {
		return err
	}
	a.stopRecordingLocked()
	err = a.session.SelectOutputDevice(i)
	a.rememberDevice(audio.Output, dev)
	return err
}

// SelectInputDevice switches the input device, stopping any recording.
func (a *App) SelectInputDevice(i int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	dev, err := a.catalog.Device(audio.Input, i)
	if err != nil {
		return err
	}
	a.stopRecordingLocked()
	err = a.session.SelectInputDevice(i)
	a.rememberDevice(audio.Input, dev)
	return err
}

// rememberDevice saves the selected device name. Only that field is
// written, so command-line overrides stay out of the config file.
func (a *App) rememberDevice(dir audio.Direction, dev audio.Device) {
	field := func(c *config.Config) *string { return &c.Audio.InputDevice }
	if dir == audio.Output {
		field = func(c *config.Config) *string { return &c.Audio.OutputDevice }
	}
	if *field(a.cfg) == dev.Name {
		return
	}
	err := a.cfg.Update(func(c *config.Config) { *field(c) = dev.Name })
	if err != nil {
		a.log.Warn().Err(err).Msg("Failed to save config")
	}
}

// RefreshDevices re-enumerates devices. Opened devices stay open.
func (a *App) RefreshDevices() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.session.RefreshDevices()
}

// Update runs one host frame: it drains captured audio into the recording
// target and keeps the playback streams fed.
func (a *App) Update(now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.lastTick.IsZero() {
		a.tickTime = now.Sub(a.lastTick)
	}
	a.lastTick = now
	a.frames++

	if a.state.Recording {
		// Errors are logged by the session and retried next frame.
		_, _ = a.session.Drain(a.state.Target)
	}
	a.session.Feed(a.state.Playing)

	metrics.SetBool(a.metrics.Recording, a.state.Recording)
	metrics.SetBool(a.metrics.Playing, a.state.Playing)
}

// OnHotkey handles the global record hotkey.
func (a *App) OnHotkey(pressed bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	mode := PushToTalk
	if a.cfg.Mode == config.ModeToggle {
		mode = Toggle
	}

	var err error
	switch mode {
	case PushToTalk:
		if pressed {
			err = a.startRecordingLocked()
		} else {
			a.stopRecordingLocked()
		}
	case Toggle:
		if !pressed {
			return
		}
		if !a.state.Recording {
			err = a.startRecordingLocked()
		} else {
			a.stopRecordingLocked()
		}
	}
	if err != nil {
		a.log.Error().Err(err).Msg("Hotkey failed")
	}
}

// SetMode switches the hotkey mode and saves it.
func (a *App) SetMode(mode string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.cfg.Update(func(c *config.Config) { c.Mode = mode }); err != nil {
		a.log.Warn().Err(err).Msg("Failed to save config")
	}
}

func (a *App) Mode() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg.Mode
}

func (a *App) reportStatusLocked() {
	if a.status == nil {
		return
	}
	switch {
	case a.state.Recording:
		a.status.SetRecording()
	case a.state.Playing:
		a.status.SetPlaying()
	default:
		a.status.SetIdle()
	}
}

// State returns the current recorder state.
func (a *App) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *App) IsRecording() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.Recording
}

// Snapshot is a copy of everything a host displays.
type Snapshot struct {
	State
	Slots          []samples.Info
	Inputs         []audio.Device
	Outputs        []audio.Device
	SelectedInput  int
	SelectedOutput int
	OutputFormat   audio.Format
	OutputOpen     bool
	InputOpen      bool
	Frames         uint64
	FrameTime      time.Duration
}

func (a *App) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	format, open := a.session.OutputFormat()
	return Snapshot{
		State:          a.state,
		Slots:          a.store.Infos(),
		Inputs:         a.catalog.Inputs(),
		Outputs:        a.catalog.Outputs(),
		SelectedInput:  a.session.SelectedInput(),
		SelectedOutput: a.session.SelectedOutput(),
		OutputFormat:   format,
		OutputOpen:     open,
		InputOpen:      a.session.InputOpen(),
		Frames:         a.frames,
		FrameTime:      a.tickTime,
	}
}

// ListDevices returns the catalog's devices for dir.
func (a *App) ListDevices(dir audio.Direction) []audio.Device {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.catalog.Devices(dir)
}

// Shutdown stops recording and playback and releases every device.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stopRecordingLocked()
	if a.state.Playing {
		a.state.Playing = false
		a.session.Mute()
	}
	a.session.Close()
	a.log.Info().Msg("Released audio devices")
	return nil
}
