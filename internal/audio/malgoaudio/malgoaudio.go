//go:build cgo && !noaudio

// Package malgoaudio implements the audio backend on top of miniaudio.
package malgoaudio

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"

	"github.com/petems/audio-looper/internal/audio"
)

// Name is the registry name of this backend.
const Name = "malgo"

// periodsPerSecond matches miniaudio's default 10ms period.
const periodsPerSecond = 100

var fallbackFormat = audio.Format{
	Channels:   2,
	SampleRate: 48000,
	Encoding:   audio.EncodingS16,
	ByteOrder:  audio.LittleEndian,
}

func init() {
	audio.Register(Name, New)
}

// emptyDeviceID is an empty malgo device id.
var emptyDeviceID malgo.DeviceID

func toMalgoDeviceID(id audio.DeviceID) malgo.DeviceID {
	var res malgo.DeviceID
	copy(res[:], id)
	return res
}

func toMalgoType(dir audio.Direction) malgo.DeviceType {
	if dir == audio.Output {
		return malgo.Playback
	}
	return malgo.Capture
}

func toMalgoFormat(e audio.Encoding) (malgo.FormatType, bool) {
	switch e {
	case audio.EncodingU8:
		return malgo.FormatU8, true
	case audio.EncodingS16:
		return malgo.FormatS16, true
	case audio.EncodingS32:
		return malgo.FormatS32, true
	case audio.EncodingF32:
		return malgo.FormatF32, true
	default:
		return malgo.FormatUnknown, false
	}
}

func fromMalgoFormat(f malgo.FormatType) audio.Encoding {
	switch f {
	case malgo.FormatU8:
		return audio.EncodingU8
	case malgo.FormatS16:
		return audio.EncodingS16
	case malgo.FormatS32:
		return audio.EncodingS32
	case malgo.FormatF32:
		return audio.EncodingF32
	default:
		return audio.EncodingUnknown
	}
}

// Backend drives miniaudio through a single allocated context.
type Backend struct {
	log      zerolog.Logger
	malgoCtx *malgo.AllocatedContext
}

// New initializes a miniaudio context.
func New(log zerolog.Logger) (audio.Backend, error) {
	malgoCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize miniaudio context: %w", err)
	}
	return &Backend{
		log:      log.With().Str("backend", Name).Logger(),
		malgoCtx: malgoCtx,
	}, nil
}

func (b *Backend) Name() string { return Name }

// Devices is part of the audio.Backend interface.
func (b *Backend) Devices(dir audio.Direction) ([]audio.Device, error) {
	typ := toMalgoType(dir)
	devices, err := b.malgoCtx.Devices(typ)
	if err != nil {
		return nil, err
	}

	res := make([]audio.Device, 0, len(devices))
	seen := make(map[audio.DeviceID]struct{}, len(devices))
	for _, dev := range devices {
		full, err := b.malgoCtx.DeviceInfo(typ, dev.ID, malgo.Shared)
		if err != nil {
			b.log.Warn().Err(err).Str("device", dev.Name()).Msg("Unable to get audio device info")
			continue
		}

		// Avoid duplicate device IDs.
		id := audio.DeviceID(string(append([]byte(nil), full.ID[:]...)))
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		format := nativeFormat(full)
		res = append(res, audio.Device{
			ID:           id,
			Name:         full.Name(),
			Format:       format,
			BufferFrames: format.SampleRate / periodsPerSecond,
			Default:      full.IsDefault == 1,
		})
	}

	return res, nil
}

// nativeFormat picks the first native data format miniaudio reports that we
// can express.
func nativeFormat(info malgo.DeviceInfo) audio.Format {
	f := fallbackFormat
	for i := 0; i < int(info.FormatCount) && i < len(info.Formats); i++ {
		df := info.Formats[i]
		enc := fromMalgoFormat(df.Format)
		if enc == audio.EncodingUnknown {
			continue
		}
		f.Encoding = enc
		if df.Channels > 0 {
			f.Channels = int(df.Channels)
		}
		if df.SampleRate > 0 {
			f.SampleRate = int(df.SampleRate)
		}
		break
	}
	return f
}

// Open is part of the audio.Backend interface.
func (b *Backend) Open(dev audio.Device, dir audio.Direction, want *audio.Format) (audio.Handle, error) {
	h := &handle{
		backend: b,
		dev:     dev,
		dir:     dir,
		format:  dev.Format,
		frames:  dev.BufferFrames,
	}
	if want != nil {
		h.format = *want
	}
	h.binding = audio.NewBinding(dir, h.format)

	if dir == audio.Input {
		// The capture device is initialised once a capture stream tells
		// us which format to deliver.
		h.binding.SetPaused(true)
		return h, nil
	}

	if err := h.initDevice(h.format); err != nil {
		return nil, err
	}
	if err := h.device.Start(); err != nil {
		h.device.Uninit()
		return nil, fmt.Errorf("failed to start playback device: %w", err)
	}
	return h, nil
}

func (b *Backend) NewStream(src, dst audio.Format) (*audio.Stream, error) {
	return audio.NewStream(src, dst)
}

func (b *Backend) Close() error {
	if err := b.malgoCtx.Uninit(); err != nil {
		return err
	}
	b.malgoCtx.Free()
	return nil
}

// handle is an opened miniaudio device.
type handle struct {
	backend *Backend
	dev     audio.Device
	dir     audio.Direction
	binding *audio.Binding

	mu     sync.Mutex
	device *malgo.Device
	format audio.Format
	frames int
	closed bool
}

func (h *handle) Device() audio.Device       { return h.dev }
func (h *handle) Direction() audio.Direction { return h.dir }

func (h *handle) Format() (audio.Format, int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return audio.Format{}, 0, audio.ErrNoDevice
	}
	return h.format, h.frames, nil
}

// initDevice initialises the physical device in format f and records the
// format miniaudio settled on. Callers hold no lock.
func (h *handle) initDevice(f audio.Format) error {
	mf, ok := toMalgoFormat(f.Encoding)
	if !ok {
		mf = malgo.FormatS16
	}

	cfg := malgo.DefaultDeviceConfig(toMalgoType(h.dir))
	cfg.SampleRate = uint32(f.SampleRate)
	cfg.Alsa.NoMMap = 1
	malgoDeviceID := toMalgoDeviceID(h.dev.ID)

	var callbacks malgo.DeviceCallbacks
	if h.dir == audio.Output {
		cfg.Playback.Format = mf
		cfg.Playback.Channels = uint32(f.Channels)
		if malgoDeviceID != emptyDeviceID {
			cfg.Playback.DeviceID = malgoDeviceID.Pointer()
		}
		callbacks.Data = h.onPlayback
	} else {
		cfg.Capture.Format = mf
		cfg.Capture.Channels = uint32(f.Channels)
		if malgoDeviceID != emptyDeviceID {
			cfg.Capture.DeviceID = malgoDeviceID.Pointer()
		}
		callbacks.Data = h.onCapture
	}

	device, err := malgo.InitDevice(h.backend.malgoCtx.Context, cfg, callbacks)
	if err != nil {
		return fmt.Errorf("failed to init %s device %q: %w", h.dir, h.dev.Name, err)
	}

	negotiated := audio.Format{
		SampleRate: int(device.SampleRate()),
		ByteOrder:  audio.LittleEndian,
	}
	if h.dir == audio.Output {
		negotiated.Channels = int(device.PlaybackChannels())
		negotiated.Encoding = fromMalgoFormat(device.PlaybackFormat())
	} else {
		negotiated.Channels = int(device.CaptureChannels())
		negotiated.Encoding = fromMalgoFormat(device.CaptureFormat())
	}

	h.mu.Lock()
	h.device = device
	h.format = negotiated
	h.frames = negotiated.SampleRate / periodsPerSecond
	h.mu.Unlock()
	h.binding.SetFormat(negotiated)
	return nil
}

func (h *handle) onPlayback(out, _ []byte, frameCount uint32) {
	n := int(frameCount) * h.binding.Format().FrameSize()
	if n > len(out) {
		n = len(out)
	}
	h.binding.Render(out[:n])
}

func (h *handle) onCapture(_, in []byte, frameCount uint32) {
	n := int(frameCount) * h.binding.Format().FrameSize()
	if n > len(in) {
		n = len(in)
	}
	h.binding.Capture(in[:n])
}

// Bind is part of the audio.Handle interface. An input device accepts a
// single capture stream, and the first one bound decides the device format.
func (h *handle) Bind(streams ...*audio.Stream) error {
	failed := make(map[int]error)
	for i, s := range streams {
		if err := h.bindOne(s); err != nil {
			failed[i] = err
		}
	}
	if len(failed) > 0 {
		return &audio.BindError{Failed: failed, Total: len(streams)}
	}
	return nil
}

func (h *handle) bindOne(s *audio.Stream) error {
	h.mu.Lock()
	closed, device := h.closed, h.device
	h.mu.Unlock()
	if closed {
		return audio.ErrNoDevice
	}

	if h.dir == audio.Input {
		if h.binding.Len() > 0 {
			return audio.ErrStreamBound
		}
		if device == nil {
			_, dst := s.Formats()
			if err := h.initDevice(dst); err != nil {
				return err
			}
		}
	}
	return h.binding.Attach(s)
}

func (h *handle) Unbind(streams ...*audio.Stream) {
	for _, s := range streams {
		h.binding.Detach(s)
	}
}

func (h *handle) Pause() error {
	h.binding.SetPaused(true)
	h.mu.Lock()
	device := h.device
	h.mu.Unlock()
	if device == nil || !device.IsStarted() {
		return nil
	}
	return device.Stop()
}

func (h *handle) Resume() error {
	h.mu.Lock()
	device := h.device
	h.mu.Unlock()
	if device == nil {
		return fmt.Errorf("%w: %s device %q has no bound stream", audio.ErrNoDevice,
			h.dir, h.dev.Name)
	}
	h.binding.SetPaused(false)
	if device.IsStarted() {
		return nil
	}
	return device.Start()
}

func (h *handle) Paused() bool {
	return h.binding.Paused()
}

func (h *handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	device := h.device
	h.device = nil
	h.mu.Unlock()

	var err error
	if device != nil {
		if device.IsStarted() {
			err = device.Stop()
		}
		device.Uninit()
	}
	h.binding.DetachAll()
	return err
}
