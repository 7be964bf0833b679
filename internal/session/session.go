// Package session owns the opened audio devices and the streams bound to
// them.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/petems/audio-looper/internal/audio"
	"github.com/petems/audio-looper/internal/catalog"
	"github.com/petems/audio-looper/internal/metrics"
	"github.com/petems/audio-looper/internal/samples"
)

const (
	// DefaultChunkSize is the largest read done per drain iteration.
	DefaultChunkSize = 1024

	// DefaultPlaybackLead is how much audio is kept queued on each playing
	// slot stream.
	DefaultPlaybackLead = 100 * time.Millisecond
)

// None is the selection index used when no device is selected.
const None = -1

type Config struct {
	Backend      audio.Backend
	Catalog      *catalog.Catalog
	Store        *samples.Store
	Logger       zerolog.Logger
	Metrics      *metrics.Metrics // Optional
	ChunkSize    int
	PlaybackLead time.Duration
}

// Session is the live device and stream graph: at most one opened output
// device with one playback stream per sample slot, and at most one opened
// input device with a single capture stream.
//
// Session is not safe for concurrent use. Every opened handle and stream is
// owned by the session and released before it is replaced.
type Session struct {
	backend   audio.Backend
	catalog   *catalog.Catalog
	store     *samples.Store
	log       zerolog.Logger
	metrics   *metrics.Metrics
	chunkSize int
	lead      time.Duration

	selectedIn  int
	selectedOut int
	inID        audio.DeviceID
	outID       audio.DeviceID

	input     audio.Handle
	capture   *audio.Stream
	output    audio.Handle
	outFormat audio.Format

	drainFailed bool
	dropped     uint64
	scratch     []byte
	feedBuf     []byte
}

// New returns a session with no device opened.
func New(cfg Config) *Session {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.PlaybackLead <= 0 {
		cfg.PlaybackLead = DefaultPlaybackLead
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	return &Session{
		backend:     cfg.Backend,
		catalog:     cfg.Catalog,
		store:       cfg.Store,
		log:         cfg.Logger.With().Str("component", "session").Logger(),
		metrics:     cfg.Metrics,
		chunkSize:   cfg.ChunkSize,
		lead:        cfg.PlaybackLead,
		selectedIn:  None,
		selectedOut: None,
		scratch:     make([]byte, cfg.ChunkSize),
	}
}

// release closes c, logging any failure. Handles and streams always go
// through here when replaced.
func (s *Session) release(what string, c interface{ Close() error }) {
	if err := c.Close(); err != nil {
		s.log.Warn().Err(err).Str("resource", what).Msg("Failed to release audio resource")
	}
}

// SelectOutputDevice opens output device i and rebuilds every slot's
// playback stream against it.
//
// Binding is best-effort: slots whose stream fails to bind are left without
// a stream, the others stay bound, and the failures are returned in a
// *audio.BindError. Previously returned playback streams are invalid once
// this returns.
func (s *Session) SelectOutputDevice(i int) error {
	dev, err := s.catalog.Device(audio.Output, i)
	if err != nil {
		return err
	}

	s.selectedOut = i
	s.outID = dev.ID
	s.closeOutput()

	h, err := s.backend.Open(dev, audio.Output, &dev.Format)
	if err != nil {
		s.log.Error().Err(err).Str("device", dev.Name).Msg("Failed to open output device")
		err = fmt.Errorf("%w: output device %q: %w", audio.ErrDeviceOpenFailed, dev.Name, err)
		return errors.Join(err, s.rebuildCapture())
	}
	format, frames, err := h.Format()
	if err != nil {
		s.release("output device", h)
		s.log.Error().Err(err).Str("device", dev.Name).Msg("Failed to query output device format")
		err = fmt.Errorf("%w: output device %q: %w", audio.ErrDeviceOpenFailed, dev.Name, err)
		return errors.Join(err, s.rebuildCapture())
	}

	s.output = h
	s.outFormat = format
	s.metrics.DeviceSwitches.WithLabelValues(audio.Output.String()).Inc()
	s.log.Info().
		Str("device", dev.Name).
		Stringer("format", format).
		Int("frames", frames).
		Msg("Opened output device")

	return errors.Join(s.bindSlots(), s.rebuildCapture())
}

// rebuildCapture recreates the capture stream against the current output,
// which it delivers to. It runs after every output switch, failed or not.
// Without an output the capture stream keeps the input's own format.
func (s *Session) rebuildCapture() error {
	switch {
	case s.input == nil:
		return nil
	case s.selectedIn == None:
		s.closeInput()
		return nil
	default:
		return s.SelectInputDevice(s.selectedIn)
	}
}

// bindSlots creates a pass-through stream in the output format for every
// slot and binds them in a single batch.
func (s *Session) bindSlots() error {
	var (
		streams []*audio.Stream
		slots   []int
		errs    []error
	)
	for i := 0; i < s.store.Len(); i++ {
		stream, err := s.backend.NewStream(s.outFormat, s.outFormat)
		if err != nil {
			s.log.Error().Err(err).Int("slot", i).Msg("Failed to create playback stream")
			errs = append(errs, fmt.Errorf("%w: slot %d: %w", audio.ErrStreamCreateFailed, i, err))
			continue
		}
		s.setSlotStream(i, stream)
		streams = append(streams, stream)
		slots = append(slots, i)
	}
	if len(streams) == 0 {
		return errors.Join(errs...)
	}

	err := s.output.Bind(streams...)
	var bindErr *audio.BindError
	switch {
	case err == nil:
	case errors.As(err, &bindErr):
		for pos, perr := range bindErr.Failed {
			s.log.Error().Err(perr).Int("slot", slots[pos]).Msg("Failed to bind playback stream")
			s.setSlotStream(slots[pos], nil)
		}
		s.metrics.BindFailures.Add(float64(len(bindErr.Failed)))
		errs = append(errs, err)
	default:
		s.log.Error().Err(err).Msg("Failed to bind playback streams")
		for _, slot := range slots {
			s.setSlotStream(slot, nil)
		}
		s.metrics.BindFailures.Add(float64(len(slots)))
		errs = append(errs, fmt.Errorf("%w: %w", audio.ErrStreamBindFailed, err))
	}
	return errors.Join(errs...)
}

// setSlotStream installs stream on slot i and releases the previous one.
func (s *Session) setSlotStream(i int, stream *audio.Stream) {
	prev, err := s.store.SetStream(i, stream)
	if err != nil {
		return
	}
	if prev != nil {
		s.release("playback stream", prev)
	}
}

// BindSlot gives slot i a playback stream on the current output device. It
// does nothing while no output device is open.
func (s *Session) BindSlot(i int) error {
	if err := audio.CheckIndex("slot", i, s.store.Len()); err != nil {
		return err
	}
	if s.output == nil {
		return nil
	}

	stream, err := s.backend.NewStream(s.outFormat, s.outFormat)
	if err != nil {
		s.log.Error().Err(err).Int("slot", i).Msg("Failed to create playback stream")
		return fmt.Errorf("%w: slot %d: %w", audio.ErrStreamCreateFailed, i, err)
	}
	if err := s.output.Bind(stream); err != nil {
		s.release("playback stream", stream)
		s.metrics.BindFailures.Inc()
		s.log.Error().Err(err).Int("slot", i).Msg("Failed to bind playback stream")
		return fmt.Errorf("%w: slot %d: %w", audio.ErrStreamBindFailed, i, err)
	}
	s.setSlotStream(i, stream)
	return nil
}

func (s *Session) closeOutput() {
	for i := 0; i < s.store.Len(); i++ {
		s.setSlotStream(i, nil)
	}
	if s.output != nil {
		s.release("output device", s.output)
		s.output = nil
	}
	s.outFormat = audio.Format{}
}

// SelectInputDevice opens input device i and binds a fresh, paused capture
// stream to it. The capture stream converts from the input device's format
// to the output device's negotiated format so captured bytes can be played
// back unchanged. An invalid index leaves the current input untouched.
func (s *Session) SelectInputDevice(i int) error {
	dev, err := s.catalog.Device(audio.Input, i)
	if err != nil {
		return err
	}

	s.selectedIn = i
	s.inID = dev.ID
	s.closeInput()

	h, err := s.backend.Open(dev, audio.Input, nil)
	if err != nil {
		s.log.Error().Err(err).Str("device", dev.Name).Msg("Failed to open input device")
		return fmt.Errorf("%w: input device %q: %w", audio.ErrDeviceOpenFailed, dev.Name, err)
	}
	s.input = h
	s.metrics.DeviceSwitches.WithLabelValues(audio.Input.String()).Inc()

	src, _, err := h.Format()
	if err != nil {
		s.log.Error().Err(err).Str("device", dev.Name).Msg("Failed to query input device format")
		return fmt.Errorf("%w: input device %q: %w", audio.ErrDeviceOpenFailed, dev.Name, err)
	}
	dst := s.outFormat
	if s.output == nil {
		dst = src
	}

	stream, err := s.backend.NewStream(src, dst)
	if err != nil {
		s.log.Error().Err(err).Str("device", dev.Name).Msg("Failed to create capture stream")
		return fmt.Errorf("%w: input device %q: %w", audio.ErrStreamCreateFailed, dev.Name, err)
	}
	if err := h.Bind(stream); err != nil {
		s.release("capture stream", stream)
		s.metrics.BindFailures.Inc()
		s.log.Error().Err(err).Str("device", dev.Name).Msg("Failed to bind capture stream")
		return fmt.Errorf("%w: input device %q: %w", audio.ErrStreamBindFailed, dev.Name, err)
	}
	if err := h.Pause(); err != nil {
		s.log.Warn().Err(err).Str("device", dev.Name).Msg("Failed to pause input device")
	}

	s.capture = stream
	s.drainFailed = false
	s.dropped = 0
	s.log.Info().
		Str("device", dev.Name).
		Stringer("from", src).
		Stringer("to", dst).
		Msg("Opened input device")
	return nil
}

func (s *Session) closeInput() {
	if s.capture != nil {
		s.release("capture stream", s.capture)
		s.capture = nil
	}
	if s.input != nil {
		s.release("input device", s.input)
		s.input = nil
	}
}

// PauseCapture stops the input device. Bytes already queued stay on the
// capture stream but are not drained while paused.
func (s *Session) PauseCapture() error {
	if s.input == nil {
		return nil
	}
	return s.input.Pause()
}

// ResumeCapture discards anything queued before the pause and starts the
// input device.
func (s *Session) ResumeCapture() error {
	if s.input == nil || s.capture == nil {
		return fmt.Errorf("%w: no capture stream", audio.ErrNoDevice)
	}
	s.capture.Clear()
	return s.input.Resume()
}

// Drain moves everything queued on the capture stream into slot target, in
// chunks of at most ChunkSize bytes. It never waits for more audio. Without
// a capture stream, or while capture is paused, it does nothing. A stream
// error stops the drain for this call and is returned.
func (s *Session) Drain(target int) (int, error) {
	if s.capture == nil || s.input == nil || s.input.Paused() {
		return 0, nil
	}

	var total int
	defer func() {
		s.metrics.CapturedBytes.Add(float64(total))
		if d := s.capture.Dropped(); d > s.dropped {
			s.metrics.CaptureDropped.Add(float64(d - s.dropped))
			s.dropped = d
		}
	}()

	for {
		avail, err := s.capture.Available()
		if err != nil {
			return total, s.drainError(err)
		}
		if avail <= 0 {
			return total, nil
		}

		n, err := s.capture.Read(s.scratch[:min(avail, s.chunkSize)])
		if err != nil {
			return total, s.drainError(err)
		}
		if n == 0 {
			return total, nil
		}
		if err := s.store.AppendCaptured(target, s.scratch[:n]); err != nil {
			return total, err
		}
		total += n
	}
}

// drainError logs the first failure of a capture stream and wraps err.
func (s *Session) drainError(err error) error {
	s.metrics.DrainErrors.Inc()
	if !s.drainFailed {
		s.drainFailed = true
		s.log.Error().Err(err).Msg("Failed to read capture stream")
	}
	return fmt.Errorf("%w: %w", audio.ErrStreamReadFailed, err)
}

// leadBytes is the amount of audio, in whole frames, kept queued per slot.
func (s *Session) leadBytes() int {
	frame := s.outFormat.FrameSize()
	if frame == 0 {
		return 0
	}
	n := int(int64(s.outFormat.BytesPerSecond()) * int64(s.lead) / int64(time.Second))
	return n - n%frame
}

// Feed tops up the playback stream of every enabled slot from its loop. It
// feeds nothing unless playing.
func (s *Session) Feed(playing bool) int {
	if !playing || s.output == nil {
		return 0
	}
	lead := s.leadBytes()
	if lead == 0 {
		return 0
	}
	if cap(s.feedBuf) < lead {
		s.feedBuf = make([]byte, lead)
	}
	frame := s.outFormat.FrameSize()

	var total int
	for i := 0; i < s.store.Len(); i++ {
		enabled, _ := s.store.Enabled(i)
		stream, _ := s.store.Stream(i)
		if !enabled || stream == nil {
			continue
		}
		queued, err := stream.Available()
		if err != nil {
			continue
		}
		want := lead - queued
		want -= want % frame
		if want <= 0 {
			continue
		}

		buf := s.feedBuf[:want]
		n, _ := s.store.ReadLoop(i, buf)
		if n == 0 {
			continue
		}
		if err := stream.Put(buf[:n]); err != nil {
			continue
		}
		total += n
	}
	s.metrics.PlayedBytes.Add(float64(total))
	return total
}

// Mute drops whatever is queued on the playback streams.
func (s *Session) Mute() {
	for i := 0; i < s.store.Len(); i++ {
		if stream, _ := s.store.Stream(i); stream != nil {
			stream.Clear()
		}
	}
}

// MuteSlot drops whatever is queued on slot i's playback stream.
func (s *Session) MuteSlot(i int) {
	if stream, _ := s.store.Stream(i); stream != nil {
		stream.Clear()
	}
}

// RefreshDevices re-enumerates the catalog and maps both selections to the
// new device lists by device id. A selected device that disappeared leaves
// nothing selected; its handle stays open until another device is chosen.
func (s *Session) RefreshDevices() {
	s.catalog.Refresh()
	s.selectedIn = s.revalidate(audio.Input, s.selectedIn, s.inID)
	s.selectedOut = s.revalidate(audio.Output, s.selectedOut, s.outID)
}

func (s *Session) revalidate(dir audio.Direction, prev int, id audio.DeviceID) int {
	if prev == None {
		return None
	}
	i := s.catalog.IndexOf(dir, id)
	if i == None {
		s.log.Warn().Stringer("direction", dir).Str("id", string(id)).
			Msg("Selected device is gone after refresh")
	}
	return i
}

// Close releases every stream and device.
func (s *Session) Close() {
	s.closeInput()
	s.closeOutput()
}

func (s *Session) SelectedInput() int  { return s.selectedIn }
func (s *Session) SelectedOutput() int { return s.selectedOut }
func (s *Session) InputOpen() bool     { return s.input != nil }
func (s *Session) OutputOpen() bool    { return s.output != nil }
func (s *Session) HasCapture() bool    { return s.capture != nil }

// Capturing reports whether the input device is running.
func (s *Session) Capturing() bool {
	return s.input != nil && s.capture != nil && !s.input.Paused()
}

// OutputFormat returns the negotiated format of the output device.
func (s *Session) OutputFormat() (audio.Format, bool) {
	return s.outFormat, s.output != nil
}

// CaptureFormats returns the capture stream's source and destination
// formats.
func (s *Session) CaptureFormats() (src, dst audio.Format, ok bool) {
	if s.capture == nil {
		return audio.Format{}, audio.Format{}, false
	}
	src, dst = s.capture.Formats()
	return src, dst, true
}
