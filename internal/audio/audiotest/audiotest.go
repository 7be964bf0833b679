// Package audiotest provides an in-memory audio backend for tests.
package audiotest

import (
	"fmt"
	"sync"

	"github.com/petems/audio-looper/internal/audio"
)

// Name is the registry name used when the backend is registered by a test.
const Name = "test"

// Backend is an audio.Backend whose devices exist only in memory. It keeps
// track of every stream and handle it hands out so tests can assert that
// nothing leaks.
type Backend struct {
	mu      sync.Mutex
	devices map[audio.Direction][]audio.Device
	enumErr map[audio.Direction]error
	openErr map[audio.DeviceID]error
	bindErr map[audio.DeviceID]map[int]error
	formats map[audio.DeviceID]audio.Format

	streamErr error
	streams   []*audio.Stream
	handles   []*Handle
	opens     map[audio.DeviceID]int
	closed    bool
}

var _ audio.Backend = (*Backend)(nil)

// New returns a backend with the given devices.
func New(inputs, outputs []audio.Device) *Backend {
	return &Backend{
		devices: map[audio.Direction][]audio.Device{
			audio.Input:  inputs,
			audio.Output: outputs,
		},
		enumErr: make(map[audio.Direction]error),
		openErr: make(map[audio.DeviceID]error),
		bindErr: make(map[audio.DeviceID]map[int]error),
		formats: make(map[audio.DeviceID]audio.Format),
		opens:   make(map[audio.DeviceID]int),
	}
}

// Device builds a device description for tests.
func Device(id, name string, f audio.Format) audio.Device {
	return audio.Device{
		ID:           audio.DeviceID(id),
		Name:         name,
		Format:       f,
		BufferFrames: f.SampleRate / 100,
	}
}

// SetDevices replaces the devices reported for dir.
func (b *Backend) SetDevices(dir audio.Direction, devs []audio.Device) {
	b.mu.Lock()
	b.devices[dir] = devs
	b.mu.Unlock()
}

// FailEnumerate makes Devices(dir) return err. A nil err clears the failure.
func (b *Backend) FailEnumerate(dir audio.Direction, err error) {
	b.mu.Lock()
	b.enumErr[dir] = err
	b.mu.Unlock()
}

// FailOpen makes opening the device id return err.
func (b *Backend) FailOpen(id audio.DeviceID, err error) {
	b.mu.Lock()
	b.openErr[id] = err
	b.mu.Unlock()
}

// FailNewStream makes NewStream return err.
func (b *Backend) FailNewStream(err error) {
	b.mu.Lock()
	b.streamErr = err
	b.mu.Unlock()
}

// FailBind makes every batch bound on device id fail at the given batch
// positions. A nil err clears the failure.
func (b *Backend) FailBind(id audio.DeviceID, err error, positions ...int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.bindErr, id)
		return
	}
	m := make(map[int]error, len(positions))
	for _, p := range positions {
		m[p] = err
	}
	b.bindErr[id] = m
}

// Negotiate makes opening device id settle on f instead of its catalog
// format.
func (b *Backend) Negotiate(id audio.DeviceID, f audio.Format) {
	b.mu.Lock()
	b.formats[id] = f
	b.mu.Unlock()
}

func (b *Backend) Name() string { return Name }

func (b *Backend) Devices(dir audio.Direction) ([]audio.Device, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enumErr[dir]; err != nil {
		return nil, err
	}
	return append([]audio.Device(nil), b.devices[dir]...), nil
}

func (b *Backend) Open(dev audio.Device, dir audio.Direction, want *audio.Format) (audio.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.openErr[dev.ID]; err != nil {
		return nil, err
	}

	format := dev.Format
	if want != nil {
		format = *want
	}
	if f, ok := b.formats[dev.ID]; ok && dir == audio.Output {
		format = f
	}

	h := &Handle{
		backend: b,
		dev:     dev,
		dir:     dir,
		format:  format,
		binding: audio.NewBinding(dir, format),
	}
	if dir == audio.Input {
		h.binding.SetPaused(true)
	}
	b.handles = append(b.handles, h)
	b.opens[dev.ID]++
	return h, nil
}

func (b *Backend) NewStream(src, dst audio.Format) (*audio.Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.streamErr != nil {
		return nil, b.streamErr
	}
	s, err := audio.NewStream(src, dst)
	if err != nil {
		return nil, err
	}
	b.streams = append(b.streams, s)
	return s, nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (b *Backend) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// LiveStreams returns the number of streams created and not yet closed.
func (b *Backend) LiveStreams() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	var n int
	for _, s := range b.streams {
		if !s.Closed() {
			n++
		}
	}
	return n
}

// OpenHandles returns the number of handles that were opened and not closed.
func (b *Backend) OpenHandles() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	var n int
	for _, h := range b.handles {
		if !h.isClosed() {
			n++
		}
	}
	return n
}

// Opens returns how many times device id was opened.
func (b *Backend) Opens(id audio.DeviceID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opens[id]
}

// Handle returns the open handle of device id, or nil.
func (b *Backend) Handle(id audio.DeviceID) *Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.handles) - 1; i >= 0; i-- {
		h := b.handles[i]
		if h.dev.ID == id && !h.isClosed() {
			return h
		}
	}
	return nil
}

// BoundStreams returns the streams bound to the open handle of device id.
func (b *Backend) BoundStreams(id audio.DeviceID) []*audio.Stream {
	h := b.Handle(id)
	if h == nil {
		return nil
	}
	return h.binding.Streams()
}

// Push delivers captured bytes to the open input device id as if the
// hardware had recorded them.
func (b *Backend) Push(id audio.DeviceID, p []byte) error {
	h := b.Handle(id)
	if h == nil || h.dir != audio.Input {
		return fmt.Errorf("%w: no open input device %q", audio.ErrNoDevice, id)
	}
	h.binding.Capture(p)
	return nil
}

// Render pulls n bytes from the open output device id as if the hardware had
// asked for its next period.
func (b *Backend) Render(id audio.DeviceID, n int) ([]byte, error) {
	h := b.Handle(id)
	if h == nil || h.dir != audio.Output {
		return nil, fmt.Errorf("%w: no open output device %q", audio.ErrNoDevice, id)
	}
	out := make([]byte, n)
	h.binding.Render(out)
	return out, nil
}

// Handle is an opened in-memory device.
type Handle struct {
	backend *Backend
	dev     audio.Device
	dir     audio.Direction
	binding *audio.Binding

	mu     sync.Mutex
	format audio.Format
	inited bool
	closed bool
}

var _ audio.Handle = (*Handle)(nil)

func (h *Handle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *Handle) Device() audio.Device       { return h.dev }
func (h *Handle) Direction() audio.Direction { return h.dir }

func (h *Handle) Format() (audio.Format, int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return audio.Format{}, 0, audio.ErrNoDevice
	}
	return h.format, h.format.SampleRate / 100, nil
}

// Bind mirrors the real backends: input devices take a single stream and are
// initialised in its destination format.
func (h *Handle) Bind(streams ...*audio.Stream) error {
	h.backend.mu.Lock()
	inject := h.backend.bindErr[h.dev.ID]
	h.backend.mu.Unlock()

	failed := make(map[int]error)
	for i, s := range streams {
		if err := inject[i]; err != nil {
			failed[i] = err
			continue
		}
		if err := h.bindOne(s); err != nil {
			failed[i] = err
		}
	}
	if len(failed) > 0 {
		return &audio.BindError{Failed: failed, Total: len(streams)}
	}
	return nil
}

func (h *Handle) bindOne(s *audio.Stream) error {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return audio.ErrNoDevice
	}
	if h.dir == audio.Input {
		if h.binding.Len() > 0 {
			return audio.ErrStreamBound
		}
		_, dst := s.Formats()
		h.mu.Lock()
		h.format = dst
		h.inited = true
		h.mu.Unlock()
		h.binding.SetFormat(dst)
	}
	return h.binding.Attach(s)
}

func (h *Handle) Unbind(streams ...*audio.Stream) {
	for _, s := range streams {
		h.binding.Detach(s)
	}
}

func (h *Handle) Pause() error {
	h.binding.SetPaused(true)
	return nil
}

func (h *Handle) Resume() error {
	h.mu.Lock()
	ready := h.dir == audio.Output || h.inited
	h.mu.Unlock()
	if !ready {
		return fmt.Errorf("%w: input device %q has no bound stream", audio.ErrNoDevice, h.dev.Name)
	}
	h.binding.SetPaused(false)
	return nil
}

func (h *Handle) Paused() bool {
	return h.binding.Paused()
}

func (h *Handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()
	h.binding.DetachAll()
	return nil
}
