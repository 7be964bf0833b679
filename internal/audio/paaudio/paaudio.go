//go:build cgo && !noaudio

// Package paaudio implements the audio backend on top of PortAudio.
package paaudio

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"

	"github.com/petems/audio-looper/internal/audio"
)

// Name is the registry name of this backend.
const Name = "portaudio"

func init() {
	audio.Register(Name, New)
}

type portAudioBackend struct {
	log zerolog.Logger

	mu      sync.Mutex
	devices map[audio.DeviceID]*portaudio.DeviceInfo
}

// New initializes PortAudio.
func New(log zerolog.Logger) (audio.Backend, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return &portAudioBackend{
		log:     log.With().Str("backend", Name).Logger(),
		devices: make(map[audio.DeviceID]*portaudio.DeviceInfo),
	}, nil
}

func (p *portAudioBackend) Name() string { return Name }

// deviceID names a device by host API and position. PortAudio caches its
// device list until Terminate, so the position is stable.
func deviceID(d *portaudio.DeviceInfo, index int) audio.DeviceID {
	api := "pa"
	if d.HostApi != nil {
		api = d.HostApi.Name
	}
	return audio.DeviceID(api + "/" + strconv.Itoa(index))
}

func (p *portAudioBackend) Devices(dir audio.Direction) ([]audio.Device, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	var defaultDevice *portaudio.DeviceInfo
	if dir == audio.Output {
		defaultDevice, _ = portaudio.DefaultOutputDevice()
	} else {
		defaultDevice, _ = portaudio.DefaultInputDevice()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	result := make([]audio.Device, 0, len(devices))
	for i, d := range devices {
		channels := d.MaxInputChannels
		latency := d.DefaultLowInputLatency
		if dir == audio.Output {
			channels = d.MaxOutputChannels
			latency = d.DefaultLowOutputLatency
		}
		if channels <= 0 {
			continue
		}

		id := deviceID(d, i)
		p.devices[id] = d
		rate := int(d.DefaultSampleRate)
		result = append(result, audio.Device{
			ID:   id,
			Name: d.Name,
			Format: audio.Format{
				Channels:   min(channels, 2),
				SampleRate: rate,
				Encoding:   audio.EncodingF32,
				ByteOrder:  audio.LittleEndian,
			},
			BufferFrames: int(latency.Seconds() * float64(rate)),
			Default:      d == defaultDevice,
		})
	}

	return result, nil
}

func (p *portAudioBackend) lookup(dev audio.Device, dir audio.Direction) (*portaudio.DeviceInfo, error) {
	p.mu.Lock()
	info, ok := p.devices[dev.ID]
	p.mu.Unlock()
	if ok {
		return info, nil
	}
	if _, err := p.Devices(dir); err != nil {
		return nil, err
	}
	p.mu.Lock()
	info, ok = p.devices[dev.ID]
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", audio.ErrNoDevice, dev.Name)
	}
	return info, nil
}

func (p *portAudioBackend) Open(dev audio.Device, dir audio.Direction, want *audio.Format) (audio.Handle, error) {
	info, err := p.lookup(dev, dir)
	if err != nil {
		return nil, err
	}

	h := &paHandle{
		dev:    dev,
		dir:    dir,
		info:   info,
		format: dev.Format,
		frames: dev.BufferFrames,
	}
	if want != nil {
		h.format = *want
	}
	h.binding = audio.NewBinding(dir, h.format)

	if dir == audio.Input {
		h.binding.SetPaused(true)
		return h, nil
	}

	if err := h.openStream(h.format); err != nil {
		return nil, err
	}
	if err := h.stream.Start(); err != nil {
		h.stream.Close()
		return nil, fmt.Errorf("failed to start audio stream: %w", err)
	}
	return h, nil
}

func (p *portAudioBackend) NewStream(src, dst audio.Format) (*audio.Stream, error) {
	return audio.NewStream(src, dst)
}

func (p *portAudioBackend) Close() error {
	return portaudio.Terminate()
}

type paHandle struct {
	dev     audio.Device
	dir     audio.Direction
	info    *portaudio.DeviceInfo
	binding *audio.Binding
	scratch []byte

	mu     sync.Mutex
	stream *portaudio.Stream
	format audio.Format
	frames int
	closed bool
}

func (h *paHandle) Device() audio.Device       { return h.dev }
func (h *paHandle) Direction() audio.Direction { return h.dir }

func (h *paHandle) Format() (audio.Format, int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return audio.Format{}, 0, audio.ErrNoDevice
	}
	return h.format, h.frames, nil
}

func (h *paHandle) buf(n int) []byte {
	if cap(h.scratch) < n {
		h.scratch = make([]byte, n)
	}
	return h.scratch[:n]
}

// openStream opens a PortAudio callback stream whose buffer type matches the
// encoding of f. PortAudio converts from the host format.
func (h *paHandle) openStream(f audio.Format) error {
	var params portaudio.StreamParameters
	if h.dir == audio.Output {
		params.Output = portaudio.StreamDeviceParameters{
			Device:   h.info,
			Channels: f.Channels,
			Latency:  h.info.DefaultLowOutputLatency,
		}
	} else {
		params.Input = portaudio.StreamDeviceParameters{
			Device:   h.info,
			Channels: f.Channels,
			Latency:  h.info.DefaultLowInputLatency,
		}
	}
	params.SampleRate = float64(f.SampleRate)
	params.FramesPerBuffer = portaudio.FramesPerBufferUnspecified

	cb, err := h.callback(f.Encoding)
	if err != nil {
		return err
	}
	// Pre-size the scratch buffer for a generous period so the callback
	// rarely allocates.
	h.scratch = make([]byte, f.BytesPerSecond()/10)

	stream, err := portaudio.OpenStream(params, cb)
	if err != nil {
		return fmt.Errorf("failed to open audio stream: %w", err)
	}

	negotiated := f
	if info := stream.Info(); info != nil && info.SampleRate > 0 {
		negotiated.SampleRate = int(info.SampleRate)
	}

	h.mu.Lock()
	h.stream = stream
	h.format = negotiated
	h.mu.Unlock()
	h.binding.SetFormat(negotiated)
	return nil
}

func (h *paHandle) callback(enc audio.Encoding) (interface{}, error) {
	le := binary.LittleEndian
	out := h.dir == audio.Output

	switch enc {
	case audio.EncodingF32:
		if out {
			return func(out []float32) {
				b := h.buf(len(out) * 4)
				h.binding.Render(b)
				for i := range out {
					out[i] = math.Float32frombits(le.Uint32(b[i*4:]))
				}
			}, nil
		}
		return func(in []float32) {
			b := h.buf(len(in) * 4)
			for i, v := range in {
				le.PutUint32(b[i*4:], math.Float32bits(v))
			}
			h.binding.Capture(b)
		}, nil

	case audio.EncodingS32:
		if out {
			return func(out []int32) {
				b := h.buf(len(out) * 4)
				h.binding.Render(b)
				for i := range out {
					out[i] = int32(le.Uint32(b[i*4:]))
				}
			}, nil
		}
		return func(in []int32) {
			b := h.buf(len(in) * 4)
			for i, v := range in {
				le.PutUint32(b[i*4:], uint32(v))
			}
			h.binding.Capture(b)
		}, nil

	case audio.EncodingS16:
		if out {
			return func(out []int16) {
				b := h.buf(len(out) * 2)
				h.binding.Render(b)
				for i := range out {
					out[i] = int16(le.Uint16(b[i*2:]))
				}
			}, nil
		}
		return func(in []int16) {
			b := h.buf(len(in) * 2)
			for i, v := range in {
				le.PutUint16(b[i*2:], uint16(v))
			}
			h.binding.Capture(b)
		}, nil

	case audio.EncodingS8:
		if out {
			return func(out []int8) {
				b := h.buf(len(out))
				h.binding.Render(b)
				for i := range out {
					out[i] = int8(b[i])
				}
			}, nil
		}
		return func(in []int8) {
			b := h.buf(len(in))
			for i, v := range in {
				b[i] = byte(v)
			}
			h.binding.Capture(b)
		}, nil

	case audio.EncodingU8:
		if out {
			return func(out []uint8) {
				h.binding.Render(out)
			}, nil
		}
		return func(in []uint8) {
			h.binding.Capture(in)
		}, nil
	}

	return nil, fmt.Errorf("%w: unsupported encoding %v", audio.ErrFormatMismatch, enc)
}

func (h *paHandle) Bind(streams ...*audio.Stream) error {
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

func (h *paHandle) bindOne(s *audio.Stream) error {
	h.mu.Lock()
	closed, stream := h.closed, h.stream
	h.mu.Unlock()
	if closed {
		return audio.ErrNoDevice
	}

	if h.dir == audio.Input {
		if h.binding.Len() > 0 {
			return audio.ErrStreamBound
		}
		if stream == nil {
			_, dst := s.Formats()
			if err := h.openStream(dst); err != nil {
				return err
			}
		}
	}
	return h.binding.Attach(s)
}

func (h *paHandle) Unbind(streams ...*audio.Stream) {
	for _, s := range streams {
		h.binding.Detach(s)
	}
}

func (h *paHandle) Pause() error {
	wasPaused := h.binding.Paused()
	h.binding.SetPaused(true)
	h.mu.Lock()
	stream := h.stream
	h.mu.Unlock()
	if stream == nil || wasPaused {
		return nil
	}
	return stream.Stop()
}

func (h *paHandle) Resume() error {
	h.mu.Lock()
	stream := h.stream
	h.mu.Unlock()
	if stream == nil {
		return fmt.Errorf("%w: %s device %q has no bound stream", audio.ErrNoDevice,
			h.dir, h.dev.Name)
	}
	if !h.binding.Paused() {
		return nil
	}
	h.binding.SetPaused(false)
	return stream.Start()
}

func (h *paHandle) Paused() bool {
	return h.binding.Paused()
}

func (h *paHandle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	stream := h.stream
	h.stream = nil
	h.mu.Unlock()

	var err error
	if stream != nil {
		err = stream.Close()
	}
	h.binding.DetachAll()
	return err
}
