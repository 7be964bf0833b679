package audio

import (
	"fmt"
	"sync"
)

// Binding is the device side of a set of streams. Backends own one Binding
// per opened device and call Render or Capture from their data callback.
type Binding struct {
	mu      sync.Mutex
	dir     Direction
	format  Format
	streams []*Stream
	paused  bool
	scratch []byte
}

// NewBinding returns an empty binding for a device using format.
func NewBinding(dir Direction, format Format) *Binding {
	return &Binding{dir: dir, format: format}
}

func (b *Binding) Direction() Direction {
	return b.dir
}

// Format returns the device side format.
func (b *Binding) Format() Format {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.format
}

// SetFormat replaces the device side format. Input backends call it once the
// physical device is initialised in the capture stream's format.
func (b *Binding) SetFormat(f Format) {
	b.mu.Lock()
	b.format = f
	b.mu.Unlock()
}

// Attach binds s to the device. Output streams must be pass-through in the
// device format; input streams must deliver the device format.
func (b *Binding) Attach(s *Stream) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStreamClosed
	}
	if s.binding != nil {
		return ErrStreamBound
	}
	switch b.dir {
	case Output:
		if s.src != b.format || s.dst != b.format {
			return fmt.Errorf("%w: stream %v -> %v, device %v",
				ErrFormatMismatch, s.src, s.dst, b.format)
		}
	case Input:
		if s.dst != b.format {
			return fmt.Errorf("%w: stream delivers %v, device %v",
				ErrFormatMismatch, s.dst, b.format)
		}
	}
	s.binding = b
	b.streams = append(b.streams, s)
	return nil
}

// Detach unbinds s. Detaching a stream that is not bound here is a no-op.
func (b *Binding) Detach(s *Stream) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, bs := range b.streams {
		if bs == s {
			b.streams = append(b.streams[:i], b.streams[i+1:]...)
			break
		}
	}
	s.mu.Lock()
	if s.binding == b {
		s.binding = nil
	}
	s.mu.Unlock()
}

// DetachAll unbinds every stream, typically because the device is closing.
func (b *Binding) DetachAll() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, s := range b.streams {
		s.mu.Lock()
		if s.binding == b {
			s.binding = nil
		}
		s.mu.Unlock()
	}
	b.streams = nil
}

// Streams returns a copy of the bound streams.
func (b *Binding) Streams() []*Stream {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Stream(nil), b.streams...)
}

// Len returns the number of bound streams.
func (b *Binding) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.streams)
}

func (b *Binding) SetPaused(paused bool) {
	b.mu.Lock()
	b.paused = paused
	b.mu.Unlock()
}

func (b *Binding) Paused() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.paused
}

// Render fills out with the mix of every bound stream. Streams with less
// data than len(out) contribute silence for the remainder. It returns the
// largest number of stream bytes mixed.
func (b *Binding) Render(out []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	Silence(out, b.format)
	if b.paused {
		return 0
	}
	if cap(b.scratch) < len(out) {
		b.scratch = make([]byte, len(out))
	}
	scratch := b.scratch[:len(out)]

	var most int
	for _, s := range b.streams {
		n := s.fill(scratch)
		if n == 0 {
			continue
		}
		Mix(out[:n], scratch[:n], b.format)
		if n > most {
			most = n
		}
	}
	return most
}

// Capture pushes device bytes into every bound stream unless paused.
func (b *Binding) Capture(in []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.paused {
		return
	}
	for _, s := range b.streams {
		s.push(in)
	}
}
