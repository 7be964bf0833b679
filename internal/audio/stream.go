package audio

import (
	"fmt"
	"sync"
)

// DefaultMaxQueued bounds how many bytes a stream holds before new data is
// dropped.
const DefaultMaxQueued = 8 << 20

// Stream carries raw audio bytes between the application and a device. It is
// safe for use by the device callback thread and one application thread.
//
// A stream does not convert. The device it is bound to produces (input) or
// consumes (output) bytes in the stream's device side format and relies on
// the audio library to convert from or to the hardware format.
type Stream struct {
	mu        sync.Mutex
	src, dst  Format
	queue     []byte
	off       int
	maxQueued int
	dropped   uint64
	binding   *Binding
	closed    bool
}

// NewStream creates an unbound stream from src to dst.
func NewStream(src, dst Format) (*Stream, error) {
	if !src.Valid() || !dst.Valid() {
		return nil, fmt.Errorf("%w: invalid format %v -> %v",
			ErrStreamCreateFailed, src, dst)
	}
	return &Stream{src: src, dst: dst, maxQueued: DefaultMaxQueued}, nil
}

// Formats returns the source and destination formats.
func (s *Stream) Formats() (src, dst Format) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.src, s.dst
}

// SetFormat changes the source and/or destination format. A nil argument
// leaves that side unchanged. Bound streams cannot change format.
func (s *Stream) SetFormat(src, dst *Format) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStreamClosed
	}
	if s.binding != nil {
		return ErrStreamBound
	}
	if src != nil {
		if !src.Valid() {
			return fmt.Errorf("%w: invalid source format", ErrFormatMismatch)
		}
		s.src = *src
	}
	if dst != nil {
		if !dst.Valid() {
			return fmt.Errorf("%w: invalid destination format", ErrFormatMismatch)
		}
		s.dst = *dst
	}
	return nil
}

// Put queues p at the end of the stream. Bytes beyond the queue limit are
// dropped and counted; the kept part always ends on a frame boundary.
func (s *Stream) Put(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStreamClosed
	}
	s.putLocked(p)
	return nil
}

func (s *Stream) putLocked(p []byte) {
	room := s.maxQueued - (len(s.queue) - s.off)
	if room < len(p) {
		if frame := s.dst.FrameSize(); frame > 0 {
			room -= room % frame
		}
		if room < 0 {
			room = 0
		}
		s.dropped += uint64(len(p) - room)
		p = p[:room]
	}
	if len(p) == 0 {
		return
	}
	s.compactLocked()
	s.queue = append(s.queue, p...)
}

func (s *Stream) compactLocked() {
	if s.off == 0 {
		return
	}
	if s.off == len(s.queue) {
		s.queue = s.queue[:0]
		s.off = 0
		return
	}
	if s.off > cap(s.queue)/2 {
		n := copy(s.queue, s.queue[s.off:])
		s.queue = s.queue[:n]
		s.off = 0
	}
}

// Available returns the number of queued bytes.
func (s *Stream) Available() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStreamClosed
	}
	return len(s.queue) - s.off, nil
}

// Read copies up to len(p) queued bytes into p. It never waits for data.
func (s *Stream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStreamClosed
	}
	return s.readLocked(p), nil
}

func (s *Stream) readLocked(p []byte) int {
	n := copy(p, s.queue[s.off:])
	s.off += n
	if s.off == len(s.queue) {
		s.queue = s.queue[:0]
		s.off = 0
	}
	return n
}

// Clear discards all queued bytes.
func (s *Stream) Clear() {
	s.mu.Lock()
	s.queue = s.queue[:0]
	s.off = 0
	s.mu.Unlock()
}

// Dropped returns how many bytes were discarded because the queue was full.
func (s *Stream) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Bound reports whether the stream is attached to a device.
func (s *Stream) Bound() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.binding != nil
}

// Closed reports whether Close was called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close unbinds the stream from its device and releases its queue. It is
// safe to call more than once.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	b := s.binding
	s.queue = nil
	s.off = 0
	s.mu.Unlock()

	if b != nil {
		b.Detach(s)
	}
	return nil
}

// fill is the device side read used when rendering output.
func (s *Stream) fill(p []byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	return s.readLocked(p)
}

// push is the device side write used when capturing input.
func (s *Stream) push(p []byte) {
	s.mu.Lock()
	if !s.closed {
		s.putLocked(p)
	}
	s.mu.Unlock()
}
