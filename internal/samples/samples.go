// Package samples holds the looper's sample slots.
package samples

import (
	"github.com/petems/audio-looper/internal/audio"
)

// DefaultCapacity is the buffer space reserved for each new slot.
const DefaultCapacity = 4 << 20

// Info is a read-only view of a slot for display.
type Info struct {
	Name      string
	Enabled   bool
	Len       int
	Cap       int
	HasStream bool
}

type slot struct {
	name    string
	buf     []byte
	enabled bool
	stream  *audio.Stream
	cursor  int
}

// Store is an ordered list of sample slots. The order matches the digit key
// row and the displayed table. Store is not safe for concurrent use.
type Store struct {
	capacity int
	slots    []*slot
}

// New returns an empty store whose slots reserve capacity bytes each. A
// non-positive capacity selects DefaultCapacity.
func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{capacity: capacity}
}

func (s *Store) get(i int) (*slot, error) {
	if err := audio.CheckIndex("slot", i, len(s.slots)); err != nil {
		return nil, err
	}
	return s.slots[i], nil
}

// Len returns the number of slots.
func (s *Store) Len() int {
	return len(s.slots)
}

// CreateSlot appends an empty, disabled slot and returns its index. The slot
// has no playback stream until a session binds one.
func (s *Store) CreateSlot(name string) int {
	s.slots = append(s.slots, &slot{
		name: name,
		buf:  make([]byte, 0, s.capacity),
	})
	return len(s.slots) - 1
}

// DeleteSlot closes the slot's playback stream and removes the slot. Later
// slots shift down by one; callers holding indexes must adjust them.
func (s *Store) DeleteSlot(i int) error {
	sl, err := s.get(i)
	if err != nil {
		return err
	}
	if sl.stream != nil {
		sl.stream.Close()
		sl.stream = nil
	}
	s.slots = append(s.slots[:i], s.slots[i+1:]...)
	return nil
}

// AppendCaptured appends p to the slot buffer.
func (s *Store) AppendCaptured(i int, p []byte) error {
	sl, err := s.get(i)
	if err != nil {
		return err
	}
	sl.buf = append(sl.buf, p...)
	return nil
}

// Clear empties the slot buffer, keeping its capacity, and rewinds its loop.
func (s *Store) Clear(i int) error {
	sl, err := s.get(i)
	if err != nil {
		return err
	}
	sl.buf = sl.buf[:0]
	sl.cursor = 0
	return nil
}

func (s *Store) SetEnabled(i int, enabled bool) error {
	sl, err := s.get(i)
	if err != nil {
		return err
	}
	sl.enabled = enabled
	return nil
}

func (s *Store) Enabled(i int) (bool, error) {
	sl, err := s.get(i)
	if err != nil {
		return false, err
	}
	return sl.enabled, nil
}

func (s *Store) SetName(i int, name string) error {
	sl, err := s.get(i)
	if err != nil {
		return err
	}
	sl.name = name
	return nil
}

func (s *Store) Name(i int) (string, error) {
	sl, err := s.get(i)
	if err != nil {
		return "", err
	}
	return sl.name, nil
}

// Bytes returns the slot buffer. The slice is only valid until the next
// store mutation and must not be modified.
func (s *Store) Bytes(i int) ([]byte, error) {
	sl, err := s.get(i)
	if err != nil {
		return nil, err
	}
	return sl.buf, nil
}

// Info describes slot i.
func (s *Store) Info(i int) (Info, error) {
	sl, err := s.get(i)
	if err != nil {
		return Info{}, err
	}
	return sl.info(), nil
}

// Infos describes every slot in order.
func (s *Store) Infos() []Info {
	res := make([]Info, len(s.slots))
	for i, sl := range s.slots {
		res[i] = sl.info()
	}
	return res
}

func (sl *slot) info() Info {
	return Info{
		Name:      sl.name,
		Enabled:   sl.enabled,
		Len:       len(sl.buf),
		Cap:       cap(sl.buf),
		HasStream: sl.stream != nil,
	}
}

// Stream returns the slot's playback stream, which may be nil.
func (s *Store) Stream(i int) (*audio.Stream, error) {
	sl, err := s.get(i)
	if err != nil {
		return nil, err
	}
	return sl.stream, nil
}

// SetStream replaces the slot's playback stream and returns the previous
// one. The caller owns the returned stream and must close it.
func (s *Store) SetStream(i int, stream *audio.Stream) (*audio.Stream, error) {
	sl, err := s.get(i)
	if err != nil {
		return nil, err
	}
	prev := sl.stream
	sl.stream = stream
	return prev, nil
}

// ReadLoop copies the slot's audio from its loop cursor into p, wrapping to
// the start of the buffer when the end is reached. An empty slot reads
// nothing.
func (s *Store) ReadLoop(i int, p []byte) (int, error) {
	sl, err := s.get(i)
	if err != nil {
		return 0, err
	}
	if len(sl.buf) == 0 {
		return 0, nil
	}

	var n int
	for n < len(p) {
		if sl.cursor >= len(sl.buf) {
			sl.cursor = 0
		}
		c := copy(p[n:], sl.buf[sl.cursor:])
		sl.cursor += c
		n += c
	}
	return n, nil
}

// Rewind moves every loop cursor back to the start so all loops play in
// phase.
func (s *Store) Rewind() {
	for _, sl := range s.slots {
		sl.cursor = 0
	}
}
