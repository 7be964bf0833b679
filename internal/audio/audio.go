package audio

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Backend is a platform audio subsystem.
type Backend interface {
	Name() string
	// Devices enumerates the devices of one direction.
	Devices(dir Direction) ([]Device, error)
	// Open opens dev. A nil want requests the device's raw format; output
	// devices then use their native format, input devices defer choosing a
	// format until a capture stream is bound.
	Open(dev Device, dir Direction, want *Format) (Handle, error)
	NewStream(src, dst Format) (*Stream, error)
	Close() error
}

// Handle is an opened device.
type Handle interface {
	Device() Device
	Direction() Direction
	// Format returns the negotiated format and buffer size in frames.
	Format() (Format, int, error)
	// Bind attaches streams in a single batch. Failures are reported in a
	// *BindError; streams that bound successfully stay bound.
	Bind(streams ...*Stream) error
	Unbind(streams ...*Stream)
	Pause() error
	Resume() error
	Paused() bool
	Close() error
}

// NewBackendFunc constructs a backend.
type NewBackendFunc func(log zerolog.Logger) (Backend, error)

var (
	registryMu sync.Mutex
	registry   = map[string]NewBackendFunc{}
)

// Register makes a backend constructor available under name.
func Register(name string, fn NewBackendFunc) {
	registryMu.Lock()
	registry[name] = fn
	registryMu.Unlock()
}

// Names lists the registered backends.
func Names() []string {
	registryMu.Lock()
	defer registryMu.Unlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New creates the backend registered as name.
func New(name string, log zerolog.Logger) (Backend, error) {
	registryMu.Lock()
	fn, ok := registry[name]
	registryMu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q (have %v)", ErrUnknownBackend, name, Names())
	}
	b, err := fn(log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s backend: %w", name, err)
	}
	return b, nil
}
