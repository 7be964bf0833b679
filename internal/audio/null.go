package audio

import "github.com/rs/zerolog"

// NullBackendName is the backend used when no audio library is compiled in.
const NullBackendName = "null"

func init() {
	Register(NullBackendName, func(zerolog.Logger) (Backend, error) {
		return nullBackend{}, nil
	})
}

// nullBackend lists no devices and opens nothing.
type nullBackend struct{}

func (nullBackend) Name() string { return NullBackendName }

func (nullBackend) Devices(Direction) ([]Device, error) {
	return nil, ErrAudioDisabled
}

func (nullBackend) Open(Device, Direction, *Format) (Handle, error) {
	return nil, ErrAudioDisabled
}

func (nullBackend) NewStream(src, dst Format) (*Stream, error) {
	return NewStream(src, dst)
}

func (nullBackend) Close() error { return nil }
