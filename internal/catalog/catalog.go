// Package catalog keeps the snapshot of audio devices the rest of the looper
// selects from.
package catalog

import (
	"github.com/rs/zerolog"

	"github.com/petems/audio-looper/internal/audio"
)

// Catalog holds the last enumerated input and output devices. Indexes into
// it are only valid until the next Enumerate or Refresh.
type Catalog struct {
	backend audio.Backend
	log     zerolog.Logger

	inputs  []audio.Device
	outputs []audio.Device
}

// New returns a catalog populated with the backend's current devices.
func New(backend audio.Backend, log zerolog.Logger) *Catalog {
	c := &Catalog{
		backend: backend,
		log:     log.With().Str("component", "catalog").Logger(),
	}
	c.Refresh()
	return c
}

// Enumerate queries the backend for the devices of dir and replaces the
// stored list. A failed query yields an empty list; a machine without
// speakers or microphone is a valid configuration.
func (c *Catalog) Enumerate(dir audio.Direction) []audio.Device {
	devices, err := c.backend.Devices(dir)
	if err != nil {
		c.log.Warn().Err(err).Stringer("direction", dir).Msg("Failed to enumerate audio devices")
		devices = nil
	}

	if dir == audio.Output {
		c.outputs = devices
	} else {
		c.inputs = devices
	}

	c.log.Debug().Stringer("direction", dir).Int("count", len(devices)).Msg("Enumerated audio devices")
	return c.Devices(dir)
}

// Refresh re-enumerates both directions.
func (c *Catalog) Refresh() {
	c.Enumerate(audio.Input)
	c.Enumerate(audio.Output)
}

func (c *Catalog) list(dir audio.Direction) []audio.Device {
	if dir == audio.Output {
		return c.outputs
	}
	return c.inputs
}

// Devices returns a copy of the devices of dir.
func (c *Catalog) Devices(dir audio.Direction) []audio.Device {
	return append([]audio.Device(nil), c.list(dir)...)
}

func (c *Catalog) Inputs() []audio.Device  { return c.Devices(audio.Input) }
func (c *Catalog) Outputs() []audio.Device { return c.Devices(audio.Output) }

func (c *Catalog) Len(dir audio.Direction) int {
	return len(c.list(dir))
}

// Device returns device i of dir.
func (c *Catalog) Device(dir audio.Direction, i int) (audio.Device, error) {
	list := c.list(dir)
	if err := audio.CheckIndex(dir.String()+" device", i, len(list)); err != nil {
		return audio.Device{}, err
	}
	return list[i], nil
}

// IndexOf returns the index of the device with the given id, or -1.
func (c *Catalog) IndexOf(dir audio.Direction, id audio.DeviceID) int {
	for i, d := range c.list(dir) {
		if d.ID == id {
			return i
		}
	}
	return -1
}

// FindByName returns the index of the first device called name, or -1.
// Names are not unique; the first match wins.
func (c *Catalog) FindByName(dir audio.Direction, name string) int {
	for i, d := range c.list(dir) {
		if d.Name == name {
			return i
		}
	}
	return -1
}

// Default returns the index of the platform default device of dir, or 0 when
// none is flagged and the list is not empty. It returns -1 for an empty list.
func (c *Catalog) Default(dir audio.Direction) int {
	list := c.list(dir)
	for i, d := range list {
		if d.Default {
			return i
		}
	}
	if len(list) == 0 {
		return -1
	}
	return 0
}
