package catalog

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/petems/audio-looper/internal/assert"
	"github.com/petems/audio-looper/internal/audio"
	"github.com/petems/audio-looper/internal/audio/audiotest"
)

var (
	stereo = audio.Format{Channels: 2, SampleRate: 48000, Encoding: audio.EncodingS16}
	mono   = audio.Format{Channels: 1, SampleRate: 44100, Encoding: audio.EncodingF32}
)

func testBackend() *audiotest.Backend {
	return audiotest.New(
		[]audio.Device{
			audiotest.Device("mic", "Built-in Microphone", mono),
			audiotest.Device("usb-in", "USB Audio", stereo),
		},
		[]audio.Device{
			audiotest.Device("spk", "Speakers", stereo),
			audiotest.Device("usb-out", "USB Audio", stereo),
			audiotest.Device("usb-out-2", "USB Audio", stereo),
		},
	)
}

func TestNewEnumeratesBothDirections(t *testing.T) {
	c := New(testBackend(), zerolog.Nop())

	assert.DeepEqual(t, c.Len(audio.Input), 2)
	assert.DeepEqual(t, c.Len(audio.Output), 3)
	assert.DeepEqual(t, c.Inputs()[0].Name, "Built-in Microphone")
	assert.DeepEqual(t, c.Outputs()[2].ID, audio.DeviceID("usb-out-2"))
}

func TestEnumerateFailureIsEmpty(t *testing.T) {
	b := testBackend()
	c := New(b, zerolog.Nop())

	b.FailEnumerate(audio.Input, errors.New("device query failed"))
	devices := c.Enumerate(audio.Input)
	assert.DeepEqual(t, len(devices), 0)
	assert.DeepEqual(t, c.Len(audio.Input), 0)

	// Outputs are untouched.
	assert.DeepEqual(t, c.Len(audio.Output), 3)
}

func TestRefreshReplacesWholesale(t *testing.T) {
	b := testBackend()
	c := New(b, zerolog.Nop())

	b.SetDevices(audio.Output, []audio.Device{audiotest.Device("hdmi", "HDMI", stereo)})
	c.Refresh()

	assert.DeepEqual(t, c.Len(audio.Output), 1)
	assert.DeepEqual(t, c.IndexOf(audio.Output, "spk"), -1)
	assert.DeepEqual(t, c.IndexOf(audio.Output, "hdmi"), 0)
}

func TestDeviceOutOfRange(t *testing.T) {
	c := New(testBackend(), zerolog.Nop())

	for _, i := range []int{-1, 2, 100} {
		_, err := c.Device(audio.Input, i)
		assert.ErrorIs(t, err, audio.ErrOutOfRange)
	}

	d, err := c.Device(audio.Input, 1)
	assert.NilErr(t, err)
	assert.DeepEqual(t, d.ID, audio.DeviceID("usb-in"))
}

func TestFindByNameFirstMatch(t *testing.T) {
	c := New(testBackend(), zerolog.Nop())

	assert.DeepEqual(t, c.FindByName(audio.Output, "USB Audio"), 1)
	assert.DeepEqual(t, c.FindByName(audio.Input, "USB Audio"), 1)
	assert.DeepEqual(t, c.FindByName(audio.Output, "Missing"), -1)
}

func TestDefault(t *testing.T) {
	b := testBackend()
	c := New(b, zerolog.Nop())
	assert.DeepEqual(t, c.Default(audio.Output), 0)

	outs := c.Outputs()
	outs[2].Default = true
	b.SetDevices(audio.Output, outs)
	c.Refresh()
	assert.DeepEqual(t, c.Default(audio.Output), 2)

	b.SetDevices(audio.Input, nil)
	c.Refresh()
	assert.DeepEqual(t, c.Default(audio.Input), -1)
}

func TestDevicesReturnsCopy(t *testing.T) {
	c := New(testBackend(), zerolog.Nop())
	outs := c.Outputs()
	outs[0].Name = "changed"
	assert.DeepEqual(t, c.Outputs()[0].Name, "Speakers")
}
