package audio

import "fmt"

// Encoding is the sample encoding of raw audio bytes.
type Encoding int

const (
	EncodingUnknown Encoding = iota
	EncodingU8
	EncodingS8
	EncodingS16
	EncodingS32
	EncodingF32
)

func (e Encoding) String() string {
	switch e {
	case EncodingU8:
		return "U8"
	case EncodingS8:
		return "S8"
	case EncodingS16:
		return "S16"
	case EncodingS32:
		return "S32"
	case EncodingF32:
		return "F32"
	default:
		return "Unknown"
	}
}

// BitWidth returns the number of bits per sample.
func (e Encoding) BitWidth() int {
	switch e {
	case EncodingU8, EncodingS8:
		return 8
	case EncodingS16:
		return 16
	case EncodingS32, EncodingF32:
		return 32
	default:
		return 0
	}
}

// ByteOrder of multi-byte samples.
type ByteOrder int

const (
	LittleEndian ByteOrder = iota
	BigEndian
)

func (b ByteOrder) String() string {
	if b == BigEndian {
		return "BE"
	}
	return "LE"
}

// Format describes interleaved raw audio.
type Format struct {
	Channels   int
	SampleRate int
	Encoding   Encoding
	ByteOrder  ByteOrder
}

// BitWidth returns the bits per sample of the format's encoding.
func (f Format) BitWidth() int {
	return f.Encoding.BitWidth()
}

// SampleSize returns the size of a single sample in bytes.
func (f Format) SampleSize() int {
	return f.Encoding.BitWidth() / 8
}

// FrameSize returns the size in bytes of one frame (one sample per channel).
func (f Format) FrameSize() int {
	return f.SampleSize() * f.Channels
}

// BytesPerSecond returns the byte rate of the format.
func (f Format) BytesPerSecond() int {
	return f.FrameSize() * f.SampleRate
}

// Valid reports whether the format can describe real audio.
func (f Format) Valid() bool {
	return f.Channels > 0 && f.SampleRate > 0 && f.Encoding.BitWidth() > 0
}

func (f Format) String() string {
	if !f.Valid() {
		return "invalid format"
	}
	enc := f.Encoding.String()
	if f.SampleSize() > 1 {
		enc += f.ByteOrder.String()
	}
	return fmt.Sprintf("%s %dch %dHz", enc, f.Channels, f.SampleRate)
}

// Direction distinguishes capture from playback devices.
type Direction int

const (
	Input Direction = iota
	Output
)

func (d Direction) String() string {
	if d == Output {
		return "output"
	}
	return "input"
}

// DeviceID is an opaque platform device identifier. It is stable for the
// lifetime of the process.
type DeviceID string

// Device is a snapshot of an audio device taken at enumeration time.
type Device struct {
	ID           DeviceID
	Name         string
	Format       Format
	BufferFrames int
	Default      bool
}
