package audio

import (
	"bytes"
	"testing"

	"github.com/petems/audio-looper/internal/assert"
)

var testFormat = Format{Channels: 2, SampleRate: 48000, Encoding: EncodingS16}

func TestNewStreamInvalidFormat(t *testing.T) {
	_, err := NewStream(Format{}, testFormat)
	assert.ErrorIs(t, err, ErrStreamCreateFailed)
}

func TestStreamPutRead(t *testing.T) {
	s, err := NewStream(testFormat, testFormat)
	assert.NilErr(t, err)

	assert.NilErr(t, s.Put([]byte{1, 2, 3}))
	assert.NilErr(t, s.Put([]byte{4, 5}))

	n, err := s.Available()
	assert.NilErr(t, err)
	assert.DeepEqual(t, n, 5)

	buf := make([]byte, 4)
	n, err = s.Read(buf)
	assert.NilErr(t, err)
	assert.DeepEqual(t, buf[:n], []byte{1, 2, 3, 4})

	n, err = s.Read(buf)
	assert.NilErr(t, err)
	assert.DeepEqual(t, buf[:n], []byte{5})

	// Empty streams return immediately.
	assert.DoesNotBlock(t, func() {
		n, err = s.Read(buf)
	})
	assert.NilErr(t, err)
	assert.DeepEqual(t, n, 0)
}

func TestStreamOverflowDrops(t *testing.T) {
	s, err := NewStream(testFormat, testFormat)
	assert.NilErr(t, err)
	s.maxQueued = 8

	assert.NilErr(t, s.Put([]byte{1, 2, 3, 4}))
	assert.NilErr(t, s.Put([]byte{5, 6, 7, 8, 9, 10, 11, 12}))

	n, _ := s.Available()
	assert.DeepEqual(t, n, 8)
	assert.DeepEqual(t, s.Dropped(), uint64(4))

	buf := make([]byte, 16)
	n, _ = s.Read(buf)
	assert.DeepEqual(t, buf[:n], []byte{1, 2, 3, 4, 5, 6, 7, 8})
}

func TestStreamOverflowKeepsWholeFrames(t *testing.T) {
	// 3ch S16 frames are 6 bytes, which does not divide the queue limit.
	f := Format{Channels: 3, SampleRate: 48000, Encoding: EncodingS16}
	b := NewBinding(Input, f)
	s, err := NewStream(f, f)
	assert.NilErr(t, err)
	assert.NilErr(t, b.Attach(s))
	s.maxQueued = 20

	period := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	for i := 0; i < 3; i++ {
		b.Capture(period)
	}

	n, _ := s.Available()
	assert.DeepEqual(t, n%f.FrameSize(), 0)
	assert.DeepEqual(t, n, 18)
	assert.DeepEqual(t, s.Dropped(), uint64(3*len(period)-18))

	// Every frame still starts on the first channel.
	buf := make([]byte, n)
	n, _ = s.Read(buf)
	for i := 0; i < n; i += f.FrameSize() {
		if buf[i] != 1 && buf[i] != 7 {
			t.Fatalf("frame at %d starts with %d", i, buf[i])
		}
	}
}

func TestStreamCompaction(t *testing.T) {
	s, err := NewStream(testFormat, testFormat)
	assert.NilErr(t, err)

	var want []byte
	var got []byte
	buf := make([]byte, 3)
	for i := 0; i < 100; i++ {
		chunk := []byte{byte(i), byte(i + 1), byte(i + 2), byte(i + 3)}
		want = append(want, chunk...)
		assert.NilErr(t, s.Put(chunk))
		n, _ := s.Read(buf)
		got = append(got, buf[:n]...)
	}
	for {
		n, _ := s.Read(buf)
		if n == 0 {
			break
		}
		got = append(got, buf[:n]...)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("stream reordered bytes: got %d bytes, want %d", len(got), len(want))
	}
}

func TestStreamClear(t *testing.T) {
	s, _ := NewStream(testFormat, testFormat)
	assert.NilErr(t, s.Put([]byte{1, 2, 3}))
	s.Clear()
	n, _ := s.Available()
	assert.DeepEqual(t, n, 0)
}

func TestStreamSetFormat(t *testing.T) {
	mono := Format{Channels: 1, SampleRate: 44100, Encoding: EncodingF32}
	s, _ := NewStream(testFormat, testFormat)

	assert.NilErr(t, s.SetFormat(nil, &mono))
	src, dst := s.Formats()
	assert.DeepEqual(t, src, testFormat)
	assert.DeepEqual(t, dst, mono)

	assert.ErrorIs(t, s.SetFormat(&Format{}, nil), ErrFormatMismatch)

	b := NewBinding(Input, mono)
	assert.NilErr(t, b.Attach(s))
	assert.ErrorIs(t, s.SetFormat(&mono, nil), ErrStreamBound)
}

func TestStreamClose(t *testing.T) {
	s, _ := NewStream(testFormat, testFormat)
	b := NewBinding(Output, testFormat)
	assert.NilErr(t, b.Attach(s))
	assert.BoolIs(t, s.Bound(), true)

	assert.NilErr(t, s.Close())
	assert.BoolIs(t, s.Closed(), true)
	assert.BoolIs(t, s.Bound(), false)
	assert.DeepEqual(t, b.Len(), 0)

	// Second close is a no-op.
	assert.NilErr(t, s.Close())

	assert.ErrorIs(t, s.Put([]byte{1}), ErrStreamClosed)
	_, err := s.Available()
	assert.ErrorIs(t, err, ErrStreamClosed)
	_, err = s.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrStreamClosed)
}
