package audio

import (
	"encoding/binary"
	"testing"

	"github.com/petems/audio-looper/internal/assert"
)

func s16(vals ...int16) []byte {
	b := make([]byte, len(vals)*2)
	for i, v := range vals {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(v))
	}
	return b
}

func TestBindingAttachFormats(t *testing.T) {
	other := Format{Channels: 1, SampleRate: 22050, Encoding: EncodingU8}

	tests := []struct {
		name     string
		dir      Direction
		src, dst Format
		wantErr  error
	}{
		{"output pass-through", Output, testFormat, testFormat, nil},
		{"output wrong source", Output, other, testFormat, ErrFormatMismatch},
		{"output wrong destination", Output, testFormat, other, ErrFormatMismatch},
		{"input converts source", Input, other, testFormat, nil},
		{"input wrong destination", Input, testFormat, other, ErrFormatMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBinding(tt.dir, testFormat)
			s, err := NewStream(tt.src, tt.dst)
			assert.NilErr(t, err)

			err = b.Attach(s)
			if tt.wantErr == nil {
				assert.NilErr(t, err)
				assert.DeepEqual(t, b.Len(), 1)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
			assert.DeepEqual(t, b.Len(), 0)
		})
	}
}

func TestBindingAttachTwice(t *testing.T) {
	b1 := NewBinding(Output, testFormat)
	b2 := NewBinding(Output, testFormat)
	s, _ := NewStream(testFormat, testFormat)

	assert.NilErr(t, b1.Attach(s))
	assert.ErrorIs(t, b2.Attach(s), ErrStreamBound)

	b1.Detach(s)
	assert.NilErr(t, b2.Attach(s))
	assert.DeepEqual(t, b1.Len(), 0)
	assert.DeepEqual(t, b2.Len(), 1)
}

func TestBindingRenderMixes(t *testing.T) {
	b := NewBinding(Output, testFormat)
	s1, _ := NewStream(testFormat, testFormat)
	s2, _ := NewStream(testFormat, testFormat)
	assert.NilErr(t, b.Attach(s1))
	assert.NilErr(t, b.Attach(s2))

	assert.NilErr(t, s1.Put(s16(100, 200, 30000, -30000)))
	assert.NilErr(t, s2.Put(s16(1, 2)))

	out := make([]byte, 8)
	n := b.Render(out)
	assert.DeepEqual(t, n, 8)
	assert.DeepEqual(t, out, s16(101, 202, 30000, -30000))

	// Everything was consumed, the next period is silence.
	n = b.Render(out)
	assert.DeepEqual(t, n, 0)
	assert.DeepEqual(t, out, make([]byte, 8))
}

func TestBindingRenderPaused(t *testing.T) {
	b := NewBinding(Output, testFormat)
	s, _ := NewStream(testFormat, testFormat)
	assert.NilErr(t, b.Attach(s))
	assert.NilErr(t, s.Put(s16(5, 5)))

	b.SetPaused(true)
	out := make([]byte, 4)
	assert.DeepEqual(t, b.Render(out), 0)

	n, _ := s.Available()
	assert.DeepEqual(t, n, 4)
}

func TestBindingCapture(t *testing.T) {
	b := NewBinding(Input, testFormat)
	s, _ := NewStream(testFormat, testFormat)
	assert.NilErr(t, b.Attach(s))

	b.Capture([]byte{1, 2, 3, 4})
	n, _ := s.Available()
	assert.DeepEqual(t, n, 4)

	b.SetPaused(true)
	b.Capture([]byte{5, 6, 7, 8})
	n, _ = s.Available()
	assert.DeepEqual(t, n, 4)
}

func TestBindingDetachAll(t *testing.T) {
	b := NewBinding(Output, testFormat)
	streams := make([]*Stream, 3)
	for i := range streams {
		streams[i], _ = NewStream(testFormat, testFormat)
		assert.NilErr(t, b.Attach(streams[i]))
	}

	b.DetachAll()
	assert.DeepEqual(t, b.Len(), 0)
	for _, s := range streams {
		assert.BoolIs(t, s.Bound(), false)
	}
}
