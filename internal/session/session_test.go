package session

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/petems/audio-looper/internal/assert"
	"github.com/petems/audio-looper/internal/audio"
	"github.com/petems/audio-looper/internal/audio/audiotest"
	"github.com/petems/audio-looper/internal/catalog"
	"github.com/petems/audio-looper/internal/metrics"
	"github.com/petems/audio-looper/internal/samples"
)

var (
	micFormat = audio.Format{Channels: 1, SampleRate: 44100, Encoding: audio.EncodingF32}
	usbFormat = audio.Format{Channels: 2, SampleRate: 48000, Encoding: audio.EncodingS16}
	spkFormat = audio.Format{Channels: 2, SampleRate: 48000, Encoding: audio.EncodingS16}
	hdmFormat = audio.Format{Channels: 2, SampleRate: 96000, Encoding: audio.EncodingS32}
)

const (
	spk = audio.DeviceID("spk")
	hdm = audio.DeviceID("hdmi")
	mic = audio.DeviceID("mic")
	usb = audio.DeviceID("usb-in")
)

type fixture struct {
	backend *audiotest.Backend
	catalog *catalog.Catalog
	store   *samples.Store
	metrics *metrics.Metrics
	session *Session
}

func newFixture(t *testing.T, slots int) *fixture {
	t.Helper()
	b := audiotest.New(
		[]audio.Device{
			audiotest.Device(string(mic), "Microphone", micFormat),
			audiotest.Device(string(usb), "USB Audio", usbFormat),
		},
		[]audio.Device{
			audiotest.Device(string(spk), "Speakers", spkFormat),
			audiotest.Device(string(hdm), "HDMI", hdmFormat),
		},
	)
	cat := catalog.New(b, zerolog.Nop())
	store := samples.New(64)
	for i := 0; i < slots; i++ {
		store.CreateSlot("")
	}
	m := metrics.New()
	s := New(Config{
		Backend: b,
		Catalog: cat,
		Store:   store,
		Logger:  zerolog.Nop(),
		Metrics: m,
	})
	return &fixture{backend: b, catalog: cat, store: store, metrics: m, session: s}
}

// slotStreams returns the playback stream of every slot.
func (f *fixture) slotStreams(t *testing.T) []*audio.Stream {
	t.Helper()
	res := make([]*audio.Stream, f.store.Len())
	for i := range res {
		s, err := f.store.Stream(i)
		assert.NilErr(t, err)
		res[i] = s
	}
	return res
}

func (f *fixture) captureStream(t *testing.T, id audio.DeviceID) *audio.Stream {
	t.Helper()
	bound := f.backend.BoundStreams(id)
	if len(bound) != 1 {
		t.Fatalf("expected one capture stream on %s, got %d", id, len(bound))
	}
	return bound[0]
}

func TestInitialState(t *testing.T) {
	f := newFixture(t, 3)
	assert.DeepEqual(t, f.session.SelectedInput(), None)
	assert.DeepEqual(t, f.session.SelectedOutput(), None)
	assert.BoolIs(t, f.session.InputOpen(), false)
	assert.BoolIs(t, f.session.OutputOpen(), false)
	assert.BoolIs(t, f.session.HasCapture(), false)
	assert.DeepEqual(t, f.backend.LiveStreams(), 0)
}

func TestSelectOutputBindsEverySlot(t *testing.T) {
	f := newFixture(t, 10)
	assert.NilErr(t, f.session.SelectOutputDevice(0))

	bound := f.backend.BoundStreams(spk)
	assert.DeepEqual(t, len(bound), 10)
	for i, s := range f.slotStreams(t) {
		if s == nil {
			t.Fatalf("slot %d has no stream", i)
		}
		src, dst := s.Formats()
		assert.DeepEqual(t, src, spkFormat)
		assert.DeepEqual(t, dst, spkFormat)
		assert.Contains(t, bound, s)
	}
	assert.DeepEqual(t, testutil.ToFloat64(f.metrics.DeviceSwitches.WithLabelValues("output")), 1.0)
}

func TestSelectOutputTwiceLeavesNoStaleBinding(t *testing.T) {
	tests := []struct {
		name string
		x, y int
	}{
		{"speakers then hdmi", 0, 1},
		{"hdmi then speakers", 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 10)
			xID, _ := f.catalog.Device(audio.Output, tt.x)
			yID, _ := f.catalog.Device(audio.Output, tt.y)

			assert.NilErr(t, f.session.SelectOutputDevice(tt.x))
			old := f.slotStreams(t)
			assert.NilErr(t, f.session.SelectOutputDevice(tt.y))

			if h := f.backend.Handle(xID.ID); h != nil {
				t.Fatalf("device %s is still open", xID.ID)
			}
			bound := f.backend.BoundStreams(yID.ID)
			assert.DeepEqual(t, len(bound), 10)
			for i, s := range f.slotStreams(t) {
				assert.Contains(t, bound, s)
				if s == old[i] {
					t.Fatalf("slot %d kept the stream of the previous device", i)
				}
				assert.BoolIs(t, old[i].Closed(), true)
			}
			assert.DeepEqual(t, f.backend.LiveStreams(), 10)
			assert.DeepEqual(t, f.backend.OpenHandles(), 1)
		})
	}
}

func TestSelectOutputUsesNegotiatedFormat(t *testing.T) {
	f := newFixture(t, 2)
	negotiated := audio.Format{Channels: 2, SampleRate: 44100, Encoding: audio.EncodingF32}
	f.backend.Negotiate(spk, negotiated)

	assert.NilErr(t, f.session.SelectOutputDevice(0))
	format, ok := f.session.OutputFormat()
	assert.BoolIs(t, ok, true)
	assert.DeepEqual(t, format, negotiated)
	for _, s := range f.slotStreams(t) {
		src, dst := s.Formats()
		assert.DeepEqual(t, src, negotiated)
		assert.DeepEqual(t, dst, negotiated)
	}
}

func TestSelectOutputOutOfRange(t *testing.T) {
	f := newFixture(t, 2)
	assert.NilErr(t, f.session.SelectOutputDevice(1))
	streams := f.slotStreams(t)

	for _, i := range []int{-1, 2} {
		err := f.session.SelectOutputDevice(i)
		assert.ErrorIs(t, err, audio.ErrOutOfRange)
	}
	assert.DeepEqual(t, f.session.SelectedOutput(), 1)
	assert.DeepEqual(t, f.slotStreams(t), streams)
	assert.DeepEqual(t, len(f.backend.BoundStreams(hdm)), 2)
}

func TestSelectOutputOpenFailure(t *testing.T) {
	f := newFixture(t, 4)
	assert.NilErr(t, f.session.SelectOutputDevice(0))

	f.backend.FailOpen(hdm, errors.New("device busy"))
	err := f.session.SelectOutputDevice(1)
	assert.ErrorIs(t, err, audio.ErrDeviceOpenFailed)

	assert.BoolIs(t, f.session.OutputOpen(), false)
	assert.DeepEqual(t, f.session.SelectedOutput(), 1)
	for _, s := range f.slotStreams(t) {
		if s != nil {
			t.Fatal("slot kept a stream after the output failed to open")
		}
	}
	assert.DeepEqual(t, f.backend.LiveStreams(), 0)
	assert.DeepEqual(t, f.backend.OpenHandles(), 0)

	// Re-selecting retries from scratch.
	f.backend.FailOpen(hdm, nil)
	assert.NilErr(t, f.session.SelectOutputDevice(1))
	assert.DeepEqual(t, len(f.backend.BoundStreams(hdm)), 4)
}

func TestFailedOutputSwitchRebuildsCapture(t *testing.T) {
	f := newFixture(t, 2)
	assert.NilErr(t, f.session.SelectOutputDevice(0))
	assert.NilErr(t, f.session.SelectInputDevice(0))
	old := f.captureStream(t, mic)

	f.backend.FailOpen(hdm, errors.New("device busy"))
	err := f.session.SelectOutputDevice(1)
	assert.ErrorIs(t, err, audio.ErrDeviceOpenFailed)
	assert.BoolIs(t, f.session.OutputOpen(), false)

	// The stream encoding for the closed speakers is gone; captured audio
	// now stays in the microphone's format.
	assert.BoolIs(t, old.Closed(), true)
	src, dst, ok := f.session.CaptureFormats()
	assert.BoolIs(t, ok, true)
	assert.DeepEqual(t, src, micFormat)
	assert.DeepEqual(t, dst, micFormat)
	if f.captureStream(t, mic) == old {
		t.Fatal("capture stream was not rebuilt")
	}
	assert.DeepEqual(t, f.backend.LiveStreams(), 1)
}

func TestSelectOutputStreamCreateFailure(t *testing.T) {
	f := newFixture(t, 3)
	f.backend.FailNewStream(errors.New("out of memory"))

	err := f.session.SelectOutputDevice(0)
	assert.ErrorIs(t, err, audio.ErrStreamCreateFailed)
	assert.BoolIs(t, f.session.OutputOpen(), true)
	assert.DeepEqual(t, len(f.backend.BoundStreams(spk)), 0)
}

func TestSelectOutputPartialBind(t *testing.T) {
	f := newFixture(t, 5)
	f.backend.FailBind(spk, errors.New("bind refused"), 1, 3)

	err := f.session.SelectOutputDevice(0)
	assert.ErrorIs(t, err, audio.ErrStreamBindFailed)
	var bindErr *audio.BindError
	if !errors.As(err, &bindErr) {
		t.Fatalf("expected a *audio.BindError, got %v", err)
	}
	assert.DeepEqual(t, len(bindErr.Failed), 2)

	bound := f.backend.BoundStreams(spk)
	for i, s := range f.slotStreams(t) {
		switch i {
		case 1, 3:
			if s != nil {
				t.Fatalf("slot %d kept an unbound stream", i)
			}
		default:
			assert.Contains(t, bound, s)
		}
	}
	assert.DeepEqual(t, f.backend.LiveStreams(), 3)
	assert.DeepEqual(t, testutil.ToFloat64(f.metrics.BindFailures), 2.0)
}

func TestSelectInputCaptureFollowsOutputFormat(t *testing.T) {
	f := newFixture(t, 1)
	assert.NilErr(t, f.session.SelectOutputDevice(1))
	assert.NilErr(t, f.session.SelectInputDevice(0))

	src, dst, ok := f.session.CaptureFormats()
	assert.BoolIs(t, ok, true)
	assert.DeepEqual(t, src, micFormat)
	assert.DeepEqual(t, dst, hdmFormat)

	// Input starts paused.
	assert.BoolIs(t, f.session.Capturing(), false)
	assert.BoolIs(t, f.backend.Handle(mic).Paused(), true)
}

func TestSelectInputWithoutOutput(t *testing.T) {
	f := newFixture(t, 1)
	assert.NilErr(t, f.session.SelectInputDevice(0))

	src, dst, ok := f.session.CaptureFormats()
	assert.BoolIs(t, ok, true)
	assert.DeepEqual(t, src, micFormat)
	assert.DeepEqual(t, dst, micFormat)
}

func TestSelectInputOutOfRangeLeavesInputUntouched(t *testing.T) {
	f := newFixture(t, 1)
	assert.NilErr(t, f.session.SelectOutputDevice(0))
	assert.NilErr(t, f.session.SelectInputDevice(1))
	capture := f.captureStream(t, usb)
	handle := f.backend.Handle(usb)

	for _, i := range []int{-1, 2, 42} {
		err := f.session.SelectInputDevice(i)
		assert.ErrorIs(t, err, audio.ErrOutOfRange)
	}

	assert.DeepEqual(t, f.session.SelectedInput(), 1)
	if f.backend.Handle(usb) != handle {
		t.Fatal("input device was replaced")
	}
	if f.captureStream(t, usb) != capture {
		t.Fatal("capture stream was replaced")
	}
	assert.BoolIs(t, capture.Closed(), false)
	assert.DeepEqual(t, f.backend.Opens(usb), 1)
}

func TestSelectInputReplacesPrevious(t *testing.T) {
	f := newFixture(t, 2)
	assert.NilErr(t, f.session.SelectOutputDevice(0))
	assert.NilErr(t, f.session.SelectInputDevice(0))
	first := f.captureStream(t, mic)

	assert.NilErr(t, f.session.SelectInputDevice(1))
	assert.BoolIs(t, first.Closed(), true)
	if f.backend.Handle(mic) != nil {
		t.Fatal("previous input device still open")
	}
	assert.DeepEqual(t, f.backend.OpenHandles(), 2)
	assert.DeepEqual(t, f.backend.LiveStreams(), 3)
}

func TestSelectInputFailuresAreDegraded(t *testing.T) {
	f := newFixture(t, 1)
	assert.NilErr(t, f.session.SelectOutputDevice(0))

	f.backend.FailOpen(mic, errors.New("exclusive access"))
	err := f.session.SelectInputDevice(0)
	assert.ErrorIs(t, err, audio.ErrDeviceOpenFailed)
	assert.BoolIs(t, f.session.InputOpen(), false)
	assert.BoolIs(t, f.session.HasCapture(), false)

	f.backend.FailOpen(mic, nil)
	f.backend.FailBind(mic, errors.New("bind refused"), 0)
	err = f.session.SelectInputDevice(0)
	assert.ErrorIs(t, err, audio.ErrStreamBindFailed)
	assert.BoolIs(t, f.session.InputOpen(), true)
	assert.BoolIs(t, f.session.HasCapture(), false)

	// Draining without a capture stream is a no-op.
	n, err := f.session.Drain(0)
	assert.NilErr(t, err)
	assert.DeepEqual(t, n, 0)
	assert.DeepEqual(t, f.backend.LiveStreams(), 1)
}

func TestOutputSwitchRebuildsCapture(t *testing.T) {
	f := newFixture(t, 2)
	assert.NilErr(t, f.session.SelectOutputDevice(0))
	assert.NilErr(t, f.session.SelectInputDevice(0))
	first := f.captureStream(t, mic)

	assert.NilErr(t, f.session.SelectOutputDevice(1))
	_, dst, _ := f.session.CaptureFormats()
	assert.DeepEqual(t, dst, hdmFormat)
	assert.BoolIs(t, first.Closed(), true)
	assert.DeepEqual(t, f.backend.Opens(mic), 2)
	assert.DeepEqual(t, f.backend.LiveStreams(), 3)
	assert.DeepEqual(t, f.backend.OpenHandles(), 2)
}

func TestDrainChunks(t *testing.T) {
	f := newFixture(t, 3)
	f.session.chunkSize = 7
	f.session.scratch = make([]byte, 7)
	assert.NilErr(t, f.session.SelectOutputDevice(0))
	assert.NilErr(t, f.session.SelectInputDevice(0))
	assert.NilErr(t, f.session.ResumeCapture())
	assert.BoolIs(t, f.session.Capturing(), true)

	var want []byte
	for i := 0; i < 5; i++ {
		chunk := bytes.Repeat([]byte{byte(i + 1)}, 10+i)
		want = append(want, chunk...)
		assert.NilErr(t, f.backend.Push(mic, chunk))
	}

	var (
		n   int
		err error
	)
	assert.DoesNotBlock(t, func() {
		n, err = f.session.Drain(2)
	})
	assert.NilErr(t, err)
	assert.DeepEqual(t, n, len(want))

	got, _ := f.store.Bytes(2)
	if !bytes.Equal(got, want) {
		t.Fatalf("drained bytes differ: got %v, want %v", got, want)
	}
	for _, i := range []int{0, 1} {
		info, _ := f.store.Info(i)
		assert.DeepEqual(t, info.Len, 0)
	}

	// Nothing left to drain.
	n, err = f.session.Drain(2)
	assert.NilErr(t, err)
	assert.DeepEqual(t, n, 0)
	assert.DeepEqual(t, testutil.ToFloat64(f.metrics.CapturedBytes), float64(len(want)))
}

func TestDrainPausedIsNoop(t *testing.T) {
	f := newFixture(t, 1)
	assert.NilErr(t, f.session.SelectOutputDevice(0))
	assert.NilErr(t, f.session.SelectInputDevice(0))
	assert.NilErr(t, f.session.ResumeCapture())

	assert.NilErr(t, f.backend.Push(mic, make([]byte, 512)))
	assert.NilErr(t, f.session.PauseCapture())

	n, err := f.session.Drain(0)
	assert.NilErr(t, err)
	assert.DeepEqual(t, n, 0)

	avail, _ := f.captureStream(t, mic).Available()
	assert.DeepEqual(t, avail, 512)
}

func TestResumeDiscardsStaleBytes(t *testing.T) {
	f := newFixture(t, 1)
	assert.NilErr(t, f.session.SelectOutputDevice(0))
	assert.NilErr(t, f.session.SelectInputDevice(0))
	assert.NilErr(t, f.session.ResumeCapture())
	assert.NilErr(t, f.backend.Push(mic, make([]byte, 100)))
	assert.NilErr(t, f.session.PauseCapture())

	assert.NilErr(t, f.session.ResumeCapture())
	assert.NilErr(t, f.backend.Push(mic, []byte{9, 9}))
	n, err := f.session.Drain(0)
	assert.NilErr(t, err)
	assert.DeepEqual(t, n, 2)
}

func TestResumeWithoutInput(t *testing.T) {
	f := newFixture(t, 1)
	assert.ErrorIs(t, f.session.ResumeCapture(), audio.ErrNoDevice)
	assert.NilErr(t, f.session.PauseCapture())
}

func TestDrainReadError(t *testing.T) {
	f := newFixture(t, 1)
	assert.NilErr(t, f.session.SelectOutputDevice(0))
	assert.NilErr(t, f.session.SelectInputDevice(0))
	assert.NilErr(t, f.session.ResumeCapture())
	assert.NilErr(t, f.backend.Push(mic, make([]byte, 64)))

	f.captureStream(t, mic).Close()

	for i := 1; i <= 2; i++ {
		n, err := f.session.Drain(0)
		assert.ErrorIs(t, err, audio.ErrStreamReadFailed)
		assert.ErrorIs(t, err, audio.ErrStreamClosed)
		assert.DeepEqual(t, n, 0)
		assert.DeepEqual(t, testutil.ToFloat64(f.metrics.DrainErrors), float64(i))
	}
	info, _ := f.store.Info(0)
	assert.DeepEqual(t, info.Len, 0)
}

func TestDrainCountsDroppedBytes(t *testing.T) {
	f := newFixture(t, 1)
	assert.NilErr(t, f.session.SelectInputDevice(0))
	assert.NilErr(t, f.session.ResumeCapture())
	capture := f.captureStream(t, mic)

	big := make([]byte, audio.DefaultMaxQueued+100)
	assert.NilErr(t, f.backend.Push(mic, big))
	assert.DeepEqual(t, capture.Dropped(), uint64(100))

	_, err := f.session.Drain(0)
	assert.NilErr(t, err)
	assert.DeepEqual(t, testutil.ToFloat64(f.metrics.CaptureDropped), 100.0)
}

func TestFeed(t *testing.T) {
	f := newFixture(t, 3)
	f.session.lead = 10 * time.Millisecond
	assert.NilErr(t, f.session.SelectOutputDevice(0))
	lead := f.session.leadBytes()
	assert.DeepEqual(t, lead, spkFormat.BytesPerSecond()/100)

	for i := 0; i < 3; i++ {
		assert.NilErr(t, f.store.AppendCaptured(i, bytes.Repeat([]byte{byte(i)}, 64)))
	}
	assert.NilErr(t, f.store.SetEnabled(0, true))
	assert.NilErr(t, f.store.SetEnabled(2, true))

	// Not playing: nothing is fed.
	assert.DeepEqual(t, f.session.Feed(false), 0)

	assert.DeepEqual(t, f.session.Feed(true), 2*lead)
	streams := f.slotStreams(t)
	for i, want := range []int{lead, 0, lead} {
		n, _ := streams[i].Available()
		assert.DeepEqual(t, n, want)
	}

	// Already topped up.
	assert.DeepEqual(t, f.session.Feed(true), 0)

	f.session.Mute()
	for _, s := range streams {
		n, _ := s.Available()
		assert.DeepEqual(t, n, 0)
	}
}

func TestFeedReachesOutputDevice(t *testing.T) {
	f := newFixture(t, 2)
	assert.NilErr(t, f.session.SelectOutputDevice(0))
	assert.NilErr(t, f.store.AppendCaptured(0, []byte{1, 0, 2, 0}))
	assert.NilErr(t, f.store.AppendCaptured(1, []byte{10, 0, 20, 0}))
	assert.NilErr(t, f.store.SetEnabled(0, true))
	assert.NilErr(t, f.store.SetEnabled(1, true))

	f.session.Feed(true)
	out, err := f.backend.Render(spk, 8)
	assert.NilErr(t, err)
	assert.DeepEqual(t, out, []byte{11, 0, 22, 0, 11, 0, 22, 0})
}

func TestBindSlot(t *testing.T) {
	f := newFixture(t, 1)

	// No output yet: the new slot waits for the session.
	idx := f.store.CreateSlot("late")
	assert.NilErr(t, f.session.BindSlot(idx))
	s, _ := f.store.Stream(idx)
	if s != nil {
		t.Fatal("slot got a stream without an output device")
	}

	assert.NilErr(t, f.session.SelectOutputDevice(0))
	idx = f.store.CreateSlot("later")
	assert.NilErr(t, f.session.BindSlot(idx))
	s, _ = f.store.Stream(idx)
	assert.Contains(t, f.backend.BoundStreams(spk), s)
	assert.DeepEqual(t, f.backend.LiveStreams(), 3)

	assert.ErrorIs(t, f.session.BindSlot(10), audio.ErrOutOfRange)
}

func TestCreateDeleteSlotDoesNotLeak(t *testing.T) {
	f := newFixture(t, 4)
	assert.NilErr(t, f.session.SelectOutputDevice(0))
	before := f.backend.LiveStreams()

	idx := f.store.CreateSlot("")
	assert.NilErr(t, f.session.BindSlot(idx))
	assert.DeepEqual(t, f.backend.LiveStreams(), before+1)

	assert.NilErr(t, f.store.DeleteSlot(idx))
	assert.DeepEqual(t, f.store.Len(), 4)
	assert.DeepEqual(t, f.backend.LiveStreams(), before)
	assert.DeepEqual(t, len(f.backend.BoundStreams(spk)), 4)
}

func TestRefreshDevicesRevalidates(t *testing.T) {
	f := newFixture(t, 1)
	assert.NilErr(t, f.session.SelectOutputDevice(1))
	assert.NilErr(t, f.session.SelectInputDevice(0))

	// HDMI moves to the front, the microphone disappears.
	f.backend.SetDevices(audio.Output, []audio.Device{
		audiotest.Device(string(hdm), "HDMI", hdmFormat),
		audiotest.Device(string(spk), "Speakers", spkFormat),
	})
	f.backend.SetDevices(audio.Input, []audio.Device{
		audiotest.Device(string(usb), "USB Audio", usbFormat),
	})
	f.session.RefreshDevices()

	assert.DeepEqual(t, f.session.SelectedOutput(), 0)
	assert.DeepEqual(t, f.session.SelectedInput(), None)
	assert.BoolIs(t, f.session.InputOpen(), true)

	// Re-selecting the output drops the orphaned input.
	assert.NilErr(t, f.session.SelectOutputDevice(0))
	assert.BoolIs(t, f.session.InputOpen(), false)
	assert.DeepEqual(t, f.backend.OpenHandles(), 1)
}

func TestClose(t *testing.T) {
	f := newFixture(t, 10)
	assert.NilErr(t, f.session.SelectOutputDevice(0))
	assert.NilErr(t, f.session.SelectInputDevice(0))
	assert.DeepEqual(t, f.backend.LiveStreams(), 11)
	assert.DeepEqual(t, f.backend.OpenHandles(), 2)

	f.session.Close()
	assert.DeepEqual(t, f.backend.LiveStreams(), 0)
	assert.DeepEqual(t, f.backend.OpenHandles(), 0)
	assert.BoolIs(t, f.session.OutputOpen(), false)
	assert.BoolIs(t, f.session.InputOpen(), false)
}
