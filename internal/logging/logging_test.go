package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/petems/audio-looper/internal/assert"
)

func TestLinesBufferKeepsLast(t *testing.T) {
	var b LinesBuffer
	assert.DeepEqual(t, b.LastLogLines(5), []string{})

	for i := 0; i < maxLogLines+20; i++ {
		fmt.Fprintf(&b, "line %d\n", i)
	}

	all := b.LastLogLines(-1)
	assert.DeepEqual(t, len(all), maxLogLines)
	assert.DeepEqual(t, all[0], "line 20")

	last := b.LastLogLines(2)
	assert.DeepEqual(t, last, []string{
		fmt.Sprintf("line %d", maxLogLines+18),
		fmt.Sprintf("line %d", maxLogLines+19),
	})
}

func TestLinesBufferListen(t *testing.T) {
	var b LinesBuffer
	got := make(chan string, 1)
	l := b.Listen(func(s string) { got <- s })

	b.Write([]byte("hello\n"))
	assert.DeepEqual(t, assert.ChanWritten(t, got), "hello")

	l.Close()
	b.Write([]byte("again\n"))
	assert.ChanNotWritten(t, got, 0)
}

func TestLinesBufferSplitsMultiLineWrites(t *testing.T) {
	var b LinesBuffer
	var got []string
	b.Listen(func(s string) { got = append(got, s) })

	b.Write([]byte("first\r\nsecond\n"))
	b.Write([]byte("\n"))

	assert.DeepEqual(t, b.LastLogLines(-1), []string{"first", "second"})
	assert.DeepEqual(t, got, []string{"first", "second"})
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"chatty", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.DeepEqual(t, ParseLevel(tt.in), tt.want)
		})
	}
}

func TestSetupWritesFileAndLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "looper.log")
	b, err := Setup(Options{Level: "info", File: path, MaxLogFiles: 2})
	assert.NilErr(t, err)

	b.Debug().Msg("Hidden")
	b.Info().Str("device", "Speakers").Msg("Opened output device")
	assert.NilErr(t, b.Close())

	lines := b.Lines.LastLogLines(-1)
	assert.DeepEqual(t, len(lines), 1)
	if !strings.Contains(lines[0], "Opened output device") ||
		!strings.Contains(lines[0], "device=Speakers") {
		t.Fatalf("unexpected line %q", lines[0])
	}

	data, err := os.ReadFile(path)
	assert.NilErr(t, err)
	if !strings.Contains(string(data), `"message":"Opened output device"`) {
		t.Fatalf("log file missing entry: %s", data)
	}
}
