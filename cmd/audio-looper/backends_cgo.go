//go:build cgo && !noaudio

package main

import (
	_ "github.com/petems/audio-looper/internal/audio/malgoaudio"
	_ "github.com/petems/audio-looper/internal/audio/paaudio"
)
