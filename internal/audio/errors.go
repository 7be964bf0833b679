package audio

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrOutOfRange is returned for an invalid slot or device index.
	ErrOutOfRange = errors.New("index out of range")

	ErrDeviceOpenFailed   = errors.New("device open failed")
	ErrStreamCreateFailed = errors.New("stream create failed")
	ErrStreamBindFailed   = errors.New("stream bind failed")
	ErrStreamReadFailed   = errors.New("stream read failed")

	ErrStreamClosed   = errors.New("stream closed")
	ErrStreamBound    = errors.New("stream already bound")
	ErrFormatMismatch = errors.New("format mismatch")
	ErrNoDevice       = errors.New("no device")
	ErrAudioDisabled  = errors.New("audio was disabled during compilation")
	ErrUnknownBackend = errors.New("unknown audio backend")
)

// IndexError is returned when an index does not address an existing element.
type IndexError struct {
	What  string
	Index int
	Len   int
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("%s index %d out of range (have %d)", e.What, e.Index, e.Len)
}

func (e *IndexError) Is(target error) bool {
	return target == ErrOutOfRange
}

// CheckIndex returns an *IndexError unless 0 <= i < n.
func CheckIndex(what string, i, n int) error {
	if i < 0 || i >= n {
		return &IndexError{What: what, Index: i, Len: n}
	}
	return nil
}

// BindError reports the streams of a batch bind that could not be bound.
// Streams not listed were bound successfully and stay bound.
type BindError struct {
	Failed map[int]error // keyed by position in the batch
	Total  int
}

func (e *BindError) Error() string {
	idx := make([]int, 0, len(e.Failed))
	for i := range e.Failed {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	parts := make([]string, 0, len(idx))
	for _, i := range idx {
		parts = append(parts, fmt.Sprintf("#%d: %v", i, e.Failed[i]))
	}
	return fmt.Sprintf("failed to bind %d of %d streams (%s)", len(e.Failed),
		e.Total, strings.Join(parts, "; "))
}

func (e *BindError) Is(target error) bool {
	return target == ErrStreamBindFailed
}
