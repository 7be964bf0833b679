package logging

import (
	"bytes"
	"sync"
)

// maxLogLines is how many lines a LinesBuffer keeps.
const maxLogLines = 100

// Listener receives each line written to a LinesBuffer until closed.
type Listener struct {
	b  *LinesBuffer
	cb func(s string)
}

// Close stops this listener from receiving new callbacks.
func (l *Listener) Close() {
	l.b.mu.Lock()
	defer l.b.mu.Unlock()
	for i, other := range l.b.listeners {
		if other == l {
			l.b.listeners = append(l.b.listeners[:i], l.b.listeners[i+1:]...)
			return
		}
	}
}

// LinesBuffer is the io.Writer behind the status console writer. The
// console writer emits one event per Write, but a Write holding several
// newline separated lines is split so each one is kept and announced on its
// own. The zero value is ready to use.
type LinesBuffer struct {
	mu        sync.Mutex
	ring      [maxLogLines]string
	next      int
	count     int
	listeners []*Listener
}

func (buff *LinesBuffer) Write(b []byte) (int, error) {
	trimmed := bytes.TrimRight(b, "\n")
	if len(trimmed) == 0 {
		return len(b), nil
	}
	var lines []string
	for _, l := range bytes.Split(trimmed, []byte("\n")) {
		lines = append(lines, string(bytes.TrimRight(l, "\r")))
	}

	buff.mu.Lock()
	for _, l := range lines {
		buff.ring[buff.next] = l
		buff.next = (buff.next + 1) % maxLogLines
		if buff.count < maxLogLines {
			buff.count++
		}
	}
	listeners := append([]*Listener(nil), buff.listeners...)
	buff.mu.Unlock()

	for _, lis := range listeners {
		for _, l := range lines {
			lis.cb(l)
		}
	}
	return len(b), nil
}

// LastLogLines returns the last n log lines, oldest first, without their
// trailing newline. A negative n returns every buffered line.
func (buff *LinesBuffer) LastLogLines(n int) []string {
	buff.mu.Lock()
	defer buff.mu.Unlock()

	if n < 0 || n > buff.count {
		n = buff.count
	}
	res := make([]string, n)
	start := buff.next - n + maxLogLines
	for i := range res {
		res[i] = buff.ring[(start+i)%maxLogLines]
	}
	return res
}

// Listen calls cb synchronously with every new line until the returned
// listener is closed.
func (buff *LinesBuffer) Listen(cb func(s string)) *Listener {
	l := &Listener{b: buff, cb: cb}
	buff.mu.Lock()
	buff.listeners = append(buff.listeners, l)
	buff.mu.Unlock()
	return l
}
