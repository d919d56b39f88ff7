package process

import (
	"bytes"
	"sync"
)

// maxLine bounds how much unterminated output is buffered before it is
// emitted as a chunk of its own.
const maxLine = 64 * 1024

// lineWriter splits a byte stream into lines and hands each to emit.
// A trailing "\r" is dropped so CRLF output matches like LF output.
type lineWriter struct {
	mu   sync.Mutex
	buf  []byte
	emit func(string)
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(string(bytes.TrimSuffix(w.buf[:i], []byte{'\r'})))
		w.buf = w.buf[i+1:]
	}
	if len(w.buf) >= maxLine {
		w.emit(string(w.buf))
		w.buf = nil
	}
	return len(p), nil
}

// flush emits any unterminated remainder.
func (w *lineWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.emit(string(bytes.TrimSuffix(w.buf, []byte{'\r'})))
		w.buf = nil
	}
}
