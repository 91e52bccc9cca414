package session

import "sync"

// defaultCaptureBytes is the fallback ring buffer capacity used when a
// caller passes a non-positive size.
const defaultCaptureBytes = 64 * 1024

// RingBuffer is a fixed-capacity circular buffer holding the most recent
// bytes written to it. The supervisor feeds it every byte read from the
// agent's terminal so that a crash log can include the output that led
// up to the exit, without unbounded memory growth.
//
// RingBuffer implements io.Writer and is safe for concurrent use.
type RingBuffer struct {
	mu   sync.RWMutex
	buf  []byte
	size int
	w    int  // next write position
	full bool // true once the buffer has wrapped at least once
}

// NewRingBuffer creates a ring buffer with the given capacity in bytes.
// A non-positive size falls back to defaultCaptureBytes.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = defaultCaptureBytes
	}
	return &RingBuffer{
		buf:  make([]byte, size),
		size: size,
	}
}

// Write appends data to the buffer, overwriting the oldest bytes once
// the capacity is reached. It always returns len(p), nil.
func (r *RingBuffer) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(p)
	if n == 0 {
		return 0, nil
	}

	// A write at least as large as the buffer replaces everything;
	// only the final size bytes survive.
	if n >= r.size {
		copy(r.buf, p[n-r.size:])
		r.w = 0
		r.full = true
		return n, nil
	}

	if !r.full && r.w+n >= r.size {
		r.full = true
	}
	m := copy(r.buf[r.w:], p)
	if m < n {
		copy(r.buf, p[m:])
	}
	r.w = (r.w + n) % r.size
	return n, nil
}

// Bytes returns a copy of the stored data in chronological order,
// oldest first.
func (r *RingBuffer) Bytes() []byte {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.full {
		return append([]byte(nil), r.buf[:r.w]...)
	}
	out := make([]byte, 0, r.size)
	out = append(out, r.buf[r.w:]...)
	out = append(out, r.buf[:r.w]...)
	return out
}

// Tail returns a copy of the most recent n bytes. If the buffer holds
// fewer than n bytes, all of them are returned. A non-positive n
// returns nil.
func (r *RingBuffer) Tail(n int) []byte {
	if n <= 0 {
		return nil
	}
	b := r.Bytes()
	if len(b) <= n {
		return b
	}
	return b[len(b)-n:]
}

// Len returns the number of bytes currently stored.
func (r *RingBuffer) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.full {
		return r.size
	}
	return r.w
}

// Reset discards all stored data, keeping the allocated capacity.
func (r *RingBuffer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.w = 0
	r.full = false
}
