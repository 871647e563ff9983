package audio

import (
	"sync"
)

// RingBuffer is a thread-safe byte FIFO with fixed capacity. One slot is kept
// free so that read == write always means empty.
type RingBuffer struct {
	mu    sync.RWMutex
	buf   []byte
	read  int
	write int
}

// NewRingBuffer creates a ring buffer holding at most size-1 bytes
func NewRingBuffer(size int) *RingBuffer {
	if size < 2 {
		size = 2
	}
	return &RingBuffer{buf: make([]byte, size)}
}

// Write appends as much of data as fits and returns the number of bytes taken
func (rb *RingBuffer) Write(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := min(len(data), rb.space())
	for written := 0; written < n; {
		end := len(rb.buf)
		if rb.read > rb.write {
			end = rb.read - 1
		} else if rb.read == 0 {
			end = len(rb.buf) - 1
		}
		c := copy(rb.buf[rb.write:end], data[written:n])
		written += c
		rb.write = (rb.write + c) % len(rb.buf)
	}
	return n
}

// Read fills data from the front of the buffer and returns the bytes read
func (rb *RingBuffer) Read(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := min(len(data), rb.available())
	for read := 0; read < n; {
		end := len(rb.buf)
		if rb.write > rb.read {
			end = rb.write
		}
		c := copy(data[read:n], rb.buf[rb.read:end])
		read += c
		rb.read = (rb.read + c) % len(rb.buf)
	}
	return n
}

// Available returns the number of bytes available to read
func (rb *RingBuffer) Available() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.available()
}

// Space returns the number of bytes that can still be written
func (rb *RingBuffer) Space() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.space()
}

// Clear drops all buffered data
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.read = 0
	rb.write = 0
}

// IsEmpty returns true if the buffer is empty
func (rb *RingBuffer) IsEmpty() bool {
	return rb.Available() == 0
}

// IsFull returns true if the buffer is full
func (rb *RingBuffer) IsFull() bool {
	return rb.Space() == 0
}

func (rb *RingBuffer) available() int {
	if rb.write >= rb.read {
		return rb.write - rb.read
	}
	return len(rb.buf) - rb.read + rb.write
}

func (rb *RingBuffer) space() int {
	return len(rb.buf) - rb.available() - 1
}
