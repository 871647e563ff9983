package audio

import "sync"

const (
	// DefaultTargetRate is the sample rate both STT providers receive.
	DefaultTargetRate = 16000
	// DefaultChunkSamples is the fixed frame length sent per websocket message.
	DefaultChunkSamples = 4096
)

// Chunker turns capture frames of arbitrary size and rate into fixed-length
// PCM16 little-endian frames at the target rate.
type Chunker struct {
	mu         sync.Mutex
	targetRate int
	frameBytes int
	buf        *RingBuffer
}

// NewChunker creates a chunker. Zero values select 16kHz and 4096 samples.
func NewChunker(targetRate, frameSamples int) *Chunker {
	if targetRate <= 0 {
		targetRate = DefaultTargetRate
	}
	if frameSamples <= 0 {
		frameSamples = DefaultChunkSamples
	}
	frameBytes := frameSamples * 2
	return &Chunker{
		targetRate: targetRate,
		frameBytes: frameBytes,
		buf:        NewRingBuffer(frameBytes*4 + 1),
	}
}

// TargetRate returns the output sample rate
func (c *Chunker) TargetRate() int { return c.targetRate }

// FrameBytes returns the size of every emitted frame
func (c *Chunker) FrameBytes() int { return c.frameBytes }

// Push accepts samples captured at sampleRate and returns every complete
// frame that became available, in capture order.
func (c *Chunker) Push(samples []int16, sampleRate int) [][]byte {
	if len(samples) == 0 {
		return nil
	}
	pcm := SamplesToBytes(Resample(samples, sampleRate, c.targetRate))

	c.mu.Lock()
	defer c.mu.Unlock()

	var frames [][]byte
	for len(pcm) > 0 {
		n := c.buf.Write(pcm)
		pcm = pcm[n:]
		frames = c.drain(frames)
	}
	return frames
}

// Flush returns the buffered tail zero-padded to a full frame, or nil when
// nothing is pending.
func (c *Chunker) Flush() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.buf.Available()
	if n == 0 {
		return nil
	}
	frame := make([]byte, c.frameBytes)
	c.buf.Read(frame[:n])
	return frame
}

// Pending returns the number of buffered bytes not yet emitted
func (c *Chunker) Pending() int {
	return c.buf.Available()
}

// Reset discards buffered audio
func (c *Chunker) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf.Clear()
}

func (c *Chunker) drain(frames [][]byte) [][]byte {
	for c.buf.Available() >= c.frameBytes {
		frame := make([]byte, c.frameBytes)
		c.buf.Read(frame)
		frames = append(frames, frame)
	}
	return frames
}
