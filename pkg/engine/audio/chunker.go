package audio

// Chunker accumulates arbitrary-length PCM byte buffers into frames of a fixed
// duration. Leftover bytes that do not fill a whole frame are retained for the
// next Push. The inbound and outbound audio paths each own an independent
// Chunker; the two directions never share state.
type Chunker struct {
	format    Format
	frameSize int
	pending   []byte
}

// NewChunker creates a chunker producing frames of frameMs at the given format.
func NewChunker(format Format, frameMs int) *Chunker {
	size := format.BytesForDurationMs(frameMs)
	if size <= 0 {
		size = format.BytesPerSecond() / 10
	}
	return &Chunker{
		format:    format,
		frameSize: size,
		pending:   make([]byte, 0, size),
	}
}

// FrameSize returns the fixed frame size in bytes.
func (c *Chunker) FrameSize() int { return c.frameSize }

// Push appends data and returns every complete frame now available, in order.
// Each returned frame is an independent copy of exactly FrameSize bytes.
func (c *Chunker) Push(data []byte) [][]byte {
	if len(data) == 0 {
		return nil
	}
	c.pending = append(c.pending, data...)

	var frames [][]byte
	for len(c.pending) >= c.frameSize {
		frame := make([]byte, c.frameSize)
		copy(frame, c.pending[:c.frameSize])
		frames = append(frames, frame)
		c.pending = c.pending[c.frameSize:]
	}
	// Reclaim capacity once the backlog drains so a large push does not pin
	// its buffer forever.
	if len(c.pending) == 0 && cap(c.pending) > 4*c.frameSize {
		c.pending = make([]byte, 0, c.frameSize)
	}
	return frames
}

// Flush returns any retained partial frame, zero-padded to a whole frame, and
// resets the accumulator. Returns nil if nothing is pending.
func (c *Chunker) Flush() []byte {
	if len(c.pending) == 0 {
		return nil
	}
	frame := make([]byte, c.frameSize)
	copy(frame, c.pending)
	c.pending = c.pending[:0]
	return frame
}

// PendingBytes returns how many bytes are retained awaiting a full frame.
func (c *Chunker) PendingBytes() int { return len(c.pending) }

// Reset discards any retained bytes.
func (c *Chunker) Reset() { c.pending = c.pending[:0] }
