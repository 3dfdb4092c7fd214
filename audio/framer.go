package audio

import "sync"

// Framer accumulates variable-sized capture periods and emits fixed-size frames.
type Framer struct {
	frameSize int
	pending   []float32
	mu        sync.Mutex
}

// NewFramer creates a framer emitting frames of frameSize samples.
func NewFramer(frameSize int) *Framer {
	if frameSize <= 0 {
		frameSize = DefaultFrameSize
	}
	return &Framer{
		frameSize: frameSize,
		pending:   make([]float32, 0, frameSize),
	}
}

// FrameSize returns the number of samples per emitted frame.
func (f *Framer) FrameSize() int {
	return f.frameSize
}

// Write appends samples and returns every frame that is now complete, in
// capture order. The partial remainder is kept for the next call.
func (f *Framer) Write(samples []float32) [][]float32 {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pending = append(f.pending, samples...)

	var frames [][]float32
	for len(f.pending) >= f.frameSize {
		frame := make([]float32, f.frameSize)
		copy(frame, f.pending[:f.frameSize])
		frames = append(frames, frame)
		f.pending = f.pending[f.frameSize:]
	}

	// Move the remainder to the front so the backing array stays one frame wide.
	rest := make([]float32, len(f.pending), f.frameSize)
	copy(rest, f.pending)
	f.pending = rest

	return frames
}

// Pending returns the number of samples waiting for a full frame.
func (f *Framer) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// Clear drops any partial frame.
func (f *Framer) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = f.pending[:0]
}
