package media

import (
	"github.com/sirupsen/logrus"
)

// FrameDurationMs is the fixed duration of one telephony media frame. The
// upstream protocol delivers 20 ms of μ-law audio per media event.
const FrameDurationMs = 20

// Frame is one timed chunk of encoded audio as received from the transport.
type Frame struct {
	Encoding   string
	SampleRate int
	DurationMs int
	Payload    []byte
}

// Buffer accumulates timed audio frames for a single call until enough audio
// has been collected for one pipeline invocation. It is exclusively owned by
// one call loop and needs no locking.
type Buffer struct {
	logger     *logrus.Logger
	data       []byte
	durationMs int

	// expected payload bytes for one frame at the fixed duration; a zero
	// value disables the length check
	expectedFrameBytes int
	lengthWarned       bool
}

// NewBuffer creates an empty audio buffer. expectedFrameBytes is the payload
// size implied by the fixed per-frame duration (160 bytes for 20 ms of 8 kHz
// μ-law); frames of a different length are still accepted but logged once,
// since duration accounting assumes fixed-size frames.
func NewBuffer(logger *logrus.Logger, expectedFrameBytes int) *Buffer {
	return &Buffer{
		logger:             logger,
		expectedFrameBytes: expectedFrameBytes,
	}
}

// Append adds a frame's payload to the buffer and credits its duration.
func (b *Buffer) Append(payload []byte, durationMs int) {
	if b.expectedFrameBytes > 0 && len(payload) != b.expectedFrameBytes && !b.lengthWarned {
		b.logger.WithFields(logrus.Fields{
			"payload_bytes":  len(payload),
			"expected_bytes": b.expectedFrameBytes,
		}).Warn("Media frame length does not match fixed frame duration; duration accounting may drift")
		b.lengthWarned = true
	}

	b.data = append(b.data, payload...)
	b.durationMs += durationMs
}

// Ready reports whether the accumulated duration has reached the threshold.
func (b *Buffer) Ready(thresholdMs int) bool {
	return b.durationMs >= thresholdMs
}

// DurationMs returns the accumulated buffered duration.
func (b *Buffer) DurationMs() int {
	return b.durationMs
}

// Len returns the number of buffered payload bytes.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Drain returns the accumulated payload and resets the buffer to empty.
// Draining an empty buffer returns an empty payload.
func (b *Buffer) Drain() []byte {
	data := b.data
	b.data = nil
	b.durationMs = 0
	return data
}
