package media

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// TestBuffer_DurationAccounting verifies buffered duration equals the sum of
// appended frame durations and resets to exactly zero after drain.
func TestBuffer_DurationAccounting(t *testing.T) {
	buf := NewBuffer(testLogger(), 160)

	durations := []int{20, 20, 20, 40, 20}
	total := 0
	for _, d := range durations {
		buf.Append(make([]byte, 160), d)
		total += d
		if buf.DurationMs() != total {
			t.Fatalf("after appending %dms, expected duration %dms, got %dms", d, total, buf.DurationMs())
		}
	}

	buf.Drain()
	if buf.DurationMs() != 0 {
		t.Errorf("expected zero duration after drain, got %dms", buf.DurationMs())
	}
	if buf.Len() != 0 {
		t.Errorf("expected empty buffer after drain, got %d bytes", buf.Len())
	}
}

func TestBuffer_Ready(t *testing.T) {
	testCases := []struct {
		name        string
		appendMs    []int
		thresholdMs int
		ready       bool
	}{
		{"empty buffer never ready", nil, 2000, false},
		{"below threshold", []int{20, 20}, 2000, false},
		{"exactly at threshold", []int{1000, 1000}, 2000, true},
		{"above threshold", []int{1500, 1000}, 2000, true},
		{"zero threshold always ready", nil, 0, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			buf := NewBuffer(testLogger(), 0)
			for _, d := range tc.appendMs {
				buf.Append([]byte{0x00}, d)
			}
			if got := buf.Ready(tc.thresholdMs); got != tc.ready {
				t.Errorf("Ready(%d) = %v, want %v", tc.thresholdMs, got, tc.ready)
			}
		})
	}
}

// TestBuffer_ThresholdScenario appends 100 frames of 20 ms each; the buffer
// must become ready exactly on the 100th append and not before.
func TestBuffer_ThresholdScenario(t *testing.T) {
	buf := NewBuffer(testLogger(), 160)
	frame := make([]byte, 160)

	flushes := 0
	for i := 0; i < 100; i++ {
		buf.Append(frame, FrameDurationMs)
		if buf.Ready(2000) {
			flushes++
			buf.Drain()
		}
	}

	if flushes != 1 {
		t.Fatalf("expected exactly one flush over 100 frames, got %d", flushes)
	}
	if buf.DurationMs() != 0 {
		t.Errorf("expected empty buffer after the single flush, got %dms", buf.DurationMs())
	}
}

func TestBuffer_DrainReturnsPayload(t *testing.T) {
	buf := NewBuffer(testLogger(), 0)
	buf.Append([]byte{0x01, 0x02}, 20)
	buf.Append([]byte{0x03}, 20)

	data := buf.Drain()
	if !bytes.Equal(data, []byte{0x01, 0x02, 0x03}) {
		t.Errorf("drained payload mismatch: %v", data)
	}

	// Draining an empty buffer is a no-op returning empty payload
	if len(buf.Drain()) != 0 {
		t.Error("draining an empty buffer should return an empty payload")
	}
}
