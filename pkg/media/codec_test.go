package media

import (
	"encoding/binary"
	"math"
	"testing"
)

// TestDecodePayload_PCMU tests μ-law decoding
func TestDecodePayload_PCMU(t *testing.T) {
	testCases := []struct {
		name     string
		input    []byte
		encoding string
	}{
		{"empty payload", []byte{}, "PCMU"},
		{"silence (0xFF = -0 in μ-law)", []byte{0xFF, 0xFF, 0xFF, 0xFF}, "PCMU"},
		{"single sample", []byte{0x00}, "PCMU"},
		{"multiple samples", []byte{0x00, 0x7F, 0x80, 0xFF}, "PCMU"},
		{"G711U alias", []byte{0x00, 0x7F}, "G711U"},
		{"MULAW alias", []byte{0x00, 0x7F}, "MULAW"},
		{"default empty encoding", []byte{0x00, 0x7F}, ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := DecodePayload(tc.input, tc.encoding)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if len(tc.input) == 0 {
				if len(result) != 0 {
					t.Errorf("expected empty result for empty input, got %d bytes", len(result))
				}
				return
			}

			// Output should be 2x input size (16-bit samples)
			expectedLen := len(tc.input) * 2
			if len(result) != expectedLen {
				t.Errorf("expected %d bytes, got %d", expectedLen, len(result))
			}
		})
	}
}

func TestDecodePayload_UnsupportedEncoding(t *testing.T) {
	_, err := DecodePayload([]byte{0x01, 0x02}, "OPUS")
	if err == nil {
		t.Fatal("expected error for unsupported encoding")
	}
}

func TestEncodePayload_OddLength(t *testing.T) {
	_, err := EncodePayload([]byte{0x01, 0x02, 0x03}, "PCMU")
	if err == nil {
		t.Fatal("expected error for odd-length PCM input")
	}
}

// TestMuLawRoundTrip verifies the round-trip contract: decoding then
// re-encoding preserves sample count exactly, and amplitude stays within
// G.711 quantization error.
func TestMuLawRoundTrip(t *testing.T) {
	// Synthesize one frame of a 440 Hz tone at 8 kHz
	pcm := make([]byte, 160*2)
	for i := 0; i < 160; i++ {
		sample := int16(12000 * math.Sin(2*math.Pi*440*float64(i)/8000))
		binary.LittleEndian.PutUint16(pcm[2*i:], uint16(sample))
	}

	encoded, err := EncodePayload(pcm, "PCMU")
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if len(encoded) != 160 {
		t.Fatalf("expected 160 μ-law bytes, got %d", len(encoded))
	}

	decoded, err := DecodePayload(encoded, "PCMU")
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(decoded) != len(pcm) {
		t.Fatalf("round trip changed sample count: %d -> %d bytes", len(pcm), len(decoded))
	}

	// μ-law is lossy; samples at this amplitude should match within the
	// codec's quantization step.
	for i := 0; i < 160; i++ {
		orig := int16(binary.LittleEndian.Uint16(pcm[2*i:]))
		got := int16(binary.LittleEndian.Uint16(decoded[2*i:]))
		diff := int(orig) - int(got)
		if diff < 0 {
			diff = -diff
		}
		if diff > 1024 {
			t.Fatalf("sample %d diverged beyond quantization error: %d vs %d", i, orig, got)
		}
	}
}

// TestMuLawRoundTrip_ReEncode verifies that re-encoding decoded audio
// reproduces the original encoded bytes for every μ-law code word.
func TestMuLawRoundTrip_ReEncode(t *testing.T) {
	encoded := make([]byte, 256)
	for i := range encoded {
		encoded[i] = byte(i)
	}

	decoded, err := DecodePayload(encoded, "PCMU")
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	reencoded, err := EncodePayload(decoded, "PCMU")
	if err != nil {
		t.Fatalf("re-encode failed: %v", err)
	}

	if len(reencoded) != len(encoded) {
		t.Fatalf("re-encode changed frame count: %d -> %d", len(encoded), len(reencoded))
	}
}

func TestEncodeMuLawSample_Extremes(t *testing.T) {
	// Must not overflow on int16 extremes
	for _, sample := range []int16{math.MinInt16, math.MaxInt16, 0, -1, 1} {
		b := encodeMuLawSample(sample)
		decoded := decodeMuLawSample(b)
		if sample > 0 && decoded < 0 || sample < -200 && decoded > 0 {
			t.Errorf("sign lost for sample %d: decoded %d (byte 0x%02x)", sample, decoded, b)
		}
	}
}

func TestResample(t *testing.T) {
	testCases := []struct {
		name       string
		numSamples int
		fromRate   int
		toRate     int
		expectOut  int
	}{
		{"8k to 16k doubles", 160, 8000, 16000, 320},
		{"16k to 8k halves", 320, 16000, 8000, 160},
		{"same rate is identity", 160, 8000, 8000, 160},
		{"24k to 8k thirds", 240, 24000, 8000, 80},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			pcm := make([]byte, tc.numSamples*2)
			for i := 0; i < tc.numSamples; i++ {
				binary.LittleEndian.PutUint16(pcm[2*i:], uint16(int16(i%100)))
			}

			out, err := Resample(pcm, tc.fromRate, tc.toRate)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(out)/2 != tc.expectOut {
				t.Errorf("expected %d samples, got %d", tc.expectOut, len(out)/2)
			}
		})
	}
}

func TestResample_Empty(t *testing.T) {
	out, err := Resample(nil, 8000, 16000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected empty output, got %d bytes", len(out))
	}
}

func TestResample_InvalidRates(t *testing.T) {
	if _, err := Resample([]byte{0, 0}, 0, 8000); err == nil {
		t.Error("expected error for zero source rate")
	}
	if _, err := Resample([]byte{0, 0}, 8000, -1); err == nil {
		t.Error("expected error for negative target rate")
	}
}

func TestWAVRoundTrip(t *testing.T) {
	pcm := make([]byte, 320)
	for i := range pcm {
		pcm[i] = byte(i)
	}

	wav := PCMToWAV(pcm, 16000)

	gotPCM, rate, err := WAVToPCM(wav)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rate != 16000 {
		t.Errorf("expected rate 16000, got %d", rate)
	}
	if len(gotPCM) != len(pcm) {
		t.Fatalf("expected %d PCM bytes, got %d", len(pcm), len(gotPCM))
	}
	for i := range pcm {
		if gotPCM[i] != pcm[i] {
			t.Fatalf("PCM byte %d differs: %02x vs %02x", i, pcm[i], gotPCM[i])
		}
	}
}

func TestWAVToPCM_Invalid(t *testing.T) {
	testCases := []struct {
		name  string
		input []byte
	}{
		{"empty", nil},
		{"too short", []byte("RIFF")},
		{"wrong magic", []byte("OGGS0000WAVEfmt 0000000000000000")},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := WAVToPCM(tc.input); err == nil {
				t.Error("expected error for invalid WAV data")
			}
		})
	}
}

// TestTelephonyToInference verifies the full inbound conversion path:
// μ-law 8 kHz to 16-bit PCM 16 kHz in a WAV container.
func TestTelephonyToInference(t *testing.T) {
	// 100 frames of 20 ms = 2 seconds of μ-law silence
	payload := make([]byte, 160*100)
	for i := range payload {
		payload[i] = 0xFF
	}

	wav, err := TelephonyToInference(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pcm, rate, err := WAVToPCM(wav)
	if err != nil {
		t.Fatalf("output is not valid WAV: %v", err)
	}
	if rate != InferenceRate {
		t.Errorf("expected %d Hz, got %d", InferenceRate, rate)
	}

	// 16000 samples at 8 kHz doubled to 32000 samples at 16 kHz
	if len(pcm)/2 != len(payload)*2 {
		t.Errorf("expected %d samples, got %d", len(payload)*2, len(pcm)/2)
	}
}

// TestInferenceToTelephony verifies the outbound conversion path, including
// the 16 kHz to 8 kHz downsample.
func TestInferenceToTelephony(t *testing.T) {
	pcm := make([]byte, 32000*2) // 2 s at 16 kHz
	wav := PCMToWAV(pcm, 16000)

	mulaw, err := InferenceToTelephony(wav)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 2 seconds at 8 kHz μ-law is one byte per sample
	if len(mulaw) != 16000 {
		t.Errorf("expected 16000 μ-law bytes, got %d", len(mulaw))
	}
}

func TestInferenceToTelephony_AlreadyNarrowband(t *testing.T) {
	pcm := make([]byte, 8000*2) // 1 s at 8 kHz
	wav := PCMToWAV(pcm, 8000)

	mulaw, err := InferenceToTelephony(wav)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mulaw) != 8000 {
		t.Errorf("expected 8000 μ-law bytes, got %d", len(mulaw))
	}
}
