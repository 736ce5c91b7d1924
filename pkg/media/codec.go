package media

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"voiceagent-server/pkg/errors"
)

// Standard rates for the telephony and inference legs of the pipeline.
const (
	TelephonyRate = 8000
	InferenceRate = 16000
)

const (
	muLawBias = 0x84
	muLawClip = 32635
)

var muLawDecodeTable [256]int16

func init() {
	for i := 0; i < 256; i++ {
		muLawDecodeTable[i] = decodeMuLawSample(byte(i))
	}
}

// DecodePayload converts encoded audio payload bytes into 16-bit linear PCM.
// The returned slice uses little-endian byte ordering.
func DecodePayload(payload []byte, encoding string) ([]byte, error) {
	switch encoding {
	case "", "PCMU", "G711U", "G.711U", "MULAW":
		return muLawToPCM(payload), nil
	case "L16", "LINEAR16":
		// Already 16-bit linear PCM
		return append([]byte(nil), payload...), nil
	default:
		return nil, errors.NewUnsupportedFormat(encoding)
	}
}

// EncodePayload converts 16-bit linear PCM into the requested encoding.
func EncodePayload(pcm []byte, encoding string) ([]byte, error) {
	switch encoding {
	case "", "PCMU", "G711U", "G.711U", "MULAW":
		return pcmToMuLaw(pcm)
	case "L16", "LINEAR16":
		return append([]byte(nil), pcm...), nil
	default:
		return nil, errors.NewUnsupportedFormat(encoding)
	}
}

func muLawToPCM(payload []byte) []byte {
	if len(payload) == 0 {
		return nil
	}

	out := make([]byte, len(payload)*2)
	for i, b := range payload {
		sample := muLawDecodeTable[b]
		out[2*i] = byte(sample)
		out[2*i+1] = byte(sample >> 8)
	}
	return out
}

func pcmToMuLaw(pcm []byte) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("PCM data has odd length %d, expected 16-bit samples", len(pcm))
	}
	if len(pcm) == 0 {
		return nil, nil
	}

	out := make([]byte, len(pcm)/2)
	for i := range out {
		sample := int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
		out[i] = encodeMuLawSample(sample)
	}
	return out, nil
}

func decodeMuLawSample(uval byte) int16 {
	uval = ^uval
	sign := int16(uval & 0x80)
	exponent := (uval >> 4) & 0x07
	mantissa := uval & 0x0F
	magnitude := ((int16(mantissa) << 3) + 0x84) << exponent
	magnitude -= 0x84
	if sign != 0 {
		return -magnitude
	}
	return magnitude
}

func encodeMuLawSample(sample int16) byte {
	s := int32(sample)
	var sign byte
	if s < 0 {
		sign = 0x80
		s = -s
	}
	if s > muLawClip {
		s = muLawClip
	}
	s += muLawBias

	exponent := byte(7)
	for mask := int32(0x4000); s&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte((s >> (uint(exponent) + 3)) & 0x0F)

	return ^(sign | exponent<<4 | mantissa)
}

// Resample converts 16-bit mono PCM from one sample rate to another using
// linear interpolation. Returns a copy of the input when the rates match.
func Resample(pcm []byte, fromRate, toRate int) ([]byte, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("invalid sample rates: %d -> %d", fromRate, toRate)
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("PCM data has odd length %d, expected 16-bit samples", len(pcm))
	}
	if fromRate == toRate {
		return append([]byte(nil), pcm...), nil
	}

	numIn := len(pcm) / 2
	if numIn == 0 {
		return nil, nil
	}

	in := make([]int16, numIn)
	for i := range in {
		in[i] = int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
	}

	numOut := int(int64(numIn) * int64(toRate) / int64(fromRate))
	if numOut == 0 {
		numOut = 1
	}

	out := make([]byte, numOut*2)
	step := float64(numIn) / float64(numOut)
	for i := 0; i < numOut; i++ {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)

		var sample int16
		if idx+1 < numIn {
			sample = int16(float64(in[idx])*(1-frac) + float64(in[idx+1])*frac)
		} else {
			sample = in[numIn-1]
		}
		out[2*i] = byte(sample)
		out[2*i+1] = byte(sample >> 8)
	}
	return out, nil
}

// PCMToWAV wraps raw 16-bit mono PCM in a WAV container.
func PCMToWAV(pcm []byte, sampleRate int) []byte {
	var buf bytes.Buffer

	dataLen := uint32(len(pcm))
	byteRate := uint32(sampleRate * 2)

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, byteRate)
	binary.Write(&buf, binary.LittleEndian, uint16(2))  // block align
	binary.Write(&buf, binary.LittleEndian, uint16(16)) // bits per sample

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, dataLen)
	buf.Write(pcm)

	return buf.Bytes()
}

// WAVToPCM extracts 16-bit PCM samples and the sample rate from a WAV container.
func WAVToPCM(wav []byte) ([]byte, int, error) {
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, 0, errors.NewUnsupportedFormat("not a RIFF/WAVE container")
	}

	var sampleRate int
	var pcm []byte
	fmtSeen := false

	// Walk the chunk list; WAV files from synthesis providers often carry
	// extra chunks (LIST, fact) between fmt and data.
	offset := 12
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkLen := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))
		body := offset + 8
		if body+chunkLen > len(wav) {
			chunkLen = len(wav) - body
		}

		switch chunkID {
		case "fmt ":
			if chunkLen < 16 {
				return nil, 0, errors.NewUnsupportedFormat("truncated fmt chunk")
			}
			audioFormat := binary.LittleEndian.Uint16(wav[body : body+2])
			channels := binary.LittleEndian.Uint16(wav[body+2 : body+4])
			sampleRate = int(binary.LittleEndian.Uint32(wav[body+4 : body+8]))
			bitsPerSample := binary.LittleEndian.Uint16(wav[body+14 : body+16])
			if audioFormat != 1 || bitsPerSample != 16 {
				return nil, 0, errors.NewUnsupportedFormat(
					fmt.Sprintf("format=%d bits=%d, expected 16-bit PCM", audioFormat, bitsPerSample))
			}
			if channels != 1 {
				return nil, 0, errors.NewUnsupportedFormat(fmt.Sprintf("%d channels, expected mono", channels))
			}
			fmtSeen = true
		case "data":
			pcm = wav[body : body+chunkLen]
		}

		// Chunks are word-aligned
		if chunkLen%2 == 1 {
			chunkLen++
		}
		offset = body + chunkLen
	}

	if !fmtSeen || pcm == nil {
		return nil, 0, errors.NewUnsupportedFormat("missing fmt or data chunk")
	}
	return pcm, sampleRate, nil
}

// TelephonyToInference converts buffered telephony audio (μ-law 8 kHz) into a
// 16 kHz WAV suitable for transcription providers.
func TelephonyToInference(payload []byte) ([]byte, error) {
	pcm, err := DecodePayload(payload, "PCMU")
	if err != nil {
		return nil, err
	}

	resampled, err := Resample(pcm, TelephonyRate, InferenceRate)
	if err != nil {
		return nil, fmt.Errorf("resampling telephony audio: %w", err)
	}

	return PCMToWAV(resampled, InferenceRate), nil
}

// InferenceToTelephony converts synthesized WAV audio back into μ-law 8 kHz
// telephony payload bytes.
func InferenceToTelephony(wav []byte) ([]byte, error) {
	pcm, rate, err := WAVToPCM(wav)
	if err != nil {
		return nil, err
	}

	if rate != TelephonyRate {
		pcm, err = Resample(pcm, rate, TelephonyRate)
		if err != nil {
			return nil, fmt.Errorf("resampling synthesis audio: %w", err)
		}
	}

	return EncodePayload(pcm, "PCMU")
}
