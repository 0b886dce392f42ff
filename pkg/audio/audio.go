// Package audio holds the leaf-level µ-law audio primitives shared by the
// RTP media endpoint, the voice-activity state machine, and the batch
// speech-backend adapters: frame-size math, silence detection, and WAV
// container framing for backends that expect an upload file rather than a
// raw byte stream.
package audio

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/zaf/g711"
)

// SampleRate is the fixed 8 kHz sample rate the gateway operates at; the
// core never resamples.
const SampleRate = 8000

// FrameDurationMS is the wire frame duration used throughout ingress and
// egress: 20 ms per spec.
const FrameDurationMS = 20

// FrameSize is the number of µ-law bytes in one 20 ms frame at 8 kHz
// (8000 * 0.020 = 160). Every component that slices audio into frames must
// use this constant rather than a magic number.
const FrameSize = SampleRate * FrameDurationMS / 1000

// DefaultSilenceRMSThreshold is the default RMS amplitude below which a
// frame is classified as silence.
const DefaultSilenceRMSThreshold = 30

// RMS computes the root-mean-square amplitude of a µ-law frame after
// decoding it to 16-bit linear PCM. An empty frame has an RMS of 0.
func RMS(ulawFrame []byte) float64 {
	if len(ulawFrame) == 0 {
		return 0
	}
	pcm := g711.DecodeUlaw(ulawFrame)
	return rmsPCM16(pcm)
}

func rmsPCM16(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n*2; i += 2 {
		sample := int16(uint16(pcm[i]) | uint16(pcm[i+1])<<8)
		f := float64(sample)
		sum += f * f
	}
	return math.Sqrt(sum / float64(n))
}

// IsSilent reports whether a µ-law frame's RMS amplitude falls below
// rmsThreshold. Use DefaultSilenceRMSThreshold when no caller-specific
// threshold is configured.
func IsSilent(ulawFrame []byte, rmsThreshold float64) bool {
	return RMS(ulawFrame) < rmsThreshold
}

// SilenceFrame returns one FrameSize frame of µ-law silence (0xFF is the
// µ-law encoding of zero amplitude).
func SilenceFrame() []byte {
	f := make([]byte, FrameSize)
	for i := range f {
		f[i] = 0xFF
	}
	return f
}

// WAV format tags used by WrapWAV.
const (
	WAVFormatPCM   uint16 = 1
	WAVFormatULaw  uint16 = 7
	bitsPerSampleU        = 8
	bitsPerSamplePCM16    = 16
)

// WrapWAV wraps raw audio payload in a minimal RIFF/WAVE container. It is
// container framing only — no resampling or transcoding — so µ-law payload
// can be handed directly to backend APIs that accept a WAV file without any
// codec-conversion dependency. formatTag is WAVFormatPCM (16-bit linear) or
// WAVFormatULaw (8-bit µ-law, format tag 7 per Microsoft's WAVE-FORMAT
// registry).
func WrapWAV(payload []byte, sampleRate int, formatTag uint16) []byte {
	bitsPerSample := uint16(bitsPerSamplePCM16)
	if formatTag == WAVFormatULaw {
		bitsPerSample = bitsPerSampleU
	}
	blockAlign := bitsPerSample / 8
	byteRate := uint32(sampleRate) * uint32(blockAlign)

	buf := new(bytes.Buffer)
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(payload)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, formatTag)
	binary.Write(buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, byteRate)
	binary.Write(buf, binary.LittleEndian, blockAlign)
	binary.Write(buf, binary.LittleEndian, bitsPerSample)

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(payload)))
	buf.Write(payload)

	return buf.Bytes()
}
