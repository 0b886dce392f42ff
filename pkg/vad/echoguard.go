package vad

import (
	"bytes"
	"math"
	"sync"
	"time"

	"github.com/zaf/g711"

	"github.com/sebas-voicebot/ari-gateway/pkg/audio"
)

// EchoGuard detects speaker echo leaking into the RTP ingress path by
// correlating incoming frames against recently played bot audio: single-pass
// correlation against a bounded ring of played µ-law audio, no offline
// post-processing.
type EchoGuard struct {
	mu            sync.Mutex
	played        *bytes.Buffer
	maxBufBytes   int
	threshold     float64
	silenceWindow time.Duration
	lastPlayed    time.Time
}

// NewEchoGuard returns an EchoGuard tuned for 8 kHz µ-law audio, keeping
// roughly 2 seconds of played-audio history for correlation.
func NewEchoGuard() *EchoGuard {
	return &EchoGuard{
		played:        new(bytes.Buffer),
		maxBufBytes:   audio.SampleRate * 2, // ~2s of µ-law at 8kHz
		threshold:     0.55,
		silenceWindow: 1200 * time.Millisecond,
	}
}

// RecordPlayed appends a chunk of outbound bot audio to the correlation
// reference buffer.
func (g *EchoGuard) RecordPlayed(ulawChunk []byte) {
	if len(ulawChunk) == 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	g.played.Write(ulawChunk)
	g.lastPlayed = time.Now()

	if g.played.Len() > g.maxBufBytes {
		data := g.played.Bytes()
		trim := data[len(data)-g.maxBufBytes:]
		g.played.Reset()
		g.played.Write(trim)
	}
}

// IsEcho reports whether inputFrame correlates strongly enough with
// recently played audio to be classified as echo rather than caller speech.
func (g *EchoGuard) IsEcho(inputFrame []byte) bool {
	if len(inputFrame) == 0 {
		return false
	}

	g.mu.Lock()
	if time.Since(g.lastPlayed) > g.silenceWindow {
		g.mu.Unlock()
		return false
	}
	ref := make([]byte, g.played.Len())
	copy(ref, g.played.Bytes())
	threshold := g.threshold
	g.mu.Unlock()

	if len(ref) == 0 {
		return false
	}

	return correlate(ulawToSamples(inputFrame), ulawToSamples(ref)) > threshold
}

// Clear discards the played-audio reference, e.g. after a barge-in cancels
// playback outright.
func (g *EchoGuard) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.played.Reset()
}

func ulawToSamples(ulaw []byte) []float64 {
	pcm := g711.DecodeUlaw(ulaw)
	out := make([]float64, len(pcm)/2)
	for i := range out {
		sample := int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
		out[i] = float64(sample) / 32768.0
	}
	return out
}

// correlate computes the normalized cross-correlation between input and the
// tail of reference (the most recently played audio, which is what would be
// echoing back right now given playback-to-mic latency).
func correlate(input, reference []float64) float64 {
	if len(input) == 0 || len(reference) == 0 {
		return 0
	}

	compareLen := len(input)
	if compareLen > len(reference) {
		compareLen = len(reference)
	}
	refTail := reference[len(reference)-compareLen:]
	in := input[:compareLen]

	inEnergy := energy(in)
	refEnergy := energy(refTail)
	if inEnergy == 0 || refEnergy == 0 {
		return 0
	}

	dot := 0.0
	for i := range in {
		dot += in[i] * refTail[i]
	}

	corr := dot / math.Sqrt(inEnergy*refEnergy)
	if corr < 0 {
		return 0
	}
	if corr > 1 {
		return 1
	}
	return corr
}

func energy(samples []float64) float64 {
	sum := 0.0
	for _, s := range samples {
		sum += s * s
	}
	return sum
}
