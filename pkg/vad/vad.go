// Package vad implements the per-call voice-activity state machine: the
// Idle -> Capturing -> Flushing transitions that turn a stream of 20 ms
// µ-law frames into barge-in events and complete utterances.
//
// The RMS energy measure and hysteresis-by-consecutive-frames technique
// extend a simpler two-state speaking/not-speaking detector into a full
// three-state machine with utterance buffering and trailing-silence trim.
package vad

import (
	"github.com/sebas-voicebot/ari-gateway/pkg/audio"
)

// State is one of the three states the machine can occupy.
type State int

const (
	Idle State = iota
	Capturing
	Flushing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Capturing:
		return "capturing"
	case Flushing:
		return "flushing"
	default:
		return "unknown"
	}
}

// Defaults are fixed frame-count thresholds at the standard 20 ms frame
// duration: 200 ms of continuous speech to confirm onset, 400 ms of
// continuous silence to close an utterance.
const (
	DefaultSpeechFramesThreshold  = 10
	DefaultSilenceFramesThreshold = 20
	DefaultSilenceRMSThreshold    = audio.DefaultSilenceRMSThreshold
)

// Detector is the voice-activity state machine for one call leg. It is not
// safe for concurrent use; the owning call orchestrator serializes calls to
// Process on its ingress goroutine.
type Detector struct {
	SpeechFramesThreshold  int
	SilenceFramesThreshold int
	SilenceRMSThreshold    float64

	// EchoGuard, when set, suppresses frames that correlate with recently
	// played bot audio so the bot's own voice leaking into the RTP ingress
	// path cannot trigger a false barge-in. Purely additive: behavior is
	// unchanged from the un-guarded machine when nil.
	EchoGuard *EchoGuard

	// OnBargeIn fires the instant speech onset is confirmed (the edge, not
	// the level) — the call orchestrator uses this to cancel in-flight
	// playback before the utterance is even complete.
	OnBargeIn func()

	// OnUtterance fires once trailing silence closes an utterance, with the
	// captured audio already trimmed of its trailing silence frames. It is
	// never called with an empty slice.
	OnUtterance func(ulawAudio []byte)

	state             State
	preBuffer         [][]byte
	speechFrameCount  int
	buffer            []byte
	silenceFrameCount int
}

// New constructs a Detector with spec-default thresholds. Override the
// exported fields directly to tune for a specific deployment.
func New() *Detector {
	return &Detector{
		SpeechFramesThreshold:  DefaultSpeechFramesThreshold,
		SilenceFramesThreshold: DefaultSilenceFramesThreshold,
		SilenceRMSThreshold:    DefaultSilenceRMSThreshold,
	}
}

// Process feeds one 20 ms µ-law frame into the state machine, invoking
// OnBargeIn/OnUtterance synchronously as transitions occur.
func (d *Detector) Process(frame []byte) {
	speaking := !audio.IsSilent(frame, d.silenceThreshold())
	if d.EchoGuard != nil && speaking && d.EchoGuard.IsEcho(frame) {
		speaking = false
	}

	switch d.state {
	case Idle:
		d.processIdle(frame, speaking)
	case Capturing:
		d.processCapturing(frame, speaking)
	}
}

// RecordPlayback lets the call orchestrator feed outbound bot audio to the
// EchoGuard (if configured) so the detector can recognize it echoing back
// on ingress. A no-op when no EchoGuard is configured.
func (d *Detector) RecordPlayback(ulawChunk []byte) {
	if d.EchoGuard != nil {
		d.EchoGuard.RecordPlayed(ulawChunk)
	}
}

// Reset returns the machine to Idle and discards any partially captured
// utterance, without emitting it. Used when a call ends mid-utterance.
func (d *Detector) Reset() {
	d.state = Idle
	d.preBuffer = nil
	d.speechFrameCount = 0
	d.buffer = nil
	d.silenceFrameCount = 0
}

func (d *Detector) silenceThreshold() float64 {
	if d.SilenceRMSThreshold > 0 {
		return d.SilenceRMSThreshold
	}
	return DefaultSilenceRMSThreshold
}

func (d *Detector) speechThreshold() int {
	if d.SpeechFramesThreshold > 0 {
		return d.SpeechFramesThreshold
	}
	return DefaultSpeechFramesThreshold
}

func (d *Detector) silenceFramesThreshold() int {
	if d.SilenceFramesThreshold > 0 {
		return d.SilenceFramesThreshold
	}
	return DefaultSilenceFramesThreshold
}

func (d *Detector) processIdle(frame []byte, speaking bool) {
	if !speaking {
		d.preBuffer = nil
		d.speechFrameCount = 0
		return
	}

	cp := make([]byte, len(frame))
	copy(cp, frame)
	d.preBuffer = append(d.preBuffer, cp)
	d.speechFrameCount++

	if d.speechFrameCount < d.speechThreshold() {
		return
	}

	// Onset confirmed: the frames that built the candidate streak become
	// the start of the captured utterance.
	d.state = Capturing
	d.silenceFrameCount = 0
	d.buffer = d.buffer[:0]
	for _, f := range d.preBuffer {
		d.buffer = append(d.buffer, f...)
	}
	d.preBuffer = nil

	if d.OnBargeIn != nil {
		d.OnBargeIn()
	}
}

func (d *Detector) processCapturing(frame []byte, speaking bool) {
	d.buffer = append(d.buffer, frame...)

	if speaking {
		d.silenceFrameCount = 0
		return
	}

	d.silenceFrameCount++
	if d.silenceFrameCount < d.silenceFramesThreshold() {
		return
	}

	d.state = Flushing
	d.flush()
}

// flush trims the trailing silence run from the captured buffer and emits
// the utterance, unless trimming leaves nothing behind (a capture made
// entirely of the silence run that triggered it, which should not happen
// given speechThreshold > 0 but is handled defensively).
func (d *Detector) flush() {
	trimFrames := d.silenceFrameCount
	trimBytes := trimFrames * audio.FrameSize
	if trimBytes > len(d.buffer) {
		trimBytes = len(d.buffer)
	}
	utterance := d.buffer[:len(d.buffer)-trimBytes]

	d.state = Idle
	d.buffer = nil
	d.silenceFrameCount = 0
	d.speechFrameCount = 0

	if len(utterance) > 0 && d.OnUtterance != nil {
		out := make([]byte, len(utterance))
		copy(out, utterance)
		d.OnUtterance(out)
	}
}
