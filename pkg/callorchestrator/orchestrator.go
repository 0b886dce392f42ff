// Package callorchestrator runs one call end to end: it wires a VAD
// detector and a Call Media Endpoint to the abstract speech backends
// (recognizer, language model, synthesizer), turning ingress RTP frames
// into recognized utterances, LLM replies, and synthesized playback, while
// enforcing barge-in.
//
// The concurrency shape — an ingress goroutine, a cooperative playback
// feeder, and a mutex serializing the observable "enqueue a chunk" and
// "barge-in cancel" transitions — uses generation-style cancellation, a
// non-blocking event channel, and an explicit interrupt path that drains
// pending work before resuming.
package callorchestrator

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/sebas-voicebot/ari-gateway/pkg/audio"
	"github.com/sebas-voicebot/ari-gateway/pkg/backend"
	"github.com/sebas-voicebot/ari-gateway/pkg/gatewaylog"
	"github.com/sebas-voicebot/ari-gateway/pkg/rtpmedia"
	"github.com/sebas-voicebot/ari-gateway/pkg/sentence"
	"github.com/sebas-voicebot/ari-gateway/pkg/vad"
)

// prefillFrames is the 40-frame (800 ms) µ-law silence prefill prepended to
// the first playback of a call, giving the remote RTP receiver time to
// initialize its jitter buffer.
const prefillFrames = 40

// Config tunes per-call backend timeouts and the ingress packet size. A zero
// IngressPacket falls back to 2048 and a zero SampleRate/FrameDurationMS to
// the pkg/audio defaults; a zero timeout leaves that backend call without a
// timeout. DefaultConfig below holds the production values.
type Config struct {
	STTTimeout      time.Duration
	LLMTimeout      time.Duration
	TTSTimeout      time.Duration
	IngressPacket   int
	SampleRate      int
	FrameDurationMS int
}

// DefaultConfig returns production-sized timeouts and frame geometry.
func DefaultConfig() Config {
	return Config{
		STTTimeout:      8 * time.Second,
		LLMTimeout:      15 * time.Second,
		TTSTimeout:      15 * time.Second,
		IngressPacket:   2048,
		SampleRate:      audio.SampleRate,
		FrameDurationMS: audio.FrameDurationMS,
	}
}

// responseChunk is one queued (text, peer) pair awaiting synthesis and
// playback. The queue is drained strictly FIFO.
type responseChunk struct {
	text       string
	peer       *net.UDPAddr
	generation int
}

// Orchestrator runs one call: it owns the VAD state, the pending-chunk
// queue, and references the endpoint and backends it was constructed with.
// It does not own the endpoint's lifetime — the caller (the control-plane
// adapter) opens and closes the endpoint.
type Orchestrator struct {
	endpoint    *rtpmedia.Endpoint
	recognizer  backend.Recognizer
	llm         backend.LanguageModel
	synthesizer backend.Synthesizer
	detector    *vad.Detector
	config      Config
	logger      gatewaylog.Logger

	mu         sync.Mutex
	peer       *net.UDPAddr
	pending    []responseChunk
	wake       chan struct{}
	prefill    bool
	generation int

	history   []string
	historyMu sync.Mutex
}

// Option configures optional Orchestrator behavior.
type Option func(*Orchestrator)

// WithEchoGuard chains an EchoGuard in front of the VAD so bot audio
// leaking into the RTP ingress path is not mistaken for a barge-in.
func WithEchoGuard(g *vad.EchoGuard) Option {
	return func(o *Orchestrator) { o.detector.EchoGuard = g }
}

// New constructs an Orchestrator for one call. peer may be nil; it is
// learned from the first ingress packet if so.
func New(endpoint *rtpmedia.Endpoint, recognizer backend.Recognizer, llm backend.LanguageModel, synthesizer backend.Synthesizer, cfg Config, logger gatewaylog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = gatewaylog.NoOp{}
	}
	if cfg.IngressPacket <= 0 {
		cfg.IngressPacket = 2048
	}
	o := &Orchestrator{
		endpoint:    endpoint,
		recognizer:  recognizer,
		llm:         llm,
		synthesizer: synthesizer,
		config:      cfg,
		logger:      logger,
		wake:        make(chan struct{}, 1),
		prefill:     true,
	}
	o.detector = vad.New()
	o.detector.OnBargeIn = o.handleBargeIn
	o.detector.OnUtterance = o.handleUtterance
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run drives the ingress loop and the playback feeder concurrently until
// ctx is cancelled or the endpoint's ingress stream ends. It returns once
// both have stopped.
func (o *Orchestrator) Run(ctx context.Context) error {
	ingress, err := o.endpoint.Ingress(o.config.IngressPacket)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		o.feedPlayback(ctx)
	}()

	o.ingressLoop(ctx, ingress)
	cancel()
	wg.Wait()
	return nil
}

func (o *Orchestrator) ingressLoop(ctx context.Context, ingress <-chan rtpmedia.Packet) {
	for {
		select {
		case <-ctx.Done():
			return
		case pkt, ok := <-ingress:
			if !ok {
				return
			}
			o.mu.Lock()
			if o.peer == nil {
				o.peer = pkt.Peer
			}
			o.mu.Unlock()
			o.detector.Process(pkt.Payload)
		}
	}
}

// handleBargeIn fires the instant speech onset is confirmed: under the
// per-call mutex it bumps the generation counter and drains the
// pending-chunk queue, then cancels in-flight playback. Bumping the
// generation under the same lock the playback feeder checks before
// enqueueing (see feedPlayback) guarantees that no chunk generated before
// this observation can still enter the playback worker once this call
// returns. CancelPlayback itself does its own internal synchronization and
// is never blocked behind this lock, so its cancellation latency holds
// regardless of what the feeder is doing.
func (o *Orchestrator) handleBargeIn() {
	o.mu.Lock()
	o.generation++
	o.pending = nil
	o.mu.Unlock()
	o.endpoint.CancelPlayback()
	o.logger.Debug("barge-in: playback cancelled, queue drained")
}

// handleUtterance schedules the recognize -> generate -> split -> enqueue
// pipeline for one completed utterance as an independent goroutine so the
// ingress loop is never blocked on a backend call.
func (o *Orchestrator) handleUtterance(ulawAudio []byte) {
	o.mu.Lock()
	peer := o.peer
	o.mu.Unlock()
	if peer == nil {
		o.logger.Warn("utterance captured before peer address learned, dropping")
		return
	}
	go o.runPipeline(peer, ulawAudio)
}

func (o *Orchestrator) runPipeline(peer *net.UDPAddr, ulawAudio []byte) {
	ctx := context.Background()

	sttCtx, cancel := withTimeout(ctx, o.config.STTTimeout)
	text, final, err := o.recognizer.Recognize(sttCtx, ulawAudio)
	cancel()
	if err != nil {
		o.logger.Warn("recognizer failed, skipping utterance", "error", err)
		return
	}
	if !final || text == "" {
		return
	}

	o.logger.Info("recognized utterance", "text", text)
	o.appendHistory(text)

	llmCtx, cancel := withTimeout(ctx, o.config.LLMTimeout)
	reply, err := o.llm.Generate(llmCtx, o.prompt(text))
	cancel()
	if err != nil || reply == "" {
		o.logger.Warn("language model failed, skipping response", "error", err)
		return
	}
	o.appendHistory(reply)

	chunks := sentence.Split(reply)
	if len(chunks) == 0 {
		return
	}

	o.mu.Lock()
	myGeneration := o.generation
	for _, c := range chunks {
		o.pending = append(o.pending, responseChunk{text: c, peer: peer, generation: myGeneration})
	}
	o.mu.Unlock()
	o.signal()
}

// prompt builds a plain-text prompt from recent history plus the latest
// utterance; the call orchestrator has no notion of role-tagged chat
// messages, matching backend.LanguageModel's plain string contract.
func (o *Orchestrator) prompt(latest string) string {
	o.historyMu.Lock()
	defer o.historyMu.Unlock()
	if len(o.history) == 0 {
		return latest
	}
	out := ""
	for _, h := range o.history {
		out += h + "\n"
	}
	return out
}

func (o *Orchestrator) appendHistory(turn string) {
	o.historyMu.Lock()
	defer o.historyMu.Unlock()
	o.history = append(o.history, turn)
	const maxTurns = 20
	if len(o.history) > maxTurns {
		o.history = o.history[len(o.history)-maxTurns:]
	}
}

func (o *Orchestrator) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// feedPlayback pops chunks from the pending queue and synthesizes each.
// The post-synthesis enqueue is gated on the same generation counter
// handleBargeIn bumps under the per-call mutex: if a barge-in fired while
// this chunk was synthesizing, the audio is dropped here and never reaches
// the endpoint, rather than relying solely on CancelPlayback to catch it
// after the fact.
func (o *Orchestrator) feedPlayback(ctx context.Context) {
	for {
		chunk, ok := o.popChunk()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-o.wake:
				continue
			}
		}

		ttsCtx, cancel := withTimeout(ctx, o.config.TTSTimeout)
		audioOut, err := o.synthesizer.Synthesize(ttsCtx, chunk.text)
		cancel()
		if err != nil || len(audioOut) == 0 {
			o.logger.Warn("synthesizer failed, skipping chunk", "error", err)
			continue
		}

		o.mu.Lock()
		if chunk.generation != o.generation {
			o.mu.Unlock()
			o.logger.Debug("dropping chunk synthesized after barge-in")
			continue
		}
		if o.prefill {
			audioOut = append(prefillSilence(), audioOut...)
			o.prefill = false
		}
		o.endpoint.EnqueuePlayback(audioOut, chunk.peer, o.config.SampleRate, o.config.FrameDurationMS)
		o.mu.Unlock()

		o.detector.RecordPlayback(audioOut)
	}
}

func (o *Orchestrator) popChunk() (responseChunk, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.pending) == 0 {
		return responseChunk{}, false
	}
	c := o.pending[0]
	o.pending = o.pending[1:]
	return c, true
}

func prefillSilence() []byte {
	out := make([]byte, 0, audio.FrameSize*prefillFrames)
	for i := 0; i < prefillFrames; i++ {
		out = append(out, audio.SilenceFrame()...)
	}
	return out
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
