package callorchestrator

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/zaf/g711"

	"github.com/sebas-voicebot/ari-gateway/pkg/audio"
	"github.com/sebas-voicebot/ari-gateway/pkg/rtpmedia"
)

type mockRecognizer struct {
	mu    sync.Mutex
	text  string
	final bool
	err   error
	calls int
}

func (m *mockRecognizer) Recognize(ctx context.Context, ulaw []byte) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.text, m.final, m.err
}

func (m *mockRecognizer) Name() string { return "mock-stt" }

func (m *mockRecognizer) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockLLM struct {
	mu    sync.Mutex
	reply string
	err   error
	calls int
}

func (m *mockLLM) Generate(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.reply, m.err
}

func (m *mockLLM) Name() string { return "mock-llm" }

func (m *mockLLM) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockSynthesizer struct {
	mu    sync.Mutex
	audio []byte
	err   error
	calls int
}

func (m *mockSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.audio, m.err
}

func (m *mockSynthesizer) Name() string { return "mock-tts" }

func loudFrame() []byte {
	pcm := make([]byte, audio.FrameSize*2)
	for i := 0; i < len(pcm); i += 2 {
		v := int16(20000)
		if (i/2)%2 == 0 {
			v = -20000
		}
		pcm[i] = byte(v)
		pcm[i+1] = byte(v >> 8)
	}
	return g711.EncodeUlaw(pcm)
}

func silentFrame() []byte { return audio.SilenceFrame() }

func newTestOrchestrator(t *testing.T, rec *mockRecognizer, llm *mockLLM, tts *mockSynthesizer) (*Orchestrator, *net.UDPAddr, func()) {
	t.Helper()
	ep, err := rtpmedia.Open("127.0.0.1", 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	cfg := DefaultConfig()
	cfg.STTTimeout = time.Second
	cfg.LLMTimeout = time.Second
	cfg.TTSTimeout = time.Second
	o := New(ep, rec, llm, tts, cfg, nil)

	sender, err := net.DialUDP("udp", nil, ep.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	o.peer = sender.LocalAddr().(*net.UDPAddr)

	return o, sender.LocalAddr().(*net.UDPAddr), func() {
		sender.Close()
		ep.Close()
	}
}

// TestUtteranceTriggersFullPipeline feeds enough speech then silence to
// close an utterance and expects recognize -> generate -> synthesize ->
// enqueue to run end to end.
func TestUtteranceTriggersFullPipeline(t *testing.T) {
	rec := &mockRecognizer{text: "hi", final: true}
	llm := &mockLLM{reply: "Hello there."}
	tts := &mockSynthesizer{audio: make([]byte, audio.FrameSize*5)}

	ep, err := rtpmedia.Open("127.0.0.1", 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ep.Close()

	cfg := DefaultConfig()
	cfg.STTTimeout, cfg.LLMTimeout, cfg.TTSTimeout = time.Second, time.Second, time.Second
	o := New(ep, rec, llm, tts, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)

	sender, err := net.DialUDP("udp", nil, ep.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer sender.Close()

	header := make([]byte, 12)
	for i := 0; i < 25; i++ {
		sender.Write(append(header, loudFrame()...))
	}
	for i := 0; i < 25; i++ {
		sender.Write(append(header, silentFrame()...))
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if rec.callCount() > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if rec.callCount() == 0 {
		t.Fatalf("expected recognizer to be invoked")
	}

	deadline = time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if !o.endpoint.IsPlaying() {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		break
	}
	if !o.endpoint.IsPlaying() {
		t.Fatalf("expected the synthesized reply to be enqueued for playback")
	}
}

// TestEmptyRecognitionSkipsLLMAndPlayback verifies an empty transcript
// never reaches the language model or playback.
func TestEmptyRecognitionSkipsLLMAndPlayback(t *testing.T) {
	rec := &mockRecognizer{text: "", final: true}
	llm := &mockLLM{reply: "should never be used"}
	tts := &mockSynthesizer{audio: []byte{0xFF}}

	o, _, cleanup := newTestOrchestrator(t, rec, llm, tts)
	defer cleanup()

	o.handleUtterance(make([]byte, audio.FrameSize*10))
	time.Sleep(100 * time.Millisecond)

	if llm.callCount() != 0 {
		t.Fatalf("expected no LLM calls on empty recognition, got %d", llm.callCount())
	}
	if o.endpoint.IsPlaying() {
		t.Fatalf("expected no playback on empty recognition")
	}
}

// TestRecognizerFailureDoesNotBlockNextUtterance verifies a failing
// recognizer does not tear down the call or block subsequent utterances.
func TestRecognizerFailureDoesNotBlockNextUtterance(t *testing.T) {
	rec := &mockRecognizer{err: errRecognizeBoom}
	llm := &mockLLM{reply: "hi"}
	tts := &mockSynthesizer{audio: []byte{0xFF}}

	o, _, cleanup := newTestOrchestrator(t, rec, llm, tts)
	defer cleanup()

	o.handleUtterance(make([]byte, audio.FrameSize*10))
	time.Sleep(50 * time.Millisecond)

	rec.mu.Lock()
	rec.err = nil
	rec.text = "hi"
	rec.final = true
	rec.mu.Unlock()

	o.handleUtterance(make([]byte, audio.FrameSize*10))
	time.Sleep(100 * time.Millisecond)

	if rec.callCount() != 2 {
		t.Fatalf("expected recognizer invoked twice across both utterances, got %d", rec.callCount())
	}
}

// TestBargeInDropsChunkSynthesizedAfterObservation verifies the
// generation-gated drop in feedPlayback: a chunk whose generation predates
// a barge-in must never reach EnqueuePlayback.
func TestBargeInDropsChunkSynthesizedAfterObservation(t *testing.T) {
	rec := &mockRecognizer{}
	llm := &mockLLM{}
	tts := &mockSynthesizer{audio: []byte{0xFF, 0xFF}}

	o, peer, cleanup := newTestOrchestrator(t, rec, llm, tts)
	defer cleanup()

	o.mu.Lock()
	o.peer = peer
	staleGeneration := o.generation
	o.mu.Unlock()

	// Barge-in observed while a chunk of the previous generation is already
	// out of the queue (as if the feeder were synthesizing it), so the queue
	// drain cannot reach it and only the generation gate can drop it.
	o.handleBargeIn()

	o.mu.Lock()
	o.pending = append(o.pending, responseChunk{text: "stale", peer: peer, generation: staleGeneration})
	o.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.feedPlayback(ctx)

	time.Sleep(100 * time.Millisecond)
	if o.endpoint.IsPlaying() {
		t.Fatalf("expected stale-generation chunk to be dropped, not played")
	}
}

var errRecognizeBoom = &recognizeError{}

type recognizeError struct{}

func (e *recognizeError) Error() string { return "recognizer exploded" }
