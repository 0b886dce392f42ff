// Command gateway runs the Asterisk ARI voice-bot media gateway: it
// connects to one Asterisk instance's control plane, answers inbound
// calls, bridges each one to a per-call RTP endpoint, and drives the
// recognize -> generate -> synthesize -> play pipeline until the call
// ends.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/sebas-voicebot/ari-gateway/pkg/ari"
	"github.com/sebas-voicebot/ari-gateway/pkg/backend"
	llmProvider "github.com/sebas-voicebot/ari-gateway/pkg/backend/providers/llm"
	sttProvider "github.com/sebas-voicebot/ari-gateway/pkg/backend/providers/stt"
	ttsProvider "github.com/sebas-voicebot/ari-gateway/pkg/backend/providers/tts"
	"github.com/sebas-voicebot/ari-gateway/pkg/callorchestrator"
	"github.com/sebas-voicebot/ari-gateway/pkg/gatewaylog"
	"github.com/sebas-voicebot/ari-gateway/pkg/rtpmedia"
	"github.com/sebas-voicebot/ari-gateway/pkg/vad"
)

// stdLogger adapts log.Printf to gatewaylog.Logger with a leveled prefix.
type stdLogger struct{}

func (stdLogger) Debug(msg string, kv ...any) { logKV("DEBUG", msg, kv) }
func (stdLogger) Info(msg string, kv ...any)  { logKV("INFO", msg, kv) }
func (stdLogger) Warn(msg string, kv ...any)  { logKV("WARN", msg, kv) }
func (stdLogger) Error(msg string, kv ...any) { logKV("ERROR", msg, kv) }

func logKV(level, msg string, kv []any) {
	log.Printf("[%s] %s %v", level, msg, kv)
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, using system environment variables")
	}

	astHost := getenvDefault("AST_HOST", "asterisk")
	astPort := getenvIntDefault("AST_PORT", 8088)
	astApp := getenvDefault("AST_APP", "voicebot")
	astUser := getenvDefault("AST_USER", "ariuser")
	astPass := getenvDefault("AST_PASS", "ariuser")

	bindHost := getenvDefault("GATEWAY_BIND_HOST", "0.0.0.0")
	publicHost := getenvDefault("GATEWAY_PUBLIC_HOST", "gateway")
	recordCalls := os.Getenv("GATEWAY_RECORD_CALLS") == "true"

	logger := stdLogger{}

	recognizer, sttName := selectRecognizer()
	llm, llmName := selectLanguageModel()
	synthesizer, ttsName := selectSynthesizer()

	log.Printf("Configured: STT=%s | LLM=%s | TTS=%s", sttName, llmName, ttsName)

	cfg := ari.Config{
		Host: astHost,
		Port: astPort,
		App:  astApp,
		User: astUser,
		Pass: astPass,
	}

	handler := func(ctx context.Context, a *ari.Adapter, ch ari.Channel) {
		handleCall(ctx, a, ch, callDeps{
			bindHost:    bindHost,
			publicHost:  publicHost,
			app:         astApp,
			recordCalls: recordCalls,
			recognizer:  recognizer,
			llm:         llm,
			synthesizer: synthesizer,
			logger:      logger,
		})
	}

	adapter := ari.New(cfg, handler, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Println("shutting down...")
		cancel()
	}()

	log.Printf("connecting to Asterisk ARI at %s:%d app=%s", astHost, astPort, astApp)
	if err := adapter.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("ari adapter stopped: %v", err)
	}
}

// callDeps bundles the per-call construction dependencies a StasisStart
// handler needs, kept as one value so handleCall's signature stays short
// as the gateway grows more knobs.
type callDeps struct {
	bindHost    string
	publicHost  string
	app         string
	recordCalls bool
	recognizer  backend.Recognizer
	llm         backend.LanguageModel
	synthesizer backend.Synthesizer
	logger      gatewaylog.Logger
}

// handleCall answers one inbound channel, wires it to a fresh RTP
// endpoint via ARI external media, bridges the two together, and runs
// the call orchestrator until ctx is cancelled (StasisEnd) or the
// endpoint's ingress stream ends.
func handleCall(ctx context.Context, a *ari.Adapter, ch ari.Channel, deps callDeps) {
	logger := deps.logger
	logger.Info("incoming call", "channel", ch.ID, "caller", ch.Caller.Number)

	if err := a.Answer(ctx, ch.ID); err != nil {
		logger.Error("failed to answer channel", "channel", ch.ID, "error", err)
		return
	}

	endpoint, err := rtpmedia.Open(deps.bindHost, 0)
	if err != nil {
		logger.Error("failed to open media endpoint", "channel", ch.ID, "error", err)
		return
	}
	defer endpoint.Close()

	externalHost := fmt.Sprintf("%s:%d", deps.publicHost, endpoint.LocalAddr().Port)
	extChannelID := uuid.New().String()
	opts := ari.DefaultExternalMediaOptions(deps.app, externalHost, "ulaw")
	extChannel, err := a.ExternalMedia(ctx, extChannelID, opts)
	if err != nil {
		logger.Error("failed to create external media channel", "channel", ch.ID, "error", err)
		return
	}

	bridgeID, err := a.CreateMixingBridge(ctx)
	if err != nil {
		logger.Error("failed to create bridge", "channel", ch.ID, "error", err)
		return
	}
	if err := a.AddChannelToBridge(ctx, bridgeID, ch.ID); err != nil {
		logger.Error("failed to add caller channel to bridge", "channel", ch.ID, "error", err)
		return
	}
	if err := a.AddChannelToBridge(ctx, bridgeID, extChannel.ID); err != nil {
		logger.Error("failed to add external media channel to bridge", "channel", ch.ID, "error", err)
		return
	}

	if deps.recordCalls {
		err := a.StartBridgeRecording(ctx, bridgeID, ari.RecordingOptions{
			Name:   fmt.Sprintf("recording_%s_%d", ch.ID, time.Now().Unix()),
			Format: "wav",
			Beep:   true,
		})
		if err != nil {
			logger.Warn("failed to start bridge recording", "channel", ch.ID, "error", err)
		}
	}

	orchCfg := callorchestrator.DefaultConfig()
	orch := callorchestrator.New(endpoint, deps.recognizer, deps.llm, deps.synthesizer, orchCfg, logger, callorchestrator.WithEchoGuard(vad.NewEchoGuard()))

	logger.Info("call bridged, starting orchestrator", "channel", ch.ID, "bridge", bridgeID)
	if err := orch.Run(ctx); err != nil {
		logger.Warn("orchestrator stopped", "channel", ch.ID, "error", err)
	}
	logger.Info("call ended", "channel", ch.ID)
}

func selectRecognizer() (backend.Recognizer, string) {
	name := getenvDefault("STT_PROVIDER", "groq")
	switch name {
	case "openai":
		key := requireEnv("OPENAI_API_KEY")
		return sttProvider.NewOpenAI(key, "whisper-1"), name
	case "deepgram":
		key := requireEnv("DEEPGRAM_API_KEY")
		return sttProvider.NewDeepgram(key), name
	case "groq":
		fallthrough
	default:
		key := requireEnv("GROQ_API_KEY")
		model := getenvDefault("GROQ_STT_MODEL", "whisper-large-v3-turbo")
		return sttProvider.NewGroq(key, model), "groq"
	}
}

func selectLanguageModel() (backend.LanguageModel, string) {
	name := getenvDefault("LLM_PROVIDER", "openai")
	switch name {
	case "anthropic":
		key := requireEnv("ANTHROPIC_API_KEY")
		return llmProvider.NewAnthropic(key, "claude-3-5-sonnet-20241022"), name
	case "google":
		key := requireEnv("GOOGLE_API_KEY")
		return llmProvider.NewGoogle(key, "gemini-1.5-flash"), name
	case "openai":
		fallthrough
	default:
		key := requireEnv("OPENAI_API_KEY")
		return llmProvider.NewOpenAI(key, "gpt-4o"), "openai"
	}
}

func selectSynthesizer() (backend.Synthesizer, string) {
	key := requireEnv("LOKUTOR_API_KEY")
	voice := getenvDefault("LOKUTOR_VOICE", "")
	return ttsProvider.NewLokutor(key, voice), "lokutor"
}

func requireEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("Error: %s must be set", key)
	}
	return v
}
