package stt

import "context"

// OpenAI drives the Whisper transcription endpoint; it shares the
// multipart-upload path with Groq since both speak the same contract.
type OpenAI struct {
	apiKey string
	url    string
	model  string
}

func NewOpenAI(apiKey, model string) *OpenAI {
	if model == "" {
		model = "whisper-1"
	}
	return &OpenAI{apiKey: apiKey, url: "https://api.openai.com/v1/audio/transcriptions", model: model}
}

func (s *OpenAI) Recognize(ctx context.Context, ulaw []byte) (string, bool, error) {
	text, err := uploadForTranscription(ctx, s.url, s.apiKey, s.model, ulaw)
	return text, true, err
}

func (s *OpenAI) Name() string { return "openai-stt" }
