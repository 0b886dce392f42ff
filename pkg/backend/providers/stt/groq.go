// Package stt holds concrete backend.Recognizer adapters. Every provider
// here accepts 8kHz µ-law audio directly rather than requiring a
// codec-conversion library: the Groq and OpenAI adapters upload it wrapped
// as a WAV (format tag 7) via pkg/audio.WrapWAV, and the Deepgram adapter
// posts the raw µ-law bytes with a declared encoding.
package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/sebas-voicebot/ari-gateway/pkg/audio"
	"github.com/sebas-voicebot/ari-gateway/pkg/backend"
)

// Groq drives Groq's OpenAI-compatible Whisper transcription endpoint.
type Groq struct {
	apiKey string
	url    string
	model  string
}

func NewGroq(apiKey, model string) *Groq {
	if model == "" {
		model = "whisper-large-v3-turbo"
	}
	return &Groq{apiKey: apiKey, url: "https://api.groq.com/openai/v1/audio/transcriptions", model: model}
}

func (s *Groq) Recognize(ctx context.Context, ulaw []byte) (string, bool, error) {
	text, err := uploadForTranscription(ctx, s.url, s.apiKey, s.model, ulaw)
	return text, true, err
}

func (s *Groq) Name() string { return "groq-stt" }

// uploadForTranscription is shared by the Groq and OpenAI adapters, which
// speak the same multipart/whisper-compatible contract.
func uploadForTranscription(ctx context.Context, url, apiKey, model string, ulaw []byte) (string, error) {
	wavData := audio.WrapWAV(ulaw, audio.SampleRate, audio.WAVFormatULaw)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if err := writer.WriteField("model", model); err != nil {
		return "", backend.Wrap(backend.InvalidArgument, err)
	}
	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", backend.Wrap(backend.InvalidArgument, err)
	}
	if _, err := io.Copy(part, bytes.NewReader(wavData)); err != nil {
		return "", backend.Wrap(backend.InvalidArgument, err)
	}
	if err := writer.Close(); err != nil {
		return "", backend.Wrap(backend.InvalidArgument, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return "", backend.Wrap(backend.InvalidArgument, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", backend.Wrap(backend.NetworkTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", backend.Wrap(backend.BackendFailure, fmt.Errorf("%w: status %d: %s", backend.ErrRecognizeFailed, resp.StatusCode, respBody))
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", backend.Wrap(backend.ProtocolViolation, err)
	}
	if result.Text == "" {
		return "", backend.Wrap(backend.BackendFailure, backend.ErrEmptyTranscription)
	}
	return result.Text, nil
}
