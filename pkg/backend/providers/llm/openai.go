// Package llm holds concrete backend.LanguageModel adapters. None of these
// are imported by pkg/callorchestrator or pkg/ari — only cmd/gateway wires
// one in, keeping the core gateway backend-agnostic per the contract
// boundary in pkg/backend.
//
// Each adapter calls its REST endpoint by hand rather than through a
// vendor SDK, kept consistent across all three providers rather than
// swapped for openai-go/anthropic-sdk-go for just one of them.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sebas-voicebot/ari-gateway/pkg/backend"
)

// OpenAI drives OpenAI's chat-completions endpoint with a single-message
// prompt built by the call orchestrator.
type OpenAI struct {
	apiKey string
	url    string
	model  string
}

func NewOpenAI(apiKey, model string) *OpenAI {
	if model == "" {
		model = "gpt-4o"
	}
	return &OpenAI{apiKey: apiKey, url: "https://api.openai.com/v1/chat/completions", model: model}
}

func (l *OpenAI) Generate(ctx context.Context, prompt string) (string, error) {
	payload := map[string]interface{}{
		"model": l.model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", backend.Wrap(backend.InvalidArgument, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.url, bytes.NewReader(body))
	if err != nil {
		return "", backend.Wrap(backend.InvalidArgument, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+l.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", backend.Wrap(backend.NetworkTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return "", backend.Wrap(backend.BackendFailure, fmt.Errorf("%w: openai status %d: %v", backend.ErrGenerateFailed, resp.StatusCode, errResp))
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", backend.Wrap(backend.ProtocolViolation, err)
	}
	if len(result.Choices) == 0 {
		return "", backend.Wrap(backend.BackendFailure, backend.ErrGenerateFailed)
	}
	return result.Choices[0].Message.Content, nil
}

func (l *OpenAI) Name() string { return "openai-llm" }
