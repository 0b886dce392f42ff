package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sebas-voicebot/ari-gateway/pkg/backend"
)

// Anthropic drives the Messages API with a single user-turn prompt.
type Anthropic struct {
	apiKey string
	url    string
	model  string
}

func NewAnthropic(apiKey, model string) *Anthropic {
	if model == "" {
		model = "claude-3-5-sonnet-20240620"
	}
	return &Anthropic{apiKey: apiKey, url: "https://api.anthropic.com/v1/messages", model: model}
}

func (l *Anthropic) Generate(ctx context.Context, prompt string) (string, error) {
	payload := map[string]interface{}{
		"model":      l.model,
		"max_tokens": 1024,
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
	req.Header.Set("x-api-key", l.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", backend.Wrap(backend.NetworkTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return "", backend.Wrap(backend.BackendFailure, fmt.Errorf("%w: anthropic status %d: %v", backend.ErrGenerateFailed, resp.StatusCode, errResp))
	}

	var result struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", backend.Wrap(backend.ProtocolViolation, err)
	}
	if len(result.Content) == 0 {
		return "", backend.Wrap(backend.BackendFailure, backend.ErrGenerateFailed)
	}
	return result.Content[0].Text, nil
}

func (l *Anthropic) Name() string { return "anthropic-llm" }
