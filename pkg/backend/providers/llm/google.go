package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/sebas-voicebot/ari-gateway/pkg/backend"
)

// Google drives Gemini's generateContent endpoint with a single user turn.
type Google struct {
	apiKey string
	url    string
	model  string
}

func NewGoogle(apiKey, model string) *Google {
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &Google{
		apiKey: apiKey,
		url:    "https://generativelanguage.googleapis.com/v1beta/models/" + model + ":generateContent",
		model:  model,
	}
}

func (l *Google) Generate(ctx context.Context, prompt string) (string, error) {
	payload := map[string]interface{}{
		"contents": []map[string]interface{}{
			{
				"role":  "user",
				"parts": []map[string]string{{"text": prompt}},
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", backend.Wrap(backend.InvalidArgument, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.url+"?key="+l.apiKey, bytes.NewReader(body))
	if err != nil {
		return "", backend.Wrap(backend.InvalidArgument, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", backend.Wrap(backend.NetworkTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return "", backend.Wrap(backend.BackendFailure, backend.ErrGenerateFailed)
	}

	var result struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", backend.Wrap(backend.ProtocolViolation, err)
	}
	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return "", backend.Wrap(backend.BackendFailure, backend.ErrGenerateFailed)
	}
	return result.Candidates[0].Content.Parts[0].Text, nil
}

func (l *Google) Name() string { return "google-llm" }
