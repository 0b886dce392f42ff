package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/sebas-voicebot/ari-gateway/pkg/backend"
)

// Deepgram sends raw µ-law bytes directly (no WAV wrapping needed; Deepgram
// accepts a content-type-declared raw encoding).
type Deepgram struct {
	apiKey string
	url    string
}

func NewDeepgram(apiKey string) *Deepgram {
	return &Deepgram{apiKey: apiKey, url: "https://api.deepgram.com/v1/listen"}
}

func (s *Deepgram) Recognize(ctx context.Context, ulaw []byte) (string, bool, error) {
	u, err := url.Parse(s.url)
	if err != nil {
		return "", true, backend.Wrap(backend.InvalidArgument, err)
	}
	params := u.Query()
	params.Set("model", "nova-2")
	params.Set("smart_format", "true")
	params.Set("encoding", "mulaw")
	params.Set("sample_rate", "8000")
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(ulaw))
	if err != nil {
		return "", true, backend.Wrap(backend.InvalidArgument, err)
	}
	req.Header.Set("Authorization", "Token "+s.apiKey)
	req.Header.Set("Content-Type", "audio/mulaw; rate=8000")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", true, backend.Wrap(backend.NetworkTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", true, backend.Wrap(backend.BackendFailure, fmt.Errorf("%w: status %d: %s", backend.ErrRecognizeFailed, resp.StatusCode, respBody))
	}

	var result struct {
		Results struct {
			Channels []struct {
				Alternatives []struct {
					Transcript string `json:"transcript"`
				} `json:"alternatives"`
			} `json:"channels"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", true, backend.Wrap(backend.ProtocolViolation, err)
	}
	if len(result.Results.Channels) == 0 || len(result.Results.Channels[0].Alternatives) == 0 {
		return "", true, backend.Wrap(backend.BackendFailure, backend.ErrEmptyTranscription)
	}
	return result.Results.Channels[0].Alternatives[0].Transcript, true, nil
}

func (s *Deepgram) Name() string { return "deepgram-stt" }
