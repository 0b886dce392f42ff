// Package tts holds concrete backend.Synthesizer adapters.
//
// Lokutor speaks a persistent coder/websocket connection: one JSON
// synthesis request per call, binary chunks accumulated until an "EOS"
// text frame closes the utterance. The gateway asks for µ-law output at
// 8kHz directly so no resampling library is needed downstream.
package tts

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/sebas-voicebot/ari-gateway/pkg/backend"
)

type Lokutor struct {
	apiKey string
	host   string
	voice  string

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewLokutor(apiKey, voice string) *Lokutor {
	if voice == "" {
		voice = "F1"
	}
	return &Lokutor{apiKey: apiKey, host: "api.lokutor.com", voice: voice}
}

func (t *Lokutor) getConn(ctx context.Context) (*websocket.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return t.conn, nil
	}

	u := url.URL{Scheme: "wss", Host: t.host, Path: "/ws", RawQuery: "api_key=" + t.apiKey}
	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, backend.Wrap(backend.NetworkTransient, fmt.Errorf("lokutor dial: %w", err))
	}
	t.conn = conn
	return conn, nil
}

func (t *Lokutor) Synthesize(ctx context.Context, text string) ([]byte, error) {
	conn, err := t.getConn(ctx)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	req := map[string]interface{}{
		"text":           text,
		"voice":          t.voice,
		"output_format":  "mulaw",
		"output_rate_hz": 8000,
	}
	if err := wsjson.Write(ctx, conn, req); err != nil {
		t.conn = nil
		conn.Close(websocket.StatusAbnormalClosure, "failed to write json")
		return nil, backend.Wrap(backend.NetworkTransient, fmt.Errorf("lokutor request: %w", err))
	}

	var audioOut []byte
	for {
		messageType, payload, err := conn.Read(ctx)
		if err != nil {
			t.conn = nil
			conn.Close(websocket.StatusAbnormalClosure, "failed to read")
			return nil, backend.Wrap(backend.NetworkTransient, fmt.Errorf("lokutor read: %w", err))
		}

		switch messageType {
		case websocket.MessageBinary:
			audioOut = append(audioOut, payload...)
		case websocket.MessageText:
			msg := string(payload)
			if msg == "EOS" {
				if len(audioOut) == 0 {
					return nil, backend.Wrap(backend.BackendFailure, backend.ErrSynthesizeFailed)
				}
				return audioOut, nil
			}
			if len(msg) >= 4 && msg[:4] == "ERR:" {
				return nil, backend.Wrap(backend.BackendFailure, fmt.Errorf("%w: %s", backend.ErrSynthesizeFailed, msg))
			}
		}
	}
}

func (t *Lokutor) Name() string { return "lokutor-tts" }

func (t *Lokutor) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		err := t.conn.Close(websocket.StatusNormalClosure, "")
		t.conn = nil
		return err
	}
	return nil
}
