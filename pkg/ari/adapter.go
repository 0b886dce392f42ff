// Package ari implements the control-plane adapter: a WebSocket client
// that consumes Asterisk's Stasis application event stream and a REST
// client that drives call setup (answer, external media, bridging). It
// owns the channel-id -> running-call registry as an explicit, mutex-
// guarded field rather than a package-level map, so nothing about which
// calls are active is implicit or shared across adapters.
package ari

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/coder/websocket"

	"github.com/sebas-voicebot/ari-gateway/pkg/gatewaylog"
)

// CallHandler is invoked once per StasisStart for a channel worth
// answering (HasCallerNumber). It receives the adapter so it can drive
// further REST calls (bridging, recording) and a context cancelled when
// the matching StasisEnd arrives for the same channel.
type CallHandler func(ctx context.Context, a *Adapter, channel Channel)

// Config holds the connection details for one Asterisk instance.
type Config struct {
	Host     string
	Port     int
	App      string
	User     string
	Pass     string
	Scheme   string // "http" or "https"; defaults to "http"
	WSScheme string // "ws" or "wss"; defaults to "ws"
}

func (c Config) restBaseURL() string {
	scheme := c.Scheme
	if scheme == "" {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Host, c.Port)
}

func (c Config) wsURL() string {
	scheme := c.WSScheme
	if scheme == "" {
		scheme = "ws"
	}
	u := url.URL{
		Scheme:   scheme,
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/ari/events",
		RawQuery: url.Values{"app": {c.App}, "api_key": {c.User + ":" + c.Pass}}.Encode(),
	}
	return u.String()
}

// Adapter connects to one Asterisk instance's ARI control plane: it reads
// StasisStart/StasisEnd off the WebSocket event stream and drives REST
// calls through its embedded *RESTClient.
type Adapter struct {
	*RESTClient
	cfg    Config
	logger gatewaylog.Logger

	onStart CallHandler

	mu      sync.Mutex
	running map[string]context.CancelFunc
	conn    *websocket.Conn
}

// New constructs an Adapter. onStart is called for every StasisStart
// whose channel carries a caller number; it runs in its own goroutine so
// a slow or blocking handler never stalls the event loop.
func New(cfg Config, onStart CallHandler, logger gatewaylog.Logger) *Adapter {
	if logger == nil {
		logger = gatewaylog.NoOp{}
	}
	return &Adapter{
		RESTClient: NewRESTClient(cfg.restBaseURL(), cfg.User, cfg.Pass),
		cfg:        cfg,
		logger:     logger,
		onStart:    onStart,
		running:    make(map[string]context.CancelFunc),
	}
}

// Run dials the ARI WebSocket and processes events until ctx is
// cancelled or the connection drops. It does not reconnect; callers
// wanting resilience should loop Run with backoff.
func (a *Adapter) Run(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, a.cfg.wsURL(), nil)
	if err != nil {
		return fmt.Errorf("ari: dial event stream: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("ari: read event: %w", err)
		}
		if msgType != websocket.MessageText {
			continue
		}

		evt, err := ParseEvent(data)
		if err != nil {
			a.logger.Warn("ari: failed to parse event", "error", err)
			continue
		}

		a.dispatch(ctx, evt)
	}
}

func (a *Adapter) dispatch(ctx context.Context, evt Event) {
	switch evt.Type {
	case EventStasisStart:
		a.handleStasisStart(ctx, evt.Channel)
	case EventStasisEnd:
		a.handleStasisEnd(evt.Channel)
	default:
		a.logger.Debug("ari: ignoring event", "type", string(evt.Type))
	}
}

func (a *Adapter) handleStasisStart(ctx context.Context, ch Channel) {
	if !ch.HasCallerNumber() {
		a.logger.Info("ari: skipping StasisStart with no caller number", "channel", ch.ID)
		return
	}
	if a.onStart == nil {
		return
	}

	callCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.running[ch.ID] = cancel
	a.mu.Unlock()

	go a.onStart(callCtx, a, ch)
}

func (a *Adapter) handleStasisEnd(ch Channel) {
	a.mu.Lock()
	cancel, ok := a.running[ch.ID]
	delete(a.running, ch.ID)
	a.mu.Unlock()
	if ok {
		cancel()
		a.logger.Info("ari: call ended, handler cancelled", "channel", ch.ID)
	}
}

// ActiveCalls returns the number of channels with a running call handler.
func (a *Adapter) ActiveCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.running)
}
