package ari

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
)

// RESTClient talks to Asterisk's ARI REST surface over HTTP Basic Auth. It
// covers exactly the calls the gateway's call-setup flow needs: answering
// a channel, creating an external-media channel bound to this gateway's
// RTP endpoint, bridging two channels together, and optionally recording
// a bridge. It also offers Play and OriginateChannel, which that flow does
// not use.
type RESTClient struct {
	http *resty.Client
}

// NewRESTClient builds a RESTClient against baseURL (e.g.
// "http://asterisk:8088") authenticating with user/pass on every request.
func NewRESTClient(baseURL, user, pass string) *RESTClient {
	c := resty.New().
		SetBaseURL(baseURL).
		SetBasicAuth(user, pass)
	return &RESTClient{http: c}
}

// Answer answers an inbound channel.
func (c *RESTClient) Answer(ctx context.Context, channelID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Post(fmt.Sprintf("/ari/channels/%s/answer", channelID))
	return checkResp(resp, err, "answer channel")
}

// ExternalMediaOptions configures the external-media channel Asterisk
// creates to stream RTP at this gateway.
type ExternalMediaOptions struct {
	App            string
	ExternalHost   string // host:port the gateway's Call Media Endpoint is bound to
	Format         string // e.g. "ulaw"
	Encapsulation  string // "rtp"
	Transport      string // "udp"
	ConnectionType string // "client"
	Direction      string // "both"
}

// DefaultExternalMediaOptions fills in the RTP/UDP client-mode defaults
// every inbound voice-bot call uses, leaving only App/ExternalHost/Format
// for the caller to set.
func DefaultExternalMediaOptions(app, externalHost, format string) ExternalMediaOptions {
	return ExternalMediaOptions{
		App:            app,
		ExternalHost:   externalHost,
		Format:         format,
		Encapsulation:  "rtp",
		Transport:      "udp",
		ConnectionType: "client",
		Direction:      "both",
	}
}

// ExternalMedia creates an external-media channel identified by
// channelID, returning the channel object Asterisk assigns it.
func (c *RESTClient) ExternalMedia(ctx context.Context, channelID string, opts ExternalMediaOptions) (Channel, error) {
	var ch Channel
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"channelId":       channelID,
			"app":             opts.App,
			"external_host":   opts.ExternalHost,
			"format":          opts.Format,
			"encapsulation":   opts.Encapsulation,
			"transport":       opts.Transport,
			"connection_type": opts.ConnectionType,
			"direction":       opts.Direction,
		}).
		SetResult(&ch).
		Post("/ari/channels/externalMedia")
	if err := checkResp(resp, err, "create external media channel"); err != nil {
		return Channel{}, err
	}
	return ch, nil
}

// bridgeResult is the subset of Asterisk's bridge object the client reads.
type bridgeResult struct {
	ID string `json:"id"`
}

// CreateMixingBridge creates a new mixing bridge and returns its id.
func (c *RESTClient) CreateMixingBridge(ctx context.Context) (string, error) {
	var br bridgeResult
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("type", "mixing").
		SetResult(&br).
		Post("/ari/bridges")
	if err := checkResp(resp, err, "create mixing bridge"); err != nil {
		return "", err
	}
	return br.ID, nil
}

// AddChannelToBridge joins channelID to the bridge identified by
// bridgeID.
func (c *RESTClient) AddChannelToBridge(ctx context.Context, bridgeID, channelID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("channel", channelID).
		Post(fmt.Sprintf("/ari/bridges/%s/addChannel", bridgeID))
	return checkResp(resp, err, "add channel to bridge")
}

// RecordingOptions configures an optional bridge recording.
type RecordingOptions struct {
	Name               string
	Format             string // e.g. "wav"
	MaxDurationSeconds int
	MaxSilenceSeconds  int
	IfExists           string // "fail", "overwrite", "append"
	Beep               bool
}

// StartBridgeRecording begins recording the given bridge. Not part of the
// inbound call's critical path — a caller can ignore its error and keep
// the call running without a recording.
func (c *RESTClient) StartBridgeRecording(ctx context.Context, bridgeID string, opts RecordingOptions) error {
	if opts.IfExists == "" {
		opts.IfExists = "fail"
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"name":               opts.Name,
			"format":             opts.Format,
			"maxDurationSeconds": fmt.Sprintf("%d", opts.MaxDurationSeconds),
			"maxSilenceSeconds":  fmt.Sprintf("%d", opts.MaxSilenceSeconds),
			"ifExists":           opts.IfExists,
			"beep":               fmt.Sprintf("%t", opts.Beep),
		}).
		Post(fmt.Sprintf("/ari/bridges/%s/record", bridgeID))
	return checkResp(resp, err, "start bridge recording")
}

// Play starts playback of a media URI (e.g. "sound:hello-world") on a
// channel, for prompts Asterisk itself plays rather than audio the
// gateway streams over RTP.
func (c *RESTClient) Play(ctx context.Context, channelID, media string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("media", media).
		Post(fmt.Sprintf("/ari/channels/%s/play", channelID))
	return checkResp(resp, err, "play media")
}

// OriginateChannel creates a new outbound channel dialing endpoint (e.g.
// "PJSIP/1000") into the Stasis application app, returning the new
// channel's id. Not used by the inbound StasisStart flow; kept for
// outbound-call scenarios built on top of this adapter.
func (c *RESTClient) OriginateChannel(ctx context.Context, endpoint, app string) (string, error) {
	var ch Channel
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"endpoint": endpoint,
			"app":      app,
		}).
		SetResult(&ch).
		Post("/ari/channels")
	if err := checkResp(resp, err, "originate channel"); err != nil {
		return "", err
	}
	return ch.ID, nil
}

func checkResp(resp *resty.Response, err error, action string) error {
	if err != nil {
		return fmt.Errorf("ari: %s: %w", action, err)
	}
	if resp.IsError() {
		return fmt.Errorf("ari: %s: status %d: %s", action, resp.StatusCode(), resp.String())
	}
	return nil
}
