package ari

import "encoding/json"

// EventType identifies the shape a raw Stasis application event was parsed
// into. Any type string the adapter has not seen before degrades to
// Unknown rather than failing to parse — Asterisk's event set grows across
// versions and a gateway must keep running against events it doesn't
// recognize yet.
type EventType string

const (
	EventStasisStart EventType = "StasisStart"
	EventStasisEnd   EventType = "StasisEnd"
	EventUnknown     EventType = "Unknown"
)

// ChannelState is a channel's call-progress state. Any value Asterisk sends
// that isn't recognized below degrades to StateUnknown rather than failing
// to parse, matching the same degrade-don't-fail policy as EventType.
type ChannelState string

const (
	StateUp      ChannelState = "Up"
	StateRing    ChannelState = "Ring"
	StateUnknown ChannelState = "Unknown"
)

// UnmarshalJSON normalizes any state string Asterisk sends that isn't Up or
// Ring to StateUnknown.
func (s *ChannelState) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch ChannelState(raw) {
	case StateUp:
		*s = StateUp
	case StateRing:
		*s = StateRing
	default:
		*s = StateUnknown
	}
	return nil
}

// Caller is the calling party identity attached to a Channel.
type Caller struct {
	Name   string `json:"name"`
	Number string `json:"number"`
}

// Dialplan locates where in the PBX's dialplan a channel currently sits.
type Dialplan struct {
	Context  string `json:"context"`
	Exten    string `json:"exten"`
	Priority int    `json:"priority"`
	AppName  string `json:"app_name"`
	AppData  string `json:"app_data"`
}

// Channel is the subset of Asterisk's channel object the gateway needs to
// answer a call, originate external media, and bridge the two together.
type Channel struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	State        ChannelState `json:"state"`
	Caller       Caller       `json:"caller"`
	Connected    Caller       `json:"connected"`
	AccountCode  string       `json:"accountcode"`
	Dialplan     Dialplan     `json:"dialplan"`
	CreationTime string       `json:"creationtime"`
	Language     string       `json:"language"`
}

// Event is a tagged union over the Stasis application events the adapter
// understands. Type discriminates which of the typed fields is populated;
// Raw always holds the original payload so an Unknown event's caller can
// still inspect it.
type Event struct {
	Type        EventType
	Application string
	Channel     Channel
	Raw         json.RawMessage
}

// envelope mirrors the wire shape every ARI WebSocket event shares: a
// "type" discriminator, an "application" name, and (for channel events) a
// "channel" object.
type envelope struct {
	Type        string  `json:"type"`
	Application string  `json:"application"`
	Channel     Channel `json:"channel"`
}

// ParseEvent decodes one ARI WebSocket text message. It never fails on an
// event type or channel state it doesn't recognize — such events degrade
// to EventUnknown with Raw preserved, rather than being dropped or
// breaking the event loop.
func ParseEvent(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, err
	}

	evt := Event{
		Application: env.Application,
		Channel:     env.Channel,
		Raw:         append(json.RawMessage(nil), data...),
	}

	switch EventType(env.Type) {
	case EventStasisStart:
		evt.Type = EventStasisStart
	case EventStasisEnd:
		evt.Type = EventStasisEnd
	default:
		evt.Type = EventUnknown
	}
	return evt, nil
}

// HasCallerNumber reports whether the channel carries a non-empty caller
// number, the gateway's minimum bar for treating a StasisStart as a real
// inbound call worth answering.
func (c Channel) HasCallerNumber() bool {
	return c.Caller.Number != ""
}
