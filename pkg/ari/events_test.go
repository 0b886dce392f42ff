package ari

import "testing"

func TestParseEventStasisStart(t *testing.T) {
	data := []byte(`{
		"type": "StasisStart",
		"application": "voicebot",
		"channel": {
			"id": "1234.1",
			"name": "PJSIP/trunk-00000001",
			"state": "Ring",
			"caller": {"name": "Jane", "number": "15551234567"}
		}
	}`)

	evt, err := ParseEvent(data)
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if evt.Type != EventStasisStart {
		t.Fatalf("expected EventStasisStart, got %v", evt.Type)
	}
	if evt.Application != "voicebot" {
		t.Fatalf("expected application voicebot, got %q", evt.Application)
	}
	if evt.Channel.ID != "1234.1" {
		t.Fatalf("expected channel id 1234.1, got %q", evt.Channel.ID)
	}
	if !evt.Channel.HasCallerNumber() {
		t.Fatalf("expected HasCallerNumber true")
	}
}

func TestChannelStateRecognizesUpAndRing(t *testing.T) {
	data := []byte(`{"type": "StasisStart", "channel": {"id": "1", "state": "Up"}}`)
	evt, err := ParseEvent(data)
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if evt.Channel.State != StateUp {
		t.Fatalf("expected StateUp, got %v", evt.Channel.State)
	}

	data = []byte(`{"type": "StasisStart", "channel": {"id": "1", "state": "Ring"}}`)
	evt, err = ParseEvent(data)
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if evt.Channel.State != StateRing {
		t.Fatalf("expected StateRing, got %v", evt.Channel.State)
	}
}

func TestChannelStateDegradesUnrecognizedValueToUnknown(t *testing.T) {
	data := []byte(`{"type": "StasisStart", "channel": {"id": "1", "state": "Reserved"}}`)
	evt, err := ParseEvent(data)
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if evt.Channel.State != StateUnknown {
		t.Fatalf("expected StateUnknown for an unrecognized state, got %v", evt.Channel.State)
	}
}

func TestParseEventStasisEnd(t *testing.T) {
	data := []byte(`{"type": "StasisEnd", "application": "voicebot", "channel": {"id": "1234.1"}}`)
	evt, err := ParseEvent(data)
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if evt.Type != EventStasisEnd {
		t.Fatalf("expected EventStasisEnd, got %v", evt.Type)
	}
}

func TestParseEventUnknownTypeDegradesGracefully(t *testing.T) {
	data := []byte(`{"type": "ChannelDtmfReceived", "application": "voicebot", "channel": {"id": "1234.1"}}`)
	evt, err := ParseEvent(data)
	if err != nil {
		t.Fatalf("ParseEvent must not error on an unrecognized type: %v", err)
	}
	if evt.Type != EventUnknown {
		t.Fatalf("expected EventUnknown, got %v", evt.Type)
	}
	if evt.Channel.ID != "1234.1" {
		t.Fatalf("expected channel still parsed, got %q", evt.Channel.ID)
	}
	if len(evt.Raw) == 0 {
		t.Fatalf("expected Raw payload preserved for an unknown event")
	}
}

func TestParseEventInvalidJSONErrors(t *testing.T) {
	if _, err := ParseEvent([]byte("not json")); err == nil {
		t.Fatalf("expected an error for malformed JSON")
	}
}

func TestChannelWithoutCallerNumberIsSkippable(t *testing.T) {
	ch := Channel{ID: "1234.1"}
	if ch.HasCallerNumber() {
		t.Fatalf("expected HasCallerNumber false for empty caller number")
	}
}

func TestConfigURLBuilding(t *testing.T) {
	cfg := Config{Host: "asterisk", Port: 8088, App: "voicebot", User: "ariuser", Pass: "secret"}
	if got, want := cfg.restBaseURL(), "http://asterisk:8088"; got != want {
		t.Fatalf("restBaseURL: got %q, want %q", got, want)
	}
	ws := cfg.wsURL()
	if want := "ws://asterisk:8088/ari/events?api_key=ariuser%3Asecret&app=voicebot"; ws != want {
		t.Fatalf("wsURL: got %q, want %q", ws, want)
	}
}
