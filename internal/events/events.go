// Package events routes inbound platform events and slash commands to the
// context assembler, the completion gateway and back out through the
// platform client.
package events

import (
	"encoding/json"
	"strings"
)

// Event types the router understands. Anything else is ignored.
const (
	TypeMessage    = "message"
	TypeAppMention = "app_mention"
)

// Event is one inbound platform event, already unwrapped from its callback
// envelope.
type Event struct {
	Type     string `json:"type"`
	Subtype  string `json:"subtype,omitempty"`
	Channel  string `json:"channel,omitempty"`
	User     string `json:"user,omitempty"`
	BotID    string `json:"bot_id,omitempty"`
	Text     string `json:"text,omitempty"`
	TS       string `json:"ts,omitempty"`
	ThreadTS string `json:"thread_ts,omitempty"`
}

// Callback is the webhook envelope around an event: either a
// url_verification challenge or an event_callback wrapping one Event.
type Callback struct {
	Type      string          `json:"type"`
	Challenge string          `json:"challenge,omitempty"`
	EventID   string          `json:"event_id,omitempty"`
	Event     json.RawMessage `json:"event,omitempty"`
}

// Command is one inbound slash command, decoded from the platform's
// form-encoded payload.
type Command struct {
	Command     string
	Text        string
	UserID      string
	ChannelID   string
	ResponseURL string
	TriggerID   string
}

// ParseCallback decodes a webhook body into its envelope.
func ParseCallback(body []byte) (Callback, error) {
	var cb Callback
	if err := json.Unmarshal(body, &cb); err != nil {
		return Callback{}, err
	}
	return cb, nil
}

// InnerEvent decodes the wrapped event of an event_callback envelope.
func (c Callback) InnerEvent() (Event, error) {
	var ev Event
	if err := json.Unmarshal(c.Event, &ev); err != nil {
		return Event{}, err
	}
	ev.Type = strings.TrimSpace(ev.Type)
	return ev, nil
}
