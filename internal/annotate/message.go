// Package annotate narrates the orchestrator's actions inside the live
// preview. Messages are fire-and-forget: nothing is acknowledged, nothing is
// persisted, and a receiver that misses one simply shows less.
package annotate

import (
	"encoding/json"
	"strings"

	"github.com/xiaot623/gogo/autopilot/internal/domain"
)

// Source tags every message so receivers can ignore foreign traffic.
const Source = "autopilot-annotate"

// MessageType is the annotation message type.
type MessageType string

const (
	TypeHighlight MessageType = "HIGHLIGHT"
	TypeClear     MessageType = "CLEAR"
)

// Payload names the element and the action shown next to it.
type Payload struct {
	Selector   string `json:"selector"`
	ActionType string `json:"actionType"`
}

// Message is the wire format.
type Message struct {
	Source  string      `json:"source"`
	Type    MessageType `json:"type"`
	Payload *Payload    `json:"payload,omitempty"`
}

// Highlight builds a HIGHLIGHT message for a test id.
func Highlight(selector string, kind domain.ActionKind) Message {
	return Message{
		Source:  Source,
		Type:    TypeHighlight,
		Payload: &Payload{Selector: selector, ActionType: kind.Label()},
	}
}

// Clear builds a CLEAR message.
func Clear() Message {
	return Message{Source: Source, Type: TypeClear}
}

// Decode parses a message. It reports false for invalid JSON, foreign
// sources and unknown types.
func Decode(data []byte) (Message, bool) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, false
	}
	if m.Source != Source {
		return Message{}, false
	}
	switch m.Type {
	case TypeHighlight:
		if m.Payload == nil || m.Payload.Selector == "" {
			return Message{}, false
		}
	case TypeClear:
	default:
		return Message{}, false
	}
	return m, true
}

// CSSSelector renders a test id the way receivers look it up.
func CSSSelector(testID string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `[data-testid="` + r.Replace(testID) + `"]`
}
