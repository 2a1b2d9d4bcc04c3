package realtime

import (
	"encoding/json"
	"strings"
)

// Frame is the envelope of every websocket message in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func encodeFrame(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: data})
}

type conversationRef struct {
	ConversationID string `json:"conversationId"`
}

// parseConversationID accepts either a bare JSON string or {"conversationId": "..."}.
func parseConversationID(raw json.RawMessage) string {
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return strings.TrimSpace(id)
	}
	var ref conversationRef
	if err := json.Unmarshal(raw, &ref); err == nil {
		return strings.TrimSpace(ref.ConversationID)
	}
	return ""
}

type sendPayload struct {
	ConversationID  string          `json:"conversationId"`
	Type            string          `json:"type"`
	Content         json.RawMessage `json:"content"`
	ClientMessageID string          `json:"clientMessageId,omitempty"`
}

type readPayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}
