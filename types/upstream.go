package types

import "encoding/json"

// Role values used in history and persisted transcripts
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Upstream envelope event tags
const (
	UpstreamEventToken = "token"
	UpstreamEventError = "error"
	UpstreamEventEnd   = "end"
)

// HistoryMessage is one prior turn sent along with a question
type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatTurn is what a client asks the relay to answer
type ChatTurn struct {
	Message   string           `json:"message"`
	History   []HistoryMessage `json:"history,omitempty"`
	BotID     string           `json:"botId"`
	SessionID string           `json:"sessionId,omitempty"`
}

// PredictionRequest represents the request body sent to the generation service
type PredictionRequest struct {
	ChatflowID     string                 `json:"-"`
	Question       string                 `json:"question"`
	History        []HistoryMessage       `json:"history"`
	Streaming      bool                   `json:"streaming"`
	OverrideConfig map[string]interface{} `json:"overrideConfig,omitempty"`
}

// UpstreamEnvelope is the JSON payload carried by one upstream block.
// Data is a plain string for token events and arbitrary JSON otherwise.
type UpstreamEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Text returns the envelope data as a string. JSON strings are decoded,
// any other JSON value is returned verbatim.
func (e UpstreamEnvelope) Text() string {
	if len(e.Data) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(e.Data, &s); err == nil {
		return s
	}
	return string(e.Data)
}

// TruncateHistory keeps only the most recent limit messages
func TruncateHistory(history []HistoryMessage, limit int) []HistoryMessage {
	if limit <= 0 || len(history) <= limit {
		return history
	}
	return history[len(history)-limit:]
}
