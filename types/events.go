package types

import "time"

// Outbound event names written to the client
const (
	EventProgressiveToken = "progressive-token"
	EventMeta             = "meta"
	EventError            = "error"
	EventEnd              = "end"
)

// TokenEvent is one fragment of an answer in upstream arrival order.
// Sequence starts at 1 and increases by one per fragment.
type TokenEvent struct {
	Sequence  int       `json:"sequence"`
	Fragment  string    `json:"fragment"`
	EmittedAt time.Time `json:"emittedAt"`
}

// ProgressiveTokenPayload is the data of a progressive-token event
type ProgressiveTokenPayload struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	Complete  bool   `json:"complete"`
	Timestamp int64  `json:"timestamp"`
	Sequence  int    `json:"sequence"`
}

// MetaPayload is the data of a meta event
type MetaPayload struct {
	SessionID string `json:"sessionId"`
}

// ErrorPayload is the data of an error event
type ErrorPayload struct {
	Error string `json:"error"`
}

// OutboundEvent is one event on the relay's outbound channel.
// Payload is nil for the end event.
type OutboundEvent struct {
	Name    string
	Payload interface{}
}

// NewTokenEvent wraps a TokenEvent as a progressive-token event
func NewTokenEvent(tok TokenEvent) OutboundEvent {
	return OutboundEvent{
		Name: EventProgressiveToken,
		Payload: ProgressiveTokenPayload{
			Type:      "token",
			Content:   tok.Fragment,
			Complete:  false,
			Timestamp: tok.EmittedAt.UnixMilli(),
			Sequence:  tok.Sequence,
		},
	}
}

// NewMetaEvent builds a meta event
func NewMetaEvent(sessionID string) OutboundEvent {
	return OutboundEvent{Name: EventMeta, Payload: MetaPayload{SessionID: sessionID}}
}

// NewErrorEvent builds an error event
func NewErrorEvent(message string) OutboundEvent {
	return OutboundEvent{Name: EventError, Payload: ErrorPayload{Error: message}}
}

// NewEndEvent builds the terminating end event
func NewEndEvent() OutboundEvent {
	return OutboundEvent{Name: EventEnd}
}
