package proxy

import (
	"strings"
	"time"

	"chat-relay/types"
)

// StreamSession is the state of one relayed turn. It is owned by the Relay
// goroutine serving that turn and is discarded after the end event.
type StreamSession struct {
	RequestID string
	SessionID string
	BotID     string
	Endpoint  string
	Request   types.PredictionRequest

	StartedAt   time.Time
	CompletedAt time.Time

	text     strings.Builder
	sequence int
}

// Text returns everything accumulated so far
func (s *StreamSession) Text() string {
	return s.text.String()
}

// Sequence returns the sequence number of the last token, 0 before the first
func (s *StreamSession) Sequence() int {
	return s.sequence
}

// appendToken adds a fragment to the accumulator and returns its TokenEvent
func (s *StreamSession) appendToken(fragment string, now time.Time) types.TokenEvent {
	s.text.WriteString(fragment)
	s.sequence++
	return types.TokenEvent{
		Sequence:  s.sequence,
		Fragment:  fragment,
		EmittedAt: now,
	}
}
