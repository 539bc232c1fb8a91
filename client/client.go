// Package client consumes the relay's outbound event stream and feeds the
// tokens of one answer into a render.Renderer.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"chat-relay/markup"
	"chat-relay/render"
	"chat-relay/types"
)

// StreamError is an error event received from the relay
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	return "relay error: " + e.Message
}

// StatusError is a non-streaming rejection of the request
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("relay returned status %d: %s", e.StatusCode, e.Message)
}

// Result is a fully received answer
type Result struct {
	SessionID string
	Text      string
	Sections  []markup.Section
}

// Client talks to a relay over HTTP
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// New creates a Client for the relay at baseURL
func New(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{},
	}
}

// Ask sends one turn and applies every token to r as it arrives. progress,
// when non-nil, is called after each applied token. On the end event r is
// completed and the structured result returned.
func (c *Client) Ask(ctx context.Context, turn types.ChatTurn, r *render.Renderer, progress func(types.TokenEvent)) (*Result, error) {
	body, err := json.Marshal(turn)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal turn: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/v1/chat/stream", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var payload types.ErrorPayload
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&payload)
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: payload.Error}
	}

	result := &Result{}
	reader := NewReader(resp.Body)
	for {
		ev, err := reader.Next()
		if err != nil {
			return nil, fmt.Errorf("reading stream: %w", err)
		}
		if ev == nil {
			return nil, fmt.Errorf("stream closed before end event: %w", io.ErrUnexpectedEOF)
		}

		switch ev.Type {
		case types.EventProgressiveToken:
			var p types.ProgressiveTokenPayload
			if err := json.Unmarshal([]byte(ev.Data), &p); err != nil {
				return nil, fmt.Errorf("decoding token: %w", err)
			}
			tok := types.TokenEvent{
				Sequence:  p.Sequence,
				Fragment:  p.Content,
				EmittedAt: time.UnixMilli(p.Timestamp),
			}
			if err := r.Apply(tok); err != nil {
				return nil, err
			}
			if progress != nil {
				progress(tok)
			}
		case types.EventMeta:
			var p types.MetaPayload
			if err := json.Unmarshal([]byte(ev.Data), &p); err != nil {
				return nil, fmt.Errorf("decoding meta: %w", err)
			}
			result.SessionID = p.SessionID
		case types.EventError:
			var p types.ErrorPayload
			if err := json.Unmarshal([]byte(ev.Data), &p); err != nil {
				return nil, fmt.Errorf("decoding error event: %w", err)
			}
			return nil, &StreamError{Message: p.Error}
		case types.EventEnd:
			result.Sections = r.Complete()
			result.Text = r.Text()
			return result, nil
		}
	}
}

// IsStreamError reports whether err came from a relay error event
func IsStreamError(err error) bool {
	var streamErr *StreamError
	return errors.As(err, &streamErr)
}
