package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"chat-relay/circuitbreaker"
	"chat-relay/config"
	"chat-relay/internal"
	"chat-relay/logger"
	"chat-relay/metrics"
	"chat-relay/store"
	"chat-relay/types"
)

const (
	defaultTimeout      = 60 * time.Second
	defaultHistoryLimit = 20
	defaultBlockMarker  = "message:"
	readBufferSize      = 4096
	maxErrorBody        = 512
)

// Persister accepts finished turns for background persistence
type Persister interface {
	Enqueue(job store.Job) bool
}

// RelayConfig wires a Relay to its collaborators
type RelayConfig struct {
	Endpoints   *circuitbreaker.Rotation
	Health      *circuitbreaker.HealthManager
	APIKey      string
	HTTPClient  *http.Client
	BlockMarker string
	Timeout     time.Duration

	HistoryLimit int
	// History, when set, supplies prior messages for turns that carry a
	// session id but no history of their own.
	History store.Store
	// Persister, when set, receives every successful turn.
	Persister Persister

	Logger  *logger.ObservabilityLogger
	Metrics *metrics.Metrics
}

// Relay turns one chat turn into an upstream streaming request and the
// normalized outbound event stream.
type Relay struct {
	config RelayConfig
	now    func() time.Time
	newID  func() string
}

// NewRelay creates a Relay, filling in defaults for unset options
func NewRelay(c RelayConfig) (*Relay, error) {
	if c.Endpoints == nil || len(c.Endpoints.Endpoints()) == 0 {
		return nil, ErrNoEndpoint
	}
	if c.Health == nil {
		return nil, fmt.Errorf("health manager is required")
	}
	if c.HTTPClient == nil {
		// No client timeout: the turn context bounds the whole stream.
		c.HTTPClient = &http.Client{}
	}
	if c.BlockMarker == "" {
		c.BlockMarker = defaultBlockMarker
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = defaultHistoryLimit
	}
	if c.Logger == nil {
		c.Logger = logger.Discard()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.New(nil)
	}
	return &Relay{config: c, now: time.Now, newID: uuid.NewString}, nil
}

// Run relays one turn and writes its events to out. It always finishes with an
// end event (unless ctx is gone) and always closes out before returning.
func (r *Relay) Run(ctx context.Context, turn types.ChatTurn, bot config.Bot, out chan<- types.OutboundEvent) {
	defer close(out)

	requestID := internal.GetRequestID(ctx)
	r.config.Metrics.ActiveStreams.Inc()
	defer r.config.Metrics.ActiveStreams.Dec()

	result := metrics.OutcomeInternal
	defer func() {
		if rec := recover(); rec != nil {
			r.config.Logger.Error(logger.ComponentRelay, logger.CategoryError, requestID, "Relay panic recovered", map[string]interface{}{
				"panic": fmt.Sprint(rec),
			})
			r.send(ctx, out, types.NewErrorEvent("Internal relay error"))
			r.send(ctx, out, types.NewEndEvent())
			result = metrics.OutcomeInternal
		}
		r.config.Metrics.TurnFinished(result)
	}()

	sess := r.newSession(ctx, requestID, turn, bot)
	r.config.Logger.Request(requestID, "Relaying chat turn", map[string]interface{}{
		"bot_id":        sess.BotID,
		"session_id":    sess.SessionID,
		"history_count": len(sess.Request.History),
	})

	err := r.stream(ctx, sess, out)
	result = outcome(err)
	if err != nil {
		fields := map[string]interface{}{
			"endpoint": sess.Endpoint,
			"tokens":   sess.Sequence(),
			"error":    err.Error(),
		}
		if errors.Is(err, ErrEmptyStream) {
			r.config.Logger.Warn(logger.ComponentRelay, logger.CategoryWarning, requestID, "Upstream produced no tokens", fields)
		} else {
			r.config.Logger.Error(logger.ComponentRelay, logger.CategoryError, requestID, "Relay failed", fields)
		}
		r.send(ctx, out, types.NewErrorEvent(clientMessage(err)))
		r.send(ctx, out, types.NewEndEvent())
		return
	}

	sess.CompletedAt = r.now()
	r.persist(sess, turn.Message)

	r.config.Logger.Info(logger.ComponentRelay, logger.CategorySuccess, requestID, "Chat turn completed", map[string]interface{}{
		"session_id":  sess.SessionID,
		"tokens":      sess.Sequence(),
		"chars":       len(sess.Text()),
		"duration_ms": sess.CompletedAt.Sub(sess.StartedAt).Milliseconds(),
	})

	r.send(ctx, out, types.NewMetaEvent(sess.SessionID))
	r.send(ctx, out, types.NewEndEvent())
}

func (r *Relay) newSession(ctx context.Context, requestID string, turn types.ChatTurn, bot config.Bot) *StreamSession {
	sessionID := turn.SessionID
	if sessionID == "" {
		sessionID = r.newID()
	}

	history := turn.History
	if len(history) == 0 && turn.SessionID != "" && r.config.History != nil {
		stored, err := store.History(ctx, r.config.History, turn.SessionID, r.config.HistoryLimit)
		switch {
		case err == nil:
			history = stored
		case errors.Is(err, store.ErrNotFound):
		default:
			r.config.Logger.Warn(logger.ComponentPersistence, logger.CategoryWarning, requestID, "Could not load session history", map[string]interface{}{
				"session_id": turn.SessionID,
				"error":      err.Error(),
			})
		}
	}

	override := make(map[string]interface{}, len(bot.OverrideConfig)+1)
	for k, v := range bot.OverrideConfig {
		override[k] = v
	}
	override["sessionId"] = sessionID

	return &StreamSession{
		RequestID: requestID,
		SessionID: sessionID,
		BotID:     bot.ID,
		Request: types.PredictionRequest{
			ChatflowID:     bot.ChatflowID,
			Question:       turn.Message,
			History:        types.TruncateHistory(history, r.config.HistoryLimit),
			Streaming:      true,
			OverrideConfig: override,
		},
		StartedAt: r.now(),
	}
}

// stream runs the upstream request under the turn timeout and forwards tokens
func (r *Relay) stream(ctx context.Context, sess *StreamSession, out chan<- types.OutboundEvent) error {
	tctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	sess.Endpoint = r.config.Endpoints.Select()
	resp, err := r.open(tctx, sess)
	if err != nil {
		err = r.contextError(ctx, tctx, err)
		r.recordFailure(sess, err)
		return err
	}
	defer resp.Body.Close()

	splitter := newBlockSplitter(r.config.BlockMarker)
	buf := make([]byte, readBufferSize)
	for {
		n, readErr := resp.Body.Read(buf)
		var payloads []string
		if n > 0 {
			payloads = splitter.Write(buf[:n])
		}
		if readErr == io.EOF {
			payloads = append(payloads, splitter.Flush()...)
		}

		for _, payload := range payloads {
			stop, err := r.handleBlock(tctx, sess, payload, out)
			if err != nil {
				err = r.contextError(ctx, tctx, err)
				r.recordFailure(sess, err)
				return err
			}
			if stop {
				return r.finish(sess)
			}
		}

		if readErr == io.EOF {
			return r.finish(sess)
		}
		if readErr != nil {
			err := r.contextError(ctx, tctx, fmt.Errorf("reading upstream: %w", readErr))
			r.recordFailure(sess, err)
			return err
		}
	}
}

// finish decides how a cleanly ended upstream stream resolves
func (r *Relay) finish(sess *StreamSession) error {
	r.config.Health.RecordSuccess(sess.Endpoint)
	if sess.Sequence() == 0 {
		return ErrEmptyStream
	}
	return nil
}

func (r *Relay) open(ctx context.Context, sess *StreamSession) (*http.Response, error) {
	body, err := json.Marshal(sess.Request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := sess.Endpoint + "/api/v1/prediction/" + sess.Request.ChatflowID
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if r.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.config.APIKey)
	}

	r.config.Logger.Debug(logger.ComponentUpstream, logger.CategoryRequest, sess.RequestID, "Opening upstream stream", map[string]interface{}{
		"endpoint":    sess.Endpoint,
		"chatflow_id": sess.Request.ChatflowID,
	})

	resp, err := r.config.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &UpstreamStatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(respBody))}
	}
	return resp, nil
}

// handleBlock processes one block payload. stop is true once the upstream
// signalled the end of the answer.
func (r *Relay) handleBlock(ctx context.Context, sess *StreamSession, payload string, out chan<- types.OutboundEvent) (stop bool, err error) {
	env, repaired, err := decodeEnvelope(payload)
	if err != nil {
		r.config.Metrics.MalformedBlocks.WithLabelValues("skipped").Inc()
		r.config.Logger.Warn(logger.ComponentUpstream, logger.CategoryWarning, sess.RequestID, "Skipping malformed upstream block", map[string]interface{}{
			"error":   err.Error(),
			"payload": truncate(payload, 200),
		})
		return false, nil
	}
	if repaired {
		r.config.Metrics.MalformedBlocks.WithLabelValues("repaired").Inc()
		r.config.Logger.Repair(sess.RequestID, "Repaired malformed upstream block", map[string]interface{}{
			"payload": truncate(payload, 200),
		})
	}

	switch env.Event {
	case types.UpstreamEventToken:
		fragment := env.Text()
		if fragment == "" {
			return false, nil
		}
		tok := sess.appendToken(fragment, r.now())
		if tok.Sequence == 1 {
			r.config.Metrics.FirstToken(sess.StartedAt)
		}
		r.config.Metrics.Tokens.Inc()
		return false, r.send(ctx, out, types.NewTokenEvent(tok))
	case types.UpstreamEventError:
		return false, &UpstreamEventError{Message: env.Text()}
	case types.UpstreamEventEnd:
		return true, nil
	default:
		r.config.Logger.Debug(logger.ComponentUpstream, logger.CategoryStream, sess.RequestID, "Ignoring upstream event", map[string]interface{}{
			"event": env.Event,
		})
		return false, nil
	}
}

// contextError tells a turn timeout apart from the caller going away
func (r *Relay) contextError(parent, turn context.Context, err error) error {
	if parent.Err() != nil {
		return fmt.Errorf("%w: %v", parent.Err(), err)
	}
	if errors.Is(turn.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrUpstreamTimeout, r.config.Timeout)
	}
	return err
}

// recordFailure charges transport failures to the endpoint. Caller
// cancellation and upstream error envelopes say nothing about its health.
func (r *Relay) recordFailure(sess *StreamSession, err error) {
	var eventErr *UpstreamEventError
	if errors.Is(err, context.Canceled) || errors.As(err, &eventErr) {
		return
	}
	r.config.Health.RecordFailure(sess.Endpoint)
}

func (r *Relay) persist(sess *StreamSession, question string) {
	if r.config.Persister == nil {
		return
	}
	r.config.Persister.Enqueue(store.Job{
		RequestID: sess.RequestID,
		SessionID: sess.SessionID,
		Messages: []types.HistoryMessage{
			{Role: types.RoleUser, Content: question},
			{Role: types.RoleAssistant, Content: sess.Text()},
		},
	})
}

// send delivers one event unless ctx ends first
func (r *Relay) send(ctx context.Context, out chan<- types.OutboundEvent, ev types.OutboundEvent) error {
	select {
	case out <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
