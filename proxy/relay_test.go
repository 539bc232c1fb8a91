package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"chat-relay/circuitbreaker"
	"chat-relay/config"
	"chat-relay/internal"
	"chat-relay/metrics"
	"chat-relay/store"
	"chat-relay/types"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testBot = config.Bot{ID: "mall", ChatflowID: "flow-1", OverrideConfig: map[string]interface{}{"temperature": 0.2}}

// recordingPersister stores jobs synchronously so tests can inspect them
type recordingPersister struct {
	mu   sync.Mutex
	jobs []store.Job
}

func (p *recordingPersister) Enqueue(job store.Job) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, job)
	return true
}

func (p *recordingPersister) Jobs() []store.Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]store.Job(nil), p.jobs...)
}

type panickingPersister struct{}

func (panickingPersister) Enqueue(store.Job) bool { panic("persister exploded") }

func envelope(event string, data interface{}) string {
	b, _ := json.Marshal(map[string]interface{}{"event": event, "data": data})
	return string(b)
}

// writeBlocks writes each payload as one marker-framed block and flushes
func writeBlocks(w http.ResponseWriter, payloads ...string) {
	for _, p := range payloads {
		fmt.Fprintf(w, "message:\ndata:%s\n\n", p)
		w.(http.Flusher).Flush()
	}
}

func tokenServer(t *testing.T, payloads ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeBlocks(w, payloads...)
	}))
	t.Cleanup(srv.Close)
	return srv
}

type relayFixture struct {
	relay     *Relay
	persister *recordingPersister
	metrics   *metrics.Metrics
	health    *circuitbreaker.HealthManager
}

func newFixture(t *testing.T, endpoints []string, mutate ...func(*RelayConfig)) *relayFixture {
	t.Helper()
	health := circuitbreaker.NewHealthManager(circuitbreaker.DefaultConfig(), nil)
	f := &relayFixture{
		persister: &recordingPersister{},
		metrics:   metrics.New(nil),
		health:    health,
	}
	c := RelayConfig{
		Endpoints: circuitbreaker.NewRotation(endpoints, health),
		Health:    health,
		APIKey:    "secret",
		Timeout:   5 * time.Second,
		Persister: f.persister,
		Metrics:   f.metrics,
	}
	for _, m := range mutate {
		m(&c)
	}
	relay, err := NewRelay(c)
	require.NoError(t, err)
	f.relay = relay
	return f
}

// run drives one turn and collects every event until the channel closes
func (f *relayFixture) run(t *testing.T, ctx context.Context, turn types.ChatTurn) []types.OutboundEvent {
	t.Helper()
	out := make(chan types.OutboundEvent)
	go f.relay.Run(internal.WithRequestID(ctx, "req_test"), turn, testBot, out)

	var events []types.OutboundEvent
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-out:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("relay did not close its channel")
			return nil
		}
	}
}

func names(events []types.OutboundEvent) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Name
	}
	return out
}

func tokenText(events []types.OutboundEvent) string {
	var sb strings.Builder
	for _, ev := range events {
		if p, ok := ev.Payload.(types.ProgressiveTokenPayload); ok {
			sb.WriteString(p.Content)
		}
	}
	return sb.String()
}

func errorMessage(t *testing.T, events []types.OutboundEvent) string {
	t.Helper()
	for _, ev := range events {
		if p, ok := ev.Payload.(types.ErrorPayload); ok {
			return p.Error
		}
	}
	t.Fatal("no error event")
	return ""
}

func TestRelayStreamsTokensAndPersists(t *testing.T) {
	var got types.PredictionRequest
	var gotPath, gotAccept, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAccept = r.Header.Get("Accept")
		gotAuth = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeBlocks(w,
			envelope("start", "Hel"),
			envelope("token", "Hel"),
			envelope("token", "lo "),
			envelope("token", "world"),
		)
	}))
	defer srv.Close()

	f := newFixture(t, []string{srv.URL})
	events := f.run(t, context.Background(), types.ChatTurn{Message: "Say hello", BotID: "mall", SessionID: "s-1"})

	require.Equal(t, []string{"progressive-token", "progressive-token", "progressive-token", "meta", "end"}, names(events))
	assert.Equal(t, "Hello world", tokenText(events))
	for i, ev := range events[:3] {
		p := ev.Payload.(types.ProgressiveTokenPayload)
		assert.Equal(t, i+1, p.Sequence)
		assert.Equal(t, "token", p.Type)
		assert.False(t, p.Complete)
		assert.NotZero(t, p.Timestamp)
	}
	assert.Equal(t, types.MetaPayload{SessionID: "s-1"}, events[3].Payload)

	jobs := f.persister.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "s-1", jobs[0].SessionID)
	assert.Equal(t, "req_test", jobs[0].RequestID)
	assert.Equal(t, []types.HistoryMessage{
		{Role: types.RoleUser, Content: "Say hello"},
		{Role: types.RoleAssistant, Content: "Hello world"},
	}, jobs[0].Messages)

	assert.Equal(t, "/api/v1/prediction/flow-1", gotPath)
	assert.Equal(t, "text/event-stream", gotAccept)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "Say hello", got.Question)
	assert.True(t, got.Streaming)
	assert.Equal(t, "s-1", got.OverrideConfig["sessionId"])
	assert.Equal(t, 0.2, got.OverrideConfig["temperature"])

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Turns.WithLabelValues(metrics.OutcomeSuccess)))
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.Tokens))
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.ActiveStreams))
}

func TestRelayEmptyStream(t *testing.T) {
	srv := tokenServer(t, envelope("metadata", map[string]string{"chatId": "c"}))

	f := newFixture(t, []string{srv.URL})
	events := f.run(t, context.Background(), types.ChatTurn{Message: "hi"})

	assert.Equal(t, []string{"error", "end"}, names(events))
	assert.Equal(t, "No data received from upstream", errorMessage(t, events))
	assert.Empty(t, f.persister.Jobs())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Turns.WithLabelValues(metrics.OutcomeEmpty)))
}

func TestRelayGeneratesSessionID(t *testing.T) {
	srv := tokenServer(t, envelope("token", "ok"))

	f := newFixture(t, []string{srv.URL})
	events := f.run(t, context.Background(), types.ChatTurn{Message: "hi"})

	require.Equal(t, []string{"progressive-token", "meta", "end"}, names(events))
	sessionID := events[1].Payload.(types.MetaPayload).SessionID
	_, err := uuid.Parse(sessionID)
	assert.NoError(t, err)
	require.Len(t, f.persister.Jobs(), 1)
	assert.Equal(t, sessionID, f.persister.Jobs()[0].SessionID)
}

func TestRelaySkipsMalformedBlocks(t *testing.T) {
	srv := tokenServer(t,
		envelope("token", "A"),
		"complete garbage",
		`{"event":"token","data":"B"`,
		envelope("token", "C"),
	)

	f := newFixture(t, []string{srv.URL})
	events := f.run(t, context.Background(), types.ChatTurn{Message: "hi"})

	assert.Equal(t, "ABC", tokenText(events))
	assert.Equal(t, "end", events[len(events)-1].Name)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.MalformedBlocks.WithLabelValues("repaired")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(f.metrics.MalformedBlocks.WithLabelValues("skipped"))+
		testutil.ToFloat64(f.metrics.MalformedBlocks.WithLabelValues("repaired")), 2.0)
}

func TestRelayUpstreamEndEnvelopeStopsReading(t *testing.T) {
	srv := tokenServer(t, envelope("token", "done"), envelope("end", "[DONE]"), envelope("token", " ignored"))

	f := newFixture(t, []string{srv.URL})
	events := f.run(t, context.Background(), types.ChatTurn{Message: "hi"})

	assert.Equal(t, []string{"progressive-token", "meta", "end"}, names(events))
	assert.Equal(t, "done", tokenText(events))
}

func TestRelayUpstreamErrorEnvelope(t *testing.T) {
	srv := tokenServer(t, envelope("token", "partial"), envelope("error", "chatflow crashed"))

	f := newFixture(t, []string{srv.URL})
	events := f.run(t, context.Background(), types.ChatTurn{Message: "hi"})

	assert.Equal(t, []string{"progressive-token", "error", "end"}, names(events))
	assert.Equal(t, "upstream error: chatflow crashed", errorMessage(t, events))
	assert.Empty(t, f.persister.Jobs())
	assert.True(t, f.health.IsHealthy(srv.URL))
}

func TestRelayUpstreamStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	f := newFixture(t, []string{srv.URL})
	events := f.run(t, context.Background(), types.ChatTurn{Message: "hi"})

	assert.Equal(t, []string{"error", "end"}, names(events))
	assert.Equal(t, "Upstream returned status 502", errorMessage(t, events))
	assert.Empty(t, f.persister.Jobs())

	snap := f.health.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, 1, snap[0].FailureCount)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Turns.WithLabelValues(metrics.OutcomeUpstream)))
}

func TestRelayUnreachableUpstream(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	f := newFixture(t, []string{url})
	events := f.run(t, context.Background(), types.ChatTurn{Message: "hi"})

	assert.Equal(t, []string{"error", "end"}, names(events))
	assert.Equal(t, "Upstream unavailable", errorMessage(t, events))
}

func TestRelayTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeBlocks(w, envelope("token", "slow"))
		<-r.Context().Done()
	}))
	defer srv.Close()

	f := newFixture(t, []string{srv.URL}, func(c *RelayConfig) { c.Timeout = 100 * time.Millisecond })
	events := f.run(t, context.Background(), types.ChatTurn{Message: "hi"})

	assert.Equal(t, []string{"progressive-token", "error", "end"}, names(events))
	assert.Equal(t, "Upstream request timed out", errorMessage(t, events))
	assert.Empty(t, f.persister.Jobs())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Turns.WithLabelValues(metrics.OutcomeTimeout)))
}

func TestRelayCallerCancellationClosesChannel(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	}))
	defer srv.Close()

	f := newFixture(t, []string{srv.URL})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	f.run(t, ctx, types.ChatTurn{Message: "hi"})

	assert.Empty(t, f.persister.Jobs())
	assert.True(t, f.health.IsHealthy(srv.URL))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Turns.WithLabelValues(metrics.OutcomeCanceled)))
}

func TestRelayRecoversFromPanic(t *testing.T) {
	srv := tokenServer(t, envelope("token", "x"))

	f := newFixture(t, []string{srv.URL}, func(c *RelayConfig) { c.Persister = panickingPersister{} })
	events := f.run(t, context.Background(), types.ChatTurn{Message: "hi"})

	assert.Equal(t, []string{"progressive-token", "error", "end"}, names(events))
	assert.Equal(t, "Internal relay error", errorMessage(t, events))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Turns.WithLabelValues(metrics.OutcomeInternal)))
}

func TestRelayTruncatesHistory(t *testing.T) {
	var got types.PredictionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		writeBlocks(w, envelope("token", "ok"))
	}))
	defer srv.Close()

	history := make([]types.HistoryMessage, 30)
	for i := range history {
		history[i] = types.HistoryMessage{Role: types.RoleUser, Content: fmt.Sprint(i)}
	}

	f := newFixture(t, []string{srv.URL})
	f.run(t, context.Background(), types.ChatTurn{Message: "hi", History: history})

	require.Len(t, got.History, 20)
	assert.Equal(t, "10", got.History[0].Content)
	assert.Equal(t, "29", got.History[19].Content)
}

func TestRelayLoadsStoredHistory(t *testing.T) {
	var got types.PredictionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		writeBlocks(w, envelope("token", "ok"))
	}))
	defer srv.Close()

	mem := store.NewMemoryStore()
	require.NoError(t, mem.Append(context.Background(), "s-9",
		types.HistoryMessage{Role: types.RoleUser, Content: "first question"},
		types.HistoryMessage{Role: types.RoleAssistant, Content: "first answer"},
	))

	f := newFixture(t, []string{srv.URL}, func(c *RelayConfig) { c.History = mem })
	f.run(t, context.Background(), types.ChatTurn{Message: "follow up", SessionID: "s-9"})

	assert.Equal(t, []types.HistoryMessage{
		{Role: types.RoleUser, Content: "first question"},
		{Role: types.RoleAssistant, Content: "first answer"},
	}, got.History)
}

func TestRelayFailsOverToHealthyEndpoint(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer bad.Close()
	good := tokenServer(t, envelope("token", "ok"))

	f := newFixture(t, []string{bad.URL, good.URL}, func(c *RelayConfig) {
		c.Health = circuitbreaker.NewHealthManager(circuitbreaker.Config{FailureThreshold: 1, BackoffDuration: time.Minute}, nil)
		c.Endpoints = circuitbreaker.NewRotation([]string{bad.URL, good.URL}, c.Health)
	})

	first := f.run(t, context.Background(), types.ChatTurn{Message: "hi"})
	assert.Equal(t, "error", first[0].Name)

	for i := 0; i < 2; i++ {
		events := f.run(t, context.Background(), types.ChatTurn{Message: "hi"})
		assert.Equal(t, "ok", tokenText(events))
	}
}

func TestNewRelayRequiresEndpoint(t *testing.T) {
	health := circuitbreaker.NewHealthManager(circuitbreaker.DefaultConfig(), nil)
	_, err := NewRelay(RelayConfig{Endpoints: circuitbreaker.NewRotation(nil, health), Health: health})
	assert.ErrorIs(t, err, ErrNoEndpoint)
}
