package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"chat-relay/circuitbreaker"
	"chat-relay/config"
	"chat-relay/internal"
	"chat-relay/logger"
	"chat-relay/markup"
	"chat-relay/store"
	"chat-relay/types"
)

const (
	maxRequestBody = 1 << 20
	outboundBuffer = 16
)

// Handler serves the relay's HTTP surface
type Handler struct {
	config    *config.Config
	relay     *Relay
	store     store.Store
	health    *circuitbreaker.HealthManager
	obsLogger *logger.ObservabilityLogger
}

// NewHandler creates a new HTTP handler. st may be nil when transcripts are
// not readable back.
func NewHandler(cfg *config.Config, relay *Relay, st store.Store, health *circuitbreaker.HealthManager, obsLogger *logger.ObservabilityLogger) *Handler {
	if obsLogger == nil {
		obsLogger = logger.Discard()
	}
	return &Handler{
		config:    cfg,
		relay:     relay,
		store:     st,
		health:    health,
		obsLogger: obsLogger,
	}
}

// Register adds every route to mux
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/chat/stream", h.HandleChatStream)
	mux.HandleFunc("POST /api/v1/markup/repair", h.HandleRepair)
	mux.HandleFunc("GET /api/v1/sessions/{id}/messages", h.HandleSessionMessages)
	mux.HandleFunc("GET /health", h.HandleHealth)
}

// HandleChatStream relays one chat turn as a server-sent event stream
func (h *Handler) HandleChatStream(w http.ResponseWriter, r *http.Request) {
	requestID := internal.NewRequestID()

	var turn types.ChatTurn
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&turn); err != nil {
		h.obsLogger.Warn(logger.ComponentHTTP, logger.CategoryWarning, requestID, "Invalid chat request body", map[string]interface{}{
			"error": err.Error(),
		})
		writeJSONError(w, http.StatusBadRequest, "Invalid request format")
		return
	}
	if strings.TrimSpace(turn.Message) == "" {
		writeJSONError(w, http.StatusBadRequest, "Message is required")
		return
	}

	bot, err := h.config.ResolveBot(turn.BotID)
	if err != nil {
		h.obsLogger.Warn(logger.ComponentHTTP, logger.CategoryWarning, requestID, "Unknown bot requested", map[string]interface{}{
			"bot_id": turn.BotID,
		})
		writeJSONError(w, http.StatusBadRequest, "Unknown bot")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	ctx, cancel := context.WithCancel(internal.WithRequestID(r.Context(), requestID))
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	out := make(chan types.OutboundEvent, outboundBuffer)
	go h.relay.Run(ctx, turn, bot, out)

	writeFailed := false
	for ev := range out {
		if writeFailed {
			continue
		}
		if err := writeEvent(w, ev); err != nil {
			h.obsLogger.Warn(logger.ComponentHTTP, logger.CategoryWarning, requestID, "Client write failed, aborting turn", map[string]interface{}{
				"error": err.Error(),
			})
			writeFailed = true
			cancel()
			continue
		}
		flusher.Flush()
	}
}

type repairRequest struct {
	Text string `json:"text"`
}

type repairResponse struct {
	Balanced string           `json:"balanced"`
	Sections []markup.Section `json:"sections"`
}

// HandleRepair runs the balance and extract pipeline over a submitted buffer
func (h *Handler) HandleRepair(w http.ResponseWriter, r *http.Request) {
	var req repairRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid request format")
		return
	}

	start := time.Now()
	balanced := markup.Balance(req.Text)
	sections := markup.Extract(balanced)
	if sections == nil {
		sections = []markup.Section{}
	}

	h.obsLogger.Repair("", "Markup repaired", map[string]interface{}{
		"input_chars": len(req.Text),
		"sections":    len(sections),
		"duration_us": time.Since(start).Microseconds(),
	})
	writeJSON(w, http.StatusOK, repairResponse{Balanced: balanced, Sections: sections})
}

type sessionMessagesResponse struct {
	SessionID string         `json:"sessionId"`
	Messages  []store.Record `json:"messages"`
}

// HandleSessionMessages returns the stored transcript of one session
func (h *Handler) HandleSessionMessages(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeJSONError(w, http.StatusNotFound, "Transcripts are not stored")
		return
	}

	sessionID := r.PathValue("id")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSONError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	records, err := h.store.Records(r.Context(), sessionID, limit)
	if errors.Is(err, store.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "Session not found")
		return
	}
	if err != nil {
		h.obsLogger.Error(logger.ComponentPersistence, logger.CategoryError, "", "Reading transcript failed", map[string]interface{}{
			"session_id": sessionID,
			"error":      err.Error(),
		})
		writeJSONError(w, http.StatusInternalServerError, "Could not read transcript")
		return
	}
	writeJSON(w, http.StatusOK, sessionMessagesResponse{SessionID: sessionID, Messages: records})
}

// HandleHealth reports liveness and upstream endpoint health
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if h.health != nil {
		resp["endpoints"] = h.health.Snapshot()
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, types.ErrorPayload{Error: message})
}
