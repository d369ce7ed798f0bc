package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/lfabra/rolecall/internal/agent"
	"github.com/lfabra/rolecall/internal/callstore"
	"github.com/lfabra/rolecall/internal/config"
	"github.com/lfabra/rolecall/internal/observability"
	"github.com/lfabra/rolecall/internal/protocol"
	"github.com/lfabra/rolecall/internal/transcript"
)

// SessionFactory builds a fully wired session for one room connection.
type SessionFactory interface {
	NewSession(ctx context.Context, roomName, rawMetadata string, publisher transcript.Publisher) (*agent.Session, error)
}

type Server struct {
	cfg      config.Config
	registry *agent.Registry
	factory  SessionFactory
	store    callstore.Store
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, registry *agent.Registry, factory SessionFactory, store callstore.Store, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		registry: registry,
		factory:  factory,
		store:    store,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browser connections may drive a
				// roleplay call unless explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/rooms/ws", s.handleRoomWS)
	r.Get("/v1/calls", s.handleRecentCalls)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"active_rooms":      s.registry.Len(),
		"recording_enabled": s.cfg.RecordingEnabled,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (s *Server) handleRecentCalls(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "call store not configured")
		return
	}
	limit := 10
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 100 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be in 1..100")
			return
		}
		limit = n
	}
	records, err := s.store.RecentCalls(r.Context(), strings.TrimSpace(r.URL.Query().Get("customer_id")), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"calls": records})
}

// handleRoomWS is the room data channel: the client sends commands and
// receives transcription/status/evaluation notifications. One connection
// per room; the session lives exactly as long as the socket.
func (s *Server) handleRoomWS(w http.ResponseWriter, r *http.Request) {
	roomName := strings.TrimSpace(r.URL.Query().Get("room"))
	if roomName == "" {
		respondError(w, http.StatusBadRequest, "missing_room", "query parameter room is required")
		return
	}
	rawMetadata := r.URL.Query().Get("metadata")

	if _, busy := s.registry.Get(roomName); busy {
		respondError(w, http.StatusConflict, "room_busy", "room already has an active session")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan []byte, 256)
	sess, err := s.factory.NewSession(ctx, roomName, rawMetadata, &channelPublisher{ch: outbound})
	if err != nil {
		log.Printf("httpapi: session build failed for room %s: %v", roomName, err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "session build failed"),
			time.Now().Add(time.Second))
		return
	}
	defer sess.Close()

	if !s.registry.Put(roomName, sess) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "room busy"),
			time.Now().Add(time.Second))
		return
	}
	defer func() {
		s.registry.Remove(roomName)
		s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
		s.metrics.ActiveSessions.Set(float64(s.registry.Len()))
	}()

	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()
	s.metrics.ActiveSessions.Set(float64(s.registry.Len()))

	commands := make(chan any, 64)
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = sess.Run(ctx, commands)
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case payload, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
					cancel()
					return
				}
				s.metrics.WSMessages.WithLabelValues("outbound", outboundTypeOf(payload)).Inc()
			}
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		cmd, err := protocol.ParseCommand(data)
		if err != nil {
			// Malformed or unknown commands are dropped, never fatal.
			if !errors.Is(err, protocol.ErrUnsupportedType) {
				log.Printf("httpapi: dropping bad command for room %s: %v", roomName, err)
			}
			s.metrics.WSMessages.WithLabelValues("inbound", "dropped").Inc()
			continue
		}

		s.metrics.WSMessages.WithLabelValues("inbound", string(commandTypeOf(cmd))).Inc()
		select {
		case <-ctx.Done():
			break readLoop
		case commands <- cmd:
		}
	}

	cancel()
	close(commands)
	<-runDone
	<-writerDone
}

// channelPublisher delivers serialized notifications to the socket writer.
// Delivery is best-effort: when the outbound queue is saturated the payload
// is dropped rather than blocking the session's control flow.
type channelPublisher struct {
	ch chan []byte
}

var errOutboundFull = errors.New("outbound queue full")

func (p *channelPublisher) PublishData(_ context.Context, payload []byte) error {
	select {
	case p.ch <- payload:
		return nil
	default:
		return errOutboundFull
	}
}

func commandTypeOf(cmd any) protocol.MessageType {
	switch m := cmd.(type) {
	case protocol.StartSimulation:
		return m.Type
	case protocol.EndSimulation:
		return m.Type
	default:
		return "unknown"
	}
}

func outboundTypeOf(payload []byte) string {
	var env protocol.Envelope
	if err := json.Unmarshal(payload, &env); err != nil || env.Type == "" {
		return "unknown"
	}
	return string(env.Type)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
