package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/arturoeanton/runcoach/internal/middleware"
	"github.com/arturoeanton/runcoach/internal/metrics"
	"github.com/arturoeanton/runcoach/internal/port"
	"github.com/arturoeanton/runcoach/internal/service"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
)

const (
	readLimit    = 16 << 10
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

// Client events.
const (
	EventSend = "message:send"
	EventRead = "message:read"
)

type sendPayload struct {
	ReceiverID string  `json:"receiverId"`
	Content    string  `json:"content"`
	ActivityID *string `json:"activityId,omitempty"`
}

type readPayload struct {
	SenderID string `json:"senderId"`
}

type typingPayload struct {
	ReceiverID string `json:"receiverId"`
}

type errorPayload struct {
	Event   string            `json:"event,omitempty"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Config holds live channel server settings.
type Config struct {
	Port string
	// OriginPatterns lists the browser origins allowed to connect.
	OriginPatterns []string
}

// Server is the authenticated live channel for messaging and push events.
type Server struct {
	cfg      Config
	hub      *Hub
	sessions *middleware.SessionManager
	messages *service.MessageService
	srv      *http.Server
}

// NewServer creates a new live channel server.
func NewServer(cfg Config, hub *Hub, sessions *middleware.SessionManager, messages *service.MessageService) *Server {
	return &Server{
		cfg:      cfg,
		hub:      hub,
		sessions: sessions,
		messages: messages,
	}
}

// Handler returns the HTTP handler serving /ws.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy"}`))
	})
	return mux
}

// Start begins the live channel server on the configured port.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("live channel server starting", "port", s.cfg.Port)
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and closes the open ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.closeAll()
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	token := middleware.BearerToken(r.Header.Get("Authorization"))
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	uc, err := s.sessions.Verify(token)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"unauthorized"}`))
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.cfg.OriginPatterns})
	if err != nil {
		slog.Warn("live channel upgrade failed", "user_id", uc.UserID, "error", err)
		return
	}
	ws.SetReadLimit(readLimit)

	c := &conn{
		id:     uuid.NewString(),
		userID: uc.UserID,
		ws:     ws,
		send:   make(chan []byte, sendBuffer),
	}
	s.hub.add(c)
	defer s.hub.remove(c)
	slog.Debug("live connection opened", "user_id", c.userID, "conn_id", c.id)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go s.writeLoop(ctx, c)

	for {
		var env Envelope
		if err := wsjson.Read(ctx, ws, &env); err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				slog.Debug("live connection closed", "user_id", c.userID, "error", err)
			}
			ws.Close(websocket.StatusNormalClosure, "")
			return
		}
		s.dispatch(ctx, c, env)
	}
}

func (s *Server) writeLoop(ctx context.Context, c *conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.ws.Write(wctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				slog.Debug("live write failed", "user_id", c.userID, "error", err)
				c.ws.Close(websocket.StatusInternalError, "write failed")
				return
			}
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.ws.Ping(pctx)
			cancel()
			if err != nil {
				c.ws.Close(websocket.StatusPolicyViolation, "ping timeout")
				return
			}
		}
	}
}

// dispatch runs one client event. Rejected operations answer the sending
// connection with an error event; the connection stays open.
func (s *Server) dispatch(ctx context.Context, c *conn, env Envelope) {
	var err error
	switch env.Event {
	case EventSend:
		var p sendPayload
		if err = decode(env.Data, &p); err == nil {
			_, err = s.messages.Send(ctx, c.userID, service.SendInput{
				ReceiverID: p.ReceiverID,
				Content:    p.Content,
				ActivityID: p.ActivityID,
			}, metrics.TransportLive)
		}
	case EventRead:
		var p readPayload
		if err = decode(env.Data, &p); err == nil && p.SenderID == "" {
			err = port.NewValidationError("senderId", "is required")
		}
		if err == nil {
			_, err = s.messages.MarkRead(ctx, c.userID, p.SenderID)
		}
	case service.EventTypingStart, service.EventTypingStop:
		var p typingPayload
		if err = decode(env.Data, &p); err == nil && p.ReceiverID == "" {
			err = port.NewValidationError("receiverId", "is required")
		}
		if err == nil {
			err = s.messages.Typing(ctx, c.userID, p.ReceiverID, env.Event == service.EventTypingStart)
		}
	default:
		err = port.NewValidationError("event", "unknown event")
	}
	if err != nil {
		c.emit(service.EventError, errorFor(env.Event, c.userID, err))
	}
}

func decode(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return port.NewValidationError("data", "is required")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return port.NewValidationError("data", "malformed payload")
	}
	return nil
}

// errorFor mirrors the HTTP error mapping for live events.
func errorFor(event, userID string, err error) errorPayload {
	out := errorPayload{Event: event}
	var (
		ve *port.ValidationError
		fe *port.ForbiddenError
		ce *port.ConflictError
	)
	switch {
	case errors.As(err, &ve):
		out.Message = "validation failed"
		out.Fields = ve.Fields
	case errors.As(err, &fe):
		out.Message = fe.Reason
	case errors.As(err, &ce):
		out.Message = ce.Reason
	case errors.Is(err, port.ErrNotFound):
		out.Message = "not found"
	default:
		slog.Error("live event failed", "event", event, "user_id", userID, "error", err)
		out.Message = "internal server error"
	}
	return out
}
