package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/websocket"
	"golang.org/x/time/rate"

	"chatline/internal/app/commands"
	"chatline/internal/app/dto"
	"chatline/internal/app/handlers/conversations"
	"chatline/internal/app/handlers/messages"
	"chatline/internal/app/queries"
	"chatline/internal/domain/shared/errkind"
)

// Client to server event names.
const (
	EventJoinConversation  = "join:conversation"
	EventLeaveConversation = "leave:conversation"
	EventMessageSend       = "message:send"
	EventMessageRead       = "message:read"
	EventTypingStart       = "typing:start"
	EventTypingStop        = "typing:stop"
)

const (
	maxFrameBytes          = 64 << 10
	maxDecodeErrorsPerConn = 5
	writeTimeout           = 10 * time.Second
)

// Authenticator resolves an opaque session credential to a user id.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (string, error)
}

type GatewayConfig struct {
	CookieName      string
	SendBuffer      int
	FramesPerSecond float64
	RoomJoinAuthz   bool
	AllowedOrigins  []string
}

// Gateway upgrades authenticated HTTP requests to websocket sessions and
// processes each session's inbound events one at a time, in arrival order.
type Gateway struct {
	auth     Authenticator
	commands commands.Bus
	queries  queries.Bus
	hub      *Hub
	rooms    *Rooms
	tracker  *Tracker
	cfg      GatewayConfig
	logger   *slog.Logger
}

func NewGateway(auth Authenticator, cmdBus commands.Bus, queryBus queries.Bus, hub *Hub, rooms *Rooms, tracker *Tracker, cfg GatewayConfig, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FramesPerSecond <= 0 {
		cfg.FramesPerSecond = 20
	}
	return &Gateway{
		auth:     auth,
		commands: cmdBus,
		queries:  queryBus,
		hub:      hub,
		rooms:    rooms,
		tracker:  tracker,
		cfg:      cfg,
		logger:   logger,
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	token := g.tokenFromRequest(r)
	if token == "" {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}
	userID, err := g.auth.Authenticate(r.Context(), token)
	if err != nil || strings.TrimSpace(userID) == "" {
		if err != nil && errkind.Of(err) == nil {
			g.logger.Error("websocket auth failed", "remote", r.RemoteAddr, "error", err)
		}
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}
	server := websocket.Server{
		Handshake: g.checkOrigin,
		Handler: func(conn *websocket.Conn) {
			g.serve(conn, userID)
		},
	}
	server.ServeHTTP(w, r)
}

func (g *Gateway) tokenFromRequest(r *http.Request) string {
	if g.cfg.CookieName != "" {
		if cookie, err := r.Cookie(g.cfg.CookieName); err == nil {
			if token := strings.TrimSpace(cookie.Value); token != "" {
				return token
			}
		}
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// checkOrigin admits native clients without an Origin header and browsers
// from the configured origins.
func (g *Gateway) checkOrigin(cfg *websocket.Config, r *http.Request) error {
	origin := r.Header.Get("Origin")
	if origin == "" || len(g.cfg.AllowedOrigins) == 0 {
		return nil
	}
	for _, allowed := range g.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			parsed, err := url.Parse(origin)
			if err != nil {
				return err
			}
			cfg.Origin = parsed
			return nil
		}
	}
	return errors.New("websocket: origin not allowed")
}

func (g *Gateway) serve(conn *websocket.Conn, userID string) {
	conn.MaxPayloadBytes = maxFrameBytes
	// work issued for this session outlives the connection
	ctx := context.WithoutCancel(conn.Request().Context())
	s := NewSession(userID, g.cfg.SendBuffer)
	log := g.logger.With("session_id", s.ID(), "user_id", userID)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		g.writeLoop(conn, s, log)
	}()
	defer func() {
		s.Close()
		_ = conn.Close()
		<-writerDone
		g.tracker.Disconnect(ctx, s)
		log.Info("websocket closed")
	}()

	if err := g.tracker.Connect(ctx, s); err != nil {
		log.Error("presence snapshot failed", "error", err)
	}
	log.Info("websocket connected")

	burst := int(g.cfg.FramesPerSecond * 2)
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(g.cfg.FramesPerSecond), burst)
	decodeErrors := 0
	for {
		var raw []byte
		if err := websocket.Message.Receive(conn, &raw); err != nil {
			if !errors.Is(err, io.EOF) && !s.Closed() {
				log.Debug("websocket receive failed", "error", err)
			}
			return
		}
		if s.Closed() {
			return
		}
		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil || frame.Event == "" {
			decodeErrors++
			g.sendError(s, "invalid frame payload")
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0
		if !limiter.Allow() {
			g.sendError(s, "rate limit exceeded")
			continue
		}
		g.handle(ctx, s, frame, log)
	}
}

// writeLoop drains the session queue. Closing the session, for example on queue
// overflow, closes the socket too so the read loop ends and cleanup runs.
func (g *Gateway) writeLoop(conn *websocket.Conn, s *Session, log *slog.Logger) {
	for {
		select {
		case <-s.Done():
			_ = conn.Close()
			return
		case frame := <-s.Outbound():
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := websocket.Message.Send(conn, string(frame)); err != nil {
				log.Debug("websocket send failed", "error", err)
				s.Close()
				_ = conn.Close()
				return
			}
		}
	}
}

func (g *Gateway) handle(ctx context.Context, s *Session, frame Frame, log *slog.Logger) {
	var err error
	switch frame.Event {
	case EventJoinConversation:
		err = g.join(ctx, s, frame.Data)
	case EventLeaveConversation:
		if id := parseConversationID(frame.Data); id != "" {
			g.rooms.Leave(s, id)
		} else {
			err = errConversationRequired
		}
	case EventMessageSend:
		err = g.send(ctx, s, frame.Data)
	case EventMessageRead:
		err = g.markRead(ctx, s, frame.Data)
	case EventTypingStart, EventTypingStop:
		if id := parseConversationID(frame.Data); id != "" {
			err = g.hub.Typing(s, frame.Event, id)
		} else {
			err = errConversationRequired
		}
	default:
		err = errUnsupportedEvent
	}
	if err == nil {
		return
	}
	if errkind.Of(err) == nil {
		log.Error("realtime event failed", "event", frame.Event, "error", err)
		g.sendError(s, "internal error")
		return
	}
	g.sendError(s, err.Error())
}

var (
	errConversationRequired = errkind.New(errkind.ErrValidation, "conversationId is required")
	errUnsupportedEvent     = errkind.New(errkind.ErrValidation, "unsupported event")
	errInvalidPayload       = errkind.New(errkind.ErrValidation, "invalid event payload")
)

func (g *Gateway) join(ctx context.Context, s *Session, data json.RawMessage) error {
	id := parseConversationID(data)
	if id == "" {
		return errConversationRequired
	}
	if g.cfg.RoomJoinAuthz {
		if _, err := queries.Ask[conversations.GetQuery, *dto.Conversation](ctx, g.queries, conversations.GetQuery{
			ActorIDV:       s.UserID(),
			ConversationID: id,
		}); err != nil {
			return err
		}
	}
	g.rooms.Join(s, id)
	return nil
}

func (g *Gateway) send(ctx context.Context, s *Session, data json.RawMessage) error {
	var payload sendPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return errInvalidPayload
	}
	_, err := commands.Dispatch[messages.SendMessageCommand, *messages.SendMessageResult](ctx, g.commands, messages.SendMessageCommand{
		ConversationID:  strings.TrimSpace(payload.ConversationID),
		SenderID:        s.UserID(),
		Type:            payload.Type,
		Content:         payload.Content,
		IdempotencyKeyV: strings.TrimSpace(payload.ClientMessageID),
	})
	return err
}

func (g *Gateway) markRead(ctx context.Context, s *Session, data json.RawMessage) error {
	var payload readPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return errInvalidPayload
	}
	_, err := commands.Dispatch[messages.MarkReadCommand, *dto.ReadResult](ctx, g.commands, messages.MarkReadCommand{
		MessageID:      strings.TrimSpace(payload.MessageID),
		ConversationID: strings.TrimSpace(payload.ConversationID),
		UserID:         s.UserID(),
	})
	return err
}

func (g *Gateway) sendError(s *Session, message string) {
	_ = g.hub.Send(s, dto.EventError, dto.Error{Message: message})
}
