package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/net/websocket"

	"chatline/internal/app/commands"
	"chatline/internal/app/dto"
	"chatline/internal/app/handlers/messages"
	"chatline/internal/app/queries"
	"chatline/internal/domain/shared/errkind"
	domainuser "chatline/internal/domain/user"
	"chatline/internal/infra/storage/memory"
)

const testCookie = "chat_session"

type tokenAuth map[string]string

func (a tokenAuth) Authenticate(_ context.Context, token string) (string, error) {
	if id, ok := a[token]; ok {
		return id, nil
	}
	return "", errkind.New(errkind.ErrUnauthenticated, "invalid session")
}

type gatewayFixture struct {
	server *httptest.Server
	reg    *Registry
	sent   chan messages.SendMessageCommand
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()
	users := memory.NewUserRepository()
	for _, id := range []domainuser.ID{"alice", "bob"} {
		if err := users.Save(context.Background(), &domainuser.User{ID: id, Email: string(id) + "@chatline.local", Name: string(id)}); err != nil {
			t.Fatal(err)
		}
	}
	reg := NewRegistry()
	rooms := NewRooms()
	hub := NewHub(reg, rooms, TypingRoom, nil)
	tracker := NewTracker(reg, rooms, users, hub, nil)
	sent := make(chan messages.SendMessageCommand, 4)

	bus := commands.NewInMemoryBus()
	commands.RegisterHandler(bus, messages.SendMessageKey, commands.HandlerFunc[messages.SendMessageCommand, *messages.SendMessageResult](
		func(ctx context.Context, cmd messages.SendMessageCommand) (*messages.SendMessageResult, error) {
			if cmd.ConversationID == "forbidden" {
				return nil, errkind.New(errkind.ErrForbidden, "not a participant")
			}
			sent <- cmd
			result := &messages.SendMessageResult{Message: dto.ChatMessage{ID: "m1"}}
			return result, hub.PublishToRoom(ctx, cmd.ConversationID, dto.EventMessageNew, dto.MessageNew{Message: result.Message, ConversationID: cmd.ConversationID})
		}))

	gw := NewGateway(tokenAuth{"tok-alice": "alice", "tok-bob": "bob"}, bus, queries.NewInMemoryBus(), hub, rooms, tracker, GatewayConfig{CookieName: testCookie}, nil)
	srv := httptest.NewServer(gw)
	t.Cleanup(srv.Close)
	return &gatewayFixture{server: srv, reg: reg, sent: sent}
}

func (f *gatewayFixture) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	cfg, err := websocket.NewConfig("ws"+strings.TrimPrefix(f.server.URL, "http"), f.server.URL)
	if err != nil {
		t.Fatal(err)
	}
	cfg.Header.Set("Cookie", testCookie+"="+token)
	conn, err := websocket.DialConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatal(err)
	}
	frame, err := json.Marshal(Frame{Event: event, Data: raw})
	if err != nil {
		t.Fatal(err)
	}
	if err := websocket.Message.Send(conn, string(frame)); err != nil {
		t.Fatal(err)
	}
}

func receive(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var text string
	if err := websocket.Message.Receive(conn, &text); err != nil {
		t.Fatalf("receive: %v", err)
	}
	var f Frame
	if err := json.Unmarshal([]byte(text), &f); err != nil {
		t.Fatal(err)
	}
	return f
}

func errorMessage(t *testing.T, f Frame) string {
	t.Helper()
	if f.Event != dto.EventError {
		t.Fatalf("event = %q, want error", f.Event)
	}
	var e dto.Error
	if err := json.Unmarshal(f.Data, &e); err != nil {
		t.Fatal(err)
	}
	return e.Message
}

func TestGatewayRejectsMissingCredential(t *testing.T) {
	f := newGatewayFixture(t)
	for _, token := range []string{"", "tok-unknown"} {
		req, _ := http.NewRequest(http.MethodGet, f.server.URL, nil)
		if token != "" {
			req.AddCookie(&http.Cookie{Name: testCookie, Value: token})
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("token %q status = %d", token, resp.StatusCode)
		}
	}
}

func TestGatewaySessionFlow(t *testing.T) {
	f := newGatewayFixture(t)
	conn := f.dial(t, "tok-alice")

	if got := receive(t, conn); got.Event != dto.EventUsersOnline {
		t.Fatalf("first frame = %q", got.Event)
	}
	send(t, conn, EventJoinConversation, "c1")
	send(t, conn, EventMessageSend, map[string]any{
		"conversationId":  "c1",
		"type":            "text",
		"content":         map[string]string{"text": "hi"},
		"clientMessageId": "client-1",
	})

	got := receive(t, conn)
	if got.Event != dto.EventMessageNew {
		t.Fatalf("event = %q", got.Event)
	}
	cmd := <-f.sent
	if cmd.SenderID != "alice" || cmd.IdempotencyKeyV != "client-1" || cmd.Type != "text" {
		t.Fatalf("dispatched = %+v", cmd)
	}

	send(t, conn, EventMessageSend, map[string]any{"conversationId": "forbidden", "type": "text"})
	if msg := errorMessage(t, receive(t, conn)); msg != "not a participant" {
		t.Fatalf("forbidden message = %q", msg)
	}
	send(t, conn, "bogus", nil)
	if msg := errorMessage(t, receive(t, conn)); msg != "unsupported event" {
		t.Fatalf("unsupported message = %q", msg)
	}
	send(t, conn, EventTypingStart, map[string]string{})
	if msg := errorMessage(t, receive(t, conn)); msg != "conversationId is required" {
		t.Fatalf("typing message = %q", msg)
	}
	if err := websocket.Message.Send(conn, "not json"); err != nil {
		t.Fatal(err)
	}
	if msg := errorMessage(t, receive(t, conn)); msg != "invalid frame payload" {
		t.Fatalf("decode message = %q", msg)
	}
}

func TestGatewayPresenceAcrossConnections(t *testing.T) {
	f := newGatewayFixture(t)
	bob := f.dial(t, "tok-bob")
	receive(t, bob)

	alice := f.dial(t, "tok-alice")
	receive(t, alice)
	status := receive(t, bob)
	if status.Event != dto.EventUserStatus {
		t.Fatalf("bob event = %q", status.Event)
	}

	_ = alice.Close()
	offline := receive(t, bob)
	var payload dto.UserStatus
	if err := json.Unmarshal(offline.Data, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.UserID != "alice" || payload.Status != string(domainuser.StatusOffline) {
		t.Fatalf("offline = %+v", payload)
	}
	if f.reg.IsOnline("alice") {
		t.Fatal("alice should be unbound")
	}
}

func TestGatewayDropsClosedSession(t *testing.T) {
	f := newGatewayFixture(t)
	bob := f.dial(t, "tok-bob")
	receive(t, bob)
	alice := f.dial(t, "tok-alice")
	receive(t, alice)
	if got := receive(t, bob); got.Event != dto.EventUserStatus {
		t.Fatalf("bob event = %q", got.Event)
	}

	sessions := f.reg.SessionsFor("alice")
	if len(sessions) != 1 {
		t.Fatalf("alice sessions = %d", len(sessions))
	}
	// same path as a full outbound queue
	sessions[0].Close()

	_ = alice.SetReadDeadline(time.Now().Add(2 * time.Second))
	var text string
	err := websocket.Message.Receive(alice, &text)
	if err == nil {
		t.Fatalf("closed session still delivered %q", text)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		t.Fatal("socket stayed open after the session closed")
	}

	offline := receive(t, bob)
	var payload dto.UserStatus
	if err := json.Unmarshal(offline.Data, &payload); err != nil {
		t.Fatal(err)
	}
	if offline.Event != dto.EventUserStatus || payload.UserID != "alice" || payload.Status != string(domainuser.StatusOffline) {
		t.Fatalf("offline = %s %+v", offline.Event, payload)
	}
	if f.reg.IsOnline("alice") {
		t.Fatal("alice should be unbound")
	}
}
