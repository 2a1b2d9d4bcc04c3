package message

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestParseContent(t *testing.T) {
	cases := []struct {
		name string
		kind Kind
		raw  string
		want error
	}{
		{"bare text", KindText, `"  hi  "`, nil},
		{"object text", KindText, `{"text":"hi"}`, nil},
		{"blank text", KindText, `"   "`, ErrTextRequired},
		{"media", KindMedia, `{"url":"https://cdn.local/a.png"}`, nil},
		{"media relative url", KindMedia, `{"url":"/a.png"}`, ErrMediaURL},
		{"location", KindLocation, `{"latitude":10,"longitude":20}`, nil},
		{"location range", KindLocation, `{"latitude":91,"longitude":0}`, ErrLocationRange},
		{"contact", KindContact, `{"name":"Bob","email":"b@x.io"}`, nil},
		{"contact without reach", KindContact, `{"name":"Bob"}`, ErrContactRequired},
		{"call", KindCall, `{"call_type":"video","status":"ended","duration_seconds":3}`, nil},
		{"call status", KindCall, `{"call_type":"video","status":"ringing"}`, ErrCallInvalid},
		{"poll", KindPoll, `{"question":"lunch?","options":[{"text":"yes"},{"text":"no"}]}`, nil},
		{"poll one option", KindPoll, `{"question":"lunch?","options":[{"text":"yes"}]}`, ErrPollInvalid},
		{"garbage", KindMedia, `{`, ErrContentInvalid},
		{"unknown kind", Kind("sticker"), `{}`, ErrUnknownKind},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := ParseContent(tc.kind, json.RawMessage(tc.raw))
			if tc.want != nil {
				if !errors.Is(err, tc.want) {
					t.Fatalf("err = %v, want %v", err, tc.want)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseContent: %v", err)
			}
			if c.Kind() != tc.kind {
				t.Fatalf("kind = %q", c.Kind())
			}
		})
	}
}

func TestParseContentTrimsText(t *testing.T) {
	c, err := ParseContent(KindText, json.RawMessage(`"  hello "`))
	if err != nil {
		t.Fatal(err)
	}
	if c.(Text).Text != "hello" {
		t.Fatalf("text = %q", c.(Text).Text)
	}
}

func TestParseContentDropsClientVotes(t *testing.T) {
	c, err := ParseContent(KindPoll, json.RawMessage(`{"question":"q","options":[{"text":"a","votes":["u1"]},{"text":"b"}]}`))
	if err != nil {
		t.Fatal(err)
	}
	if votes := c.(Poll).Options[0].Votes; len(votes) != 0 {
		t.Fatalf("votes = %v", votes)
	}
}

func TestParseKind(t *testing.T) {
	if k, err := ParseKind(""); err != nil || k != KindText {
		t.Fatalf("empty kind = %q, %v", k, err)
	}
	if k, err := ParseKind(" Media "); err != nil || k != KindMedia {
		t.Fatalf("media kind = %q, %v", k, err)
	}
	if _, err := ParseKind("sticker"); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("err = %v", err)
	}
}

func TestDecodeStoredUnknownKindIsEmpty(t *testing.T) {
	c := DecodeStored(Kind("sticker"), []byte(`{"id":"s1"}`))
	if _, ok := c.(Empty); !ok {
		t.Fatalf("content = %T", c)
	}
	if c.Kind() != "sticker" || Preview(c) != "" {
		t.Fatalf("kind = %q preview = %q", c.Kind(), Preview(c))
	}
	if _, ok := DecodeStored(KindText, []byte(`not json`)).(Empty); !ok {
		t.Fatal("undecodable text should be empty")
	}
	if got := DecodeStored(KindText, []byte(`{"text":"hi"}`)); got != (Text{Text: "hi"}) {
		t.Fatalf("text = %#v", got)
	}
}

func TestPreviewTruncates(t *testing.T) {
	long := strings.Repeat("é", 200)
	if got := Preview(Text{Text: long}); len([]rune(got)) != 120 {
		t.Fatalf("preview runes = %d", len([]rune(got)))
	}
	if got := Preview(Call{CallType: CallAudio}); got != "[audio call]" {
		t.Fatalf("call preview = %q", got)
	}
}

func newText(t *testing.T) *Message {
	t.Helper()
	m, err := NewMessage(CreateParams{ID: "m1", ConversationID: "c1", SenderID: "alice", Content: Text{Text: "hi"}, Now: t0})
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	m.ClearEvents()
	return m
}

func TestNewMessageIsReadBySender(t *testing.T) {
	m := newText(t)
	if !m.IsReadBy("alice") || len(m.ReadBy) != 1 {
		t.Fatalf("read by = %+v", m.ReadBy)
	}
	if _, err := NewMessage(CreateParams{ID: "m2", SenderID: "alice"}); !errors.Is(err, ErrContentRequired) {
		t.Fatalf("err = %v", err)
	}
}

func TestMarkReadIsIdempotent(t *testing.T) {
	m := newText(t)
	if !m.MarkRead("bob", t0) {
		t.Fatal("first read should change")
	}
	if m.MarkRead("bob", t0.Add(time.Second)) {
		t.Fatal("second read should not change")
	}
	if len(m.ReadBy) != 2 {
		t.Fatalf("receipts = %d", len(m.ReadBy))
	}
}

func TestReactReplacesPrevious(t *testing.T) {
	m := newText(t)
	if _, err := m.React("bob", "👍", t0); err != nil {
		t.Fatal(err)
	}
	if _, err := m.React("bob", "🎉", t0); err != nil {
		t.Fatal(err)
	}
	if len(m.Reactions) != 1 || m.Reactions[0].Emoji != "🎉" {
		t.Fatalf("reactions = %+v", m.Reactions)
	}
	if _, err := m.React("bob", "", t0); err != nil {
		t.Fatal(err)
	}
	if len(m.Reactions) != 0 {
		t.Fatalf("reactions after clear = %+v", m.Reactions)
	}
	if _, err := m.React("bob", strings.Repeat("x", 17), t0); !errors.Is(err, ErrEmojiTooLong) {
		t.Fatalf("err = %v", err)
	}
}

func TestEdit(t *testing.T) {
	m := newText(t)
	if _, err := m.Edit("bob", Text{Text: "x"}, t0); !errors.Is(err, ErrNotSender) {
		t.Fatalf("non-sender err = %v", err)
	}
	if _, err := m.Edit("alice", Location{}, t0); !errors.Is(err, ErrEditKind) {
		t.Fatalf("kind change err = %v", err)
	}
	prev, err := m.Edit("alice", Text{Text: "hello"}, t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if prev.Content != (Text{Text: "hi"}) || !m.Edited() || m.Content != (Text{Text: "hello"}) {
		t.Fatalf("after edit %+v prev %+v", m, prev)
	}
	if err := m.Delete("alice", t0); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Edit("alice", Text{Text: "again"}, t0); !errors.Is(err, ErrDeleted) {
		t.Fatalf("edit deleted err = %v", err)
	}
	if err := m.Delete("alice", t0); !errors.Is(err, ErrDeleted) {
		t.Fatalf("double delete err = %v", err)
	}
}

func TestNewest(t *testing.T) {
	a := &Message{ID: "a", CreatedAt: t0}
	b := &Message{ID: "b", CreatedAt: t0.Add(time.Second)}
	if Newest([]*Message{a, b}) != b || Newest(nil) != nil {
		t.Fatal("Newest picked the wrong message")
	}
}
