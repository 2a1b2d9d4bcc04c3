package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"chatline/internal/app/middleware"
	appoutbox "chatline/internal/app/outbox"
	domainconversation "chatline/internal/domain/conversation"
	domainmessage "chatline/internal/domain/message"
	domainuser "chatline/internal/domain/user"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seedGroup(t *testing.T, repo *ConversationRepository, id domainconversation.ID, members ...domainuser.ID) {
	t.Helper()
	c, err := domainconversation.NewGroup(domainconversation.CreateGroupParams{ID: id, Name: "g", Creator: "owner", Participants: members, Now: t0})
	if err != nil {
		t.Fatal(err)
	}
	if err := repo.Create(context.Background(), c); err != nil {
		t.Fatal(err)
	}
}

func TestRecordMessageConcurrentIncrements(t *testing.T) {
	ctx := context.Background()
	repo := NewConversationRepository()
	seedGroup(t, repo, "c1", "a", "b")

	const senders = 50
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.RecordMessage(ctx, "c1", fmt.Sprintf("m%d", i), "a", t0.Add(time.Duration(i)*time.Millisecond))
			if err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	c, err := repo.ByID(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if got := c.UnreadFor("b"); got != senders {
		t.Fatalf("b unread = %d, want %d", got, senders)
	}
	if got := c.UnreadFor("owner"); got != senders {
		t.Fatalf("owner unread = %d, want %d", got, senders)
	}
	if got := c.UnreadFor("a"); got != 0 {
		t.Fatalf("sender unread = %d", got)
	}
	if c.LastMessageID != fmt.Sprintf("m%d", senders-1) {
		t.Fatalf("last message = %q", c.LastMessageID)
	}
}

func TestRecordMessageKeepsNewestLastMessage(t *testing.T) {
	ctx := context.Background()
	repo := NewConversationRepository()
	seedGroup(t, repo, "c1", "a")
	if _, err := repo.RecordMessage(ctx, "c1", "late", "a", t0.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	c, err := repo.RecordMessage(ctx, "c1", "early", "a", t0)
	if err != nil {
		t.Fatal(err)
	}
	if c.LastMessageID != "late" {
		t.Fatalf("last message = %q", c.LastMessageID)
	}
}

func TestDecrementUnreadNeverNegative(t *testing.T) {
	ctx := context.Background()
	repo := NewConversationRepository()
	seedGroup(t, repo, "c1", "a")
	for i := 0; i < 3; i++ {
		if err := repo.DecrementUnread(ctx, "c1", "a"); err != nil {
			t.Fatal(err)
		}
	}
	c, _ := repo.ByID(ctx, "c1")
	if c.UnreadFor("a") != 0 {
		t.Fatalf("unread = %d", c.UnreadFor("a"))
	}
	if err := repo.DecrementUnread(ctx, "c1", "stranger"); !errors.Is(err, domainconversation.ErrNotParticipant) {
		t.Fatalf("stranger err = %v", err)
	}
	if err := repo.ResetUnread(ctx, "missing", "a"); !errors.Is(err, domainconversation.ErrNotFound) {
		t.Fatalf("missing err = %v", err)
	}
}

func TestAdvanceReadMarkerIgnoresOlder(t *testing.T) {
	ctx := context.Background()
	repo := NewConversationRepository()
	seedGroup(t, repo, "c1", "a")
	if err := repo.AdvanceReadMarker(ctx, "c1", "a", "m2", t0.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	if err := repo.AdvanceReadMarker(ctx, "c1", "a", "m1", t0); err != nil {
		t.Fatal(err)
	}
	c, _ := repo.ByID(ctx, "c1")
	p, _ := c.Participant("a")
	if p.LastReadMessageID != "m2" {
		t.Fatalf("marker = %q", p.LastReadMessageID)
	}
}

func TestDirectPairIsUnique(t *testing.T) {
	ctx := context.Background()
	repo := NewConversationRepository()
	first, _ := domainconversation.NewDirect(domainconversation.CreateDirectParams{ID: "d1", Creator: "a", Participants: []domainuser.ID{"b"}})
	second, _ := domainconversation.NewDirect(domainconversation.CreateDirectParams{ID: "d2", Creator: "b", Participants: []domainuser.ID{"a"}})
	if err := repo.Create(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := repo.Create(ctx, second); !errors.Is(err, domainconversation.ErrDirectExists) {
		t.Fatalf("second direct err = %v", err)
	}
	found, err := repo.FindDirect(ctx, "b", "a")
	if err != nil || found.ID != "d1" {
		t.Fatalf("FindDirect = %v, %v", found, err)
	}
	if err := repo.SoftDelete(ctx, "d1", t0); err != nil {
		t.Fatal(err)
	}
	if err := repo.Create(ctx, second); err != nil {
		t.Fatalf("direct after delete: %v", err)
	}
}

func TestListForUserOrdersByActivity(t *testing.T) {
	ctx := context.Background()
	repo := NewConversationRepository()
	seedGroup(t, repo, "old", "a")
	seedGroup(t, repo, "new", "a")
	seedGroup(t, repo, "other", "b")
	if _, err := repo.RecordMessage(ctx, "old", "m1", "owner", t0.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	list, err := repo.ListForUser(ctx, "a", domainconversation.ListQuery{})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != "old" || list[1].ID != "new" {
		ids := make([]domainconversation.ID, 0, len(list))
		for _, c := range list {
			ids = append(ids, c.ID)
		}
		t.Fatalf("order = %v", ids)
	}
	page, _ := repo.ListForUser(ctx, "a", domainconversation.ListQuery{Before: t0.Add(time.Hour)})
	if len(page) != 1 || page[0].ID != "new" {
		t.Fatalf("page = %d items", len(page))
	}
}

func TestAddReadReceiptOncePerUser(t *testing.T) {
	ctx := context.Background()
	repo := NewMessageRepository()
	m, _ := domainmessage.NewMessage(domainmessage.CreateParams{ID: "m1", ConversationID: "c1", SenderID: "a", Content: domainmessage.Text{Text: "hi"}, Now: t0})
	if err := repo.Create(ctx, m); err != nil {
		t.Fatal(err)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		changed int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.AddReadReceipt(ctx, "m1", "b", t0)
			if err != nil {
				t.Error(err)
				return
			}
			if ok {
				mu.Lock()
				changed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if changed != 1 {
		t.Fatalf("changed = %d", changed)
	}
	got, _ := repo.ByID(ctx, "m1")
	if len(got.ReadBy) != 2 {
		t.Fatalf("receipts = %+v", got.ReadBy)
	}
	if _, err := repo.AddReadReceipt(ctx, "missing", "b", t0); !errors.Is(err, domainmessage.ErrNotFound) {
		t.Fatalf("missing err = %v", err)
	}
}

func TestUnreadAmongFiltersConversationAndReaders(t *testing.T) {
	ctx := context.Background()
	repo := NewMessageRepository()
	for _, spec := range []struct {
		id   domainmessage.ID
		conv domainconversation.ID
	}{{"m1", "c1"}, {"m2", "c1"}, {"m3", "c2"}} {
		m, _ := domainmessage.NewMessage(domainmessage.CreateParams{ID: spec.id, ConversationID: spec.conv, SenderID: "a", Content: domainmessage.Text{Text: "x"}, Now: t0})
		if err := repo.Create(ctx, m); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := repo.AddReadReceipt(ctx, "m2", "b", t0); err != nil {
		t.Fatal(err)
	}
	unread, err := repo.UnreadAmong(ctx, "c1", []domainmessage.ID{"m1", "m1", "m2", "m3", "nope"}, "b")
	if err != nil {
		t.Fatal(err)
	}
	if len(unread) != 1 || unread[0].ID != "m1" {
		t.Fatalf("unread = %d", len(unread))
	}
}

func TestListByConversationNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewMessageRepository()
	for i := 0; i < 5; i++ {
		m, _ := domainmessage.NewMessage(domainmessage.CreateParams{
			ID:             domainmessage.ID(fmt.Sprintf("m%d", i)),
			ConversationID: "c1",
			SenderID:       "a",
			Content:        domainmessage.Text{Text: "x"},
			Now:            t0.Add(time.Duration(i) * time.Second),
		})
		if err := repo.Create(ctx, m); err != nil {
			t.Fatal(err)
		}
	}
	page, err := repo.ListByConversation(ctx, "c1", domainmessage.ListQuery{Limit: 2, Before: t0.Add(4 * time.Second)})
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].ID != "m3" || page[1].ID != "m2" {
		t.Fatalf("page = %v, %v", page[0].ID, page[1].ID)
	}
}

func TestOutboxFlushClaimRetry(t *testing.T) {
	ctx := context.Background()
	box := NewOutbox()
	now := t0
	box.now = func() time.Time { return now }

	if err := box.Add(ctx, appoutbox.EventRecord{ID: "e1", Name: "message.sent"}); err != nil {
		t.Fatal(err)
	}
	if claimed, _ := box.Claim(ctx, "w1"); claimed != nil {
		t.Fatal("record visible before flush")
	}
	if err := box.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	claimed, err := box.Claim(ctx, "w1")
	if err != nil || claimed == nil || claimed.ID != "e1" {
		t.Fatalf("Claim = %v, %v", claimed, err)
	}
	if again, _ := box.Claim(ctx, "w2"); again != nil {
		t.Fatal("record claimed twice")
	}
	if err := box.MarkFailed(ctx, "e1", now.Add(time.Minute), "broker down"); err != nil {
		t.Fatal(err)
	}
	if early, _ := box.Claim(ctx, "w1"); early != nil {
		t.Fatal("record claimed before retry time")
	}
	now = now.Add(2 * time.Minute)
	retry, _ := box.Claim(ctx, "w1")
	if retry == nil || retry.Attempts != 1 {
		t.Fatalf("retry = %+v", retry)
	}
	if err := box.MarkSent(ctx, "e1"); err != nil {
		t.Fatal(err)
	}
	if box.Len() != 0 {
		t.Fatalf("len = %d", box.Len())
	}
}

func TestIdempotencyStoreExpires(t *testing.T) {
	ctx := context.Background()
	store := NewIdempotencyStore()
	now := t0
	store.now = func() time.Time { return now }
	if err := store.Save(ctx, middleware.IdempotencyRecord{Key: "k", Payload: []byte(`{}`), ExpiresAt: t0.Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := store.Get(ctx, "k"); !ok {
		t.Fatal("record missing before expiry")
	}
	now = t0.Add(2 * time.Hour)
	if _, ok, _ := store.Get(ctx, "k"); ok {
		t.Fatal("expired record returned")
	}
}

func TestUserRepositoryEmailAndPresence(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository()
	alice := &domainuser.User{ID: "u1", Email: "Alice@Example.com", Name: "Alice"}
	if err := repo.Save(ctx, alice); err != nil {
		t.Fatal(err)
	}
	if err := repo.Save(ctx, &domainuser.User{ID: "u2", Email: "alice@example.com", Name: "Imposter"}); !errors.Is(err, domainuser.ErrEmailAlreadyUsed) {
		t.Fatalf("duplicate email err = %v", err)
	}
	got, err := repo.ByEmail(ctx, "  ALICE@example.com ")
	if err != nil || got.ID != "u1" {
		t.Fatalf("ByEmail = %v, %v", got, err)
	}

	if err := repo.SetStatus(ctx, "u1", domainuser.StatusOnline, t0); err != nil {
		t.Fatal(err)
	}
	online, _ := repo.Online(ctx)
	if len(online) != 1 || online[0].UserID != "u1" {
		t.Fatalf("online = %+v", online)
	}
	if err := repo.SetStatus(ctx, "u1", domainuser.StatusOffline, t0.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	online, _ = repo.Online(ctx)
	if len(online) != 0 {
		t.Fatalf("online after offline = %+v", online)
	}
	if err := repo.SetStatus(ctx, "ghost", domainuser.StatusOnline, t0); !errors.Is(err, domainuser.ErrNotFound) {
		t.Fatalf("ghost err = %v", err)
	}
}
