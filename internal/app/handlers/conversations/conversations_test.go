package conversations

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"chatline/internal/app/handlers/support"
	domainconversation "chatline/internal/domain/conversation"
	"chatline/internal/domain/shared/errkind"
	domainuser "chatline/internal/domain/user"
	"chatline/internal/infra/storage/memory"
)

func newStore(t *testing.T, users ...domainuser.ID) Store {
	t.Helper()
	repo := memory.NewUserRepository()
	for _, id := range users {
		u := &domainuser.User{ID: id, Email: string(id) + "@chatline.local", Name: string(id)}
		if err := repo.Save(context.Background(), u); err != nil {
			t.Fatal(err)
		}
	}
	n := 0
	return Store{
		Conversations: memory.NewConversationRepository(),
		Users:         repo,
		NewID: func() string {
			n++
			return fmt.Sprintf("conv-%d", n)
		},
	}
}

func TestCreateDirectReturnsExisting(t *testing.T) {
	store := newStore(t, "alice", "bob")
	h := &CreateDirectHandler{Store: store}
	ctx := context.Background()

	first, err := h.Handle(ctx, CreateDirectCommand{ActorIDV: "alice", Participants: []string{"bob"}})
	if err != nil {
		t.Fatal(err)
	}
	if !first.Created {
		t.Fatal("first call should create")
	}
	second, err := h.Handle(ctx, CreateDirectCommand{ActorIDV: "bob", Participants: []string{"alice"}})
	if err != nil {
		t.Fatal(err)
	}
	if second.Created || second.Conversation.ID != first.Conversation.ID {
		t.Fatalf("second = %+v", second)
	}
}

func TestCreateDirectValidation(t *testing.T) {
	store := newStore(t, "alice", "bob")
	h := &CreateDirectHandler{Store: store}
	ctx := context.Background()

	if _, err := h.Handle(ctx, CreateDirectCommand{ActorIDV: "alice", Participants: []string{"bob", "carol"}}); !errors.Is(err, domainconversation.ErrDirectParticipants) {
		t.Fatalf("two peers err = %v", err)
	}
	if _, err := h.Handle(ctx, CreateDirectCommand{ActorIDV: "alice", Participants: []string{"ghost"}}); !errors.Is(err, domainuser.ErrNotFound) {
		t.Fatalf("unknown peer err = %v", err)
	}
}

func TestCreateGroupAndMembership(t *testing.T) {
	store := newStore(t, "owner", "m1", "m2", "m3")
	ctx := context.Background()
	pub := &countingPublisher{}
	env := support.Env{Publisher: pub}

	created, err := (&CreateGroupHandler{Store: store, Env: env}).Handle(ctx, CreateGroupCommand{
		ActorIDV:     "owner",
		Name:         "Team",
		Participants: []string{"m1", "m2"},
	})
	if err != nil {
		t.Fatal(err)
	}
	conv := created.Conversation
	if conv.Type != "group" || len(conv.Participants) != 3 {
		t.Fatalf("created = %+v", conv)
	}
	if pub.users != 3 {
		t.Fatalf("conversation:updated deliveries = %d", pub.users)
	}

	members := &MembershipHandler{Store: store, Env: env}
	added, err := members.Add(ctx, AddParticipantsCommand{ActorIDV: "m1", ConversationID: conv.ID, UserIDs: []string{"m3", "m1"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(added.Participants) != 4 {
		t.Fatalf("participants after add = %d", len(added.Participants))
	}

	if _, err := members.Remove(ctx, RemoveParticipantCommand{ActorIDV: "m1", ConversationID: conv.ID, UserID: "m2"}); !errors.Is(err, domainconversation.ErrAdminRequired) {
		t.Fatalf("member removal err = %v", err)
	}
	if _, err := members.Remove(ctx, RemoveParticipantCommand{ActorIDV: "m1", ConversationID: conv.ID, UserID: "owner"}); !errors.Is(err, domainconversation.ErrOwnerProtected) {
		t.Fatalf("owner removal err = %v", err)
	}
	removed, err := members.Remove(ctx, RemoveParticipantCommand{ActorIDV: "owner", ConversationID: conv.ID, UserID: "m2"})
	if err != nil {
		t.Fatal(err)
	}
	if len(removed.Participants) != 3 {
		t.Fatalf("participants after removal = %d", len(removed.Participants))
	}
	if _, err := members.Leave(ctx, LeaveCommand{ActorIDV: "owner", ConversationID: conv.ID}); !errors.Is(err, domainconversation.ErrOwnerProtected) {
		t.Fatalf("owner leave err = %v", err)
	}
	if _, err := members.Leave(ctx, LeaveCommand{ActorIDV: "m3", ConversationID: conv.ID}); err != nil {
		t.Fatal(err)
	}

	queries := &QueryHandler{Conversations: store.Conversations}
	if _, err := queries.Get(ctx, GetQuery{ActorIDV: "m3", ConversationID: conv.ID}); !errors.Is(err, errkind.ErrForbidden) {
		t.Fatalf("get after leave err = %v", err)
	}
	list, err := queries.List(ctx, ListQuery{ActorIDV: "m1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(list.Items) != 1 || list.Items[0].ID != conv.ID {
		t.Fatalf("list = %+v", list.Items)
	}
}

func TestManageUpdateAndDelete(t *testing.T) {
	store := newStore(t, "owner", "m1")
	ctx := context.Background()
	created, err := (&CreateGroupHandler{Store: store}).Handle(ctx, CreateGroupCommand{ActorIDV: "owner", Name: "Team", Participants: []string{"m1"}})
	if err != nil {
		t.Fatal(err)
	}
	id := created.Conversation.ID
	h := &ManageHandler{Store: store}

	name := "Renamed"
	if _, err := h.Update(ctx, UpdateCommand{ActorIDV: "m1", ConversationID: id, Name: &name}); !errors.Is(err, domainconversation.ErrAdminRequired) {
		t.Fatalf("member update err = %v", err)
	}
	updated, err := h.Update(ctx, UpdateCommand{ActorIDV: "owner", ConversationID: id, Name: &name})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Name != "Renamed" {
		t.Fatalf("name = %q", updated.Name)
	}
	if _, err := h.Delete(ctx, DeleteCommand{ActorIDV: "m1", ConversationID: id}); !errors.Is(err, domainconversation.ErrOwnerRequired) {
		t.Fatalf("member delete err = %v", err)
	}
	if _, err := h.Delete(ctx, DeleteCommand{ActorIDV: "owner", ConversationID: id}); err != nil {
		t.Fatal(err)
	}
	list, _ := (&QueryHandler{Conversations: store.Conversations}).List(ctx, ListQuery{ActorIDV: "m1"})
	if len(list.Items) != 0 {
		t.Fatalf("deleted conversation still listed: %+v", list.Items)
	}
}

type countingPublisher struct {
	users int
	rooms int
}

func (p *countingPublisher) PublishToUsers(_ context.Context, ids []string, _ string, _ any) error {
	p.users += len(ids)
	return nil
}

func (p *countingPublisher) PublishToRoom(context.Context, string, string, any) error {
	p.rooms++
	return nil
}
