package conversation

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"chatline/internal/domain/shared/errkind"
	"chatline/internal/domain/shared/events"
	"chatline/internal/domain/user"
)

var (
	ErrNotFound           = errkind.New(errkind.ErrNotFound, "conversation: not found")
	ErrInvalidType        = errkind.New(errkind.ErrValidation, "conversation: invalid type")
	ErrDirectParticipants = errkind.New(errkind.ErrValidation, "conversation: direct conversation requires exactly one other participant")
	ErrSelfConversation   = errkind.New(errkind.ErrValidation, "conversation: cannot start a conversation with yourself")
	ErrNameRequired       = errkind.New(errkind.ErrValidation, "conversation: name is required")
	ErrNameTooLong        = errkind.New(errkind.ErrValidation, "conversation: name must be at most 100 characters")
	ErrDirectImmutable    = errkind.New(errkind.ErrValidation, "conversation: participants of a direct conversation cannot change")
	ErrNoParticipants     = errkind.New(errkind.ErrValidation, "conversation: participants are required")
	ErrInvalidSettings    = errkind.New(errkind.ErrValidation, "conversation: invalid settings")
	ErrNotParticipant     = errkind.New(errkind.ErrForbidden, "conversation: not a participant")
	ErrOwnerProtected     = errkind.New(errkind.ErrForbidden, "conversation: owner cannot be removed or leave")
	ErrAdminRequired      = errkind.New(errkind.ErrForbidden, "conversation: admin privileges required")
	ErrOwnerRequired      = errkind.New(errkind.ErrForbidden, "conversation: owner privileges required")
	ErrPostingRestricted  = errkind.New(errkind.ErrForbidden, "conversation: only admins can post")
	ErrDeleted            = errkind.New(errkind.ErrNotFound, "conversation: deleted")
	ErrDirectExists       = errkind.New(errkind.ErrConflict, "conversation: direct conversation already exists")
)

const maxNameRunes = 100

type ID string

type Type string

const (
	TypeDirect    Type = "direct"
	TypeGroup     Type = "group"
	TypeChannel   Type = "channel"
	TypeBroadcast Type = "broadcast"
)

func ParseType(raw string) (Type, error) {
	switch Type(strings.ToLower(strings.TrimSpace(raw))) {
	case TypeDirect:
		return TypeDirect, nil
	case TypeGroup, "":
		return TypeGroup, nil
	case TypeChannel:
		return TypeChannel, nil
	case TypeBroadcast:
		return TypeBroadcast, nil
	default:
		return "", ErrInvalidType
	}
}

type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

type InvitePolicy string

const (
	InviteAnyone InvitePolicy = "anyone"
	InviteAdmins InvitePolicy = "admins"
)

// AntiSpam limits how often a non-admin participant may post.
type AntiSpam struct {
	SlowModeSeconds int
}

type Settings struct {
	InvitePolicy      InvitePolicy
	OnlyAdminsCanPost bool
	AntiSpam          AntiSpam
}

// DefaultSettings returns the settings a freshly created conversation of type t gets.
func DefaultSettings(t Type) Settings {
	switch t {
	case TypeChannel, TypeBroadcast:
		return Settings{InvitePolicy: InviteAdmins, OnlyAdminsCanPost: true}
	default:
		return Settings{InvitePolicy: InviteAnyone}
	}
}

func (s Settings) validate() error {
	switch s.InvitePolicy {
	case InviteAnyone, InviteAdmins:
	default:
		return ErrInvalidSettings
	}
	if s.AntiSpam.SlowModeSeconds < 0 || s.AntiSpam.SlowModeSeconds > 3600 {
		return ErrInvalidSettings
	}
	return nil
}

// Participant is one member of a conversation together with their read state.
type Participant struct {
	UserID            user.ID
	Role              Role
	JoinedAt          time.Time
	LastReadMessageID string
	LastReadAt        time.Time
	UnreadCount       int
}

// Conversation is the aggregate behind every chat thread. LastMessageID is a
// plain identifier resolved through the message repository, never an owning reference.
type Conversation struct {
	ID            ID
	Type          Type
	Name          string
	Description   string
	Participants  []Participant
	Admins        []user.ID
	Settings      Settings
	CreatedBy     user.ID
	LastMessageID string
	LastMessageAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Deleted       bool
	DeletedAt     time.Time
	events.EventRecorder
}

// ListQuery pages live conversations by ActivityAt, newest first.
type ListQuery struct {
	Limit  int
	Before time.Time
}

// Repository persists conversations. Counter and membership mutations are
// single-document atomic updates so concurrent writers never lose increments.
type Repository interface {
	// Create stores a new conversation. A second live direct conversation for
	// the same pair fails with ErrDirectExists.
	Create(ctx context.Context, c *Conversation) error
	ByID(ctx context.Context, id ID) (*Conversation, error)
	FindDirect(ctx context.Context, a, b user.ID) (*Conversation, error)
	ListForUser(ctx context.Context, userID user.ID, q ListQuery) ([]*Conversation, error)
	AddParticipants(ctx context.Context, id ID, participants []Participant, at time.Time) (*Conversation, error)
	RemoveParticipant(ctx context.Context, id ID, userID user.ID, at time.Time) (*Conversation, error)
	SaveDetails(ctx context.Context, c *Conversation) error
	SoftDelete(ctx context.Context, id ID, at time.Time) error

	// RecordMessage sets the last message and increments the unread counter of
	// every participant except sender by one.
	RecordMessage(ctx context.Context, id ID, messageID string, sender user.ID, at time.Time) (*Conversation, error)
	// DecrementUnread lowers one participant's counter by one, never below zero.
	DecrementUnread(ctx context.Context, id ID, userID user.ID) error
	// ResetUnread sets one participant's counter to zero.
	ResetUnread(ctx context.Context, id ID, userID user.ID) error
	// AdvanceReadMarker moves the participant's watermark forward; older markers are ignored.
	AdvanceReadMarker(ctx context.Context, id ID, userID user.ID, messageID string, at time.Time) error
}

type CreateDirectParams struct {
	ID           ID
	Creator      user.ID
	Participants []user.ID
	Now          time.Time
}

// NewDirect builds a two-party conversation. Participants must name exactly one peer.
func NewDirect(params CreateDirectParams) (*Conversation, error) {
	creator := user.ID(strings.TrimSpace(string(params.Creator)))
	if creator == "" {
		return nil, ErrNoParticipants
	}
	peers := normalizeIDs(params.Participants, "")
	if len(peers) != 1 {
		return nil, ErrDirectParticipants
	}
	if peers[0] == creator {
		return nil, ErrSelfConversation
	}
	now := normalizeNow(params.Now)
	c := &Conversation{
		ID:   params.ID,
		Type: TypeDirect,
		Participants: []Participant{
			{UserID: creator, Role: RoleMember, JoinedAt: now},
			{UserID: peers[0], Role: RoleMember, JoinedAt: now},
		},
		Settings:  DefaultSettings(TypeDirect),
		CreatedBy: creator,
		CreatedAt: now,
		UpdatedAt: now,
	}
	c.Record(Created{ConversationID: c.ID, Type: c.Type, CreatedBy: creator, Participants: c.ParticipantIDs(), At: now})
	return c, nil
}

type CreateGroupParams struct {
	ID           ID
	Type         Type
	Name         string
	Description  string
	Creator      user.ID
	Participants []user.ID
	Settings     *Settings
	Now          time.Time
}

// NewGroup builds a group, channel or broadcast conversation owned by its creator.
func NewGroup(params CreateGroupParams) (*Conversation, error) {
	t := params.Type
	if t == "" {
		t = TypeGroup
	}
	if t == TypeDirect {
		return nil, ErrInvalidType
	}
	if _, err := ParseType(string(t)); err != nil {
		return nil, err
	}
	name, err := normalizeName(params.Name)
	if err != nil {
		return nil, err
	}
	creator := user.ID(strings.TrimSpace(string(params.Creator)))
	if creator == "" {
		return nil, ErrNoParticipants
	}
	settings := DefaultSettings(t)
	if params.Settings != nil {
		settings = *params.Settings
	}
	if err := settings.validate(); err != nil {
		return nil, err
	}
	now := normalizeNow(params.Now)
	participants := []Participant{{UserID: creator, Role: RoleOwner, JoinedAt: now}}
	for _, id := range normalizeIDs(params.Participants, creator) {
		participants = append(participants, Participant{UserID: id, Role: RoleMember, JoinedAt: now})
	}
	c := &Conversation{
		ID:           params.ID,
		Type:         t,
		Name:         name,
		Description:  strings.TrimSpace(params.Description),
		Participants: participants,
		Admins:       []user.ID{creator},
		Settings:     settings,
		CreatedBy:    creator,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	c.Record(Created{ConversationID: c.ID, Type: c.Type, CreatedBy: creator, Participants: c.ParticipantIDs(), At: now})
	return c, nil
}

func (c *Conversation) Participant(id user.ID) (Participant, bool) {
	for _, p := range c.Participants {
		if p.UserID == id {
			return p, true
		}
	}
	return Participant{}, false
}

func (c *Conversation) IsParticipant(id user.ID) bool {
	_, ok := c.Participant(id)
	return ok
}

// IsAdmin reports whether id is the owner or listed among the admins.
func (c *Conversation) IsAdmin(id user.ID) bool {
	p, ok := c.Participant(id)
	if !ok {
		return false
	}
	if p.Role == RoleOwner || p.Role == RoleAdmin {
		return true
	}
	for _, admin := range c.Admins {
		if admin == id {
			return true
		}
	}
	return false
}

func (c *Conversation) Owner() (user.ID, bool) {
	for _, p := range c.Participants {
		if p.Role == RoleOwner {
			return p.UserID, true
		}
	}
	return "", false
}

func (c *Conversation) ParticipantIDs() []user.ID {
	out := make([]user.ID, 0, len(c.Participants))
	for _, p := range c.Participants {
		out = append(out, p.UserID)
	}
	return out
}

// ActivityAt is the sort key of conversation lists: the last message time, or
// the creation time for a conversation without messages.
func (c *Conversation) ActivityAt() time.Time {
	if c.LastMessageAt.After(c.CreatedAt) {
		return c.LastMessageAt
	}
	return c.CreatedAt
}

// UnreadFor returns the unread counter of a participant, zero for strangers.
func (c *Conversation) UnreadFor(id user.ID) int {
	p, _ := c.Participant(id)
	return p.UnreadCount
}

// Authorize fails unless actor is a participant of a live conversation.
func (c *Conversation) Authorize(actor user.ID) error {
	if c.Deleted {
		return ErrDeleted
	}
	if !c.IsParticipant(actor) {
		return ErrNotParticipant
	}
	return nil
}

// CanPost enforces membership and posting restrictions for a sender.
func (c *Conversation) CanPost(sender user.ID) error {
	if err := c.Authorize(sender); err != nil {
		return err
	}
	if c.Settings.OnlyAdminsCanPost && !c.IsAdmin(sender) {
		return ErrPostingRestricted
	}
	return nil
}

// SlowModeApplies reports the slow mode window for sender, zero when exempt.
func (c *Conversation) SlowModeApplies(sender user.ID) time.Duration {
	if c.Settings.AntiSpam.SlowModeSeconds <= 0 || c.IsAdmin(sender) {
		return 0
	}
	return time.Duration(c.Settings.AntiSpam.SlowModeSeconds) * time.Second
}

// CanModerate reports whether actor may delete messages written by others.
func (c *Conversation) CanModerate(actor user.ID) bool {
	return c.Type != TypeDirect && c.IsAdmin(actor)
}

// AddParticipants admits new members and returns the entries actually added.
func (c *Conversation) AddParticipants(actor user.ID, ids []user.ID, now time.Time) ([]Participant, error) {
	if err := c.Authorize(actor); err != nil {
		return nil, err
	}
	if c.Type == TypeDirect {
		return nil, ErrDirectImmutable
	}
	if c.Settings.InvitePolicy == InviteAdmins && !c.IsAdmin(actor) {
		return nil, ErrAdminRequired
	}
	candidates := normalizeIDs(ids, "")
	if len(candidates) == 0 {
		return nil, ErrNoParticipants
	}
	now = normalizeNow(now)
	added := make([]Participant, 0, len(candidates))
	for _, id := range candidates {
		if c.IsParticipant(id) {
			continue
		}
		p := Participant{UserID: id, Role: RoleMember, JoinedAt: now}
		c.Participants = append(c.Participants, p)
		added = append(added, p)
	}
	if len(added) > 0 {
		c.UpdatedAt = now
		ids := make([]user.ID, 0, len(added))
		for _, p := range added {
			ids = append(ids, p.UserID)
		}
		c.Record(ParticipantsChanged{ConversationID: c.ID, Actor: actor, Added: ids, At: now})
	}
	return added, nil
}

// RemoveParticipant removes target on behalf of an admin. The owner is protected
// and only the owner may remove another admin.
func (c *Conversation) RemoveParticipant(actor, target user.ID, now time.Time) error {
	if err := c.Authorize(actor); err != nil {
		return err
	}
	if c.Type == TypeDirect {
		return ErrDirectImmutable
	}
	p, ok := c.Participant(target)
	if !ok {
		return ErrNotParticipant
	}
	if p.Role == RoleOwner {
		return ErrOwnerProtected
	}
	if !c.IsAdmin(actor) {
		return ErrAdminRequired
	}
	if c.IsAdmin(target) {
		if owner, _ := c.Owner(); owner != actor {
			return ErrOwnerRequired
		}
	}
	c.drop(target, normalizeNow(now))
	c.Record(ParticipantsChanged{ConversationID: c.ID, Actor: actor, Removed: []user.ID{target}, At: c.UpdatedAt})
	return nil
}

// Leave removes actor from the conversation. The owner cannot leave.
func (c *Conversation) Leave(actor user.ID, now time.Time) error {
	if err := c.Authorize(actor); err != nil {
		return err
	}
	if c.Type == TypeDirect {
		return ErrDirectImmutable
	}
	p, _ := c.Participant(actor)
	if p.Role == RoleOwner {
		return ErrOwnerProtected
	}
	c.drop(actor, normalizeNow(now))
	c.Record(ParticipantsChanged{ConversationID: c.ID, Actor: actor, Removed: []user.ID{actor}, At: c.UpdatedAt})
	return nil
}

// Patch carries optional detail changes; nil fields are left untouched.
type Patch struct {
	Name        *string
	Description *string
	Settings    *Settings
}

func (c *Conversation) Update(actor user.ID, patch Patch, now time.Time) error {
	if err := c.Authorize(actor); err != nil {
		return err
	}
	if !c.IsAdmin(actor) {
		return ErrAdminRequired
	}
	if patch.Name != nil {
		name, err := normalizeName(*patch.Name)
		if err != nil {
			return err
		}
		c.Name = name
	}
	if patch.Description != nil {
		c.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.Settings != nil {
		if err := patch.Settings.validate(); err != nil {
			return err
		}
		c.Settings = *patch.Settings
	}
	c.UpdatedAt = normalizeNow(now)
	c.Record(Updated{ConversationID: c.ID, Actor: actor, At: c.UpdatedAt})
	return nil
}

// Delete soft-deletes the conversation. Direct conversations may be deleted by
// either participant, others only by the owner.
func (c *Conversation) Delete(actor user.ID, now time.Time) error {
	if err := c.Authorize(actor); err != nil {
		return err
	}
	if c.Type != TypeDirect {
		if owner, _ := c.Owner(); owner != actor {
			return ErrOwnerRequired
		}
	}
	now = normalizeNow(now)
	c.Deleted = true
	c.DeletedAt = now
	c.UpdatedAt = now
	c.Record(Deleted{ConversationID: c.ID, Actor: actor, At: now})
	return nil
}

func (c *Conversation) drop(id user.ID, now time.Time) {
	kept := c.Participants[:0]
	for _, p := range c.Participants {
		if p.UserID != id {
			kept = append(kept, p)
		}
	}
	c.Participants = kept
	admins := c.Admins[:0]
	for _, a := range c.Admins {
		if a != id {
			admins = append(admins, a)
		}
	}
	c.Admins = admins
	c.UpdatedAt = now
}

// DirectKey is the order-independent identity of a direct conversation pair.
func DirectKey(a, b user.ID) string {
	pair := []string{string(a), string(b)}
	sort.Strings(pair)
	return pair[0] + ":" + pair[1]
}

func normalizeName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", ErrNameRequired
	}
	if utf8.RuneCountInString(name) > maxNameRunes {
		return "", ErrNameTooLong
	}
	return name, nil
}

func normalizeIDs(ids []user.ID, exclude user.ID) []user.ID {
	seen := make(map[user.ID]struct{}, len(ids))
	out := make([]user.ID, 0, len(ids))
	for _, raw := range ids {
		id := user.ID(strings.TrimSpace(string(raw)))
		if id == "" || id == exclude {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func normalizeNow(now time.Time) time.Time {
	if now.IsZero() {
		now = time.Now()
	}
	return now.UTC()
}
