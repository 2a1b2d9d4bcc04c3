package scylla

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/gocql/gocql"

	domainconversation "chatline/internal/domain/conversation"
	domainmessage "chatline/internal/domain/message"
	domainuser "chatline/internal/domain/user"
)

// MessageRepository keeps message history in Scylla. Conversations and users
// stay in the primary store; only messages and their receipts live here.
type MessageRepository struct {
	session *Session
}

func NewMessageRepository(session *Session) *MessageRepository {
	return &MessageRepository{session: session}
}

// rowKey addresses one row of the messages table.
type rowKey struct {
	messageID      string
	conversationID string
	createdAt      time.Time
}

const messageColumns = `message_id, created_at, sender_id, content_kind, content, updated_at, deleted, deleted_by, deleted_at`

func (r *MessageRepository) Create(ctx context.Context, m *domainmessage.Message) error {
	raw, err := json.Marshal(m.Content)
	if err != nil {
		return err
	}
	createdAt := storedTime(m.CreatedAt)
	b := r.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	b.Query(`INSERT INTO messages (conversation_id, `+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(m.ConversationID), string(m.ID), createdAt, string(m.SenderID), string(m.Content.Kind()), raw,
		storedTime(m.UpdatedAt), m.Deleted, string(m.DeletedBy), storedTime(m.DeletedAt))
	b.Query(`INSERT INTO messages_by_id (message_id, conversation_id, created_at) VALUES (?, ?, ?)`,
		string(m.ID), string(m.ConversationID), createdAt)
	if err := r.session.ExecuteBatch(b); err != nil {
		return err
	}
	for _, rr := range m.ReadBy {
		if _, err := r.insertReceipt(ctx, m.ID, rr.UserID, rr.ReadAt); err != nil {
			return err
		}
	}
	return nil
}

func (r *MessageRepository) ByID(ctx context.Context, id domainmessage.ID) (*domainmessage.Message, error) {
	key, err := r.locate(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.load(ctx, key)
}

func (r *MessageRepository) ListByConversation(ctx context.Context, conversationID domainconversation.ID, q domainmessage.ListQuery) ([]*domainmessage.Message, error) {
	stmt := `SELECT ` + messageColumns + ` FROM messages WHERE conversation_id = ?`
	args := []any{string(conversationID)}
	if !q.Before.IsZero() {
		stmt += ` AND created_at < ?`
		args = append(args, q.Before.UTC())
	}
	if q.Limit > 0 {
		stmt += ` LIMIT ?`
		args = append(args, q.Limit)
	}
	iter := r.session.Query(stmt, args...).WithContext(ctx).Iter()
	out := make([]*domainmessage.Message, 0)
	for {
		m, ok := scanMessage(iter, conversationID)
		if !ok {
			break
		}
		out = append(out, m)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	if err := r.hydrate(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// AddReadReceipt inserts the receipt row with a lightweight transaction, so
// only the first of any number of concurrent readers reports a change.
func (r *MessageRepository) AddReadReceipt(ctx context.Context, id domainmessage.ID, userID domainuser.ID, at time.Time) (bool, error) {
	if _, err := r.locate(ctx, id); err != nil {
		return false, err
	}
	return r.insertReceipt(ctx, id, userID, at)
}

func (r *MessageRepository) insertReceipt(ctx context.Context, id domainmessage.ID, userID domainuser.ID, at time.Time) (bool, error) {
	return r.session.Query(`INSERT INTO message_receipts (message_id, user_id, read_at) VALUES (?, ?, ?) IF NOT EXISTS`,
		string(id), string(userID), storedTime(at)).
		WithContext(ctx).
		MapScanCAS(map[string]interface{}{})
}

func (r *MessageRepository) UnreadAmong(ctx context.Context, conversationID domainconversation.ID, ids []domainmessage.ID, userID domainuser.ID) ([]*domainmessage.Message, error) {
	raw := dedupe(ids)
	if len(raw) == 0 {
		return nil, nil
	}
	keys := make(map[string]rowKey, len(raw))
	iter := r.session.Query(`SELECT message_id, conversation_id, created_at FROM messages_by_id WHERE message_id IN ?`, raw).
		WithContext(ctx).Iter()
	var key rowKey
	for iter.Scan(&key.messageID, &key.conversationID, &key.createdAt) {
		if key.conversationID == string(conversationID) {
			keys[key.messageID] = key
		}
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}

	candidates := make([]string, 0, len(keys))
	for _, id := range raw {
		if _, ok := keys[id]; ok {
			candidates = append(candidates, id)
		}
	}
	read := make(map[string]struct{})
	iter = r.session.Query(`SELECT message_id FROM message_receipts WHERE message_id IN ? AND user_id = ?`, candidates, string(userID)).
		WithContext(ctx).Iter()
	var readID string
	for iter.Scan(&readID) {
		read[readID] = struct{}{}
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}

	out := make([]*domainmessage.Message, 0, len(candidates))
	for _, id := range candidates {
		if _, done := read[id]; done {
			continue
		}
		m, err := r.loadRow(ctx, keys[id])
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := r.hydrate(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// SetReaction keeps one reaction row per user. An empty emoji removes it.
func (r *MessageRepository) SetReaction(ctx context.Context, id domainmessage.ID, reaction domainmessage.Reaction) (*domainmessage.Message, error) {
	key, err := r.locate(ctx, id)
	if err != nil {
		return nil, err
	}
	var q *gocql.Query
	if reaction.Emoji == "" {
		q = r.session.Query(`DELETE FROM message_reactions WHERE message_id = ? AND user_id = ?`, string(id), string(reaction.UserID))
	} else {
		q = r.session.Query(`INSERT INTO message_reactions (message_id, user_id, emoji, reacted_at) VALUES (?, ?, ?, ?)`,
			string(id), string(reaction.UserID), reaction.Emoji, storedTime(reaction.ReactedAt))
	}
	if err := q.WithContext(ctx).Exec(); err != nil {
		return nil, err
	}
	return r.load(ctx, key)
}

// ReplaceContent swaps the body only while the message is not deleted and
// appends the previous body to the revision table.
func (r *MessageRepository) ReplaceContent(ctx context.Context, id domainmessage.ID, previous domainmessage.Revision, next domainmessage.Content, at time.Time) (*domainmessage.Message, error) {
	key, err := r.locate(ctx, id)
	if err != nil {
		return nil, err
	}
	prevRaw, err := json.Marshal(previous.Content)
	if err != nil {
		return nil, err
	}
	nextRaw, err := json.Marshal(next)
	if err != nil {
		return nil, err
	}
	applied, err := r.session.Query(`UPDATE messages SET content_kind = ?, content = ?, updated_at = ? WHERE conversation_id = ? AND created_at = ? AND message_id = ? IF deleted = false`,
		string(next.Kind()), nextRaw, storedTime(at), key.conversationID, key.createdAt, key.messageID).
		WithContext(ctx).
		MapScanCAS(map[string]interface{}{})
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, domainmessage.ErrNotFound
	}
	if err := r.session.Query(`INSERT INTO message_revisions (message_id, edited_at, content_kind, content) VALUES (?, ?, ?, ?)`,
		key.messageID, storedTime(previous.EditedAt), string(previous.Content.Kind()), prevRaw).
		WithContext(ctx).Exec(); err != nil {
		return nil, err
	}
	return r.load(ctx, key)
}

func (r *MessageRepository) SoftDelete(ctx context.Context, id domainmessage.ID, by domainuser.ID, at time.Time) (*domainmessage.Message, error) {
	key, err := r.locate(ctx, id)
	if err != nil {
		return nil, err
	}
	stamp := storedTime(at)
	applied, err := r.session.Query(`UPDATE messages SET deleted = true, deleted_by = ?, deleted_at = ?, updated_at = ? WHERE conversation_id = ? AND created_at = ? AND message_id = ? IF EXISTS`,
		string(by), stamp, stamp, key.conversationID, key.createdAt, key.messageID).
		WithContext(ctx).
		MapScanCAS(map[string]interface{}{})
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, domainmessage.ErrNotFound
	}
	return r.load(ctx, key)
}

func (r *MessageRepository) locate(ctx context.Context, id domainmessage.ID) (rowKey, error) {
	key := rowKey{messageID: string(id)}
	err := r.session.Query(`SELECT conversation_id, created_at FROM messages_by_id WHERE message_id = ?`, string(id)).
		WithContext(ctx).
		Scan(&key.conversationID, &key.createdAt)
	if errors.Is(err, gocql.ErrNotFound) {
		return rowKey{}, domainmessage.ErrNotFound
	}
	return key, err
}

func (r *MessageRepository) load(ctx context.Context, key rowKey) (*domainmessage.Message, error) {
	m, err := r.loadRow(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := r.hydrate(ctx, []*domainmessage.Message{m}); err != nil {
		return nil, err
	}
	return m, nil
}

func (r *MessageRepository) loadRow(ctx context.Context, key rowKey) (*domainmessage.Message, error) {
	iter := r.session.Query(`SELECT `+messageColumns+` FROM messages WHERE conversation_id = ? AND created_at = ? AND message_id = ?`,
		key.conversationID, key.createdAt, key.messageID).
		WithContext(ctx).Iter()
	m, ok := scanMessage(iter, domainconversation.ID(key.conversationID))
	if err := iter.Close(); err != nil {
		return nil, err
	}
	if !ok {
		return nil, domainmessage.ErrNotFound
	}
	return m, nil
}

// hydrate attaches receipts, reactions and revisions with one query per side
// table for the whole page.
func (r *MessageRepository) hydrate(ctx context.Context, msgs []*domainmessage.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	byID := make(map[string]*domainmessage.Message, len(msgs))
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		byID[string(m.ID)] = m
		ids = append(ids, string(m.ID))
	}

	var (
		messageID string
		userID    string
		at        time.Time
		emoji     string
		kind      string
		raw       []byte
	)
	iter := r.session.Query(`SELECT message_id, user_id, read_at FROM message_receipts WHERE message_id IN ?`, ids).WithContext(ctx).Iter()
	for iter.Scan(&messageID, &userID, &at) {
		if m, ok := byID[messageID]; ok {
			m.ReadBy = append(m.ReadBy, domainmessage.ReadReceipt{UserID: domainuser.ID(userID), ReadAt: at})
		}
	}
	if err := iter.Close(); err != nil {
		return err
	}

	iter = r.session.Query(`SELECT message_id, user_id, emoji, reacted_at FROM message_reactions WHERE message_id IN ?`, ids).WithContext(ctx).Iter()
	for iter.Scan(&messageID, &userID, &emoji, &at) {
		if m, ok := byID[messageID]; ok {
			m.Reactions = append(m.Reactions, domainmessage.Reaction{UserID: domainuser.ID(userID), Emoji: emoji, ReactedAt: at})
		}
	}
	if err := iter.Close(); err != nil {
		return err
	}

	iter = r.session.Query(`SELECT message_id, edited_at, content_kind, content FROM message_revisions WHERE message_id IN ?`, ids).WithContext(ctx).Iter()
	for iter.Scan(&messageID, &at, &kind, &raw) {
		if m, ok := byID[messageID]; ok {
			m.EditHistory = append(m.EditHistory, domainmessage.Revision{
				Content:  domainmessage.DecodeStored(domainmessage.Kind(kind), append([]byte(nil), raw...)),
				EditedAt: at,
			})
		}
	}
	if err := iter.Close(); err != nil {
		return err
	}

	for _, m := range msgs {
		orderSideRows(m)
	}
	return nil
}

// orderSideRows restores the order the memory and document stores keep:
// receipts and reactions by time, revisions oldest first.
func orderSideRows(m *domainmessage.Message) {
	sort.SliceStable(m.ReadBy, func(i, j int) bool { return m.ReadBy[i].ReadAt.Before(m.ReadBy[j].ReadAt) })
	sort.SliceStable(m.Reactions, func(i, j int) bool { return m.Reactions[i].ReactedAt.Before(m.Reactions[j].ReactedAt) })
	sort.SliceStable(m.EditHistory, func(i, j int) bool { return m.EditHistory[i].EditedAt.Before(m.EditHistory[j].EditedAt) })
}

type scanner interface {
	Scan(dest ...interface{}) bool
}

func scanMessage(iter scanner, conversationID domainconversation.ID) (*domainmessage.Message, bool) {
	var (
		id, sender, kind, deletedBy     string
		raw                             []byte
		createdAt, updatedAt, deletedAt time.Time
		deleted                         bool
	)
	if !iter.Scan(&id, &createdAt, &sender, &kind, &raw, &updatedAt, &deleted, &deletedBy, &deletedAt) {
		return nil, false
	}
	return &domainmessage.Message{
		ID:             domainmessage.ID(id),
		ConversationID: conversationID,
		SenderID:       domainuser.ID(sender),
		Content:        domainmessage.DecodeStored(domainmessage.Kind(kind), append([]byte(nil), raw...)),
		CreatedAt:      createdAt,
		UpdatedAt:      updatedAt,
		Deleted:        deleted,
		DeletedBy:      domainuser.ID(deletedBy),
		DeletedAt:      deletedAt,
	}, true
}

// storedTime matches the millisecond precision of CQL timestamps. Zero stays
// zero so unset columns read back as the zero time.
func storedTime(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC().Truncate(time.Millisecond)
}

func dedupe(ids []domainmessage.ID) []string {
	seen := make(map[domainmessage.ID]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, string(id))
	}
	return out
}

var _ domainmessage.Repository = (*MessageRepository)(nil)
