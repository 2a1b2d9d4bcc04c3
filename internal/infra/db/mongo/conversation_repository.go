package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domainconversation "chatline/internal/domain/conversation"
	domainuser "chatline/internal/domain/user"
)

// ConversationRepository stores one document per conversation with the
// participants embedded, so counters and markers change in a single update.
type ConversationRepository struct {
	col *mongo.Collection
}

func NewConversationRepository(ctx context.Context, db *mongo.Database) (*ConversationRepository, error) {
	col := db.Collection("chat_conversations")
	_, err := col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "direct_key", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"direct_key": bson.M{"$exists": true}}),
		},
		{Keys: bson.D{{Key: "participants.user_id", Value: 1}, {Key: "activity_at", Value: -1}}},
	})
	if err != nil {
		return nil, err
	}
	return &ConversationRepository{col: col}, nil
}

func (r *ConversationRepository) Create(ctx context.Context, c *domainconversation.Conversation) error {
	_, err := r.col.InsertOne(ctx, newConversationDocument(c))
	if err != nil && mongo.IsDuplicateKeyError(err) && c.Type == domainconversation.TypeDirect {
		return domainconversation.ErrDirectExists
	}
	return err
}

func (r *ConversationRepository) ByID(ctx context.Context, id domainconversation.ID) (*domainconversation.Conversation, error) {
	return r.findOne(ctx, bson.M{"_id": string(id)})
}

func (r *ConversationRepository) FindDirect(ctx context.Context, a, b domainuser.ID) (*domainconversation.Conversation, error) {
	return r.findOne(ctx, bson.M{"direct_key": domainconversation.DirectKey(a, b), "deleted": false})
}

func (r *ConversationRepository) ListForUser(ctx context.Context, userID domainuser.ID, q domainconversation.ListQuery) ([]*domainconversation.Conversation, error) {
	filter := bson.M{"participants.user_id": string(userID), "deleted": false}
	if !q.Before.IsZero() {
		filter["activity_at"] = bson.M{"$lt": q.Before.UTC()}
	}
	opts := options.Find().SetSort(bson.D{{Key: "activity_at", Value: -1}, {Key: "_id", Value: -1}})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []conversationDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]*domainconversation.Conversation, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.toAggregate())
	}
	return out, nil
}

// AddParticipants pushes each participant only if it is not present yet, so
// two concurrent invites of the same user add them once.
func (r *ConversationRepository) AddParticipants(ctx context.Context, id domainconversation.ID, participants []domainconversation.Participant, at time.Time) (*domainconversation.Conversation, error) {
	for _, p := range participants {
		filter := bson.M{"_id": string(id), "participants.user_id": bson.M{"$ne": string(p.UserID)}}
		update := bson.M{
			"$push": bson.M{"participants": newParticipantDocument(p)},
			"$set":  bson.M{"updated_at": at.UTC()},
		}
		if _, err := r.col.UpdateOne(ctx, filter, update); err != nil {
			return nil, err
		}
	}
	return r.ByID(ctx, id)
}

func (r *ConversationRepository) RemoveParticipant(ctx context.Context, id domainconversation.ID, userID domainuser.ID, at time.Time) (*domainconversation.Conversation, error) {
	update := bson.M{
		"$pull": bson.M{
			"participants": bson.M{"user_id": string(userID)},
			"admins":       string(userID),
		},
		"$set": bson.M{"updated_at": at.UTC()},
	}
	return r.findOneAndUpdate(ctx, bson.M{"_id": string(id)}, update)
}

func (r *ConversationRepository) SaveDetails(ctx context.Context, c *domainconversation.Conversation) error {
	update := bson.M{"$set": bson.M{
		"name":        c.Name,
		"description": c.Description,
		"settings":    newSettingsDocument(c.Settings),
		"updated_at":  c.UpdatedAt.UTC(),
	}}
	res, err := r.col.UpdateByID(ctx, string(c.ID), update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domainconversation.ErrNotFound
	}
	return nil
}

// SoftDelete drops the direct key so the pair may start a fresh conversation.
func (r *ConversationRepository) SoftDelete(ctx context.Context, id domainconversation.ID, at time.Time) error {
	update := bson.M{
		"$set":   bson.M{"deleted": true, "deleted_at": at.UTC(), "updated_at": at.UTC()},
		"$unset": bson.M{"direct_key": ""},
	}
	res, err := r.col.UpdateByID(ctx, string(id), update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domainconversation.ErrNotFound
	}
	return nil
}

// RecordMessage is one pipeline update: every participant but the sender
// gets +1 and the last message only moves forward in time.
func (r *ConversationRepository) RecordMessage(ctx context.Context, id domainconversation.ID, messageID string, sender domainuser.ID, at time.Time) (*domainconversation.Conversation, error) {
	at = at.UTC()
	bumped := bson.M{"$mergeObjects": bson.A{
		"$$p",
		bson.M{"unread_count": bson.M{"$add": bson.A{bson.M{"$ifNull": bson.A{"$$p.unread_count", 0}}, 1}}},
	}}
	newer := bson.M{"$gte": bson.A{at, bson.M{"$ifNull": bson.A{"$last_message_at", time.Time{}}}}}
	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"participants": bson.M{"$map": bson.M{
				"input": "$participants",
				"as":    "p",
				"in":    bson.M{"$cond": bson.A{bson.M{"$eq": bson.A{"$$p.user_id", string(sender)}}, "$$p", bumped}},
			}},
			"last_message_id": bson.M{"$cond": bson.A{newer, messageID, "$last_message_id"}},
			"last_message_at": bson.M{"$max": bson.A{"$last_message_at", at}},
			"activity_at":     bson.M{"$max": bson.A{"$activity_at", at}},
		}}},
	}
	return r.findOneAndUpdate(ctx, bson.M{"_id": string(id)}, pipeline)
}

func (r *ConversationRepository) DecrementUnread(ctx context.Context, id domainconversation.ID, userID domainuser.ID) error {
	filter := bson.M{
		"_id":          string(id),
		"participants": bson.M{"$elemMatch": bson.M{"user_id": string(userID), "unread_count": bson.M{"$gt": 0}}},
	}
	res, err := r.col.UpdateOne(ctx, filter, bson.M{"$inc": bson.M{"participants.$.unread_count": -1}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return r.ensureParticipant(ctx, id, userID)
	}
	return nil
}

func (r *ConversationRepository) ResetUnread(ctx context.Context, id domainconversation.ID, userID domainuser.ID) error {
	filter := bson.M{"_id": string(id), "participants.user_id": string(userID)}
	res, err := r.col.UpdateOne(ctx, filter, bson.M{"$set": bson.M{"participants.$.unread_count": 0}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return r.ensureParticipant(ctx, id, userID)
	}
	return nil
}

func (r *ConversationRepository) AdvanceReadMarker(ctx context.Context, id domainconversation.ID, userID domainuser.ID, messageID string, at time.Time) error {
	at = at.UTC()
	filter := bson.M{
		"_id":          string(id),
		"participants": bson.M{"$elemMatch": bson.M{"user_id": string(userID), "last_read_at": bson.M{"$lte": at}}},
	}
	update := bson.M{"$set": bson.M{
		"participants.$.last_read_message_id": messageID,
		"participants.$.last_read_at":         at,
	}}
	res, err := r.col.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return r.ensureParticipant(ctx, id, userID)
	}
	return nil
}

// ensureParticipant explains a conditional update that matched nothing: a
// missing conversation or participant is an error, a failed condition is not.
func (r *ConversationRepository) ensureParticipant(ctx context.Context, id domainconversation.ID, userID domainuser.ID) error {
	c, err := r.ByID(ctx, id)
	if err != nil {
		return err
	}
	if !c.IsParticipant(userID) {
		return domainconversation.ErrNotParticipant
	}
	return nil
}

func (r *ConversationRepository) findOne(ctx context.Context, filter bson.M) (*domainconversation.Conversation, error) {
	var doc conversationDocument
	if err := r.col.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domainconversation.ErrNotFound
		}
		return nil, err
	}
	return doc.toAggregate(), nil
}

func (r *ConversationRepository) findOneAndUpdate(ctx context.Context, filter bson.M, update any) (*domainconversation.Conversation, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc conversationDocument
	if err := r.col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domainconversation.ErrNotFound
		}
		return nil, err
	}
	return doc.toAggregate(), nil
}

type conversationDocument struct {
	ID            string                `bson:"_id"`
	Type          string                `bson:"type"`
	Name          string                `bson:"name"`
	Description   string                `bson:"description"`
	Participants  []participantDocument `bson:"participants"`
	Admins        []string              `bson:"admins"`
	Settings      settingsDocument      `bson:"settings"`
	CreatedBy     string                `bson:"created_by"`
	DirectKey     string                `bson:"direct_key,omitempty"`
	LastMessageID string                `bson:"last_message_id"`
	LastMessageAt time.Time             `bson:"last_message_at"`
	ActivityAt    time.Time             `bson:"activity_at"`
	CreatedAt     time.Time             `bson:"created_at"`
	UpdatedAt     time.Time             `bson:"updated_at"`
	Deleted       bool                  `bson:"deleted"`
	DeletedAt     time.Time             `bson:"deleted_at,omitempty"`
}

type participantDocument struct {
	UserID            string    `bson:"user_id"`
	Role              string    `bson:"role"`
	JoinedAt          time.Time `bson:"joined_at"`
	LastReadMessageID string    `bson:"last_read_message_id"`
	LastReadAt        time.Time `bson:"last_read_at"`
	UnreadCount       int       `bson:"unread_count"`
}

type settingsDocument struct {
	InvitePolicy      string `bson:"invite_policy"`
	OnlyAdminsCanPost bool   `bson:"only_admins_can_post"`
	SlowModeSeconds   int    `bson:"slow_mode_seconds"`
}

func newConversationDocument(c *domainconversation.Conversation) conversationDocument {
	doc := conversationDocument{
		ID:            string(c.ID),
		Type:          string(c.Type),
		Name:          c.Name,
		Description:   c.Description,
		Participants:  make([]participantDocument, 0, len(c.Participants)),
		Admins:        make([]string, 0, len(c.Admins)),
		Settings:      newSettingsDocument(c.Settings),
		CreatedBy:     string(c.CreatedBy),
		LastMessageID: c.LastMessageID,
		LastMessageAt: c.LastMessageAt.UTC(),
		ActivityAt:    c.ActivityAt().UTC(),
		CreatedAt:     c.CreatedAt.UTC(),
		UpdatedAt:     c.UpdatedAt.UTC(),
		Deleted:       c.Deleted,
		DeletedAt:     c.DeletedAt,
	}
	for _, p := range c.Participants {
		doc.Participants = append(doc.Participants, newParticipantDocument(p))
	}
	for _, a := range c.Admins {
		doc.Admins = append(doc.Admins, string(a))
	}
	if c.Type == domainconversation.TypeDirect && !c.Deleted && len(c.Participants) == 2 {
		doc.DirectKey = domainconversation.DirectKey(c.Participants[0].UserID, c.Participants[1].UserID)
	}
	return doc
}

func newParticipantDocument(p domainconversation.Participant) participantDocument {
	return participantDocument{
		UserID:            string(p.UserID),
		Role:              string(p.Role),
		JoinedAt:          p.JoinedAt.UTC(),
		LastReadMessageID: p.LastReadMessageID,
		LastReadAt:        p.LastReadAt.UTC(),
		UnreadCount:       p.UnreadCount,
	}
}

func newSettingsDocument(s domainconversation.Settings) settingsDocument {
	return settingsDocument{
		InvitePolicy:      string(s.InvitePolicy),
		OnlyAdminsCanPost: s.OnlyAdminsCanPost,
		SlowModeSeconds:   s.AntiSpam.SlowModeSeconds,
	}
}

func (d conversationDocument) toAggregate() *domainconversation.Conversation {
	c := &domainconversation.Conversation{
		ID:          domainconversation.ID(d.ID),
		Type:        domainconversation.Type(d.Type),
		Name:        d.Name,
		Description: d.Description,
		Settings: domainconversation.Settings{
			InvitePolicy:      domainconversation.InvitePolicy(d.Settings.InvitePolicy),
			OnlyAdminsCanPost: d.Settings.OnlyAdminsCanPost,
			AntiSpam:          domainconversation.AntiSpam{SlowModeSeconds: d.Settings.SlowModeSeconds},
		},
		CreatedBy:     domainuser.ID(d.CreatedBy),
		LastMessageID: d.LastMessageID,
		LastMessageAt: zeroIfEpoch(d.LastMessageAt),
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
		Deleted:       d.Deleted,
		DeletedAt:     d.DeletedAt,
	}
	for _, p := range d.Participants {
		c.Participants = append(c.Participants, domainconversation.Participant{
			UserID:            domainuser.ID(p.UserID),
			Role:              domainconversation.Role(p.Role),
			JoinedAt:          p.JoinedAt,
			LastReadMessageID: p.LastReadMessageID,
			LastReadAt:        zeroIfEpoch(p.LastReadAt),
			UnreadCount:       p.UnreadCount,
		})
	}
	for _, a := range d.Admins {
		c.Admins = append(c.Admins, domainuser.ID(a))
	}
	return c
}

// zeroIfEpoch maps the stored zero time back to time.Time{}. Mongo dates
// have millisecond precision so the year-1 value does not round-trip exactly.
func zeroIfEpoch(t time.Time) time.Time {
	if t.Year() <= 1 {
		return time.Time{}
	}
	return t
}

var _ domainconversation.Repository = (*ConversationRepository)(nil)
