package mongo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domainconversation "chatline/internal/domain/conversation"
	domainmessage "chatline/internal/domain/message"
	domainuser "chatline/internal/domain/user"
)

type MessageRepository struct {
	col *mongo.Collection
}

func NewMessageRepository(ctx context.Context, db *mongo.Database) (*MessageRepository, error) {
	col := db.Collection("chat_messages")
	_, err := col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: -1}, {Key: "_id", Value: -1}},
	})
	if err != nil {
		return nil, err
	}
	return &MessageRepository{col: col}, nil
}

func (r *MessageRepository) Create(ctx context.Context, m *domainmessage.Message) error {
	doc, err := newMessageDocument(m)
	if err != nil {
		return err
	}
	_, err = r.col.InsertOne(ctx, doc)
	return err
}

func (r *MessageRepository) ByID(ctx context.Context, id domainmessage.ID) (*domainmessage.Message, error) {
	var doc messageDocument
	if err := r.col.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domainmessage.ErrNotFound
		}
		return nil, err
	}
	return doc.toAggregate(), nil
}

func (r *MessageRepository) ListByConversation(ctx context.Context, conversationID domainconversation.ID, q domainmessage.ListQuery) ([]*domainmessage.Message, error) {
	filter := bson.M{"conversation_id": string(conversationID)}
	if !q.Before.IsZero() {
		filter["created_at"] = bson.M{"$lt": q.Before.UTC()}
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	return r.find(ctx, filter, opts)
}

// AddReadReceipt pushes a receipt only when the user has none, so retries and
// concurrent readers never produce a second entry.
func (r *MessageRepository) AddReadReceipt(ctx context.Context, id domainmessage.ID, userID domainuser.ID, at time.Time) (bool, error) {
	filter := bson.M{"_id": string(id), "read_by.user_id": bson.M{"$ne": string(userID)}}
	update := bson.M{"$push": bson.M{"read_by": receiptDocument{UserID: string(userID), ReadAt: at.UTC()}}}
	res, err := r.col.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, err
	}
	if res.ModifiedCount == 1 {
		return true, nil
	}
	n, err := r.col.CountDocuments(ctx, bson.M{"_id": string(id)})
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, domainmessage.ErrNotFound
	}
	return false, nil
}

func (r *MessageRepository) UnreadAmong(ctx context.Context, conversationID domainconversation.ID, ids []domainmessage.ID, userID domainuser.ID) ([]*domainmessage.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	raw := make([]string, 0, len(ids))
	for _, id := range ids {
		raw = append(raw, string(id))
	}
	filter := bson.M{
		"_id":             bson.M{"$in": raw},
		"conversation_id": string(conversationID),
		"read_by.user_id": bson.M{"$ne": string(userID)},
	}
	return r.find(ctx, filter, options.Find())
}

// SetReaction drops the user's previous reaction and appends the new one in a
// single pipeline update. An empty emoji only drops.
func (r *MessageRepository) SetReaction(ctx context.Context, id domainmessage.ID, reaction domainmessage.Reaction) (*domainmessage.Message, error) {
	appended := bson.A{}
	if reaction.Emoji != "" {
		appended = append(appended, reactionDocument{
			UserID:    string(reaction.UserID),
			Emoji:     reaction.Emoji,
			ReactedAt: reaction.ReactedAt.UTC(),
		})
	}
	kept := bson.M{"$filter": bson.M{
		"input": bson.M{"$ifNull": bson.A{"$reactions", bson.A{}}},
		"as":    "r",
		"cond":  bson.M{"$ne": bson.A{"$$r.user_id", string(reaction.UserID)}},
	}}
	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{"reactions": bson.M{"$concatArrays": bson.A{kept, bson.M{"$literal": appended}}}}}},
	}
	return r.findOneAndUpdate(ctx, bson.M{"_id": string(id)}, pipeline)
}

func (r *MessageRepository) ReplaceContent(ctx context.Context, id domainmessage.ID, previous domainmessage.Revision, next domainmessage.Content, at time.Time) (*domainmessage.Message, error) {
	prev, err := newRevisionDocument(previous)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(next)
	if err != nil {
		return nil, err
	}
	update := bson.M{
		"$push": bson.M{"edit_history": prev},
		"$set": bson.M{
			"content_kind": string(next.Kind()),
			"content":      raw,
			"updated_at":   at.UTC(),
		},
	}
	return r.findOneAndUpdate(ctx, bson.M{"_id": string(id), "deleted": false}, update)
}

func (r *MessageRepository) SoftDelete(ctx context.Context, id domainmessage.ID, by domainuser.ID, at time.Time) (*domainmessage.Message, error) {
	update := bson.M{"$set": bson.M{
		"deleted":    true,
		"deleted_by": string(by),
		"deleted_at": at.UTC(),
		"updated_at": at.UTC(),
	}}
	return r.findOneAndUpdate(ctx, bson.M{"_id": string(id)}, update)
}

func (r *MessageRepository) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*domainmessage.Message, error) {
	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []messageDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]*domainmessage.Message, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.toAggregate())
	}
	return out, nil
}

func (r *MessageRepository) findOneAndUpdate(ctx context.Context, filter bson.M, update any) (*domainmessage.Message, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc messageDocument
	if err := r.col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domainmessage.ErrNotFound
		}
		return nil, err
	}
	return doc.toAggregate(), nil
}

// messageDocument keeps content as the JSON of its variant next to the kind
// tag, which is all DecodeStored needs.
type messageDocument struct {
	ID             string             `bson:"_id"`
	ConversationID string             `bson:"conversation_id"`
	SenderID       string             `bson:"sender_id"`
	ContentKind    string             `bson:"content_kind"`
	Content        []byte             `bson:"content"`
	ReadBy         []receiptDocument  `bson:"read_by"`
	Reactions      []reactionDocument `bson:"reactions"`
	EditHistory    []revisionDocument `bson:"edit_history"`
	CreatedAt      time.Time          `bson:"created_at"`
	UpdatedAt      time.Time          `bson:"updated_at"`
	Deleted        bool               `bson:"deleted"`
	DeletedBy      string             `bson:"deleted_by,omitempty"`
	DeletedAt      time.Time          `bson:"deleted_at,omitempty"`
}

type receiptDocument struct {
	UserID string    `bson:"user_id"`
	ReadAt time.Time `bson:"read_at"`
}

type reactionDocument struct {
	UserID    string    `bson:"user_id"`
	Emoji     string    `bson:"emoji"`
	ReactedAt time.Time `bson:"reacted_at"`
}

type revisionDocument struct {
	ContentKind string    `bson:"content_kind"`
	Content     []byte    `bson:"content"`
	EditedAt    time.Time `bson:"edited_at"`
}

func newMessageDocument(m *domainmessage.Message) (messageDocument, error) {
	raw, err := json.Marshal(m.Content)
	if err != nil {
		return messageDocument{}, err
	}
	doc := messageDocument{
		ID:             string(m.ID),
		ConversationID: string(m.ConversationID),
		SenderID:       string(m.SenderID),
		ContentKind:    string(m.Content.Kind()),
		Content:        raw,
		ReadBy:         make([]receiptDocument, 0, len(m.ReadBy)),
		Reactions:      make([]reactionDocument, 0, len(m.Reactions)),
		EditHistory:    make([]revisionDocument, 0, len(m.EditHistory)),
		CreatedAt:      m.CreatedAt.UTC(),
		UpdatedAt:      m.UpdatedAt.UTC(),
		Deleted:        m.Deleted,
		DeletedBy:      string(m.DeletedBy),
		DeletedAt:      m.DeletedAt,
	}
	for _, rr := range m.ReadBy {
		doc.ReadBy = append(doc.ReadBy, receiptDocument{UserID: string(rr.UserID), ReadAt: rr.ReadAt.UTC()})
	}
	for _, re := range m.Reactions {
		doc.Reactions = append(doc.Reactions, reactionDocument{UserID: string(re.UserID), Emoji: re.Emoji, ReactedAt: re.ReactedAt.UTC()})
	}
	for _, rev := range m.EditHistory {
		rd, err := newRevisionDocument(rev)
		if err != nil {
			return messageDocument{}, err
		}
		doc.EditHistory = append(doc.EditHistory, rd)
	}
	return doc, nil
}

func newRevisionDocument(rev domainmessage.Revision) (revisionDocument, error) {
	raw, err := json.Marshal(rev.Content)
	if err != nil {
		return revisionDocument{}, err
	}
	return revisionDocument{ContentKind: string(rev.Content.Kind()), Content: raw, EditedAt: rev.EditedAt.UTC()}, nil
}

func (d messageDocument) toAggregate() *domainmessage.Message {
	m := &domainmessage.Message{
		ID:             domainmessage.ID(d.ID),
		ConversationID: domainconversation.ID(d.ConversationID),
		SenderID:       domainuser.ID(d.SenderID),
		Content:        domainmessage.DecodeStored(domainmessage.Kind(d.ContentKind), d.Content),
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
		Deleted:        d.Deleted,
		DeletedBy:      domainuser.ID(d.DeletedBy),
		DeletedAt:      d.DeletedAt,
	}
	for _, rr := range d.ReadBy {
		m.ReadBy = append(m.ReadBy, domainmessage.ReadReceipt{UserID: domainuser.ID(rr.UserID), ReadAt: rr.ReadAt})
	}
	for _, re := range d.Reactions {
		m.Reactions = append(m.Reactions, domainmessage.Reaction{UserID: domainuser.ID(re.UserID), Emoji: re.Emoji, ReactedAt: re.ReactedAt})
	}
	for _, rev := range d.EditHistory {
		m.EditHistory = append(m.EditHistory, domainmessage.Revision{
			Content:  domainmessage.DecodeStored(domainmessage.Kind(rev.ContentKind), rev.Content),
			EditedAt: rev.EditedAt,
		})
	}
	return m
}

var _ domainmessage.Repository = (*MessageRepository)(nil)
