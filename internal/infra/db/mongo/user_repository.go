package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domainauth "chatline/internal/domain/auth"
	domainpresence "chatline/internal/domain/presence"
	domainuser "chatline/internal/domain/user"
)

// UserRepository stores accounts and is also the durable presence store.
type UserRepository struct {
	col *mongo.Collection
}

func NewUserRepository(ctx context.Context, db *mongo.Database) (*UserRepository, error) {
	col := db.Collection("chat_users")
	_, err := col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "status", Value: 1}}},
	})
	if err != nil {
		return nil, err
	}
	return &UserRepository{col: col}, nil
}

func (r *UserRepository) ByID(ctx context.Context, id domainuser.ID) (*domainuser.User, error) {
	return r.findOne(ctx, bson.M{"_id": string(id)})
}

func (r *UserRepository) ByEmail(ctx context.Context, email string) (*domainuser.User, error) {
	return r.findOne(ctx, bson.M{"email": domainuser.NormalizeEmail(email)})
}

// Save upserts the profile fields. Presence is written by SetStatus only.
func (r *UserRepository) Save(ctx context.Context, u *domainuser.User) error {
	if u == nil || u.ID == "" {
		return domainuser.ErrIDRequired
	}
	update := bson.M{
		"$set": bson.M{
			"email":         domainuser.NormalizeEmail(u.Email),
			"name":          u.Name,
			"avatar_url":    u.AvatarURL,
			"password_hash": u.PasswordHash,
			"blocked":       u.Blocked,
			"updated_at":    u.UpdatedAt.UTC(),
		},
		"$setOnInsert": bson.M{
			"status":     string(statusOrOffline(u.Status)),
			"last_seen":  u.LastSeen.UTC(),
			"created_at": u.CreatedAt.UTC(),
		},
	}
	_, err := r.col.UpdateByID(ctx, string(u.ID), update, options.Update().SetUpsert(true))
	if err != nil && mongo.IsDuplicateKeyError(err) {
		return domainuser.ErrEmailAlreadyUsed
	}
	return err
}

func (r *UserRepository) SetStatus(ctx context.Context, id domainuser.ID, status domainuser.Status, at time.Time) error {
	res, err := r.col.UpdateByID(ctx, string(id), bson.M{"$set": bson.M{"status": string(status), "last_seen": at.UTC()}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domainuser.ErrNotFound
	}
	return nil
}

func (r *UserRepository) ResetOnline(ctx context.Context, at time.Time) (int, error) {
	res, err := r.col.UpdateMany(ctx,
		bson.M{"status": string(domainuser.StatusOnline)},
		bson.M{"$set": bson.M{"status": string(domainuser.StatusOffline), "last_seen": at.UTC()}},
	)
	if err != nil {
		return 0, err
	}
	return int(res.ModifiedCount), nil
}

func (r *UserRepository) Online(ctx context.Context) ([]domainpresence.Entry, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetProjection(bson.M{"status": 1, "last_seen": 1})
	cur, err := r.col.Find(ctx, bson.M{"status": string(domainuser.StatusOnline)}, opts)
	if err != nil {
		return nil, err
	}
	var docs []userDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]domainpresence.Entry, 0, len(docs))
	for _, doc := range docs {
		out = append(out, domainpresence.Entry{
			UserID:   domainuser.ID(doc.ID),
			Status:   domainuser.Status(doc.Status),
			LastSeen: doc.LastSeen,
		})
	}
	return out, nil
}

func (r *UserRepository) findOne(ctx context.Context, filter bson.M) (*domainuser.User, error) {
	var doc userDocument
	if err := r.col.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domainuser.ErrNotFound
		}
		return nil, err
	}
	return doc.toAggregate(), nil
}

type userDocument struct {
	ID           string    `bson:"_id"`
	Email        string    `bson:"email"`
	Name         string    `bson:"name"`
	AvatarURL    string    `bson:"avatar_url"`
	PasswordHash string    `bson:"password_hash"`
	Blocked      bool      `bson:"blocked"`
	Status       string    `bson:"status"`
	LastSeen     time.Time `bson:"last_seen"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

func (d userDocument) toAggregate() *domainuser.User {
	return &domainuser.User{
		ID:           domainuser.ID(d.ID),
		Email:        d.Email,
		Name:         d.Name,
		AvatarURL:    d.AvatarURL,
		PasswordHash: d.PasswordHash,
		Blocked:      d.Blocked,
		Status:       statusOrOffline(domainuser.Status(d.Status)),
		LastSeen:     zeroIfEpoch(d.LastSeen),
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

func statusOrOffline(s domainuser.Status) domainuser.Status {
	if s == "" {
		return domainuser.StatusOffline
	}
	return s
}

// SessionStore keeps issued credentials; expired ones are removed by a TTL index.
type SessionStore struct {
	col *mongo.Collection
}

func NewSessionStore(ctx context.Context, db *mongo.Database) (*SessionStore, error) {
	col := db.Collection("chat_sessions")
	_, err := col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "expires_at", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(0)},
		{Keys: bson.D{{Key: "user_id", Value: 1}}},
	})
	if err != nil {
		return nil, err
	}
	return &SessionStore{col: col}, nil
}

func (s *SessionStore) Save(ctx context.Context, session *domainauth.Session) error {
	if session == nil {
		return domainauth.ErrTokenRequired
	}
	doc := sessionDocument{
		Token:     string(session.Token),
		UserID:    string(session.UserID),
		CreatedAt: session.CreatedAt.UTC(),
		ExpiresAt: session.ExpiresAt.UTC(),
	}
	_, err := s.col.ReplaceOne(ctx, bson.M{"_id": doc.Token}, doc, options.Replace().SetUpsert(true))
	return err
}

func (s *SessionStore) Get(ctx context.Context, token domainauth.Token) (*domainauth.Session, error) {
	var doc sessionDocument
	if err := s.col.FindOne(ctx, bson.M{"_id": string(token)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domainauth.ErrSessionNotFound
		}
		return nil, err
	}
	session := &domainauth.Session{
		Token:     domainauth.Token(doc.Token),
		UserID:    domainuser.ID(doc.UserID),
		CreatedAt: doc.CreatedAt,
		ExpiresAt: doc.ExpiresAt,
	}
	if session.Expired(time.Now()) {
		return nil, domainauth.ErrSessionNotFound
	}
	return session, nil
}

func (s *SessionStore) Delete(ctx context.Context, token domainauth.Token) error {
	_, err := s.col.DeleteOne(ctx, bson.M{"_id": string(token)})
	return err
}

func (s *SessionStore) DeleteByUser(ctx context.Context, userID domainuser.ID) error {
	_, err := s.col.DeleteMany(ctx, bson.M{"user_id": string(userID)})
	return err
}

type sessionDocument struct {
	Token     string    `bson:"_id"`
	UserID    string    `bson:"user_id"`
	CreatedAt time.Time `bson:"created_at"`
	ExpiresAt time.Time `bson:"expires_at"`
}

var (
	_ domainuser.Repository   = (*UserRepository)(nil)
	_ domainpresence.Store    = (*UserRepository)(nil)
	_ domainauth.SessionStore = (*SessionStore)(nil)
)
