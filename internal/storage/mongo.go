package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore implements the durable stores (sessions, users, forward logs) on
// a single Mongo database.
type MongoStore struct {
	sessions *mongo.Collection
	users    *mongo.Collection
	logs     *mongo.Collection
}

// NewMongoStore wires the store onto the given database.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		sessions: db.Collection("sessions"),
		users:    db.Collection("users"),
		logs:     db.Collection("logs"),
	}
}

// Connect dials Mongo and verifies the connection with a ping.
func Connect(ctx context.Context, uri, database string) (*mongo.Database, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to mongo")
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		return nil, errors.Wrap(err, "failed to ping mongo")
	}

	return client.Database(database), nil
}

func (s *MongoStore) GetSession(ctx context.Context, userID int64) (*UserSession, error) {
	var session UserSession
	err := s.sessions.FindOne(ctx, bson.M{"_id": userID}).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get session")
	}
	return &session, nil
}

func (s *MongoStore) PutSession(ctx context.Context, session *UserSession) error {
	if session == nil {
		return errors.New("session is nil")
	}

	opts := options.Replace().SetUpsert(true)
	if _, err := s.sessions.ReplaceOne(ctx, bson.M{"_id": session.UserID}, session, opts); err != nil {
		return errors.Wrap(err, "failed to put session")
	}
	return nil
}

func (s *MongoStore) DeleteSession(ctx context.Context, userID int64) error {
	if _, err := s.sessions.DeleteOne(ctx, bson.M{"_id": userID}); err != nil {
		return errors.Wrap(err, "failed to delete session")
	}
	return nil
}

func (s *MongoStore) UpsertUser(ctx context.Context, user *User) error {
	if user == nil {
		return errors.New("user is nil")
	}

	update := bson.M{"$set": bson.M{
		"username":    user.Username,
		"last_active": user.LastActive,
	}}
	opts := options.Update().SetUpsert(true)
	if _, err := s.users.UpdateOne(ctx, bson.M{"_id": user.UserID}, update, opts); err != nil {
		return errors.Wrap(err, "failed to upsert user")
	}
	return nil
}

func (s *MongoStore) AppendForwardLog(ctx context.Context, entry *ForwardLog) error {
	if entry == nil {
		return errors.New("forward log entry is nil")
	}

	if _, err := s.logs.InsertOne(ctx, entry); err != nil {
		return errors.Wrap(err, "failed to append forward log")
	}
	return nil
}

func (s *MongoStore) ListForwardLogs(ctx context.Context, limit int) ([]*ForwardLog, error) {
	if limit <= 0 {
		limit = 1000
	}

	opts := options.Find().
		SetSort(bson.M{"timestamp": -1}).
		SetLimit(int64(limit))
	cursor, err := s.logs.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list forward logs")
	}
	defer cursor.Close(ctx)

	var logs []*ForwardLog
	if err := cursor.All(ctx, &logs); err != nil {
		return nil, errors.Wrap(err, "failed to decode forward logs")
	}
	return logs, nil
}
