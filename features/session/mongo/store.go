// Package mongo provides a MongoDB-backed session store.
//
// Each conversation is one document holding the ordered turn list and a
// last-activity timestamp. A TTL index on the timestamp expires idle
// conversations after the inactivity window, so cleanup needs no sweeper.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"goa.design/clue/health"

	"github.com/retailstream/concierge/runtime/chat/session"
)

const (
	defaultCollection = "conversations"
	defaultOpTimeout  = 5 * time.Second
	storeName         = "session-mongo"
)

type (
	// Options configures the Mongo session store.
	Options struct {
		// Client is the connected Mongo client. Required.
		Client *mongodriver.Client
		// Database is the database name. Required.
		Database string
		// Collection overrides the conversations collection name.
		Collection string
		// Timeout bounds each operation. Defaults to 5s.
		Timeout time.Duration
	}

	// Store implements session.Store backed by MongoDB. It also satisfies
	// health.Pinger so the store surfaces in the health check.
	Store struct {
		mongo   *mongodriver.Client
		coll    collection
		timeout time.Duration
	}

	document struct {
		ConversationID string         `bson:"conversation_id"`
		Turns          []session.Turn `bson:"turns"`
		CreatedAt      time.Time      `bson:"created_at"`
		LastActive     time.Time      `bson:"last_active"`
	}
)

var _ session.Store = (*Store)(nil)
var _ health.Pinger = (*Store)(nil)

// New returns a Store backed by MongoDB. It creates the unique conversation
// index and the inactivity TTL index up front.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	collName := opts.Collection
	if collName == "" {
		collName = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	coll := mongoCollection{coll: opts.Client.Database(opts.Database).Collection(collName)}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureIndexes(ctx, coll); err != nil {
		return nil, err
	}
	return &Store{mongo: opts.Client, coll: coll, timeout: timeout}, nil
}

// Name implements health.Pinger.
func (s *Store) Name() string { return storeName }

// Ping implements health.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.mongo.Ping(ctx, readpref.Primary())
}

// Create registers a conversation. Safe under retries and races: a pure
// $setOnInsert upsert never modifies an existing document.
func (s *Store) Create(ctx context.Context, conversationID string) (session.Session, error) {
	if conversationID == "" {
		return session.Session{}, errors.New("conversation id is required")
	}
	now := time.Now().UTC()
	uctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.coll.UpdateOne(uctx,
		bson.M{"conversation_id": conversationID},
		bson.M{"$setOnInsert": bson.M{
			"conversation_id": conversationID,
			"turns":           []session.Turn{},
			"created_at":      now,
			"last_active":     now,
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return session.Session{}, err
	}
	return s.load(ctx, conversationID)
}

func (s *Store) load(ctx context.Context, conversationID string) (session.Session, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc document
	if err := s.coll.FindOne(ctx, bson.M{"conversation_id": conversationID}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return session.Session{}, session.ErrNotFound
		}
		return session.Session{}, err
	}
	return session.Session{
		ConversationID: doc.ConversationID,
		Turns:          doc.Turns,
		LastActive:     doc.LastActive,
	}, nil
}

// Append adds one turn to the conversation, creating the document when it
// does not exist yet, and refreshes the activity timestamp.
func (s *Store) Append(ctx context.Context, conversationID string, role session.Role, text string) error {
	if conversationID == "" {
		return errors.New("conversation id is required")
	}
	now := time.Now().UTC()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"conversation_id": conversationID},
		bson.M{
			"$push": bson.M{"turns": session.Turn{Role: role, Text: text}},
			"$set":  bson.M{"last_active": now},
			"$setOnInsert": bson.M{
				"conversation_id": conversationID,
				"created_at":      now,
			},
		},
		options.Update().SetUpsert(true),
	)
	return err
}

// History returns the conversation's turns in order.
func (s *Store) History(ctx context.Context, conversationID string) ([]session.Turn, error) {
	if conversationID == "" {
		return nil, errors.New("conversation id is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc document
	if err := s.coll.FindOne(ctx, bson.M{"conversation_id": conversationID}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, session.ErrNotFound
		}
		return nil, err
	}
	if doc.Turns == nil {
		return []session.Turn{}, nil
	}
	return doc.Turns, nil
}

// Clear empties the conversation's turns while keeping the conversation
// itself.
func (s *Store) Clear(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return errors.New("conversation id is required")
	}
	now := time.Now().UTC()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"conversation_id": conversationID},
		bson.M{"$set": bson.M{
			"turns":       []session.Turn{},
			"last_active": now,
		}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return session.ErrNotFound
	}
	return nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func ensureIndexes(ctx context.Context, coll collection) error {
	unique := mongodriver.IndexModel{
		Keys:    bson.D{{Key: "conversation_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := coll.Indexes().CreateOne(ctx, unique); err != nil {
		return err
	}
	ttl := mongodriver.IndexModel{
		Keys:    bson.D{{Key: "last_active", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(int32(session.InactivityWindow.Seconds())),
	}
	if _, err := coll.Indexes().CreateOne(ctx, ttl); err != nil {
		return err
	}
	return nil
}

// collection abstracts the Mongo collection so tests can substitute a fake.
type collection interface {
	FindOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) singleResult
	UpdateOne(ctx context.Context, filter any, update any,
		opts ...*options.UpdateOptions) (*mongodriver.UpdateResult, error)
	Indexes() indexView
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel,
		opts ...*options.CreateIndexesOptions) (string, error)
}

type singleResult interface {
	Decode(val any) error
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) FindOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) singleResult {
	return c.coll.FindOne(ctx, filter, opts...)
}

func (c mongoCollection) UpdateOne(ctx context.Context, filter any, update any,
	opts ...*options.UpdateOptions) (*mongodriver.UpdateResult, error) {
	return c.coll.UpdateOne(ctx, filter, update, opts...)
}

func (c mongoCollection) Indexes() indexView {
	return mongoIndexView{view: c.coll.Indexes()}
}

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateOne(ctx context.Context, model mongodriver.IndexModel,
	opts ...*options.CreateIndexesOptions) (string, error) {
	return v.view.CreateOne(ctx, model, opts...)
}
