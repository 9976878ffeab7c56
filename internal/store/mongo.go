package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/chirp-social/realtime/internal/model"
)

// Collection names.
const (
	CollectionUsers         = "users"
	CollectionPosts         = "posts"
	CollectionConversations = "conversations"
	CollectionMessages      = "messages"
)

var _ Store = (*Mongo)(nil)

// MongoConfig holds MongoDB connection settings.
type MongoConfig struct {
	URI         string
	Database    string
	MaxPoolSize int
	MaxRetry    int
}

// Mongo is a Store backed by MongoDB.
type Mongo struct {
	client        *mongo.Client
	db            *mongo.Database
	users         *mongo.Collection
	posts         *mongo.Collection
	conversations *mongo.Collection
	messages      *mongo.Collection
}

// NewMongo connects, pings and ensures indexes.
func NewMongo(ctx context.Context, cfg MongoConfig) (*Mongo, error) {
	if cfg.URI == "" {
		return nil, errors.New("mongo uri is required")
	}
	if cfg.Database == "" {
		return nil, errors.New("mongo database is required")
	}
	if cfg.MaxRetry <= 0 {
		cfg.MaxRetry = 3
	}

	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(uint64(cfg.MaxPoolSize))
	}

	var (
		cli *mongo.Client
		err error
	)
	for i := 0; i < cfg.MaxRetry; i++ {
		cli, err = connectMongo(ctx, opts)
		if err == nil || ctx.Err() != nil {
			break
		}
		time.Sleep(time.Second / 2)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	db := cli.Database(cfg.Database)
	m := &Mongo{
		client:        cli,
		db:            db,
		users:         db.Collection(CollectionUsers),
		posts:         db.Collection(CollectionPosts),
		conversations: db.Collection(CollectionConversations),
		messages:      db.Collection(CollectionMessages),
	}

	if err := m.ensureIndexes(ctx); err != nil {
		_ = cli.Disconnect(ctx)
		return nil, err
	}
	return m, nil
}

func connectMongo(ctx context.Context, opts *options.ClientOptions) (*mongo.Client, error) {
	cli, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := cli.Ping(ctx, nil); err != nil {
		_ = cli.Disconnect(ctx)
		return nil, err
	}
	return cli, nil
}

func (m *Mongo) ensureIndexes(ctx context.Context) error {
	_, err := m.conversations.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "pairKey", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uniq_pair_key"),
	})
	if err != nil {
		return fmt.Errorf("failed to create conversation index: %w", err)
	}
	return nil
}

// docID matches records whose _id was written either as a string or, by the
// account and post collaborators, as an ObjectId.
func docID(id string) any {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return oid
	}
	return id
}

func idFilter(id string) bson.M {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return bson.M{"_id": bson.M{"$in": bson.A{id, oid}}}
	}
	return bson.M{"_id": id}
}

func (m *Mongo) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := m.users.FindOne(ctx, idFilter(id),
		options.FindOne().SetProjection(bson.M{"username": 1, "profilePicture": 1}),
	).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &u, nil
}

func (m *Mongo) GetUsers(ctx context.Context, ids []string) (map[string]*model.User, error) {
	keys := bson.A{}
	for _, id := range ids {
		keys = append(keys, id)
		if oid, err := primitive.ObjectIDFromHex(id); err == nil {
			keys = append(keys, oid)
		}
	}

	cur, err := m.users.Find(ctx, bson.M{"_id": bson.M{"$in": keys}},
		options.Find().SetProjection(bson.M{"username": 1, "profilePicture": 1}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find users: %w", err)
	}
	defer cur.Close(ctx)

	out := make(map[string]*model.User, len(ids))
	for cur.Next(ctx) {
		var u model.User
		if err := cur.Decode(&u); err != nil {
			return nil, fmt.Errorf("failed to decode user: %w", err)
		}
		out[u.ID] = &u
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return out, nil
}

func (m *Mongo) FindOrCreateConversation(ctx context.Context, a, b string) (*model.Conversation, bool, error) {
	key := model.PairKey(a, b)
	now := time.Now().UTC()
	newID := uuid.Must(uuid.NewV7()).String()

	update := bson.M{
		"$setOnInsert": bson.M{
			"_id":          newID,
			"participants": model.Pair(a, b),
			"pairKey":      key,
			"messages":     bson.A{},
			"createdAt":    now,
			"updatedAt":    now,
		},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var conv model.Conversation
	err := m.conversations.FindOneAndUpdate(ctx, bson.M{"pairKey": key}, update, opts).Decode(&conv)
	if mongo.IsDuplicateKeyError(err) {
		// lost the upsert race on the unique pair index; the winner's row exists now
		c, ferr := m.FindConversation(ctx, a, b)
		if ferr != nil {
			return nil, false, ferr
		}
		return c, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert conversation: %w", err)
	}
	return &conv, conv.ID == newID, nil
}

func (m *Mongo) FindConversation(ctx context.Context, a, b string) (*model.Conversation, error) {
	var conv model.Conversation
	err := m.conversations.FindOne(ctx, bson.M{"pairKey": model.PairKey(a, b)}).Decode(&conv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("conversation: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find conversation: %w", err)
	}
	return &conv, nil
}

func (m *Mongo) AppendMessage(ctx context.Context, conversationID, messageID string) error {
	res, err := m.conversations.UpdateByID(ctx, conversationID, bson.M{
		"$push": bson.M{"messages": messageID},
		"$set":  bson.M{"updatedAt": time.Now().UTC()},
	})
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}
	return nil
}

func (m *Mongo) CreateMessage(ctx context.Context, msg *model.Message) error {
	if _, err := m.messages.InsertOne(ctx, msg); err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func (m *Mongo) GetMessages(ctx context.Context, ids []string) ([]model.Message, error) {
	if len(ids) == 0 {
		return []model.Message{}, nil
	}

	cur, err := m.messages.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, fmt.Errorf("failed to find messages: %w", err)
	}
	defer cur.Close(ctx)

	byID := make(map[string]model.Message, len(ids))
	for cur.Next(ctx) {
		var msg model.Message
		if err := cur.Decode(&msg); err != nil {
			return nil, fmt.Errorf("failed to decode message: %w", err)
		}
		byID[msg.ID] = msg
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	return orderByIDs(ids, byID), nil
}

func (m *Mongo) GetPost(ctx context.Context, id string) (*model.Post, error) {
	var p model.Post
	err := m.posts.FindOne(ctx, idFilter(id),
		options.FindOne().SetProjection(bson.M{"author": 1, "caption": 1, "likes": 1, "createdAt": 1}),
	).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("post %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find post: %w", err)
	}
	return &p, nil
}

func (m *Mongo) AddLike(ctx context.Context, postID, userID string) error {
	return m.updateLikes(ctx, postID, bson.M{"$addToSet": bson.M{"likes": docID(userID)}})
}

func (m *Mongo) RemoveLike(ctx context.Context, postID, userID string) error {
	return m.updateLikes(ctx, postID, bson.M{"$pull": bson.M{"likes": docID(userID)}})
}

func (m *Mongo) updateLikes(ctx context.Context, postID string, update bson.M) error {
	res, err := m.posts.UpdateOne(ctx, idFilter(postID), update)
	if err != nil {
		return fmt.Errorf("failed to update likes: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("post %s: %w", postID, ErrNotFound)
	}
	return nil
}

// Ping checks the primary is reachable.
func (m *Mongo) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// orderByIDs lays found messages out in conversation order, skipping ids
// that did not resolve.
func orderByIDs(ids []string, byID map[string]model.Message) []model.Message {
	out := make([]model.Message, 0, len(ids))
	for _, id := range ids {
		if msg, ok := byID[id]; ok {
			out = append(out, msg)
		}
	}
	return out
}
