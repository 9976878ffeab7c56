// Package store is the persistence boundary of the realtime core. The
// document store itself is a collaborator; drivers adapt it to Store.
package store

import (
	"context"
	"errors"

	"github.com/chirp-social/realtime/internal/model"
)

// ErrNotFound is returned when a referenced record does not exist.
var ErrNotFound = errors.New("not found")

// Users reads account profiles owned by the authentication collaborator.
type Users interface {
	GetUser(ctx context.Context, id string) (*model.User, error)
	// GetUsers returns the users that exist among ids, keyed by id.
	GetUsers(ctx context.Context, ids []string) (map[string]*model.User, error)
}

// Conversations persists direct-message threads.
type Conversations interface {
	// FindOrCreateConversation returns the conversation for the unordered
	// pair {a, b}, creating an empty one if none exists. created reports
	// whether this call created it.
	FindOrCreateConversation(ctx context.Context, a, b string) (conv *model.Conversation, created bool, err error)
	// FindConversation returns ErrNotFound when the pair has never talked.
	FindConversation(ctx context.Context, a, b string) (*model.Conversation, error)
	// AppendMessage appends messageID to the conversation's message sequence.
	AppendMessage(ctx context.Context, conversationID, messageID string) error
}

// Messages persists immutable direct messages.
type Messages interface {
	CreateMessage(ctx context.Context, msg *model.Message) error
	// GetMessages returns the messages with the given ids in the order of ids.
	// Ids that do not resolve are skipped.
	GetMessages(ctx context.Context, ids []string) ([]model.Message, error)
}

// Posts is the slice of the post collaborator that originates notifications.
type Posts interface {
	GetPost(ctx context.Context, id string) (*model.Post, error)
	AddLike(ctx context.Context, postID, userID string) error
	RemoveLike(ctx context.Context, postID, userID string) error
}

// Store is everything the realtime core persists or reads.
type Store interface {
	Users
	Conversations
	Messages
	Posts

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
