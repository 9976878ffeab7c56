package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chirp-social/realtime/internal/model"
)

var _ Store = (*Memory)(nil)

// Memory is an in-process Store for tests and local development.
type Memory struct {
	mu            sync.RWMutex
	users         map[string]*model.User
	posts         map[string]*model.Post
	conversations map[string]*model.Conversation // pair key -> conversation
	convByID      map[string]*model.Conversation
	messages      map[string]*model.Message
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:         make(map[string]*model.User),
		posts:         make(map[string]*model.Post),
		conversations: make(map[string]*model.Conversation),
		convByID:      make(map[string]*model.Conversation),
		messages:      make(map[string]*model.Message),
	}
}

// PutUser seeds a user profile.
func (m *Memory) PutUser(u model.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = &u
}

// PutPost seeds a post.
func (m *Memory) PutPost(p model.Post) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.Likes = append([]string(nil), p.Likes...)
	m.posts[p.ID] = &p
}

func (m *Memory) GetUser(ctx context.Context, id string) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

func (m *Memory) GetUsers(ctx context.Context, ids []string) (map[string]*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*model.User, len(ids))
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			cp := *u
			out[id] = &cp
		}
	}
	return out, nil
}

func (m *Memory) FindOrCreateConversation(ctx context.Context, a, b string) (*model.Conversation, bool, error) {
	key := model.PairKey(a, b)

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.conversations[key]; ok {
		return copyConversation(c), false, nil
	}

	now := time.Now().UTC()
	c := &model.Conversation{
		ID:           uuid.Must(uuid.NewV7()).String(),
		Participants: model.Pair(a, b),
		PairKey:      key,
		Messages:     []string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.conversations[key] = c
	m.convByID[c.ID] = c
	return copyConversation(c), true, nil
}

func (m *Memory) FindConversation(ctx context.Context, a, b string) (*model.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conversations[model.PairKey(a, b)]
	if !ok {
		return nil, fmt.Errorf("conversation: %w", ErrNotFound)
	}
	return copyConversation(c), nil
}

func (m *Memory) AppendMessage(ctx context.Context, conversationID, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convByID[conversationID]
	if !ok {
		return fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}
	c.Messages = append(c.Messages, messageID)
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) CreateMessage(ctx context.Context, msg *model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.messages[msg.ID]; exists {
		return fmt.Errorf("message %s already exists", msg.ID)
	}
	cp := *msg
	m.messages[msg.ID] = &cp
	return nil
}

func (m *Memory) GetMessages(ctx context.Context, ids []string) ([]model.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Message, 0, len(ids))
	for _, id := range ids {
		if msg, ok := m.messages[id]; ok {
			out = append(out, *msg)
		}
	}
	return out, nil
}

func (m *Memory) GetPost(ctx context.Context, id string) (*model.Post, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.posts[id]
	if !ok {
		return nil, fmt.Errorf("post %s: %w", id, ErrNotFound)
	}
	cp := *p
	cp.Likes = append([]string(nil), p.Likes...)
	return &cp, nil
}

func (m *Memory) AddLike(ctx context.Context, postID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[postID]
	if !ok {
		return fmt.Errorf("post %s: %w", postID, ErrNotFound)
	}
	if !p.LikedBy(userID) {
		p.Likes = append(p.Likes, userID)
	}
	return nil
}

func (m *Memory) RemoveLike(ctx context.Context, postID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[postID]
	if !ok {
		return fmt.Errorf("post %s: %w", postID, ErrNotFound)
	}
	likes := p.Likes[:0]
	for _, id := range p.Likes {
		if id != userID {
			likes = append(likes, id)
		}
	}
	p.Likes = likes
	return nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) Close(ctx context.Context) error { return nil }

func copyConversation(c *model.Conversation) *model.Conversation {
	cp := *c
	cp.Participants = append([]string(nil), c.Participants...)
	cp.Messages = append([]string(nil), c.Messages...)
	return &cp
}
