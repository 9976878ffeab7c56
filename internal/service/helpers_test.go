package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chirp-social/realtime/internal/model"
	"github.com/chirp-social/realtime/internal/store"
)

type dispatch struct {
	userID  string
	kind    model.EventKind
	payload any
}

// spyDispatcher records every delivery request and reports every target as online.
type spyDispatcher struct {
	mu    sync.Mutex
	calls []dispatch
}

func (d *spyDispatcher) Deliver(ctx context.Context, userID string, kind model.EventKind, payload any) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, dispatch{userID: userID, kind: kind, payload: payload})
	return true
}

func (d *spyDispatcher) DeliverAll(ctx context.Context, userIDs []string, kind model.EventKind, payload any) int {
	for _, id := range userIDs {
		d.Deliver(ctx, id, kind, payload)
	}
	return len(userIDs)
}

func (d *spyDispatcher) ofKind(kind model.EventKind) []dispatch {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []dispatch
	for _, c := range d.calls {
		if c.kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// brokenAppendStore fails the conversation append step only.
type brokenAppendStore struct {
	*store.Memory
}

func (s *brokenAppendStore) AppendMessage(ctx context.Context, conversationID, messageID string) error {
	return errors.New("write concern timeout")
}

// spyConn stands in for a live transport connection.
type spyConn struct {
	id, userID string
	mu         sync.Mutex
	frames     []model.Envelope
}

func (c *spyConn) ID() string     { return c.id }
func (c *spyConn) UserID() string { return c.userID }
func (c *spyConn) Close() error   { return nil }

func (c *spyConn) Send(frame []byte) error {
	var env model.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, env)
	return nil
}

func (c *spyConn) ofKind(kind model.EventKind) []model.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []model.Envelope
	for _, f := range c.frames {
		if f.Event == kind {
			out = append(out, f)
		}
	}
	return out
}

func seededStore() *store.Memory {
	st := store.NewMemory()
	st.PutUser(model.User{ID: "alice", Username: "alice", ProfilePicture: "https://cdn.example/alice.png"})
	st.PutUser(model.User{ID: "bob", Username: "bob"})
	st.PutUser(model.User{ID: "carol", Username: "carol"})
	st.PutPost(model.Post{ID: "p1", AuthorID: "alice", Caption: "sunset"})
	return st
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}
