package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chirp-social/realtime/internal/model"
	"github.com/chirp-social/realtime/internal/realtime"
	"github.com/chirp-social/realtime/internal/registry"
	"github.com/chirp-social/realtime/pkg/logger"
)

func TestEmitSelfActionIsSuppressed(t *testing.T) {
	d := &spyDispatcher{}
	n := NewNotifier(seededStore(), d, logger.NewNop())

	ok := n.Emit(context.Background(), "alice", "alice", model.NotificationLike, "p1")

	assert.False(t, ok)
	assert.Empty(t, d.calls)
}

func TestEmitTargetsOwnerOnly(t *testing.T) {
	d := &spyDispatcher{}
	n := NewNotifier(seededStore(), d, logger.NewNop())

	ok := n.Emit(context.Background(), "bob", "alice", model.NotificationLike, "p1")

	assert.True(t, ok)
	require.Len(t, d.calls, 1)
	call := d.calls[0]
	assert.Equal(t, "alice", call.userID)
	assert.Equal(t, model.EventNotification, call.kind)

	notification, isNotification := call.payload.(model.Notification)
	require.True(t, isNotification)
	assert.Equal(t, model.NotificationLike, notification.Type)
	assert.Equal(t, "bob", notification.UserID)
	assert.Equal(t, "bob", notification.UserDetails.Username)
	assert.Equal(t, "p1", notification.PostID)
	assert.Equal(t, "Your post was liked", notification.Message)
}

func TestEmitUnknownTypeIsDropped(t *testing.T) {
	d := &spyDispatcher{}
	n := NewNotifier(seededStore(), d, logger.NewNop())

	assert.False(t, n.Emit(context.Background(), "bob", "alice", model.NotificationType("share"), "p1"))
	assert.Empty(t, d.calls)
}

func TestEmitUnknownActorIsDropped(t *testing.T) {
	d := &spyDispatcher{}
	n := NewNotifier(seededStore(), d, logger.NewNop())

	assert.False(t, n.Emit(context.Background(), "ghost", "alice", model.NotificationLike, "p1"))
	assert.Empty(t, d.calls)
}

func TestEmitToOfflineOwnerIsNoop(t *testing.T) {
	ctx := context.Background()
	hub := realtime.NewHub(registry.New(), logger.NewNop())
	bob := &spyConn{id: "cb", userID: "bob"}
	hub.Attach(ctx, bob)

	n := NewNotifier(seededStore(), hub, logger.NewNop())

	assert.False(t, n.Emit(ctx, "bob", "alice", model.NotificationLike, "p1"))
	assert.Empty(t, bob.ofKind(model.EventNotification))
}
