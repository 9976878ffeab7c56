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

func newPostService(t *testing.T) (*PostService, *spyDispatcher) {
	t.Helper()
	st := seededStore()
	d := &spyDispatcher{}
	return NewPostService(st, NewNotifier(st, d, logger.NewNop()), logger.NewNop()), d
}

func TestLikeNotifiesAuthor(t *testing.T) {
	ctx := context.Background()
	st := seededStore()
	d := &spyDispatcher{}
	svc := NewPostService(st, NewNotifier(st, d, logger.NewNop()), logger.NewNop())

	require.NoError(t, svc.Like(ctx, "bob", "p1"))

	post, err := st.GetPost(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, post.LikedBy("bob"))

	calls := d.ofKind(model.EventNotification)
	require.Len(t, calls, 1)
	assert.Equal(t, "alice", calls[0].userID)
}

func TestLikeOwnPostIsSilent(t *testing.T) {
	svc, d := newPostService(t)

	require.NoError(t, svc.Like(context.Background(), "alice", "p1"))

	assert.Empty(t, d.calls)
}

func TestDislikeRemovesLikeAndNotifies(t *testing.T) {
	ctx := context.Background()
	st := seededStore()
	d := &spyDispatcher{}
	svc := NewPostService(st, NewNotifier(st, d, logger.NewNop()), logger.NewNop())

	require.NoError(t, svc.Like(ctx, "carol", "p1"))
	require.NoError(t, svc.Dislike(ctx, "carol", "p1"))

	post, err := st.GetPost(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, post.LikedBy("carol"))

	calls := d.ofKind(model.EventNotification)
	require.Len(t, calls, 2)
	last, ok := calls[1].payload.(model.Notification)
	require.True(t, ok)
	assert.Equal(t, model.NotificationDislike, last.Type)
	assert.Equal(t, "Your post was disliked", last.Message)
}

func TestLikeUnknownPost(t *testing.T) {
	svc, d := newPostService(t)

	err := svc.Like(context.Background(), "bob", "missing")

	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, d.calls)
}

func TestLikeRequiresIDs(t *testing.T) {
	svc, _ := newPostService(t)

	assert.ErrorIs(t, svc.Like(context.Background(), "", "p1"), ErrValidation)
	assert.ErrorIs(t, svc.Dislike(context.Background(), "bob", ""), ErrValidation)
}

func TestLikeReachesAuthorConnection(t *testing.T) {
	ctx := context.Background()
	hub := realtime.NewHub(registry.New(), logger.NewNop())
	alice := &spyConn{id: "ca", userID: "alice"}
	hub.Attach(ctx, alice)

	st := seededStore()
	svc := NewPostService(st, NewNotifier(st, hub, logger.NewNop()), logger.NewNop())
	require.NoError(t, svc.Like(ctx, "bob", "p1"))

	got := alice.ofKind(model.EventNotification)
	require.Len(t, got, 1)
	n := decode[model.Notification](t, got[0].Data)
	assert.Equal(t, model.NotificationLike, n.Type)
	assert.Equal(t, "bob", n.UserID)
	assert.Equal(t, "p1", n.PostID)
}
