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

func TestSendThenReplyShareConversation(t *testing.T) {
	ctx := context.Background()
	st := seededStore()
	svc := NewMessageService(st, &spyDispatcher{}, logger.NewNop())

	first, err := svc.Send(ctx, "alice", "bob", "hello")
	require.NoError(t, err)
	second, err := svc.Send(ctx, "bob", "alice", "hey back")
	require.NoError(t, err)

	conv, err := st.FindConversation(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{first.ID, second.ID}, conv.Messages)

	msgs, err := svc.List(ctx, "bob", "alice")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[0].Text)
	assert.Equal(t, "hey back", msgs[1].Text)
	assert.Equal(t, "alice", msgs[0].Sender.Username)
}

func TestListBeforeAnyMessageIsEmpty(t *testing.T) {
	svc := NewMessageService(seededStore(), &spyDispatcher{}, logger.NewNop())

	msgs, err := svc.List(context.Background(), "alice", "carol")

	require.NoError(t, err)
	assert.NotNil(t, msgs)
	assert.Empty(t, msgs)
}

func TestSendRejectsBlankText(t *testing.T) {
	ctx := context.Background()
	st := seededStore()
	d := &spyDispatcher{}
	svc := NewMessageService(st, d, logger.NewNop())

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := svc.Send(ctx, "alice", "bob", text)
		assert.ErrorIs(t, err, ErrValidation)
	}

	_, err := st.FindConversation(ctx, "alice", "bob")
	assert.Error(t, err)
	assert.Empty(t, d.calls)
}

func TestSendRejectsOversizedText(t *testing.T) {
	svc := NewMessageService(seededStore(), &spyDispatcher{}, logger.NewNop())
	long := make([]byte, MaxMessageLength+1)
	for i := range long {
		long[i] = 'x'
	}

	_, err := svc.Send(context.Background(), "alice", "bob", string(long))
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSendToUnknownUser(t *testing.T) {
	ctx := context.Background()
	st := seededStore()
	d := &spyDispatcher{}
	svc := NewMessageService(st, d, logger.NewNop())

	_, err := svc.Send(ctx, "alice", "mallory", "hi")

	assert.ErrorIs(t, err, ErrNotFound)
	_, ferr := st.FindConversation(ctx, "alice", "mallory")
	assert.Error(t, ferr)
	assert.Empty(t, d.calls)
}

func TestSendAppendFailureIsStoreFailure(t *testing.T) {
	ctx := context.Background()
	mem := seededStore()
	d := &spyDispatcher{}
	svc := NewMessageService(&brokenAppendStore{Memory: mem}, d, logger.NewNop())

	_, err := svc.Send(ctx, "alice", "bob", "lost?")

	assert.ErrorIs(t, err, ErrStore)
	assert.Empty(t, d.calls, "nothing is fanned out when persistence failed")

	conv, ferr := mem.FindConversation(ctx, "alice", "bob")
	require.NoError(t, ferr)
	assert.Empty(t, conv.Messages)
}

func TestSendSurvivesCancelledRequest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	st := seededStore()
	svc := NewMessageService(st, &spyDispatcher{}, logger.NewNop())

	msg, err := svc.Send(ctx, "alice", "bob", "sent as the tab closed")
	require.NoError(t, err)

	msgs, err := svc.List(context.Background(), "alice", "bob")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, msg.ID, msgs[0].ID)
}

func TestSendFansOutToSenderAndReceiver(t *testing.T) {
	ctx := context.Background()
	hub := realtime.NewHub(registry.New(), logger.NewNop())
	a := &spyConn{id: "ca", userID: "alice"}
	b := &spyConn{id: "cb", userID: "bob"}
	hub.Attach(ctx, a)
	hub.Attach(ctx, b)

	svc := NewMessageService(seededStore(), hub, logger.NewNop())
	sent, err := svc.Send(ctx, "alice", "bob", "hi")
	require.NoError(t, err)

	gotA := a.ofKind(model.EventNewMessage)
	gotB := b.ofKind(model.EventNewMessage)
	require.Len(t, gotA, 1)
	require.Len(t, gotB, 1)

	msgA := decode[model.EnrichedMessage](t, gotA[0].Data)
	msgB := decode[model.EnrichedMessage](t, gotB[0].Data)
	assert.Equal(t, sent.ID, msgA.ID)
	assert.Equal(t, sent.ID, msgB.ID)
	assert.Equal(t, "hi", msgA.Text)
	assert.Equal(t, "hi", msgB.Text)
	assert.Equal(t, "bob", msgA.Receiver.Username)

	msgs, err := svc.List(ctx, "alice", "bob")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, sent.ID, msgs[0].ID)
	assert.Equal(t, "hi", msgs[0].Text)
}

func TestSendToOfflineReceiverStillPersists(t *testing.T) {
	ctx := context.Background()
	hub := realtime.NewHub(registry.New(), logger.NewNop())
	a := &spyConn{id: "ca", userID: "alice"}
	hub.Attach(ctx, a)

	svc := NewMessageService(seededStore(), hub, logger.NewNop())
	_, err := svc.Send(ctx, "alice", "carol", "are you there?")
	require.NoError(t, err)

	assert.Len(t, a.ofKind(model.EventNewMessage), 1)
	msgs, err := svc.List(ctx, "carol", "alice")
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestSendToSelfTargetsBothEnds(t *testing.T) {
	d := &spyDispatcher{}
	svc := NewMessageService(seededStore(), d, logger.NewNop())

	_, err := svc.Send(context.Background(), "alice", "alice", "note to self")
	require.NoError(t, err)

	// the hub collapses duplicate targets; the service asks for both ends
	assert.Len(t, d.ofKind(model.EventNewMessage), 2)
}
