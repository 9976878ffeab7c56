package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chirp-social/realtime/internal/model"
	"github.com/chirp-social/realtime/internal/registry"
	"github.com/chirp-social/realtime/pkg/logger"
)

// spySender records every frame it is handed.
type spySender struct {
	id     string
	userID string
	fail   error

	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func newSpy(id, userID string) *spySender {
	return &spySender{id: id, userID: userID}
}

func (s *spySender) ID() string     { return s.id }
func (s *spySender) UserID() string { return s.userID }

func (s *spySender) Send(frame []byte) error {
	if s.fail != nil {
		return s.fail
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, frame)
	return nil
}

func (s *spySender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *spySender) events(t *testing.T) []model.Envelope {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Envelope, 0, len(s.frames))
	for _, f := range s.frames {
		var env model.Envelope
		require.NoError(t, json.Unmarshal(f, &env))
		out = append(out, env)
	}
	return out
}

func (s *spySender) ofKind(t *testing.T, kind model.EventKind) []model.Envelope {
	var out []model.Envelope
	for _, e := range s.events(t) {
		if e.Event == kind {
			out = append(out, e)
		}
	}
	return out
}

func (s *spySender) lastRoster(t *testing.T) []string {
	t.Helper()
	rosters := s.ofKind(t, model.EventOnlineUsers)
	require.NotEmpty(t, rosters)
	var users []string
	require.NoError(t, json.Unmarshal(rosters[len(rosters)-1].Data, &users))
	return users
}

type recordingObserver struct {
	mu      sync.Mutex
	online  []string
	offline []string
}

func (o *recordingObserver) UserOnline(_ context.Context, userID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.online = append(o.online, userID)
}

func (o *recordingObserver) UserOffline(_ context.Context, userID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.offline = append(o.offline, userID)
}

type recordingTap struct {
	kinds   []model.EventKind
	targets [][]string
}

func (r *recordingTap) Publish(_ context.Context, kind model.EventKind, targets []string, _ []byte) {
	r.kinds = append(r.kinds, kind)
	r.targets = append(r.targets, targets)
}

func newTestHub(opts ...Option) *Hub {
	return NewHub(registry.New(), logger.NewNop(), opts...)
}

func TestPresenceAfterDisconnect(t *testing.T) {
	ctx := context.Background()
	hub := newTestHub()

	c1, c2, c3 := newSpy("c1", "u1"), newSpy("c2", "u2"), newSpy("c3", "u3")
	hub.Attach(ctx, c1)
	hub.Attach(ctx, c2)
	hub.Attach(ctx, c3)
	hub.Detach(ctx, c2)

	assert.Equal(t, []string{"u1", "u3"}, c1.lastRoster(t))
	assert.Equal(t, []string{"u1", "u3"}, c3.lastRoster(t))
	assert.Equal(t, []string{"u1", "u3"}, hub.Online())
}

func TestPresenceBroadcastOnEveryConnect(t *testing.T) {
	ctx := context.Background()
	hub := newTestHub()

	c1 := newSpy("c1", "u1")
	hub.Attach(ctx, c1)
	assert.Equal(t, []string{"u1"}, c1.lastRoster(t))

	hub.Attach(ctx, newSpy("c2", "u2"))
	assert.Equal(t, []string{"u1", "u2"}, c1.lastRoster(t))
	assert.Len(t, c1.ofKind(t, model.EventOnlineUsers), 2)
}

func TestPresenceSurvivesFailingConnection(t *testing.T) {
	ctx := context.Background()
	hub := newTestHub()

	broken := newSpy("c1", "u1")
	broken.fail = ErrSendBufferFull
	healthy := newSpy("c2", "u2")

	hub.Attach(ctx, broken)
	hub.Attach(ctx, healthy)

	assert.Equal(t, []string{"u1", "u2"}, healthy.lastRoster(t))
}

func TestStaleDisconnectDoesNotBroadcast(t *testing.T) {
	ctx := context.Background()
	obs := &recordingObserver{}
	hub := newTestHub(WithObserver(obs))

	other := newSpy("cx", "ux")
	old := newSpy("c1", "u1")
	fresh := newSpy("c2", "u1")
	hub.Attach(ctx, other)
	hub.Attach(ctx, old)
	hub.Attach(ctx, fresh)
	before := len(other.ofKind(t, model.EventOnlineUsers))

	hub.Detach(ctx, old)

	assert.Len(t, other.ofKind(t, model.EventOnlineUsers), before)
	assert.Equal(t, []string{"u1", "ux"}, hub.Online())
	assert.Empty(t, obs.offline)
	assert.Equal(t, []string{"ux", "u1"}, obs.online)

	hub.Detach(ctx, fresh)
	assert.Equal(t, []string{"ux"}, other.lastRoster(t))
	assert.Equal(t, []string{"u1"}, obs.offline)
}

func TestDeliverToOfflineUserIsNoop(t *testing.T) {
	ctx := context.Background()
	hub := newTestHub()
	bystander := newSpy("c1", "u1")
	hub.Attach(ctx, bystander)
	before := len(bystander.events(t))

	ok := hub.Deliver(ctx, "ghost", model.EventNotification, map[string]string{"type": "like"})

	assert.False(t, ok)
	assert.Len(t, bystander.events(t), before)
}

func TestDeliverReachesRegisteredConnection(t *testing.T) {
	ctx := context.Background()
	hub := newTestHub()
	c1 := newSpy("c1", "u1")
	hub.Attach(ctx, c1)

	ok := hub.Deliver(ctx, "u1", model.EventNewMessage, model.Message{ID: "m1", Text: "hi"})
	require.True(t, ok)

	got := c1.ofKind(t, model.EventNewMessage)
	require.Len(t, got, 1)
	var msg model.Message
	require.NoError(t, json.Unmarshal(got[0].Data, &msg))
	assert.Equal(t, "m1", msg.ID)
}

func TestDeliverGoesToLatestConnectionOnly(t *testing.T) {
	ctx := context.Background()
	hub := newTestHub()
	old := newSpy("c1", "u1")
	fresh := newSpy("c2", "u1")
	hub.Attach(ctx, old)
	hub.Attach(ctx, fresh)

	hub.Deliver(ctx, "u1", model.EventNotification, model.Notification{Type: model.NotificationLike})

	assert.Empty(t, old.ofKind(t, model.EventNotification))
	assert.Len(t, fresh.ofKind(t, model.EventNotification), 1)
}

func TestDeliverAllIndependentTargets(t *testing.T) {
	ctx := context.Background()
	tap := &recordingTap{}
	hub := newTestHub(WithTap(tap))

	broken := newSpy("c1", "u1")
	broken.fail = errors.New("mid-teardown")
	healthy := newSpy("c2", "u2")
	hub.Attach(ctx, broken)
	hub.Attach(ctx, healthy)

	n := hub.DeliverAll(ctx, []string{"u1", "offline", "u2", "u2"}, model.EventNewMessage, model.Message{ID: "m1"})

	assert.Equal(t, 1, n)
	assert.Len(t, healthy.ofKind(t, model.EventNewMessage), 1)
	require.Len(t, tap.kinds, 1)
	assert.Equal(t, model.EventNewMessage, tap.kinds[0])
	assert.Equal(t, []string{"u1", "offline", "u2"}, tap.targets[0])
}

func TestCloseAll(t *testing.T) {
	ctx := context.Background()
	hub := newTestHub()
	c1, c2 := newSpy("c1", "u1"), newSpy("c2", "u2")
	hub.Attach(ctx, c1)
	hub.Attach(ctx, c2)
	assert.Equal(t, 2, hub.Connections())

	hub.CloseAll()

	assert.True(t, c1.closed)
	assert.True(t, c2.closed)
}

// gatedObserver tracks the last reported state per user and stalls its
// first UserOffline until released.
type gatedObserver struct {
	mu      sync.Mutex
	online  map[string]bool
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedObserver() *gatedObserver {
	return &gatedObserver{
		online:  make(map[string]bool),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (o *gatedObserver) UserOnline(_ context.Context, userID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.online[userID] = true
}

func (o *gatedObserver) UserOffline(_ context.Context, userID string) {
	o.once.Do(func() {
		close(o.entered)
		<-o.release
	})
	o.mu.Lock()
	defer o.mu.Unlock()
	o.online[userID] = false
}

func (o *gatedObserver) isOnline(userID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.online[userID]
}

func TestObserverFollowsRegistryOrderOnQuickReconnect(t *testing.T) {
	ctx := context.Background()
	obs := newGatedObserver()
	hub := newTestHub(WithObserver(obs))

	c1 := newSpy("c1", "u1")
	hub.Attach(ctx, c1)

	detached := make(chan struct{})
	go func() {
		hub.Detach(ctx, c1)
		close(detached)
	}()
	<-obs.entered

	attached := make(chan struct{})
	go func() {
		hub.Attach(ctx, newSpy("c2", "u1"))
		close(attached)
	}()

	select {
	case <-attached:
		t.Fatal("reconnect finished while the previous offline transition was still being observed")
	case <-time.After(50 * time.Millisecond):
	}

	close(obs.release)
	<-detached
	<-attached

	assert.Equal(t, []string{"u1"}, hub.Online())
	assert.True(t, obs.isOnline("u1"))
}
