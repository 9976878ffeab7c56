// Package realtime owns live connections: presence broadcasts and
// best-effort fan-out of events to the connection registered for a user.
package realtime

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/chirp-social/realtime/internal/model"
	"github.com/chirp-social/realtime/internal/registry"
	"github.com/chirp-social/realtime/pkg/logger"
	"github.com/chirp-social/realtime/pkg/metrics"
)

// Sender is one live transport connection.
type Sender interface {
	ID() string
	UserID() string
	// Send enqueues an encoded frame without blocking.
	Send(frame []byte) error
	Close() error
}

// PresenceObserver is told when a user becomes reachable or unreachable.
// Calls run in registry order while presence changes are held off, so an
// observer must not call back into the Hub.
type PresenceObserver interface {
	UserOnline(ctx context.Context, userID string)
	UserOffline(ctx context.Context, userID string)
}

// EventTap receives a copy of every dispatched event.
type EventTap interface {
	Publish(ctx context.Context, kind model.EventKind, targets []string, frame []byte)
}

// Dispatcher delivers events to logical users.
type Dispatcher interface {
	Deliver(ctx context.Context, userID string, kind model.EventKind, payload any) bool
	DeliverAll(ctx context.Context, userIDs []string, kind model.EventKind, payload any) int
}

// Hub ties the registry to the set of open transport connections.
type Hub struct {
	registry *registry.Registry
	logger   *logger.Logger

	mu    sync.RWMutex
	conns map[string]Sender // every open connection, registered or superseded

	// serializes registry mutation with the roster snapshot it produces
	presenceMu sync.Mutex

	observers []PresenceObserver
	tap       EventTap
}

// Option configures a Hub.
type Option func(*Hub)

// WithObserver adds a presence observer.
func WithObserver(o PresenceObserver) Option {
	return func(h *Hub) {
		if o != nil {
			h.observers = append(h.observers, o)
		}
	}
}

// WithTap sets the event tap.
func WithTap(t EventTap) Option {
	return func(h *Hub) { h.tap = t }
}

// NewHub creates a hub over reg.
func NewHub(reg *registry.Registry, log *logger.Logger, opts ...Option) *Hub {
	h := &Hub{
		registry: reg,
		logger:   log,
		conns:    make(map[string]Sender),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Attach registers a newly established connection for its user and
// broadcasts the new presence set.
func (h *Hub) Attach(ctx context.Context, s Sender) {
	h.mu.Lock()
	h.conns[s.ID()] = s
	h.mu.Unlock()

	h.presenceMu.Lock()
	replaced := h.registry.Register(s.UserID(), s.ID())
	h.broadcastPresenceLocked()
	if replaced == "" {
		// observers see transitions in registry order
		for _, o := range h.observers {
			o.UserOnline(ctx, s.UserID())
		}
	}
	h.presenceMu.Unlock()

	metrics.OnlineUsers.Set(float64(h.registry.Len()))
	h.logger.Debug("connection attached",
		zap.String("user_id", s.UserID()),
		zap.String("conn_id", s.ID()),
		zap.String("replaced_conn_id", replaced),
	)
}

// Detach forgets a closed connection. The presence set is only rebroadcast
// when the connection was still the user's registered one.
func (h *Hub) Detach(ctx context.Context, s Sender) {
	h.mu.Lock()
	delete(h.conns, s.ID())
	h.mu.Unlock()

	h.presenceMu.Lock()
	userID, removed := h.registry.Unregister(s.ID())
	if removed {
		h.broadcastPresenceLocked()
		for _, o := range h.observers {
			o.UserOffline(ctx, userID)
		}
	}
	h.presenceMu.Unlock()

	h.logger.Debug("connection detached",
		zap.String("user_id", s.UserID()),
		zap.String("conn_id", s.ID()),
		zap.Bool("was_current", removed),
	)

	if removed {
		metrics.OnlineUsers.Set(float64(h.registry.Len()))
	}
}

// broadcastPresenceLocked sends the full roster to every open connection.
// Caller holds presenceMu.
func (h *Hub) broadcastPresenceLocked() {
	users := h.registry.Users()
	frame, err := model.NewEnvelope(model.EventOnlineUsers, users)
	if err != nil {
		h.logger.Error("failed to encode presence", zap.Error(err))
		return
	}

	for _, s := range h.snapshot() {
		if err := s.Send(frame); err != nil {
			metrics.RecordDelivery(model.EventOnlineUsers.String(), "dropped")
			h.logger.Debug("presence not delivered",
				zap.String("conn_id", s.ID()),
				zap.Error(err),
			)
			continue
		}
		metrics.RecordDelivery(model.EventOnlineUsers.String(), "delivered")
	}
	metrics.PresenceBroadcasts.Inc()
}

// Deliver sends one event to userID's live connection. It reports whether the
// event was handed to a connection; an offline user is not an error.
func (h *Hub) Deliver(ctx context.Context, userID string, kind model.EventKind, payload any) bool {
	return h.DeliverAll(ctx, []string{userID}, kind, payload) == 1
}

// DeliverAll resolves and delivers to each target independently and returns
// how many targets were reached. Duplicate targets receive the event once.
func (h *Hub) DeliverAll(ctx context.Context, userIDs []string, kind model.EventKind, payload any) int {
	frame, err := model.NewEnvelope(kind, payload)
	if err != nil {
		h.logger.Error("failed to encode event", zap.Stringer("event", kind), zap.Error(err))
		return 0
	}

	targets := dedupe(userIDs)
	delivered := 0
	for _, userID := range targets {
		if h.deliverFrame(userID, kind, frame) {
			delivered++
		}
	}

	if h.tap != nil {
		h.tap.Publish(ctx, kind, targets, frame)
	}
	return delivered
}

func (h *Hub) deliverFrame(userID string, kind model.EventKind, frame []byte) bool {
	connID, ok := h.registry.Lookup(userID)
	if !ok {
		metrics.RecordDelivery(kind.String(), "offline")
		return false
	}

	h.mu.RLock()
	s, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		metrics.RecordDelivery(kind.String(), "offline")
		return false
	}

	if err := s.Send(frame); err != nil {
		metrics.RecordDelivery(kind.String(), "dropped")
		h.logger.Warn("event not delivered",
			zap.Stringer("event", kind),
			zap.String("user_id", userID),
			zap.String("conn_id", connID),
			zap.Error(err),
		)
		return false
	}
	metrics.RecordDelivery(kind.String(), "delivered")
	return true
}

// Online returns the current presence set.
func (h *Hub) Online() []string {
	return h.registry.Users()
}

// Connections returns the number of open transport connections.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// CloseAll closes every open connection. Used on shutdown.
func (h *Hub) CloseAll() {
	for _, s := range h.snapshot() {
		_ = s.Close()
	}
}

func (h *Hub) snapshot() []Sender {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Sender, 0, len(h.conns))
	for _, s := range h.conns {
		out = append(out, s)
	}
	return out
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
