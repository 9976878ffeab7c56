package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/chirp-social/realtime/internal/model"
	"github.com/chirp-social/realtime/internal/realtime"
)

const (
	// StreamName is the JetStream stream retaining tapped events.
	StreamName = "SOCIAL_EVENTS"

	// HeaderInstance names the publishing server instance.
	HeaderInstance = "Instance-Id"
)

var (
	_ realtime.EventTap         = (*Tap)(nil)
	_ realtime.PresenceObserver = (*Tap)(nil)
)

// TapEvent is the body published for every dispatched event.
type TapEvent struct {
	Event    model.EventKind `json:"event"`
	Targets  []string        `json:"targets"`
	Data     json.RawMessage `json:"data"`
	Instance string          `json:"instance"`
	At       time.Time       `json:"at"`
}

// PresenceEvent is published when a user comes online or goes offline.
type PresenceEvent struct {
	UserID   string    `json:"userId"`
	Online   bool      `json:"online"`
	Instance string    `json:"instance"`
	At       time.Time `json:"at"`
}

// Tap mirrors hub traffic onto NATS subjects under a prefix. Publishing is
// best-effort: failures are logged and never reach the dispatcher.
type Tap struct {
	client   *Client
	prefix   string
	instance string
}

// NewTap creates a tap publishing under prefix.
func NewTap(client *Client, prefix, instance string) *Tap {
	return &Tap{
		client:   client,
		prefix:   strings.TrimSuffix(prefix, "."),
		instance: instance,
	}
}

// EnsureStream makes sure tapped subjects are retained for a day.
func (t *Tap) EnsureStream(ctx context.Context) error {
	_, err := t.client.JetStream().CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{t.prefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Description: "Real-time events dispatched to live connections",
	})
	if err != nil {
		return fmt.Errorf("failed to ensure stream: %w", err)
	}
	return nil
}

// EventSubject returns the subject for an event kind.
func EventSubject(prefix string, kind model.EventKind) string {
	return fmt.Sprintf("%s.%s", prefix, kind)
}

// PresenceSubject returns the subject for a presence transition.
func PresenceSubject(prefix string, online bool) string {
	state := "offline"
	if online {
		state = "online"
	}
	return fmt.Sprintf("%s.presence.%s", prefix, state)
}

// Publish implements realtime.EventTap.
func (t *Tap) Publish(ctx context.Context, kind model.EventKind, targets []string, frame []byte) {
	ev, err := t.event(kind, targets, frame)
	if err != nil {
		t.client.logger.Warn("tap frame not decodable", zap.Error(err))
		return
	}
	t.publish(EventSubject(t.prefix, kind), ev)
}

// messageMeta is what leaves the process for a direct message: routing
// metadata only, never the text.
type messageMeta struct {
	ID         string    `json:"_id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (t *Tap) event(kind model.EventKind, targets []string, frame []byte) (TapEvent, error) {
	var env model.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return TapEvent{}, err
	}

	data := env.Data
	if kind == model.EventNewMessage {
		var msg model.EnrichedMessage
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return TapEvent{}, err
		}
		meta, err := json.Marshal(messageMeta{
			ID:         msg.ID,
			SenderID:   msg.SenderID,
			ReceiverID: msg.ReceiverID,
			CreatedAt:  msg.CreatedAt,
		})
		if err != nil {
			return TapEvent{}, err
		}
		data = meta
	}

	return TapEvent{
		Event:    kind,
		Targets:  targets,
		Data:     data,
		Instance: t.instance,
		At:       time.Now().UTC(),
	}, nil
}

// UserOnline implements realtime.PresenceObserver.
func (t *Tap) UserOnline(ctx context.Context, userID string) {
	t.presence(userID, true)
}

// UserOffline implements realtime.PresenceObserver.
func (t *Tap) UserOffline(ctx context.Context, userID string) {
	t.presence(userID, false)
}

func (t *Tap) presence(userID string, online bool) {
	t.publish(PresenceSubject(t.prefix, online), PresenceEvent{
		UserID:   userID,
		Online:   online,
		Instance: t.instance,
		At:       time.Now().UTC(),
	})
}

func (t *Tap) publish(subject string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		t.client.logger.Error("failed to marshal tap event", zap.Error(err))
		return
	}

	msg := nats.NewMsg(subject)
	msg.Header.Set(HeaderInstance, t.instance)
	msg.Data = data

	// core publish only buffers; no round trip on the dispatch path
	if err := t.client.conn.PublishMsg(msg); err != nil {
		t.client.logger.Warn("failed to publish tap event",
			zap.String("subject", subject),
			zap.Error(err),
		)
	}
}
