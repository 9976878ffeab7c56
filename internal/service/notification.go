package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/chirp-social/realtime/internal/model"
	"github.com/chirp-social/realtime/internal/realtime"
	"github.com/chirp-social/realtime/internal/store"
	"github.com/chirp-social/realtime/pkg/logger"
	"github.com/chirp-social/realtime/pkg/metrics"
)

var notificationText = map[model.NotificationType]string{
	model.NotificationLike:    "Your post was liked",
	model.NotificationDislike: "Your post was disliked",
}

// Notifier turns persisted like/dislike mutations into notification events
// for the resource owner. Fire-and-forget: nothing is returned to the caller
// beyond whether a live connection took the event.
type Notifier struct {
	users      store.Users
	dispatcher realtime.Dispatcher
	logger     *logger.Logger
}

// NewNotifier creates a notifier.
func NewNotifier(users store.Users, dispatcher realtime.Dispatcher, log *logger.Logger) *Notifier {
	return &Notifier{
		users:      users,
		dispatcher: dispatcher,
		logger:     log.Named("notifier"),
	}
}

// Emit notifies ownerID that actorID acted on subjectID. Acting on one's own
// resource produces nothing.
func (n *Notifier) Emit(ctx context.Context, actorID, ownerID string, typ model.NotificationType, subjectID string) bool {
	if actorID == ownerID {
		metrics.NotificationsTotal.WithLabelValues(string(typ), "suppressed").Inc()
		return false
	}
	if !typ.Valid() {
		n.logger.Warn("unknown notification type", zap.String("type", string(typ)))
		return false
	}

	start := time.Now()
	actor, err := n.users.GetUser(ctx, actorID)
	metrics.RecordStoreOperation("get_user", err, time.Since(start).Seconds())
	if err != nil {
		metrics.NotificationsTotal.WithLabelValues(string(typ), "error").Inc()
		n.logger.Warn("notification dropped, actor profile unavailable",
			zap.String("actor_id", actorID),
			zap.Error(err),
		)
		return false
	}

	notification := model.Notification{
		Type:        typ,
		UserID:      actorID,
		UserDetails: actor.Profile(),
		PostID:      subjectID,
		Message:     notificationText[typ],
	}

	delivered := n.dispatcher.Deliver(ctx, ownerID, model.EventNotification, notification)
	result := "offline"
	if delivered {
		result = "delivered"
	}
	metrics.NotificationsTotal.WithLabelValues(string(typ), result).Inc()
	return delivered
}
