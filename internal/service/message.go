package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/chirp-social/realtime/internal/model"
	"github.com/chirp-social/realtime/internal/realtime"
	"github.com/chirp-social/realtime/internal/store"
	"github.com/chirp-social/realtime/pkg/logger"
	"github.com/chirp-social/realtime/pkg/metrics"
	"github.com/chirp-social/realtime/pkg/tracing"
)

// MaxMessageLength bounds the text of a direct message, in bytes.
const MaxMessageLength = 10000

const tracerName = "github.com/chirp-social/realtime/internal/service"

// MessageService handles direct messages.
type MessageService struct {
	store      store.Store
	dispatcher realtime.Dispatcher
	logger     *logger.Logger
	tracer     trace.Tracer
}

// NewMessageService creates a new message service.
func NewMessageService(st store.Store, dispatcher realtime.Dispatcher, log *logger.Logger) *MessageService {
	return &MessageService{
		store:      st,
		dispatcher: dispatcher,
		logger:     log.Named("messages"),
		tracer:     tracing.Tracer(tracerName),
	}
}

// ValidateMessageText rejects blank, oversized or non UTF-8 text.
func ValidateMessageText(text string) error {
	if strings.TrimSpace(text) == "" {
		return validationError("message text cannot be empty")
	}
	if len(text) > MaxMessageLength {
		return validationError("message text exceeds maximum length")
	}
	if !utf8.ValidString(text) {
		return validationError("message text must be valid UTF-8")
	}
	return nil
}

// Send persists a message from senderID to receiverID and pushes the enriched
// record to both users' live connections. Persistence completes even if ctx
// is cancelled mid-call; delivery happens only after persistence succeeded.
//
// If the message is created but appending it to the conversation fails, the
// message stays stored without a reference and ErrStore is returned.
func (s *MessageService) Send(ctx context.Context, senderID, receiverID, text string) (*model.EnrichedMessage, error) {
	ctx, span := s.tracer.Start(ctx, "MessageService.Send", trace.WithAttributes(
		tracing.UserAttr("sender_id", senderID),
		tracing.UserAttr("receiver_id", receiverID),
	))
	defer span.End()

	msg, err := s.send(context.WithoutCancel(ctx), senderID, receiverID, text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.MessagesTotal.WithLabelValues(resultLabel(err)).Inc()
		return nil, err
	}
	metrics.MessagesTotal.WithLabelValues("ok").Inc()

	n := s.dispatcher.DeliverAll(context.WithoutCancel(ctx),
		[]string{receiverID, senderID}, model.EventNewMessage, msg)
	s.logger.Debug("message fanned out",
		zap.String("message_id", msg.ID),
		zap.Int("connections", n),
	)
	return msg, nil
}

func (s *MessageService) send(ctx context.Context, senderID, receiverID, text string) (*model.EnrichedMessage, error) {
	if senderID == "" || receiverID == "" {
		return nil, validationError("sender and receiver are required")
	}
	if err := ValidateMessageText(text); err != nil {
		return nil, err
	}

	start := time.Now()
	users, err := s.store.GetUsers(ctx, []string{senderID, receiverID})
	metrics.RecordStoreOperation("get_users", err, time.Since(start).Seconds())
	if err != nil {
		return nil, classify("load participants", err)
	}
	sender, ok := users[senderID]
	if !ok {
		return nil, classify("load sender", store.ErrNotFound)
	}
	receiver, ok := users[receiverID]
	if !ok {
		return nil, classify("load receiver", store.ErrNotFound)
	}

	// 1. conversation for the unordered pair
	start = time.Now()
	conv, created, err := s.store.FindOrCreateConversation(ctx, senderID, receiverID)
	metrics.RecordStoreOperation("find_or_create_conversation", err, time.Since(start).Seconds())
	if err != nil {
		return nil, classify("find conversation", err)
	}
	if created {
		metrics.ConversationsTotal.Inc()
	}

	// 2. the message itself
	msg := &model.Message{
		ID:         uuid.Must(uuid.NewV7()).String(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Text:       text,
		CreatedAt:  time.Now().UTC(),
	}
	start = time.Now()
	err = s.store.CreateMessage(ctx, msg)
	metrics.RecordStoreOperation("create_message", err, time.Since(start).Seconds())
	if err != nil {
		return nil, classify("create message", err)
	}

	// 3. enriched form shared by the response and the fan-out
	enriched := model.Enrich(msg, sender.Profile(), receiver.Profile())

	// 4. link it into the conversation
	start = time.Now()
	err = s.store.AppendMessage(ctx, conv.ID, msg.ID)
	metrics.RecordStoreOperation("append_message", err, time.Since(start).Seconds())
	if err != nil {
		s.logger.Error("message stored but not linked to conversation",
			zap.String("message_id", msg.ID),
			zap.String("conversation_id", conv.ID),
			zap.Error(err),
		)
		return nil, classify("append message", err)
	}

	s.logger.Info("message sent",
		zap.String("message_id", msg.ID),
		zap.String("conversation_id", conv.ID),
		zap.Bool("conversation_created", created),
	)
	return enriched, nil
}

// List returns the conversation between userA and userB in send order. A pair
// that has never exchanged a message yields an empty slice.
func (s *MessageService) List(ctx context.Context, userA, userB string) ([]model.EnrichedMessage, error) {
	ctx, span := s.tracer.Start(ctx, "MessageService.List", trace.WithAttributes(
		tracing.UserAttr("user_a", userA),
		tracing.UserAttr("user_b", userB),
	))
	defer span.End()

	if userA == "" || userB == "" {
		return nil, validationError("both participants are required")
	}

	start := time.Now()
	conv, err := s.store.FindConversation(ctx, userA, userB)
	metrics.RecordStoreOperation("find_conversation", err, time.Since(start).Seconds())
	if errors.Is(err, store.ErrNotFound) {
		return []model.EnrichedMessage{}, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, classify("find conversation", err)
	}

	start = time.Now()
	msgs, err := s.store.GetMessages(ctx, conv.Messages)
	metrics.RecordStoreOperation("get_messages", err, time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		return nil, classify("load messages", err)
	}

	start = time.Now()
	users, err := s.store.GetUsers(ctx, conv.Participants)
	metrics.RecordStoreOperation("get_users", err, time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		return nil, classify("load participants", err)
	}

	out := make([]model.EnrichedMessage, 0, len(msgs))
	for i := range msgs {
		out = append(out, *model.Enrich(&msgs[i],
			profileOf(users, msgs[i].SenderID),
			profileOf(users, msgs[i].ReceiverID),
		))
	}
	return out, nil
}

// profileOf falls back to an id-only profile for accounts that no longer exist.
func profileOf(users map[string]*model.User, id string) model.UserProfile {
	if u, ok := users[id]; ok {
		return u.Profile()
	}
	return model.UserProfile{ID: id}
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
