package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/chirp-social/realtime/internal/middleware"
	"github.com/chirp-social/realtime/internal/model"
	"github.com/chirp-social/realtime/internal/service"
	"github.com/chirp-social/realtime/pkg/logger"
)

// MessageHandler handles direct message endpoints.
type MessageHandler struct {
	messageService *service.MessageService
	logger         *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(msgSvc *service.MessageService, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		messageService: msgSvc,
		logger:         log,
	}
}

// Send handles POST /api/v1/message/send/{receiverId}
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	senderID := middleware.GetUserID(ctx)
	receiverID := chi.URLParam(r, "receiverId")

	if err := middleware.ValidateID("receiver", receiverID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := h.messageService.Send(ctx, senderID, receiverID, req.Body())
	if err != nil {
		status, text := statusFor(err)
		if status == http.StatusInternalServerError {
			middleware.RequestLogger(h.logger, r).Error("failed to send message",
				zap.String("receiver_id", receiverID),
				zap.Error(err),
			)
		}
		writeError(w, status, text)
		return
	}

	writeJSON(w, http.StatusCreated, &model.SendMessageResponse{
		Success: true,
		Message: msg,
	})
}

// List handles GET /api/v1/message/all/{otherUserId}
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	otherID := chi.URLParam(r, "otherUserId")

	if err := middleware.ValidateID("user", otherID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msgs, err := h.messageService.List(ctx, userID, otherID)
	if err != nil {
		status, text := statusFor(err)
		if status == http.StatusInternalServerError {
			middleware.RequestLogger(h.logger, r).Error("failed to list messages",
				zap.String("other_user_id", otherID),
				zap.Error(err),
			)
		}
		writeError(w, status, text)
		return
	}

	writeJSON(w, http.StatusOK, &model.ListMessagesResponse{
		Success:  true,
		Messages: msgs,
	})
}
