package model

import (
	"time"
)

// Message is a direct message. Immutable once created.
type Message struct {
	ID         string    `json:"_id" bson:"_id"`
	SenderID   string    `json:"senderId" bson:"senderId"`
	ReceiverID string    `json:"receiverId" bson:"receiverId"`
	Text       string    `json:"message" bson:"message"`
	CreatedAt  time.Time `json:"createdAt" bson:"createdAt"`
}

// EnrichedMessage is a Message joined with the display profiles of both
// participants. It is what REST callers and live connections receive.
type EnrichedMessage struct {
	ID         string      `json:"_id"`
	SenderID   string      `json:"senderId"`
	ReceiverID string      `json:"receiverId"`
	Sender     UserProfile `json:"sender"`
	Receiver   UserProfile `json:"receiver"`
	Text       string      `json:"message"`
	CreatedAt  time.Time   `json:"createdAt"`
}

// Enrich joins msg with the given profiles.
func Enrich(msg *Message, sender, receiver UserProfile) *EnrichedMessage {
	return &EnrichedMessage{
		ID:         msg.ID,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Sender:     sender,
		Receiver:   receiver,
		Text:       msg.Text,
		CreatedAt:  msg.CreatedAt,
	}
}

// SendMessageRequest is the body of POST /message/send/{receiverId}.
type SendMessageRequest struct {
	TextMessage string `json:"textMessage"`
	Text        string `json:"text,omitempty"`
}

// Body returns the message text, accepting either field name.
func (r *SendMessageRequest) Body() string {
	if r.TextMessage != "" {
		return r.TextMessage
	}
	return r.Text
}

// SendMessageResponse is the response after sending a message.
type SendMessageResponse struct {
	Success bool             `json:"success"`
	Message *EnrichedMessage `json:"message"`
}

// ListMessagesResponse is the response for listing a conversation.
type ListMessagesResponse struct {
	Success  bool              `json:"success"`
	Messages []EnrichedMessage `json:"messages"`
}
