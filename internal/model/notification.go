package model

// NotificationType is the kind of mutation a notification reports.
type NotificationType string

const (
	NotificationLike    NotificationType = "like"
	NotificationDislike NotificationType = "dislike"
)

// Valid reports whether t is a known notification type.
func (t NotificationType) Valid() bool {
	return t == NotificationLike || t == NotificationDislike
}

// Notification is built, dispatched and discarded. Never persisted.
type Notification struct {
	Type        NotificationType `json:"type"`
	UserID      string           `json:"userId"`
	UserDetails UserProfile      `json:"userDetails"`
	PostID      string           `json:"postId"`
	Message     string           `json:"message"`
}
