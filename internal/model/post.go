package model

import "time"

// Post is the subset of a post record needed to route like notifications.
type Post struct {
	ID        string    `json:"_id" bson:"_id"`
	AuthorID  string    `json:"author" bson:"author"`
	Caption   string    `json:"caption,omitempty" bson:"caption,omitempty"`
	Likes     []string  `json:"likes" bson:"likes"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
}

// LikedBy reports whether userID has liked the post.
func (p *Post) LikedBy(userID string) bool {
	for _, id := range p.Likes {
		if id == userID {
			return true
		}
	}
	return false
}

// PostActionResponse is the response of like and dislike.
type PostActionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
