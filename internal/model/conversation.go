// Package model defines data structures for the social realtime core.
package model

import (
	"sort"
	"strings"
	"time"
)

// Conversation is the single thread between an unordered pair of users.
// Messages holds message ids in send order and is append-only.
type Conversation struct {
	ID           string    `json:"_id" bson:"_id"`
	Participants []string  `json:"participants" bson:"participants"`
	PairKey      string    `json:"-" bson:"pairKey"`
	Messages     []string  `json:"messages" bson:"messages"`
	CreatedAt    time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt" bson:"updatedAt"`
}

// Pair returns the participants of a conversation in canonical order.
func Pair(a, b string) []string {
	p := []string{a, b}
	sort.Strings(p)
	return p
}

// PairKey identifies the conversation between a and b independent of order.
// Ids are validated upstream and never contain the separator.
func PairKey(a, b string) string {
	return strings.Join(Pair(a, b), ":")
}
