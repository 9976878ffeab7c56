package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/chirp-social/realtime/internal/model"
)

func TestDocID(t *testing.T) {
	hex := "64b7f0c2a1b2c3d4e5f60718"
	oid, _ := primitive.ObjectIDFromHex(hex)

	assert.Equal(t, oid, docID(hex))
	assert.Equal(t, "0190b6f4-uuid", docID("0190b6f4-uuid"))
}

func TestIDFilter(t *testing.T) {
	hex := "64b7f0c2a1b2c3d4e5f60718"
	oid, _ := primitive.ObjectIDFromHex(hex)

	assert.Equal(t, bson.M{"_id": bson.M{"$in": bson.A{hex, oid}}}, idFilter(hex))
	assert.Equal(t, bson.M{"_id": "plain"}, idFilter("plain"))
}

func TestOrderByIDs(t *testing.T) {
	byID := map[string]model.Message{
		"m1": {ID: "m1"},
		"m2": {ID: "m2"},
	}
	got := orderByIDs([]string{"m2", "gone", "m1"}, byID)
	assert.Equal(t, []model.Message{{ID: "m2"}, {ID: "m1"}}, got)
}
