package chat_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vintagechat/client-go/pkg/chat"
)

func TestRoom_DisplayTitle(t *testing.T) {
	room := chat.Room{Title: "general_discussion_corner"}
	assert.Equal(t, "general discussion corner", room.DisplayTitle())

	plain := chat.Room{Title: "lobby"}
	assert.Equal(t, "lobby", plain.DisplayTitle())
}

func TestRoom_Public(t *testing.T) {
	assert.True(t, chat.Room{}.Public())
	assert.False(t, chat.Room{Participants: []string{"alice"}}.Public())
}

func TestRoom_DecodesServerPayload(t *testing.T) {
	payload := `{"id":7,"title":"random","description":"anything goes","created_at":"2024-01-01T00:00:00Z","owner":"alice","participants":["alice","bob"]}`

	var room chat.Room
	require.NoError(t, json.Unmarshal([]byte(payload), &room))
	assert.Equal(t, 7, room.ID)
	assert.Equal(t, "random", room.Title)
	assert.Equal(t, "alice", room.Owner)
	assert.Equal(t, []string{"alice", "bob"}, room.Participants)
}
