// Package chat defines the data model shared by the REST and WebSocket
// layers: rooms, messages, and the date grouping used for rendering.
package chat

import "strings"

// Room is a chat room as delivered by the server. The id is
// server-assigned and unique within the roster.
type Room struct {
	ID           int      `json:"id"`
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	CreatedAt    string   `json:"created_at,omitempty"`
	Owner        string   `json:"owner"`
	Participants []string `json:"participants,omitempty"`
}

// DisplayTitle returns the title with underscores substituted for
// spaces. Titles are stored underscore-separated on the server.
func (r Room) DisplayTitle() string {
	return strings.ReplaceAll(r.Title, "_", " ")
}

// Public reports whether anyone may join the room. An empty participant
// set means the room is open.
func (r Room) Public() bool {
	return len(r.Participants) == 0
}

// Message is a single chat message. Messages carry no server-assigned
// id; within one room's feed they are kept in arrival order.
type Message struct {
	Message         string `json:"message"`
	Username        string `json:"username"`
	ProfileImageURL string `json:"profile_image_url"`
	Timestamp       string `json:"timestamp"`
}

// User is a user profile as returned by the REST API.
type User struct {
	ID           int    `json:"id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	ProfileImage string `json:"profile_image"`
	Bio          string `json:"bio"`
}
