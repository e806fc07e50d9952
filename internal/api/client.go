// Package api is the REST client for the chat service: room listing and
// creation plus the account endpoints that produce the bearer tokens
// used to authenticate per-room socket connections.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vintagechat/client-go/pkg/chat"
)

const defaultTimeout = 15 * time.Second

// TokenPair holds the bearer tokens issued at login. The access token
// authenticates REST calls and per-room socket handshakes; refreshing
// is the server's protocol, the client only exchanges the strings.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// CreateRoomRequest is the body of a room creation call. Title spaces
// are normalized to underscores before sending.
type CreateRoomRequest struct {
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	RoomType     string   `json:"room_type,omitempty"`
	Participants []string `json:"participants,omitempty"`
}

// Client talks to the chat service REST API rooted at a base URL such
// as "http://127.0.0.1:8000/api/".
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a Client for the given base URL.
func New(baseURL string) *Client {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

// ListRooms fetches the full room collection. This is the roster seed;
// it is performed once per session and is not retried here.
func (c *Client) ListRooms(ctx context.Context) ([]chat.Room, error) {
	var rooms []chat.Room
	if err := c.do(ctx, http.MethodGet, "chat/rooms/", "", nil, &rooms); err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	return rooms, nil
}

// CreateRoom creates a room on behalf of the authenticated user.
func (c *Client) CreateRoom(ctx context.Context, token string, req CreateRoomRequest) (chat.Room, error) {
	req.Title = strings.ReplaceAll(req.Title, " ", "_")

	var room chat.Room
	if err := c.do(ctx, http.MethodPost, "chat/rooms/create/", token, req, &room); err != nil {
		return chat.Room{}, fmt.Errorf("failed to create room: %w", err)
	}
	return room, nil
}

// Login exchanges credentials for a token pair.
func (c *Client) Login(ctx context.Context, username, password string) (TokenPair, error) {
	body := map[string]string{"username": username, "password": password}

	var tokens TokenPair
	if err := c.do(ctx, http.MethodPost, "token/", "", body, &tokens); err != nil {
		return TokenPair{}, fmt.Errorf("failed to log in: %w", err)
	}
	return tokens, nil
}

// Refresh exchanges a refresh token for a fresh access token.
func (c *Client) Refresh(ctx context.Context, refresh string) (TokenPair, error) {
	body := map[string]string{"refresh": refresh}

	var tokens TokenPair
	if err := c.do(ctx, http.MethodPost, "token/refresh/", "", body, &tokens); err != nil {
		return TokenPair{}, fmt.Errorf("failed to refresh token: %w", err)
	}
	if tokens.Refresh == "" {
		tokens.Refresh = refresh
	}
	return tokens, nil
}

// Register creates a new account.
func (c *Client) Register(ctx context.Context, username, email, password string) (chat.User, error) {
	body := map[string]string{"username": username, "email": email, "password": password}

	var user chat.User
	if err := c.do(ctx, http.MethodPost, "users/register/", "", body, &user); err != nil {
		return chat.User{}, fmt.Errorf("failed to register: %w", err)
	}
	return user, nil
}

// Profile fetches the authenticated user's own profile.
func (c *Client) Profile(ctx context.Context, token string) (chat.User, error) {
	var user chat.User
	if err := c.do(ctx, http.MethodGet, "users/profile/", token, nil, &user); err != nil {
		return chat.User{}, fmt.Errorf("failed to fetch profile: %w", err)
	}
	return user, nil
}

// ListUsers fetches all registered users, used when picking private
// room participants.
func (c *Client) ListUsers(ctx context.Context, token string) ([]chat.User, error) {
	var users []chat.User
	if err := c.do(ctx, http.MethodGet, "users/", token, nil, &users); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
