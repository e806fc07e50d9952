// Package feed keeps the message feed for the currently selected room
// consistent across room switches and connection interruptions. The
// server resends the full history on every fresh connection, so gap
// recovery is a wholesale replace, never a merge.
package feed

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/vintagechat/client-go/internal/socket"
	"github.com/vintagechat/client-go/pkg/chat"
)

// Protocol is the fixed subprotocol name offered on every per-room
// connection, ahead of the bearer token.
const Protocol = "chat-protocol"

// historyType marks the snapshot frame sent once per connection.
const historyType = "chat_history"

// ErrNotConnected is returned by Send when no room socket is open.
var ErrNotConnected = socket.ErrNotConnected

// historyFrame is the snapshot delivered as the first frame after a
// connection opens. Every other inbound frame is a single chat.Message.
type historyFrame struct {
	Type     string         `json:"type"`
	Messages []chat.Message `json:"messages"`
}

// outboundFrame is the only frame shape the client transmits.
type outboundFrame struct {
	Message string `json:"message"`
}

// Option configures a Sync.
type Option func(*Sync)

// WithSocketOptions forwards options to the room socket supervisor.
func WithSocketOptions(opts ...socket.Option) Option {
	return func(s *Sync) {
		s.sockOpts = opts
	}
}

// WithOnAppend registers a callback for each live message appended to
// the feed. Runs on the socket goroutine; must not block.
func WithOnAppend(fn func(chat.Message)) Option {
	return func(s *Sync) {
		s.onAppend = fn
	}
}

// WithOnSnapshot registers a callback for each history snapshot that
// replaces the feed. Runs on the socket goroutine; must not block.
func WithOnSnapshot(fn func([]chat.Message)) Option {
	return func(s *Sync) {
		s.onSnapshot = fn
	}
}

// Sync owns the feed of exactly one selected room and that room's
// socket. Selecting another room tears both down and starts over; no
// feed state is cached across selections.
type Sync struct {
	urlFor     func(roomID int) string
	sockOpts   []socket.Option
	onAppend   func(chat.Message)
	onSnapshot func([]chat.Message)
	log        *logrus.Entry

	mu       sync.RWMutex
	roomID   int
	messages []chat.Message
	sup      *socket.Supervisor
}

// New creates a Sync. urlFor derives the socket endpoint for a room id.
func New(urlFor func(roomID int) string, opts ...Option) *Sync {
	s := &Sync{
		urlFor: urlFor,
		log:    logrus.WithField("component", "feed"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Select switches the feed to roomID: any previous socket is closed,
// the feed is cleared, and a new connection is opened with the fixed
// protocol name and the bearer token as ordered subprotocols. The
// history snapshot arrives as the first frame on the new connection.
func (s *Sync) Select(roomID int, token string) error {
	s.Deselect()

	s.mu.Lock()
	s.roomID = roomID
	s.messages = nil
	s.mu.Unlock()

	spec := socket.Spec{
		URL:          s.urlFor(roomID),
		Subprotocols: []string{Protocol, token},
	}
	sup, err := socket.Open(spec, s.handleEvent, s.sockOpts...)
	if err != nil {
		s.mu.Lock()
		s.roomID = 0
		s.mu.Unlock()
		return fmt.Errorf("failed to select room %d: %w", roomID, err)
	}

	s.mu.Lock()
	s.sup = sup
	s.mu.Unlock()

	s.log.WithField("room", roomID).Info("room selected")
	return nil
}

// Deselect closes the room socket deliberately and clears the feed.
// Safe to call when nothing is selected.
func (s *Sync) Deselect() {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.roomID = 0
	s.messages = nil
	s.mu.Unlock()

	if sup != nil {
		sup.Close()
	}
}

// Send transmits one message to the selected room. Returns
// ErrNotConnected when the socket is not open; nothing is queued and
// the local feed is untouched. The message is not appended locally
// either way: the server echoes it back on the inbound path, so the
// feed updates exactly once per sent message.
func (s *Sync) Send(text string) error {
	s.mu.RLock()
	sup := s.sup
	s.mu.RUnlock()

	if sup == nil {
		return ErrNotConnected
	}
	return sup.Send(outboundFrame{Message: text})
}

// Room returns the currently selected room id, zero when none.
func (s *Sync) Room() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roomID
}

// Messages returns a snapshot copy of the feed in arrival order.
func (s *Sync) Messages() []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages := make([]chat.Message, len(s.messages))
	copy(messages, s.messages)
	return messages
}

func (s *Sync) handleEvent(ev socket.Event) {
	switch ev.Type {
	case socket.EventOpen:
		// A fresh connection always brings a fresh snapshot; drop
		// whatever the previous connection accumulated.
		s.mu.Lock()
		s.messages = nil
		s.mu.Unlock()

	case socket.EventFrame:
		if err := s.apply(ev.Frame); err != nil {
			s.log.WithError(err).Error("failed to apply chat frame")
		}

	case socket.EventClosed:
		if !ev.WasClean {
			s.log.Warn("chat stream interrupted")
		}
	}
}

func (s *Sync) apply(frame []byte) error {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(frame, &head); err != nil {
		return fmt.Errorf("failed to decode frame: %w", err)
	}

	if head.Type == historyType {
		var history historyFrame
		if err := json.Unmarshal(frame, &history); err != nil {
			return fmt.Errorf("failed to decode history snapshot: %w", err)
		}

		// Keep an exact-capacity copy so the slice handed to the
		// snapshot callback never shares a backing array with the feed.
		snapshot := make([]chat.Message, len(history.Messages))
		copy(snapshot, history.Messages)

		s.mu.Lock()
		s.messages = snapshot
		s.mu.Unlock()

		s.log.WithField("messages", len(history.Messages)).Debug("history snapshot applied")
		if s.onSnapshot != nil {
			s.onSnapshot(history.Messages)
		}
		return nil
	}

	var msg chat.Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		return fmt.Errorf("failed to decode message: %w", err)
	}

	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()

	if s.onAppend != nil {
		s.onAppend(msg)
	}
	return nil
}
