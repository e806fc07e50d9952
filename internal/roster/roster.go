// Package roster keeps the client-side room collection consistent with
// the service: a one-shot REST seed plus a continuous delta stream on
// the roster socket.
package roster

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/vintagechat/client-go/internal/socket"
	"github.com/vintagechat/client-go/pkg/chat"
)

// Delta event types pushed on the roster channel.
const (
	eventRoomCreated = "room_created"
	eventRoomDeleted = "room_deleted"
	eventRoomUpdated = "room_updated"
)

// rosterFrame is one inbound roster event. The service reuses the
// "message" field for every payload shape: a full Room on create and
// update, a bare id on delete.
type rosterFrame struct {
	Type    string          `json:"type"`
	Message json.RawMessage `json:"message"`
}

// RoomLister is the REST collaborator providing the bulk seed.
type RoomLister interface {
	ListRooms(ctx context.Context) ([]chat.Room, error)
}

// Option configures a Sync.
type Option func(*Sync)

// WithSocketOptions forwards options to the roster socket supervisor.
func WithSocketOptions(opts ...socket.Option) Option {
	return func(s *Sync) {
		s.sockOpts = opts
	}
}

// WithOnChange registers a callback invoked after every roster
// mutation. It runs on the socket goroutine and must not block.
func WithOnChange(fn func()) Option {
	return func(s *Sync) {
		s.onChange = fn
	}
}

// Sync owns the roster collection and the roster socket for the
// lifetime of the session. Arrival order is retained for stable
// rendering; identity is the room id.
type Sync struct {
	lister   RoomLister
	url      string
	sockOpts []socket.Option
	onChange func()
	log      *logrus.Entry

	mu    sync.RWMutex
	rooms []chat.Room
	sup   *socket.Supervisor
}

// New creates a Sync seeded from lister and streaming from the roster
// socket at url.
func New(lister RoomLister, url string, opts ...Option) *Sync {
	s := &Sync{
		lister: lister,
		url:    url,
		log:    logrus.WithField("component", "roster"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize performs the bulk seed load and sets the roster to exactly
// that sequence. On failure the roster is left empty and the error is
// returned; there is no automatic retry.
func (s *Sync) Initialize(ctx context.Context) error {
	rooms, err := s.lister.ListRooms(ctx)
	if err != nil {
		return fmt.Errorf("failed to seed roster: %w", err)
	}

	s.mu.Lock()
	s.rooms = rooms
	s.mu.Unlock()

	s.log.WithField("rooms", len(rooms)).Info("roster seeded")
	s.notify()
	return nil
}

// Start opens the roster socket and begins applying deltas in arrival
// order. Deltas missed while the socket is reconnecting are lost; the
// seed is not re-fetched.
func (s *Sync) Start() error {
	sup, err := socket.Open(socket.Spec{URL: s.url}, s.handleEvent, s.sockOpts...)
	if err != nil {
		return fmt.Errorf("failed to start roster sync: %w", err)
	}

	s.mu.Lock()
	s.sup = sup
	s.mu.Unlock()
	return nil
}

// Stop closes the roster socket deliberately. The roster itself is
// kept; only the delta stream ends.
func (s *Sync) Stop() {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()

	if sup != nil {
		sup.Close()
	}
}

// Rooms returns a snapshot copy of the roster in arrival order.
func (s *Sync) Rooms() []chat.Room {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rooms := make([]chat.Room, len(s.rooms))
	copy(rooms, s.rooms)
	return rooms
}

func (s *Sync) handleEvent(ev socket.Event) {
	switch ev.Type {
	case socket.EventFrame:
		if err := s.apply(ev.Frame); err != nil {
			s.log.WithError(err).Error("failed to apply roster frame")
		}
	case socket.EventClosed:
		if !ev.WasClean {
			s.log.Warn("roster stream interrupted")
		}
	}
}

func (s *Sync) apply(frame []byte) error {
	var delta rosterFrame
	if err := json.Unmarshal(frame, &delta); err != nil {
		return fmt.Errorf("failed to decode frame: %w", err)
	}

	switch delta.Type {
	case eventRoomCreated:
		var room chat.Room
		if err := json.Unmarshal(delta.Message, &room); err != nil {
			return fmt.Errorf("failed to decode created room: %w", err)
		}
		s.insert(room)

	case eventRoomDeleted:
		var ref struct {
			ID int `json:"id"`
		}
		if err := json.Unmarshal(delta.Message, &ref); err != nil {
			return fmt.Errorf("failed to decode deleted room: %w", err)
		}
		s.remove(ref.ID)

	case eventRoomUpdated:
		var room chat.Room
		if err := json.Unmarshal(delta.Message, &room); err != nil {
			return fmt.Errorf("failed to decode updated room: %w", err)
		}
		s.replace(room)

	default:
		s.log.WithField("type", delta.Type).Debug("ignoring unknown roster event")
	}
	return nil
}

// insert appends the room unless its id is already present. Duplicate
// create events are delivered by the service and must be idempotent.
func (s *Sync) insert(room chat.Room) {
	s.mu.Lock()
	for _, existing := range s.rooms {
		if existing.ID == room.ID {
			s.mu.Unlock()
			return
		}
	}
	s.rooms = append(s.rooms, room)
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{"room": room.ID, "title": room.Title}).Debug("room created")
	s.notify()
}

// remove deletes the room by id; unknown ids are a no-op.
func (s *Sync) remove(id int) {
	s.mu.Lock()
	kept := s.rooms[:0]
	removed := false
	for _, room := range s.rooms {
		if room.ID == id {
			removed = true
			continue
		}
		kept = append(kept, room)
	}
	s.rooms = kept
	s.mu.Unlock()

	if removed {
		s.log.WithField("room", id).Debug("room deleted")
		s.notify()
	}
}

// replace swaps the room with the matching id wholesale, keeping its
// position; unknown ids are a no-op.
func (s *Sync) replace(room chat.Room) {
	s.mu.Lock()
	replaced := false
	for i, existing := range s.rooms {
		if existing.ID == room.ID {
			s.rooms[i] = room
			replaced = true
			break
		}
	}
	s.mu.Unlock()

	if replaced {
		s.log.WithField("room", room.ID).Debug("room updated")
		s.notify()
	}
}

func (s *Sync) notify() {
	if s.onChange != nil {
		s.onChange()
	}
}
