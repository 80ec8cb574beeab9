// Package rooms tracks live connections and the rooms derived from the
// identity each connection declares. Membership is pure bookkeeping: no
// room exists independently of its members and nothing is persisted.
package rooms

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sink is the outbound side of a live connection. The directory never
// touches raw sockets; the transport layer satisfies this interface.
type Sink interface {
	ID() uuid.UUID
	Send(msg []byte)
	Close(err error)
}

// UserRoom names the room holding every connection of one logical user.
func UserRoom(userID string) string { return "user-" + userID }

// RoleRoom names the room holding every connection whose declared identity
// has the given role.
func RoleRoom(role string) string { return "role-" + role }

type entry struct {
	sink      Sink
	userID    string
	userRoom  string
	roleRoom  string
	createdAt time.Time
}

type Directory struct {
	mu    sync.RWMutex
	conns map[uuid.UUID]*entry
	rooms map[string]map[uuid.UUID]Sink

	logger *slog.Logger
}

func NewDirectory(logger *slog.Logger) *Directory {
	return &Directory{
		conns:  make(map[uuid.UUID]*entry),
		rooms:  make(map[string]map[uuid.UUID]Sink),
		logger: logger.With(slog.String("component", "room_directory")),
	}
}

// Register adds a connection with no identity yet.
func (d *Directory) Register(s Sink) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	connID := s.ID()
	if _, exists := d.conns[connID]; exists {
		return errors.New("connection is already registered")
	}
	d.conns[connID] = &entry{sink: s, createdAt: time.Now()}
	d.logger.Debug("Connection registered", slog.String("connID", connID.String()))
	return nil
}

// Deregister removes a connection and its room memberships. Deregistering
// an unknown connection is a no-op.
func (d *Directory) Deregister(connID uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.conns[connID]
	if !ok {
		return
	}
	d.leaveLocked(connID, e)
	delete(d.conns, connID)
	d.logger.Debug("Connection deregistered", slog.String("connID", connID.String()))
}

// Announce joins the connection to its derived user and role rooms and
// returns the computed room names. Re-announcing replaces any membership
// from a prior announce on the same connection, so a connection is always
// in at most one user room and one role room. Empty identity fields are
// tolerated: joining a room keyed by an empty string is harmless but
// useless.
func (d *Directory) Announce(connID uuid.UUID, userID, role string) (userRoom, roleRoom string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.conns[connID]
	if !ok {
		return "", "", errors.New("cannot announce identity for unknown connection")
	}

	d.leaveLocked(connID, e)

	e.userID = userID
	e.userRoom = UserRoom(userID)
	e.roleRoom = RoleRoom(role)
	d.joinLocked(e.userRoom, e.sink)
	d.joinLocked(e.roleRoom, e.sink)

	d.logger.Debug("Connection joined rooms",
		slog.String("connID", connID.String()),
		slog.String("userRoom", e.userRoom),
		slog.String("roleRoom", e.roleRoom),
	)
	return e.userRoom, e.roleRoom, nil
}

// Members returns the sinks currently joined to a room.
func (d *Directory) Members(room string) []Sink {
	d.mu.RLock()
	defer d.mu.RUnlock()

	members, ok := d.rooms[room]
	if !ok {
		return nil
	}
	sinks := make([]Sink, 0, len(members))
	for _, s := range members {
		sinks = append(sinks, s)
	}
	return sinks
}

// All returns every registered sink, announced or not.
func (d *Directory) All() []Sink {
	d.mu.RLock()
	defer d.mu.RUnlock()

	sinks := make([]Sink, 0, len(d.conns))
	for _, e := range d.conns {
		sinks = append(sinks, e.sink)
	}
	return sinks
}

// ConnectionCount reports how many live connections have announced the
// given user id.
func (d *Directory) ConnectionCount(userID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	count := 0
	for _, e := range d.conns {
		if e.userID == userID && e.userID != "" {
			count++
		}
	}
	return count
}

// OldestConnection returns the longest-lived connection announced by the
// given user, for connection cycling.
func (d *Directory) OldestConnection(userID string) (Sink, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var oldest *entry
	for _, e := range d.conns {
		if e.userID != userID || e.userID == "" {
			continue
		}
		if oldest == nil || e.createdAt.Before(oldest.createdAt) {
			oldest = e
		}
	}
	if oldest == nil {
		return nil, false
	}
	return oldest.sink, true
}

// joinLocked and leaveLocked require d.mu to be held for writing.

func (d *Directory) joinLocked(room string, s Sink) {
	members, ok := d.rooms[room]
	if !ok {
		members = make(map[uuid.UUID]Sink)
		d.rooms[room] = members
	}
	members[s.ID()] = s
}

func (d *Directory) leaveLocked(connID uuid.UUID, e *entry) {
	for _, room := range []string{e.userRoom, e.roleRoom} {
		if room == "" {
			continue
		}
		members, ok := d.rooms[room]
		if !ok {
			continue
		}
		delete(members, connID)
		// Memory hygiene: drop the room once the last member leaves.
		if len(members) == 0 {
			delete(d.rooms, room)
		}
	}
	e.userRoom, e.roleRoom, e.userID = "", "", ""
}
