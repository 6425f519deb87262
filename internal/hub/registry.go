package hub

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Transport is the outbound half of a live connection.
type Transport interface {
	// Send queues one encoded frame. An error means the transport is broken.
	Send(payload []byte) error
	Close(reason string)
}

// Conn is one registered realtime session.
type Conn struct {
	ID       string
	RoomCode string
	UserID   int64
	Username string
	OpenedAt time.Time

	transport Transport
}

// Registry tracks live connections and the rooms they belong to.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Conn
	rooms map[string]map[string]struct{}
	now   func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*Conn),
		rooms: make(map[string]map[string]struct{}),
		now:   time.Now,
	}
}

// Register records a connection and returns it with a fresh id.
func (r *Registry) Register(roomCode string, userID int64, username string, t Transport) *Conn {
	c := &Conn{
		ID:        uuid.NewString(),
		RoomCode:  roomCode,
		UserID:    userID,
		Username:  username,
		OpenedAt:  r.now(),
		transport: t,
	}
	r.mu.Lock()
	r.conns[c.ID] = c
	members, ok := r.rooms[roomCode]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[roomCode] = members
	}
	members[c.ID] = struct{}{}
	r.mu.Unlock()
	return c
}

// Unregister removes a connection. Only the first call for an id reports true.
func (r *Registry) Unregister(id string) (*Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	delete(r.conns, id)
	if members := r.rooms[c.RoomCode]; members != nil {
		delete(members, id)
		if len(members) == 0 {
			delete(r.rooms, c.RoomCode)
		}
	}
	return c, true
}

// ListByRoom returns a point-in-time snapshot of the room's connections, oldest first.
func (r *Registry) ListByRoom(roomCode string) []*Conn {
	r.mu.RLock()
	members := r.rooms[roomCode]
	out := make([]*Conn, 0, len(members))
	for id := range members {
		out = append(out, r.conns[id])
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].OpenedAt.Before(out[j].OpenedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *Registry) Lookup(id string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// UserConnections counts the user's live connections in a room.
func (r *Registry) UserConnections(roomCode string, userID int64) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for id := range r.rooms[roomCode] {
		if r.conns[id].UserID == userID {
			n++
		}
	}
	return n
}

// RoomSize counts the room's live connections.
func (r *Registry) RoomSize(roomCode string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomCode])
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
