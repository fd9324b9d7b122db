// Package room tracks which signaling connections belong to which room and
// fans relay messages out to the other members of a room.
//
// The registry only holds references for lookup and delivery. The connection
// resources behind each Member are owned by the signaling layer.
package room

import (
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrMemberClosed is returned by Member.Deliver when the member's outbound
	// channel has already been torn down. The registry evicts such members.
	ErrMemberClosed = errors.New("room: member closed")
	// ErrBackpressure is returned by Member.Deliver when the member cannot
	// accept more outbound data right now. The envelope is dropped for that
	// member only.
	ErrBackpressure = errors.New("room: member send queue full")
	// ErrRoomFull is returned by Join when a member cap is configured and the
	// room already holds that many members.
	ErrRoomFull = errors.New("room: room full")
)

// ConnID identifies a single connection for its whole lifetime.
type ConnID uuid.UUID

func NewConnID() ConnID {
	return ConnID(uuid.New())
}

func (id ConnID) String() string {
	return uuid.UUID(id).String()
}

// Envelope is a relay payload tagged with the connection that produced it.
type Envelope struct {
	Sender  ConnID
	Payload []byte
}

// Member is a room participant as seen by the registry.
//
// Deliver must not block; implementations queue the payload and return
// ErrBackpressure or ErrMemberClosed when they can't.
type Member interface {
	ID() ConnID
	Deliver(env Envelope) error
}

// BroadcastResult reports what happened to a single Broadcast call.
type BroadcastResult struct {
	Delivered int
	Failed    int
	Evicted   int
}

// Info is a read-only view of a room for introspection endpoints.
type Info struct {
	Code    string `json:"code"`
	Members int    `json:"members"`
}

// Registry maps room codes to their member sets.
//
// A room exists exactly while it has at least one member.
type Registry struct {
	maxMembers int

	mu    sync.Mutex
	rooms map[string]map[ConnID]Member
}

// NewRegistry returns an empty registry. maxMembers <= 0 means rooms are
// unbounded.
func NewRegistry(maxMembers int) *Registry {
	if maxMembers < 0 {
		maxMembers = 0
	}
	return &Registry{
		maxMembers: maxMembers,
		rooms:      make(map[string]map[ConnID]Member),
	}
}

// Join adds m to the room identified by code, creating the room if needed.
// Joining twice is a no-op. The only error is ErrRoomFull, which can only
// occur when the registry was built with a member cap.
func (r *Registry) Join(code string, m Member) error {
	if m == nil {
		return nil
	}
	id := m.ID()

	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[code]
	if ok {
		if _, dup := members[id]; dup {
			return nil
		}
		if r.maxMembers > 0 && len(members) >= r.maxMembers {
			return ErrRoomFull
		}
	} else {
		members = make(map[ConnID]Member)
		r.rooms[code] = members
	}
	members[id] = m
	return nil
}

// Leave removes m from the room. The room is deleted once its last member
// leaves. Unknown rooms and non-members are ignored.
func (r *Registry) Leave(code string, m Member) {
	if m == nil {
		return
	}
	r.mu.Lock()
	r.removeLocked(code, m.ID(), nil)
	r.mu.Unlock()
}

// Broadcast delivers env to every member of the room except the one whose ID
// equals excluding. Members are snapshotted under the lock and delivered to
// outside it, so a slow member never holds up registry mutations.
func (r *Registry) Broadcast(code string, env Envelope, excluding ConnID) BroadcastResult {
	r.mu.Lock()
	members := r.rooms[code]
	targets := make([]Member, 0, len(members))
	for id, m := range members {
		if id == excluding {
			continue
		}
		targets = append(targets, m)
	}
	r.mu.Unlock()

	var res BroadcastResult
	for _, m := range targets {
		err := m.Deliver(env)
		if err == nil {
			res.Delivered++
			continue
		}
		res.Failed++
		if errors.Is(err, ErrMemberClosed) && r.evict(code, m) {
			res.Evicted++
		}
	}
	return res
}

// evict drops m from the room only if the registered member for its ID is
// still m.
func (r *Registry) evict(code string, m Member) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(code, m.ID(), m)
}

func (r *Registry) removeLocked(code string, id ConnID, expect Member) bool {
	members, ok := r.rooms[code]
	if !ok {
		return false
	}
	cur, ok := members[id]
	if !ok {
		return false
	}
	if expect != nil && cur != expect {
		return false
	}
	delete(members, id)
	if len(members) == 0 {
		delete(r.rooms, code)
	}
	return true
}

// Rooms returns the number of non-empty rooms.
func (r *Registry) Rooms() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// Members returns the number of members currently joined to code.
func (r *Registry) Members(code string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms[code])
}

// Snapshot lists every room with its member count, sorted by code.
func (r *Registry) Snapshot() []Info {
	r.mu.Lock()
	out := make([]Info, 0, len(r.rooms))
	for code, members := range r.rooms {
		out = append(out, Info{Code: code, Members: len(members)})
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}
