package relay

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/samber/lo"
)

type members map[string]struct{}

// Registry is the authoritative mapping of rooms to participant sets and of
// participants to their live connection handle. All connection goroutines
// share one instance; a single RWMutex guards both maps.
//
// Delivery is best-effort and at-most-once: sends to absent participants or
// full buffers are dropped silently, and no failure ever aborts delivery to
// the remaining members of a room.
type Registry struct {
	mu          sync.RWMutex
	log         *slog.Logger
	rooms       map[string]members
	connections map[string]Handle
}

// NewRegistry returns a registry seeded with the two well-known rooms. All
// other rooms are created lazily on first join and live for the whole process;
// emptied rooms are kept.
func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		log: log,
		rooms: map[string]members{
			"global":  {},
			"friends": {},
		},
		connections: make(map[string]Handle),
	}
}

// Connect registers handle under participantID, adds the participant to
// roomID (creating the room if needed) and broadcasts the updated membership
// list. Reconnecting with an id that is already live replaces the previous
// handle: routing is last-writer-wins, the superseded handle is closed so it
// does not leak, and any membership the id held in another room is removed so
// a participant is only ever a member of the room its live connection is
// bound to.
func (r *Registry) Connect(handle Handle, participantID, roomID string) {
	r.mu.Lock()
	prev := r.connections[participantID]
	r.connections[participantID] = handle
	var vacated []string
	for name, occupants := range r.rooms {
		if name == roomID {
			continue
		}
		if _, member := occupants[participantID]; member {
			delete(occupants, participantID)
			vacated = append(vacated, name)
		}
	}
	room, ok := r.rooms[roomID]
	if !ok {
		room = make(members)
		r.rooms[roomID] = room
	}
	room[participantID] = struct{}{}
	r.mu.Unlock()

	if prev != nil && prev != handle {
		r.log.Info("participant reconnected, closing superseded handle", "participant", participantID)
		_ = prev.Close()
	}
	for _, name := range vacated {
		r.BroadcastMembership(name)
	}
	r.BroadcastMembership(roomID)
}

// Disconnect removes the participant's handle and room membership and
// broadcasts the updated list. It is idempotent: disconnecting an absent
// participant is a no-op apart from the broadcast.
func (r *Registry) Disconnect(participantID, roomID string) {
	r.mu.Lock()
	delete(r.connections, participantID)
	if room, ok := r.rooms[roomID]; ok {
		delete(room, participantID)
	}
	r.mu.Unlock()

	r.BroadcastMembership(roomID)
}

// Release disconnects participantID only if handle is still its registered
// handle. A connection loop that was superseded by a reconnect must not tear
// down the entries now owned by the newer session.
func (r *Registry) Release(handle Handle, participantID, roomID string) {
	r.mu.RLock()
	current := r.connections[participantID]
	r.mu.RUnlock()
	if current != handle {
		return
	}
	r.Disconnect(participantID, roomID)
}

// SendTo delivers payload to the participant's current handle if one exists.
// Absent participants and full buffers drop the payload silently.
func (r *Registry) SendTo(participantID string, payload []byte) {
	r.mu.RLock()
	handle, ok := r.connections[participantID]
	r.mu.RUnlock()
	if !ok {
		r.log.Debug("dropping payload for unknown participant", "participant", participantID)
		return
	}
	if !handle.TrySend(payload) {
		r.log.Debug("dropping payload, send buffer unavailable", "participant", participantID)
	}
}

// BroadcastToRoom delivers payload to every member of roomID with a live
// handle. The member set is snapshotted under the lock and sends happen
// outside it; iteration order is unspecified.
func (r *Registry) BroadcastToRoom(roomID string, payload []byte) {
	for _, handle := range r.roomHandles(roomID) {
		if !handle.TrySend(payload) {
			r.log.Debug("dropping broadcast for one recipient", "room", roomID)
		}
	}
}

// BroadcastMembership sends the current user_list of roomID to its members.
func (r *Registry) BroadcastMembership(roomID string) {
	r.mu.RLock()
	room, ok := r.rooms[roomID]
	if !ok {
		r.mu.RUnlock()
		return
	}
	users := lo.Keys(room)
	r.mu.RUnlock()

	payload, err := json.Marshal(userListPayload{Type: TypeUserList, Users: users})
	if err != nil {
		r.log.Error("marshaling user list", "room", roomID, "error", err)
		return
	}
	r.BroadcastToRoom(roomID, payload)
}

// CloseAll closes every live handle. Used during shutdown.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	handles := lo.Values(r.connections)
	r.mu.RUnlock()

	for _, handle := range handles {
		_ = handle.Close()
	}
}

func (r *Registry) roomHandles(roomID string) []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	handles := make([]Handle, 0, len(room))
	for participantID := range room {
		if handle, exists := r.connections[participantID]; exists {
			handles = append(handles, handle)
		}
	}
	return handles
}
