package directory

import (
	"errors"
	"sync"

	"github.com/polymeet/polymeet/internal/domain"
)

var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrNotFound       = errors.New("participant not found")
	ErrAlreadyPresent = errors.New("participant already present in room")
	ErrRoomOccupied   = errors.New("room already has members")
)

// RemovedFrom reports which set a participant was removed from.
type RemovedFrom int

const (
	RemovedNone RemovedFrom = iota
	RemovedMember
	RemovedWaiting
)

// Removal describes the outcome of RemoveByConnection.
type Removal struct {
	From        RemovedFrom
	WasHost     bool
	Participant *domain.Participant
}

// Directory owns the room map. Room state transitions themselves assume a
// single writer per room; callers must serialize mutations for the same
// room (the signaling router holds a per-room lock). The mutex here guards
// only the map index, since rooms are created and deleted concurrently
// across unrelated room keys.
type Directory struct {
	mu    sync.RWMutex
	rooms map[string]*domain.Room
}

func New() *Directory {
	return &Directory{
		rooms: make(map[string]*domain.Room),
	}
}

// EnsureRoom creates an empty room if absent and returns it. Idempotent.
func (d *Directory) EnsureRoom(roomID string) *domain.Room {
	d.mu.Lock()
	defer d.mu.Unlock()

	if room, ok := d.rooms[roomID]; ok {
		return room
	}

	room := domain.NewRoom(roomID)
	d.rooms[roomID] = room
	return room
}

// Room returns the room for the given id, if it exists.
func (d *Directory) Room(roomID string) (*domain.Room, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	room, ok := d.rooms[roomID]
	return room, ok
}

// Delete removes the room entirely.
func (d *Directory) Delete(roomID string) {
	d.mu.Lock()
	delete(d.rooms, roomID)
	d.mu.Unlock()
}

// AdmitFirstArrival inserts the participant as the sole member and host.
// Fails with ErrRoomOccupied if the room already has members.
func (d *Directory) AdmitFirstArrival(roomID string, p *domain.Participant) error {
	room, ok := d.Room(roomID)
	if !ok {
		return ErrRoomNotFound
	}

	if len(room.Members) > 0 {
		return ErrRoomOccupied
	}

	p.IsHost = true
	room.Members = append(room.Members, p)
	room.HostID = p.ConnectionID
	return nil
}

// EnqueueWaiting appends the participant to the waiting queue. Fails with
// ErrAlreadyPresent if the connection is already a member or waiting.
func (d *Directory) EnqueueWaiting(roomID string, p *domain.Participant) error {
	room, ok := d.Room(roomID)
	if !ok {
		return ErrRoomNotFound
	}

	if room.Member(p.ConnectionID) != nil {
		return ErrAlreadyPresent
	}
	for _, w := range room.Waiting {
		if w.ConnectionID == p.ConnectionID {
			return ErrAlreadyPresent
		}
	}

	p.IsHost = false
	room.Waiting = append(room.Waiting, p)
	return nil
}

// Admit moves the named waiting entry into the member list. A second call
// for the same connection fails with ErrNotFound rather than corrupting
// state, which makes racing admit/disconnect safe.
func (d *Directory) Admit(roomID, connectionID string) (*domain.Participant, error) {
	room, ok := d.Room(roomID)
	if !ok {
		return nil, ErrRoomNotFound
	}

	for i, w := range room.Waiting {
		if w.ConnectionID == connectionID {
			room.Waiting = append(room.Waiting[:i], room.Waiting[i+1:]...)
			w.IsHost = false
			room.Members = append(room.Members, w)
			return w, nil
		}
	}
	return nil, ErrNotFound
}

// Reject removes the named entry from the waiting queue.
func (d *Directory) Reject(roomID, connectionID string) (*domain.Participant, error) {
	room, ok := d.Room(roomID)
	if !ok {
		return nil, ErrRoomNotFound
	}

	for i, w := range room.Waiting {
		if w.ConnectionID == connectionID {
			room.Waiting = append(room.Waiting[:i], room.Waiting[i+1:]...)
			return w, nil
		}
	}
	return nil, ErrNotFound
}

// RemoveByConnection removes the connection from members or waiting,
// reporting which set it came from and whether it held the host role.
// Disconnect and explicit leave both funnel through here.
func (d *Directory) RemoveByConnection(roomID, connectionID string) (Removal, error) {
	room, ok := d.Room(roomID)
	if !ok {
		return Removal{}, ErrRoomNotFound
	}

	for i, m := range room.Members {
		if m.ConnectionID == connectionID {
			room.Members = append(room.Members[:i], room.Members[i+1:]...)
			wasHost := room.HostID == connectionID
			if wasHost {
				room.HostID = ""
			}
			return Removal{From: RemovedMember, WasHost: wasHost, Participant: m}, nil
		}
	}

	for i, w := range room.Waiting {
		if w.ConnectionID == connectionID {
			room.Waiting = append(room.Waiting[:i], room.Waiting[i+1:]...)
			return Removal{From: RemovedWaiting, Participant: w}, nil
		}
	}

	return Removal{}, ErrNotFound
}

// PromoteOldest hands the host role to the oldest remaining member. Used by
// the transfer-host departure policy.
func (d *Directory) PromoteOldest(roomID string) (*domain.Participant, error) {
	room, ok := d.Room(roomID)
	if !ok {
		return nil, ErrRoomNotFound
	}
	if len(room.Members) == 0 {
		return nil, ErrNotFound
	}

	next := room.Members[0]
	next.IsHost = true
	room.HostID = next.ConnectionID
	return next, nil
}

// IsEmpty reports whether the room has neither members nor waiting entries.
// Unknown rooms count as empty.
func (d *Directory) IsEmpty(roomID string) bool {
	room, ok := d.Room(roomID)
	if !ok {
		return true
	}
	return room.IsEmpty()
}

// FindConnection locates the room holding the given connection in either
// its member list or waiting queue. Disconnect handling starts here.
func (d *Directory) FindConnection(connectionID string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for id, room := range d.rooms {
		if room.Member(connectionID) != nil {
			return id, true
		}
		for _, w := range room.Waiting {
			if w.ConnectionID == connectionID {
				return id, true
			}
		}
	}
	return "", false
}
