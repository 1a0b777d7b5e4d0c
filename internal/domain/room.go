package domain

import "time"

// Room is an isolated meeting session. Members and Waiting keep arrival
// order; their connection identifiers are disjoint. HostID names the member
// holding the host role explicitly rather than relying on list position.
type Room struct {
	ID        string
	HostID    string
	Members   []*Participant
	Waiting   []*Participant
	CreatedAt time.Time
}

func NewRoom(id string) *Room {
	return &Room{
		ID:        id,
		CreatedAt: time.Now().UTC(),
	}
}

// Host returns the current host member, or nil if the room has none.
func (r *Room) Host() *Participant {
	if r.HostID == "" {
		return nil
	}
	for _, m := range r.Members {
		if m.ConnectionID == r.HostID {
			return m
		}
	}
	return nil
}

// Member returns the member with the given connection id, or nil.
func (r *Room) Member(connectionID string) *Participant {
	for _, m := range r.Members {
		if m.ConnectionID == connectionID {
			return m
		}
	}
	return nil
}

// IsEmpty reports whether both the member list and the waiting queue are
// empty, which makes the room eligible for deletion.
func (r *Room) IsEmpty() bool {
	return len(r.Members) == 0 && len(r.Waiting) == 0
}

// Roster returns the member list in arrival order as wire entries.
func (r *Room) Roster() []UserInfo {
	roster := make([]UserInfo, 0, len(r.Members))
	for _, m := range r.Members {
		roster = append(roster, m.Info())
	}
	return roster
}

// PendingList returns the waiting queue in arrival order as wire entries.
func (r *Room) PendingList() []UserInfo {
	pending := make([]UserInfo, 0, len(r.Waiting))
	for _, w := range r.Waiting {
		pending = append(pending, w.Info())
	}
	return pending
}
