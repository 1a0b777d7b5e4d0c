package domain

import "time"

// Participant is one connection's presence inside a room. It lives in
// exactly one of Room.Members or Room.Waiting at a time.
type Participant struct {
	ConnectionID string
	Username     string
	IsHost       bool
	JoinedAt     time.Time
}

func NewParticipant(connectionID, username string) *Participant {
	return &Participant{
		ConnectionID: connectionID,
		Username:     username,
		JoinedAt:     time.Now().UTC(),
	}
}

// Info converts the participant to its wire representation.
func (p *Participant) Info() UserInfo {
	return UserInfo{
		ID:       p.ConnectionID,
		Username: p.Username,
		IsHost:   p.IsHost,
	}
}
