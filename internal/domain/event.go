package domain

import (
	"encoding/json"
	"errors"

	"github.com/pion/webrtc/v3"
)

// EventKind tags every message exchanged over the signaling channel.
type EventKind string

// Client to server.
const (
	KindJoinRequest  EventKind = "join-request"
	KindAdmitUser    EventKind = "admit-user"
	KindRejectUser   EventKind = "reject-user"
	KindEndMeeting   EventKind = "end-meeting"
	KindLeave        EventKind = "leave"
	KindOffer        EventKind = "offer"
	KindAnswer       EventKind = "answer"
	KindICECandidate EventKind = "ice-candidate"
)

// Server to client.
const (
	KindConnected       EventKind = "connected"
	KindYouAreHost      EventKind = "you-are-host"
	KindWaitingForHost  EventKind = "waiting-for-host"
	KindPendingRequests EventKind = "pending-requests"
	KindAdmitted        EventKind = "admitted"
	KindRoomUsers       EventKind = "room-users"
	KindUserJoined      EventKind = "user-joined"
	KindUserLeft        EventKind = "user-left"
	KindRejected        EventKind = "rejected"
	KindMeetingEnded    EventKind = "meeting-ended"
)

var (
	ErrUnknownEvent   = errors.New("unknown event kind")
	ErrMalformedEvent = errors.New("malformed event payload")
)

// UserInfo is the wire representation of a participant.
type UserInfo struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	IsHost   bool   `json:"isHost,omitempty"`
}

// Event is the single envelope for all signaling traffic. Which fields are
// meaningful depends on Type; DecodeInbound enforces the per-kind schema at
// the boundary instead of trusting message shape.
type Event struct {
	Type     EventKind `json:"type"`
	RoomID   string    `json:"roomId,omitempty"`
	Username string    `json:"username,omitempty"`
	UserID   string    `json:"userId,omitempty"`
	To       string    `json:"to,omitempty"`
	From     string    `json:"from,omitempty"`
	Reason   string    `json:"reason,omitempty"`

	Users []UserInfo `json:"users,omitempty"`

	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

// DecodeInbound parses and validates a client message. Anything that fails
// validation is rejected here so the router only ever sees well-formed
// events.
func DecodeInbound(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, err
	}
	if err := ev.validateInbound(); err != nil {
		return Event{}, err
	}
	return ev, nil
}

func (e *Event) validateInbound() error {
	switch e.Type {
	case KindJoinRequest:
		if e.RoomID == "" || e.Username == "" {
			return ErrMalformedEvent
		}
	case KindAdmitUser, KindRejectUser:
		if e.RoomID == "" || e.UserID == "" {
			return ErrMalformedEvent
		}
	case KindEndMeeting:
		if e.RoomID == "" {
			return ErrMalformedEvent
		}
	case KindLeave:
	case KindOffer, KindAnswer:
		if e.To == "" || e.SDP == nil {
			return ErrMalformedEvent
		}
	case KindICECandidate:
		if e.To == "" || e.Candidate == nil {
			return ErrMalformedEvent
		}
	default:
		return ErrUnknownEvent
	}
	return nil
}
