package client

import (
	"log/slog"
	"sync"

	"github.com/polymeet/polymeet/internal/domain"
	"github.com/polymeet/polymeet/lib/logger/sl"
)

// Presence bridges signaling events to the negotiation engine and keeps
// the locally observable participant and waiting-list view. Offer
// initiation is gated on the local joined flag so a client that has not
// completed admission never tries to negotiate media.
type Presence struct {
	engine   *Engine
	signaler Signaler
	roomID   string
	username string
	log      *slog.Logger

	// onEnded fires when the meeting terminates for this client (rejected,
	// meeting ended, or explicit leave).
	onEnded func(reason string)

	mu           sync.Mutex
	selfID       string
	isHost       bool
	joined       bool
	waiting      bool
	participants []domain.UserInfo
	pending      []domain.UserInfo
	offered      map[string]bool
}

func NewPresence(engine *Engine, signaler Signaler, roomID, username string, log *slog.Logger, onEnded func(reason string)) *Presence {
	if log == nil {
		log = slog.Default()
	}
	return &Presence{
		engine:   engine,
		signaler: signaler,
		roomID:   roomID,
		username: username,
		log:      log,
		onEnded:  onEnded,
		offered:  make(map[string]bool),
	}
}

// Join requests entry to the room.
func (p *Presence) Join() error {
	p.mu.Lock()
	p.waiting = true
	p.mu.Unlock()

	return p.signaler.Send(domain.Event{
		Type:     domain.KindJoinRequest,
		RoomID:   p.roomID,
		Username: p.username,
	})
}

// Admit promotes a waiting participant. Host only; the server ignores it
// otherwise.
func (p *Presence) Admit(userID string) error {
	return p.signaler.Send(domain.Event{
		Type:   domain.KindAdmitUser,
		RoomID: p.roomID,
		UserID: userID,
	})
}

// Reject drops a waiting participant. Host only.
func (p *Presence) Reject(userID string) error {
	return p.signaler.Send(domain.Event{
		Type:   domain.KindRejectUser,
		RoomID: p.roomID,
		UserID: userID,
	})
}

// EndMeeting tears down the whole room. Host only.
func (p *Presence) EndMeeting() error {
	return p.signaler.Send(domain.Event{
		Type:   domain.KindEndMeeting,
		RoomID: p.roomID,
	})
}

// Leave exits the meeting: tells the server, closes every peer link, stops
// local media, and releases the signaling channel.
func (p *Presence) Leave() error {
	err := p.signaler.Send(domain.Event{Type: domain.KindLeave})
	p.engine.CloseAll()
	if cerr := p.signaler.Close(); err == nil {
		err = cerr
	}
	return err
}

// HandleEvent reacts to one server event. Negotiation work runs on its own
// goroutine so bounded state waits never stall the signaling read loop.
func (p *Presence) HandleEvent(ev domain.Event) {
	switch ev.Type {
	case domain.KindConnected:
		p.mu.Lock()
		p.selfID = ev.UserID
		p.mu.Unlock()

	case domain.KindYouAreHost:
		p.mu.Lock()
		p.isHost = true
		p.joined = true
		p.waiting = false
		p.mu.Unlock()

	case domain.KindWaitingForHost:
		p.mu.Lock()
		p.waiting = true
		p.joined = false
		p.mu.Unlock()

	case domain.KindPendingRequests:
		p.mu.Lock()
		p.pending = ev.Users
		p.mu.Unlock()

	case domain.KindAdmitted:
		p.handleAdmitted(ev)

	case domain.KindRoomUsers:
		p.handleRoomUsers(ev)

	case domain.KindUserJoined:
		p.handleUserJoined(ev)

	case domain.KindUserLeft:
		p.handleUserLeft(ev)

	case domain.KindRejected:
		p.mu.Lock()
		p.waiting = false
		p.mu.Unlock()
		p.ended(ev.Reason)

	case domain.KindMeetingEnded:
		p.engine.CloseAll()
		p.ended(ev.Reason)

	case domain.KindOffer:
		if ev.From != "" && ev.SDP != nil {
			go p.engine.AcceptOffer(ev.From, *ev.SDP)
		}

	case domain.KindAnswer:
		if ev.From != "" && ev.SDP != nil {
			go p.engine.AcceptAnswer(ev.From, *ev.SDP)
		}

	case domain.KindICECandidate:
		if ev.From != "" && ev.Candidate != nil {
			go p.engine.AcceptCandidate(ev.From, *ev.Candidate)
		}
	}
}

func (p *Presence) handleAdmitted(ev domain.Event) {
	p.mu.Lock()
	p.joined = true
	p.waiting = false
	selfID := p.selfID
	isHost := p.isHost

	p.participants = p.participants[:0]
	for _, u := range ev.Users {
		if u.ID != selfID {
			p.participants = append(p.participants, u)
		}
	}
	others := append([]domain.UserInfo(nil), p.participants...)
	p.mu.Unlock()

	for _, u := range others {
		if err := p.engine.CreateLink(u.ID); err != nil {
			p.log.Warn("link creation failed", slog.String("peer", u.ID), sl.Err(err))
		}
	}
	if isHost {
		for _, u := range others {
			p.offerOnce(u.ID)
		}
	}
}

func (p *Presence) handleRoomUsers(ev domain.Event) {
	p.mu.Lock()
	selfID := p.selfID
	known := make(map[string]bool, len(p.participants))
	for _, u := range p.participants {
		known[u.ID] = true
	}

	var added []domain.UserInfo
	for _, u := range ev.Users {
		if u.ID == selfID || known[u.ID] {
			continue
		}
		p.participants = append(p.participants, u)
		added = append(added, u)
	}
	p.mu.Unlock()

	for _, u := range added {
		if err := p.engine.CreateLink(u.ID); err != nil {
			p.log.Warn("link creation failed", slog.String("peer", u.ID), sl.Err(err))
		}
	}
}

func (p *Presence) handleUserJoined(ev domain.Event) {
	p.mu.Lock()
	selfID := p.selfID
	isHost := p.isHost
	joined := p.joined

	if ev.UserID == selfID {
		p.mu.Unlock()
		return
	}
	exists := false
	for _, u := range p.participants {
		if u.ID == ev.UserID {
			exists = true
			break
		}
	}
	if !exists {
		p.participants = append(p.participants, domain.UserInfo{ID: ev.UserID, Username: ev.Username})
	}
	p.mu.Unlock()

	if err := p.engine.CreateLink(ev.UserID); err != nil {
		p.log.Warn("link creation failed", slog.String("peer", ev.UserID), sl.Err(err))
		return
	}

	// The host always offers to new members. Non-hosts offer only once
	// their own admission completed; a client still in the waiting room
	// must not negotiate media.
	if isHost || joined {
		p.offerOnce(ev.UserID)
	}
}

func (p *Presence) handleUserLeft(ev domain.Event) {
	p.mu.Lock()
	for i, u := range p.participants {
		if u.ID == ev.UserID {
			p.participants = append(p.participants[:i], p.participants[i+1:]...)
			break
		}
	}
	delete(p.offered, ev.UserID)
	p.mu.Unlock()

	p.engine.ClosePeer(ev.UserID)
}

// offerOnce issues at most one initial offer to a peer over the lifetime
// of its link.
func (p *Presence) offerOnce(peerID string) {
	p.mu.Lock()
	if p.offered[peerID] {
		p.mu.Unlock()
		return
	}
	p.offered[peerID] = true
	p.mu.Unlock()

	go p.engine.CreateOffer(peerID)
}

func (p *Presence) ended(reason string) {
	if p.onEnded != nil {
		p.onEnded(reason)
	}
}

// SelfID returns the connection id the server assigned to this client.
func (p *Presence) SelfID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.selfID
}

// IsHost reports whether this client holds the host role.
func (p *Presence) IsHost() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isHost
}

// Joined reports whether this client completed admission.
func (p *Presence) Joined() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.joined
}

// Waiting reports whether this client is queued for admission.
func (p *Presence) Waiting() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waiting
}

// Participants returns the known remote members in arrival order.
func (p *Presence) Participants() []domain.UserInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.UserInfo(nil), p.participants...)
}

// Pending returns the waiting queue as last reported by the server.
func (p *Presence) Pending() []domain.UserInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.UserInfo(nil), p.pending...)
}
