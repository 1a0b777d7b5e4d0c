package service

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/polymeet/polymeet/internal/directory"
	"github.com/polymeet/polymeet/internal/domain"
	"github.com/polymeet/polymeet/lib/logger/sl"
)

// HostPolicy decides what happens to a room when its host departs.
type HostPolicy string

const (
	// HostPolicyEndMeeting terminates the room for everyone.
	HostPolicyEndMeeting HostPolicy = "end-meeting"
	// HostPolicyTransfer hands the host role to the oldest remaining member.
	HostPolicyTransfer HostPolicy = "transfer-host"
)

const (
	reasonHostEnded = "Host ended the meeting"
	reasonHostLeft  = "Host left the meeting"
	reasonRejected  = "Host rejected your request"
)

// Sender delivers outbound events to connections. Implemented by the
// transport registry; tests substitute a recorder.
type Sender interface {
	Send(connID string, ev domain.Event)
}

// Router translates inbound client events into room directory transitions
// and outbound notifications. Processing for a given room is serialized by
// a per-room lock, so all notifications for one event are emitted before
// the next event for that room starts. Unrelated rooms proceed in parallel.
type Router struct {
	dir    *directory.Directory
	sender Sender
	policy HostPolicy
	log    *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewRouter(dir *directory.Directory, sender Sender, policy HostPolicy, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	if policy == "" {
		policy = HostPolicyEndMeeting
	}
	return &Router{
		dir:    dir,
		sender: sender,
		policy: policy,
		log:    log,
		locks:  make(map[string]*sync.Mutex),
	}
}

// Dispatch applies one inbound event. Protocol violations (unknown rooms,
// non-host issuing host-only commands) are dropped without a reply so a
// stale or hostile client learns nothing about room state.
func (r *Router) Dispatch(connID string, ev domain.Event) {
	switch ev.Type {
	case domain.KindJoinRequest:
		r.handleJoinRequest(connID, ev)
	case domain.KindAdmitUser:
		r.handleAdmit(connID, ev)
	case domain.KindRejectUser:
		r.handleReject(connID, ev)
	case domain.KindEndMeeting:
		r.handleEndMeeting(connID, ev)
	case domain.KindLeave:
		r.Disconnect(connID)
	case domain.KindOffer, domain.KindAnswer, domain.KindICECandidate:
		r.relay(connID, ev)
	default:
		r.log.Debug("ignoring event", slog.String("type", string(ev.Type)))
	}
}

// Disconnect removes the connection from whichever room holds it and
// applies the configured host-departure policy. Safe to call for
// connections no room has seen.
func (r *Router) Disconnect(connID string) {
	roomID, ok := r.dir.FindConnection(connID)
	if !ok {
		return
	}

	lock := r.lockRoom(roomID)
	defer lock.Unlock()

	r.removeLocked(roomID, connID)
}

func (r *Router) handleJoinRequest(connID string, ev domain.Event) {
	const op = "service.router.join"
	log := r.log.With(slog.String("op", op), slog.String("room_id", ev.RoomID), slog.String("conn_id", connID))

	lock := r.lockRoom(ev.RoomID)
	defer lock.Unlock()

	room := r.dir.EnsureRoom(ev.RoomID)
	participant := domain.NewParticipant(connID, ev.Username)

	// First arrival becomes host.
	if len(room.Members) == 0 {
		if err := r.dir.AdmitFirstArrival(ev.RoomID, participant); err != nil {
			log.Error("first arrival failed", sl.Err(err))
			return
		}
		log.Info("host joined", slog.String("username", ev.Username))
		r.sender.Send(connID, domain.Event{Type: domain.KindYouAreHost})
		r.sender.Send(connID, domain.Event{Type: domain.KindRoomUsers, Users: room.Roster()})
		return
	}

	if err := r.dir.EnqueueWaiting(ev.RoomID, participant); err != nil {
		log.Warn("enqueue failed", sl.Err(err))
		return
	}
	log.Info("queued for admission", slog.String("username", ev.Username))

	r.sender.Send(connID, domain.Event{Type: domain.KindWaitingForHost})
	if host := room.Host(); host != nil {
		r.sender.Send(host.ConnectionID, domain.Event{Type: domain.KindPendingRequests, Users: room.PendingList()})
	}
}

func (r *Router) handleAdmit(connID string, ev domain.Event) {
	const op = "service.router.admit"
	log := r.log.With(slog.String("op", op), slog.String("room_id", ev.RoomID))

	lock := r.lockRoom(ev.RoomID)
	defer lock.Unlock()

	room, ok := r.dir.Room(ev.RoomID)
	if !ok {
		return
	}
	host := room.Host()
	if host == nil || host.ConnectionID != connID {
		log.Warn("non-host admit ignored", slog.String("conn_id", connID))
		return
	}

	admitted, err := r.dir.Admit(ev.RoomID, ev.UserID)
	if err != nil {
		if !errors.Is(err, directory.ErrNotFound) {
			log.Error("admit failed", sl.Err(err))
		}
		return
	}
	log.Info("admitted", slog.String("user_id", ev.UserID), slog.String("username", admitted.Username))

	roster := room.Roster()
	r.sender.Send(admitted.ConnectionID, domain.Event{
		Type:   domain.KindAdmitted,
		RoomID: room.ID,
		Users:  roster,
	})
	for _, m := range room.Members {
		r.sender.Send(m.ConnectionID, domain.Event{Type: domain.KindRoomUsers, Users: roster})
	}
	for _, m := range room.Members {
		if m.ConnectionID == admitted.ConnectionID {
			continue
		}
		r.sender.Send(m.ConnectionID, domain.Event{
			Type:     domain.KindUserJoined,
			UserID:   admitted.ConnectionID,
			Username: admitted.Username,
		})
	}
	r.sender.Send(host.ConnectionID, domain.Event{Type: domain.KindPendingRequests, Users: room.PendingList()})
}

func (r *Router) handleReject(connID string, ev domain.Event) {
	const op = "service.router.reject"
	log := r.log.With(slog.String("op", op), slog.String("room_id", ev.RoomID))

	lock := r.lockRoom(ev.RoomID)
	defer lock.Unlock()

	room, ok := r.dir.Room(ev.RoomID)
	if !ok {
		return
	}
	host := room.Host()
	if host == nil || host.ConnectionID != connID {
		log.Warn("non-host reject ignored", slog.String("conn_id", connID))
		return
	}

	rejected, err := r.dir.Reject(ev.RoomID, ev.UserID)
	if err != nil {
		return
	}
	log.Info("rejected", slog.String("user_id", ev.UserID))

	r.sender.Send(rejected.ConnectionID, domain.Event{Type: domain.KindRejected, Reason: reasonRejected})
	r.sender.Send(host.ConnectionID, domain.Event{Type: domain.KindPendingRequests, Users: room.PendingList()})
}

func (r *Router) handleEndMeeting(connID string, ev domain.Event) {
	const op = "service.router.end"
	log := r.log.With(slog.String("op", op), slog.String("room_id", ev.RoomID))

	lock := r.lockRoom(ev.RoomID)
	defer lock.Unlock()

	room, ok := r.dir.Room(ev.RoomID)
	if !ok {
		return
	}
	host := room.Host()
	if host == nil || host.ConnectionID != connID {
		log.Warn("non-host end-meeting ignored", slog.String("conn_id", connID))
		return
	}

	r.endMeetingLocked(room, reasonHostEnded)
}

// relay forwards offer/answer/ice-candidate to the target connection with
// the sender identity attached. No room state is touched, so no room lock
// is taken.
func (r *Router) relay(connID string, ev domain.Event) {
	forward := ev
	forward.From = connID
	forward.To = ""
	r.sender.Send(ev.To, forward)
}

// removeLocked handles departure of a member or waiting entry. Caller holds
// the room lock.
func (r *Router) removeLocked(roomID, connID string) {
	const op = "service.router.remove"
	log := r.log.With(slog.String("op", op), slog.String("room_id", roomID), slog.String("conn_id", connID))

	room, ok := r.dir.Room(roomID)
	if !ok {
		return
	}

	removal, err := r.dir.RemoveByConnection(roomID, connID)
	if err != nil {
		// Already gone; a racing admit/reject or double disconnect.
		return
	}

	switch removal.From {
	case directory.RemovedMember:
		if removal.WasHost {
			r.hostDepartedLocked(room, connID)
			return
		}
		log.Info("member left")
		for _, m := range room.Members {
			r.sender.Send(m.ConnectionID, domain.Event{Type: domain.KindUserLeft, UserID: connID})
			r.sender.Send(m.ConnectionID, domain.Event{Type: domain.KindRoomUsers, Users: room.Roster()})
		}
	case directory.RemovedWaiting:
		log.Info("waiting entry left")
		if host := room.Host(); host != nil {
			r.sender.Send(host.ConnectionID, domain.Event{Type: domain.KindPendingRequests, Users: room.PendingList()})
		}
	}

	if room.IsEmpty() {
		r.dropRoom(roomID)
	}
}

func (r *Router) hostDepartedLocked(room *domain.Room, departed string) {
	const op = "service.router.hostDeparted"
	log := r.log.With(slog.String("op", op), slog.String("room_id", room.ID))

	if r.policy == HostPolicyTransfer && len(room.Members) > 0 {
		next, err := r.dir.PromoteOldest(room.ID)
		if err != nil {
			log.Error("host transfer failed", sl.Err(err))
			r.endMeetingLocked(room, reasonHostLeft, departed)
			return
		}
		log.Info("host transferred", slog.String("new_host", next.ConnectionID))

		r.sender.Send(next.ConnectionID, domain.Event{Type: domain.KindYouAreHost})
		r.sender.Send(next.ConnectionID, domain.Event{Type: domain.KindPendingRequests, Users: room.PendingList()})
		for _, m := range room.Members {
			r.sender.Send(m.ConnectionID, domain.Event{Type: domain.KindRoomUsers, Users: room.Roster()})
		}
		return
	}

	log.Info("host left, ending meeting")
	r.endMeetingLocked(room, reasonHostLeft, departed)
}

// endMeetingLocked notifies every member and waiting entry, then deletes
// the room. Extra connection ids (a host that already left the member
// list) are notified too. Caller holds the room lock.
func (r *Router) endMeetingLocked(room *domain.Room, reason string, extra ...string) {
	ended := domain.Event{Type: domain.KindMeetingEnded, Reason: reason}
	for _, id := range extra {
		r.sender.Send(id, ended)
	}
	for _, m := range room.Members {
		r.sender.Send(m.ConnectionID, ended)
	}
	for _, w := range room.Waiting {
		r.sender.Send(w.ConnectionID, ended)
	}

	r.log.Info("meeting ended", slog.String("room_id", room.ID), slog.String("reason", reason))
	r.dropRoom(room.ID)
}

func (r *Router) dropRoom(roomID string) {
	r.dir.Delete(roomID)

	r.mu.Lock()
	delete(r.locks, roomID)
	r.mu.Unlock()
}

func (r *Router) roomLock(roomID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	lock, ok := r.locks[roomID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[roomID] = lock
	}
	return lock
}

// lockRoom acquires the room's serialization lock. dropRoom removes lock
// entries, so a goroutine blocked on a mutex can win it after the entry was
// replaced; holding a stale mutex would let two handlers mutate the same
// recreated room. Re-check the map after acquiring and retry until the held
// mutex is the room's current one.
func (r *Router) lockRoom(roomID string) *sync.Mutex {
	for {
		lock := r.roomLock(roomID)
		lock.Lock()

		r.mu.Lock()
		current := r.locks[roomID]
		r.mu.Unlock()

		if current == lock {
			return lock
		}
		lock.Unlock()
	}
}

// Roster returns the member list of a room for the REST surface.
func (r *Router) Roster(roomID string) ([]domain.UserInfo, bool) {
	if _, ok := r.dir.Room(roomID); !ok {
		return nil, false
	}

	lock := r.lockRoom(roomID)
	defer lock.Unlock()

	room, ok := r.dir.Room(roomID)
	if !ok {
		return nil, false
	}
	return room.Roster(), true
}

// PendingList returns the waiting queue of a room for the REST surface.
func (r *Router) PendingList(roomID string) ([]domain.UserInfo, bool) {
	if _, ok := r.dir.Room(roomID); !ok {
		return nil, false
	}

	lock := r.lockRoom(roomID)
	defer lock.Unlock()

	room, ok := r.dir.Room(roomID)
	if !ok {
		return nil, false
	}
	return room.PendingList(), true
}
