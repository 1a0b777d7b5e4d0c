package service

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/pion/webrtc/v3"
	"github.com/polymeet/polymeet/internal/directory"
	"github.com/polymeet/polymeet/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events map[string][]domain.Event
}

func newRecorder() *recorder {
	return &recorder{events: make(map[string][]domain.Event)}
}

func (r *recorder) Send(connID string, ev domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[connID] = append(r.events[connID], ev)
}

func (r *recorder) all(connID string) []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.events[connID]...)
}

func (r *recorder) byType(connID string, kind domain.EventKind) []domain.Event {
	var out []domain.Event
	for _, ev := range r.all(connID) {
		if ev.Type == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) lastOfType(connID string, kind domain.EventKind) (domain.Event, bool) {
	matches := r.byType(connID, kind)
	if len(matches) == 0 {
		return domain.Event{}, false
	}
	return matches[len(matches)-1], true
}

func newTestRouter(policy HostPolicy) (*Router, *recorder) {
	rec := newRecorder()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRouter(directory.New(), rec, policy, log), rec
}

func join(r *Router, connID, roomID, username string) {
	r.Dispatch(connID, domain.Event{Type: domain.KindJoinRequest, RoomID: roomID, Username: username})
}

func TestFirstJoinBecomesHost(t *testing.T) {
	r, rec := newTestRouter(HostPolicyEndMeeting)

	join(r, "c1", "r1", "Alice")

	events := rec.all("c1")
	require.Len(t, events, 2)
	assert.Equal(t, domain.KindYouAreHost, events[0].Type)
	assert.Equal(t, domain.KindRoomUsers, events[1].Type)
	require.Len(t, events[1].Users, 1)
	assert.Equal(t, domain.UserInfo{ID: "c1", Username: "Alice", IsHost: true}, events[1].Users[0])
}

func TestJoinOrdering(t *testing.T) {
	r, rec := newTestRouter(HostPolicyEndMeeting)

	join(r, "cA", "r1", "A")
	join(r, "cB", "r1", "B")
	join(r, "cC", "r1", "C")

	assert.Len(t, rec.byType("cA", domain.KindYouAreHost), 1)
	assert.Len(t, rec.byType("cB", domain.KindWaitingForHost), 1)
	assert.Len(t, rec.byType("cC", domain.KindWaitingForHost), 1)

	pending, ok := rec.lastOfType("cA", domain.KindPendingRequests)
	require.True(t, ok)
	require.Len(t, pending.Users, 2)
	assert.Equal(t, "cB", pending.Users[0].ID)
	assert.Equal(t, "cC", pending.Users[1].ID)
}

// Mirrors the full admission flow: Alice hosts, Bob waits, Alice admits.
func TestAdmissionFlow(t *testing.T) {
	r, rec := newTestRouter(HostPolicyEndMeeting)

	join(r, "c1", "r1", "Alice")
	join(r, "c2", "r1", "Bob")

	assert.Len(t, rec.byType("c2", domain.KindWaitingForHost), 1)
	pending, ok := rec.lastOfType("c1", domain.KindPendingRequests)
	require.True(t, ok)
	require.Len(t, pending.Users, 1)
	assert.Equal(t, domain.UserInfo{ID: "c2", Username: "Bob"}, pending.Users[0])

	r.Dispatch("c1", domain.Event{Type: domain.KindAdmitUser, RoomID: "r1", UserID: "c2"})

	admitted, ok := rec.lastOfType("c2", domain.KindAdmitted)
	require.True(t, ok)
	assert.Equal(t, "r1", admitted.RoomID)
	require.Len(t, admitted.Users, 2)
	assert.Equal(t, "c1", admitted.Users[0].ID)
	assert.Equal(t, "c2", admitted.Users[1].ID)

	for _, conn := range []string{"c1", "c2"} {
		roster, ok := rec.lastOfType(conn, domain.KindRoomUsers)
		require.True(t, ok, conn)
		assert.Len(t, roster.Users, 2)
	}

	joinedNotices := rec.byType("c1", domain.KindUserJoined)
	require.Len(t, joinedNotices, 1)
	assert.Equal(t, "c2", joinedNotices[0].UserID)
	assert.Equal(t, "Bob", joinedNotices[0].Username)
	assert.Empty(t, rec.byType("c2", domain.KindUserJoined))

	pending, ok = rec.lastOfType("c1", domain.KindPendingRequests)
	require.True(t, ok)
	assert.Empty(t, pending.Users)
}

func TestRejectAndDoubleReject(t *testing.T) {
	r, rec := newTestRouter(HostPolicyEndMeeting)

	join(r, "c1", "r1", "Alice")
	join(r, "c2", "r1", "Bob")

	r.Dispatch("c1", domain.Event{Type: domain.KindRejectUser, RoomID: "r1", UserID: "c2"})
	r.Dispatch("c1", domain.Event{Type: domain.KindRejectUser, RoomID: "r1", UserID: "c2"})

	rejections := rec.byType("c2", domain.KindRejected)
	require.Len(t, rejections, 1)
	assert.NotEmpty(t, rejections[0].Reason)

	pending, ok := rec.lastOfType("c1", domain.KindPendingRequests)
	require.True(t, ok)
	assert.Empty(t, pending.Users)
}

func TestNonHostCommandsIgnored(t *testing.T) {
	r, rec := newTestRouter(HostPolicyEndMeeting)

	join(r, "c1", "r1", "Alice")
	join(r, "c2", "r1", "Bob")
	join(r, "c3", "r1", "Carol")

	// Bob is not the host; nothing should move, and Bob hears nothing back.
	before := len(rec.all("c2"))
	r.Dispatch("c2", domain.Event{Type: domain.KindAdmitUser, RoomID: "r1", UserID: "c3"})
	r.Dispatch("c2", domain.Event{Type: domain.KindRejectUser, RoomID: "r1", UserID: "c3"})
	r.Dispatch("c2", domain.Event{Type: domain.KindEndMeeting, RoomID: "r1"})

	assert.Len(t, rec.all("c2"), before)
	assert.Empty(t, rec.byType("c3", domain.KindAdmitted))
	assert.Empty(t, rec.byType("c3", domain.KindRejected))
	assert.Empty(t, rec.byType("c3", domain.KindMeetingEnded))
}

func TestUnknownRoomIsNoOp(t *testing.T) {
	r, rec := newTestRouter(HostPolicyEndMeeting)

	r.Dispatch("c1", domain.Event{Type: domain.KindAdmitUser, RoomID: "ghost", UserID: "c2"})
	r.Dispatch("c1", domain.Event{Type: domain.KindEndMeeting, RoomID: "ghost"})
	r.Disconnect("c1")

	assert.Empty(t, rec.all("c1"))
}

func TestEndMeetingNotifiesEveryone(t *testing.T) {
	r, rec := newTestRouter(HostPolicyEndMeeting)

	join(r, "c1", "r1", "Alice")
	join(r, "c2", "r1", "Bob")
	r.Dispatch("c1", domain.Event{Type: domain.KindAdmitUser, RoomID: "r1", UserID: "c2"})
	join(r, "c3", "r1", "Carol") // still waiting

	r.Dispatch("c1", domain.Event{Type: domain.KindEndMeeting, RoomID: "r1"})

	for _, conn := range []string{"c1", "c2", "c3"} {
		assert.Len(t, rec.byType(conn, domain.KindMeetingEnded), 1, conn)
	}

	_, ok := r.Roster("r1")
	assert.False(t, ok)
}

func TestHostDisconnectEndsMeeting(t *testing.T) {
	r, rec := newTestRouter(HostPolicyEndMeeting)

	join(r, "cH", "r1", "Host")
	join(r, "cX", "r1", "X")
	join(r, "cY", "r1", "Y")
	r.Dispatch("cH", domain.Event{Type: domain.KindAdmitUser, RoomID: "r1", UserID: "cX"})
	r.Dispatch("cH", domain.Event{Type: domain.KindAdmitUser, RoomID: "r1", UserID: "cY"})

	r.Disconnect("cH")

	for _, conn := range []string{"cH", "cX", "cY"} {
		assert.Len(t, rec.byType(conn, domain.KindMeetingEnded), 1, conn)
	}

	_, ok := r.Roster("r1")
	assert.False(t, ok)
}

func TestHostDisconnectTransfersRole(t *testing.T) {
	r, rec := newTestRouter(HostPolicyTransfer)

	join(r, "cH", "r1", "Host")
	join(r, "cX", "r1", "X")
	join(r, "cY", "r1", "Y")
	r.Dispatch("cH", domain.Event{Type: domain.KindAdmitUser, RoomID: "r1", UserID: "cX"})
	r.Dispatch("cH", domain.Event{Type: domain.KindAdmitUser, RoomID: "r1", UserID: "cY"})

	r.Disconnect("cH")

	assert.Len(t, rec.byType("cX", domain.KindYouAreHost), 1)
	assert.Empty(t, rec.byType("cY", domain.KindYouAreHost))
	assert.Empty(t, rec.byType("cX", domain.KindMeetingEnded))

	roster, ok := r.Roster("r1")
	require.True(t, ok)
	require.Len(t, roster, 2)
	assert.True(t, roster[0].IsHost)
	assert.Equal(t, "cX", roster[0].ID)
}

func TestMemberDisconnectNotifiesRoom(t *testing.T) {
	r, rec := newTestRouter(HostPolicyEndMeeting)

	join(r, "c1", "r1", "Alice")
	join(r, "c2", "r1", "Bob")
	r.Dispatch("c1", domain.Event{Type: domain.KindAdmitUser, RoomID: "r1", UserID: "c2"})

	r.Disconnect("c2")

	left := rec.byType("c1", domain.KindUserLeft)
	require.Len(t, left, 1)
	assert.Equal(t, "c2", left[0].UserID)

	roster, ok := rec.lastOfType("c1", domain.KindRoomUsers)
	require.True(t, ok)
	assert.Len(t, roster.Users, 1)
}

func TestWaitingDisconnectUpdatesHost(t *testing.T) {
	r, rec := newTestRouter(HostPolicyEndMeeting)

	join(r, "c1", "r1", "Alice")
	join(r, "c2", "r1", "Bob")

	r.Disconnect("c2")

	pending, ok := rec.lastOfType("c1", domain.KindPendingRequests)
	require.True(t, ok)
	assert.Empty(t, pending.Users)
}

func TestLeaveEventSameAsDisconnect(t *testing.T) {
	r, rec := newTestRouter(HostPolicyEndMeeting)

	join(r, "c1", "r1", "Alice")
	join(r, "c2", "r1", "Bob")
	r.Dispatch("c1", domain.Event{Type: domain.KindAdmitUser, RoomID: "r1", UserID: "c2"})

	r.Dispatch("c2", domain.Event{Type: domain.KindLeave})

	left := rec.byType("c1", domain.KindUserLeft)
	require.Len(t, left, 1)
	assert.Equal(t, "c2", left[0].UserID)
}

func TestRelayAnnotatesSender(t *testing.T) {
	r, rec := newTestRouter(HostPolicyEndMeeting)

	sdp := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}
	r.Dispatch("c1", domain.Event{Type: domain.KindOffer, To: "c2", SDP: &sdp})

	offers := rec.byType("c2", domain.KindOffer)
	require.Len(t, offers, 1)
	assert.Equal(t, "c1", offers[0].From)
	assert.Empty(t, offers[0].To)
	require.NotNil(t, offers[0].SDP)
	assert.Equal(t, "v=0", offers[0].SDP.SDP)
}

func TestRoomDeletedWhenEmpty(t *testing.T) {
	r, _ := newTestRouter(HostPolicyEndMeeting)

	join(r, "c1", "r1", "Alice")
	join(r, "c2", "r1", "Bob")

	r.Disconnect("c2")
	r.Disconnect("c1")

	_, ok := r.Roster("r1")
	assert.False(t, ok)
}

func TestConcurrentRoomChurnKeepsOneHost(t *testing.T) {
	dir := directory.New()
	rec := newRecorder()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := NewRouter(dir, rec, HostPolicyEndMeeting, log)

	const room = "r1"
	var wg sync.WaitGroup
	for _, connID := range []string{"c1", "c2", "c3", "c4"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				join(r, id, room, "user-"+id)
				r.Dispatch(id, domain.Event{Type: domain.KindEndMeeting, RoomID: room})
				r.Disconnect(id)
			}
		}(connID)
	}
	wg.Wait()

	// Every connection removed itself last, so whatever interleaving of
	// join, end-meeting, and disconnect occurred, nobody is left behind.
	if rm, ok := dir.Room(room); ok {
		assert.Empty(t, rm.Members)
		assert.Empty(t, rm.Waiting)
	}

	// The room id is reusable afterwards with a clean single-host start.
	join(r, "cZ", room, "Z")
	assert.Len(t, rec.byType("cZ", domain.KindYouAreHost), 1)

	rm, ok := dir.Room(room)
	require.True(t, ok)
	hosts := 0
	for _, m := range rm.Members {
		if m.IsHost {
			hosts++
		}
	}
	assert.Equal(t, 1, hosts)
}
