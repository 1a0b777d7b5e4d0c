package client

import (
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/polymeet/polymeet/internal/domain"
	"github.com/polymeet/polymeet/lib/logger/sl"
)

const (
	// Bounded retries while waiting for a signaling state. Exceeding the
	// bound degrades to a silent drop, never an error to the caller.
	maxStateAttempts = 6

	stableWaitStep = 150 * time.Millisecond
	answerWaitStep = 100 * time.Millisecond

	defaultMaxBuffered = 32
)

// RemoteTrackHandler receives media tracks arriving from a remote peer.
type RemoteTrackHandler func(peerID string, track *webrtc.TrackRemote)

// Engine manages one local media source and a peer link per remote
// participant. Each link negotiates independently; a failure on one link
// never blocks the others. Glare and out-of-order delivery are absorbed by
// an offer-in-flight flag per peer and bounded buffering of early messages.
type Engine struct {
	signaler      Signaler
	media         LocalMedia
	newTransport  TransportFactory
	onRemoteTrack RemoteTrackHandler
	maxBuffered   int
	stableWait    time.Duration
	answerWait    time.Duration
	log           *slog.Logger

	mu     sync.Mutex
	links  map[string]*peerLink
	closed bool
}

type peerLink struct {
	peerID    string
	transport Transport

	mu                sync.Mutex
	offerInFlight     bool
	pendingOffers     []webrtc.SessionDescription
	pendingCandidates []webrtc.ICECandidateInit
}

// EngineOption customizes engine construction.
type EngineOption func(*Engine)

// WithRemoteTrackHandler installs the callback for incoming remote tracks.
func WithRemoteTrackHandler(h RemoteTrackHandler) EngineOption {
	return func(e *Engine) { e.onRemoteTrack = h }
}

// WithCandidateBuffer caps per-peer buffering of early candidates and
// offers. Oldest entries are evicted when the cap is hit.
func WithCandidateBuffer(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxBuffered = n
		}
	}
}

// WithWaitSteps overrides the base delays used while waiting for a
// signaling state.
func WithWaitSteps(stable, answer time.Duration) EngineOption {
	return func(e *Engine) {
		if stable > 0 {
			e.stableWait = stable
		}
		if answer > 0 {
			e.answerWait = answer
		}
	}
}

func NewEngine(signaler Signaler, media LocalMedia, factory TransportFactory, log *slog.Logger, opts ...EngineOption) *Engine {
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{
		signaler:     signaler,
		media:        media,
		newTransport: factory,
		maxBuffered:  defaultMaxBuffered,
		stableWait:   stableWaitStep,
		answerWait:   answerWaitStep,
		log:          log,
		links:        make(map[string]*peerLink),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateLink ensures a peer link exists for the given peer. Idempotent: an
// existing link is returned untouched. A new link gets every local media
// track attached and its candidate/track callbacks wired to the signaling
// channel.
func (e *Engine) CreateLink(peerID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	if _, ok := e.links[peerID]; ok {
		return nil
	}

	transport, err := e.newTransport()
	if err != nil {
		return err
	}

	link := &peerLink{peerID: peerID, transport: transport}

	for _, track := range e.media.Tracks() {
		if err := transport.AddTrack(track); err != nil {
			transport.Close()
			return err
		}
	}

	transport.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		if err := e.signaler.Send(domain.Event{
			Type:      domain.KindICECandidate,
			To:        peerID,
			Candidate: &init,
		}); err != nil {
			e.log.Debug("candidate send failed", slog.String("peer", peerID), sl.Err(err))
		}
	})

	transport.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if e.onRemoteTrack != nil {
			e.onRemoteTrack(peerID, track)
		}
	})

	e.links[peerID] = link
	return nil
}

// CreateOffer starts negotiation towards a peer. At most one offer is in
// flight per peer; a second call while one is pending is a no-op. If the
// link is mid-negotiation the call waits with bounded backoff for it to
// settle, then gives up silently.
func (e *Engine) CreateOffer(peerID string) {
	link, ok := e.link(peerID)
	if !ok {
		e.log.Warn("create offer: no link", slog.String("peer", peerID))
		return
	}

	link.mu.Lock()
	if link.offerInFlight {
		link.mu.Unlock()
		return
	}
	link.offerInFlight = true
	link.mu.Unlock()

	if !waitForState(link.transport, webrtc.SignalingStateStable, e.stableWait) {
		e.log.Warn("create offer: link not stable",
			slog.String("peer", peerID),
			slog.String("state", link.transport.SignalingState().String()),
		)
		link.clearOfferInFlight()
		return
	}

	offer, err := link.transport.CreateOffer()
	if err != nil {
		e.log.Warn("create offer failed", slog.String("peer", peerID), sl.Err(err))
		link.clearOfferInFlight()
		return
	}
	if err := link.transport.SetLocalDescription(offer); err != nil {
		e.log.Warn("set local offer failed", slog.String("peer", peerID), sl.Err(err))
		link.clearOfferInFlight()
		return
	}

	if err := e.signaler.Send(domain.Event{
		Type: domain.KindOffer,
		To:   peerID,
		SDP:  &offer,
	}); err != nil {
		e.log.Warn("offer send failed", slog.String("peer", peerID), sl.Err(err))
		link.clearOfferInFlight()
	}
}

// AcceptOffer applies a remote offer and answers it. If the link is
// mid-negotiation (glare) the offer is queued and retried once the link
// settles rather than discarded.
func (e *Engine) AcceptOffer(peerID string, offer webrtc.SessionDescription) {
	if err := e.CreateLink(peerID); err != nil {
		e.log.Warn("accept offer: link creation failed", slog.String("peer", peerID), sl.Err(err))
		return
	}
	link, ok := e.link(peerID)
	if !ok {
		return
	}

	if !waitForState(link.transport, webrtc.SignalingStateStable, e.stableWait) {
		link.mu.Lock()
		link.pendingOffers = append(link.pendingOffers, offer)
		if len(link.pendingOffers) > e.maxBuffered {
			link.pendingOffers = link.pendingOffers[1:]
		}
		link.mu.Unlock()
		e.log.Debug("queued remote offer", slog.String("peer", peerID))
		return
	}

	e.answer(link, offer)
}

func (e *Engine) answer(link *peerLink, offer webrtc.SessionDescription) {
	if err := link.transport.SetRemoteDescription(offer); err != nil {
		e.log.Warn("set remote offer failed", slog.String("peer", link.peerID), sl.Err(err))
		return
	}

	e.flushCandidates(link)

	answer, err := link.transport.CreateAnswer()
	if err != nil {
		e.log.Warn("create answer failed", slog.String("peer", link.peerID), sl.Err(err))
		return
	}
	if err := link.transport.SetLocalDescription(answer); err != nil {
		e.log.Warn("set local answer failed", slog.String("peer", link.peerID), sl.Err(err))
		return
	}

	if err := e.signaler.Send(domain.Event{
		Type: domain.KindAnswer,
		To:   link.peerID,
		SDP:  &answer,
	}); err != nil {
		e.log.Warn("answer send failed", slog.String("peer", link.peerID), sl.Err(err))
	}
}

// AcceptAnswer applies a remote answer. Only valid while a local offer is
// outstanding; late or duplicate answers are dropped after a bounded wait.
// On success the offer-in-flight flag clears and queued messages flush.
func (e *Engine) AcceptAnswer(peerID string, answer webrtc.SessionDescription) {
	link, ok := e.link(peerID)
	if !ok {
		e.log.Warn("accept answer: no link", slog.String("peer", peerID))
		return
	}

	if !waitForState(link.transport, webrtc.SignalingStateHaveLocalOffer, e.answerWait) {
		e.log.Warn("accept answer: wrong state, dropped",
			slog.String("peer", peerID),
			slog.String("state", link.transport.SignalingState().String()),
		)
		return
	}

	if err := link.transport.SetRemoteDescription(answer); err != nil {
		e.log.Warn("set remote answer failed", slog.String("peer", peerID), sl.Err(err))
		return
	}

	link.clearOfferInFlight()
	e.flushCandidates(link)

	// A remote offer queued during glare can be answered now that the link
	// is stable again.
	link.mu.Lock()
	queued := link.pendingOffers
	link.pendingOffers = nil
	link.mu.Unlock()

	for _, offer := range queued {
		e.AcceptOffer(peerID, offer)
	}
}

// AcceptCandidate applies a network-path candidate. Candidates arriving
// before the remote description are buffered (bounded, oldest evicted) and
// replayed once a description lands. Never errors on malformed or late
// candidates.
func (e *Engine) AcceptCandidate(peerID string, candidate webrtc.ICECandidateInit) {
	link, ok := e.link(peerID)
	if !ok {
		e.log.Debug("candidate for unknown peer", slog.String("peer", peerID))
		return
	}

	if link.transport.RemoteDescription() == nil {
		link.buffer(candidate, e.maxBuffered)
		return
	}

	if err := link.transport.AddICECandidate(candidate); err != nil {
		e.log.Debug("add candidate failed, buffering", slog.String("peer", peerID), sl.Err(err))
		link.buffer(candidate, e.maxBuffered)
	}
}

// ClosePeer tears down the link for one departed peer. The rest of the
// mesh is untouched.
func (e *Engine) ClosePeer(peerID string) {
	e.mu.Lock()
	link, ok := e.links[peerID]
	delete(e.links, peerID)
	e.mu.Unlock()

	if !ok {
		return
	}
	if err := link.transport.Close(); err != nil {
		e.log.Debug("close link failed", slog.String("peer", peerID), sl.Err(err))
	}
}

// CloseAll stops the local media source, closes every peer link, and clears
// all engine state. Used on explicit leave and full teardown.
func (e *Engine) CloseAll() {
	e.mu.Lock()
	links := e.links
	e.links = make(map[string]*peerLink)
	e.closed = true
	e.mu.Unlock()

	for _, link := range links {
		if err := link.transport.Close(); err != nil {
			e.log.Debug("close link failed", slog.String("peer", link.peerID), sl.Err(err))
		}
	}

	if err := e.media.Close(); err != nil {
		e.log.Debug("close media failed", sl.Err(err))
	}
}

// Links returns the ids of peers with an active link.
func (e *Engine) Links() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]string, 0, len(e.links))
	for id := range e.links {
		ids = append(ids, id)
	}
	return ids
}

func (e *Engine) link(peerID string) (*peerLink, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	link, ok := e.links[peerID]
	return link, ok
}

func (e *Engine) flushCandidates(link *peerLink) {
	link.mu.Lock()
	buffered := link.pendingCandidates
	link.pendingCandidates = nil
	link.mu.Unlock()

	for _, c := range buffered {
		if err := link.transport.AddICECandidate(c); err != nil {
			e.log.Debug("buffered candidate dropped", slog.String("peer", link.peerID), sl.Err(err))
		}
	}
}

func (l *peerLink) clearOfferInFlight() {
	l.mu.Lock()
	l.offerInFlight = false
	l.mu.Unlock()
}

func (l *peerLink) buffer(candidate webrtc.ICECandidateInit, max int) {
	l.mu.Lock()
	l.pendingCandidates = append(l.pendingCandidates, candidate)
	if len(l.pendingCandidates) > max {
		l.pendingCandidates = l.pendingCandidates[1:]
	}
	l.mu.Unlock()
}

// waitForState polls the transport for the wanted signaling state with an
// increasing delay between attempts.
func waitForState(t Transport, want webrtc.SignalingState, step time.Duration) bool {
	for i := 0; i < maxStateAttempts; i++ {
		if t.SignalingState() == want {
			return true
		}
		time.Sleep(step * time.Duration(i+1))
	}
	return t.SignalingState() == want
}
