package client

import (
	"github.com/pion/webrtc/v3"
)

// Transport is the per-peer media transport handle the negotiation engine
// drives. The real implementation wraps a pion PeerConnection; tests use a
// scripted fake.
type Transport interface {
	AddTrack(track webrtc.TrackLocal) error
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	SignalingState() webrtc.SignalingState
	RemoteDescription() *webrtc.SessionDescription
	OnICECandidate(f func(*webrtc.ICECandidate))
	OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	Close() error
}

// TransportFactory creates a fresh transport for a new peer link.
type TransportFactory func() (Transport, error)

// NewPeerConnectionFactory returns a factory producing pion-backed
// transports configured with the given STUN servers.
func NewPeerConnectionFactory(stunServers []string) TransportFactory {
	return func() (Transport, error) {
		pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
			ICEServers: []webrtc.ICEServer{
				{URLs: stunServers},
			},
		})
		if err != nil {
			return nil, err
		}
		return &peerConnection{pc: pc}, nil
	}
}

type peerConnection struct {
	pc *webrtc.PeerConnection
}

func (p *peerConnection) AddTrack(track webrtc.TrackLocal) error {
	_, err := p.pc.AddTrack(track)
	return err
}

func (p *peerConnection) CreateOffer() (webrtc.SessionDescription, error) {
	return p.pc.CreateOffer(nil)
}

func (p *peerConnection) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

func (p *peerConnection) SetLocalDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(desc)
}

func (p *peerConnection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(desc)
}

func (p *peerConnection) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(candidate)
}

func (p *peerConnection) SignalingState() webrtc.SignalingState {
	return p.pc.SignalingState()
}

func (p *peerConnection) RemoteDescription() *webrtc.SessionDescription {
	return p.pc.RemoteDescription()
}

func (p *peerConnection) OnICECandidate(f func(*webrtc.ICECandidate)) {
	p.pc.OnICECandidate(f)
}

func (p *peerConnection) OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	p.pc.OnTrack(f)
}

func (p *peerConnection) Close() error {
	return p.pc.Close()
}
