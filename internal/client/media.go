package client

import (
	"sync"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
)

// LocalMedia is the shared local capture source. It is acquired once and
// attached to every peer link; links never own it. Toggles act at track
// level so every link sees the same mute state.
type LocalMedia interface {
	Tracks() []webrtc.TrackLocal
	SetAudioEnabled(enabled bool)
	SetVideoEnabled(enabled bool)
	AudioEnabled() bool
	VideoEnabled() bool
	Close() error
}

// SampleMedia carries one audio and one video sample track fed by an
// external capture pipeline. Disabled tracks silently drop samples.
type SampleMedia struct {
	audio *webrtc.TrackLocalStaticSample
	video *webrtc.TrackLocalStaticSample

	mu           sync.RWMutex
	audioEnabled bool
	videoEnabled bool
	closed       bool
}

// NewSampleMedia acquires the local media handle. Failure here is fatal to
// the session; callers must not enter a room without it.
func NewSampleMedia(streamID string) (*SampleMedia, error) {
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", streamID,
	)
	if err != nil {
		return nil, err
	}

	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video", streamID,
	)
	if err != nil {
		return nil, err
	}

	return &SampleMedia{
		audio:        audio,
		video:        video,
		audioEnabled: true,
		videoEnabled: true,
	}, nil
}

func (m *SampleMedia) Tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{m.audio, m.video}
}

func (m *SampleMedia) SetAudioEnabled(enabled bool) {
	m.mu.Lock()
	m.audioEnabled = enabled
	m.mu.Unlock()
}

func (m *SampleMedia) SetVideoEnabled(enabled bool) {
	m.mu.Lock()
	m.videoEnabled = enabled
	m.mu.Unlock()
}

func (m *SampleMedia) AudioEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.audioEnabled
}

func (m *SampleMedia) VideoEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.videoEnabled
}

// WriteAudioSample forwards a captured audio sample to the track unless
// audio is muted or the media handle is closed.
func (m *SampleMedia) WriteAudioSample(sample media.Sample) error {
	m.mu.RLock()
	ok := m.audioEnabled && !m.closed
	m.mu.RUnlock()

	if !ok {
		return nil
	}
	return m.audio.WriteSample(sample)
}

// WriteVideoSample forwards a captured video sample to the track unless
// video is muted or the media handle is closed.
func (m *SampleMedia) WriteVideoSample(sample media.Sample) error {
	m.mu.RLock()
	ok := m.videoEnabled && !m.closed
	m.mu.RUnlock()

	if !ok {
		return nil
	}
	return m.video.WriteSample(sample)
}

func (m *SampleMedia) Close() error {
	m.mu.Lock()
	m.closed = true
	m.audioEnabled = false
	m.videoEnabled = false
	m.mu.Unlock()
	return nil
}
