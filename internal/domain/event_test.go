package domain

import (
	"testing"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeInboundOffer(t *testing.T) {
	raw := []byte(`{"type":"offer","to":"peer-1","sdp":{"type":"offer","sdp":"v=0"}}`)

	ev, err := DecodeInbound(raw)
	require.NoError(t, err)

	assert.Equal(t, KindOffer, ev.Type)
	assert.Equal(t, "peer-1", ev.To)
	require.NotNil(t, ev.SDP)
	assert.Equal(t, webrtc.SDPTypeOffer, ev.SDP.Type)
}

func TestDecodeInboundJoinRequest(t *testing.T) {
	ev, err := DecodeInbound([]byte(`{"type":"join-request","roomId":"r1","username":"alice"}`))
	require.NoError(t, err)
	assert.Equal(t, "r1", ev.RoomID)
	assert.Equal(t, "alice", ev.Username)
}

func TestDecodeInboundRejectsMissingFields(t *testing.T) {
	cases := map[string]string{
		"join without room":     `{"type":"join-request","username":"alice"}`,
		"join without username": `{"type":"join-request","roomId":"r1"}`,
		"admit without target":  `{"type":"admit-user","roomId":"r1"}`,
		"offer without sdp":     `{"type":"offer","to":"peer-1"}`,
		"candidate without to":  `{"type":"ice-candidate","candidate":{"candidate":"candidate:x"}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeInbound([]byte(raw))
			assert.ErrorIs(t, err, ErrMalformedEvent)
		})
	}
}

func TestDecodeInboundRejectsUnknownKind(t *testing.T) {
	_, err := DecodeInbound([]byte(`{"type":"open-the-pod-bay-doors"}`))
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

func TestDecodeInboundRejectsServerKinds(t *testing.T) {
	// Server-only kinds are not acceptable from a client.
	_, err := DecodeInbound([]byte(`{"type":"meeting-ended"}`))
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

func TestDecodeInboundBadJSON(t *testing.T) {
	_, err := DecodeInbound([]byte(`{"type":`))
	assert.Error(t, err)
}
