package protocol

import (
	"errors"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/tablesession/internal/core"
	"github.com/dkeye/tablesession/internal/domain"
)

func TestDecodeKnownTags(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want Message
	}{
		{
			name: "identity",
			raw:  `{"PlayerID": [3, 1, 4]}`,
			want: Identity{Self: 3, Seat: 1, Seats: 4},
		},
		{
			name: "peer joined",
			raw:  `{"ClientJoined": [{"name": "Anna"}, 5, 2]}`,
			want: PeerJoined{Data: domain.ClientData{Name: "Anna"}, Conn: 5, Seat: 2},
		},
		{
			name: "peer left",
			raw:  `{"ClientDisconnected": 5}`,
			want: PeerLeft{Conn: 5},
		},
		{
			name: "chat",
			raw:  `{"ChatMessage": ["hoi", 2]}`,
			want: Chat{Text: "hoi", Conn: 2},
		},
		{
			name: "rtc start",
			raw:  `{"RtcStart": 9}`,
			want: SignalStart{Conn: 9},
		},
		{
			name: "signal",
			raw:  `{"RtcSignaling": ["{\"type\":\"offer\",\"sdp\":\"v=0\"}", "Offer", 7]}`,
			want: Signal{Payload: `{"type":"offer","sdp":"v=0"}`, Kind: core.SignalOffer, Conn: 7},
		},
		{
			name: "vote",
			raw:  `{"Vote": [1, 4]}`,
			want: VoteCast{Option: 1, Conn: 4},
		},
		{
			name: "new vote bare",
			raw:  `{"NewVote": "Revanche"}`,
			want: VoteOpened{Kind: domain.VoteKind{Name: "Revanche"}},
		},
		{
			name: "quit vote",
			raw:  `"QuitVote"`,
			want: VoteClosed{},
		},
		{
			name: "ping bare",
			raw:  `"Ping"`,
			want: Heartbeat{},
		},
		{
			name: "ping object",
			raw:  `{"Ping": null}`,
			want: Heartbeat{},
		},
		{
			name: "unknown object",
			raw:  `{"StartMating": 1}`,
			want: Unknown{Name: "StartMating"},
		},
		{
			name: "unknown bare",
			raw:  `"Whatever"`,
			want: Unknown{Name: "Whatever"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Decode([]byte(tc.raw))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDecodeRosterAndSnapshot(t *testing.T) {
	m, err := Decode([]byte(`{"JoinedClients": [[{"name": "A"}, 1, 0], [{"name": "B"}, 2, 3]]}`))
	require.NoError(t, err)
	roster, ok := m.(PeerRoster)
	require.True(t, ok)
	require.Len(t, roster.Peers, 2)
	assert.Equal(t, domain.ConnectionID(2), roster.Peers[1].Conn)
	assert.Equal(t, domain.SeatID(3), roster.Peers[1].Seat)

	m, err = Decode([]byte(`{"CurrentVote": [{"Kick": 2}, [[0, 1], [1, 5]]]}`))
	require.NoError(t, err)
	snap, ok := m.(VoteSnapshot)
	require.True(t, ok)
	assert.Equal(t, "Kick", snap.Kind.Name)
	assert.JSONEq(t, `2`, string(snap.Kind.Arg))
	assert.Equal(t, []VoteCast{{Option: 0, Conn: 1}, {Option: 1, Conn: 5}}, snap.Casts)
}

func TestDecodeEventKeepsPayload(t *testing.T) {
	m, err := Decode([]byte(`{"Event": {"PlayCard": {"suit": "Rose", "number": 8}}}`))
	require.NoError(t, err)
	ev, ok := m.(GameEvent)
	require.True(t, ok)
	assert.JSONEq(t, `{"PlayCard": {"suit": "Rose", "number": 8}}`, string(ev.Payload))
}

func TestDecodeRejectsMalformed(t *testing.T) {
	for _, raw := range []string{
		`not json`,
		`{"Vote": [1, 2], "Chat": 1}`,
		`{"PlayerID": [1]}`,
		`{"Vote": "one"}`,
		`{"ClientJoined": [{"name": "A"}, "x", 1]}`,
	} {
		_, err := Decode([]byte(raw))
		require.Error(t, err, raw)
		assert.True(t, errors.Is(err, domain.ErrBadPayload), raw)
	}
}

func TestEncodeOutbound(t *testing.T) {
	f, err := Introduction(domain.ClientData{Name: "Sepp", Version: 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"Introduction": {"name": "Sepp", "version": 1}}`, string(f))

	f, err = ChatMessage("salü")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ChatMessage": ["salü", 0]}`, string(f))

	f, err = Vote(1)
	require.NoError(t, err)
	assert.JSONEq(t, `{"Vote": [1, 0]}`, string(f))

	f, err = RtcStart()
	require.NoError(t, err)
	assert.JSONEq(t, `{"RtcStart": 0}`, string(f))

	f, err = Pong()
	require.NoError(t, err)
	assert.JSONEq(t, `"Pong"`, string(f))

	f, err = Event(map[string]int{"Mate": 2})
	require.NoError(t, err)
	assert.JSONEq(t, `{"Event": {"Mate": 2}}`, string(f))
}

func TestSignalRoundTripsThroughRelay(t *testing.T) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0\r\n"}
	f, err := RtcSignaling(core.SignalOffer, 7, offer)
	require.NoError(t, err)

	// The server relays the frame unchanged apart from the addressee.
	m, err := Decode(f)
	require.NoError(t, err)
	sig, ok := m.(Signal)
	require.True(t, ok)
	assert.Equal(t, core.SignalOffer, sig.Kind)
	assert.Equal(t, domain.ConnectionID(7), sig.Conn)

	got, err := DecodeDescription(sig.Payload)
	require.NoError(t, err)
	assert.Equal(t, offer.Type, got.Type)
	assert.Equal(t, offer.SDP, got.SDP)
}

func TestDecodeCandidate(t *testing.T) {
	ci, err := DecodeCandidate(`{"candidate":"candidate:1 1 udp 2122260223 10.0.0.2 51000 typ host","sdpMid":"0","sdpMLineIndex":0}`)
	require.NoError(t, err)
	require.NotNil(t, ci.SDPMid)
	assert.Equal(t, "0", *ci.SDPMid)
	require.NotNil(t, ci.SDPMLineIndex)
	assert.Equal(t, uint16(0), *ci.SDPMLineIndex)

	_, err = DecodeCandidate(`[1,2`)
	assert.ErrorIs(t, err, domain.ErrBadPayload)
}

func TestVoteKindMarshal(t *testing.T) {
	b, err := json.Marshal(domain.VoteKind{Name: "Revanche"})
	require.NoError(t, err)
	assert.JSONEq(t, `"Revanche"`, string(b))

	b, err = json.Marshal(domain.VoteKind{Name: "Kick", Arg: json.RawMessage(`3`)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"Kick": 3}`, string(b))
}
