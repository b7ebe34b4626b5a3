package peer

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/tablesession/internal/core"
	"github.com/dkeye/tablesession/internal/domain"
)

// State is the negotiation state of one PeerSession.
type State int

const (
	StateIdle State = iota
	StateOffering
	StateAwaitingAnswer
	StateAnswering
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOffering:
		return "offering"
	case StateAwaitingAnswer:
		return "awaiting-answer"
	case StateAnswering:
		return "answering"
	case StateConnected:
		return "connected"
	}
	return "unknown"
}

// MediaState tracks local audio acquisition.
type MediaState int

const (
	MediaIdle MediaState = iota
	MediaAcquiring
	MediaReady
)

func (s MediaState) String() string {
	switch s {
	case MediaIdle:
		return "idle"
	case MediaAcquiring:
		return "acquiring"
	case MediaReady:
		return "ready"
	}
	return "unknown"
}

// session is the negotiation with one remote connection. Sessions are
// compared by pointer: a completion holding a replaced or torn down session
// finds a different pointer (or none) in the table and does nothing.
type session struct {
	cid   domain.ConnectionID
	conn  core.MediaConnection
	state State

	// Local candidates wait here until our description is on the wire.
	sent    bool
	pending []webrtc.ICECandidateInit
}

// Info is a read-only view of one session.
type Info struct {
	Conn  domain.ConnectionID `json:"conn"`
	State string              `json:"state"`
}

// Signaler relays negotiation messages to a peer through the server.
type Signaler interface {
	SendSignal(kind core.SignalKind, cid domain.ConnectionID, payload any) error
}

// TrackSink consumes remote audio.
type TrackSink interface {
	Play(ctx context.Context, cid domain.ConnectionID, track *webrtc.TrackRemote)
	Stop(cid domain.ConnectionID)
}
