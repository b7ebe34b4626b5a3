package core

import (
	"context"

	json "github.com/goccy/go-json"
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/tablesession/internal/domain"
)

// A plugin registered on the session implements any subset of the hook
// interfaces below. The session sorts plugins into per-hook lists once, at
// registration, and calls them in registration order.

type InitHook interface {
	OnInit(self domain.ConnectionID, seat domain.SeatID, seats int)
}

type ClientHook interface {
	OnClient(data domain.ClientData, cid domain.ConnectionID, seat domain.SeatID)
}

// ClientLeaveHook runs before the identity mapping of cid is removed.
type ClientLeaveHook interface {
	OnClientLeave(cid domain.ConnectionID)
}

type ChatHook interface {
	OnChatMessage(text string, cid domain.ConnectionID)
}

type EventHook interface {
	OnEvent(event json.RawMessage)
}

type VoteHook interface {
	OnVote(option int, cid domain.ConnectionID)
}

type NewVoteHook interface {
	OnNewVote(kind domain.VoteKind)
}

type VoteQuitHook interface {
	OnVoteQuit()
}

// ConnectionLostHook is told once about a transport-fatal condition.
type ConnectionLostHook interface {
	OnConnectionLost(err error)
}

// RTC hooks run off the read loop. A nil description with a nil error means
// "nothing to relay".

type RTCStartHook interface {
	RTCOnStart(ctx context.Context, cid domain.ConnectionID) (*webrtc.SessionDescription, error)
}

type RTCOfferHook interface {
	RTCOnOffer(ctx context.Context, cid domain.ConnectionID, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error)
}

type RTCAnswerHook interface {
	RTCOnAnswer(ctx context.Context, cid domain.ConnectionID, answer webrtc.SessionDescription) error
}

type RTCCandidateHook interface {
	RTCOnICECandidate(ctx context.Context, cid domain.ConnectionID, cand webrtc.ICECandidateInit) error
}

// RTCSentHook learns that a description returned by an RTC hook has been
// queued on the transport, so candidates gathered meanwhile may follow it.
type RTCSentHook interface {
	RTCOnSent(cid domain.ConnectionID)
}

// SignalKind is the RtcSignaling discriminator.
type SignalKind string

const (
	SignalOffer     SignalKind = "Offer"
	SignalAnswer    SignalKind = "Answer"
	SignalCandidate SignalKind = "ICECandidate"
)

// Outbound is the session's sending side as seen by plugins.
type Outbound interface {
	SendChat(text string) error
	SendVote(option int) error
	SendEvent(event any) error
	SendSignal(kind SignalKind, cid domain.ConnectionID, payload any) error
}
