// Package protocol maps the server's envelope vocabulary to typed messages and back.
//
// An envelope is either a bare JSON string tag ("QuitVote") or an object with
// exactly one key, the tag, holding the payload ({"Vote": [1, 4]}).
package protocol

import (
	json "github.com/goccy/go-json"

	"github.com/dkeye/tablesession/internal/core"
	"github.com/dkeye/tablesession/internal/domain"
)

const (
	TagPlayerID           = "PlayerID"
	TagClientJoined       = "ClientJoined"
	TagClientDisconnected = "ClientDisconnected"
	TagJoinedClients      = "JoinedClients"
	TagChatMessage        = "ChatMessage"
	TagRtcStart           = "RtcStart"
	TagRtcSignaling       = "RtcSignaling"
	TagVote               = "Vote"
	TagCurrentVote        = "CurrentVote"
	TagNewVote            = "NewVote"
	TagQuitVote           = "QuitVote"
	TagPing               = "Ping"
	TagPong               = "Pong"
	TagEvent              = "Event"
	TagIntroduction       = "Introduction"
)

type Message interface {
	Tag() string
}

// Identity is this connection's own identity, delivered once and first.
type Identity struct {
	Self  domain.ConnectionID
	Seat  domain.SeatID
	Seats int
}

type PeerJoined struct {
	Data domain.ClientData
	Conn domain.ConnectionID
	Seat domain.SeatID
}

type PeerLeft struct {
	Conn domain.ConnectionID
}

// PeerRoster lists the peers connected before us.
type PeerRoster struct {
	Peers []PeerJoined
}

type Chat struct {
	Text string
	Conn domain.ConnectionID
}

// SignalStart asks us to open negotiation with Conn.
type SignalStart struct {
	Conn domain.ConnectionID
}

// Signal carries a relayed offer, answer or candidate; Payload is itself JSON text.
type Signal struct {
	Payload string
	Kind    core.SignalKind
	Conn    domain.ConnectionID
}

type VoteCast struct {
	Option int
	Conn   domain.ConnectionID
}

// VoteSnapshot replays an open vote to a late joiner.
type VoteSnapshot struct {
	Kind  domain.VoteKind
	Casts []VoteCast
}

type VoteOpened struct {
	Kind domain.VoteKind
}

type VoteClosed struct{}

type Heartbeat struct{}

// GameEvent is forwarded untouched; the rules engine owns its shape.
type GameEvent struct {
	Payload json.RawMessage
}

// Unknown is any tag outside the vocabulary above.
type Unknown struct {
	Name string
}

func (Identity) Tag() string     { return TagPlayerID }
func (PeerJoined) Tag() string   { return TagClientJoined }
func (PeerLeft) Tag() string     { return TagClientDisconnected }
func (PeerRoster) Tag() string   { return TagJoinedClients }
func (Chat) Tag() string         { return TagChatMessage }
func (SignalStart) Tag() string  { return TagRtcStart }
func (Signal) Tag() string       { return TagRtcSignaling }
func (VoteCast) Tag() string     { return TagVote }
func (VoteSnapshot) Tag() string { return TagCurrentVote }
func (VoteOpened) Tag() string   { return TagNewVote }
func (VoteClosed) Tag() string   { return TagQuitVote }
func (Heartbeat) Tag() string    { return TagPing }
func (GameEvent) Tag() string    { return TagEvent }
func (u Unknown) Tag() string    { return u.Name }
