package protocol

import (
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/tablesession/internal/domain"
)

// Decode parses one envelope. Tags outside the vocabulary decode to Unknown
// without error; a known tag with a malformed payload is ErrBadPayload.
func Decode(raw []byte) (Message, error) {
	tag, payload, err := splitEnvelope(raw)
	if err != nil {
		return nil, err
	}

	switch tag {
	case TagPlayerID:
		var m Identity
		if err := tuple(payload, &m.Self, &m.Seat, &m.Seats); err != nil {
			return nil, wrap(tag, err)
		}
		return m, nil
	case TagClientJoined:
		m, err := decodePeer(payload)
		if err != nil {
			return nil, wrap(tag, err)
		}
		return m, nil
	case TagClientDisconnected:
		var m PeerLeft
		if err := json.Unmarshal(payload, &m.Conn); err != nil {
			return nil, wrap(tag, err)
		}
		return m, nil
	case TagJoinedClients:
		var entries []json.RawMessage
		if err := json.Unmarshal(payload, &entries); err != nil {
			return nil, wrap(tag, err)
		}
		m := PeerRoster{Peers: make([]PeerJoined, 0, len(entries))}
		for _, e := range entries {
			p, err := decodePeer(e)
			if err != nil {
				return nil, wrap(tag, err)
			}
			m.Peers = append(m.Peers, p)
		}
		return m, nil
	case TagChatMessage:
		var m Chat
		if err := tuple(payload, &m.Text, &m.Conn); err != nil {
			return nil, wrap(tag, err)
		}
		return m, nil
	case TagRtcStart:
		var m SignalStart
		if err := json.Unmarshal(payload, &m.Conn); err != nil {
			return nil, wrap(tag, err)
		}
		return m, nil
	case TagRtcSignaling:
		var m Signal
		if err := tuple(payload, &m.Payload, &m.Kind, &m.Conn); err != nil {
			return nil, wrap(tag, err)
		}
		return m, nil
	case TagVote:
		m, err := decodeCast(payload)
		if err != nil {
			return nil, wrap(tag, err)
		}
		return m, nil
	case TagCurrentVote:
		var casts []json.RawMessage
		var m VoteSnapshot
		if err := tuple(payload, &m.Kind, &casts); err != nil {
			return nil, wrap(tag, err)
		}
		m.Casts = make([]VoteCast, 0, len(casts))
		for _, c := range casts {
			vc, err := decodeCast(c)
			if err != nil {
				return nil, wrap(tag, err)
			}
			m.Casts = append(m.Casts, vc)
		}
		return m, nil
	case TagNewVote:
		var m VoteOpened
		if err := json.Unmarshal(payload, &m.Kind); err != nil {
			return nil, wrap(tag, err)
		}
		return m, nil
	case TagQuitVote:
		return VoteClosed{}, nil
	case TagPing:
		return Heartbeat{}, nil
	case TagEvent:
		return GameEvent{Payload: payload}, nil
	default:
		return Unknown{Name: tag}, nil
	}
}

// DecodeDescription parses the JSON text of an Offer or Answer signal.
func DecodeDescription(text string) (webrtc.SessionDescription, error) {
	var sd webrtc.SessionDescription
	if err := json.Unmarshal([]byte(text), &sd); err != nil {
		return sd, fmt.Errorf("session description: %w", domain.ErrBadPayload)
	}
	return sd, nil
}

// DecodeCandidate parses the JSON text of an ICECandidate signal.
func DecodeCandidate(text string) (webrtc.ICECandidateInit, error) {
	var ci webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(text), &ci); err != nil {
		return ci, fmt.Errorf("ice candidate: %w", domain.ErrBadPayload)
	}
	return ci, nil
}

func splitEnvelope(raw []byte) (string, json.RawMessage, error) {
	var tag string
	if err := json.Unmarshal(raw, &tag); err == nil {
		return tag, nil, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", nil, fmt.Errorf("envelope: %w", domain.ErrBadPayload)
	}
	if len(obj) != 1 {
		return "", nil, fmt.Errorf("envelope with %d keys: %w", len(obj), domain.ErrBadPayload)
	}
	for tag, payload := range obj {
		return tag, payload, nil
	}
	return "", nil, domain.ErrBadPayload
}

// tuple decodes a JSON array positionally into dst. Extra elements are ignored.
func tuple(payload json.RawMessage, dst ...any) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(payload, &parts); err != nil {
		return err
	}
	if len(parts) < len(dst) {
		return fmt.Errorf("want %d elements, got %d", len(dst), len(parts))
	}
	for i, d := range dst {
		if err := json.Unmarshal(parts[i], d); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	return nil
}

func decodePeer(payload json.RawMessage) (PeerJoined, error) {
	var p PeerJoined
	err := tuple(payload, &p.Data, &p.Conn, &p.Seat)
	return p, err
}

func decodeCast(payload json.RawMessage) (VoteCast, error) {
	var c VoteCast
	err := tuple(payload, &c.Option, &c.Conn)
	return c, err
}

func wrap(tag string, err error) error {
	return fmt.Errorf("%s: %v: %w", tag, err, domain.ErrBadPayload)
}
