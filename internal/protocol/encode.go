package protocol

import (
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/dkeye/tablesession/internal/core"
	"github.com/dkeye/tablesession/internal/domain"
)

// The server fills in the sender's ConnectionID; outbound casts and chat carry 0.
const selfPlaceholder = 0

func Introduction(data domain.ClientData) (core.Frame, error) {
	return envelope(TagIntroduction, data)
}

func RtcStart() (core.Frame, error) {
	return envelope(TagRtcStart, selfPlaceholder)
}

func ChatMessage(text string) (core.Frame, error) {
	return envelope(TagChatMessage, []any{text, selfPlaceholder})
}

func Vote(option int) (core.Frame, error) {
	return envelope(TagVote, []any{option, selfPlaceholder})
}

func Event(event any) (core.Frame, error) {
	return envelope(TagEvent, event)
}

// RtcSignaling wraps payload (a session description or candidate) as JSON text,
// addressed to cid.
func RtcSignaling(kind core.SignalKind, cid domain.ConnectionID, payload any) (core.Frame, error) {
	text, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("signal payload: %w", err)
	}
	return envelope(TagRtcSignaling, []any{string(text), kind, cid})
}

func Pong() (core.Frame, error) {
	return bare(TagPong)
}

func envelope(tag string, payload any) (core.Frame, error) {
	b, err := json.Marshal(map[string]any{tag: payload})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", tag, err)
	}
	return b, nil
}

func bare(tag string) (core.Frame, error) {
	b, err := json.Marshal(tag)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", tag, err)
	}
	return b, nil
}
