package app

import "github.com/dkeye/tablesession/internal/core"

type BackpressureAction int

const (
	DropFrame BackpressureAction = iota
	Disconnect
)

// Policy decides what a full outbound queue means for the connection.
type Policy interface {
	OnBackpressure(conn core.SignalConnection) BackpressureAction
}

// DropPolicy loses the frame and keeps the connection.
type DropPolicy struct{}

func (DropPolicy) OnBackpressure(core.SignalConnection) BackpressureAction { return DropFrame }

// DisconnectPolicy treats a stalled server as lost.
type DisconnectPolicy struct{}

func (DisconnectPolicy) OnBackpressure(core.SignalConnection) BackpressureAction { return Disconnect }

// PolicyByName maps the config value to a policy; unknown names drop frames.
func PolicyByName(name string) Policy {
	if name == "disconnect" {
		return DisconnectPolicy{}
	}
	return DropPolicy{}
}
