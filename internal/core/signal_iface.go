package core

// Frame is one encoded envelope.
type Frame []byte

// SignalConnection abstracts the transport to the game server.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
