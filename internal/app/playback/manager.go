// Package playback consumes remote audio: one read loop per peer, torn down
// together with that peer's connection.
package playback

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/tablesession/internal/domain"
)

type Stats struct {
	Conn    domain.ConnectionID `json:"conn"`
	State   string              `json:"state"`
	Packets uint64              `json:"packets"`
}

type Manager struct {
	out Output

	mu    sync.RWMutex
	sinks map[domain.ConnectionID]*sink
	muted map[domain.ConnectionID]bool
}

func NewManager(out Output) *Manager {
	if out == nil {
		out = Discard{}
	}
	return &Manager{
		out:   out,
		sinks: make(map[domain.ConnectionID]*sink),
		muted: make(map[domain.ConnectionID]bool),
	}
}

// Play starts consuming a remote track of cid.
func (m *Manager) Play(ctx context.Context, cid domain.ConnectionID, track *webrtc.TrackRemote) {
	m.Attach(ctx, cid, track)
}

// Attach starts a read loop over src, replacing any loop running for cid.
func (m *Manager) Attach(ctx context.Context, cid domain.ConnectionID, src PacketSource) {
	logger := log.With().
		Str("module", "playback").
		Int("conn", int(cid)).
		Logger()

	sinkCtx, cancel := context.WithCancel(ctx)
	s := &sink{cid: cid, src: src, cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	if old, ok := m.sinks[cid]; ok {
		logger.Info().Msg("replacing existing sink")
		old.cancel()
	}
	if m.muted[cid] {
		s.state.Store(int32(SinkMuted))
	}
	m.sinks[cid] = s
	m.mu.Unlock()

	logger.Info().Msg("starting sink loop")
	go s.loop(sinkCtx, m.out, &logger)
}

// Stop ends cid's loop once its current read returns.
func (m *Manager) Stop(cid domain.ConnectionID) {
	m.mu.Lock()
	s, ok := m.sinks[cid]
	delete(m.sinks, cid)
	delete(m.muted, cid)
	m.mu.Unlock()
	if ok {
		s.cancel()
	}
}

// Mute silences cid locally; packets are still read and counted.
func (m *Manager) Mute(cid domain.ConnectionID, muted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.muted[cid] = muted
	s, ok := m.sinks[cid]
	if !ok || s.State() == SinkStopped {
		return
	}
	if muted {
		s.state.Store(int32(SinkMuted))
	} else {
		s.state.Store(int32(SinkPlaying))
	}
}

func (m *Manager) Stats() []Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Stats, 0, len(m.sinks))
	for cid, s := range m.sinks {
		out = append(out, Stats{Conn: cid, State: s.State().String(), Packets: s.packets.Load()})
	}
	return out
}

// Close stops every loop.
func (m *Manager) Close() {
	m.mu.Lock()
	sinks := m.sinks
	m.sinks = make(map[domain.ConnectionID]*sink)
	m.mu.Unlock()
	for _, s := range sinks {
		s.cancel()
	}
}
