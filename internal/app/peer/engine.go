// Package peer negotiates one WebRTC audio connection per remote participant,
// using the game server only as a signaling relay.
package peer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/tablesession/internal/core"
	"github.com/dkeye/tablesession/internal/domain"
)

type Config struct {
	WebRTC  webrtc.Configuration
	Factory core.MediaFactory
	Source  core.MediaSource
	// Sink receives remote tracks; nil discards them.
	Sink TrackSink
}

type Engine struct {
	cfg    Config
	out    Signaler
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[domain.ConnectionID]*session
	// left holds connections that are gone for good; ids are never reused.
	left  map[domain.ConnectionID]struct{}
	media MediaState
	local webrtc.TrackLocal
}

func NewEngine(cfg Config, out Signaler) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:      cfg,
		out:      out,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[domain.ConnectionID]*session),
		left:     make(map[domain.ConnectionID]struct{}),
	}
}

// errGone stops negotiation with a connection that left while it was opening.
var errGone = errors.New("peer left")

// EnableMedia acquires the local audio track once. A call made while an
// acquisition is pending fails with domain.ErrMediaAcquiring. Peers skipped
// before media was ready are not renegotiated.
func (e *Engine) EnableMedia(ctx context.Context) error {
	e.mu.Lock()
	switch e.media {
	case MediaReady:
		e.mu.Unlock()
		return nil
	case MediaAcquiring:
		e.mu.Unlock()
		return domain.ErrMediaAcquiring
	}
	e.media = MediaAcquiring
	e.mu.Unlock()

	track, err := e.cfg.Source.Acquire(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.media = MediaIdle
		return fmt.Errorf("acquire local audio: %w", err)
	}
	e.local = track
	e.media = MediaReady
	log.Info().Str("module", "peer").Str("track_id", track.ID()).Msg("local audio ready")
	return nil
}

func (e *Engine) MediaState() MediaState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.media
}

// RTCOnStart opens a session towards cid and returns our offer. Without
// local media it does nothing.
func (e *Engine) RTCOnStart(ctx context.Context, cid domain.ConnectionID) (*webrtc.SessionDescription, error) {
	if e.MediaState() != MediaReady {
		log.Debug().Str("module", "peer").Int("conn", int(cid)).Msg("start skipped, no local audio")
		return nil, nil
	}
	ps, err := e.open(cid)
	if errors.Is(err, errGone) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	offer, err := ps.conn.CreateAndSetOffer()
	if err != nil {
		e.drop(ps)
		return nil, fmt.Errorf("create offer for %d: %w", cid, err)
	}
	if !e.transition(ps, StateIdle, StateOffering) {
		log.Debug().Str("module", "peer").Int("conn", int(cid)).Msg("offer outlived its session")
		return nil, nil
	}
	return offer, nil
}

// RTCOnOffer replaces any session with cid and answers the offer. Without
// local media the answer only receives.
func (e *Engine) RTCOnOffer(ctx context.Context, cid domain.ConnectionID, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	ps, err := e.open(cid)
	if errors.Is(err, errGone) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	answer, err := ps.conn.ApplyOfferAndCreateAnswer(offer)
	if err != nil {
		e.drop(ps)
		return nil, fmt.Errorf("answer %d: %w", cid, err)
	}
	if !e.transition(ps, StateIdle, StateAnswering) {
		log.Debug().Str("module", "peer").Int("conn", int(cid)).Msg("answer outlived its session")
		return nil, nil
	}
	return answer, nil
}

func (e *Engine) RTCOnAnswer(ctx context.Context, cid domain.ConnectionID, answer webrtc.SessionDescription) error {
	ps := e.lookup(cid)
	if ps == nil {
		log.Debug().Str("module", "peer").Int("conn", int(cid)).Msg("answer without session dropped")
		return nil
	}
	if err := ps.conn.ApplyAnswer(answer); err != nil {
		return fmt.Errorf("apply answer from %d: %w", cid, err)
	}
	if !e.transition(ps, StateAwaitingAnswer, StateConnected) {
		log.Debug().Str("module", "peer").Int("conn", int(cid)).Msg("answer in unexpected state")
	}
	return nil
}

// RTCOnICECandidate applies a remote candidate. Failures are expected when
// candidates race the descriptions, so they are only logged.
func (e *Engine) RTCOnICECandidate(ctx context.Context, cid domain.ConnectionID, cand webrtc.ICECandidateInit) error {
	ps := e.lookup(cid)
	if ps == nil {
		log.Debug().Str("module", "peer").Int("conn", int(cid)).Msg("candidate without session dropped")
		return nil
	}
	if err := ps.conn.AddICECandidate(cand); err != nil {
		log.Warn().Str("module", "peer").Int("conn", int(cid)).Err(err).Msg("candidate rejected")
	}
	return nil
}

// RTCOnSent releases local candidates held back until our description for
// cid was relayed.
func (e *Engine) RTCOnSent(cid domain.ConnectionID) {
	e.mu.Lock()
	ps := e.sessions[cid]
	if ps == nil {
		e.mu.Unlock()
		return
	}
	ps.sent = true
	if ps.state == StateOffering {
		ps.state = StateAwaitingAnswer
	}
	pending := ps.pending
	ps.pending = nil
	e.mu.Unlock()

	for _, c := range pending {
		e.sendCandidate(cid, c)
	}
}

// OnClientLeave tears down the session with cid and refuses to open a new
// one for it. Nothing is sent to the peer.
func (e *Engine) OnClientLeave(cid domain.ConnectionID) {
	e.mu.Lock()
	e.left[cid] = struct{}{}
	ps := e.sessions[cid]
	delete(e.sessions, cid)
	e.mu.Unlock()
	if ps == nil {
		return
	}
	e.release(ps)
	log.Info().Str("module", "peer").Int("conn", int(cid)).Msg("session torn down")
}

// State reports the negotiation state with cid.
func (e *Engine) State(cid domain.ConnectionID) (State, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ps, ok := e.sessions[cid]
	if !ok {
		return StateIdle, false
	}
	return ps.state, true
}

func (e *Engine) Sessions() []Info {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Info, 0, len(e.sessions))
	for cid, ps := range e.sessions {
		out = append(out, Info{Conn: cid, State: ps.state.String()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Conn < out[j].Conn })
	return out
}

// Close tears down every session.
func (e *Engine) Close() {
	e.mu.Lock()
	all := make([]*session, 0, len(e.sessions))
	for _, ps := range e.sessions {
		all = append(all, ps)
	}
	e.sessions = make(map[domain.ConnectionID]*session)
	e.mu.Unlock()

	for _, ps := range all {
		e.release(ps)
	}
	e.cancel()
}

// open creates a started connection for cid and installs it in place of any
// previous session. It fails with errGone if cid left before or during setup.
func (e *Engine) open(cid domain.ConnectionID) (*session, error) {
	if e.gone(cid) {
		log.Debug().Str("module", "peer").Int("conn", int(cid)).Msg("signal for departed peer dropped")
		return nil, errGone
	}
	conn, err := e.cfg.Factory(e.cfg.WebRTC)
	if err != nil {
		return nil, fmt.Errorf("new peer connection for %d: %w", cid, err)
	}
	ps := &session{cid: cid, conn: conn}

	conn.OnICECandidate(func(c webrtc.ICECandidateInit) { e.localCandidate(ps, c) })
	conn.OnConnected(func() { e.transition(ps, StateAnswering, StateConnected) })
	conn.OnClosed(func() { e.forget(ps) })
	conn.OnTrack(func(ctx context.Context, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if e.lookup(cid) != ps || e.cfg.Sink == nil {
			return
		}
		e.cfg.Sink.Play(ctx, cid, track)
	})
	if err := conn.Start(e.ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("start peer connection for %d: %w", cid, err)
	}

	e.mu.Lock()
	if _, gone := e.left[cid]; gone {
		e.mu.Unlock()
		conn.Close()
		log.Debug().Str("module", "peer").Int("conn", int(cid)).Msg("peer left during setup")
		return nil, errGone
	}
	old := e.sessions[cid]
	e.sessions[cid] = ps
	local := e.local
	e.mu.Unlock()

	if old != nil {
		log.Info().Str("module", "peer").Int("conn", int(cid)).Str("state", old.state.String()).Msg("session replaced")
		e.release(old)
	}
	if local != nil {
		if _, err := conn.AddLocalTrack(local); err != nil {
			e.drop(ps)
			return nil, fmt.Errorf("add local audio for %d: %w", cid, err)
		}
	}
	return ps, nil
}

func (e *Engine) gone(cid domain.ConnectionID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.left[cid]
	return ok
}

func (e *Engine) lookup(cid domain.ConnectionID) *session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions[cid]
}

// transition moves ps from one state to another only if ps is still the
// live session for its connection.
func (e *Engine) transition(ps *session, from, to State) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sessions[ps.cid] != ps || ps.state != from {
		return false
	}
	ps.state = to
	log.Info().Str("module", "peer").Int("conn", int(ps.cid)).Str("from", from.String()).Str("to", to.String()).Msg("negotiation")
	return true
}

func (e *Engine) localCandidate(ps *session, c webrtc.ICECandidateInit) {
	e.mu.Lock()
	if e.sessions[ps.cid] != ps {
		e.mu.Unlock()
		return
	}
	if !ps.sent {
		ps.pending = append(ps.pending, c)
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
	e.sendCandidate(ps.cid, c)
}

func (e *Engine) sendCandidate(cid domain.ConnectionID, c webrtc.ICECandidateInit) {
	if err := e.out.SendSignal(core.SignalCandidate, cid, c); err != nil {
		log.Warn().Str("module", "peer").Int("conn", int(cid)).Err(err).Msg("candidate not relayed")
	}
}

// drop removes ps if it is still current and closes it.
func (e *Engine) drop(ps *session) {
	e.mu.Lock()
	if e.sessions[ps.cid] == ps {
		delete(e.sessions, ps.cid)
	}
	e.mu.Unlock()
	e.release(ps)
}

// forget handles a connection that closed on its own.
func (e *Engine) forget(ps *session) {
	e.mu.Lock()
	current := e.sessions[ps.cid] == ps
	if current {
		delete(e.sessions, ps.cid)
	}
	e.mu.Unlock()
	if !current {
		return
	}
	log.Info().Str("module", "peer").Int("conn", int(ps.cid)).Msg("peer connection closed")
	if e.cfg.Sink != nil {
		e.cfg.Sink.Stop(ps.cid)
	}
}

// release closes ps's connection; it must already be out of the table.
func (e *Engine) release(ps *session) {
	ps.conn.Close()
	if e.cfg.Sink != nil && e.lookup(ps.cid) == nil {
		e.cfg.Sink.Stop(ps.cid)
	}
}

var (
	_ core.RTCStartHook     = (*Engine)(nil)
	_ core.RTCOfferHook     = (*Engine)(nil)
	_ core.RTCAnswerHook    = (*Engine)(nil)
	_ core.RTCCandidateHook = (*Engine)(nil)
	_ core.RTCSentHook      = (*Engine)(nil)
	_ core.ClientLeaveHook  = (*Engine)(nil)
)
