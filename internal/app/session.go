package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/tablesession/internal/core"
	"github.com/dkeye/tablesession/internal/domain"
	"github.com/dkeye/tablesession/internal/protocol"
)

// Transport is an opened signaling connection. Frames are delivered to the
// callback passed to Start, one at a time and in arrival order.
type Transport interface {
	core.SignalConnection
	Start(onFrame func(raw []byte))
	Done() <-chan struct{}
	Err() error
}

// DialFunc opens a transport to addr without starting its read loop.
type DialFunc func(ctx context.Context, addr string) (Transport, error)

type Options struct {
	Identity     domain.ClientData
	AllowRTC     bool
	ChatLimit    int
	ChatInterval time.Duration
	// Policy defaults to DropPolicy.
	Policy Policy
}

type hookLists struct {
	init      []core.InitHook
	client    []core.ClientHook
	leave     []core.ClientLeaveHook
	chat      []core.ChatHook
	event     []core.EventHook
	vote      []core.VoteHook
	newVote   []core.NewVoteHook
	voteQuit  []core.VoteQuitHook
	lost      []core.ConnectionLostHook
	rtcStart  []core.RTCStartHook
	rtcOffer  []core.RTCOfferHook
	rtcAnswer []core.RTCAnswerHook
	rtcCand   []core.RTCCandidateHook
	rtcSent   []core.RTCSentHook
}

// Session decodes inbound frames, keeps the identity map current and fans
// typed events out to registered plugins. It also implements core.Outbound.
type Session struct {
	opts     Options
	identity *IdentityMap
	limiter  *SendLimiter
	lanes    *lanes

	hooksMu sync.RWMutex
	hooks   hookLists

	connMu  sync.RWMutex
	conn    core.SignalConnection
	stalled core.SignalConnection

	// signaled holds connections seen only through signaling, so their
	// departure still reaches the leave hooks.
	signaledMu sync.Mutex
	signaled   map[domain.ConnectionID]struct{}

	lostOnce sync.Once
}

func NewSession(opts Options) *Session {
	if opts.Policy == nil {
		opts.Policy = DropPolicy{}
	}
	return &Session{
		opts:     opts,
		identity: NewIdentityMap(),
		limiter:  NewSendLimiter(opts.ChatLimit, opts.ChatInterval),
		lanes:    newLanes(),
		signaled: make(map[domain.ConnectionID]struct{}),
	}
}

func (s *Session) Identity() *IdentityMap { return s.identity }

// Register adds plugins. Each one is checked against every hook interface
// and appended to the matching lists, so call order equals registration order.
func (s *Session) Register(plugins ...any) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	h := &s.hooks
	for _, p := range plugins {
		matched := false
		if v, ok := p.(core.InitHook); ok {
			h.init, matched = append(h.init, v), true
		}
		if v, ok := p.(core.ClientHook); ok {
			h.client, matched = append(h.client, v), true
		}
		if v, ok := p.(core.ClientLeaveHook); ok {
			h.leave, matched = append(h.leave, v), true
		}
		if v, ok := p.(core.ChatHook); ok {
			h.chat, matched = append(h.chat, v), true
		}
		if v, ok := p.(core.EventHook); ok {
			h.event, matched = append(h.event, v), true
		}
		if v, ok := p.(core.VoteHook); ok {
			h.vote, matched = append(h.vote, v), true
		}
		if v, ok := p.(core.NewVoteHook); ok {
			h.newVote, matched = append(h.newVote, v), true
		}
		if v, ok := p.(core.VoteQuitHook); ok {
			h.voteQuit, matched = append(h.voteQuit, v), true
		}
		if v, ok := p.(core.ConnectionLostHook); ok {
			h.lost, matched = append(h.lost, v), true
		}
		if v, ok := p.(core.RTCStartHook); ok {
			h.rtcStart, matched = append(h.rtcStart, v), true
		}
		if v, ok := p.(core.RTCOfferHook); ok {
			h.rtcOffer, matched = append(h.rtcOffer, v), true
		}
		if v, ok := p.(core.RTCAnswerHook); ok {
			h.rtcAnswer, matched = append(h.rtcAnswer, v), true
		}
		if v, ok := p.(core.RTCCandidateHook); ok {
			h.rtcCand, matched = append(h.rtcCand, v), true
		}
		if v, ok := p.(core.RTCSentHook); ok {
			h.rtcSent, matched = append(h.rtcSent, v), true
		}
		if !matched {
			log.Warn().Str("module", "app.session").Str("plugin", fmt.Sprintf("%T", p)).Msg("plugin implements no hooks")
		}
	}
}

func (s *Session) hookSet() hookLists {
	s.hooksMu.RLock()
	defer s.hooksMu.RUnlock()
	return s.hooks
}

// Run dials addr, introduces the client and dispatches frames until ctx is
// done or the transport fails. Transport failure is reported to
// ConnectionLostHook plugins once and returned as domain.ErrConnectionLost.
func (s *Session) Run(ctx context.Context, addr string, dial DialFunc) error {
	conn, err := dial(ctx, addr)
	if err != nil {
		s.connectionLost(err)
		return fmt.Errorf("dial %s: %v: %w", addr, err, domain.ErrConnectionLost)
	}
	if err := s.Attach(conn); err != nil {
		conn.Close()
		s.connectionLost(err)
		return fmt.Errorf("introduce: %v: %w", err, domain.ErrConnectionLost)
	}
	conn.Start(func(raw []byte) { s.Dispatch(ctx, raw) })
	log.Info().Str("module", "app.session").Str("addr", addr).Msg("connected")

	defer s.Close()
	select {
	case <-ctx.Done():
		conn.Close()
		return ctx.Err()
	case <-conn.Done():
		cause := conn.Err()
		if cause == nil {
			cause = errors.New("closed by peer")
		}
		s.connectionLost(cause)
		return fmt.Errorf("%v: %w", cause, domain.ErrConnectionLost)
	}
}

// Attach makes conn the outbound channel and sends the Introduction, followed
// by an RtcStart announcement when voice is allowed.
func (s *Session) Attach(conn core.SignalConnection) error {
	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	intro, err := protocol.Introduction(s.opts.Identity)
	if err != nil {
		return err
	}
	if err := s.send(intro); err != nil {
		return err
	}
	if !s.opts.AllowRTC {
		return nil
	}
	start, err := protocol.RtcStart()
	if err != nil {
		return err
	}
	return s.send(start)
}

// Close waits for in-flight signaling work. Plugins are not notified.
func (s *Session) Close() {
	s.lanes.Close()
}

func (s *Session) connectionLost(err error) {
	s.lostOnce.Do(func() {
		log.Error().Str("module", "app.session").Err(err).Msg("connection lost")
		for _, h := range s.hookSet().lost {
			h.OnConnectionLost(err)
		}
	})
}

// Dispatch handles one inbound frame. Malformed frames are logged and
// dropped; the session keeps running.
func (s *Session) Dispatch(ctx context.Context, raw []byte) {
	msg, err := protocol.Decode(raw)
	if err != nil {
		log.Warn().Str("module", "app.session").Err(err).Int("len", len(raw)).Msg("frame dropped")
		return
	}
	h := s.hookSet()

	switch m := msg.(type) {
	case protocol.Identity:
		s.evictSeat(h, m.Seat, m.Self)
		s.identity.SetSelf(m.Self, m.Seat, m.Seats, s.opts.Identity)
		for _, hk := range h.init {
			hk.OnInit(m.Self, m.Seat, m.Seats)
		}
	case protocol.PeerJoined:
		s.peerJoined(h, m)
	case protocol.PeerRoster:
		for _, p := range m.Peers {
			s.peerJoined(h, p)
		}
	case protocol.PeerLeft:
		s.peerLeft(h, m.Conn)
	case protocol.Chat:
		for _, hk := range h.chat {
			hk.OnChatMessage(m.Text, m.Conn)
		}
	case protocol.VoteCast:
		for _, hk := range h.vote {
			hk.OnVote(m.Option, m.Conn)
		}
	case protocol.VoteOpened:
		for _, hk := range h.newVote {
			hk.OnNewVote(m.Kind)
		}
	case protocol.VoteSnapshot:
		for _, hk := range h.newVote {
			hk.OnNewVote(m.Kind)
		}
		for _, c := range m.Casts {
			for _, hk := range h.vote {
				hk.OnVote(c.Option, c.Conn)
			}
		}
	case protocol.VoteClosed:
		for _, hk := range h.voteQuit {
			hk.OnVoteQuit()
		}
	case protocol.GameEvent:
		for _, hk := range h.event {
			hk.OnEvent(m.Payload)
		}
	case protocol.Heartbeat:
		s.pong()
	case protocol.SignalStart:
		cid := m.Conn
		s.markSignaled(cid)
		s.lanes.Do(cid, func() { s.rtcStart(ctx, h, cid) })
	case protocol.Signal:
		s.markSignaled(m.Conn)
		s.lanes.Do(m.Conn, func() { s.rtcSignal(ctx, h, m) })
	case protocol.Unknown:
		log.Debug().Str("module", "app.session").Str("tag", m.Name).Msg("unknown tag ignored")
	}
}

func (s *Session) peerJoined(h hookLists, p protocol.PeerJoined) {
	if self, ok := s.identity.Self(); ok && self == p.Conn {
		return
	}
	s.evictSeat(h, p.Seat, p.Conn)
	s.identity.Put(p.Conn, p.Seat, p.Data)
	for _, hk := range h.client {
		hk.OnClient(p.Data, p.Conn, p.Seat)
	}
}

// peerLeft runs the leave hooks while cid is still resolvable, then forgets
// it. Connections known only from signaling are included.
func (s *Session) peerLeft(h hookLists, cid domain.ConnectionID) {
	signaled := s.unmarkSignaled(cid)
	if !s.identity.Has(cid) && !signaled {
		log.Debug().Str("module", "app.session").Int("conn", int(cid)).Msg("leave for unknown connection ignored")
		return
	}
	for _, hk := range h.leave {
		hk.OnClientLeave(cid)
	}
	s.identity.Remove(cid)
	s.lanes.Release(cid)
}

// evictSeat treats the current holder of seat as departed when another
// connection takes it over.
func (s *Session) evictSeat(h hookLists, seat domain.SeatID, cid domain.ConnectionID) {
	holder, ok := s.identity.ConnAt(seat)
	if !ok || holder == cid {
		return
	}
	log.Warn().Str("module", "app.session").Int("seat", int(seat)).Int("evicted", int(holder)).Int("conn", int(cid)).Msg("seat taken over")
	s.peerLeft(h, holder)
}

func (s *Session) markSignaled(cid domain.ConnectionID) {
	s.signaledMu.Lock()
	s.signaled[cid] = struct{}{}
	s.signaledMu.Unlock()
}

func (s *Session) unmarkSignaled(cid domain.ConnectionID) bool {
	s.signaledMu.Lock()
	defer s.signaledMu.Unlock()
	_, ok := s.signaled[cid]
	delete(s.signaled, cid)
	return ok
}

func (s *Session) pong() {
	frame, err := protocol.Pong()
	if err == nil {
		err = s.send(frame)
	}
	if err != nil {
		log.Warn().Str("module", "app.session").Err(err).Msg("pong not sent")
	}
}

func (s *Session) rtcStart(ctx context.Context, h hookLists, cid domain.ConnectionID) {
	for _, hk := range h.rtcStart {
		offer, err := hk.RTCOnStart(ctx, cid)
		if err != nil {
			log.Warn().Str("module", "app.session").Int("conn", int(cid)).Err(err).Msg("rtc start failed")
			continue
		}
		if offer != nil {
			s.relay(h, core.SignalOffer, cid, offer)
		}
	}
}

func (s *Session) rtcSignal(ctx context.Context, h hookLists, m protocol.Signal) {
	l := log.With().Str("module", "app.session").Int("conn", int(m.Conn)).Str("kind", string(m.Kind)).Logger()

	switch m.Kind {
	case core.SignalOffer:
		offer, err := protocol.DecodeDescription(m.Payload)
		if err != nil {
			l.Warn().Err(err).Msg("bad offer")
			return
		}
		for _, hk := range h.rtcOffer {
			answer, err := hk.RTCOnOffer(ctx, m.Conn, offer)
			if err != nil {
				l.Warn().Err(err).Msg("offer not applied")
				continue
			}
			if answer != nil {
				s.relay(h, core.SignalAnswer, m.Conn, answer)
			}
		}
	case core.SignalAnswer:
		answer, err := protocol.DecodeDescription(m.Payload)
		if err != nil {
			l.Warn().Err(err).Msg("bad answer")
			return
		}
		for _, hk := range h.rtcAnswer {
			if err := hk.RTCOnAnswer(ctx, m.Conn, answer); err != nil {
				l.Warn().Err(err).Msg("answer not applied")
			}
		}
	case core.SignalCandidate:
		cand, err := protocol.DecodeCandidate(m.Payload)
		if err != nil {
			l.Warn().Err(err).Msg("bad candidate")
			return
		}
		for _, hk := range h.rtcCand {
			if err := hk.RTCOnICECandidate(ctx, m.Conn, cand); err != nil {
				l.Warn().Err(err).Msg("candidate not applied")
			}
		}
	default:
		l.Debug().Msg("unknown signaling kind ignored")
	}
}

// relay sends a description produced by an RTC hook and tells RTCSentHook
// plugins once it is queued.
func (s *Session) relay(h hookLists, kind core.SignalKind, cid domain.ConnectionID, desc any) {
	if err := s.SendSignal(kind, cid, desc); err != nil {
		log.Warn().Str("module", "app.session").Int("conn", int(cid)).Str("kind", string(kind)).Err(err).Msg("relay failed")
		return
	}
	for _, hk := range h.rtcSent {
		hk.RTCOnSent(cid)
	}
}

func (s *Session) send(frame core.Frame) error {
	s.connMu.RLock()
	conn := s.conn
	s.connMu.RUnlock()
	if conn == nil {
		return domain.ErrConnectionLost
	}
	err := conn.TrySend(frame)
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrBackpressure) && s.opts.Policy.OnBackpressure(conn) == Disconnect {
		s.disconnectStalled(conn)
	}
	return fmt.Errorf("send: %w", err)
}

// disconnectStalled closes conn the first time it stalls; later frames
// just fail.
func (s *Session) disconnectStalled(conn core.SignalConnection) {
	s.connMu.Lock()
	first := s.stalled != conn
	s.stalled = conn
	s.connMu.Unlock()
	if !first {
		return
	}
	log.Error().Str("module", "app.session").Msg("outbound queue stalled, disconnecting")
	conn.Close()
}

// SendChat is limited to ChatLimit messages per ChatInterval.
func (s *Session) SendChat(text string) error {
	if !s.limiter.Allow("chat") {
		return domain.ErrRateLimited
	}
	frame, err := protocol.ChatMessage(text)
	if err != nil {
		return err
	}
	return s.send(frame)
}

func (s *Session) SendVote(option int) error {
	frame, err := protocol.Vote(option)
	if err != nil {
		return err
	}
	return s.send(frame)
}

func (s *Session) SendEvent(event any) error {
	frame, err := protocol.Event(event)
	if err != nil {
		return err
	}
	return s.send(frame)
}

func (s *Session) SendSignal(kind core.SignalKind, cid domain.ConnectionID, payload any) error {
	frame, err := protocol.RtcSignaling(kind, cid, payload)
	if err != nil {
		return err
	}
	return s.send(frame)
}

// Roster lists the current participants ordered by seat.
func (s *Session) Roster() []Participant {
	return s.identity.Snapshot()
}

var _ core.Outbound = (*Session)(nil)
