package peer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/dkeye/tablesession/internal/core"
	"github.com/dkeye/tablesession/internal/domain"
	"github.com/dkeye/tablesession/internal/mock"
)

type sentSignal struct {
	kind    core.SignalKind
	cid     domain.ConnectionID
	payload any
}

type signals struct {
	mu   sync.Mutex
	sent []sentSignal
}

func (s *signals) SendSignal(kind core.SignalKind, cid domain.ConnectionID, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentSignal{kind, cid, payload})
	return nil
}

func (s *signals) all() []sentSignal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentSignal(nil), s.sent...)
}

type sinkLog struct {
	mu      sync.Mutex
	stopped []domain.ConnectionID
}

func (s *sinkLog) Play(context.Context, domain.ConnectionID, *webrtc.TrackRemote) {}

func (s *sinkLog) Stop(cid domain.ConnectionID) {
	s.mu.Lock()
	s.stopped = append(s.stopped, cid)
	s.mu.Unlock()
}

// fakePeer is a mocked connection with its engine callbacks captured.
type fakePeer struct {
	conn        *mock.MockMediaConnection
	onICE       func(webrtc.ICECandidateInit)
	onConnected func()
	onClosed    func()
}

func newFakePeer(ctrl *gomock.Controller) *fakePeer {
	p := &fakePeer{conn: mock.NewMockMediaConnection(ctrl)}
	p.conn.EXPECT().OnICECandidate(gomock.Any()).Do(func(fn func(webrtc.ICECandidateInit)) { p.onICE = fn })
	p.conn.EXPECT().OnConnected(gomock.Any()).Do(func(fn func()) { p.onConnected = fn })
	p.conn.EXPECT().OnClosed(gomock.Any()).Do(func(fn func()) { p.onClosed = fn })
	p.conn.EXPECT().OnTrack(gomock.Any())
	p.conn.EXPECT().Start(gomock.Any()).Return(nil)
	return p
}

func factoryOf(t *testing.T, peers ...*fakePeer) core.MediaFactory {
	var mu sync.Mutex
	next := 0
	return func(webrtc.Configuration) (core.MediaConnection, error) {
		mu.Lock()
		defer mu.Unlock()
		if next >= len(peers) {
			t.Errorf("unexpected peer connection #%d", next+1)
			return nil, errors.New("no more peers")
		}
		p := peers[next]
		next++
		return p.conn, nil
	}
}

func localTrack(t *testing.T) webrtc.TrackLocal {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "table")
	require.NoError(t, err)
	return track
}

func readySource(t *testing.T, ctrl *gomock.Controller, track webrtc.TrackLocal) core.MediaSource {
	src := mock.NewMockMediaSource(ctrl)
	src.EXPECT().Acquire(gomock.Any()).Return(track, nil)
	return src
}

var (
	offerSDP  = webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer"}
	answerSDP = webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer"}
	candidate = webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 2130706431 10.0.0.2 50000 typ host"}
)

func TestStartWithoutMediaIsNoop(t *testing.T) {
	e := NewEngine(Config{Factory: factoryOf(t)}, &signals{})

	offer, err := e.RTCOnStart(context.Background(), 7)
	require.NoError(t, err)
	assert.Nil(t, offer)
	_, ok := e.State(7)
	assert.False(t, ok)
}

func TestOffererFlow(t *testing.T) {
	ctrl := gomock.NewController(t)
	track := localTrack(t)
	p := newFakePeer(ctrl)
	p.conn.EXPECT().AddLocalTrack(track).Return(nil, nil)
	p.conn.EXPECT().CreateAndSetOffer().Return(&offerSDP, nil)
	p.conn.EXPECT().ApplyAnswer(answerSDP).Return(nil)

	out := &signals{}
	e := NewEngine(Config{Factory: factoryOf(t, p), Source: readySource(t, ctrl, track)}, out)
	ctx := context.Background()
	require.NoError(t, e.EnableMedia(ctx))

	offer, err := e.RTCOnStart(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, &offerSDP, offer)
	st, _ := e.State(7)
	assert.Equal(t, StateOffering, st)

	p.onICE(candidate)
	assert.Empty(t, out.all(), "candidate must wait for the offer")

	e.RTCOnSent(7)
	st, _ = e.State(7)
	assert.Equal(t, StateAwaitingAnswer, st)
	assert.Equal(t, []sentSignal{{core.SignalCandidate, 7, candidate}}, out.all())

	p.onICE(candidate)
	assert.Len(t, out.all(), 2)

	require.NoError(t, e.RTCOnAnswer(ctx, 7, answerSDP))
	st, _ = e.State(7)
	assert.Equal(t, StateConnected, st)
}

func TestOfferBeforeRosterIsAnswered(t *testing.T) {
	ctrl := gomock.NewController(t)
	p := newFakePeer(ctrl)
	p.conn.EXPECT().ApplyOfferAndCreateAnswer(offerSDP).Return(&answerSDP, nil)

	e := NewEngine(Config{Factory: factoryOf(t, p)}, &signals{})
	answer, err := e.RTCOnOffer(context.Background(), 7, offerSDP)
	require.NoError(t, err)
	assert.Equal(t, &answerSDP, answer)

	st, ok := e.State(7)
	require.True(t, ok)
	assert.Equal(t, StateAnswering, st)

	p.onConnected()
	st, _ = e.State(7)
	assert.Equal(t, StateConnected, st)
}

func TestCandidateThenLeaveThenStray(t *testing.T) {
	ctrl := gomock.NewController(t)
	p := newFakePeer(ctrl)
	p.conn.EXPECT().ApplyOfferAndCreateAnswer(offerSDP).Return(&answerSDP, nil)
	p.conn.EXPECT().AddICECandidate(candidate).Return(nil).Times(1)
	p.conn.EXPECT().Close().Times(1)

	sink := &sinkLog{}
	out := &signals{}
	e := NewEngine(Config{Factory: factoryOf(t, p), Sink: sink}, out)
	ctx := context.Background()

	_, err := e.RTCOnOffer(ctx, 7, offerSDP)
	require.NoError(t, err)
	require.NoError(t, e.RTCOnICECandidate(ctx, 7, candidate))

	e.OnClientLeave(7)
	_, ok := e.State(7)
	assert.False(t, ok)
	assert.Equal(t, []domain.ConnectionID{7}, sink.stopped)

	require.NoError(t, e.RTCOnICECandidate(ctx, 7, candidate))
	require.NoError(t, e.RTCOnAnswer(ctx, 7, answerSDP))
	e.OnClientLeave(7)

	p.onICE(candidate)
	e.RTCOnSent(7)
	assert.Empty(t, out.all(), "torn down sessions relay nothing")
}

func TestSignalsWithoutSessionAreDropped(t *testing.T) {
	e := NewEngine(Config{Factory: factoryOf(t)}, &signals{})
	ctx := context.Background()

	assert.NoError(t, e.RTCOnAnswer(ctx, 3, answerSDP))
	assert.NoError(t, e.RTCOnICECandidate(ctx, 3, candidate))
	assert.Empty(t, e.Sessions())
}

func TestRejectedCandidateIsNotFatal(t *testing.T) {
	ctrl := gomock.NewController(t)
	p := newFakePeer(ctrl)
	p.conn.EXPECT().ApplyOfferAndCreateAnswer(offerSDP).Return(&answerSDP, nil)
	p.conn.EXPECT().AddICECandidate(candidate).Return(errors.New("no remote description"))

	e := NewEngine(Config{Factory: factoryOf(t, p)}, &signals{})
	ctx := context.Background()
	_, err := e.RTCOnOffer(ctx, 7, offerSDP)
	require.NoError(t, err)

	assert.NoError(t, e.RTCOnICECandidate(ctx, 7, candidate))
	st, _ := e.State(7)
	assert.Equal(t, StateAnswering, st)
}

func TestRepeatedOfferReplacesSession(t *testing.T) {
	ctrl := gomock.NewController(t)
	first, second := newFakePeer(ctrl), newFakePeer(ctrl)
	first.conn.EXPECT().ApplyOfferAndCreateAnswer(offerSDP).Return(&answerSDP, nil)
	first.conn.EXPECT().Close()
	second.conn.EXPECT().ApplyOfferAndCreateAnswer(offerSDP).Return(&answerSDP, nil)

	sink := &sinkLog{}
	e := NewEngine(Config{Factory: factoryOf(t, first, second), Sink: sink}, &signals{})
	ctx := context.Background()
	_, err := e.RTCOnOffer(ctx, 7, offerSDP)
	require.NoError(t, err)
	_, err = e.RTCOnOffer(ctx, 7, offerSDP)
	require.NoError(t, err)

	// A late close notification from the replaced connection is ignored.
	first.onClosed()
	st, ok := e.State(7)
	require.True(t, ok)
	assert.Equal(t, StateAnswering, st)
	assert.Empty(t, sink.stopped)
}

func TestClosedConnectionIsForgotten(t *testing.T) {
	ctrl := gomock.NewController(t)
	p := newFakePeer(ctrl)
	p.conn.EXPECT().ApplyOfferAndCreateAnswer(offerSDP).Return(&answerSDP, nil)

	sink := &sinkLog{}
	e := NewEngine(Config{Factory: factoryOf(t, p), Sink: sink}, &signals{})
	_, err := e.RTCOnOffer(context.Background(), 7, offerSDP)
	require.NoError(t, err)

	p.onClosed()
	_, ok := e.State(7)
	assert.False(t, ok)
	assert.Equal(t, []domain.ConnectionID{7}, sink.stopped)
}

func TestOfferCompletingAfterLeaveIsDiscarded(t *testing.T) {
	ctrl := gomock.NewController(t)
	track := localTrack(t)
	p := newFakePeer(ctrl)
	started := make(chan struct{})
	resume := make(chan struct{})
	p.conn.EXPECT().AddLocalTrack(track).Return(nil, nil)
	p.conn.EXPECT().CreateAndSetOffer().DoAndReturn(func() (*webrtc.SessionDescription, error) {
		close(started)
		<-resume
		return &offerSDP, nil
	})
	p.conn.EXPECT().Close()

	e := NewEngine(Config{Factory: factoryOf(t, p), Source: readySource(t, ctrl, track)}, &signals{})
	ctx := context.Background()
	require.NoError(t, e.EnableMedia(ctx))

	type result struct {
		offer *webrtc.SessionDescription
		err   error
	}
	done := make(chan result, 1)
	go func() {
		offer, err := e.RTCOnStart(ctx, 7)
		done <- result{offer, err}
	}()

	<-started
	e.OnClientLeave(7)
	close(resume)

	r := <-done
	require.NoError(t, r.err)
	assert.Nil(t, r.offer)
	_, ok := e.State(7)
	assert.False(t, ok, "a finished offer must not resurrect the session")
}

func TestFailedOfferDropsSession(t *testing.T) {
	ctrl := gomock.NewController(t)
	p := newFakePeer(ctrl)
	p.conn.EXPECT().ApplyOfferAndCreateAnswer(offerSDP).Return(nil, errors.New("bad sdp"))
	p.conn.EXPECT().Close()

	e := NewEngine(Config{Factory: factoryOf(t, p)}, &signals{})
	_, err := e.RTCOnOffer(context.Background(), 7, offerSDP)
	require.Error(t, err)
	_, ok := e.State(7)
	assert.False(t, ok)
}

func TestEnableMediaRejectsReentry(t *testing.T) {
	ctrl := gomock.NewController(t)
	track := localTrack(t)
	granted := make(chan struct{})
	src := mock.NewMockMediaSource(ctrl)
	src.EXPECT().Acquire(gomock.Any()).DoAndReturn(func(context.Context) (webrtc.TrackLocal, error) {
		<-granted
		return track, nil
	}).Times(1)

	e := NewEngine(Config{Factory: factoryOf(t), Source: src}, &signals{})
	ctx := context.Background()

	errCh := make(chan error, 1)
	go func() { errCh <- e.EnableMedia(ctx) }()
	require.Eventually(t, func() bool { return e.MediaState() == MediaAcquiring }, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, e.EnableMedia(ctx), domain.ErrMediaAcquiring)

	close(granted)
	require.NoError(t, <-errCh)
	assert.Equal(t, MediaReady, e.MediaState())
	assert.NoError(t, e.EnableMedia(ctx), "enabling twice is harmless once ready")
}

func TestEnableMediaFailureAllowsRetry(t *testing.T) {
	ctrl := gomock.NewController(t)
	track := localTrack(t)
	src := mock.NewMockMediaSource(ctrl)
	gomock.InOrder(
		src.EXPECT().Acquire(gomock.Any()).Return(nil, errors.New("denied")),
		src.EXPECT().Acquire(gomock.Any()).Return(track, nil),
	)

	e := NewEngine(Config{Factory: factoryOf(t), Source: src}, &signals{})
	require.Error(t, e.EnableMedia(context.Background()))
	assert.Equal(t, MediaIdle, e.MediaState())
	require.NoError(t, e.EnableMedia(context.Background()))
}

func TestCloseTearsDownAll(t *testing.T) {
	ctrl := gomock.NewController(t)
	a, b := newFakePeer(ctrl), newFakePeer(ctrl)
	for _, p := range []*fakePeer{a, b} {
		p.conn.EXPECT().ApplyOfferAndCreateAnswer(offerSDP).Return(&answerSDP, nil)
		p.conn.EXPECT().Close()
	}

	e := NewEngine(Config{Factory: factoryOf(t, a, b)}, &signals{})
	ctx := context.Background()
	_, err := e.RTCOnOffer(ctx, 2, offerSDP)
	require.NoError(t, err)
	_, err = e.RTCOnOffer(ctx, 3, offerSDP)
	require.NoError(t, err)
	assert.Equal(t, []Info{{Conn: 2, State: "answering"}, {Conn: 3, State: "answering"}}, e.Sessions())

	e.Close()
	assert.Empty(t, e.Sessions())
}

func TestLeaveDuringSetupInstallsNothing(t *testing.T) {
	ctrl := gomock.NewController(t)
	p := newFakePeer(ctrl)
	p.conn.EXPECT().Close().Times(1)

	building := make(chan struct{})
	resume := make(chan struct{})
	factory := func(webrtc.Configuration) (core.MediaConnection, error) {
		close(building)
		<-resume
		return p.conn, nil
	}
	out := &signals{}
	e := NewEngine(Config{Factory: factory}, out)
	ctx := context.Background()

	type result struct {
		answer *webrtc.SessionDescription
		err    error
	}
	done := make(chan result, 1)
	go func() {
		answer, err := e.RTCOnOffer(ctx, 7, offerSDP)
		done <- result{answer, err}
	}()

	<-building
	e.OnClientLeave(7)
	close(resume)

	r := <-done
	require.NoError(t, r.err)
	assert.Nil(t, r.answer, "no answer for a peer that left")
	_, ok := e.State(7)
	assert.False(t, ok)
	assert.Empty(t, e.Sessions())
	assert.Empty(t, out.all())
}

func TestOfferFromDepartedPeerIsIgnored(t *testing.T) {
	e := NewEngine(Config{Factory: factoryOf(t)}, &signals{})
	ctx := context.Background()
	e.OnClientLeave(9)

	answer, err := e.RTCOnOffer(ctx, 9, offerSDP)
	require.NoError(t, err)
	assert.Nil(t, answer)
	_, ok := e.State(9)
	assert.False(t, ok)
}
