package playback

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/tablesession/internal/domain"
)

// chanSource hands out packets pushed by the test; closing it ends the track.
type chanSource chan *rtp.Packet

func (c chanSource) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	pkt, ok := <-c
	if !ok {
		return nil, nil, io.EOF
	}
	return pkt, interceptor.Attributes{}, nil
}

type recordingOutput struct {
	mu   sync.Mutex
	seqs map[domain.ConnectionID][]uint16
}

func (r *recordingOutput) WriteRTP(cid domain.ConnectionID, pkt *rtp.Packet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seqs == nil {
		r.seqs = make(map[domain.ConnectionID][]uint16)
	}
	r.seqs[cid] = append(r.seqs[cid], pkt.SequenceNumber)
	return nil
}

func (r *recordingOutput) count(cid domain.ConnectionID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seqs[cid])
}

func packet(seq uint16) *rtp.Packet {
	return &rtp.Packet{Header: rtp.Header{Version: 2, PayloadType: 111, SequenceNumber: seq}, Payload: []byte{0xf8, 0xff, 0xfe}}
}

func TestSinkForwardsPackets(t *testing.T) {
	out := &recordingOutput{}
	m := NewManager(out)
	src := make(chanSource, 4)

	m.Attach(context.Background(), 7, src)
	src <- packet(1)
	src <- packet(2)

	require.Eventually(t, func() bool { return out.count(7) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []uint16{1, 2}, out.seqs[7])
	close(src)
}

func TestMutedSinkCountsButDoesNotPlay(t *testing.T) {
	out := &recordingOutput{}
	m := NewManager(out)
	src := make(chanSource, 4)

	m.Mute(7, true)
	m.Attach(context.Background(), 7, src)
	src <- packet(1)
	src <- packet(2)

	require.Eventually(t, func() bool {
		st := m.Stats()
		return len(st) == 1 && st[0].Packets == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, out.count(7))
	assert.Equal(t, "muted", m.Stats()[0].State)

	m.Mute(7, false)
	src <- packet(3)
	require.Eventually(t, func() bool { return out.count(7) == 1 }, time.Second, 5*time.Millisecond)
	close(src)
}

func TestStopEndsLoop(t *testing.T) {
	m := NewManager(nil)
	src := make(chanSource)

	m.Attach(context.Background(), 7, src)
	m.mu.RLock()
	s := m.sinks[7]
	m.mu.RUnlock()

	m.Stop(7)
	assert.Empty(t, m.Stats())

	// The pending read returns once the track ends.
	close(src)
	select {
	case <-s.done:
	case <-time.After(time.Second):
		t.Fatal("sink loop did not exit")
	}
	assert.Equal(t, SinkStopped, s.State())
}

func TestAttachReplacesSink(t *testing.T) {
	out := &recordingOutput{}
	m := NewManager(out)
	first := make(chanSource, 1)
	second := make(chanSource, 1)

	m.Attach(context.Background(), 7, first)
	m.Attach(context.Background(), 7, second)
	second <- packet(9)

	require.Eventually(t, func() bool { return out.count(7) == 1 }, time.Second, 5*time.Millisecond)
	assert.Len(t, m.Stats(), 1)
	close(first)
	close(second)
}
