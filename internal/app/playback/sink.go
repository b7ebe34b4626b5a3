package playback

import (
	"context"
	"sync/atomic"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"

	"github.com/dkeye/tablesession/internal/domain"
)

// PacketSource yields RTP packets of one remote track. *webrtc.TrackRemote
// satisfies it.
type PacketSource interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// Output plays packets of one peer, e.g. a decoder feeding a sound device.
type Output interface {
	WriteRTP(cid domain.ConnectionID, pkt *rtp.Packet) error
}

type SinkState int32

const (
	SinkPlaying SinkState = iota
	SinkMuted
	SinkStopped
)

func (s SinkState) String() string {
	switch s {
	case SinkPlaying:
		return "playing"
	case SinkMuted:
		return "muted"
	case SinkStopped:
		return "stopped"
	}
	return "unknown"
}

// sink pumps one remote track into the output.
type sink struct {
	cid     domain.ConnectionID
	src     PacketSource
	cancel  context.CancelFunc
	done    chan struct{}
	state   atomic.Int32
	packets atomic.Uint64
}

func (s *sink) State() SinkState { return SinkState(s.state.Load()) }

func (s *sink) loop(ctx context.Context, out Output, logger *zerolog.Logger) {
	defer close(s.done)
	defer s.state.Store(int32(SinkStopped))
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("sink stopped")
			return
		default:
		}
		pkt, _, err := s.src.ReadRTP()
		if err != nil {
			logger.Info().Err(err).Msg("remote track ended")
			return
		}
		s.packets.Add(1)
		if s.State() == SinkMuted {
			continue
		}
		if err := out.WriteRTP(s.cid, pkt); err != nil {
			logger.Error().Err(err).Msg("output write failed, stopping")
			return
		}
	}
}

// Discard is an Output that drops every packet.
type Discard struct{}

func (Discard) WriteRTP(domain.ConnectionID, *rtp.Packet) error { return nil }
