// Package media provides the local audio track. The headless client has no
// capture device, so it streams Opus silence frames.
package media

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

const frameDuration = 20 * time.Millisecond

// opusSilence is one 20ms Opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// Silence implements core.MediaSource with a paced stream of silent frames.
type Silence struct {
	mu     sync.Mutex
	track  *webrtc.TrackLocalStaticSample
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSilence() *Silence { return &Silence{} }

// Acquire creates the track and starts pacing samples into it. Later calls
// return the same track.
func (s *Silence) Acquire(ctx context.Context) (webrtc.TrackLocal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.track != nil {
		return s.track, nil
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio-"+uuid.NewString(),
		"table-"+uuid.NewString(),
	)
	if err != nil {
		return nil, fmt.Errorf("local audio track: %w", err)
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	s.track, s.cancel, s.done = track, cancel, make(chan struct{})
	go s.pump(pumpCtx, track)

	log.Info().Str("module", "media").Str("track_id", track.ID()).Str("stream_id", track.StreamID()).Msg("silence source started")
	return track, nil
}

func (s *Silence) pump(ctx context.Context, track *webrtc.TrackLocalStaticSample) {
	defer close(s.done)
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := track.WriteSample(media.Sample{Data: opusSilence, Duration: frameDuration}); err != nil {
				log.Warn().Str("module", "media").Err(err).Msg("write sample")
				return
			}
		}
	}
}

// Close stops the pacing loop.
func (s *Silence) Close() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
