package webrtc

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	pion "github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog"
)

const frameDuration = 20 * time.Millisecond

// Opus comfort-noise frame.
var silenceFrame = []byte{0xf8, 0xff, 0xfe}

// LocalStream is an Opus track fed with silence frames until stopped.
type LocalStream struct {
	id     string
	track  *pion.TrackLocalStaticSample
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func newLocalStream(log zerolog.Logger) (*LocalStream, error) {
	id := uuid.NewString()
	track, err := pion.NewTrackLocalStaticSample(opusCapability, "audio", id)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &LocalStream{
		id:     id,
		track:  track,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.feed(ctx, log)
	return s, nil
}

func (s *LocalStream) ID() string { return s.id }

// Stop ends the feed. It is safe to call more than once.
func (s *LocalStream) Stop() {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
}

func (s *LocalStream) feed(ctx context.Context, log zerolog.Logger) {
	defer close(s.done)

	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := s.track.WriteSample(media.Sample{Data: silenceFrame, Duration: frameDuration})
			if err != nil && !errors.Is(err, io.ErrClosedPipe) {
				log.Debug().Err(err).Msg("write local sample")
			}
		}
	}
}
