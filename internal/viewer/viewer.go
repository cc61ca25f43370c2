package viewer

import (
	"context"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"roomcall/native/internal/domain"
)

// recorder is implemented by remote streams whose media can be saved.
type recorder interface {
	Record(w io.Writer) error
}

// Viewer presents call events on the terminal and records remote audio.
// It implements domain.Presenter.
type Viewer struct {
	log    zerolog.Logger
	cancel context.CancelFunc
	out    io.Writer

	mu     sync.Mutex
	status domain.Status
	peerID domain.PeerID

	recMu sync.Mutex
	wg    sync.WaitGroup
}

// New creates a Viewer. Remote audio is written to out, or discarded when
// out is nil. cancel is called when a negotiation fails.
func New(log zerolog.Logger, out io.Writer, cancel context.CancelFunc) *Viewer {
	if out == nil {
		out = io.Discard
	}
	return &Viewer{
		log:    log.With().Str("component", "viewer").Logger(),
		cancel: cancel,
		out:    onlyWriter{out},
	}
}

func (v *Viewer) StatusChanged(status domain.Status) {
	v.mu.Lock()
	v.status = status
	v.mu.Unlock()

	v.log.Info().Str("status", string(status)).Msg("call status")
}

func (v *Viewer) PeerIDAssigned(id domain.PeerID) {
	v.mu.Lock()
	v.peerID = id
	v.mu.Unlock()

	v.log.Info().Str("peer_id", id.String()).Msg("joined as peer")
}

func (v *Viewer) RemoteStreamAvailable(stream domain.RemoteStream) {
	v.log.Info().Str("stream_id", stream.ID()).Str("kind", stream.Kind()).Msg("receiving remote media")

	r, ok := stream.(recorder)
	if !ok {
		return
	}

	v.wg.Add(1)
	go func() {
		defer v.wg.Done()

		// Recordings are chained Ogg streams, one per remote track.
		v.recMu.Lock()
		defer v.recMu.Unlock()
		if err := r.Record(v.out); err != nil {
			v.log.Warn().Err(err).Str("stream_id", stream.ID()).Msg("recording stopped")
		}
	}()
}

func (v *Viewer) NegotiationFailed(err error) {
	v.log.Error().Err(err).Bool("retryable", domain.Retryable(err)).Msg("negotiation failed, shutting down")
	v.cancel()
}

// Status returns the last reported call status.
func (v *Viewer) Status() domain.Status {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.status
}

// PeerID returns the assigned local peer id.
func (v *Viewer) PeerID() domain.PeerID {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.peerID
}

// Wait blocks until every recording has finished.
func (v *Viewer) Wait() {
	v.wg.Wait()
}

// onlyWriter hides any Close method of the wrapped writer so a finished
// recording does not close the shared output.
type onlyWriter struct {
	io.Writer
}
