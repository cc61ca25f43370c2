package webrtc

import (
	"context"
	"fmt"
	"strings"
	"sync"

	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"roomcall/native/internal/domain"
)

// Peer wraps a pion PeerConnection. It implements domain.PeerLink.
type Peer struct {
	pc  *pion.PeerConnection
	log zerolog.Logger

	mu          sync.Mutex
	onCandidate func(domain.ICECandidatePayload)
	onStream    func(domain.RemoteStream)
	onState     func(domain.LinkState)
}

func newPeer(pc *pion.PeerConnection, log zerolog.Logger) *Peer {
	p := &Peer{pc: pc, log: log}

	pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			p.log.Debug().Msg("ICE gathering complete")
			return
		}

		init := c.ToJSON()
		if isLoopback(init.Candidate) {
			p.log.Debug().Msg("filtering loopback ICE candidate")
			return
		}

		p.mu.Lock()
		fn := p.onCandidate
		p.mu.Unlock()
		if fn != nil {
			fn(domain.ICECandidatePayload{
				Candidate:        init.Candidate,
				SDPMid:           init.SDPMid,
				SDPMLineIndex:    init.SDPMLineIndex,
				UsernameFragment: init.UsernameFragment,
			})
		}
	})

	pc.OnTrack(func(track *pion.TrackRemote, receiver *pion.RTPReceiver) {
		codec := track.Codec()
		p.log.Info().Str("kind", track.Kind().String()).Str("codec", codec.MimeType).Uint8("pt", uint8(codec.PayloadType)).Msg("got remote track")

		p.mu.Lock()
		fn := p.onStream
		p.mu.Unlock()
		if fn != nil {
			fn(&RemoteTrack{track: track})
		}
	})

	pc.OnICEConnectionStateChange(func(state pion.ICEConnectionState) {
		p.log.Debug().Str("state", state.String()).Msg("ICE connection state")
	})
	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		p.log.Debug().Str("state", state.String()).Msg("peer connection state")

		p.mu.Lock()
		fn := p.onState
		p.mu.Unlock()
		if fn != nil {
			fn(linkState(state))
		}
	})

	return p
}

// AttachLocalStream adds the stream's track to the connection.
func (p *Peer) AttachLocalStream(stream domain.LocalStream) error {
	s, ok := stream.(*LocalStream)
	if !ok {
		return fmt.Errorf("unsupported local stream %T", stream)
	}

	sender, err := p.pc.AddTrack(s.track)
	if err != nil {
		return fmt.Errorf("add track: %w", err)
	}

	// RTCP has to be read for the interceptors to run.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (p *Peer) CreateOffer(ctx context.Context) (domain.SDPPayload, error) {
	if err := ctx.Err(); err != nil {
		return domain.SDPPayload{}, err
	}
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return domain.SDPPayload{}, fmt.Errorf("create offer: %w", err)
	}
	return domain.SDPPayload{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

func (p *Peer) CreateAnswer(ctx context.Context) (domain.SDPPayload, error) {
	if err := ctx.Err(); err != nil {
		return domain.SDPPayload{}, err
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SDPPayload{}, fmt.Errorf("create answer: %w", err)
	}
	return domain.SDPPayload{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

func (p *Peer) SetLocalDescription(desc domain.SDPPayload) error {
	if err := p.pc.SetLocalDescription(sessionDescription(desc)); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	p.log.Debug().Str("type", desc.Type).Msg("local description set")
	return nil
}

func (p *Peer) SetRemoteDescription(desc domain.SDPPayload) error {
	if err := p.pc.SetRemoteDescription(sessionDescription(desc)); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	p.log.Debug().Str("type", desc.Type).Msg("remote description set")
	return nil
}

// AddICECandidate requires the remote description to be set.
func (p *Peer) AddICECandidate(candidate domain.ICECandidatePayload) error {
	init := pion.ICECandidateInit{
		Candidate:        candidate.Candidate,
		SDPMid:           candidate.SDPMid,
		SDPMLineIndex:    candidate.SDPMLineIndex,
		UsernameFragment: candidate.UsernameFragment,
	}
	if err := p.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

func (p *Peer) OnLocalCandidate(fn func(domain.ICECandidatePayload)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onCandidate = fn
}

func (p *Peer) OnRemoteStream(fn func(domain.RemoteStream)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onStream = fn
}

func (p *Peer) OnStateChange(fn func(domain.LinkState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onState = fn
}

// Close shuts down the PeerConnection.
func (p *Peer) Close() error {
	return p.pc.Close()
}

func sessionDescription(desc domain.SDPPayload) pion.SessionDescription {
	return pion.SessionDescription{Type: pion.NewSDPType(desc.Type), SDP: desc.SDP}
}

func linkState(state pion.PeerConnectionState) domain.LinkState {
	switch state {
	case pion.PeerConnectionStateConnecting:
		return domain.LinkConnecting
	case pion.PeerConnectionStateConnected:
		return domain.LinkConnected
	case pion.PeerConnectionStateDisconnected:
		return domain.LinkDisconnected
	case pion.PeerConnectionStateFailed:
		return domain.LinkFailed
	case pion.PeerConnectionStateClosed:
		return domain.LinkClosed
	default:
		return domain.LinkNew
	}
}

func isLoopback(candidate string) bool {
	return strings.Contains(candidate, "127.0.0.1") || strings.Contains(candidate, "::1 ")
}
