// Package call drives the lifecycle of the single peer connection of a room
// member: who offers, the offer/answer/candidate exchange and teardown.
//
// All state is owned by the goroutine running Manager.Run. Signaling
// messages, media callbacks and completions of blocking work reach it as
// events on one channel. Blocking calls run on a per-binding lane and report
// back tagged with the binding generation, so work finishing after its
// binding was torn down is recognised and released.
package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"roomcall/native/internal/domain"
)

// Options tune a Manager.
type Options struct {
	// ICEServers are handed to every peer link.
	ICEServers []domain.ICEServer
	// NegotiationTimeout aborts a negotiation that has not connected in
	// time. Zero disables it.
	NegotiationTimeout time.Duration
}

// Manager implements the connection state machine for one local peer.
type Manager struct {
	sig       domain.Signaler
	media     domain.MediaEngine
	presenter domain.Presenter
	opts      Options
	log       zerolog.Logger

	events    chan any
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	running   atomic.Bool
	snap      atomic.Pointer[Snapshot]

	// Owned by the Run goroutine.
	state    State
	gen      uint64
	bound    *binding
	released chan struct{}
}

type binding struct {
	gen    uint64
	remote domain.PeerID
	role   Role
	cancel context.CancelFunc
	lane   *lane
	timer  *time.Timer

	remoteSet   bool
	answered    bool
	remoteUfrag string
	pending     []domain.ICECandidatePayload
}

type (
	messageEvent struct{ msg domain.Message }
	joinedEvent  struct{ id domain.PeerID }
	leaveEvent   struct{ done chan struct{} }

	remoteAppliedEvent struct{ gen uint64 }
	negotiatedEvent    struct{ gen uint64 }
	failedEvent        struct {
		gen uint64
		err error
	}
	timeoutEvent struct{ gen uint64 }

	localCandidateEvent struct {
		gen       uint64
		candidate domain.ICECandidatePayload
	}
	remoteStreamEvent struct {
		gen    uint64
		stream domain.RemoteStream
	}
	linkStateEvent struct {
		gen   uint64
		state domain.LinkState
	}
)

// New creates a Manager and registers it as sig's message handler. Run must
// be started before the manager is used.
func New(sig domain.Signaler, media domain.MediaEngine, presenter domain.Presenter, opts Options, log zerolog.Logger) *Manager {
	m := &Manager{
		sig:       sig,
		media:     media,
		presenter: presenter,
		opts:      opts,
		log:       log.With().Str("component", "call").Logger(),
		events:    make(chan any, 64),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		state:     StateIdle,
	}
	m.snap.Store(&Snapshot{State: StateIdle})

	sig.OnMessage(func(msg domain.Message) {
		m.post(messageEvent{msg: msg})
	})
	return m
}

// Snapshot returns the current state, role and bound remote peer.
func (m *Manager) Snapshot() Snapshot {
	return *m.snap.Load()
}

// Run processes events until ctx is cancelled or Close is called. The bound
// peer, if any, is released by its lane; Close waits for that release.
func (m *Manager) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return errors.New("call: manager already running")
	}
	defer close(m.done)

	select {
	case <-m.quit:
		m.shutdown()
		return domain.ErrManagerClosed
	default:
	}

	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return ctx.Err()
		case <-m.quit:
			m.shutdown()
			return nil
		case ev := <-m.events:
			m.handle(ev)
		}
	}
}

// Join joins the named room through the signaler and reports the assigned
// peer id to the presenter.
func (m *Manager) Join(ctx context.Context, room string) (domain.PeerID, error) {
	if m.closed() {
		return "", domain.ErrManagerClosed
	}

	id, err := m.sig.JoinRoom(ctx, room)
	if err != nil {
		return "", err
	}
	if !m.post(joinedEvent{id: id}) {
		return id, domain.ErrManagerClosed
	}
	return id, nil
}

// LeaveRoom releases the bound peer, broadcasts leave and returns to idle.
// Calling it when nothing is joined is a no-op.
func (m *Manager) LeaveRoom(ctx context.Context) error {
	// Nothing can be bound before Run has started.
	done := make(chan struct{})
	if m.running.Load() && m.post(leaveEvent{done: done}) {
		select {
		case <-done:
		case <-m.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := m.sig.Leave(ctx); err != nil {
		return fmt.Errorf("leave room: %w", err)
	}
	return nil
}

// Close stops the event loop, releases the bound peer and moves the manager
// to closed. It does not leave the room.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() { close(m.quit) })

	if !m.running.Load() {
		m.snap.Store(&Snapshot{State: StateClosed})
		return nil
	}
	<-m.done
	if m.released != nil {
		<-m.released
	}
	return nil
}

func (m *Manager) closed() bool {
	select {
	case <-m.quit:
		return true
	case <-m.done:
		return true
	default:
		return false
	}
}

func (m *Manager) post(ev any) bool {
	select {
	case m.events <- ev:
		return true
	case <-m.done:
		return false
	}
}

func (m *Manager) handle(ev any) {
	switch ev := ev.(type) {
	case messageEvent:
		m.handleMessage(ev.msg)
	case joinedEvent:
		m.log.Info().Str("peer_id", ev.id.String()).Msg("peer id assigned")
		m.presenter.PeerIDAssigned(ev.id)
	case leaveEvent:
		if m.state != StateClosed {
			m.reset(true)
		}
		close(ev.done)

	case remoteAppliedEvent:
		if m.current(ev.gen) {
			m.remoteApplied()
		}
	case negotiatedEvent:
		if m.current(ev.gen) && m.state == StateNegotiating {
			m.connected()
		}
	case failedEvent:
		if m.current(ev.gen) {
			m.fail(ev.err)
		}
	case timeoutEvent:
		if m.current(ev.gen) && m.state == StateNegotiating {
			m.fail(domain.ErrNegotiationTimeout)
		}

	case localCandidateEvent:
		if m.current(ev.gen) {
			m.sendCandidate(ev.candidate)
		}
	case remoteStreamEvent:
		if m.current(ev.gen) {
			m.log.Info().Str("stream_id", ev.stream.ID()).Str("kind", ev.stream.Kind()).Msg("remote stream available")
			m.presenter.RemoteStreamAvailable(ev.stream)
		}
	case linkStateEvent:
		if !m.current(ev.gen) {
			return
		}
		m.log.Debug().Str("link_state", string(ev.state)).Msg("link state changed")
		if ev.state == domain.LinkFailed || ev.state == domain.LinkClosed {
			m.log.Warn().Str("remote_peer_id", m.bound.remote.String()).Str("link_state", string(ev.state)).Msg("peer link lost")
			m.reset(true)
		}
	}
}

func (m *Manager) current(gen uint64) bool {
	return m.bound != nil && m.bound.gen == gen
}

func (m *Manager) handleMessage(msg domain.Message) {
	self := m.sig.PeerID()
	if self == "" || msg.From == self {
		return
	}

	log := m.log.With().Str("remote_peer_id", msg.From.String()).Str("kind", string(msg.Kind)).Logger()

	if !msg.IsFor(self) {
		log.Debug().Msg("message for another peer")
		return
	}
	if m.bound != nil && msg.From != m.bound.remote {
		log.Debug().Err(domain.ErrStalePeer).Msg("dropping message")
		return
	}

	switch msg.Kind {
	case domain.KindJoin:
		if m.bound != nil {
			log.Debug().Msg("ignoring join while bound")
			return
		}
		log.Info().Msg("peer joined, sending offer")
		m.initiate(m.bind(msg.From, RoleInitiator))

	case domain.KindOffer:
		desc, err := msg.Description()
		if err != nil {
			log.Warn().Err(err).Msg("dropping offer")
			return
		}
		b := m.bound
		switch {
		case b == nil:
			log.Info().Msg("received offer, answering")
			m.respond(m.bind(msg.From, RoleResponder), desc)
		case b.role == RoleInitiator && m.state == StateNegotiating && !b.answered:
			if self < b.remote {
				log.Debug().Msg("offer collision, keeping initiator role")
				return
			}
			log.Info().Msg("offer collision, yielding to remote offer")
			m.teardown()
			m.respond(m.bind(msg.From, RoleResponder), desc)
		default:
			log.Debug().Msg("ignoring offer")
		}

	case domain.KindAnswer:
		b := m.bound
		if b == nil || b.role != RoleInitiator || b.answered {
			log.Debug().Msg("ignoring answer")
			return
		}
		desc, err := msg.Description()
		if err != nil {
			log.Warn().Err(err).Msg("dropping answer")
			return
		}
		b.answered = true
		b.remoteUfrag = desc.ICEUfrag()
		m.applyAnswer(b, desc)

	case domain.KindCandidate:
		b := m.bound
		if b == nil {
			log.Debug().Msg("ignoring candidate with no bound peer")
			return
		}
		c, err := msg.Candidate()
		if err != nil {
			log.Warn().Err(err).Msg("dropping candidate")
			return
		}
		if !b.remoteSet {
			b.pending = append(b.pending, c)
			return
		}
		if !c.MatchesUfrag(b.remoteUfrag) {
			log.Debug().Msg("dropping candidate of another ICE session")
			return
		}
		m.addCandidate(b, c)

	case domain.KindLeave:
		if m.bound == nil {
			return
		}
		log.Info().Msg("peer left")
		m.reset(true)
	}
}

// bind makes remote the active peer and starts its lane.
func (m *Manager) bind(remote domain.PeerID, role Role) *binding {
	m.gen++
	ctx, cancel := context.WithCancel(context.Background())
	b := &binding{
		gen:    m.gen,
		remote: remote,
		role:   role,
		cancel: cancel,
		lane:   newLane(),
	}
	go b.lane.run(ctx, m.released)

	if d := m.opts.NegotiationTimeout; d > 0 {
		gen := b.gen
		b.timer = time.AfterFunc(d, func() { m.post(timeoutEvent{gen: gen}) })
	}

	m.bound = b
	prev := m.state
	m.state = StateNegotiating
	m.publish()
	if prev != StateNegotiating {
		m.presenter.StatusChanged(domain.StatusConnecting)
	}
	return b
}

// teardown invalidates the bound peer's in-flight work and stops its lane,
// which releases the link and local stream. The next lane starts only once
// that release is done.
func (m *Manager) teardown() {
	b := m.bound
	if b == nil {
		return
	}
	m.bound = nil
	m.gen++
	b.cancel()
	if b.timer != nil {
		b.timer.Stop()
	}
	m.released = b.lane.done
}

func (m *Manager) reset(notify bool) {
	wasBound := m.bound != nil
	m.teardown()
	m.state = StateIdle
	m.publish()
	if wasBound && notify {
		m.presenter.StatusChanged(domain.StatusDisconnected)
	}
}

func (m *Manager) shutdown() {
	wasBound := m.bound != nil
	m.teardown()
	m.state = StateClosed
	m.publish()
	if wasBound {
		m.presenter.StatusChanged(domain.StatusDisconnected)
	}
	m.log.Debug().Msg("connection manager closed")
}

func (m *Manager) fail(err error) {
	m.log.Warn().Err(err).Str("remote_peer_id", m.bound.remote.String()).Msg("negotiation failed")
	m.reset(true)
	m.presenter.NegotiationFailed(err)
}

func (m *Manager) connected() {
	m.state = StateConnected
	m.publish()
	if m.bound.timer != nil {
		m.bound.timer.Stop()
	}
	m.log.Info().Str("remote_peer_id", m.bound.remote.String()).Msg("connected")
	m.presenter.StatusChanged(domain.StatusConnected)
}

func (m *Manager) remoteApplied() {
	b := m.bound
	b.remoteSet = true
	// After glare the remote may have sent candidates of the offer it
	// abandoned; only those of the applied description are added.
	for _, c := range b.pending {
		if !c.MatchesUfrag(b.remoteUfrag) {
			m.log.Debug().Str("remote_peer_id", b.remote.String()).Msg("dropping candidate of another ICE session")
			continue
		}
		m.addCandidate(b, c)
	}
	b.pending = nil

	if b.role == RoleInitiator && m.state == StateNegotiating {
		m.connected()
	}
}

func (m *Manager) publish() {
	s := &Snapshot{State: m.state}
	if b := m.bound; b != nil {
		s.Role = b.role
		s.Remote = b.remote
	}
	m.snap.Store(s)
}

// prepare acquires local media and creates the binding's link. It runs on
// the lane, which owns what it creates from then on, and reports false when
// the binding cannot proceed.
func (m *Manager) prepare(ctx context.Context, gen uint64, l *lane) bool {
	stream, err := m.media.AcquireLocalMedia(ctx)
	if err != nil {
		m.post(failedEvent{gen: gen, err: mediaError("acquire local media", err)})
		return false
	}
	l.stream = stream
	if ctx.Err() != nil {
		return false
	}

	link, err := m.media.CreatePeerLink(m.opts.ICEServers)
	if err != nil {
		m.post(failedEvent{gen: gen, err: mediaError("create peer link", err)})
		return false
	}
	l.link = link

	link.OnLocalCandidate(func(c domain.ICECandidatePayload) {
		m.post(localCandidateEvent{gen: gen, candidate: c})
	})
	link.OnRemoteStream(func(s domain.RemoteStream) {
		m.post(remoteStreamEvent{gen: gen, stream: s})
	})
	link.OnStateChange(func(s domain.LinkState) {
		m.post(linkStateEvent{gen: gen, state: s})
	})

	if err := link.AttachLocalStream(stream); err != nil {
		m.post(failedEvent{gen: gen, err: mediaError("attach local stream", err)})
		return false
	}
	return ctx.Err() == nil
}

func (m *Manager) initiate(b *binding) {
	gen, remote, l := b.gen, b.remote, b.lane
	l.push(func(ctx context.Context) {
		if !m.prepare(ctx, gen, l) {
			return
		}

		offer, err := l.link.CreateOffer(ctx)
		if err == nil {
			err = l.link.SetLocalDescription(offer)
		}
		if err != nil {
			m.post(failedEvent{gen: gen, err: fmt.Errorf("create offer: %w", err)})
			return
		}
		if ctx.Err() != nil {
			return
		}
		if err := m.sig.SendSignal(ctx, domain.KindOffer, offer, remote); err != nil {
			m.post(failedEvent{gen: gen, err: fmt.Errorf("send offer: %w", err)})
		}
	})
}

func (m *Manager) respond(b *binding, offer domain.SDPPayload) {
	b.remoteUfrag = offer.ICEUfrag()
	gen, remote, l := b.gen, b.remote, b.lane
	l.push(func(ctx context.Context) {
		if !m.prepare(ctx, gen, l) {
			return
		}

		if err := l.link.SetRemoteDescription(offer); err != nil {
			m.post(failedEvent{gen: gen, err: fmt.Errorf("apply offer: %w", err)})
			return
		}
		m.post(remoteAppliedEvent{gen: gen})

		answer, err := l.link.CreateAnswer(ctx)
		if err == nil {
			err = l.link.SetLocalDescription(answer)
		}
		if err != nil {
			m.post(failedEvent{gen: gen, err: fmt.Errorf("create answer: %w", err)})
			return
		}
		if ctx.Err() != nil {
			return
		}
		if err := m.sig.SendSignal(ctx, domain.KindAnswer, answer, remote); err != nil {
			m.post(failedEvent{gen: gen, err: fmt.Errorf("send answer: %w", err)})
			return
		}
		m.post(negotiatedEvent{gen: gen})
	})
}

func (m *Manager) applyAnswer(b *binding, answer domain.SDPPayload) {
	gen, l := b.gen, b.lane
	l.push(func(ctx context.Context) {
		if l.link == nil {
			return
		}
		if err := l.link.SetRemoteDescription(answer); err != nil {
			m.post(failedEvent{gen: gen, err: fmt.Errorf("apply answer: %w", err)})
			return
		}
		m.post(remoteAppliedEvent{gen: gen})
	})
}

func (m *Manager) addCandidate(b *binding, c domain.ICECandidatePayload) {
	l, log := b.lane, m.log
	l.push(func(ctx context.Context) {
		if l.link == nil {
			return
		}
		if err := l.link.AddICECandidate(c); err != nil {
			log.Warn().Err(err).Msg("add remote candidate")
		}
	})
}

func (m *Manager) sendCandidate(c domain.ICECandidatePayload) {
	if c.Candidate == "" {
		return
	}
	b := m.bound
	remote, log := b.remote, m.log
	b.lane.push(func(ctx context.Context) {
		if err := m.sig.SendSignal(ctx, domain.KindCandidate, c, remote); err != nil {
			log.Warn().Err(err).Msg("send candidate")
		}
	})
}

func mediaError(op string, err error) error {
	if errors.Is(err, domain.ErrMediaAcquisition) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, domain.ErrMediaAcquisition, err)
}
