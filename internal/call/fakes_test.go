package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"roomcall/native/internal/domain"
)

// fakeSignaler records published signals and lets tests inject room messages.
type fakeSignaler struct {
	mu      sync.Mutex
	id      domain.PeerID
	room    domain.RoomID
	joined  bool
	handler func(domain.Message)
	sent    []domain.Message
	leaves  int
}

func newFakeSignaler(id domain.PeerID) *fakeSignaler {
	return &fakeSignaler{id: id, room: "room-1"}
}

func (f *fakeSignaler) JoinRoom(ctx context.Context, name string) (domain.PeerID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.joined {
		return "", domain.ErrAlreadyJoined
	}
	f.joined = true
	return f.id, nil
}

func (f *fakeSignaler) SendSignal(ctx context.Context, kind domain.Kind, payload any, target domain.PeerID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.joined {
		return domain.ErrNotJoined
	}
	msg, err := domain.NewMessage(f.room, f.id, kind, payload, target)
	if err != nil {
		return err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSignaler) OnMessage(handler func(domain.Message)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
}

func (f *fakeSignaler) Leave(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.joined {
		f.joined = false
		f.leaves++
	}
	return nil
}

func (f *fakeSignaler) PeerID() domain.PeerID {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.joined {
		return ""
	}
	return f.id
}

func (f *fakeSignaler) deliver(t *testing.T, from domain.PeerID, kind domain.Kind, payload any, target domain.PeerID) {
	t.Helper()
	msg, err := domain.NewMessage(f.room, from, kind, payload, target)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	f.deliverMessage(msg)
}

func (f *fakeSignaler) deliverMessage(msg domain.Message) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h(msg)
}

func (f *fakeSignaler) sentOf(kind domain.Kind) []domain.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Message
	for _, m := range f.sent {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeSignaler) sentKinds() []domain.Kind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Kind, 0, len(f.sent))
	for _, m := range f.sent {
		out = append(out, m.Kind)
	}
	return out
}

// fakeEngine hands out fakeLinks and fakeStreams.
type fakeEngine struct {
	mu         sync.Mutex
	acquireErr error
	gate       chan struct{}
	acquires   int
	liveAtAcq  []int
	links      []*fakeLink
	streams    []*fakeStream
}

func (e *fakeEngine) AcquireLocalMedia(ctx context.Context) (domain.LocalStream, error) {
	e.mu.Lock()
	gate := e.gate
	e.gate = nil
	e.acquires++
	live := 0
	for _, s := range e.streams {
		if !s.isStopped() {
			live++
		}
	}
	e.liveAtAcq = append(e.liveAtAcq, live)
	e.mu.Unlock()

	// Like a device prompt, a gated acquisition ignores ctx.
	if gate != nil {
		<-gate
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.acquireErr != nil {
		return nil, e.acquireErr
	}
	s := &fakeStream{id: fmt.Sprintf("local-%d", len(e.streams)+1)}
	e.streams = append(e.streams, s)
	return s, nil
}

// blockNextAcquire makes the next AcquireLocalMedia wait until the returned
// channel is closed.
func (e *fakeEngine) blockNextAcquire() chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gate = make(chan struct{})
	return e.gate
}

func (e *fakeEngine) acquireCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.acquires
}

// liveStreamsAtAcquire returns, per acquisition, how many earlier streams
// were still running when it started.
func (e *fakeEngine) liveStreamsAtAcquire() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.liveAtAcq...)
}

func (e *fakeEngine) CreatePeerLink(iceServers []domain.ICEServer) (domain.PeerLink, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	l := &fakeLink{name: fmt.Sprintf("link-%d", len(e.links)+1)}
	e.links = append(e.links, l)
	return l, nil
}

func (e *fakeEngine) setAcquireErr(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.acquireErr = err
}

func (e *fakeEngine) linkCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.links)
}

func (e *fakeEngine) link(i int) *fakeLink {
	e.mu.Lock()
	defer e.mu.Unlock()
	if i >= len(e.links) {
		return nil
	}
	return e.links[i]
}

func (e *fakeEngine) stream(i int) *fakeStream {
	e.mu.Lock()
	defer e.mu.Unlock()
	if i >= len(e.streams) {
		return nil
	}
	return e.streams[i]
}

type fakeStream struct {
	mu      sync.Mutex
	id      string
	stopped bool
}

func (s *fakeStream) ID() string { return s.id }

func (s *fakeStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}

func (s *fakeStream) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

type fakeRemoteStream struct{ id string }

func (s fakeRemoteStream) ID() string   { return s.id }
func (s fakeRemoteStream) Kind() string { return "audio" }

// fakeLink records every description and candidate applied to it, in order.
type fakeLink struct {
	mu        sync.Mutex
	name      string
	ops       []string
	remoteSet bool
	closed    bool
	attached  domain.LocalStream

	onCandidate func(domain.ICECandidatePayload)
	onStream    func(domain.RemoteStream)
	onState     func(domain.LinkState)
}

func (l *fakeLink) AttachLocalStream(stream domain.LocalStream) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attached = stream
	return nil
}

func (l *fakeLink) CreateOffer(ctx context.Context) (domain.SDPPayload, error) {
	return domain.SDPPayload{Type: "offer", SDP: "v=0 " + l.name}, nil
}

func (l *fakeLink) CreateAnswer(ctx context.Context) (domain.SDPPayload, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.remoteSet {
		return domain.SDPPayload{}, errors.New("no remote offer")
	}
	return domain.SDPPayload{Type: "answer", SDP: "v=0 " + l.name}, nil
}

func (l *fakeLink) SetLocalDescription(desc domain.SDPPayload) error {
	l.record("local:" + desc.Type)
	return nil
}

func (l *fakeLink) SetRemoteDescription(desc domain.SDPPayload) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errors.New("link closed")
	}
	l.remoteSet = true
	l.ops = append(l.ops, "remote:"+desc.Type)
	return nil
}

func (l *fakeLink) AddICECandidate(c domain.ICECandidatePayload) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.remoteSet {
		l.ops = append(l.ops, "early:"+c.Candidate)
		return errors.New("remote description not set")
	}
	l.ops = append(l.ops, "candidate:"+c.Candidate)
	return nil
}

func (l *fakeLink) OnLocalCandidate(fn func(domain.ICECandidatePayload)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onCandidate = fn
}

func (l *fakeLink) OnRemoteStream(fn func(domain.RemoteStream)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onStream = fn
}

func (l *fakeLink) OnStateChange(fn func(domain.LinkState)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onState = fn
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *fakeLink) record(op string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = append(l.ops, op)
}

func (l *fakeLink) operations() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ops...)
}

func (l *fakeLink) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *fakeLink) emitCandidate(c string) {
	l.mu.Lock()
	fn := l.onCandidate
	l.mu.Unlock()
	fn(domain.ICECandidatePayload{Candidate: c})
}

func (l *fakeLink) emitStream(id string) {
	l.mu.Lock()
	fn := l.onStream
	l.mu.Unlock()
	fn(fakeRemoteStream{id: id})
}

func (l *fakeLink) emitState(s domain.LinkState) {
	l.mu.Lock()
	fn := l.onState
	l.mu.Unlock()
	fn(s)
}

// fakePresenter records presentation events.
type fakePresenter struct {
	mu       sync.Mutex
	statuses []domain.Status
	streams  []domain.RemoteStream
	ids      []domain.PeerID
	failures []error
}

func (p *fakePresenter) StatusChanged(status domain.Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, status)
}

func (p *fakePresenter) RemoteStreamAvailable(stream domain.RemoteStream) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.streams = append(p.streams, stream)
}

func (p *fakePresenter) PeerIDAssigned(id domain.PeerID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids = append(p.ids, id)
}

func (p *fakePresenter) NegotiationFailed(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = append(p.failures, err)
}

func (p *fakePresenter) statusList() []domain.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Status(nil), p.statuses...)
}

func (p *fakePresenter) lastStatus() domain.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.statuses) == 0 {
		return ""
	}
	return p.statuses[len(p.statuses)-1]
}

func (p *fakePresenter) failureList() []error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]error(nil), p.failures...)
}

func (p *fakePresenter) streamCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.streams)
}

func (p *fakePresenter) idList() []domain.PeerID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.PeerID(nil), p.ids...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
