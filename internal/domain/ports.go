package domain

import "context"

// Relay fans room messages out to every subscriber of the room and keeps a
// record of what was published. Delivery is at-least-once and a publisher's
// own messages are delivered back to it.
type Relay interface {
	ResolveOrCreateRoom(ctx context.Context, name string) (RoomID, error)
	Subscribe(ctx context.Context, room RoomID) (Subscription, error)
	Publish(ctx context.Context, room RoomID, msg Message) error
}

// Subscription is an open stream of room messages. Messages is closed once
// the subscription ends.
type Subscription interface {
	Messages() <-chan Message
	Close() error
}

// Signaler is the room-scoped signaling session the connection manager
// drives.
type Signaler interface {
	JoinRoom(ctx context.Context, name string) (PeerID, error)
	SendSignal(ctx context.Context, kind Kind, payload any, target PeerID) error
	OnMessage(handler func(Message))
	Leave(ctx context.Context) error
	PeerID() PeerID
}

// MediaEngine creates local capture and peer links.
type MediaEngine interface {
	AcquireLocalMedia(ctx context.Context) (LocalStream, error)
	CreatePeerLink(iceServers []ICEServer) (PeerLink, error)
}

// LocalStream is captured local media. Stop releases the capture.
type LocalStream interface {
	ID() string
	Stop()
}

// RemoteStream is media received from the remote peer.
type RemoteStream interface {
	ID() string
	Kind() string
}

// LinkState is the transport state reported by a PeerLink.
type LinkState string

const (
	LinkNew          LinkState = "new"
	LinkConnecting   LinkState = "connecting"
	LinkConnected    LinkState = "connected"
	LinkDisconnected LinkState = "disconnected"
	LinkFailed       LinkState = "failed"
	LinkClosed       LinkState = "closed"
)

// PeerLink is one media connection to one remote peer.
type PeerLink interface {
	AttachLocalStream(stream LocalStream) error
	CreateOffer(ctx context.Context) (SDPPayload, error)
	CreateAnswer(ctx context.Context) (SDPPayload, error)
	SetLocalDescription(desc SDPPayload) error
	SetRemoteDescription(desc SDPPayload) error
	AddICECandidate(candidate ICECandidatePayload) error
	OnLocalCandidate(fn func(ICECandidatePayload))
	OnRemoteStream(fn func(RemoteStream))
	OnStateChange(fn func(LinkState))
	Close() error
}

// Status is the connection status shown to the user.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// Presenter receives events for the presentation layer. Calls are made from
// the connection manager's loop and must not block.
type Presenter interface {
	StatusChanged(status Status)
	RemoteStreamAvailable(stream RemoteStream)
	PeerIDAssigned(id PeerID)
	NegotiationFailed(err error)
}
