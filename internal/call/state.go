package call

import "roomcall/native/internal/domain"

// State is the connection lifecycle state of a Manager.
type State string

const (
	StateIdle        State = "idle"
	StateNegotiating State = "negotiating"
	StateConnected   State = "connected"
	StateClosed      State = "closed"
)

// Role is the negotiation role taken for the bound remote peer.
type Role string

const (
	RoleNone      Role = ""
	RoleInitiator Role = "initiator"
	RoleResponder Role = "responder"
)

// Snapshot is a point-in-time view of a Manager.
type Snapshot struct {
	State  State
	Role   Role
	Remote domain.PeerID
}
