package domain

import "github.com/google/uuid"

// PeerID identifies one participant for the lifetime of a room binding.
type PeerID string

// RoomID is the stable identifier a room name resolves to.
type RoomID string

// NewPeerID returns a random peer id.
func NewPeerID() PeerID {
	return PeerID(uuid.New().String())
}

// NewRoomID returns a random room id.
func NewRoomID() RoomID {
	return RoomID(uuid.New().String())
}

func (id PeerID) String() string { return string(id) }
func (id RoomID) String() string { return string(id) }
