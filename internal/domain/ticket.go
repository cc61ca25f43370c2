package domain

// Ticket is what the relay server hands out for a room name: the resolved
// room and the ICE servers clients should use.
type Ticket struct {
	RoomID     RoomID      `json:"room_id"`
	Name       string      `json:"name"`
	ICEServers []ICEServer `json:"ice_servers"`
	SignalPath string      `json:"signal_path"`
}

// ICEServer holds STUN/TURN server configuration.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}
