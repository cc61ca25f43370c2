package domain

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/pion/sdp/v3"
)

// Kind is the signal_type of a relay message.
type Kind string

const (
	KindJoin      Kind = "join"
	KindLeave     Kind = "leave"
	KindOffer     Kind = "offer"
	KindAnswer    Kind = "answer"
	KindCandidate Kind = "ice-candidate"
)

// Directed reports whether messages of this kind carry a target peer.
func (k Kind) Directed() bool {
	switch k {
	case KindOffer, KindAnswer, KindCandidate:
		return true
	default:
		return false
	}
}

func (k Kind) valid() bool {
	switch k {
	case KindJoin, KindLeave, KindOffer, KindAnswer, KindCandidate:
		return true
	default:
		return false
	}
}

// SDPPayload is the JSON structure for offer and answer messages.
type SDPPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICEUfrag returns the ICE username fragment of the description, or "" when
// the sdp does not parse or carries none.
func (p SDPPayload) ICEUfrag() string {
	var parsed sdp.SessionDescription
	if err := parsed.UnmarshalString(p.SDP); err != nil {
		return ""
	}
	if ufrag, ok := parsed.Attribute("ice-ufrag"); ok {
		return ufrag
	}
	for _, md := range parsed.MediaDescriptions {
		if ufrag, ok := md.Attribute("ice-ufrag"); ok {
			return ufrag
		}
	}
	return ""
}

// ICECandidatePayload is the JSON structure for ice-candidate messages.
type ICECandidatePayload struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// MatchesUfrag reports whether the candidate may belong to the ICE session
// with the given username fragment. Candidates without a fragment, or an
// unknown session fragment, always match.
func (c ICECandidatePayload) MatchesUfrag(ufrag string) bool {
	if ufrag == "" || c.UsernameFragment == nil || *c.UsernameFragment == "" {
		return true
	}
	return *c.UsernameFragment == ufrag
}

var emptyObject = json.RawMessage(`{}`)

// Message is the unit exchanged over the relay. The JSON layout is shared
// with every other client of the relay and must not change.
type Message struct {
	Room   RoomID          `json:"room_id"`
	From   PeerID          `json:"peer_id"`
	Target *PeerID         `json:"target_peer_id"`
	Kind   Kind            `json:"signal_type"`
	Data   json.RawMessage `json:"signal_data"`
}

// NewMessage stamps a message. Broadcast kinds ignore target; a nil payload
// is encoded as an empty object.
func NewMessage(room RoomID, from PeerID, kind Kind, payload any, target PeerID) (Message, error) {
	msg := Message{Room: room, From: from, Kind: kind, Data: emptyObject}
	if kind.Directed() {
		if target == "" {
			return Message{}, fmt.Errorf("%s message requires a target peer", kind)
		}
		t := target
		msg.Target = &t
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("marshal %s payload: %w", kind, err)
		}
		msg.Data = data
	}
	return msg, nil
}

// TargetID returns the target peer, or "" for broadcasts.
func (m Message) TargetID() PeerID {
	if m.Target == nil {
		return ""
	}
	return *m.Target
}

// IsFor reports whether the message is a broadcast or addressed to id.
func (m Message) IsFor(id PeerID) bool {
	return m.Target == nil || *m.Target == id
}

// Validate checks the envelope. Payload shape is checked by the typed
// accessors since only the consumer knows which kinds it expects.
func (m Message) Validate() error {
	if m.Room == "" {
		return fmt.Errorf("%w: missing room_id", ErrMalformedSignal)
	}
	if m.From == "" {
		return fmt.Errorf("%w: missing peer_id", ErrMalformedSignal)
	}
	if !m.Kind.valid() {
		return fmt.Errorf("%w: unsupported signal_type %q", ErrMalformedSignal, m.Kind)
	}
	if m.Kind.Directed() && (m.Target == nil || *m.Target == "") {
		return fmt.Errorf("%w: %s message missing target_peer_id", ErrMalformedSignal, m.Kind)
	}
	if !m.Kind.Directed() && m.Target != nil {
		return fmt.Errorf("%w: %s message must be broadcast", ErrMalformedSignal, m.Kind)
	}
	if d := bytes.TrimSpace(m.Data); len(d) > 0 && d[0] != '{' && !bytes.Equal(d, []byte("null")) {
		return fmt.Errorf("%w: signal_data must be an object", ErrMalformedSignal)
	}
	return nil
}

// Description decodes an offer or answer payload. The embedded sdp type must
// agree with the message kind.
func (m Message) Description() (SDPPayload, error) {
	if m.Kind != KindOffer && m.Kind != KindAnswer {
		return SDPPayload{}, fmt.Errorf("%w: %s carries no session description", ErrMalformedSignal, m.Kind)
	}
	var desc SDPPayload
	if err := json.Unmarshal(m.Data, &desc); err != nil {
		return SDPPayload{}, fmt.Errorf("%w: decode %s: %v", ErrMalformedSignal, m.Kind, err)
	}
	if desc.Type != string(m.Kind) {
		return SDPPayload{}, fmt.Errorf("%w: %s message has sdp type %q", ErrMalformedSignal, m.Kind, desc.Type)
	}
	if desc.SDP == "" {
		return SDPPayload{}, fmt.Errorf("%w: %s message has empty sdp", ErrMalformedSignal, m.Kind)
	}
	return desc, nil
}

// Candidate decodes an ice-candidate payload.
func (m Message) Candidate() (ICECandidatePayload, error) {
	if m.Kind != KindCandidate {
		return ICECandidatePayload{}, fmt.Errorf("%w: %s carries no candidate", ErrMalformedSignal, m.Kind)
	}
	var c ICECandidatePayload
	if err := json.Unmarshal(m.Data, &c); err != nil {
		return ICECandidatePayload{}, fmt.Errorf("%w: decode candidate: %v", ErrMalformedSignal, err)
	}
	if c.Candidate == "" {
		return ICECandidatePayload{}, fmt.Errorf("%w: empty candidate", ErrMalformedSignal)
	}
	return c, nil
}
