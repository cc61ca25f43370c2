package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestNewMessage_BroadcastHasNullTarget(t *testing.T) {
	msg, err := NewMessage("room-1", "peer-a", KindJoin, nil, "ignored")
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"room_id":"room-1","peer_id":"peer-a","target_peer_id":null,"signal_type":"join","signal_data":{}}`
	if string(data) != want {
		t.Fatalf("wire shape:\n got %s\nwant %s", data, want)
	}
}

func TestNewMessage_DirectedRequiresTarget(t *testing.T) {
	if _, err := NewMessage("room-1", "peer-a", KindOffer, SDPPayload{Type: "offer", SDP: "v=0"}, ""); err == nil {
		t.Fatal("expected error for offer without target")
	}

	msg, err := NewMessage("room-1", "peer-a", KindCandidate, ICECandidatePayload{Candidate: "candidate:1"}, "peer-b")
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	if msg.TargetID() != "peer-b" {
		t.Fatalf("TargetID=%q, want peer-b", msg.TargetID())
	}
	if !msg.IsFor("peer-b") || msg.IsFor("peer-c") {
		t.Fatal("IsFor does not follow target")
	}
}

func TestMessage_Validate(t *testing.T) {
	target := PeerID("peer-b")
	tests := []struct {
		name string
		msg  Message
		ok   bool
	}{
		{"join", Message{Room: "r", From: "a", Kind: KindJoin, Data: json.RawMessage(`{}`)}, true},
		{"leave null data", Message{Room: "r", From: "a", Kind: KindLeave, Data: json.RawMessage(`null`)}, true},
		{"offer", Message{Room: "r", From: "a", Kind: KindOffer, Target: &target, Data: json.RawMessage(`{}`)}, true},
		{"missing room", Message{From: "a", Kind: KindJoin}, false},
		{"missing sender", Message{Room: "r", Kind: KindJoin}, false},
		{"unknown kind", Message{Room: "r", From: "a", Kind: "bye"}, false},
		{"offer without target", Message{Room: "r", From: "a", Kind: KindOffer}, false},
		{"join with target", Message{Room: "r", From: "a", Kind: KindJoin, Target: &target}, false},
		{"array data", Message{Room: "r", From: "a", Kind: KindJoin, Data: json.RawMessage(`[1]`)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if tt.ok && err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if !tt.ok {
				if err == nil {
					t.Fatal("expected error")
				}
				if !errors.Is(err, ErrMalformedSignal) {
					t.Fatalf("error %v is not ErrMalformedSignal", err)
				}
			}
		})
	}
}

func TestMessage_Description(t *testing.T) {
	target := PeerID("b")
	good := Message{Room: "r", From: "a", Target: &target, Kind: KindOffer, Data: json.RawMessage(`{"type":"offer","sdp":"v=0"}`)}
	desc, err := good.Description()
	if err != nil {
		t.Fatalf("Description: %v", err)
	}
	if desc.SDP != "v=0" {
		t.Fatalf("sdp=%q", desc.SDP)
	}

	bad := []json.RawMessage{
		json.RawMessage(`{"type":"answer","sdp":"v=0"}`),
		json.RawMessage(`{"type":"offer"}`),
		json.RawMessage(`{"candidate":"candidate:1"}`),
		json.RawMessage(`"v=0"`),
	}
	for _, data := range bad {
		msg := good
		msg.Data = data
		if _, err := msg.Description(); !errors.Is(err, ErrMalformedSignal) {
			t.Errorf("Description(%s) err=%v, want ErrMalformedSignal", data, err)
		}
	}
}

func TestMessage_Candidate(t *testing.T) {
	target := PeerID("b")
	msg := Message{Room: "r", From: "a", Target: &target, Kind: KindCandidate,
		Data: json.RawMessage(`{"candidate":"candidate:1 1 udp 1 10.0.0.1 5000 typ host","sdpMid":"0","sdpMLineIndex":0}`)}
	c, err := msg.Candidate()
	if err != nil {
		t.Fatalf("Candidate: %v", err)
	}
	if c.SDPMid == nil || *c.SDPMid != "0" || c.SDPMLineIndex == nil || *c.SDPMLineIndex != 0 {
		t.Fatalf("unexpected candidate %+v", c)
	}

	msg.Data = json.RawMessage(`{"sdpMid":"0"}`)
	if _, err := msg.Candidate(); !errors.Is(err, ErrMalformedSignal) {
		t.Fatalf("err=%v, want ErrMalformedSignal", err)
	}

	msg.Kind = KindAnswer
	if _, err := msg.Candidate(); err == nil || !strings.Contains(err.Error(), "carries no candidate") {
		t.Fatalf("err=%v", err)
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(ErrRoomResolution) || !Retryable(ErrMediaAcquisition) {
		t.Fatal("expected resolution and media errors to be retryable")
	}
	if Retryable(ErrNotJoined) || Retryable(ErrMalformedSignal) || Retryable(nil) {
		t.Fatal("usage and recovered errors must not be retryable")
	}
}

func TestSDPPayload_ICEUfrag(t *testing.T) {
	media := "v=0\r\n" +
		"o=- 4215775240449105457 2 IN IP4 127.0.0.1\r\n" +
		"s=-\r\n" +
		"t=0 0\r\n" +
		"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
		"c=IN IP4 0.0.0.0\r\n" +
		"a=ice-ufrag:kEyP\r\n" +
		"a=ice-pwd:a8b3c91f2e7d4a6b5c0d1e2f3a4b5c6d\r\n" +
		"a=rtpmap:111 opus/48000/2\r\n"
	session := "v=0\r\n" +
		"o=- 1 1 IN IP4 0.0.0.0\r\n" +
		"s=-\r\n" +
		"t=0 0\r\n" +
		"a=ice-ufrag:top\r\n"

	tests := map[string]struct {
		sdp  string
		want string
	}{
		"media level":   {media, "kEyP"},
		"session level": {session, "top"},
		"unparseable":   {"v=0 remote", ""},
	}
	for name, tt := range tests {
		if got := (SDPPayload{Type: "answer", SDP: tt.sdp}).ICEUfrag(); got != tt.want {
			t.Errorf("%s: ICEUfrag() = %q, want %q", name, got, tt.want)
		}
	}
}

func TestICECandidatePayload_MatchesUfrag(t *testing.T) {
	ufrag := func(s string) *string { return &s }

	tests := []struct {
		name      string
		candidate ICECandidatePayload
		session   string
		want      bool
	}{
		{"same session", ICECandidatePayload{Candidate: "c", UsernameFragment: ufrag("abc")}, "abc", true},
		{"other session", ICECandidatePayload{Candidate: "c", UsernameFragment: ufrag("old")}, "abc", false},
		{"no fragment", ICECandidatePayload{Candidate: "c"}, "abc", true},
		{"empty fragment", ICECandidatePayload{Candidate: "c", UsernameFragment: ufrag("")}, "abc", true},
		{"unknown session", ICECandidatePayload{Candidate: "c", UsernameFragment: ufrag("old")}, "", true},
	}
	for _, tt := range tests {
		if got := tt.candidate.MatchesUfrag(tt.session); got != tt.want {
			t.Errorf("%s: MatchesUfrag = %v, want %v", tt.name, got, tt.want)
		}
	}
}
