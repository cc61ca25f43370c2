package config

import "testing"

func TestParseICEServersJSON(t *testing.T) {
	servers, err := ParseICEServersJSON(`[
		{"urls": "stun:stun.example.com:3478"},
		{"urls": ["turn:turn.example.com:3478", " turns:turn.example.com:5349 "], "username": "u", "credential": "p"}
	]`)
	if err != nil {
		t.Fatalf("ParseICEServersJSON: %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("len=%d, want 2", len(servers))
	}
	if got := servers[1].URLs[1]; got != "turns:turn.example.com:5349" {
		t.Fatalf("url not trimmed: %q", got)
	}
}

func TestParseICEServersJSON_Invalid(t *testing.T) {
	tests := map[string]string{
		"bad scheme":        `[{"urls": "http://example.com"}]`,
		"turn without cred": `[{"urls": "turn:turn.example.com", "username": "u"}]`,
		"no urls":           `[{"urls": []}]`,
		"not json":          `stun:example.com`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseICEServersJSON(raw); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestParseICEServersFromConvenienceEnv(t *testing.T) {
	servers, err := ParseICEServersFromConvenienceEnv("stun:a.example.com, stun:b.example.com", "turn:t.example.com", "user", "secret")
	if err != nil {
		t.Fatalf("ParseICEServersFromConvenienceEnv: %v", err)
	}
	if len(servers) != 2 || len(servers[0].URLs) != 2 || servers[1].Username != "user" {
		t.Fatalf("unexpected servers %+v", servers)
	}

	if _, err := ParseICEServersFromConvenienceEnv("", "turn:t.example.com", "", ""); err == nil {
		t.Fatal("expected error for turn without credentials")
	}
}
