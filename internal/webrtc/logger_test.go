package webrtc

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestLoggerFactory_WritesScopedEntries(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf).Level(zerolog.InfoLevel)

	l := NewLoggerFactory(log).NewLogger("ice")
	l.Debugf("dropped %d", 1)
	l.Infof("gathered %d candidates", 3)
	l.Warn("slow")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 entries, got %d: %q", len(lines), buf.String())
	}
	for _, want := range []string{`"level":"info"`, `"component":"pion"`, `"scope":"ice"`, `"message":"gathered 3 candidates"`} {
		if !strings.Contains(lines[0], want) {
			t.Errorf("entry %s missing %s", lines[0], want)
		}
	}
	if !strings.Contains(lines[1], `"level":"warn"`) {
		t.Errorf("expected warn entry, got %s", lines[1])
	}
}
