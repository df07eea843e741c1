package zerologadapter

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/Swind/go-sequencer/core"
	"github.com/rs/zerolog"
)

func TestLogger_Info(t *testing.T) {
	var buf bytes.Buffer
	zl := zerolog.New(&buf)
	l := New(zl)

	l.Info("dispatching", core.F("queue", "default"), core.F("pending", 3))

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("failed to decode log line: %v", err)
	}
	if decoded["message"] != "dispatching" {
		t.Fatalf("message = %v, want %q", decoded["message"], "dispatching")
	}
	if decoded["queue"] != "default" {
		t.Fatalf("queue field = %v, want %q", decoded["queue"], "default")
	}
	if decoded["level"] != "info" {
		t.Fatalf("level = %v, want info", decoded["level"])
	}
}

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	zl := zerolog.New(&buf)
	l := New(zl)

	l.Debug("d")
	l.Warn("w")
	l.Error("e")

	out := buf.String()
	for _, want := range []string{`"level":"debug"`, `"level":"warn"`, `"level":"error"`} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %s", want, out)
		}
	}
}

var _ core.Logger = (*Logger)(nil)
