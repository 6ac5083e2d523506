package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/bft-labs/tagcam/internal/ports"
)

func TestZerologAdapter_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewZerologAdapter(Options{Level: "debug", Format: FormatJSON, Out: &buf})

	l.Info("image uploaded",
		ports.String("job", "j1"),
		ports.Uint64("tag", 911101686122),
		ports.Int("bytes", 2048),
		ports.Duration("duration", 1500*time.Millisecond),
		ports.Err(errors.New("boom")),
	)

	var got map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v: %s", err, buf.String())
	}
	if got["message"] != "image uploaded" || got["level"] != "info" {
		t.Errorf("message/level = %v/%v", got["message"], got["level"])
	}
	if got["job"] != "j1" || got["tag"] != float64(911101686122) || got["bytes"] != float64(2048) {
		t.Errorf("fields = %v", got)
	}
	if got["error"] != "boom" {
		t.Errorf("error field = %v", got["error"])
	}
}

func TestZerologAdapter_Level(t *testing.T) {
	var buf bytes.Buffer
	l := NewZerologAdapter(Options{Level: "warn", Format: FormatJSON, Out: &buf})

	l.Debug("hidden")
	l.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("messages below warn written: %s", buf.String())
	}
	l.Warn("shown")
	if buf.Len() == 0 {
		t.Error("warn message not written")
	}
}

func TestZerologAdapter_Console(t *testing.T) {
	var buf bytes.Buffer
	l := NewZerologAdapter(Options{Out: &buf})
	l.Info("starting countdown", ports.Int("ticks", 10))

	if !bytes.Contains(buf.Bytes(), []byte("starting countdown")) || !bytes.Contains(buf.Bytes(), []byte("ticks=")) {
		t.Errorf("console output = %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]string{"DEBUG": "debug", "warning": "warn", "error": "error", "": "info", "bogus": "info"} {
		if got := ParseLevel(in).String(); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestNoopLogger(t *testing.T) {
	var l ports.Logger = NewNoopLogger()
	l.Error("discarded", ports.String("k", "v"))
}
