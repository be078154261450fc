package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestHandlerRenamesCoreAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, "stratad", "prod"))
	logger.Info("vault ready", "vault", "abc")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["message"] != "vault ready" {
		t.Fatalf("message attribute: %v", line["message"])
	}
	if line["severity"] != "INFO" {
		t.Fatalf("severity attribute: %v", line["severity"])
	}
	if _, ok := line["timestamp"]; !ok {
		t.Fatal("timestamp attribute missing")
	}
	if line["service"] != "stratad" || line["env"] != "prod" {
		t.Fatalf("service/env attributes: %v / %v", line["service"], line["env"])
	}
	if line["vault"] != "abc" {
		t.Fatalf("caller attribute: %v", line["vault"])
	}
	for _, legacy := range []string{"msg", "level", "time"} {
		if _, ok := line[legacy]; ok {
			t.Fatalf("legacy attribute %q leaked through", legacy)
		}
	}
}

func TestLevelFollowsEnvironment(t *testing.T) {
	cases := []struct {
		env  string
		want slog.Level
	}{
		{"dev", slog.LevelDebug},
		{"development", slog.LevelDebug},
		{"test", slog.LevelDebug},
		{"  DEV  ", slog.LevelDebug},
		{"prod", slog.LevelInfo},
		{"staging", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, c := range cases {
		if got := LevelFor(c.env); got != c.want {
			t.Fatalf("level for %q: got %v want %v", c.env, got, c.want)
		}
	}
}

func TestDebugSuppressedOutsideDev(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, "stratad", "prod"))
	logger.Debug("noisy detail")
	if buf.Len() != 0 {
		t.Fatalf("debug line emitted at info level: %s", buf.String())
	}

	buf.Reset()
	logger = slog.New(NewHandler(&buf, "stratad", "dev"))
	logger.Debug("noisy detail")
	if buf.Len() == 0 {
		t.Fatal("debug line suppressed in dev")
	}
}
