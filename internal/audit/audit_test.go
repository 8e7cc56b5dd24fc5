package audit

import (
	"bytes"
	"log/slog"
	"os"
	"strings"
	"testing"
)

func TestSanitiseKey_Secret(t *testing.T) {
	t.Parallel()
	if got := SanitiseKey("OPENAI_API_KEY", "sk-abc123"); got != "set" {
		t.Errorf("expected 'set', got %q", got)
	}
	if got := SanitiseKey("OPENAI_API_KEY", ""); got != "unset" {
		t.Errorf("expected 'unset', got %q", got)
	}
}

func TestSanitiseKey_NonSecret(t *testing.T) {
	t.Parallel()
	if got := SanitiseKey("MODEL_PROVIDER", "azure"); got != "azure" {
		t.Errorf("expected 'azure', got %q", got)
	}
	if got := SanitiseKey("MODEL_PROVIDER", ""); got != "unset" {
		t.Errorf("expected 'unset', got %q", got)
	}
}

func TestLogCommandStart_RedactsSecrets(t *testing.T) {
	t.Setenv("NOTEAI_API_KEY", "super-secret-token")
	t.Setenv("NOTES_DIR", "/srv/notes")

	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	LogCommandStart(log, "serve", "")

	out := buf.String()
	if strings.Contains(out, "super-secret-token") {
		t.Errorf("secret value leaked into audit log: %s", out)
	}
	if !strings.Contains(out, `"NOTEAI_API_KEY":"set"`) {
		t.Errorf("expected NOTEAI_API_KEY presence marker, got: %s", out)
	}
	if !strings.Contains(out, `"NOTES_DIR":"/srv/notes"`) {
		t.Errorf("expected NOTES_DIR value, got: %s", out)
	}
	if !strings.Contains(out, `"config_file":"none"`) {
		t.Errorf("expected config_file none, got: %s", out)
	}
}

func TestPresence(t *testing.T) {
	t.Parallel()
	if got := presence("something"); got != "set" {
		t.Errorf("expected 'set', got %q", got)
	}
	if got := presence(""); got != "unset" {
		t.Errorf("expected 'unset', got %q", got)
	}
}

func TestSanitiseConfigPath(t *testing.T) {
	t.Parallel()
	if got := sanitiseConfigPath(""); got != "none" {
		t.Errorf("expected 'none', got %q", got)
	}
	if got := sanitiseConfigPath("/tmp/config.yaml"); got != "/tmp/config.yaml" {
		t.Errorf("expected '/tmp/config.yaml', got %q", got)
	}
	home, err := os.UserHomeDir()
	if err == nil {
		p := home + "/.noteai/config.yaml"
		if got := sanitiseConfigPath(p); got != "~/.noteai/config.yaml" {
			t.Errorf("expected '~/.noteai/config.yaml', got %q", got)
		}
	}
}
