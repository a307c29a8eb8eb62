package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSetupWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "musicd.log")
	logger := Setup(Config{Service: "musicd", Environment: "test", File: path})

	logger.Info("boot check", "component", "logging")

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(raw)
	for _, want := range []string{
		`"message":"boot check"`,
		`"severity":"INFO"`,
		`"timestamp"`,
		`"service":"musicd"`,
		`"env":"test"`,
		`"component":"logging"`,
	} {
		if !strings.Contains(line, want) {
			t.Fatalf("log line missing %s: %s", want, line)
		}
	}
}

func TestSecretMasksValues(t *testing.T) {
	attr := Secret("admin_api_key", "super-secret")
	if attr.Value.String() != Redacted {
		t.Fatalf("expected redacted value got %s", attr.Value.String())
	}
	empty := Secret("admin_api_key", "")
	if empty.Value.String() != "" {
		t.Fatalf("expected empty value got %s", empty.Value.String())
	}
}
