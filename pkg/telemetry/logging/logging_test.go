package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"custodian-hq/custodian/pkg/config"
)

func captureLogger(t *testing.T, cfg *config.LoggingConfig) (*slog.Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger, err := New(cfg, &buf)
	if err != nil {
		t.Fatal(err)
	}
	return logger, &buf
}

func TestNew_LevelFiltering(t *testing.T) {
	logger, buf := captureLogger(t, &config.LoggingConfig{Level: "warn", Format: "json"})

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info record should be filtered at warn level")
	}
	if !strings.Contains(out, "shown") {
		t.Error("warn record missing")
	}
}

func TestNew_RejectsUnknownLevelAndFormat(t *testing.T) {
	if _, err := New(&config.LoggingConfig{Level: "loud"}, nil); err == nil {
		t.Error("expected error for unknown level")
	}
	if _, err := New(&config.LoggingConfig{Format: "xml"}, nil); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestRedaction_SecretKeys(t *testing.T) {
	logger, buf := captureLogger(t, &config.LoggingConfig{Level: "info", Format: "json"})

	logger.Info("service configured",
		"service", "radarr-main",
		"api_key", "c0ffee1234",
		"radarr_api_key", "deadbeef",
	)

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatal(err)
	}

	if record["api_key"] != "***" {
		t.Errorf("api_key not redacted: %v", record["api_key"])
	}
	if record["radarr_api_key"] != "***" {
		t.Errorf("suffixed key not redacted: %v", record["radarr_api_key"])
	}
	if record["service"] != "radarr-main" {
		t.Errorf("non-secret attribute altered: %v", record["service"])
	}
	if strings.Contains(buf.String(), "c0ffee1234") {
		t.Error("secret value leaked into output")
	}
}

func TestRedaction_BearerInValue(t *testing.T) {
	logger, buf := captureLogger(t, &config.LoggingConfig{Level: "info", Format: "json"})

	logger.Info("upstream request failed",
		"header", "Authorization: Bearer abc.def.ghi",
	)

	if strings.Contains(buf.String(), "abc.def.ghi") {
		t.Errorf("bearer token leaked: %s", buf.String())
	}
}

func TestRedaction_WithAttrs(t *testing.T) {
	logger, buf := captureLogger(t, &config.LoggingConfig{Level: "info", Format: "json"})

	logger.With("token", "supersecret").Info("started")

	if strings.Contains(buf.String(), "supersecret") {
		t.Error("token attached via With leaked")
	}
}
