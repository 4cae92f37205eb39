package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
server:
  listen_address: ":9090"
storage:
  backend: sqlite
  rules_path: /data/rules.db
  actions_path: /data/actions.db
services:
  - id: radarr-main
    type: radarr
    base_url: http://radarr:7878
    api_key: secret
    default: true
  - id: sonarr-main
    type: sonarr
    base_url: http://sonarr:8989
    api_key: secret
    default: true
playstats:
  enabled: true
  base_url: http://tautulli:8181
  token: tok
telemetry:
  logging:
    level: debug
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.ListenAddress != ":9090" {
		t.Errorf("listenAddress = %q, want :9090", cfg.Server.ListenAddress)
	}
	if cfg.Server.ReadTimeout != 30*time.Second {
		t.Errorf("readTimeout = %v, want default 30s", cfg.Server.ReadTimeout)
	}
	if cfg.Telemetry.Logging.Level != "debug" {
		t.Errorf("logging level = %q, want debug", cfg.Telemetry.Logging.Level)
	}
	if cfg.Telemetry.Logging.Format != "json" {
		t.Errorf("logging format = %q, want default json", cfg.Telemetry.Logging.Format)
	}
	if cfg.Services[0].Timeout != 30*time.Second {
		t.Errorf("service timeout = %v, want default 30s", cfg.Services[0].Timeout)
	}
}

func TestLoad_CollectsAllValidationErrors(t *testing.T) {
	bad := `
storage:
  backend: etcd
services:
  - id: ""
    type: plex
    base_url: ""
    api_key: ""
telemetry:
  logging:
    level: loud
`
	_, err := Load(writeConfig(t, bad))
	if err == nil {
		t.Fatal("Load() succeeded on invalid config")
	}

	msg := err.Error()
	for _, want := range []string{"storage.backend", "services[0].type", "services[0].base_url", "telemetry.logging.level"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q does not mention %s", msg, want)
		}
	}
}

func TestLoad_RejectsDuplicateDefaults(t *testing.T) {
	dup := `
storage:
  backend: memory
services:
  - id: radarr-a
    type: radarr
    base_url: http://a
    api_key: k
    default: true
  - id: radarr-b
    type: radarr
    base_url: http://b
    api_key: k
    default: true
`
	_, err := Load(writeConfig(t, dup))
	if err == nil || !strings.Contains(err.Error(), "more than one default radarr") {
		t.Fatalf("Load() error = %v, want duplicate-default complaint", err)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	t.Setenv("CUSTODIAN_SERVER_LISTEN_ADDRESS", ":7070")
	t.Setenv("CUSTODIAN_TELEMETRY_LOGGING_LEVEL", "warn")
	t.Setenv("CUSTODIAN_PLAYSTATS_ENABLED", "false")

	cfg, err := LoadWithEnvOverrides(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("LoadWithEnvOverrides() error = %v", err)
	}
	if cfg.Server.ListenAddress != ":7070" {
		t.Errorf("listenAddress = %q, want :7070 from env", cfg.Server.ListenAddress)
	}
	if cfg.Telemetry.Logging.Level != "warn" {
		t.Errorf("logging level = %q, want warn from env", cfg.Telemetry.Logging.Level)
	}
	if cfg.Playstats.Enabled {
		t.Error("playstats still enabled, env override ignored")
	}
}
