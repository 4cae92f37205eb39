package config

import (
	"fmt"
	"strings"
)

// ValidationError describes one invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors aggregates every problem found in one pass.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("invalid configuration (%d errors): %s", len(e), strings.Join(msgs, "; "))
}

// Validate checks the whole configuration and reports every problem at
// once rather than stopping at the first.
func Validate(cfg *Config) error {
	var errs ValidationErrors

	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	switch cfg.Storage.Backend {
	case "sqlite", "memory":
	default:
		add("storage.backend", "must be sqlite or memory, got %q", cfg.Storage.Backend)
	}
	if cfg.Storage.Backend == "sqlite" {
		if cfg.Storage.RulesPath == "" {
			add("storage.rules_path", "required for the sqlite backend")
		}
		if cfg.Storage.ActionsPath == "" {
			add("storage.actions_path", "required for the sqlite backend")
		}
	}

	if len(cfg.Services) == 0 {
		add("services", "at least one media service must be configured")
	}
	seen := make(map[string]bool)
	defaultsByType := make(map[string]int)
	for i, svc := range cfg.Services {
		field := fmt.Sprintf("services[%d]", i)
		if svc.ID == "" {
			add(field+".id", "required")
		} else if seen[svc.ID] {
			add(field+".id", "duplicate service id %q", svc.ID)
		}
		seen[svc.ID] = true

		switch svc.Type {
		case "radarr", "sonarr":
		default:
			add(field+".type", "must be radarr or sonarr, got %q", svc.Type)
		}
		if svc.BaseURL == "" {
			add(field+".base_url", "required")
		}
		if svc.APIKey == "" {
			add(field+".api_key", "required")
		}
		if svc.Default {
			defaultsByType[svc.Type]++
		}
	}
	for svcType, n := range defaultsByType {
		if n > 1 {
			add("services", "more than one default %s instance", svcType)
		}
	}

	if cfg.Playstats.Enabled && cfg.Playstats.BaseURL == "" {
		add("playstats.base_url", "required when playstats is enabled")
	}

	switch cfg.Telemetry.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		add("telemetry.logging.level", "must be debug, info, warn, or error, got %q", cfg.Telemetry.Logging.Level)
	}
	switch cfg.Telemetry.Logging.Format {
	case "json", "text":
	default:
		add("telemetry.logging.format", "must be json or text, got %q", cfg.Telemetry.Logging.Format)
	}

	if cfg.Telemetry.Tracing.Enabled && cfg.Telemetry.Tracing.Endpoint == "" {
		add("telemetry.tracing.endpoint", "required when tracing is enabled")
	}
	if r := cfg.Telemetry.Tracing.SampleRatio; r < 0 || r > 1 {
		add("telemetry.tracing.sample_ratio", "must be within [0, 1], got %v", r)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
